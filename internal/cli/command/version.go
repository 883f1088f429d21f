package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmsnap-go/internal/cli/output"
	"github.com/yndnr/vmsnap-go/internal/infra/buildinfo"
)

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show build information",
		Action: versionAction,
	}
}

func versionAction(c *cli.Context) error {
	e := getEnv(c)
	info := buildinfo.Get()
	if e.format != output.FormatTable {
		return e.print(c, info)
	}
	fmt.Fprintf(c.App.Writer, "vmsnap %s\n", buildinfo.String())
	fmt.Fprintf(c.App.Writer, "go: %s\n", info.GoVersion)
	return nil
}
