package command

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmsnap-go/internal/cli/output"
	"github.com/yndnr/vmsnap-go/internal/config"
	"github.com/yndnr/vmsnap-go/internal/core/service"
	"github.com/yndnr/vmsnap-go/internal/infra/buildinfo"
	"github.com/yndnr/vmsnap-go/internal/infra/confloader"
	"github.com/yndnr/vmsnap-go/internal/machine"
	"github.com/yndnr/vmsnap-go/internal/storage/vmstate"
	"github.com/yndnr/vmsnap-go/internal/telemetry/logger"
)

const envKey = "env"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "vmsnap",
		Usage:   "Manage VM snapshots and their title and thumbnail metadata",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ListCommand(),
			ShowCommand(),
			SaveCommand(),
			LoadCommand(),
			DeleteCommand(),
			ThumbnailCommand(),
			WatchCommand(),
			VersionCommand(),
		},
		Before: setup,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Configuration file (YAML)",
			EnvVars: []string{"VMSNAP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Snapshot directory (overrides storage.dir)",
		},
		&cli.StringFlag{
			Name:  "engine",
			Usage: "Storage engine: file, badger (overrides storage.engine)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (overrides log.level)",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	ConfigFile string
	DataDir    string
	Engine     string
	Output     string
	Wide       bool
	LogLevel   string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		ConfigFile: c.String("config"),
		DataDir:    c.String("data-dir"),
		Engine:     c.String("engine"),
		Output:     c.String("output"),
		Wide:       c.Bool("wide"),
		LogLevel:   c.String("log-level"),
	}
}

// env is the per-invocation state built by setup.
type env struct {
	cfg       *config.Config
	log       logger.Logger
	format    output.Format
	formatter output.Formatter
}

// setup loads the configuration and initializes logging.
func setup(c *cli.Context) error {
	flags := ParseGlobalFlags(c)

	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}

	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(flags.ConfigFile),
		confloader.WithFlags(map[string]any{
			"storage.dir":    flags.DataDir,
			"storage.engine": flags.Engine,
			"log.level":      flags.LogLevel,
		}),
	)
	if err := loader.Load(cfg); err != nil {
		return err
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	log.Debug("configuration loaded", "config", config.Sanitize(cfg))

	c.App.Metadata[envKey] = &env{
		cfg:       cfg,
		log:       log,
		format:    format,
		formatter: output.NewFormatter(format, flags.Wide),
	}
	return nil
}

// getEnv retrieves the state built by setup.
func getEnv(c *cli.Context) *env {
	if e, ok := c.App.Metadata[envKey].(*env); ok {
		return e
	}
	return nil
}

// openStore opens the configured VM-state engine.
func (e *env) openStore() (vmstate.Store, error) {
	ec, err := e.cfg.Storage.EngineConfig()
	if err != nil {
		return nil, err
	}
	return vmstate.Open(ec, logger.Slog(e.log))
}

// withService runs fn against a snapshot service bound to m and closes
// the store afterwards.
func (e *env) withService(m *machine.Machine, fn func(*service.SnapshotService) error) (err error) {
	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	svc := service.NewSnapshotService(store, m,
		service.WithFramebuffer(m),
		service.WithTitleSource(m),
	)
	return fn(svc)
}

// print writes data in the selected output format.
func (e *env) print(c *cli.Context, data any) error {
	return e.formatter.Format(c.App.Writer, data)
}

// requireName returns the single NAME argument.
func requireName(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("usage: %s %s", c.Command.HelpName, c.Command.ArgsUsage)
	}
	return c.Args().First(), nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
