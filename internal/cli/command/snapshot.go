package command

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmsnap-go/internal/cli/output"
	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/core/service"
	"github.com/yndnr/vmsnap-go/internal/machine"
)

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List snapshots with their title and thumbnail",
		Action:  snapshotList,
	}
}

// ShowCommand returns the show command.
func ShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Aliases:   []string{"get"},
		Usage:     "Show snapshot details",
		ArgsUsage: "NAME",
		Action:    snapshotShow,
	}
}

// SaveCommand returns the save command.
func SaveCommand() *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Save a VM state image as a snapshot",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     "state",
				Aliases:  []string{"s"},
				Usage:    "VM state (RAM image) file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "title",
				Aliases: []string{"t"},
				Usage:   "Guest window title stored with the snapshot",
			},
			&cli.PathFlag{
				Name:  "screenshot",
				Usage: "PNG image stored as the snapshot thumbnail",
			},
			&cli.BoolFlag{
				Name:  "paused",
				Usage: "Treat the machine as paused (no stop/resume around the save)",
			},
		},
		Action: snapshotSave,
	}
}

// LoadCommand returns the load command.
func LoadCommand() *cli.Command {
	return &cli.Command{
		Name:      "load",
		Aliases:   []string{"restore"},
		Usage:     "Restore a snapshot's VM state into a file",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     "out",
				Aliases:  []string{"O"},
				Usage:    "Destination file for the VM state",
				Required: true,
			},
		},
		Action: snapshotLoad,
	}
}

// DeleteCommand returns the delete command.
func DeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a snapshot",
		ArgsUsage: "NAME",
		Action:    snapshotDelete,
	}
}

// ThumbnailCommand returns the thumbnail command.
func ThumbnailCommand() *cli.Command {
	return &cli.Command{
		Name:      "thumbnail",
		Aliases:   []string{"thumb"},
		Usage:     "Export a snapshot thumbnail as PNG",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     "out",
				Aliases:  []string{"O"},
				Usage:    "Destination PNG file",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "width",
				Usage: "Scale to this width (keeps aspect ratio if height is unset)",
			},
			&cli.IntFlag{
				Name:  "height",
				Usage: "Scale to this height (keeps aspect ratio if width is unset)",
			},
		},
		Action: snapshotThumbnail,
	}
}

func snapshotList(c *cli.Context) error {
	e := getEnv(c)
	return e.withService(machine.New(nil), func(svc *service.SnapshotService) error {
		entries, err := svc.List(c.Context)
		if err != nil {
			return err
		}
		return e.print(c, newSnapshotViews(entries))
	})
}

func snapshotShow(c *cli.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	e := getEnv(c)
	return e.withService(machine.New(nil), func(svc *service.SnapshotService) error {
		entry, err := svc.Get(c.Context, name)
		if err != nil {
			return err
		}
		return e.print(c, newSnapshotView(entry))
	})
}

func snapshotSave(c *cli.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	ram, err := os.ReadFile(c.Path("state"))
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	m := machine.New(ram)
	m.SetTitle(c.String("title"))
	if path := c.Path("screenshot"); path != "" {
		pb, err := readScreenshot(path)
		if err != nil {
			return err
		}
		if err := m.SetFramebuffer(pb); err != nil {
			return err
		}
	}
	if !c.Bool("paused") {
		m.Start()
	}

	e := getEnv(c)
	return e.withService(m, func(svc *service.SnapshotService) error {
		if _, err := svc.Save(c.Context, name); err != nil {
			return err
		}
		entry, err := svc.Get(c.Context, name)
		if err != nil {
			return err
		}
		return e.print(c, newSnapshotView(entry))
	})
}

func readScreenshot(path string) (*domain.PixelBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}
	defer f.Close()
	return machine.FromPNG(f)
}

func snapshotLoad(c *cli.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	m := machine.New(nil)
	e := getEnv(c)
	err = e.withService(m, func(svc *service.SnapshotService) error {
		return svc.Load(c.Context, name)
	})
	if err != nil {
		return err
	}

	out := c.Path("out")
	ram := m.RAM()
	if err := os.WriteFile(out, ram, 0600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Snapshot %q loaded into %s (%s).\n", name, out, output.Bytes(int64(len(ram))))
	return nil
}

func snapshotDelete(c *cli.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	e := getEnv(c)
	err = e.withService(machine.New(nil), func(svc *service.SnapshotService) error {
		return svc.Delete(c.Context, name)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Snapshot %q deleted.\n", name)
	return nil
}

func snapshotThumbnail(c *cli.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	var entry *domain.Entry
	e := getEnv(c)
	err = e.withService(machine.New(nil), func(svc *service.SnapshotService) error {
		entry, err = svc.Get(c.Context, name)
		return err
	})
	if err != nil {
		return err
	}
	if !entry.Extra.ThumbnailPresent {
		return fmt.Errorf("snapshot %q has no thumbnail", name)
	}

	img, err := thumbnailImage(entry.Extra.Thumbnail, c.Int("width"), c.Int("height"))
	if err != nil {
		return err
	}

	out := c.Path("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	b := img.Bounds()
	fmt.Fprintf(c.App.Writer, "Thumbnail %dx%d written to %s.\n", b.Dx(), b.Dy(), out)
	return nil
}

// thumbnailImage renders pb at the requested size. A zero dimension is
// derived from the other one; both zero keeps the native size.
func thumbnailImage(pb *domain.PixelBuffer, width, height int) (image.Image, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("invalid thumbnail size %dx%d", width, height)
	}
	if width == 0 && height == 0 {
		return pb.ToImage()
	}

	w, h := int(pb.Width), int(pb.Height)
	switch {
	case width == 0:
		width = max(1, w*height/h)
	case height == 0:
		height = max(1, h*width/w)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	if err := service.RenderThumbnail(dst, pb); err != nil {
		return nil, err
	}
	return dst, nil
}

// snapshotView is the printable form of a snapshot entry.
type snapshotView struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	VMStateSize  int64          `json:"vm_state_size" yaml:"vm_state_size"`
	Title        string         `json:"title,omitempty" yaml:"title,omitempty"`
	TitlePresent bool           `json:"title_present" yaml:"title_present"`
	Thumbnail    *thumbnailView `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
}

type thumbnailView struct {
	Width    int32  `json:"width" yaml:"width"`
	Height   int32  `json:"height" yaml:"height"`
	Format   string `json:"format" yaml:"format"`
	ByteSize int64  `json:"byte_size" yaml:"byte_size"`
}

func newSnapshotView(e *domain.Entry) *snapshotView {
	v := &snapshotView{
		ID:           e.Info.ID,
		Name:         e.Info.Name,
		CreatedAt:    e.Info.CreatedTime().UTC(),
		VMStateSize:  e.Info.VMStateSize,
		Title:        e.Extra.Title,
		TitlePresent: e.Extra.TitlePresent,
	}
	if pb := e.Extra.Thumbnail; e.Extra.ThumbnailPresent && pb != nil {
		v.Thumbnail = &thumbnailView{
			Width:    pb.Width,
			Height:   pb.Height,
			Format:   pb.Format.String(),
			ByteSize: pb.ByteSize,
		}
	}
	return v
}

func (v *snapshotView) size() string {
	if v.Thumbnail == nil {
		return "-"
	}
	return fmt.Sprintf("%dx%d", v.Thumbnail.Width, v.Thumbnail.Height)
}

// Table implements output.Tabler.
func (v *snapshotView) Table(wide bool) *output.Table {
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("id", v.ID)
	t.AddRow("name", v.Name)
	t.AddRow("created_at", v.CreatedAt.Format(time.RFC3339))
	t.AddRow("vm_state_size", output.Bytes(v.VMStateSize))
	t.AddRow("title", output.Dash(v.Title))
	t.AddRow("thumbnail", v.size())
	if wide && v.Thumbnail != nil {
		t.AddRow("thumbnail_format", v.Thumbnail.Format)
		t.AddRow("thumbnail_bytes", strconv.FormatInt(v.Thumbnail.ByteSize, 10))
	}
	return t
}

type snapshotViews []*snapshotView

func newSnapshotViews(entries []domain.Entry) snapshotViews {
	views := make(snapshotViews, 0, len(entries))
	for i := range entries {
		views = append(views, newSnapshotView(&entries[i]))
	}
	return views
}

// Table implements output.Tabler.
func (vs snapshotViews) Table(wide bool) *output.Table {
	t := &output.Table{Headers: []string{"NAME", "CREATED", "STATE", "TITLE", "THUMBNAIL"}}
	if wide {
		t.Headers = append([]string{"ID"}, t.Headers...)
	}
	for _, v := range vs {
		row := []string{
			v.Name,
			v.CreatedAt.Format("2006-01-02 15:04:05"),
			output.Bytes(v.VMStateSize),
			output.Dash(v.Title),
			v.size(),
		}
		if wide {
			row = append([]string{v.ID}, row...)
		}
		t.AddRow(row...)
	}
	return t
}
