package service

import (
	"context"
	"io"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
)

// StateSaver serializes the VM state.
type StateSaver interface {
	SaveState(w io.Writer) error
}

// StateLoader restores the VM state.
type StateLoader interface {
	LoadState(r io.Reader) error
}

// SnapshotSource enumerates snapshots for the metadata cache.
type SnapshotSource interface {
	// List returns the snapshots currently in the store.
	List(ctx context.Context) ([]*domain.SnapshotInfo, error)

	// OpenState returns a reader positioned right after the VM-state record
	// of info, where the extra-data frame (if any) starts.
	OpenState(ctx context.Context, info *domain.SnapshotInfo) (io.ReadCloser, error)
}

// Engine is the VM-state engine.
type Engine interface {
	SnapshotSource

	// Save writes the VM state of a new snapshot and returns the open
	// record. Bytes written to the record are stored inline after the
	// VM state. Nothing is visible until Commit.
	Save(ctx context.Context, name string, state StateSaver) (Record, error)

	// Load restores the VM state stored under name.
	Load(ctx context.Context, name string, state StateLoader) error

	// Delete removes the snapshot stored under name.
	Delete(ctx context.Context, name string) error
}

// Record is a snapshot being written.
type Record interface {
	io.Writer

	// Info describes the snapshot being written.
	Info() *domain.SnapshotInfo

	// Commit makes the record durable and visible.
	Commit() error

	// Abort discards the record.
	Abort() error
}

// Machine is the virtual machine whose state is saved and loaded.
type Machine interface {
	IsRunning() bool
	Stop()
	Start()
	StateSaver
	StateLoader
}

// FramebufferSource captures the current display.
type FramebufferSource interface {
	// CaptureFramebuffer returns the current display contents, or
	// domain.ErrNoRenderContext when nothing is being rendered.
	CaptureFramebuffer(ctx context.Context) (*domain.PixelBuffer, error)
}

// TitleSource reports the guest window title.
type TitleSource interface {
	GuestTitle() domain.UTF16String
}
