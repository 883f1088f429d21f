package vmstate

import (
	"fmt"
	"log/slog"

	"github.com/yndnr/vmsnap-go/internal/core/service"
)

// Engine names.
const (
	EngineFile   = "file"
	EngineBadger = "badger"
)

// Config configures a VM-state engine.
type Config struct {
	// Engine selects the storage backend: "file" or "badger".
	Engine string

	// Dir is the snapshot directory (file) or database directory (badger).
	Dir string

	// Compression is applied to the VM state: "none" or "zstd".
	Compression string

	// EncryptionKey enables sealing of the VM state when set (32 bytes).
	EncryptionKey []byte
}

// DefaultConfig returns a file engine configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Engine:      EngineFile,
		Dir:         dir,
		Compression: CompressionZstd,
	}
}

// Store is a VM-state engine that owns resources.
type Store interface {
	service.Engine
	Close() error
}

// Open creates the engine selected by cfg.Engine.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Engine {
	case "", EngineFile:
		return NewFileEngine(cfg, logger)
	case EngineBadger:
		return NewBadgerEngine(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}
