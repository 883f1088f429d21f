package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/vmsnap-go/internal/storage/vmstate"
)

// Verify validates the configuration.
func Verify(cfg *Config) error {
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyLog(&cfg.Log); err != nil {
		return err
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Engine {
	case vmstate.EngineFile, vmstate.EngineBadger:
	default:
		return fmt.Errorf("storage.engine must be %q or %q, got %q", vmstate.EngineFile, vmstate.EngineBadger, cfg.Engine)
	}

	if cfg.Dir == "" {
		return errors.New("storage.dir is required")
	}

	switch cfg.Compression {
	case vmstate.CompressionNone, vmstate.CompressionZstd:
	default:
		return fmt.Errorf("storage.compression must be %q or %q, got %q", vmstate.CompressionNone, vmstate.CompressionZstd, cfg.Compression)
	}

	if _, err := vmstate.ParseKey(cfg.EncryptionKey); err != nil {
		return fmt.Errorf("storage.encryption_key: %w", err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", cfg.Format)
	}
	return nil
}
