package config

import "github.com/yndnr/vmsnap-go/internal/storage/vmstate"

// Config is the root configuration for vmsnap.
type Config struct {
	Storage StorageSection `koanf:"storage" json:"storage" yaml:"storage"`
	Log     LogSection     `koanf:"log" json:"log" yaml:"log"`
	Metrics MetricsSection `koanf:"metrics" json:"metrics" yaml:"metrics"`
}

// StorageSection configures the VM-state engine.
type StorageSection struct {
	// Engine is "file" or "badger".
	Engine string `koanf:"engine" json:"engine" yaml:"engine"`

	// Dir is the snapshot directory (file) or database directory (badger).
	Dir string `koanf:"dir" json:"dir" yaml:"dir"`

	// Compression of the VM state: "none" or "zstd".
	Compression string `koanf:"compression" json:"compression" yaml:"compression"`

	// EncryptionKey is a hex-encoded 32-byte key. Empty disables sealing.
	EncryptionKey string `koanf:"encryption_key" json:"encryption_key,omitempty" yaml:"encryption_key,omitempty"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Format string `koanf:"format" json:"format" yaml:"format"`
}

// MetricsSection configures the Prometheus endpoint of long-running
// commands.
type MetricsSection struct {
	Addr string `koanf:"addr" json:"addr" yaml:"addr"`
}

// EngineConfig converts the storage section into an engine configuration.
func (s StorageSection) EngineConfig() (vmstate.Config, error) {
	key, err := vmstate.ParseKey(s.EncryptionKey)
	if err != nil {
		return vmstate.Config{}, err
	}
	return vmstate.Config{
		Engine:        s.Engine,
		Dir:           s.Dir,
		Compression:   s.Compression,
		EncryptionKey: key,
	}, nil
}
