package config

import "github.com/yndnr/vmsnap-go/internal/storage/vmstate"

// Default configuration values.
const (
	DefaultEngine      = vmstate.EngineFile
	DefaultDir         = "/var/lib/vmsnap"
	DefaultCompression = vmstate.CompressionZstd

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultMetricsAddr = "127.0.0.1:9464"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageSection{
			Engine:      DefaultEngine,
			Dir:         DefaultDir,
			Compression: DefaultCompression,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{
			Addr: DefaultMetricsAddr,
		},
	}
}
