package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the logging surface used by the service, the engines and the CLI.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithContext(ctx context.Context) Logger
}

// Config selects the handler and the minimum level.
type Config struct {
	// Level is one of debug, info, warn (warning) or error.
	Level string
	// Format is json, or text/console for key=value lines.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
	// AddSource records the calling file and line.
	AddSource bool
}

// DefaultConfig returns JSON at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

// levels maps configuration names to slog levels. The first name listed
// for a level is the one GetLevel reports.
var levels = []struct {
	names []string
	level slog.Level
}{
	{[]string{"debug"}, slog.LevelDebug},
	{[]string{"info"}, slog.LevelInfo},
	{[]string{"warn", "warning"}, slog.LevelWarn},
	{[]string{"error"}, slog.LevelError},
}

// parseLevel falls back to info for unknown names.
func parseLevel(name string) slog.Level {
	name = strings.ToLower(name)
	for _, l := range levels {
		for _, n := range l.names {
			if n == name {
				return l.level
			}
		}
	}
	return slog.LevelInfo
}

// level is shared by every handler so SetLevel applies process-wide.
var level = new(slog.LevelVar)

// SetLevel changes the minimum level of every logger built by this package.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

// GetLevel returns the current minimum level name.
func GetLevel() string {
	cur := level.Level()
	for _, l := range levels {
		if l.level == cur {
			return l.names[0]
		}
	}
	return "info"
}

func newHandler(cfg Config) slog.Handler {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		return slog.NewTextHandler(out, opts)
	default:
		return slog.NewJSONHandler(out, opts)
	}
}

// NewSlog builds a *slog.Logger for components that take one directly,
// such as the storage engines and Badger's log adapter. It also sets the
// shared level from cfg.
func NewSlog(cfg Config) *slog.Logger {
	SetLevel(cfg.Level)
	return slog.New(newHandler(cfg))
}

// New builds a Logger from cfg.
func New(cfg Config) (Logger, error) {
	return wrap(NewSlog(cfg)), nil
}

// Slog returns the *slog.Logger behind l. Loggers not built by this
// package map to slog.Default().
func Slog(l Logger) *slog.Logger {
	if sl, ok := l.(*slogLogger); ok {
		return sl.logger
	}
	return slog.Default()
}

// Discard returns a logger that writes nothing.
func Discard() Logger {
	return wrap(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// slogLogger carries a context so WithContext loggers pass it to the
// handler on every record.
type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func wrap(l *slog.Logger) *slogLogger {
	return &slogLogger{logger: l, ctx: context.Background()}
}

func (l *slogLogger) Debug(msg string, args ...any) { l.logger.DebugContext(l.ctx, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.InfoContext(l.ctx, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.WarnContext(l.ctx, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.ErrorContext(l.ctx, msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...), ctx: l.ctx}
}

func (l *slogLogger) WithContext(ctx context.Context) Logger {
	return &slogLogger{logger: l.logger, ctx: ctx}
}

var defaultLogger atomic.Pointer[slogLogger]

func init() {
	defaultLogger.Store(wrap(NewSlog(DefaultConfig())))
}

// SetDefault replaces the process logger used by the package-level
// functions. The CLI sets it once the configuration is loaded.
func SetDefault(l Logger) {
	if sl, ok := l.(*slogLogger); ok {
		defaultLogger.Store(sl)
	}
}

// Default returns the process logger.
func Default() Logger {
	return defaultLogger.Load()
}

func Debug(msg string, args ...any) { defaultLogger.Load().Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Load().Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Load().Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Load().Error(msg, args...) }
