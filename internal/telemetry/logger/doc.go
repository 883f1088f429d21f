// Package logger is vmsnap's structured logger, built on log/slog.
//
// The CLI builds one Logger from the log section of the configuration
// and installs it with SetDefault. The storage engines receive the
// underlying *slog.Logger through Slog, so engine and Badger messages go
// to the same handler. Values under secret-bearing keys such as
// encryption_key are masked before they reach the output, and operation
// and snapshot names travel on the context (see WithOperation).
package logger
