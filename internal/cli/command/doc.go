// Package command provides CLI command definitions for vmsnap.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: Root command, global flags, configuration bootstrap
//   - snapshot.go: list, show, save, load, delete and thumbnail
//   - watch.go: Long-running store watcher with a metrics endpoint
//   - version.go: Build information
//
// Commands follow a consistent pattern of parsing flags,
// calling the snapshot service, and formatting output.
package command
