// Package main provides the entry point for vmsnap.
//
// vmsnap saves, restores, lists and deletes VM snapshots, each carrying
// the guest window title and a display thumbnail after its VM state.
//
// Usage:
//
//	vmsnap [--config FILE] [--data-dir DIR] [--engine file|badger] [-o table|json|yaml] COMMAND
package main
