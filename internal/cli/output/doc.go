// Package output provides output formatting for the vmsnap CLI.
//
// This package handles all CLI output formatting:
//
//   - formatter.go: Formatter interface and factory
//   - table.go: Table rendering with wide mode support
//   - json.go: JSON output formatting
//   - yaml.go: YAML output formatting
//
// Table output is driven by the Tabler interface; values that do not
// implement it fall back to JSON.
package output
