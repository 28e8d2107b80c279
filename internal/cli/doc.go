// Package cli defines the Cobra command tree for the npm-mirror CLI. Each file
// in this package registers one top-level command (publish, doctor, config,
// version) with the root command. Command implementations delegate to internal
// packages for the pipeline and only handle flag parsing, I/O formatting, and
// exit codes.
package cli
