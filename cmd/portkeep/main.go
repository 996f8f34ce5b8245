// Package main is the entry point for the portkeep binary.
//
// portkeep is a terminal application that combines a TUI dashboard (built with
// Bubble Tea) and a CLI (built with Cobra) for managing persistent local TCP
// port-forward mappings backed by socat processes.
//
// When invoked without arguments, it launches the interactive dashboard.
// When invoked with subcommands (e.g. "add", "list", "restore"), it runs the
// corresponding CLI operation and exits.
//
// Usage:
//
//	portkeep                                  # launch the dashboard
//	portkeep add 127.0.0.1:9000 10.0.0.5:80   # map a local port to a remote
//	portkeep list                             # show mappings and their health
//	portkeep restore                          # restart dead mappings after boot
//
// The CLI is constructed in internal/cli and the TUI in internal/ui. This file
// simply wires them together and handles top-level error reporting.
package main

import (
	"fmt"
	"os"

	"portkeep/internal/cli"
)

func main() {
	// Build the root Cobra command tree, which includes all subcommands
	// (add, remove, list, restore, watch, events, doctor, bundle) and
	// defaults to launching the dashboard when no subcommand is provided.
	cmd := cli.NewRootCommand()

	// Execute the resolved command. Cobra handles argument parsing,
	// subcommand routing, and help/usage output automatically.
	// Any error returned by a RunE handler is printed to stderr
	// and the process exits with a non-zero status code.
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
