// Package main hosts the bookvoice CLI entrypoint and command graph.
//
// The Cobra command tree covers three kinds of use. `generate` narrates a
// book manifest inside the CLI process and writes the archive directly.
// `serve` runs the long-lived daemon with its HTTP API. The remaining
// commands (`status`, `start`, `cancel`, `partial`, `reset`, `watch`,
// `history`) drive that daemon through internal/apiclient.
//
// Configuration resolution and logger setup live in commandContext so
// subcommands only deal with presentation.
package main
