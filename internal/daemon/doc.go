// Package daemon coordinates the long-running bookvoice process.
//
// It wires configuration, the speech client, the audiobook generator, the
// history ledger, and the Redis relay into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon exposes the
// generator over an HTTP API (JSON control endpoints, a server-sent event
// stream, and a WebSocket stream) and serves delivered archives from the
// output directory.
//
// Keep orchestration logic here: the generation state machine lives in
// internal/audiobook while the daemon focuses on startup, shutdown, and
// transport.
package daemon
