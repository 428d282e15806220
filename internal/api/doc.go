// Package api defines wire-format types and converters for the daemon's HTTP
// API. It translates generator snapshots, archive listings, run history, and
// preflight results into transport-friendly DTOs that the CLI and other
// clients can render without importing internal packages.
//
// # Key Types
//
// State: generation snapshot with a nullable error field.
//
// StartRequest/ChapterRequest: body of POST /api/audiobook/start.
//
// DaemonStatus: daemon runtime information, current state, and preflight
// checks.
//
// HistoryRun/HistoryResponse: persisted run ledger entries.
//
// # Converters
//
// FromState: audiobook.State -> State.
//
// StartRequest.Task: request body -> audiobook.Task with validation.
//
// FromArchiveEntries, FromHistoryRuns, FromChecks: listing conversions.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Timestamps
// use RFC3339 with milliseconds in UTC.
package api
