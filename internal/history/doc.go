// Package history keeps a SQLite ledger of audiobook generation runs.
//
// Only run metadata is stored: title, voice, status, counters, the archive
// location and timestamps. Audio is never persisted, so a restarted daemon
// shows what happened before but cannot resume a run.
package history
