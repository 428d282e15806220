// Package services defines shared utilities consumed by the audiobook
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, chapter indices, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (validation vs external service vs transient) with errors.Is.
package services
