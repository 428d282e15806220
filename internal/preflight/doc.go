// Package preflight provides readiness checks for external services
// and filesystem paths that bookvoice depends on.
//
// These checks run in two contexts:
//   - The daemon status endpoint reports RunAll results alongside the
//     generator state.
//   - The CLI "bookvoice check" command runs them before a long generation
//     so a missing key or unwritable output directory fails fast.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
