// Package audiobook turns a book's chapters into a ZIP of narrated WAV files.
//
// A Generator owns the single mutable generation State and drives it through
// idle, generating, zipping and one of completed, error or cancelled. Chapters
// are synthesized strictly one at a time in caller order; a failure stops the
// run but keeps every chapter already produced so the user can still download
// the partial archive. At most one run is active per Generator.
//
// State changes are broadcast through a Publisher. Subscribers receive the
// current snapshot on registration and then every subsequent snapshot, in
// order, synchronously on the goroutine that made the change.
package audiobook
