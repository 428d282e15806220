// Package textutil provides text processing utilities for narration and
// filenames.
//
// The primary use cases are:
//   - Flattening chapter rich-text markup into plain narration text
//   - Deriving slugs for chapter and archive filenames
//   - Sanitizing filenames and path segments for safe filesystem use
package textutil
