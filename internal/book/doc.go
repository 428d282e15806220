// Package book loads book manifests describing the chapters to narrate.
//
// A manifest is TOML or JSON, chosen by file extension. Chapter markup may be
// inline or read from a file relative to the manifest.
package book
