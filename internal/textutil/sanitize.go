package textutil

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. Leading dots are dropped so the result is never
// hidden or a relative path component.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimLeft(strings.TrimSpace(fileNameReplacer.Replace(name)), ".")
}

// Slug lowercases value and replaces every run of characters outside
// [a-z0-9] with a single underscore. Leading and trailing runs are kept, so
// "The Storm!" becomes "the_storm_". Input is NFC-normalised first so
// composed and decomposed accents slug the same way. Only the empty string
// has an empty slug; it becomes "untitled".
func Slug(value string) string {
	if value == "" {
		return "untitled"
	}
	lowered := strings.ToLower(norm.NFC.String(value))
	var b strings.Builder
	b.Grow(len(lowered))
	inRun := false
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			inRun = false
			b.WriteRune(r)
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}

// ChapterFileName returns the archive entry name for a chapter,
// e.g. Chapter_03_the_storm.wav.
func ChapterFileName(index int, title string) string {
	return fmt.Sprintf("Chapter_%02d_%s.wav", index, Slug(title))
}

// ArchiveFileName returns the delivered archive name for a book.
func ArchiveFileName(bookTitle string) string {
	return Slug(bookTitle) + "_audiobook.zip"
}
