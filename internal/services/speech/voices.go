package speech

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultVoice is used when a task does not name one.
const DefaultVoice = "Kore"

var prebuiltVoices = []string{"Kore", "Puck", "Charon", "Fenrir", "Aoede", "Leda", "Orus", "Zephyr"}

// Voices returns the prebuilt voice names the model is known to accept.
func Voices() []string {
	return slices.Clone(prebuiltVoices)
}

// CanonicalVoice title-cases a voice name ("kore" -> "Kore").
func CanonicalVoice(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return cases.Title(language.Und).String(strings.ToLower(name))
}

// IsKnownVoice reports whether name matches a prebuilt voice, ignoring case.
// Unknown names are still sent to the API, which has the final word.
func IsKnownVoice(name string) bool {
	return slices.Contains(prebuiltVoices, CanonicalVoice(name))
}
