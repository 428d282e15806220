package book_test

import (
	"errors"
	"path/filepath"
	"testing"

	"bookvoice/internal/book"
	"bookvoice/internal/services"
	"bookvoice/internal/testsupport"
)

func TestLoadTOMLResolvesChapterFiles(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "chapters", "two.html"), "<p>From a file.</p>")
	manifestPath := filepath.Join(dir, "book.toml")
	testsupport.WriteFile(t, manifestPath, `
title = "The Long Road"
instructions = "Calm and slow"

[[chapters]]
title = "Departure"
markup = "<p>We left at dawn.</p>"

[[chapters]]
title = "Arrival"
file = "chapters/two.html"
`)

	m, err := book.Load(manifestPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	task := m.Task("Kore")
	if task.BookTitle != "The Long Road" || task.VoiceName != "Kore" || task.VoiceInstructions != "Calm and slow" {
		t.Fatalf("unexpected task header: %+v", task)
	}
	if len(task.Chapters) != 2 {
		t.Fatalf("chapters = %d", len(task.Chapters))
	}
	if task.Chapters[1].Index != 2 || task.Chapters[1].Markup != "<p>From a file.</p>" {
		t.Fatalf("file chapter not resolved: %+v", task.Chapters[1])
	}
}

func TestParseJSONManifest(t *testing.T) {
	data := []byte(`{"title":"Short","voice":"Puck","chapters":[{"markup":"<p>x</p>"}]}`)
	m, err := book.Parse(data, ".json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	task := m.Task("Kore")
	if task.VoiceName != "Puck" {
		t.Fatalf("manifest voice should win, got %q", task.VoiceName)
	}
	if task.Chapters[0].Title != "Chapter 1" || task.Chapters[0].Index != 1 {
		t.Fatalf("untitled chapter defaults = %+v", task.Chapters[0])
	}
}

func TestParseRejectsInvalidManifests(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
	}{
		{name: "missing title", data: `[[chapters]]
markup = "<p>x</p>"`, ext: ".toml"},
		{name: "no chapters", data: `title = "Empty"`, ext: ".toml"},
		{name: "bad json", data: `{"title":`, ext: ".json"},
		{name: "empty chapter", data: `{"title":"T","chapters":[{}]}`, ext: ".json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := book.Parse([]byte(tt.data), tt.ext)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("error = %v, want validation error", err)
			}
		})
	}
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := book.Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}
