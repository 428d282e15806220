package book

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/services"
)

// Chapter is one manifest chapter. Exactly one of Markup or File is expected;
// File wins when both are set.
type Chapter struct {
	Title  string `toml:"title" json:"title"`
	Markup string `toml:"markup" json:"markup,omitempty"`
	File   string `toml:"file" json:"file,omitempty"`
}

// Manifest describes a book to narrate.
type Manifest struct {
	Title        string    `toml:"title" json:"title"`
	Voice        string    `toml:"voice" json:"voice,omitempty"`
	Instructions string    `toml:"instructions" json:"instructions,omitempty"`
	Chapters     []Chapter `toml:"chapters" json:"chapters"`

	dir string
}

// Load reads a manifest from path and resolves chapter files.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "book", "load", "manifest not found", err)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	if err := m.resolveFiles(); err != nil {
		return nil, err
	}
	return m, nil
}

// Parse decodes manifest bytes. ext selects the format (".json" or TOML for
// anything else).
func Parse(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, services.Wrap(services.ErrValidation, "book", "parse", "invalid JSON manifest", err)
		}
	default:
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, services.Wrap(services.ErrValidation, "book", "parse", "invalid TOML manifest", err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest has a title and at least one chapter.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return services.Wrap(services.ErrValidation, "book", "validate", "manifest title is required", nil)
	}
	if len(m.Chapters) == 0 {
		return services.Wrap(services.ErrValidation, "book", "validate", "manifest has no chapters", nil)
	}
	for i, ch := range m.Chapters {
		if strings.TrimSpace(ch.Markup) == "" && strings.TrimSpace(ch.File) == "" && strings.TrimSpace(ch.Title) == "" {
			return services.Wrap(services.ErrValidation, "book", "validate", fmt.Sprintf("chapter %d is empty", i+1), nil)
		}
	}
	return nil
}

func (m *Manifest) resolveFiles() error {
	for i := range m.Chapters {
		file := strings.TrimSpace(m.Chapters[i].File)
		if file == "" {
			continue
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(m.dir, file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return services.Wrap(services.ErrNotFound, "book", "load", fmt.Sprintf("chapter %d file", i+1), err)
		}
		m.Chapters[i].Markup = string(data)
	}
	return nil
}

// Task converts the manifest into a generation task. Chapters are numbered
// 1..n in manifest order; defaultVoice fills an unset voice.
func (m *Manifest) Task(defaultVoice string) audiobook.Task {
	voice := strings.TrimSpace(m.Voice)
	if voice == "" {
		voice = defaultVoice
	}
	chapters := make([]audiobook.ChapterTask, len(m.Chapters))
	for i, ch := range m.Chapters {
		title := strings.TrimSpace(ch.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		chapters[i] = audiobook.ChapterTask{Index: i + 1, Title: title, Markup: ch.Markup}
	}
	return audiobook.Task{
		BookTitle:         strings.TrimSpace(m.Title),
		Chapters:          chapters,
		VoiceName:         voice,
		VoiceInstructions: strings.TrimSpace(m.Instructions),
	}
}
