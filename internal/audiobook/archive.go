package audiobook

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sync"
	"time"

	"bookvoice/internal/audio"
)

type archiveFile struct {
	entry   ArchiveEntry
	data    []byte
	created time.Time
}

// accumulator collects WAV files for one run in insertion order. Adding a
// name that already exists replaces the data in place.
type accumulator struct {
	mu     sync.Mutex
	format audio.Format
	files  []archiveFile
}

func newAccumulator(format audio.Format) *accumulator {
	return &accumulator{format: format}
}

func (a *accumulator) add(name string, chapter int, wav []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	file := archiveFile{
		entry: ArchiveEntry{
			Name:     name,
			Chapter:  chapter,
			Bytes:    len(wav),
			Duration: a.format.Duration(len(wav) - audio.HeaderSize),
		},
		data:    wav,
		created: time.Now(),
	}
	for i := range a.files {
		if a.files[i].entry.Name == name {
			a.files[i] = file
			return
		}
	}
	a.files = append(a.files, file)
}

func (a *accumulator) len() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.files)
}

func (a *accumulator) entries() []ArchiveEntry {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ArchiveEntry, len(a.files))
	for i, f := range a.files {
		out[i] = f.entry
	}
	return out
}

// zip serializes the accumulated files, Deflate-compressed, in insertion order.
func (a *accumulator) zip() ([]byte, error) {
	a.mu.Lock()
	files := make([]archiveFile, len(a.files))
	copy(files, a.files)
	a.mu.Unlock()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.entry.Name,
			Method:   zip.Deflate,
			Modified: f.created,
		})
		if err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", f.entry.Name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s to archive: %w", f.entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
