package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// PCM returns size bytes of a repeating 16-bit sample pattern. A size <= 0
// yields a single frame.
func PCM(size int) []byte {
	if size <= 0 {
		size = 2
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(0x40 + i%16)
	}
	return buf
}
