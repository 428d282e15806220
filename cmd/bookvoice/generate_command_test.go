package main

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bookvoice/internal/testsupport"
)

func TestGenerateWritesArchiveAndRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	manifest := env.writeManifest(t, twoChapterManifest)
	outDir := filepath.Join(env.baseDir, "custom-out")

	out, _, err := runCLI(t, []string{"generate", manifest, "--output", outDir, "--voice", "puck"}, env.configPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	requireContains(t, out, "Audiobook ready:")

	archive := filepath.Join(outDir, "short_story_audiobook.zip")
	reader, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()
	if len(reader.File) != 2 {
		t.Fatalf("archive has %d files, want 2", len(reader.File))
	}

	calls := env.synth.Calls()
	if len(calls) != 2 || calls[0].Voice != "Puck" {
		t.Fatalf("unexpected synth calls: %+v", calls)
	}

	out, _, err = runCLI(t, []string{"history", "--local"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Short Story")
	requireContains(t, out, "completed")
	requireContains(t, out, "2/2")
}

func TestGenerateToStdout(t *testing.T) {
	env := setupCLITestEnv(t)
	manifest := env.writeManifest(t, twoChapterManifest)

	out, stderr, err := runCLI(t, []string{"generate", manifest, "--output", "-"}, env.configPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(out, "PK") {
		t.Fatalf("stdout is not a zip archive: %q", out[:min(len(out), 16)])
	}
	if _, err := zip.NewReader(bytes.NewReader([]byte(out)), int64(len(out))); err != nil {
		t.Fatalf("read zip from stdout: %v", err)
	}
	requireContains(t, stderr, "Audiobook ready: short_story_audiobook.zip")
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.OutputDir, "short_story_audiobook.zip")); !os.IsNotExist(err) {
		t.Fatalf("archive should not be written to the output dir, stat err = %v", err)
	}
}

func TestGenerateKeepPartialAfterFailure(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithoutHistory())
	env.synth.Respond = testsupport.FailOn(2, errors.New("quota exhausted"))
	manifest := env.writeManifest(t, twoChapterManifest)

	out, _, err := runCLI(t, []string{"generate", manifest, "--keep-partial"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected generation failure, got %v", err)
	}
	requireContains(t, out, "Partial archive:")

	reader, err := zip.OpenReader(filepath.Join(env.cfg.Paths.OutputDir, "short_story_audiobook.zip"))
	if err != nil {
		t.Fatalf("open partial archive: %v", err)
	}
	defer reader.Close()
	if len(reader.File) != 1 {
		t.Fatalf("partial archive has %d files, want 1", len(reader.File))
	}
}

func TestGenerateFailureWithoutKeepPartial(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithoutHistory())
	env.synth.Respond = testsupport.FailOn(1, errors.New("bad key"))
	manifest := env.writeManifest(t, twoChapterManifest)

	_, _, err := runCLI(t, []string{"generate", manifest}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "generation failed") {
		t.Fatalf("expected generation failure, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.OutputDir, "short_story_audiobook.zip")); !os.IsNotExist(err) {
		t.Fatalf("no archive expected, stat err = %v", err)
	}
}

func TestGenerateRequiresSpeechKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	env := setupCLITestEnv(t, testsupport.WithSpeechKey(""))
	manifest := env.writeManifest(t, twoChapterManifest)

	_, _, err := runCLI(t, []string{"generate", manifest}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "speech.api_key is required") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestGenerateRejectsInvalidManifest(t *testing.T) {
	env := setupCLITestEnv(t)
	manifest := env.writeManifest(t, "title = \"\"\n")

	if _, _, err := runCLI(t, []string{"generate", manifest}, env.configPath); err == nil {
		t.Fatal("expected manifest validation error")
	}
}
