package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/config"
	"bookvoice/internal/daemon"
	"bookvoice/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
	synth      *testsupport.FakeSynthesizer
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	t.Setenv("BOOKVOICE_API_TOKEN", "")

	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithResetDelays(0, 0, 0)}, opts...)...)
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	synth := &testsupport.FakeSynthesizer{}
	previous := newSynthesizer
	newSynthesizer = func(*config.Config, *slog.Logger) audiobook.Synthesizer { return synth }
	t.Cleanup(func() { newSynthesizer = previous })

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base, synth: synth}
}

// startDaemon runs a daemon for env on an ephemeral port and returns its
// address.
func (e *cliTestEnv) startDaemon(t *testing.T) string {
	t.Helper()
	d, err := daemon.New(e.cfg, nil, daemon.WithSynthesizer(e.synth))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})
	return d.Addr()
}

func (e *cliTestEnv) writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(e.baseDir, "book.toml")
	testsupport.WriteFile(t, path, content)
	return path
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

const twoChapterManifest = `title = "Short Story"

[[chapters]]
title = "Opening"
markup = "<p>It was a dark night.</p>"

[[chapters]]
title = "Ending"
markup = "<p>The end.</p>"
`
