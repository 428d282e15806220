package testsupport

import (
	"path/filepath"
	"testing"

	"bookvoice/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Speech.APIKey = "test"
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.History.Path = filepath.Join(base, "state", "history.db")
	cfgVal.Redis.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSpeechKey sets the speech API key on the test config.
func WithSpeechKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Speech.APIKey = key
	}
}

// WithSpeechBaseURL points the speech client at a test server.
func WithSpeechBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Speech.BaseURL = url
	}
}

// WithAPIToken enables bearer authentication on the daemon API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithoutHistory disables the SQLite run ledger.
func WithoutHistory() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = false
	}
}

// WithResetDelays overrides the automatic reset delays in seconds.
func WithResetDelays(completed, cancelled, failed int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.CompletedResetSeconds = completed
		b.cfg.Pipeline.CancelledResetSeconds = cancelled
		b.cfg.Pipeline.ErrorResetSeconds = failed
	}
}

// EnsureDirs creates the configured directories.
func EnsureDirs() ConfigOption {
	return func(b *configBuilder) {
		if err := b.cfg.EnsureDirectories(); err != nil {
			b.t.Fatalf("ensure directories: %v", err)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
