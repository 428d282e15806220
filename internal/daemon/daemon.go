package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"bookvoice/internal/audio"
	"bookvoice/internal/audiobook"
	"bookvoice/internal/config"
	"bookvoice/internal/history"
	"bookvoice/internal/logging"
	"bookvoice/internal/notifications"
	"bookvoice/internal/preflight"
	"bookvoice/internal/relay"
	"bookvoice/internal/services/speech"
)

const checksTTL = 30 * time.Second

// Option customizes daemon construction.
type Option func(*Daemon)

// WithSynthesizer replaces the speech client used by the generator.
func WithSynthesizer(synth audiobook.Synthesizer) Option {
	return func(d *Daemon) { d.synth = synth }
}

// WithNotifier replaces the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Daemon) { d.notifier = notifier }
}

// WithRelayClient publishes state snapshots through client instead of a
// connection dialed from the redis config section.
func WithRelayClient(client relay.Client) Option {
	return func(d *Daemon) { d.relayClient = client }
}

// Daemon coordinates the generator, its subscribers and the HTTP API, and
// enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	synth       audiobook.Synthesizer
	notifier    notifications.Service
	relayClient relay.Client

	gen      *audiobook.Generator
	store    *history.Store
	recorder *history.Recorder
	relay    *relay.Relay
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	mu           sync.Mutex
	running      atomic.Bool
	cancel       context.CancelFunc
	unsubscribes []func()

	// ctxMu guards ctx separately from mu so request handlers never wait on
	// Start or Stop.
	ctxMu sync.RWMutex
	ctx   context.Context

	checksMu  sync.Mutex
	checks    []preflight.Result
	checkedAt time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	LockFilePath  string
	HistoryDBPath string
	OutputDir     string
	RelayEnabled  bool
	Generator     audiobook.State
}

// New constructs a daemon with initialized dependencies. The history
// database is opened here so schema problems surface before the lock is
// taken.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lock = flock.New(d.lockPath)

	if d.synth == nil {
		d.synth = speech.NewClient(speech.Config{
			APIKey:         cfg.Speech.APIKey,
			BaseURL:        cfg.Speech.BaseURL,
			Model:          cfg.Speech.Model,
			TimeoutSeconds: cfg.Speech.TimeoutSeconds,
		}, speech.WithRetryMaxAttempts(cfg.Speech.RetryAttempts), speech.WithLogger(logger))
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg, logger)
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		d.store = store
		d.recorder = history.NewRecorder(store, logger, 0)
	}

	switch {
	case d.relayClient != nil:
		d.relay = relay.NewWithClient(d.relayClient, cfg.Redis.ChannelPrefix, logger, 0)
	case cfg.Redis.Enabled:
		d.relay = relay.New(cfg.Redis, logger)
	}

	d.gen = audiobook.NewGenerator(d.synth, audiobook.DirectorySink{Dir: cfg.Paths.OutputDir}, audiobook.Options{
		Format: audio.Format{
			SampleRate:    cfg.Speech.SampleRate,
			Channels:      cfg.Speech.Channels,
			BitsPerSample: cfg.Speech.BitsPerSample,
		},
		CompletedReset: cfg.CompletedResetDelay(),
		CancelledReset: cfg.CancelledResetDelay(),
		ErrorReset:     cfg.ErrorResetDelay(),
		Logger:         logger,
		Notifier:       d.notifier,
	})

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		d.closeStores()
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, starts the state subscribers and the API
// server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bookvoice daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.ctxMu.Lock()
	d.ctx = runCtx
	d.ctxMu.Unlock()
	if d.recorder != nil {
		d.recorder.Start(runCtx)
		d.unsubscribes = append(d.unsubscribes, d.gen.Subscribe(d.recorder.Observe))
	}
	if d.relay != nil {
		if err := d.relay.Ping(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "redis relay unreachable at startup", "relay_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check redis.addr or disable the relay"),
				logging.String(logging.FieldImpact, "progress snapshots are not broadcast until redis recovers"),
			)
		}
		d.relay.Start(runCtx)
		d.unsubscribes = append(d.unsubscribes, d.gen.Subscribe(d.relay.Observe))
	}
	if err := d.api.start(runCtx); err != nil {
		d.stopLocked()
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("bookvoice daemon started",
		logging.String("lock", d.lockPath),
		logging.String("output_dir", d.cfg.Paths.OutputDir),
	)
	return nil
}

// Stop cancels any active run, stops background work and releases the
// daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.stopLocked()
	d.running.Store(false)
	d.logger.Info("bookvoice daemon stopped")
}

func (d *Daemon) stopLocked() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	for _, unsubscribe := range d.unsubscribes {
		unsubscribe()
	}
	d.unsubscribes = nil
	if d.recorder != nil {
		d.recorder.Wait()
	}
	if d.relay != nil {
		d.relay.Wait()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctxMu.Lock()
	d.ctx = nil
	d.ctxMu.Unlock()
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.closeStores()
}

func (d *Daemon) closeStores() error {
	var errs []error
	if d.relay != nil {
		errs = append(errs, d.relay.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Generator returns the generator driven by the daemon.
func (d *Daemon) Generator() *audiobook.Generator {
	return d.gen
}

// History returns the run ledger, or nil when history is disabled.
func (d *Daemon) History() *history.Store {
	return d.store
}

// Addr returns the API listener address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// runContext is the parent context for runs started over the API. It
// outlives individual requests and is cancelled by Stop.
func (d *Daemon) runContext() context.Context {
	d.ctxMu.RLock()
	defer d.ctxMu.RUnlock()
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		OutputDir:    d.cfg.Paths.OutputDir,
		RelayEnabled: d.relay != nil,
		Generator:    d.gen.State(),
	}
	if d.store != nil {
		status.HistoryDBPath = d.store.Path()
	}
	return status
}

// Checks runs the preflight checks. Results are cached briefly because the
// speech check performs a network round trip.
func (d *Daemon) Checks(ctx context.Context) []preflight.Result {
	d.checksMu.Lock()
	defer d.checksMu.Unlock()
	if d.checks != nil && time.Since(d.checkedAt) < checksTTL {
		return d.checks
	}
	d.checks = preflight.RunAll(ctx, d.cfg)
	d.checkedAt = time.Now()
	return d.checks
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{
		"message": "bookvoice test notification",
	})
}
