package audiobook

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookvoice/internal/audio"
	"bookvoice/internal/logging"
	"bookvoice/internal/notifications"
)

// Options configures a Generator. A zero reset delay disables the
// corresponding automatic return to idle.
type Options struct {
	Format         audio.Format
	CompletedReset time.Duration
	CancelledReset time.Duration
	ErrorReset     time.Duration
	Logger         *slog.Logger
	Notifier       notifications.Service
	// NewID generates run identifiers. Defaults to random UUIDs.
	NewID func() string
}

// Generator owns the generation state machine and the archive accumulator.
type Generator struct {
	synth    Synthesizer
	sink     ArchiveSink
	format   audio.Format
	logger   *slog.Logger
	notifier notifications.Service
	newID    func() string

	completedReset time.Duration
	cancelledReset time.Duration
	errorReset     time.Duration

	pub *Publisher

	// mu serializes transitions. State is changed through pub.apply while mu
	// is held and delivered with pub.flush after mu is released.
	mu      sync.Mutex
	runID   string
	cancel  context.CancelFunc
	archive *accumulator
	timer   *time.Timer
}

// NewGenerator constructs a Generator in the idle state.
func NewGenerator(synth Synthesizer, sink ArchiveSink, opts Options) *Generator {
	format := opts.Format
	if format.SampleRate <= 0 || format.Channels <= 0 || format.BitsPerSample <= 0 {
		format = audio.DefaultFormat
	}
	logger := logging.NewComponentLogger(opts.Logger, "audiobook")
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewLogService(opts.Logger)
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return &Generator{
		synth:          synth,
		sink:           sink,
		format:         format,
		logger:         logger,
		notifier:       notifier,
		newID:          newID,
		completedReset: opts.CompletedReset,
		cancelledReset: opts.CancelledReset,
		errorReset:     opts.ErrorReset,
		pub:            NewPublisher(),
	}
}

// State returns the current snapshot.
func (g *Generator) State() State {
	return g.pub.Snapshot()
}

// Subscribe registers fn for state snapshots. fn is called once immediately
// with the current state.
func (g *Generator) Subscribe(fn Listener) func() {
	return g.pub.Subscribe(fn)
}

// Archive lists the files accumulated for the current or last run.
func (g *Generator) Archive() []ArchiveEntry {
	g.mu.Lock()
	acc := g.archive
	g.mu.Unlock()
	return acc.entries()
}

// StartDownload runs the full pipeline for task and blocks until the run
// ends. Failures and cancellation are reported through the state stream, not
// the return value; an error is returned only when the call is rejected.
func (g *Generator) StartDownload(ctx context.Context, task Task) error {
	r, err := g.begin(ctx, task)
	if err != nil {
		return err
	}
	g.execute(ctx, r)
	return nil
}

// Start accepts task like StartDownload but runs it in a new goroutine. The
// returned channel is closed when the run ends.
func (g *Generator) Start(ctx context.Context, task Task) (<-chan struct{}, error) {
	r, err := g.begin(ctx, task)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.execute(ctx, r)
	}()
	return done, nil
}

// pendingRun is an accepted run that has not started its chapter loop.
type pendingRun struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	acc    *accumulator
	task   Task
}

func (g *Generator) begin(ctx context.Context, task Task) (pendingRun, error) {
	if len(task.Chapters) == 0 {
		g.notice(ctx, "No chapters to generate")
		return pendingRun{}, ErrNoChapters
	}

	g.mu.Lock()
	if g.pub.Snapshot().Status.Active() {
		g.mu.Unlock()
		g.notice(ctx, "Audiobook generation is already in progress")
		return pendingRun{}, ErrRunActive
	}
	runID := g.newID()
	runCtx, cancel := context.WithCancel(ctx)
	acc := newAccumulator(g.format)
	if g.cancel != nil {
		g.cancel()
	}
	g.stopTimerLocked()
	g.runID = runID
	g.cancel = cancel
	g.archive = acc

	task = normalizeTask(task)
	started := g.pub.apply(func(s *State) {
		*s = State{
			Status:     StatusGenerating,
			Message:    "Preparing chapters...",
			BookTitle:  task.BookTitle,
			VoiceName:  task.VoiceName,
			TotalFiles: len(task.Chapters),
			RunID:      runID,
		}
	})
	g.mu.Unlock()
	g.pub.flush()

	g.logger.Info("audiobook generation started",
		logging.String(logging.FieldRunID, runID),
		logging.String("book_title", started.BookTitle),
		logging.Int("chapters", started.TotalFiles),
		logging.String("voice", task.VoiceName),
	)
	g.publish(ctx, notifications.EventRunStarted, notifications.Payload{
		"bookTitle": started.BookTitle,
		"chapters":  started.TotalFiles,
	})
	return pendingRun{id: runID, ctx: runCtx, cancel: cancel, acc: acc, task: task}, nil
}

func (g *Generator) execute(ctx context.Context, r pendingRun) {
	defer r.cancel()
	g.run(ctx, r.ctx, r.id, r.acc, r.task)
}

// Cancel stops the active run at the next chapter boundary. The state moves
// to cancelled immediately; chapters already produced are kept for
// DownloadPartial until Reset.
func (g *Generator) Cancel(ctx context.Context) error {
	g.mu.Lock()
	if g.pub.Snapshot().Status != StatusGenerating {
		g.mu.Unlock()
		g.notice(ctx, "No audiobook generation in progress")
		return ErrNotRunning
	}
	st := g.cancelLocked("Generation cancelled")
	g.mu.Unlock()
	g.pub.flush()

	g.announceCancelled(ctx, st)
	return nil
}

// DownloadPartial archives whatever the last run produced and delivers it
// through the same finalize step as a completed run. It blocks until the
// archive is delivered or the attempt fails.
func (g *Generator) DownloadPartial(ctx context.Context) error {
	p, err := g.beginPartial(ctx)
	if err != nil {
		return err
	}
	g.finalize(ctx, p.runID, p.acc, p.bookTitle)
	return nil
}

// StartPartial accepts a partial download like DownloadPartial and finalizes
// it in a new goroutine. The returned channel is closed when it ends.
func (g *Generator) StartPartial(ctx context.Context) (<-chan struct{}, error) {
	p, err := g.beginPartial(ctx)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.finalize(ctx, p.runID, p.acc, p.bookTitle)
	}()
	return done, nil
}

type pendingPartial struct {
	runID     string
	acc       *accumulator
	bookTitle string
}

func (g *Generator) beginPartial(ctx context.Context) (pendingPartial, error) {
	g.mu.Lock()
	st := g.pub.Snapshot()
	if st.Status.Active() {
		g.mu.Unlock()
		g.notice(ctx, "Audiobook generation is still running")
		return pendingPartial{}, ErrRunActive
	}
	acc := g.archive
	if acc.len() == 0 {
		g.mu.Unlock()
		g.notice(ctx, "No audio files to download")
		return pendingPartial{}, ErrNothingToDownload
	}
	runID := g.runID
	g.stopTimerLocked()
	g.pub.apply(func(s *State) {
		s.Status = StatusZipping
		s.Message = "Creating archive from completed chapters..."
		s.Error = ""
	})
	g.mu.Unlock()
	g.pub.flush()

	g.logger.Info("partial archive requested",
		logging.String(logging.FieldRunID, runID),
		logging.Int("files", acc.len()),
	)
	return pendingPartial{runID: runID, acc: acc, bookTitle: st.BookTitle}, nil
}

// Reset discards the accumulator and returns to idle from any state.
func (g *Generator) Reset() {
	g.mu.Lock()
	g.resetLocked()
	g.mu.Unlock()
	g.pub.flush()
}

func (g *Generator) resetLocked() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.stopTimerLocked()
	g.archive = nil
	g.runID = ""
	g.pub.apply(func(s *State) { *s = idleState() })
}

func (g *Generator) cancelLocked(message string) State {
	if g.cancel != nil {
		g.cancel()
	}
	st := g.pub.apply(func(s *State) {
		s.Status = StatusCancelled
		s.Message = message
	})
	g.scheduleResetLocked(g.runID, StatusCancelled, g.cancelledReset)
	return st
}

// scheduleResetLocked arms the automatic return to idle. The reset only
// happens if the same run is still in the same status when the timer fires.
func (g *Generator) scheduleResetLocked(runID string, status Status, delay time.Duration) {
	g.stopTimerLocked()
	if delay <= 0 {
		return
	}
	g.timer = time.AfterFunc(delay, func() {
		g.mu.Lock()
		if g.runID != runID || g.pub.Snapshot().Status != status {
			g.mu.Unlock()
			return
		}
		g.resetLocked()
		g.mu.Unlock()
		g.pub.flush()
	})
}

func (g *Generator) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// update applies mutate only while runID is still the generating run.
func (g *Generator) update(runID string, mutate func(*State)) bool {
	g.mu.Lock()
	if g.runID != runID || g.pub.Snapshot().Status != StatusGenerating {
		g.mu.Unlock()
		return false
	}
	g.pub.apply(mutate)
	g.mu.Unlock()
	g.pub.flush()
	return true
}

func normalizeTask(task Task) Task {
	out := Task{
		BookTitle:         strings.TrimSpace(task.BookTitle),
		VoiceName:         strings.TrimSpace(task.VoiceName),
		VoiceInstructions: strings.TrimSpace(task.VoiceInstructions),
		Chapters:          make([]ChapterTask, len(task.Chapters)),
	}
	for i, ch := range task.Chapters {
		if ch.Index <= 0 {
			ch.Index = i + 1
		}
		ch.Title = strings.TrimSpace(ch.Title)
		out.Chapters[i] = ch
	}
	return out
}
