package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/logging"
)

const defaultRecorderBuffer = 64

// Recorder persists generator state transitions in the background. Observe
// never blocks; when the buffer is full the oldest pending snapshot is
// dropped.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	queue  chan audiobook.State

	dropped atomic.Int64
	wg      sync.WaitGroup

	// last persisted view per run, owned by the writer goroutine
	lastRunID     string
	lastStatus    audiobook.Status
	lastCompleted int
	startedAt     time.Time
	last          Run
}

const abandonedMessage = "run was reset before it finished"

// NewRecorder builds a Recorder writing into store.
func NewRecorder(store *Store, logger *slog.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	return &Recorder{
		store:  store,
		logger: logging.NewComponentLogger(logger, "history"),
		queue:  make(chan audiobook.State, buffer),
	}
}

// Observe queues a snapshot. It is an audiobook.Listener. Idle snapshots
// are queued too: a reset while a run is active closes that run's row.
func (r *Recorder) Observe(st audiobook.State) {
	for {
		select {
		case r.queue <- st:
			return
		default:
		}
		select {
		case <-r.queue:
			r.dropped.Add(1)
		default:
		}
	}
}

// Dropped reports how many snapshots were discarded because the writer
// fell behind.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Start launches the writer goroutine. It drains the queue until ctx is
// done, then flushes what is left.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case st := <-r.queue:
				r.persist(ctx, st)
			case <-ctx.Done():
				r.drain()
				return
			}
		}
	}()
}

// Wait blocks until the writer goroutine has exited.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case st := <-r.queue:
			r.persist(ctx, st)
		default:
			return
		}
	}
}

func (r *Recorder) persist(ctx context.Context, st audiobook.State) {
	if st.RunID != r.lastRunID {
		r.closeAbandoned(ctx)
	}
	if st.RunID == "" {
		return
	}
	if st.RunID != r.lastRunID {
		r.lastRunID = st.RunID
		r.lastStatus = ""
		r.lastCompleted = -1
		r.startedAt = time.Now().UTC()
	}
	if st.Status == r.lastStatus && st.CompletedFiles == r.lastCompleted {
		return
	}
	r.lastStatus = st.Status
	r.lastCompleted = st.CompletedFiles

	run := Run{
		RunID:          st.RunID,
		BookTitle:      st.BookTitle,
		Voice:          st.VoiceName,
		Status:         string(st.Status),
		TotalFiles:     st.TotalFiles,
		CompletedFiles: st.CompletedFiles,
		Progress:       st.Progress,
		Message:        st.Message,
		ErrorMessage:   st.Error,
		ArchiveName:    st.ArchiveName,
		ArchivePath:    st.ArchivePath,
		StartedAt:      r.startedAt,
	}
	if st.Status.Terminal() {
		finished := time.Now().UTC()
		run.FinishedAt = &finished
	}
	r.last = run
	r.write(ctx, run)
}

// closeAbandoned marks the previous run cancelled when it left the
// generator without reaching a terminal state.
func (r *Recorder) closeAbandoned(ctx context.Context) {
	if r.lastRunID == "" || r.lastStatus.Terminal() {
		return
	}
	run := r.last
	finished := time.Now().UTC()
	run.Status = string(audiobook.StatusCancelled)
	run.Message = abandonedMessage
	run.FinishedAt = &finished
	r.write(ctx, run)

	r.lastRunID = ""
	r.lastStatus = ""
	r.lastCompleted = -1
	r.last = Run{}
}

func (r *Recorder) write(ctx context.Context, run Run) {
	if err := r.store.Upsert(ctx, run); err != nil {
		logging.WarnWithContext(r.logger, "history write failed", "history_write_failed",
			logging.String(logging.FieldRunID, run.RunID),
			logging.String("status", run.Status),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the history database path and permissions"),
			logging.String(logging.FieldImpact, "run ledger is incomplete"),
		)
	}
}
