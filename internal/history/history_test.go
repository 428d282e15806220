package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/history"
	"bookvoice/internal/logging"
	"bookvoice/internal/testsupport"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertKeepsStartTimeAndUpdatesFields(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Upsert(ctx, history.Run{
		RunID:      "run-1",
		BookTitle:  "Test Book",
		Voice:      "Kore",
		Status:     "generating",
		TotalFiles: 3,
		StartedAt:  started,
	}); err != nil {
		t.Fatalf("Upsert insert: %v", err)
	}
	finished := started.Add(time.Minute)
	if err := store.Upsert(ctx, history.Run{
		RunID:          "run-1",
		BookTitle:      "Test Book",
		Voice:          "Kore",
		Status:         "completed",
		TotalFiles:     3,
		CompletedFiles: 3,
		Progress:       100,
		ArchiveName:    "test_book_audiobook.zip",
		StartedAt:      started.Add(time.Hour),
		FinishedAt:     &finished,
	}); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}

	run, err := store.Get(ctx, "run-1")
	if err != nil || run == nil {
		t.Fatalf("Get: %v %v", run, err)
	}
	if run.Status != "completed" || run.CompletedFiles != 3 || run.ArchiveName != "test_book_audiobook.zip" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if !run.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", run.StartedAt, started)
	}
	if run.FinishedAt == nil || !run.FinishedAt.Equal(finished) {
		t.Fatalf("finished_at = %v", run.FinishedAt)
	}
}

func TestGetMissingRunReturnsNil(t *testing.T) {
	store := openStore(t)
	run, err := store.Get(context.Background(), "nope")
	if err != nil || run != nil {
		t.Fatalf("Get missing = %v, %v", run, err)
	}
}

func TestListOrdersNewestFirstAndClear(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.Upsert(ctx, history.Run{RunID: id, BookTitle: id, Status: "completed", StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	runs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "c" || runs[1].RunID != "b" {
		t.Fatalf("List = %+v", runs)
	}

	n, err := store.Clear(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	runs, err = store.List(ctx, 0)
	if err != nil || len(runs) != 0 {
		t.Fatalf("List after clear = %+v, %v", runs, err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Upsert(context.Background(), history.Run{RunID: "x", BookTitle: "x", Status: "idle"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	store.Close()

	if err := history.BumpSchemaVersionForTest(path); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	if _, err := history.Open(path); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("Open error = %v, want ErrSchemaMismatch", err)
	}
}

func TestRecorderPersistsTransitions(t *testing.T) {
	store := openStore(t)
	rec := history.NewRecorder(store, logging.NewNop(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)

	rec.Observe(audiobook.State{Status: audiobook.StatusIdle})
	rec.Observe(audiobook.State{Status: audiobook.StatusGenerating, RunID: "r1", BookTitle: "B", VoiceName: "Kore", TotalFiles: 2})
	rec.Observe(audiobook.State{Status: audiobook.StatusGenerating, RunID: "r1", BookTitle: "B", VoiceName: "Kore", TotalFiles: 2, CompletedFiles: 1, Progress: 50})
	rec.Observe(audiobook.State{Status: audiobook.StatusError, RunID: "r1", BookTitle: "B", VoiceName: "Kore", TotalFiles: 2, CompletedFiles: 1, Progress: 50, Error: "quota"})

	cancel()
	rec.Wait()

	run, err := store.Get(context.Background(), "r1")
	if err != nil || run == nil {
		t.Fatalf("Get: %v %v", run, err)
	}
	if run.Status != "error" || run.ErrorMessage != "quota" || run.CompletedFiles != 1 || run.Voice != "Kore" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Fatal("terminal run should record finished_at")
	}
	runs, _ := store.List(context.Background(), 0)
	if len(runs) != 1 {
		t.Fatalf("idle snapshots must not be recorded, got %d runs", len(runs))
	}
}

func TestRecorderDropsOldestWhenFull(t *testing.T) {
	store := openStore(t)
	rec := history.NewRecorder(store, logging.NewNop(), 2)
	for i := 0; i < 5; i++ {
		rec.Observe(audiobook.State{Status: audiobook.StatusGenerating, RunID: "r", CompletedFiles: i})
	}
	if got := rec.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
}

func TestRecorderClosesRunAbandonedByReset(t *testing.T) {
	store := openStore(t)
	rec := history.NewRecorder(store, logging.NewNop(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)

	rec.Observe(audiobook.State{Status: audiobook.StatusGenerating, RunID: "r1", BookTitle: "B", TotalFiles: 3, CompletedFiles: 1, Progress: 33})
	rec.Observe(audiobook.State{Status: audiobook.StatusIdle})
	rec.Observe(audiobook.State{Status: audiobook.StatusGenerating, RunID: "r2", BookTitle: "C", TotalFiles: 1})
	// r2 never reaches idle; the next run replaces it directly.
	rec.Observe(audiobook.State{Status: audiobook.StatusGenerating, RunID: "r3", BookTitle: "D", TotalFiles: 1})
	rec.Observe(audiobook.State{Status: audiobook.StatusCompleted, RunID: "r3", BookTitle: "D", TotalFiles: 1, CompletedFiles: 1, Progress: 100})
	rec.Observe(audiobook.State{Status: audiobook.StatusIdle})

	cancel()
	rec.Wait()

	for _, id := range []string{"r1", "r2"} {
		run, err := store.Get(context.Background(), id)
		if err != nil || run == nil {
			t.Fatalf("Get %s: %v %v", id, run, err)
		}
		if run.Status != "cancelled" || run.FinishedAt == nil {
			t.Fatalf("run %s should be closed as cancelled, got %+v", id, run)
		}
	}
	r1, _ := store.Get(context.Background(), "r1")
	if r1.BookTitle != "B" || r1.CompletedFiles != 1 || r1.TotalFiles != 3 {
		t.Fatalf("closing a run must keep its progress, got %+v", r1)
	}
	r3, _ := store.Get(context.Background(), "r3")
	if r3 == nil || r3.Status != "completed" {
		t.Fatalf("completed run overwritten: %+v", r3)
	}
}

func TestRecorderResetDuringSynthesis(t *testing.T) {
	store := openStore(t)
	rec := history.NewRecorder(store, logging.NewNop(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)

	entered := make(chan struct{})
	release := make(chan struct{})
	synth := &testsupport.FakeSynthesizer{
		Respond: func(_ context.Context, n int, c testsupport.SynthCall) ([]byte, error) {
			if n == 1 {
				close(entered)
				<-release
			}
			return []byte(c.Text), nil
		},
	}
	gen := audiobook.NewGenerator(synth, audiobook.NewMemorySink(), audiobook.Options{Logger: logging.NewNop()})
	unsubscribe := gen.Subscribe(rec.Observe)
	defer unsubscribe()

	done, err := gen.Start(context.Background(), audiobook.Task{
		BookTitle: "Abandoned",
		Chapters: []audiobook.ChapterTask{
			{Index: 1, Title: "One", Markup: "<p>one</p>"},
			{Index: 2, Title: "Two", Markup: "<p>two</p>"},
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("synthesis never started")
	}
	gen.Reset()
	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end after reset")
	}

	cancel()
	rec.Wait()

	runs, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	if runs[0].Status != "cancelled" || runs[0].FinishedAt == nil {
		t.Fatalf("reset run still open: status=%s finished=%v", runs[0].Status, runs[0].FinishedAt)
	}
}
