package audiobook_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/logging"
	"bookvoice/internal/notifications"
	"bookvoice/internal/testsupport"
)

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	msgs   []string
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if msg, ok := payload["message"].(string); ok {
		s.msgs = append(s.msgs, msg)
	}
	return nil
}

func (s *stubNotifier) count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type stateRecorder struct {
	mu     sync.Mutex
	states []audiobook.State
}

func (r *stateRecorder) listen(st audiobook.State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []audiobook.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audiobook.State(nil), r.states...)
}

// statuses returns the observed statuses with consecutive duplicates folded.
func (r *stateRecorder) statuses() []audiobook.Status {
	var out []audiobook.Status
	for _, st := range r.snapshot() {
		if len(out) == 0 || out[len(out)-1] != st.Status {
			out = append(out, st.Status)
		}
	}
	return out
}

type harness struct {
	gen      *audiobook.Generator
	synth    *testsupport.FakeSynthesizer
	sink     *audiobook.MemorySink
	notifier *stubNotifier
	recorder *stateRecorder
}

func newHarness(t *testing.T, opts audiobook.Options) *harness {
	t.Helper()
	h := &harness{
		synth:    &testsupport.FakeSynthesizer{},
		sink:     audiobook.NewMemorySink(),
		notifier: &stubNotifier{},
		recorder: &stateRecorder{},
	}
	opts.Logger = logging.NewNop()
	opts.Notifier = h.notifier
	h.gen = audiobook.NewGenerator(h.synth, h.sink, opts)
	unsubscribe := h.gen.Subscribe(h.recorder.listen)
	t.Cleanup(func() {
		unsubscribe()
		h.gen.Reset()
	})
	return h
}

// startAsync runs StartDownload in the background and returns a channel
// that receives its result.
func (h *harness) startAsync(ctx context.Context, task audiobook.Task) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- h.gen.StartDownload(ctx, task)
	}()
	return done
}

func chapters(markups ...string) []audiobook.ChapterTask {
	out := make([]audiobook.ChapterTask, len(markups))
	for i, m := range markups {
		out[i] = audiobook.ChapterTask{Index: i + 1, Title: "Part " + string(rune('A'+i)), Markup: m}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for StartDownload to return")
		return nil
	}
}

func zipEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	names, contents := zipContents(t, data)
	out := make(map[string][]byte, len(names))
	for i, name := range names {
		out[name] = contents[i]
	}
	return out
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	names, _ := zipContents(t, data)
	return names
}

func zipContents(t *testing.T, data []byte) ([]string, [][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	var names []string
	var contents [][]byte
	for _, f := range zr.File {
		if f.Method != zip.Deflate {
			t.Fatalf("entry %s method = %d, want deflate", f.Name, f.Method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		names = append(names, f.Name)
		contents = append(contents, body)
	}
	return names, contents
}
