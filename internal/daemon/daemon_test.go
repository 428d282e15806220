package daemon_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"bookvoice/internal/api"
	"bookvoice/internal/apiclient"
	"bookvoice/internal/daemon"
	"bookvoice/internal/relay"
	"bookvoice/internal/testsupport"
)

type relayStub struct {
	mu       sync.Mutex
	channels []string
}

func (r *relayStub) Publish(_ context.Context, channel string, _ any) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	return redis.NewIntResult(1, nil)
}

func (r *relayStub) published(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c == channel {
			return true
		}
	}
	return false
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, nil, daemon.WithSynthesizer(&testsupport.FakeSynthesizer{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if d.Addr() == "" {
		t.Fatal("expected api listener address")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start on the same daemon to fail")
	}

	other, err := daemon.New(cfg, nil, daemon.WithSynthesizer(&testsupport.FakeSynthesizer{}))
	if err != nil {
		t.Fatalf("daemon.New (second): %v", err)
	}
	defer other.Close()
	if err := other.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to report stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("lock should be free after Stop: %v", err)
	}
}

func TestDaemonServesGenerationOverAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := &relayStub{}
	d, err := daemon.New(cfg, nil,
		daemon.WithSynthesizer(&testsupport.FakeSynthesizer{}),
		daemon.WithRelayClient(stub),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client, err := apiclient.New(d.Addr(), "")
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}

	watchCtx, stopWatch := context.WithTimeout(ctx, 5*time.Second)
	defer stopWatch()
	ready := make(chan struct{})
	final := make(chan api.State, 1)
	go func() {
		var once sync.Once
		_ = client.Watch(watchCtx, func(st api.State) bool {
			once.Do(func() { close(ready) })
			if st.Status == "completed" {
				final <- st
				return false
			}
			return true
		})
	}()
	select {
	case <-ready:
	case <-time.After(3 * time.Second):
		t.Fatal("event stream did not deliver the initial snapshot")
	}

	ack, err := client.Start(ctx, api.StartRequest{
		BookTitle: "Short Story",
		Chapters:  []api.ChapterRequest{{Title: "Only", Markup: "<p>The end.</p>"}},
	})
	if err != nil {
		t.Fatalf("Start request: %v", err)
	}
	runID := ack.State.RunID
	if runID == "" {
		t.Fatalf("expected run id in ack: %+v", ack)
	}

	var st api.State
	select {
	case st = <-final:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete")
	}
	if st.ArchiveName != "short_story_audiobook.zip" {
		t.Fatalf("final state = %+v", st)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := client.History(ctx, 10)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(resp.Runs) == 1 && resp.Runs[0].Status == "completed" {
			if resp.Runs[0].RunID != runID || resp.Runs[0].FinishedAt == "" {
				t.Fatalf("unexpected ledger entry: %+v", resp.Runs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history never recorded completion: %+v", resp.Runs)
		}
		time.Sleep(20 * time.Millisecond)
	}

	channel := relay.RunChannel("bookvoice", runID)
	for !stub.published(channel) {
		if time.Now().After(deadline) {
			t.Fatalf("relay did not publish to %s", channel)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
