package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/logging"
	"bookvoice/internal/relay"
)

type published struct {
	channel string
	payload []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeClient) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	payload, _ := message.([]byte)
	f.msgs = append(f.msgs, published{channel: channel, payload: payload})
	return redis.NewIntResult(1, nil)
}

func (f *fakeClient) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestChannelNames(t *testing.T) {
	if got := relay.ProgressChannel("bookvoice"); got != "bookvoice:progress" {
		t.Fatalf("ProgressChannel = %q", got)
	}
	if got := relay.RunChannel("bookvoice", "abc"); got != "bookvoice:progress:abc" {
		t.Fatalf("RunChannel = %q", got)
	}
}

func TestEncodeDecodeEnvelope(t *testing.T) {
	st := audiobook.State{Status: audiobook.StatusGenerating, Progress: 50, RunID: "r1", BookTitle: "B"}
	payload, err := relay.Encode(st, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := relay.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.State != st {
		t.Fatalf("decoded state = %+v", msg.State)
	}
	if _, err := relay.Decode([]byte(`{"type":"other"}`)); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestRelayPublishesToGlobalAndRunChannels(t *testing.T) {
	client := &fakeClient{}
	r := relay.NewWithClient(client, "bv:", logging.NewNop(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	r.Observe(audiobook.State{Status: audiobook.StatusIdle})
	r.Observe(audiobook.State{Status: audiobook.StatusGenerating, RunID: "r1"})

	deadline := time.Now().Add(2 * time.Second)
	for len(client.snapshot()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, got %d publishes", len(client.snapshot()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	r.Wait()

	msgs := client.snapshot()
	want := []string{"bv:progress", "bv:progress", "bv:progress:r1"}
	for i, ch := range want {
		if msgs[i].channel != ch {
			t.Fatalf("publish %d channel = %q, want %q", i, msgs[i].channel, ch)
		}
	}
	decoded, err := relay.Decode(msgs[2].payload)
	if err != nil || decoded.State.RunID != "r1" {
		t.Fatalf("run payload = %+v, %v", decoded, err)
	}
}

func TestRelayPublishFailureDoesNotBlock(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	r := relay.NewWithClient(client, "", logging.NewNop(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		r.Wait()
	}()
	r.Start(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Observe(audiobook.State{Status: audiobook.StatusGenerating, RunID: "r", CompletedFiles: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked on a failing relay")
	}
}

func TestObserveDropsOldestWithoutConsumer(t *testing.T) {
	r := relay.NewWithClient(&fakeClient{}, "bv", logging.NewNop(), 2)
	for i := 0; i < 4; i++ {
		r.Observe(audiobook.State{CompletedFiles: i})
	}
	if got := r.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}
