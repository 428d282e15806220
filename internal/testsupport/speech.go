package testsupport

import (
	"context"
	"encoding/base64"
	"sync"
)

// SynthCall records one request made to a FakeSynthesizer.
type SynthCall struct {
	Text         string
	Voice        string
	Instructions string
}

// FakeSynthesizer implements audiobook.Synthesizer in memory. By default it
// answers every call with the text bytes as PCM.
type FakeSynthesizer struct {
	// Respond, when set, produces the raw PCM for the n-th (1-based) call.
	Respond func(ctx context.Context, n int, call SynthCall) ([]byte, error)

	mu    sync.Mutex
	calls []SynthCall
}

// Synthesize records the call and returns base64-encoded PCM.
func (f *FakeSynthesizer) Synthesize(ctx context.Context, text, voice, instructions string) (string, error) {
	call := SynthCall{Text: text, Voice: voice, Instructions: instructions}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	n := len(f.calls)
	respond := f.Respond
	f.mu.Unlock()

	pcm := []byte(text)
	if respond != nil {
		var err error
		pcm, err = respond(ctx, n, call)
		if err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(pcm), nil
}

// Calls returns a copy of the recorded calls.
func (f *FakeSynthesizer) Calls() []SynthCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SynthCall(nil), f.calls...)
}

// FailOn returns a Respond func that fails the given call number with err.
func FailOn(call int, err error) func(context.Context, int, SynthCall) ([]byte, error) {
	return func(_ context.Context, n int, c SynthCall) ([]byte, error) {
		if n == call {
			return nil, err
		}
		return []byte(c.Text), nil
	}
}

// FailingSink implements audiobook.ArchiveSink and always returns Err.
type FailingSink struct {
	Err error
}

// Deliver returns the configured error.
func (s FailingSink) Deliver(context.Context, string, []byte) (string, error) {
	return "", s.Err
}
