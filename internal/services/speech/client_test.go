package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bookvoice/internal/audio"
	"bookvoice/internal/services"
)

func audioResponse(data string, mime string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{"mimeType": mime, "data": data}},
					},
				},
				"finishReason": "STOP",
			},
		},
	}
}

func TestSynthesizeSendsVoiceAndInstructions(t *testing.T) {
	pcm := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	var captured generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/models/tts-model:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "secret" {
			t.Errorf("unexpected api key header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(audioResponse(pcm, "audio/L16;codec=pcm;rate=24000"))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "secret", BaseURL: server.URL + "/", Model: "tts-model"})
	got, err := client.Synthesize(context.Background(), "  Once upon a time.  ", "puck", "Read warmly")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if got != pcm {
		t.Fatalf("unexpected audio payload %q", got)
	}
	if len(captured.Contents) != 1 || captured.Contents[0].Parts[0].Text != "Read warmly: Once upon a time." {
		t.Fatalf("unexpected prompt: %+v", captured.Contents)
	}
	if captured.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("unexpected modalities: %v", captured.GenerationConfig.ResponseModalities)
	}
	if v := captured.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Puck" {
		t.Fatalf("expected canonical voice Puck, got %q", v)
	}
}

func TestSynthesizeWithoutInstructionsSendsTextOnly(t *testing.T) {
	var prompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		prompt = req.Contents[0].Parts[0].Text
		_ = json.NewEncoder(w).Encode(audioResponse("AAAA", "audio/pcm"))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m"})
	if _, err := client.Synthesize(context.Background(), "Hello.", "", "  "); err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if prompt != "Hello." {
		t.Fatalf("unexpected prompt %q", prompt)
	}
}

func TestSynthesizeStripsInlineWAVHeader(t *testing.T) {
	pcm := []byte{9, 8, 7, 6}
	wav := base64.StdEncoding.EncodeToString(audio.BuildWAV(pcm, 24000, 1, 16))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(audioResponse(wav, "audio/wav"))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m"})
	got, err := client.Synthesize(context.Background(), "text", "Kore", "")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if got != base64.StdEncoding.EncodeToString(pcm) {
		t.Fatalf("expected raw pcm payload, got %q", got)
	}
}

func TestSynthesizeHTTPErrorIsNotRetriedByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 503, "message": "model overloaded"}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m"})
	_, err := client.Synthesize(context.Background(), "text", "Kore", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTPStatusError 503, got %v", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected api message in error, got %q", err.Error())
	}
}

func TestSynthesizeRetriesTransientFailuresWhenEnabled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(audioResponse("AAAA", "audio/pcm"))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m"},
		WithRetryMaxAttempts(3),
		WithRetryBackoff(time.Millisecond, 5*time.Second),
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)
	if _, err := client.Synthesize(context.Background(), "text", "Kore", ""); err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(slept) != 2 || slept[0] != 2*time.Second {
		t.Fatalf("expected Retry-After delays, got %v", slept)
	}
}

func TestSynthesizeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"voice not found"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m"}, WithRetryMaxAttempts(4), WithSleeper(func(time.Duration) {}))
	if _, err := client.Synthesize(context.Background(), "text", "Nobody", ""); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retries for 400, got %d calls", calls.Load())
	}
}

func TestSynthesizeRejectsEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]},"finishReason":"OTHER"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m"})
	_, err := client.Synthesize(context.Background(), "text", "Kore", "")
	if err == nil || !strings.Contains(err.Error(), "no audio") {
		t.Fatalf("expected no audio error, got %v", err)
	}
}

func TestSynthesizeValidatesInput(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})
	if _, err := client.Synthesize(context.Background(), "   ", "Kore", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	noKey := NewClient(Config{})
	if _, err := noKey.Synthesize(context.Background(), "text", "Kore", ""); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/models/m" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "good" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"name":"models/m"}`))
	}))
	defer server.Close()

	if err := NewClient(Config{APIKey: "good", BaseURL: server.URL, Model: "m"}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	err := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "m"}).HealthCheck(context.Background())
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("expected health check failure, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("unexpected %v %v", d, ok)
	}
	if _, ok := parseRetryAfter("-1"); ok {
		t.Fatal("negative values must be rejected")
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("garbage must be rejected")
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	c := NewClient(Config{}, WithRetryBackoff(time.Second, 5*time.Second))
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := c.backoffDelay(i + 1); got != w {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w)
		}
	}
}

func TestVoices(t *testing.T) {
	if !IsKnownVoice("zephyr") || IsKnownVoice("robot") {
		t.Fatal("unexpected voice recognition")
	}
	voices := Voices()
	voices[0] = "mutated"
	if Voices()[0] != "Kore" {
		t.Fatal("Voices must return a copy")
	}
}
