package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bookvoice/internal/audio"
	"bookvoice/internal/logging"
	"bookvoice/internal/services"
)

const (
	defaultBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel          = "gemini-2.5-flash-preview-tts"
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 1
)

// Config captures the runtime settings required to talk to the speech API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client wraps the generateContent endpoint for text-to-speech models.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the attempt count (defaults to 1, no retry).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient constructs a speech client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	if client.cfg.Model == "" {
		client.cfg.Model = defaultModel
	}
	client.logger = logging.NewComponentLogger(client.logger, "speech")
	return client
}

// HTTPStatusError reports a non-2xx response from the speech API.
type HTTPStatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Synthesize converts text into base64-encoded raw PCM using the given
// prebuilt voice. Non-empty instructions are prefixed to the text as a style
// directive ("{instructions}: {text}").
func (c *Client) Synthesize(ctx context.Context, text, voice, instructions string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", services.Wrap(services.ErrValidation, "speech", "synthesize", "text required", nil)
	}
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "speech", "synthesize", "api key required", nil)
	}
	voice = CanonicalVoice(voice)
	if voice == "" {
		voice = DefaultVoice
	}

	payload := newGenerateRequest(text, voice, instructions)
	started := time.Now()
	result, err := c.generateWithRetry(ctx, payload)
	if err != nil {
		return "", err
	}
	c.logger.Debug("speech synthesized",
		logging.String("voice", voice),
		logging.Int("text_chars", len(text)),
		logging.Int("audio_base64_chars", len(result)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// HealthCheck verifies that the API key is accepted and the model exists.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "speech", "health", "api key required", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelURL(""), nil)
	if err != nil {
		return fmt.Errorf("speech health: new request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "speech", "health", "request failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrExternalTool, "speech", "health", "", newStatusError(resp, body))
	}
	return nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

func (c *Client) modelURL(method string) string {
	u := c.cfg.BaseURL + "/models/" + c.cfg.Model
	if method != "" {
		u += ":" + method
	}
	return u
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func newGenerateRequest(text, voice, instructions string) generateRequest {
	prompt := text
	if instr := strings.TrimSpace(instructions); instr != "" {
		prompt = instr + ": " + text
	}
	return generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}
}

func (c *Client) generateWithRetry(ctx context.Context, payload generateRequest) (string, error) {
	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		data, err := c.generateOnce(ctx, payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			break
		}
		logging.WarnWithContext(c.logger, "speech request failed; retrying", "speech_retry",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldImpact, "chapter synthesis delayed"),
		)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return "", services.Wrap(services.ErrTimeout, "speech", "synthesize", "request aborted", lastErr)
	}
	return "", services.Wrap(services.ErrExternalTool, "speech", "synthesize", "", lastErr)
}

func (c *Client) generateOnce(ctx context.Context, payload generateRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL("generateContent"), bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", newStatusError(resp, body)
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("api error: %s", strings.TrimSpace(decoded.Error.Message))
	}
	return extractAudio(decoded)
}

func extractAudio(resp generateResponse) (string, error) {
	var finishReason string
	for _, cand := range resp.Candidates {
		if finishReason == "" {
			finishReason = cand.FinishReason
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || strings.TrimSpace(p.InlineData.Data) == "" {
				continue
			}
			if strings.Contains(strings.ToLower(p.InlineData.MimeType), "wav") {
				return stripWAVHeader(p.InlineData.Data)
			}
			return p.InlineData.Data, nil
		}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	return "", fmt.Errorf("no audio in response (finish_reason=%q)", finishReason)
}

// stripWAVHeader converts a base64 WAV payload into base64 raw PCM so the
// pipeline's WAV encoding does not nest headers.
func stripWAVHeader(encoded string) (string, error) {
	raw, err := audio.DecodeBase64(encoded)
	if err != nil {
		return "", err
	}
	if _, err := audio.ParseWAVHeader(raw); err != nil {
		return "", fmt.Errorf("inline wav: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[audio.HeaderSize:]), nil
}

func newStatusError(resp *http.Response, body []byte) *HTTPStatusError {
	retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
	message := strings.TrimSpace(string(body))
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &HTTPStatusError{StatusCode: resp.StatusCode, Message: message, RetryAfter: retryAfter}
}
