package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bookvoice/internal/config"
	"bookvoice/internal/logging"
)

const userAgent = "bookvoice/0.1.0"

// Event identifies the kind of notification being published.
type Event string

const (
	EventRunStarted   Event = "run_started"
	EventRunCompleted Event = "run_completed"
	EventRunFailed    Event = "run_failed"
	EventRunCancelled Event = "run_cancelled"
	EventNotice       Event = "notice"
	EventTest         Event = "test"
)

// Payload carries event-specific fields. Well-known keys: bookTitle, message,
// archive, files, chapters, error.
type Payload map[string]any

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service that always logs and, when a
// topic is configured, also pushes to ntfy.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	logSvc := NewLogService(logger)
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return logSvc
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ntfy := &ntfyService{
		endpoint: strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRunStarted:   cfg.Notifications.RunStarted,
			EventRunCompleted: cfg.Notifications.RunCompleted,
			EventRunFailed:    cfg.Notifications.RunFailed,
			EventRunCancelled: cfg.Notifications.RunCancelled,
			EventNotice:       cfg.Notifications.Notices,
			EventTest:         true,
		},
	}
	return multiService{logSvc, ntfy}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(event Event, payload Payload) (message, bool) {
	book := payload.str("bookTitle")
	if book == "" {
		book = "audiobook"
	}
	switch event {
	case EventRunStarted:
		return message{
			title: "bookvoice - Generation Started",
			body:  fmt.Sprintf("🎙️ Generating %s (%s chapters)", book, payload.str("chapters")),
			tags:  []string{"bookvoice", "run", "started"},
		}, true
	case EventRunCompleted:
		body := fmt.Sprintf("✅ Audiobook ready: %s", book)
		if archive := payload.str("archive"); archive != "" {
			body = fmt.Sprintf("%s\nFile: %s", body, archive)
		}
		return message{
			title:    "bookvoice - Complete",
			body:     body,
			tags:     []string{"bookvoice", "run", "completed"},
			priority: "high",
		}, true
	case EventRunFailed:
		errText := payload.str("error")
		if errText == "" {
			errText = "unknown"
		}
		return message{
			title:    "bookvoice - Error",
			body:     fmt.Sprintf("❌ Generation failed for %s: %s", book, errText),
			tags:     []string{"bookvoice", "error", "alert"},
			priority: "high",
		}, true
	case EventRunCancelled:
		return message{
			title: "bookvoice - Cancelled",
			body:  fmt.Sprintf("Generation cancelled for %s (%s files kept)", book, payload.str("files")),
			tags:  []string{"bookvoice", "run", "cancelled"},
		}, true
	case EventNotice:
		return message{
			title: "bookvoice",
			body:  payload.str("message"),
			tags:  []string{"bookvoice", "notice"},
		}, true
	case EventTest:
		return message{
			title:    "bookvoice - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"bookvoice", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || n.client == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok || strings.TrimSpace(msg.body) == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type logService struct {
	logger *slog.Logger
}

// NewLogService returns a Service that only writes events to logger.
func NewLogService(logger *slog.Logger) Service {
	return logService{logger: logging.NewComponentLogger(logger, "notify")}
}

func (s logService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	logger := logging.WithContext(ctx, s.logger)
	attrs := []logging.Attr{logging.String(logging.FieldEventType, string(event))}
	switch event {
	case EventRunFailed:
		logging.WarnWithContext(logger, msg.body, string(event), append(attrs,
			logging.String(logging.FieldErrorHint, "inspect the error, then download partial audio or reset"),
			logging.String(logging.FieldImpact, "remaining chapters were not generated"),
		)...)
	case EventNotice:
		logger.Warn(msg.body, logging.Args(attrs...)...)
	default:
		logger.Info(msg.body, logging.Args(attrs...)...)
	}
	return nil
}

type multiService []Service

func (m multiService) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, svc := range m {
		if err := svc.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
