// Package relay re-broadcasts generator state snapshots over Redis pub/sub so
// other processes can follow a run without polling the HTTP API.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/config"
	"bookvoice/internal/logging"
)

const defaultBuffer = 128

// Client is the subset of *redis.Client the relay publishes through.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Message is the JSON envelope published for every snapshot.
type Message struct {
	Type   string          `json:"type"`
	SentAt time.Time       `json:"sentAt"`
	State  audiobook.State `json:"state"`
}

// Relay publishes snapshots to {prefix}:progress and {prefix}:progress:{runID}.
type Relay struct {
	client Client
	redis  *redis.Client
	prefix string
	logger *slog.Logger
	queue  chan audiobook.State

	dropped atomic.Int64
	failing atomic.Bool
	wg      sync.WaitGroup
}

// New connects a Relay to the configured Redis server.
func New(cfg config.Redis, logger *slog.Logger) *Relay {
	rdb := Dial(cfg)
	r := NewWithClient(rdb, cfg.ChannelPrefix, logger, defaultBuffer)
	r.redis = rdb
	return r
}

// NewWithClient builds a Relay over an existing client.
func NewWithClient(client Client, prefix string, logger *slog.Logger, buffer int) *Relay {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "bookvoice"
	}
	return &Relay{
		client: client,
		prefix: prefix,
		logger: logging.NewComponentLogger(logger, "relay"),
		queue:  make(chan audiobook.State, buffer),
	}
}

// ProgressChannel is the channel carrying every snapshot.
func ProgressChannel(prefix string) string {
	return prefix + ":progress"
}

// RunChannel is the channel carrying snapshots of a single run.
func RunChannel(prefix, runID string) string {
	return prefix + ":progress:" + runID
}

// Encode builds the JSON payload for st.
func Encode(st audiobook.State, now time.Time) ([]byte, error) {
	return json.Marshal(Message{Type: "state", SentAt: now.UTC(), State: st})
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode relay message: %w", err)
	}
	if msg.Type != "state" {
		return Message{}, fmt.Errorf("decode relay message: unexpected type %q", msg.Type)
	}
	return msg, nil
}

// Observe queues a snapshot for publishing. It never blocks; when the buffer
// is full the oldest pending snapshot is dropped.
func (r *Relay) Observe(st audiobook.State) {
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

// Dropped reports snapshots discarded because publishing fell behind.
func (r *Relay) Dropped() int64 {
	return r.dropped.Load()
}

// Start launches the publishing goroutine; it exits when ctx is done.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case st := <-r.queue:
				r.publish(ctx, st)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the publishing goroutine exits.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Ping checks connectivity when the relay owns a Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.Ping(ctx).Err()
}

// Close releases the Redis connection owned by the relay.
func (r *Relay) Close() error {
	if r.redis == nil {
		return nil
	}
	return r.redis.Close()
}

func (r *Relay) publish(ctx context.Context, st audiobook.State) {
	payload, err := Encode(st, time.Now())
	if err != nil {
		r.logger.Debug("encode relay payload failed", logging.Error(err))
		return
	}
	channels := []string{ProgressChannel(r.prefix)}
	if st.RunID != "" {
		channels = append(channels, RunChannel(r.prefix, st.RunID))
	}
	var errs []error
	for _, channel := range channels {
		if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		if ctx.Err() != nil {
			return
		}
		// Warn once per outage; recovery is logged at info.
		if r.failing.CompareAndSwap(false, true) {
			logging.WarnWithContext(r.logger, "redis publish failed", "relay_publish_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check redis.addr and that Redis is reachable"),
				logging.String(logging.FieldImpact, "progress is not mirrored to Redis subscribers"),
			)
		}
		return
	}
	if r.failing.CompareAndSwap(true, false) {
		r.logger.Info("redis publish recovered")
	}
}

// Follow subscribes to the progress channel (or a single run's channel when
// runID is set) and calls fn for every decoded snapshot until ctx is done.
func Follow(ctx context.Context, rdb *redis.Client, prefix, runID string, fn func(audiobook.State)) error {
	channel := ProgressChannel(prefix)
	if runID != "" {
		channel = RunChannel(prefix, runID)
	}
	pubsub := rdb.Subscribe(ctx, channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			decoded, err := Decode([]byte(msg.Payload))
			if err != nil {
				continue
			}
			fn(decoded.State)
		}
	}
}

// Dial opens a Redis client for Follow using cfg.
func Dial(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
