package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"bookvoice/internal/config"
	"bookvoice/internal/relay"
	"bookvoice/internal/services/speech"
)

const checkTimeout = 30 * time.Second

// CheckSpeech verifies that the speech API is reachable and the key is valid.
// It uses a single attempt (no retries).
func CheckSpeech(ctx context.Context, cfg config.Speech) Result {
	const name = "Speech API"
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing (set speech.api_key or GEMINI_API_KEY)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client := speech.NewClient(speech.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}, speech.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeSpeechError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("model %s reachable", client.Model())}
}

// CheckRedis verifies that the relay's Redis server answers PING.
func CheckRedis(ctx context.Context, cfg config.Redis) Result {
	const name = "Redis relay"
	if cfg.Addr == "" {
		return Result{Name: name, Detail: "address missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	rdb := relay.Dial(cfg)
	defer rdb.Close()
	if err := rdb.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.Addr, err)}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Addr}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeSpeechError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (speech API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (speech API unreachable)"
	}
	var statusErr *speech.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "auth failed (invalid api key)"
		case http.StatusNotFound:
			return "model not found"
		}
	}
	return err.Error()
}
