// Package apiclient talks to the bookvoice daemon's HTTP API on behalf of the
// CLI remote-control commands.
package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bookvoice/internal/api"
)

// ErrAPIUnavailable is returned when no daemon address is configured.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Error is a non-2xx response from the daemon.
type Error struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.StatusCode, e.Message)
}

// Client issues requests against one daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New builds a client for the daemon listening on bind ("host:port" or a
// full URL). An empty bind yields a nil client whose methods return
// ErrAPIUnavailable.
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout - Watch blocks waiting for events until the caller cancels.
		http: &http.Client{},
	}, nil
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// State fetches the current generation snapshot.
func (c *Client) State(ctx context.Context) (api.State, error) {
	var out api.State
	err := c.do(ctx, http.MethodGet, "/api/audiobook", nil, nil, &out)
	return out, err
}

// Start submits a new generation run.
func (c *Client) Start(ctx context.Context, req api.StartRequest) (api.ActionResponse, error) {
	var out api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/audiobook/start", nil, req, &out)
	return out, err
}

// Cancel stops the active run.
func (c *Client) Cancel(ctx context.Context) (api.ActionResponse, error) {
	return c.action(ctx, "cancel")
}

// Partial asks the daemon to archive whatever the last run produced.
func (c *Client) Partial(ctx context.Context) (api.ActionResponse, error) {
	return c.action(ctx, "partial")
}

// Reset returns the generator to idle.
func (c *Client) Reset(ctx context.Context) (api.ActionResponse, error) {
	return c.action(ctx, "reset")
}

// TestNotification asks the daemon to publish a test notification.
func (c *Client) TestNotification(ctx context.Context) (api.ActionResponse, error) {
	var out api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil, &out)
	return out, err
}

func (c *Client) action(ctx context.Context, name string) (api.ActionResponse, error) {
	var out api.ActionResponse
	err := c.do(ctx, http.MethodPost, "/api/audiobook/"+name, nil, nil, &out)
	return out, err
}

// Archive lists the chapter files accumulated for the current run.
func (c *Client) Archive(ctx context.Context) (api.ArchiveListResponse, error) {
	var out api.ArchiveListResponse
	err := c.do(ctx, http.MethodGet, "/api/audiobook/archive", nil, nil, &out)
	return out, err
}

// History fetches up to limit ledger entries, newest first.
func (c *Client) History(ctx context.Context, limit int) (api.HistoryResponse, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var out api.HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/history", values, nil, &out)
	return out, err
}

// Download streams a delivered archive into w.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/archives/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// Watch follows the server-sent event stream and calls fn for each snapshot
// until fn returns false, the stream ends, or ctx is cancelled.
func (c *Client) Watch(ctx context.Context, fn func(api.State) bool) error {
	resp, err := c.send(ctx, http.MethodGet, "/api/audiobook/events", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var st api.State
			if err := json.Unmarshal(data.Bytes(), &st); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if !fn(st) {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	if c == nil {
		return nil, ErrAPIUnavailable
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &Error{StatusCode: resp.StatusCode}
		var payload api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return resp, nil
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

// IsConflict reports whether the daemon rejected a request because of the
// current generator state.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}
