package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"bookvoice/internal/api"
	"bookvoice/internal/audiobook"
	"bookvoice/internal/logging"
)

const (
	feedBuffer     = 64
	sseKeepAlive   = 15 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Access to the WebSocket is gated by the bearer token, not the origin.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stateFeed buffers generator snapshots for one streaming client. When the
// client falls behind the oldest snapshot is dropped; the newest state
// always gets through.
type stateFeed struct {
	ch          chan audiobook.State
	unsubscribe func()
}

func subscribeFeed(gen *audiobook.Generator) *stateFeed {
	f := &stateFeed{ch: make(chan audiobook.State, feedBuffer)}
	f.unsubscribe = gen.Subscribe(f.push)
	return f
}

func (f *stateFeed) push(st audiobook.State) {
	for {
		select {
		case f.ch <- st:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

func (f *stateFeed) close() {
	f.unsubscribe()
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	rc := http.NewResponseController(w)
	// Streams outlive the server's read and write timeouts.
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	feed := subscribeFeed(s.daemon.Generator())
	defer feed.close()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case st := <-feed.ch:
			data, err := json.Marshal(api.FromState(st))
			if err != nil {
				s.logger.Error("failed to encode state event", logging.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *apiServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()
	_ = conn.NetConn().SetDeadline(time.Time{})

	feed := subscribeFeed(s.daemon.Generator())
	defer feed.close()

	// The read loop only exists to observe close frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	// Hijacked connections are not closed by server shutdown.
	done := s.daemon.runContext().Done()

	for {
		select {
		case st := <-feed.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(api.FromState(st)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}
}
