package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookvoice/internal/api"
	"bookvoice/internal/audiobook"
	"bookvoice/internal/config"
	"bookvoice/internal/logging"
	"bookvoice/internal/services"
	"bookvoice/internal/services/speech"
)

const (
	maxStartBody        = 16 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

type apiServer struct {
	bind         string
	logger       *slog.Logger
	daemon       *Daemon
	defaultVoice string
	outputDir    string

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:         bind,
		logger:       logging.NewComponentLogger(logger, "api-server"),
		daemon:       d,
		defaultVoice: cfg.Speech.DefaultVoice,
		outputDir:    cfg.Paths.OutputDir,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(token, h))
	}
	handle("/api/status", s.handleStatus)
	handle("/api/audiobook", s.handleState)
	handle("/api/audiobook/start", s.handleStart)
	handle("/api/audiobook/cancel", s.handleCancel)
	handle("/api/audiobook/partial", s.handlePartial)
	handle("/api/audiobook/reset", s.handleReset)
	handle("/api/audiobook/archive", s.handleArchive)
	handle("/api/audiobook/events", s.handleEvents)
	handle("/api/audiobook/ws", s.handleWebSocket)
	handle("/api/archives/", s.handleArchiveDownload)
	handle("/api/history", s.handleHistory)
	handle("/api/notifications/test", s.handleTestNotification)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	// Request contexts end with the daemon so streams close on shutdown.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		LockFilePath:  status.LockFilePath,
		HistoryDBPath: status.HistoryDBPath,
		OutputDir:     status.OutputDir,
		RelayEnabled:  status.RelayEnabled,
		Generator:     api.FromState(status.Generator),
		Checks:        api.FromChecks(s.daemon.Checks(r.Context())),
	})
}

func (s *apiServer) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromState(s.daemon.Generator().State()))
}

func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req api.StartRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStartBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeFailure(w, services.Wrap(services.ErrValidation, "api", "start", "invalid request body", err))
		return
	}
	task, err := req.Task(s.defaultVoice)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	requestID := uuid.NewString()
	logger := s.logger.With(logging.String(logging.FieldCorrelationID, requestID))
	if task.VoiceName != "" && !speech.IsKnownVoice(task.VoiceName) {
		logger.Warn("unknown voice requested; sending to the speech API as given",
			logging.String("voice", task.VoiceName),
		)
	}

	ctx := services.WithRequestID(s.daemon.runContext(), requestID)
	if _, err := s.daemon.Generator().Start(ctx, task); err != nil {
		s.writeFailure(w, err)
		return
	}
	logger.Info("generation accepted",
		logging.String("book_title", task.BookTitle),
		logging.Int("chapters", len(task.Chapters)),
	)
	s.writeJSON(w, http.StatusAccepted, api.ActionResponse{
		Accepted: true,
		Message:  "generation started",
		State:    api.FromState(s.daemon.Generator().State()),
	})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	if err := s.daemon.Generator().Cancel(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{
		Accepted: true,
		Message:  "generation cancelled",
		State:    api.FromState(s.daemon.Generator().State()),
	})
}

func (s *apiServer) handlePartial(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	if _, err := s.daemon.Generator().StartPartial(s.daemon.runContext()); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.ActionResponse{
		Accepted: true,
		Message:  "creating partial archive",
		State:    api.FromState(s.daemon.Generator().State()),
	})
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	s.daemon.Generator().Reset()
	s.writeJSON(w, http.StatusOK, api.ActionResponse{
		Accepted: true,
		Message:  "generator reset",
		State:    api.FromState(s.daemon.Generator().State()),
	})
}

func (s *apiServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	gen := s.daemon.Generator()
	s.writeJSON(w, http.StatusOK, api.ArchiveListResponse{
		RunID: gen.State().RunID,
		Files: api.FromArchiveEntries(gen.Archive()),
	})
}

func (s *apiServer) handleArchiveDownload(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/archives/")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".zip") {
		s.writeError(w, http.StatusNotFound, "archive not found", "not_found")
		return
	}
	file, err := os.Open(filepath.Join(s.outputDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, "archive not found", "not_found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error(), "transient")
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		s.writeError(w, http.StatusNotFound, "archive not found", "not_found")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	store := s.daemon.History()
	if store == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled", "not_found")
		return
	}
	limit := defaultHistoryLimit
	if value := strings.TrimSpace(r.URL.Query().Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit", "validation")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}
	runs, err := store.List(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{Runs: api.FromHistoryRuns(runs)})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	if err := s.daemon.TestNotification(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error(), services.Kind(err))
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{
		Accepted: true,
		Message:  "test notification sent",
		State:    api.FromState(s.daemon.Generator().State()),
	})
}

func (s *apiServer) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	w.Header().Set("Allow", method)
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	return false
}

// statusForError maps pipeline and service errors to HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, audiobook.ErrRunActive),
		errors.Is(err, audiobook.ErrNotRunning),
		errors.Is(err, audiobook.ErrNothingToDownload):
		return http.StatusConflict, "conflict"
	case errors.Is(err, audiobook.ErrNoChapters), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, services.Kind(err)
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed", logging.Error(err))
	}
	s.writeError(w, status, err.Error(), kind)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, kind string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}
