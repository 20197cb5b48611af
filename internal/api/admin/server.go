// Package admin provides the operator HTTP API: room inspection and control,
// play history and a live event stream.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/19voice/internal/app/notification"
	"github.com/osa030/19voice/internal/app/playback"
	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/domain/outcome"
	"github.com/osa030/19voice/internal/infra/history"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Rooms is the playback surface the API controls.
type Rooms interface {
	Snapshots() []playback.Snapshot
	Snapshot(roomID string) (playback.Snapshot, bool)
	Skip(roomID string) (item.Item, error)
	Close(ctx context.Context, roomID string) error
}

// History lists played items.
type History interface {
	List(ctx context.Context, roomID string, limit int) ([]history.Entry, error)
}

// Notifier registers event stream subscribers.
type Notifier interface {
	Subscribe(stream notification.Stream) string
	Unsubscribe(subscriptionID string)
	SubscriberCount() int
}

// Config represents admin server configuration.
type Config struct {
	Addr         string
	Token        string
	HistoryLimit int
}

// Option configures optional server features.
type Option func(*Server)

// WithHistory enables the history endpoint.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics serves handler at path without authentication.
func WithMetrics(path string, handler http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = handler
	}
}

// Server is the admin HTTP server.
type Server struct {
	rooms       Rooms
	notifier    Notifier
	history     History
	metrics     http.Handler
	metricsPath string
	config      Config
	server      *http.Server
	done        chan struct{}
	closeOnce   sync.Once
}

// NewServer creates an admin server.
func NewServer(rooms Rooms, notifier Notifier, cfg Config, opts ...Option) *Server {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	s := &Server{
		rooms:    rooms,
		notifier: notifier,
		config:   cfg,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with h2c (HTTP/2 cleartext) support.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}

	mux.Handle("GET /api/rooms", s.requireToken(http.HandlerFunc(s.handleListRooms)))
	mux.Handle("GET /api/rooms/{id}", s.requireToken(http.HandlerFunc(s.handleGetRoom)))
	mux.Handle("POST /api/rooms/{id}/skip", s.requireToken(http.HandlerFunc(s.handleSkip)))
	mux.Handle("DELETE /api/rooms/{id}", s.requireToken(http.HandlerFunc(s.handleCloseRoom)))
	mux.Handle("GET /api/rooms/{id}/history", s.requireToken(http.HandlerFunc(s.handleHistory)))
	mux.Handle("GET /api/events", s.requireToken(http.HandlerFunc(s.handleEvents)))

	return h2c.NewHandler(mux, &http2.Server{})
}

// Start listens on the configured address. Serve errors are delivered on the
// returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zlog.Info().Msgf("Starting admin server: addr=%s", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "admin server")
		}
	}()
	return errCh
}

// Shutdown closes event streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requireToken rejects requests without a valid admin token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       len(s.rooms.Snapshots()),
		"subscribers": s.notifier.SubscriberCount(),
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.rooms.Snapshots()})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.rooms.Snapshot(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, outcome.KindNoActiveRoom.String(), "room is not active")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	skipped, err := s.rooms.Skip(roomID)
	if err != nil {
		writeOutcome(w, err)
		return
	}
	zlog.Info().Msgf("Admin skip: room=%s title=%s", roomID, skipped.DisplayTitle())
	writeJSON(w, http.StatusOK, map[string]any{"skipped": skipped})
}

func (s *Server) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if err := s.rooms.Close(r.Context(), roomID); err != nil {
		writeOutcome(w, err)
		return
	}
	zlog.Info().Msgf("Admin closed room: room=%s", roomID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "play history is not configured")
		return
	}

	limit := s.config.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := parseLimit(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		zlog.Error().Msgf("Failed to list history: room=%s err=%v", r.PathValue("id"), err)
		writeError(w, http.StatusInternalServerError, outcome.KindInternal.String(), "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// parseLimit parses a positive history limit no greater than maxHistoryLimit.
func parseLimit(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Newf("limit must be an integer: %q", raw)
	}
	if n < 1 || n > maxHistoryLimit {
		return 0, errors.Newf("limit must be between 1 and %d", maxHistoryLimit)
	}
	return n, nil
}

// writeOutcome maps a playback error to a response.
func writeOutcome(w http.ResponseWriter, err error) {
	kind := outcome.KindOf(err)
	switch kind {
	case outcome.KindNoActiveRoom:
		writeError(w, http.StatusNotFound, kind.String(), "room is not active")
	default:
		zlog.Error().Msgf("Admin request failed: err=%+v", err)
		writeError(w, http.StatusInternalServerError, kind.String(), "internal error")
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Msgf("Failed to write response: err=%v", err)
	}
}
