// Package server exposes a RateLimiter over HTTP: status, acquisition,
// backoff and hard limit administration, Prometheus metrics and a live
// event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
)

const (
	defaultAcquireTimeout = 30 * time.Second
	maxAcquireTimeout     = 10 * time.Minute
)

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	limiter    *limiter.RateLimiter
	clock      clock.Clock
	hub        *Hub
	metrics    http.Handler
	logger     *slog.Logger
	router     *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithHub serves the hub's event stream at /ws.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithTimeouts sets the HTTP server read and write timeouts. Blocking
// acquisitions are bounded by the write timeout.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.httpServer.ReadTimeout = read
		s.httpServer.WriteTimeout = write
	}
}

// New creates a server for lim listening on addr.
func New(addr string, lim *limiter.RateLimiter, opts ...Option) *Server {
	s := &Server{
		limiter:    lim,
		logger:     slog.New(slog.DiscardHandler),
		router:     mux.NewRouter(),
		httpServer: &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrReal(s.clock)

	s.routes()
	s.httpServer.Handler = s.router
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)

	// Routes stay on the root router: a method mismatch inside a mux
	// subrouter is reported as 404 instead of 405.
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/acquire", s.handleAcquire).Methods(http.MethodPost)
	s.router.HandleFunc("/api/backoff", s.handleBackoff).Methods(http.MethodPost)
	s.router.HandleFunc("/api/limits", s.handleListLimits).Methods(http.MethodGet)
	s.router.HandleFunc("/api/limits/{name}", s.handlePutLimit).Methods(http.MethodPut)
	s.router.HandleFunc("/api/limits/{name}", s.handleDeleteLimit).Methods(http.MethodDelete)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.HandleWebSocket)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "pacer",
		"status":  "running",
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.limiter.Status())
}

type acquireResponse struct {
	Granted           bool   `json:"granted"`
	Tokens            int    `json:"tokens"`
	Available         int    `json:"available"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	Error             string `json:"error,omitempty"`
}

type hardLimitResponse struct {
	Error          string       `json:"error"`
	Limit          string       `json:"limit"`
	Period         quota.Period `json:"period"`
	Current        int          `json:"current"`
	Max            int          `json:"max"`
	ResetInSeconds int64        `json:"reset_in_seconds"`
}

// handleAcquire takes tokens. With wait=true it blocks up to timeout;
// otherwise it answers immediately.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tokens := 1
	if v := q.Get("tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "tokens must be an integer")
			return
		}
		tokens = n
	}

	wait := false
	if v := q.Get("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "wait must be true or false")
			return
		}
		wait = b
	}

	if !wait {
		ok, err := s.limiter.TryAcquire(tokens)
		if err != nil {
			s.acquireError(w, err)
			return
		}
		if !ok {
			retry := retryAfterSeconds(s.limiter.TimeUntilAvailable(tokens))
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			writeJSON(w, http.StatusTooManyRequests, acquireResponse{
				Tokens:            tokens,
				RetryAfterSeconds: retry,
				Error:             "tokens exhausted",
			})
			return
		}
		s.granted(w, tokens)
		return
	}

	timeout := defaultAcquireTimeout
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxAcquireTimeout {
			writeError(w, http.StatusBadRequest, "timeout must be a positive duration up to 10m")
			return
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if err := s.limiter.Acquire(ctx, tokens); err != nil {
		s.acquireError(w, err)
		return
	}
	s.granted(w, tokens)
}

func (s *Server) granted(w http.ResponseWriter, tokens int) {
	writeJSON(w, http.StatusOK, acquireResponse{
		Granted:   true,
		Tokens:    tokens,
		Available: s.limiter.AvailableTokens(),
	})
}

func (s *Server) acquireError(w http.ResponseWriter, err error) {
	if e, ok := quota.AsExceeded(err); ok {
		retry := retryAfterSeconds(e.ResetIn)
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
		writeJSON(w, http.StatusTooManyRequests, hardLimitResponse{
			Error:          "hard limit exceeded",
			Limit:          e.Name,
			Period:         e.Period,
			Current:        e.Current,
			Max:            e.Max,
			ResetInSeconds: retry,
		})
		return
	}

	switch {
	case errors.Is(err, limiter.ErrInvalidTokens), errors.Is(err, limiter.ErrExceedsCapacity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "timed out waiting for tokens")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody is left to read a response.
	default:
		s.logger.Error("acquire failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleBackoff applies a Retry-After value taken from the Retry-After
// header or the retry_after query parameter.
func (s *Server) handleBackoff(w http.ResponseWriter, r *http.Request) {
	value := r.Header.Get("Retry-After")
	if value == "" {
		value = r.URL.Query().Get("retry_after")
	}
	if strings.TrimSpace(value) == "" {
		writeError(w, http.StatusBadRequest, "Retry-After header or retry_after parameter is required")
		return
	}

	d := s.limiter.BackoffRetryAfter(value)
	snap := s.limiter.Status().Bucket
	writeJSON(w, http.StatusOK, map[string]any{
		"backoff_seconds": d.Seconds(),
		"paused_until":    snap.PausedUntil,
		"state":           snap.State,
	})
}

func (s *Server) handleListLimits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sortedLimits(s.limiter.HardLimitStatus()))
}

type putLimitRequest struct {
	MaxCalls int          `json:"max_calls"`
	Period   quota.Period `json:"period"`
}

func (s *Server) handlePutLimit(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req putLimitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	if err := s.limiter.AddHardLimit(name, req.MaxCalls, req.Period); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.limiter.HardLimitStatus()[name])
}

func (s *Server) handleDeleteLimit(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.limiter.RemoveHardLimit(name) {
		writeError(w, http.StatusNotFound, "no hard limit named "+strconv.Quote(name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener serves on ln. Useful for tests that need an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("pacer server listening", "addr", ln.Addr().String())
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func sortedLimits(m map[string]quota.Status) []quota.Status {
	out := make([]quota.Status, 0, len(m))
	for _, st := range m {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b quota.Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// retryAfterSeconds rounds d up to whole seconds, as Retry-After requires.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
