// Package server exposes a limiter over HTTP for the serve command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/ratelimit/limiter"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// Route names used as metric labels.
const (
	routeCheck   = "check"
	routeStatus  = "status"
	routeMetrics = "key_metrics"
	routeReset   = "reset"
	routeEvents  = "events"
	routeHealth  = "healthz"
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address (defaults to ":8080").
	Addr string

	// Rules are the named rule sets selectable with ?rules=<name>.
	Rules map[string][]model.Rule

	// Gatherer backs /metrics (defaults to prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server is the goquota HTTP server.
type Server struct {
	httpServer *http.Server
	limiter    *limiter.Limiter
	rules      map[string][]model.Rule
	hub        *Hub
	metrics    *metrics.Registry
	log        *slog.Logger
	mux        *http.ServeMux
	gatherer   prometheus.Gatherer
}

// New creates a new server in front of l.
func New(l *limiter.Limiter, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		limiter:  l,
		rules:    opts.Rules,
		hub:      NewHub(opts.Logger),
		metrics:  l.Metrics(),
		log:      opts.Logger,
		mux:      http.NewServeMux(),
		gatherer: opts.Gatherer,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /v1/limits/{key}/check", s.instrument(routeCheck, s.handleCheck))
	s.mux.Handle("GET /v1/limits/{key}/status", s.instrument(routeStatus, s.handleStatus))
	s.mux.Handle("GET /v1/limits/{key}/metrics", s.instrument(routeMetrics, s.handleKeyMetrics))
	s.mux.Handle("DELETE /v1/limits/{key}", s.instrument(routeReset, s.handleReset))
	s.mux.HandleFunc("GET /v1/events", s.hub.HandleWebSocket)
	s.mux.Handle("GET /healthz", s.instrument(routeHealth, s.handleHealth))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the decision feed.
func (s *Server) Hub() *Hub {
	return s.hub
}

// handleCheck evaluates one limit. With ?rules=<name> the named rule set is
// evaluated instead of a single algorithm.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) int {
	key := r.PathValue("key")
	q := r.URL.Query()

	var (
		res model.Result
		err error
	)
	if set := q.Get(qRules); set != "" {
		rules, ok := s.rules[set]
		if !ok {
			return writeError(w, http.StatusNotFound, "unknown rule set "+strconv.Quote(set))
		}
		n, perr := requestCount(q)
		if perr != nil {
			return s.writeLimiterError(w, perr)
		}
		res, err = s.limiter.RuleBasedLimit(r.Context(), key, rules, n)
	} else {
		p, n, perr := parseParams(q)
		if perr != nil {
			return s.writeLimiterError(w, perr)
		}
		res, err = s.limiter.Evaluate(r.Context(), key, p, n)
	}
	if err != nil {
		return s.writeLimiterError(w, err)
	}

	s.hub.Broadcast(NewEvent(time.Now(), res))

	h := w.Header()
	if !res.IsUnlimited() {
		h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.RemainingQuota, 10))
		if !res.ResetTime.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
		}
	}
	status := http.StatusOK
	if !res.Allowed {
		h.Set("Retry-After", strconv.FormatInt(res.RetryAfterSeconds(), 10))
		status = http.StatusTooManyRequests
	}
	return writeJSON(w, status, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) int {
	status, err := s.limiter.GetLimitStatus(r.Context(), r.PathValue("key"))
	if err != nil {
		return s.writeLimiterError(w, err)
	}
	return writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleKeyMetrics(w http.ResponseWriter, r *http.Request) int {
	m, err := s.limiter.GetLimitMetrics(r.Context(), r.PathValue("key"))
	if err != nil {
		return s.writeLimiterError(w, err)
	}
	return writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) int {
	key := r.PathValue("key")

	var (
		deleted int64
		err     error
	)
	if set := r.URL.Query().Get(qRules); set != "" {
		rules, ok := s.rules[set]
		if !ok {
			return writeError(w, http.StatusNotFound, "unknown rule set "+strconv.Quote(set))
		}
		deleted, err = s.limiter.ResetRuleLimits(r.Context(), key, rules)
	} else {
		deleted, err = s.limiter.ResetLimit(r.Context(), key)
	}
	if err != nil {
		return s.writeLimiterError(w, err)
	}
	return writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": deleted})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) int {
	if err := s.limiter.Ping(r.Context()); err != nil {
		return writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	}
	return writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "instance": s.limiter.InstanceID()})
}

// writeLimiterError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeLimiterError(w http.ResponseWriter, err error) int {
	switch {
	case gqerrors.IsValidationError(err):
		return writeError(w, http.StatusBadRequest, err.Error())
	case gqerrors.IsStoreUnavailable(err):
		s.log.Warn("store unavailable", slog.Any("err", err))
		return writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", slog.Any("err", err))
		return writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// instrument adapts a status-returning handler and records its outcome.
func (s *Server) instrument(route string, h func(http.ResponseWriter, *http.Request) int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := h(w, r)
		s.metrics.ObserveHTTP(route, code)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
	return status
}

func writeError(w http.ResponseWriter, status int, msg string) int {
	return writeJSON(w, status, map[string]string{"error": msg})
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.log.Info("goquota server listening", slog.String("addr", ln.Addr().String()))
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and disconnects feed clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
