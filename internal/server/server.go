// Package server exposes blacklist checks over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/commjoen/dnsbl/pkg/models"
)

const shutdownTimeout = 5 * time.Second

// Checker evaluates a candidate against the configured blacklists
type Checker interface {
	Check(ctx context.Context, candidate string, checkAll bool) models.CheckResult
	Mode() string
	Blacklists() []string
}

// Server serves the check API, health and metrics endpoints
type Server struct {
	checker  Checker
	log      *zap.SugaredLogger
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRegistry sets the registry served on /metrics. Request metrics are
// registered with it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// New creates a server for checker
func New(checker Checker, opts ...Option) *Server {
	s := &Server{
		checker: checker,
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnsbl",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	s.registry.MustRegister(s.requests)
	return s
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/check", s.handleCheck).Methods(http.MethodGet)
	r.HandleFunc("/v1/blacklists", s.handleBlacklists).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Use(s.withRequestMetrics)
	return r
}

func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.requests.WithLabelValues(route, strconv.Itoa(m.Code)).Inc()
		s.log.Debugw("request", "method", r.Method, "url", r.URL.String(), "status", m.Code, "duration", m.Duration, "ua", r.UserAgent())
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

type blacklistsResponse struct {
	Mode       string   `json:"mode"`
	Blacklists []string `json:"blacklists"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	candidate := q.Get("candidate")
	if candidate == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing candidate parameter"})
		return
	}

	checkAll := false
	if v := q.Get("all"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid all parameter: " + v})
			return
		}
		checkAll = b
	}

	result := s.checker.Check(r.Context(), candidate, checkAll)
	if result.Error != "" {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBlacklists(w http.ResponseWriter, _ *http.Request) {
	zones := s.checker.Blacklists()
	if zones == nil {
		zones = []string{}
	}
	writeJSON(w, http.StatusOK, blacklistsResponse{Mode: s.checker.Mode(), Blacklists: zones})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Infow("HTTP API listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("graceful shutdown failed", "error", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Infow("HTTP API stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
