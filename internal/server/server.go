// Package server implements the HTTP control panel: it starts and stops
// collections, reports their status and forwards challenge clicks.
package server

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jakopako/livemon/internal/challenge"
	"github.com/jakopako/livemon/internal/log"
	"github.com/jakopako/livemon/internal/metrics"
	"github.com/jakopako/livemon/internal/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

//go:embed panel.html
var panelHTML []byte

// Runner is a collection the panel can control. *collector.Collector
// satisfies it.
type Runner interface {
	Run(ctx context.Context) error
	Stop()
	Running() bool
	Status() types.MonitorStatus
	Interactions() []types.Interaction
	Subscribe(buffer int) (<-chan types.Interaction, func())
	Gate() *challenge.Gate
}

// Factory creates the runner for a start request.
type Factory func(username string) (Runner, error)

type Server struct {
	addr     string
	factory  Factory
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	baseCtx context.Context
	runner  Runner
	active  bool
	runs    sync.WaitGroup
}

type Option func(*Server)

// WithFactory enables /api/start. Without a factory the panel only controls
// an attached runner.
func WithFactory(f Factory) Option {
	return func(s *Server) {
		s.factory = f
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = log.OrDiscard(logger)
	}
}

func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		logger:  log.Discard(),
		baseCtx: context.Background(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "server"))
	return s
}

// Attach makes r the runner reported and controlled by the panel. The caller
// stays responsible for running it.
func (s *Server) Attach(r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = r
}

// Handler returns the panel routes wrapped in the request logging and CORS
// middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.index).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/start", s.start).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.stop).Methods(http.MethodPost)
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/interactions", s.interactions).Methods(http.MethodGet)
	api.HandleFunc("/captcha", s.captcha).Methods(http.MethodGet)
	api.HandleFunc("/captcha/status", s.captchaStatus).Methods(http.MethodGet)
	api.HandleFunc("/captcha/click", s.captchaClick).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.feed).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return cors(s.logRequests(r))
}

// Serve listens on the configured address until ctx is done. On shutdown it
// stops the current run and waits for runs started through the panel.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("control panel listening", slog.String("addr", s.addr))

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	if r := s.current(); r != nil {
		r.Stop()
	}
	s.runs.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) current() Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}

// busy reports whether a collection is starting or running.
func (s *Server) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active || (s.runner != nil && s.runner.Running())
}

// launch starts r in the background. It fails if a collection is busy.
func (s *Server) launch(username string, r Runner) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || (s.runner != nil && s.runner.Running()) {
		return false
	}
	s.runner = r
	s.active = true
	ctx := s.baseCtx
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		logger := s.logger.With(slog.String("username", username))
		if err := r.Run(ctx); err != nil {
			logger.Error("collection failed", slog.String("err", err.Error()))
		} else {
			logger.Info("collection finished")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.runner == r {
			s.active = false
		}
	}()
	return true
}
