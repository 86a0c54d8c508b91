// Package app wires all vivavox subsystems into a running examination server.
//
// The Server owns the HTTP surface: the /ws websocket endpoint candidates
// connect to, health and readiness probes, the Prometheus /metrics scrape
// endpoint and a small read-only report API. Every accepted websocket gets
// its own runner goroutine that drives the speech detector, the exam session
// state machine and the provider calls for that candidate.
//
// For testing, populate Capabilities with mock providers; nothing in this
// package talks to the network except through them.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vivavox/vivavox/internal/config"
	"github.com/vivavox/vivavox/internal/exam"
	"github.com/vivavox/vivavox/internal/health"
	"github.com/vivavox/vivavox/internal/observe"
	"github.com/vivavox/vivavox/internal/store"
	"github.com/vivavox/vivavox/internal/stream"
	"github.com/vivavox/vivavox/pkg/provider/stt"
	"github.com/vivavox/vivavox/pkg/provider/tts"
	"github.com/vivavox/vivavox/pkg/provider/vad"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Serve.
const shutdownTimeout = 10 * time.Second

// Capabilities holds the external capabilities the exam runner calls out to.
// Questions and Evaluator are required; the rest degrade gracefully when nil
// (no voice input without STT, silent examiner without TTS, no speech
// segmentation without a detector engine).
type Capabilities struct {
	// Questions supplies the question set for each session.
	Questions exam.QuestionSource

	// Evaluator scores candidate answers.
	Evaluator exam.Evaluator

	// STT transcribes finished answer segments.
	STT stt.Provider

	// TTS synthesizes examiner speech.
	TTS tts.Provider

	// Voice is the examiner voice profile passed to every synthesis call.
	Voice tts.VoiceProfile

	// Detector creates per-connection voice activity sessions.
	Detector vad.Engine

	// Store persists sessions, answers and reports. Nil selects the
	// in-memory store.
	Store store.Repository
}

// Option is a functional option for New.
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the examination server. Create it with New, expose it over HTTP
// with Handler or run it directly with Serve.
type Server struct {
	cfg      atomic.Pointer[config.Config]
	caps     Capabilities
	log      *slog.Logger
	metrics  *observe.Metrics
	registry *stream.Registry
}

// New validates the capability set and assembles a Server.
func New(cfg *config.Config, caps Capabilities, opts ...Option) (*Server, error) {
	if caps.Questions == nil {
		return nil, errors.New("app: a question source is required")
	}
	if caps.Evaluator == nil {
		return nil, errors.New("app: an evaluator is required")
	}
	if caps.Store == nil {
		caps.Store = store.NewMemory()
	}

	s := &Server{
		caps: caps,
		log:  slog.Default(),
	}
	s.cfg.Store(cfg)
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.registry = stream.NewRegistry(cfg.Stream.MaxConnections, s.log)

	if caps.STT == nil {
		s.log.Warn("app: no STT provider configured, voice answers disabled")
	}
	if caps.TTS == nil {
		s.log.Warn("app: no TTS provider configured, examiner runs silent")
	}
	if caps.Detector == nil {
		s.log.Warn("app: no detector engine configured, speech segmentation disabled")
	}
	return s, nil
}

// Registry exposes the connection registry, mainly for broadcast use and
// introspection in tests.
func (s *Server) Registry() *stream.Registry { return s.registry }

func (s *Server) config() *config.Config { return s.cfg.Load() }

// UpdateConfig swaps the active configuration. Detector and exam settings
// apply to connections established after the swap; listener address, TLS and
// the connection cap are fixed at startup.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.cfg.Store(cfg)
	s.log.Info("app: configuration updated")
}

// Handler returns the server's HTTP surface. The websocket endpoint is
// mounted outside the observability middleware because the protocol upgrade
// needs the raw ResponseWriter.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	health.New(
		health.Checker{Name: "store", Check: s.checkStore},
		health.Checker{Name: "questions", Check: s.checkQuestions},
	).Register(api)
	api.Handle("GET /metrics", promhttp.Handler())
	api.HandleFunc("GET /api/reports", s.handleListReports)
	api.HandleFunc("GET /api/reports/{code}", s.handleGetReport)

	root := http.NewServeMux()
	root.HandleFunc("GET /ws", s.handleWS)
	root.Handle("/", observe.Middleware(s.metrics)(api))
	return root
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	cfg := s.config()
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Websocket handlers block for the connection's lifetime; deriving
		// request contexts from ctx makes them exit when the server stops,
		// otherwise Shutdown would wait on them forever.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.log.Info("app: listening", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// handleWS upgrades the connection, registers it and runs its exam pipeline
// until the socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("app: websocket accept failed", "error", err)
		return
	}

	cfg := s.config()
	conn := stream.NewConn(ws,
		stream.WithLogger(s.log),
		stream.WithSampleRate(cfg.Audio.SampleRate),
		stream.WithHeartbeat(cfg.Stream.HeartbeatInterval, cfg.Stream.ConnectionTimeout),
	)

	if err := s.registry.Register(conn); err != nil {
		s.log.Warn("app: connection rejected", "conn", conn.ID(), "error", err)
		_ = conn.CloseWithStatus(websocket.StatusTryAgainLater, "server at capacity")
		return
	}
	s.metrics.ActiveConnections.Add(r.Context(), 1)
	defer func() {
		s.registry.Unregister(conn.ID())
		s.metrics.ActiveConnections.Add(context.Background(), -1)
	}()

	run, err := newRunner(s, conn)
	if err != nil {
		s.log.Error("app: runner setup failed", "conn", conn.ID(), "error", err)
		_ = conn.CloseWithStatus(websocket.StatusInternalError, "pipeline unavailable")
		return
	}

	d := stream.NewDispatcher(s.log)
	run.bind(d)

	s.log.Info("app: candidate connected", "conn", conn.ID(), "remote", r.RemoteAddr)
	if err := conn.Run(r.Context(), d); err != nil {
		s.log.Warn("app: connection ended with error", "conn", conn.ID(), "error", err)
	}
}

// checkStore probes the repository with a lookup that must come back empty.
func (s *Server) checkStore(ctx context.Context) error {
	_, err := s.caps.Store.GetSession(ctx, "readyz-probe")
	return err
}

// checkQuestions probes the question source for reachability.
func (s *Server) checkQuestions(ctx context.Context) error {
	_, err := s.caps.Questions.Questions(ctx, exam.CollegeMedical, 1)
	return err
}

// handleListReports serves GET /api/reports?college=...&limit=...
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	college := exam.CollegeType(r.URL.Query().Get("college"))
	if college != "" && !college.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown college type %q", college))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	reports, err := s.caps.Store.ListReports(r.Context(), college, limit)
	if err != nil {
		s.log.Error("app: list reports failed", "error", err)
		writeError(w, http.StatusInternalServerError, "report lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// handleGetReport serves GET /api/reports/{code}.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	report, err := s.caps.Store.GetReport(r.Context(), code)
	if err != nil {
		s.log.Error("app: get report failed", "code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "report lookup failed")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no report for session %q", code))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
