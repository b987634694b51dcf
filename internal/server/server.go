package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tyrowin/messenger/internal/groupchat"
	"github.com/Tyrowin/messenger/internal/hub"
	"github.com/Tyrowin/messenger/internal/metrics"
	"github.com/Tyrowin/messenger/internal/registry"
	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/internal/store"
)

// Server owns every long-lived component of the chat service.
type Server struct {
	cfg Config
	log *slog.Logger

	store     *store.Bolt
	registry  *registry.Registry
	hub       *hub.Hub
	directory *groupchat.Directory
	sessions  *session.Handler
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	upgrader   websocket.Upgrader
	http       *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	sessionsMu sync.Mutex
	closing    bool
	sessionsWG sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New opens the database, wires the components and starts the hub. Call
// Shutdown when done.
func New(cfg Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st, err := store.Open(cfg.DatabasePath, store.Options{Logger: log.With("component", "store"), Metrics: m})
	if err != nil {
		return nil, err
	}
	log.Info("database opened", "path", st.Path())

	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: registry.New(log.With("component", "registry")),
		hub: hub.New(hub.Options{
			Buffer:   cfg.SubscriberBuffer,
			Overflow: cfg.Overflow(),
			Metrics:  m,
			Logger:   log.With("component", "hub"),
		}),
		directory: groupchat.New(st, log, cfg.StoreTimeout),
		metrics:   m,
		gatherer:  reg,
	}

	s.sessions, err = session.NewHandler(session.Deps{
		Registry:  s.registry,
		Hub:       s.hub,
		Directory: s.directory,
		Messages:  st,
		Users:     st,
		Metrics:   m,
		Logger:    log,
	}, session.Options{
		HistoryLimit:          cfg.HistoryLimit,
		OutboxBuffer:          cfg.OutboxBuffer,
		StoreTimeout:          cfg.StoreTimeout,
		RequireRegisteredUser: cfg.RequireRegisteredUser,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.http = CreateServer(cfg.Port, s.routes())

	go s.hub.Run()
	log.Info("hub started", "buffer", cfg.SubscriberBuffer, "overflow", cfg.OverflowPolicy)
	return s, nil
}

// CreateServer builds the http.Server for addr. Websocket sessions are
// hijacked and are not bound by these timeouts.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe serves HTTP until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, ends every session, stops the hub and
// closes the database. Sessions are hijacked connections, so http.Server
// does not wait for them; Shutdown does, until ctx expires. Calls after the
// first return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { s.shutdownErr = s.shutdown(ctx) })
	return s.shutdownErr
}

// trackSession counts a websocket session that is about to start. It
// refuses once shutdown has begun, so no Add races the final Wait.
func (s *Server) trackSession() bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if s.closing {
		return false
	}
	s.sessionsWG.Add(1)
	return true
}

func (s *Server) shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.sessionsMu.Lock()
	s.closing = true
	s.sessionsMu.Unlock()
	s.cancel()

	sessionsDone := make(chan struct{})
	go func() {
		s.sessionsWG.Wait()
		close(sessionsDone)
	}()
	select {
	case <-sessionsDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for sessions: %w", ctx.Err()))
	}

	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), 10*time.Millisecond)
	}
	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.log.Info("server shutdown completed")
	return nil
}
