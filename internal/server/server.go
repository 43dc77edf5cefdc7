// ABOUTME: Server orchestrator that wires stores, services, and the HTTP API
// ABOUTME: Manages component lifecycle, cleanup loops, and graceful shutdown

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/passkey-auth/internal/authn"
	"github.com/2389/passkey-auth/internal/challenge"
	"github.com/2389/passkey-auth/internal/config"
	"github.com/2389/passkey-auth/internal/credential"
	"github.com/2389/passkey-auth/internal/monitor"
	"github.com/2389/passkey-auth/internal/session"
	"github.com/2389/passkey-auth/internal/store"
)

// defaultCleanupInterval paces the expiry sweeps when the config is silent.
const defaultCleanupInterval = time.Minute

// Server orchestrates the passkeyd components: the durable SQLite store and
// memory cache tier, the challenge and credential services, the ceremony
// orchestrator, the security recorder, and the HTTP API over all of them.
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	db         *store.SQLiteStore
	cache      *store.MemoryCache
	challenges *challenge.Manager
	creds      *credential.Service
	authn      *authn.Service
	recorder   *monitor.Recorder
	tokens     *session.Issuer
	registry   *prometheus.Registry
	httpServer *http.Server

	cleanupInterval time.Duration
}

// New wires up a server from configuration. The returned server owns the
// store handles and closes them on Shutdown.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	cleanupInterval := cfg.Cache.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	cache := store.NewMemoryCache(cleanupInterval)

	// Per-server registry so multiple instances never fight over collector
	// registration.
	registry := prometheus.NewRegistry()
	recorder := monitor.New(cache, db, monitor.Options{
		SlowThreshold: cfg.Monitor.SlowThreshold,
		FailureTTL:    cfg.Monitor.FailureWindow,
		Retention:     cfg.Monitor.AuditRetention,
		Registerer:    registry,
	})

	tiered := store.NewTiered(cache, db)
	tiered.OnCacheError = recorder.CacheFallback

	tokens, err := session.NewIssuer([]byte(cfg.Session.Secret), cfg.Session.TTL)
	if err != nil {
		db.Close()
		cache.Close()
		return nil, fmt.Errorf("creating session issuer: %w", err)
	}

	challenges := challenge.NewManager(tiered, cfg.WebAuthn.ChallengeTTL, cache, db)
	creds := credential.NewService(db, cache)

	s := &Server{
		config:     cfg,
		logger:     logger,
		db:         db,
		cache:      cache,
		challenges: challenges,
		creds:      creds,
		recorder:   recorder,
		tokens:     tokens,
		registry:   registry,
		authn: authn.NewService(db, creds, challenges, tokens, recorder, authn.Config{
			RPID:                     cfg.WebAuthn.RPID,
			Origin:                   cfg.WebAuthn.Origin,
			AllowSignCountRegression: cfg.WebAuthn.AllowSignCountRegression,
		}),
		cleanupInterval: cleanupInterval,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

// routes builds the HTTP mux for the ceremony API, credential management,
// health, and metrics.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register/begin", s.handleRegisterBegin)
	mux.HandleFunc("POST /auth/register/complete", s.handleRegisterComplete)
	mux.HandleFunc("POST /auth/login/begin", s.handleLoginBegin)
	mux.HandleFunc("POST /auth/login/complete", s.handleLoginComplete)

	mux.HandleFunc("GET /auth/credentials", s.handleListCredentials)
	mux.HandleFunc("DELETE /auth/credentials/{id}", s.handleDeleteCredential)

	mux.HandleFunc("GET /health", s.handleHealth)

	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return mux
}

// Run starts the HTTP server and the background sweeps, blocking until the
// context is canceled. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	sweepCtx, cancelSweeps := context.WithCancel(ctx)
	defer cancelSweeps()
	go s.challenges.RunCleanup(sweepCtx, s.cleanupInterval)
	go s.recorder.RunCleanup(sweepCtx, s.cleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases the store handles.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.cache.Close()
	if closeErr := s.db.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	s.logger.Info("shutdown complete")
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
