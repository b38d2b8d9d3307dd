// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server assembles the seed vault HTTP service from configuration:
// storage, salts, the WebAuthn ceremony service, the vault, secure memory,
// rate limiting, health probes and metrics.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-seedvault/internal/config"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/audit"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/correlation"
	"github.com/jeremyhahn/go-seedvault/pkg/health"
	"github.com/jeremyhahn/go-seedvault/pkg/metrics"
	"github.com/jeremyhahn/go-seedvault/pkg/ratelimit"
	"github.com/jeremyhahn/go-seedvault/pkg/salt"
	"github.com/jeremyhahn/go-seedvault/pkg/secmem"
	"github.com/jeremyhahn/go-seedvault/pkg/seedvault"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/webauthn"
	webauthnhttp "github.com/jeremyhahn/go-seedvault/pkg/webauthn/http"
)

// heldSeedsDegraded is the number of simultaneously held seeds above which
// readiness reports degraded.
const heldSeedsDegraded = 1024

// Server runs the seed vault API.
type Server struct {
	config     *config.Config
	configPath string
	mu         sync.RWMutex

	logger   logger.Logger
	level    *slog.LevelVar
	logOut   io.Writer
	now      func() time.Time
	ownStore bool

	store   *storage.Store
	salts   *salt.Manager
	service *webauthn.Service
	vault   *seedvault.Vault
	guard   *secmem.Guard
	limiter *ratelimit.Limiter
	health  *health.Checker
	trail   *audit.MemoryRecorder

	router   chi.Router
	http     *http.Server
	listener net.Listener

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithStore uses an already opened store. The server does not close it.
func WithStore(store *storage.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(s *Server) { s.logOut = w }
}

// WithConfigPath records the file Reload re-reads on SIGHUP.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server. Storage is opened, and migrated when configured,
// before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		config:     cfg,
		logOut:     os.Stderr,
		now:        time.Now,
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	s.level = logger.NewLevelVar(level)
	s.logger = logger.NewSlogAdapter(&logger.SlogConfig{
		Handler: logger.NewHandlerVar(s.logOut, cfg.Logging.Format, s.level),
	})

	if err := s.initialize(ctx); err != nil {
		s.closeStore()
		return nil, err
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Server) initialize(ctx context.Context) error {
	cfg := s.config

	if s.store == nil {
		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		s.store = store
		s.ownStore = true
	}
	s.logger.Info("storage opened", logger.String("driver", cfg.Storage.Driver))

	var err error
	s.salts, err = salt.NewManager(salt.ManagerParams{
		Store:  s.store,
		Logger: s.component("salt"),
		Clock:  s.now,
	})
	if err != nil {
		return err
	}

	rp := cfg.RelyingParty
	s.service, err = webauthn.NewService(webauthn.ServiceParams{
		Config: &rp,
		Store:  s.store,
		Salts:  s.salts,
		Logger: s.component("webauthn"),
		Clock:  s.now,
	})
	if err != nil {
		return fmt.Errorf("failed to create webauthn service: %w", err)
	}

	s.guard = secmem.New(secmem.Config{
		TTL:           cfg.Vault.MemoryTTL,
		SweepInterval: cfg.Vault.SweepInterval,
		Clock:         s.now,
		Logger:        s.component("secmem"),
	})

	var recorder audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		s.trail = audit.NewMemoryRecorder(cfg.Audit.Capacity)
		recorder = audit.Multi{audit.NewLogRecorder(s.logger), s.trail}
	}

	s.vault, err = seedvault.New(seedvault.Params{
		Store:          s.store,
		Salts:          s.salts,
		Guard:          s.guard,
		Logger:         s.component("vault"),
		Audit:          recorder,
		Clock:          s.now,
		MinCredentials: cfg.Vault.MinCredentials,
		MaxCredentials: cfg.Vault.MaxCredentials,
	})
	if err != nil {
		_ = s.guard.Close()
		return fmt.Errorf("failed to create vault: %w", err)
	}

	secret, err := cfg.Auth.Secret()
	if err != nil {
		_ = s.guard.Close()
		return err
	}
	tokens, err := webauthn.NewDefaultJWTGenerator(&webauthn.JWTGeneratorConfig{
		Secret:    secret,
		Issuer:    cfg.Auth.Issuer,
		Audience:  []string{rp.RPID},
		ExpiresIn: cfg.Auth.TokenTTL,
		Clock:     s.now,
	})
	if err != nil {
		_ = s.guard.Close()
		return fmt.Errorf("failed to create token generator: %w", err)
	}

	if cfg.RateLimit.Enabled {
		rl := cfg.RateLimit
		rl.Clock = s.now
		s.limiter = ratelimit.New(&rl)
	}

	s.health = health.NewChecker(health.WithClock(s.now))
	s.health.RegisterCheck("database", health.DatabaseCheck(s.store))
	s.health.RegisterCheck("secure_memory", health.SecureMemoryCheck(s.guard.Len, heldSeedsDegraded))

	tlsConfig, err := cfg.TLS.LoadTLSConfig()
	if err != nil {
		_ = s.guard.Close()
		return err
	}

	handler := webauthnhttp.NewHandler(s.service, s.vault, tokens).WithLogger(s.component("http"))
	s.router = s.routes(handler)
	s.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		TLSConfig:         tlsConfig,
	}
	return nil
}

func (s *Server) component(name string) logger.Logger {
	return s.logger.With(logger.String("component", name))
}

func (s *Server) routes(h *webauthnhttp.Handler) chi.Router {
	cfg := s.config
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(correlation.Middleware)
	r.Use(s.requestLogger)
	if cfg.Metrics.Enabled {
		r.Use(metrics.HTTPMiddleware)
	}

	if cfg.Health.Enabled {
		health.Mount(r, cfg.Health.Path, s.health)
	}
	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler())
	}

	r.Route(cfg.Server.BasePath, func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter, cfg.RateLimit.TrustProxyHeaders))
		}
		webauthnhttp.MountChi(r, h)
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Vault returns the seed vault.
func (s *Server) Vault() *seedvault.Vault {
	return s.vault
}

// AuditTrail returns the recent audit events, or nil when auditing is
// disabled.
func (s *Server) AuditTrail() *audit.MemoryRecorder {
	return s.trail
}

// Health returns the health checker.
func (s *Server) Health() *health.Checker {
	return s.health
}

// Start binds the listener and serves in the background. It returns once
// the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	if s.http.TLSConfig != nil {
		ln = tls.NewListener(ln, s.http.TLSConfig)
	}
	s.listener = ln

	if s.config.Metrics.Enabled {
		metrics.Enable()
		metrics.StartResourceCollector(s.ctx, s.config.Metrics.CollectInterval, s.guard.Len)
	}

	s.wg.Add(2)
	go s.purgeLoop()
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", logger.Error(err))
		}
	}()

	s.health.MarkStarted()
	s.logger.Info("seed vault server started",
		logger.String("address", ln.Addr().String()),
		logger.Bool("tls", s.http.TLSConfig != nil),
		logger.String("version", BuildVersion()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// purgeLoop deletes expired challenges until shutdown.
func (s *Server) purgeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Vault.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.purge(s.ctx)
		}
	}
}

func (s *Server) purge(ctx context.Context) {
	start := time.Now()
	n, err := s.service.PurgeExpired(ctx)
	metrics.RecordOperation("challenge_purge", err, time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("challenge purge failed", logger.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("expired challenges purged", logger.Int64("count", n))
	}
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done, zeroes every held seed and closes storage. It is safe to call more
// than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down seed vault server")
		s.health.MarkNotStarted()

		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shutdown HTTP server: %w", shutdownErr)
		}
		s.cancel()
		s.wg.Wait()

		if s.limiter != nil {
			s.limiter.Stop()
		}
		if n := s.guard.ReleaseAll(); n > 0 {
			s.logger.Info("released held seeds", logger.Int("count", n))
		}
		_ = s.guard.Close()
		if closeErr := s.closeStore(); closeErr != nil && err == nil {
			err = closeErr
		}
		close(s.shutdownCh)
		s.logger.Info("seed vault server stopped")
	})
	return err
}

func (s *Server) closeStore() error {
	if s.ownStore && s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WaitForShutdown blocks until Shutdown completes.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// Run starts the server and blocks until ctx is cancelled or SIGINT or
// SIGTERM arrives, then shuts down within the configured timeout. SIGHUP
// reloads the configuration file.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if err := s.Start(); err != nil {
		return err
	}

	for {
		select {
		case <-hup:
			if err := s.ReloadFile(); err != nil {
				s.logger.Warn("configuration reload failed", logger.Error(err))
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
			defer cancel()
			return s.Shutdown(shutdownCtx)
		}
	}
}

// BuildVersion reports the module version or VCS revision from build info.
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
