// Package server assembles the gateway: storage selection, service
// construction, the gate pipeline, route registration, and lifecycle.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/textsmith/internal/account"
	"github.com/mbd888/textsmith/internal/admin"
	"github.com/mbd888/textsmith/internal/audit"
	"github.com/mbd888/textsmith/internal/auth"
	"github.com/mbd888/textsmith/internal/billing"
	"github.com/mbd888/textsmith/internal/config"
	"github.com/mbd888/textsmith/internal/gate"
	"github.com/mbd888/textsmith/internal/guard"
	"github.com/mbd888/textsmith/internal/health"
	"github.com/mbd888/textsmith/internal/ledger"
	"github.com/mbd888/textsmith/internal/logging"
	"github.com/mbd888/textsmith/internal/metrics"
	"github.com/mbd888/textsmith/internal/ratelimit"
	"github.com/mbd888/textsmith/internal/realtime"
	"github.com/mbd888/textsmith/internal/security"
	"github.com/mbd888/textsmith/internal/textops"
	"github.com/mbd888/textsmith/internal/validation"
	"github.com/mbd888/textsmith/internal/webhooks"
)

// Server wraps the HTTP server and every domain service behind it.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB // nil when running on the in-memory stores

	authMgr    *auth.Manager
	accounts   *account.Service
	billing    *billing.Service
	ledger     *ledger.Service
	guard      *guard.Service
	auditStore audit.Store
	recorder   *audit.Recorder
	emitter    *webhooks.Emitter
	webhookSt  webhooks.Store
	hub        *realtime.Hub
	gate       *gate.Gate

	sweeper     *ledger.Sweeper
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc

	ready atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server instance. Storage is PostgreSQL when
// DATABASE_URL is set, in-memory otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	if err := s.setupStorage(ctx); err != nil {
		return nil, err
	}
	s.setupServices()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupStorage opens the database (when configured), migrates and seeds
// the stores, and builds the store-backed services.
func (s *Server) setupStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		accountStore := account.NewMemoryStore()
		s.accounts = account.NewService(accountStore, s.logger)
		s.billing = billing.NewService(billing.NewMemoryStore(), s.accounts, s.logger)
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.ledger = ledger.NewService(ledger.NewMemoryStore(accountStore), s.logger)
		s.guard = guard.NewService(guard.NewMemoryStore(), s.cfg.SessionActiveWindow, s.cfg.AutoLockThreshold, s.logger)
		s.auditStore = audit.NewMemoryLogger()
		s.webhookSt = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage; data is lost on restart")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	s.db = db
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	accountStore := account.NewPostgresStore(db)
	if err := accountStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate account store", "error", err)
	}
	s.accounts = account.NewService(accountStore, s.logger)

	billingStore := billing.NewPostgresStore(db)
	if err := billingStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate billing store", "error", err)
	}
	if err := billingStore.SeedPlans(ctx); err != nil {
		s.logger.Warn("failed to seed plan catalog", "error", err)
	}
	s.billing = billing.NewService(billingStore, s.accounts, s.logger)

	authStore := auth.NewPostgresStore(db)
	if err := authStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate auth store", "error", err)
	}
	s.authMgr = auth.NewManager(authStore)

	ledgerStore := ledger.NewPostgresStore(db)
	if err := ledgerStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate ledger store", "error", err)
	}
	s.ledger = ledger.NewService(ledgerStore, s.logger)

	guardStore := guard.NewPostgresStore(db)
	if err := guardStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate guard store", "error", err)
	}
	s.guard = guard.NewService(guardStore, s.cfg.SessionActiveWindow, s.cfg.AutoLockThreshold, s.logger)

	auditLogger := audit.NewPostgresLogger(db)
	if err := auditLogger.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate audit store", "error", err)
	}
	s.auditStore = auditLogger

	webhookStore := webhooks.NewPostgresStore(db)
	if err := webhookStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate webhook store", "error", err)
	}
	s.webhookSt = webhookStore

	return nil
}

// setupServices wires the cross-service seams: plan resolution into
// accounts, event fan-out into the hub and webhooks, and the gate.
func (s *Server) setupServices() {
	s.accounts.SetPlanResolver(s.billing)

	s.hub = realtime.NewHub(s.logger)

	dispatcher := webhooks.NewDispatcher(s.webhookSt, s.cfg.WebhookMaxAttempts, s.cfg.WebhookDisableAfter, s.logger)
	s.emitter = webhooks.NewEmitter(dispatcher, s.logger)

	s.recorder = audit.NewRecorder(s.auditStore, s.logger)
	s.recorder.SetMirror(s.hub.PublishAudit)

	notifier := &fanoutNotifier{hub: s.hub, emitter: s.emitter}
	s.guard.SetNotifier(notifier)

	s.gate = gate.New(gate.Deps{
		Auth:       s.authMgr,
		Accounts:   s.accounts,
		Billing:    s.billing,
		Guard:      s.guard,
		Ledger:     s.ledger,
		Recorder:   s.recorder,
		Events:     notifier,
		UpgradeURL: s.cfg.UpgradeURL,
		Logger:     s.logger,
	})

	s.sweeper = ledger.NewSweeper(s.ledger.Store(), s.logger)

	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", health.DBChecker("database", s.db))
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 && s.cfg.IsDevelopment() {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	s.router.Use(validation.RequestSizeMiddleware(s.cfg.MaxRequestSize))

	// Outer per-IP limiter; the per-plan hourly gate is separate.
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Observability feed for operator dashboards.
	s.router.GET("/ws/feed", s.requireAdminQueryKey, func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/api/v1")

	// Public: the plan catalog.
	billingHandler := billing.NewHandler(s.billing)
	billingHandler.RegisterPublicRoutes(v1)

	// Metered text operations + usage status.
	textops.NewHandler(s.gate, s.ledger).RegisterRoutes(v1)

	// Self-service key management: authenticated, not metered.
	authHandler := auth.NewHandler(s.authMgr)
	keys := v1.Group("")
	keys.Use(s.gate.AuthOnly())
	authHandler.RegisterProtectedRoutes(keys)

	// Admin surface.
	adminHandler := admin.NewHandler(s.cfg.AdminAPIKey).
		WithGuard(s.guard).
		WithAccounts(s.accounts).
		WithBilling(s.billing).
		WithRequestLog(s.auditStore)
	adminGroup := v1.Group("/admin")
	adminGroup.Use(adminHandler.RequireKey())
	adminHandler.RegisterRoutes(adminGroup)
	account.NewHandler(s.accounts).RegisterAdminRoutes(adminGroup)
	billingHandler.RegisterAdminRoutes(adminGroup)
	authHandler.RegisterAdminRoutes(adminGroup)
	webhookHandler := webhooks.NewHandler(s.webhookSt)
	if s.cfg.IsProduction() {
		webhookHandler.WithURLValidation(security.ValidateEndpointURL)
	}
	webhookHandler.RegisterAdminRoutes(adminGroup)
}

// requireAdminQueryKey guards the WebSocket feed, which cannot carry an
// Authorization header from a browser.
func (s *Server) requireAdminQueryKey(c *gin.Context) {
	if s.cfg.AdminAPIKey == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":   "admin_disabled",
			"message": "Admin API is not configured",
		})
		return
	}
	key := c.Query("key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.AdminAPIKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Valid admin key required",
		})
		return
	}
	c.Next()
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)
	code := http.StatusOK
	state := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(code, gin.H{
		"status": state,
		"checks": statuses,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the server and blocks until a shutdown signal, context
// cancellation, or server error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.sweeper.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server and its background loops.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweeper.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// maskDSN hides credentials when logging a connection string.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
