// Package server wires the escrow engine together and exposes it over HTTP.
package server

import (
	"context"
	"database/sql"
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

	"github.com/openwork-labs/escrowd/internal/arbitration"
	"github.com/openwork-labs/escrowd/internal/config"
	"github.com/openwork-labs/escrowd/internal/dispute"
	"github.com/openwork-labs/escrowd/internal/escrow"
	"github.com/openwork-labs/escrowd/internal/health"
	"github.com/openwork-labs/escrowd/internal/identity"
	"github.com/openwork-labs/escrowd/internal/idgen"
	"github.com/openwork-labs/escrowd/internal/ledger"
	"github.com/openwork-labs/escrowd/internal/logging"
	"github.com/openwork-labs/escrowd/internal/marketplace"
	"github.com/openwork-labs/escrowd/internal/metrics"
	"github.com/openwork-labs/escrowd/internal/platform"
	"github.com/openwork-labs/escrowd/internal/ratelimit"
	"github.com/openwork-labs/escrowd/internal/traces"
	"github.com/openwork-labs/escrowd/internal/validation"
)

// Server wraps the HTTP server and all domain services.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	identity    *identity.Service
	platforms   *platform.Service
	market      *marketplace.Registry
	ledger      *ledger.Service
	escrow      *escrow.Service
	arbitrator  *arbitration.PlatformArbitrator
	coordinator *dispute.Coordinator
	sweeper     *dispute.Sweeper

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB // nil when running in-memory
	router      *gin.Engine
	httpSrv     *http.Server

	shutdownTracing func(context.Context) error
	cancelRunCtx    context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server instance. Storage is PostgreSQL when DATABASE_URL is
// set, otherwise everything runs in memory.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		identityStore identity.Store
		platformStore platform.Store
		marketStore   marketplace.Store
		ledgerStore   ledger.Store
		escrowStore   escrow.Store
		disputeStore  arbitration.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.checks.Register("database", health.DBChecker("database", db))
		identityStore = identity.NewPostgresStore(db)
		platformStore = platform.NewPostgresStore(db)
		marketStore = marketplace.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		disputeStore = arbitration.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		identityStore = identity.NewMemoryStore()
		platformStore = platform.NewMemoryStore()
		marketStore = marketplace.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		disputeStore = arbitration.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.identity = identity.NewService(identityStore)
	s.platforms = platform.NewService(platformStore, cfg.DefaultArbitrationFeeTimeout)
	s.market = marketplace.NewRegistry(marketStore)
	s.ledger = ledger.NewService(ledgerStore, func() string { return idgen.WithPrefix("led_") })

	perms := escrow.NewPermissions()
	if cfg.OperatorID != 0 {
		perms.GrantOperator(cfg.OperatorID)
	}
	if cfg.ProtocolTreasuryID != 0 {
		perms.Grant(cfg.ProtocolTreasuryID, escrow.CapClaimProtocol)
	}

	events := escrow.NewMemoryEventStore()
	s.escrow = escrow.NewService(escrowStore, events, s.ledger, s.market, s.platforms, perms, escrow.Options{
		ProtocolFeeRate:     int64(cfg.ProtocolFeeRateBps),
		CompletionThreshold: int64(cfg.CompletionThresholdBps),
		Logger:              s.logger,
	})

	s.arbitrator = arbitration.NewPlatformArbitrator(disputeStore, s.platforms, s.logger)
	s.coordinator = dispute.NewCoordinator(s.escrow, escrowStore, s.ledger, s.arbitrator, s.identity, events, s.logger)
	s.arbitrator.SetRulingHandler(s.coordinator)
	s.sweeper = dispute.NewSweeper(s.coordinator, cfg.DisputeSweepInterval, s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitRPS * 2,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
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
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	identity.NewHandler(s.identity).RegisterRoutes(v1)
	platform.NewHandler(s.platforms).RegisterRoutes(v1)
	marketplace.NewHandler(s.market).RegisterRoutes(v1)
	ledger.NewHandler(s.ledger).RegisterRoutes(v1)
	escrow.NewHandler(s.escrow).RegisterRoutes(v1)
	arbitration.NewHandler(s.arbitrator).RegisterRoutes(v1)
	dispute.NewHandler(s.coordinator).RegisterRoutes(v1)
}

// HealthResponse for the aggregate health endpoint.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "escrowd",
		"description": "Escrow ledger and dispute coordination for marketplace platforms",
		"version":     "0.1.0",
	})
}

// Run starts the HTTP server and background workers, blocking until a
// shutdown signal or ctx cancellation.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTracing = shutdownTracing
	}

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

	go s.sweeper.Run(runCtx)
	if s.db != nil {
		go metrics.CollectDBStats(runCtx, s.db, 15*time.Second)
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

// Shutdown gracefully stops the server and background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stops the sweeper and DB stats collector.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
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
