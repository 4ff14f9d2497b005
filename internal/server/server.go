// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
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
	"github.com/shopspring/decimal"
	"github.com/stylelink/stylelink/internal/booking"
	"github.com/stylelink/stylelink/internal/config"
	"github.com/stylelink/stylelink/internal/escrow"
	"github.com/stylelink/stylelink/internal/health"
	"github.com/stylelink/stylelink/internal/ledger"
	"github.com/stylelink/stylelink/internal/logging"
	"github.com/stylelink/stylelink/internal/metrics"
	"github.com/stylelink/stylelink/internal/notify"
	"github.com/stylelink/stylelink/internal/payments"
	"github.com/stylelink/stylelink/internal/ratelimit"
	"github.com/stylelink/stylelink/internal/realtime"
	"github.com/stylelink/stylelink/internal/security"
	"github.com/stylelink/stylelink/internal/traces"
	"github.com/stylelink/stylelink/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	bookings     *booking.Service
	ledger       *ledger.Ledger
	reconciler   *ledger.Reconciler
	settlement   *escrow.Controller
	provider     payments.Provider
	realtimeHub  *realtime.Hub
	kafkaSink    *notify.KafkaSink
	archiveTimer *booking.Timer
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider sets a custom payment provider (for testing)
func WithProvider(p payments.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set provider/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	feeRate, err := decimal.NewFromString(cfg.PlatformFeePct)
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_FEE_PCT %q: %w", cfg.PlatformFeePct, err)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var bookingStore booking.Store
	var ledgerStore ledger.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		bookingPg := booking.NewPostgresStore(db)
		if err := bookingPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate booking store", "error", err)
		}
		bookingStore = bookingPg

		ledgerPg := ledger.NewPostgresStore(db)
		if err := ledgerPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		ledgerStore = ledgerPg

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		bookingStore = booking.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.ledger = ledger.New(ledgerStore)

	// Payment provider: Stripe when configured, otherwise a local fake that
	// approves every charge. The fake keeps demo mode fully offline.
	if s.provider == nil {
		if cfg.StripeAPIKey != "" {
			s.provider = payments.NewStripeProvider(cfg.StripeAPIKey)
			s.logger.Info("stripe payment provider enabled")
		} else {
			s.provider = payments.NewFakeProvider()
			s.logger.Warn("no STRIPE_API_KEY set, using fake payment provider")
		}
	}
	// Fail fast when the processor is degraded instead of stacking timeouts
	s.provider = payments.WithBreaker(s.provider)

	// Booking service first, then the settlement controller that reads
	// bookings back through it. The settler hook closes the loop.
	s.bookings = booking.NewService(bookingStore, s.logger)
	s.settlement = escrow.NewController(s.ledger, s.provider, &bookingLookup{s.bookings}, feeRate, s.logger)
	s.bookings.WithSettler(s.settlement)

	s.reconciler = ledger.NewReconciler(s.ledger, &finishedBookings{s.bookings}, s.logger)

	// Realtime hub plus optional Kafka publisher, fanned out behind the
	// booking service's event emitter.
	s.realtimeHub = realtime.NewHub(s.logger)
	sinks := []notify.Sink{notify.NewLogSink(s.logger), s.realtimeHub}
	if len(cfg.KafkaBrokers) > 0 {
		s.kafkaSink = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, s.logger)
		sinks = append(sinks, s.kafkaSink)
		s.logger.Info("kafka lifecycle publisher enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}
	s.bookings.WithEmitter(notify.NewFanout(sinks...))

	retention := time.Duration(cfg.ArchiveRetentionDays) * 24 * time.Hour
	s.archiveTimer = booking.NewTimer(s.bookings, retention, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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

// adminAuthMiddleware guards admin routes with the X-Admin-Secret header.
// In development with no secret configured the routes stay open so local
// testing doesn't need extra setup.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin routes require ADMIN_SECRET to be configured",
			})
			return
		}
		if c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id and :partyId URL params on all v1 routes (no-op when absent)
	v1.Use(validation.IDParamMiddleware())
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())

	bookingHandler := booking.NewHandler(s.bookings, s.settlement)
	bookingHandler.RegisterRoutes(v1)
	bookingHandler.RegisterAdminRoutes(admin)

	ledgerHandlers := ledger.NewHandlers(s.ledger, s.reconciler)
	ledgerHandlers.RegisterRoutes(v1, admin)

	settlementHandlers := escrow.NewHandlers(s.settlement)
	settlementHandlers.RegisterRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

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
		"name":        "StyleLink",
		"description": "Booking and payment platform for independent stylists",
		"version":     "0.1.0",
		"endpoints": gin.H{
			"bookings": "/v1/bookings",
			"wallets":  "/v1/wallets/{partyId}/balance",
			"realtime": "/ws",
			"health":   "/health",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(ctx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.stopTracing = stopTracing

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start booking archival timer
	go s.archiveTimer.Start(runCtx)

	// Collect connection pool stats when backed by Postgres
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop archival timer
	if s.archiveTimer != nil {
		s.archiveTimer.Stop()
		s.logger.Info("archival timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush and close the Kafka publisher
	if s.kafkaSink != nil {
		if err := s.kafkaSink.Close(); err != nil {
			s.logger.Error("kafka close error", "error", err)
		} else {
			s.logger.Info("kafka publisher closed")
		}
	}

	// Flush buffered spans
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	// Close database connection pool
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// bookingLookup adapts the booking service to escrow.BookingSource
type bookingLookup struct {
	svc *booking.Service
}

func (a *bookingLookup) Lookup(ctx context.Context, bookingID string) (escrow.BookingInfo, error) {
	b, err := a.svc.Get(ctx, bookingID)
	if err != nil {
		return escrow.BookingInfo{}, err
	}
	return escrow.BookingInfo{
		ID:        b.ID,
		ClientID:  b.ClientID,
		StylistID: b.StylistID,
		Price:     b.Price,
		Currency:  b.Currency,
		Status:    string(b.Status),
	}, nil
}

// finishedBookings adapts the booking service to ledger.BookingSource
// for the reconciler. Terminal states that moved money are completed
// and cancelled; rejected bookings never touch the ledger.
type finishedBookings struct {
	svc *booking.Service
}

func (a *finishedBookings) ListFinished(ctx context.Context, limit int) ([]ledger.FinishedBooking, error) {
	var out []ledger.FinishedBooking
	for _, status := range []booking.Status{booking.StatusCompleted, booking.StatusCancelled} {
		bs, err := a.svc.List(ctx, booking.ListFilter{Status: status, Limit: limit})
		if err != nil {
			return nil, err
		}
		for _, b := range bs {
			out = append(out, ledger.FinishedBooking{
				ID:       b.ID,
				Status:   string(b.Status),
				Price:    b.Price,
				Currency: b.Currency,
			})
		}
	}
	return out, nil
}
