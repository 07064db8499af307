// Package server wires settlement services together and serves the HTTP API.
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

	"github.com/isoko-rw/isoko/internal/audit"
	"github.com/isoko-rw/isoko/internal/cardpay"
	"github.com/isoko-rw/isoko/internal/circuitbreaker"
	"github.com/isoko-rw/isoko/internal/config"
	"github.com/isoko-rw/isoko/internal/dispute"
	"github.com/isoko-rw/isoko/internal/escrow"
	"github.com/isoko-rw/isoko/internal/health"
	"github.com/isoko-rw/isoko/internal/logging"
	"github.com/isoko-rw/isoko/internal/metrics"
	"github.com/isoko-rw/isoko/internal/momo"
	"github.com/isoko-rw/isoko/internal/payment"
	"github.com/isoko-rw/isoko/internal/ratelimit"
	"github.com/isoko-rw/isoko/internal/realtime"
	"github.com/isoko-rw/isoko/internal/receipt"
	"github.com/isoko-rw/isoko/internal/security"
	"github.com/isoko-rw/isoko/internal/validation"
	"github.com/isoko-rw/isoko/internal/wallet"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg      *config.Config
	wallets  *wallet.Service
	payments *payment.Service
	escrows  *escrow.Service
	disputes *dispute.Service
	receipts *receipt.Service
	recorder *audit.Recorder
	auditLog audit.Logger

	escrowTimer  *escrow.Timer
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	breaker      *circuitbreaker.Breaker
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		paymentStore payment.Store
		walletStore  wallet.Store
		escrowStore  escrow.Store
		disputeStore dispute.Store
		receiptStore receipt.Store
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
		paymentStore = payment.NewPostgresStore(db)
		walletStore = wallet.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		receiptStore = receipt.NewPostgresStore(db)
		s.auditLog = audit.NewPostgresLogger(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
	} else {
		paymentStore = payment.NewMemoryStore()
		walletStore = wallet.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		receiptStore = receipt.NewMemoryStore()
		s.auditLog = audit.NewMemoryLogger()
		s.logger.Warn("using in-memory storage (data will be lost on restart)")
	}

	// Realtime hub streams committed audit entries to websocket clients.
	s.realtimeHub = realtime.NewHub(s.logger)

	s.recorder = audit.NewRecorder(s.auditLog, s.logger).
		WithNotifier(realtime.NewAuditNotifier(s.realtimeHub)).
		WithErrorHook(func() {
			metrics.AuditAppendFailuresTotal.Inc()
		})

	// Providers share one breaker keyed by payment method.
	s.breaker = circuitbreaker.New(5, 30*time.Second)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("provider circuit state changed",
			"provider", key,
			"from", from.String(),
			"to", to.String(),
		)
	})

	momoClient := momo.NewClient(momo.Config{
		BaseURL:         cfg.MoMoBaseURL,
		SubscriptionKey: cfg.MoMoSubscriptionKey,
		DisbursementKey: cfg.MoMoDisbursementKey,
		APIUser:         cfg.MoMoAPIUser,
		APIKey:          cfg.MoMoAPIKey,
		TargetEnv:       cfg.MoMoTargetEnv,
		CallbackURL:     cfg.MoMoCallbackURL,
	}, s.logger)

	// Wallets
	s.wallets = wallet.NewService(walletStore, cfg.Currency, s.logger).
		WithRecorder(s.recorder).
		WithPayoutProvider(momoClient)

	// Payments. MoMo handles both MTN and Airtel rails; card is optional.
	s.payments = payment.NewService(paymentStore, cfg.Currency, s.logger).
		WithRecorder(s.recorder).
		WithBreaker(s.breaker).
		WithProvider(payment.MethodMoMo, momoClient).
		WithProvider(payment.MethodAirtel, momoClient)
	if cfg.StripeSecretKey != "" {
		s.payments = s.payments.WithProvider(payment.MethodCard, cardpay.NewProvider(cfg.StripeSecretKey, s.logger))
		s.logger.Info("card payments enabled")
	}

	// Escrow holds settle against wallets and drive the transaction lifecycle.
	s.escrows = escrow.NewService(
		escrowStore,
		&walletLedgerAdapter{wallets: s.wallets},
		&transactionAdapter{store: paymentStore},
		s.logger,
	).
		WithHoldPeriod(cfg.EscrowHoldPeriod).
		WithRecorder(s.recorder)

	s.escrowTimer = escrow.NewTimer(s.escrows, cfg.EscrowSweepInterval, cfg.EscrowSweepBatch, s.logger)

	// Disputes settle through the escrow service.
	s.disputes = dispute.NewService(disputeStore, s.escrows, s.logger).
		WithRecorder(s.recorder)

	// Receipts
	s.receipts = receipt.NewService(
		receiptStore,
		receipt.NewSigner(cfg.ReceiptSigningSecret),
		paymentStore,
		int64(cfg.PlatformFeePercent),
		int64(cfg.TaxPercent),
		s.logger,
	).WithRecorder(s.recorder)

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", health.Database("database", s.db))
	}
	s.healthReg.Register("momo", health.Provider(string(payment.MethodMoMo), s.breaker))
	if cfg.StripeSecretKey != "" {
		s.healthReg.Register("card", health.Provider(string(payment.MethodCard), s.breaker))
	}

	// Router
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
		return "postgres://***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
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

	// CORS (allow all origins for now - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: s.cfg.RateLimitRPS,
	})
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

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)

		// Audit entries written during this request carry its origin.
		ctx = audit.WithRequestID(ctx, requestID)
		ctx = audit.WithIP(ctx, c.ClientIP())

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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time settlement activity
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	payment.NewHandler(s.payments).RegisterRoutes(v1)
	receipt.NewHandler(s.receipts).RegisterRoutes(v1)

	escrowHandler := escrow.NewHandler(s.escrows)
	escrowHandler.RegisterRoutes(v1)

	walletHandler := wallet.NewHandler(s.wallets)
	walletHandler.RegisterRoutes(v1)

	disputeHandler := dispute.NewHandler(s.disputes)
	disputeHandler.RegisterRoutes(v1)

	// Admin: arbitration, wallet controls, audit trail
	admin := v1.Group("/admin", security.RequireAdmin(s.cfg.AdminSecret))
	walletHandler.RegisterAdminRoutes(admin)
	disputeHandler.RegisterAdminRoutes(admin)
	escrowHandler.RegisterAdminRoutes(admin)
	audit.NewHandler(s.auditLog).RegisterRoutes(admin)
}

// -----------------------------------------------------------------------------
// Health handlers
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

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"currency", s.cfg.Currency,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start escrow auto-release timer
	go s.escrowTimer.Start(runCtx)

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

	// Cancel the context for all background goroutines (hub, escrow timer)
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

	if s.escrowTimer != nil {
		s.escrowTimer.Stop()
		s.logger.Info("escrow timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
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

// walletLedgerAdapter adapts wallet.Service to escrow.Ledger. The reference
// passed in is the escrow ID, so wallet entries trace back to the hold.
type walletLedgerAdapter struct {
	wallets *wallet.Service
}

func (a *walletLedgerAdapter) Hold(ctx context.Context, farmerID, amount, reference string) error {
	return a.wallets.Debit(ctx, farmerID, amount, wallet.KindSpent, reference, "escrow hold")
}

func (a *walletLedgerAdapter) ReverseHold(ctx context.Context, farmerID, amount, reference string) error {
	return a.wallets.Reverse(ctx, farmerID, amount, wallet.KindSpent, reference, "escrow hold reversal")
}

func (a *walletLedgerAdapter) Release(ctx context.Context, transporterID, amount, reference string) error {
	return a.wallets.Credit(ctx, transporterID, amount, wallet.KindEarned, reference, "escrow release")
}

func (a *walletLedgerAdapter) Refund(ctx context.Context, farmerID, amount, reference string) error {
	return a.wallets.Credit(ctx, farmerID, amount, wallet.KindRefunded, reference, "escrow refund")
}

// transactionAdapter adapts the payment store to escrow.Transactions.
// All status changes go through the store's compare-and-swap so concurrent
// settlements cannot double-apply.
type transactionAdapter struct {
	store payment.Store
}

func (a *transactionAdapter) Info(ctx context.Context, id string) (*escrow.TxnInfo, error) {
	t, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	held := false
	switch t.Status {
	case payment.StatusEscrowHeld, payment.StatusInTransit, payment.StatusDelivered,
		payment.StatusCompleted, payment.StatusDisputed, payment.StatusRefunded:
		held = true
	}
	return &escrow.TxnInfo{
		ID:            t.ID,
		OrderID:       t.OrderID,
		FarmerID:      t.FarmerID,
		TransporterID: t.TransporterID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        string(t.Status),
		Confirmed:     t.Status == payment.StatusPaymentConfirmed,
		Held:          held,
	}, nil
}

func (a *transactionAdapter) MarkEscrowHeld(ctx context.Context, id string) error {
	_, err := a.store.SetStatusFrom(ctx, id,
		[]payment.Status{payment.StatusPaymentConfirmed},
		payment.StatusEscrowHeld, "")
	return err
}

func (a *transactionAdapter) RevertToConfirmed(ctx context.Context, id string) error {
	_, err := a.store.SetStatusFrom(ctx, id,
		[]payment.Status{payment.StatusEscrowHeld},
		payment.StatusPaymentConfirmed, "escrow hold rolled back")
	return err
}

func (a *transactionAdapter) Complete(ctx context.Context, id, reason string) error {
	_, err := a.store.SetStatusFrom(ctx, id,
		[]payment.Status{
			payment.StatusEscrowHeld,
			payment.StatusInTransit,
			payment.StatusDelivered,
			payment.StatusDisputed,
		},
		payment.StatusCompleted, reason)
	return err
}

func (a *transactionAdapter) MarkDisputed(ctx context.Context, id, reason string) error {
	_, err := a.store.SetStatusFrom(ctx, id,
		[]payment.Status{
			payment.StatusEscrowHeld,
			payment.StatusInTransit,
			payment.StatusDelivered,
		},
		payment.StatusDisputed, reason)
	return err
}

func (a *transactionAdapter) MarkRefunded(ctx context.Context, id, reason string) error {
	_, err := a.store.SetStatusFrom(ctx, id,
		[]payment.Status{
			payment.StatusEscrowHeld,
			payment.StatusInTransit,
			payment.StatusDelivered,
			payment.StatusDisputed,
		},
		payment.StatusRefunded, reason)
	return err
}

func (a *transactionAdapter) AttachEscrow(ctx context.Context, id, escrowID string) error {
	return a.store.AttachEscrow(ctx, id, escrowID)
}
