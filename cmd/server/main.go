package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mhollis/docvault/internal"
	"github.com/mhollis/docvault/internal/billing"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/email"
	"github.com/mhollis/docvault/internal/handler"
	"github.com/mhollis/docvault/internal/metrics"
	"github.com/mhollis/docvault/internal/middleware"
	"github.com/mhollis/docvault/internal/repository"
	"github.com/mhollis/docvault/internal/service"
	"github.com/mhollis/docvault/internal/storage"
	"github.com/mhollis/docvault/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	store := repository.NewStore(db)

	// Initialize blob storage
	var blobs storage.Storage
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		blobs, err = storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
	default:
		blobs, err = storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize services
	catalog := domain.DefaultCatalog()
	userService := service.NewUserService(store, logger)
	linkService := service.NewLinkService(store, logger)
	usageService := service.NewUsageService(store, store, logger)
	seatService := service.NewSeatService(store, catalog, logger)
	gate := service.NewGate(linkService, usageService, store, catalog, logger)
	documentService := service.NewDocumentService(store, gate, linkService, usageService, catalog, blobs, logger)

	// Email notifications
	emails, err := email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.BaseURL, logger)
	if err != nil {
		return fmt.Errorf("email initialization failed: %w", err)
	}

	// Stripe billing (optional in development)
	prices := billing.PriceConfig{
		SoloMonthlyPriceID:   cfg.StripeSoloMonthlyPriceID,
		FamilyMonthlyPriceID: cfg.StripeFamilyMonthlyPriceID,
		ProMonthlyPriceID:    cfg.StripeProMonthlyPriceID,
		SeatAddonPriceID:     cfg.StripeAddonSeatPriceID,
	}
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, prices)
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing disabled, STRIPE_SECRET_KEY not set")
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(userService, logger, isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	authLimiter := middleware.NewAuthRateLimiter(logger)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(userService, logger, isSecure)
	accountHandler := handler.NewAccountHandler(seatService, linkService, usageService, gate, emails, logger)
	documentHandler := handler.NewDocumentHandler(documentService, logger)
	billingHandler := handler.NewBillingHandler(billingService, linkService, store, cfg.BaseURL, prices, logger)
	inboundHandler := handler.NewInboundEmailHandler(documentService, gate, store, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics (basic auth)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Middleware stacks
	requireUser := middleware.Stack(authMw.WithUser, authMw.RequireUser)
	requireUserRedeem := middleware.Stack(authMw.WithUser, authMw.RequireUser, authLimiter.LimitTokenRedeem)

	// Auth (public)
	mux.Handle("POST /auth/register", authLimiter.LimitRegister(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /auth/login", authLimiter.LimitLogin(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.Handle("GET /auth/me", requireUser(http.HandlerFunc(authHandler.Me)))

	// Account, seats, and links
	mux.Handle("GET /account", requireUser(http.HandlerFunc(accountHandler.GetAccount)))
	mux.Handle("GET /account/usage", requireUser(http.HandlerFunc(accountHandler.GetUsage)))
	mux.Handle("POST /account/invites", requireUser(http.HandlerFunc(accountHandler.CreateInvite)))
	mux.Handle("POST /invites/accept", requireUserRedeem(http.HandlerFunc(accountHandler.AcceptInvite)))
	mux.Handle("DELETE /account/members/{memberID}", requireUser(http.HandlerFunc(accountHandler.RemoveMember)))
	mux.Handle("POST /account/links", requireUser(http.HandlerFunc(accountHandler.CreateLinkInvite)))
	mux.Handle("POST /links/accept", requireUserRedeem(http.HandlerFunc(accountHandler.AcceptLinkInvite)))
	mux.Handle("DELETE /account/links", requireUser(http.HandlerFunc(accountHandler.RevokeLink)))

	// Entitlement probes
	mux.Handle("GET /account/entitlements/upload", requireUser(http.HandlerFunc(accountHandler.CheckUpload)))
	mux.Handle("GET /account/entitlements/email-inbound", requireUser(http.HandlerFunc(accountHandler.CheckEmailInbound)))

	// Documents
	mux.Handle("POST /documents", requireUser(http.HandlerFunc(documentHandler.Upload)))
	mux.Handle("GET /documents/{documentID}", requireUser(http.HandlerFunc(documentHandler.Get)))
	mux.Handle("GET /documents/{documentID}/download", requireUser(http.HandlerFunc(documentHandler.Download)))
	mux.Handle("DELETE /documents/{documentID}", requireUser(http.HandlerFunc(documentHandler.Delete)))

	// Billing (handlers respond 503 when Stripe is not configured)
	mux.Handle("POST /billing/checkout", requireUser(http.HandlerFunc(billingHandler.CreateCheckout)))
	mux.Handle("POST /billing/portal", requireUser(http.HandlerFunc(billingHandler.OpenPortal)))
	mux.Handle("POST /billing/cancel", requireUser(http.HandlerFunc(billingHandler.CancelSubscription)))
	mux.Handle("POST /billing/reactivate", requireUser(http.HandlerFunc(billingHandler.ReactivateSubscription)))

	// Webhooks (public, signature-verified)
	if billingService != nil {
		webhookHandler := handler.NewWebhookHandler(billingService, store, seatService, logger)
		webhookHandler.RegisterRoutes(mux)
	}
	inboundHandler.RegisterRoutes(mux)

	// Outer middleware wraps every route
	root := middleware.Stack(
		securityMw.Handler,
		loggingMw.Handler,
		metrics.Middleware,
	)(mux)

	// ==========================================================================
	// Start maintenance worker
	// ==========================================================================

	if cfg.WorkerEnabled {
		w, err := worker.New(worker.Config{
			TaskTimeout:     cfg.WorkerTaskTimeout,
			ShutdownTimeout: cfg.WorkerShutdownTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		w.Register(worker.NewExpireInvitesTask(store, logger))
		w.Register(worker.NewExpireLinksTask(store, logger))
		w.Register(worker.NewCleanupSessionsTask(store, logger))
		w.Register(worker.NewTrialNoticesTask(store, emails, catalog, logger))
		w.Start(ctx)
		defer w.Stop()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
