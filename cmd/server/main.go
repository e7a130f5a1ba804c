package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/skyfin/be-invoice-signoff/internal/client"
	"github.com/skyfin/be-invoice-signoff/internal/config"
	"github.com/skyfin/be-invoice-signoff/internal/database"
	"github.com/skyfin/be-invoice-signoff/internal/httpserver"
	"github.com/skyfin/be-invoice-signoff/internal/repository"
	"github.com/skyfin/be-invoice-signoff/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting invoice sign-off service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// NATS is optional: with no URL configured, notifications are dropped.
	var natsClient *client.NATSClient
	if cfg.NATS.URL != "" {
		natsClient, err = client.NewNATSClient(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsClient.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}
	publisher := client.NewNotificationPublisher(natsClient, log)

	invoiceRepo := repository.NewInvoiceRepository(db)
	stepRepo := repository.NewStepRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	userRepo := repository.NewUserRepository(db)
	keyRepo := repository.NewKeyRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	invoiceService := service.NewInvoiceService(invoiceRepo, userRepo, auditRepo, publisher, log)
	workflowService := service.NewWorkflowService(
		db, invoiceRepo, stepRepo, commentRepo, userRepo, keyRepo, auditRepo, publisher, log)

	handler := httpserver.NewHandler(invoiceService, workflowService, log)

	var h http.Handler = handler.Router(cfg.Auth.JWTSecret)
	h = httpserver.RequestID(h)
	h = httpserver.Logger(&log)(h)
	h = httpserver.Recovery(&log)(h)
	h = httpserver.CORS([]string{"*"})(h)
	h = httpserver.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out)
	if cfg.Service.Environment == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Logger()
}
