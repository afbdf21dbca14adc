/**
 * @description
 * This is the main entry point for the raffle-service. It initializes all
 * components of the service: configuration, database connection pool, the
 * RabbitMQ event producer, the draw engine, the raffle lifecycle service, the
 * draw-poll scheduler and the HTTP server. It wires everything together,
 * starts the service and shuts it down gracefully on SIGINT/SIGTERM.
 */

package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bestwai/raffle-service/internal/api"
	"github.com/bestwai/raffle-service/internal/app"
	"github.com/bestwai/raffle-service/internal/config"
	"github.com/bestwai/raffle-service/internal/draw"
	"github.com/bestwai/raffle-service/internal/store"
	"github.com/bestwai/raffle-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AdminAPIKey == "" {
		logger.Warn("ADMIN_API_KEY is empty; admin endpoints are unprotected")
	}

	seedSettings, err := cfg.RaffleSettings()
	if err != nil {
		logger.Error("invalid raffle settings", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Initialize the RabbitMQ producer. A missing broker degrades to a
	// fallback publisher rather than blocking the event.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = eventProducer
		defer eventProducer.Close()
		logger.Info("rabbitmq producer connected")
	}

	// Initialize dependencies
	repository := store.NewPostgresRepository(dbpool)
	drawer := draw.NewDrawer(rand.NewSource(time.Now().UnixNano()))
	service := app.NewService(repository, drawer, producer, logger, seedSettings, cfg.BaseURL)

	if err := service.Start(ctx); err != nil {
		logger.Error("failed to start raffle lifecycle", "error", err)
		os.Exit(1)
	}

	jobs := app.NewJobs(service, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.DrawPollSchedule)
	scheduler.Start()

	handlers := api.NewRaffleHandlers(service, logger)
	router := api.NewRouter(handlers, cfg.AdminAPIKey)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("raffle-service listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("raffle-service stopped gracefully")
}
