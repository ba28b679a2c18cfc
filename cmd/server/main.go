package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
	"github.com/civicgrid/case-triage/internal/graph"
	"github.com/civicgrid/case-triage/internal/handlers"
	"github.com/civicgrid/case-triage/internal/kafka"
	"github.com/civicgrid/case-triage/internal/linkage"
	"github.com/civicgrid/case-triage/internal/metrics"
	"github.com/civicgrid/case-triage/internal/notification"
	"github.com/civicgrid/case-triage/internal/scheduler"
	"github.com/civicgrid/case-triage/internal/triage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := newLogger(cfg.Logging)

	logger.Info("Starting Case Triage Service",
		"version", "1.0.0",
		"http_port", cfg.Server.HTTPPort,
		"database_host", cfg.Database.Host,
		"kafka_brokers", cfg.Kafka.Brokers,
		"neo4j_uri", cfg.Neo4j.URI)

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector()

	// Connect to database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run database migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	complaintRepo := database.NewComplaintRepository(db, logger)
	linkRepo := database.NewLinkRepository(db, logger)
	notificationRepo := database.NewNotificationRepository(db, logger)

	// Initialize Neo4j link-graph mirror. The mirror is optional: when
	// disabled the engines run without it, and graph queries answer 503.
	// Interface-typed holders stay nil unless the client is actually built.
	var graphMirror linkage.GraphMirror
	var graphExplorer handlers.GraphExplorer
	if cfg.Neo4j.Enabled {
		graphClient, err := graph.NewClient(cfg.Neo4j, logger)
		if err != nil {
			logger.Error("Failed to initialize graph client", "error", err)
			os.Exit(1)
		}
		defer graphClient.Close()
		graphMirror = graphClient
		graphExplorer = graphClient
	} else {
		logger.Info("Neo4j link-graph mirror disabled")
	}

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.Kafka, metricsCollector, logger)
	defer kafkaProducer.Close()

	// Initialize notification manager
	notifier := notification.NewManager(cfg.Notifications, notificationRepo, kafkaProducer, metricsCollector, logger)

	// Initialize engines
	triageEngine := triage.NewEngine(complaintRepo, cfg.Triage, metricsCollector, logger)
	linkageEngine := linkage.NewEngine(
		complaintRepo,
		linkRepo,
		notifier,
		graphMirror,
		kafkaProducer,
		cfg.Similarity,
		metricsCollector,
		logger,
	)

	// Initialize Kafka consumer for submitted complaints
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, triageEngine, complaintRepo, kafkaProducer, metricsCollector, logger)
	defer kafkaConsumer.Close()

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()

	go func() {
		if err := kafkaConsumer.Run(consumerCtx); err != nil {
			logger.Error("Kafka consumer failed", "error", err)
		}
	}()

	// Start escalation scheduler
	escalationScheduler := scheduler.NewScheduler(
		cfg.Escalation,
		complaintRepo,
		notificationRepo,
		notifier,
		metricsCollector,
		logger,
	)
	if cfg.Escalation.Enabled {
		if err := escalationScheduler.Start(context.Background()); err != nil {
			logger.Error("Failed to start escalation scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Initialize HTTP handlers
	httpHandler := handlers.NewHTTPHandler(triageEngine, linkageEngine, complaintRepo, graphExplorer, *cfg, logger)

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(httpHandler.LoggingMiddleware)
	httpHandler.RegisterRoutes(router)

	// Add metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Received shutdown signal", "signal", sig)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cancelConsumer()
	escalationScheduler.Stop()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	} else {
		logger.Info("HTTP server stopped")
	}

	logger.Info("Case Triage Service stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
