package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"certflow/backend/internal/api"
	"certflow/backend/internal/auth"
	"certflow/backend/internal/config"
	"certflow/backend/internal/executor"
	"certflow/backend/internal/logging"
	"certflow/backend/internal/mcp"
	"certflow/backend/internal/orchestrator"
	"certflow/backend/internal/repository"
	"certflow/backend/internal/services"
	"certflow/backend/internal/tls"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	logger := logging.NewLogger()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger.Info("Starting certification workflow service",
		"environment", cfg.Environment,
		"generation_model", cfg.Generation.Model,
	)

	dbPool, err := initDatabase(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()
	logger.Info("Database connected")

	workflowStore := repository.NewPostgresWorkflowStore(dbPool)
	projectStore := repository.NewPostgresProjectStore(dbPool)

	generator, err := services.NewGenAIGenerator(ctx, cfg.Generation.APIKey, cfg.Generation.Model, cfg.Generation.Timeout)
	if err != nil {
		logger.Error("Failed to initialize generation client", "error", err)
		log.Fatalf("Generation client initialization failed: %v", err)
	}

	registry := executor.NewRegistry(executor.Deps{
		Workflows:  workflowStore,
		Projects:   projectStore,
		Generator:  generator,
		Logger:     logger,
		RetryBase:  cfg.Generation.RetryBase,
		MaxRetries: cfg.Generation.MaxRetries,
	})
	orch := orchestrator.New(workflowStore, registry, logger)
	validation := services.NewValidationService(projectStore)
	logger.Info("Service layer initialized", "executors", len(registry))

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("certflow"))

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize auth", "error", err)
		log.Fatalf("Auth initialization failed: %v", err)
	}

	srv := api.NewServer(orch, validation, logger, version)
	srv.RegisterRoutes(e, authz.Middleware())
	logger.Info("REST API handlers mounted")

	mcpSrv := mcp.NewServer(orch)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpSrv.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	addr := ":8080"
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				serverErrors <- fmt.Errorf("tls enabled but cert/key file not configured")
				return
			}
			if err := tls.EnsureDevCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
				logger.Error("failed to provision dev certificate", "error", err)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
