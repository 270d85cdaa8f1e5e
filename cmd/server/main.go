package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgments-backend/breaker"
	"judgments-backend/config"
	"judgments-backend/handlers"
	"judgments-backend/logger"
	"judgments-backend/metrics"
	"judgments-backend/repository"
	"judgments-backend/scraper"
	"judgments-backend/service"
	"judgments-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env file from project root (relative to cmd/server/)
	config.LoadEnv()

	cfg := config.LoadConfig()
	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connections
	db, err := initPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize Postgres", "error", err)
	}
	defer db.Close()

	courts, err := config.LoadCourts(cfg.Scraper.CourtsConfig)
	if err != nil {
		log.Fatal("Failed to load courts configuration", "path", cfg.Scraper.CourtsConfig, "error", err)
	}

	m := metrics.NewMetrics("judgments", prometheus.DefaultRegisterer)

	// Document storage is optional for lookups; without it the document route answers 404
	documents, err := storage.NewStorageFromEnv(ctx)
	if err != nil {
		log.Warn("Document storage unavailable", "error", err)
		documents = nil
	} else {
		log.Info("Storage initialized")
	}

	scrapeClient, err := scraper.NewClient(cfg.Scraper.BaseURL, log, m)
	if err != nil {
		log.Fatal("Failed to initialize scraper client", "error", err)
	}

	scrapeBreaker := breaker.New(breaker.Config{
		Name:             "court-scraper",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
	}, breaker.WithLogger(log), breaker.WithMetrics(m))

	// Initialize repositories
	caseRepo := repository.NewCaseRepository(db)

	// Initialize services
	resolver := service.NewCaseResolver(
		service.ResolverWithStore(caseRepo),
		service.ResolverWithScraper(scrapeClient),
		service.ResolverWithBreaker(scrapeBreaker),
		service.ResolverWithCourts(courts),
		service.ResolverWithLogger(log),
		service.ResolverWithMetrics(m),
		service.ResolverWithScrapeTimeout(cfg.Scraper.Timeout),
		service.ResolverWithRetryDelay(cfg.Scraper.RetryDelay),
	)

	// Initialize handlers
	caseHandler := handlers.NewCaseHandler(resolver, caseRepo, documents, log)

	// Setup Gin router
	r := gin.Default()

	r.GET("/health", handlers.Health(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	caseHandler.RegisterRoutes(api)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	log.Info("Server stopped")
}

func initPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
