package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"judgments-backend/config"
	"judgments-backend/extraction"
	"judgments-backend/logger"
	"judgments-backend/metrics"
	"judgments-backend/repository"
	"judgments-backend/storage"

	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/api/option"
)

func main() {
	config.LoadEnv()
	cfg := config.LoadConfig()

	category := flag.String("category", cfg.Extraction.Category, "backlog category to extract")
	sessionCap := flag.Int("session-cap", cfg.Extraction.SessionCap, "maximum records attempted in this run")
	reset := flag.Bool("reset", false, "discard the checkpoint and start from the newest record")
	flag.Parse()

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *category, *sessionCap, *reset); err != nil {
		log.Error("Extraction run failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger, category string, sessionCap int, reset bool) error {
	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	documents, err := storage.NewStorageFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	checkpoints, err := newCheckpointStore(cfg.Extraction, documents, category)
	if err != nil {
		return err
	}
	if reset {
		if err := checkpoints.Delete(ctx); err != nil {
			return fmt.Errorf("failed to reset checkpoint: %w", err)
		}
		log.Info("Checkpoint reset", "category", category)
	}

	reports, closeReports, err := newReportSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeReports()

	extractor, closeExtractor, err := newExtractor(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeExtractor()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics("judgments", registry)
	defer pushMetrics(cfg.Extraction.PushgatewayURL, registry, category, log)

	jobCfg := extraction.DefaultJobConfig()
	jobCfg.Category = category
	jobCfg.SessionCap = sessionCap
	jobCfg.ChunkSize = cfg.Extraction.ChunkSize
	jobCfg.BatchSize = cfg.Extraction.BatchSize
	jobCfg.ParseRetryDelay = cfg.Extraction.ParseRetryDelay
	jobCfg.BusyPause = cfg.Extraction.BusyPause
	jobCfg.IdlePause = cfg.Extraction.IdlePause
	jobCfg.MinTextLength = cfg.Extraction.MinTextLength
	jobCfg.MaxTextLength = cfg.Extraction.MaxTextLength

	job, err := extraction.NewJob(
		extraction.JobWithConfig(jobCfg),
		extraction.JobWithBacklog(repository.NewBacklogRepository(db)),
		extraction.JobWithCases(repository.NewCaseRepository(db)),
		extraction.JobWithFetcher(extraction.NewHTTPFetcher(cfg.Extraction.FetchTimeout, log, m)),
		extraction.JobWithExtractor(extractor),
		extraction.JobWithCheckpoints(checkpoints),
		extraction.JobWithReports(reports),
		extraction.JobWithDocuments(documents),
		extraction.JobWithLogger(log),
		extraction.JobWithMetrics(m),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	summary, err := job.Run(ctx)
	if summary != nil {
		log.Info("Extraction run finished",
			"run_id", summary.RunID,
			"category", category,
			"start_offset", summary.StartOffset,
			"end_offset", summary.EndOffset,
			"batches", summary.Batches,
			"processed", summary.Processed,
			"extracted", summary.Extracted,
			"skipped", summary.Skipped,
			"problematic", summary.Problematic,
			"failed", summary.Failed,
			"total_extracted", summary.TotalExtracted,
			"session_cap_reached", summary.SessionCapReached,
			"completed", summary.Completed,
			"duration", time.Since(start).String(),
		)
	}
	return err
}

// newCheckpointStore keeps the checkpoint next to CHECKPOINT_PATH, or in the
// document storage when several hosts share one backlog.
func newCheckpointStore(cfg config.ExtractionConfig, documents storage.Storage, category string) (extraction.CheckpointStore, error) {
	if cfg.CheckpointBackend == "storage" {
		key := fmt.Sprintf("checkpoints/extraction_%s.json", slug(category))
		return extraction.NewStorageCheckpointStore(documents, key), nil
	}

	dir, name := filepath.Split(cfg.CheckpointPath)
	if dir == "" {
		dir = "."
	}
	local, err := storage.NewLocalStorage(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint directory: %w", err)
	}
	return extraction.NewStorageCheckpointStore(local, name), nil
}

func newReportSink(ctx context.Context, cfg *config.Config, log logger.Logger) (extraction.ReportSink, func(), error) {
	if cfg.Mongo.URI == "" {
		sink, err := extraction.NewFileReportSink(cfg.Extraction.FailureLogDir)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	log.Info("Failure reports go to MongoDB", "database", cfg.Mongo.Database, "collection", cfg.Mongo.Collection)

	coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
	return extraction.NewMongoReportSink(coll), func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Error("MongoDB disconnect error", "error", err)
		}
	}, nil
}

func newExtractor(ctx context.Context, cfg *config.Config, log logger.Logger) (extraction.TextExtractor, func(), error) {
	dispatch := &extraction.DispatchExtractor{
		PDF:  extraction.NewPDFExtractor(cfg.Extraction.PdftotextBin, nil, log),
		HTML: extraction.HTMLExtractor{},
		Log:  log,
	}
	if cfg.Gemini.APIKey == "" {
		log.Info("GEMINI_API_KEY not set, scanned PDFs without a text layer will be reported as problematic")
		return dispatch, func() {}, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	dispatch.Fallback = extraction.NewGeminiExtractor(client, cfg.Gemini.Model)
	return dispatch, func() { client.Close() }, nil
}

// pushMetrics sends the run's metrics to a Pushgateway when one is configured
func pushMetrics(url string, registry *prometheus.Registry, category string, log logger.Logger) {
	if url == "" {
		return
	}
	err := push.New(url, "extract_judgments").
		Gatherer(registry).
		Grouping("category", slug(category)).
		Push()
	if err != nil {
		log.Warn("Failed to push metrics", "url", url, "error", err)
		return
	}
	log.Info("Metrics pushed", "url", url)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}
