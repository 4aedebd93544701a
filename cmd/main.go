package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"veridano/api"
	"veridano/config"
	"veridano/embedding"
	"veridano/ingest"
	"veridano/pkg/blobstore"
	"veridano/pkg/qdrantdb"
	"veridano/repository"
	"veridano/resilience"
	"veridano/retrieval"
	"veridano/source"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// =========
	// Config
	// =========
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// =========
	// Logging
	// =========
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// =========
	// Blob store (raw content, leases, run audit)
	// =========
	db, err := blobstore.Open(cfg.Blobstore.Path)
	if err != nil {
		logger.Fatal("failed to open blobstore", zap.Error(err))
	}
	defer db.Close()
	blobs, err := blobstore.New(db)
	if err != nil {
		logger.Fatal("failed to init blobstore", zap.Error(err))
	}

	// =========
	// Document store
	// =========
	var store repository.DocumentStore
	if cfg.Qdrant.Enabled {
		qc, err := qdrantdb.NewClient(cfg.Qdrant.Host, cfg.Qdrant.Port)
		if err != nil {
			logger.Fatal("failed to connect to qdrant", zap.Error(err))
		}
		qstore, err := qdrantdb.NewDocumentStore(qc, db, cfg.Embedding.Model, cfg.Embedding.Dimension)
		if err != nil {
			logger.Fatal("failed to init document store", zap.Error(err))
		}
		if err := qstore.EnsureCollection(ctx); err != nil {
			logger.Fatal("failed to ensure collection", zap.Error(err))
		}
		store = qstore
	} else {
		store = repository.NewMemStore(cfg.Embedding.Model)
		logger.Warn("qdrant disabled, using in-memory document store")
	}

	// =========
	// Embedding pipeline
	// =========
	guardCfg := resilience.GuardConfig{
		RatePerSecond:    cfg.Resilience.RatePerSecond,
		Burst:            cfg.Resilience.Burst,
		MaxAttempts:      cfg.Resilience.MaxAttempts,
		Timeout:          cfg.Resilience.Timeout.Duration(),
		FailureThreshold: cfg.Resilience.FailureThreshold,
		Cooldown:         cfg.Resilience.Cooldown.Duration(),
	}
	provider := embedding.NewTEIClient(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Dimension)
	embedGuard := resilience.NewGuard("embedding", guardCfg, logger)
	pipeline := embedding.NewPipeline(provider, store, embedGuard, logger)

	// =========
	// Source adapters + ingestion
	// =========
	httpClient := &http.Client{Timeout: 60 * time.Second}
	adapters, err := source.BuildAdapters(source.Endpoints{}, httpClient, logger)
	if err != nil {
		logger.Fatal("failed to build adapters", zap.Error(err))
	}
	leases, err := ingest.NewLeaseManager(db, cfg.Ingest.LeaseTTL.Duration())
	if err != nil {
		logger.Fatal("failed to init lease manager", zap.Error(err))
	}
	ingestPipeline := ingest.NewPipeline(adapters, store, blobs, leases, pipeline, ingest.PipelineConfig{
		Workers:      cfg.Ingest.Workers,
		MaxDocuments: cfg.Ingest.MaxDocuments,
		Guard:        guardCfg,
	}, logger)
	scheduler := ingest.NewScheduler(ingestPipeline, nil, logger)
	go scheduler.Start(ctx)

	// =========
	// Retrieval engine + query server
	// =========
	cache := resilience.NewQueryCache(cfg.Resilience.CacheTTL.Duration())
	engine := retrieval.NewEngine(store, pipeline, cache, logger)
	server := api.NewServer(engine, store, api.Config{
		Port:          cfg.App.Port,
		RatePerSecond: cfg.App.RatePerSecond,
		Burst:         cfg.App.Burst,
	}, logger)

	if err := server.Start(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
