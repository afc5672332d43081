// Package main provides the enrichment engine API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/glyphic-ai/enrichment-engine/internal/bedrock"
	"github.com/glyphic-ai/enrichment-engine/internal/config"
	"github.com/glyphic-ai/enrichment-engine/internal/consolidate"
	"github.com/glyphic-ai/enrichment-engine/internal/extract"
	"github.com/glyphic-ai/enrichment-engine/internal/ingest"
	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/progress"
	"github.com/glyphic-ai/enrichment-engine/internal/queue"
	"github.com/glyphic-ai/enrichment-engine/internal/ratelimit"
	"github.com/glyphic-ai/enrichment-engine/internal/search"
	"github.com/glyphic-ai/enrichment-engine/internal/source"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
	"github.com/glyphic-ai/enrichment-engine/internal/worker"
)

const reaperInterval = 10 * time.Second

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("model", cfg.Bedrock.ModelID).
		Str("queue", cfg.Queue.Name).
		Msg("Starting enrichment engine API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, storage.PostgresConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	if err := storage.EnsureSchema(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("Schema migration failed")
	}
	repos := storage.NewRepositories(db)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Bedrock.Region))
	if err != nil {
		logger.Fatal().Err(err).Msg("AWS configuration failed")
	}

	limiter := ratelimit.New(ratelimit.Config{
		ChatQPS:  cfg.RateLimit.ChatQPS,
		EmbedQPS: cfg.RateLimit.EmbedQPS,
	})
	aiClient := bedrock.NewClient(bedrockruntime.NewFromConfig(awsCfg), limiter, bedrock.Config{
		ModelID:          cfg.Bedrock.ModelID,
		EmbeddingModelID: cfg.Bedrock.EmbeddingModelID,
		MaxTokens:        cfg.Bedrock.MaxTokens,
		Dimension:        cfg.Bedrock.Dimension,
	}, logger)

	workQueue, err := queue.NewRedisQueue(cfg.Queue.URL, queue.Config{
		Name:        cfg.Queue.Name,
		Visibility:  time.Duration(cfg.Queue.VisibilitySec) * time.Second,
		ReceiveWait: cfg.Queue.ReceiveWait,
		MaxReceive:  cfg.Queue.MaxReceiveCount,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Queue connection failed")
	}

	resolver := source.NewResolver(s3.NewFromConfig(awsCfg), source.Config{
		DefaultBucket:   cfg.Source.DefaultS3Bucket,
		DefaultFilePath: cfg.Source.DefaultJSONFilePath,
	}, logger)

	notifier := progress.NewNotifier(logger)

	orchestrator := ingest.NewOrchestrator(
		resolver,
		extract.NewExtractor(logger),
		repos.RawSources, repos.Batches, repos.ContentHashes, repos.Trackers, workQueue,
		logger,
	)

	consolidator := consolidate.NewConsolidator(repos.Sections, repos.ContentHashes, cfg.Consolidation.Deduplicate, logger)
	chunker := consolidate.NewChunker(consolidate.ChunkerConfig{
		LengthThreshold:   cfg.Chunking.LengthThreshold,
		SentencesPerChunk: cfg.Chunking.SentencesPerChunk,
		SentenceOverlap:   cfg.Chunking.SentenceOverlap,
	})
	vectors := consolidate.NewVectorWriter(aiClient, repos.Chunks, chunker, logger)
	finalizer := consolidate.NewFinalizer(
		repos.Batches, repos.Elements, repos.Trackers,
		consolidator, vectors, notifier, logger,
	)

	handler := worker.NewHandler(
		workQueue, aiClient, repos.Batches, repos.Elements,
		repos.Trackers, finalizer, notifier,
		time.Duration(cfg.Queue.ThrottleDelaySec)*time.Second, logger,
	)
	pool := worker.NewPool(handler, worker.PoolConfig{
		Size:         cfg.Worker.PoolSize,
		DrainTimeout: cfg.Worker.DrainTimeout,
	}, logger)

	searchService := search.NewService(aiClient, repos.Search, logger)

	go workQueue.RunReaper(ctx, reaperInterval)
	poolDone := make(chan error, 1)
	go func() {
		poolDone <- pool.Run(ctx)
	}()

	router := NewRouter(logger, db, Deps{
		Orchestrator: orchestrator,
		Batches:      repos.Batches,
		Notifier:     notifier,
		Search:       searchService,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	// Workers finish their drain window after the signal context ends.
	select {
	case <-poolDone:
	case <-time.After(cfg.Worker.DrainTimeout):
		logger.Warn().Msg("Worker pool drain timed out")
	}

	logger.Info().Msg("Server stopped")
}
