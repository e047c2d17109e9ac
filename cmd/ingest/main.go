package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/rs/zerolog"

	"github.com/examgrade/examgrade-api/internal/chunker"
	"github.com/examgrade/examgrade-api/internal/config"
	"github.com/examgrade/examgrade-api/internal/ingest"
	"github.com/examgrade/examgrade-api/internal/vectorstore"
	"github.com/examgrade/examgrade-api/internal/vectorstore/memory"
	"github.com/examgrade/examgrade-api/internal/vectorstore/qdrant"
	"github.com/examgrade/examgrade-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	dir := flag.String("dir", cfg.MarkschemesDir, "directory containing marking scheme documents")
	reset := flag.Bool("reset", false, "drop the entire collection before ingesting")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	var store vectorstore.Store
	switch cfg.VectorStoreType {
	case "memory":
		store = memory.New()
	default:
		store = qdrant.New(qdrant.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
		})
	}

	embedder, err := ai.NewOpenAIEmbedder(ai.EmbedderConfig{
		BaseURL:   cfg.AIBaseURL,
		APIKey:    cfg.AIAPIKey,
		Model:     cfg.EmbeddingModel,
		BatchSize: cfg.EmbeddingBatch,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("failed to create embedder: %v", err)
	}

	ctx := context.Background()

	if *reset {
		if err := store.Reset(ctx, vectorstore.Filter{}); err != nil {
			log.Fatalf("failed to reset vector index: %v", err)
		}
		logger.Info().Msg("vector index reset")
	}

	ingestor := ingest.New(
		chunker.New(cfg.MaxChunkChars, cfg.OverlapSentences),
		embedder,
		store,
		logger,
	)

	report, err := ingestor.Run(ctx, *dir)
	if err != nil {
		log.Fatalf("ingestion failed: %v", err)
	}

	logger.Info().
		Int("processed", report.DocumentsProcessed).
		Int("failed", report.DocumentsFailed).
		Int("chunks", report.ChunksIndexed).
		Strs("errors", report.Errors).
		Msg("ingestion finished")

	if report.DocumentsFailed > 0 && report.DocumentsProcessed == 0 {
		os.Exit(1)
	}
}
