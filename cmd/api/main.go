package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examgrade/examgrade-api/internal/config"
	"github.com/examgrade/examgrade-api/internal/database"
	"github.com/examgrade/examgrade-api/internal/evaluation"
	"github.com/examgrade/examgrade-api/internal/handler"
	"github.com/examgrade/examgrade-api/internal/middleware"
	"github.com/examgrade/examgrade-api/internal/models"
	"github.com/examgrade/examgrade-api/internal/repository"
	"github.com/examgrade/examgrade-api/internal/retrieval"
	"github.com/examgrade/examgrade-api/internal/router"
	"github.com/examgrade/examgrade-api/internal/service"
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

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Evaluation{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

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

	generator, err := ai.NewOpenAIGenerator(ai.GeneratorConfig{
		BaseURL:      cfg.AIBaseURL,
		APIKey:       cfg.AIAPIKey,
		Model:        cfg.GenerationModel,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("failed to create generator: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	evaluationRepo := repository.NewEvaluationRepository(db)
	retriever := retrieval.New(embedder, store, cfg.TopK, cfg.SimilarityFloor, logger)
	builder := evaluation.NewRequestBuilder(cfg.Temperature, cfg.MaxTokens)

	evaluationService := service.NewEvaluationService(
		evaluationRepo,
		retriever,
		builder,
		generator,
		redisClient,
		natsConn,
		validate,
		cfg.GenerationWait,
		cfg.ResultCacheTTL,
		logger,
	)

	evaluationHandler := handler.NewEvaluationHandler(evaluationService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		EvaluationHandler: evaluationHandler,
		VectorStore:       store,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
