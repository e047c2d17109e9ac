package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string

	RedisURL string
	NATSURL  string

	VectorStoreType  string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	AIBaseURL       string
	AIAPIKey        string
	GenerationModel string
	EmbeddingModel  string
	EmbeddingBatch  int
	Temperature     float32
	MaxTokens       int
	GenerationWait  time.Duration
	RetryBackoff    time.Duration

	TopK             int
	SimilarityFloor  float64
	MaxChunkChars    int
	OverlapSentences int

	MarkschemesDir string
	ResultCacheTTL time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Examgrade API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("sqlite.path", "exam_results.db")
	v.SetDefault("vector_store.type", "qdrant")
	v.SetDefault("qdrant.url", "http://localhost:6333")
	v.SetDefault("qdrant.collection", "marking_schemes")
	v.SetDefault("ai.base_url", "http://localhost:11434/v1")
	v.SetDefault("ai.generation_model", "llama3.1:8b")
	v.SetDefault("ai.embedding_model", "nomic-embed-text")
	v.SetDefault("ai.embedding_batch", 32)
	v.SetDefault("ai.temperature", 0.1)
	v.SetDefault("ai.max_tokens", 1536)
	v.SetDefault("ai.generation_timeout", "90s")
	v.SetDefault("ai.retry_backoff", "2s")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.similarity_floor", 0.3)
	v.SetDefault("chunker.max_chars", 500)
	v.SetDefault("chunker.overlap_sentences", 1)
	v.SetDefault("markschemes.dir", "data/markschemes")
	v.SetDefault("result_cache_ttl", "10m")

	generationWait, err := time.ParseDuration(v.GetString("ai.generation_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid generation timeout: %w", err)
	}

	retryBackoff, err := time.ParseDuration(v.GetString("ai.retry_backoff"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid retry backoff: %w", err)
	}

	cacheTTL, err := time.ParseDuration(v.GetString("result_cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid result cache ttl: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		DatabaseDriver:   strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:      v.GetString("database.url"),
		SQLitePath:       v.GetString("sqlite.path"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		VectorStoreType:  strings.ToLower(v.GetString("vector_store.type")),
		QdrantURL:        v.GetString("qdrant.url"),
		QdrantAPIKey:     v.GetString("qdrant.api_key"),
		QdrantCollection: v.GetString("qdrant.collection"),
		AIBaseURL:        v.GetString("ai.base_url"),
		AIAPIKey:         v.GetString("ai.api_key"),
		GenerationModel:  v.GetString("ai.generation_model"),
		EmbeddingModel:   v.GetString("ai.embedding_model"),
		EmbeddingBatch:   v.GetInt("ai.embedding_batch"),
		Temperature:      float32(v.GetFloat64("ai.temperature")),
		MaxTokens:        v.GetInt("ai.max_tokens"),
		GenerationWait:   generationWait,
		RetryBackoff:     retryBackoff,
		TopK:             v.GetInt("retrieval.top_k"),
		SimilarityFloor:  v.GetFloat64("retrieval.similarity_floor"),
		MaxChunkChars:    v.GetInt("chunker.max_chars"),
		OverlapSentences: v.GetInt("chunker.overlap_sentences"),
		MarkschemesDir:   v.GetString("markschemes.dir"),
		ResultCacheTTL:   cacheTTL,
	}

	if cfg.DatabaseDriver == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be set when the postgres driver is selected")
	}

	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}

	if cfg.SimilarityFloor < 0 || cfg.SimilarityFloor > 1 {
		return Config{}, fmt.Errorf("similarity floor must be within [0, 1]")
	}

	if cfg.EmbeddingBatch <= 0 {
		cfg.EmbeddingBatch = 32
	}

	return cfg, nil
}
