package ai

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	embeddingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "examgrade",
		Subsystem: "ai",
		Name:      "embedding_duration_seconds",
		Help:      "Duration of embedding batch requests",
	}, []string{"model"})

	embeddingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "examgrade",
		Subsystem: "ai",
		Name:      "embedding_failures_total",
		Help:      "Number of failed embedding batches",
	}, []string{"model"})
)

// EmbedderConfig defines configuration for the OpenAI-compatible embedder.
type EmbedderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	BatchSize int
	Logger    zerolog.Logger
}

// OpenAIEmbedder implements Embedder against an OpenAI-compatible embeddings
// API, batching internally.
type OpenAIEmbedder struct {
	client    *openai.Client
	cfg       EmbedderConfig
	dimension atomic.Int32
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewOpenAIEmbedder builds an embedder from the provided configuration.
func NewOpenAIEmbedder(cfg EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "unused"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/examgrade/examgrade-api/pkg/ai"),
		logger: cfg.Logger.With().Str("component", "embedder").Logger(),
	}, nil
}

// Embed returns one vector per input text, preserving input order. A failure
// in any underlying batch fails the whole call; partial results are never
// returned.
func (e *OpenAIEmbedder) Embed(parent context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := e.tracer.Start(parent, "ai.embed", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.Int("texts", len(texts)),
	))
	defer span.End()

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			embeddingFailures.WithLabelValues(e.cfg.Model).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}

		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// Dimension returns the dimensionality observed on the first successful call,
// zero before that.
func (e *OpenAIEmbedder) Dimension() int {
	return int(e.dimension.Load())
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.cfg.Model),
		Input: texts,
	})
	embeddingDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}

	e.dimension.CompareAndSwap(0, int32(len(vectors[0])))

	return vectors, nil
}
