package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
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
	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "examgrade",
		Subsystem: "ai",
		Name:      "generation_duration_seconds",
		Help:      "Duration of grounded generation requests",
	}, []string{"model"})

	generationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "examgrade",
		Subsystem: "ai",
		Name:      "generation_failures_total",
		Help:      "Number of failed generation requests",
	}, []string{"model"})
)

// GeneratorConfig defines configuration options for the OpenAI-compatible
// generator. A non-default BaseURL points the client at any compatible
// endpoint, including a local Ollama server.
type GeneratorConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	RetryBackoff time.Duration
	Logger       zerolog.Logger
}

// OpenAIGenerator implements Generator against an OpenAI-compatible chat
// completion API.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    GeneratorConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGenerator builds a generator from the provided configuration.
func NewOpenAIGenerator(cfg GeneratorConfig) (*OpenAIGenerator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("generation model is required")
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local OpenAI-compatible servers accept any token.
		apiKey = "unused"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/examgrade/examgrade-api/pkg/ai"),
		logger: cfg.Logger.With().Str("component", "generator").Logger(),
	}, nil
}

// Generate sends the prompt to the generation capability and returns the raw
// response text. Transport failures get a single retry with a fixed backoff;
// malformed content is never retried here, that is the parser's concern.
func (g *OpenAIGenerator) Generate(parent context.Context, prompt string, opts GenerateOptions) (string, error) {
	ctx, span := g.tracer.Start(parent, "ai.generate", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
	))
	defer span.End()

	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, request)
	if err != nil && isTransient(err) && ctx.Err() == nil {
		g.logger.Warn().Err(err).Dur("backoff", g.cfg.RetryBackoff).Msg("generation transport failure, retrying once")
		select {
		case <-time.After(g.cfg.RetryBackoff):
		case <-ctx.Done():
		}
		if ctx.Err() == nil {
			resp, err = g.client.CreateChatCompletion(ctx, request)
		}
	}
	generationDuration.WithLabelValues(g.cfg.Model).Observe(time.Since(start).Seconds())

	if err != nil {
		generationFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		generationFailures.WithLabelValues(g.cfg.Model).Inc()
		err := fmt.Errorf("%w: no choices returned", ErrGenerationUnavailable)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// isTransient reports whether the error looks like a transport-level failure
// worth a single retry, as opposed to a rejected request.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0
	}

	return false
}
