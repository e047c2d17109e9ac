package ai

import (
	"context"
	"errors"
)

// ErrGenerationUnavailable indicates the generation capability could not be
// reached even after the bounded retry.
var ErrGenerationUnavailable = errors.New("generation capability unavailable")

// ErrGenerationTimeout indicates the caller-initiated deadline expired while
// waiting for the generation capability.
var ErrGenerationTimeout = errors.New("generation request timed out")

// ErrEmbeddingFailed indicates an embedding batch failed. No partial results
// are ever returned; a partial batch would silently misalign chunks and
// vectors.
var ErrEmbeddingFailed = errors.New("embedding batch failed")

// GenerateOptions carries the sampling settings for a single generation call.
type GenerateOptions struct {
	Temperature float32
	MaxTokens   int
}

// Generator is the narrow interface over the external text-generation
// capability. Implementations stay model-agnostic: they receive a finished
// prompt and return raw text.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Embedder converts texts into fixed-dimension vectors, one per input and in
// input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
