package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func chatCompletionResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "llama3.1:8b",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

func newGenerator(t *testing.T, handler http.HandlerFunc) *OpenAIGenerator {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	generator, err := NewOpenAIGenerator(GeneratorConfig{
		BaseURL:      server.URL + "/v1",
		Model:        "llama3.1:8b",
		RetryBackoff: 10 * time.Millisecond,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return generator
}

func TestGenerateReturnsContent(t *testing.T) {
	generator := newGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "llama3.1:8b", req["model"])
		require.InDelta(t, 0.1, req["temperature"], 1e-6)

		require.NoError(t, json.NewEncoder(w).Encode(chatCompletionResponse(`{"criteria_evaluations": []}`)))
	})

	raw, err := generator.Generate(context.Background(), "grade this", GenerateOptions{Temperature: 0.1, MaxTokens: 256})
	require.NoError(t, err)
	require.Equal(t, `{"criteria_evaluations": []}`, raw)
}

func TestGenerateRetriesOnceOnServerError(t *testing.T) {
	var calls int
	generator := newGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(chatCompletionResponse("ok")))
	})

	raw, err := generator.Generate(context.Background(), "grade this", GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", raw)
	require.Equal(t, 2, calls)
}

func TestGenerateGivesUpAfterRetry(t *testing.T) {
	var calls int
	generator := newGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := generator.Generate(context.Background(), "grade this", GenerateOptions{})
	require.ErrorIs(t, err, ErrGenerationUnavailable)
	require.Equal(t, 2, calls)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	generator := newGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad request", "type": "invalid_request_error"}}`))
	})

	_, err := generator.Generate(context.Background(), "grade this", GenerateOptions{})
	require.ErrorIs(t, err, ErrGenerationUnavailable)
	require.Equal(t, 1, calls)
}

func TestGenerateTimeout(t *testing.T) {
	generator := newGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		require.NoError(t, json.NewEncoder(w).Encode(chatCompletionResponse("late")))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := generator.Generate(ctx, "grade this", GenerateOptions{})
	require.ErrorIs(t, err, ErrGenerationTimeout)
}

func TestNewOpenAIGeneratorRequiresModel(t *testing.T) {
	_, err := NewOpenAIGenerator(GeneratorConfig{})
	require.Error(t, err)
}

func TestEmbedBatchesAndPreservesOrder(t *testing.T) {
	var batchSizes []int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Input))

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			// reversed order in the response, index field must win
			data[len(req.Input)-1-i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i])), 1, 0},
			}
		}

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "nomic-embed-text",
		}))
	}))
	t.Cleanup(server.Close)

	embedder, err := NewOpenAIEmbedder(EmbedderConfig{
		BaseURL:   server.URL + "/v1",
		Model:     "nomic-embed-text",
		BatchSize: 2,
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc"}
	vectors, err := embedder.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	require.Equal(t, []int{2, 1}, batchSizes)

	for i, text := range texts {
		require.Equal(t, float32(len(text)), vectors[i][0])
	}
	require.Equal(t, 3, embedder.Dimension())
}

func TestEmbedConcurrentCallsAgreeOnDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{1, 0, 0},
			}
		}

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "nomic-embed-text",
		}))
	}))
	t.Cleanup(server.Close)

	embedder, err := NewOpenAIEmbedder(EmbedderConfig{BaseURL: server.URL + "/v1", Model: "nomic-embed-text", Logger: testLogger()})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := embedder.Embed(context.Background(), []string{"answer text"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 3, embedder.Dimension())
}

func TestEmbedFailureWrapsSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	embedder, err := NewOpenAIEmbedder(EmbedderConfig{BaseURL: server.URL + "/v1", Model: "nomic-embed-text", Logger: testLogger()})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{"text"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
}
