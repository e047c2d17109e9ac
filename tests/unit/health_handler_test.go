package unit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examgrade/examgrade-api/internal/config"
	"github.com/examgrade/examgrade-api/internal/handler"
	"github.com/examgrade/examgrade-api/internal/vectorstore"
	"github.com/examgrade/examgrade-api/internal/vectorstore/memory"
)

type response struct {
	Success bool                   `json:"success"`
	Data    handler.HealthResponse `json:"data"`
}

func TestHealthCheck(t *testing.T) {
	cfg := config.Config{
		AppName:         "Examgrade API",
		AppEnv:          "test",
		GenerationModel: "llama3.1:8b",
		EmbeddingModel:  "nomic-embed-text",
	}

	store := memory.New()
	require.NoError(t, store.Upsert(context.Background(), []vectorstore.Point{
		{ID: "a", Vector: []float32{1, 0}, Text: "criterion", Metadata: vectorstore.Metadata{Subject: "biology", QuestionID: "q1"}},
	}))

	app := fiber.New()
	app.Get("/api/v1/health", handler.HealthCheck(cfg, store))

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to execute request: %v", err)
	}

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload response
	err = json.NewDecoder(resp.Body).Decode(&payload)
	assert.NoError(t, err)
	assert.True(t, payload.Success)
	assert.Equal(t, "ok", payload.Data.Status)
	assert.Equal(t, cfg.AppName, payload.Data.Service)
	assert.Equal(t, cfg.AppEnv, payload.Data.Environment)
	assert.Equal(t, cfg.GenerationModel, payload.Data.GenerationModel)
	assert.EqualValues(t, 1, payload.Data.IndexedChunks)
	assert.WithinDuration(t, time.Now().UTC(), payload.Data.Timestamp, 2*time.Second)
}
