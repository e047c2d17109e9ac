package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/examgrade/examgrade-api/internal/config"
	"github.com/examgrade/examgrade-api/internal/utils"
	"github.com/examgrade/examgrade-api/internal/vectorstore"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	Service         string    `json:"service"`
	Environment     string    `json:"environment"`
	GenerationModel string    `json:"generation_model"`
	EmbeddingModel  string    `json:"embedding_model"`
	IndexedChunks   int64     `json:"indexed_chunks"`
	VectorIndex     string    `json:"vector_index"`
}

// HealthCheck returns a handler that reports application health, including
// whether the vector index is reachable and how many chunks it holds.
func HealthCheck(cfg config.Config, store vectorstore.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:          "ok",
			Timestamp:       time.Now().UTC(),
			Service:         cfg.AppName,
			Environment:     cfg.AppEnv,
			GenerationModel: cfg.GenerationModel,
			EmbeddingModel:  cfg.EmbeddingModel,
			VectorIndex:     "ok",
		}

		if store != nil {
			count, err := store.Count(c.UserContext())
			if err != nil {
				payload.Status = "degraded"
				payload.VectorIndex = "unreachable"
			} else {
				payload.IndexedChunks = count
			}
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
