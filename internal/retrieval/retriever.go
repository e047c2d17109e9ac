package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/examgrade/examgrade-api/internal/vectorstore"
	"github.com/examgrade/examgrade-api/pkg/ai"
)

var retrievedChunks = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "examgrade",
	Subsystem: "retrieval",
	Name:      "chunks_returned",
	Help:      "Number of chunks clearing the similarity floor per retrieval",
	Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
}, []string{"subject"})

// RetrievedChunk is one ranked match: chunk text, its metadata, and the
// similarity score derived from the store distance.
type RetrievedChunk struct {
	Text       string               `json:"text"`
	Metadata   vectorstore.Metadata `json:"metadata"`
	Similarity float64              `json:"similarity"`
}

// RetrievedContext is the ranked context for one evaluation. Similarities are
// monotonically non-increasing by rank and every entry clears the configured
// floor. It is constructed per request and echoed into the result for
// transparency.
type RetrievedContext []RetrievedChunk

// Empty reports whether nothing cleared the similarity floor. An empty
// context is a valid low-confidence outcome, not a fault.
func (rc RetrievedContext) Empty() bool { return len(rc) == 0 }

// Retriever embeds answer text and resolves the most relevant marking
// criteria from the vector index.
type Retriever struct {
	embedder ai.Embedder
	store    vectorstore.Store
	topK     int
	floor    float64
	logger   zerolog.Logger
}

// New constructs a retriever with the configured result budget and
// similarity floor.
func New(embedder ai.Embedder, store vectorstore.Store, topK int, floor float64, logger zerolog.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}

	return &Retriever{
		embedder: embedder,
		store:    store,
		topK:     topK,
		floor:    floor,
		logger:   logger.With().Str("component", "retriever").Logger(),
	}
}

// Retrieve embeds the answer, queries the index filtered to the exact
// subject/question pair, drops matches below the similarity floor, and
// returns the survivors ranked by descending similarity. Ties keep the
// store's original order for determinism.
func (r *Retriever) Retrieve(ctx context.Context, answerText, subject, questionID string) (RetrievedContext, error) {
	vectors, err := r.embedder.Embed(ctx, []string{answerText})
	if err != nil {
		return nil, fmt.Errorf("embed answer: %w", err)
	}

	filter := vectorstore.Filter{Subject: subject, QuestionID: questionID}
	matches, err := r.store.Query(ctx, vectors[0], filter, r.topK)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}

	kept := make(RetrievedContext, 0, len(matches))
	for _, match := range matches {
		if !filter.Matches(match.Metadata) {
			continue
		}

		similarity := round4(1 - match.Distance)
		if similarity < r.floor {
			continue
		}

		kept = append(kept, RetrievedChunk{
			Text:       match.Text,
			Metadata:   match.Metadata,
			Similarity: similarity,
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Similarity > kept[j].Similarity
	})

	retrievedChunks.WithLabelValues(subject).Observe(float64(len(kept)))

	r.logger.Debug().
		Str("subject", subject).
		Str("question_id", questionID).
		Int("matches", len(matches)).
		Int("kept", len(kept)).
		Float64("floor", r.floor).
		Msg("retrieval complete")

	return kept, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
