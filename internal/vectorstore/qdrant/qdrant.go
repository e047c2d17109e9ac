package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/examgrade/examgrade-api/internal/vectorstore"
)

// Store is a minimal REST gateway to a Qdrant collection. The collection uses
// cosine distance; Qdrant reports cosine similarity as the match score, which
// this gateway converts back into a distance so callers only ever see the
// 1 - distance contract.
type Store struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

// Config contains connection details for the Qdrant gateway.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// New builds a Qdrant gateway from the provided configuration.
func New(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Store{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init creates the collection if it does not already exist.
func (s *Store) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}

	return s.send(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body, nil)
}

func (s *Store) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}

	payload := make([]map[string]any, len(points))
	for i, p := range points {
		payload[i] = map[string]any{
			"id":     p.ID,
			"vector": p.Vector,
			"payload": map[string]any{
				"subject":         p.Metadata.Subject,
				"question_id":     p.Metadata.QuestionID,
				"criterion":       p.Metadata.Criterion,
				"chunk_index":     p.Metadata.ChunkIndex,
				"criterion_marks": p.Metadata.CriterionMarks,
				"total_marks":     p.Metadata.TotalMarks,
				"text":            p.Text,
			},
		}
	}

	body := map[string]any{"points": payload}
	return s.send(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body, nil)
}

func (s *Store) Query(ctx context.Context, vector []float32, filter vectorstore.Filter, topK int) ([]vectorstore.QueryResult, error) {
	if topK <= 0 {
		topK = 5
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if clause := filterClause(filter); clause != nil {
		req["filter"] = clause
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	if err := s.send(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp); err != nil {
		return nil, err
	}

	results := make([]vectorstore.QueryResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		result := vectorstore.QueryResult{
			Distance: 1 - r.Score,
		}
		if id, ok := r.ID.(string); ok {
			result.ID = id
		}
		if v, ok := r.Payload["text"].(string); ok {
			result.Text = v
		}
		if v, ok := r.Payload["subject"].(string); ok {
			result.Metadata.Subject = v
		}
		if v, ok := r.Payload["question_id"].(string); ok {
			result.Metadata.QuestionID = v
		}
		if v, ok := r.Payload["criterion"].(string); ok {
			result.Metadata.Criterion = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			result.Metadata.ChunkIndex = int(v)
		}
		if v, ok := r.Payload["criterion_marks"].(float64); ok {
			result.Metadata.CriterionMarks = v
		}
		if v, ok := r.Payload["total_marks"].(float64); ok {
			result.Metadata.TotalMarks = v
		}
		results = append(results, result)
	}

	return results, nil
}

// Reset deletes every point matching the filter. An empty filter drops and
// leaves the collection to be recreated on the next Init.
func (s *Store) Reset(ctx context.Context, filter vectorstore.Filter) error {
	clause := filterClause(filter)
	if clause == nil {
		return s.send(ctx, http.MethodDelete, fmt.Sprintf("%s/collections/%s", s.url, s.collection), nil, nil)
	}

	body := map[string]any{"filter": clause}
	return s.send(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}

	if err := s.send(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/count", s.url, s.collection), map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}

	return resp.Result.Count, nil
}

func filterClause(filter vectorstore.Filter) map[string]any {
	var must []map[string]any
	if filter.Subject != "" {
		must = append(must, map[string]any{"key": "subject", "match": map[string]any{"value": filter.Subject}})
	}
	if filter.QuestionID != "" {
		must = append(must, map[string]any{"key": "question_id", "match": map[string]any{"value": filter.QuestionID}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (s *Store) send(ctx context.Context, method, url string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}

	return nil
}
