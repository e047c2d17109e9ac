package vectorstore

import "context"

// Metadata carries the marking-scheme attributes attached to every indexed chunk.
type Metadata struct {
	Subject        string  `json:"subject"`
	QuestionID     string  `json:"question_id"`
	Criterion      string  `json:"criterion"`
	ChunkIndex     int     `json:"chunk_index"`
	CriterionMarks float64 `json:"criterion_marks"`
	TotalMarks     float64 `json:"total_marks"`
}

// Point is a single (vector, text, metadata) tuple stored in the index.
type Point struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Filter restricts queries and resets to exact subject/question matches.
type Filter struct {
	Subject    string
	QuestionID string
}

// Matches reports whether the metadata satisfies the filter exactly.
func (f Filter) Matches(m Metadata) bool {
	if f.Subject != "" && m.Subject != f.Subject {
		return false
	}
	if f.QuestionID != "" && m.QuestionID != f.QuestionID {
		return false
	}
	return true
}

// QueryResult is one nearest-neighbour match. Distance semantics depend on the
// backing store; callers convert to a similarity via 1 - distance and must not
// rely on anything beyond that.
type QueryResult struct {
	ID       string
	Text     string
	Metadata Metadata
	Distance float64
}

// Store persists chunk vectors and answers filtered nearest-neighbour queries.
// Reads may run concurrently; writes happen during the offline ingestion phase.
type Store interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []Point) error
	Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]QueryResult, error)
	// Reset removes every point matching the filter so re-ingestion of a
	// subject/question pair stays idempotent.
	Reset(ctx context.Context, filter Filter) error
	Count(ctx context.Context) (int64, error)
}
