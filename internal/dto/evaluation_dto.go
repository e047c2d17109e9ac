package dto

import (
	"time"

	"github.com/examgrade/examgrade-api/internal/feedback"
	"github.com/examgrade/examgrade-api/internal/retrieval"
	"github.com/examgrade/examgrade-api/internal/scoring"
)

// EvaluateRequest is the payload submitted to grade an answer.
type EvaluateRequest struct {
	Subject    string `json:"subject" validate:"required,min=2,max=128"`
	QuestionID string `json:"question_id" validate:"required,min=1,max=64"`
	Answer     string `json:"answer" validate:"required,min=10"`
}

// EvaluationResponse is the full, self-contained result of one evaluation.
// Totals are recomputed by the aggregator, never echoed from the model.
type EvaluationResponse struct {
	ID               uint                       `json:"id,omitempty"`
	Subject          string                     `json:"subject"`
	QuestionID       string                     `json:"question_id"`
	Answer           string                     `json:"answer"`
	RetrievedContext retrieval.RetrievedContext `json:"retrieved_context"`
	CriteriaScores   []scoring.CriterionScore   `json:"criteria_scores"`
	TotalAwarded     float64                    `json:"total_awarded"`
	TotalPossible    float64                    `json:"total_possible"`
	Percentage       float64                    `json:"percentage"`
	Grade            string                     `json:"grade"`
	Feedback         string                     `json:"feedback"`
	Strengths        []string                   `json:"strengths"`
	Weaknesses       []string                   `json:"weaknesses"`
	Suggestions      []string                   `json:"suggestions"`
	Confidence       string                     `json:"confidence"`
	Warnings         []string                   `json:"warnings"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// ApplyFeedback copies the synthesized feedback package onto the response.
func (r *EvaluationResponse) ApplyFeedback(fb feedback.Feedback) {
	r.Feedback = fb.Summary
	r.Strengths = fb.Strengths
	r.Weaknesses = fb.Weaknesses
	r.Suggestions = fb.Suggestions
}

// EvaluationHistoryResponse summarizes a stored evaluation for list views.
type EvaluationHistoryResponse struct {
	ID            uint      `json:"id"`
	Subject       string    `json:"subject"`
	QuestionID    string    `json:"question_id"`
	TotalAwarded  float64   `json:"total_awarded"`
	TotalPossible float64   `json:"total_possible"`
	Grade         string    `json:"grade"`
	Confidence    string    `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// EvaluationListFilter describes the query string filters for history lookups.
type EvaluationListFilter struct {
	Subject    *string `query:"subject"`
	QuestionID *string `query:"question_id"`
	Limit      int     `query:"limit" validate:"omitempty,gte=1,lte=500"`
}
