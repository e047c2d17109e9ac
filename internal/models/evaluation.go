package models

import (
	"time"

	"gorm.io/datatypes"
)

// Evaluation is the durable record of one completed answer evaluation. It is
// written once when the pipeline finishes and never mutated afterwards.
type Evaluation struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Subject          string         `gorm:"size:128;not null;index:idx_subject_question" json:"subject"`
	QuestionID       string         `gorm:"size:64;not null;index:idx_subject_question" json:"question_id"`
	AnswerText       string         `gorm:"type:text;not null" json:"answer_text"`
	TotalAwarded     float64        `gorm:"not null" json:"total_awarded"`
	TotalPossible    float64        `gorm:"not null" json:"total_possible"`
	Percentage       float64        `json:"percentage"`
	Grade            string         `gorm:"size:8" json:"grade"`
	Confidence       string         `gorm:"size:16" json:"confidence"`
	CriteriaScores   datatypes.JSON `json:"criteria_scores"`
	RetrievedContext datatypes.JSON `json:"retrieved_context"`
	FeedbackSummary  string         `gorm:"type:text" json:"feedback_summary"`
	Strengths        datatypes.JSON `json:"strengths"`
	Weaknesses       datatypes.JSON `json:"weaknesses"`
	Suggestions      datatypes.JSON `json:"suggestions"`
	Warnings         datatypes.JSON `json:"warnings"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
}
