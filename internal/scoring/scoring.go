package scoring

import (
	"fmt"
	"math"
	"strings"
)

// CriterionScore is the graded outcome for a single marking criterion.
// Awarded marks never exceed max marks once the parser has clamped them.
type CriterionScore struct {
	CriterionID   int      `json:"criterion_id"`
	Criterion     string   `json:"criterion"`
	MaxMarks      float64  `json:"max_marks"`
	AwardedMarks  float64  `json:"awarded_marks"`
	Justification string   `json:"justification"`
	MissingPoints []string `json:"missing_points"`
	NotAddressed  bool     `json:"not_addressed,omitempty"`
}

// Summary is the aggregated scoring outcome. Totals are recomputed from the
// criterion scores and never trusted from upstream.
type Summary struct {
	TotalAwarded  float64  `json:"total_awarded"`
	TotalPossible float64  `json:"total_possible"`
	Percentage    float64  `json:"percentage"`
	Grade         string   `json:"grade"`
	FullyMet      int      `json:"fully_met"`
	PartiallyMet  int      `json:"partially_met"`
	Unmet         int      `json:"unmet"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Aggregate sums the criterion scores and validates them against the scheme's
// declared total. Inconsistencies become warnings, never errors: a partial,
// explainable result beats a hard failure.
func Aggregate(scores []CriterionScore, declaredTotal float64) Summary {
	summary := Summary{}

	for i, score := range scores {
		summary.TotalAwarded += score.AwardedMarks
		summary.TotalPossible += score.MaxMarks

		switch {
		case score.MaxMarks > 0 && score.AwardedMarks >= score.MaxMarks:
			summary.FullyMet++
		case score.AwardedMarks > 0:
			summary.PartiallyMet++
		default:
			summary.Unmet++
		}

		if score.AwardedMarks > score.MaxMarks {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("criterion %d: awarded marks (%.1f) exceed maximum (%.1f)", i+1, score.AwardedMarks, score.MaxMarks))
		}
		if score.AwardedMarks < 0 {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("criterion %d: negative marks awarded (%.1f)", i+1, score.AwardedMarks))
		}
		if len(strings.TrimSpace(score.Justification)) < 10 {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("criterion %d: insufficient justification provided", i+1))
		}
		if score.NotAddressed {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("criterion %d (%s): not addressed in the answer", i+1, score.Criterion))
		}
	}

	if declaredTotal > 0 && summary.TotalPossible != declaredTotal {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("retrieved criteria cover %.1f marks but the scheme declares %.1f", summary.TotalPossible, declaredTotal))
	}

	if summary.TotalPossible > 0 {
		summary.Percentage = math.Round(summary.TotalAwarded/summary.TotalPossible*100*100) / 100
	}
	summary.Grade = GradeFor(summary.Percentage)

	return summary
}

// GradeFor converts a percentage into a letter grade.
func GradeFor(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 85:
		return "A"
	case percentage >= 80:
		return "A-"
	case percentage >= 75:
		return "B+"
	case percentage >= 70:
		return "B"
	case percentage >= 65:
		return "B-"
	case percentage >= 60:
		return "C+"
	case percentage >= 55:
		return "C"
	case percentage >= 50:
		return "C-"
	case percentage >= 45:
		return "D"
	default:
		return "F"
	}
}
