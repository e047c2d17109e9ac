package feedback

import (
	"fmt"
	"strings"

	"github.com/examgrade/examgrade-api/internal/scoring"
)

// Thresholds for classifying criteria. A criterion counts as a strength when
// the student earned at least 80% of its marks and as a weakness at 30% or
// below.
const (
	strengthRatio = 0.8
	weaknessRatio = 0.3
)

// Feedback is the derived, rule-based feedback package. It is computed
// entirely from the criterion scores, with no further model calls, so the
// same scores always yield the same feedback.
type Feedback struct {
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
}

// Synthesize derives strengths, weaknesses, and improvement suggestions from
// the per-criterion results. Each weakness's missing points are folded into
// the suggestions verbatim.
func Synthesize(scores []scoring.CriterionScore, summary scoring.Summary, confidence string) Feedback {
	fb := Feedback{
		Strengths:   []string{},
		Weaknesses:  []string{},
		Suggestions: []string{},
	}

	seen := map[string]bool{}
	for _, score := range scores {
		if score.MaxMarks <= 0 {
			continue
		}
		ratio := score.AwardedMarks / score.MaxMarks

		switch {
		case ratio >= strengthRatio:
			fb.Strengths = append(fb.Strengths, fmt.Sprintf("%s: %s", score.Criterion, score.Justification))
		case ratio <= weaknessRatio:
			fb.Weaknesses = append(fb.Weaknesses, fmt.Sprintf("%s: %s", score.Criterion, score.Justification))
			for _, point := range score.MissingPoints {
				if point = strings.TrimSpace(point); point != "" && !seen[point] {
					seen[point] = true
					fb.Suggestions = append(fb.Suggestions, point)
				}
			}
		}
	}

	if len(fb.Weaknesses) > 0 && len(fb.Suggestions) == 0 {
		fb.Suggestions = append(fb.Suggestions, "Review the marking criteria you scored lowest on and address each required point directly.")
	}

	fb.Summary = buildSummary(summary, confidence, len(fb.Weaknesses))

	return fb
}

func buildSummary(summary scoring.Summary, confidence string, weaknesses int) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("Score: %.1f/%.1f (%.1f%%) - Grade: %s. ", summary.TotalAwarded, summary.TotalPossible, summary.Percentage, summary.Grade))

	switch {
	case summary.Percentage >= 80:
		b.WriteString("Excellent work, the answer demonstrates strong command of the marking criteria.")
	case summary.Percentage >= 60:
		b.WriteString("A solid answer with room for improvement on some criteria.")
	case summary.Percentage >= 40:
		b.WriteString("The answer covers part of what the scheme requires; several key points were missed.")
	default:
		b.WriteString("The answer misses most of what the marking scheme requires.")
	}

	b.WriteString(fmt.Sprintf(" Criteria met: %d fully, %d partially, %d not met.", summary.FullyMet, summary.PartiallyMet, summary.Unmet))

	if summary.Unmet > 0 && weaknesses > 0 {
		b.WriteString(" Unaddressed criteria scored zero marks; see the weaknesses below.")
	}

	if confidence == "low" {
		b.WriteString(" Note: this evaluation has low confidence due to degraded retrieval or model output; manual review is recommended.")
	}

	return b.String()
}
