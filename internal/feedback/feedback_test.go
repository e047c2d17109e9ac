package feedback

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/examgrade/examgrade-api/internal/scoring"
)

func TestSynthesizeClassifiesByRatio(t *testing.T) {
	scores := []scoring.CriterionScore{
		{CriterionID: 1, Criterion: "definition", MaxMarks: 2, AwardedMarks: 2, Justification: "accurate and complete"},
		{CriterionID: 2, Criterion: "reactants", MaxMarks: 3, AwardedMarks: 1.5, Justification: "half the points covered"},
		{CriterionID: 3, Criterion: "chlorophyll", MaxMarks: 5, AwardedMarks: 1, Justification: "barely touched on", MissingPoints: []string{"role of chlorophyll in light absorption"}},
	}
	summary := scoring.Aggregate(scores, 10)

	fb := Synthesize(scores, summary, "high")

	require.Len(t, fb.Strengths, 1)
	require.Contains(t, fb.Strengths[0], "definition")
	require.Len(t, fb.Weaknesses, 1)
	require.Contains(t, fb.Weaknesses[0], "chlorophyll")
	require.Equal(t, []string{"role of chlorophyll in light absorption"}, fb.Suggestions)
}

func TestSynthesizeBoundaryRatios(t *testing.T) {
	scores := []scoring.CriterionScore{
		{CriterionID: 1, Criterion: "exactly eighty percent", MaxMarks: 5, AwardedMarks: 4, Justification: "sits exactly on the strength boundary"},
		{CriterionID: 2, Criterion: "exactly thirty percent", MaxMarks: 10, AwardedMarks: 3, Justification: "sits exactly on the weakness boundary"},
	}

	fb := Synthesize(scores, scoring.Aggregate(scores, 0), "high")
	require.Len(t, fb.Strengths, 1)
	require.Len(t, fb.Weaknesses, 1)
}

func TestSynthesizeDeduplicatesSuggestions(t *testing.T) {
	scores := []scoring.CriterionScore{
		{CriterionID: 1, Criterion: "a", MaxMarks: 4, AwardedMarks: 0, Justification: "missed the shared point entirely", MissingPoints: []string{"define the key term"}},
		{CriterionID: 2, Criterion: "b", MaxMarks: 4, AwardedMarks: 0, Justification: "missed the shared point again", MissingPoints: []string{"define the key term"}},
	}

	fb := Synthesize(scores, scoring.Aggregate(scores, 0), "high")
	require.Equal(t, []string{"define the key term"}, fb.Suggestions)
}

func TestSynthesizeFallbackSuggestion(t *testing.T) {
	scores := []scoring.CriterionScore{
		{CriterionID: 1, Criterion: "a", MaxMarks: 4, AwardedMarks: 0, Justification: "no required points were present"},
	}

	fb := Synthesize(scores, scoring.Aggregate(scores, 0), "high")
	require.Len(t, fb.Weaknesses, 1)
	require.Len(t, fb.Suggestions, 1)
}

func TestSynthesizeLowConfidenceNote(t *testing.T) {
	summary := scoring.Aggregate(nil, 0)

	fb := Synthesize(nil, summary, "low")
	require.Contains(t, fb.Summary, "manual review")

	fb = Synthesize(nil, summary, "high")
	require.NotContains(t, fb.Summary, "manual review")
}

func TestSynthesizeDeterministic(t *testing.T) {
	scores := []scoring.CriterionScore{
		{CriterionID: 1, Criterion: "a", MaxMarks: 2, AwardedMarks: 2, Justification: "all points present and correct"},
		{CriterionID: 2, Criterion: "b", MaxMarks: 3, AwardedMarks: 0, Justification: "not covered anywhere in the answer", MissingPoints: []string{"state the second law"}},
	}
	summary := scoring.Aggregate(scores, 5)

	require.Equal(t, Synthesize(scores, summary, "medium"), Synthesize(scores, summary, "medium"))
}
