package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/examgrade/examgrade-api/internal/retrieval"
	"github.com/examgrade/examgrade-api/internal/scoring"
)

// ErrMalformedOutput indicates the model response contained no parseable
// structured payload at all. Range violations are not malformed output; they
// are clamped and flagged instead.
var ErrMalformedOutput = errors.New("model output could not be parsed")

// outputSchema is the literal contract the generation capability is asked to
// honour. Responses are validated against it before any scoring happens.
const outputSchema = `{
  "type": "object",
  "required": ["criteria_evaluations"],
  "properties": {
    "criteria_evaluations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["criterion_id", "max_marks", "awarded_marks", "justification"],
        "properties": {
          "criterion_id": {"type": "integer", "minimum": 1},
          "criterion": {"type": "string"},
          "max_marks": {"type": "number"},
          "awarded_marks": {"type": "number"},
          "justification": {"type": "string"},
          "missing_points": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var outputValidator = jsonschema.MustCompileString("evaluation_output.json", outputSchema)

// ExpectedCriterion is one criterion the parsed output must account for,
// derived from the retrieved context. MaxMarks is zero when the scheme text
// did not declare an explicit allocation.
type ExpectedCriterion struct {
	ID       int
	Label    string
	MaxMarks float64
}

// ExpectedFromContext numbers the retrieved chunks the same way the prompt
// enumerates them, so parsed criterion ids resolve positionally.
func ExpectedFromContext(context retrieval.RetrievedContext) []ExpectedCriterion {
	expected := make([]ExpectedCriterion, 0, len(context))
	for i, chunk := range context {
		label := chunk.Metadata.Criterion
		if label == "" {
			label = truncate(chunk.Text, 120)
		}
		expected = append(expected, ExpectedCriterion{
			ID:       i + 1,
			Label:    label,
			MaxMarks: chunk.Metadata.CriterionMarks,
		})
	}
	return expected
}

type parsedEvaluation struct {
	CriteriaEvaluations []parsedCriterion `json:"criteria_evaluations"`
}

type parsedCriterion struct {
	CriterionID   int      `json:"criterion_id"`
	Criterion     string   `json:"criterion"`
	MaxMarks      float64  `json:"max_marks"`
	AwardedMarks  float64  `json:"awarded_marks"`
	Justification string   `json:"justification"`
	MissingPoints []string `json:"missing_points"`
}

// Parse extracts the structured payload from the raw model output, validates
// it, and maps it onto the expected criterion set. Every expected criterion
// appears exactly once in the result: entries the model skipped are
// synthesized as zero-mark "not addressed" placeholders rather than dropped.
// Out-of-range marks are clamped into [0, max] and rounded to the nearest
// 0.5, with a warning for each adjustment.
func Parse(raw string, expected []ExpectedCriterion) ([]scoring.CriterionScore, []string, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	if err := outputValidator.Validate(doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var parsed parsedEvaluation
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var warnings []string
	byID := make(map[int]parsedCriterion, len(parsed.CriteriaEvaluations))
	for _, entry := range parsed.CriteriaEvaluations {
		if _, duplicate := byID[entry.CriterionID]; duplicate {
			warnings = append(warnings, fmt.Sprintf("criterion %d returned more than once, keeping the first entry", entry.CriterionID))
			continue
		}
		if entry.CriterionID < 1 || entry.CriterionID > len(expected) {
			warnings = append(warnings, fmt.Sprintf("criterion %d is not part of the retrieved context, discarding", entry.CriterionID))
			continue
		}
		byID[entry.CriterionID] = entry
	}

	scores := make([]scoring.CriterionScore, 0, len(expected))
	for _, want := range expected {
		entry, found := byID[want.ID]
		if !found {
			scores = append(scores, scoring.CriterionScore{
				CriterionID:   want.ID,
				Criterion:     want.Label,
				MaxMarks:      placeholderMax(want.MaxMarks),
				AwardedMarks:  0,
				Justification: "Not addressed: the evaluation did not cover this criterion.",
				MissingPoints: []string{want.Label},
				NotAddressed:  true,
			})
			continue
		}

		score, entryWarnings := normalize(entry, want)
		scores = append(scores, score)
		warnings = append(warnings, entryWarnings...)
	}

	return scores, warnings, nil
}

// normalize resolves the criterion's max marks against the scheme when the
// scheme declares them, then clamps and rounds the awarded marks.
func normalize(entry parsedCriterion, want ExpectedCriterion) (scoring.CriterionScore, []string) {
	var warnings []string

	maxMarks := entry.MaxMarks
	if want.MaxMarks > 0 {
		if maxMarks != want.MaxMarks {
			warnings = append(warnings, fmt.Sprintf("criterion %d: model reported max %.1f, scheme declares %.1f", want.ID, maxMarks, want.MaxMarks))
		}
		maxMarks = want.MaxMarks
	}
	if maxMarks <= 0 {
		maxMarks = 1
	}

	awarded := entry.AwardedMarks
	if awarded < 0 {
		warnings = append(warnings, fmt.Sprintf("criterion %d: awarded %.1f clamped to 0", want.ID, awarded))
		awarded = 0
	}
	if awarded > maxMarks {
		warnings = append(warnings, fmt.Sprintf("criterion %d: awarded %.1f clamped to max %.1f", want.ID, awarded, maxMarks))
		awarded = maxMarks
	}
	awarded = roundHalf(awarded)

	label := strings.TrimSpace(entry.Criterion)
	if label == "" {
		label = want.Label
	}

	missing := entry.MissingPoints
	if missing == nil {
		missing = []string{}
	}

	return scoring.CriterionScore{
		CriterionID:   want.ID,
		Criterion:     label,
		MaxMarks:      maxMarks,
		AwardedMarks:  awarded,
		Justification: entry.Justification,
		MissingPoints: missing,
	}, warnings
}

// extractJSON tolerates the prose and code fences models add despite
// instructions, and returns the outermost JSON object.
func extractJSON(raw string) (string, bool) {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.Index(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}

	return text[start : end+1], true
}

func placeholderMax(declared float64) float64 {
	if declared > 0 {
		return declared
	}
	return 1
}

func roundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return strings.TrimSpace(s[:limit])
}
