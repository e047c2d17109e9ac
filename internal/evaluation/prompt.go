package evaluation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/examgrade/examgrade-api/internal/retrieval"
	"github.com/examgrade/examgrade-api/pkg/ai"
)

// ErrInsufficientContext indicates retrieval produced no marking criteria to
// ground the evaluation on. Callers short-circuit to a zero-confidence result
// instead of invoking the generation capability.
var ErrInsufficientContext = errors.New("no marking criteria retrieved for this question")

// Request is a finished evaluation request: the grounded prompt plus the
// low-variance sampling options it must be generated with.
type Request struct {
	Prompt  string
	Options ai.GenerateOptions
}

// RequestBuilder composes deterministic, context-bounded evaluation prompts.
// The same answer and context always produce the same prompt.
type RequestBuilder struct {
	temperature float32
	maxTokens   int
}

// NewRequestBuilder fixes the sampling settings applied to every request.
func NewRequestBuilder(temperature float32, maxTokens int) *RequestBuilder {
	return &RequestBuilder{temperature: temperature, maxTokens: maxTokens}
}

// Build composes the evaluation prompt from the retrieved criteria and the
// submitted answer. The prompt restricts grading to the supplied context and
// pins a literal JSON output schema with no prose allowed around it.
func (b *RequestBuilder) Build(answerText string, context retrieval.RetrievedContext) (Request, error) {
	if context.Empty() {
		return Request{}, ErrInsufficientContext
	}

	builder := strings.Builder{}
	builder.WriteString("You are an exam grader. Evaluate the student's answer STRICTLY against the marking criteria below.\n\n")
	builder.WriteString("RULES:\n")
	builder.WriteString("1. Use ONLY the criteria provided below. Do not invent or assume additional criteria.\n")
	builder.WriteString("2. Award marks only for points explicitly required by a criterion.\n")
	builder.WriteString("3. If a criterion cannot be assessed from the provided context, award 0 and say so in the justification.\n")
	builder.WriteString("4. Be objective and consistent. Partial marks are allowed.\n\n")
	builder.WriteString("MARKING CRITERIA:\n")

	for i, chunk := range context {
		builder.WriteString(fmt.Sprintf("\nCRITERION %d", i+1))
		if chunk.Metadata.CriterionMarks > 0 {
			builder.WriteString(fmt.Sprintf(" (max %.1f marks)", chunk.Metadata.CriterionMarks))
		}
		builder.WriteString(fmt.Sprintf(" [relevance %.2f]:\n", chunk.Similarity))
		builder.WriteString(chunk.Text)
		builder.WriteString("\n")
	}

	builder.WriteString("\nSTUDENT ANSWER:\n")
	builder.WriteString(answerText)
	builder.WriteString("\n\n")
	builder.WriteString("Evaluate the answer against EACH criterion above, in order.\n")
	builder.WriteString("Respond with ONLY this JSON object, no additional text:\n")
	builder.WriteString(`{
  "criteria_evaluations": [
    {
      "criterion_id": <the CRITERION number above>,
      "criterion": "<short restatement of the criterion>",
      "max_marks": <number>,
      "awarded_marks": <number between 0 and max_marks>,
      "justification": "<why marks were awarded or withheld>",
      "missing_points": ["<required point the answer missed>"]
    }
  ]
}`)
	builder.WriteString("\n")

	return Request{
		Prompt: builder.String(),
		Options: ai.GenerateOptions{
			Temperature: b.temperature,
			MaxTokens:   b.maxTokens,
		},
	}, nil
}
