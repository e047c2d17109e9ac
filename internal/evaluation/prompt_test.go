package evaluation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/examgrade/examgrade-api/internal/retrieval"
	"github.com/examgrade/examgrade-api/internal/vectorstore"
)

func sampleContext() retrieval.RetrievedContext {
	return retrieval.RetrievedContext{
		{
			Text:       "Define photosynthesis correctly (2 marks)",
			Metadata:   vectorstore.Metadata{Subject: "biology", QuestionID: "q1", Criterion: "Define photosynthesis correctly (2 marks)", CriterionMarks: 2, TotalMarks: 10},
			Similarity: 0.91,
		},
		{
			Text:       "Name the reactants and products (3 marks)",
			Metadata:   vectorstore.Metadata{Subject: "biology", QuestionID: "q1", Criterion: "Name the reactants and products (3 marks)", CriterionMarks: 3, TotalMarks: 10},
			Similarity: 0.78,
		},
	}
}

func TestBuildEnumeratesCriteria(t *testing.T) {
	builder := NewRequestBuilder(0.1, 1024)

	request, err := builder.Build("Photosynthesis converts light energy.", sampleContext())
	require.NoError(t, err)

	require.Contains(t, request.Prompt, "CRITERION 1 (max 2.0 marks)")
	require.Contains(t, request.Prompt, "CRITERION 2 (max 3.0 marks)")
	require.Contains(t, request.Prompt, "[relevance 0.91]")
	require.Contains(t, request.Prompt, "STUDENT ANSWER:\nPhotosynthesis converts light energy.")
	require.Contains(t, request.Prompt, `"criteria_evaluations"`)
	require.Equal(t, float32(0.1), request.Options.Temperature)
	require.Equal(t, 1024, request.Options.MaxTokens)
}

func TestBuildDeterministic(t *testing.T) {
	builder := NewRequestBuilder(0.1, 1024)

	first, err := builder.Build("Same answer.", sampleContext())
	require.NoError(t, err)
	second, err := builder.Build("Same answer.", sampleContext())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestBuildEmptyContext(t *testing.T) {
	builder := NewRequestBuilder(0.1, 1024)

	_, err := builder.Build("An answer.", retrieval.RetrievedContext{})
	require.ErrorIs(t, err, ErrInsufficientContext)
}
