package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/examgrade/examgrade-api/internal/dto"
	"github.com/examgrade/examgrade-api/internal/evaluation"
	"github.com/examgrade/examgrade-api/internal/models"
	"github.com/examgrade/examgrade-api/internal/repository"
	"github.com/examgrade/examgrade-api/internal/retrieval"
	"github.com/examgrade/examgrade-api/internal/vectorstore"
	"github.com/examgrade/examgrade-api/pkg/ai"
)

type evaluationRepoStub struct {
	records []models.Evaluation
}

func (r *evaluationRepoStub) Create(_ context.Context, record *models.Evaluation) error {
	record.ID = uint(len(r.records) + 1)
	r.records = append(r.records, *record)
	return nil
}

func (r *evaluationRepoStub) GetByID(_ context.Context, id uint) (models.Evaluation, error) {
	for _, record := range r.records {
		if record.ID == id {
			return record, nil
		}
	}
	return models.Evaluation{}, gorm.ErrRecordNotFound
}

func (r *evaluationRepoStub) List(_ context.Context, _ repository.EvaluationFilter) ([]models.Evaluation, error) {
	return r.records, nil
}

func (r *evaluationRepoStub) Subjects(_ context.Context) ([]repository.SchemeKey, error) {
	return []repository.SchemeKey{{Subject: "biology", QuestionID: "q1"}}, nil
}

type retrieverStub struct {
	context retrieval.RetrievedContext
	err     error
}

func (r retrieverStub) Retrieve(context.Context, string, string, string) (retrieval.RetrievedContext, error) {
	return r.context, r.err
}

type generatorStub struct {
	output string
	err    error
	calls  int
}

func (g *generatorStub) Generate(context.Context, string, ai.GenerateOptions) (string, error) {
	g.calls++
	return g.output, g.err
}

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func fourCriteria() retrieval.RetrievedContext {
	criteria := []struct {
		text  string
		marks float64
	}{
		{"Define photosynthesis correctly (2 marks)", 2},
		{"Name the reactants (3 marks)", 3},
		{"Name the products (3 marks)", 3},
		{"Explain the role of chlorophyll (2 marks)", 2},
	}

	result := make(retrieval.RetrievedContext, 0, len(criteria))
	for i, c := range criteria {
		result = append(result, retrieval.RetrievedChunk{
			Text: c.text,
			Metadata: vectorstore.Metadata{
				Subject:        "biology",
				QuestionID:     "q1",
				Criterion:      c.text,
				ChunkIndex:     i,
				CriterionMarks: c.marks,
				TotalMarks:     10,
			},
			Similarity: 0.9 - float64(i)*0.1,
		})
	}
	return result
}

const partialAnswerOutput = `{"criteria_evaluations": [
  {"criterion_id": 1, "max_marks": 2, "awarded_marks": 2, "justification": "definition is accurate and complete"},
  {"criterion_id": 2, "max_marks": 3, "awarded_marks": 3, "justification": "both reactants correctly identified"},
  {"criterion_id": 3, "max_marks": 3, "awarded_marks": 1.5, "justification": "only one product named", "missing_points": ["oxygen as a product"]},
  {"criterion_id": 4, "max_marks": 2, "awarded_marks": 0, "justification": "chlorophyll is never mentioned in the answer", "missing_points": ["chlorophyll absorbs light energy"]}
]}`

func newTestService(repo repository.EvaluationRepository, retriever ContextRetriever, generator ai.Generator, cache *redis.Client) EvaluationService {
	return NewEvaluationService(
		repo,
		retriever,
		evaluation.NewRequestBuilder(0.1, 1024),
		generator,
		cache,
		nil,
		validator.New(validator.WithRequiredStructEnabled()),
		time.Second,
		time.Minute,
		testLogger(),
	)
}

func evaluateRequest() dto.EvaluateRequest {
	return dto.EvaluateRequest{
		Subject:    "biology",
		QuestionID: "q1",
		Answer:     "Photosynthesis converts light energy into chemical energy using water and carbon dioxide to make glucose.",
	}
}

func TestEvaluatePartialAnswer(t *testing.T) {
	repo := &evaluationRepoStub{}
	generator := &generatorStub{output: partialAnswerOutput}
	svc := newTestService(repo, retrieverStub{context: fourCriteria()}, generator, nil)

	response, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err)

	require.Len(t, response.CriteriaScores, 4)
	require.Equal(t, 6.5, response.TotalAwarded)
	require.Equal(t, 10.0, response.TotalPossible)
	require.Equal(t, 65.0, response.Percentage)
	require.Equal(t, "B-", response.Grade)
	require.Equal(t, ConfidenceHigh, response.Confidence)
	require.Empty(t, response.Warnings)
	require.Contains(t, response.Suggestions, "chlorophyll absorbs light energy")
	require.Contains(t, response.Weaknesses[0], "chlorophyll")
	require.NotZero(t, response.ID)
	require.Len(t, repo.records, 1)
}

func TestEvaluateEmptyRetrievalDegrades(t *testing.T) {
	repo := &evaluationRepoStub{}
	generator := &generatorStub{output: partialAnswerOutput}
	svc := newTestService(repo, retrieverStub{context: retrieval.RetrievedContext{}}, generator, nil)

	response, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err)

	require.Equal(t, ConfidenceLow, response.Confidence)
	require.Zero(t, response.TotalAwarded)
	require.Empty(t, response.CriteriaScores)
	require.NotEmpty(t, response.Warnings)
	require.Zero(t, generator.calls, "generation must not run without context")
	require.Len(t, repo.records, 1, "degraded results are still persisted")
}

func TestEvaluateRetrievalFailureDegrades(t *testing.T) {
	repo := &evaluationRepoStub{}
	svc := newTestService(repo, retrieverStub{err: errors.New("index unreachable")}, &generatorStub{}, nil)

	response, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err)
	require.Equal(t, ConfidenceLow, response.Confidence)
	require.NotEmpty(t, response.Warnings)
}

func TestEvaluateProseOutputDegrades(t *testing.T) {
	repo := &evaluationRepoStub{}
	generator := &generatorStub{output: "The student did quite well, I would say about 7 out of 10 overall."}
	svc := newTestService(repo, retrieverStub{context: fourCriteria()}, generator, nil)

	response, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err, "unparseable output must degrade, not fail")

	require.Equal(t, ConfidenceLow, response.Confidence)
	require.Len(t, response.CriteriaScores, 4)
	for _, score := range response.CriteriaScores {
		require.Zero(t, score.AwardedMarks)
		require.True(t, score.NotAddressed)
	}
	require.Equal(t, 10.0, response.TotalPossible)
}

func TestEvaluateGenerationFailureDegrades(t *testing.T) {
	repo := &evaluationRepoStub{}
	generator := &generatorStub{err: ai.ErrGenerationUnavailable}
	svc := newTestService(repo, retrieverStub{context: fourCriteria()}, generator, nil)

	response, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err)
	require.Equal(t, ConfidenceLow, response.Confidence)
	require.Len(t, response.CriteriaScores, 4)
}

func TestEvaluateMissingCriterionLowersConfidence(t *testing.T) {
	output := `{"criteria_evaluations": [
	  {"criterion_id": 1, "max_marks": 2, "awarded_marks": 2, "justification": "definition is accurate and complete"},
	  {"criterion_id": 2, "max_marks": 3, "awarded_marks": 3, "justification": "both reactants correctly identified"},
	  {"criterion_id": 3, "max_marks": 3, "awarded_marks": 1.5, "justification": "only one product named"}
	]}`
	svc := newTestService(&evaluationRepoStub{}, retrieverStub{context: fourCriteria()}, &generatorStub{output: output}, nil)

	response, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err)
	require.Equal(t, ConfidenceMedium, response.Confidence)
	require.Len(t, response.CriteriaScores, 4)
	require.True(t, response.CriteriaScores[3].NotAddressed)
}

func TestEvaluateValidation(t *testing.T) {
	svc := newTestService(&evaluationRepoStub{}, retrieverStub{}, &generatorStub{}, nil)

	_, err := svc.Evaluate(context.Background(), dto.EvaluateRequest{Subject: "biology"})
	require.Error(t, err)
}

func TestEvaluateResultCache(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	generator := &generatorStub{output: partialAnswerOutput}
	svc := newTestService(&evaluationRepoStub{}, retrieverStub{context: fourCriteria()}, generator, redisClient)

	first, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err)

	second, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err)

	require.Equal(t, 1, generator.calls, "identical submission must be served from cache")
	require.Equal(t, first.TotalAwarded, second.TotalAwarded)
	require.Equal(t, first.Grade, second.Grade)
}

func TestGetNotFound(t *testing.T) {
	svc := newTestService(&evaluationRepoStub{}, retrieverStub{}, &generatorStub{}, nil)

	_, err := svc.Get(context.Background(), 99)
	require.ErrorIs(t, err, ErrEvaluationNotFound)
}

func TestGetRoundTripsStoredResult(t *testing.T) {
	repo := &evaluationRepoStub{}
	svc := newTestService(repo, retrieverStub{context: fourCriteria()}, &generatorStub{output: partialAnswerOutput}, nil)

	created, err := svc.Evaluate(context.Background(), evaluateRequest())
	require.NoError(t, err)

	loaded, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, created.TotalAwarded, loaded.TotalAwarded)
	require.Equal(t, created.Grade, loaded.Grade)
	require.Len(t, loaded.CriteriaScores, 4)
	require.Equal(t, created.Feedback, loaded.Feedback)
}
