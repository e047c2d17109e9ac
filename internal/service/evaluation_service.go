package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/examgrade/examgrade-api/internal/dto"
	"github.com/examgrade/examgrade-api/internal/evaluation"
	"github.com/examgrade/examgrade-api/internal/feedback"
	"github.com/examgrade/examgrade-api/internal/models"
	"github.com/examgrade/examgrade-api/internal/observability"
	"github.com/examgrade/examgrade-api/internal/repository"
	"github.com/examgrade/examgrade-api/internal/retrieval"
	"github.com/examgrade/examgrade-api/internal/scoring"
	"github.com/examgrade/examgrade-api/pkg/ai"
)

// ErrEvaluationNotFound indicates the requested evaluation record does not exist.
var ErrEvaluationNotFound = errors.New("evaluation not found")

// Confidence levels attached to every evaluation result.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// EventSubjectEvaluationCompleted is the NATS subject completion events are published on.
const EventSubjectEvaluationCompleted = "evaluations.completed"

// ContextRetriever resolves the marking criteria relevant to an answer.
type ContextRetriever interface {
	Retrieve(ctx context.Context, answerText, subject, questionID string) (retrieval.RetrievedContext, error)
}

// EvaluationService exposes the answer grading workflow.
type EvaluationService interface {
	Evaluate(ctx context.Context, req dto.EvaluateRequest) (dto.EvaluationResponse, error)
	Get(ctx context.Context, id uint) (dto.EvaluationResponse, error)
	List(ctx context.Context, filter dto.EvaluationListFilter) ([]dto.EvaluationHistoryResponse, error)
	Subjects(ctx context.Context) ([]repository.SchemeKey, error)
}

type evaluationService struct {
	repo           repository.EvaluationRepository
	retriever      ContextRetriever
	builder        *evaluation.RequestBuilder
	generator      ai.Generator
	cache          *redis.Client
	events         *nats.Conn
	validator      *validator.Validate
	sanitizer      *bluemonday.Policy
	logger         zerolog.Logger
	tracer         trace.Tracer
	generationWait time.Duration
	cacheTTL       time.Duration
	now            func() time.Time
}

// NewEvaluationService wires the grading pipeline together. Cache and events
// may be nil; the pipeline runs without them.
func NewEvaluationService(
	repo repository.EvaluationRepository,
	retriever ContextRetriever,
	builder *evaluation.RequestBuilder,
	generator ai.Generator,
	cache *redis.Client,
	events *nats.Conn,
	validate *validator.Validate,
	generationWait time.Duration,
	cacheTTL time.Duration,
	logger zerolog.Logger,
) EvaluationService {
	return &evaluationService{
		repo:           repo,
		retriever:      retriever,
		builder:        builder,
		generator:      generator,
		cache:          cache,
		events:         events,
		validator:      validate,
		sanitizer:      bluemonday.StrictPolicy(),
		logger:         logger.With().Str("component", "evaluation_service").Logger(),
		tracer:         otel.Tracer("github.com/examgrade/examgrade-api/internal/service/evaluation"),
		generationWait: generationWait,
		cacheTTL:       cacheTTL,
		now:            time.Now,
	}
}

// Evaluate runs the full grading pipeline: retrieve criteria, generate a
// grounded evaluation, parse and validate the scores, aggregate, and derive
// feedback. Failures in retrieval, generation, or parsing never surface as
// errors; they degrade into a flagged low-confidence result so the caller
// always receives something explainable.
func (s *evaluationService) Evaluate(ctx context.Context, req dto.EvaluateRequest) (dto.EvaluationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "evaluation.evaluate")
	defer span.End()

	start := s.now()

	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.EvaluationResponse{}, err
	}

	req.Subject = strings.TrimSpace(req.Subject)
	req.QuestionID = strings.TrimSpace(req.QuestionID)
	req.Answer = strings.TrimSpace(s.sanitizer.Sanitize(req.Answer))
	if req.Answer == "" {
		err := fmt.Errorf("answer is empty after sanitization")
		span.SetStatus(codes.Error, "empty answer")
		return dto.EvaluationResponse{}, err
	}

	span.SetAttributes(
		attribute.String("evaluation.subject", req.Subject),
		attribute.String("evaluation.question_id", req.QuestionID),
	)

	cacheKey := resultCacheKey(req.Subject, req.QuestionID, req.Answer)
	if cached, ok := s.cachedResult(ctx, cacheKey); ok {
		span.SetAttributes(attribute.Bool("evaluation.cache_hit", true))
		return cached, nil
	}

	response, outcome := s.run(ctx, req)

	s.persist(ctx, &response)
	s.storeResult(ctx, cacheKey, response)
	s.publishCompleted(response)

	observability.Evaluations().WithLabelValues(outcome, response.Confidence).Inc()
	observability.EvaluationPipeline().WithLabelValues(req.Subject).Observe(s.now().Sub(start).Seconds())

	s.logger.Info().
		Str("subject", req.Subject).
		Str("question_id", req.QuestionID).
		Str("outcome", outcome).
		Str("confidence", response.Confidence).
		Str("grade", response.Grade).
		Float64("total_awarded", response.TotalAwarded).
		Msg("evaluation completed")

	span.SetStatus(codes.Ok, outcome)

	return response, nil
}

// run executes the serving path and reports the outcome label for metrics.
func (s *evaluationService) run(ctx context.Context, req dto.EvaluateRequest) (dto.EvaluationResponse, string) {
	retrieved, err := s.retriever.Retrieve(ctx, req.Answer, req.Subject, req.QuestionID)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", req.Subject).Msg("retrieval failed, degrading")
		return s.degraded(req, nil, nil, fmt.Sprintf("retrieval unavailable: %v", err)), "retrieval_failed"
	}

	if retrieved.Empty() {
		return s.degraded(req, retrieved, nil,
			"no marking criteria matched this answer above the similarity floor"), "empty_context"
	}

	expected := evaluation.ExpectedFromContext(retrieved)

	request, err := s.builder.Build(req.Answer, retrieved)
	if err != nil {
		return s.degraded(req, retrieved, expected, fmt.Sprintf("could not build evaluation request: %v", err)), "build_failed"
	}

	genCtx, cancel := context.WithTimeout(ctx, s.generationWait)
	defer cancel()

	raw, err := s.generator.Generate(genCtx, request.Prompt, request.Options)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", req.Subject).Msg("generation failed, degrading")
		reason := fmt.Sprintf("evaluation generation unavailable: %v", err)
		if errors.Is(err, ai.ErrGenerationTimeout) {
			reason = "evaluation generation timed out"
		}
		return s.degraded(req, retrieved, expected, reason), "generation_failed"
	}

	scores, parseWarnings, err := evaluation.Parse(raw, expected)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", req.Subject).Msg("model output unparseable, degrading")
		return s.degraded(req, retrieved, expected, fmt.Sprintf("model output could not be parsed: %v", err)), "malformed_output"
	}

	summary := scoring.Aggregate(scores, declaredTotal(retrieved))

	warnings := append(parseWarnings, summary.Warnings...)
	confidence := ConfidenceHigh
	if len(warnings) > 0 {
		confidence = ConfidenceMedium
	}

	response := s.assemble(req, retrieved, scores, summary, warnings, confidence)

	return response, "graded"
}

// degraded produces the flagged low-confidence result for serving-path
// failures. Every expected criterion is scored zero as "not addressed" so the
// result shape stays uniform.
func (s *evaluationService) degraded(req dto.EvaluateRequest, retrieved retrieval.RetrievedContext, expected []evaluation.ExpectedCriterion, reason string) dto.EvaluationResponse {
	scores := make([]scoring.CriterionScore, 0, len(expected))
	for _, want := range expected {
		maxMarks := want.MaxMarks
		if maxMarks <= 0 {
			maxMarks = 1
		}
		scores = append(scores, scoring.CriterionScore{
			CriterionID:   want.ID,
			Criterion:     want.Label,
			MaxMarks:      maxMarks,
			AwardedMarks:  0,
			Justification: "Not assessed: " + reason + ".",
			MissingPoints: []string{},
			NotAddressed:  true,
		})
	}

	summary := scoring.Aggregate(scores, declaredTotal(retrieved))
	warnings := append([]string{reason}, summary.Warnings...)

	if retrieved == nil {
		retrieved = retrieval.RetrievedContext{}
	}

	return s.assemble(req, retrieved, scores, summary, warnings, ConfidenceLow)
}

func (s *evaluationService) assemble(req dto.EvaluateRequest, retrieved retrieval.RetrievedContext, scores []scoring.CriterionScore, summary scoring.Summary, warnings []string, confidence string) dto.EvaluationResponse {
	if warnings == nil {
		warnings = []string{}
	}
	if scores == nil {
		scores = []scoring.CriterionScore{}
	}

	response := dto.EvaluationResponse{
		Subject:          req.Subject,
		QuestionID:       req.QuestionID,
		Answer:           req.Answer,
		RetrievedContext: retrieved,
		CriteriaScores:   scores,
		TotalAwarded:     summary.TotalAwarded,
		TotalPossible:    summary.TotalPossible,
		Percentage:       summary.Percentage,
		Grade:            summary.Grade,
		Confidence:       confidence,
		Warnings:         warnings,
		CreatedAt:        s.now().UTC(),
	}
	response.ApplyFeedback(feedback.Synthesize(scores, summary, confidence))

	return response
}

func (s *evaluationService) persist(ctx context.Context, response *dto.EvaluationResponse) {
	record := models.Evaluation{
		Subject:          response.Subject,
		QuestionID:       response.QuestionID,
		AnswerText:       response.Answer,
		TotalAwarded:     response.TotalAwarded,
		TotalPossible:    response.TotalPossible,
		Percentage:       response.Percentage,
		Grade:            response.Grade,
		Confidence:       response.Confidence,
		CriteriaScores:   mustJSON(response.CriteriaScores),
		RetrievedContext: mustJSON(response.RetrievedContext),
		FeedbackSummary:  response.Feedback,
		Strengths:        mustJSON(response.Strengths),
		Weaknesses:       mustJSON(response.Weaknesses),
		Suggestions:      mustJSON(response.Suggestions),
		Warnings:         mustJSON(response.Warnings),
		CreatedAt:        response.CreatedAt,
	}

	if err := s.repo.Create(ctx, &record); err != nil {
		s.logger.Error().Err(err).Str("subject", response.Subject).Msg("failed to persist evaluation")
		return
	}

	response.ID = record.ID
}

func (s *evaluationService) cachedResult(ctx context.Context, key string) (dto.EvaluationResponse, bool) {
	if s.cache == nil {
		return dto.EvaluationResponse{}, false
	}

	cached, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read result cache")
		}
		return dto.EvaluationResponse{}, false
	}

	var response dto.EvaluationResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		return dto.EvaluationResponse{}, false
	}

	s.logger.Debug().Str("key", key).Msg("evaluation cache hit")

	return response, true
}

func (s *evaluationService) storeResult(ctx context.Context, key string, response dto.EvaluationResponse) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return
	}

	if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store result cache")
	}
}

func (s *evaluationService) publishCompleted(response dto.EvaluationResponse) {
	if s.events == nil {
		return
	}

	event := map[string]any{
		"id":             response.ID,
		"subject":        response.Subject,
		"question_id":    response.QuestionID,
		"grade":          response.Grade,
		"confidence":     response.Confidence,
		"total_awarded":  response.TotalAwarded,
		"total_possible": response.TotalPossible,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	if err := s.events.Publish(EventSubjectEvaluationCompleted, payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish completion event")
	}
}

func (s *evaluationService) Get(ctx context.Context, id uint) (dto.EvaluationResponse, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.EvaluationResponse{}, ErrEvaluationNotFound
		}
		return dto.EvaluationResponse{}, err
	}

	return fromModel(record), nil
}

func (s *evaluationService) List(ctx context.Context, filter dto.EvaluationListFilter) ([]dto.EvaluationHistoryResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, err
	}

	records, err := s.repo.List(ctx, repository.EvaluationFilter{
		Subject:    filter.Subject,
		QuestionID: filter.QuestionID,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, err
	}

	history := make([]dto.EvaluationHistoryResponse, 0, len(records))
	for _, record := range records {
		history = append(history, dto.EvaluationHistoryResponse{
			ID:            record.ID,
			Subject:       record.Subject,
			QuestionID:    record.QuestionID,
			TotalAwarded:  record.TotalAwarded,
			TotalPossible: record.TotalPossible,
			Grade:         record.Grade,
			Confidence:    record.Confidence,
			CreatedAt:     record.CreatedAt,
		})
	}

	return history, nil
}

func (s *evaluationService) Subjects(ctx context.Context) ([]repository.SchemeKey, error) {
	return s.repo.Subjects(ctx)
}

// declaredTotal extracts the scheme's declared total marks from the retrieved
// metadata. Zero means the scheme never declared one.
func declaredTotal(retrieved retrieval.RetrievedContext) float64 {
	for _, chunk := range retrieved {
		if chunk.Metadata.TotalMarks > 0 {
			return chunk.Metadata.TotalMarks
		}
	}
	return 0
}

func fromModel(record models.Evaluation) dto.EvaluationResponse {
	response := dto.EvaluationResponse{
		ID:               record.ID,
		Subject:          record.Subject,
		QuestionID:       record.QuestionID,
		Answer:           record.AnswerText,
		RetrievedContext: retrieval.RetrievedContext{},
		CriteriaScores:   []scoring.CriterionScore{},
		TotalAwarded:     record.TotalAwarded,
		TotalPossible:    record.TotalPossible,
		Percentage:       record.Percentage,
		Grade:            record.Grade,
		Feedback:         record.FeedbackSummary,
		Strengths:        []string{},
		Weaknesses:       []string{},
		Suggestions:      []string{},
		Confidence:       record.Confidence,
		Warnings:         []string{},
		CreatedAt:        record.CreatedAt,
	}

	_ = json.Unmarshal(record.CriteriaScores, &response.CriteriaScores)
	_ = json.Unmarshal(record.RetrievedContext, &response.RetrievedContext)
	_ = json.Unmarshal(record.Strengths, &response.Strengths)
	_ = json.Unmarshal(record.Weaknesses, &response.Weaknesses)
	_ = json.Unmarshal(record.Suggestions, &response.Suggestions)
	_ = json.Unmarshal(record.Warnings, &response.Warnings)

	return response
}

func resultCacheKey(subject, questionID, answer string) string {
	hasher := sha256.New()
	hasher.Write([]byte(subject))
	hasher.Write([]byte("|"))
	hasher.Write([]byte(questionID))
	hasher.Write([]byte("|"))
	hasher.Write([]byte(answer))

	return "evaluation:result:" + hex.EncodeToString(hasher.Sum(nil))
}

func mustJSON(v any) datatypes.JSON {
	payload, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(payload)
}
