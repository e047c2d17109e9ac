package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/examgrade/examgrade-api/internal/models"
)

// EvaluationFilter narrows evaluation history queries.
type EvaluationFilter struct {
	Subject    *string
	QuestionID *string
	Limit      int
}

// SchemeKey identifies one ingested subject/question pair.
type SchemeKey struct {
	Subject    string `json:"subject"`
	QuestionID string `json:"question_id"`
}

// EvaluationRepository defines data operations for evaluation records.
type EvaluationRepository interface {
	Create(ctx context.Context, evaluation *models.Evaluation) error
	GetByID(ctx context.Context, id uint) (models.Evaluation, error)
	List(ctx context.Context, filter EvaluationFilter) ([]models.Evaluation, error)
	Subjects(ctx context.Context) ([]SchemeKey, error)
}

type evaluationRepository struct {
	db *gorm.DB
}

// NewEvaluationRepository instantiates the repository.
func NewEvaluationRepository(db *gorm.DB) EvaluationRepository {
	return &evaluationRepository{db: db}
}

func (r *evaluationRepository) Create(ctx context.Context, evaluation *models.Evaluation) error {
	return r.db.WithContext(ctx).Create(evaluation).Error
}

func (r *evaluationRepository) GetByID(ctx context.Context, id uint) (models.Evaluation, error) {
	var evaluation models.Evaluation
	if err := r.db.WithContext(ctx).First(&evaluation, id).Error; err != nil {
		return models.Evaluation{}, err
	}

	return evaluation, nil
}

func (r *evaluationRepository) List(ctx context.Context, filter EvaluationFilter) ([]models.Evaluation, error) {
	query := r.db.WithContext(ctx).Model(&models.Evaluation{})

	if filter.Subject != nil {
		query = query.Where("subject = ?", *filter.Subject)
	}

	if filter.QuestionID != nil {
		query = query.Where("question_id = ?", *filter.QuestionID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var evaluations []models.Evaluation
	if err := query.Order("created_at DESC").Limit(limit).Find(&evaluations).Error; err != nil {
		return nil, err
	}

	return evaluations, nil
}

func (r *evaluationRepository) Subjects(ctx context.Context) ([]SchemeKey, error) {
	var keys []SchemeKey
	err := r.db.WithContext(ctx).
		Model(&models.Evaluation{}).
		Distinct("subject", "question_id").
		Order("subject, question_id").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}

	return keys, nil
}
