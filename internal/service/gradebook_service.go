package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/gradebook"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/internal/repository"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

type gradebookRepository interface {
	Create(ctx context.Context, gradebook *models.Gradebook) error
	FindByID(ctx context.Context, id string) (*models.Gradebook, error)
	FindByCourse(ctx context.Context, courseID string) (*models.Gradebook, error)
	LockForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Gradebook, error)
	Touch(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type hierarchyRepository interface {
	LoadTree(ctx context.Context, exec sqlx.ExtContext, gradebookID string) (*gradebook.Tree, error)
	ApplyChanges(ctx context.Context, exec sqlx.ExtContext, changes *gradebook.Changeset) error
	CountGradesOutsideRange(ctx context.Context, exec sqlx.ExtContext, itemID string, minGrade, maxGrade float64) (int, error)
}

// GradebookService manages gradebook roots and tree reads.
type GradebookService struct {
	gradebooks gradebookRepository
	hierarchy  hierarchyRepository
	cache      *CacheService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewGradebookService constructs the service.
func NewGradebookService(gradebooks gradebookRepository, hierarchy hierarchyRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *GradebookService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradebookService{gradebooks: gradebooks, hierarchy: hierarchy, cache: cache, validator: validate, logger: logger}
}

// Create creates the gradebook of a course. A course owns at most one.
func (s *GradebookService) Create(ctx context.Context, req dto.CreateGradebookRequest) (*models.Gradebook, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid gradebook payload")
	}
	gb := &models.Gradebook{CourseID: req.CourseID}
	if err := s.gradebooks.Create(ctx, gb); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "course already has a gradebook")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create gradebook")
	}
	s.logger.Info("gradebook created", zap.String("gradebook_id", gb.ID), zap.String("course_id", gb.CourseID))
	return gb, nil
}

// Get returns a gradebook with its nested hierarchy.
func (s *GradebookService) Get(ctx context.Context, id string) (*models.GradebookTree, error) {
	gb, err := s.gradebooks.FindByID(ctx, id)
	if err != nil {
		return nil, gradebookLookupError(err)
	}
	return s.withTree(ctx, gb)
}

// GetByCourse returns the gradebook of a course with its nested hierarchy.
func (s *GradebookService) GetByCourse(ctx context.Context, courseID string) (*models.GradebookTree, error) {
	gb, err := s.gradebooks.FindByCourse(ctx, courseID)
	if err != nil {
		return nil, gradebookLookupError(err)
	}
	return s.withTree(ctx, gb)
}

// Delete removes a gradebook with its hierarchy, grades and adjustments.
func (s *GradebookService) Delete(ctx context.Context, id string) error {
	if err := s.gradebooks.Delete(ctx, id); err != nil {
		return gradebookLookupError(err)
	}
	s.cache.InvalidateGradebook(ctx, id)
	s.logger.Info("gradebook deleted", zap.String("gradebook_id", id))
	return nil
}

func (s *GradebookService) withTree(ctx context.Context, gb *models.Gradebook) (*models.GradebookTree, error) {
	tree, err := s.hierarchy.LoadTree(ctx, nil, gb.ID)
	if err != nil {
		return nil, asAppError(err, "failed to load gradebook hierarchy")
	}
	return &models.GradebookTree{Gradebook: *gb, Nodes: tree.Nested()}, nil
}

func gradebookLookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "gradebook not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load gradebook")
}
