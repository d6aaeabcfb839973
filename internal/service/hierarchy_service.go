package service

import (
	"context"
	"errors"
	"fmt"
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

// HierarchyService applies structural mutations to a gradebook. Each batch runs
// in one transaction holding the gradebook row lock, so the weight invariants
// are checked against the state that is committed.
type HierarchyService struct {
	db         txProvider
	gradebooks gradebookRepository
	hierarchy  hierarchyRepository
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewHierarchyService constructs the service.
func NewHierarchyService(db txProvider, gradebooks gradebookRepository, hierarchy hierarchyRepository, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *HierarchyService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HierarchyService{
		db:         db,
		gradebooks: gradebooks,
		hierarchy:  hierarchy,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Mutate applies ops as one batch and returns the validated tree. Intermediate
// states may break weight invariants; only the end state must hold.
func (s *HierarchyService) Mutate(ctx context.Context, gradebookID string, ops []gradebook.Op) (*models.GradebookTree, error) {
	if err := s.validator.Struct(dto.HierarchyMutationRequest{Ops: ops}); err != nil {
		s.metrics.RecordMutation(MutationOutcomeRejected)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid hierarchy operations")
	}

	var (
		result  *models.GradebookTree
		changed bool
	)
	err := runInTx(ctx, s.db, func(tx *sqlx.Tx) error {
		gb, err := s.gradebooks.LockForUpdate(ctx, tx, gradebookID)
		if err != nil {
			return gradebookLookupError(err)
		}
		tree, err := s.hierarchy.LoadTree(ctx, tx, gradebookID)
		if err != nil {
			return asAppError(err, "failed to load gradebook hierarchy")
		}

		now := s.now()
		if err := tree.Apply(ops, now); err != nil {
			return err
		}

		changes := tree.Changes()
		if !changes.Empty() {
			if err := s.hierarchy.ApplyChanges(ctx, tx, changes); err != nil {
				if errors.Is(err, repository.ErrUniqueViolation) {
					return appErrors.Clone(appErrors.ErrDuplicate, "node id already in use")
				}
				return appErrors.Internal(err, "failed to persist gradebook hierarchy")
			}
			// The item rows are now locked by the updates, so no grade can slip
			// outside the new range after this check.
			for _, item := range changes.RangeChangedItems {
				count, err := s.hierarchy.CountGradesOutsideRange(ctx, tx, item.ID, item.MinGrade, item.MaxGrade)
				if err != nil {
					return appErrors.Internal(err, "failed to check existing grades")
				}
				if count > 0 {
					return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("item %s has %d grade(s) outside [%g, %g]", item.ID, count, item.MinGrade, item.MaxGrade))
				}
			}
			if err := s.gradebooks.Touch(ctx, tx, gradebookID, now); err != nil {
				return appErrors.Internal(err, "failed to update gradebook")
			}
			gb.UpdatedAt = now
			changed = true
		}

		result = &models.GradebookTree{Gradebook: *gb, Nodes: tree.Nested()}
		return nil
	})
	if err != nil {
		if isRejection(err) {
			s.metrics.RecordMutation(MutationOutcomeRejected)
		} else {
			s.metrics.RecordMutation(MutationOutcomeFailed)
			s.logger.Error("hierarchy mutation failed", zap.String("gradebook_id", gradebookID), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.RecordMutation(MutationOutcomeApplied)
	if changed {
		s.cache.InvalidateGradebook(ctx, gradebookID)
	}
	s.logger.Debug("hierarchy mutated", zap.String("gradebook_id", gradebookID), zap.Int("ops", len(ops)))
	return result, nil
}

// CreateCategory adds a category.
func (s *HierarchyService) CreateCategory(ctx context.Context, gradebookID string, req dto.CategoryRequest) (*models.GradebookTree, error) {
	return s.Mutate(ctx, gradebookID, []gradebook.Op{req.ToOp(gradebook.OpCreateCategory, "")})
}

// UpdateCategory changes a category.
func (s *HierarchyService) UpdateCategory(ctx context.Context, gradebookID, categoryID string, req dto.CategoryRequest) (*models.GradebookTree, error) {
	return s.Mutate(ctx, gradebookID, []gradebook.Op{req.ToOp(gradebook.OpUpdateCategory, categoryID)})
}

// DeleteCategory removes an empty category.
func (s *HierarchyService) DeleteCategory(ctx context.Context, gradebookID, categoryID string) (*models.GradebookTree, error) {
	return s.Mutate(ctx, gradebookID, []gradebook.Op{{Kind: gradebook.OpDeleteCategory, ID: categoryID}})
}

// CreateItem adds an item.
func (s *HierarchyService) CreateItem(ctx context.Context, gradebookID string, req dto.ItemRequest) (*models.GradebookTree, error) {
	return s.Mutate(ctx, gradebookID, []gradebook.Op{req.ToOp(gradebook.OpCreateItem, "")})
}

// UpdateItem changes an item.
func (s *HierarchyService) UpdateItem(ctx context.Context, gradebookID, itemID string, req dto.ItemRequest) (*models.GradebookTree, error) {
	return s.Mutate(ctx, gradebookID, []gradebook.Op{req.ToOp(gradebook.OpUpdateItem, itemID)})
}

// DeleteItem removes an item together with its grade records.
func (s *HierarchyService) DeleteItem(ctx context.Context, gradebookID, itemID string) (*models.GradebookTree, error) {
	return s.Mutate(ctx, gradebookID, []gradebook.Op{{Kind: gradebook.OpDeleteItem, ID: itemID}})
}

// Reorder reassigns the full ordering of one scope.
func (s *HierarchyService) Reorder(ctx context.Context, gradebookID string, req dto.ReorderRequest) (*models.GradebookTree, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reorder payload")
	}
	return s.Mutate(ctx, gradebookID, []gradebook.Op{req.ToOp()})
}
