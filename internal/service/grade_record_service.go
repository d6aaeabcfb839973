package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/internal/repository"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

type gradeRecordRepository interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, record *models.GradeRecord) error
	Update(ctx context.Context, exec sqlx.ExtContext, record *models.GradeRecord) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradeRecord, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradeRecord, error)
	FindByPairForUpdate(ctx context.Context, exec sqlx.ExtContext, enrollmentID, itemID string) (*models.GradeRecord, error)
	ListByEnrollment(ctx context.Context, enrollmentID, gradebookID string) ([]models.GradeRecord, error)
	InsertAdjustment(ctx context.Context, exec sqlx.ExtContext, adj *models.GradeAdjustment) error
	ToggleAdjustment(ctx context.Context, exec sqlx.ExtContext, recordID, adjustmentID string) error
	DeleteAdjustment(ctx context.Context, exec sqlx.ExtContext, recordID, adjustmentID string) error
}

type gradeItemReader interface {
	FindItemForShare(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradebookItem, error)
}

type gradebookReader interface {
	FindByID(ctx context.Context, id string) (*models.Gradebook, error)
}

type enrollmentChecker interface {
	ExistsInCourse(ctx context.Context, enrollmentID, courseID string) (bool, error)
}

// GradeRecordService records grades and maintains their adjustment ledgers.
type GradeRecordService struct {
	db          txProvider
	records     gradeRecordRepository
	items       gradeItemReader
	gradebooks  gradebookReader
	enrollments enrollmentChecker
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewGradeRecordService constructs the service.
func NewGradeRecordService(db txProvider, records gradeRecordRepository, items gradeItemReader, gradebooks gradebookReader, enrollments enrollmentChecker, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *GradeRecordService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeRecordService{
		db:          db,
		records:     records,
		items:       items,
		gradebooks:  gradebooks,
		enrollments: enrollments,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Record creates the record of an (enrollment, item) pair.
func (s *GradeRecordService) Record(ctx context.Context, req dto.RecordGradeRequest, actorID string) (*models.GradeRecordView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	var (
		record *models.GradeRecord
		item   *models.GradebookItem
	)
	err := runInTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		if item, err = s.lockItem(ctx, tx, req.ItemID); err != nil {
			return err
		}
		if err := s.checkEnrollment(ctx, item, req.EnrollmentID); err != nil {
			return err
		}
		record = &models.GradeRecord{EnrollmentID: req.EnrollmentID, ItemID: req.ItemID, Feedback: req.Feedback}
		record.SetSubmission(req.SubmissionRef)
		if req.BaseGrade != nil {
			if err := checkRange(item, *req.BaseGrade); err != nil {
				return err
			}
			s.stampGrade(record, *req.BaseGrade, actorID)
		}
		if err := s.records.Insert(ctx, tx, record); err != nil {
			if errors.Is(err, repository.ErrUniqueViolation) {
				return appErrors.Clone(appErrors.ErrDuplicate, "grade already recorded for enrollment and item")
			}
			return appErrors.Internal(err, "failed to create grade record")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateGradebook(ctx, item.GradebookID)
	return models.NewGradeRecordView(record), nil
}

// Update changes a record. gradedAt is restamped whenever the base grade changes.
func (s *GradeRecordService) Update(ctx context.Context, id string, req dto.UpdateGradeRequest, actorID string) (*models.GradeRecordView, error) {
	if req.ClearBaseGrade && req.BaseGrade != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "base_grade and clear_base_grade are mutually exclusive")
	}
	var (
		record *models.GradeRecord
		item   *models.GradebookItem
	)
	err := runInTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		if record, item, err = s.lockRecordAndItem(ctx, tx, id); err != nil {
			return err
		}
		switch {
		case req.ClearBaseGrade:
			if record.BaseGrade != nil {
				record.BaseGrade = nil
				s.stampActor(record, actorID)
			}
		case req.BaseGrade != nil:
			if err := checkRange(item, *req.BaseGrade); err != nil {
				return err
			}
			if record.BaseGrade == nil || *record.BaseGrade != *req.BaseGrade {
				s.stampGrade(record, *req.BaseGrade, actorID)
			}
		}
		if req.Feedback != nil {
			record.Feedback = req.Feedback
		}
		if err := s.records.Update(ctx, tx, record); err != nil {
			return appErrors.Internal(err, "failed to update grade record")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateGradebook(ctx, item.GradebookID)
	return models.NewGradeRecordView(record), nil
}

// Delete removes a record together with its adjustments.
func (s *GradeRecordService) Delete(ctx context.Context, id string) error {
	var item *models.GradebookItem
	err := runInTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		if _, item, err = s.lockRecordAndItem(ctx, tx, id); err != nil {
			return err
		}
		if err := s.records.Delete(ctx, tx, id); err != nil {
			return recordLookupError(err, "failed to delete grade record")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.InvalidateGradebook(ctx, item.GradebookID)
	return nil
}

// Get returns a record with its adjustments.
func (s *GradeRecordService) Get(ctx context.Context, id string) (*models.GradeRecordView, error) {
	record, err := s.records.FindByID(ctx, nil, id)
	if err != nil {
		return nil, recordLookupError(err, "failed to load grade record")
	}
	return models.NewGradeRecordView(record), nil
}

// ListForEnrollment returns every record an enrollment holds in a gradebook.
func (s *GradeRecordService) ListForEnrollment(ctx context.Context, enrollmentID, gradebookID string) ([]models.GradeRecordView, error) {
	records, err := s.records.ListByEnrollment(ctx, enrollmentID, gradebookID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list grade records")
	}
	views := make([]models.GradeRecordView, 0, len(records))
	for i := range records {
		views = append(views, *models.NewGradeRecordView(&records[i]))
	}
	return views, nil
}

// Release publishes an external submission grade: it creates the pair's record
// or overwrites its base grade. Two concurrent first releases race on the
// unique constraint; the loser retries once and takes the update path.
func (s *GradeRecordService) Release(ctx context.Context, req dto.ReleaseGradeRequest, actorID string) (*models.GradeRecordView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid release payload")
	}
	view, gradebookID, err := s.release(ctx, req, actorID)
	if errors.Is(err, repository.ErrUniqueViolation) {
		s.logger.Debug("release raced with another writer, retrying", zap.String("enrollment_id", req.EnrollmentID), zap.String("item_id", req.ItemID))
		view, gradebookID, err = s.release(ctx, req, actorID)
	}
	if err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "grade already recorded for enrollment and item")
		}
		return nil, asAppError(err, "failed to release grade")
	}
	s.cache.InvalidateGradebook(ctx, gradebookID)
	return view, nil
}

func (s *GradeRecordService) release(ctx context.Context, req dto.ReleaseGradeRequest, actorID string) (*models.GradeRecordView, string, error) {
	var (
		record *models.GradeRecord
		item   *models.GradebookItem
	)
	err := runInTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		if item, err = s.lockItem(ctx, tx, req.ItemID); err != nil {
			return err
		}
		if err := s.checkEnrollment(ctx, item, req.EnrollmentID); err != nil {
			return err
		}
		if err := checkRange(item, *req.Score); err != nil {
			return err
		}

		record, err = s.records.FindByPairForUpdate(ctx, tx, req.EnrollmentID, req.ItemID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			record = &models.GradeRecord{EnrollmentID: req.EnrollmentID, ItemID: req.ItemID, Feedback: req.Feedback, Adjustments: []models.GradeAdjustment{}}
			record.SetSubmission(req.SubmissionRef)
			s.stampGrade(record, *req.Score, actorID)
			return s.records.Insert(ctx, tx, record)
		case err != nil:
			return appErrors.Internal(err, "failed to load grade record")
		}

		record.SetSubmission(req.SubmissionRef)
		if req.Feedback != nil {
			record.Feedback = req.Feedback
		}
		if record.BaseGrade == nil || *record.BaseGrade != *req.Score {
			s.stampGrade(record, *req.Score, actorID)
		}
		if err := s.records.Update(ctx, tx, record); err != nil {
			return appErrors.Internal(err, "failed to update grade record")
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return models.NewGradeRecordView(record), item.GradebookID, nil
}

// AddAdjustment appends an active adjustment to a record's ledger.
func (s *GradeRecordService) AddAdjustment(ctx context.Context, recordID string, req dto.AddAdjustmentRequest, actorID string) (*models.GradeRecordView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid adjustment payload")
	}
	return s.mutateLedger(ctx, recordID, func(tx *sqlx.Tx, record *models.GradeRecord) error {
		adj := &models.GradeAdjustment{
			GradeRecordID: record.ID,
			Type:          req.Type,
			Points:        req.Points,
			Reason:        req.Reason,
			AppliedBy:     optionalActor(actorID),
			AppliedAt:     s.now(),
			IsActive:      true,
		}
		if err := s.records.InsertAdjustment(ctx, tx, adj); err != nil {
			return appErrors.Internal(err, "failed to add adjustment")
		}
		return nil
	})
}

// ToggleAdjustment flips whether an adjustment counts towards the effective score.
func (s *GradeRecordService) ToggleAdjustment(ctx context.Context, recordID, adjustmentID string) (*models.GradeRecordView, error) {
	return s.mutateLedger(ctx, recordID, func(tx *sqlx.Tx, record *models.GradeRecord) error {
		if err := s.records.ToggleAdjustment(ctx, tx, record.ID, adjustmentID); err != nil {
			return adjustmentLookupError(err, "failed to toggle adjustment")
		}
		return nil
	})
}

// RemoveAdjustment deletes an adjustment from a record's ledger.
func (s *GradeRecordService) RemoveAdjustment(ctx context.Context, recordID, adjustmentID string) (*models.GradeRecordView, error) {
	return s.mutateLedger(ctx, recordID, func(tx *sqlx.Tx, record *models.GradeRecord) error {
		if err := s.records.DeleteAdjustment(ctx, tx, record.ID, adjustmentID); err != nil {
			return adjustmentLookupError(err, "failed to remove adjustment")
		}
		return nil
	})
}

// mutateLedger locks the record, runs fn and returns the record as re-read
// inside the same transaction.
func (s *GradeRecordService) mutateLedger(ctx context.Context, recordID string, fn func(tx *sqlx.Tx, record *models.GradeRecord) error) (*models.GradeRecordView, error) {
	var (
		updated *models.GradeRecord
		item    *models.GradebookItem
	)
	err := runInTx(ctx, s.db, func(tx *sqlx.Tx) error {
		record, locked, err := s.lockRecordAndItem(ctx, tx, recordID)
		if err != nil {
			return err
		}
		item = locked
		if err := fn(tx, record); err != nil {
			return err
		}
		if updated, err = s.records.FindByID(ctx, tx, recordID); err != nil {
			return recordLookupError(err, "failed to reload grade record")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateGradebook(ctx, item.GradebookID)
	return models.NewGradeRecordView(updated), nil
}

func (s *GradeRecordService) lockItem(ctx context.Context, exec sqlx.ExtContext, itemID string) (*models.GradebookItem, error) {
	item, err := s.items.FindItemForShare(ctx, exec, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "gradebook item not found")
		}
		return nil, appErrors.Internal(err, "failed to load gradebook item")
	}
	return item, nil
}

// lockRecordAndItem share-locks the record's item before the record row, the
// order item deletes take their locks in.
func (s *GradeRecordService) lockRecordAndItem(ctx context.Context, tx *sqlx.Tx, id string) (*models.GradeRecord, *models.GradebookItem, error) {
	peek, err := s.records.FindByID(ctx, tx, id)
	if err != nil {
		return nil, nil, recordLookupError(err, "failed to load grade record")
	}
	item, err := s.lockItem(ctx, tx, peek.ItemID)
	if err != nil {
		return nil, nil, err
	}
	record, err := s.lockRecord(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	return record, item, nil
}

func (s *GradeRecordService) lockRecord(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradeRecord, error) {
	record, err := s.records.FindByIDForUpdate(ctx, exec, id)
	if err != nil {
		return nil, recordLookupError(err, "failed to load grade record")
	}
	return record, nil
}

func (s *GradeRecordService) checkEnrollment(ctx context.Context, item *models.GradebookItem, enrollmentID string) error {
	gb, err := s.gradebooks.FindByID(ctx, item.GradebookID)
	if err != nil {
		return gradebookLookupError(err)
	}
	ok, err := s.enrollments.ExistsInCourse(ctx, enrollmentID, gb.CourseID)
	if err != nil {
		return appErrors.Internal(err, "failed to check enrollment")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found in course")
	}
	return nil
}

func (s *GradeRecordService) stampGrade(record *models.GradeRecord, grade float64, actorID string) {
	record.BaseGrade = &grade
	s.stampActor(record, actorID)
}

func (s *GradeRecordService) stampActor(record *models.GradeRecord, actorID string) {
	now := s.now()
	record.GradedAt = &now
	if actor := optionalActor(actorID); actor != nil {
		record.GradedBy = actor
	}
}

func checkRange(item *models.GradebookItem, grade float64) error {
	if grade < item.MinGrade || grade > item.MaxGrade {
		return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("base grade %g is outside [%g, %g]", grade, item.MinGrade, item.MaxGrade))
	}
	return nil
}

func optionalActor(actorID string) *string {
	if actorID == "" {
		return nil
	}
	return &actorID
}

func recordLookupError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "grade record not found")
	}
	return appErrors.Internal(err, message)
}

func adjustmentLookupError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "adjustment not found")
	}
	return appErrors.Internal(err, message)
}
