package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paideia-lms/Paideia-sub010/internal/gradebook"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/internal/repository"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

type treeLoader interface {
	LoadTree(ctx context.Context, exec sqlx.ExtContext, gradebookID string) (*gradebook.Tree, error)
}

type gradeRecordLister interface {
	ListByEnrollment(ctx context.Context, enrollmentID, gradebookID string) ([]models.GradeRecord, error)
}

type enrollmentLister interface {
	ExistsInCourse(ctx context.Context, enrollmentID, courseID string) (bool, error)
	ListActiveByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
}

// FinalGradeConfig tunes roster reporting.
type FinalGradeConfig struct {
	RosterConcurrency int
	ReportCacheTTL    time.Duration
}

// FinalGradeService computes final grades on demand from the stored hierarchy
// and grade records.
type FinalGradeService struct {
	gradebooks  gradebookReader
	hierarchy   treeLoader
	records     gradeRecordLister
	enrollments enrollmentLister
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         FinalGradeConfig
	now         func() time.Time
}

// NewFinalGradeService constructs the service.
func NewFinalGradeService(gradebooks gradebookReader, hierarchy treeLoader, records gradeRecordLister, enrollments enrollmentLister, cache *CacheService, metrics *MetricsService, cfg FinalGradeConfig, logger *zap.Logger) *FinalGradeService {
	if cfg.RosterConcurrency <= 0 {
		cfg.RosterConcurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinalGradeService{
		gradebooks:  gradebooks,
		hierarchy:   hierarchy,
		records:     records,
		enrollments: enrollments,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Compute returns the final grade of one enrollment. It is never cached.
func (s *FinalGradeService) Compute(ctx context.Context, gradebookID, enrollmentID string) (*models.FinalGrade, error) {
	gb, err := s.gradebooks.FindByID(ctx, gradebookID)
	if err != nil {
		return nil, gradebookLookupError(err)
	}
	ok, err := s.enrollments.ExistsInCourse(ctx, enrollmentID, gb.CourseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check enrollment")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found in course")
	}
	tree, err := s.hierarchy.LoadTree(ctx, nil, gb.ID)
	if err != nil {
		return nil, asAppError(err, "failed to load gradebook hierarchy")
	}
	return s.computeOne(ctx, tree, enrollmentID, "enrollment")
}

// Roster computes final grades for every active enrollment of the gradebook's
// course. The hierarchy is loaded once and shared by the workers.
func (s *FinalGradeService) Roster(ctx context.Context, gradebookID string) (*models.RosterReport, error) {
	gb, err := s.gradebooks.FindByID(ctx, gradebookID)
	if err != nil {
		return nil, gradebookLookupError(err)
	}

	// The generation is read before any data so a report computed across a
	// mutation lands under a key nobody reads.
	gen, cacheable := s.cache.Generation(ctx, gb.ID)
	cacheKey := repository.GradebookKey(gb.ID, fmt.Sprintf("roster:%d", gen))
	if cacheable {
		var cached models.RosterReport
		if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
			return &cached, nil
		}
	}

	tree, err := s.hierarchy.LoadTree(ctx, nil, gb.ID)
	if err != nil {
		return nil, asAppError(err, "failed to load gradebook hierarchy")
	}
	enrollments, err := s.enrollments.ListActiveByCourse(ctx, gb.CourseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list enrollments")
	}

	start := time.Now()
	rows := make([]models.RosterRow, len(enrollments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RosterConcurrency)
	for i, enrollment := range enrollments {
		i, enrollment := i, enrollment
		g.Go(func() error {
			result, err := s.computeOne(gctx, tree, enrollment.ID, "")
			if err != nil {
				return err
			}
			rows[i] = models.RosterRow{
				EnrollmentID: enrollment.ID,
				UserID:       enrollment.UserID,
				FinalGrade:   result.FinalGrade,
				TotalWeight:  result.TotalWeight,
				GradedItems:  result.GradedItems,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.metrics.ObserveFinalGrade("roster", time.Since(start))

	report := &models.RosterReport{GradebookID: gb.ID, CourseID: gb.CourseID, Rows: rows, GeneratedAt: s.now()}
	if cacheable {
		_ = s.cache.Set(ctx, cacheKey, report, s.cfg.ReportCacheTTL)
	}
	s.logger.Debug("roster computed", zap.String("gradebook_id", gb.ID), zap.Int("enrollments", len(rows)))
	return report, nil
}

// computeOne runs the engine for one enrollment. An empty metric scope skips
// the per-enrollment observation.
func (s *FinalGradeService) computeOne(ctx context.Context, tree *gradebook.Tree, enrollmentID, metricScope string) (*models.FinalGrade, error) {
	records, err := s.records.ListByEnrollment(ctx, enrollmentID, tree.GradebookID())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list grade records")
	}
	start := time.Now()
	result, err := gradebook.Compute(tree, enrollmentID, records, s.now())
	if err != nil {
		return nil, asAppError(err, "failed to compute final grade")
	}
	if metricScope != "" {
		s.metrics.ObserveFinalGrade(metricScope, time.Since(start))
	}
	return result, nil
}
