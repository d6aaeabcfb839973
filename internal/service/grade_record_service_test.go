package service

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

var gradedAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type gradeRecordFixture struct {
	svc     *GradeRecordService
	records *fakeRecordRepo
	cache   *memoryCacheRepo
	locks   *lockLog
	mock    sqlmock.Sqlmock
}

func newGradeRecordFixture(t *testing.T, records ...models.GradeRecord) *gradeRecordFixture {
	db, mock := newTxMock(t)
	locks := &lockLog{}
	hierarchy := &fakeHierarchyRepo{items: []models.GradebookItem{rootItem("quiz", ptrFloat(100), 0)}, locks: locks}
	enrollments := &fakeEnrollments{courses: map[string]string{"enr-1": "course-1", "enr-other": "course-2"}}
	fx := &gradeRecordFixture{records: newFakeRecordRepo(records...), cache: newMemoryCacheRepo(), locks: locks, mock: mock}
	fx.records.locks = locks
	cache := NewCacheService(fx.cache, nil, time.Minute, nil, true)
	fx.svc = NewGradeRecordService(db, fx.records, hierarchy, newFakeGradebookRepo(models.Gradebook{ID: "gb-1", CourseID: "course-1"}), enrollments, cache, nil, nil)
	fx.svc.now = func() time.Time { return gradedAt }
	t.Cleanup(func() { require.NoError(t, mock.ExpectationsWereMet()) })
	return fx
}

func (fx *gradeRecordFixture) expectTx(commit bool) {
	fx.mock.ExpectBegin()
	if commit {
		fx.mock.ExpectCommit()
	} else {
		fx.mock.ExpectRollback()
	}
}

func gradedRecord(id string, base float64, adjustments ...models.GradeAdjustment) models.GradeRecord {
	return models.GradeRecord{ID: id, EnrollmentID: "enr-1", ItemID: "quiz", BaseGrade: ptrFloat(base), Adjustments: adjustments}
}

func TestGradeRecordServiceRecord(t *testing.T) {
	fx := newGradeRecordFixture(t)
	fx.expectTx(true)

	view, err := fx.svc.Record(context.Background(), dto.RecordGradeRequest{
		EnrollmentID:  "enr-1",
		ItemID:        "quiz",
		BaseGrade:     ptrFloat(85),
		SubmissionRef: &models.SubmissionRef{Type: "quiz_attempt", ID: "att-1"},
	}, "grader-1")
	require.NoError(t, err)
	assert.True(t, view.Graded)
	assert.Equal(t, 85.0, *view.EffectiveScore)
	assert.Equal(t, "grader-1", *view.GradedBy)
	assert.Equal(t, gradedAt, *view.GradedAt)
	assert.Equal(t, "att-1", view.Submission.ID)
	assert.Equal(t, []string{"gb-1"}, fx.cache.invalidated)
}

func TestGradeRecordServiceRecordUngraded(t *testing.T) {
	fx := newGradeRecordFixture(t)
	fx.expectTx(true)

	view, err := fx.svc.Record(context.Background(), dto.RecordGradeRequest{EnrollmentID: "enr-1", ItemID: "quiz"}, "")
	require.NoError(t, err)
	assert.False(t, view.Graded)
	assert.Nil(t, view.EffectiveScore)
	assert.Nil(t, view.GradedAt)
}

func TestGradeRecordServiceRecordRejections(t *testing.T) {
	cases := []struct {
		name     string
		req      dto.RecordGradeRequest
		expected *appErrors.Error
	}{
		{"duplicate pair", dto.RecordGradeRequest{EnrollmentID: "enr-1", ItemID: "quiz", BaseGrade: ptrFloat(70)}, appErrors.ErrDuplicate},
		{"above max grade", dto.RecordGradeRequest{EnrollmentID: "enr-2", ItemID: "quiz", BaseGrade: ptrFloat(150)}, appErrors.ErrArgument},
		{"unknown item", dto.RecordGradeRequest{EnrollmentID: "enr-1", ItemID: "missing", BaseGrade: ptrFloat(10)}, appErrors.ErrNotFound},
		{"enrollment in other course", dto.RecordGradeRequest{EnrollmentID: "enr-other", ItemID: "quiz", BaseGrade: ptrFloat(10)}, appErrors.ErrNotFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80))
			if tc.req.EnrollmentID == "enr-2" {
				fx.svc.enrollments = &fakeEnrollments{courses: map[string]string{"enr-2": "course-1"}}
			}
			fx.expectTx(false)

			_, err := fx.svc.Record(context.Background(), tc.req, "grader-1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.expected), "got %v", err)
			assert.Empty(t, fx.cache.invalidated)
		})
	}
}

func TestGradeRecordServiceRecordValidation(t *testing.T) {
	fx := newGradeRecordFixture(t)

	_, err := fx.svc.Record(context.Background(), dto.RecordGradeRequest{ItemID: "quiz"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestGradeRecordServiceUpdate(t *testing.T) {
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80))
	fx.expectTx(true)

	view, err := fx.svc.Update(context.Background(), "rec-1", dto.UpdateGradeRequest{BaseGrade: ptrFloat(90)}, "grader-2")
	require.NoError(t, err)
	assert.Equal(t, 90.0, *view.BaseGrade)
	assert.Equal(t, "grader-2", *view.GradedBy)
	assert.Equal(t, gradedAt, *view.GradedAt)
}

func TestGradeRecordServiceUpdateFeedbackKeepsTimestamp(t *testing.T) {
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80))
	fx.expectTx(true)

	view, err := fx.svc.Update(context.Background(), "rec-1", dto.UpdateGradeRequest{BaseGrade: ptrFloat(80), Feedback: ptrString("well done")}, "grader-2")
	require.NoError(t, err)
	assert.Equal(t, "well done", *view.Feedback)
	assert.Nil(t, view.GradedAt)
}

func TestGradeRecordServiceUpdateClearAndSetConflict(t *testing.T) {
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80))

	_, err := fx.svc.Update(context.Background(), "rec-1", dto.UpdateGradeRequest{BaseGrade: ptrFloat(90), ClearBaseGrade: true}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestGradeRecordServiceUpdateClearsGrade(t *testing.T) {
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80))
	fx.expectTx(true)

	view, err := fx.svc.Update(context.Background(), "rec-1", dto.UpdateGradeRequest{ClearBaseGrade: true}, "")
	require.NoError(t, err)
	assert.False(t, view.Graded)
	assert.Nil(t, view.EffectiveScore)
}

func TestGradeRecordServiceLocksItemBeforeRecord(t *testing.T) {
	ops := map[string]func(svc *GradeRecordService) error{
		"update": func(svc *GradeRecordService) error {
			_, err := svc.Update(context.Background(), "rec-1", dto.UpdateGradeRequest{BaseGrade: ptrFloat(90)}, "")
			return err
		},
		"delete": func(svc *GradeRecordService) error {
			return svc.Delete(context.Background(), "rec-1")
		},
		"add adjustment": func(svc *GradeRecordService) error {
			_, err := svc.AddAdjustment(context.Background(), "rec-1", dto.AddAdjustmentRequest{Type: models.AdjustmentBonus, Points: 2, Reason: "participation"}, "")
			return err
		},
	}
	for name, op := range ops {
		op := op
		t.Run(name, func(t *testing.T) {
			fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80))
			fx.expectTx(true)

			require.NoError(t, op(fx.svc))
			assert.Equal(t, []string{"item:quiz", "record:rec-1"}, fx.locks.entries)
		})
	}
}

func TestGradeRecordServiceDeleteMissing(t *testing.T) {
	fx := newGradeRecordFixture(t)
	fx.expectTx(false)

	err := fx.svc.Delete(context.Background(), "rec-404")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestGradeRecordServiceReleaseCreatesRecord(t *testing.T) {
	fx := newGradeRecordFixture(t)
	fx.expectTx(true)

	view, err := fx.svc.Release(context.Background(), dto.ReleaseGradeRequest{
		EnrollmentID:  "enr-1",
		ItemID:        "quiz",
		Score:         ptrFloat(72),
		SubmissionRef: &models.SubmissionRef{Type: "assignment", ID: "sub-1"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 72.0, *view.BaseGrade)
	assert.Equal(t, 1, fx.records.inserts)
	assert.Equal(t, 0, fx.records.updates)
}

func TestGradeRecordServiceReleaseOverwritesAndKeepsLedger(t *testing.T) {
	bonus := models.GradeAdjustment{ID: "adj-1", GradeRecordID: "rec-1", Type: models.AdjustmentBonus, Points: 5, IsActive: true}
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 60, bonus))
	fx.expectTx(true)

	view, err := fx.svc.Release(context.Background(), dto.ReleaseGradeRequest{
		EnrollmentID:  "enr-1",
		ItemID:        "quiz",
		Score:         ptrFloat(70),
		SubmissionRef: &models.SubmissionRef{Type: "assignment", ID: "sub-2"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", view.ID)
	assert.Equal(t, 75.0, *view.EffectiveScore)
	assert.Equal(t, 1, fx.records.updates)
}

func TestGradeRecordServiceReleaseRetriesLostRace(t *testing.T) {
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 60))
	fx.records.hidePairs = 1
	fx.expectTx(false)
	fx.expectTx(true)

	view, err := fx.svc.Release(context.Background(), dto.ReleaseGradeRequest{
		EnrollmentID:  "enr-1",
		ItemID:        "quiz",
		Score:         ptrFloat(95),
		SubmissionRef: &models.SubmissionRef{Type: "assignment", ID: "sub-3"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", view.ID)
	assert.Equal(t, 95.0, *view.BaseGrade)
}

func TestGradeRecordServiceReleaseOutOfRange(t *testing.T) {
	fx := newGradeRecordFixture(t)
	fx.expectTx(false)

	_, err := fx.svc.Release(context.Background(), dto.ReleaseGradeRequest{
		EnrollmentID:  "enr-1",
		ItemID:        "quiz",
		Score:         ptrFloat(-1),
		SubmissionRef: &models.SubmissionRef{Type: "assignment", ID: "sub-4"},
	}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrArgument))
}

func TestGradeRecordServiceAdjustmentLedger(t *testing.T) {
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80))

	fx.expectTx(true)
	view, err := fx.svc.AddAdjustment(context.Background(), "rec-1", dto.AddAdjustmentRequest{Type: models.AdjustmentPenalty, Points: -10, Reason: "late"}, "grader-1")
	require.NoError(t, err)
	require.Len(t, view.Adjustments, 1)
	assert.Equal(t, 70.0, *view.EffectiveScore)
	adjustmentID := view.Adjustments[0].ID
	assert.Equal(t, "grader-1", *view.Adjustments[0].AppliedBy)

	fx.expectTx(true)
	view, err = fx.svc.ToggleAdjustment(context.Background(), "rec-1", adjustmentID)
	require.NoError(t, err)
	assert.False(t, view.Adjustments[0].IsActive)
	assert.Equal(t, 80.0, *view.EffectiveScore)

	fx.expectTx(true)
	view, err = fx.svc.RemoveAdjustment(context.Background(), "rec-1", adjustmentID)
	require.NoError(t, err)
	assert.Empty(t, view.Adjustments)
	assert.Len(t, fx.cache.invalidated, 3)
}

func TestGradeRecordServiceAdjustmentFloorsAtZero(t *testing.T) {
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 5))
	fx.expectTx(true)

	view, err := fx.svc.AddAdjustment(context.Background(), "rec-1", dto.AddAdjustmentRequest{Type: models.AdjustmentPenalty, Points: -20, Reason: "plagiarism"}, "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, *view.EffectiveScore)
}

func TestGradeRecordServiceToggleUnknownAdjustment(t *testing.T) {
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80))
	fx.expectTx(false)

	_, err := fx.svc.ToggleAdjustment(context.Background(), "rec-1", "adj-404")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestGradeRecordServiceRemoveAdjustmentOfOtherRecord(t *testing.T) {
	other := models.GradeRecord{ID: "rec-2", EnrollmentID: "enr-2", ItemID: "quiz", BaseGrade: ptrFloat(50),
		Adjustments: []models.GradeAdjustment{{ID: "adj-2", GradeRecordID: "rec-2", Points: 1, IsActive: true}}}
	fx := newGradeRecordFixture(t, gradedRecord("rec-1", 80), other)
	fx.expectTx(false)

	_, err := fx.svc.RemoveAdjustment(context.Background(), "rec-1", "adj-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
