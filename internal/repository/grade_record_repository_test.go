package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
)

var (
	gradeRecordRowColumns = []string{"id", "enrollment_id", "item_id", "base_grade", "feedback", "graded_by", "graded_at", "submission_type", "submission_id", "created_at", "updated_at"}
	adjustmentRowColumns  = []string{"id", "grade_record_id", "type", "points", "reason", "applied_by", "applied_at", "is_active"}
)

func TestGradeRecordRepositoryInsertDuplicatePair(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewGradeRecordRepository(db)

	mock.ExpectExec("INSERT INTO grade_records").WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	base := 80.0
	err := repo.Insert(context.Background(), nil, &models.GradeRecord{EnrollmentID: "enr-1", ItemID: "item-1", BaseGrade: &base})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUniqueViolation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRecordRepositoryFindByIDAttachesAdjustments(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewGradeRecordRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM grade_records WHERE id = $1")).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows(gradeRecordRowColumns).
			AddRow("rec-1", "enr-1", "item-1", 85.0, nil, "grader-1", now, nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM grade_adjustments WHERE grade_record_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(adjustmentRowColumns).
			AddRow("adj-1", "rec-1", "bonus", 5.0, "participation", nil, now, true).
			AddRow("adj-2", "rec-1", "penalty", -2.0, "late", nil, now, false))

	record, err := repo.FindByID(context.Background(), nil, "rec-1")
	require.NoError(t, err)
	require.Len(t, record.Adjustments, 2)
	assert.Equal(t, 90.0, record.EffectiveScore())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRecordRepositoryListByEnrollmentEmpty(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewGradeRecordRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE gr.enrollment_id = $1 AND gi.gradebook_id = $2")).
		WithArgs("enr-1", "gb-1").
		WillReturnRows(sqlmock.NewRows(gradeRecordRowColumns))

	records, err := repo.ListByEnrollment(context.Background(), "enr-1", "gb-1")
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRecordRepositoryToggleAdjustmentMissing(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewGradeRecordRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE grade_adjustments SET is_active = NOT is_active WHERE id = $1 AND grade_record_id = $2")).
		WithArgs("adj-404", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ToggleAdjustment(context.Background(), nil, "rec-1", "adj-404")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}
