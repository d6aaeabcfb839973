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

func TestGradebookRepositoryCreateDuplicateCourse(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewGradebookRepository(db)

	mock.ExpectExec("INSERT INTO gradebooks").WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err := repo.Create(context.Background(), &models.Gradebook{CourseID: "course-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUniqueViolation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradebookRepositoryLockForUpdate(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewGradebookRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM gradebooks WHERE id = $1 FOR UPDATE")).
		WithArgs("gb-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "created_at", "updated_at"}).AddRow("gb-1", "course-1", now, now))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	gradebook, err := repo.LockForUpdate(context.Background(), tx, "gb-1")
	require.NoError(t, err)
	assert.Equal(t, "course-1", gradebook.CourseID)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradebookRepositoryDeleteMissing(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewGradebookRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM gradebooks WHERE id = $1")).
		WithArgs("gb-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "gb-404")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}
