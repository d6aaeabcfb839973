package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paideia-lms/Paideia-sub010/internal/gradebook"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
)

func TestHierarchyRepositoryLoadTree(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewHierarchyRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM gradebook_categories WHERE gradebook_id = $1")).
		WithArgs("gb-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "gradebook_id", "parent_id", "name", "description", "weight", "extra_credit", "sort_order", "created_at", "updated_at"}).
			AddRow("cat-1", "gb-1", nil, "Exams", nil, 60.0, false, 0, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM gradebook_items WHERE gradebook_id = $1")).
		WithArgs("gb-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "gradebook_id", "category_id", "name", "description", "max_grade", "min_grade", "weight", "extra_credit", "sort_order", "created_at", "updated_at"}).
			AddRow("item-1", "gb-1", "cat-1", "Midterm", nil, 100.0, 0.0, 100.0, false, 0, now, now).
			AddRow("item-2", "gb-1", nil, "Homework", nil, 20.0, 0.0, 40.0, false, 1, now, now))

	tree, err := repo.LoadTree(context.Background(), nil, "gb-1")
	require.NoError(t, err)
	assert.Equal(t, []gradebook.Ref{gradebook.CategoryRef("cat-1"), gradebook.ItemRef("item-2")}, tree.Children(gradebook.RootScope))
	assert.Equal(t, []gradebook.Ref{gradebook.ItemRef("item-1")}, tree.Children("cat-1"))
	require.NoError(t, tree.Validate())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepositoryApplyChangesOrder(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewHierarchyRepository(db)
	parent := "cat-1"

	changes := &gradebook.Changeset{
		CreatedCategories: []models.GradebookCategory{{ID: "cat-1", GradebookID: "gb-1", Name: "Exams"}},
		CreatedItems:      []models.GradebookItem{{ID: "item-1", GradebookID: "gb-1", CategoryID: &parent, Name: "Final", MaxGrade: 100}},
		UpdatedItems:      []models.GradebookItem{{ID: "item-0", GradebookID: "gb-1", Name: "Quiz", MaxGrade: 10, SortOrder: 1}},
		DeletedItems:      []string{"item-9"},
		DeletedCategories: []string{"cat-9"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO gradebook_categories").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO gradebook_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE gradebook_items SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM gradebook_items WHERE id = $1")).WithArgs("item-9").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM gradebook_categories WHERE id = $1")).WithArgs("cat-9").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, repo.ApplyChanges(context.Background(), tx, changes))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepositoryCountGradesOutsideRange(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewHierarchyRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM grade_records")).
		WithArgs("item-1", 0.0, 50.0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountGradesOutsideRange(context.Background(), nil, "item-1", 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
