package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/gradebook"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

type hierarchyFixture struct {
	svc        *HierarchyService
	gradebooks *fakeGradebookRepo
	hierarchy  *fakeHierarchyRepo
	cache      *memoryCacheRepo
	metrics    *MetricsService
}

func newHierarchyFixture(t *testing.T, items ...models.GradebookItem) (*hierarchyFixture, func(commit bool)) {
	db, mock := newTxMock(t)
	fx := &hierarchyFixture{
		gradebooks: newFakeGradebookRepo(models.Gradebook{ID: "gb-1", CourseID: "course-1"}),
		hierarchy:  &fakeHierarchyRepo{items: items},
		cache:      newMemoryCacheRepo(),
		metrics:    NewMetricsService(),
	}
	cache := NewCacheService(fx.cache, fx.metrics, time.Minute, nil, true)
	fx.svc = NewHierarchyService(db, fx.gradebooks, fx.hierarchy, cache, fx.metrics, nil, nil)
	expect := func(commit bool) {
		mock.ExpectBegin()
		if commit {
			mock.ExpectCommit()
		} else {
			mock.ExpectRollback()
		}
		t.Cleanup(func() { require.NoError(t, mock.ExpectationsWereMet()) })
	}
	return fx, expect
}

func TestHierarchyServiceMutateAppliesBatch(t *testing.T) {
	fx, expect := newHierarchyFixture(t, rootItem("a", ptrFloat(100), 0))
	expect(true)

	ops := []gradebook.Op{
		{Kind: gradebook.OpUpdateItem, ID: "a", Weight: ptrFloat(60)},
		{Kind: gradebook.OpCreateItem, Name: ptrString("Final exam"), Weight: ptrFloat(40)},
	}
	tree, err := fx.svc.Mutate(context.Background(), "gb-1", ops)
	require.NoError(t, err)
	require.Len(t, tree.Nodes, 2)
	assert.Equal(t, 60.0, tree.Nodes[0].EffectiveWeight)
	assert.Equal(t, "Final exam", tree.Nodes[1].Name)

	require.Len(t, fx.hierarchy.applied, 1)
	assert.Len(t, fx.hierarchy.applied[0].CreatedItems, 1)
	assert.Len(t, fx.hierarchy.applied[0].UpdatedItems, 1)
	assert.Equal(t, []string{"gb-1"}, fx.gradebooks.touched)
	assert.Equal(t, []string{"gb-1"}, fx.cache.invalidated)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.mutations.WithLabelValues(MutationOutcomeApplied)))
}

func TestHierarchyServiceMutateRejectsBrokenWeights(t *testing.T) {
	fx, expect := newHierarchyFixture(t, rootItem("a", ptrFloat(100), 0))
	expect(false)

	_, err := fx.svc.Mutate(context.Background(), "gb-1", []gradebook.Op{
		{Kind: gradebook.OpCreateItem, Name: ptrString("Quiz"), Weight: ptrFloat(40)},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvariantViolation))
	assert.Empty(t, fx.hierarchy.applied)
	assert.Empty(t, fx.gradebooks.touched)
	assert.Empty(t, fx.cache.invalidated)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.mutations.WithLabelValues(MutationOutcomeRejected)))
}

func TestHierarchyServiceMutateRejectsRangeExcludingGrades(t *testing.T) {
	fx, expect := newHierarchyFixture(t, rootItem("a", ptrFloat(100), 0))
	fx.hierarchy.outOfRange = 2
	expect(false)

	_, err := fx.svc.Mutate(context.Background(), "gb-1", []gradebook.Op{
		{Kind: gradebook.OpUpdateItem, ID: "a", MaxGrade: ptrFloat(50)},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrArgument))
	assert.Equal(t, []string{"a"}, fx.hierarchy.rangeChecked)
	assert.Empty(t, fx.gradebooks.touched)
}

func TestHierarchyServiceMutateUnknownGradebook(t *testing.T) {
	fx, expect := newHierarchyFixture(t)
	expect(false)

	_, err := fx.svc.CreateCategory(context.Background(), "gb-404", dto.CategoryRequest{Name: ptrString("Homework")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestHierarchyServiceMutateNoopSkipsWrites(t *testing.T) {
	fx, expect := newHierarchyFixture(t, rootItem("a", ptrFloat(100), 0))
	expect(true)

	tree, err := fx.svc.Reorder(context.Background(), "gb-1", dto.ReorderRequest{Order: []gradebook.Ref{gradebook.ItemRef("a")}})
	require.NoError(t, err)
	require.Len(t, tree.Nodes, 1)
	assert.Empty(t, fx.hierarchy.applied)
	assert.Empty(t, fx.cache.invalidated)
}

func TestHierarchyServiceMutateRequiresOps(t *testing.T) {
	fx, _ := newHierarchyFixture(t)

	_, err := fx.svc.Mutate(context.Background(), "gb-1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestHierarchyServiceDeleteCategoryWithChildren(t *testing.T) {
	fx, expect := newHierarchyFixture(t)
	fx.hierarchy.categories = []models.GradebookCategory{{ID: "cat", GradebookID: "gb-1", Name: "Homework", Weight: ptrFloat(100)}}
	fx.hierarchy.items = []models.GradebookItem{{ID: "hw1", GradebookID: "gb-1", CategoryID: ptrString("cat"), Name: "HW1", MaxGrade: 100}}
	expect(false)

	_, err := fx.svc.DeleteCategory(context.Background(), "gb-1", "cat")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotEmpty))
}
