package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paideia-lms/Paideia-sub010/internal/dto"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/internal/repository"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

func TestGradebookServiceCreate(t *testing.T) {
	repo := newFakeGradebookRepo()
	svc := NewGradebookService(repo, &fakeHierarchyRepo{}, nil, nil, nil)

	gb, err := svc.Create(context.Background(), dto.CreateGradebookRequest{CourseID: "course-1"})
	require.NoError(t, err)
	assert.Equal(t, "course-1", gb.CourseID)
	assert.NotEmpty(t, gb.ID)
}

func TestGradebookServiceCreateDuplicateCourse(t *testing.T) {
	repo := newFakeGradebookRepo()
	repo.createErr = fmt.Errorf("insert gradebook: %w", repository.ErrUniqueViolation)
	svc := NewGradebookService(repo, &fakeHierarchyRepo{}, nil, nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateGradebookRequest{CourseID: "course-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrDuplicate))
}

func TestGradebookServiceCreateRequiresCourse(t *testing.T) {
	svc := NewGradebookService(newFakeGradebookRepo(), &fakeHierarchyRepo{}, nil, nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateGradebookRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestGradebookServiceGetByCourseNestsTree(t *testing.T) {
	hierarchy := &fakeHierarchyRepo{
		categories: []models.GradebookCategory{{ID: "cat", GradebookID: "gb-1", Name: "Homework", Weight: ptrFloat(100)}},
		items:      []models.GradebookItem{{ID: "hw1", GradebookID: "gb-1", CategoryID: ptrString("cat"), Name: "HW1", MaxGrade: 100}},
	}
	svc := NewGradebookService(newFakeGradebookRepo(models.Gradebook{ID: "gb-1", CourseID: "course-1"}), hierarchy, nil, nil, nil)

	tree, err := svc.GetByCourse(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, "gb-1", tree.Gradebook.ID)
	require.Len(t, tree.Nodes, 1)
	require.Len(t, tree.Nodes[0].Children, 1)
	assert.Equal(t, "hw1", tree.Nodes[0].Children[0].ID)
	assert.Equal(t, 100.0, tree.Nodes[0].Children[0].EffectiveWeight)
}

func TestGradebookServiceGetUnknown(t *testing.T) {
	svc := NewGradebookService(newFakeGradebookRepo(), &fakeHierarchyRepo{}, nil, nil, nil)

	_, err := svc.Get(context.Background(), "gb-404")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestGradebookServiceDeleteInvalidatesCache(t *testing.T) {
	repo := newFakeGradebookRepo(models.Gradebook{ID: "gb-1", CourseID: "course-1"})
	cacheRepo := newMemoryCacheRepo()
	svc := NewGradebookService(repo, &fakeHierarchyRepo{}, NewCacheService(cacheRepo, nil, time.Minute, nil, true), nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "gb-1"))
	assert.Equal(t, []string{"gb-1"}, repo.deleted)
	assert.Equal(t, []string{"gb-1"}, cacheRepo.invalidated)

	err := svc.Delete(context.Background(), "gb-1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
