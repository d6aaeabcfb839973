package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/paideia-lms/Paideia-sub010/internal/gradebook"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
	"github.com/paideia-lms/Paideia-sub010/internal/repository"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

func newTxMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func ptrFloat(v float64) *float64 { return &v }

func ptrString(v string) *string { return &v }

func rootItem(id string, weight *float64, sortOrder int) models.GradebookItem {
	return models.GradebookItem{ID: id, GradebookID: "gb-1", Name: id, MaxGrade: 100, Weight: weight, SortOrder: sortOrder}
}

type fakeGradebookRepo struct {
	gradebooks map[string]*models.Gradebook
	createErr  error
	touched    []string
	deleted    []string
}

func newFakeGradebookRepo(gbs ...models.Gradebook) *fakeGradebookRepo {
	repo := &fakeGradebookRepo{gradebooks: map[string]*models.Gradebook{}}
	for i := range gbs {
		gb := gbs[i]
		repo.gradebooks[gb.ID] = &gb
	}
	return repo
}

func (r *fakeGradebookRepo) Create(ctx context.Context, gb *models.Gradebook) error {
	if r.createErr != nil {
		return r.createErr
	}
	gb.ID = fmt.Sprintf("gb-%d", len(r.gradebooks)+1)
	r.gradebooks[gb.ID] = gb
	return nil
}

func (r *fakeGradebookRepo) FindByID(ctx context.Context, id string) (*models.Gradebook, error) {
	gb, ok := r.gradebooks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *gb
	return &clone, nil
}

func (r *fakeGradebookRepo) FindByCourse(ctx context.Context, courseID string) (*models.Gradebook, error) {
	for _, gb := range r.gradebooks {
		if gb.CourseID == courseID {
			clone := *gb
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeGradebookRepo) LockForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Gradebook, error) {
	return r.FindByID(ctx, id)
}

func (r *fakeGradebookRepo) Touch(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error {
	r.touched = append(r.touched, id)
	return nil
}

func (r *fakeGradebookRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.gradebooks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.gradebooks, id)
	r.deleted = append(r.deleted, id)
	return nil
}

// lockLog records row locks in the order they were taken.
type lockLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *lockLog) add(entry string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

type fakeHierarchyRepo struct {
	mu           sync.Mutex
	locks        *lockLog
	categories   []models.GradebookCategory
	items        []models.GradebookItem
	outOfRange   int
	applied      []*gradebook.Changeset
	loads        int
	rangeChecked []string
}

func (r *fakeHierarchyRepo) LoadTree(ctx context.Context, exec sqlx.ExtContext, gradebookID string) (*gradebook.Tree, error) {
	r.mu.Lock()
	r.loads++
	r.mu.Unlock()
	return gradebook.New(gradebookID, r.categories, r.items)
}

func (r *fakeHierarchyRepo) ApplyChanges(ctx context.Context, exec sqlx.ExtContext, changes *gradebook.Changeset) error {
	r.applied = append(r.applied, changes)
	return nil
}

func (r *fakeHierarchyRepo) CountGradesOutsideRange(ctx context.Context, exec sqlx.ExtContext, itemID string, minGrade, maxGrade float64) (int, error) {
	r.rangeChecked = append(r.rangeChecked, itemID)
	return r.outOfRange, nil
}

func (r *fakeHierarchyRepo) FindItemForShare(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradebookItem, error) {
	r.locks.add("item:" + id)
	for i := range r.items {
		if r.items[i].ID == id {
			item := r.items[i]
			return &item, nil
		}
	}
	return nil, sql.ErrNoRows
}

type fakeEnrollments struct {
	courses map[string]string
	roster  []models.Enrollment
}

func (f *fakeEnrollments) ExistsInCourse(ctx context.Context, enrollmentID, courseID string) (bool, error) {
	return f.courses[enrollmentID] == courseID, nil
}

func (f *fakeEnrollments) ListActiveByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range f.roster {
		if e.CourseID == courseID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeRecordRepo struct {
	mu          sync.Mutex
	records     map[string]*models.GradeRecord
	hidePairs   int
	onList      func()
	locks       *lockLog
	nextID      int
	inserts     int
	updates     int
	adjustments map[string]*models.GradeAdjustment
}

func newFakeRecordRepo(records ...models.GradeRecord) *fakeRecordRepo {
	repo := &fakeRecordRepo{records: map[string]*models.GradeRecord{}, adjustments: map[string]*models.GradeAdjustment{}}
	for i := range records {
		rec := records[i]
		repo.records[rec.ID] = &rec
		for j := range rec.Adjustments {
			adj := rec.Adjustments[j]
			repo.adjustments[adj.ID] = &adj
		}
	}
	return repo
}

func (r *fakeRecordRepo) Insert(ctx context.Context, exec sqlx.ExtContext, record *models.GradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.EnrollmentID == record.EnrollmentID && existing.ItemID == record.ItemID {
			return fmt.Errorf("insert grade record: %w", repository.ErrUniqueViolation)
		}
	}
	r.nextID++
	r.inserts++
	record.ID = fmt.Sprintf("rec-new-%d", r.nextID)
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *fakeRecordRepo) Update(ctx context.Context, exec sqlx.ExtContext, record *models.GradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.ID]; !ok {
		return sql.ErrNoRows
	}
	r.updates++
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *fakeRecordRepo) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, ok := r.records[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRecordRepo) withAdjustments(rec models.GradeRecord) *models.GradeRecord {
	rec.Adjustments = []models.GradeAdjustment{}
	for _, adj := range r.adjustments {
		if adj.GradeRecordID == rec.ID {
			rec.Adjustments = append(rec.Adjustments, *adj)
		}
	}
	return &rec
}

func (r *fakeRecordRepo) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r.withAdjustments(*rec), nil
}

func (r *fakeRecordRepo) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradeRecord, error) {
	r.locks.add("record:" + id)
	return r.FindByID(ctx, exec, id)
}

func (r *fakeRecordRepo) FindByPairForUpdate(ctx context.Context, exec sqlx.ExtContext, enrollmentID, itemID string) (*models.GradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hidePairs > 0 {
		r.hidePairs--
		return nil, sql.ErrNoRows
	}
	for _, rec := range r.records {
		if rec.EnrollmentID == enrollmentID && rec.ItemID == itemID {
			return r.withAdjustments(*rec), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeRecordRepo) ListByEnrollment(ctx context.Context, enrollmentID, gradebookID string) ([]models.GradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onList != nil {
		r.onList()
	}
	var out []models.GradeRecord
	for _, rec := range r.records {
		if rec.EnrollmentID == enrollmentID {
			out = append(out, *r.withAdjustments(*rec))
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) InsertAdjustment(ctx context.Context, exec sqlx.ExtContext, adj *models.GradeAdjustment) error {
	r.nextID++
	adj.ID = fmt.Sprintf("adj-new-%d", r.nextID)
	clone := *adj
	r.adjustments[adj.ID] = &clone
	return nil
}

func (r *fakeRecordRepo) ToggleAdjustment(ctx context.Context, exec sqlx.ExtContext, recordID, adjustmentID string) error {
	adj, ok := r.adjustments[adjustmentID]
	if !ok || adj.GradeRecordID != recordID {
		return sql.ErrNoRows
	}
	adj.IsActive = !adj.IsActive
	return nil
}

func (r *fakeRecordRepo) DeleteAdjustment(ctx context.Context, exec sqlx.ExtContext, recordID, adjustmentID string) error {
	adj, ok := r.adjustments[adjustmentID]
	if !ok || adj.GradeRecordID != recordID {
		return sql.ErrNoRows
	}
	delete(r.adjustments, adjustmentID)
	return nil
}

type memoryCacheRepo struct {
	mu          sync.Mutex
	entries     map[string][]byte
	generations map[string]int64
	invalidated []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}, generations: map[string]int64{}}
}

func (m *memoryCacheRepo) Generation(ctx context.Context, gradebookID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[gradebookID], nil
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) InvalidateGradebook(ctx context.Context, gradebookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, gradebookID)
	m.generations[gradebookID]++
	for key := range m.entries {
		if strings.HasPrefix(key, repository.GradebookKey(gradebookID, "")) {
			delete(m.entries, key)
		}
	}
	return nil
}
