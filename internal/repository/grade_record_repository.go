package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
)

// GradeRecordRepository persists grade records and their adjustment ledger.
type GradeRecordRepository struct {
	db *sqlx.DB
}

// NewGradeRecordRepository constructs the repository.
func NewGradeRecordRepository(db *sqlx.DB) *GradeRecordRepository {
	return &GradeRecordRepository{db: db}
}

func (r *GradeRecordRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const (
	gradeRecordColumns = `id, enrollment_id, item_id, base_grade, feedback, graded_by, graded_at, submission_type, submission_id, created_at, updated_at`
	adjustmentColumns  = `id, grade_record_id, type, points, reason, applied_by, applied_at, is_active`
)

// Insert creates a record. A second record for the same (enrollment, item)
// pair fails with ErrUniqueViolation.
func (r *GradeRecordRepository) Insert(ctx context.Context, exec sqlx.ExtContext, record *models.GradeRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO grade_records (` + gradeRecordColumns + `)
        VALUES (:id, :enrollment_id, :item_id, :base_grade, :feedback, :graded_by, :graded_at, :submission_type, :submission_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, record); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert grade record: %w", ErrUniqueViolation)
		}
		return fmt.Errorf("insert grade record: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a record.
func (r *GradeRecordRepository) Update(ctx context.Context, exec sqlx.ExtContext, record *models.GradeRecord) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grade_records SET base_grade = :base_grade, feedback = :feedback, graded_by = :graded_by,
        graded_at = :graded_at, submission_type = :submission_type, submission_id = :submission_id, updated_at = :updated_at
        WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, record)
	if err != nil {
		return fmt.Errorf("update grade record: %w", err)
	}
	return expectAffected(res)
}

// Delete removes a record; its adjustments go with it.
func (r *GradeRecordRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM grade_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete grade record: %w", err)
	}
	return expectAffected(res)
}

// FindByID returns a record with its adjustments.
func (r *GradeRecordRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradeRecord, error) {
	query := `SELECT ` + gradeRecordColumns + ` FROM grade_records WHERE id = $1`
	return r.findOne(ctx, exec, query, id)
}

// FindByIDForUpdate locks the record row for the rest of the transaction.
func (r *GradeRecordRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradeRecord, error) {
	query := `SELECT ` + gradeRecordColumns + ` FROM grade_records WHERE id = $1 FOR UPDATE`
	return r.findOne(ctx, exec, query, id)
}

// FindByPairForUpdate returns and locks the record of an (enrollment, item) pair.
func (r *GradeRecordRepository) FindByPairForUpdate(ctx context.Context, exec sqlx.ExtContext, enrollmentID, itemID string) (*models.GradeRecord, error) {
	query := `SELECT ` + gradeRecordColumns + ` FROM grade_records WHERE enrollment_id = $1 AND item_id = $2 FOR UPDATE`
	return r.findOne(ctx, exec, query, enrollmentID, itemID)
}

func (r *GradeRecordRepository) findOne(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) (*models.GradeRecord, error) {
	var record models.GradeRecord
	if err := sqlx.GetContext(ctx, r.exec(exec), &record, query, args...); err != nil {
		return nil, err
	}
	records := []models.GradeRecord{record}
	if err := r.attachAdjustments(ctx, exec, records); err != nil {
		return nil, err
	}
	return &records[0], nil
}

// ListByEnrollment returns every record an enrollment holds in a gradebook.
func (r *GradeRecordRepository) ListByEnrollment(ctx context.Context, enrollmentID, gradebookID string) ([]models.GradeRecord, error) {
	const query = `SELECT gr.id, gr.enrollment_id, gr.item_id, gr.base_grade, gr.feedback, gr.graded_by, gr.graded_at,
        gr.submission_type, gr.submission_id, gr.created_at, gr.updated_at
        FROM grade_records gr
        JOIN gradebook_items gi ON gi.id = gr.item_id
        WHERE gr.enrollment_id = $1 AND gi.gradebook_id = $2
        ORDER BY gi.sort_order, gr.id`
	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, query, enrollmentID, gradebookID); err != nil {
		return nil, fmt.Errorf("list grade records: %w", err)
	}
	if err := r.attachAdjustments(ctx, nil, records); err != nil {
		return nil, err
	}
	return records, nil
}

// InsertAdjustment appends an adjustment to a record's ledger.
func (r *GradeRecordRepository) InsertAdjustment(ctx context.Context, exec sqlx.ExtContext, adj *models.GradeAdjustment) error {
	if adj.ID == "" {
		adj.ID = uuid.NewString()
	}
	if adj.AppliedAt.IsZero() {
		adj.AppliedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grade_adjustments (` + adjustmentColumns + `)
        VALUES (:id, :grade_record_id, :type, :points, :reason, :applied_by, :applied_at, :is_active)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, adj); err != nil {
		return fmt.Errorf("insert grade adjustment: %w", err)
	}
	return nil
}

// ToggleAdjustment flips is_active on an adjustment of the given record.
func (r *GradeRecordRepository) ToggleAdjustment(ctx context.Context, exec sqlx.ExtContext, recordID, adjustmentID string) error {
	const query = `UPDATE grade_adjustments SET is_active = NOT is_active WHERE id = $1 AND grade_record_id = $2`
	res, err := r.exec(exec).ExecContext(ctx, query, adjustmentID, recordID)
	if err != nil {
		return fmt.Errorf("toggle grade adjustment: %w", err)
	}
	return expectAffected(res)
}

// DeleteAdjustment physically removes an adjustment of the given record.
func (r *GradeRecordRepository) DeleteAdjustment(ctx context.Context, exec sqlx.ExtContext, recordID, adjustmentID string) error {
	const query = `DELETE FROM grade_adjustments WHERE id = $1 AND grade_record_id = $2`
	res, err := r.exec(exec).ExecContext(ctx, query, adjustmentID, recordID)
	if err != nil {
		return fmt.Errorf("delete grade adjustment: %w", err)
	}
	return expectAffected(res)
}

func (r *GradeRecordRepository) attachAdjustments(ctx context.Context, exec sqlx.ExtContext, records []models.GradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	index := make(map[string]int, len(records))
	for i := range records {
		ids[i] = records[i].ID
		index[records[i].ID] = i
		records[i].Adjustments = []models.GradeAdjustment{}
	}
	query := `SELECT ` + adjustmentColumns + ` FROM grade_adjustments WHERE grade_record_id = ANY($1) ORDER BY applied_at, id`
	var adjustments []models.GradeAdjustment
	if err := sqlx.SelectContext(ctx, r.exec(exec), &adjustments, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list grade adjustments: %w", err)
	}
	for _, adj := range adjustments {
		if i, ok := index[adj.GradeRecordID]; ok {
			records[i].Adjustments = append(records[i].Adjustments, adj)
		}
	}
	return nil
}
