package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
)

// ErrUniqueViolation is returned when an insert collides with a unique constraint.
var ErrUniqueViolation = errors.New("unique constraint violated")

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// GradebookRepository persists gradebook roots.
type GradebookRepository struct {
	db *sqlx.DB
}

// NewGradebookRepository constructs the repository.
func NewGradebookRepository(db *sqlx.DB) *GradebookRepository {
	return &GradebookRepository{db: db}
}

func (r *GradebookRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const gradebookColumns = `id, course_id, created_at, updated_at`

// Create inserts a gradebook. A course owns at most one.
func (r *GradebookRepository) Create(ctx context.Context, gradebook *models.Gradebook) error {
	if gradebook.ID == "" {
		gradebook.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	gradebook.CreatedAt = now
	gradebook.UpdatedAt = now
	const query = `INSERT INTO gradebooks (id, course_id, created_at, updated_at) VALUES (:id, :course_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, gradebook); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create gradebook: %w", ErrUniqueViolation)
		}
		return fmt.Errorf("create gradebook: %w", err)
	}
	return nil
}

// FindByID returns a gradebook by id.
func (r *GradebookRepository) FindByID(ctx context.Context, id string) (*models.Gradebook, error) {
	query := `SELECT ` + gradebookColumns + ` FROM gradebooks WHERE id = $1`
	var gradebook models.Gradebook
	if err := r.db.GetContext(ctx, &gradebook, query, id); err != nil {
		return nil, err
	}
	return &gradebook, nil
}

// FindByCourse returns the gradebook owned by a course.
func (r *GradebookRepository) FindByCourse(ctx context.Context, courseID string) (*models.Gradebook, error) {
	query := `SELECT ` + gradebookColumns + ` FROM gradebooks WHERE course_id = $1`
	var gradebook models.Gradebook
	if err := r.db.GetContext(ctx, &gradebook, query, courseID); err != nil {
		return nil, err
	}
	return &gradebook, nil
}

// LockForUpdate reads the gradebook row with FOR UPDATE so that structural
// mutations of one gradebook run one at a time.
func (r *GradebookRepository) LockForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Gradebook, error) {
	query := `SELECT ` + gradebookColumns + ` FROM gradebooks WHERE id = $1 FOR UPDATE`
	var gradebook models.Gradebook
	if err := sqlx.GetContext(ctx, r.exec(exec), &gradebook, query, id); err != nil {
		return nil, err
	}
	return &gradebook, nil
}

// Touch bumps updated_at after a hierarchy change.
func (r *GradebookRepository) Touch(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error {
	const query = `UPDATE gradebooks SET updated_at = $2 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch gradebook: %w", err)
	}
	return nil
}

// Delete removes a gradebook together with its hierarchy and grades.
func (r *GradebookRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gradebooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete gradebook: %w", err)
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
