package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/paideia-lms/Paideia-sub010/internal/gradebook"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
)

// HierarchyRepository persists gradebook categories and items.
type HierarchyRepository struct {
	db *sqlx.DB
}

// NewHierarchyRepository constructs the repository.
func NewHierarchyRepository(db *sqlx.DB) *HierarchyRepository {
	return &HierarchyRepository{db: db}
}

func (r *HierarchyRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const (
	categoryColumns = `id, gradebook_id, parent_id, name, description, weight, extra_credit, sort_order, created_at, updated_at`
	itemColumns     = `id, gradebook_id, category_id, name, description, max_grade, min_grade, weight, extra_credit, sort_order, created_at, updated_at`
)

// ListCategories returns every category of a gradebook.
func (r *HierarchyRepository) ListCategories(ctx context.Context, exec sqlx.ExtContext, gradebookID string) ([]models.GradebookCategory, error) {
	query := `SELECT ` + categoryColumns + ` FROM gradebook_categories WHERE gradebook_id = $1 ORDER BY sort_order, id`
	var categories []models.GradebookCategory
	if err := sqlx.SelectContext(ctx, r.exec(exec), &categories, query, gradebookID); err != nil {
		return nil, fmt.Errorf("list gradebook categories: %w", err)
	}
	return categories, nil
}

// ListItems returns every item of a gradebook.
func (r *HierarchyRepository) ListItems(ctx context.Context, exec sqlx.ExtContext, gradebookID string) ([]models.GradebookItem, error) {
	query := `SELECT ` + itemColumns + ` FROM gradebook_items WHERE gradebook_id = $1 ORDER BY sort_order, id`
	var items []models.GradebookItem
	if err := sqlx.SelectContext(ctx, r.exec(exec), &items, query, gradebookID); err != nil {
		return nil, fmt.Errorf("list gradebook items: %w", err)
	}
	return items, nil
}

// LoadTree reads the whole hierarchy of a gradebook into a tree.
func (r *HierarchyRepository) LoadTree(ctx context.Context, exec sqlx.ExtContext, gradebookID string) (*gradebook.Tree, error) {
	categories, err := r.ListCategories(ctx, exec, gradebookID)
	if err != nil {
		return nil, err
	}
	items, err := r.ListItems(ctx, exec, gradebookID)
	if err != nil {
		return nil, err
	}
	return gradebook.New(gradebookID, categories, items)
}

// FindItemForShare reads an item with FOR SHARE so its grade range cannot move
// while a grade is written against it.
func (r *HierarchyRepository) FindItemForShare(ctx context.Context, exec sqlx.ExtContext, id string) (*models.GradebookItem, error) {
	query := `SELECT ` + itemColumns + ` FROM gradebook_items WHERE id = $1 FOR SHARE`
	var item models.GradebookItem
	if err := sqlx.GetContext(ctx, r.exec(exec), &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// CountGradesOutsideRange counts graded records of an item that fall outside [min, max].
func (r *HierarchyRepository) CountGradesOutsideRange(ctx context.Context, exec sqlx.ExtContext, itemID string, minGrade, maxGrade float64) (int, error) {
	const query = `SELECT COUNT(*) FROM grade_records
        WHERE item_id = $1 AND base_grade IS NOT NULL AND (base_grade < $2 OR base_grade > $3)`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, itemID, minGrade, maxGrade); err != nil {
		return 0, fmt.Errorf("count out of range grades: %w", err)
	}
	return count, nil
}

// ApplyChanges writes a changeset: inserts parents before children, then
// updates, then deletes children before parents.
func (r *HierarchyRepository) ApplyChanges(ctx context.Context, exec sqlx.ExtContext, changes *gradebook.Changeset) error {
	target := r.exec(exec)
	const insertCategory = `INSERT INTO gradebook_categories (` + categoryColumns + `)
        VALUES (:id, :gradebook_id, :parent_id, :name, :description, :weight, :extra_credit, :sort_order, :created_at, :updated_at)`
	for i := range changes.CreatedCategories {
		if _, err := sqlx.NamedExecContext(ctx, target, insertCategory, &changes.CreatedCategories[i]); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert gradebook category: %w", ErrUniqueViolation)
			}
			return fmt.Errorf("insert gradebook category: %w", err)
		}
	}
	const insertItem = `INSERT INTO gradebook_items (` + itemColumns + `)
        VALUES (:id, :gradebook_id, :category_id, :name, :description, :max_grade, :min_grade, :weight, :extra_credit, :sort_order, :created_at, :updated_at)`
	for i := range changes.CreatedItems {
		if _, err := sqlx.NamedExecContext(ctx, target, insertItem, &changes.CreatedItems[i]); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert gradebook item: %w", ErrUniqueViolation)
			}
			return fmt.Errorf("insert gradebook item: %w", err)
		}
	}
	const updateCategory = `UPDATE gradebook_categories SET parent_id = :parent_id, name = :name, description = :description,
        weight = :weight, extra_credit = :extra_credit, sort_order = :sort_order, updated_at = :updated_at WHERE id = :id`
	for i := range changes.UpdatedCategories {
		if _, err := sqlx.NamedExecContext(ctx, target, updateCategory, &changes.UpdatedCategories[i]); err != nil {
			return fmt.Errorf("update gradebook category: %w", err)
		}
	}
	const updateItem = `UPDATE gradebook_items SET category_id = :category_id, name = :name, description = :description,
        max_grade = :max_grade, min_grade = :min_grade, weight = :weight, extra_credit = :extra_credit,
        sort_order = :sort_order, updated_at = :updated_at WHERE id = :id`
	for i := range changes.UpdatedItems {
		if _, err := sqlx.NamedExecContext(ctx, target, updateItem, &changes.UpdatedItems[i]); err != nil {
			return fmt.Errorf("update gradebook item: %w", err)
		}
	}
	for _, id := range changes.DeletedItems {
		if _, err := target.ExecContext(ctx, `DELETE FROM gradebook_items WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete gradebook item: %w", err)
		}
	}
	for _, id := range changes.DeletedCategories {
		if _, err := target.ExecContext(ctx, `DELETE FROM gradebook_categories WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete gradebook category: %w", err)
		}
	}
	return nil
}
