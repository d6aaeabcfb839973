package dto

import (
	"github.com/paideia-lms/Paideia-sub010/internal/gradebook"
	"github.com/paideia-lms/Paideia-sub010/internal/models"
)

// CreateGradebookRequest creates the gradebook of a course.
type CreateGradebookRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// HierarchyMutationRequest carries a batch of hierarchy operations applied and
// validated as one unit.
type HierarchyMutationRequest struct {
	Ops []gradebook.Op `json:"ops" validate:"required,min=1,dive"`
}

// CategoryRequest creates or updates a category. On update, Move must be true
// for ParentID to be applied.
type CategoryRequest struct {
	ParentID    *string  `json:"parent_id"`
	Move        bool     `json:"move"`
	Name        *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string  `json:"description"`
	Weight      *float64 `json:"weight" validate:"omitempty,gte=0,lte=100"`
	ClearWeight bool     `json:"clear_weight"`
	ExtraCredit *bool    `json:"extra_credit"`
	SortOrder   *int     `json:"sort_order" validate:"omitempty,gte=0"`
}

// ToOp converts the request into a hierarchy operation.
func (r CategoryRequest) ToOp(kind gradebook.OpKind, id string) gradebook.Op {
	return gradebook.Op{
		Kind:        kind,
		ID:          id,
		ParentID:    r.ParentID,
		Move:        r.Move,
		Name:        r.Name,
		Description: r.Description,
		Weight:      r.Weight,
		ClearWeight: r.ClearWeight,
		ExtraCredit: r.ExtraCredit,
		SortOrder:   r.SortOrder,
	}
}

// ItemRequest creates or updates an item. CategoryID nil places it at the root.
type ItemRequest struct {
	CategoryID  *string  `json:"category_id"`
	Move        bool     `json:"move"`
	Name        *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string  `json:"description"`
	Weight      *float64 `json:"weight" validate:"omitempty,gte=0,lte=100"`
	ClearWeight bool     `json:"clear_weight"`
	ExtraCredit *bool    `json:"extra_credit"`
	MaxGrade    *float64 `json:"max_grade" validate:"omitempty,gt=0"`
	MinGrade    *float64 `json:"min_grade" validate:"omitempty,gte=0"`
	SortOrder   *int     `json:"sort_order" validate:"omitempty,gte=0"`
}

// ToOp converts the request into a hierarchy operation.
func (r ItemRequest) ToOp(kind gradebook.OpKind, id string) gradebook.Op {
	return gradebook.Op{
		Kind:        kind,
		ID:          id,
		ParentID:    r.CategoryID,
		Move:        r.Move,
		Name:        r.Name,
		Description: r.Description,
		Weight:      r.Weight,
		ClearWeight: r.ClearWeight,
		ExtraCredit: r.ExtraCredit,
		MaxGrade:    r.MaxGrade,
		MinGrade:    r.MinGrade,
		SortOrder:   r.SortOrder,
	}
}

// ReorderRequest reassigns the full ordering of one scope.
type ReorderRequest struct {
	ParentID *string         `json:"parent_id"`
	Order    []gradebook.Ref `json:"order" validate:"required,min=1,dive"`
}

// ToOp converts the request into a hierarchy operation.
func (r ReorderRequest) ToOp() gradebook.Op {
	return gradebook.Op{Kind: gradebook.OpReorder, ParentID: r.ParentID, Order: r.Order}
}

// RecordGradeRequest creates the grade record of an (enrollment, item) pair.
type RecordGradeRequest struct {
	EnrollmentID  string                `json:"enrollment_id" validate:"required"`
	ItemID        string                `json:"item_id" validate:"required"`
	BaseGrade     *float64              `json:"base_grade"`
	Feedback      *string               `json:"feedback"`
	SubmissionRef *models.SubmissionRef `json:"submission_ref" validate:"omitempty"`
}

// UpdateGradeRequest changes a record. ClearBaseGrade marks it ungraded.
type UpdateGradeRequest struct {
	BaseGrade      *float64 `json:"base_grade"`
	ClearBaseGrade bool     `json:"clear_base_grade"`
	Feedback       *string  `json:"feedback"`
}

// ReleaseGradeRequest publishes an externally computed submission grade.
type ReleaseGradeRequest struct {
	EnrollmentID  string                `json:"enrollment_id" validate:"required"`
	ItemID        string                `json:"item_id" validate:"required"`
	Score         *float64              `json:"score" validate:"required"`
	SubmissionRef *models.SubmissionRef `json:"submission_ref" validate:"required"`
	Feedback      *string               `json:"feedback"`
}

// AddAdjustmentRequest appends a point delta to a record's ledger.
type AddAdjustmentRequest struct {
	Type   models.AdjustmentType `json:"type" validate:"required,oneof=bonus penalty curve"`
	Points float64               `json:"points"`
	Reason string                `json:"reason" validate:"required,max=1000"`
}

// ExportFormat selects the rendering of a roster export.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportRequest asks for a roster export of a gradebook.
type ExportRequest struct {
	Format ExportFormat `form:"format" json:"format" validate:"required,oneof=csv pdf"`
}

// ExportResult points at a generated export.
type ExportResult struct {
	Format    ExportFormat `json:"format"`
	URL       string       `json:"url"`
	ExpiresAt string       `json:"expires_at"`
}
