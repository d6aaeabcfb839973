package models

import "time"

// Gradebook is the per-course root of the weighted category/item forest.
type Gradebook struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// GradebookCategory is a weighted grouping node. A nil ParentID attaches it to the root.
type GradebookCategory struct {
	ID          string    `db:"id" json:"id"`
	GradebookID string    `db:"gradebook_id" json:"gradebook_id"`
	ParentID    *string   `db:"parent_id" json:"parent_id,omitempty"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Weight      *float64  `db:"weight" json:"weight,omitempty"`
	ExtraCredit bool      `db:"extra_credit" json:"extra_credit"`
	SortOrder   int       `db:"sort_order" json:"sort_order"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// GradebookItem is the leaf unit that receives grades. A nil CategoryID attaches it to the root.
type GradebookItem struct {
	ID          string    `db:"id" json:"id"`
	GradebookID string    `db:"gradebook_id" json:"gradebook_id"`
	CategoryID  *string   `db:"category_id" json:"category_id,omitempty"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	MaxGrade    float64   `db:"max_grade" json:"max_grade"`
	MinGrade    float64   `db:"min_grade" json:"min_grade"`
	Weight      *float64  `db:"weight" json:"weight,omitempty"`
	ExtraCredit bool      `db:"extra_credit" json:"extra_credit"`
	SortOrder   int       `db:"sort_order" json:"sort_order"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// GradebookNodeKind distinguishes the two kinds of tree nodes.
type GradebookNodeKind string

const (
	// NodeKindGradebook marks the root of a breakdown.
	NodeKindGradebook GradebookNodeKind = "gradebook"
	// NodeKindCategory marks a category node.
	NodeKindCategory GradebookNodeKind = "category"
	// NodeKindItem marks an item node.
	NodeKindItem GradebookNodeKind = "item"
)

// GradebookTreeNode is the nested, display-ordered view of one node.
type GradebookTreeNode struct {
	Kind            GradebookNodeKind   `json:"kind"`
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Weight          *float64            `json:"weight,omitempty"`
	EffectiveWeight float64             `json:"effective_weight"`
	ExtraCredit     bool                `json:"extra_credit"`
	SortOrder       int                 `json:"sort_order"`
	MaxGrade        *float64            `json:"max_grade,omitempty"`
	MinGrade        *float64            `json:"min_grade,omitempty"`
	Children        []GradebookTreeNode `json:"children,omitempty"`
}

// GradebookTree is the validated hierarchy returned after reads and mutations.
type GradebookTree struct {
	Gradebook Gradebook           `json:"gradebook"`
	Nodes     []GradebookTreeNode `json:"nodes"`
}
