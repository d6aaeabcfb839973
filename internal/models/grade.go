package models

import "time"

// AdjustmentType tags an adjustment for reporting; the sign of Points drives the effect.
type AdjustmentType string

const (
	// AdjustmentBonus rewards extra points.
	AdjustmentBonus AdjustmentType = "bonus"
	// AdjustmentPenalty deducts points.
	AdjustmentPenalty AdjustmentType = "penalty"
	// AdjustmentCurve applies a class-wide curve.
	AdjustmentCurve AdjustmentType = "curve"
)

// SubmissionRef is an opaque pointer to the external submission a grade came from.
type SubmissionRef struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// GradeAdjustment is an auditable point delta on a grade record.
type GradeAdjustment struct {
	ID            string         `db:"id" json:"id"`
	GradeRecordID string         `db:"grade_record_id" json:"grade_record_id"`
	Type          AdjustmentType `db:"type" json:"type"`
	Points        float64        `db:"points" json:"points"`
	Reason        string         `db:"reason" json:"reason"`
	AppliedBy     *string        `db:"applied_by" json:"applied_by,omitempty"`
	AppliedAt     time.Time      `db:"applied_at" json:"applied_at"`
	IsActive      bool           `db:"is_active" json:"is_active"`
}

// GradeRecord stores one enrollment's score for one item.
type GradeRecord struct {
	ID             string            `db:"id" json:"id"`
	EnrollmentID   string            `db:"enrollment_id" json:"enrollment_id"`
	ItemID         string            `db:"item_id" json:"item_id"`
	BaseGrade      *float64          `db:"base_grade" json:"base_grade,omitempty"`
	Feedback       *string           `db:"feedback" json:"feedback,omitempty"`
	GradedBy       *string           `db:"graded_by" json:"graded_by,omitempty"`
	GradedAt       *time.Time        `db:"graded_at" json:"graded_at,omitempty"`
	SubmissionType *string           `db:"submission_type" json:"-"`
	SubmissionID   *string           `db:"submission_id" json:"-"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
	Adjustments    []GradeAdjustment `json:"adjustments"`
}

// Graded reports whether a base grade has been recorded.
func (g *GradeRecord) Graded() bool {
	return g != nil && g.BaseGrade != nil
}

// EffectiveScore is the base grade plus active adjustments, floored at zero.
// It is intentionally not capped at the item's max grade.
func (g *GradeRecord) EffectiveScore() float64 {
	if !g.Graded() {
		return 0
	}
	score := *g.BaseGrade
	for _, adj := range g.Adjustments {
		if adj.IsActive {
			score += adj.Points
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// Submission returns the stored submission reference, if any.
func (g *GradeRecord) Submission() *SubmissionRef {
	if g == nil || g.SubmissionType == nil || g.SubmissionID == nil {
		return nil
	}
	return &SubmissionRef{Type: *g.SubmissionType, ID: *g.SubmissionID}
}

// SetSubmission stores ref, or clears it when ref is nil.
func (g *GradeRecord) SetSubmission(ref *SubmissionRef) {
	if ref == nil {
		g.SubmissionType, g.SubmissionID = nil, nil
		return
	}
	typ, id := ref.Type, ref.ID
	g.SubmissionType, g.SubmissionID = &typ, &id
}

// GradeRecordView is the API representation of a record with derived values.
type GradeRecordView struct {
	GradeRecord
	Submission     *SubmissionRef `json:"submission_ref,omitempty"`
	Graded         bool           `json:"graded"`
	EffectiveScore *float64       `json:"effective_score,omitempty"`
}

// NewGradeRecordView decorates a record with its derived values.
func NewGradeRecordView(rec *GradeRecord) *GradeRecordView {
	if rec == nil {
		return nil
	}
	if rec.Adjustments == nil {
		rec.Adjustments = []GradeAdjustment{}
	}
	view := &GradeRecordView{GradeRecord: *rec, Submission: rec.Submission(), Graded: rec.Graded()}
	if view.Graded {
		score := rec.EffectiveScore()
		view.EffectiveScore = &score
	}
	return view
}

// GradeBreakdown is one node of a computed final grade.
type GradeBreakdown struct {
	Kind            GradebookNodeKind `json:"kind"`
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Weight          float64           `json:"weight"`
	FlattenedWeight float64           `json:"flattened_weight"`
	ExtraCredit     bool              `json:"extra_credit"`
	Graded          bool              `json:"graded"`
	Percentage      float64           `json:"percentage"`
	MaxGrade        *float64          `json:"max_grade,omitempty"`
	BaseGrade       *float64          `json:"base_grade,omitempty"`
	EffectiveScore  *float64          `json:"effective_score,omitempty"`
	GradeRecordID   *string           `json:"grade_record_id,omitempty"`
	Children        []GradeBreakdown  `json:"children,omitempty"`
}

// FinalGrade is the engine output for one enrollment.
type FinalGrade struct {
	EnrollmentID string         `json:"enrollment_id"`
	GradebookID  string         `json:"gradebook_id"`
	FinalGrade   float64        `json:"final_grade"`
	TotalWeight  float64        `json:"total_weight"`
	GradedItems  int            `json:"graded_items"`
	Breakdown    GradeBreakdown `json:"breakdown"`
	CalculatedAt time.Time      `json:"calculated_at"`
}

// RosterRow summarises one enrollment in a course roster report.
type RosterRow struct {
	EnrollmentID string  `json:"enrollment_id"`
	UserID       string  `json:"user_id"`
	FinalGrade   float64 `json:"final_grade"`
	TotalWeight  float64 `json:"total_weight"`
	GradedItems  int     `json:"graded_items"`
}

// RosterReport lists final grades for every active enrollment of a course.
type RosterReport struct {
	GradebookID string      `json:"gradebook_id"`
	CourseID    string      `json:"course_id"`
	Rows        []RosterRow `json:"rows"`
	GeneratedAt time.Time   `json:"generated_at"`
}
