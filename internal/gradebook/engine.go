package gradebook

import (
	"fmt"
	"time"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

// Compute aggregates an enrollment's grade records over the tree.
//
// Each scope's percentage is the weighted mean of its graded baseline children,
// renormalised over the weight actually graded, plus weight*percentage/100 for
// each graded extra-credit child. Ungraded children are skipped rather than
// counted as zero. Records for items outside the tree are ignored.
func Compute(t *Tree, enrollmentID string, records []models.GradeRecord, now time.Time) (*models.FinalGrade, error) {
	byItem := make(map[string]*models.GradeRecord, len(records))
	for i := range records {
		byItem[records[i].ItemID] = &records[i]
	}
	e := &evaluator{tree: t, records: byItem}
	children, pct, graded, err := e.scope(RootScope, 100)
	if err != nil {
		return nil, err
	}
	if !graded {
		pct = 0
	}
	return &models.FinalGrade{
		EnrollmentID: enrollmentID,
		GradebookID:  t.GradebookID(),
		FinalGrade:   pct,
		TotalWeight:  e.totalWeight,
		GradedItems:  e.gradedItems,
		Breakdown: models.GradeBreakdown{
			Kind:            models.NodeKindGradebook,
			ID:              t.GradebookID(),
			Weight:          100,
			FlattenedWeight: 100,
			Graded:          graded,
			Percentage:      pct,
			Children:        children,
		},
		CalculatedAt: now,
	}, nil
}

type evaluator struct {
	tree        *Tree
	records     map[string]*models.GradeRecord
	totalWeight float64
	gradedItems int
}

// scope evaluates the children of scope. parentFlat is the scope's own share of
// the whole gradebook, in percent.
func (e *evaluator) scope(scope string, parentFlat float64) ([]models.GradeBreakdown, float64, bool, error) {
	if err := e.checkScope(scope); err != nil {
		return nil, 0, false, err
	}
	weights := e.tree.EffectiveWeights(scope)
	refs := e.tree.children[scope]
	nodes := make([]models.GradeBreakdown, 0, len(refs))

	var weightedSum, gradedWeight, bonus float64
	var bonusGraded bool
	for _, ref := range refs {
		weight := weights[ref]
		node, err := e.node(ref, weight, parentFlat*weight/100)
		if err != nil {
			return nil, 0, false, err
		}
		nodes = append(nodes, node)
		if !node.Graded {
			continue
		}
		if node.ExtraCredit {
			bonus += weight * node.Percentage / 100
			bonusGraded = true
			continue
		}
		gradedWeight += weight
		weightedSum += weight * node.Percentage
	}

	var pct float64
	if gradedWeight > 0 {
		pct = weightedSum / gradedWeight
	}
	return nodes, pct + bonus, gradedWeight > 0 || bonusGraded, nil
}

func (e *evaluator) node(ref Ref, weight, flat float64) (models.GradeBreakdown, error) {
	if ref.Kind == models.NodeKindCategory {
		c := e.tree.categories[ref.ID]
		children, pct, graded, err := e.scope(c.ID, flat)
		if err != nil {
			return models.GradeBreakdown{}, err
		}
		return models.GradeBreakdown{
			Kind:            models.NodeKindCategory,
			ID:              c.ID,
			Name:            c.Name,
			Weight:          weight,
			FlattenedWeight: flat,
			ExtraCredit:     c.ExtraCredit,
			Graded:          graded,
			Percentage:      pct,
			Children:        children,
		}, nil
	}

	it := e.tree.items[ref.ID]
	if it.MaxGrade <= 0 {
		return models.GradeBreakdown{}, appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("item %s has non-positive max grade", it.Name))
	}
	maxGrade := it.MaxGrade
	out := models.GradeBreakdown{
		Kind:            models.NodeKindItem,
		ID:              it.ID,
		Name:            it.Name,
		Weight:          weight,
		FlattenedWeight: flat,
		ExtraCredit:     it.ExtraCredit,
		MaxGrade:        &maxGrade,
	}
	rec := e.records[it.ID]
	if rec == nil {
		return out, nil
	}
	recID := rec.ID
	out.GradeRecordID = &recID
	if !rec.Graded() {
		return out, nil
	}
	base, score := *rec.BaseGrade, rec.EffectiveScore()
	out.BaseGrade = &base
	out.EffectiveScore = &score
	out.Graded = true
	out.Percentage = score / it.MaxGrade * 100
	e.totalWeight += flat
	e.gradedItems++
	return out, nil
}

// checkScope guards the engine against rows that bypassed the validator. The
// sum-to-100 rule is left to the validator.
func (e *evaluator) checkScope(scope string) error {
	for _, ref := range e.tree.children[scope] {
		w := e.tree.weightOf(ref)
		if w.extraCredit && w.weight == nil {
			return appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("extra credit %s %s has no weight", ref.Kind, ref.ID))
		}
		if w.weight != nil && (*w.weight < 0 || *w.weight > 100) {
			return appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("%s %s weight %.3f out of range", ref.Kind, ref.ID, *w.weight))
		}
	}
	return nil
}
