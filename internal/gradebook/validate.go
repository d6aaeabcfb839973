package gradebook

import (
	"fmt"
	"math"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

// WeightTolerance absorbs floating point noise when checking weight sums.
const WeightTolerance = 0.001

type nodeWeight struct {
	weight      *float64
	extraCredit bool
}

func (t *Tree) weightOf(ref Ref) nodeWeight {
	switch ref.Kind {
	case models.NodeKindCategory:
		c := t.categories[ref.ID]
		return nodeWeight{weight: c.Weight, extraCredit: c.ExtraCredit}
	default:
		it := t.items[ref.ID]
		return nodeWeight{weight: it.Weight, extraCredit: it.ExtraCredit}
	}
}

// autoWeighted reports whether ref takes a share of its scope's remainder: a
// baseline child without an explicit weight that can receive grades. Empty
// categories never do.
func (t *Tree) autoWeighted(ref Ref, w nodeWeight) bool {
	if w.extraCredit || w.weight != nil {
		return false
	}
	return ref.Kind != models.NodeKindCategory || t.HasChildren(ref.ID)
}

// EffectiveWeights resolves the weight every child of scope carries. Baseline
// children without an explicit weight share whatever the explicit weights leave
// of 100 equally; extra-credit children always carry their explicit weight and
// empty categories without a weight carry 0.
func (t *Tree) EffectiveWeights(scope string) map[Ref]float64 {
	refs := t.children[scope]
	out := make(map[Ref]float64, len(refs))
	var explicit float64
	var auto []Ref
	for _, ref := range refs {
		w := t.weightOf(ref)
		switch {
		case t.autoWeighted(ref, w):
			auto = append(auto, ref)
		case w.weight == nil:
			out[ref] = 0
		default:
			out[ref] = *w.weight
			if !w.extraCredit {
				explicit += *w.weight
			}
		}
	}
	if len(auto) > 0 {
		share := math.Max(0, 100-explicit) / float64(len(auto))
		for _, ref := range auto {
			out[ref] = share
		}
	}
	return out
}

// ValidateScope checks the weights of scope's children: explicit baseline
// weights must sum to 100, or stay below 100 when auto-weighted children take
// the remainder. Extra-credit children need an explicit weight and every
// explicit weight must lie in [0,100]. An empty scope is always valid.
func (t *Tree) ValidateScope(scope string) error {
	refs := t.children[scope]
	if len(refs) == 0 {
		return nil
	}
	var explicit float64
	var auto int
	for _, ref := range refs {
		w := t.weightOf(ref)
		if w.weight != nil && (*w.weight < 0 || *w.weight > 100) {
			return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("%s %s weight must be between 0 and 100", ref.Kind, ref.ID))
		}
		if w.extraCredit {
			if w.weight == nil {
				return appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("extra credit %s %s requires an explicit weight", ref.Kind, ref.ID))
			}
			continue
		}
		if t.autoWeighted(ref, w) {
			auto++
			continue
		}
		if w.weight != nil {
			explicit += *w.weight
		}
	}
	if auto > 0 {
		if explicit >= 100-WeightTolerance {
			return appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("%s weights sum to %.3f, leaving nothing for auto-weighted children", scopeLabel(scope), explicit))
		}
		return nil
	}
	if math.Abs(explicit-100) > WeightTolerance {
		return appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("%s weights sum to %.3f, expected 100", scopeLabel(scope), explicit))
	}
	return nil
}

// ValidateCategory rejects a non-zero weight on a category without children.
func (t *Tree) ValidateCategory(id string) error {
	c, ok := t.categories[id]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("category %s not found", id))
	}
	if c.Weight != nil && *c.Weight != 0 && !t.HasChildren(id) {
		return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("category %s cannot carry a weight before it has children", c.Name))
	}
	return nil
}

// ValidateItem checks an item's grade range.
func (t *Tree) ValidateItem(id string) error {
	it, ok := t.items[id]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("item %s not found", id))
	}
	if it.MaxGrade <= 0 {
		return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("item %s max grade must be positive", it.Name))
	}
	if it.MinGrade < 0 || it.MinGrade >= it.MaxGrade {
		return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("item %s min grade must be in [0, max grade)", it.Name))
	}
	return nil
}

// Validate checks every scope, category and item of the tree.
func (t *Tree) Validate() error {
	if err := t.ValidateScope(RootScope); err != nil {
		return err
	}
	for _, c := range t.Categories() {
		if err := t.ValidateCategory(c.ID); err != nil {
			return err
		}
		if err := t.ValidateScope(c.ID); err != nil {
			return err
		}
	}
	for _, it := range t.Items() {
		if err := t.ValidateItem(it.ID); err != nil {
			return err
		}
	}
	return nil
}

func scopeLabel(scope string) string {
	if scope == RootScope {
		return "gradebook root"
	}
	return "category " + scope
}
