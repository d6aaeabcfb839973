package gradebook

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

// OpKind names a hierarchy mutation.
type OpKind string

const (
	OpCreateCategory OpKind = "create_category"
	OpUpdateCategory OpKind = "update_category"
	OpDeleteCategory OpKind = "delete_category"
	OpCreateItem     OpKind = "create_item"
	OpUpdateItem     OpKind = "update_item"
	OpDeleteItem     OpKind = "delete_item"
	OpReorder        OpKind = "reorder"
)

// Op is a single hierarchy mutation. Pointer fields left nil are untouched on
// updates. Move must be set for ParentID to take effect on an update, with a nil
// ParentID moving the node to the root.
type Op struct {
	Kind        OpKind   `json:"op" validate:"required,oneof=create_category update_category delete_category create_item update_item delete_item reorder"`
	ID          string   `json:"id,omitempty"`
	ParentID    *string  `json:"parent_id,omitempty"`
	Move        bool     `json:"move,omitempty"`
	Name        *string  `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string  `json:"description,omitempty"`
	Weight      *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=100"`
	ClearWeight bool     `json:"clear_weight,omitempty"`
	ExtraCredit *bool    `json:"extra_credit,omitempty"`
	MaxGrade    *float64 `json:"max_grade,omitempty" validate:"omitempty,gt=0"`
	MinGrade    *float64 `json:"min_grade,omitempty" validate:"omitempty,gte=0"`
	SortOrder   *int     `json:"sort_order,omitempty" validate:"omitempty,gte=0"`
	Order       []Ref    `json:"order,omitempty" validate:"omitempty,dive"`
}

// DefaultMaxGrade applies to items created without a max grade.
const DefaultMaxGrade = 100

// Apply runs ops in order and then validates every scope, category and item the
// batch touched. Intermediate states may break invariants; only the final state
// is checked. On error the tree must be discarded.
func (t *Tree) Apply(ops []Op, now time.Time) error {
	touch := newTouchSet()
	for i, op := range ops {
		if err := t.apply(op, now, touch); err != nil {
			return opError(i, op, err)
		}
	}
	return t.validateTouched(touch)
}

func (t *Tree) apply(op Op, now time.Time, touch *touchSet) error {
	switch op.Kind {
	case OpCreateCategory:
		return t.createCategory(op, now, touch)
	case OpUpdateCategory:
		return t.updateCategory(op, now, touch)
	case OpDeleteCategory:
		return t.deleteNode(CategoryRef(op.ID), now, touch)
	case OpCreateItem:
		return t.createItem(op, now, touch)
	case OpUpdateItem:
		return t.updateItem(op, now, touch)
	case OpDeleteItem:
		return t.deleteNode(ItemRef(op.ID), now, touch)
	case OpReorder:
		return t.reorder(scopeKey(op.ParentID), op.Order, now)
	default:
		return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("unknown operation %q", op.Kind))
	}
}

func (t *Tree) createCategory(op Op, now time.Time, touch *touchSet) error {
	name, err := requireName(op.Name)
	if err != nil {
		return err
	}
	id, err := t.claimID(op.ID)
	if err != nil {
		return err
	}
	scope := scopeKey(op.ParentID)
	if !t.scopeExists(scope) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("parent category %s not found", scope))
	}
	c := &models.GradebookCategory{
		ID:          id,
		GradebookID: t.gradebookID,
		ParentID:    scopePtr(scope),
		Name:        name,
		Description: op.Description,
		Weight:      op.Weight,
		ExtraCredit: op.ExtraCredit != nil && *op.ExtraCredit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.categories[id] = c
	ref := CategoryRef(id)
	t.insertAt(scope, ref, op.SortOrder, now)
	t.changes.created(ref)
	touch.scope(scope)
	if scope != RootScope {
		touch.category(scope)
	}
	touch.category(id)
	return nil
}

func (t *Tree) createItem(op Op, now time.Time, touch *touchSet) error {
	name, err := requireName(op.Name)
	if err != nil {
		return err
	}
	id, err := t.claimID(op.ID)
	if err != nil {
		return err
	}
	scope := scopeKey(op.ParentID)
	if !t.scopeExists(scope) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("category %s not found", scope))
	}
	it := &models.GradebookItem{
		ID:          id,
		GradebookID: t.gradebookID,
		CategoryID:  scopePtr(scope),
		Name:        name,
		Description: op.Description,
		MaxGrade:    DefaultMaxGrade,
		Weight:      op.Weight,
		ExtraCredit: op.ExtraCredit != nil && *op.ExtraCredit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if op.MaxGrade != nil {
		it.MaxGrade = *op.MaxGrade
	}
	if op.MinGrade != nil {
		it.MinGrade = *op.MinGrade
	}
	t.items[id] = it
	ref := ItemRef(id)
	t.insertAt(scope, ref, op.SortOrder, now)
	t.changes.created(ref)
	touch.scope(scope)
	if scope != RootScope {
		touch.category(scope)
	}
	touch.item(id)
	return nil
}

func (t *Tree) updateCategory(op Op, now time.Time, touch *touchSet) error {
	c, ok := t.categories[op.ID]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("category %s not found", op.ID))
	}
	if op.Name != nil {
		name, err := requireName(op.Name)
		if err != nil {
			return err
		}
		c.Name = name
	}
	if op.Description != nil {
		c.Description = op.Description
	}
	switch {
	case op.ClearWeight:
		c.Weight = nil
	case op.Weight != nil:
		w := *op.Weight
		c.Weight = &w
	}
	if op.ExtraCredit != nil {
		c.ExtraCredit = *op.ExtraCredit
	}
	c.UpdatedAt = now
	ref := CategoryRef(c.ID)
	t.changes.updated(ref)
	touch.scope(scopeKey(c.ParentID))
	touch.category(c.ID)
	if op.Move {
		target := scopeKey(op.ParentID)
		if target == c.ID || (target != RootScope && t.isDescendant(target, c.ID)) {
			return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("category %s cannot move beneath itself", c.Name))
		}
		if err := t.move(ref, target, op.SortOrder, now, touch); err != nil {
			return err
		}
	} else if op.SortOrder != nil {
		t.moveWithinScope(ref, *op.SortOrder, now)
	}
	return nil
}

func (t *Tree) updateItem(op Op, now time.Time, touch *touchSet) error {
	it, ok := t.items[op.ID]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("item %s not found", op.ID))
	}
	if op.Name != nil {
		name, err := requireName(op.Name)
		if err != nil {
			return err
		}
		it.Name = name
	}
	if op.Description != nil {
		it.Description = op.Description
	}
	switch {
	case op.ClearWeight:
		it.Weight = nil
	case op.Weight != nil:
		w := *op.Weight
		it.Weight = &w
	}
	if op.ExtraCredit != nil {
		it.ExtraCredit = *op.ExtraCredit
	}
	if op.MaxGrade != nil && *op.MaxGrade != it.MaxGrade {
		it.MaxGrade = *op.MaxGrade
		t.changes.rangeChanged(it.ID)
	}
	if op.MinGrade != nil && *op.MinGrade != it.MinGrade {
		it.MinGrade = *op.MinGrade
		t.changes.rangeChanged(it.ID)
	}
	it.UpdatedAt = now
	ref := ItemRef(it.ID)
	t.changes.updated(ref)
	touch.scope(scopeKey(it.CategoryID))
	touch.item(it.ID)
	if op.Move {
		if err := t.move(ref, scopeKey(op.ParentID), op.SortOrder, now, touch); err != nil {
			return err
		}
	} else if op.SortOrder != nil {
		t.moveWithinScope(ref, *op.SortOrder, now)
	}
	return nil
}

func (t *Tree) deleteNode(ref Ref, now time.Time, touch *touchSet) error {
	if !t.exists(ref) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", ref.Kind, ref.ID))
	}
	if ref.Kind == models.NodeKindCategory && t.HasChildren(ref.ID) {
		return appErrors.Clone(appErrors.ErrNotEmpty, fmt.Sprintf("category %s still has children", t.categories[ref.ID].Name))
	}
	scope := t.scopeOf(ref)
	t.removeFromScope(scope, ref, now)
	if ref.Kind == models.NodeKindCategory {
		delete(t.categories, ref.ID)
		delete(t.children, ref.ID)
	} else {
		delete(t.items, ref.ID)
	}
	t.changes.deleted(ref, scope)
	touch.scope(scope)
	if scope != RootScope {
		touch.category(scope)
	}
	return nil
}

// reorder assigns contiguous positions to scope's children in the given order.
// order must name exactly the scope's current children.
func (t *Tree) reorder(scope string, order []Ref, now time.Time) error {
	if !t.scopeExists(scope) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("category %s not found", scope))
	}
	current := t.children[scope]
	if len(order) != len(current) {
		return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("reorder of %s must list all %d children", scopeLabel(scope), len(current)))
	}
	members := make(map[Ref]bool, len(current))
	for _, ref := range current {
		members[ref] = true
	}
	for _, ref := range order {
		if !members[ref] {
			return appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("%s %s is not a child of %s or is listed twice", ref.Kind, ref.ID, scopeLabel(scope)))
		}
		delete(members, ref)
	}
	next := make([]Ref, len(order))
	copy(next, order)
	t.children[scope] = next
	t.renumber(scope, now)
	return nil
}

func (t *Tree) move(ref Ref, target string, position *int, now time.Time, touch *touchSet) error {
	if !t.scopeExists(target) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("category %s not found", target))
	}
	source := t.scopeOf(ref)
	if source == target {
		if position != nil {
			t.moveWithinScope(ref, *position, now)
		}
		return nil
	}
	t.removeFromScope(source, ref, now)
	if ref.Kind == models.NodeKindCategory {
		t.categories[ref.ID].ParentID = scopePtr(target)
	} else {
		t.items[ref.ID].CategoryID = scopePtr(target)
	}
	t.insertAt(target, ref, position, now)
	touch.scope(source)
	touch.scope(target)
	if source != RootScope {
		touch.category(source)
	}
	if target != RootScope {
		touch.category(target)
	}
	return nil
}

// insertAt places ref at position in scope, appending when position is nil or
// past the end, and renumbers the scope.
func (t *Tree) insertAt(scope string, ref Ref, position *int, now time.Time) {
	refs := t.children[scope]
	at := len(refs)
	if position != nil && *position >= 0 && *position < len(refs) {
		at = *position
	}
	refs = append(refs, Ref{})
	copy(refs[at+1:], refs[at:])
	refs[at] = ref
	t.children[scope] = refs
	t.renumber(scope, now)
}

func (t *Tree) moveWithinScope(ref Ref, position int, now time.Time) {
	scope := t.scopeOf(ref)
	t.removeFromScope(scope, ref, now)
	t.insertAt(scope, ref, &position, now)
}

func (t *Tree) removeFromScope(scope string, ref Ref, now time.Time) {
	refs := t.children[scope]
	for i, r := range refs {
		if r == ref {
			refs = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	t.children[scope] = refs
	t.renumber(scope, now)
}

// renumber rewrites sort orders to 0..n-1 and records the siblings that moved.
func (t *Tree) renumber(scope string, now time.Time) {
	for i, ref := range t.children[scope] {
		switch ref.Kind {
		case models.NodeKindCategory:
			c := t.categories[ref.ID]
			if c.SortOrder != i {
				c.SortOrder = i
				c.UpdatedAt = now
				t.changes.updated(ref)
			}
		case models.NodeKindItem:
			it := t.items[ref.ID]
			if it.SortOrder != i {
				it.SortOrder = i
				it.UpdatedAt = now
				t.changes.updated(ref)
			}
		}
	}
}

func (t *Tree) claimID(requested string) (string, error) {
	if requested == "" {
		return t.newID(), nil
	}
	if _, ok := t.categories[requested]; ok {
		return "", appErrors.Clone(appErrors.ErrDuplicate, fmt.Sprintf("id %s already in use", requested))
	}
	if _, ok := t.items[requested]; ok {
		return "", appErrors.Clone(appErrors.ErrDuplicate, fmt.Sprintf("id %s already in use", requested))
	}
	if t.changes.wasDeleted(requested) {
		return "", appErrors.Clone(appErrors.ErrArgument, fmt.Sprintf("id %s was deleted in this batch", requested))
	}
	return requested, nil
}

func (t *Tree) validateTouched(touch *touchSet) error {
	// A category gaining or losing its last child changes its weight in the parent scope.
	for id := range touch.categories {
		if c, ok := t.categories[id]; ok {
			touch.scope(scopeKey(c.ParentID))
		}
	}
	for _, id := range sortedKeys(touch.items) {
		if _, ok := t.items[id]; ok {
			if err := t.ValidateItem(id); err != nil {
				return err
			}
		}
	}
	for _, id := range sortedKeys(touch.categories) {
		if _, ok := t.categories[id]; ok {
			if err := t.ValidateCategory(id); err != nil {
				return err
			}
		}
	}
	for _, scope := range sortedKeys(touch.scopes) {
		if t.scopeExists(scope) {
			if err := t.ValidateScope(scope); err != nil {
				return err
			}
		}
	}
	return nil
}

func requireName(name *string) (string, error) {
	if name == nil || strings.TrimSpace(*name) == "" {
		return "", appErrors.Clone(appErrors.ErrArgument, "name is required")
	}
	return strings.TrimSpace(*name), nil
}

func opError(index int, op Op, err error) error {
	appErr := appErrors.FromError(err)
	clone := *appErr
	clone.Message = fmt.Sprintf("operation %d (%s): %s", index, op.Kind, appErr.Message)
	return &clone
}

type touchSet struct {
	scopes     map[string]bool
	categories map[string]bool
	items      map[string]bool
}

func newTouchSet() *touchSet {
	return &touchSet{scopes: map[string]bool{}, categories: map[string]bool{}, items: map[string]bool{}}
}

func (s *touchSet) scope(id string)    { s.scopes[id] = true }
func (s *touchSet) category(id string) { s.categories[id] = true }
func (s *touchSet) item(id string)     { s.items[id] = true }

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
