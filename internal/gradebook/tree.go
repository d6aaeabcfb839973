// Package gradebook holds the weighted category/item tree of a course gradebook,
// the invariants that guard it and the engine that aggregates grade records over it.
// Everything here works on plain model values; persistence lives in the repositories.
package gradebook

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

// RootScope is the scope key of the gradebook root.
const RootScope = ""

// Ref identifies a category or item inside a tree.
type Ref struct {
	Kind models.GradebookNodeKind `json:"kind" validate:"required,oneof=category item"`
	ID   string                   `json:"id" validate:"required"`
}

// CategoryRef builds a Ref to a category.
func CategoryRef(id string) Ref { return Ref{Kind: models.NodeKindCategory, ID: id} }

// ItemRef builds a Ref to an item.
func ItemRef(id string) Ref { return Ref{Kind: models.NodeKindItem, ID: id} }

// Tree is an id-indexed view of one gradebook's hierarchy. Children are kept as
// ordered id lists per scope rather than object references.
type Tree struct {
	gradebookID string
	categories  map[string]*models.GradebookCategory
	items       map[string]*models.GradebookItem
	children    map[string][]Ref

	newID   func() string
	changes *changeTracker
}

// New builds a tree from flat rows, rejecting dangling parents and cycles.
func New(gradebookID string, categories []models.GradebookCategory, items []models.GradebookItem) (*Tree, error) {
	t := &Tree{
		gradebookID: gradebookID,
		categories:  make(map[string]*models.GradebookCategory, len(categories)),
		items:       make(map[string]*models.GradebookItem, len(items)),
		children:    make(map[string][]Ref),
		newID:       uuid.NewString,
		changes:     newChangeTracker(),
	}
	for i := range categories {
		c := categories[i]
		t.categories[c.ID] = &c
	}
	for i := range items {
		it := items[i]
		t.items[it.ID] = &it
	}
	for id, c := range t.categories {
		scope := scopeKey(c.ParentID)
		if scope != RootScope {
			if _, ok := t.categories[scope]; !ok {
				return nil, appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("category %s references missing parent %s", id, scope))
			}
		}
		t.children[scope] = append(t.children[scope], CategoryRef(id))
	}
	for id, it := range t.items {
		scope := scopeKey(it.CategoryID)
		if scope != RootScope {
			if _, ok := t.categories[scope]; !ok {
				return nil, appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("item %s references missing category %s", id, scope))
			}
		}
		t.children[scope] = append(t.children[scope], ItemRef(id))
	}
	for id := range t.categories {
		if t.hasCycle(id) {
			return nil, appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("category %s is its own ancestor", id))
		}
	}
	for scope := range t.children {
		t.sortScope(scope)
	}
	return t, nil
}

// GradebookID returns the owning gradebook.
func (t *Tree) GradebookID() string { return t.gradebookID }

// Category returns the category with id.
func (t *Tree) Category(id string) (*models.GradebookCategory, bool) {
	c, ok := t.categories[id]
	return c, ok
}

// Item returns the item with id.
func (t *Tree) Item(id string) (*models.GradebookItem, bool) {
	it, ok := t.items[id]
	return it, ok
}

// Children returns the display-ordered children of scope.
func (t *Tree) Children(scope string) []Ref {
	refs := t.children[scope]
	out := make([]Ref, len(refs))
	copy(out, refs)
	return out
}

// HasChildren reports whether the category owns any category or item.
func (t *Tree) HasChildren(categoryID string) bool {
	return len(t.children[categoryID]) > 0
}

// Categories returns a copy of every category.
func (t *Tree) Categories() []models.GradebookCategory {
	out := make([]models.GradebookCategory, 0, len(t.categories))
	for _, c := range t.categories {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Items returns a copy of every item.
func (t *Tree) Items() []models.GradebookItem {
	out := make([]models.GradebookItem, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nested renders the hierarchy in display order with effective weights.
func (t *Tree) Nested() []models.GradebookTreeNode {
	return t.nestedScope(RootScope)
}

func (t *Tree) nestedScope(scope string) []models.GradebookTreeNode {
	weights := t.EffectiveWeights(scope)
	refs := t.children[scope]
	nodes := make([]models.GradebookTreeNode, 0, len(refs))
	for _, ref := range refs {
		switch ref.Kind {
		case models.NodeKindCategory:
			c := t.categories[ref.ID]
			nodes = append(nodes, models.GradebookTreeNode{
				Kind:            models.NodeKindCategory,
				ID:              c.ID,
				Name:            c.Name,
				Weight:          c.Weight,
				EffectiveWeight: weights[ref],
				ExtraCredit:     c.ExtraCredit,
				SortOrder:       c.SortOrder,
				Children:        t.nestedScope(c.ID),
			})
		case models.NodeKindItem:
			it := t.items[ref.ID]
			maxGrade, minGrade := it.MaxGrade, it.MinGrade
			nodes = append(nodes, models.GradebookTreeNode{
				Kind:            models.NodeKindItem,
				ID:              it.ID,
				Name:            it.Name,
				Weight:          it.Weight,
				EffectiveWeight: weights[ref],
				ExtraCredit:     it.ExtraCredit,
				SortOrder:       it.SortOrder,
				MaxGrade:        &maxGrade,
				MinGrade:        &minGrade,
			})
		}
	}
	return nodes
}

// scopeOf returns the scope that contains ref.
func (t *Tree) scopeOf(ref Ref) string {
	switch ref.Kind {
	case models.NodeKindCategory:
		if c, ok := t.categories[ref.ID]; ok {
			return scopeKey(c.ParentID)
		}
	case models.NodeKindItem:
		if it, ok := t.items[ref.ID]; ok {
			return scopeKey(it.CategoryID)
		}
	}
	return RootScope
}

func (t *Tree) exists(ref Ref) bool {
	switch ref.Kind {
	case models.NodeKindCategory:
		_, ok := t.categories[ref.ID]
		return ok
	case models.NodeKindItem:
		_, ok := t.items[ref.ID]
		return ok
	}
	return false
}

func (t *Tree) scopeExists(scope string) bool {
	if scope == RootScope {
		return true
	}
	_, ok := t.categories[scope]
	return ok
}

// depth is 0 for root categories.
func (t *Tree) depth(categoryID string) int {
	d := 0
	c := t.categories[categoryID]
	for c != nil && c.ParentID != nil {
		d++
		c = t.categories[*c.ParentID]
	}
	return d
}

func (t *Tree) hasCycle(categoryID string) bool {
	seen := map[string]bool{categoryID: true}
	c := t.categories[categoryID]
	for c != nil && c.ParentID != nil {
		if seen[*c.ParentID] {
			return true
		}
		seen[*c.ParentID] = true
		c = t.categories[*c.ParentID]
	}
	return false
}

// isDescendant reports whether candidate sits anywhere beneath ancestor.
func (t *Tree) isDescendant(candidate, ancestor string) bool {
	c := t.categories[candidate]
	for c != nil && c.ParentID != nil {
		if *c.ParentID == ancestor {
			return true
		}
		c = t.categories[*c.ParentID]
	}
	return false
}

func (t *Tree) sortOrderOf(ref Ref) int {
	if ref.Kind == models.NodeKindCategory {
		return t.categories[ref.ID].SortOrder
	}
	return t.items[ref.ID].SortOrder
}

func (t *Tree) sortScope(scope string) {
	refs := t.children[scope]
	sort.SliceStable(refs, func(i, j int) bool {
		oi, oj := t.sortOrderOf(refs[i]), t.sortOrderOf(refs[j])
		if oi != oj {
			return oi < oj
		}
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind == models.NodeKindCategory
		}
		return refs[i].ID < refs[j].ID
	})
}

func scopeKey(parentID *string) string {
	if parentID == nil {
		return RootScope
	}
	return *parentID
}

func scopePtr(scope string) *string {
	if scope == RootScope {
		return nil
	}
	s := scope
	return &s
}
