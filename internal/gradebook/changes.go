package gradebook

import (
	"sort"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
)

type changeKind int

const (
	changeCreated changeKind = iota + 1
	changeUpdated
	changeDeleted
)

type changeTracker struct {
	state          map[Ref]changeKind
	rangeChanges   map[string]bool
	deletedParents map[string]string
}

func newChangeTracker() *changeTracker {
	return &changeTracker{
		state:          map[Ref]changeKind{},
		rangeChanges:   map[string]bool{},
		deletedParents: map[string]string{},
	}
}

func (c *changeTracker) created(ref Ref) { c.state[ref] = changeCreated }

func (c *changeTracker) updated(ref Ref) {
	if _, ok := c.state[ref]; !ok {
		c.state[ref] = changeUpdated
	}
}

func (c *changeTracker) deleted(ref Ref, scope string) {
	if ref.Kind == models.NodeKindCategory {
		c.deletedParents[ref.ID] = scope
	}
	if c.state[ref] == changeCreated {
		delete(c.state, ref)
		delete(c.rangeChanges, ref.ID)
		return
	}
	c.state[ref] = changeDeleted
	delete(c.rangeChanges, ref.ID)
}

func (c *changeTracker) rangeChanged(itemID string) {
	if c.state[ItemRef(itemID)] != changeCreated {
		c.rangeChanges[itemID] = true
	}
}

func (c *changeTracker) wasDeleted(id string) bool {
	return c.state[CategoryRef(id)] == changeDeleted || c.state[ItemRef(id)] == changeDeleted
}

// Changeset lists the rows a batch of operations touched, ordered so they can be
// written one by one without breaking parent references: new categories parents
// first, deleted categories children first.
type Changeset struct {
	CreatedCategories []models.GradebookCategory
	CreatedItems      []models.GradebookItem
	UpdatedCategories []models.GradebookCategory
	UpdatedItems      []models.GradebookItem
	DeletedItems      []string
	DeletedCategories []string
	// RangeChangedItems lists pre-existing items whose min or max grade moved.
	RangeChangedItems []models.GradebookItem
}

// Empty reports whether the batch changed nothing.
func (c *Changeset) Empty() bool {
	return len(c.CreatedCategories)+len(c.CreatedItems)+len(c.UpdatedCategories)+
		len(c.UpdatedItems)+len(c.DeletedItems)+len(c.DeletedCategories) == 0
}

// Changes returns the rows modified since the tree was built.
func (t *Tree) Changes() *Changeset {
	cs := &Changeset{}
	var deletedCategories []string
	for ref, kind := range t.changes.state {
		switch {
		case ref.Kind == models.NodeKindCategory && kind == changeCreated:
			cs.CreatedCategories = append(cs.CreatedCategories, *t.categories[ref.ID])
		case ref.Kind == models.NodeKindCategory && kind == changeUpdated:
			cs.UpdatedCategories = append(cs.UpdatedCategories, *t.categories[ref.ID])
		case ref.Kind == models.NodeKindCategory && kind == changeDeleted:
			deletedCategories = append(deletedCategories, ref.ID)
		case ref.Kind == models.NodeKindItem && kind == changeCreated:
			cs.CreatedItems = append(cs.CreatedItems, *t.items[ref.ID])
		case ref.Kind == models.NodeKindItem && kind == changeUpdated:
			cs.UpdatedItems = append(cs.UpdatedItems, *t.items[ref.ID])
		case ref.Kind == models.NodeKindItem && kind == changeDeleted:
			cs.DeletedItems = append(cs.DeletedItems, ref.ID)
		}
	}
	for id := range t.changes.rangeChanges {
		if it, ok := t.items[id]; ok {
			cs.RangeChangedItems = append(cs.RangeChangedItems, *it)
		}
	}

	sort.Slice(cs.CreatedCategories, func(i, j int) bool {
		di, dj := t.depth(cs.CreatedCategories[i].ID), t.depth(cs.CreatedCategories[j].ID)
		if di != dj {
			return di < dj
		}
		return cs.CreatedCategories[i].ID < cs.CreatedCategories[j].ID
	})
	sort.Slice(cs.CreatedItems, func(i, j int) bool { return cs.CreatedItems[i].ID < cs.CreatedItems[j].ID })
	sort.Slice(cs.UpdatedCategories, func(i, j int) bool { return cs.UpdatedCategories[i].ID < cs.UpdatedCategories[j].ID })
	sort.Slice(cs.UpdatedItems, func(i, j int) bool { return cs.UpdatedItems[i].ID < cs.UpdatedItems[j].ID })
	sort.Strings(cs.DeletedItems)
	sort.Slice(cs.RangeChangedItems, func(i, j int) bool { return cs.RangeChangedItems[i].ID < cs.RangeChangedItems[j].ID })
	cs.DeletedCategories = t.orderDeletedCategories(deletedCategories)
	return cs
}

// orderDeletedCategories puts children before their parents, using the parent
// each category had when it was removed.
func (t *Tree) orderDeletedCategories(ids []string) []string {
	sort.Strings(ids)
	if len(ids) < 2 {
		return ids
	}
	parents := t.changes.deletedParents
	depth := func(id string) int {
		d := 0
		seen := map[string]bool{}
		for p, ok := parents[id]; ok && p != "" && !seen[p]; p, ok = parents[p] {
			seen[p] = true
			d++
		}
		return d
	}
	sort.SliceStable(ids, func(i, j int) bool { return depth(ids[i]) > depth(ids[j]) })
	return ids
}
