package tree

import (
	"errors"
	"reflect"
	"sort"
)

// ErrInvalidPath is returned when a textual path cannot be parsed.
var ErrInvalidPath = errors.New("invalid path")

// Item is an opaque payload. The tree never inspects or transforms items.
type Item = any

type branch struct {
	path  Path
	items []Item
}

// DataTree maps paths to ordered item lists.
//
// Path iteration order is the order in which each path was first created by
// Append, AppendRange or EnsurePath. It is not sorted. A DataTree is not safe
// for concurrent mutation; producers fill it, consumers read or Clone it.
type DataTree struct {
	order    []string
	branches map[string]*branch
}

// New creates an empty tree.
func New() *DataTree {
	return &DataTree{
		branches: make(map[string]*branch),
	}
}

// FromBranches builds a tree from paths and item lists given in order.
// paths and items must have the same length.
func FromBranches(paths []Path, items [][]Item) *DataTree {
	t := New()
	for i, p := range paths {
		t.AppendRange(items[i], p)
	}
	return t
}

func (t *DataTree) ensure(p Path) *branch {
	if t.branches == nil {
		t.branches = make(map[string]*branch)
	}
	key := p.Key()
	b, ok := t.branches[key]
	if !ok {
		b = &branch{path: p}
		t.branches[key] = b
		t.order = append(t.order, key)
	}
	return b
}

// EnsurePath creates an empty branch at p if none exists.
func (t *DataTree) EnsurePath(p Path) {
	t.ensure(p)
}

// Append adds one item to the end of the branch at p, creating it if needed.
func (t *DataTree) Append(item Item, p Path) {
	b := t.ensure(p)
	b.items = append(b.items, item)
}

// AppendRange adds items to the end of the branch at p. The branch is created
// even when items is empty.
func (t *DataTree) AppendRange(items []Item, p Path) {
	b := t.ensure(p)
	b.items = append(b.items, items...)
}

// Paths returns the branch paths in iteration order.
func (t *DataTree) Paths() []Path {
	if t == nil {
		return nil
	}
	paths := make([]Path, 0, len(t.order))
	for _, key := range t.order {
		paths = append(paths, t.branches[key].path)
	}
	return paths
}

// Branch returns a copy of the items stored at p.
func (t *DataTree) Branch(p Path) ([]Item, bool) {
	if t == nil {
		return nil, false
	}
	b, ok := t.branches[p.Key()]
	if !ok {
		return nil, false
	}
	cp := make([]Item, len(b.items))
	copy(cp, b.items)
	return cp, true
}

// Range calls fn for every branch in iteration order until fn returns false.
// The item slice passed to fn must not be retained or modified.
func (t *DataTree) Range(fn func(p Path, items []Item) bool) {
	if t == nil {
		return
	}
	for _, key := range t.order {
		b := t.branches[key]
		if !fn(b.path, b.items) {
			return
		}
	}
}

// PathCount returns the number of branches.
func (t *DataTree) PathCount() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// ItemCount returns the total number of items across all branches.
func (t *DataTree) ItemCount() int {
	n := 0
	t.Range(func(_ Path, items []Item) bool {
		n += len(items)
		return true
	})
	return n
}

// IsEmpty reports whether the tree has no branches.
func (t *DataTree) IsEmpty() bool {
	return t.PathCount() == 0
}

// AllItems returns every item in branch order, then item order.
func (t *DataTree) AllItems() []Item {
	all := make([]Item, 0, t.ItemCount())
	t.Range(func(_ Path, items []Item) bool {
		all = append(all, items...)
		return true
	})
	return all
}

// Clone returns a structural copy. Items are shared, not copied.
func (t *DataTree) Clone() *DataTree {
	out := New()
	t.Range(func(p Path, items []Item) bool {
		out.AppendRange(items, p)
		return true
	})
	return out
}

// Sorted returns a copy whose branches iterate in Path.Compare order.
func (t *DataTree) Sorted() *DataTree {
	paths := t.Paths()
	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].Compare(paths[j]) < 0
	})
	out := New()
	for _, p := range paths {
		items, _ := t.Branch(p)
		out.AppendRange(items, p)
	}
	return out
}

// Equal reports whether both trees have the same branches, in the same order,
// holding deeply equal items.
func (t *DataTree) Equal(other *DataTree) bool {
	if t.PathCount() != other.PathCount() {
		return false
	}
	if t.PathCount() == 0 {
		return true
	}
	for i, key := range t.order {
		if other.order[i] != key {
			return false
		}
		if !reflect.DeepEqual(t.branches[key].items, other.branches[key].items) {
			return false
		}
	}
	return true
}
