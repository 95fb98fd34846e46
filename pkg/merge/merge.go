// Package merge combines an ordered list of slot trees into one output tree.
//
// Slots are visited in index order and, within a slot, branches are visited in
// that tree's own iteration order. A nil tree stands for a disconnected or
// unreadable slot and contributes nothing, not even a sequence position.
//
// Three modes are supported:
//
//	PreserveTree   items keep their source path; coinciding paths accumulate
//	               and empty source branches are kept
//	Flatten        every item lands on {0}
//	RebuildOrdered each (slot, path) pair gets a fresh {n}, n counting from 0
//
// Flatten and RebuildOrdered ignore empty source branches. Any other mode
// value behaves as RebuildOrdered.
package merge

import "github.com/wehubfusion/Gorilla/pkg/tree"

// Stats describes what a merge consumed and produced.
type Stats struct {
	// Slots is the number of slots offered, connected or not.
	Slots int
	// Skipped is the number of nil (disconnected or unreadable) slots.
	Skipped int
	// SourcePaths is the number of non-empty source branches visited.
	SourcePaths int
	// Items is the number of items relocated.
	Items int
	// OutputPaths is the branch count of the result.
	OutputPaths int
}

// Merge combines slotTrees under mode. The inputs are never modified and the
// result is always a new tree.
func Merge(slotTrees []*tree.DataTree, mode Mode) *tree.DataTree {
	out, _ := MergeWithStats(slotTrees, mode)
	return out
}

// MergeWithStats is Merge plus bookkeeping for logs and metrics.
func MergeWithStats(slotTrees []*tree.DataTree, mode Mode) (*tree.DataTree, Stats) {
	effective := mode.Normalize()
	out := tree.New()
	stats := Stats{Slots: len(slotTrees)}
	flat := tree.NewPath(0)
	next := 0

	for _, src := range slotTrees {
		if src == nil {
			stats.Skipped++
			continue
		}
		src.Range(func(p tree.Path, items []tree.Item) bool {
			if len(items) == 0 {
				// PreserveTree keeps the source's shape, empty branches included.
				if effective == PreserveTree {
					out.EnsurePath(p)
				}
				return true
			}
			stats.SourcePaths++
			stats.Items += len(items)

			switch effective {
			case PreserveTree:
				out.AppendRange(items, p)
			case Flatten:
				for _, item := range items {
					out.Append(item, flat)
				}
			default:
				out.AppendRange(items, tree.NewPath(next))
				next++
			}
			return true
		})
	}

	stats.OutputPaths = out.PathCount()
	return out, stats
}
