package merge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// marker is a synthetic payload; the engine must move it without looking
// inside.
type marker struct {
	slot string
	n    int
}

func branchOf(t *testing.T, dt *tree.DataTree, segs ...int) []tree.Item {
	t.Helper()
	items, ok := dt.Branch(tree.NewPath(segs...))
	require.True(t, ok, "missing branch %s", tree.NewPath(segs...))
	return items
}

func pathStrings(dt *tree.DataTree) []string {
	var out []string
	for _, p := range dt.Paths() {
		out = append(out, p.String())
	}
	return out
}

func single(path tree.Path, items ...tree.Item) *tree.DataTree {
	dt := tree.New()
	dt.AppendRange(items, path)
	return dt
}

func TestMergeScenarioPreserveTree(t *testing.T) {
	a := single(tree.NewPath(0), "x", "y")
	b := single(tree.NewPath(0), "z")

	out := Merge([]*tree.DataTree{a, b}, PreserveTree)

	assert.Equal(t, []string{"{0}"}, pathStrings(out))
	assert.Equal(t, []tree.Item{"x", "y", "z"}, branchOf(t, out, 0))
}

func TestMergeScenarioFlatten(t *testing.T) {
	a := single(tree.NewPath(0), "x", "y")
	b := single(tree.NewPath(0), "z")

	out := Merge([]*tree.DataTree{a, b}, Flatten)

	assert.Equal(t, []string{"{0}"}, pathStrings(out))
	assert.Equal(t, []tree.Item{"x", "y", "z"}, branchOf(t, out, 0))
}

func TestMergeScenarioRebuildOrdered(t *testing.T) {
	a := tree.New()
	a.Append("x", tree.NewPath(0))
	a.Append("y", tree.NewPath(1))
	b := single(tree.NewPath(0), "z")

	out := Merge([]*tree.DataTree{a, b}, RebuildOrdered)

	assert.Equal(t, []string{"{0}", "{1}", "{2}"}, pathStrings(out))
	assert.Equal(t, []tree.Item{"x"}, branchOf(t, out, 0))
	assert.Equal(t, []tree.Item{"y"}, branchOf(t, out, 1))
	assert.Equal(t, []tree.Item{"z"}, branchOf(t, out, 2))
}

func TestMergeSkipsDisconnectedSlotWithoutGap(t *testing.T) {
	a := single(tree.NewPath(0), "a")
	c := single(tree.NewPath(0), "c")

	for _, mode := range []Mode{PreserveTree, Flatten, RebuildOrdered} {
		t.Run(mode.String(), func(t *testing.T) {
			out, stats := MergeWithStats([]*tree.DataTree{a, nil, c}, mode)
			assert.Equal(t, []tree.Item{"a", "c"}, out.AllItems())
			assert.Equal(t, 1, stats.Skipped)
			assert.Equal(t, 3, stats.Slots)
		})
	}

	out := Merge([]*tree.DataTree{a, nil, c}, RebuildOrdered)
	assert.Equal(t, []string{"{0}", "{1}"}, pathStrings(out))
}

func TestMergePreserveTreeAccumulatesInSlotThenSourceOrder(t *testing.T) {
	a := tree.New()
	a.Append("a1", tree.NewPath(1))
	a.Append("a0", tree.NewPath(0))
	b := tree.New()
	b.Append("b0", tree.NewPath(0))
	b.Append("b2", tree.NewPath(2))
	b.Append("b1", tree.NewPath(1))

	out := Merge([]*tree.DataTree{a, b}, PreserveTree)

	// output path order follows first encounter, not sorting
	assert.Equal(t, []string{"{1}", "{0}", "{2}"}, pathStrings(out))
	assert.Equal(t, []tree.Item{"a1", "b1"}, branchOf(t, out, 1))
	assert.Equal(t, []tree.Item{"a0", "b0"}, branchOf(t, out, 0))
	assert.Equal(t, []tree.Item{"b2"}, branchOf(t, out, 2))
}

func TestMergeOrderFollowsCurrentSlotOrder(t *testing.T) {
	a := single(tree.NewPath(0), "a")
	b := single(tree.NewPath(0), "b")

	for _, mode := range []Mode{PreserveTree, RebuildOrdered} {
		forward := Merge([]*tree.DataTree{a, b}, mode)
		reversed := Merge([]*tree.DataTree{b, a}, mode)
		assert.Equal(t, []tree.Item{"a", "b"}, forward.AllItems(), mode.String())
		assert.Equal(t, []tree.Item{"b", "a"}, reversed.AllItems(), mode.String())
	}
}

func TestMergeFlattenIgnoresSourceStructure(t *testing.T) {
	items := []tree.Item{marker{"s", 0}, marker{"s", 1}, marker{"s", 2}}

	original := tree.New()
	original.Append(items[0], tree.NewPath(0, 0))
	original.Append(items[1], tree.NewPath(0, 1))
	original.Append(items[2], tree.NewPath(4))

	permuted := tree.New()
	permuted.Append(items[0], tree.NewPath(9))
	permuted.Append(items[1], tree.NewPath(3, 3, 3))
	permuted.Append(items[2], tree.NewPath(1))

	a := Merge([]*tree.DataTree{original}, Flatten)
	b := Merge([]*tree.DataTree{permuted}, Flatten)
	assert.True(t, a.Equal(b))
	assert.Equal(t, items, branchOf(t, a, 0))
}

func TestMergeRebuildOrderedPathCount(t *testing.T) {
	a := tree.New()
	a.AppendRange([]tree.Item{1, 2}, tree.NewPath(0))
	a.EnsurePath(tree.NewPath(1)) // empty, contributes nothing
	a.AppendRange([]tree.Item{3}, tree.NewPath(7, 7))
	b := tree.New()
	b.AppendRange([]tree.Item{4}, tree.NewPath(0))

	out, stats := MergeWithStats([]*tree.DataTree{a, nil, b}, RebuildOrdered)

	assert.Equal(t, 3, out.PathCount())
	assert.Equal(t, 3, stats.SourcePaths)
	assert.Equal(t, 4, stats.Items)
	assert.Equal(t, []string{"{0}", "{1}", "{2}"}, pathStrings(out))
	assert.Equal(t, []tree.Item{3}, branchOf(t, out, 1))
}

func TestMergeEmptyBranchesOnlySurvivePreserveTree(t *testing.T) {
	a := tree.New()
	a.EnsurePath(tree.NewPath(0, 1))
	a.AppendRange([]tree.Item{"x"}, tree.NewPath(2))
	b := tree.New()
	b.EnsurePath(tree.NewPath(5))

	out, stats := MergeWithStats([]*tree.DataTree{a, b}, PreserveTree)
	assert.Equal(t, []string{"{0;1}", "{2}", "{5}"}, pathStrings(out))
	assert.Empty(t, branchOf(t, out, 0, 1))
	assert.Empty(t, branchOf(t, out, 5))
	assert.Equal(t, 1, stats.SourcePaths)
	assert.Equal(t, 3, stats.OutputPaths)

	out = Merge([]*tree.DataTree{a, b}, Flatten)
	assert.Equal(t, []string{"{0}"}, pathStrings(out))

	out = Merge([]*tree.DataTree{a, b}, RebuildOrdered)
	assert.Equal(t, []string{"{0}"}, pathStrings(out))
	assert.Equal(t, []tree.Item{"x"}, branchOf(t, out, 0))
}

func TestMergeInvalidModeFallsBackToRebuildOrdered(t *testing.T) {
	a := tree.New()
	a.Append(marker{"a", 0}, tree.NewPath(3))
	a.Append(marker{"a", 1}, tree.NewPath(0, 2))
	b := single(tree.NewPath(5), marker{"b", 0}, marker{"b", 1})

	for _, mode := range []Mode{99, -1, 3} {
		fallback := Merge([]*tree.DataTree{a, b}, mode)
		rebuilt := Merge([]*tree.DataTree{a, b}, RebuildOrdered)
		assert.True(t, fallback.Equal(rebuilt), "mode %d", mode)
	}

	// byte-for-byte on the wire as well
	x, err := json.Marshal(Merge([]*tree.DataTree{single(tree.NewPath(1), "q")}, 99))
	require.NoError(t, err)
	y, err := json.Marshal(Merge([]*tree.DataTree{single(tree.NewPath(1), "q")}, RebuildOrdered))
	require.NoError(t, err)
	assert.Equal(t, y, x)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	a := single(tree.NewPath(0), "x")
	before := a.Clone()

	out := Merge([]*tree.DataTree{a, a}, PreserveTree)
	out.Append("extra", tree.NewPath(0))

	assert.True(t, a.Equal(before))
}

func TestMergeEmptyInputs(t *testing.T) {
	for _, mode := range []Mode{PreserveTree, Flatten, RebuildOrdered} {
		assert.True(t, Merge(nil, mode).IsEmpty())
		assert.True(t, Merge([]*tree.DataTree{nil, tree.New()}, mode).IsEmpty())
	}
}
