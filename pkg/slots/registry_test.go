package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Gorilla/pkg/merge"
	"github.com/wehubfusion/Gorilla/pkg/producer"
	"github.com/wehubfusion/Gorilla/pkg/tree"
)

func names(r *Registry) []string {
	var out []string
	for _, p := range r.Params() {
		out = append(out, p.Name)
	}
	return out
}

func staticSource(id string) Source {
	dt := tree.New()
	dt.Append(id, tree.NewPath(0))
	return producer.NewStaticWithID(id, dt)
}

func TestNewRegistryLayout(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 3, r.SlotCount())
	assert.Equal(t, []string{"Item 0", "Item 1", "Item 2", ModeSelectorName}, names(r))

	idx, err := r.SelectorIndex()
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	params := r.Params()
	for _, p := range params[:3] {
		assert.Equal(t, KindItem, p.Kind)
		assert.Equal(t, AccessTree, p.Access)
		assert.True(t, p.Optional)
		assert.Empty(t, p.NamedValues())
	}
	sel := params[3]
	assert.Equal(t, ModeSelectorNickName, sel.NickName)
	assert.Equal(t, AccessItem, sel.Access)
	assert.Len(t, sel.NamedValues(), 3)
}

func TestConnectLastSlotPads(t *testing.T) {
	r := NewRegistry()
	var events []ChangeEvent
	r.Subscribe(func(e ChangeEvent) { events = append(events, e) })

	require.NoError(t, r.Connect(2, staticSource("a")))

	assert.Equal(t, []string{"Item 0", "Item 1", "Item 2", "Item 3", ModeSelectorName}, names(r))
	params := r.Params()
	assert.True(t, params[2].IsConnected())
	assert.False(t, params[3].IsConnected())
	require.Len(t, events, 1)
	assert.Equal(t, ReasonWiring, events[0].Reason)
	assert.Equal(t, 4, events[0].SlotCount)
}

func TestConnectMiddleSlotDoesNotPad(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Connect(0, staticSource("a")))
	assert.Equal(t, 3, r.SlotCount())
}

func TestConnectSameSourceTwice(t *testing.T) {
	r := NewRegistry()
	src := staticSource("a")
	require.NoError(t, r.Connect(0, src))
	require.NoError(t, r.Connect(0, src))
	assert.Equal(t, 1, r.Params()[0].SourceCount())

	assert.ErrorIs(t, r.Connect(0, nil), ErrNilSource)
	assert.ErrorIs(t, r.Connect(9, src), ErrSlotPosition)
}

func TestMaintenanceIsIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Connect(2, staticSource("a")))

	fired := 0
	r.Subscribe(func(ChangeEvent) { fired++ })

	before := names(r)
	require.NoError(t, r.OnStructuralChange())
	require.NoError(t, r.OnStructuralChange())
	assert.Equal(t, before, names(r))
	assert.Zero(t, fired)
}

func TestMaintenanceRenamesAfterRemove(t *testing.T) {
	r := NewRegistry(WithInitialSlots(4))
	require.NoError(t, r.Connect(1, staticSource("b")))
	require.NoError(t, r.Connect(2, staticSource("c")))

	require.NoError(t, r.Remove(0))

	assert.Equal(t, []string{"Item 0", "Item 1", "Item 2", ModeSelectorName}, names(r))
	params := r.Params()
	assert.Equal(t, []string{"b"}, params[0].SourceIDs())
	assert.Equal(t, []string{"c"}, params[1].SourceIDs())
	assert.False(t, params[2].IsConnected())
}

func TestRemoveLastFreeSlotRepads(t *testing.T) {
	r := NewRegistry(WithInitialSlots(1))
	require.NoError(t, r.Connect(0, staticSource("a")))
	require.Equal(t, 2, r.SlotCount())

	require.NoError(t, r.Remove(1))
	assert.Equal(t, 2, r.SlotCount())
	assert.False(t, r.Params()[1].IsConnected())
}

func TestInsert(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Connect(0, staticSource("a")))
	require.NoError(t, r.Insert(0))

	params := r.Params()
	assert.Equal(t, []string{"Item 0", "Item 1", "Item 2", "Item 3", ModeSelectorName}, names(r))
	assert.False(t, params[0].IsConnected())
	assert.Equal(t, []string{"a"}, params[1].SourceIDs())
}

func TestCanInsertCanRemove(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		index int
		want  bool
	}{
		{-1, false},
		{0, true},
		{2, true},
		{3, false},
		{4, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.CanInsert(tt.index), "CanInsert(%d)", tt.index)
		assert.Equal(t, tt.want, r.CanRemove(tt.index), "CanRemove(%d)", tt.index)
	}

	assert.ErrorIs(t, r.Insert(3), ErrSlotPosition)
	assert.ErrorIs(t, r.Remove(3), ErrSlotPosition)
	assert.ErrorIs(t, r.Remove(-1), ErrSlotPosition)
	assert.Equal(t, 4, r.Len())
}

func TestZeroSlotsPadsOnAttach(t *testing.T) {
	r := NewRegistry(WithInitialSlots(0))
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.AddedToDocument())
	assert.Equal(t, []string{"Item 0", ModeSelectorName}, names(r))

	require.NoError(t, r.AddedToDocument())
	assert.Equal(t, 2, r.Len())
}

func TestDisconnectKeepsSlot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Connect(1, staticSource("a")))
	require.NoError(t, r.Connect(1, staticSource("b")))

	require.NoError(t, r.Disconnect(1, "a"))
	assert.Equal(t, []string{"b"}, r.Params()[1].SourceIDs())

	require.NoError(t, r.DisconnectAll(1))
	assert.Equal(t, 4, r.Len())
	assert.False(t, r.Params()[1].IsConnected())

	assert.ErrorIs(t, r.Disconnect(1, "missing"), ErrSourceNotFound)
}

func TestMissingSelector(t *testing.T) {
	r := NewRegistryFromParams([]*Param{NewItemParam("x")})

	assert.ErrorIs(t, r.OnStructuralChange(), ErrModeSelectorMissing)
	_, err := r.Bindings()
	assert.ErrorIs(t, err, ErrModeSelectorMissing)
	assert.False(t, r.CanInsert(0))
}

func TestCorruptSelectorPlacement(t *testing.T) {
	r := NewRegistryFromParams([]*Param{NewModeSelectorParam(merge.Flatten), NewItemParam("x")})
	assert.ErrorIs(t, r.OnStructuralChange(), ErrCorruptSlots)

	r = NewRegistryFromParams([]*Param{
		NewItemParam("x"),
		NewModeSelectorParam(merge.Flatten),
		NewModeSelectorParam(merge.Flatten),
	})
	assert.ErrorIs(t, r.OnStructuralChange(), ErrCorruptSlots)
}

func TestLoadRunsMaintenance(t *testing.T) {
	a := NewItemParam("stale")
	a.sources = []Source{staticSource("a")}

	r := NewRegistry()
	require.NoError(t, r.Load([]*Param{a, NewModeSelectorParam(merge.RebuildOrdered)}))

	assert.Equal(t, []string{"Item 0", "Item 1", ModeSelectorName}, names(r))
	mode, err := r.Mode()
	require.NoError(t, err)
	assert.Equal(t, merge.RebuildOrdered, mode)
}

func TestLoadRejectsInvalidListAndKeepsPorts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Connect(0, staticSource("a")))
	before := names(r)

	var events []ChangeEvent
	r.Subscribe(func(e ChangeEvent) { events = append(events, e) })

	assert.ErrorIs(t, r.Load([]*Param{NewItemParam("x")}), ErrModeSelectorMissing)
	assert.ErrorIs(t, r.Load([]*Param{
		NewItemParam("x"),
		NewModeSelectorParam(merge.Flatten),
		NewModeSelectorParam(merge.Flatten),
	}), ErrCorruptSlots)
	assert.ErrorIs(t, r.Load([]*Param{NewModeSelectorParam(merge.Flatten), NewItemParam("x")}), ErrCorruptSlots)

	assert.Empty(t, events)
	assert.Equal(t, before, names(r))
	b, err := r.Bindings()
	require.NoError(t, err)
	require.Len(t, b.Slots[0], 1)
	assert.Equal(t, "a", b.Slots[0][0].ID())
}

func TestBindingsSnapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Connect(0, staticSource("a")))
	require.NoError(t, r.Connect(3, staticSource("mode")))
	require.NoError(t, r.SetMode(merge.Flatten))

	b, err := r.Bindings()
	require.NoError(t, err)
	assert.Len(t, b.Slots, 3)
	assert.Equal(t, []string{"Item 0", "Item 1", "Item 2"}, b.Names)
	require.Len(t, b.Slots[0], 1)
	assert.Equal(t, "a", b.Slots[0][0].ID())
	assert.Empty(t, b.Slots[1])
	require.Len(t, b.ModeSources, 1)
	assert.Equal(t, merge.Flatten, b.Mode)

	require.NoError(t, r.DisconnectAll(0))
	assert.Len(t, b.Slots[0], 1)
}

func TestParamsSnapshotIsolated(t *testing.T) {
	r := NewRegistry()
	params := r.Params()
	params[0].Name = "changed"
	assert.Equal(t, "Item 0", r.Params()[0].Name)
}

// assertSlotInvariant checks the contiguous names, the selector being last
// and the free trailing slot.
func assertSlotInvariant(t *testing.T, r *Registry) {
	t.Helper()
	params := r.Params()
	require.NotEmpty(t, params)

	idx, err := r.SelectorIndex()
	require.NoError(t, err)
	require.Equal(t, len(params)-1, idx, "selector must be the last port")
	require.Positive(t, idx, "at least one item slot")

	for i, p := range params[:idx] {
		assert.Equal(t, KindItem, p.Kind)
		assert.Equal(t, ItemName(i), p.Name)
		assert.Equal(t, ItemName(i), p.NickName)
	}
	assert.False(t, params[idx-1].IsConnected(), "last item slot must be free")
}

func TestSlotInvariantAcrossEditSequences(t *testing.T) {
	type step struct {
		op  string
		at  int
		src string
	}
	tests := []struct {
		name  string
		steps []step
		want  int
	}{
		{"fill every slot", []step{
			{"connect", 0, "a"}, {"connect", 1, "b"}, {"connect", 2, "c"}, {"connect", 3, "d"},
		}, 5},
		{"disconnect middle keeps position", []step{
			{"connect", 0, "a"}, {"connect", 1, "b"}, {"connect", 2, "c"}, {"disconnect", 1, "b"},
		}, 4},
		{"disconnect last then reconnect", []step{
			{"connect", 2, "a"}, {"disconnect", 2, "a"}, {"connect", 3, "b"},
		}, 5},
		{"insert before wired slots", []step{
			{"connect", 0, "a"}, {"connect", 1, "b"}, {"insert", 0, ""}, {"insert", 2, ""},
		}, 5},
		{"remove down to one", []step{
			{"remove", 0, ""}, {"remove", 0, ""}, {"remove", 0, ""},
		}, 1},
		{"remove free tail after wiring", []step{
			{"connect", 2, "a"}, {"remove", 3, ""}, {"connect", 0, "b"}, {"remove", 1, ""},
		}, 3},
		{"mixed", []step{
			{"insert", 1, ""}, {"connect", 3, "a"}, {"remove", 0, ""}, {"connect", 3, "b"},
			{"disconnect", 2, "a"}, {"insert", 3, ""}, {"connect", 4, "c"},
		}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			assertSlotInvariant(t, r)
			for _, s := range tt.steps {
				var err error
				switch s.op {
				case "connect":
					err = r.Connect(s.at, staticSource(s.src))
				case "disconnect":
					err = r.Disconnect(s.at, s.src)
				case "insert":
					err = r.Insert(s.at)
				case "remove":
					err = r.Remove(s.at)
				}
				require.NoError(t, err, "%s at %d", s.op, s.at)
				assertSlotInvariant(t, r)
			}
			assert.Equal(t, tt.want, r.SlotCount())
		})
	}
}
