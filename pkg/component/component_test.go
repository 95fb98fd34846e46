package component

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/Gorilla/pkg/embedded/runtime"
	"github.com/wehubfusion/Gorilla/pkg/merge"
	"github.com/wehubfusion/Gorilla/pkg/producer"
	"github.com/wehubfusion/Gorilla/pkg/slots"
	"github.com/wehubfusion/Gorilla/pkg/tree"
)

func src(id string, branches map[string][]tree.Item, order ...string) slots.Source {
	dt := tree.New()
	for _, p := range order {
		dt.AppendRange(branches[p], tree.MustParsePath(p))
	}
	return producer.NewStaticWithID(id, dt)
}

func modeSource(v tree.Item) slots.Source {
	dt := tree.New()
	dt.Append(v, tree.NewPath(0))
	return producer.NewStatic(dt)
}

func items(t *testing.T, dt *tree.DataTree, p string) []tree.Item {
	t.Helper()
	got, ok := dt.Branch(tree.MustParsePath(p))
	require.True(t, ok, "missing branch %s", p)
	return got
}

func TestIdentity(t *testing.T) {
	m := New()
	assert.Equal(t, "fb124470-12a4-4579-babc-dc5d02bdf557", GUID)
	assert.Equal(t, "Merged", m.Output().Name)
	assert.Equal(t, "M", m.Output().NickName)
	assert.NotEmpty(t, m.ID())
	assert.Equal(t, "fixed", New(WithID("fixed")).ID())

	inputs := m.Inputs()
	require.Len(t, inputs, 4)
	assert.Equal(t, "Item 0", inputs[0].Name)
	assert.Equal(t, slots.ModeSelectorName, inputs[3].Name)
	assert.Len(t, inputs[3].NamedValues, 3)
}

func TestEvaluatePreserveTree(t *testing.T) {
	m := New()
	r := m.Registry()
	require.NoError(t, r.Connect(0, src("a", map[string][]tree.Item{"{0}": {"x", "y"}}, "{0}")))
	require.NoError(t, r.Connect(1, src("b", map[string][]tree.Item{"{0}": {"z"}}, "{0}")))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, merge.PreserveTree, res.Mode)
	assert.Equal(t, 1, res.Tree.PathCount())
	assert.Equal(t, []tree.Item{"x", "y", "z"}, items(t, res.Tree, "{0}"))
	assert.Equal(t, 3, res.Stats.Slots)
	assert.Equal(t, 1, res.Stats.Skipped)
}

func TestEvaluateRebuildOrdered(t *testing.T) {
	m := New(WithMode(merge.RebuildOrdered))
	r := m.Registry()
	require.NoError(t, r.Connect(0, src("a", map[string][]tree.Item{"{0}": {"x"}, "{1}": {"y"}}, "{0}", "{1}")))
	require.NoError(t, r.Connect(1, src("b", map[string][]tree.Item{"{0}": {"z"}}, "{0}")))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tree.Item{"x"}, items(t, res.Tree, "{0}"))
	assert.Equal(t, []tree.Item{"y"}, items(t, res.Tree, "{1}"))
	assert.Equal(t, []tree.Item{"z"}, items(t, res.Tree, "{2}"))
}

func TestEvaluateDisconnectedMiddleSlot(t *testing.T) {
	m := New(WithMode(merge.RebuildOrdered))
	r := m.Registry()
	require.NoError(t, r.Connect(0, src("a", map[string][]tree.Item{"{0}": {"a"}}, "{0}")))
	require.NoError(t, r.Connect(2, src("c", map[string][]tree.Item{"{0}": {"c"}}, "{0}")))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tree.PathCount())
	assert.Equal(t, []tree.Item{"a"}, items(t, res.Tree, "{0}"))
	assert.Equal(t, []tree.Item{"c"}, items(t, res.Tree, "{1}"))
}

func TestEvaluateSkipsUnreadableSlot(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	metrics := runtime.NewMetricsCollector(1)
	m := New(WithMode(merge.Flatten), WithLogger(zap.New(core)), WithMetrics(metrics))
	r := m.Registry()
	require.NoError(t, r.Connect(0, src("a", map[string][]tree.Item{"{0}": {1}}, "{0}")))
	require.NoError(t, r.Connect(1, producer.NewFailing(errors.New("stale"))))
	require.NoError(t, r.Connect(2, src("c", map[string][]tree.Item{"{3}": {2}}, "{3}")))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tree.Item{1, 2}, items(t, res.Tree, "{0}"))
	assert.Equal(t, []int{1}, res.Unreadable)

	require.Equal(t, 1, logs.FilterMessage("Skipping unreadable slot source").Len())
	got := metrics.GetMetrics()
	assert.EqualValues(t, 1, got.TotalProcessed)
	assert.EqualValues(t, 2, got.TotalItems)
	// slot 1 failed and slot 3 is the free pad slot
	assert.EqualValues(t, 2, got.TotalSkipped)
}

func TestEvaluateSeveralSourcesOnOneSlot(t *testing.T) {
	m := New(WithMode(merge.RebuildOrdered))
	r := m.Registry()
	require.NoError(t, r.Connect(0, src("a", map[string][]tree.Item{"{0}": {"a"}}, "{0}")))
	require.NoError(t, r.Connect(0, src("b", map[string][]tree.Item{"{0}": {"b"}, "{1}": {"c"}}, "{0}", "{1}")))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tree.Item{"a", "b"}, items(t, res.Tree, "{0}"))
	assert.Equal(t, []tree.Item{"c"}, items(t, res.Tree, "{1}"))
}

func TestEvaluateSkipsWholeSlotWhenOneSourceFails(t *testing.T) {
	m := New(WithMode(merge.RebuildOrdered))
	r := m.Registry()
	require.NoError(t, r.Connect(0, src("a", map[string][]tree.Item{"{0}": {"a"}}, "{0}")))
	require.NoError(t, r.Connect(0, producer.NewFailing(errors.New("stale"))))
	require.NoError(t, r.Connect(1, src("b", map[string][]tree.Item{"{0}": {"b"}}, "{0}")))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Unreadable)
	assert.Equal(t, 1, res.Tree.PathCount())
	assert.Equal(t, []tree.Item{"b"}, items(t, res.Tree, "{0}"))
	assert.Equal(t, 1, res.Stats.Items)
}

func TestWiredModeOverridesPersisted(t *testing.T) {
	m := New(WithMode(merge.PreserveTree))
	r := m.Registry()
	require.NoError(t, r.Connect(0, src("a", map[string][]tree.Item{"{0;1}": {"x"}}, "{0;1}")))

	sel, err := r.SelectorIndex()
	require.NoError(t, err)
	require.NoError(t, r.Connect(sel, modeSource(float64(1))))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, merge.Flatten, res.Mode)
	assert.Equal(t, []tree.Item{"x"}, items(t, res.Tree, "{0}"))
}

func TestInvalidWiredModeFallsBackToPersisted(t *testing.T) {
	m := New(WithMode(merge.Flatten))
	r := m.Registry()
	sel, err := r.SelectorIndex()
	require.NoError(t, err)
	require.NoError(t, r.Connect(sel, modeSource("sideways")))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, merge.Flatten, res.Mode)
}

func TestOutOfRangeModeBehavesAsRebuild(t *testing.T) {
	m := New(WithMode(merge.Mode(99)))
	r := m.Registry()
	require.NoError(t, r.Connect(0, src("a", map[string][]tree.Item{"{5}": {"x"}}, "{5}")))

	res, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, merge.Mode(99), res.Mode)
	assert.Equal(t, merge.RebuildOrdered, res.EffectiveMode)
	assert.Equal(t, []tree.Item{"x"}, items(t, res.Tree, "{0}"))
}

func TestEvaluateNothingConnected(t *testing.T) {
	res, err := New().Evaluate(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Tree)
	assert.True(t, res.Tree.IsEmpty())
}

func TestEvaluateRecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := New(WithTracer(tp.Tracer("test")))

	_, err := m.Evaluate(context.Background())
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "ordered_merge.evaluate", spans[0].Name())
}

type captured struct {
	errs []error
}

func (c *captured) CaptureError(err error, tags map[string]string) { c.errs = append(c.errs, err) }
func (c *captured) Flush() bool                                    { return true }

func TestSnapshotRestore(t *testing.T) {
	m := New(WithMode(merge.Flatten))
	require.NoError(t, m.Registry().Connect(2, src("a", nil)))

	s, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, State{SlotCount: 4, Mode: merge.Flatten}, s)

	other := New()
	require.NoError(t, other.Restore(s))
	got, err := other.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Equal(t, "Item 3", other.Inputs()[3].Name)

	assert.ErrorIs(t, other.Restore(State{SlotCount: -1}), slots.ErrSlotPosition)
}

func TestRestoreZeroSlotsPads(t *testing.T) {
	m := New()
	require.NoError(t, m.Restore(State{SlotCount: 0, Mode: merge.RebuildOrdered}))
	s, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, s.SlotCount)
}

func TestEvaluateReportsBrokenSlotList(t *testing.T) {
	rep := &captured{}
	m := New(WithReporter(rep))
	require.Error(t, m.Registry().Load([]*slots.Param{slots.NewItemParam("x")}))

	_, err := m.Evaluate(context.Background())
	assert.ErrorIs(t, err, slots.ErrModeSelectorMissing)
	require.Len(t, rep.errs, 1)
}
