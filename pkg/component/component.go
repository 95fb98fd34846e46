// Package component is the "Gorilla Ordered Merge" node: a growable list of
// input slots, a trailing output mode selector, and one merged output tree.
package component

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Gorilla/internal/reporting"
	"github.com/wehubfusion/Gorilla/pkg/embedded/runtime"
	"github.com/wehubfusion/Gorilla/pkg/merge"
	"github.com/wehubfusion/Gorilla/pkg/slots"
	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// Identity presented to hosts.
const (
	Name        = "Gorilla Ordered Merge"
	NickName    = "GorillaOrderedMerge"
	Description = "Merges any number of data trees in slot order"
	Category    = "Gorilla"
	SubCategory = "Util"
	GUID        = "fb124470-12a4-4579-babc-dc5d02bdf557"

	OutputName        = "Merged"
	OutputNickName    = "M"
	OutputDescription = "Merged data tree"
)

// ErrNoModeValue is logged when a wired selector source yields no usable value.
var ErrNoModeValue = errors.New("mode selector source has no value")

// PortInfo describes one port for hosts that lay out the node.
type PortInfo struct {
	Name        string
	NickName    string
	Description string
	Access      slots.Access
	Optional    bool
	Connected   bool
	NamedValues []merge.NamedValue
}

// Result is the outcome of one evaluation.
type Result struct {
	// Tree is the merged output. Never nil.
	Tree *tree.DataTree
	// Mode is the selector value read for this evaluation.
	Mode merge.Mode
	// EffectiveMode is the mode actually applied.
	EffectiveMode merge.Mode
	// Stats describes the merge.
	Stats merge.Stats
	// Unreadable lists slots with at least one source that failed to read.
	Unreadable []int
}

// OrderedMerge owns a slot registry and evaluates it.
type OrderedMerge struct {
	id       string
	registry *slots.Registry
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  runtime.MetricsCollector
	reporter reporting.Reporter
	mode     merge.Mode
}

// Option configures an OrderedMerge.
type Option func(*OrderedMerge)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(m *OrderedMerge) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer sets the tracer. Default: the global "gorilla/component" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *OrderedMerge) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c runtime.MetricsCollector) Option {
	return func(m *OrderedMerge) {
		if c != nil {
			m.metrics = c
		}
	}
}

// WithReporter sets where invariant violations are reported.
func WithReporter(r reporting.Reporter) Option {
	return func(m *OrderedMerge) {
		if r != nil {
			m.reporter = r
		}
	}
}

// WithMode sets the initial persisted selector value.
func WithMode(mode merge.Mode) Option {
	return func(m *OrderedMerge) {
		m.mode = mode
	}
}

// WithID fixes the instance ID. Default: a random UUID.
func WithID(id string) Option {
	return func(m *OrderedMerge) {
		if id != "" {
			m.id = id
		}
	}
}

// New creates a node with the default three item slots and the selector.
func New(opts ...Option) *OrderedMerge {
	m := &OrderedMerge{
		id:       uuid.NewString(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("gorilla/component"),
		metrics:  &runtime.NoOpMetricsCollector{},
		reporter: reporting.NoOp{},
		mode:     merge.DefaultMode,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry = slots.NewRegistry(slots.WithMode(m.mode))
	return m
}

// ID returns the instance ID.
func (m *OrderedMerge) ID() string { return m.id }

// Registry exposes the slot registry for wiring and structural edits.
func (m *OrderedMerge) Registry() *slots.Registry { return m.registry }

// Inputs describes the current input ports in order.
func (m *OrderedMerge) Inputs() []PortInfo {
	params := m.registry.Params()
	out := make([]PortInfo, len(params))
	for i, p := range params {
		out[i] = PortInfo{
			Name:        p.Name,
			NickName:    p.NickName,
			Description: p.Description,
			Access:      p.Access,
			Optional:    p.Optional,
			Connected:   p.IsConnected(),
			NamedValues: p.NamedValues(),
		}
	}
	return out
}

// Output describes the single output port.
func (m *OrderedMerge) Output() PortInfo {
	return PortInfo{
		Name:        OutputName,
		NickName:    OutputNickName,
		Description: OutputDescription,
		Access:      slots.AccessTree,
	}
}

// Evaluate reads the mode once, reads every slot in index order and merges.
// Slots whose sources fail or yield no tree are skipped. The only error is a
// broken slot list.
func (m *OrderedMerge) Evaluate(ctx context.Context) (*Result, error) {
	ctx, span := m.tracer.Start(ctx, "ordered_merge.evaluate",
		trace.WithAttributes(attribute.String("node.id", m.id)))
	defer span.End()

	start := time.Now()

	b, err := m.registry.Bindings()
	if err != nil {
		m.metrics.RecordError()
		m.logger.Error("Slot list violates invariant", zap.String("node_id", m.id), zap.Error(err))
		m.reporter.CaptureError(err, map[string]string{"node_id": m.id, "component": NickName})
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid slot list")
		return nil, fmt.Errorf("evaluate %s: %w", m.id, err)
	}

	mode := m.readMode(ctx, b)

	inputs := make([]*tree.DataTree, len(b.Slots))
	var unreadable []int
	for i, sources := range b.Slots {
		dt, failed := m.readSlot(ctx, i, b.Names[i], sources)
		inputs[i] = dt
		if failed {
			unreadable = append(unreadable, i)
		}
	}

	out, stats := merge.MergeWithStats(inputs, mode)

	for i := 0; i < stats.Skipped; i++ {
		m.metrics.RecordSkipped()
	}
	m.metrics.RecordProcessed(time.Since(start).Nanoseconds(), stats.Items)

	span.SetAttributes(
		attribute.Int("merge.mode", int(mode)),
		attribute.String("merge.effective_mode", mode.Normalize().String()),
		attribute.Int("merge.slots", stats.Slots),
		attribute.Int("merge.skipped", stats.Skipped),
		attribute.Int("merge.items", stats.Items),
		attribute.Int("merge.output_paths", stats.OutputPaths),
	)
	span.SetStatus(codes.Ok, "merged")

	m.logger.Debug("Merged slots",
		zap.String("node_id", m.id),
		zap.Stringer("mode", mode.Normalize()),
		zap.Int("slots", stats.Slots),
		zap.Int("skipped", stats.Skipped),
		zap.Int("items", stats.Items),
		zap.Int("output_paths", stats.OutputPaths),
		zap.Duration("duration", time.Since(start)))

	return &Result{
		Tree:          out,
		Mode:          mode,
		EffectiveMode: mode.Normalize(),
		Stats:         stats,
		Unreadable:    unreadable,
	}, nil
}

// readMode prefers a wired selector source over the persisted value. The
// first item of the first readable source wins.
func (m *OrderedMerge) readMode(ctx context.Context, b slots.Bindings) merge.Mode {
	for _, src := range b.ModeSources {
		dt, err := src.Tree(ctx)
		if err != nil {
			m.logger.Warn("Failed to read mode selector source",
				zap.String("node_id", m.id), zap.String("source_id", src.ID()), zap.Error(err))
			continue
		}
		items := dt.AllItems()
		if len(items) == 0 {
			m.logger.Warn("Mode selector source is empty",
				zap.String("node_id", m.id), zap.String("source_id", src.ID()), zap.Error(ErrNoModeValue))
			continue
		}
		mode, err := merge.ModeFromValue(items[0])
		if err != nil {
			m.logger.Warn("Ignoring mode selector value",
				zap.String("node_id", m.id), zap.Any("value", items[0]), zap.Error(err))
			continue
		}
		return mode
	}
	return b.Mode
}

// readSlot collects the trees of one slot. Several sources on one slot are
// combined in wiring order with their paths kept. A slot with any failing
// source is skipped as a whole: it returns nil and reports the failure.
func (m *OrderedMerge) readSlot(ctx context.Context, index int, name string, sources []slots.Source) (*tree.DataTree, bool) {
	var trees []*tree.DataTree
	failed := false
	for _, src := range sources {
		dt, err := src.Tree(ctx)
		if err != nil {
			failed = true
			m.logger.Warn("Skipping unreadable slot source",
				zap.String("node_id", m.id),
				zap.Int("slot", index),
				zap.String("slot_name", name),
				zap.String("source_id", src.ID()),
				zap.Error(err))
			continue
		}
		if dt == nil {
			continue
		}
		trees = append(trees, dt)
	}
	if failed {
		return nil, true
	}

	switch len(trees) {
	case 0:
		return nil, false
	case 1:
		return trees[0], false
	default:
		return merge.Merge(trees, merge.PreserveTree), false
	}
}
