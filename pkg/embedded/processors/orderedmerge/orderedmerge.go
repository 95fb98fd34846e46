// Package orderedmerge exposes the ordered merge component as an embedded
// node so workflow runners can merge trees delivered over the wire.
package orderedmerge

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Gorilla/pkg/component"
	"github.com/wehubfusion/Gorilla/pkg/embedded/runtime"
	"github.com/wehubfusion/Gorilla/pkg/producer"
	"github.com/wehubfusion/Gorilla/pkg/slots"
	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// OrderedMergeNode merges the "Item N" inputs of one invocation.
type OrderedMergeNode struct {
	runtime.BaseNode
	logger *zap.Logger
}

// NewOrderedMergeNode creates a node that logs nowhere.
func NewOrderedMergeNode(config runtime.EmbeddedNodeConfig) (runtime.EmbeddedNode, error) {
	return NewCreator(nil)(config)
}

// NewCreator returns a NodeCreator whose nodes log through logger.
func NewCreator(logger *zap.Logger) runtime.NodeCreator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(config runtime.EmbeddedNodeConfig) (runtime.EmbeddedNode, error) {
		if config.PluginType != PluginType {
			return nil, fmt.Errorf("invalid plugin type: expected '%s', got '%s'", PluginType, config.PluginType)
		}
		if _, err := ParseConfig(config.NodeId, config.NodeConfig.Config); err != nil {
			return nil, err
		}
		return &OrderedMergeNode{
			BaseNode: runtime.NewBaseNode(config),
			logger:   logger.With(zap.String("node_id", config.NodeId)),
		}, nil
	}
}

// Process wires every "Item N" value into slot N, applies the optional
// "Output Mode" value and merges. Values that are neither trees nor scripts
// are skipped like unreadable slots. SkippedInputs counts both.
func (n *OrderedMergeNode) Process(input runtime.ProcessInput) runtime.ProcessOutput {
	raw := input.RawConfig
	if len(raw) == 0 {
		raw = n.RawConfig()
	}
	cfg, err := ParseConfig(n.NodeId(), raw)
	if err != nil {
		return runtime.ErrorOutput(err)
	}

	slotInputs, highest := itemInputs(input.Data)
	if highest >= MaxSlots {
		return runtime.ErrorOutput(NewInputError(n.NodeId(), slots.ItemName(highest),
			fmt.Errorf("%w: more than %d slots", runtime.ErrInvalidInput, MaxSlots)))
	}
	slotCount := cfg.Slots
	if highest+1 > slotCount {
		slotCount = highest + 1
	}

	node := component.New(
		component.WithID(n.NodeId()),
		component.WithLogger(n.logger),
		component.WithMode(cfg.Mode()),
	)
	if err := node.Restore(component.State{SlotCount: slotCount, Mode: cfg.Mode()}); err != nil {
		return runtime.ErrorOutput(runtime.NewProcessingError(n.NodeId(), n.Label(), n.PluginType(), -1, "restore", err))
	}
	registry := node.Registry()

	skipped := 0
	for _, in := range slotInputs {
		src, err := slotSource(in.value)
		if err != nil {
			skipped++
			n.logger.Warn("Skipping malformed slot value",
				zap.String("port", slots.ItemName(in.index)),
				zap.Error(NewInputError(n.NodeId(), slots.ItemName(in.index), err)))
			continue
		}
		if src == nil {
			continue
		}
		if err := registry.Connect(in.index, src); err != nil {
			return runtime.ErrorOutput(runtime.NewProcessingError(n.NodeId(), n.Label(), n.PluginType(), in.index, "connect", err))
		}
	}

	if v, ok := input.Data[slots.ModeSelectorName]; ok && v != nil {
		sel, err := registry.SelectorIndex()
		if err != nil {
			return runtime.ErrorOutput(runtime.NewProcessingError(n.NodeId(), n.Label(), n.PluginType(), -1, "mode", err))
		}
		modeTree := tree.New()
		modeTree.Append(v, tree.NewPath(0))
		if err := registry.Connect(sel, producer.NewStatic(modeTree)); err != nil {
			return runtime.ErrorOutput(runtime.NewProcessingError(n.NodeId(), n.Label(), n.PluginType(), sel, "mode", err))
		}
	}

	res, err := node.Evaluate(input.Context())
	if err != nil {
		return runtime.ErrorOutput(runtime.NewProcessingError(n.NodeId(), n.Label(), n.PluginType(), -1, "merge", err))
	}

	out := runtime.SuccessOutput(map[string]interface{}{
		component.OutputName: res.Tree,
	})
	out.ItemCount = res.Stats.Items
	out.SkippedInputs = skipped + len(res.Unreadable)
	return out
}

// slotSource turns one "Item N" value into a slot source. A map holding a
// "script" string becomes a script producer evaluated at merge time, with an
// optional "timeout_ms". Anything else must convert to a tree. A nil source
// means the slot stays unconnected.
func slotSource(v interface{}) (slots.Source, error) {
	if m, ok := v.(map[string]interface{}); ok {
		if code, ok := m[ScriptKey].(string); ok {
			cfg := producer.ScriptConfig{Source: code}
			if raw, ok := m[ScriptTimeoutKey]; ok {
				ms, ok := raw.(float64)
				if !ok || ms <= 0 || ms != math.Trunc(ms) {
					return nil, fmt.Errorf("%s must be a positive integer, got %v", ScriptTimeoutKey, raw)
				}
				cfg.Timeout = time.Duration(ms) * time.Millisecond
			}
			script, err := producer.NewScript(cfg)
			if err != nil {
				return nil, err
			}
			return script, nil
		}
	}

	dt, err := tree.FromValue(v)
	if err != nil || dt == nil {
		return nil, err
	}
	return producer.NewStatic(dt), nil
}

type slotInput struct {
	index int
	value interface{}
}

// itemInputs returns the "Item N" entries sorted by N and the highest N, -1
// when there are none.
func itemInputs(data map[string]interface{}) ([]slotInput, int) {
	var inputs []slotInput
	highest := -1
	for key, v := range data {
		idx, ok := itemIndex(key)
		if !ok {
			continue
		}
		inputs = append(inputs, slotInput{index: idx, value: v})
		if idx > highest {
			highest = idx
		}
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].index < inputs[j].index })
	return inputs, highest
}

func itemIndex(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "Item ")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 || slots.ItemName(idx) != key {
		return 0, false
	}
	return idx, true
}
