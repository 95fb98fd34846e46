package producer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// ErrScriptTimeout is returned when a script runs past its deadline.
var ErrScriptTimeout = errors.New("script execution timed out")

// ErrScriptResult is returned when a script evaluates to an unusable shape.
var ErrScriptResult = errors.New("invalid script result")

// DefaultScriptTimeout bounds a single script evaluation.
const DefaultScriptTimeout = 2 * time.Second

// ScriptConfig configures a Script producer.
type ScriptConfig struct {
	// Source is the JavaScript program. Its completion value is the tree.
	Source string
	// Timeout bounds one evaluation. Default: DefaultScriptTimeout.
	Timeout time.Duration
	// MaxStackDepth limits the JS call stack. Default: 256.
	MaxStackDepth int
}

// Script evaluates a JavaScript program in a fresh sandboxed VM on every read.
//
// The completion value may be
//
//	[{path: [0, 1], items: [...]}, {path: "{2}", items: [...]}]
//
// which yields one branch per element in array order, any other array, which
// yields the single branch {0}, or a scalar, which yields {0} holding it.
// null and undefined yield no tree.
type Script struct {
	id     string
	config ScriptConfig
}

// NewScript creates a script producer.
func NewScript(config ScriptConfig) (*Script, error) {
	if config.Source == "" {
		return nil, fmt.Errorf("script source is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultScriptTimeout
	}
	if config.MaxStackDepth <= 0 {
		config.MaxStackDepth = 256
	}
	if _, err := goja.Compile("producer", config.Source, true); err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	return &Script{id: uuid.NewString(), config: config}, nil
}

// ID returns the producer ID.
func (s *Script) ID() string { return s.id }

// Tree runs the script and converts its result.
func (s *Script) Tree(ctx context.Context) (*tree.DataTree, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(s.config.MaxStackDepth)
	if err := restrictGlobals(vm); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := vm.RunString(s.config.Source)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrScriptTimeout, s.config.Timeout)
			}
			return nil, fmt.Errorf("script interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("script execution failed: %w", err)
	}

	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return toTree(val.Export())
}

func restrictGlobals(vm *goja.Runtime) error {
	for _, name := range []string{"require", "module", "exports", "process", "global", "eval"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func toTree(exported interface{}) (*tree.DataTree, error) {
	elems, ok := exported.([]interface{})
	if !ok {
		dt := tree.New()
		dt.Append(exported, tree.NewPath(0))
		return dt, nil
	}

	if !looksLikeBranches(elems) {
		dt := tree.New()
		dt.AppendRange(elems, tree.NewPath(0))
		return dt, nil
	}

	dt := tree.New()
	for i, e := range elems {
		m := e.(map[string]interface{})
		p, err := toPath(m["path"])
		if err != nil {
			return nil, fmt.Errorf("%w: branch %d: %v", ErrScriptResult, i, err)
		}
		items, ok := m["items"].([]interface{})
		if !ok && m["items"] != nil {
			return nil, fmt.Errorf("%w: branch %d: items must be an array", ErrScriptResult, i)
		}
		dt.AppendRange(items, p)
	}
	return dt, nil
}

func looksLikeBranches(elems []interface{}) bool {
	if len(elems) == 0 {
		return false
	}
	for _, e := range elems {
		m, ok := e.(map[string]interface{})
		if !ok {
			return false
		}
		if _, ok := m["path"]; !ok {
			return false
		}
		if _, ok := m["items"]; !ok {
			return false
		}
	}
	return true
}

func toPath(v interface{}) (tree.Path, error) {
	switch p := v.(type) {
	case string:
		return tree.ParsePath(p)
	case []interface{}:
		segs := make([]int, 0, len(p))
		for _, s := range p {
			n, err := toSegment(s)
			if err != nil {
				return tree.Path{}, err
			}
			segs = append(segs, n)
		}
		return tree.NewPath(segs...), nil
	case int64, float64:
		n, err := toSegment(p)
		if err != nil {
			return tree.Path{}, err
		}
		return tree.NewPath(n), nil
	default:
		return tree.Path{}, fmt.Errorf("unsupported path type %T", v)
	}
}

func toSegment(v interface{}) (int, error) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative segment %d", n)
		}
		return int(n), nil
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, fmt.Errorf("segment %v is not a non-negative integer", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported segment type %T", v)
	}
}
