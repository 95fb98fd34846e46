package merge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode selects how slot trees are combined.
type Mode int

const (
	// PreserveTree keeps every source path; coinciding paths accumulate.
	PreserveTree Mode = 0
	// Flatten puts every item on the single path {0}.
	Flatten Mode = 1
	// RebuildOrdered gives every (slot, source path) pair its own fresh {n}.
	RebuildOrdered Mode = 2
)

// DefaultMode is the mode of a freshly created selector.
const DefaultMode = PreserveTree

// ErrUnknownMode is returned by ParseMode for unrecognised input.
var ErrUnknownMode = errors.New("unknown output mode")

// NamedValue pairs an enumerated mode with its display name.
type NamedValue struct {
	Name  string
	Value Mode
}

// NamedValues returns the enumerated legal values in selector order.
func NamedValues() []NamedValue {
	return []NamedValue{
		{Name: PreserveTree.String(), Value: PreserveTree},
		{Name: Flatten.String(), Value: Flatten},
		{Name: RebuildOrdered.String(), Value: RebuildOrdered},
	}
}

func (m Mode) String() string {
	switch m {
	case PreserveTree:
		return "Preserve Tree"
	case Flatten:
		return "Flatten"
	case RebuildOrdered:
		return "Rebuild Tree"
	default:
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// IsValid reports whether m is one of the three enumerated values.
func (m Mode) IsValid() bool {
	return m == PreserveTree || m == Flatten || m == RebuildOrdered
}

// Normalize returns the mode that Merge actually applies. Values outside the
// enumeration fall back to RebuildOrdered.
func (m Mode) Normalize() Mode {
	if m.IsValid() {
		return m
	}
	return RebuildOrdered
}

// ParseMode accepts an integer ("0", "2", "99") or a name ("Preserve Tree",
// "flatten", "rebuild"). Integers are not range-checked so that the fallback
// behaviour stays observable.
func ParseMode(s string) (Mode, error) {
	trimmed := strings.TrimSpace(s)
	if n, err := strconv.Atoi(trimmed); err == nil {
		return Mode(n), nil
	}

	switch strings.ToLower(strings.Join(strings.Fields(trimmed), " ")) {
	case "preserve tree", "preserve", "preserve_tree", "preservetree":
		return PreserveTree, nil
	case "flatten", "flat":
		return Flatten, nil
	case "rebuild tree", "rebuild", "rebuild_tree", "rebuildordered", "rebuild ordered":
		return RebuildOrdered, nil
	}
	return DefaultMode, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ModeFromValue converts a selector value as it arrives from a wire or a
// host: Mode, integral numbers, json.Number or a string accepted by
// ParseMode. Booleans and fractional numbers are rejected.
func ModeFromValue(v interface{}) (Mode, error) {
	switch n := v.(type) {
	case Mode:
		return n, nil
	case int:
		return Mode(n), nil
	case int32:
		return Mode(n), nil
	case int64:
		return Mode(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return DefaultMode, fmt.Errorf("%w: %v", ErrUnknownMode, n)
		}
		return Mode(int(n)), nil
	case json.Number:
		return ParseMode(n.String())
	case string:
		return ParseMode(n)
	}
	return DefaultMode, fmt.Errorf("%w: unsupported value type %T", ErrUnknownMode, v)
}
