package slots

import (
	"context"
	"strconv"

	"github.com/wehubfusion/Gorilla/pkg/merge"
	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// Source is an upstream producer wired into a port.
type Source interface {
	// ID identifies the producer; it must be stable for the lifetime of a wire.
	ID() string
	// Tree returns the producer's current data. A nil tree means no data.
	Tree(ctx context.Context) (*tree.DataTree, error)
}

// ParamKind distinguishes dynamic item slots from the fixed mode selector.
type ParamKind int

const (
	KindItem         ParamKind = iota // dynamic generic tree slot
	KindModeSelector                  // fixed trailing "Output Mode" port
)

func (k ParamKind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindModeSelector:
		return "mode-selector"
	default:
		return "unknown"
	}
}

// Access describes how a port receives data.
type Access int

const (
	AccessItem Access = iota
	AccessTree
)

// Port names and descriptions shared with hosts.
const (
	ItemDescription         = "An input item"
	ModeSelectorName        = "Output Mode"
	ModeSelectorNickName    = "O"
	ModeSelectorDescription = "Controls output structure:\n0 = Preserve Tree\n1 = Flatten\n2 = Rebuild Tree"
)

// ItemName returns the display name of the dynamic slot at index i.
func ItemName(i int) string {
	return "Item " + strconv.Itoa(i)
}

// Param is one input port of an ordered merge node.
type Param struct {
	Name        string
	NickName    string
	Description string
	Kind        ParamKind
	Access      Access
	Optional    bool

	sources []Source
	// mode is the persisted selector value; only used by KindModeSelector.
	mode merge.Mode
}

// NewItemParam creates an unconnected, optional, tree-access item slot.
func NewItemParam(name string) *Param {
	return &Param{
		Name:        name,
		NickName:    name,
		Description: ItemDescription,
		Kind:        KindItem,
		Access:      AccessTree,
		Optional:    true,
	}
}

// NewModeSelectorParam creates the trailing mode selector port.
func NewModeSelectorParam(mode merge.Mode) *Param {
	return &Param{
		Name:        ModeSelectorName,
		NickName:    ModeSelectorNickName,
		Description: ModeSelectorDescription,
		Kind:        KindModeSelector,
		Access:      AccessItem,
		Optional:    true,
		mode:        mode,
	}
}

// IsConnected reports whether at least one source is wired in.
func (p *Param) IsConnected() bool {
	return len(p.sources) > 0
}

// SourceCount returns the number of wired sources.
func (p *Param) SourceCount() int {
	return len(p.sources)
}

// Sources returns the wired sources in wiring order.
func (p *Param) Sources() []Source {
	out := make([]Source, len(p.sources))
	copy(out, p.sources)
	return out
}

// SourceIDs returns the IDs of the wired sources in wiring order.
func (p *Param) SourceIDs() []string {
	ids := make([]string, len(p.sources))
	for i, s := range p.sources {
		ids[i] = s.ID()
	}
	return ids
}

// NamedValues returns the enumerated selector values. Item slots have none.
func (p *Param) NamedValues() []merge.NamedValue {
	if p.Kind != KindModeSelector {
		return nil
	}
	return merge.NamedValues()
}

func (p *Param) clone() *Param {
	cp := *p
	cp.sources = p.Sources()
	return &cp
}
