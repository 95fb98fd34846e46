// Package slots manages the growable list of input slots of an ordered merge
// node.
//
// The port list is a sequence of dynamic item slots followed by exactly one
// mode selector. After every maintenance pass the slots are named "Item 0",
// "Item 1", ... by position and the last dynamic slot is unconnected, so a
// user always has a free slot to wire into. Slots are never reordered;
// removing one shifts the later slots down and the next pass renames them.
package slots

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wehubfusion/Gorilla/pkg/merge"
)

var (
	// ErrModeSelectorMissing is returned when the port list has no mode selector.
	ErrModeSelectorMissing = errors.New("mode selector port missing")

	// ErrCorruptSlots is returned when the port list does not end with exactly
	// one mode selector.
	ErrCorruptSlots = errors.New("corrupt slot sequence")

	// ErrSlotPosition is returned for insert/remove/wire requests at an index
	// the registry does not allow.
	ErrSlotPosition = errors.New("invalid slot position")

	// ErrSourceNotFound is returned when disconnecting a source that is not wired.
	ErrSourceNotFound = errors.New("source not wired to slot")

	// ErrNilSource is returned when wiring a nil source.
	ErrNilSource = errors.New("source cannot be nil")
)

// DefaultInitialSlots is the number of item slots a new node starts with.
const DefaultInitialSlots = 3

// ChangeReason says why the port list changed.
type ChangeReason string

const (
	ReasonMaintenance ChangeReason = "maintenance"
	ReasonInserted    ChangeReason = "inserted"
	ReasonRemoved     ChangeReason = "removed"
	ReasonWiring      ChangeReason = "wiring"
	ReasonLoaded      ChangeReason = "loaded"
)

// ChangeEvent is delivered to listeners after the port list changed.
type ChangeEvent struct {
	Reason    ChangeReason
	SlotCount int
	Padded    bool
}

// Listener receives port list change notifications, e.g. to relayout a node.
type Listener func(ChangeEvent)

// Registry owns the port list of one node instance. All methods are safe to
// call from multiple goroutines; each runs to completion before the next.
type Registry struct {
	mu        sync.Mutex
	params    []*Param
	listeners []Listener
}

// Option configures a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	initialSlots int
	mode         merge.Mode
}

// WithInitialSlots sets how many item slots a new registry starts with.
func WithInitialSlots(n int) Option {
	return func(o *registryOptions) {
		if n >= 0 {
			o.initialSlots = n
		}
	}
}

// WithMode sets the initial mode selector value.
func WithMode(m merge.Mode) Option {
	return func(o *registryOptions) {
		o.mode = m
	}
}

// NewRegistry creates a registry with the initial item slots followed by the
// mode selector.
func NewRegistry(opts ...Option) *Registry {
	o := registryOptions{initialSlots: DefaultInitialSlots, mode: merge.DefaultMode}
	for _, opt := range opts {
		opt(&o)
	}

	params := make([]*Param, 0, o.initialSlots+1)
	for i := 0; i < o.initialSlots; i++ {
		params = append(params, NewItemParam(ItemName(i)))
	}
	params = append(params, NewModeSelectorParam(o.mode))
	return &Registry{params: params}
}

// NewRegistryFromParams wraps an existing port list, e.g. one restored by a
// host document. No maintenance is run; call Load or OnStructuralChange.
func NewRegistryFromParams(params []*Param) *Registry {
	cp := make([]*Param, len(params))
	copy(cp, params)
	return &Registry{params: cp}
}

// Subscribe registers a listener for change events.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// CreateSlot returns a new unconnected, optional, tree-access item slot.
func (r *Registry) CreateSlot() *Param {
	return NewItemParam("Item")
}

// OnStructuralChange runs the maintenance pass: rename every item slot after
// its index, then make sure the last item slot is unconnected. Calling it
// twice without an intervening wiring change mutates nothing the second time.
func (r *Registry) OnStructuralChange() error {
	return r.mutate(ReasonMaintenance, func() (bool, error) {
		return r.maintainLocked()
	})
}

// AddedToDocument is the hook for attaching the node to a graph. Like the
// document attach of the host, it only pads.
func (r *Registry) AddedToDocument() error {
	return r.mutate(ReasonMaintenance, func() (bool, error) {
		idx, err := r.selectorIndexLocked()
		if err != nil {
			return false, err
		}
		return r.padLocked(idx), nil
	})
}

// Load replaces the port list (document load) and runs maintenance. A list
// that fails validation is rejected and the current ports stay in place.
func (r *Registry) Load(params []*Param) error {
	return r.mutate(ReasonLoaded, func() (bool, error) {
		prev := r.params
		r.params = make([]*Param, len(params))
		copy(r.params, params)
		// maintainLocked validates before it touches anything.
		if _, err := r.maintainLocked(); err != nil {
			r.params = prev
			return false, fmt.Errorf("load: %w", err)
		}
		return true, nil
	})
}

// CanInsert reports whether a slot may be inserted at index i. Insertion is
// allowed anywhere strictly before the mode selector.
func (r *Registry) CanInsert(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.beforeSelectorLocked(i)
}

// CanRemove reports whether the slot at index i may be removed. The mode
// selector can never be removed.
func (r *Registry) CanRemove(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.beforeSelectorLocked(i)
}

// Insert adds a new slot at index i and runs maintenance.
func (r *Registry) Insert(i int) error {
	return r.mutate(ReasonInserted, func() (bool, error) {
		if !r.beforeSelectorLocked(i) {
			return false, fmt.Errorf("%w: cannot insert at %d", ErrSlotPosition, i)
		}
		r.insertLocked(i, r.CreateSlot())
		_, err := r.maintainLocked()
		return true, err
	})
}

// Remove deletes the slot at index i, shifting later slots down, and runs
// maintenance.
func (r *Registry) Remove(i int) error {
	return r.mutate(ReasonRemoved, func() (bool, error) {
		if !r.beforeSelectorLocked(i) {
			return false, fmt.Errorf("%w: cannot remove %d", ErrSlotPosition, i)
		}
		r.params = append(r.params[:i], r.params[i+1:]...)
		_, err := r.maintainLocked()
		return true, err
	})
}

// Connect wires src into the port at index i (an item slot or the mode
// selector) and runs maintenance. Wiring the same source twice is a no-op.
func (r *Registry) Connect(i int, src Source) error {
	if src == nil {
		return ErrNilSource
	}
	return r.mutate(ReasonWiring, func() (bool, error) {
		p, err := r.portLocked(i)
		if err != nil {
			return false, err
		}
		changed := false
		if !containsSource(p.sources, src.ID()) {
			p.sources = append(p.sources, src)
			changed = true
		}
		padded, err := r.maintainLocked()
		return changed || padded, err
	})
}

// Disconnect removes the source with the given ID from port i and runs
// maintenance. The slot keeps its position.
func (r *Registry) Disconnect(i int, sourceID string) error {
	return r.mutate(ReasonWiring, func() (bool, error) {
		p, err := r.portLocked(i)
		if err != nil {
			return false, err
		}
		idx := -1
		for j, s := range p.sources {
			if s.ID() == sourceID {
				idx = j
				break
			}
		}
		if idx < 0 {
			return false, fmt.Errorf("%w: %s on port %d", ErrSourceNotFound, sourceID, i)
		}
		p.sources = append(p.sources[:idx], p.sources[idx+1:]...)
		_, err = r.maintainLocked()
		return true, err
	})
}

// DisconnectAll removes every source from port i and runs maintenance.
func (r *Registry) DisconnectAll(i int) error {
	return r.mutate(ReasonWiring, func() (bool, error) {
		p, err := r.portLocked(i)
		if err != nil {
			return false, err
		}
		changed := len(p.sources) > 0
		p.sources = nil
		padded, err := r.maintainLocked()
		return changed || padded, err
	})
}

// SetMode stores the persisted selector value.
func (r *Registry) SetMode(m merge.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, err := r.selectorIndexLocked()
	if err != nil {
		return err
	}
	r.params[idx].mode = m
	return nil
}

// Mode returns the persisted selector value.
func (r *Registry) Mode() (merge.Mode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, err := r.selectorIndexLocked()
	if err != nil {
		return merge.DefaultMode, err
	}
	return r.params[idx].mode, nil
}

// Len returns the total number of ports including the mode selector.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.params)
}

// SelectorIndex returns the index of the mode selector.
func (r *Registry) SelectorIndex() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectorIndexLocked()
}

// SlotCount returns the number of dynamic item slots.
func (r *Registry) SlotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.params {
		if p.Kind == KindItem {
			n++
		}
	}
	return n
}

// Params returns a snapshot of the whole port list. Modifying the returned
// params does not affect the registry.
func (r *Registry) Params() []*Param {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Param, len(r.params))
	for i, p := range r.params {
		out[i] = p.clone()
	}
	return out
}

// Bindings is a consistent view of the wiring taken for one evaluation.
type Bindings struct {
	// Slots holds the sources of every item slot in index order.
	Slots [][]Source
	// Names holds the item slot names in index order.
	Names []string
	// ModeSources are the sources wired into the mode selector.
	ModeSources []Source
	// Mode is the persisted selector value.
	Mode merge.Mode
}

// Bindings snapshots the wiring. It fails when the port list violates the
// slot invariant, which means maintenance was never run or the list was
// corrupted by its owner.
func (r *Registry) Bindings() (Bindings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.selectorIndexLocked()
	if err != nil {
		return Bindings{}, err
	}
	b := Bindings{
		Slots:       make([][]Source, idx),
		Names:       make([]string, idx),
		ModeSources: r.params[idx].Sources(),
		Mode:        r.params[idx].mode,
	}
	for i := 0; i < idx; i++ {
		b.Slots[i] = r.params[i].Sources()
		b.Names[i] = r.params[i].Name
	}
	return b, nil
}

func (r *Registry) mutate(reason ChangeReason, fn func() (bool, error)) error {
	r.mu.Lock()
	changed, err := fn()
	event := ChangeEvent{Reason: reason, SlotCount: len(r.params) - 1}
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	if changed {
		for _, l := range listeners {
			l(event)
		}
	}
	return err
}

// maintainLocked renames and pads. It reports whether anything changed.
func (r *Registry) maintainLocked() (bool, error) {
	idx, err := r.selectorIndexLocked()
	if err != nil {
		return false, err
	}

	changed := false
	for i := 0; i < idx; i++ {
		p := r.params[i]
		name := ItemName(i)
		if p.Name != name || p.NickName != name {
			p.Name = name
			p.NickName = name
			changed = true
		}
	}
	if r.padLocked(idx) {
		changed = true
	}
	return changed, nil
}

// padLocked appends a free slot before the selector at idx when there are no
// item slots or the last one is wired.
func (r *Registry) padLocked(idx int) bool {
	if idx > 0 && !r.params[idx-1].IsConnected() {
		return false
	}
	slot := r.CreateSlot()
	slot.Name = ItemName(idx)
	slot.NickName = slot.Name
	r.insertLocked(idx, slot)
	return true
}

func (r *Registry) insertLocked(i int, p *Param) {
	r.params = append(r.params, nil)
	copy(r.params[i+1:], r.params[i:])
	r.params[i] = p
}

// selectorIndexLocked finds the mode selector and checks it is the single,
// last port.
func (r *Registry) selectorIndexLocked() (int, error) {
	idx := -1
	for i, p := range r.params {
		if p == nil {
			return -1, fmt.Errorf("%w: nil port at %d", ErrCorruptSlots, i)
		}
		if p.Kind != KindModeSelector {
			continue
		}
		if idx >= 0 {
			return -1, fmt.Errorf("%w: second mode selector at %d", ErrCorruptSlots, i)
		}
		idx = i
	}
	if idx < 0 {
		return -1, ErrModeSelectorMissing
	}
	if idx != len(r.params)-1 {
		return -1, fmt.Errorf("%w: mode selector at %d is not the last port", ErrCorruptSlots, idx)
	}
	return idx, nil
}

func (r *Registry) beforeSelectorLocked(i int) bool {
	idx, err := r.selectorIndexLocked()
	if err != nil {
		return false
	}
	return i >= 0 && i < idx
}

func (r *Registry) portLocked(i int) (*Param, error) {
	if _, err := r.selectorIndexLocked(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(r.params) {
		return nil, fmt.Errorf("%w: no port %d", ErrSlotPosition, i)
	}
	return r.params[i], nil
}

func containsSource(sources []Source, id string) bool {
	for _, s := range sources {
		if s.ID() == id {
			return true
		}
	}
	return false
}
