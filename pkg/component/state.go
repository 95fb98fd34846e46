package component

import (
	"fmt"

	"github.com/wehubfusion/Gorilla/pkg/merge"
	"github.com/wehubfusion/Gorilla/pkg/slots"
)

// State is what a host document persists for the node. Wires are owned by
// the host graph and restored by reconnecting sources after Restore.
type State struct {
	SlotCount int        `json:"slot_count"`
	Mode      merge.Mode `json:"mode"`
}

// Snapshot captures the current state.
func (m *OrderedMerge) Snapshot() (State, error) {
	mode, err := m.registry.Mode()
	if err != nil {
		return State{}, err
	}
	return State{SlotCount: m.registry.SlotCount(), Mode: mode}, nil
}

// Restore rebuilds the port list from s, dropping all wiring, and runs the
// maintenance pass so the slot invariant holds afterwards.
func (m *OrderedMerge) Restore(s State) error {
	if s.SlotCount < 0 {
		return fmt.Errorf("%w: negative slot count %d", slots.ErrSlotPosition, s.SlotCount)
	}
	params := make([]*slots.Param, 0, s.SlotCount+1)
	for i := 0; i < s.SlotCount; i++ {
		params = append(params, slots.NewItemParam(slots.ItemName(i)))
	}
	params = append(params, slots.NewModeSelectorParam(s.Mode))
	return m.registry.Load(params)
}
