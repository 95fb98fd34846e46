package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonBranch is the wire form of one branch. Trees are encoded as an array of
// branches so path order survives JSON round trips.
type jsonBranch struct {
	Path  string `json:"path"`
	Items []Item `json:"items"`
}

// MarshalJSON encodes the tree as [{"path":"{0}","items":[...]}, ...].
func (t *DataTree) MarshalJSON() ([]byte, error) {
	branches := make([]jsonBranch, 0, t.PathCount())
	t.Range(func(p Path, items []Item) bool {
		if items == nil {
			items = []Item{}
		}
		branches = append(branches, jsonBranch{Path: p.String(), Items: items})
		return true
	})
	return json.Marshal(branches)
}

// UnmarshalJSON decodes the array form produced by MarshalJSON. Items are
// decoded with encoding/json defaults; numbers are kept as json.Number.
func (t *DataTree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var branches []jsonBranch
	if err := dec.Decode(&branches); err != nil {
		return fmt.Errorf("failed to decode data tree: %w", err)
	}

	*t = DataTree{branches: make(map[string]*branch)}
	for i, b := range branches {
		p, err := ParsePath(b.Path)
		if err != nil {
			return fmt.Errorf("branch %d: %w", i, err)
		}
		t.AppendRange(b.Items, p)
	}
	return nil
}

// FromValue converts a loosely typed value into a tree. It accepts:
//   - *DataTree or DataTree (returned as is / by pointer)
//   - nil (returns nil, nil)
//   - the decoded wire form: []interface{} of {"path": ..., "items": [...]}
//   - any other []interface{}: a single branch {0} holding the elements
//   - any other value: a single branch {0} holding that value
func FromValue(v interface{}) (*DataTree, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *DataTree:
		return val, nil
	case DataTree:
		return &val, nil
	case json.RawMessage:
		t := New()
		if err := t.UnmarshalJSON(val); err != nil {
			return nil, err
		}
		return t, nil
	case []interface{}:
		if isWireForm(val) {
			return fromWireForm(val)
		}
		t := New()
		t.AppendRange(val, NewPath(0))
		return t, nil
	default:
		t := New()
		t.Append(val, NewPath(0))
		return t, nil
	}
}

func isWireForm(elems []interface{}) bool {
	if len(elems) == 0 {
		return false
	}
	for _, e := range elems {
		m, ok := e.(map[string]interface{})
		if !ok || len(m) != 2 {
			return false
		}
		if _, ok := m["path"].(string); !ok {
			return false
		}
		if _, ok := m["items"].([]interface{}); !ok {
			return false
		}
	}
	return true
}

func fromWireForm(elems []interface{}) (*DataTree, error) {
	t := New()
	for i, e := range elems {
		m := e.(map[string]interface{})
		p, err := ParsePath(m["path"].(string))
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		t.AppendRange(m["items"].([]interface{}), p)
	}
	return t, nil
}
