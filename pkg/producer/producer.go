// Package producer provides upstream DataTree sources that can be wired into
// ordered merge slots.
package producer

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/wehubfusion/Gorilla/pkg/tree"
)

// ErrUnavailable is returned by producers that cannot supply a tree.
var ErrUnavailable = errors.New("producer data unavailable")

// Static always returns the same tree. The tree is cloned on every read so
// consumers can never modify the producer's copy.
type Static struct {
	id   string
	tree *tree.DataTree
}

// NewStatic creates a static producer with a generated ID.
func NewStatic(dt *tree.DataTree) *Static {
	return NewStaticWithID(uuid.NewString(), dt)
}

// NewStaticWithID creates a static producer with a fixed ID.
func NewStaticWithID(id string, dt *tree.DataTree) *Static {
	return &Static{id: id, tree: dt}
}

// ID returns the producer ID.
func (s *Static) ID() string { return s.id }

// Tree returns a clone of the stored tree, or nil when none was given.
func (s *Static) Tree(ctx context.Context) (*tree.DataTree, error) {
	if s.tree == nil {
		return nil, nil
	}
	return s.tree.Clone(), nil
}

// Func adapts a function into a producer.
type Func struct {
	id string
	fn func(ctx context.Context) (*tree.DataTree, error)
}

// NewFunc creates a function producer with a generated ID.
func NewFunc(fn func(ctx context.Context) (*tree.DataTree, error)) *Func {
	return &Func{id: uuid.NewString(), fn: fn}
}

// ID returns the producer ID.
func (f *Func) ID() string { return f.id }

// Tree calls the wrapped function.
func (f *Func) Tree(ctx context.Context) (*tree.DataTree, error) {
	return f.fn(ctx)
}

// Failing is a producer whose data can never be read.
type Failing struct {
	id  string
	err error
}

// NewFailing creates a producer that always fails with err, or
// ErrUnavailable when err is nil.
func NewFailing(err error) *Failing {
	if err == nil {
		err = ErrUnavailable
	}
	return &Failing{id: uuid.NewString(), err: err}
}

// ID returns the producer ID.
func (f *Failing) ID() string { return f.id }

// Tree always returns the configured error.
func (f *Failing) Tree(ctx context.Context) (*tree.DataTree, error) {
	return nil, f.err
}
