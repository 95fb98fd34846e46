// Package tree provides the hierarchical data model shared by every Gorilla
// node: Path, a branch address made of integer segments, and DataTree, a
// sparse Path -> ordered items mapping that remembers the order in which its
// branches were created.
package tree

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addresses one branch of a DataTree. A Path is immutable once created;
// all methods that "modify" it return a new value.
type Path struct {
	segments []int
}

// NewPath creates a path from the given segments. The slice is copied.
// Segments must be non-negative.
func NewPath(segments ...int) Path {
	for _, s := range segments {
		if s < 0 {
			panic(fmt.Sprintf("tree: negative path segment %d", s))
		}
	}
	cp := make([]int, len(segments))
	copy(cp, segments)
	return Path{segments: cp}
}

// ParsePath parses the "{0;1;2}" notation produced by Path.String.
// Surrounding braces are optional and whitespace around segments is ignored.
func ParsePath(s string) (Path, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "{")
	trimmed = strings.TrimSuffix(trimmed, "}")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return Path{}, nil
	}

	parts := strings.Split(trimmed, ";")
	segments := make([]int, 0, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Path{}, fmt.Errorf("%w: segment %d of %q: %v", ErrInvalidPath, i, s, err)
		}
		if n < 0 {
			return Path{}, fmt.Errorf("%w: segment %d of %q is negative", ErrInvalidPath, i, s)
		}
		segments = append(segments, n)
	}
	return Path{segments: segments}, nil
}

// MustParsePath is like ParsePath but panics on error. Intended for tests and
// static tables.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// Segment returns the segment at index i.
func (p Path) Segment(i int) int {
	return p.segments[i]
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []int {
	cp := make([]int, len(p.segments))
	copy(cp, p.segments)
	return cp
}

// Append returns a new path with seg added as the last segment.
func (p Path) Append(seg int) Path {
	next := make([]int, len(p.segments), len(p.segments)+1)
	copy(next, p.segments)
	return NewPath(append(next, seg)...)
}

// Equal reports whether both paths have identical segments.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically by segment. A path that is a prefix
// of another sorts first. Returns -1, 0 or 1.
func (p Path) Compare(other Path) int {
	n := len(p.segments)
	if len(other.segments) < n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		switch {
		case p.segments[i] < other.segments[i]:
			return -1
		case p.segments[i] > other.segments[i]:
			return 1
		}
	}
	switch {
	case len(p.segments) < len(other.segments):
		return -1
	case len(p.segments) > len(other.segments):
		return 1
	}
	return 0
}

// Key returns a string usable as a map key. Equal paths have equal keys.
func (p Path) Key() string {
	return p.String()
}

// String renders the path as "{0;1;2}".
func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, s := range p.segments {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.Itoa(s))
	}
	b.WriteByte('}')
	return b.String()
}
