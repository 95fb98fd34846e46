package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Gorilla/pkg/tree"
)

func TestStaticReturnsClone(t *testing.T) {
	src := tree.New()
	src.Append("a", tree.NewPath(0))
	p := NewStaticWithID("static-1", src)

	got, err := p.Tree(context.Background())
	require.NoError(t, err)
	got.Append("b", tree.NewPath(0))

	again, err := p.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tree.Item{"a"}, again.AllItems())
	assert.Equal(t, "static-1", p.ID())
}

func TestStaticNilTree(t *testing.T) {
	p := NewStatic(nil)
	got, err := p.Tree(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotEmpty(t, p.ID())
}

func TestFuncAndFailing(t *testing.T) {
	calls := 0
	f := NewFunc(func(ctx context.Context) (*tree.DataTree, error) {
		calls++
		return tree.New(), nil
	})
	_, err := f.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = NewFailing(boom).Tree(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = NewFailing(nil).Tree(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotEqual(t, NewFailing(nil).ID(), NewFailing(nil).ID())
}

func TestScriptBranches(t *testing.T) {
	s, err := NewScript(ScriptConfig{Source: `
		var out = [];
		out.push({path: [2], items: ["late"]});
		out.push({path: "{0;1}", items: [1, 2.5, true]});
		out.push({path: 0, items: []});
		out;
	`})
	require.NoError(t, err)

	dt, err := s.Tree(context.Background())
	require.NoError(t, err)
	paths := dt.Paths()
	require.Len(t, paths, 3)
	assert.Equal(t, "{2}", paths[0].String())
	assert.Equal(t, "{0;1}", paths[1].String())
	assert.Equal(t, "{0}", paths[2].String())

	items, _ := dt.Branch(tree.NewPath(0, 1))
	assert.Equal(t, []tree.Item{int64(1), 2.5, true}, items)
}

func TestScriptPlainArrayAndScalar(t *testing.T) {
	s, err := NewScript(ScriptConfig{Source: `["a", "b"]`})
	require.NoError(t, err)
	dt, err := s.Tree(context.Background())
	require.NoError(t, err)
	items, ok := dt.Branch(tree.NewPath(0))
	require.True(t, ok)
	assert.Equal(t, []tree.Item{"a", "b"}, items)

	s, err = NewScript(ScriptConfig{Source: `"solo"`})
	require.NoError(t, err)
	dt, err = s.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tree.Item{"solo"}, dt.AllItems())

	s, err = NewScript(ScriptConfig{Source: `null`})
	require.NoError(t, err)
	dt, err = s.Tree(context.Background())
	require.NoError(t, err)
	assert.Nil(t, dt)
}

func TestScriptErrors(t *testing.T) {
	_, err := NewScript(ScriptConfig{})
	assert.Error(t, err)

	_, err = NewScript(ScriptConfig{Source: `[[[`})
	assert.Error(t, err)

	s, err := NewScript(ScriptConfig{Source: `[{path: [-1], items: []}]`})
	require.NoError(t, err)
	_, err = s.Tree(context.Background())
	assert.ErrorIs(t, err, ErrScriptResult)

	s, err = NewScript(ScriptConfig{Source: `throw new Error("nope")`})
	require.NoError(t, err)
	_, err = s.Tree(context.Background())
	assert.Error(t, err)

	s, err = NewScript(ScriptConfig{Source: `typeof require === "undefined" ? "sandboxed" : "open"`})
	require.NoError(t, err)
	dt, err := s.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tree.Item{"sandboxed"}, dt.AllItems())
}

func TestScriptTimeout(t *testing.T) {
	s, err := NewScript(ScriptConfig{Source: `while (true) {}`, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Tree(context.Background())
	assert.ErrorIs(t, err, ErrScriptTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}
