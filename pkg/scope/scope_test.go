package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackPushPop(t *testing.T) {
	s := New()
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Depth())

	s.Push(Frame{"a": 1})
	s.Push(Frame{"b": 2})
	assert.Equal(t, 2, s.Depth())

	top, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, Frame{"b": 2}, top)
	assert.Equal(t, 1, s.Depth())

	_, ok = s.Pop()
	require.True(t, ok)
	_, ok = s.Pop()
	assert.False(t, ok)
	assert.True(t, s.IsEmpty())
}

func TestStackInnermostWins(t *testing.T) {
	s := New()
	s.Push(Frame{"item": "outer", "index": 0})
	s.Push(Frame{"item": "inner"})

	v, ok := s.Value("item")
	require.True(t, ok)
	assert.Equal(t, "inner", v)

	// The outer binding is still reachable for names the inner frame does
	// not shadow.
	v, ok = s.Value("index")
	require.True(t, ok)
	assert.Equal(t, 0, v)

	s.Pop()
	v, ok = s.Value("item")
	require.True(t, ok)
	assert.Equal(t, "outer", v)
}

func TestStackValueMissing(t *testing.T) {
	s := New()
	_, ok := s.Value("nope")
	assert.False(t, ok)

	s.Push(Frame{"a": 1})
	_, ok = s.Value("nope")
	assert.False(t, ok)
}

func TestStackFlatten(t *testing.T) {
	s := New()
	s.Push(Frame{"a": 1, "b": 1})
	s.Push(Frame{"b": 2})

	flat := s.Flatten(map[string]any{"c": 3, "b": 0})
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, flat)

	assert.NotNil(t, New().Flatten(nil))
}
