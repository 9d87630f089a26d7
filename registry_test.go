package eventbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_TagAndOwner(t *testing.T) {
	r := newRegistry()
	core := New()
	v := &struct{ N int }{N: 1}

	require.True(t, r.Tag(core, v))
	owner, ok := r.Owner(v)
	require.True(t, ok)
	require.Same(t, core, owner)
}

func TestRegistry_TagRejectsValueTypes(t *testing.T) {
	r := newRegistry()
	core := New()
	require.False(t, r.Tag(core, 42))
	require.False(t, r.Tag(core, "hello"))
	require.False(t, r.Tag(core, struct{ N int }{N: 1}))
}

func TestRegistry_IsForeign(t *testing.T) {
	r := newRegistry()
	coreA := New()
	coreB := New()
	v := &struct{ N int }{}

	require.True(t, r.Tag(coreA, v))
	require.True(t, r.IsForeign(coreB, v))
	require.False(t, r.IsForeign(coreA, v))
}

func TestRegistry_ClearRemovesOwnerEntries(t *testing.T) {
	r := newRegistry()
	core := New()
	v := &struct{ N int }{}
	require.True(t, r.Tag(core, v))

	r.Clear(core)
	_, ok := r.Owner(v)
	require.False(t, ok)
}
