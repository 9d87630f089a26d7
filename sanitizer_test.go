package eventbox

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// TestSanitizer_CollectionDissectionRoundTrip exercises the "sanitize
// collections by rebuilding them element-by-element" rule: a slice of
// plain immutable values round-trips byte-for-byte across the boundary,
// since none of its elements need wrapping.
func TestSanitizer_CollectionDissectionRoundTrip(t *testing.T) {
	core := New()
	core.SyncCall("Echo", func(args []any, kw map[string]any) (any, error) {
		return args[0], nil
	})

	in := []any{1, "two", 3.0}
	out, err := core.Call(context.Background(), "Echo", []any{in}, nil)
	require.NoError(t, err)

	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("collection did not round-trip (-want +got):\n%s", diff)
	}
}

// TestSanitizer_NestedSharedObjectInCollection confirms dissection
// recurses: a shared object nested inside a slice crosses by reference
// rather than the whole slice being wrapped opaquely.
func TestSanitizer_NestedSharedObjectInCollection(t *testing.T) {
	core := New()
	shared := &struct{ N int }{N: 42}
	require.True(t, core.Share(shared))

	core.SyncCall("Echo", func(args []any, kw map[string]any) (any, error) {
		return args[0], nil
	})

	in := []any{shared, "plain"}
	out, err := core.Call(context.Background(), "Echo", []any{in}, nil)
	require.NoError(t, err)

	outSlice, ok := out.([]any)
	require.True(t, ok)
	require.Same(t, shared, outSlice[0])
	require.Equal(t, "plain", outSlice[1])
}

// TestSanitizer_DissectsStructWithUncopyableField exercises the
// deep-copy-then-dissect fallback chain for a struct that cannot be
// deep-copied whole (one field is a channel, which gob cannot encode):
// dissection still succeeds field-by-field, producing an independent
// shell with the plain field copied, the callable field adapted into an
// ExternalProc, and the uncopyable resource wrapped in an ExternalObject
// — rather than the whole struct falling back to one opaque wrapper.
func TestSanitizer_DissectsStructWithUncopyableField(t *testing.T) {
	core := New()

	type resourceHolder struct {
		Name string
		Hook any
		Conn any
	}

	var seen *resourceHolder
	core.SyncCall("Accept", func(args []any, kw map[string]any) (any, error) {
		seen = args[0].(*resourceHolder)
		return nil, nil
	})

	conn := make(chan struct{})
	original := &resourceHolder{
		Name: "hello",
		Hook: func(n int) (string, error) { return "ok", nil },
		Conn: conn,
	}

	_, err := core.Call(context.Background(), "Accept", []any{original}, nil)
	require.NoError(t, err)

	require.NotSame(t, original, seen, "dissection must build an independent shell, not hand back the original pointer")
	require.Equal(t, "hello", seen.Name)

	proc, ok := seen.Hook.(*ExternalProc)
	require.True(t, ok, "expected the callable field to be adapted into an ExternalProc, got %T", seen.Hook)
	result, err := proc.Call([]any{5}, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", result)

	extObj, ok := seen.Conn.(*ExternalObject)
	require.True(t, ok, "expected the uncopyable field to be wrapped in an ExternalObject, got %T", seen.Conn)
	require.Equal(t, conn, extObj.Value())
}
