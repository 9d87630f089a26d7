package eventbox

import (
	"bytes"
	"encoding/gob"
	"reflect"
)

// direction identifies which way a value is crossing the scope boundary,
// since some Sanitizer steps (e.g. which Proc kind to wrap a func in)
// depend on it.
type direction int

const (
	// intoEventScope sanitizes a value supplied by external scope (a call
	// argument) on its way into event scope.
	intoEventScope direction = iota
	// outOfEventScope sanitizes a value produced by event scope (a call
	// result, or a value handed to an Action) on its way to external scope.
	outOfEventScope
)

// sanitizeKind classifies v for the purpose of crossing a scope boundary,
// for the cases classify can resolve without consulting a Core (the
// Core-dependent checks — already-wrapped, foreign-tag, tagged-shared —
// are resolved directly in Core.sanitize before classify is consulted).
type sanitizeKind int

const (
	sanitizeImmutable sanitizeKind = iota
	sanitizeFunc
	sanitizeCollection
	sanitizeOpaque
)

// sanitize is the single entry point every value crossing a Core boundary
// passes through. It never panics on a value it cannot classify — the
// fallback (sanitizeOpaqueValue) always succeeds — but it does return an
// [InvalidAccessError] for the explicitly reserved/forbidden cases.
func (c *Core) sanitize(dir direction, name string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	if wrapped, ok := v.(boxValue); ok {
		w, isWrappedObject := v.(*WrappedObject)
		if wrapped.home() != c {
			// Another Core's WrappedObject crosses unchanged; it can only be
			// unwrapped in its own Core's event scope.
			if isWrappedObject {
				return v, nil
			}
			return nil, &InvalidAccessError{
				Reason: "foreign-tag",
				Detail: "value crossing the boundary was tagged by a different Core instance",
				Value:  v,
			}
		}
		// A WrappedObject coming back into this Core's event scope unwraps
		// to the live value; every other boxValue of this Core crosses as-is.
		if isWrappedObject && dir == intoEventScope {
			return w.value, nil
		}
		return v, nil
	}

	if owner, ok := sharedRegistry.Owner(v); ok {
		if owner != c {
			return nil, &InvalidAccessError{
				Reason: "foreign-tag",
				Detail: "value crossing the boundary was shared by a different Core instance",
				Value:  v,
			}
		}
		// Already tagged as an intentionally shared object: it crosses by
		// reference, same as an immutable value, because the caller opted
		// into sharing it when it first crossed.
		return v, nil
	}

	switch classify(v) {
	case sanitizeImmutable:
		// Values with no shared mutable state reachable through them
		// (numbers, strings, bools) cross directly.
		return v, nil

	case sanitizeFunc:
		return c.sanitizeFunc(dir, name, v)

	case sanitizeCollection:
		return c.sanitizeCollection(dir, name, v)

	default: // sanitizeOpaque
		return c.sanitizeOpaqueValue(dir, v), nil
	}
}

// classify implements the decision order itself, independent of any
// particular Core (the Core-dependent checks — already-wrapped,
// foreign-tag, tagged-shared — are resolved by the caller).
func classify(v any) sanitizeKind {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128, reflect.String:
		return sanitizeImmutable
	case reflect.Func:
		return sanitizeFunc
	case reflect.Slice, reflect.Array, reflect.Map:
		return sanitizeCollection
	default:
		return sanitizeOpaque
	}
}

// sanitizeFunc wraps a bare func crossing the boundary. Leaving event
// scope, a func with one of this package's own call-body signatures is
// wrapped in the matching Proc kind, so its invocation is routed back
// through Core.dispatchProc rather than called directly off-thread; any
// other func leaving event scope is wrapped opaquely. Every func crossing
// into event scope is adapted into an [ExternalProc], so event scope can
// still invoke it (via Core.callExternal / Core.relayCallback) without
// ever running caller-supplied logic while holding the mutex.
func (c *Core) sanitizeFunc(dir direction, name string, v any) (any, error) {
	switch fn := v.(type) {
	case func(args []any, kw map[string]any):
		if dir == outOfEventScope {
			return &AsyncProc{core: c, name: name, fn: fn}, nil
		}
		return &ExternalProc{core: c, fn: adaptExternalFunc(v)}, nil
	case func(args []any, kw map[string]any) (any, error):
		if dir == outOfEventScope {
			return &SyncProc{core: c, name: name, fn: fn}, nil
		}
		return &ExternalProc{core: c, fn: fn}, nil
	default:
		if dir == intoEventScope {
			return &ExternalProc{core: c, fn: adaptExternalFunc(v)}, nil
		}
		return c.sanitizeOpaqueValue(dir, v), nil
	}
}

// adaptExternalFunc wraps an arbitrary bare func value in the (args []any,
// kw map[string]any) (any, error) shape ExternalProc expects, dispatching
// through reflection since the underlying func's real signature is
// unknown at this point. kw is ignored: a bare func crossing the
// boundary this way has no keyword-argument channel of its own.
func adaptExternalFunc(v any) func(args []any, kw map[string]any) (any, error) {
	fn := reflect.ValueOf(v)
	return func(args []any, _ map[string]any) (any, error) {
		in := make([]reflect.Value, len(args))
		for i, a := range args {
			in[i] = reflect.ValueOf(a)
		}
		return unpackReflectResults(fn.Call(in))
	}
}

// sanitizeCollection dissects a slice/array/map non-destructively: a new
// collection of the same shape is built with every element individually
// sanitized, so a caller handing over e.g. []any{sharedObj, 1, "x"} gets a
// new collection back in which the shared object still crosses by
// reference, rather than the whole collection being wrapped opaquely.
func (c *Core) sanitizeCollection(dir direction, name string, v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := c.sanitize(dir, name, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case reflect.Map:
		out := make(map[any]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := c.sanitize(dir, name, iter.Key().Interface())
			if err != nil {
				return nil, err
			}
			val, err := c.sanitize(dir, name, iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	default:
		return c.sanitizeOpaqueValue(dir, v), nil
	}
}

// sanitizeOpaqueValue implements the boundary crossing's last three
// steps: attempt a deep copy first (so the two scopes end up with
// wholly independent values and neither needs a wrapper at all), fall
// back to non-destructive dissection of an exported-fields-only struct
// pointer, and only wrap the value opaquely once both have been ruled
// out.
func (c *Core) sanitizeOpaqueValue(dir direction, v any) any {
	if cp, ok := attemptDeepCopy(v); ok {
		return cp
	}
	if dissected, ok := attemptDissection(dir, c, v); ok {
		return dissected
	}
	return c.wrapOpaque(dir, v)
}

// copySafeKind reports whether v's type graph is free of the kinds gob
// cannot encode (func, chan, unsafe pointer) or would encode lossily
// (an unexported struct field gob silently skips, which would make the
// two scopes observe different values from what looks like one
// successful copy). Checked up front since gob's own errors for these
// cases are easy to conflate with "this value just isn't gob-friendly
// today" and would otherwise need per-error-string matching to tell
// apart from a real encoding failure.
func copySafeKind(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return true // recursive type; assume safe, let gob itself fail if not
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Interface:
		return false
	case reflect.Ptr:
		return copySafeKind(t.Elem(), seen)
	case reflect.Slice, reflect.Array:
		return copySafeKind(t.Elem(), seen)
	case reflect.Map:
		return copySafeKind(t.Key(), seen) && copySafeKind(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				return false
			}
			if !copySafeKind(f.Type, seen) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// attemptDeepCopy tries to produce a wholly independent copy of v via
// gob serialize/deserialize, the spec's "deep copy" boundary-crossing
// step: if it succeeds, the copy needs no wrapper at all, since mutating
// it cannot affect the original. No pack example repo imports a
// deep-copy library directly (only an unused transitive dependency
// turned up), so this step is realized with the standard library's own
// serialization round-trip rather than a fabricated dependency.
func attemptDeepCopy(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	if !copySafeKind(rv.Type(), make(map[reflect.Type]bool)) {
		return nil, false
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, false
	}

	out := reflect.New(rv.Type())
	if err := gob.NewDecoder(&buf).Decode(out.Interface()); err != nil {
		return nil, false
	}
	return out.Elem().Interface(), true
}

// attemptDissection is the non-destructive fallback for a pointer to a
// struct whose fields are all exported: it builds an independent shell
// of the same type, recursively sanitizes each field's value into it,
// and leaves the original untouched, rather than wrapping the whole
// pointer opaquely just because one field happens to need a wrapper
// (e.g. a nested shared object or callable).
func attemptDissection(dir direction, c *Core, v any) (any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	elem := rv.Elem()
	t := elem.Type()
	for i := 0; i < t.NumField(); i++ {
		if !t.Field(i).IsExported() {
			return nil, false
		}
	}

	shell := reflect.New(t)
	for i := 0; i < t.NumField(); i++ {
		fieldVal, err := c.sanitize(dir, t.Field(i).Name, elem.Field(i).Interface())
		if err != nil {
			return nil, false
		}
		fv := reflect.ValueOf(fieldVal)
		if !fv.IsValid() {
			continue // nil result for a nilable field; zero value is correct
		}
		if !fv.Type().AssignableTo(t.Field(i).Type) {
			// A wrapper (e.g. ExternalProc, ExternalObject) doesn't fit a
			// concretely typed field; there is no shell to build here, so
			// give up on dissection entirely rather than construct a value
			// with the wrong static type.
			return nil, false
		}
		shell.Elem().Field(i).Set(fv)
	}
	return shell.Interface(), true
}

// wrapOpaque is the last-resort fallback: any value this Core cannot
// prove safe to pass by reference, copy, or dissect is handed across as
// an opaque handle.
func (c *Core) wrapOpaque(dir direction, v any) any {
	if dir == outOfEventScope {
		return &WrappedObject{core: c, value: v}
	}
	return &ExternalObject{core: c, value: v}
}

// Share tags v as an intentionally shared object: future crossings of the
// very same value (by pointer identity) are let through directly instead
// of being wrapped, because the caller has taken responsibility for its
// thread-safety (e.g. it is itself immutable after construction, or
// internally synchronized). It reports false if v has no stable pointer
// identity to tag.
func (c *Core) Share(v any) bool {
	return sharedRegistry.Tag(c, v)
}
