package eventbox

import (
	"fmt"
	"reflect"
)

// wrapKind distinguishes the members of the WrappedObject / ExternalObject /
// WrappedProc family. It is a closed sum type: every constructor lives in
// this package, so external code can only ever hold a value this package
// produced, never fabricate a new kind of its own.
type wrapKind int

const (
	kindWrappedObject wrapKind = iota
	kindExternalObject
	kindAsyncProc
	kindSyncProc
	kindYieldProc
	kindCompletionProc
	kindExternalProc
)

func (k wrapKind) String() string {
	switch k {
	case kindWrappedObject:
		return "WrappedObject"
	case kindExternalObject:
		return "ExternalObject"
	case kindAsyncProc:
		return "AsyncProc"
	case kindSyncProc:
		return "SyncProc"
	case kindYieldProc:
		return "YieldProc"
	case kindCompletionProc:
		return "CompletionProc"
	case kindExternalProc:
		return "ExternalProc"
	default:
		return "Unknown"
	}
}

// boxValue is implemented by every crossing-safe wrapper. The Sanitizer
// recognises these by type switch and lets them cross a scope boundary
// unwrapped into their opaque form, rather than dissecting them.
type boxValue interface {
	wrapKind() wrapKind
	home() *Core
}

// WrappedObject is an opaque handle standing in for a mutable event-scope
// value that has crossed into external scope. External code can hold it,
// pass it to other Cores' calls, or pass it back into this Core's calls —
// where the Sanitizer unwraps it back to the live value — but cannot
// observe or mutate the value it stands for directly.
type WrappedObject struct {
	core  *Core
	value any
}

func (w *WrappedObject) wrapKind() wrapKind { return kindWrappedObject }
func (w *WrappedObject) home() *Core        { return w.core }

// Unwrap returns the live value, but only when called from code already
// running in the owning Core's event scope; everywhere else it returns
// false, since handing out the live value would defeat the wrapper. A
// matching *Core pointer alone is not enough: the whole point of the
// wrapper is that the live value must never be observed or mutated from
// outside event scope, so the calling goroutine must actually hold
// core's mutex right now.
func (w *WrappedObject) Unwrap(core *Core) (any, bool) {
	if core != w.core || !core.InEventScope() {
		return nil, false
	}
	return w.value, true
}

// ExternalObject is the mirror of WrappedObject: an opaque handle standing
// in for a value that belongs to external scope (e.g. a caller-supplied
// struct with unexported fields the event scope has no business mutating)
// while it is reachable from inside the event scope.
type ExternalObject struct {
	core  *Core
	value any
}

func (e *ExternalObject) wrapKind() wrapKind { return kindExternalObject }
func (e *ExternalObject) home() *Core        { return e.core }

// Value returns the external value unconditionally: event scope may read
// it (it is immutable from the event scope's point of view, by
// convention) but must treat it as opaque foreign state.
func (e *ExternalObject) Value() any { return e.value }

// Send drives method against the external value by name (mirroring the
// gem's Object#send), on a goroutine of its own, and reports the result
// through onDone rather than blocking the caller. The external value is
// not Core-protected state — it is owned by external scope — so this
// needs no mutex coordination with e.core; it exists so event scope can
// originate a call into external-owned logic without running that logic
// on the event-scope goroutine itself.
func (e *ExternalObject) Send(method string, args []any, onDone func(any, error)) {
	go func() {
		value, err := e.invoke(method, args)
		if onDone != nil {
			onDone(value, err)
		}
	}()
}

// invoke dispatches method by name via reflection, the same dynamic-send
// mechanism the gem relies on.
func (e *ExternalObject) invoke(method string, args []any) (any, error) {
	rv := reflect.ValueOf(e.value)
	m := rv.MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("eventbox: external object has no method %q", method)
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	return unpackReflectResults(m.Call(in))
}

// unpackReflectResults adapts reflect.Value.Call's output slice to this
// package's (any, error) convention, recognising a trailing error return
// the way Go itself does by idiom rather than by the language.
func unpackReflectResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if err, ok := out[0].Interface().(error); ok {
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		last := out[len(out)-1]
		err, _ := last.Interface().(error)
		if len(out) == 2 {
			return out[0].Interface(), err
		}
		values := make([]any, len(out)-1)
		for i := 0; i < len(out)-1; i++ {
			values[i] = out[i].Interface()
		}
		return values, err
	}
}

// AsyncProc is a callable handed to external scope that, when invoked,
// makes a fire-and-forget call back into event scope: Call runs the body
// under the Core's mutex on the calling goroutine and returns no result.
type AsyncProc struct {
	core *Core
	name string
	fn   func(args []any, kw map[string]any)
}

func (p *AsyncProc) wrapKind() wrapKind { return kindAsyncProc }
func (p *AsyncProc) home() *Core        { return p.core }

// Call invokes the wrapped body, sanitizing args inward first. It
// returns once the body has run, without a result.
func (p *AsyncProc) Call(args ...any) {
	p.core.dispatchProc(KindAsync, p.name, args, nil, p.fn, nil, nil)
}

// SyncProc is a callable handed to external scope that blocks the caller
// until the wrapped body returns, then sanitizes the result outward.
type SyncProc struct {
	core *Core
	name string
	fn   func(args []any, kw map[string]any) (any, error)
}

func (p *SyncProc) wrapKind() wrapKind { return kindSyncProc }
func (p *SyncProc) home() *Core        { return p.core }

// Call invokes the wrapped body synchronously and returns its (sanitized)
// result.
func (p *SyncProc) Call(args ...any) (any, error) {
	return p.core.dispatchProc(KindSync, p.name, args, nil, nil, p.fn, nil)
}

// YieldProc is a callable handed to external scope whose body receives a
// CompletionProc as its last event-scope argument; Call blocks until that
// handle is invoked (or ctx is cancelled).
type YieldProc struct {
	core *Core
	name string
	fn   func(args []any, kw map[string]any, complete *CompletionProc)
}

func (p *YieldProc) wrapKind() wrapKind { return kindYieldProc }
func (p *YieldProc) home() *Core        { return p.core }

// Call invokes the wrapped body and blocks until its CompletionProc is
// invoked, or ctx is cancelled first.
func (p *YieldProc) Call(ctx any, args ...any) (any, error) {
	return p.core.dispatchProc(KindYield, p.name, args, ctx, nil, nil, p.fn)
}

// CompletionProc seals the result of a YieldCall or YieldProc body. It may
// be invoked from any scope exactly once; a second invocation surfaces a
// [MultipleResultsError] to whichever goroutine made it, not to the
// original caller, since that caller has already been woken with the
// first result.
type CompletionProc struct {
	core  *Core
	call  string
	queue *answerQueue
}

func (c *CompletionProc) wrapKind() wrapKind { return kindCompletionProc }
func (c *CompletionProc) home() *Core        { return c.core }

// Complete delivers the call's result. A nil err delivers value as the
// result; a non-nil err discards value and delivers err instead.
func (c *CompletionProc) Complete(value any, err error) error {
	if err != nil {
		return c.queue.pushFinal(answerItem{kind: answerException, call: c.call, err: err})
	}
	return c.queue.pushFinal(answerItem{kind: answerResult, call: c.call, value: value})
}

// ExternalProc is a callable handed to event scope (e.g. stored on an
// Action) that, when invoked, runs its body on external scope — never
// holding the Core's mutex — so an Action can safely call back into
// user-supplied external logic without risking a deadlock against the
// event scope it was spawned from.
type ExternalProc struct {
	core *Core
	fn   func(args []any, kw map[string]any) (any, error)
}

func (p *ExternalProc) wrapKind() wrapKind { return kindExternalProc }
func (p *ExternalProc) home() *Core        { return p.core }

// Call relays the wrapped body to run on external scope rather than
// running it directly on whatever goroutine calls it. If the calling
// goroutine currently holds the Core's event scope, the body must never
// run there — holding core.mu for the duration of arbitrary external
// user code risks deadlocking against that same external code calling
// back into event scope — so Call routes through Core.latest's callback
// loop when one is active (the common case: a non-reentrant yield call
// body invoking an ExternalProc while its answer queue is being
// consumed by its original external caller), or Core.callExternal as a
// fallback when no relay queue is active. Called from outside event
// scope, it just runs fn directly.
func (p *ExternalProc) Call(args []any, kw map[string]any) (any, error) {
	fn := func() (any, error) { return p.fn(args, kw) }
	if !p.core.InEventScope() {
		return fn()
	}
	if queue := p.core.latest; queue != nil {
		return p.core.relayCallback(queue, fn)
	}
	return p.core.callExternal(fn)
}
