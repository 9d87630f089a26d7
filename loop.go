package eventbox

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// CallKind is the declared dispatch kind of a registered call.
type CallKind int

const (
	// KindAsync runs the body on event scope, on the caller's goroutine,
	// and returns no result; the call returns once the body has run.
	KindAsync CallKind = iota
	// KindSync blocks the caller until the body returns, then sanitizes
	// the result outward.
	KindSync
	// KindYield passes the body a CompletionProc as its last argument; the
	// caller blocks until that handle is invoked exactly once.
	KindYield
)

func (k CallKind) String() string {
	switch k {
	case KindAsync:
		return "Async"
	case KindSync:
		return "Sync"
	case KindYield:
		return "Yield"
	default:
		return "Unknown"
	}
}

// AsyncCallFunc is the body of a call registered with [Core.AsyncCall].
type AsyncCallFunc func(args []any, kw map[string]any)

// SyncCallFunc is the body of a call registered with [Core.SyncCall].
type SyncCallFunc func(args []any, kw map[string]any) (any, error)

// YieldCallFunc is the body of a call registered with [Core.YieldCall].
// The body must invoke complete.Complete exactly once, either
// synchronously or later from an Action.
type YieldCallFunc func(args []any, kw map[string]any, complete *CompletionProc)

// ActionFunc is the body of an Action, started with [Core.ActionCall]. It
// runs on its own goroutine, outside the event scope, and receives the
// [Action] handle that represents it.
type ActionFunc func(a *Action, args []any, kw map[string]any)

// callDef is the registered definition of one named call.
type callDef struct {
	kind         CallKind
	async        AsyncCallFunc
	sync         SyncCallFunc
	yield        YieldCallFunc
	sharedParams map[int]bool
}

// buildSharedParams validates and indexes the declaration-time
// argument-wrapping plan (spec §4.2's `€` sigil convention): Go has no
// named-parameter syntax to prefix a sigil onto, so the same plan is
// realized as an explicit set of positional argument indices, supplied
// at registration time and validated eagerly — the Go idiom for a
// programmer error caught at wiring time rather than deep inside a call.
// A position in this set is handed to the registry's Share before the
// Sanitizer ever looks at it, so the body always receives it wrapped by
// reference, regardless of whether the value would otherwise have been
// classified as copyable.
func buildSharedParams(name string, positions []int) map[int]bool {
	if len(positions) == 0 {
		return nil
	}
	out := make(map[int]bool, len(positions))
	for _, p := range positions {
		if p < 0 {
			panic(fmt.Sprintf("eventbox: call %q declares a negative shared-parameter position %d", name, p))
		}
		if out[p] {
			panic(fmt.Sprintf("eventbox: call %q declares shared-parameter position %d more than once", name, p))
		}
		out[p] = true
	}
	return out
}

// actionDef is the registered definition of one named action.
type actionDef struct {
	fn           ActionFunc
	sharedParams map[int]bool
}

// Core confines mutable state behind a single mutex: holding core.mu is,
// by definition, being "in the event scope" of this Core. There is no
// dedicated loop goroutine — unlike the teacher's Loop, which runs every
// task on one long-lived reactor goroutine — every dispatched call runs
// the registered body directly on the caller's own goroutine, for as
// long as it holds the mutex. This is the one place this package departs
// from the teacher's architecture rather than adapting it: see SPEC_FULL
// §5.4 for the rationale (the teacher's model serializes work by routing
// it through one goroutine; this model serializes work by routing it
// through one mutex, so that a call invoked from many different external
// goroutines never needs a channel hop to reach the event scope).
type Core struct {
	mu sync.Mutex

	state  *atomicState
	logger Logger

	guardTime GuardTimeFunc
	pool      ActionPool
	gcActions bool

	regMu   sync.RWMutex
	calls   map[string]*callDef
	actions map[string]*actionDef

	eventGoroutine atomic.Uint64 // goroutine ID currently holding mu, 0 if none

	// latest / latestName are the Event Loop's "latest answer queue" and
	// "latest call name" (spec §3): set only while an external call is
	// being serviced, restored via explicit save/restore rather than a
	// global or thread-local, and mu-protected by construction — they are
	// only ever touched by whichever goroutine currently holds mu. A
	// callback request raised from inside that call (ExternalProc.Call) is
	// routed through this queue so it executes on the external goroutine
	// already blocked waiting for the answer, never on the event-scope
	// goroutine itself. ExternalObject.Send does not use this queue.
	latest     *answerQueue
	latestName string

	runningMu sync.Mutex
	running   map[*Action]struct{}

	gcOnce sync.Once

	shutdownOnce sync.Once
	done         chan struct{}
}

// New constructs a Core ready to have calls and actions registered on it.
func New(opts ...Option) *Core {
	cfg := resolveOptions(opts)
	return &Core{
		state:     newAtomicState(),
		logger:    cfg.logger,
		guardTime: cfg.guardTime,
		pool:      cfg.pool,
		gcActions: cfg.gcActions,
		calls:     make(map[string]*callDef),
		actions:   make(map[string]*actionDef),
		running:   make(map[*Action]struct{}),
		done:      make(chan struct{}),
	}
}

// AsyncCall registers a fire-and-forget call. sharedParams names the
// zero-based positional argument indices that must always cross into
// event scope shared-object wrapped (the €-sigil convention, see
// buildSharedParams), regardless of how the Sanitizer would otherwise
// classify the value at each individual call site.
func (c *Core) AsyncCall(name string, fn AsyncCallFunc, sharedParams ...int) {
	c.register(name, &callDef{kind: KindAsync, async: fn, sharedParams: buildSharedParams(name, sharedParams)})
}

// SyncCall registers a call whose caller blocks for a result.
func (c *Core) SyncCall(name string, fn SyncCallFunc, sharedParams ...int) {
	c.register(name, &callDef{kind: KindSync, sync: fn, sharedParams: buildSharedParams(name, sharedParams)})
}

// YieldCall registers a call whose caller blocks until the body's
// CompletionProc is invoked.
func (c *Core) YieldCall(name string, fn YieldCallFunc, sharedParams ...int) {
	c.register(name, &callDef{kind: KindYield, yield: fn, sharedParams: buildSharedParams(name, sharedParams)})
}

// ActionCall registers an action: long-running or blocking work hosted on
// a dedicated goroutine outside the event scope.
func (c *Core) ActionCall(name string, fn ActionFunc, sharedParams ...int) {
	c.regMu.Lock()
	c.actions[name] = &actionDef{fn: fn, sharedParams: buildSharedParams(name, sharedParams)}
	c.regMu.Unlock()
}

func (c *Core) register(name string, def *callDef) {
	c.regMu.Lock()
	c.calls[name] = def
	c.regMu.Unlock()
}

// Call dispatches a registered call by name. args and kw are sanitized
// inward before the body runs, and the body's result is sanitized
// outward before Call returns.
func (c *Core) Call(ctx context.Context, name string, args []any, kw map[string]any) (any, error) {
	if !c.state.CanAcceptWork() {
		return nil, ErrLoopTerminated
	}

	c.regMu.RLock()
	def, ok := c.calls[name]
	c.regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("eventbox: no call registered with name %q", name)
	}

	sanitizedArgs, sanitizedKw, err := c.sanitizeInbound(name, args, kw, def.sharedParams)
	if err != nil {
		return nil, err
	}

	switch def.kind {
	case KindAsync:
		c.withEventScope(name, func() {
			def.async(sanitizedArgs, sanitizedKw)
		})
		return nil, nil

	case KindSync:
		var result any
		var callErr error
		c.withEventScope(name, func() {
			result, callErr = def.sync(sanitizedArgs, sanitizedKw)
		})
		if callErr != nil {
			return nil, callErr
		}
		return c.sanitize(outOfEventScope, name, result)

	case KindYield:
		queue := newAnswerQueue()
		complete := &CompletionProc{core: c, call: name, queue: queue}
		result, err := c.dispatchYieldBody(ctx, name, queue, func() {
			def.yield(sanitizedArgs, sanitizedKw, complete)
		})
		if err != nil {
			return nil, err
		}
		return c.sanitize(outOfEventScope, name, result)

	default:
		return nil, fmt.Errorf("eventbox: call %q has unknown kind %v", name, def.kind)
	}
}

// sanitizeInbound sanitizes args/kw on their way into event scope,
// forcing every position named in sharedParams through Core.Share first
// so it crosses by reference even if the Sanitizer would otherwise have
// classified it as copyable.
func (c *Core) sanitizeInbound(name string, args []any, kw map[string]any, sharedParams map[int]bool) ([]any, map[string]any, error) {
	sanitizedArgs := make([]any, len(args))
	for i, a := range args {
		if sharedParams[i] && a != nil {
			if !c.Share(a) {
				return nil, nil, &InvalidAccessError{
					Reason: "not-shareable",
					Detail: fmt.Sprintf("call %q declares parameter %d shared, but the argument has no stable pointer identity", name, i),
					Value:  a,
				}
			}
		}
		v, err := c.sanitize(intoEventScope, name, a)
		if err != nil {
			return nil, nil, err
		}
		sanitizedArgs[i] = v
	}
	var sanitizedKw map[string]any
	if kw != nil {
		sanitizedKw = make(map[string]any, len(kw))
		for k, val := range kw {
			v, err := c.sanitize(intoEventScope, name, val)
			if err != nil {
				return nil, nil, err
			}
			sanitizedKw[k] = v
		}
	}
	return sanitizedArgs, sanitizedKw, nil
}

// dispatchYieldBody runs a yield body and blocks for its completion.
//
// When invoked from outside this Core's event scope (the common case),
// body runs on a freshly spawned goroutine while the calling goroutine
// becomes the queue's consumer (runAnswerLoop) — genuinely a different,
// already-blocked goroutine, so a callback request raised from inside
// body (ExternalProc.Call) executes outside the mutex on the real
// external caller, per spec §4.3's callback loop.
//
// When invoked reentrantly (body itself was reached from code already
// holding this Core's mutex — e.g. a sync call recursively issuing a
// yield call on the same Core), spawning a second goroutine to acquire
// the same mutex would deadlock against the goroutine that is about to
// block waiting on it. The reentrant path instead runs body directly
// on the current goroutine, the way every other reentrant call does;
// Core.latest is left untouched, so a callback request raised from
// inside is relayed through whichever queue an outer, non-reentrant
// yield call already installed, or, if there is none, falls back to
// Core.callExternal's release-mutex-and-run strategy.
func (c *Core) dispatchYieldBody(ctx context.Context, name string, queue *answerQueue, body func()) (any, error) {
	if c.InEventScope() {
		c.withEventScope(name, body)
		return queue.wait(ctx)
	}

	go func() {
		c.withEventScope(name, func() {
			prevQueue, prevName := c.latest, c.latestName
			c.latest, c.latestName = queue, name
			defer func() { c.latest, c.latestName = prevQueue, prevName }()
			body()
		})
	}()
	return c.runAnswerLoop(ctx, queue)
}

// runAnswerLoop is the external goroutine's side of the callback loop
// (spec §4.3): it is the single consumer of queue, draining callback
// requests (running each one on itself, never on the event-scope
// goroutine) until a final result or exception closes the queue.
func (c *Core) runAnswerLoop(ctx context.Context, queue *answerQueue) (any, error) {
	for {
		select {
		case item := <-queue.ch:
			switch item.kind {
			case answerCallback:
				value, err := item.callback()
				resp := answerItem{kind: answerResult, value: value}
				if err != nil {
					resp = answerItem{kind: answerException, err: err}
				}
				item.respond <- resp
			case answerException:
				return nil, item.err
			default: // answerResult
				return item.value, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// callExternal runs fn with this Core's mutex released, if the calling
// goroutine currently holds it, and reacquires it before returning. In
// that case fn executes on a freshly spawned goroutine, so it is never
// mistaken for code still running inside the event scope: InEventScope
// reports false for the duration, and the goroutine executing fn is
// never the one that dispatched the enclosing call body. A caller that
// does not hold the mutex simply runs fn directly. This is the
// fallback used whenever a callback request has nowhere else to relay
// to (no active, non-reentrant yield call is in progress on this
// goroutine's stack) — see dispatchYieldBody for the primary path.
func (c *Core) callExternal(fn func() (any, error)) (any, error) {
	if !c.InEventScope() {
		return fn()
	}

	gid := c.eventGoroutine.Load()
	c.eventGoroutine.Store(0)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.eventGoroutine.Store(gid)
	}()

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	r := <-done
	return r.value, r.err
}

// relayCallback pushes a callback request onto queue and blocks,
// mutex released, until its result comes back from runAnswerLoop —
// the external goroutine already waiting on queue. Used when queue is
// a genuine, still-open relay (Core.latest) rather than falling back to
// callExternal's spawn-and-wait.
func (c *Core) relayCallback(queue *answerQueue, fn func() (any, error)) (any, error) {
	respond := make(chan answerItem, 1)
	if err := queue.pushCallback(fn, respond); err != nil {
		return c.callExternal(fn)
	}

	gid := c.eventGoroutine.Load()
	c.eventGoroutine.Store(0)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.eventGoroutine.Store(gid)
	}()

	item := <-respond
	if item.kind == answerException {
		return nil, item.err
	}
	return item.value, nil
}

// withEventScope runs fn while holding the Core's mutex, handling the
// nested-call case (fn itself calls back into this Core from a proc it
// holds) by recognising the current goroutine already owns the mutex and
// running fn directly rather than deadlocking on it. Guard-time, if
// configured, measures every top-level (non-nested) invocation.
func (c *Core) withEventScope(name string, fn func()) {
	gid := getGoroutineID()
	if c.eventGoroutine.Load() == gid {
		// Reentrant: already in this Core's event scope on this goroutine.
		fn()
		return
	}

	c.mu.Lock()
	c.eventGoroutine.Store(gid)
	c.state.TryTransition(stateAwake, stateRunning)

	start := time.Now()
	func() {
		defer func() {
			c.eventGoroutine.Store(0)
			c.mu.Unlock()
		}()
		fn()
	}()

	if c.guardTime != nil {
		c.guardTime(time.Since(start), name)
	}
}

// getGoroutineID parses the current goroutine's numeric ID out of a
// runtime.Stack trace. This is the same trick the teacher's loop.go uses
// for isLoopThread(); Go deliberately exposes no public goroutine-ID API,
// and the pack's own goroutineid module has no usable implementation to
// import, so this is hand-rolled rather than a stdlib gap.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// dispatchProc is the common path used by AsyncProc.Call, SyncProc.Call,
// and YieldProc.Call — handed-out procs re-enter event scope exactly the
// way a named Call does, without going through the by-name registry
// lookup.
func (c *Core) dispatchProc(
	kind CallKind,
	name string,
	args []any,
	ctx any,
	asyncFn func(args []any, kw map[string]any),
	syncFn func(args []any, kw map[string]any) (any, error),
	yieldFn func(args []any, kw map[string]any, complete *CompletionProc),
) (any, error) {
	if !c.state.CanAcceptWork() {
		if kind == KindAsync {
			return nil, nil
		}
		return nil, ErrLoopTerminated
	}

	sanitizedArgs := make([]any, len(args))
	for i, a := range args {
		v, err := c.sanitize(intoEventScope, name, a)
		if err != nil {
			return nil, err
		}
		sanitizedArgs[i] = v
	}

	switch kind {
	case KindAsync:
		c.withEventScope(name, func() { asyncFn(sanitizedArgs, nil) })
		return nil, nil
	case KindSync:
		var result any
		var callErr error
		c.withEventScope(name, func() { result, callErr = syncFn(sanitizedArgs, nil) })
		if callErr != nil {
			return nil, callErr
		}
		return c.sanitize(outOfEventScope, name, result)
	case KindYield:
		queue := newAnswerQueue()
		complete := &CompletionProc{core: c, call: name, queue: queue}
		callCtx, ok := ctx.(context.Context)
		if !ok || callCtx == nil {
			callCtx = context.Background()
		}
		result, err := c.dispatchYieldBody(callCtx, name, queue, func() {
			yieldFn(sanitizedArgs, nil, complete)
		})
		if err != nil {
			return nil, err
		}
		return c.sanitize(outOfEventScope, name, result)
	default:
		return nil, fmt.Errorf("eventbox: unknown proc kind %v", kind)
	}
}

// InEventScope reports whether the calling goroutine currently holds
// this Core's event scope. Useful for assertions in code paths reachable
// both from inside a call body and from an Action.
func (c *Core) InEventScope() bool {
	return c.eventGoroutine.Load() == getGoroutineID() && c.eventGoroutine.Load() != 0
}
