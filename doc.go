// Package eventbox builds thread-safe objects out of single-threaded event
// scopes.
//
// A [Core] confines all mutable state and event-handling code behind a
// single mutex: holding that mutex is, by definition, "being in the event
// scope". Everything outside of it — any other goroutine, including worker
// goroutines started by the object itself — is external scope. The only
// way for external and event scope to exchange values is through the
// Sanitizer, which runs on every call argument, return value, and
// callback payload, guaranteeing that no reference to mutable event-scope
// state becomes reachable from external scope unwrapped, and vice versa.
//
// # Call kinds
//
// Every operation a [Core] exposes is declared as one of three kinds:
//
//   - [Core.AsyncCall]: runs the body on the event scope, on the caller's
//     goroutine, and returns without a result once the body has run.
//   - [Core.SyncCall]: blocks the caller until the body returns, then
//     sanitizes the result outward.
//   - [Core.YieldCall]: the body receives a [CompletionProc] as its last
//     argument; the caller blocks until that handle is invoked, or raised,
//     exactly once.
//
// # Actions
//
// Long-running or blocking work does not belong in the event scope — it
// would stall every other caller. [Core.ActionCall] registers that work,
// and [Core.Action] starts it on a dedicated goroutine (hosted by a
// [ThreadPool] or the default one-goroutine-per-action policy) and
// returns an [Action] handle
// supporting interruption, abort, and join, without ever giving the
// action body a live reference to event-scope state.
//
// # Thread safety
//
// The event scope is strictly single-threaded and cooperative: there is
// no re-entrancy except direct recursion on the same goroutine stack.
// [Core.SyncCall] and [Core.YieldCall] bodies must not block — the
// guard-time observer (see [WithGuardTime]) diagnoses violations of that
// rule. Actions run in parallel, on their own goroutines, and may block
// freely.
//
// # Usage
//
//	core := eventbox.New(eventbox.WithGuardTime(50 * time.Millisecond))
//	var count int
//	core.SyncCall("Incr", func(args []any, kw map[string]any) (any, error) {
//	    count++
//	    return count, nil
//	})
//	result, err := core.Call(context.Background(), "Incr", nil, nil)
package eventbox
