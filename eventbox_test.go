package eventbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCall_SharedCounterUnderConcurrentLoad(t *testing.T) {
	core := New()
	var count int
	core.SyncCall("Incr", func(args []any, kw map[string]any) (any, error) {
		count++
		return count, nil
	})

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := core.Call(context.Background(), "Incr", nil, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	result, err := core.Call(context.Background(), "Incr", nil, nil)
	require.NoError(t, err)
	require.Equal(t, n+1, result)
}

func TestAsyncCall_RunsBody(t *testing.T) {
	core := New()
	started := make(chan struct{})
	release := make(chan struct{})
	core.AsyncCall("Block", func(args []any, kw map[string]any) {
		close(started)
		<-release
	})

	done := make(chan struct{})
	go func() {
		_, err := core.Call(context.Background(), "Block", nil, nil)
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("async body never started")
	}
	close(release)
	<-done
}

func TestYieldCall_ExternalCompletion(t *testing.T) {
	core := New()
	var pending *CompletionProc
	var mu sync.Mutex

	core.YieldCall("Fetch", func(args []any, kw map[string]any, complete *CompletionProc) {
		mu.Lock()
		pending = complete
		mu.Unlock()
	})

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := core.Call(context.Background(), "Fetch", nil, nil)
		resultCh <- v
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pending != nil
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.NoError(t, pending.Complete("done", nil))
	mu.Unlock()

	require.Equal(t, "done", <-resultCh)
	require.NoError(t, <-errCh)
}

func TestYieldCall_MultipleCompletionsIsError(t *testing.T) {
	core := New()
	var pending *CompletionProc
	core.YieldCall("Once", func(args []any, kw map[string]any, complete *CompletionProc) {
		pending = complete
		require.NoError(t, pending.Complete(1, nil))
	})

	result, err := core.Call(context.Background(), "Once", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result)

	var multi *MultipleResultsError
	require.ErrorAs(t, pending.Complete(2, nil), &multi)
}

func TestActionCall_InterruptedMidSleep(t *testing.T) {
	core := New()
	core.ActionCall("Sleeper", func(a *Action, args []any, kw map[string]any) {
		select {
		case <-a.Interrupted():
		case <-time.After(10 * time.Second):
		}
	})

	action, err := core.Action("Sleeper")
	require.NoError(t, err)
	action.Abort()

	require.Eventually(t, func() bool {
		select {
		case <-action.Done():
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestCall_UnknownNameReturnsError(t *testing.T) {
	core := New()
	_, err := core.Call(context.Background(), "Missing", nil, nil)
	require.Error(t, err)
}

func TestShutdown_AbortsRunningActions(t *testing.T) {
	core := New()
	core.ActionCall("Wait", func(a *Action, args []any, kw map[string]any) {
		<-a.Interrupted()
	})
	_, err := core.Action("Wait")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, core.Shutdown(ctx))

	_, err = core.Action("Wait")
	require.ErrorIs(t, err, ErrLoopTerminated)
}

func TestSanitizer_SharedObjectCrossesByReference(t *testing.T) {
	core := New()
	shared := &struct{ N int }{N: 1}
	require.True(t, core.Share(shared))

	var seen any
	core.SyncCall("Observe", func(args []any, kw map[string]any) (any, error) {
		seen = args[0]
		return args[0], nil
	})

	result, err := core.Call(context.Background(), "Observe", []any{shared}, nil)
	require.NoError(t, err)
	require.Same(t, shared, seen)
	require.Same(t, shared, result)
}

func TestSanitizer_PlainStructIsOpaqueAcrossBoundary(t *testing.T) {
	core := New()
	// The unexported field rules out both the gob deep copy and struct
	// dissection, so the pointer can only cross as an opaque wrapper.
	type inner struct{ n int }
	core.SyncCall("Echo", func(args []any, kw map[string]any) (any, error) {
		return &inner{n: 7}, nil
	})

	result, err := core.Call(context.Background(), "Echo", nil, nil)
	require.NoError(t, err)

	wrapped, ok := result.(*WrappedObject)
	require.True(t, ok, "expected a WrappedObject, got %T", result)

	var live any
	core.SyncCall("Unwrap", func(args []any, kw map[string]any) (any, error) {
		v, ok := wrapped.Unwrap(core)
		require.True(t, ok)
		live = v
		return nil, nil
	})
	_, err = core.Call(context.Background(), "Unwrap", nil, nil)
	require.NoError(t, err)
	require.Equal(t, &inner{n: 7}, live)
}

func TestSanitizer_ForeignTagIsRejected(t *testing.T) {
	coreA := New()
	coreB := New()
	shared := &struct{ N int }{N: 1}
	require.True(t, coreA.Share(shared))

	coreB.SyncCall("Observe", func(args []any, kw map[string]any) (any, error) {
		return nil, nil
	})
	_, err := coreB.Call(context.Background(), "Observe", []any{shared}, nil)
	require.Error(t, err)
	var invalid *InvalidAccessError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "foreign-tag", invalid.Reason)
}

func TestThreadPool_RunsActionsFIFO(t *testing.T) {
	pool := NewThreadPool(1)
	defer pool.Close()
	core := New(WithThreadPool(pool))

	var order []int
	var mu sync.Mutex
	core.ActionCall("Work", func(a *Action, args []any, kw map[string]any) {
		mu.Lock()
		order = append(order, args[0].(int))
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		a, err := core.Action("Work", i)
		require.NoError(t, err)
		require.NoError(t, a.Join())
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestAction_RaiseRejectsReservedAbortSentinel(t *testing.T) {
	core := New()
	core.ActionCall("Noop", func(a *Action, args []any, kw map[string]any) {
		<-a.Interrupted()
	})
	action, err := core.Action("Noop")
	require.NoError(t, err)
	defer action.Abort()

	err = action.Raise(&AbortActionError{})
	var invalid *InvalidAccessError
	require.ErrorAs(t, err, &invalid)
}

func TestGuardTime_InvokedWithElapsedAndName(t *testing.T) {
	var gotName string
	var gotElapsed time.Duration
	done := make(chan struct{})

	core := New(WithGuardTime(GuardTimeFunc(func(elapsed time.Duration, name string) {
		gotName = name
		gotElapsed = elapsed
		close(done)
	})))
	core.SyncCall("Slow", func(args []any, kw map[string]any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	})

	_, err := core.Call(context.Background(), "Slow", nil, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("guard time observer never invoked")
	}
	require.Equal(t, "Slow", gotName)
	require.GreaterOrEqual(t, gotElapsed, 5*time.Millisecond)
}

func TestWithGuardTime_RejectsBadType(t *testing.T) {
	require.Panics(t, func() {
		New(WithGuardTime("not-a-duration"))
	})
}

func TestWrappedObject_UnwrapFailsOutsideEventScope(t *testing.T) {
	core := New()
	// Unexported field: not deep-copyable or dissectable, so it is wrapped.
	type inner struct{ n int }
	var wrapped *WrappedObject
	core.SyncCall("Echo", func(args []any, kw map[string]any) (any, error) {
		return &inner{n: 1}, nil
	})

	result, err := core.Call(context.Background(), "Echo", nil, nil)
	require.NoError(t, err)
	wrapped = result.(*WrappedObject)

	_, ok := wrapped.Unwrap(core)
	require.False(t, ok, "Unwrap must fail when the caller isn't holding the owning Core's event scope")
}

// TestExternalProc_CallbackRelaysToExternalGoroutine exercises the
// callback loop: an ExternalProc invoked from inside a YieldCall body
// (event scope) must run on the goroutine already blocked consuming the
// answer queue — the original external caller of the yield call — never
// on the event-scope goroutine itself.
func TestExternalProc_CallbackRelaysToExternalGoroutine(t *testing.T) {
	core := New()

	var extProc *ExternalProc
	var callbackGoroutine uint64
	var callbackInEventScope bool
	rawCallback := func(n int) (string, error) {
		callbackGoroutine = getGoroutineID()
		callbackInEventScope = core.InEventScope()
		return "captured", nil
	}

	core.SyncCall("Register", func(args []any, kw map[string]any) (any, error) {
		extProc = args[0].(*ExternalProc)
		return nil, nil
	})
	_, err := core.Call(context.Background(), "Register", []any{rawCallback}, nil)
	require.NoError(t, err)

	core.YieldCall("Notify", func(args []any, kw map[string]any, complete *CompletionProc) {
		_, callErr := extProc.Call([]any{1}, nil)
		require.NoError(t, callErr)
		require.NoError(t, complete.Complete("done", nil))
	})

	var callerGoroutine uint64
	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		callerGoroutine = getGoroutineID()
		v, cErr := core.Call(context.Background(), "Notify", nil, nil)
		resultCh <- v
		errCh <- cErr
	}()

	require.Equal(t, "done", <-resultCh)
	require.NoError(t, <-errCh)

	require.False(t, callbackInEventScope, "callback must not observe itself holding event scope")
	require.NotZero(t, callbackGoroutine)
	require.Equal(t, callerGoroutine, callbackGoroutine, "callback should run on the external goroutine already blocked on the yield call")
}

var errBoom = errors.New("boom")

func TestSyncCall_PropagatesBodyError(t *testing.T) {
	core := New()
	core.SyncCall("Fail", func(args []any, kw map[string]any) (any, error) {
		return nil, errBoom
	})
	_, err := core.Call(context.Background(), "Fail", nil, nil)
	require.ErrorIs(t, err, errBoom)
}
