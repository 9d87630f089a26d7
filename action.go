package eventbox

import (
	"fmt"
	"runtime"
	"sync"
)

// ActionPool hosts the goroutines that run Action bodies. The default,
// returned by newPerActionPool, starts one goroutine per action; a
// [ThreadPool] (threadpool.go) instead runs actions on a fixed-size pool
// of reusable workers, queuing requests when all workers are busy.
type ActionPool interface {
	// spawn runs fn on a goroutine hosted by the pool. fn must not panic
	// without recovering; the pool does not protect against that.
	spawn(fn func())
}

// perActionPool is the default ActionPool: plain one-goroutine-per-action.
type perActionPool struct{}

func newPerActionPool() ActionPool { return perActionPool{} }

func (perActionPool) spawn(fn func()) { go fn() }

// Action is the external handle for work started with [Core.ActionCall].
// It runs on its own goroutine, outside the event scope, and exposes a
// narrow control surface: Raise lets event scope (or another Action)
// interrupt it; Abort requests termination; Join blocks for completion.
//
// An Action holds an ordinary (strong) pointer to its owning Core, not a
// weak one: as long as the Action handle is reachable, so is the Core.
type Action struct {
	name string
	core *Core

	mu       sync.Mutex
	done     chan struct{}
	err      error
	finished bool

	abortCh chan struct{}
	raiseCh chan error

	abortOnce sync.Once
}

// Name returns the name the action was started with.
func (a *Action) Name() string { return a.name }

// Core returns the owning Core.
func (a *Action) Core() *Core { return a.core }

// Raise delivers err to the action body the next time it calls
// [Action.Check]; it does not close [Action.Interrupted]. Raising
// [AbortActionError] directly is rejected: use Abort instead, which is
// the library's own reserved path for that sentinel.
func (a *Action) Raise(err error) error {
	if err == nil {
		return fmt.Errorf("eventbox: Raise requires a non-nil error")
	}
	var abortErr *AbortActionError
	if ok := asAbortActionError(err, &abortErr); ok {
		return &InvalidAccessError{
			Reason: "reserved-abort",
			Detail: "AbortActionError is reserved for Action.Abort",
			Value:  err,
		}
	}
	select {
	case a.raiseCh <- err:
	case <-a.done:
	}
	return nil
}

func asAbortActionError(err error, target **AbortActionError) bool {
	if e, ok := err.(*AbortActionError); ok {
		*target = e
		return true
	}
	return false
}

// Abort requests that the action terminate at its next interruption
// point, delivering [AbortActionError] there.
func (a *Action) Abort() {
	a.abortOnce.Do(func() {
		close(a.abortCh)
	})
}

// Interrupted returns a channel that is closed once Abort has been
// called. Long-running action bodies should select on it (alongside
// their own work) rather than only checking it at the top of a loop.
func (a *Action) Interrupted() <-chan struct{} {
	return a.abortCh
}

// Check returns the first pending Raise error, or the AbortActionError
// if Abort was called, or nil if neither has happened. It is the
// polling counterpart to Interrupted, meant to be called between units
// of work inside the action body.
func (a *Action) Check() error {
	select {
	case <-a.abortCh:
		return &AbortActionError{Action: a.name}
	default:
	}
	select {
	case err := <-a.raiseCh:
		return err
	default:
		return nil
	}
}

// Join blocks until the action body returns, and returns the error it
// finished with: nil whenever the body returned normally (including
// after honoring an Abort), or an error describing the panic if the body
// panicked.
func (a *Action) Join() error {
	<-a.done
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Done returns a channel closed when the action has finished.
func (a *Action) Done() <-chan struct{} { return a.done }

func (a *Action) finish(err error) {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.finished = true
	a.err = err
	a.mu.Unlock()
	close(a.done)
}

// startAction sanitizes args and kw for the action goroutine, adds the
// new Action to the running set, and runs def.fn on the pool. ActionFunc
// (the public registration type in loop.go) receives the Action itself
// and reports completion via a plain return, with panics recovered and
// surfaced through Join the same way Promisify (the teacher's
// goroutine-lifecycle primitive) does.
func (c *Core) startAction(name string, def *actionDef, args []any, kw map[string]any) (*Action, error) {
	sanitizedArgs := make([]any, len(args))
	for i, v := range args {
		if def.sharedParams[i] && v != nil {
			if !c.Share(v) {
				return nil, &InvalidAccessError{
					Reason: "not-shareable",
					Detail: fmt.Sprintf("action %q declares parameter %d shared, but the argument has no stable pointer identity", name, i),
					Value:  v,
				}
			}
		}
		sv, err := c.sanitize(outOfEventScope, name, v)
		if err != nil {
			return nil, err
		}
		sanitizedArgs[i] = sv
	}
	var sanitizedKw map[string]any
	if kw != nil {
		sanitizedKw = make(map[string]any, len(kw))
		for k, v := range kw {
			sv, err := c.sanitize(outOfEventScope, name, v)
			if err != nil {
				return nil, err
			}
			sanitizedKw[k] = sv
		}
	}

	action := &Action{
		name:    name,
		core:    c,
		done:    make(chan struct{}),
		abortCh: make(chan struct{}),
		raiseCh: make(chan error, 1),
	}

	c.runningMu.Lock()
	c.running[action] = struct{}{}
	c.runningMu.Unlock()

	c.maybeHintGC()

	c.pool.spawn(func() {
		gid := getGoroutineID()
		currentActionMu.Lock()
		currentActionByGoroutine[gid] = action
		currentActionMu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				action.finish(fmt.Errorf("eventbox: action %q panicked: %v\n%s", name, r, buf[:n]))
			}
			currentActionMu.Lock()
			delete(currentActionByGoroutine, gid)
			currentActionMu.Unlock()
			c.runningMu.Lock()
			delete(c.running, action)
			c.runningMu.Unlock()
		}()
		def.fn(action, sanitizedArgs, sanitizedKw)
		action.finish(nil)
	})

	return action, nil
}

// maybeHintGC implements the gc_actions option: the first time an action
// is started against a busy ThreadPool while the option is enabled, it
// nudges the garbage collector once, to help reclaim actions that were
// abandoned (GC'd by the caller without ever being Joined or Aborted)
// rather than waiting for the next natural GC cycle. It is a hint, run
// at most once per Core, not a guarantee.
func (c *Core) maybeHintGC() {
	if !c.gcActions {
		return
	}
	tp, ok := c.pool.(*ThreadPool)
	if !ok || tp.Pending() == 0 {
		return
	}
	c.gcOnce.Do(func() { go runtime.GC() })
}

// Action starts the action registered under name and returns its handle.
func (c *Core) Action(name string, args ...any) (*Action, error) {
	return c.ActionKw(name, args, nil)
}

// ActionKw is Action with keyword arguments.
func (c *Core) ActionKw(name string, args []any, kw map[string]any) (*Action, error) {
	if !c.state.CanAcceptWork() {
		return nil, ErrLoopTerminated
	}
	c.regMu.RLock()
	def, ok := c.actions[name]
	c.regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("eventbox: no action registered with name %q", name)
	}
	return c.startAction(name, def, args, kw)
}

// CurrentAction returns the Action hosting the calling goroutine, if any.
// It is meant for use from within an action body that did not thread its
// *Action through explicitly into a deeper helper function.
func CurrentAction() *Action {
	currentActionMu.Lock()
	defer currentActionMu.Unlock()
	return currentActionByGoroutine[getGoroutineID()]
}

var (
	currentActionMu          sync.Mutex
	currentActionByGoroutine = make(map[uint64]*Action)
)
