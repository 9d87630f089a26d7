package eventbox

import "fmt"

// ctxJob is one request queued on a CallContext's worker goroutine.
type ctxJob struct {
	target *ExternalObject
	method string
	args   []any
	result chan ctxResult
}

type ctxResult struct {
	value any
	err   error
}

// CallContext drives a series of external calls — ExternalObject method
// invocations — from one dedicated worker goroutine, honoring the owning
// Action's Abort/Interrupted lifecycle for each one. This realizes
// "driving a series of external calls on one worker thread": every Send
// issued through the same CallContext serializes onto that one
// goroutine, rather than each call getting its own, the way the gem's
// ExternalObject callback plumbing is one worker thread per Action, not
// one per call.
type CallContext struct {
	core   *Core
	action *Action
	jobs   chan ctxJob
}

// NewCallContext builds a CallContext bound to action's lifecycle and
// starts its worker goroutine; the worker exits once action finishes.
func NewCallContext(core *Core, action *Action) *CallContext {
	cc := &CallContext{core: core, action: action, jobs: make(chan ctxJob)}
	go cc.run()
	return cc
}

func (cc *CallContext) run() {
	for {
		select {
		case job := <-cc.jobs:
			value, err := job.target.invoke(job.method, job.args)
			job.result <- ctxResult{value: value, err: err}
		case <-cc.action.Done():
			return
		}
	}
}

// Send invokes method on target's external value, on this CallContext's
// single worker goroutine, blocking the caller until it completes or the
// owning Action is interrupted first.
func (cc *CallContext) Send(target *ExternalObject, method string, args ...any) (any, error) {
	job := ctxJob{target: target, method: method, args: args, result: make(chan ctxResult, 1)}

	select {
	case cc.jobs <- job:
	case <-cc.action.Interrupted():
		return nil, &AbortActionError{Action: cc.action.Name()}
	case <-cc.action.Done():
		return nil, fmt.Errorf("eventbox: call context's action %q has already finished", cc.action.Name())
	}

	select {
	case r := <-job.result:
		return r.value, r.err
	case <-cc.action.Interrupted():
		return nil, &AbortActionError{Action: cc.action.Name()}
	}
}
