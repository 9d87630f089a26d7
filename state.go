package eventbox

import "sync/atomic"

// loopState is the lifecycle of a Core.
//
// State Machine:
//
//	stateAwake (0) → stateRunning (1)       [first dispatched call]
//	stateRunning (1) → stateTerminating (2) [Shutdown initiated]
//	stateTerminating (2) → stateTerminated (3) [all actions joined]
//
// Unlike the teacher's reactor Loop, there is no Sleeping state: a Core
// never blocks waiting for work, because there is no loop goroutine —
// every call runs on the caller's own goroutine once it holds the mutex.
type loopState uint32

const (
	// stateAwake indicates the Core has been constructed but has not yet
	// serviced a call.
	stateAwake loopState = iota
	// stateRunning indicates the Core is accepting and servicing calls.
	stateRunning
	// stateTerminating indicates Shutdown has been requested; outstanding
	// actions are being drained but the mutex may still be taken for
	// in-flight work.
	stateTerminating
	// stateTerminated indicates the Core is fully shut down; no further
	// calls will be dispatched.
	stateTerminated
)

func (s loopState) String() string {
	switch s {
	case stateAwake:
		return "Awake"
	case stateRunning:
		return "Running"
	case stateTerminating:
		return "Terminating"
	case stateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// atomicState is a lock-free state holder, used for the fast "can this
// call still be accepted" checks that must not themselves require the
// event-scope mutex.
type atomicState struct {
	v atomic.Uint32
}

func newAtomicState() *atomicState {
	s := &atomicState{}
	s.v.Store(uint32(stateAwake))
	return s
}

func (s *atomicState) Load() loopState {
	return loopState(s.v.Load())
}

func (s *atomicState) Store(state loopState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts an atomic CAS from "from" to "to".
func (s *atomicState) TryTransition(from, to loopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// CanAcceptWork reports whether the Core will still dispatch a call.
func (s *atomicState) CanAcceptWork() bool {
	switch s.Load() {
	case stateAwake, stateRunning, stateTerminating:
		return true
	default:
		return false
	}
}
