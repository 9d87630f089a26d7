package eventbox

import (
	"context"
	"fmt"
	"sync/atomic"
)

// answerKind distinguishes the payload carried by an answerItem.
type answerKind int

const (
	answerResult answerKind = iota
	answerException
	// answerCallback carries a callback request (spec §4.3's callback
	// loop): a function that must run on the external goroutine already
	// blocked waiting on this queue, with its outcome delivered back
	// through respond rather than closing the queue.
	answerCallback
)

// answerItem is a single message travelling from event scope (or an
// Action) back to the external goroutine blocked on a YieldCall or
// YieldProc. Sync calls and procs return their result directly and use
// no answer queue.
type answerItem struct {
	kind  answerKind
	call  string
	value any
	err   error

	// callback and respond are only populated for kind == answerCallback:
	// callback is the request to run, respond is where its outcome (as
	// an answerResult or answerException item) is delivered.
	callback func() (any, error)
	respond  chan answerItem
}

// answerQueue is the one-shot-to-a-final-result blocking handoff between
// event scope (or an Action) and the external goroutine blocked on a
// Yield call, with an additional in-band channel (answerCallback
// items) for relaying callback requests that must run on that same
// external goroutine before the final result arrives.
//
// The teacher's promise type (promise.go) plays the analogous role for a
// reactor-scheduled Promise/A+ chain — settle-once, fan out to
// registered callbacks. This queue is deliberately simpler: there is
// exactly one reader (the blocked caller), so a buffered channel of
// size 1 plus a closed flag is enough; no fan-out, no PromiseState enum.
// Only the final result/exception is one-shot — callback requests may be
// pushed any number of times before that, each one a synchronous
// round trip since the pusher (relayCallback) blocks on respond before
// sending another.
type answerQueue struct {
	ch     chan answerItem
	closed atomic.Bool
}

func newAnswerQueue() *answerQueue {
	return &answerQueue{ch: make(chan answerItem, 1)}
}

// pushFinal delivers the terminal item (a result or an exception), or
// reports a MultipleResultsError if this queue already delivered one.
func (q *answerQueue) pushFinal(item answerItem) error {
	if !q.closed.CompareAndSwap(false, true) {
		return &MultipleResultsError{Call: item.call}
	}
	q.ch <- item
	return nil
}

// pushException is a convenience wrapper for pushFinal with an error
// payload.
func (q *answerQueue) pushException(call string, err error) error {
	return q.pushFinal(answerItem{kind: answerException, call: call, err: err})
}

// pushCallback relays fn as a callback request to whichever goroutine is
// consuming this queue (runAnswerLoop), to be run there rather than on
// the pushing goroutine. It reports an error without sending if the
// queue has already delivered its final item — there is no external
// goroutine left waiting to run it.
func (q *answerQueue) pushCallback(fn func() (any, error), respond chan answerItem) error {
	if q.closed.Load() {
		return fmt.Errorf("eventbox: callback requested after call already returned")
	}
	q.ch <- answerItem{kind: answerCallback, callback: fn, respond: respond}
	return nil
}

// wait blocks until a final item is delivered or ctx is done, whichever
// comes first. A ctx cancellation does not prevent a later push from
// succeeding — the queue itself does not know the caller gave up — so
// callers that abandon a wait should still arrange for the call to be
// aborted (see Action.Abort) to avoid a leaked goroutine on the other
// side. wait does not itself expect answerCallback items; callers that
// may need to relay callbacks use runAnswerLoop instead.
func (q *answerQueue) wait(ctx context.Context) (any, error) {
	select {
	case item := <-q.ch:
		if item.kind == answerException {
			return nil, item.err
		}
		return item.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
