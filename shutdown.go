package eventbox

import "context"

// Shutdown marks the Core as terminating, aborts every running Action,
// and blocks until they have all finished or ctx expires. Calls and
// actions are still accepted while those actions finish (an action
// started then is neither aborted nor waited for); once shutdown
// completes, they are refused with ErrLoopTerminated.
//
// This mirrors the teacher's Shutdown/shutdownImpl split: a sync.Once
// guards the one-time transition, and a done channel lets any number of
// concurrent Shutdown callers (and Join-style waiters) block on the same
// completion signal instead of racing a second shutdown attempt.
func (c *Core) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.state.Store(stateTerminating)

		c.runningMu.Lock()
		actions := make([]*Action, 0, len(c.running))
		for a := range c.running {
			actions = append(actions, a)
		}
		c.runningMu.Unlock()

		for _, a := range actions {
			a.Abort()
		}

		go func() {
			for _, a := range actions {
				<-a.Done()
			}
			if tp, ok := c.pool.(*ThreadPool); ok {
				tp.Close()
			}
			sharedRegistry.Clear(c)
			c.state.Store(stateTerminated)
			close(c.done)
		}()
	})

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownAsync requests shutdown without blocking for it to complete,
// invoking onDone (if non-nil) from the finishing goroutine once every
// action has joined. This is the event-scope-friendly counterpart to
// Shutdown: it never blocks the caller, so it is safe to call from
// within a call body.
func (c *Core) ShutdownAsync(onDone func()) {
	go func() {
		_ = c.Shutdown(context.Background())
		if onDone != nil {
			onDone()
		}
	}()
}

// Done returns a channel closed once the Core has fully shut down.
func (c *Core) Done() <-chan struct{} {
	return c.done
}
