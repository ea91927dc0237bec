package tasklocks

import (
	"context"
)

// acquisition is the resumable core shared by the exported future types.
//
// Lifecycle:
//   - Construction already ran the first grant check (w == nil means the
//     slot was granted immediately, matching an uncontended acquisition).
//   - poll re-checks the grant state and, while pending, stores the
//     caller's waker (the latest waker wins).
//   - cancel abandons the request; a slot that was granted before the
//     cancellation won the race is released again, so an abandoned
//     waiter can never strand the lock.
//
// An acquisition is owned by a single task and is not safe for
// concurrent use; done and cancelled are therefore plain fields.
type acquisition[T any] struct {
	s         *lockState[T]
	w         *waiter
	mode      lockMode
	done      bool
	cancelled bool
}

// poll reports whether the slot is held. While pending it records wake,
// which fires once when the slot is handed over.
func (a *acquisition[T]) poll(wake Waker) bool {
	if a.done {
		panic("tasklocks: poll of completed acquisition")
	}
	if a.cancelled {
		panic("tasklocks: poll of cancelled acquisition")
	}
	if a.w == nil {
		// Granted at construction.
		a.done = true
		return true
	}
	a.s.mu.Lock()
	if a.w.state == waiterGranted {
		a.s.mu.Unlock()
		a.done = true
		return true
	}
	a.w.wake = wake
	a.s.mu.Unlock()
	return false
}

// cancel abandons the acquisition. Idempotent; a no-op after the slot
// was claimed through poll (the guard owns the release from then on).
func (a *acquisition[T]) cancel() {
	if a.done || a.cancelled {
		return
	}
	a.cancelled = true
	if a.w == nil {
		// Granted at construction but never claimed: give it back.
		a.releaseSlot()
		return
	}
	a.s.mu.Lock()
	if a.w.state == waiterPending {
		a.s.q.remove(a.w)
		a.s.mu.Unlock()
		return
	}
	// Ownership was handed over before the cancellation; undo it.
	a.s.mu.Unlock()
	a.releaseSlot()
}

func (a *acquisition[T]) releaseSlot() {
	if a.mode == modeExclusive {
		a.s.releaseExclusive()
	} else {
		a.s.releaseShared()
	}
}

// await drives poll with a channel-backed waker until the slot is held
// or ctx is done. Cancellation abandons the request before returning,
// so a grant that raced with ctx expiry is released rather than leaked.
func (a *acquisition[T]) await(ctx context.Context) error {
	woke := make(chan struct{}, 1)
	wake := func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	}
	for {
		if a.poll(wake) {
			return nil
		}
		select {
		case <-woke:
		case <-ctx.Done():
			a.cancel()
			return ctx.Err()
		}
	}
}
