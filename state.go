package tasklocks

import (
	"errors"
	"sync"
)

var (
	// ErrWouldBlock is returned by non-suspending acquisition attempts
	// when the lock is unavailable in the requested mode.
	ErrWouldBlock = errors.New("tasklocks: would block")

	// ErrNotSoleOwner is returned by Take and Inner when other handles,
	// live guards, or queued waiters still reference the lock.
	ErrNotSoleOwner = errors.New("tasklocks: other handles exist")
)

// lockState is the shared core behind every handle, future, and guard of
// one logical lock.
//
// Occupancy:
//   - writer=false, readers=0: unlocked
//   - writer=true:             exclusively held (one guard live)
//   - readers=n (n>0):         shared-held by n read guards
//
// All fields are mutated under mu, a short non-suspending critical
// section. The payload itself needs no extra locking: the state machine
// guarantees it is reached only through a live guard.
type lockState[T any] struct {
	_       noCopy
	mu      sync.Mutex
	value   T
	writer  bool
	readers int
	q       waitq
	handles int // live handle clones; Take and Inner consult this
}

func newLockState[T any](value T) *lockState[T] {
	return &lockState[T]{value: value, handles: 1}
}

// acquireExclusive is the first drive step of an exclusive acquisition.
// It returns nil when the slot was granted immediately; otherwise the
// request is queued and the returned waiter must be polled.
func (s *lockState[T]) acquireExclusive() *waiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writer && s.readers == 0 {
		// Unlocked implies an empty queue: waiters only accumulate
		// while the lock is held, and release drains before clearing.
		s.writer = true
		return nil
	}
	w := &waiter{mode: modeExclusive}
	s.q.push(w)
	return w
}

// acquireShared is the first drive step of a shared acquisition.
// A reader may join live readers only when no earlier waiter is queued,
// so a queued writer is never overtaken.
func (s *lockState[T]) acquireShared() *waiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writer && s.q.empty() {
		s.readers++
		return nil
	}
	w := &waiter{mode: modeShared}
	s.q.push(w)
	return w
}

// tryExclusive grants an exclusive slot only if the lock is unoccupied.
func (s *lockState[T]) tryExclusive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer || s.readers > 0 {
		return false
	}
	s.writer = true
	return true
}

// tryShared grants a shared slot unless a writer holds the lock.
// A try acquisition never queues, so it may join live readers even while
// a writer waits.
func (s *lockState[T]) tryShared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer {
		return false
	}
	s.readers++
	return true
}

// releaseExclusive gives up the exclusive slot and hands the lock to the
// next waiter(s) in FIFO order.
func (s *lockState[T]) releaseExclusive() {
	s.mu.Lock()
	if !s.writer {
		s.mu.Unlock()
		panic("tasklocks: release of unheld lock")
	}
	s.writer = false
	woken := s.drainLocked()
	s.mu.Unlock()
	wakeAll(woken)
}

// releaseShared gives up one shared slot. The queue is drained only when
// the last reader leaves; an exclusive waiter keeps waiting until then.
func (s *lockState[T]) releaseShared() {
	s.mu.Lock()
	if s.readers == 0 {
		s.mu.Unlock()
		panic("tasklocks: release of unheld lock")
	}
	s.readers--
	var woken []*waiter
	if s.readers == 0 {
		woken = s.drainLocked()
	}
	s.mu.Unlock()
	wakeAll(woken)
}

// drainLocked grants the head of the queue while the lock is unoccupied:
// an exclusive head is granted alone, a contiguous run of shared waiters
// at the head is granted as one batch. Ownership is transferred here;
// the woken futures observe waiterGranted and do not touch occupancy.
//
// Caller must hold mu with writer=false and readers=0.
func (s *lockState[T]) drainLocked() []*waiter {
	head := s.q.head
	if head == nil {
		return nil
	}
	if head.mode == modeExclusive {
		w := s.q.pop()
		w.state = waiterGranted
		s.writer = true
		return []*waiter{w}
	}
	var woken []*waiter
	for s.q.head != nil && s.q.head.mode == modeShared {
		w := s.q.pop()
		w.state = waiterGranted
		s.readers++
		woken = append(woken, w)
	}
	return woken
}

// wakeAll runs the wake callbacks outside the critical section, so a
// waker is free to poll the future synchronously.
func wakeAll(woken []*waiter) {
	for _, w := range woken {
		if w.wake != nil {
			w.wake()
		}
	}
}

// clone registers one more handle.
func (s *lockState[T]) clone() {
	s.mu.Lock()
	s.handles++
	s.mu.Unlock()
}

// drop unregisters a handle.
func (s *lockState[T]) drop() {
	s.mu.Lock()
	s.handles--
	s.mu.Unlock()
}

// soleOwnerLocked reports whether no other handle, guard, or waiter can
// reach the payload.
func (s *lockState[T]) soleOwnerLocked() bool {
	return s.handles == 1 && !s.writer && s.readers == 0 && s.q.empty()
}

// take consumes the sole handle and surrenders the payload.
func (s *lockState[T]) take() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.soleOwnerLocked() {
		var zero T
		return zero, ErrNotSoleOwner
	}
	s.handles = 0
	return s.value, nil
}

// inner returns the payload directly, bypassing the suspend protocol.
// Only legal for the sole handle of an unoccupied lock.
func (s *lockState[T]) inner() (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.soleOwnerLocked() {
		return nil, ErrNotSoleOwner
	}
	return &s.value, nil
}

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
