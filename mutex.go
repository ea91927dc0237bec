// Package tasklocks provides task-suspending locks for cooperative
// schedulers: a contended acquisition suspends only the logical task
// that asked for the lock, never a worker thread.
package tasklocks

import (
	"context"
)

// Mutex is a task-suspending mutual exclusion lock protecting a value
// of type T.
//
// Features:
//   - Poll-driven acquisition: Lock returns a future; a scheduler
//     drives it with Poll and a Waker, or a goroutine awaits it.
//   - FIFO hand-off: release grants the lock directly to the waiter at
//     the head of the queue, so no newcomer can barge past it.
//   - Cloneable handle over shared state: Clone is cheap and all clones
//     refer to the same lock and payload.
//
// Usage:
//
//	mtx := tasklocks.NewMutex(0)
//	g, err := mtx.Acquire(ctx)
//	if err != nil {
//		return err
//	}
//	*g.Value()++
//	g.Release()
type Mutex[T any] struct {
	_ noCopy
	s *lockState[T]
}

// NewMutex creates an unlocked Mutex owning value.
func NewMutex[T any](value T) *Mutex[T] {
	return &Mutex[T]{s: newLockState(value)}
}

func (m *Mutex[T]) state() *lockState[T] {
	if m.s == nil {
		panic("tasklocks: use of released Mutex handle")
	}
	return m.s
}

// Clone returns a new handle sharing the same lock and payload.
func (m *Mutex[T]) Clone() *Mutex[T] {
	s := m.state()
	s.clone()
	return &Mutex[T]{s: s}
}

// Close releases this handle. It does not affect the lock itself; it
// only lets Take and Inner on a surviving handle observe sole
// ownership. The handle must not be used afterwards.
func (m *Mutex[T]) Close() {
	s := m.state()
	m.s = nil
	s.drop()
}

// Lock begins an exclusive acquisition. If the mutex is free the
// returned future is already holding it; otherwise the request joins
// the tail of the waiter queue.
func (m *Mutex[T]) Lock() *MutexFuture[T] {
	s := m.state()
	return &MutexFuture[T]{acquisition[T]{s: s, w: s.acquireExclusive(), mode: modeExclusive}}
}

// TryLock acquires the mutex only if it is free right now.
// It returns ErrWouldBlock otherwise and never queues.
func (m *Mutex[T]) TryLock() (*MutexGuard[T], error) {
	s := m.state()
	if !s.tryExclusive() {
		return nil, ErrWouldBlock
	}
	return &MutexGuard[T]{s: s}, nil
}

// Acquire is shorthand for Lock().Await(ctx).
func (m *Mutex[T]) Acquire(ctx context.Context) (*MutexGuard[T], error) {
	return m.Lock().Await(ctx)
}

// With acquires the mutex, runs fn against the payload, and releases on
// every path.
func (m *Mutex[T]) With(ctx context.Context, fn func(*T)) error {
	g, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	fn(g.Value())
	return nil
}

// Take consumes the sole handle and returns the payload. It fails with
// ErrNotSoleOwner while other handles, a live guard, or queued waiters
// exist; the handle stays valid for a later retry.
func (m *Mutex[T]) Take() (T, error) {
	v, err := m.state().take()
	if err == nil {
		m.s = nil
	}
	return v, err
}

// Inner returns the payload directly, bypassing the suspend protocol.
// Only the sole handle of an unoccupied lock may do this; any other
// state fails with ErrNotSoleOwner.
func (m *Mutex[T]) Inner() (*T, error) {
	return m.state().inner()
}

// MutexFuture is a pending exclusive acquisition. It is owned by one
// task and must not be shared.
type MutexFuture[T any] struct {
	a acquisition[T]
}

// Poll drives the acquisition one step. It returns the guard and true
// once the mutex is held; otherwise it records wake, which fires when
// the lock is handed to this future, and returns false.
//
// Polling again after the guard was produced panics.
func (f *MutexFuture[T]) Poll(wake Waker) (*MutexGuard[T], bool) {
	if !f.a.poll(wake) {
		return nil, false
	}
	return &MutexGuard[T]{s: f.a.s}, true
}

// Await suspends the calling task until the mutex is held or ctx is
// done. On cancellation the request is abandoned and can never be
// granted a lock nobody would release.
func (f *MutexFuture[T]) Await(ctx context.Context) (*MutexGuard[T], error) {
	if err := f.a.await(ctx); err != nil {
		return nil, err
	}
	return &MutexGuard[T]{s: f.a.s}, nil
}

// Cancel abandons the acquisition. Idempotent; a no-op once the guard
// was produced.
func (f *MutexFuture[T]) Cancel() {
	f.a.cancel()
}

// MutexGuard grants exclusive access to the payload for its lifetime.
// Exactly one release per guard: Release hands the lock to the next
// waiter and invalidates the guard; a second Release panics.
type MutexGuard[T any] struct {
	s *lockState[T]
}

// Value returns the protected value. The pointer is valid until
// Release.
func (g *MutexGuard[T]) Value() *T {
	if g.s == nil {
		panic("tasklocks: use of released guard")
	}
	return &g.s.value
}

// Release unlocks the mutex and wakes the next eligible waiter(s).
func (g *MutexGuard[T]) Release() {
	s := g.s
	if s == nil {
		panic("tasklocks: release of released guard")
	}
	g.s = nil
	s.releaseExclusive()
}
