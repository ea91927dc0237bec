package tasklocks

import (
	"context"
)

// RWLock is a task-suspending reader/writer lock protecting a value of
// type T. The lock can be held by any number of readers or one writer.
//
// Fairness:
//   - Waiters are granted strictly in arrival order for writers.
//   - A contiguous run of readers at the head of the queue is granted
//     as one batch, but a reader never overtakes a writer queued ahead
//     of it, so writers cannot starve.
//
// Usage:
//
//	rw := tasklocks.NewRWLock(map[string]int{})
//	g, err := rw.AcquireRead(ctx)
//	if err != nil {
//		return err
//	}
//	n := (*g.Value())["hits"]
//	g.Release()
type RWLock[T any] struct {
	_ noCopy
	s *lockState[T]
}

// NewRWLock creates an unlocked RWLock owning value.
func NewRWLock[T any](value T) *RWLock[T] {
	return &RWLock[T]{s: newLockState(value)}
}

func (rw *RWLock[T]) state() *lockState[T] {
	if rw.s == nil {
		panic("tasklocks: use of released RWLock handle")
	}
	return rw.s
}

// Clone returns a new handle sharing the same lock and payload.
func (rw *RWLock[T]) Clone() *RWLock[T] {
	s := rw.state()
	s.clone()
	return &RWLock[T]{s: s}
}

// Close releases this handle; see Mutex.Close.
func (rw *RWLock[T]) Close() {
	s := rw.state()
	rw.s = nil
	s.drop()
}

// Read begins a shared acquisition. If no writer holds the lock and no
// waiter is queued ahead, the returned future is already holding a read
// slot.
func (rw *RWLock[T]) Read() *ReadFuture[T] {
	s := rw.state()
	return &ReadFuture[T]{acquisition[T]{s: s, w: s.acquireShared(), mode: modeShared}}
}

// Write begins an exclusive acquisition.
func (rw *RWLock[T]) Write() *WriteFuture[T] {
	s := rw.state()
	return &WriteFuture[T]{acquisition[T]{s: s, w: s.acquireExclusive(), mode: modeExclusive}}
}

// TryRead acquires a read slot only if no writer holds the lock right
// now. It never queues, so it may join live readers even while a writer
// waits; ErrWouldBlock otherwise.
func (rw *RWLock[T]) TryRead() (*ReadGuard[T], error) {
	s := rw.state()
	if !s.tryShared() {
		return nil, ErrWouldBlock
	}
	return &ReadGuard[T]{s: s}, nil
}

// TryWrite acquires the write slot only if the lock is unoccupied right
// now; ErrWouldBlock otherwise.
func (rw *RWLock[T]) TryWrite() (*WriteGuard[T], error) {
	s := rw.state()
	if !s.tryExclusive() {
		return nil, ErrWouldBlock
	}
	return &WriteGuard[T]{s: s}, nil
}

// AcquireRead is shorthand for Read().Await(ctx).
func (rw *RWLock[T]) AcquireRead(ctx context.Context) (*ReadGuard[T], error) {
	return rw.Read().Await(ctx)
}

// AcquireWrite is shorthand for Write().Await(ctx).
func (rw *RWLock[T]) AcquireWrite(ctx context.Context) (*WriteGuard[T], error) {
	return rw.Write().Await(ctx)
}

// WithRead acquires a read slot, runs fn against the payload, and
// releases on every path. fn must treat the payload as read-only.
func (rw *RWLock[T]) WithRead(ctx context.Context, fn func(*T)) error {
	g, err := rw.AcquireRead(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	fn(g.Value())
	return nil
}

// WithWrite acquires the write slot, runs fn against the payload, and
// releases on every path.
func (rw *RWLock[T]) WithWrite(ctx context.Context, fn func(*T)) error {
	g, err := rw.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	fn(g.Value())
	return nil
}

// Take consumes the sole handle and returns the payload; see
// Mutex.Take.
func (rw *RWLock[T]) Take() (T, error) {
	v, err := rw.state().take()
	if err == nil {
		rw.s = nil
	}
	return v, err
}

// Inner returns the payload directly for the sole handle of an
// unoccupied lock; see Mutex.Inner.
func (rw *RWLock[T]) Inner() (*T, error) {
	return rw.state().inner()
}

// ReadFuture is a pending shared acquisition. Owned by one task.
type ReadFuture[T any] struct {
	a acquisition[T]
}

// Poll drives the acquisition one step; see MutexFuture.Poll.
func (f *ReadFuture[T]) Poll(wake Waker) (*ReadGuard[T], bool) {
	if !f.a.poll(wake) {
		return nil, false
	}
	return &ReadGuard[T]{s: f.a.s}, true
}

// Await suspends the calling task until a read slot is held or ctx is
// done.
func (f *ReadFuture[T]) Await(ctx context.Context) (*ReadGuard[T], error) {
	if err := f.a.await(ctx); err != nil {
		return nil, err
	}
	return &ReadGuard[T]{s: f.a.s}, nil
}

// Cancel abandons the acquisition; see MutexFuture.Cancel.
func (f *ReadFuture[T]) Cancel() {
	f.a.cancel()
}

// WriteFuture is a pending exclusive acquisition. Owned by one task.
type WriteFuture[T any] struct {
	a acquisition[T]
}

// Poll drives the acquisition one step; see MutexFuture.Poll.
func (f *WriteFuture[T]) Poll(wake Waker) (*WriteGuard[T], bool) {
	if !f.a.poll(wake) {
		return nil, false
	}
	return &WriteGuard[T]{s: f.a.s}, true
}

// Await suspends the calling task until the write slot is held or ctx
// is done.
func (f *WriteFuture[T]) Await(ctx context.Context) (*WriteGuard[T], error) {
	if err := f.a.await(ctx); err != nil {
		return nil, err
	}
	return &WriteGuard[T]{s: f.a.s}, nil
}

// Cancel abandons the acquisition; see MutexFuture.Cancel.
func (f *WriteFuture[T]) Cancel() {
	f.a.cancel()
}

// ReadGuard grants shared read access to the payload for its lifetime.
type ReadGuard[T any] struct {
	s *lockState[T]
}

// Value returns the protected value. Other readers may hold the lock
// concurrently, so the caller must not mutate through the pointer.
func (g *ReadGuard[T]) Value() *T {
	if g.s == nil {
		panic("tasklocks: use of released guard")
	}
	return &g.s.value
}

// Release gives up this read slot. The queue advances only when the
// last reader leaves.
func (g *ReadGuard[T]) Release() {
	s := g.s
	if s == nil {
		panic("tasklocks: release of released guard")
	}
	g.s = nil
	s.releaseShared()
}

// WriteGuard grants exclusive access to the payload for its lifetime.
type WriteGuard[T any] struct {
	s *lockState[T]
}

// Value returns the protected value. The pointer is valid until
// Release.
func (g *WriteGuard[T]) Value() *T {
	if g.s == nil {
		panic("tasklocks: use of released guard")
	}
	return &g.s.value
}

// Release unlocks the writer slot and wakes the next eligible
// waiter(s): a single writer, or a whole batch of readers.
func (g *WriteGuard[T]) Release() {
	s := g.s
	if s == nil {
		panic("tasklocks: release of released guard")
	}
	g.s = nil
	s.releaseExclusive()
}
