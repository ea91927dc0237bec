package tasklocks

import (
	"context"
	"sync/atomic"

	"github.com/llxisdsh/pb"
)

// MutexGroup provides task-suspending mutual exclusion on arbitrary
// keys (string, int, struct, etc.).
//
// Features:
//   - Infinite keys: no need to pre-allocate locks.
//   - Auto-cleanup: a key's lock is removed from memory once released
//     with no other holders or waiters.
//   - FIFO hand-off per key, inherited from Mutex.
//
// Usage:
//
//	var g tasklocks.MutexGroup[string]
//	release, err := g.Lock(ctx, "user-123")
//	if err != nil {
//		return err
//	}
//	// Critical section for user-123
//	release()
//
// Implementation Note:
// It uses reference counting to safely delete entries.
type MutexGroup[K comparable] struct {
	_ noCopy
	m pb.MapOf[K, *groupEntry]
}

type groupEntry struct {
	mu  *Mutex[struct{}]
	ref atomic.Int32
}

// Lock acquires the key's lock, suspending the calling task until it
// is available or ctx is done. On success the returned func releases
// the key; it must be called exactly once.
func (g *MutexGroup[K]) Lock(ctx context.Context, k K) (func(), error) {
	e := g.enter(k)
	guard, err := e.mu.Acquire(ctx)
	if err != nil {
		g.leave(k, e)
		return nil, err
	}
	return func() {
		guard.Release()
		g.leave(k, e)
	}, nil
}

// TryLock acquires the key's lock only if it is free right now.
func (g *MutexGroup[K]) TryLock(k K) (func(), bool) {
	e := g.enter(k)
	guard, err := e.mu.TryLock()
	if err != nil {
		g.leave(k, e)
		return nil, false
	}
	return func() {
		guard.Release()
		g.leave(k, e)
	}, true
}

func (g *MutexGroup[K]) enter(k K) *groupEntry {
	var e *groupEntry
	g.m.ProcessEntry(k, func(l *pb.EntryOf[K, *groupEntry]) (*pb.EntryOf[K, *groupEntry], *groupEntry, bool) {
		if l != nil {
			e = l.Value
			e.ref.Add(1)
			return l, e, true
		}
		e = &groupEntry{mu: NewMutex(struct{}{})}
		e.ref.Store(1)
		return &pb.EntryOf[K, *groupEntry]{Value: e}, e, false
	})
	return e
}

func (g *MutexGroup[K]) leave(k K, e *groupEntry) {
	g.m.ProcessEntry(k, func(l *pb.EntryOf[K, *groupEntry]) (*pb.EntryOf[K, *groupEntry], *groupEntry, bool) {
		if l == nil || l.Value != e {
			return l, nil, false
		}
		if e.ref.Add(-1) <= 0 {
			return nil, nil, true
		}
		return l, nil, false
	})
}

// RWLockGroup allows task-suspending reader/writer locking on arbitrary
// keys. It matches the shape of MutexGroup but supports shared access.
//
// Usage:
//
//	var g tasklocks.RWLockGroup[string]
//
//	// Readers
//	release, err := g.RLock(ctx, "config")
//
//	// Writer
//	release, err := g.Lock(ctx, "config")
type RWLockGroup[K comparable] struct {
	_ noCopy
	m pb.MapOf[K, *rwGroupEntry]
}

type rwGroupEntry struct {
	rw  *RWLock[struct{}]
	ref atomic.Int32
}

// Lock acquires exclusive access to the key, suspending until available
// or ctx is done.
func (g *RWLockGroup[K]) Lock(ctx context.Context, k K) (func(), error) {
	e := g.enter(k)
	guard, err := e.rw.AcquireWrite(ctx)
	if err != nil {
		g.leave(k, e)
		return nil, err
	}
	return func() {
		guard.Release()
		g.leave(k, e)
	}, nil
}

// RLock acquires shared access to the key, suspending until available
// or ctx is done.
func (g *RWLockGroup[K]) RLock(ctx context.Context, k K) (func(), error) {
	e := g.enter(k)
	guard, err := e.rw.AcquireRead(ctx)
	if err != nil {
		g.leave(k, e)
		return nil, err
	}
	return func() {
		guard.Release()
		g.leave(k, e)
	}, nil
}

func (g *RWLockGroup[K]) enter(k K) *rwGroupEntry {
	var e *rwGroupEntry
	g.m.ProcessEntry(k, func(l *pb.EntryOf[K, *rwGroupEntry]) (*pb.EntryOf[K, *rwGroupEntry], *rwGroupEntry, bool) {
		if l != nil {
			e = l.Value
			e.ref.Add(1)
			return l, e, true
		}
		e = &rwGroupEntry{rw: NewRWLock(struct{}{})}
		e.ref.Store(1)
		return &pb.EntryOf[K, *rwGroupEntry]{Value: e}, e, false
	})
	return e
}

func (g *RWLockGroup[K]) leave(k K, e *rwGroupEntry) {
	g.m.ProcessEntry(k, func(l *pb.EntryOf[K, *rwGroupEntry]) (*pb.EntryOf[K, *rwGroupEntry], *rwGroupEntry, bool) {
		if l == nil || l.Value != e {
			return l, nil, false
		}
		if e.ref.Add(-1) <= 0 {
			return nil, nil, true
		}
		return l, nil, false
	})
}
