package tasklocks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestMutex_Uncontended(t *testing.T) {
	m := NewMutex(7)
	g, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if *g.Value() != 7 {
		t.Fatalf("value = %d, want 7", *g.Value())
	}
	*g.Value() = 8
	g.Release()

	// Back to unlocked.
	g, err = m.TryLock()
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	if *g.Value() != 8 {
		t.Fatalf("value = %d, want 8", *g.Value())
	}
	g.Release()
}

func TestMutex_TryLockWouldBlock(t *testing.T) {
	m := NewMutex(0)
	g, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := m.TryLock(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("err = %v, want ErrWouldBlock", err)
	}
	g.Release()
}

func TestMutex_PollHandoff(t *testing.T) {
	m := NewMutex(0)

	f1 := m.Lock()
	g1, ok := f1.Poll(nil)
	if !ok {
		t.Fatal("uncontended Lock not ready on first poll")
	}

	f2 := m.Lock()
	woken := false
	if _, ok := f2.Poll(func() { woken = true }); ok {
		t.Fatal("contended Lock ready while held")
	}

	*g1.Value() = 1
	g1.Release()
	if !woken {
		t.Fatal("waiter not woken by release")
	}

	g2, ok := f2.Poll(nil)
	if !ok {
		t.Fatal("handed-off lock not ready")
	}
	if *g2.Value() != 1 {
		t.Fatalf("value = %d, want 1", *g2.Value())
	}
	g2.Release()
}

func TestMutex_FIFOOrder(t *testing.T) {
	m := NewMutex(0)
	g0, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	const n = 3
	futs := make([]*MutexFuture[int], n)
	woken := make([]bool, n)
	for i := range n {
		futs[i] = m.Lock()
		if _, ok := futs[i].Poll(func() { woken[i] = true }); ok {
			t.Fatalf("waiter %d ready while held", i)
		}
	}

	g0.Release()
	for i := range n {
		for j := range n {
			want := j <= i
			if woken[j] != want {
				t.Fatalf("after %d hand-offs: woken[%d] = %v, want %v", i+1, j, woken[j], want)
			}
		}
		g, ok := futs[i].Poll(nil)
		if !ok {
			t.Fatalf("waiter %d not granted in turn", i)
		}
		g.Release()
	}
}

// A task suspended on Lock before the holder mutates the value must
// observe that mutation once the lock is handed over.
func TestMutex_HandoffObservesWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMutex(0)

	gA, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	queued := make(chan struct{})
	got := make(chan int, 1)
	go func() {
		f := m.Lock() // enqueues synchronously
		close(queued)
		g, err := f.Await(ctx)
		if err != nil {
			got <- -1
			return
		}
		got <- *g.Value()
		g.Release()
	}()

	<-queued
	*gA.Value() = 1
	gA.Release()

	if v := <-got; v != 1 {
		t.Fatalf("suspended task observed %d, want 1", v)
	}
}

func TestMutex_CancelPending(t *testing.T) {
	m := NewMutex(0)
	g, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	f := m.Lock()
	if _, ok := f.Poll(nil); ok {
		t.Fatal("waiter ready while held")
	}
	f.Cancel()
	f.Cancel() // idempotent

	g.Release()
	g2, err := m.TryLock()
	if err != nil {
		t.Fatalf("abandoned waiter stranded the lock: %v", err)
	}
	g2.Release()
}

func TestMutex_CancelAfterGrant(t *testing.T) {
	m := NewMutex(0)
	g, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	f := m.Lock()
	if _, ok := f.Poll(nil); ok {
		t.Fatal("waiter ready while held")
	}
	g.Release() // hands the lock to f
	f.Cancel()  // must give it back

	g2, err := m.TryLock()
	if err != nil {
		t.Fatalf("granted-then-cancelled future stranded the lock: %v", err)
	}
	g2.Release()
}

func TestMutex_CancelUnpolled(t *testing.T) {
	m := NewMutex(0)
	f := m.Lock() // granted at construction, never polled
	f.Cancel()

	g, err := m.TryLock()
	if err != nil {
		t.Fatalf("unpolled future stranded the lock: %v", err)
	}
	g.Release()
}

func TestMutex_AwaitCancelled(t *testing.T) {
	m := NewMutex(0)
	g, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The holder is unaffected and the queue holds no ghost.
	g.Release()
	g2, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock after cancelled Acquire: %v", err)
	}
	g2.Release()
}

func TestMutex_TakeSoleOwner(t *testing.T) {
	m := NewMutex(42)
	v, err := m.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if v != 42 {
		t.Fatalf("Take = %d, want 42", v)
	}
}

func TestMutex_TakeOtherHandles(t *testing.T) {
	m := NewMutex(1)
	c := m.Clone()
	if _, err := m.Take(); !errors.Is(err, ErrNotSoleOwner) {
		t.Fatalf("err = %v, want ErrNotSoleOwner", err)
	}
	c.Close()
	v, err := m.Take()
	if err != nil {
		t.Fatalf("Take after Close: %v", err)
	}
	if v != 1 {
		t.Fatalf("Take = %d, want 1", v)
	}
}

func TestMutex_TakeWhileLocked(t *testing.T) {
	m := NewMutex(1)
	g, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := m.Take(); !errors.Is(err, ErrNotSoleOwner) {
		t.Fatalf("err = %v, want ErrNotSoleOwner", err)
	}
	g.Release()
}

func TestMutex_Inner(t *testing.T) {
	m := NewMutex(10)
	p, err := m.Inner()
	if err != nil {
		t.Fatalf("Inner: %v", err)
	}
	*p += 5
	v, err := m.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if v != 15 {
		t.Fatalf("value = %d, want 15", v)
	}
}

func TestMutex_InnerOtherHandles(t *testing.T) {
	m := NewMutex(0)
	c := m.Clone()
	defer c.Close()
	if _, err := m.Inner(); !errors.Is(err, ErrNotSoleOwner) {
		t.Fatalf("err = %v, want ErrNotSoleOwner", err)
	}
}

func TestMutex_DoubleReleasePanics(t *testing.T) {
	m := NewMutex(0)
	g, err := m.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	g.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("second Release did not panic")
		}
	}()
	g.Release()
}

func TestMutex_With(t *testing.T) {
	ctx := context.Background()
	m := NewMutex(0)
	if err := m.With(ctx, func(v *int) { *v = 9 }); err != nil {
		t.Fatalf("With: %v", err)
	}
	v, err := m.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if v != 9 {
		t.Fatalf("value = %d, want 9", v)
	}
}

func TestMutex_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	m := NewMutex(0)

	const workers = 16
	const iters = 200
	var inside atomic.Int32

	var eg errgroup.Group
	for range workers {
		eg.Go(func() error {
			for range iters {
				g, err := m.Acquire(ctx)
				if err != nil {
					return err
				}
				if n := inside.Add(1); n != 1 {
					return errors.New("two exclusive guards live at once")
				}
				*g.Value()++
				inside.Add(-1)
				g.Release()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	v, err := m.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if v != workers*iters {
		t.Fatalf("counter = %d, want %d", v, workers*iters)
	}
}
