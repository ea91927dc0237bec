package tasklocks

// Waker resumes a suspended acquisition. Release code invokes it after
// handing the lock to the waiter; the woken task should drive its
// future's Poll again.
//
// A Waker must be safe to call from any goroutine and must not block.
type Waker func()

// lockMode is the access mode of an acquisition request.
type lockMode uint8

const (
	modeExclusive lockMode = iota
	modeShared
)

// Waiter grant states. Mutated only under lockState.mu.
// There is no "abandoned" state: a cancelled waiter is unlinked from the
// queue instead, so the drain loop never sees one.
const (
	waiterPending uint8 = iota
	waiterGranted
)

// waiter is one suspended acquisition request, linked into a waitq.
//
// wake is written only while the waiter is pending, under lockState.mu.
// Once the waiter is granted no one writes it again, so release code may
// read it after leaving the critical section.
type waiter struct {
	next  *waiter
	wake  Waker
	mode  lockMode
	state uint8
}

// waitq is an intrusive FIFO queue of waiters, in arrival order.
type waitq struct {
	head *waiter
	tail *waiter
}

func (q *waitq) empty() bool { return q.head == nil }

func (q *waitq) push(w *waiter) {
	if q.tail == nil {
		q.head = w
		q.tail = w
		return
	}
	q.tail.next = w
	q.tail = w
}

func (q *waitq) pop() *waiter {
	w := q.head
	if w == nil {
		return nil
	}
	q.head = w.next
	if q.head == nil {
		q.tail = nil
	}
	w.next = nil
	return w
}

// remove unlinks w wherever it sits in the queue.
// Reports whether w was found.
func (q *waitq) remove(w *waiter) bool {
	var prev *waiter
	for cur := q.head; cur != nil; cur = cur.next {
		if cur != w {
			prev = cur
			continue
		}
		if prev == nil {
			q.head = cur.next
		} else {
			prev.next = cur.next
		}
		if q.tail == cur {
			q.tail = prev
		}
		cur.next = nil
		return true
	}
	return false
}
