package futex

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/llxisdsh/pb"
	"golang.org/x/sys/cpu"

	"github.com/llxisdsh/eventcount/internal/opt"
)

// parkingLot emulates futex semantics on top of runtime semaphores for
// platforms without a native park/wake syscall.
//
// Each watched word address owns a waitQueue. park re-checks the word
// under the queue lock before enqueueing, so a waker that changed the
// word and then called wake cannot slip between the check and the sleep:
// either park sees the new value and returns, or the waiter is already
// queued when wake walks the list.
//
// Queues are created on first use and retained for the life of the
// process. The table is bounded by the number of distinct word addresses
// ever parked on, which in practice is the number of live primitives.
type parkingLot struct {
	queues pb.MapOf[uintptr, *waitQueue]
}

type waitQueue struct {
	lock ticketLock
	head *waiter
	tail *waiter

	// Queues for unrelated words are long-lived heap neighbors; keep
	// their locks off the same line.
	_ cpu.CacheLinePad
}

type waiter struct {
	sema opt.Sema
	// woken arbitrates between a waker and a timeout timer so the
	// semaphore is released exactly once.
	woken atomic.Bool
	// queued is protected by waitQueue.lock.
	queued bool
	next   *waiter
}

func (l *parkingLot) queue(addr *uint32) *waitQueue {
	key := uintptr(unsafe.Pointer(addr))
	if q, ok := l.queues.Load(key); ok {
		return q
	}
	q, _ := l.queues.LoadOrStore(key, &waitQueue{})
	return q
}

// park blocks the calling goroutine while *addr == expected.
func (l *parkingLot) park(addr *uint32, expected uint32) {
	q := l.queue(addr)

	q.lock.Lock()
	if atomic.LoadUint32(addr) != expected {
		q.lock.Unlock()
		return
	}
	w := &waiter{queued: true}
	q.push(w)
	q.lock.Unlock()

	w.sema.Acquire()
}

// parkTimeout is park with a bounded sleep. On timeout the waiter removes
// itself from the queue; a wake that races the timer simply finds one
// fewer waiter to unpark.
func (l *parkingLot) parkTimeout(addr *uint32, expected uint32, d time.Duration) {
	if d <= 0 {
		return
	}
	q := l.queue(addr)

	q.lock.Lock()
	if atomic.LoadUint32(addr) != expected {
		q.lock.Unlock()
		return
	}
	w := &waiter{queued: true}
	q.push(w)
	q.lock.Unlock()

	timer := time.AfterFunc(d, func() {
		if w.woken.CompareAndSwap(false, true) {
			w.sema.Release()
		}
	})
	w.sema.Acquire()
	timer.Stop()

	// If the timer won the race, the node may still be linked.
	q.lock.Lock()
	if w.queued {
		q.remove(w)
	}
	q.lock.Unlock()
}

// wake unparks up to n waiters queued on addr and reports how many.
func (l *parkingLot) wake(addr *uint32, n int) int {
	q, ok := l.queues.Load(uintptr(unsafe.Pointer(addr)))
	if !ok {
		return 0
	}

	var batch *waiter
	woken := 0

	q.lock.Lock()
	for woken < n && q.head != nil {
		w := q.head
		q.head = w.next
		if q.head == nil {
			q.tail = nil
		}
		w.queued = false
		if w.woken.CompareAndSwap(false, true) {
			// Reuse the list link for the release batch.
			w.next = batch
			batch = w
			woken++
		} else {
			// Timed out already; it will unlink itself shortly.
			w.next = nil
		}
	}
	q.lock.Unlock()

	// Release outside the lock: semrelease may hand the woken goroutine
	// the processor, and it immediately re-reads the watched word.
	for w := batch; w != nil; {
		next := w.next
		w.next = nil
		w.sema.Release()
		w = next
	}
	return woken
}

func (q *waitQueue) push(w *waiter) {
	if q.tail == nil {
		q.head = w
		q.tail = w
		return
	}
	q.tail.next = w
	q.tail = w
}

// remove unlinks w wherever it sits. Called with the lock held, only on
// the timeout path, so the walk is off the hot paths.
func (q *waitQueue) remove(w *waiter) {
	var prev *waiter
	for curr := q.head; curr != nil; curr = curr.next {
		if curr != w {
			prev = curr
			continue
		}
		if prev == nil {
			q.head = curr.next
		} else {
			prev.next = curr.next
		}
		if q.tail == curr {
			q.tail = prev
		}
		break
	}
	w.queued = false
	w.next = nil
}
