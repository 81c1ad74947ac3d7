package futex

import (
	"sync/atomic"
	"time"
	_ "unsafe" // for linkname
)

// ticketLock is a fair FIFO spin-lock guarding one wait queue.
//
// Fairness matters here: the queue lock is taken on every park and wake,
// and a barging lock would let a storm of parkers starve the waker that
// is trying to hand out wakeups. Critical sections are a few pointer
// writes, which is the regime a ticket lock is suited for.
type ticketLock struct {
	next    atomic.Uint32
	serving atomic.Uint32
}

func (m *ticketLock) Lock() {
	my := m.next.Add(1) - 1
	var spins int
	for {
		if m.serving.Load() == my {
			return
		}
		delay(&spins)
	}
}

func (m *ticketLock) Unlock() {
	m.serving.Add(1)
}

func delay(spins *int) {
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return
	}
	*spins = 0
	// Sub-millisecond sleep is an effective backoff under contention;
	// the 500µs figure follows folly's Sleeper.
	time.Sleep(500 * time.Microsecond)
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//goland:noinspection ALL
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//goland:noinspection ALL
func runtime_doSpin()
