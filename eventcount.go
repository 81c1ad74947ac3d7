package eventcount

import (
	"sync/atomic"
	"time"

	"github.com/llxisdsh/eventcount/internal/futex"
)

// EventCount is a condition-variable replacement for lock-free data
// structures: it lets a goroutine wait for "something changed" without a
// lock around the shared state, without missing a notification that races
// with the decision to wait, and without any syscall on the notify path
// when nobody is waiting.
//
// Protocol (the key must be captured BEFORE checking the condition):
//
//	for {
//		k := ec.Key()
//		if work := q.TryPop(); work != nil {
//			return work
//		}
//		ec.Wait(k)
//	}
//
// and on the producer side, after publishing:
//
//	q.Push(work)
//	ec.Signal()
//
// It is zero-value usable and must not be copied after first use.
//
// Size: 4 bytes.
type EventCount struct {
	_ noCopy
	// state 32-bit:
	//   Bit 0:    waiters flag (1 = someone may be parked)
	//   Bit 1-31: sequence, +2 per Signal/Broadcast
	//
	// The flag is a conservative upper bound: waiters set it before
	// parking, notifiers clear it optimistically before waking. The
	// step of 2 keeps the sequence bump from ever touching the flag.
	state uint32
}

// Key is a snapshot of an EventCount's sequence. Two keys from the same
// EventCount compare equal iff no Signal or Broadcast happened between
// their captures; the waiters flag never affects comparison.
//
// A Key is only meaningful to the EventCount that produced it. Passing it
// to another instance is a precondition violation.
type Key uint32

const (
	waiterFlag = 1 << 0
	seqStep    = 1 << 1
)

// Key captures the current sequence for a later Wait.
//
// Capture the key first, then check the wait condition, then Wait: a
// notification sent after the capture is guaranteed to be visible to
// Wait, so a condition that turns true between the check and the park
// cannot be slept through. The load is sequentially consistent, which
// pins it before the caller's condition check.
func (e *EventCount) Key() Key {
	return Key(atomic.LoadUint32(&e.state) | waiterFlag)
}

// Wait blocks until the sequence has advanced past k.
//
// It returns immediately if a Signal or Broadcast already happened since
// the key was captured. Otherwise it announces itself via the waiters
// flag, re-checks, and parks. Wait can return spuriously in the sense
// that the caller's condition may still be false; callers re-check and
// capture a fresh key, as in the protocol above.
func (e *EventCount) Wait(k Key) {
	if atomic.LoadUint32(&e.state)|waiterFlag != uint32(k) {
		return
	}
	for {
		// Announce before parking. A notifier that increments after
		// this observes the flag and wakes; one that incremented
		// before is caught by the re-read below.
		atomic.OrUint32(&e.state, waiterFlag)
		v := atomic.LoadUint32(&e.state)
		if v|waiterFlag != uint32(k) {
			return
		}
		// v carries the flag we just set; the kernel compares raw
		// words, so park against v rather than k.
		park(&e.state, v)
	}
}

// WaitTimeout is Wait with a deadline. It returns true once the sequence
// has advanced past k, or false if d elapses first.
//
// A false return means only that the wait timed out; the caller's
// condition may have turned true independently, so treat it exactly like
// a spurious wakeup and re-check. A timed-out waiter leaves the waiters
// flag set, which at worst costs a later notifier one empty wake.
func (e *EventCount) WaitTimeout(k Key, d time.Duration) bool {
	if atomic.LoadUint32(&e.state)|waiterFlag != uint32(k) {
		return true
	}
	deadline := time.Now().Add(d)
	for {
		atomic.OrUint32(&e.state, waiterFlag)
		v := atomic.LoadUint32(&e.state)
		if v|waiterFlag != uint32(k) {
			return true
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false
		}
		parkTimeout(&e.state, v, left)
	}
}

// Signal advances the sequence and wakes at most one parked waiter.
//
// With no waiters ever parked this is a single atomic add, no syscall.
// Signal clears the waiters flag before waking on the bet that the one
// wakeup drains the parking lot; when it loses the bet, remaining parked
// waiters stay asleep until the next waiter re-announces the flag. Use
// Signal only where any single waiter can consume the event (one item
// pushed, one slot freed); use Broadcast for completion-style events
// that every waiter must observe.
func (e *EventCount) Signal() {
	if atomic.AddUint32(&e.state, seqStep)&waiterFlag == 0 {
		return
	}
	atomic.AndUint32(&e.state, ^uint32(waiterFlag))
	wake(&e.state, 1)
}

// Broadcast advances the sequence and wakes every parked waiter.
//
// Like Signal, it is a single atomic add when the waiters flag is clear.
func (e *EventCount) Broadcast() {
	if atomic.AddUint32(&e.state, seqStep)&waiterFlag == 0 {
		return
	}
	atomic.AndUint32(&e.state, ^uint32(waiterFlag))
	wake(&e.state, futex.All)
}

// Park/wake entry points, indirected so tests can observe wake traffic.
var (
	park        = futex.Park
	parkTimeout = futex.ParkTimeout
	wake        = futex.Wake
)
