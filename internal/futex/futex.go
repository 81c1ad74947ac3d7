// Package futex provides a minimal park/wake facility keyed by the address
// of a 32-bit word, in the style of the Linux futex system call:
//
//   - Park(addr, expected) blocks the calling goroutine while *addr still
//     equals expected, and returns immediately otherwise. It may also
//     return spuriously; callers must re-check their condition in a loop.
//   - Wake(addr, n) wakes up to n goroutines parked on addr.
//
// On Linux this maps directly onto SYS_FUTEX. Elsewhere it is emulated by
// a parking lot: a table of per-address wait queues whose value check
// happens under the queue lock, preserving the "check then sleep"
// atomicity the syscall provides.
//
// The facility never changes the word it watches; it only reads it before
// sleeping to prevent lost wake-ups.
package futex

import "math"

// All is the wake count that wakes every parked waiter.
const All = math.MaxInt32
