//go:build !linux

package futex

import "time"

// lot emulates the kernel facility on platforms without one.
var lot parkingLot

// Park blocks the calling goroutine while *addr == expected.
// It may return spuriously.
func Park(addr *uint32, expected uint32) {
	lot.park(addr, expected)
}

// ParkTimeout is Park with a bounded sleep. A timed-out return is
// indistinguishable from a spurious one; callers re-check either way.
func ParkTimeout(addr *uint32, expected uint32, d time.Duration) {
	lot.parkTimeout(addr, expected, d)
}

// Wake wakes up to n goroutines parked on addr and returns the number
// actually woken.
func Wake(addr *uint32, n int) int {
	return lot.wake(addr, n)
}
