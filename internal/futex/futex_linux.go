//go:build linux

package futex

import (
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex op codes, from <linux/futex.h>. FUTEX_PRIVATE_FLAG tells the
// kernel the word is never shared across processes.
const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128

	futexWaitPrivate = futexWait | futexPrivateFlag
	futexWakePrivate = futexWake | futexPrivateFlag
)

// Park blocks the calling goroutine while *addr == expected.
// It may return spuriously.
func Park(addr *uint32, expected uint32) {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitPrivate,
		uintptr(expected),
		0, 0, 0)
	checkErrno(errno)
}

// ParkTimeout is Park with a bounded sleep. A timed-out return is
// indistinguishable from a spurious one; callers re-check either way.
func ParkTimeout(addr *uint32, expected uint32, d time.Duration) {
	if d <= 0 {
		return
	}
	ts := unix.NsecToTimespec(d.Nanoseconds())
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitPrivate,
		uintptr(expected),
		uintptr(unsafe.Pointer(&ts)),
		0, 0)
	checkErrno(errno)
}

// Wake wakes up to n goroutines parked on addr and returns the number
// actually woken.
func Wake(addr *uint32, n int) int {
	r, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakePrivate,
		uintptr(uint32(n)),
		0, 0, 0)
	if errno != 0 {
		panic("futex: FUTEX_WAKE failed: " + errno.Error())
	}
	return int(r)
}

func checkErrno(errno syscall.Errno) {
	switch errno {
	case 0:
		// Woken, or a genuinely spurious return.
	case unix.EAGAIN:
		// *addr != expected at syscall entry.
	case unix.EINTR:
		// Signal delivery; treated as spurious.
	case unix.ETIMEDOUT:
		// Timed variant expired.
	default:
		// The facility has no fallback path; anything else is fatal.
		panic("futex: FUTEX_WAIT failed: " + errno.Error())
	}
}
