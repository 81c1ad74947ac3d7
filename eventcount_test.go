package eventcount

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/llxisdsh/eventcount/internal/futex"
)

func TestEventCountSize(t *testing.T) {
	var e EventCount
	if size := unsafe.Sizeof(e); size != 4 {
		t.Errorf("EventCount size = %d, want 4", size)
	}
}

func TestKeyIgnoresWaiterFlag(t *testing.T) {
	var e EventCount

	k1 := e.Key()
	atomic.OrUint32(&e.state, waiterFlag)
	k2 := e.Key()
	atomic.AndUint32(&e.state, ^uint32(waiterFlag))
	k3 := e.Key()

	if k1 != k2 || k2 != k3 {
		t.Errorf("keys diverged across flag churn: %d %d %d", k1, k2, k3)
	}
}

func TestSequenceAdvances(t *testing.T) {
	var e EventCount

	const n = 1000
	for range n {
		e.Signal()
		e.Broadcast()
	}

	// No waiter ever parked, so the flag stayed clear and the word is
	// exactly the accumulated sequence.
	if s := atomic.LoadUint32(&e.state); s != 2*2*n {
		t.Errorf("state = %d, want %d", s, 2*2*n)
	}

	k1 := e.Key()
	e.Signal()
	k2 := e.Key()
	if k1 == k2 {
		t.Error("key unchanged across Signal")
	}
}

func TestWaitStaleKeyReturnsImmediately(t *testing.T) {
	var e EventCount

	k := e.Key() // word 0, key 1
	e.Signal()   // word 2

	done := make(chan struct{})
	go func() {
		e.Wait(k) // re-read 2|1=3 != 1
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Wait blocked on a stale key")
	}
}

func TestWaitBlocksUntilSignal(t *testing.T) {
	var e EventCount

	k := e.Key()
	start := time.Now()
	sent := make(chan struct{})
	time.AfterFunc(100*time.Millisecond, func() {
		e.Signal()
		close(sent)
	})

	e.Wait(k)
	if dur := time.Since(start); dur < 100*time.Millisecond {
		t.Errorf("Wait returned too early: %v", dur)
	}
	// Join the notifier: Wait can return the instant the sequence
	// bump lands, while Signal is still running.
	<-sent
}

func TestBroadcastWakesAll(t *testing.T) {
	var e EventCount
	var count int32
	var wg sync.WaitGroup

	n := 10
	k := e.Key()
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			e.Wait(k)
			atomic.AddInt32(&count, 1)
		}()
	}

	// Ensure they are parked
	time.Sleep(100 * time.Millisecond)
	if c := atomic.LoadInt32(&count); c != 0 {
		t.Errorf("Waiters passed early: %d", c)
	}

	e.Broadcast()
	wg.Wait()

	if c := atomic.LoadInt32(&count); c != int32(n) {
		t.Errorf("Not all waiters woke up: %d / %d", c, n)
	}
}

func TestSignalWakesOne(t *testing.T) {
	var e EventCount
	var count int32
	var wg sync.WaitGroup

	n := 5
	k := e.Key()
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			e.Wait(k)
			atomic.AddInt32(&count, 1)
		}()
	}

	// Generous settle time so all n are parked before the signal.
	time.Sleep(250 * time.Millisecond)

	e.Signal()
	time.Sleep(100 * time.Millisecond)
	if c := atomic.LoadInt32(&count); c != 1 {
		t.Errorf("Signal woke %d waiters, want 1", c)
	}

	// The sequence already advanced, so any wakeup drains the rest.
	wake(&e.state, futex.All)
	wg.Wait()
	if c := atomic.LoadInt32(&count); c != int32(n) {
		t.Errorf("drain left waiters behind: %d / %d", c, n)
	}
}

func TestNotifySkipsWakeWithoutWaiters(t *testing.T) {
	var calls atomic.Int32
	orig := wake
	wake = func(addr *uint32, n int) int {
		calls.Add(1)
		return orig(addr, n)
	}
	defer func() { wake = orig }()

	var e EventCount
	for range 100 {
		e.Signal()
		e.Broadcast()
	}

	if c := calls.Load(); c != 0 {
		t.Errorf("notify issued %d wake calls with no waiters", c)
	}
}

func TestNotifyWakesAfterFlagSet(t *testing.T) {
	var calls atomic.Int32
	orig := wake
	wake = func(addr *uint32, n int) int {
		calls.Add(1)
		return orig(addr, n)
	}
	defer func() { wake = orig }()

	var e EventCount
	atomic.OrUint32(&e.state, waiterFlag)
	e.Signal()

	if c := calls.Load(); c != 1 {
		t.Errorf("wake calls = %d, want 1", c)
	}
	if s := atomic.LoadUint32(&e.state); s != seqStep {
		t.Errorf("state = %d, want %d (flag cleared, sequence bumped)", s, seqStep)
	}
}

func TestWaitTimeoutExpires(t *testing.T) {
	var e EventCount

	k := e.Key()
	start := time.Now()
	if e.WaitTimeout(k, 80*time.Millisecond) {
		t.Error("WaitTimeout reported a wakeup with no notify")
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("WaitTimeout returned too early: %v", dur)
	}
}

func TestWaitTimeoutWoken(t *testing.T) {
	var e EventCount

	k := e.Key()
	sent := make(chan struct{})
	time.AfterFunc(50*time.Millisecond, func() {
		e.Signal()
		close(sent)
	})

	start := time.Now()
	if !e.WaitTimeout(k, 5*time.Second) {
		t.Fatal("WaitTimeout timed out despite a Signal")
	}
	if dur := time.Since(start); dur < 50*time.Millisecond {
		t.Errorf("WaitTimeout returned before the Signal: %v", dur)
	}
	<-sent
}

func TestWaitTimeoutStaleKey(t *testing.T) {
	var e EventCount
	k := e.Key()
	e.Signal()

	start := time.Now()
	if !e.WaitTimeout(k, time.Second) {
		t.Error("stale key reported as timeout")
	}
	if dur := time.Since(start); dur > 500*time.Millisecond {
		t.Errorf("stale-key fast path slept: %v", dur)
	}
}

func TestSequenceWrap(t *testing.T) {
	var e EventCount
	// Sequence at its 31-bit maximum, flag clear.
	atomic.StoreUint32(&e.state, ^uint32(waiterFlag))

	k := e.Key()
	e.Signal() // wraps the word to 0

	if s := atomic.LoadUint32(&e.state); s != 0 {
		t.Fatalf("state after wrap = %#x, want 0", s)
	}

	done := make(chan struct{})
	go func() {
		e.Wait(k)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Wait blocked across the wrap boundary")
	}
}

func TestSignalUnparksAcrossWrap(t *testing.T) {
	var e EventCount
	atomic.StoreUint32(&e.state, ^uint32(waiterFlag))

	k := e.Key()
	start := time.Now()
	sent := make(chan struct{})
	time.AfterFunc(100*time.Millisecond, func() {
		e.Signal()
		close(sent)
	})

	e.Wait(k)
	if dur := time.Since(start); dur < 100*time.Millisecond {
		t.Errorf("Wait returned too early: %v", dur)
	}
	<-sent
}
