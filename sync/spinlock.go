// Package sync provides synchronization primitives for code that runs
// before (or instead of) the scheduler: spinlocks serialize access to
// shared hardware state such as an I/O APIC's redirection table, where a
// full mutex isn't available and isn't wanted.
package sync

import "shrike/cpu"

var (
	// yieldFn is invoked between failed acquire attempts. It is a no-op
	// by default (there is no scheduler to yield to outside of hosted
	// tests); tests substitute runtime.Gosched to avoid starving other
	// goroutines on a single-core test machine.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it
// busy-waits until the lock becomes available. Acquire/TryToAcquire use
// the AtomicCompareExchange32 primitive the intrinsics layer exposes (and
// Release its AtomicExchange32), so there is exactly one place in this module that knows how to
// perform a sequentially-consistent compare-and-swap.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active
// task. Re-acquiring a lock already held by the current task deadlocks.
func (l *Spinlock) Acquire() {
	for cpu.AtomicCompareExchange32(&l.state, 0, 1) != 0 {
		if yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock without blocking and reports
// whether it succeeded.
func (l *Spinlock) TryToAcquire() bool {
	return cpu.AtomicCompareExchange32(&l.state, 0, 1) == 0
}

// Release relinquishes a held lock, allowing other tasks to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	cpu.AtomicExchange32(&l.state, 0)
}
