// Package smp brings up application processors via the INIT-SIPI-SIPI
// sequence: copy a real-mode trampoline to a low-memory page, send INIT
// then (after the mandated delay) two Startup IPIs, and wait for each AP
// to either publish its "alive" flag or time out.
//
// The trampoline itself - the 16-bit real-mode code that switches an AP
// into protected then long mode and jumps into Go code - is produced by
// the boot loader/linker step that assembles this kernel's boot image,
// not by this package: a plain Go source file has no way to emit 16-bit
// real-mode machine code. smp only copies whatever image it is handed to
// the fixed low-memory address the AP's reset vector expects.
package smp

import (
	"shrike/cpu"
	"shrike/hpet"
	"shrike/internal/mmio"
	"shrike/lapic"
	"shrike/topology"
)

// TrampolineAddress is the low-memory page the trampoline image is
// copied to and the address every AP starts executing at out of reset.
// It must be below 1MB and page-aligned, since the startup IPI vector
// is the address's top 8 bits shifted down by 12.
const TrampolineAddress = 0x8000

// MaxAps bounds the alive-flag table; CPU 0 is always the BSP and never
// has a flag of its own.
const MaxAps = 255

// Scheduler is the external collaborator each newly-alive AP reports to
// and that the BSP tells to start dispatching once every AP has
// checked in.
type Scheduler interface {
	InitSecondaryCpu(cpuIndex uint8)
	EnableSmp()
}

// aliveFlags[apNum-1] is nonzero once the AP with bring-up ordinal apNum
// has completed its trampoline and called ApAck. Reads and writes go
// through shrike/cpu's sequentially-consistent atomics, the same
// publication discipline the rest of this module uses for state one CPU
// writes and another polls.
var aliveFlags [MaxAps]uint32

// busyWaiter abstracts the timed wait between INIT and the first SIPI,
// and the per-AP acknowledgment timeout, over whichever clock is
// available: an initialized HPET if one exists, or a plain spin loop
// otherwise (degraded, but bring-up must still make progress without
// one).
type busyWaiter interface {
	BusyWaitNs(ns uint64)
}

type spinWaiter struct{}

func (spinWaiter) BusyWaitNs(ns uint64) {
	// ~10 pause-equivalent iterations per microsecond is a rough,
	// uncalibrated estimate; accuracy does not matter here; only that
	// bring-up does not race ahead of the AP before it has had a
	// chance to observe the IPI.
	iterations := ns / 100
	for i := uint64(0); i < iterations; i++ {
		cpu.ID(0, 0)
	}
}

func waiterFor(h *hpet.HPET) busyWaiter {
	if h != nil && h.IsInitialized() {
		return h
	}
	return spinWaiter{}
}

// waiterForFn is indirected through a package variable so tests can
// substitute an instant fake in place of a real or spin-loop wait.
var waiterForFn = waiterFor

// copyTrampoline is indirected through a package variable so tests can
// avoid writing to the real low-memory trampoline address.
var copyTrampoline = mmio.CopyBytes

// ApAck is called by each AP, once its trampoline has finished switching
// it into long mode and installed its percpu.Record, to publish that it
// is alive. apNum is this AP's 1-based bring-up ordinal (the Nth
// non-BSP CPU Init walks past), which the trampoline setup communicates
// to the AP alongside the rest of its boot parameters - distinct from
// its topology index or Local APIC ID.
func ApAck(apNum uint8) {
	cpu.AtomicExchange32(&aliveFlags[apNum-1], 1)
}

// waitForAck busy-waits up to timeoutNs for apNum's alive flag, using w
// as the time reference. It returns false if the AP never acked, so
// bring-up can mark it dead in topology and continue with the rest.
func waitForAck(w busyWaiter, apNum uint8, timeoutNs uint64) bool {
	const pollIntervalNs = 100_000
	waited := uint64(0)
	for waited < timeoutNs {
		if cpu.AtomicExchange32(&aliveFlags[apNum-1], 0) != 0 {
			return true
		}
		w.BusyWaitNs(pollIntervalNs)
		waited += pollIntervalNs
	}
	return cpu.AtomicExchange32(&aliveFlags[apNum-1], 0) != 0
}

// Init copies trampolineImage to TrampolineAddress and brings up every
// non-BSP CPU topology reports, in order: INIT, a 10ms wait, then two
// Startup IPIs carrying the trampoline's page as its vector, per the
// AMD64/Intel SDM's documented SMP bring-up sequence. Each AP is given
// ackTimeoutNs to call ApAck before it is given up on. ApAck is only
// published by shrike/arch.InitSecondaryCpu once that AP has finished its
// own percpu/scheduler registration (the AP-side half of this handshake),
// so by the time Init sees an ack the AP is already fully registered;
// Init itself only waits and counts, it does not reach into the
// scheduler on the AP's behalf. It returns the number of APs that acked.
// Init does not call sched.EnableSmp - that is the caller's decision to
// make exactly once, after every CPU (including a lone BSP) has reached
// this point in boot.
func Init(top *topology.Topology, lap *lapic.LAPIC, h *hpet.HPET, trampolineImage []byte, ackTimeoutNs uint64) int {
	n := top.CpuCount()
	if n <= 1 {
		return 0
	}

	copyTrampoline(TrampolineAddress, trampolineImage)

	w := waiterForFn(h)
	vector := uint8(TrampolineAddress >> 12)

	booted := 0
	apNum := uint8(0)
	for i := 0; i < n; i++ {
		c, ok := top.GetCpu(i)
		if !ok || c.ApicID == top.BspApicId() {
			continue
		}
		apNum++

		lap.IPI(c.ApicID, 0, lapic.ICRDeliveryInit|lapic.ICRLevelAssert)
		w.BusyWaitNs(10_000_000)

		lap.IPI(c.ApicID, vector, lapic.ICRDeliveryStartup)
		w.BusyWaitNs(200_000)
		lap.IPI(c.ApicID, vector, lapic.ICRDeliveryStartup)

		if waitForAck(w, apNum, ackTimeoutNs) {
			booted++
		}
	}

	return booted
}

