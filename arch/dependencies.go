// Package arch is the architecture-layer facade: it owns the two-stage
// boot sequence (GDT/IDT/virtual-memory bring-up, then everything that
// needs a heap and a CPU topology) and exposes the small,
// architecture-neutral surface the rest of the kernel is built against -
// interrupt registration, CPU enumeration, timers, IPIs - while
// delegating every subsystem underneath it to the packages in this
// module.
//
// Subsystems this layer does not implement itself - the heap, virtual
// memory, the exception-unwinding dispatcher, the scheduler, the ACPI/MADT
// parser that populates shrike/topology, a debug console - are consumed
// as interfaces supplied by the caller through Dependencies. shrike/arch
// never constructs one of these itself and never assumes a concrete
// implementation exists; a test harness can satisfy Dependencies entirely
// with fakes.
package arch

import (
	"unsafe"

	"shrike/irq"
	"shrike/smp"
)

// HeapAllocator is the stage-2 allocator. AllocZeroed returns nil on
// exhaustion. This layer does not call it: the I/O APIC set is built with
// ordinary Go allocation, and no per-CPU TSS blocks are allocated.
type HeapAllocator interface {
	AllocZeroed(nBytes uintptr) unsafe.Pointer
}

// VirtualMemory is initialized once, in stage 1, immediately after the
// IDT is loaded and before any stage-2 component that might need to map
// or fault in a page runs.
type VirtualMemory interface {
	Init()
}

// ExceptionHandling is consulted by shrike/irq's default handler before
// it gives up on an unregistered CPU exception: DispatchException gets
// first refusal at every fault, and only a false return causes this layer
// to print a diagnostic and halt.
type ExceptionHandling interface {
	Init()
	DispatchException(vector uint8, errorCode uint64, frame *irq.Frame) bool
}

// DebugConsole is a diagnostic-only output sink; nothing on a hot path
// depends on it existing.
type DebugConsole interface {
	WriteString(s string)
	WriteHex(v uint64)
	WriteDec(v uint64)
}

// Scheduler is the external collaborator SMP bring-up and per-CPU init
// report to. It is exactly shrike/smp.Scheduler; re-exported under this
// name so callers configuring Dependencies don't need to import
// shrike/smp themselves for the interface alone.
type Scheduler = smp.Scheduler

// Dependencies collects every external collaborator and boot-time
// parameter InitStage1/InitStage2 need. Nil fields are valid where the
// corresponding subsystem is genuinely absent (no HPET base address, no
// trampoline image on a single-CPU system); Init degrades gracefully
// rather than panicking, per this layer's error-handling policy.
type Dependencies struct {
	Heap       HeapAllocator
	VM         VirtualMemory
	Exceptions ExceptionHandling
	Scheduler  Scheduler
	Console    DebugConsole

	// HpetBase is the HPET's MMIO base address, discovered from ACPI and
	// zero if no HPET is present.
	HpetBase uintptr

	// TrampolineImage is the real-mode AP bring-up code, assembled and
	// supplied by the boot loader/linker step; nil on a single-CPU
	// system, where shrike/smp.Init is never reached.
	TrampolineImage []byte

	// SpuriousVector and TimerVector are the IDT vectors this layer
	// programs the Local APIC's spurious-interrupt and periodic-timer
	// LVT entries to use.
	SpuriousVector uint8
	TimerVector    uint8

	// ApBringupTimeoutNs bounds how long stage 2 waits for each AP to
	// acknowledge its Startup IPI before giving up on it.
	ApBringupTimeoutNs uint64
}
