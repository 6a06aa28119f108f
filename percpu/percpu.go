// Package percpu manages the fixed-size per-CPU record each CPU's
// IA32_GS_BASE MSR points at: its logical index, whether it is the
// bootstrap processor, and the scheduler's current/idle context
// pointers. Set up once during each CPU's own bring-up, then addressed
// through GS for the rest of that CPU's lifetime.
package percpu

import (
	"unsafe"

	"shrike/cpu"
)

// MaxCPUs bounds the static per-CPU table; this layer runs before a
// heap exists on some CPUs (the BSP's stage 1), so the table is a fixed
// BSS array rather than a slice grown as CPUs come online.
const MaxCPUs = 256

// Record is the fixed-size per-CPU state block. CurrentContext and
// IdleContext are opaque to this package; the scheduler (out of scope
// here) owns their contents and casts them back to *cpu.Context.
type Record struct {
	Index         uint8
	IsBsp         bool
	isInitialized bool

	CurrentContext unsafe.Pointer
	IdleContext    unsafe.Pointer
}

var table [MaxCPUs]Record

// readMsr/writeMsr are indirected through package variables so tests
// can substitute a plain variable for IA32_GS_BASE in place of a real
// MSR.
var (
	readMsr  = cpu.ReadMsr
	writeMsr = cpu.WriteMsr
)

// Init populates table[index] and programs this CPU's IA32_GS_BASE to
// point at it. It must run once per CPU, during that CPU's own
// bring-up, on the CPU whose record is being installed (IA32_GS_BASE is
// per-CPU state; writing it from another CPU would program the wrong
// one).
func Init(index uint8, isBsp bool) {
	r := &table[index]
	*r = Record{Index: index, IsBsp: isBsp, isInitialized: true}
	writeMsr(cpu.IA32_GS_BASE, uint64(uintptr(unsafe.Pointer(r))))
}

// current returns this CPU's record via GS_BASE, as the CPU that called
// Init for it set it up.
func current() *Record {
	addr := readMsr(cpu.IA32_GS_BASE)
	return (*Record)(unsafe.Pointer(uintptr(addr)))
}

// CpuIndex returns the calling CPU's logical index.
func CpuIndex() uint8 {
	return current().Index
}

// IsBsp reports whether the calling CPU is the bootstrap processor.
func IsBsp() bool {
	return current().IsBsp
}

// IsInitialized reports whether Init has run on the calling CPU. Code
// that might run before percpu.Init (very early in stage 1, on a CPU
// that has not yet had its GS_BASE programmed) must check this before
// calling CpuIndex/IsBsp, since GS_BASE defaults to zero and those would
// then dereference a nil record pointer.
func IsInitialized() bool {
	addr := readMsr(cpu.IA32_GS_BASE)
	if addr == 0 {
		return false
	}
	return current().isInitialized
}

// Current returns this CPU's current-thread context pointer.
func Current() unsafe.Pointer {
	return current().CurrentContext
}

// SetCurrent updates this CPU's current-thread context pointer.
func SetCurrent(p unsafe.Pointer) {
	current().CurrentContext = p
}

// Idle returns this CPU's idle-thread context pointer.
func Idle() unsafe.Pointer {
	return current().IdleContext
}

// SetIdle updates this CPU's idle-thread context pointer.
func SetIdle(p unsafe.Pointer) {
	current().IdleContext = p
}
