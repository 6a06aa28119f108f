// Package cpu provides thin, typed bindings to the privileged x86-64
// instructions the rest of the architecture layer is built on: interrupt
// control, control/model-specific registers, I/O ports, CPUID, extended
// (FPU/SSE/AVX) state, the TLB, atomics, and the context-switch primitives.
//
// Every binding here is a one-to-one wrapper over a single instruction (or
// a short, fixed instruction sequence); none of them can fail in the usual
// Go sense. Misuse - writing a reserved MSR, dereferencing a bad CR3 - is
// reported by the CPU as a #GP/#PF that surfaces later through the
// interrupt dispatcher, not as a Go error return.
package cpu

// Named MSRs used by the per-CPU state layer (shrike/percpu) and the
// context-switch primitives.
const (
	IA32_FS_BASE        = 0xC0000100
	IA32_GS_BASE        = 0xC0000101
	IA32_KERNEL_GS_BASE = 0xC0000102
	IA32_APIC_BASE      = 0x0000001B
	IA32_TSC_DEADLINE   = 0x000006E0
)

var cpuidFn = ID

// DisableInterrupts clears the IF flag in RFLAGS.
func DisableInterrupts()

// EnableInterrupts sets the IF flag in RFLAGS.
func EnableInterrupts()

// AreInterruptsEnabled reads RFLAGS.IF.
func AreInterruptsEnabled() bool

// Halt suspends execution until the next interrupt arrives. Unlike
// HaltForever it returns once an interrupt (even a spurious one) fires.
func Halt()

// HaltForever disables interrupts and halts the CPU in an infinite loop.
// It is used from unrecoverable fault paths and never returns.
func HaltForever()

// Breakpoint raises interrupt 3 (INT3).
func Breakpoint()

// ReadCR0 returns the value of CR0.
func ReadCR0() uint64

// WriteCR0 sets CR0.
func WriteCR0(v uint64)

// ReadCR2 returns the value of CR2, the faulting address latched by the
// CPU on the most recent page fault. CR2 is read-only.
func ReadCR2() uint64

// ReadCR3 returns the physical address of the active page table root.
func ReadCR3() uint64

// WriteCR3 sets the active page table root, flushing all non-global TLB
// entries as a side effect.
func WriteCR3(v uint64)

// FlushTLB flushes all non-global TLB entries. It is the idiomatic
// write_cr3(read_cr3()).
func FlushTLB() {
	WriteCR3(ReadCR3())
}

// ReadCR4 returns the value of CR4.
func ReadCR4() uint64

// WriteCR4 sets CR4.
func WriteCR4(v uint64)

// ReadXCR0 returns the value of the XFEATURE_ENABLED_MASK extended
// control register.
func ReadXCR0() uint64

// WriteXCR0 sets XCR0.
func WriteXCR0(v uint64)

// ReadMsr returns the value of the model-specific register at index.
func ReadMsr(index uint32) uint64

// WriteMsr sets the model-specific register at index to value.
func WriteMsr(index uint32, value uint64)

// InByte reads a byte from the given I/O port.
func InByte(port uint16) uint8

// OutByte writes a byte to the given I/O port.
func OutByte(port uint16, v uint8)

// InWord reads a 16-bit word from the given I/O port.
func InWord(port uint16) uint16

// OutWord writes a 16-bit word to the given I/O port.
func OutWord(port uint16, v uint16)

// InDword reads a 32-bit dword from the given I/O port.
func InDword(port uint16) uint32

// OutDword writes a 32-bit dword to the given I/O port.
func OutDword(port uint16, v uint32)

// ID is the raw CPUID instruction: EAX=leaf, ECX=subleaf on entry, and the
// resulting EAX/EBX/ECX/EDX on return.
func ID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0, 0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasAPIC reports whether the CPU advertises a Local APIC (CPUID.01h:EDX[9]).
func HasAPIC() bool {
	_, _, _, edx := cpuidFn(1, 0)
	return edx&(1<<9) != 0
}

// HasX2Apic reports whether the CPU supports x2APIC mode (CPUID.01h:ECX[21]).
func HasX2Apic() bool {
	_, _, ecx, _ := cpuidFn(1, 0)
	return ecx&(1<<21) != 0
}

// HasXsave reports whether the CPU supports the XSAVE instruction family
// (CPUID.01h:ECX[26]).
func HasXsave() bool {
	_, _, ecx, _ := cpuidFn(1, 0)
	return ecx&(1<<26) != 0
}

// ReadTSC returns the current Time Stamp Counter value.
func ReadTSC() uint64

// ReadRFlags returns the current RFLAGS value.
func ReadRFlags() uint64

// ReadRSP returns the current stack pointer.
func ReadRSP() uint64
