// Package irq dispatches CPU exceptions and hardware interrupts to
// registered Go handlers. shrike/idt installs a single trampoline per
// vector that ultimately calls dispatch below; this package owns the
// mapping from vector number to handler and the default policy (panic
// with a register/disassembly dump) when no handler is registered for an
// exception.
package irq

import (
	"shrike/cpu"
	"shrike/idt"
	"shrike/kfmt"

	"golang.org/x/arch/x86/x86asm"
)

// Regs is a snapshot of the general-purpose registers at the moment an
// interrupt or exception occurred. Field order matches the layout the
// trampoline in irq_amd64.s pushes onto the stack before calling dispatch.
type Regs struct {
	R15, R14, R13, R12 uint64
	R11, R10, R9, R8   uint64
	RBP, RDI, RSI      uint64
	RDX, RCX, RBX, RAX uint64
}

// Frame is the exception frame the CPU pushes automatically: the saved
// instruction pointer, code segment, flags, and (after a privilege-level
// change) stack pointer and segment.
type Frame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Vector identifies one of the 256 interrupt/exception/IRQ slots.
type Vector uint8

// Reserved CPU exception vectors (Intel SDM vol. 3A table 6-1).
const (
	DivideByZero               Vector = 0
	Debug                      Vector = 1
	NMI                        Vector = 2
	Breakpoint                 Vector = 3
	Overflow                   Vector = 4
	BoundRangeExceeded         Vector = 5
	InvalidOpcode              Vector = 6
	DeviceNotAvailable         Vector = 7
	DoubleFault                Vector = 8
	InvalidTSS                 Vector = 10
	SegmentNotPresent          Vector = 11
	StackSegmentFault          Vector = 12
	GPFException               Vector = 13
	PageFaultException         Vector = 14
	FloatingPointException     Vector = 16
	AlignmentCheck             Vector = 17
	MachineCheck               Vector = 18
	SIMDFloatingPointException Vector = 19
)

var exceptionNames = map[Vector]string{
	DivideByZero:               "Divide-by-Zero",
	Debug:                      "Debug",
	NMI:                        "Non-Maskable Interrupt",
	Breakpoint:                 "Breakpoint",
	Overflow:                   "Overflow",
	BoundRangeExceeded:         "Bound Range Exceeded",
	InvalidOpcode:              "Invalid Opcode",
	DeviceNotAvailable:         "Device Not Available",
	DoubleFault:                "Double Fault",
	InvalidTSS:                 "Invalid TSS",
	SegmentNotPresent:          "Segment Not Present",
	StackSegmentFault:          "Stack-Segment Fault",
	GPFException:               "General Protection Fault",
	PageFaultException:         "Page Fault",
	FloatingPointException:     "x87 Floating-Point Exception",
	AlignmentCheck:             "Alignment Check",
	MachineCheck:               "Machine Check",
	SIMDFloatingPointException: "SIMD Floating-Point Exception",
}

// Name returns a human-readable name for vector if it is a reserved CPU
// exception, or "Unknown" otherwise (including reserved-but-unnamed
// exception vectors such as 9, 15, and 21).
func Name(v Vector) string {
	if name, ok := exceptionNames[v]; ok {
		return name
	}
	return "Unknown"
}

// hasErrorCode reports whether the CPU pushes a 64-bit error code below
// the exception frame for this vector.
func hasErrorCode(v Vector) bool {
	switch v {
	case 8, 10, 11, 12, 13, 14, 17:
		return true
	}
	return false
}

// Handler processes an interrupt or exception. errorCode is only
// meaningful when hasErrorCode(vector) is true. Returning leaves frame and
// regs in place for IRETQ to resume execution; handlers that mutate them
// (for example, advancing RIP past the faulting instruction) change where
// execution resumes.
type Handler func(vector Vector, errorCode uint64, frame *Frame, regs *Regs)

var handlers [256]Handler

// Register installs handler as the receiver for vector. Registering over
// an existing handler replaces it; there is intentionally no "already
// registered" error, since re-registration is a normal part of driver
// probe/re-probe sequences.
func Register(vector Vector, handler Handler) {
	handlers[vector] = handler
}

// Unregister removes any handler installed for vector, reverting it to
// the default policy.
func Unregister(vector Vector) {
	handlers[vector] = nil
}

// HandlerFor returns the handler currently registered for vector, or nil.
func HandlerFor(vector Vector) Handler {
	return handlers[vector]
}

// trapStack mirrors the exact memory layout the assembly trampoline
// assembles on the interrupted stack: the 15 general-purpose registers
// pushed by commonStub (in Regs field order), the vector number and error
// code pushed by the per-vector stub, and the Frame pushed by the CPU
// itself. trapEntry is handed a pointer to this struct instead of four
// separate arguments so the asm/Go calling boundary only has to marshal a
// single pointer.
type trapStack struct {
	Regs
	Vector    uint64
	ErrorCode uint64
	Frame
}

// trapEntry is called by commonStub (shrike/irq/irq_amd64.s) for every
// vector. It is marked nosplit because it may run before a valid g/stack
// guard exists this early in boot.
//
//go:nosplit
func trapEntry(s *trapStack) {
	dispatch(Vector(s.Vector), s.ErrorCode, &s.Frame, &s.Regs)
}

// dispatch routes vector to its registered handler, or to defaultHandler
// if none is registered.
func dispatch(vector Vector, errorCode uint64, frame *Frame, regs *Regs) {
	if h := handlers[vector]; h != nil {
		h(vector, errorCode, frame, regs)
		return
	}
	defaultHandler(vector, errorCode, frame, regs)
}

// istOffset returns the Interrupt Stack Table slot the given exception
// must run on, or 0 to stay on the interrupted task's own stack. These
// four faults are the ones that can legitimately occur while the
// currently active stack is unusable (a blown kernel stack, a fault
// inside the double-fault handler itself), so they each get a dedicated,
// known-good stack.
func istOffset(v Vector) uint8 {
	switch v {
	case DoubleFault:
		return 1
	case NMI:
		return 2
	case MachineCheck:
		return 3
	case StackSegmentFault:
		return 4
	default:
		return 0
	}
}

// Init installs every one of the 256 assembly stubs into the IDT and
// loads it. It must run once per CPU, after shrike/gdt has built that
// CPU's GDT/TSS (the TSS supplies the IST stack pointers istOffset
// refers to).
func Init() {
	for v := 0; v < 256; v++ {
		idt.SetGate(idt.Vector(v), vectorStubAddr(Vector(v)), istOffset(Vector(v)), idt.GateInterrupt)
	}
	idt.Load()
}

// vectorStubAddr returns the address of the per-vector assembly stub that
// shrike/idt should install as the gate handler for vector. Every gate in
// the IDT points at one of these stubs rather than at a Go function
// directly; there is no supported way to take the address of a Go
// function and hand it to the CPU as an interrupt gate target.
func vectorStubAddr(vector Vector) uintptr

// ExceptionDispatch, when non-nil, is offered every CPU exception (vector
// 0-31) before this package's own diagnostic-and-halt default handler
// runs. shrike/arch wires this to its ExceptionHandling collaborator's
// DispatchException during stage 2; until then (and on any vector a
// dispatcher declines) the default handler below is the only policy.
var ExceptionDispatch func(vector Vector, errorCode uint64, frame *Frame) bool

// defaultHandler is invoked for any vector without a registered handler.
// Unregistered hardware interrupts (vector 32-255) are silently
// acknowledged (the APIC layer still needs its EOI sent, which is the
// caller's responsibility per shrike/lapic). Vectors 0-31 are reserved
// CPU exceptions, including ones with no assigned name (9, 15, 21, ...) -
// those are still exceptions, not IRQs, and are first offered to
// ExceptionDispatch; only if it is nil or declines does this package
// print a diagnostic and halt.
func defaultHandler(vector Vector, errorCode uint64, frame *Frame, regs *Regs) {
	if vector >= 32 {
		// Unregistered hardware interrupt: nothing fatal about it, just
		// nowhere for it to go.
		return
	}

	if ExceptionDispatch != nil && ExceptionDispatch(vector, errorCode, frame) {
		return
	}

	kfmt.Printf("\nEXCEPTION %04x: %s (error code %d)\n", uint8(vector), Name(vector), errorCode)
	kfmt.Printf("RIP = %16x CS  = %16x\n", frame.RIP, frame.CS)
	kfmt.Printf("RSP = %16x SS  = %16x\n", frame.RSP, frame.SS)
	kfmt.Printf("RFL = %16x\n", frame.RFlags)
	if vector == PageFaultException {
		kfmt.Printf("CR2 = %16x\n", cpu.ReadCR2())
	}
	dumpFaultingInstruction(frame.RIP)
	kfmt.Panic("unhandled exception")
}

// dumpFaultingInstruction disassembles and prints the instruction at rip,
// best-effort. A real kernel would map rip's containing page into the
// decoder's input; this helper is written against a plain byte slice so
// the boundary with virtual memory stays a single, easily-stubbed call.
var readInstructionBytes = func(rip uint64) []byte { return nil }

func dumpFaultingInstruction(rip uint64) {
	code := readInstructionBytes(rip)
	if len(code) == 0 {
		return
	}

	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		kfmt.Printf("faulting instruction: <decode error>\n")
		return
	}

	kfmt.Printf("faulting instruction: %s\n", x86asm.GNUSyntax(inst, rip, nil))
}
