package arch

import (
	"unsafe"

	"shrike/cpu"
	"shrike/gdt"
	"shrike/hpet"
	"shrike/idt"
	"shrike/ioapic"
	"shrike/irq"
	"shrike/kfmt"
	"shrike/lapic"
	"shrike/percpu"
	"shrike/rtc"
	"shrike/smp"
	"shrike/topology"
)

// stage tracks how far boot has progressed, so InitStage1/InitStage2 can
// refuse to run twice and callers of the facade surface can tell whether
// the subsystems they are about to touch exist yet.
type stage int

const (
	stageUninitialized stage = iota
	stageOne
	stageTwo
)

var (
	currentStage stage

	lap     *lapic.LAPIC
	hp      *hpet.HPET
	ioSet   *ioapic.Set
	top     *topology.Topology
	sched   Scheduler
	console DebugConsole

	timerVector    uint8
	tickCount      uint64
	timerFrequency uint64
)

// InitStage1 builds the GDT (installing the BSP's TSS into it), loads the
// IDT with every interrupt/exception stub, and hands off to vm for the
// virtual-memory bring-up that has to happen before any stage-2
// component that might fault in a page runs. It is a no-op on every call
// after the first.
func InitStage1(vm VirtualMemory) {
	if currentStage != stageUninitialized {
		return
	}

	gdt.Init()
	gdt.InstallTSS(uintptr(unsafe.Pointer(gdt.Tss())), uint32(unsafe.Sizeof(gdt.TSS{}))-1)
	gdt.Load()

	idt.SetCodeSelector(uint16(gdt.KernelCodeSelector))
	irq.Init()

	percpu.Init(0, true)

	if vm != nil {
		vm.Init()
	}

	currentStage = stageOne
}

// InitStage2 wires in every collaborator that needs a heap and a CPU
// topology to exist: the external exception dispatcher, the HPET/RTC
// clocks, the Local APIC and its calibrated timer, I/O APIC interrupt
// routing (disabling the legacy 8259s first, so the two controllers are
// never both live for the same IRQ line), and - if topology reports more
// than one CPU - application-processor bring-up. It must run exactly
// once, after InitStage1 and after deps.Heap is usable, and it panics if
// called before InitStage1 or more than once.
func InitStage2(t *topology.Topology, deps Dependencies) {
	if currentStage != stageOne {
		kfmt.Panic("arch: InitStage2 called out of order")
	}

	top = t
	sched = deps.Scheduler
	console = deps.Console
	timerVector = deps.TimerVector

	logLine(console, "arch: stage 2 starting")

	if deps.Exceptions != nil {
		irq.ExceptionDispatch = deps.Exceptions.DispatchException
		deps.Exceptions.Init()
	}

	if deps.HpetBase != 0 {
		hp, _ = hpet.Init(deps.HpetBase)
	}
	now := rtc.Now()
	if console != nil {
		console.WriteString("arch: wall clock read as ")
		console.WriteDec(uint64(now.Hour))
		console.WriteString(":")
		console.WriteDec(uint64(now.Minute))
		console.WriteString(":")
		console.WriteDec(uint64(now.Second))
		console.WriteString("\n")
	}

	lap = lapic.Init(deps.SpuriousVector)
	ticks := calibrateTimerTicks(lap, hp)
	timerFrequency = calibratedFrequency(ticks)
	lap.StartTimer(deps.TimerVector, lapic.TimerPeriodic, ticks)
	irq.Register(irq.Vector(deps.TimerVector), onTimerTick)

	ioSet = buildIOApicSet(top)
	if ioSet != nil {
		// The 8259s must stop owning ISA IRQ lines before the I/O APIC
		// is programmed to route any of the same lines, or both
		// controllers could briefly be able to deliver the same
		// interrupt.
		ioapic.DisableLegacyPics(ioapic.IsaVectorBase)
		ioSet.SetupIsaIrqs(top.BspApicId())
	}

	if top.CpuCount() > 1 && deps.Scheduler != nil {
		booted := smp.Init(top, lap, hp, deps.TrampolineImage, deps.ApBringupTimeoutNs)
		if console != nil {
			console.WriteString("arch: secondary CPUs booted: ")
			console.WriteDec(uint64(booted))
			console.WriteString("\n")
		}
	}
	if deps.Scheduler != nil {
		deps.Scheduler.EnableSmp()
	}

	cpu.EnableInterrupts()
	currentStage = stageTwo
}

// logLine writes msg to console if one was supplied; diagnostics are
// best-effort and never block boot on a missing console.
func logLine(c DebugConsole, msg string) {
	if c != nil {
		c.WriteString(msg)
		c.WriteString("\n")
	}
}

const calibrationReferenceMs = 10
const uncalibratedTicksGuess = 1_000_000

// calibrateTimerTicks measures how many LAPIC timer divisor-16 ticks
// elapse in one millisecond of HPET reference time, by starting the
// timer at its maximum count and reading back how far it counted down
// over a fixed reference wait. A nil/uninitialized HPET leaves the
// timer running at an uncalibrated, conservative guess rather than
// blocking boot on hardware that may not exist.
func calibrateTimerTicks(l *lapic.LAPIC, h *hpet.HPET) uint32 {
	if h == nil || !h.IsInitialized() {
		return uncalibratedTicksGuess
	}

	const maxCount = 0xFFFFFFFF
	l.SetTimerDivide(lapic.DivideBy16)
	l.StartTimer(0, lapic.TimerOneShot, maxCount)
	h.BusyWaitNs(calibrationReferenceMs * 1_000_000)
	remaining := l.TimerCount()
	l.StopTimer()

	elapsed := uint32(maxCount) - remaining
	if elapsed == 0 {
		return uncalibratedTicksGuess
	}
	// elapsed ticks per calibrationReferenceMs; scale to the 1kHz period
	// StartTimer is called with below (one tick interval == 1ms).
	return elapsed / calibrationReferenceMs
}

func calibratedFrequency(ticksPerPeriod uint32) uint64 {
	// The timer is programmed to fire once per millisecond (ticksPerPeriod
	// ticks of the divided clock), so the periodic tick rate is 1kHz
	// regardless of how calibration resolved ticksPerPeriod itself.
	return 1000
}

// onTimerTick is the handler registered for the calibrated periodic
// timer: it advances the tick count returned by GetTickCount and
// signals end-of-interrupt so the Local APIC keeps delivering it.
func onTimerTick(_ irq.Vector, _ uint64, _ *irq.Frame, _ *irq.Regs) {
	tickCount++
	if lap != nil {
		lap.EOI()
	}
}

// buildIOApicSet allocates one ioapic.IOAPIC per topology.IOApic record
// and wraps them in a Set, or returns nil if topology reports none.
func buildIOApicSet(t *topology.Topology) *ioapic.Set {
	n := t.IOApicCount()
	if n == 0 {
		return nil
	}
	apics := make([]*ioapic.IOAPIC, 0, n)
	for i := 0; i < n; i++ {
		rec, ok := t.GetIOApic(i)
		if !ok {
			continue
		}
		apics = append(apics, &ioapic.IOAPIC{Base: rec.Base, GSIBase: rec.GsiBase})
	}
	return ioapic.NewSet(apics, t)
}

// CpuCount returns the number of CPUs topology reported at InitStage2, or
// 1 before InitStage2 has run.
func CpuCount() int {
	if top == nil {
		return 1
	}
	return top.CpuCount()
}

// CurrentCpuIndex returns the calling CPU's logical index.
func CurrentCpuIndex() uint8 {
	return percpu.CpuIndex()
}

// IsBsp reports whether the calling CPU is the bootstrap processor.
func IsBsp() bool {
	return percpu.IsBsp()
}

// RegisterInterruptHandler installs handler as the receiver for vector.
func RegisterInterruptHandler(vector uint8, handler irq.Handler) {
	irq.Register(irq.Vector(vector), handler)
}

// UnregisterInterruptHandler reverts vector to the default policy.
func UnregisterInterruptHandler(vector uint8) {
	irq.Unregister(irq.Vector(vector))
}

// EnableInterrupts unmasks interrupts on the calling CPU.
func EnableInterrupts() { cpu.EnableInterrupts() }

// DisableInterrupts masks interrupts on the calling CPU.
func DisableInterrupts() { cpu.DisableInterrupts() }

// InterruptsEnabled reports whether interrupts are currently unmasked on
// the calling CPU.
func InterruptsEnabled() bool { return cpu.AreInterruptsEnabled() }

// EndOfInterrupt signals the Local APIC that the handler for vector has
// finished. This is a TODO at the facade level: handlers remain
// responsible for calling it themselves at the point in their own logic
// where the interrupt priority should drop, since an auto-EOI after
// dispatch-return would be too early for a handler that defers work to a
// lower-priority context.
func EndOfInterrupt(vector uint8) {
	if lap != nil {
		lap.EOI()
	}
}

// Halt executes a single halt instruction, returning once the next
// interrupt (including a masked one, per HLT's semantics) arrives.
func Halt() { cpu.Halt() }

// HaltForever halts the CPU in a loop that never returns; nothing in
// this module's scope resumes a CPU that has called it.
func HaltForever() { cpu.HaltForever() }

// Breakpoint executes INT3.
func Breakpoint() { cpu.Breakpoint() }

// GetTickCount returns the number of periodic timer interrupts serviced
// since InitStage2 armed the timer.
func GetTickCount() uint64 { return tickCount }

// GetTimerFrequency returns the periodic timer's calibrated tick rate,
// in Hz.
func GetTimerFrequency() uint64 { return timerFrequency }

// busyWaitClock is satisfied by *hpet.HPET; indirected so BusyWaitNs/Ms
// can fall back to a spin loop when no HPET was configured.
type busyWaitClock interface {
	BusyWaitNs(ns uint64)
}

type spinClock struct{}

func (spinClock) BusyWaitNs(ns uint64) {
	iterations := ns / 100
	for i := uint64(0); i < iterations; i++ {
		cpu.ID(0, 0)
	}
}

func waitClock() busyWaitClock {
	if hp != nil && hp.IsInitialized() {
		return hp
	}
	return spinClock{}
}

// BusyWaitNs busy-waits for approximately ns nanoseconds.
func BusyWaitNs(ns uint64) { waitClock().BusyWaitNs(ns) }

// BusyWaitMs busy-waits for approximately ms milliseconds.
func BusyWaitMs(ms uint64) { waitClock().BusyWaitNs(ms * 1_000_000) }

// GetThrowExceptionFuncPtr returns the entry point an external
// exception-handling unwinder resumes execution through after
// unwinding: shrike/cpu.RestorePALContext, exposed here as a bare
// function pointer since the unwinder (out of this module's scope)
// cannot import shrike/cpu's unsafe-pointer signature directly without
// creating a dependency this layer is supposed to own instead.
func GetThrowExceptionFuncPtr() uintptr {
	return restorePALContextAddr()
}

// GetRethrowFuncPtr returns the same entry point as
// GetThrowExceptionFuncPtr; the two are named separately only because
// the external unwinder's throw and rethrow paths both need a function
// pointer and may one day diverge.
func GetRethrowFuncPtr() uintptr {
	return restorePALContextAddr()
}

// restorePALContextAddr returns the address of shrike/cpu.RestorePALContext.
// Like shrike/irq.vectorStubAddr, a Go function value cannot be handed to
// external code as a bare code pointer; the address is looked up in
// assembly instead.
func restorePALContextAddr() uintptr

// ContextSize returns the size in bytes of a saved callee-saved register
// context, for callers that need to allocate one.
func ContextSize() uintptr {
	return unsafe.Sizeof(cpu.Context{})
}

// ExtendedStateSize returns the size in bytes callers must reserve for
// the FPU/SSE/AVX extended state buffer a cpu.Context.ExtendedState
// points at.
func ExtendedStateSize() uint32 {
	return cpu.ExtendedStateSize()
}

// InitSecondaryCpu is the AP-side half of SMP bring-up: each application
// processor calls this on itself, once its trampoline has switched it
// into long mode, before anything else. It sets up that CPU's own
// per-CPU record and registers it with the scheduler, then publishes
// apNum (this AP's 1-based bring-up ordinal, as passed to it by the
// trampoline setup) as alive via smp.ApAck - only after both are done,
// so that by the time shrike/smp.Init observes the ack this CPU is
// already fully registered and never runs scheduler code beforehand.
func InitSecondaryCpu(cpuIndex uint8, apNum uint8) {
	percpu.Init(cpuIndex, false)
	if sched != nil {
		sched.InitSecondaryCpu(cpuIndex)
	}
	smp.ApAck(apNum)
}

// StartSecondaryCpus brings up every non-BSP CPU topology reports,
// using trampolineImage as the real-mode bring-up code and ackTimeoutNs
// as the per-AP acknowledgment timeout. It returns the number of APs
// that acked. Calling it on a single-CPU topology is a safe no-op.
func StartSecondaryCpus(trampolineImage []byte, ackTimeoutNs uint64) int {
	if top == nil || sched == nil {
		return 0
	}
	return smp.Init(top, lap, hp, trampolineImage, ackTimeoutNs)
}

// SendIpi sends a fixed-delivery-mode interrupt carrying vector to the
// CPU at topology index cpuIndex.
func SendIpi(cpuIndex uint8, vector uint8) {
	if lap == nil || top == nil {
		return
	}
	c, ok := top.GetCpu(int(cpuIndex))
	if !ok {
		return
	}
	lap.IPI(c.ApicID, vector, lapic.ICRDeliveryFixed)
}

// BroadcastIpi sends vector to every CPU other than the caller.
func BroadcastIpi(vector uint8) {
	if lap == nil {
		return
	}
	lap.BroadcastIPI(vector, lapic.ICRDeliveryFixed)
}
