// Package lapic drives the Local Advanced Programmable Interrupt
// Controller: per-CPU interrupt acknowledgment (EOI), the one-shot/
// periodic timer, and the inter-processor interrupt (IPI) send used by
// shrike/smp to bring up application processors.
//
// Only xAPIC (MMIO) mode is implemented; x2APIC (MSR-addressed) mode is
// detected by shrike/cpu.HasX2Apic but left unplumbed - a documented
// TODO rather than half-wiring a second mode with no caller.
package lapic

import (
	"shrike/cpu"
	"shrike/internal/mmio"
)

// MMIO register offsets within the Local APIC's 4KB window (Intel SDM
// vol. 3A table 10-1).
const (
	regID           = 0x020
	regVersion      = 0x030
	regEOI          = 0x0B0
	regSpurious     = 0x0F0
	regICRLow       = 0x300
	regICRHigh      = 0x310
	regLVTTimer     = 0x320
	regTimerInitCnt = 0x380
	regTimerCurCnt  = 0x390
	regTimerDivide  = 0x3E0
)

const spuriousVectorBit = 1 << 8 // APIC software-enable bit in the spurious vector register

// ICR delivery modes, shared with shrike/smp for INIT-SIPI-SIPI.
const (
	ICRDeliveryFixed       = 0x0 << 8
	ICRDeliveryNMI         = 0x4 << 8
	ICRDeliveryInit        = 0x5 << 8
	ICRDeliveryStartup     = 0x6 << 8
	ICRLevelAssert         = 1 << 14
	ICRTriggerLevel        = 1 << 15
	ICRDestShorthandSelf   = 1 << 18
	ICRDestShorthandAll    = 2 << 18
	ICRDestShorthandOthers = 3 << 18
)

// Timer modes for LVTTimer.
const (
	TimerOneShot  = 0x0 << 17
	TimerPeriodic = 0x1 << 17
)

var (
	readReg32  = mmio.Read32
	writeReg32 = mmio.Write32
)

// LAPIC represents the Local APIC of the CPU it runs on, addressed by its
// MMIO base (read once at Init from IA32_APIC_BASE; every CPU's Local
// APIC is banked to the same physical page by the processor itself, so
// each CPU's LAPIC value only ever touches its own hardware).
type LAPIC struct {
	Base uintptr
}

func (l *LAPIC) read(reg uint32) uint32     { return readReg32(l.Base + uintptr(reg)) }
func (l *LAPIC) write(reg uint32, v uint32) { writeReg32(l.Base+uintptr(reg), v) }

// baseFromMsr reads the Local APIC's MMIO base address out of
// IA32_APIC_BASE, masking off the enable bit and reserved low bits.
func baseFromMsr() uintptr {
	const baseMask = 0xFFFFF000
	return uintptr(cpu.ReadMsr(cpu.IA32_APIC_BASE) & baseMask)
}

// Init enables the Local APIC (the spurious-interrupt vector register's
// software-enable bit, which resets cleared on some processors) and
// installs spuriousVector as its spurious-interrupt vector. It must run
// once per CPU.
func Init(spuriousVector uint8) *LAPIC {
	l := &LAPIC{Base: baseFromMsr()}
	l.write(regSpurious, uint32(spuriousVector)|spuriousVectorBit)
	return l
}

// ID returns this CPU's Local APIC ID (bits 31:24 of the ID register).
func (l *LAPIC) ID() uint8 {
	return uint8(l.read(regID) >> 24)
}

// EOI signals end-of-interrupt to the Local APIC. It must be called by
// every interrupt handler that runs as a result of an external interrupt
// (as opposed to a CPU exception), or the Local APIC will never deliver
// another interrupt at that priority or lower.
func (l *LAPIC) EOI() {
	l.write(regEOI, 0)
}

// SetTimerDivide sets the timer's input clock divisor. divisor must be
// one of the eight hardware-encoded values (1, 2, 4, 8, 16, 32, 64, 128);
// DivideBy16 is a reasonable default. StartTimer does not set the
// divisor: the timer counts at whatever divisor was last programmed.
func (l *LAPIC) SetTimerDivide(encoded uint32) {
	l.write(regTimerDivide, encoded)
}

// Hardware-encoded timer divide values for SetTimerDivide.
const (
	DivideBy1   = 0xB
	DivideBy2   = 0x0
	DivideBy4   = 0x1
	DivideBy16  = 0x3
	DivideBy128 = 0xA
)

// StartTimer arms the timer to fire vector every period ticks of the
// divided input clock, in the given mode (TimerOneShot or TimerPeriodic).
// Converting a wall-clock period into a tick count is the caller's
// responsibility (shrike/arch calibrates this once at boot using
// shrike/hpet as a reference clock).
func (l *LAPIC) StartTimer(vector uint8, mode uint32, ticks uint32) {
	l.write(regLVTTimer, uint32(vector)|mode)
	l.write(regTimerInitCnt, ticks)
}

// StopTimer masks the timer's LVT entry, preventing further interrupts.
func (l *LAPIC) StopTimer() {
	const lvtMasked = 1 << 16
	l.write(regLVTTimer, lvtMasked)
}

// TimerCount returns the timer's current countdown value, used by
// calibration routines that start the timer, wait a reference interval,
// and read back how far it counted down.
func (l *LAPIC) TimerCount() uint32 {
	return l.read(regTimerCurCnt)
}

// waitDeliveryPending busy-waits for the prior ICR write's delivery
// status bit to clear, which the SDM requires before writing the ICR
// again.
func (l *LAPIC) waitDeliveryPending() {
	const deliveryStatusPending = 1 << 12
	for l.read(regICRLow)&deliveryStatusPending != 0 {
	}
}

// IPI sends an inter-processor interrupt to the CPU with the given Local
// APIC ID, with the given vector (ignored for INIT IPIs) and delivery
// flags (an ICRDelivery*/ICRLevel*/ICRTrigger* combination). It is the
// primitive shrike/smp uses to send the INIT and Startup IPIs during
// application-processor bring-up.
func (l *LAPIC) IPI(apicID uint8, vector uint8, flags uint32) {
	l.waitDeliveryPending()
	l.write(regICRHigh, uint32(apicID)<<24)
	l.write(regICRLow, uint32(vector)|flags)
	l.waitDeliveryPending()
}

// BroadcastIPI sends an inter-processor interrupt to every other CPU,
// using the ICR's "all excluding self" destination shorthand instead of
// addressing each Local APIC ID individually.
func (l *LAPIC) BroadcastIPI(vector uint8, flags uint32) {
	l.waitDeliveryPending()
	l.write(regICRLow, uint32(vector)|flags|ICRDestShorthandOthers)
	l.waitDeliveryPending()
}
