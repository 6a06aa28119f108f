package ioapic

import "shrike/cpu"

// 8259A Programmable Interrupt Controller I/O ports.
const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1
)

// Initialization Command Word bits.
const (
	icw1Icw4 = 0x01 // ICW4 will be present
	icw1Init = 0x10

	icw4_8086 = 0x01 // 8086/88 mode, as opposed to MCS-80/85
)

// outByte/ioDelay are indirected through package variables so tests can
// observe the exact port-write sequence without real I/O ports.
var outByte = cpu.OutByte

// ioDelay gives the 8259 time to latch each command byte on real
// hardware, the same way a port write to an unused port (0x80) is
// traditionally used as a delay; an empty CPUID round trip serves the
// same purpose without depending on port 0x80 being unused.
var ioDelay = func() {
	cpu.ID(0, 0)
}

// DisableLegacyPics remaps the two 8259s off the CPU exception range
// (vectors 0-31) and onto remapVectorBase/remapVectorBase+8, then masks
// every line on both controllers. The 8259s must be reprogrammed even
// though they are about to be disabled: a spurious interrupt from an
// unmasked legacy PIC line still fires on whatever vector it was last
// programmed with, and at power-on that is vectors 8-15 - squarely in
// the middle of the CPU's reserved exception vectors.
//
// This must run before the I/O APIC is programmed to route any of the
// same IRQ lines, since both controllers would otherwise briefly be
// able to deliver the same interrupt.
func DisableLegacyPics(remapVectorBase uint8) {
	outByte(picMasterCommand, icw1Init|icw1Icw4)
	ioDelay()
	outByte(picSlaveCommand, icw1Init|icw1Icw4)
	ioDelay()

	outByte(picMasterData, remapVectorBase)
	ioDelay()
	outByte(picSlaveData, remapVectorBase+8)
	ioDelay()

	outByte(picMasterData, 1<<2) // slave attached to master's IRQ2
	ioDelay()
	outByte(picSlaveData, 2) // slave's cascade identity

	outByte(picMasterData, icw4_8086)
	ioDelay()
	outByte(picSlaveData, icw4_8086)
	ioDelay()

	outByte(picMasterData, 0xFF)
	outByte(picSlaveData, 0xFF)
}
