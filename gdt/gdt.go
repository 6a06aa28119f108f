// Package gdt builds and loads the flat Global Descriptor Table used by
// long mode: a null descriptor, 64-bit kernel code/data descriptors, their
// user-mode counterparts, and a single 64-bit TSS descriptor (the TSS
// itself supplies the per-CPU IST stack pointers that shrike/idt's IST
// gates switch onto).
package gdt

import "unsafe"

// Selector identifies a GDT entry by byte offset | RPL.
type Selector uint16

const (
	NullSelector       Selector = 0x00
	KernelCodeSelector Selector = 0x08
	KernelDataSelector Selector = 0x10
	UserDataSelector   Selector = 0x18 | 3
	UserCodeSelector   Selector = 0x20 | 3
	TSSSelector        Selector = 0x28
)

// Access byte flags, shared by code/data descriptors.
const (
	accessPresent    = 1 << 7
	accessDPL3       = 3 << 5
	accessSegment    = 1 << 4 // S bit: 1 for code/data, 0 for system
	accessExecutable = 1 << 3
	accessRW         = 1 << 1 // readable (code) / writable (data)
	accessAccessed   = 1 << 0
)

// Granularity/size flags (top nibble of the flags byte).
const (
	flagGranularity4K = 1 << 7
	flagLongMode      = 1 << 5
	flagDB32          = 1 << 6
)

// descriptor is a raw 8-byte GDT entry.
type descriptor struct {
	limitLow  uint16
	baseLow   uint16
	baseMid   uint8
	access    uint8
	flagsHigh uint8 // high nibble: flags, low nibble: limit[19:16]
	baseHigh  uint8
}

const (
	maxEntries = 7 // null, kcode, kdata, udata, ucode, tss (two slots)
)

var (
	table [maxEntries]uint64 // raw 8-byte slots; the TSS occupies two consecutive slots
	gdtr  descriptorRegister
)

type descriptorRegister struct {
	limit uint16
	base  uint64
}

func packDescriptor(base uint32, limit uint32, access uint8, flags uint8) uint64 {
	d := descriptor{
		limitLow:  uint16(limit),
		baseLow:   uint16(base),
		baseMid:   uint8(base >> 16),
		access:    access,
		flagsHigh: (flags << 4) | uint8((limit>>16)&0xF),
		baseHigh:  uint8(base >> 24),
	}
	return *(*uint64)(unsafe.Pointer(&d))
}

// Init populates the flat GDT: a null descriptor followed by kernel and
// user code/data descriptors. The TSS descriptor is left zeroed until
// InstallTSS is called, since the TSS base address is only known once the
// per-CPU TSS struct has been allocated.
func Init() {
	table[0] = 0

	table[1] = packDescriptor(0, 0xFFFFF, accessPresent|accessSegment|accessExecutable|accessRW, flagLongMode)
	table[2] = packDescriptor(0, 0xFFFFF, accessPresent|accessSegment|accessRW, flagDB32|flagGranularity4K)
	// User data (0x18) is placed before user code (0x20), not after, to
	// satisfy the SYSRET selector-pairing rule: SYSRET loads CS from
	// STAR+16 and SS from STAR+8, which only land on the correct
	// descriptors when user data immediately precedes user code in the GDT.
	table[3] = packDescriptor(0, 0xFFFFF, accessPresent|accessDPL3|accessSegment|accessRW, flagDB32|flagGranularity4K)
	table[4] = packDescriptor(0, 0xFFFFF, accessPresent|accessDPL3|accessSegment|accessExecutable|accessRW, flagLongMode)
}

// InstallTSS writes a 64-bit TSS descriptor pointing at tssAddr/tssLimit
// into the two slots reserved for it (a 64-bit system descriptor consumes
// 16 bytes, i.e. two 8-byte GDT slots).
func InstallTSS(tssAddr uintptr, tssLimit uint32) {
	const tssAccess = accessPresent | 0x9 // present, DPL0, 64-bit TSS (available)

	low := packDescriptor(uint32(tssAddr), tssLimit, tssAccess, 0)
	table[5] = low
	table[6] = uint64(tssAddr >> 32)
}

// TSS is the 64-bit Task State Segment: not used for hardware task
// switching in long mode, but still the CPU's only source for the ring-0
// stack loaded on a privilege-level change (RSP0) and the seven alternate
// stacks selectable by an IDT gate's IST field. One instance per CPU.
//
// Every 64-bit field in the hardware layout sits at a 4-byte, not 8-byte,
// boundary (RSP0 begins at offset 4, RSP1 at offset 12, and so on), so
// each is split into low/high uint32 halves here the same way
// packDescriptor splits a descriptor's fields - a plain []uint64 member
// would let the Go compiler insert padding the CPU does not expect.
type TSS struct {
	reserved0   uint32
	rsp0Lo      uint32
	rsp0Hi      uint32
	rsp1Lo      uint32
	rsp1Hi      uint32
	rsp2Lo      uint32
	rsp2Hi      uint32
	reserved1Lo uint32
	reserved1Hi uint32
	ist1Lo      uint32
	ist1Hi      uint32
	ist2Lo      uint32
	ist2Hi      uint32
	ist3Lo      uint32
	ist3Hi      uint32
	ist4Lo      uint32
	ist4Hi      uint32
	ist5Lo      uint32
	ist5Hi      uint32
	ist6Lo      uint32
	ist6Hi      uint32
	ist7Lo      uint32
	ist7Hi      uint32
	reserved2Lo uint32
	reserved2Hi uint32
	reserved3   uint16
	IOMapBase   uint16
}

// tss is the BSP's TSS, the one shrike/arch installs during stage 1.
// shrike/arch allocates and installs no TSS for any other CPU.
var tss TSS

// Tss returns the package's static TSS instance, sized and ready for
// InstallTSS. It exists as a convenience for the single-CPU/BSP path;
// InstallTSS accepts any TSS address, but the table has one TSS
// descriptor slot, and Load takes no TSS argument.
func Tss() *TSS { return &tss }

// SetKernelStack sets RSP0, the stack the CPU loads on a transition from
// user to kernel privilege. It is mutated by the scheduler on every
// context switch, not just once at init.
func (t *TSS) SetKernelStack(rsp0 uint64) {
	t.rsp0Lo, t.rsp0Hi = uint32(rsp0), uint32(rsp0>>32)
}

// SetIst sets one of the seven Interrupt Stack Table slots (1-7) to sp.
// Out-of-range n is a no-op: IST indices are a fixed, small set decided by
// shrike/irq's istOffset, so there is no caller that could legitimately
// pass anything else.
func (t *TSS) SetIst(n uint8, sp uint64) {
	lo, hi := uint32(sp), uint32(sp>>32)
	switch n {
	case 1:
		t.ist1Lo, t.ist1Hi = lo, hi
	case 2:
		t.ist2Lo, t.ist2Hi = lo, hi
	case 3:
		t.ist3Lo, t.ist3Hi = lo, hi
	case 4:
		t.ist4Lo, t.ist4Hi = lo, hi
	case 5:
		t.ist5Lo, t.ist5Hi = lo, hi
	case 6:
		t.ist6Lo, t.ist6Hi = lo, hi
	case 7:
		t.ist7Lo, t.ist7Hi = lo, hi
	}
}

// Load populates the GDTR with the address of the table built by Init and
// executes LGDT, activating it as the CPU's global descriptor table. Every
// CPU has its own GDTR and must call Load (and InstallTSS, since each CPU
// has its own TSS) during its own bring-up.
func Load() {
	gdtr.limit = uint16(len(table)*8 - 1)
	gdtr.base = uint64(uintptr(unsafe.Pointer(&table[0])))
	lgdt(&gdtr)
	reloadSegments(uint16(KernelCodeSelector), uint16(KernelDataSelector))
}

// lgdt loads the global descriptor table register.
func lgdt(gdtr *descriptorRegister)

// reloadSegments performs the far-return/segment-register reload sequence
// required after LGDT to actually start using the new code and data
// selectors.
func reloadSegments(codeSelector, dataSelector uint16)

// segmentReloadTrampoline is the landing pad reloadSegments far-returns to
// once CS has been switched to the new code selector.
func segmentReloadTrampoline()
