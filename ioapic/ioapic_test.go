package ioapic

import "testing"

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	specs := []Entry{
		{},
		{Vector: 0x30, DeliveryMode: DeliveryFixed, Destination: 1},
		{
			Vector:       0x41,
			DeliveryMode: DeliveryLowestPriority,
			LogicalDest:  true,
			Polarity:     PolarityActiveLow,
			TriggerMode:  TriggerLevel,
			Masked:       true,
			Destination:  0xFF,
		},
		{Vector: 0xFE, DeliveryMode: DeliveryExtINT, Destination: 0x0F},
	}

	for _, want := range specs {
		got := decodeEntry(want.encode())
		if got != want {
			t.Errorf("round trip mismatch: want %+v, got %+v", want, got)
		}
	}
}

func TestEntryEncodeFieldPlacement(t *testing.T) {
	e := Entry{
		Vector:       0x20,
		DeliveryMode: 0x5,
		LogicalDest:  true,
		Polarity:     true,
		TriggerMode:  true,
		Masked:       true,
		Destination:  0xAB,
	}
	raw := e.encode()

	if got := uint8(raw); got != e.Vector {
		t.Errorf("vector: expected %#x, got %#x", e.Vector, got)
	}
	if got := uint8(raw>>bitDeliveryMode) & 0x7; got != e.DeliveryMode {
		t.Errorf("delivery mode: expected %#x, got %#x", e.DeliveryMode, got)
	}
	if got := (raw >> bitDestMode) & 1; got != 1 {
		t.Error("expected destination mode bit set")
	}
	if got := (raw >> bitPolarity) & 1; got != 1 {
		t.Error("expected polarity bit set")
	}
	if got := (raw >> bitTriggerMode) & 1; got != 1 {
		t.Error("expected trigger mode bit set")
	}
	if got := (raw >> bitMask) & 1; got != 1 {
		t.Error("expected mask bit set")
	}
	if got := uint8(raw >> bitDestination); got != e.Destination {
		t.Errorf("destination: expected %#x, got %#x", e.Destination, got)
	}
}

func TestIndexRejectsOutOfRangeGSI(t *testing.T) {
	a := &IOAPIC{GSIBase: 8}

	if _, ok := a.index(7); ok {
		t.Error("expected gsi below GSIBase to be rejected")
	}
}

func TestIndexTranslatesWithinGSIBase(t *testing.T) {
	a, fw := newFakeIOAPIC(8, 24)
	withFakeWindow(a, fw, func() {
		if idx, ok := a.index(8); !ok || idx != 0 {
			t.Fatalf("expected gsi 8 to map to index 0; got %d, %t", idx, ok)
		}
		if idx, ok := a.index(31); !ok || idx != 23 {
			t.Fatalf("expected gsi 31 to map to index 23; got %d, %t", idx, ok)
		}
	})
}

// fakeWindow backs readReg32/writeReg32 with a plain map keyed by indirect
// register index, so the redirection table logic can be exercised without
// real MMIO. The fake decodes each access by its offset from the
// instance's Base and accepts only the select and window registers.
type fakeWindow struct {
	regs     map[uint32]uint32
	selected uint32
}

func newFakeIOAPIC(gsiBase uint32, entries int) (*IOAPIC, *fakeWindow) {
	fw := &fakeWindow{regs: map[uint32]uint32{
		regVersion: uint32(entries-1) << 16,
	}}
	a := &IOAPIC{GSIBase: gsiBase}
	return a, fw
}

// withFakeWindow swaps readReg32/writeReg32 for fw's in-memory register
// file for the duration of fn, restoring the real MMIO-backed versions
// afterward.
func withFakeWindow(a *IOAPIC, fw *fakeWindow, fn func()) {
	origRead, origWrite := readReg32, writeReg32
	defer func() { readReg32, writeReg32 = origRead, origWrite }()

	readReg32 = func(addr uintptr) uint32 {
		switch addr - a.Base {
		case regSelect:
			return fw.selected
		case regWindow:
			return fw.regs[fw.selected]
		default:
			panic("unexpected register offset")
		}
	}
	writeReg32 = func(addr uintptr, v uint32) {
		switch addr - a.Base {
		case regSelect:
			fw.selected = v
		case regWindow:
			fw.regs[fw.selected] = v
		default:
			panic("unexpected register offset")
		}
	}

	fn()
}

func TestSetEntryGetEntryRoundTrip(t *testing.T) {
	a, fw := newFakeIOAPIC(0, 24)
	withFakeWindow(a, fw, func() {
		want := Entry{Vector: 0x33, DeliveryMode: DeliveryFixed, Destination: 2}
		if ok := a.SetEntry(5, want); !ok {
			t.Fatal("expected SetEntry to succeed for an in-range gsi")
		}
		got, ok := a.GetEntry(5)
		if !ok {
			t.Fatal("expected GetEntry to succeed for an in-range gsi")
		}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})
}

func TestSetEntryRejectsOutOfRangeGSI(t *testing.T) {
	a, fw := newFakeIOAPIC(0, 4)
	withFakeWindow(a, fw, func() {
		if ok := a.SetEntry(99, Entry{}); ok {
			t.Fatal("expected SetEntry to reject an out-of-range gsi")
		}
	})
}

func TestMaskUnmaskPreserveOtherFields(t *testing.T) {
	a, fw := newFakeIOAPIC(0, 24)
	withFakeWindow(a, fw, func() {
		want := Entry{Vector: 0x44, DeliveryMode: DeliveryLowestPriority, Destination: 7, LogicalDest: true}
		a.SetEntry(3, want)

		if ok := a.Mask(3); !ok {
			t.Fatal("expected Mask to succeed")
		}
		got, _ := a.GetEntry(3)
		if !got.Masked {
			t.Error("expected entry to be masked")
		}
		want.Masked = true
		if got != want {
			t.Errorf("expected mask to preserve other fields: want %+v, got %+v", want, got)
		}

		if ok := a.Unmask(3); !ok {
			t.Fatal("expected Unmask to succeed")
		}
		got, _ = a.GetEntry(3)
		if got.Masked {
			t.Error("expected entry to be unmasked")
		}
		want.Masked = false
		if got != want {
			t.Errorf("expected unmask to preserve other fields: want %+v, got %+v", want, got)
		}
	})
}

func TestIDAndEntriesReadVersionAndIDRegisters(t *testing.T) {
	a, fw := newFakeIOAPIC(0, 16)
	fw.regs[regID] = 0x0F000000
	withFakeWindow(a, fw, func() {
		if got := a.ID(); got != 0xF {
			t.Errorf("expected ID 0xF, got %#x", got)
		}
		if got := a.Entries(); got != 16 {
			t.Errorf("expected 16 entries, got %d", got)
		}
	})
}
