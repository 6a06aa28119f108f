package ioapic

import "testing"

type fakeOverrides struct {
	byIrq map[uint8]struct {
		gsi            uint32
		activeLow      bool
		levelTriggered bool
	}
}

func (f *fakeOverrides) GetOverride(irq uint8) (uint32, bool, bool, bool) {
	o, ok := f.byIrq[irq]
	if !ok {
		return 0, false, false, false
	}
	return o.gsi, o.activeLow, o.levelTriggered, true
}

func withFakeSet(gsiBase uint32, entries int, overrides OverrideLookup, fn func(*Set, *fakeWindow)) {
	a, fw := newFakeIOAPIC(gsiBase, entries)
	withFakeWindow(a, fw, func() {
		fn(NewSet([]*IOAPIC{a}, overrides), fw)
	})
}

func TestSetIrqRouteDefaultMapping(t *testing.T) {
	withFakeSet(0, 24, nil, func(s *Set, fw *fakeWindow) {
		if ok := s.SetIrqRoute(1, 33, 0); !ok {
			t.Fatal("expected SetIrqRoute to succeed")
		}
		e, ok := s.apics[0].GetEntry(1)
		if !ok {
			t.Fatal("expected entry 1 to be programmed")
		}
		if e.Vector != 33 || e.Destination != 0 || e.Polarity || e.TriggerMode {
			t.Errorf("unexpected entry for default-mapped IRQ 1: %+v", e)
		}
	})
}

func TestSetIrqRouteAppliesOverride(t *testing.T) {
	overrides := &fakeOverrides{byIrq: map[uint8]struct {
		gsi            uint32
		activeLow      bool
		levelTriggered bool
	}{
		0: {gsi: 2, activeLow: true, levelTriggered: true},
	}}

	withFakeSet(0, 24, overrides, func(s *Set, fw *fakeWindow) {
		if ok := s.SetIrqRoute(0, 32, 0); !ok {
			t.Fatal("expected SetIrqRoute to succeed")
		}

		e, ok := s.apics[0].GetEntry(2)
		if !ok {
			t.Fatal("expected entry 2 (the override's GSI) to be programmed")
		}
		if e.Vector != 32 || !e.Polarity || !e.TriggerMode {
			t.Errorf("expected override polarity/trigger applied, got %+v", e)
		}
	})
}

func TestSetIrqRouteRejectsIrqAbove23(t *testing.T) {
	withFakeSet(0, 24, nil, func(s *Set, fw *fakeWindow) {
		if ok := s.SetIrqRoute(24, 56, 0); ok {
			t.Fatal("expected SetIrqRoute to reject irq > 23")
		}
	})
}

func TestSetupIsaIrqsRoutesAllUnmasked(t *testing.T) {
	withFakeSet(0, 24, nil, func(s *Set, fw *fakeWindow) {
		s.SetupIsaIrqs(0)

		for irq := uint8(0); irq < 16; irq++ {
			e, ok := s.apics[0].GetEntry(uint32(irq))
			if !ok {
				t.Fatalf("expected entry %d to exist", irq)
			}
			if e.Vector != IsaVectorBase+irq {
				t.Errorf("irq %d: expected vector %d, got %d", irq, IsaVectorBase+irq, e.Vector)
			}
			if e.Masked {
				t.Errorf("irq %d: expected entry to be unmasked after setup", irq)
			}
		}
	})
}

func TestSetupIsaIrqsEntry1MatchesReadbackScenario(t *testing.T) {
	// Entry 1's redirection register after SetupIsaIrqs: vector 33,
	// destination 0, unmasked, active-high polarity, edge triggered.
	withFakeSet(0, 24, nil, func(s *Set, fw *fakeWindow) {
		s.SetupIsaIrqs(0)

		e, ok := s.apics[0].GetEntry(1)
		if !ok {
			t.Fatal("expected entry 1 to exist")
		}
		if e.Vector != 33 {
			t.Errorf("expected vector 33, got %d", e.Vector)
		}
		if e.Destination != 0 {
			t.Errorf("expected destination 0, got %d", e.Destination)
		}
		if e.Masked {
			t.Error("expected entry 1 to be unmasked")
		}
		if e.Polarity != PolarityActiveHigh {
			t.Error("expected active-high polarity")
		}
		if e.TriggerMode != TriggerEdge {
			t.Error("expected edge-triggered mode")
		}
	})
}

func TestMaskUnmaskIrqByNumber(t *testing.T) {
	withFakeSet(0, 24, nil, func(s *Set, fw *fakeWindow) {
		s.SetIrqRoute(5, 37, 0)

		if ok := s.MaskIrq(5); !ok {
			t.Fatal("expected MaskIrq to succeed")
		}
		e, _ := s.apics[0].GetEntry(5)
		if !e.Masked {
			t.Error("expected irq 5 to be masked")
		}

		if ok := s.UnmaskIrq(5); !ok {
			t.Fatal("expected UnmaskIrq to succeed")
		}
		e, _ = s.apics[0].GetEntry(5)
		if e.Masked {
			t.Error("expected irq 5 to be unmasked")
		}
	})
}
