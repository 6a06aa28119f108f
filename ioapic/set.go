package ioapic

// OverrideLookup is satisfied by shrike/topology: it reports whether an
// ISA IRQ has been remapped to a different GSI with non-default
// polarity/trigger, as ACPI's MADT interrupt source override records
// describe.
type OverrideLookup interface {
	GetOverride(irq uint8) (gsi uint32, activeLow bool, levelTriggered bool, ok bool)
}

// Set owns every I/O APIC in the system and routes ISA IRQ numbers (as
// opposed to raw GSIs) to them, resolving interrupt-source overrides
// through an OverrideLookup along the way.
type Set struct {
	apics     []*IOAPIC
	overrides OverrideLookup
}

// NewSet builds a Set over apics (one entry per I/O APIC in the MADT),
// consulting overrides to resolve ISA IRQ numbers to GSIs.
func NewSet(apics []*IOAPIC, overrides OverrideLookup) *Set {
	return &Set{apics: apics, overrides: overrides}
}

// find returns the I/O APIC owning gsi, or nil if none does.
func (s *Set) find(gsi uint32) *IOAPIC {
	for _, a := range s.apics {
		if gsi >= a.GSIBase && int(gsi-a.GSIBase) < a.Entries() {
			return a
		}
	}
	return nil
}

// resolve translates an ISA IRQ number into a GSI and the redirection
// polarity/trigger mode to use for it, applying any override on file for
// that IRQ and falling back to the IRQ==GSI, active-high/edge-triggered
// default otherwise.
func (s *Set) resolve(irq uint8) (gsi uint32, activeLow bool, levelTriggered bool) {
	if s.overrides != nil {
		if g, low, level, ok := s.overrides.GetOverride(irq); ok {
			return g, low, level
		}
	}
	return uint32(irq), PolarityActiveHigh, TriggerEdge
}

// SetIrqRoute programs the redirection entry for the ISA IRQ irq: fixed
// delivery mode, physical destination mode, destApicID as the target,
// and polarity/trigger taken from any interrupt-source override on file.
// It silently no-ops for irq outside [0, 23] or a GSI no I/O APIC owns,
// matching the "configuration-invalid is a no-op, never fatal" policy
// the rest of this layer follows.
func (s *Set) SetIrqRoute(irq uint8, vector uint8, destApicID uint8) bool {
	if irq > 23 {
		return false
	}
	gsi, activeLow, levelTriggered := s.resolve(irq)
	a := s.find(gsi)
	if a == nil {
		return false
	}
	return a.SetEntry(gsi, Entry{
		Vector:       vector,
		DeliveryMode: DeliveryFixed,
		Destination:  destApicID,
		Polarity:     activeLow,
		TriggerMode:  levelTriggered,
	})
}

// MaskIrq masks the redirection entry currently routed for irq.
func (s *Set) MaskIrq(irq uint8) bool {
	gsi, _, _ := s.resolve(irq)
	a := s.find(gsi)
	if a == nil {
		return false
	}
	return a.Mask(gsi)
}

// UnmaskIrq unmasks the redirection entry currently routed for irq.
func (s *Set) UnmaskIrq(irq uint8) bool {
	gsi, _, _ := s.resolve(irq)
	a := s.find(gsi)
	if a == nil {
		return false
	}
	return a.Unmask(gsi)
}

// IsaVectorBase is the first IDT vector SetupIsaIrqs assigns; IRQ i is
// routed to vector IsaVectorBase+i.
const IsaVectorBase = 32

// SetupIsaIrqs routes ISA IRQs 0-15 to bspApicID with vectors
// IsaVectorBase..IsaVectorBase+15. Routing leaves each entry unmasked
// (Entry's zero value has Masked false); masking is a separate,
// driver-invoked step taken once a driver has installed a handler and
// wants to stop receiving the IRQ, not something SetupIsaIrqs does itself.
func (s *Set) SetupIsaIrqs(bspApicID uint8) {
	for irq := uint8(0); irq < 16; irq++ {
		s.SetIrqRoute(irq, IsaVectorBase+irq, bspApicID)
	}
}
