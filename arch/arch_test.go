package arch

import (
	"testing"
	"unsafe"

	"shrike/irq"
	"shrike/lapic"
	"shrike/topology"
)

// newBufferLAPIC returns a LAPIC whose MMIO window is backed by ordinary
// Go memory, so register reads/writes exercise the real logic without
// touching actual hardware or the privileged IA32_APIC_BASE MSR read
// lapic.Init performs.
func newBufferLAPIC() *lapic.LAPIC {
	buf := make([]byte, 4096)
	return &lapic.LAPIC{Base: uintptr(unsafe.Pointer(&buf[0]))}
}

func TestBuildIOApicSetReturnsNilWhenTopologyHasNone(t *testing.T) {
	top := topology.Build([]topology.Cpu{{ProcessorID: 0, ApicID: 0, Enabled: true}}, nil, nil, 0, false)
	if got := buildIOApicSet(top); got != nil {
		t.Fatalf("expected nil Set for a topology with no I/O APICs; got %+v", got)
	}
}

func TestBuildIOApicSetWrapsEveryRecord(t *testing.T) {
	top := topology.Build(
		[]topology.Cpu{{ProcessorID: 0, ApicID: 0, Enabled: true}},
		[]topology.IOApic{{ID: 0, Base: 0xFEC00000, GsiBase: 0}, {ID: 1, Base: 0xFEC01000, GsiBase: 24}},
		nil, 0, false,
	)
	set := buildIOApicSet(top)
	if set == nil {
		t.Fatal("expected a non-nil Set")
	}
}

func TestCalibrateTimerTicksFallsBackWithoutHpet(t *testing.T) {
	lap := newBufferLAPIC()
	if got := calibrateTimerTicks(lap, nil); got != uncalibratedTicksGuess {
		t.Fatalf("expected the uncalibrated guess with no HPET; got %d", got)
	}
}

func TestCalibratedFrequencyIsAlwaysOneKilohertz(t *testing.T) {
	if got := calibratedFrequency(12345); got != 1000 {
		t.Fatalf("expected a 1kHz periodic tick rate; got %d", got)
	}
}

func TestOnTimerTickAdvancesTickCount(t *testing.T) {
	tickCount = 0
	defer func() { tickCount = 0 }()

	onTimerTick(0, 0, &irq.Frame{}, &irq.Regs{})
	onTimerTick(0, 0, &irq.Frame{}, &irq.Regs{})

	if got := GetTickCount(); got != 2 {
		t.Fatalf("expected GetTickCount to report 2 ticks; got %d", got)
	}
}

func TestRegisterAndUnregisterInterruptHandlerDelegatesToIrq(t *testing.T) {
	defer UnregisterInterruptHandler(250)

	called := false
	RegisterInterruptHandler(250, func(irq.Vector, uint64, *irq.Frame, *irq.Regs) { called = true })
	if irq.HandlerFor(250) == nil {
		t.Fatal("expected a handler to be registered via shrike/irq")
	}
	irq.HandlerFor(250)(250, 0, &irq.Frame{}, &irq.Regs{})
	if !called {
		t.Fatal("expected the registered handler to run")
	}

	UnregisterInterruptHandler(250)
	if irq.HandlerFor(250) != nil {
		t.Fatal("expected the handler to be cleared")
	}
}

func TestEndOfInterruptIsANoOpBeforeStage2(t *testing.T) {
	// lap is nil until InitStage2 runs; this must not panic.
	EndOfInterrupt(32)
}

func TestGetThrowAndRethrowFuncPtrsAgreeAndAreNonZero(t *testing.T) {
	throwPtr := GetThrowExceptionFuncPtr()
	rethrowPtr := GetRethrowFuncPtr()

	if throwPtr == 0 {
		t.Fatal("expected a non-zero throw entry point")
	}
	if throwPtr != rethrowPtr {
		t.Fatalf("expected throw and rethrow entry points to agree; got %#x and %#x", throwPtr, rethrowPtr)
	}
}

func TestContextSizeAndExtendedStateSizeAreNonZero(t *testing.T) {
	if ContextSize() == 0 {
		t.Fatal("expected a non-zero context size")
	}
	if ExtendedStateSize() == 0 {
		t.Fatal("expected a non-zero extended state size")
	}
}

func TestStartSecondaryCpusIsANoOpBeforeStage2(t *testing.T) {
	if got := StartSecondaryCpus([]byte{0xEB, 0xFE}, 1_000_000); got != 0 {
		t.Fatalf("expected 0 before InitStage2 has populated topology/scheduler; got %d", got)
	}
}

func TestCpuCountDefaultsToOneBeforeStage2(t *testing.T) {
	if got := CpuCount(); got != 1 {
		t.Fatalf("expected CpuCount to default to 1 before InitStage2; got %d", got)
	}
}

func TestSendAndBroadcastIpiAreNoOpsBeforeStage2(t *testing.T) {
	// lap is nil until InitStage2 runs; these must not panic.
	SendIpi(1, 32)
	BroadcastIpi(32)
}
