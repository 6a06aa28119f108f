package irq

import "testing"

func TestRegisterAndDispatch(t *testing.T) {
	defer func() { handlers = [256]Handler{} }()

	var (
		gotVector Vector
		gotCode   uint64
	)
	Register(GPFException, func(v Vector, code uint64, _ *Frame, _ *Regs) {
		gotVector, gotCode = v, code
	})

	dispatch(GPFException, 0xdead, &Frame{}, &Regs{})

	if gotVector != GPFException {
		t.Errorf("expected handler to see vector %d; got %d", GPFException, gotVector)
	}
	if gotCode != 0xdead {
		t.Errorf("expected handler to see error code 0xdead; got %#x", gotCode)
	}
}

func TestUnregisterRevertsToDefault(t *testing.T) {
	defer func() { handlers = [256]Handler{} }()

	Register(Breakpoint, func(Vector, uint64, *Frame, *Regs) {})
	if HandlerFor(Breakpoint) == nil {
		t.Fatal("expected handler to be registered")
	}

	Unregister(Breakpoint)
	if HandlerFor(Breakpoint) != nil {
		t.Fatal("expected handler to be cleared")
	}
}

func TestDefaultHandlerIgnoresUnnamedInterrupts(t *testing.T) {
	// Vector 200 is an ordinary hardware interrupt, not a reserved CPU
	// exception: the default policy must not treat it as fatal.
	defer func() {
		readInstructionBytes = func(uint64) []byte { return nil }
	}()

	called := false
	readInstructionBytes = func(uint64) []byte {
		called = true
		return nil
	}

	defaultHandler(200, 0, &Frame{}, &Regs{})

	if called {
		t.Fatal("expected defaultHandler to return before touching the faulting instruction for a non-exception vector")
	}
}

func TestNameFallsBackForHardwareInterrupts(t *testing.T) {
	if got := Name(100); got != "Unknown" {
		t.Errorf("expected generic name for vector 100; got %q", got)
	}
	if got := Name(GPFException); got != "General Protection Fault" {
		t.Errorf("expected exception name; got %q", got)
	}
	if got := Name(21); got != "Unknown" {
		t.Errorf("expected generic name for reserved-but-unnamed vector 21; got %q", got)
	}
}

func TestHasErrorCodeVectors(t *testing.T) {
	specs := []struct {
		v    Vector
		want bool
	}{
		{DivideByZero, false},
		{DoubleFault, true},
		{InvalidTSS, true},
		{GPFException, true},
		{PageFaultException, true},
		{AlignmentCheck, true},
		{Breakpoint, false},
	}

	for _, spec := range specs {
		if got := hasErrorCode(spec.v); got != spec.want {
			t.Errorf("hasErrorCode(%d): want %t, got %t", spec.v, spec.want, got)
		}
	}
}

func TestDefaultHandlerOffersExceptionsToExternalDispatchFirst(t *testing.T) {
	defer func() { ExceptionDispatch = nil }()

	var gotVector Vector
	ExceptionDispatch = func(v Vector, _ uint64, _ *Frame) bool {
		gotVector = v
		return true
	}

	defaultHandler(GPFException, 0, &Frame{}, &Regs{})

	if gotVector != GPFException {
		t.Fatalf("expected ExceptionDispatch to be offered vector %d; got %d", GPFException, gotVector)
	}
}

func TestDefaultHandlerIgnoresDispatchForNonExceptionVectors(t *testing.T) {
	defer func() { ExceptionDispatch = nil }()

	called := false
	ExceptionDispatch = func(Vector, uint64, *Frame) bool {
		called = true
		return true
	}

	defaultHandler(200, 0, &Frame{}, &Regs{})

	if called {
		t.Fatal("expected ExceptionDispatch not to be consulted for a non-exception vector")
	}
}

func TestDefaultHandlerOffersReservedButUnnamedVectorsToDispatch(t *testing.T) {
	// Vectors 9, 15, and 21 are reserved CPU exceptions (21 is the Control-
	// Protection exception) with no name in exceptionNames; they must still
	// be treated as exceptions, not dropped like a spurious IRQ.
	defer func() { ExceptionDispatch = nil }()

	for _, v := range []Vector{9, 15, 21} {
		var gotVector Vector
		ExceptionDispatch = func(vv Vector, _ uint64, _ *Frame) bool {
			gotVector = vv
			return true
		}

		defaultHandler(v, 0, &Frame{}, &Regs{})

		if gotVector != v {
			t.Fatalf("expected ExceptionDispatch to be offered vector %d; got %d", v, gotVector)
		}
	}
}

func TestIstOffsetAssignsDedicatedStacks(t *testing.T) {
	specs := []struct {
		v    Vector
		want uint8
	}{
		{DoubleFault, 1},
		{NMI, 2},
		{MachineCheck, 3},
		{StackSegmentFault, 4},
		{GPFException, 0},
		{Breakpoint, 0},
	}

	for _, spec := range specs {
		if got := istOffset(spec.v); got != spec.want {
			t.Errorf("istOffset(%d): want %d, got %d", spec.v, spec.want, got)
		}
	}
}
