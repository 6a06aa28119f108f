package cpu

import "unsafe"

// Context holds the callee-saved register set used by SwitchContext and
// LoadContext. Its layout is load-bearing: cpu_amd64.s addresses each
// field by a fixed offset, so field order and width must not change
// without updating the assembly.
type Context struct {
	R15 uint64
	R14 uint64
	R13 uint64
	R12 uint64
	RBX uint64
	RBP uint64
	RSP uint64
	RIP uint64

	// CR3 is switched along with the rest of the context when non-zero,
	// so that SwitchContext doubles as an address-space switch.
	CR3 uint64

	// ExtendedState points at a 64-byte-aligned buffer of at least
	// ExtendedStateSize() bytes for use with SaveExtendedState and
	// RestoreExtendedState. SwitchContext and LoadContext neither read
	// nor write it: they do not save or restore FPU/SSE/AVX state.
	ExtendedState *byte
}

// SwitchContext saves the caller's callee-saved registers into old, then
// restores and resumes execution from new. It returns only when some other
// CPU later calls SwitchContext(..., old).
func SwitchContext(old, new *Context)

// LoadContext resumes execution from ctx without saving the caller's
// state. It is used for the first jump onto a newly created thread, which
// has no prior context worth preserving. LoadContext never returns.
func LoadContext(ctx *Context)

// RestorePALContext resumes a full (non-callee-saved-only) register
// context described by frame, without saving the caller's state. It never
// returns. This entry point exists for the external exception-handling
// unwinder (SEH-style), which needs to resume execution at an arbitrary
// point captured outside of a normal SwitchContext/LoadContext pairing.
func RestorePALContext(frame unsafe.Pointer)
