package cpu

// ExtendedStateAlign is the required alignment, in bytes, of any buffer
// passed to SaveExtendedState/RestoreExtendedState.
const ExtendedStateAlign = 64

// legacyFxsaveSize is the fixed size of the FXSAVE area.
const legacyFxsaveSize = 512

// ExtendedStateSize returns the number of bytes callers must reserve for
// the extended (FPU/SSE/AVX) state area, given the CPU's actual feature
// set. When XSAVE is supported this is CPUID.0Dh, subleaf 0: EBX (the size
// needed for the features currently enabled in XCR0); otherwise it is the
// fixed 512-byte FXSAVE area.
func ExtendedStateSize() uint32 {
	if !HasXsave() {
		return legacyFxsaveSize
	}

	_, ebx, _, _ := cpuidFn(0x0D, 0)
	if ebx == 0 {
		return legacyFxsaveSize
	}
	return ebx
}

// SaveExtendedState saves the CPU's extended (FPU/SSE/AVX) state to buf.
// buf must be at least ExtendedStateSize() bytes and aligned to
// ExtendedStateAlign. XSAVE (with an all-components mask) is used when the
// CPU supports it, otherwise the implementation falls back to FXSAVE.
func SaveExtendedState(buf *byte)

// RestoreExtendedState restores the CPU's extended state from a buffer
// previously populated by SaveExtendedState.
func RestoreExtendedState(buf *byte)
