package cpu

import "testing"

func TestExtendedStateSize(t *testing.T) {
	defer func() { cpuidFn = ID }()

	specs := []struct {
		name       string
		hasXsave   bool
		xsaveSize  uint32
		expectSize uint32
	}{
		{"no xsave falls back to fxsave", false, 0, legacyFxsaveSize},
		{"xsave reports a larger area", true, 2560, 2560},
		{"xsave present but size unknown falls back", true, 0, legacyFxsaveSize},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			cpuidFn = func(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
				switch leaf {
				case 1:
					var ecx uint32
					if spec.hasXsave {
						ecx = 1 << 26
					}
					return 0, 0, ecx, 0
				case 0x0D:
					return 0, spec.xsaveSize, 0, 0
				default:
					return 0, 0, 0, 0
				}
			}

			if got := ExtendedStateSize(); got != spec.expectSize {
				t.Errorf("expected size %d, got %d", spec.expectSize, got)
			}
		})
	}
}
