package cpu

// Invlpg invalidates the single TLB entry covering vaddr.
func Invlpg(vaddr uintptr)

// MemCopy copies n bytes from src to dst. The regions must not overlap.
func MemCopy(dst, src uintptr, n uintptr)

// MemSet fills n bytes starting at dst with the byte value v.
func MemSet(dst uintptr, v uint8, n uintptr)

// MemZero fills n bytes starting at dst with zero. It is a thin,
// intention-revealing wrapper over MemSet used by the static-buffer
// initialization paths in stage 1.
func MemZero(dst uintptr, n uintptr) {
	MemSet(dst, 0, n)
}
