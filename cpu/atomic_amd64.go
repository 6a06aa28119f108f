package cpu

import "unsafe"

// AtomicCompareExchange32 atomically compares *addr to old and, if equal,
// stores new. It always returns the value observed at *addr before the
// operation (the classic CMPXCHG semantics), sequentially consistent.
func AtomicCompareExchange32(addr *uint32, old, new uint32) uint32

// AtomicCompareExchange64 is the 64-bit form of AtomicCompareExchange32.
func AtomicCompareExchange64(addr *uint64, old, new uint64) uint64

// AtomicCompareExchangePtr is the pointer-sized form of
// AtomicCompareExchange64, for compare-and-swap on pointer-width shared
// state.
func AtomicCompareExchangePtr(addr *unsafe.Pointer, old, new unsafe.Pointer) unsafe.Pointer

// AtomicExchange32 atomically stores new at *addr and returns the
// pre-operation value.
func AtomicExchange32(addr *uint32, new uint32) uint32

// AtomicExchange64 is the 64-bit form of AtomicExchange32.
func AtomicExchange64(addr *uint64, new uint64) uint64

// AtomicFetchAdd32 atomically adds delta to *addr and returns the
// pre-operation value.
func AtomicFetchAdd32(addr *uint32, delta uint32) uint32

// AtomicFetchAdd64 is the 64-bit form of AtomicFetchAdd32.
func AtomicFetchAdd64(addr *uint64, delta uint64) uint64

// AtomicIncrement32 atomically increments *addr by one and returns the
// pre-operation value.
func AtomicIncrement32(addr *uint32) uint32 {
	return AtomicFetchAdd32(addr, 1)
}

// AtomicIncrement64 is the 64-bit form of AtomicIncrement32.
func AtomicIncrement64(addr *uint64) uint64 {
	return AtomicFetchAdd64(addr, 1)
}

// AtomicDecrement32 atomically decrements *addr by one and returns the
// pre-operation value.
func AtomicDecrement32(addr *uint32) uint32 {
	return AtomicFetchAdd32(addr, ^uint32(0))
}

// AtomicDecrement64 is the 64-bit form of AtomicDecrement32.
func AtomicDecrement64(addr *uint64) uint64 {
	return AtomicFetchAdd64(addr, ^uint64(0))
}

// MemoryBarrier issues a full (mfence-equivalent) memory fence: no load or
// store on either side of the call can be reordered across it, on this CPU
// or as observed by any other CPU.
func MemoryBarrier()
