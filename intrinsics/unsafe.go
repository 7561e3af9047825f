package intrinsics

import "unsafe"

// unsafeSliceAt reinterprets a pointer already validated by Memory.GetValidatedOffsetRange (or
// Memory.GetReservedOffsetRange) as a byte slice. Every call site above checks bounds first.
func unsafeSliceAt(ptr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}

func ptrOf(ptr uintptr) unsafe.Pointer { return unsafe.Pointer(ptr) }
