package jitloader

import "unsafe"

// RelocationKind selects how a Relocation patches the code segment.
type RelocationKind byte

const (
	// RelocAbs64 writes the absolute address (base + Relocation.Addend) as a little-endian
	// uint64 at Relocation.Offset. Used for function-pointer table entries embedded in code
	// (e.g. a jump table) that a position-independent code generator could not resolve until
	// the final mapping address was known.
	RelocAbs64 RelocationKind = iota
	// RelocAbs32 is as RelocAbs64 but writes a 32-bit value, trapping at load time if the
	// resulting address does not fit (callers running with ASLR disabled or a reserved
	// low-memory mapping region should prefer this only when they control placement).
	RelocAbs32
)

// Relocation is one patch applied to ModuleSpec.Code once its mapped base address is known:
// the part of the JIT ABI that lets position-independent code reference itself.
type Relocation struct {
	Kind   RelocationKind
	Offset int
	Addend uintptr
}

func applyRelocations(code []byte, base uintptr, relocs []Relocation) error {
	for _, r := range relocs {
		value := base + r.Addend
		switch r.Kind {
		case RelocAbs64:
			*(*uint64)(unsafe.Pointer(&code[r.Offset])) = uint64(value)
		case RelocAbs32:
			if uint64(value) > 0xffffffff {
				return &relocationOverflowError{offset: r.Offset, value: value}
			}
			*(*uint32)(unsafe.Pointer(&code[r.Offset])) = uint32(value)
		}
	}
	return nil
}

type relocationOverflowError struct {
	offset int
	value  uintptr
}

func (e *relocationOverflowError) Error() string {
	return "jitloader: 32-bit relocation at offset does not fit resulting address"
}

func sliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
