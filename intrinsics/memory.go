// Package intrinsics provides the host-side primitives compiled code calls into for operations
// that cannot be inlined as straight-line machine code: bounds-checked memory/table access
// helpers, atomic wait/notify, trap helpers, and debug call-stack capture. Each primitive is
// exposed two ways: as a plain Go function for use by tests and by other packages in this
// module, and as a *runtime.Function export of the named intrinsic module (see NewIntrinsicModule
// in module.go) so a compiled module can import it like any other host function.
package intrinsics

import (
	"github.com/wavmgo/wavm/invoke"
	"github.com/wavmgo/wavm/runtime"
)

// MemoryGetBytes returns a bounds-checked byte slice into mem starting at offset, trapping via
// invoke.Throw with outOfBoundsMemoryAccess if [offset, offset+length) is not fully committed.
func MemoryGetBytes(mem *runtime.Memory, offset, length uint64) []byte {
	ptr, ok := mem.GetValidatedOffsetRange(offset, length)
	if !ok {
		invoke.Throw(runtime.NewTrap("outOfBoundsMemoryAccess", offset, length))
	}
	return bytesAt(ptr, int(length))
}

// MemoryFill implements memory.fill: writes length copies of value starting at offset.
func MemoryFill(mem *runtime.Memory, offset, length uint64, value byte) {
	dst := MemoryGetBytes(mem, offset, length)
	for i := range dst {
		dst[i] = value
	}
}

// MemoryCopy implements memory.copy, correctly handling overlap between src and dst ranges within
// the same Memory: Go's built-in copy has memmove semantics, so the result is the same as copying
// through a temporary buffer (the table analogue, runtime.Copy, picks its direction explicitly).
func MemoryCopy(dst *runtime.Memory, dstOffset uint64, src *runtime.Memory, srcOffset, length uint64) {
	dstBytes := MemoryGetBytes(dst, dstOffset, length)
	srcBytes := MemoryGetBytes(src, srcOffset, length)
	copy(dstBytes, srcBytes)
}

// MemoryInit implements memory.init: copies a slice of a passive data segment's bytes into mem.
// When segOffset+length exceeds the segment's size, the in-range prefix is still copied before
// the trap is raised: the valid bytewise copy happens, then the throw. instanceID and segIdx
// identify the segment for the trap's arguments, not the copy itself.
func MemoryInit(mem *runtime.Memory, dstOffset uint64, segment []byte, segOffset, length uint64, instanceID, segIdx uint64) {
	segLen := uint64(len(segment))
	overruns := segOffset+length > segLen
	n := length
	if overruns {
		n = 0
		if segOffset < segLen {
			n = segLen - segOffset
		}
	}
	if n > 0 {
		dst := MemoryGetBytes(mem, dstOffset, n)
		copy(dst, segment[segOffset:segOffset+n])
	}
	if overruns {
		invoke.Throw(runtime.NewTrap("outOfBoundsDataSegmentAccess", instanceID, segIdx, segOffset+length))
	}
}

// InstanceMemoryInit is the memory.init entry point compiled code reaches: it consults inst's
// passive data-segment vector under the shared segment lock and traps with invalidArgument if
// segIdx was already dropped (or was an active segment consumed at instantiation), then delegates
// to MemoryInit for the copy and its partial-copy-then-trap overrun contract.
func InstanceMemoryInit(inst *runtime.Instance, segIdx int, mem *runtime.Memory, dstOffset, segOffset, length uint64) {
	seg, err := inst.DataSegmentBytes(segIdx)
	if err != nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
	MemoryInit(mem, dstOffset, seg, segOffset, length, uint64(inst.ID()), uint64(segIdx))
}

// DataDrop implements data.drop. Dropping twice is a no-op; only a bad segment index traps.
func DataDrop(inst *runtime.Instance, segIdx int) {
	if err := inst.DropDataSegment(segIdx); err != nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
}

// MemoryGrow is the intrinsic backing the memory.grow instruction: it returns the previous page
// count, or -1 on failure, and never traps (growth failure is a normal, catchable outcome in
// Wasm, unlike an out-of-bounds access).
func MemoryGrow(mem *runtime.Memory, deltaPages uint64) int64 {
	n, err := mem.Grow(deltaPages)
	if err != nil {
		return -1
	}
	return n
}

func bytesAt(ptr uintptr, n int) []byte {
	return unsafeSliceAt(ptr, n)
}
