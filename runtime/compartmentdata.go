package runtime

import (
	"unsafe"

	"github.com/wavmgo/wavm/internal/platform"
)

// Fixed layout constants for CompartmentRuntimeData. The region size doubles as the mask
// alignment, so it must be a single authoritative constant: a 2 GiB (2^31) region, with
// MaxContexts derived so the layout fills the region exactly. The table- and memory-reservation
// sizes in memory.go/table.go are derived independently and do not need to agree with it.
const (
	// RegionAlignmentBits is log2 of the per-compartment runtime-data region size and alignment.
	RegionAlignmentBits = 31
	// RegionAlignment is the region size in bytes: 2 GiB.
	RegionAlignment = 1 << RegionAlignmentBits

	// MaxMemories bounds the number of memories a single compartment may define.
	MaxMemories = 256
	// MaxTables bounds the number of tables a single compartment may define.
	MaxTables = 256

	memoryRuntimeDataSize = 16 // base pointer (8) + reserved-bytes-or-page-count (8)
	tableBasePtrSize       = 8

	backPointerSize = 8

	mOffset = backPointerSize
	tOffset = mOffset + MaxMemories*memoryRuntimeDataSize

	// contextRuntimeDataSize is fixed at exactly 4096 bytes; compiled code hard-codes it when
	// indexing the context array.
	contextRuntimeDataSize = 4096

	// thunkScratchSize is the first 256 bytes of every ContextRuntimeData.
	thunkScratchSize = 256
	// contextBackPointerSize is the 8 bytes holding the owning-Context back-pointer. 256 is
	// itself 8-byte aligned, so the mutable global slots starting at thunkScratchSize+
	// contextBackPointerSize=264 stay 8-byte aligned without padding -- which is all the 64-bit
	// atomic loads/stores in mutableGlobalSlot and Global.SetInContext require.
	contextBackPointerSize = 8
	mutableGlobalSlotSize  = 16
	// MaxMutableGlobals is the number of 16-byte untagged value slots following the scratch area
	// and back-pointer in each ContextRuntimeData.
	MaxMutableGlobals = (contextRuntimeDataSize - thunkScratchSize - contextBackPointerSize) / mutableGlobalSlotSize
)

// cOffset is C_OFF: the 4 KiB-aligned start of the ContextRuntimeData array.
var cOffset = int(platform.AlignUp(uintptr(tOffset+MaxTables*tableBasePtrSize), 4096))

// MaxContexts is derived so that cOffset + MaxContexts*contextRuntimeDataSize equals
// RegionAlignment exactly: the total region size must match the alignment so masking any
// in-region pointer yields the compartment base.
var MaxContexts = (RegionAlignment - cOffset) / contextRuntimeDataSize

func init() {
	if cOffset+MaxContexts*contextRuntimeDataSize != RegionAlignment {
		panic("BUG: compartment runtime data layout does not fill RegionAlignment exactly")
	}
}

// memoryRuntimeDataOffset returns the byte offset from the compartment base to memories[id].
func memoryRuntimeDataOffset(id int) int { return mOffset + id*memoryRuntimeDataSize }

// tableOffsetOf returns the byte offset from the compartment base to tables[id]'s base pointer slot.
func tableOffsetOf(id int) int { return tOffset + id*tableBasePtrSize }

// contextOffsetOf returns the byte offset from the compartment base to contexts[id].
func contextOffsetOf(id int) int { return cOffset + id*contextRuntimeDataSize }

// compartmentRuntimeData is the fixed-size, page-committed-on-demand region backing one
// Compartment. Compiled code reaches it by masking a context pointer it was handed; see
// FromContextPointer.
type compartmentRuntimeData struct {
	base unsafe.Pointer // RegionAlignment bytes reserved, PROT_NONE except committed sub-ranges.
}

func newCompartmentRuntimeData(owner *Compartment) (*compartmentRuntimeData, error) {
	base, err := reserveAligned(RegionAlignment, RegionAlignment)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	crd := &compartmentRuntimeData{base: base}
	if err := platform.CommitPages(base, uintptr(cOffset)); err != nil {
		_ = platform.ReleaseAddressSpace(base, RegionAlignment)
		return nil, ErrOutOfMemory
	}
	crd.putBackPointer(owner)
	return crd, nil
}

// reserveAligned reserves size bytes of address space aligned to align, by over-reserving and
// trimming the unaligned prefix/suffix back to the OS. align must be a power of two.
func reserveAligned(size, align uintptr) (unsafe.Pointer, error) {
	over, err := platform.ReserveAddressSpace(size + align)
	if err != nil {
		return nil, err
	}
	start := uintptr(over)
	aligned := (start + align - 1) &^ (align - 1)
	if prefix := aligned - start; prefix > 0 {
		_ = platform.ReleaseAddressSpace(over, prefix)
	}
	if suffix := (start + size + align) - (aligned + size); suffix > 0 {
		_ = platform.ReleaseAddressSpace(unsafe.Pointer(aligned+size), suffix)
	}
	return unsafe.Pointer(aligned), nil
}

func (crd *compartmentRuntimeData) putBackPointer(c *Compartment) {
	*(**Compartment)(crd.base) = c
}

func (crd *compartmentRuntimeData) backPointer() *Compartment {
	return *(**Compartment)(crd.base)
}

// close releases the region. Idempotent: TryCollect closes the region and embedders commonly
// still have a deferred Close pending on the same compartment.
func (crd *compartmentRuntimeData) close() error {
	if crd.base == nil {
		return nil
	}
	base := crd.base
	crd.base = nil
	return platform.ReleaseAddressSpace(base, RegionAlignment)
}

// memorySlot returns a pointer to memories[id]'s two 8-byte fields (base, reservedBytesOrPages).
func (crd *compartmentRuntimeData) memorySlot(id int) *[2]uint64 {
	return (*[2]uint64)(unsafe.Add(crd.base, memoryRuntimeDataOffset(id)))
}

// tableSlot returns a pointer to tables[id]'s base-pointer slot.
func (crd *compartmentRuntimeData) tableSlot(id int) *uint64 {
	return (*uint64)(unsafe.Add(crd.base, tableOffsetOf(id)))
}

// contextBase returns the address of ContextRuntimeData[id].
func (crd *compartmentRuntimeData) contextBase(id int) unsafe.Pointer {
	return unsafe.Add(crd.base, contextOffsetOf(id))
}

func (crd *compartmentRuntimeData) commitContext(id int) error {
	return platform.CommitPages(crd.contextBase(id), contextRuntimeDataSize)
}

func (crd *compartmentRuntimeData) decommitContext(id int) error {
	return platform.DecommitPages(crd.contextBase(id), contextRuntimeDataSize)
}

// FromContextPointer is the mask-to-base idiom: every compiled-code dereference of mutable
// globals or memory/table bases is routed through this single helper. Its only precondition is
// that ctxPtr was produced by contextBase for some live Context in some live Compartment.
func FromContextPointer(ctxPtr unsafe.Pointer) *Compartment {
	base := unsafe.Pointer(uintptr(ctxPtr) &^ uintptr(RegionAlignment-1))
	return *(**Compartment)(base)
}

// mutableGlobalSlot returns a pointer to the 16-byte untagged value slot for mutable global
// index gi within the ContextRuntimeData starting at ctxBase.
func mutableGlobalSlot(ctxBase unsafe.Pointer, gi int) *[2]uint64 {
	off := thunkScratchSize + contextBackPointerSize + gi*mutableGlobalSlotSize
	return (*[2]uint64)(unsafe.Add(ctxBase, off))
}

func putContextBackPointer(ctxBase unsafe.Pointer, ctx *Context) {
	*(**Context)(unsafe.Add(ctxBase, thunkScratchSize)) = ctx
}

func contextBackPointer(ctxBase unsafe.Pointer) *Context {
	return *(**Context)(unsafe.Add(ctxBase, thunkScratchSize))
}
