package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/wavmgo/wavm/internal/platform"
)

// WasmPageSize is the granularity of Wasm linear memory growth.
const WasmPageSize = 65536

// MemoryReservationBytes is the virtual address range reserved per Memory on creation,
// including guard pages: large enough that a 32-bit index plus a 32-bit offset can never
// escape the reservation, so loads and stores need no explicit bounds check.
const MemoryReservationBytes = 8 << 30 // 8 GiB

// WasmPageSize32Max is the implementation maximum when a MemoryType carries no explicit max:
// 65536 pages (4 GiB), the largest a 32-bit index can address.
const WasmPageSize32Max = 65536

// IndexType selects whether a Memory or Table is addressed with 32-bit or 64-bit indices.
type IndexType byte

const (
	IndexTypeI32 IndexType = iota
	IndexTypeI64
)

// MemoryType describes a memory import/export/definition: its index type and page bounds.
type MemoryType struct {
	Index    IndexType
	MinPages uint64
	MaxPages *uint64 // nil means "implementation maximum"
	Shared   bool
}

// Memory is a sandboxed linear memory: a reserved virtual range with a committed page
// prefix, grown and shrunk under an exclusive resizing lock, and accessed through bounds-checked
// offset helpers that never return a pointer outside the reservation.
type Memory struct {
	object

	typ      IndexType
	shared   bool
	maxPages uint64 // effective cap: min(type.max, implementation max)

	base          unsafe.Pointer // immutable for the Memory's lifetime
	reservedBytes uint64         // immutable

	resizing sync.Mutex // exclusive for grow/shrink
	numPages uint64     // atomic; release-stored on grow/shrink, acquire-loaded by readers

	quota *ResourceQuota
}

// CreateMemory reserves MemoryReservationBytes of virtual address space plus guard pages,
// records the base pointer in the owning compartment's runtime data, and grows to typ.MinPages.
func CreateMemory(c *Compartment, typ MemoryType, debugName string, quota *ResourceQuota) (*Memory, error) {
	maxPages := uint64(WasmPageSize32Max)
	if typ.MaxPages != nil && *typ.MaxPages < maxPages {
		maxPages = *typ.MaxPages
	}

	base, err := platform.ReserveAddressSpace(MemoryReservationBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve memory: %v", ErrOutOfMemory, err)
	}

	c.mu.Lock()
	id := c.nextMemoryID
	c.nextMemoryID++
	c.mu.Unlock()

	m := &Memory{
		object:        object{kind: ObjectKindMemory, compartment: c, id: id, debugName: debugName},
		typ:           typ.Index,
		shared:        typ.Shared,
		maxPages:      maxPages,
		base:          base,
		reservedBytes: MemoryReservationBytes,
		quota:         quota,
	}
	*c.data.memorySlot(id) = [2]uint64{uint64(uintptr(base)), 0}

	c.mu.Lock()
	c.memories[id] = m
	c.mu.Unlock()
	globalLiveMemories.add(m)

	prev, err := m.Grow(typ.MinPages)
	if err != nil {
		return nil, err
	}
	if prev < 0 {
		c.mu.Lock()
		_ = m.closeLocked()
		delete(c.memories, id)
		c.mu.Unlock()
		return nil, ErrOutOfMemory
	}
	return m, nil
}

// BaseAddress returns the stable base pointer of the reservation, valid for the Memory's lifetime.
func (m *Memory) BaseAddress() uintptr { return uintptr(m.base) }

// ReservedBytes returns the immutable reservation size (including guard pages).
func (m *Memory) ReservedBytes() uint64 { return m.reservedBytes }

// PageCount returns the current committed page count, acquire-loaded so callers never observe a
// value ahead of a concurrent grow's release store.
func (m *Memory) PageCount() uint64 { return atomic.LoadUint64(&m.numPages) }

// Grow commits Δpages more pages and returns the previous page count, or -1 if that would exceed
// the effective maximum, overflow, fail to commit, or be denied by the quota. Grow(0) never
// fails and never changes size.
func (m *Memory) Grow(deltaPages uint64) (int64, error) {
	m.resizing.Lock()
	defer m.resizing.Unlock()

	cur := atomic.LoadUint64(&m.numPages)
	if deltaPages == 0 {
		return int64(cur), nil
	}
	next := cur + deltaPages
	if next < cur || next > m.maxPages {
		return -1, nil
	}
	if m.quota != nil && !m.quota.AllocateMemoryPages(deltaPages) {
		return -1, nil
	}
	byteOff := cur * WasmPageSize
	byteLen := deltaPages * WasmPageSize
	if err := platform.CommitPages(unsafe.Add(m.base, byteOff), uintptr(byteLen)); err != nil {
		if m.quota != nil {
			m.quota.FreeMemoryPages(deltaPages)
		}
		return -1, nil
	}
	atomic.StoreUint64(&m.numPages, next) // release store: growth becomes visible here.
	*m.CompartmentOf().data.memorySlot(m.id) = [2]uint64{uint64(uintptr(m.base)), next}
	return int64(cur), nil
}

// Shrink decommits Δpages pages and returns the previous page count, or -1 if Δ exceeds the
// current size.
func (m *Memory) Shrink(deltaPages uint64) (int64, error) {
	m.resizing.Lock()
	defer m.resizing.Unlock()

	cur := atomic.LoadUint64(&m.numPages)
	if deltaPages == 0 {
		return int64(cur), nil
	}
	if deltaPages > cur {
		return -1, nil
	}
	next := cur - deltaPages
	byteOff := next * WasmPageSize
	byteLen := deltaPages * WasmPageSize
	if err := platform.DecommitPages(unsafe.Add(m.base, byteOff), uintptr(byteLen)); err != nil {
		return -1, nil
	}
	atomic.StoreUint64(&m.numPages, next)
	if m.quota != nil {
		m.quota.FreeMemoryPages(deltaPages)
	}
	*m.CompartmentOf().data.memorySlot(m.id) = [2]uint64{uint64(uintptr(m.base)), next}
	return int64(cur), nil
}

// GetReservedOffsetRange saturates numBytes to reservedBytes and address to
// reservedBytes-numBytes, returning a pointer into the reservation. It never returns a pointer
// outside [base, base+reservedBytes), and reports the out-of-range condition via ok=false so
// callers can raise an out-of-bounds-memory-access exception with the offending address or size.
func (m *Memory) GetReservedOffsetRange(address, numBytes uint64) (ptr uintptr, ok bool) {
	if numBytes > m.reservedBytes {
		return 0, false
	}
	if address > m.reservedBytes-numBytes {
		return 0, false
	}
	return uintptr(m.base) + uintptr(address), true
}

// GetValidatedOffsetRange is as GetReservedOffsetRange but checked against the committed prefix
// ([0, PageCount()*WasmPageSize)) rather than the full reservation.
func (m *Memory) GetValidatedOffsetRange(address, numBytes uint64) (ptr uintptr, ok bool) {
	committed := atomic.LoadUint64(&m.numPages) * WasmPageSize
	if numBytes > committed {
		return 0, false
	}
	if address > committed-numBytes {
		return 0, false
	}
	return uintptr(m.base) + uintptr(address), true
}

func (m *Memory) closeLocked() error {
	globalLiveMemories.remove(m)
	return platform.ReleaseAddressSpace(m.base, uintptr(m.reservedBytes))
}

// cloneInto copies m's committed contents into a fresh Memory owned by dst, reusing id so the
// clone's compartment-level object table matches the source's.
func (m *Memory) cloneInto(dst *Compartment, id int) (*Memory, error) {
	max := m.maxPages
	typ := MemoryType{Index: m.typ, MinPages: 0, Shared: m.shared, MaxPages: &max}

	base, err := platform.ReserveAddressSpace(MemoryReservationBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve memory: %v", ErrOutOfMemory, err)
	}
	cm := &Memory{
		object:        object{kind: ObjectKindMemory, compartment: dst, id: id, debugName: m.debugName},
		typ:           typ.Index,
		shared:        typ.Shared,
		maxPages:      max,
		base:          base,
		reservedBytes: MemoryReservationBytes,
		quota:         m.quota,
	}
	*dst.data.memorySlot(id) = [2]uint64{uint64(uintptr(base)), 0}
	globalLiveMemories.add(cm)

	if pages := atomic.LoadUint64(&m.numPages); pages > 0 {
		prev, err := cm.Grow(pages)
		if err != nil {
			return nil, err
		}
		if prev < 0 {
			return nil, ErrOutOfMemory
		}
		n := uintptr(pages * WasmPageSize)
		copy(unsafe.Slice((*byte)(cm.base), n), unsafe.Slice((*byte)(m.base), n))
	}
	return cm, nil
}

// IsAddressOwnedByMemory scans the process-wide live-memory list for the Memory owning p, for
// fault attribution. See liveobjects.go.
func IsAddressOwnedByMemory(p uintptr) (mem *Memory, offset uint64, ok bool) {
	return globalLiveMemories.find(p)
}
