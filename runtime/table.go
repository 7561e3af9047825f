package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/wavmgo/wavm/internal/platform"
)

// TableReservedElements is the virtual element count reserved per Table: large enough that
// a saturating 32-bit index arithmetic check suffices for bounds checks.
const TableReservedElements = 1 << 32

// tableElementSize is pointer-sized: each slot stores a biased reference.
const tableElementSize = unsafe.Sizeof(uintptr(0))

// oobSentinel and uninitializedSentinel are the two distinguished singleton Functions whose
// addresses serve as table-element markers. Writing a null element stores
// uninitializedSentinel's biased value; a zero-initialized (never-committed) slot's biased value
// is zero, which unbiases back to oobSentinel's own address, so out-of-bounds and
// never-written slots are distinguished from a legitimately stored null without an explicit
// compare.
var (
	oobSentinel           = &Function{functionMutableData: functionMutableData{debugName: "<table-oob-sentinel>"}}
	uninitializedSentinel = &Function{functionMutableData: functionMutableData{debugName: "<table-uninitialized-sentinel>"}}

	oobSentinelAddr           = uintptr(unsafe.Pointer(oobSentinel))
	uninitializedSentinelAddr = uintptr(unsafe.Pointer(uninitializedSentinel))
)

// Reference is an un-biased table element value: the address of a Function (funcref tables) or
// an opaque host pointer value (externref tables). The zero Reference denotes null.
type Reference uintptr

// ReferenceOf returns the Reference for a live Function, suitable for Table.Set on a funcref table.
func ReferenceOf(fn *Function) Reference {
	if fn == nil {
		return 0
	}
	return Reference(uintptr(unsafe.Pointer(fn)))
}

// FunctionFromReference converts a Reference read back from a funcref Table into its Function.
// The caller is responsible for only doing this on tables whose ElemType is funcref.
func FunctionFromReference(r Reference) *Function {
	if r == 0 {
		return nil
	}
	return (*Function)(unsafe.Pointer(uintptr(r)))
}

// objectToBiased and biasedToObject are the single pair of helpers all raw access to the
// element array goes through.
func objectToBiased(addr uintptr) uintptr { return addr - oobSentinelAddr }
func biasedToObject(biased uintptr) uintptr { return biased + oobSentinelAddr }

// TableType describes a table import/export/definition.
type TableType struct {
	ElemType byte // api.ValueTypeFuncref or api.ValueTypeExternref
	Index    IndexType
	MinElems uint64
	MaxElems *uint64
	Shared   bool
}

// Table is an element array of biased references with OOB and uninitialized sentinels, grown
// under an exclusive resizing lock and read and written with acquire/release atomics. Fill and
// Copy do not take the resizing lock; they go element by element through Get and Set.
type Table struct {
	object

	elemType byte
	idxType  IndexType
	shared   bool
	maxElems uint64

	base          unsafe.Pointer // reserved TableReservedElements*tableElementSize bytes
	reservedBytes uint64

	resizing  sync.Mutex
	numElems  uint64 // atomic

	quota *ResourceQuota
}

func (t *Table) slot(i uint64) *uintptr {
	return (*uintptr)(unsafe.Add(t.base, uintptr(i)*tableElementSize))
}

// committedElems returns how many slots are backed by committed pages. Commit granularity is the
// host page, so slots between numElems and the end of the last committed page are readable
// zero-filled slots whose biased value unbiases to the OOB sentinel; slots past the committed
// prefix would fault on access, so Get/Set treat them as out of bounds directly -- the same trap
// the access-violation translation of a hardware fault in that range would produce.
func (t *Table) committedElems() uint64 {
	n := atomic.LoadUint64(&t.numElems)
	committedBytes := platform.AlignUp(uintptr(n)*tableElementSize, uintptr(platform.PageSize))
	return uint64(committedBytes / tableElementSize)
}

// CreateTable reserves virtual address space for exactly TableReservedElements elements (no
// separate guard pages), then grows to typ.MinElems filling new slots with the biased value of initial (or the
// uninitialized sentinel if initial is the zero Reference).
func CreateTable(c *Compartment, typ TableType, initial Reference, debugName string, quota *ResourceQuota) (*Table, error) {
	maxElems := uint64(TableReservedElements - 1)
	if typ.MaxElems != nil && *typ.MaxElems < maxElems {
		maxElems = *typ.MaxElems
	}

	base, err := platform.ReserveAddressSpace(TableReservedElements * tableElementSize)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve table: %v", ErrOutOfMemory, err)
	}

	c.mu.Lock()
	id := c.nextTableID
	c.nextTableID++
	c.mu.Unlock()

	tbl := &Table{
		object:        object{kind: ObjectKindTable, compartment: c, id: id, debugName: debugName},
		elemType:      typ.ElemType,
		idxType:       typ.Index,
		shared:        typ.Shared,
		maxElems:      maxElems,
		base:          base,
		reservedBytes: uint64(TableReservedElements * tableElementSize),
		quota:         quota,
	}
	*c.data.tableSlot(id) = uint64(uintptr(base))

	c.mu.Lock()
	c.tables[id] = tbl
	c.mu.Unlock()
	globalLiveTables.add(tbl)

	prev, err := tbl.Grow(typ.MinElems, initial)
	if err != nil {
		return nil, err
	}
	if prev < 0 {
		c.mu.Lock()
		_ = tbl.closeLocked()
		delete(c.tables, id)
		c.mu.Unlock()
		return nil, ErrOutOfMemory
	}
	return tbl, nil
}

// BaseAddress returns the table's immutable reservation base.
func (t *Table) BaseAddress() uintptr { return uintptr(t.base) }

// ReservedBytes returns the table's immutable reservation size in bytes.
func (t *Table) ReservedBytes() uint64 { return t.reservedBytes }

// ElemCount returns the current element count, acquire-loaded.
func (t *Table) ElemCount() uint64 { return atomic.LoadUint64(&t.numElems) }

func referenceBias(r Reference) uintptr {
	if r == 0 {
		return objectToBiased(uninitializedSentinelAddr)
	}
	return objectToBiased(uintptr(r))
}

// Grow commits Δelements more slots, fills them with init's biased value, and returns the
// previous element count, release-storing the new count so other threads' acquire loads never
// observe a size beyond what has been initialized.
func (t *Table) Grow(deltaElems uint64, init Reference) (int64, error) {
	t.resizing.Lock()
	defer t.resizing.Unlock()

	cur := atomic.LoadUint64(&t.numElems)
	if deltaElems == 0 {
		return int64(cur), nil
	}
	next := cur + deltaElems
	if next < cur || next > t.maxElems {
		return -1, nil
	}
	if t.quota != nil && !t.quota.AllocateTableElems(deltaElems) {
		return -1, nil
	}

	byteOff := uintptr(cur) * tableElementSize
	byteLen := uintptr(deltaElems) * tableElementSize
	if err := platform.CommitPages(unsafe.Add(t.base, byteOff), byteLen); err != nil {
		if t.quota != nil {
			t.quota.FreeTableElems(deltaElems)
		}
		return -1, nil
	}
	biased := referenceBias(init)
	for i := cur; i < next; i++ {
		atomic.StoreUintptr(t.slot(i), biased)
	}
	atomic.StoreUint64(&t.numElems, next)
	*t.CompartmentOf().data.tableSlot(t.id) = uint64(uintptr(t.base))
	return int64(cur), nil
}

// Get loads element index with acquire semantics, traps with ErrOutOfBoundsTableAccess if the
// retrieved biased value unbiases to the OOB sentinel, and returns (0, true, nil) for a
// legitimately-null (uninitialized) element.
func (t *Table) Get(index uint64) (ref Reference, isNull bool, err error) {
	if index >= TableReservedElements || index >= t.committedElems() {
		return 0, false, &TableAccessError{Table: t, Index: index, OutOfBounds: true}
	}
	biased := atomic.LoadUintptr(t.slot(index))
	addr := biasedToObject(biased)
	switch addr {
	case oobSentinelAddr:
		return 0, false, &TableAccessError{Table: t, Index: index, OutOfBounds: true}
	case uninitializedSentinelAddr:
		return 0, true, nil
	default:
		return Reference(addr), false, nil
	}
}

// Set CAS-loops the biased value at index: if the observed current value unbiases to the OOB
// sentinel the write traps, otherwise it is replaced. Writing the zero Reference stores the
// uninitialized sentinel, preserving the "written null" vs. "never initialized" distinction for
// indirect-call dispatch (which must raise UninitializedTableElement, not
// OutOfBoundsTableAccess, on the latter).
func (t *Table) Set(index uint64, value Reference) error {
	if index >= TableReservedElements || index >= t.committedElems() {
		return &TableAccessError{Table: t, Index: index, OutOfBounds: true}
	}
	newBiased := referenceBias(value)
	slot := t.slot(index)
	for {
		cur := atomic.LoadUintptr(slot)
		if biasedToObject(cur) == oobSentinelAddr {
			return &TableAccessError{Table: t, Index: index, OutOfBounds: true}
		}
		if atomic.CompareAndSwapUintptr(slot, cur, newBiased) {
			return nil
		}
	}
}

// Fill stores value into [destOff, destOff+n).
func (t *Table) Fill(destOff, n uint64, value Reference) error {
	for i := uint64(0); i < n; i++ {
		if err := t.Set(destOff+i, value); err != nil {
			return err
		}
	}
	return nil
}

// Copy copies n elements from src[srcOff:] to t[destOff:]. When srcOff < destOff the copy
// proceeds in descending order so overlapping ranges in the same Table are handled correctly
// under aliasing.
func Copy(dest *Table, destOff uint64, src *Table, srcOff, n uint64) error {
	if srcOff < destOff {
		for i := n; i > 0; i-- {
			ref, isNull, err := src.Get(srcOff + i - 1)
			if err != nil {
				return err
			}
			if isNull {
				ref = 0
			}
			if err := dest.Set(destOff+i-1, ref); err != nil {
				return err
			}
		}
		return nil
	}
	for i := uint64(0); i < n; i++ {
		ref, isNull, err := src.Get(srcOff + i)
		if err != nil {
			return err
		}
		if isNull {
			ref = 0
		}
		if err := dest.Set(destOff+i, ref); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) closeLocked() error {
	globalLiveTables.remove(t)
	return platform.ReleaseAddressSpace(t.base, uintptr(t.reservedBytes))
}

func (t *Table) cloneInto(dst *Compartment, id int) (*Table, error) {
	max := t.maxElems
	typ := TableType{ElemType: t.elemType, Index: t.idxType, Shared: t.shared, MaxElems: &max}

	base, err := platform.ReserveAddressSpace(uintptr(t.reservedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reserve table: %v", ErrOutOfMemory, err)
	}
	ct := &Table{
		object:        object{kind: ObjectKindTable, compartment: dst, id: id, debugName: t.debugName},
		elemType:      typ.ElemType,
		idxType:       typ.Index,
		shared:        typ.Shared,
		maxElems:      max,
		base:          base,
		reservedBytes: t.reservedBytes,
		quota:         t.quota,
	}
	*dst.data.tableSlot(id) = uint64(uintptr(base))
	globalLiveTables.add(ct)

	if n := atomic.LoadUint64(&t.numElems); n > 0 {
		prev, err := ct.Grow(n, 0)
		if err != nil {
			return nil, err
		}
		if prev < 0 {
			return nil, ErrOutOfMemory
		}
		for i := uint64(0); i < n; i++ {
			atomic.StoreUintptr(ct.slot(i), atomic.LoadUintptr(t.slot(i)))
		}
	}
	return ct, nil
}

// TableAccessError is returned by Get/Set (and so by Fill/Copy) when an index or CAS observes a sentinel,
// distinguishing out-of-bounds access from uninitialized-element dispatch.
type TableAccessError struct {
	Table       *Table
	Index       uint64
	OutOfBounds bool
}

func (e *TableAccessError) Error() string {
	if e.OutOfBounds {
		return fmt.Sprintf("out of bounds table access: table %q index %d", e.Table.debugName, e.Index)
	}
	return fmt.Sprintf("uninitialized table element: table %q index %d", e.Table.debugName, e.Index)
}

// AsException converts e into the *Exception intrinsics and invoke throw across the host/Wasm
// boundary, using the matching built-in trap tag.
func (e *TableAccessError) AsException() *Exception {
	if e.OutOfBounds {
		return NewTrap("outOfBoundsTableAccess", e.Index)
	}
	return NewTrap("uninitializedTableElement", e.Index)
}
