package intrinsics

import (
	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/invoke"
	"github.com/wavmgo/wavm/runtime"
)

// TableGet implements table.get: reads index, throwing uninitializedTableElement (not
// outOfBoundsTableAccess) when the slot was never written, so call_indirect dispatch and a plain
// table.get raise the right trap for each case.
func TableGet(tbl *runtime.Table, index uint64) runtime.Reference {
	ref, isNull, err := tbl.Get(index)
	if err != nil {
		invoke.Throw(err.(*runtime.TableAccessError).AsException())
	}
	if isNull {
		return 0
	}
	return ref
}

// TableSet implements table.set.
func TableSet(tbl *runtime.Table, index uint64, value runtime.Reference) {
	if err := tbl.Set(index, value); err != nil {
		invoke.Throw(err.(*runtime.TableAccessError).AsException())
	}
}

// TableGrow implements table.grow, returning the previous size or -1 on failure (never traps).
func TableGrow(tbl *runtime.Table, delta uint64, init runtime.Reference) int64 {
	n, err := tbl.Grow(delta, init)
	if err != nil {
		return -1
	}
	return n
}

// TableFill implements table.fill.
func TableFill(tbl *runtime.Table, offset, n uint64, value runtime.Reference) {
	if err := tbl.Fill(offset, n, value); err != nil {
		invoke.Throw(err.(*runtime.TableAccessError).AsException())
	}
}

// TableCopy implements table.copy.
func TableCopy(dst *runtime.Table, dstOffset uint64, src *runtime.Table, srcOffset, n uint64) {
	if err := runtime.Copy(dst, dstOffset, src, srcOffset, n); err != nil {
		invoke.Throw(err.(*runtime.TableAccessError).AsException())
	}
}

// TableInit implements table.init: copies function indices from a passive elem segment. When
// segOffset+n exceeds the segment's size, the in-range prefix is still copied before the trap is
// raised (same partial-copy-then-throw contract as MemoryInit); instanceID and segIdx identify
// the segment for the trap's arguments.
func TableInit(tbl *runtime.Table, dstOffset uint64, funcs []*runtime.Function, segOffset, n uint64, instanceID, segIdx uint64) {
	segLen := uint64(len(funcs))
	overruns := segOffset+n > segLen
	m := n
	if overruns {
		m = 0
		if segOffset < segLen {
			m = segLen - segOffset
		}
	}
	for i := uint64(0); i < m; i++ {
		var ref runtime.Reference
		if fn := funcs[segOffset+i]; fn != nil {
			ref = runtime.ReferenceOf(fn)
		}
		TableSet(tbl, dstOffset+i, ref)
	}
	if overruns {
		invoke.Throw(runtime.NewTrap("outOfBoundsElemSegmentAccess", instanceID, segIdx, segOffset+n))
	}
}

// InstanceTableInit is the table.init entry point compiled code reaches: it consults inst's
// passive elem-segment vector under the shared segment lock, trapping with invalidArgument if
// segIdx was already dropped, then delegates to TableInit.
func InstanceTableInit(inst *runtime.Instance, segIdx int, tbl *runtime.Table, dstOffset, segOffset, n uint64) {
	fns, err := inst.ElemSegmentFunctions(segIdx)
	if err != nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
	TableInit(tbl, dstOffset, fns, segOffset, n, uint64(inst.ID()), uint64(segIdx))
}

// ElemDrop implements elem.drop. Dropping twice is a no-op; only a bad segment index traps.
func ElemDrop(inst *runtime.Instance, segIdx int) {
	if err := inst.DropElemSegment(segIdx); err != nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
}

// CallIndirectCheck validates that elem (read from a funcref table slot) is non-null and its
// signature matches expected, throwing uninitializedTableElement or
// indirectCallSignatureMismatch as appropriate, and returns the resolved Function on success.
func CallIndirectCheck(tbl *runtime.Table, index uint64, expected api.EncodedType) *runtime.Function {
	ref := TableGet(tbl, index)
	if ref == 0 {
		invoke.Throw(runtime.NewTrap("uninitializedTableElement", index))
	}
	fn := runtime.FunctionFromReference(ref)
	typ := fn.Type()
	if typ.Encode() != expected {
		invoke.Throw(runtime.NewTrap("indirectCallSignatureMismatch", uint64(ref), uint64(expected)))
	}
	return fn
}
