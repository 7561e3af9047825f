package intrinsics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/runtime"
)

func newTestTable(t *testing.T, minElems uint64) *runtime.Table {
	t.Helper()
	c := newTestCompartment(t)
	tbl, err := runtime.CreateTable(c, runtime.TableType{MinElems: minElems}, 0, "tbl", nil)
	require.NoError(t, err)
	return tbl
}

func newTestFunction(t *testing.T, c *runtime.Compartment) *runtime.Function {
	t.Helper()
	return runtime.NewHostFunction(c, api.FunctionType{}, func(ctx *runtime.Context, args []uint64) ([]uint64, error) {
		return nil, nil
	}, "f")
}

func TestTableGetUninitializedTraps(t *testing.T) {
	tbl := newTestTable(t, 2)
	expectTrap(t, "uninitializedTableElement", func() {
		TableGet(tbl, 0)
	})
}

func TestTableSetAndGetRoundTrip(t *testing.T) {
	tbl := newTestTable(t, 2)
	fn := newTestFunction(t, tbl.CompartmentOf())
	ref := runtime.ReferenceOf(fn)

	TableSet(tbl, 0, ref)
	require.Equal(t, ref, TableGet(tbl, 0))
}

func TestTableGetOutOfBoundsTraps(t *testing.T) {
	tbl := newTestTable(t, 2)
	expectTrap(t, "outOfBoundsTableAccess", func() {
		TableGet(tbl, 99)
	})
}

func TestTableGrowReturnsPreviousSizeOrFailure(t *testing.T) {
	tbl := newTestTable(t, 1)
	require.EqualValues(t, 1, TableGrow(tbl, 1, 0))
}

func TestTableInitCopiesFuncIndices(t *testing.T) {
	tbl := newTestTable(t, 2)
	fn := newTestFunction(t, tbl.CompartmentOf())
	TableInit(tbl, 0, []*runtime.Function{fn, nil}, 0, 2, 1, 0)
	require.Equal(t, runtime.ReferenceOf(fn), TableGet(tbl, 0))
	require.EqualValues(t, 0, TableGet(tbl, 1))
}

func TestTableInitTrapsWhenSegmentRangeOverruns(t *testing.T) {
	tbl := newTestTable(t, 3)
	fn := newTestFunction(t, tbl.CompartmentOf())
	expectTrap(t, "outOfBoundsElemSegmentAccess", func() {
		TableInit(tbl, 0, []*runtime.Function{fn}, 0, 3, 1, 0)
	})
}

func TestTableInitCopiesValidPrefixBeforeTrapping(t *testing.T) {
	tbl := newTestTable(t, 3)
	fn := newTestFunction(t, tbl.CompartmentOf())
	expectTrap(t, "outOfBoundsElemSegmentAccess", func() {
		TableInit(tbl, 0, []*runtime.Function{fn}, 0, 3, 1, 0)
	})
	require.Equal(t, runtime.ReferenceOf(fn), TableGet(tbl, 0))
}

func newTestInstanceWithPassiveElem(t *testing.T) (*runtime.Instance, *runtime.Table, *runtime.Function) {
	t.Helper()
	c := newTestCompartment(t)
	mod := runtime.NewModule(
		[]api.FunctionType{{}},
		[]runtime.ModuleFunction{{TypeIndex: 0, Entry: 0x1000}},
		nil,
		[]runtime.TableType{{MinElems: 4}},
		nil, nil,
		runtime.ModuleImports{},
		[]runtime.ModuleExport{{Name: "tbl", Kind: api.ExternTypeTable, Index: 0}},
		nil,
		[]runtime.ElemSegment{{FuncIndices: []int{0, -1}, Passive: true}},
		-1, nil, nil, "passive-elem")
	inst, err := runtime.Instantiate(c, mod, runtime.InstantiateArgs{}, "inst")
	require.NoError(t, err)
	exp, _ := inst.Exports("tbl")
	fns, err := inst.ElemSegmentFunctions(0)
	require.NoError(t, err)
	return inst, exp.(*runtime.Table), fns[0]
}

// TestPassiveElemSegmentInitThenDrop is the element-segment lifecycle analogue of the passive
// data-segment test: table.init materializes the segment's entries, elem.drop consumes it, and a
// second table.init traps with invalidArgument.
func TestPassiveElemSegmentInitThenDrop(t *testing.T) {
	inst, tbl, fn := newTestInstanceWithPassiveElem(t)

	InstanceTableInit(inst, 0, tbl, 0, 0, 2)
	require.Equal(t, runtime.ReferenceOf(fn), TableGet(tbl, 0))
	require.EqualValues(t, 0, TableGet(tbl, 1))

	ElemDrop(inst, 0)
	ElemDrop(inst, 0) // dropping twice is a no-op

	expectTrap(t, "invalidArgument", func() {
		InstanceTableInit(inst, 0, tbl, 2, 0, 1)
	})
}

func TestCallIndirectCheckSignatureMismatch(t *testing.T) {
	tbl := newTestTable(t, 1)
	c := tbl.CompartmentOf()
	fn := runtime.NewHostFunction(c, api.FunctionType{Params: []api.ValueType{api.ValueTypeI32}}, func(ctx *runtime.Context, args []uint64) ([]uint64, error) {
		return nil, nil
	}, "f")
	TableSet(tbl, 0, runtime.ReferenceOf(fn))

	expectTrap(t, "indirectCallSignatureMismatch", func() {
		CallIndirectCheck(tbl, 0, api.FunctionType{}.Encode())
	})
}

func TestCallIndirectCheckResolvesMatchingFunction(t *testing.T) {
	tbl := newTestTable(t, 1)
	c := tbl.CompartmentOf()
	typ := api.FunctionType{Params: []api.ValueType{api.ValueTypeI32}}
	fn := runtime.NewHostFunction(c, typ, func(ctx *runtime.Context, args []uint64) ([]uint64, error) {
		return nil, nil
	}, "f")
	TableSet(tbl, 0, runtime.ReferenceOf(fn))

	got := CallIndirectCheck(tbl, 0, typ.Encode())
	require.Same(t, fn, got)
}
