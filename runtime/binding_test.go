package runtime

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/api"
)

func bindingTestModule() *Module {
	return NewModule(
		[]api.FunctionType{{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		[]ModuleFunction{{TypeIndex: 0, Entry: 0x1000}},
		[]MemoryType{{MinPages: 1}},
		[]TableType{{MinElems: 1}},
		[]ModuleGlobal{
			{Type: GlobalType{ValueType: api.ValueTypeI32, Mutable: true}, Init: ConstExpr{Value: 1}},
			{Type: GlobalType{ValueType: api.ValueTypeI32}, Init: ConstExpr{Value: 42}},
			{Type: GlobalType{ValueType: api.ValueTypeFuncref}, Init: RefFuncExpr(1)},
		},
		[]ModuleException{{DebugName: "tag0"}},
		ModuleImports{Functions: []ImportDecl{{Module: "env", Field: "f"}}},
		nil, nil, nil, -1,
		[]BindingSymbol{
			{Kind: BindingTypeID, Index: 0},
			{Kind: BindingFunctionImport, Index: 0},
			{Kind: BindingTableOffset, Index: 0},
			{Kind: BindingMemoryOffset, Index: 0},
			{Kind: BindingGlobal, Index: 0},
			{Kind: BindingGlobal, Index: 1},
			{Kind: BindingGlobal, Index: 2},
			{Kind: BindingBiasedExceptionTypeID, Index: 0},
			{Kind: BindingBiasedInstanceID},
			{Kind: BindingTableReferenceBias},
			{Kind: BindingFunctionDefMutableData, Index: 0},
		},
		nil, "bindingtest",
	)
}

func instantiateWithImport(t *testing.T, c *Compartment, mod *Module) *Instance {
	t.Helper()
	hostFn := NewHostFunction(c, mod.Types[0], func(ctx *Context, args []uint64) ([]uint64, error) { return args, nil }, "env.f")
	inst, err := Instantiate(c, mod, InstantiateArgs{ImportedFunctions: []*Function{hostFn}}, "inst")
	require.NoError(t, err)
	return inst
}

func TestInstantiateResolvesBindingTable(t *testing.T) {
	c := newTestCompartment(t)
	inst := instantiateWithImport(t, c, bindingTestModule())

	bt := inst.BindingTable()
	require.Len(t, bt, 11)

	require.Equal(t, typeID(inst.module.Types[0]), bt[0])
	require.Equal(t, uint64(objectToBiased(uintptr(unsafe.Pointer(inst.functions[0])))), bt[1])
	require.Equal(t, uint64(tableOffsetOf(inst.tables[0].ID())), bt[2])
	require.Equal(t, uint64(memoryRuntimeDataOffset(inst.memories[0].ID())), bt[3])
	require.NotZero(t, bt[4]) // mutable global: a context-slot byte offset
	require.Equal(t, uint64(42), bt[5]) // immutable global: its literal value
	// immutable funcref global: its deferred ref.func value, biased like a function import
	require.Equal(t, uint64(objectToBiased(uintptr(unsafe.Pointer(inst.functions[1])))), bt[6])
	require.Equal(t, biasID(inst.exceptionTypes[0].ID()), bt[7])
	require.Equal(t, biasID(inst.id), bt[8])
	require.Equal(t, uint64(oobSentinelAddr), bt[9])
	require.NotZero(t, bt[10])
}

// TestTwoInstancesOfSameModuleGetIndependentBindingTables is the direct regression test for the
// bug this package's binding table exists to fix: two Instances of the same Module must not end
// up sharing one set of bound table/memory offsets or instance ids, even though both instances
// were created from the exact same already-relocated code. Both live in one compartment, where
// the second instance's defined table/memory/exception type draw fresh ids.
func TestTwoInstancesOfSameModuleGetIndependentBindingTables(t *testing.T) {
	c := newTestCompartment(t)

	mod := bindingTestModule()
	inst1 := instantiateWithImport(t, c, mod)
	inst2 := instantiateWithImport(t, c, mod)

	bt1, bt2 := inst1.BindingTable(), inst2.BindingTable()
	require.Equal(t, bt1[0], bt2[0], "typeId is process-wide stable")
	require.NotEqual(t, bt1[1], bt2[1], "functionImport is instance-specific")
	require.NotEqual(t, bt1[2], bt2[2], "tableOffset is instance-specific")
	require.NotEqual(t, bt1[3], bt2[3], "memoryOffset is instance-specific")
	require.NotEqual(t, bt1[6], bt2[6], "funcref global binds each instance's own function")
	require.NotEqual(t, bt1[7], bt2[7], "biasedExceptionTypeId is instance-specific")
	require.NotEqual(t, bt1[8], bt2[8], "biasedInstanceId is instance-specific")
	require.Equal(t, bt1[9], bt2[9], "tableReferenceBias is process-wide")
}

func TestCloneResolvesItsOwnBindingTable(t *testing.T) {
	c := newTestCompartment(t)
	inst := instantiateWithImport(t, c, bindingTestModule())

	clone, err := c.Clone(t.Name() + ".clone")
	require.NoError(t, err)
	t.Cleanup(func() { _ = clone.Close() })

	ci := clone.instances[inst.id]
	require.NotNil(t, ci)

	// The clone preserves ids, so id-derived entries agree with the source; address-derived
	// entries must point into the clone's own objects, proving the table was resolved fresh.
	bt, cbt := inst.BindingTable(), ci.BindingTable()
	require.Equal(t, bt[2], cbt[2], "tableOffset is id-derived and ids are preserved")
	require.Equal(t, bt[3], cbt[3], "memoryOffset is id-derived and ids are preserved")
	require.Equal(t, bt[8], cbt[8], "instance id is preserved")
	require.NotEqual(t, bt[6], cbt[6], "funcref global re-binds to the clone's own function")
	require.NotEqual(t, bt[10], cbt[10], "functionDefMutableData points at the clone's own Function")
}
