package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/api"
)

func minimalModule() *Module {
	return NewModule(
		nil, nil,
		[]MemoryType{{MinPages: 1}},
		[]TableType{{MinElems: 2}},
		[]ModuleGlobal{{Type: GlobalType{ValueType: api.ValueTypeI32}, Init: ConstExpr{Value: 5}}},
		nil,
		ModuleImports{},
		[]ModuleExport{
			{Name: "mem", Kind: api.ExternTypeMemory, Index: 0},
			{Name: "g", Kind: api.ExternTypeGlobal, Index: 0},
		},
		nil, nil, -1, nil, nil, "minimal",
	)
}

func TestInstantiateExportsMemoryAndGlobal(t *testing.T) {
	c := newTestCompartment(t)
	mod := minimalModule()

	inst, err := Instantiate(c, mod, InstantiateArgs{}, "inst")
	require.NoError(t, err)

	exp, ok := inst.Exports("mem")
	require.True(t, ok)
	require.IsType(t, &Memory{}, exp)

	exp, ok = inst.Exports("g")
	require.True(t, ok)
	require.EqualValues(t, 5, exp.(*Global).Get().Lo)

	require.Nil(t, inst.ExportedFunction("nope"))
}

// TestInstantiateResolvesDeferredRefFuncGlobal covers the deferred half of global
// initialization: a (ref.func 0) initializer names a Function that does not exist when the
// global is created, so it must be resolved only after the module's functions are built, and a
// compartment clone must re-point the cloned global at the clone's own Function.
func TestInstantiateResolvesDeferredRefFuncGlobal(t *testing.T) {
	c := newTestCompartment(t)
	mod := NewModule(
		[]api.FunctionType{{}},
		[]ModuleFunction{{TypeIndex: 0, Entry: 0x1000}},
		nil, nil,
		[]ModuleGlobal{{Type: GlobalType{ValueType: api.ValueTypeFuncref}, Init: RefFuncExpr(0)}},
		nil,
		ModuleImports{},
		[]ModuleExport{{Name: "g", Kind: api.ExternTypeGlobal, Index: 0}},
		nil, nil, -1, nil, nil, "reffunc",
	)

	inst, err := Instantiate(c, mod, InstantiateArgs{}, "inst")
	require.NoError(t, err)

	g := inst.globals[0]
	require.Equal(t, inst.functions[0], FunctionFromReference(Reference(g.Get().Lo)))

	clone, err := c.Clone(t.Name() + "-clone")
	require.NoError(t, err)
	t.Cleanup(func() { _ = clone.Close() })

	ci := clone.instances[inst.id]
	require.NotNil(t, ci)
	cloned := FunctionFromReference(Reference(ci.globals[0].Get().Lo))
	require.Equal(t, ci.functions[0], cloned)
	require.NotEqual(t, inst.functions[0], cloned)
}

func TestInstantiateRejectsOutOfRangeRefFuncInitializer(t *testing.T) {
	c := newTestCompartment(t)
	mod := NewModule(
		nil, nil, nil, nil,
		[]ModuleGlobal{{Type: GlobalType{ValueType: api.ValueTypeFuncref}, Init: RefFuncExpr(3)}},
		nil, ModuleImports{}, nil, nil, nil, -1, nil, nil, "bad-reffunc",
	)
	_, err := Instantiate(c, mod, InstantiateArgs{}, "inst")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInstantiateRejectsImportCountMismatch(t *testing.T) {
	c := newTestCompartment(t)
	mod := minimalModule()
	mod.Imports.Functions = []ImportDecl{{Module: "env", Field: "f"}}

	_, err := Instantiate(c, mod, InstantiateArgs{}, "inst")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInstantiateDataSegmentInitializesMemory(t *testing.T) {
	c := newTestCompartment(t)
	mod := minimalModule()
	mod.DataSegments = []DataSegment{{MemoryIndex: 0, Offset: ConstExpr{Value: 0}, Bytes: []byte{9, 9, 9}}}

	inst, err := Instantiate(c, mod, InstantiateArgs{}, "inst")
	require.NoError(t, err)

	exp, ok := inst.Exports("mem")
	require.True(t, ok)
	mem := exp.(*Memory)
	ptr, ok := mem.GetValidatedOffsetRange(0, 3)
	require.True(t, ok)
	require.Equal(t, []byte{9, 9, 9}, memoryBytesAt(ptr, 3))
}
