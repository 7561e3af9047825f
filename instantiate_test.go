package wavm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/invoke"
	"github.com/wavmgo/wavm/jitloader"
	"github.com/wavmgo/wavm/runtime"
)

// minimalSpec is a module with no functions, memories, tables, or imports -- just enough to
// exercise CompileModule/InstantiateModule without a real compiled-code entrypoint.
func minimalSpec() jitloader.ModuleSpec {
	return jitloader.ModuleSpec{
		Code:      []byte{0x90, 0x90, 0x90, 0x90},
		StartFunc: -1,
		DebugName: "minimal",
	}
}

func TestCompileAndInstantiateModuleWithNoImports(t *testing.T) {
	r := NewRuntime(nil)
	t.Cleanup(func() { _ = r.Close() })

	m, err := r.CompileModule(minimalSpec())
	require.NoError(t, err)

	c, err := runtime.NewCompartment(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	inst, err := r.InstantiateModule(c, m, StaticImports{}, "inst")
	require.NoError(t, err)
	require.NotNil(t, inst)
}

func TestInstantiateModuleResolvesFunctionImport(t *testing.T) {
	r := NewRuntime(nil)
	t.Cleanup(func() { _ = r.Close() })

	c, err := runtime.NewCompartment(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	hostFn := runtime.NewHostFunction(c, api.FunctionType{}, func(ctx *runtime.Context, args []uint64) ([]uint64, error) {
		return nil, nil
	}, "env.log")

	spec := minimalSpec()
	spec.Imports.Functions = []runtime.ImportDecl{{Module: "env", Field: "log"}}

	m, err := r.CompileModule(spec)
	require.NoError(t, err)

	imports := StaticImports{"env": {"log": hostFn}}
	inst, err := r.InstantiateModule(c, m, imports, "inst")
	require.NoError(t, err)
	require.NotNil(t, inst)
}

func TestInstantiateModuleFailsWhenImportMissing(t *testing.T) {
	r := NewRuntime(nil)
	t.Cleanup(func() { _ = r.Close() })

	c, err := runtime.NewCompartment(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	spec := minimalSpec()
	spec.Imports.Functions = []runtime.ImportDecl{{Module: "env", Field: "missing"}}

	m, err := r.CompileModule(spec)
	require.NoError(t, err)

	_, err = r.InstantiateModule(c, m, StaticImports{}, "inst")
	require.Error(t, err)
}

// TestInstantiateModuleEnforcesFeatureFlags pins the proposal gating at the instantiation
// boundary: a module using a disabled proposal is rejected before any compartment-owned object
// is created for it, and flipping the corresponding With* option admits it.
func TestInstantiateModuleEnforcesFeatureFlags(t *testing.T) {
	newCompartment := func(t *testing.T) *runtime.Compartment {
		c, err := runtime.NewCompartment(t.Name())
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	instantiate := func(t *testing.T, r *Runtime, spec jitloader.ModuleSpec) error {
		t.Helper()
		t.Cleanup(func() { _ = r.Close() })
		m, err := r.CompileModule(spec)
		require.NoError(t, err)
		_, err = r.InstantiateModule(newCompartment(t), m, StaticImports{}, "inst")
		return err
	}

	t.Run("exception tags require exception-handling", func(t *testing.T) {
		spec := minimalSpec()
		spec.Exceptions = []runtime.ModuleException{{DebugName: "tag0"}}
		err := instantiate(t, NewRuntime(nil), spec)
		require.ErrorContains(t, err, "exception-handling")

		spec = minimalSpec()
		spec.Exceptions = []runtime.ModuleException{{DebugName: "tag0"}}
		err = instantiate(t, NewRuntime(NewRuntimeConfig().WithFeatureExceptionHandling(true)), spec)
		require.NoError(t, err)
	})

	t.Run("passive segments require bulk-memory", func(t *testing.T) {
		spec := minimalSpec()
		spec.Memories = []runtime.MemoryType{{MinPages: 1}}
		spec.DataSegments = []runtime.DataSegment{{Bytes: []byte{1}, Passive: true}}
		err := instantiate(t, NewRuntime(NewRuntimeConfig().WithFeatureBulkMemory(false)), spec)
		require.ErrorContains(t, err, "bulk-memory")

		err = instantiate(t, NewRuntime(nil), spec)
		require.NoError(t, err)
	})

	t.Run("reference-typed globals require reference-types", func(t *testing.T) {
		spec := minimalSpec()
		spec.Types = []api.FunctionType{{}}
		spec.Functions = []jitloader.FunctionSymbol{{Name: "f", TypeIndex: 0, Offset: 0, Size: 4}}
		spec.Globals = []runtime.ModuleGlobal{{
			Type: runtime.GlobalType{ValueType: api.ValueTypeFuncref},
			Init: runtime.RefFuncExpr(0),
		}}
		err := instantiate(t, NewRuntime(nil), spec)
		require.ErrorContains(t, err, "reference-types")

		err = instantiate(t, NewRuntime(NewRuntimeConfig().WithFeatureReferenceTypes(true)), spec)
		require.NoError(t, err)
	})

	t.Run("second table requires reference-types", func(t *testing.T) {
		spec := minimalSpec()
		spec.Tables = []runtime.TableType{{MinElems: 1}, {MinElems: 1}}
		err := instantiate(t, NewRuntime(nil), spec)
		require.ErrorContains(t, err, "reference-types")
	})

	t.Run("multi-result types require multi-value", func(t *testing.T) {
		spec := minimalSpec()
		spec.Types = []api.FunctionType{{Results: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}}}
		err := instantiate(t, NewRuntime(nil), spec)
		require.ErrorContains(t, err, "multi-value")
	})

	t.Run("shared memories require threads", func(t *testing.T) {
		spec := minimalSpec()
		spec.Memories = []runtime.MemoryType{{MinPages: 1, Shared: true}}
		err := instantiate(t, NewRuntime(nil), spec)
		require.ErrorContains(t, err, "threads")

		spec = minimalSpec()
		spec.Memories = []runtime.MemoryType{{MinPages: 1, Shared: true}}
		err = instantiate(t, NewRuntime(NewRuntimeConfig().WithFeatureThreads(true)), spec)
		require.NoError(t, err)
	})
}

// TestHelloCallbackRoundTrip drives the canonical embedding flow end to end: a module importing
// a host callback exports "run", which forwards its argument to the callback. The compiled body
// of "run" is simulated through the entrypoint hook, since code generation is out of scope; what
// is under test is the whole boundary -- import resolution, instantiation, export lookup, invoke
// dispatch, and the context plumbing the entrypoint receives.
func TestHelloCallbackRoundTrip(t *testing.T) {
	r := NewRuntime(nil)
	t.Cleanup(func() { _ = r.Close() })

	c, err := runtime.NewCompartment(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	i32toi32 := api.FunctionType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}

	callbackCount := 0
	hello := runtime.NewHostFunction(c, i32toi32, func(ctx *runtime.Context, args []uint64) ([]uint64, error) {
		callbackCount++
		return []uint64{args[0] + 1}, nil
	}, "hello")

	spec := minimalSpec()
	spec.Types = []api.FunctionType{i32toi32}
	spec.Imports.Functions = []runtime.ImportDecl{{Module: "", Field: "hello"}}
	spec.Functions = []jitloader.FunctionSymbol{{Name: "run", TypeIndex: 0, Offset: 0, Size: 4}}
	spec.Exports = []runtime.ModuleExport{{Name: "run", Kind: api.ExternTypeFunc, Index: 1}}

	m, err := r.CompileModule(spec)
	require.NoError(t, err)

	inst, err := r.InstantiateModule(c, m, StaticImports{"": {"hello": hello}}, "hello-module")
	require.NoError(t, err)

	ctx, err := runtime.NewContext(c, "ctx")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	// run's body is (call $hello (local.get 0)): the entrypoint forwards to the imported
	// function the same way generated code would through its binding table.
	invoke.SetEntrypoint(func(entry, ctxBase uintptr, params []uint64) ([]uint64, error) {
		require.Equal(t, ctx.RuntimeDataBase(), ctxBase)
		return invoke.Invoke(runtime.ContextFromRuntimeDataBase(ctxBase), hello, params)
	})
	t.Cleanup(func() { invoke.SetEntrypoint(nil) })

	results, err := invoke.InvokeExported(ctx, inst, "run", []uint64{100})
	require.NoError(t, err)
	require.Equal(t, []uint64{101}, results)
	require.Equal(t, 1, callbackCount)
}

func TestStaticImportsResolveImport(t *testing.T) {
	obj := runtime.NewHostFunction(nil, api.FunctionType{}, nil, "f")
	s := StaticImports{"env": {"f": obj}}

	got, err := s.ResolveImport("env", "f")
	require.NoError(t, err)
	require.Same(t, obj, got)

	_, err = s.ResolveImport("env", "missing")
	require.Error(t, err)
}
