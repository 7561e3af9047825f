package wavm

import (
	"fmt"

	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/jitloader"
	"github.com/wavmgo/wavm/runtime"
)

// CompiledModule is a loaded, not-yet-instantiated module: the result of Runtime.CompileModule.
type CompiledModule struct {
	loaded *jitloader.LoadedModule
}

// CompileModule loads spec's code into an executable mapping, without creating any
// Compartment-owned object yet: compiling is independent of instantiation. It does not check the
// module's import/export shape; that happens when the module is instantiated.
func (r *Runtime) CompileModule(spec jitloader.ModuleSpec) (*CompiledModule, error) {
	lm, err := r.loader.LoadModule(spec)
	if err != nil {
		return nil, err
	}
	return &CompiledModule{loaded: lm}, nil
}

// Close unloads the compiled module's executable pages. Every Instance created from it must
// already be destroyed.
func (m *CompiledModule) Close(r *Runtime) error {
	return r.loader.Unload(m.loaded)
}

// ImportProvider resolves one (module, field) import declaration to a live Object, used by
// InstantiateModule to assemble InstantiateArgs from an embedder-supplied linker.
type ImportProvider interface {
	ResolveImport(module, field string) (runtime.Object, error)
}

// validateFeatures rejects a module that uses a proposal the configured feature set leaves
// disabled, before any compartment-owned object is created for it.
func (r *Runtime) validateFeatures(mod *runtime.Module, debugName string) error {
	features := r.config.enabledFeatures
	fail := func(feature, use string) error {
		return fmt.Errorf("wavm: module %q uses %s, but the %s feature is disabled", debugName, use, feature)
	}

	if !features.Has(FeatureExceptionHandling) &&
		(len(mod.Exceptions) > 0 || len(mod.Imports.Exceptions) > 0) {
		return fail("exception-handling", "exception tags")
	}
	if !features.Has(FeatureBulkMemory) {
		for _, seg := range mod.DataSegments {
			if seg.Passive {
				return fail("bulk-memory", "a passive data segment")
			}
		}
		for _, seg := range mod.ElemSegments {
			if seg.Passive {
				return fail("bulk-memory", "a passive element segment")
			}
		}
	}
	if !features.Has(FeatureMultiMemory) &&
		len(mod.Memories)+len(mod.Imports.Memories) > 1 {
		return fail("multimemory", "more than one memory")
	}
	if !features.Has(FeatureMultiValue) {
		for _, t := range mod.Types {
			if len(t.Results) > 1 {
				return fail("multi-value", "a multi-result function type")
			}
		}
	}
	if !features.Has(FeatureThreads) {
		for _, mt := range mod.Memories {
			if mt.Shared {
				return fail("threads", "a shared memory")
			}
		}
	}
	if !features.Has(FeatureSharedTables) {
		for _, tt := range mod.Tables {
			if tt.Shared {
				return fail("shared-tables", "a shared table")
			}
		}
	}
	if !features.Has(FeatureReferenceTypes) {
		if len(mod.Tables)+len(mod.Imports.Tables) > 1 {
			return fail("reference-types", "more than one table")
		}
		for _, tt := range mod.Tables {
			if tt.ElemType == api.ValueTypeExternref {
				return fail("reference-types", "an externref table")
			}
		}
		for _, mg := range mod.Globals {
			if vt := mg.Type.ValueType; vt == api.ValueTypeExternref || vt == api.ValueTypeFuncref {
				return fail("reference-types", "a reference-typed global")
			}
		}
	}
	if !features.Has(FeatureMutableGlobals) {
		numImportedGlobals := len(mod.Imports.Globals)
		for _, exp := range mod.Exports {
			if exp.Kind == api.ExternTypeGlobal && exp.Index >= numImportedGlobals &&
				mod.Globals[exp.Index-numImportedGlobals].Type.Mutable {
				return fail("mutable-globals", "an exported mutable global")
			}
		}
	}
	return nil
}

// InstantiateModule instantiates m within c, resolving imports via imports in the declaration
// order recorded on the CompiledModule, after checking the module against the configured
// feature set.
func (r *Runtime) InstantiateModule(c *runtime.Compartment, m *CompiledModule, imports ImportProvider, debugName string) (*runtime.Instance, error) {
	mod := m.loaded.Module
	if err := r.validateFeatures(mod, debugName); err != nil {
		return nil, err
	}
	args := runtime.InstantiateArgs{Quota: r.quota}

	resolve := func(decls []runtime.ImportDecl) ([]runtime.Object, error) {
		objs := make([]runtime.Object, len(decls))
		for i, d := range decls {
			obj, err := imports.ResolveImport(d.Module, d.Field)
			if err != nil {
				return nil, fmt.Errorf("wavm: resolving import %s.%s for %q: %w", d.Module, d.Field, debugName, err)
			}
			objs[i] = obj
		}
		return objs, nil
	}

	fnObjs, err := resolve(mod.Imports.Functions)
	if err != nil {
		return nil, err
	}
	for _, o := range fnObjs {
		fn, ok := o.(*runtime.Function)
		if !ok {
			return nil, fmt.Errorf("wavm: import for %q is not a function", debugName)
		}
		args.ImportedFunctions = append(args.ImportedFunctions, fn)
	}

	memObjs, err := resolve(mod.Imports.Memories)
	if err != nil {
		return nil, err
	}
	for _, o := range memObjs {
		args.ImportedMemories = append(args.ImportedMemories, o.(*runtime.Memory))
	}

	tblObjs, err := resolve(mod.Imports.Tables)
	if err != nil {
		return nil, err
	}
	for _, o := range tblObjs {
		args.ImportedTables = append(args.ImportedTables, o.(*runtime.Table))
	}

	globalObjs, err := resolve(mod.Imports.Globals)
	if err != nil {
		return nil, err
	}
	for _, o := range globalObjs {
		g := o.(*runtime.Global)
		// Import mutability can only be checked once the import resolves to a live Global.
		if g.Type().Mutable && !r.config.enabledFeatures.Has(FeatureMutableGlobals) {
			return nil, fmt.Errorf("wavm: module %q imports a mutable global, but the mutable-globals feature is disabled", debugName)
		}
		args.ImportedGlobals = append(args.ImportedGlobals, g)
	}

	excObjs, err := resolve(mod.Imports.Exceptions)
	if err != nil {
		return nil, err
	}
	for _, o := range excObjs {
		args.ImportedExceptions = append(args.ImportedExceptions, o.(*runtime.ExceptionType))
	}

	return runtime.Instantiate(c, mod, args, debugName)
}

// StaticImports is an ImportProvider backed by a fixed map, for embedders that link a module
// against a known, closed set of imports rather than a dynamic namespace resolver.
type StaticImports map[string]map[string]runtime.Object

// ResolveImport implements ImportProvider.
func (s StaticImports) ResolveImport(module, field string) (runtime.Object, error) {
	if ns, ok := s[module]; ok {
		if obj, ok := ns[field]; ok {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("wavm: no import %s.%s", module, field)
}
