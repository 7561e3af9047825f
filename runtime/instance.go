package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wavmgo/wavm/api"
)

// HostFunction is the Go implementation backing an imported or intrinsic Function: it receives
// the calling Context and the argument words, and returns result words or an *Exception trap.
type HostFunction func(ctx *Context, args []uint64) ([]uint64, error)

// functionMutableData is Function's own copy of object's bookkeeping fields. A Function's code
// must live in pages that become read-only once the owning JIT module finishes loading; keeping
// this separate from the shared object struct means a Function's debug name/userData can still
// be mutated after its code pages are frozen, without the mutable bookkeeping and the immutable
// code sharing a struct (and therefore a page).
type functionMutableData struct {
	compartment *Compartment
	id          int
	debugName   string

	rootRefs int64 // atomic

	userData interface{}
	finalize Finalizer
}

func (f *functionMutableData) Kind() ObjectKind              { return ObjectKindFunction }
func (f *functionMutableData) CompartmentOf() *Compartment    { return f.compartment }
func (f *functionMutableData) ID() int                        { return f.id }
func (f *functionMutableData) DebugName() string              { return f.debugName }
func (f *functionMutableData) UserData() interface{}          { return f.userData }
func (f *functionMutableData) SetUserData(data interface{}, finalize Finalizer) {
	f.userData = data
	f.finalize = finalize
}
func (f *functionMutableData) addRoot() int64     { return atomic.AddInt64(&f.rootRefs, 1) }
func (f *functionMutableData) releaseRoot() int64 { return atomic.AddInt64(&f.rootRefs, -1) }
func (f *functionMutableData) rootCount() int64   { return atomic.LoadInt64(&f.rootRefs) }

// Function is a single exported/imported/intrinsic callable. A module-defined Function's
// Entry points into code owned by its Module (jitloader); an imported or intrinsic Function's
// Call is a HostFunction instead and Entry is zero.
type Function struct {
	functionMutableData

	typ    api.FunctionType
	module *Module // nil for host/intrinsic functions not backed by compiled Wasm code
	Entry  uintptr // address of the function's compiled entry point; 0 for host functions
	Call   HostFunction
}

// Type returns the function's signature.
func (f *Function) Type() api.FunctionType { return f.typ }

// IsHost reports whether calls to f are dispatched to Go (imported or intrinsic) rather than to
// compiled Wasm code.
func (f *Function) IsHost() bool { return f.Call != nil }

// newDefinedFunction constructs a Function whose code lives in a Module, called during module
// instantiation for every internally defined function.
func newDefinedFunction(c *Compartment, id int, typ api.FunctionType, mod *Module, entry uintptr, debugName string) *Function {
	return &Function{
		functionMutableData: functionMutableData{compartment: c, id: id, debugName: debugName},
		typ:                 typ,
		module:              mod,
		Entry:               entry,
	}
}

// NewHostFunction wraps fn as a callable Function with no associated compiled code, for use as
// an import or an intrinsic. c may be nil for process-wide intrinsics not owned by any
// compartment, mirroring CreateExceptionType's null-compartment contract for built-ins.
func NewHostFunction(c *Compartment, typ api.FunctionType, fn HostFunction, debugName string) *Function {
	var id int
	if c != nil {
		c.mu.Lock()
		id = c.nextInstanceID // host functions share the instance ID counter; they are not tracked in a compartment map of their own
		c.nextInstanceID++
		c.mu.Unlock()
	}
	return &Function{
		functionMutableData: functionMutableData{compartment: c, id: id, debugName: debugName},
		typ:                 typ,
		Call:                fn,
	}
}

// Module bundles the compiled code and metadata produced by the jitloader package for one Wasm
// binary: its function types, the per-function entry points, and the segments used to initialize
// Instances. Runtime only depends on this shape; compiling a Wasm binary into a Module is
// jitloader's job.
type Module struct {
	Types     []api.FunctionType
	Functions []ModuleFunction

	Memories   []MemoryType
	Tables     []TableType
	Globals    []ModuleGlobal
	Exceptions []ModuleException

	Imports ModuleImports
	Exports []ModuleExport

	DataSegments []DataSegment
	ElemSegments []ElemSegment
	StartFunc    int // index into Functions, or -1

	// Bindings lists the symbols a code generator needs resolved per-instantiation:
	// table/memory offsets, typeIds, biased import/exception-type ids, and the like.
	// Unlike everything else on Module, these are never resolved here -- only once a concrete
	// Instance exists does Instantiate have the values to resolve them against.
	Bindings []BindingSymbol

	DebugName string

	// code is the mmap'd, RX-protected executable region backing every ModuleFunction.Entry.
	// Owned by the jitloader that produced this Module; released by Close.
	code []byte
}

// DebugNameSafe returns the module's debug name, or "<module>" if none was given.
func (m *Module) DebugNameSafe() string {
	if m.DebugName == "" {
		return "<module>"
	}
	return m.DebugName
}

// ModuleFunction is one function defined in a Module: its signature index and compiled entry
// point, an absolute address inside the module's loaded code mapping.
type ModuleFunction struct {
	TypeIndex int
	Entry     uintptr
}

// ModuleGlobal is one global defined in a Module. Init is carried as a ConstExpr rather than an
// evaluated Value because a ref.func initializer cannot be evaluated until the module's Function
// objects exist, which is after globals are created; see Instantiate's deferred-resolution pass.
type ModuleGlobal struct {
	Type GlobalType
	Init ConstExpr
}

// ModuleException is one exception tag defined in a Module.
type ModuleException struct {
	Params    []api.ValueType
	DebugName string
}

// ModuleImports lists the externs a Module requires at instantiation, in declaration order,
// grouped by kind so Instantiate can validate counts independently: imports are resolved by
// (module, name) pair, and argument order within a kind is significant.
type ModuleImports struct {
	Functions []ImportDecl
	Memories  []ImportDecl
	Tables    []ImportDecl
	Globals   []ImportDecl
	Exceptions []ImportDecl
}

// ImportDecl names one import: the two-level (module, field) namespace of the Wasm import section.
type ImportDecl struct {
	Module string
	Field  string
}

// ModuleExport names one value a Module makes available to its instantiator.
type ModuleExport struct {
	Name  string
	Kind  api.ExternType
	Index int // index into the corresponding Functions/Memories/Tables/Globals/Exceptions slice
}

// DataSegment initializes a range of a Memory at instantiation.
type DataSegment struct {
	MemoryIndex int
	Offset      ConstExpr
	Bytes       []byte
	Passive     bool
}

// ElemSegment initializes a range of a Table at instantiation.
type ElemSegment struct {
	TableIndex int
	Offset     ConstExpr
	FuncIndices []int
	Passive     bool
}

// ConstExpr is a constant initializer expression: a literal value, a global.get of an
// already-instantiated global, or a ref.func of a module function. ref.func is the one variant
// that cannot be evaluated eagerly -- its target Function does not exist until the module's code
// has been loaded -- so Instantiate defers it and resolves it after the function objects are
// built.
type ConstExpr struct {
	IsGlobalGet bool
	GlobalIndex int

	IsRefFunc bool
	FuncIndex int

	Value uint64
}

// RefFuncExpr returns the ConstExpr for (ref.func funcIndex).
func RefFuncExpr(funcIndex int) ConstExpr { return ConstExpr{IsRefFunc: true, FuncIndex: funcIndex} }

// Close releases the Module's compiled code pages. Every Instance created from the Module must be
// destroyed first; Close does not check this, matching jitloader's "the embedder owns lifetime
// ordering" contract.
func (m *Module) Close() error {
	if m.code == nil {
		return nil
	}
	return munmapModuleCode(m)
}

// Instance is a concrete instantiation of a Module within a Compartment: its own Memories,
// Tables, Globals, and Functions, wired to the Module's imports.
type Instance struct {
	object

	module *Module

	functions []*Function
	memories  []*Memory
	tables    []*Table
	globals   []*Global
	exceptionTypes []*ExceptionType

	// bindingTable holds the resolved values of module.Bindings for this specific Instance:
	// rebuilt by resolveBindingTable on every Instantiate/cloneInto call, never copied between
	// Instances.
	bindingTable []uint64

	// segMu orders passive-segment reads (memory.init/table.init) against drops. Active segments
	// are consumed at instantiation and their entries left nil, so init on them reports the same
	// already-dropped failure as an explicit drop.
	segMu        sync.RWMutex
	dataSegments [][]byte
	elemSegments [][]*Function

	exports map[string]Object
}

// DataSegmentBytes returns passive data segment segIdx's bytes under the shared segment lock,
// or ErrInvalidArgument if segIdx is out of range or the segment was dropped (or was active and
// therefore consumed at instantiation).
func (inst *Instance) DataSegmentBytes(segIdx int) ([]byte, error) {
	inst.segMu.RLock()
	defer inst.segMu.RUnlock()
	if segIdx < 0 || segIdx >= len(inst.dataSegments) || inst.dataSegments[segIdx] == nil {
		return nil, fmt.Errorf("%w: data segment %d of %q is dropped or does not exist", ErrInvalidArgument, segIdx, inst.debugName)
	}
	return inst.dataSegments[segIdx], nil
}

// DropDataSegment implements data.drop: clears the segment entry under the exclusive lock.
// Dropping an already-dropped segment is a no-op, per the bulk-memory-operations semantics.
func (inst *Instance) DropDataSegment(segIdx int) error {
	inst.segMu.Lock()
	defer inst.segMu.Unlock()
	if segIdx < 0 || segIdx >= len(inst.dataSegments) {
		return fmt.Errorf("%w: data segment %d of %q does not exist", ErrInvalidArgument, segIdx, inst.debugName)
	}
	inst.dataSegments[segIdx] = nil
	return nil
}

// ElemSegmentFunctions is DataSegmentBytes' element-segment analogue; entries are nil for
// ref.null elements.
func (inst *Instance) ElemSegmentFunctions(segIdx int) ([]*Function, error) {
	inst.segMu.RLock()
	defer inst.segMu.RUnlock()
	if segIdx < 0 || segIdx >= len(inst.elemSegments) || inst.elemSegments[segIdx] == nil {
		return nil, fmt.Errorf("%w: elem segment %d of %q is dropped or does not exist", ErrInvalidArgument, segIdx, inst.debugName)
	}
	return inst.elemSegments[segIdx], nil
}

// DropElemSegment implements elem.drop.
func (inst *Instance) DropElemSegment(segIdx int) error {
	inst.segMu.Lock()
	defer inst.segMu.Unlock()
	if segIdx < 0 || segIdx >= len(inst.elemSegments) {
		return fmt.Errorf("%w: elem segment %d of %q does not exist", ErrInvalidArgument, segIdx, inst.debugName)
	}
	inst.elemSegments[segIdx] = nil
	return nil
}

// BindingTable returns the resolved values of module.Bindings for this Instance, in the same
// order as the Module's Bindings slice. A code generator emitting calls into inst indexes this
// table (reached via a pointer it is handed alongside inst's entry point) rather than baking any
// instance-specific address into the shared, compartment-independent code itself.
func (inst *Instance) BindingTable() []uint64 { return inst.bindingTable }

// InstantiateArgs supplies the resolved imports and quota for Instantiate, in the same per-kind
// order as ModuleImports.
type InstantiateArgs struct {
	ImportedFunctions []*Function
	ImportedMemories  []*Memory
	ImportedTables    []*Table
	ImportedGlobals   []*Global
	ImportedExceptions []*ExceptionType
	Quota             *ResourceQuota
}

// Instantiate creates an Instance of mod within c: validates import counts, creates
// Memories/Tables/Globals/Functions for every module-defined one, copies data and element
// segments, and calls the start function if it is a host function. A start function defined in
// the module's own code is recorded in mod.StartFunc and not called here.
func Instantiate(c *Compartment, mod *Module, args InstantiateArgs, debugName string) (*Instance, error) {
	if len(args.ImportedFunctions) != len(mod.Imports.Functions) ||
		len(args.ImportedMemories) != len(mod.Imports.Memories) ||
		len(args.ImportedTables) != len(mod.Imports.Tables) ||
		len(args.ImportedGlobals) != len(mod.Imports.Globals) ||
		len(args.ImportedExceptions) != len(mod.Imports.Exceptions) {
		return nil, fmt.Errorf("%w: import count mismatch instantiating %q", ErrInvalidArgument, debugName)
	}

	c.mu.Lock()
	id := c.nextInstanceID
	c.nextInstanceID++
	c.mu.Unlock()

	inst := &Instance{
		object:  object{kind: ObjectKindInstance, compartment: c, id: id, debugName: debugName},
		module:  mod,
		exports: map[string]Object{},
	}

	inst.functions = append(inst.functions, args.ImportedFunctions...)
	inst.memories = append(inst.memories, args.ImportedMemories...)
	inst.tables = append(inst.tables, args.ImportedTables...)
	inst.globals = append(inst.globals, args.ImportedGlobals...)
	inst.exceptionTypes = append(inst.exceptionTypes, args.ImportedExceptions...)

	for _, mt := range mod.Memories {
		m, err := CreateMemory(c, mt, debugName+".memory", args.Quota)
		if err != nil {
			inst.destroyLocked()
			return nil, err
		}
		inst.memories = append(inst.memories, m)
	}
	for _, tt := range mod.Tables {
		t, err := CreateTable(c, tt, 0, debugName+".table", args.Quota)
		if err != nil {
			inst.destroyLocked()
			return nil, err
		}
		inst.tables = append(inst.tables, t)
	}
	// ref.func initializers are deferred: the Function they name is not built until after the
	// globals, so such a global is created uninitialized here and resolved below.
	type deferredRefFunc struct {
		global    *Global
		funcIndex int
	}
	var deferred []deferredRefFunc
	for _, mg := range mod.Globals {
		var init Value
		if !mg.Init.IsRefFunc {
			init = Value{Type: mg.Type.ValueType, Lo: inst.evalConstExpr(mg.Init)}
		}
		g, err := CreateGlobal(c, mg.Type, init, debugName+".global")
		if err != nil {
			inst.destroyLocked()
			return nil, err
		}
		inst.globals = append(inst.globals, g)
		if mg.Init.IsRefFunc {
			deferred = append(deferred, deferredRefFunc{global: g, funcIndex: mg.Init.FuncIndex})
		}
	}
	for _, me := range mod.Exceptions {
		inst.exceptionTypes = append(inst.exceptionTypes, CreateExceptionType(c, me.Params, me.DebugName))
	}
	for i, mf := range mod.Functions {
		typ := mod.Types[mf.TypeIndex]
		fn := newDefinedFunction(c, i, typ, mod, mf.Entry, fmt.Sprintf("%s.func[%d]", debugName, i))
		inst.functions = append(inst.functions, fn)
	}
	for _, d := range deferred {
		if d.funcIndex < 0 || d.funcIndex >= len(inst.functions) {
			inst.destroyLocked()
			return nil, fmt.Errorf("%w: ref.func initializer names function %d of %q", ErrInvalidArgument, d.funcIndex, debugName)
		}
		d.global.initialize(Value{
			Type: d.global.typ.ValueType,
			Lo:   uint64(ReferenceOf(inst.functions[d.funcIndex])),
		})
	}

	// Active segments are applied now and consumed (their vector entries stay nil); passive ones
	// are retained for later memory.init/table.init until dropped.
	inst.dataSegments = make([][]byte, len(mod.DataSegments))
	for si, seg := range mod.DataSegments {
		if seg.Passive {
			inst.dataSegments[si] = seg.Bytes
			continue
		}
		off := inst.evalConstExpr(seg.Offset)
		mem := inst.memories[seg.MemoryIndex]
		ptr, ok := mem.GetValidatedOffsetRange(off, uint64(len(seg.Bytes)))
		if !ok {
			inst.destroyLocked()
			return nil, newTrap(builtinExceptionTypes.outOfBoundsMemoryAccess, off, uint64(len(seg.Bytes)))
		}
		copyBytesToMemory(ptr, seg.Bytes)
	}
	inst.elemSegments = make([][]*Function, len(mod.ElemSegments))
	for si, seg := range mod.ElemSegments {
		if seg.Passive {
			fns := make([]*Function, len(seg.FuncIndices))
			for i, fi := range seg.FuncIndices {
				if fi >= 0 {
					fns[i] = inst.functions[fi]
				}
			}
			inst.elemSegments[si] = fns
			continue
		}
		off := inst.evalConstExpr(seg.Offset)
		tbl := inst.tables[seg.TableIndex]
		for i, fi := range seg.FuncIndices {
			var ref Reference
			if fi >= 0 {
				ref = ReferenceOf(inst.functions[fi])
			}
			if err := tbl.Set(off+uint64(i), ref); err != nil {
				inst.destroyLocked()
				return nil, err
			}
		}
	}

	bt, err := inst.resolveBindingTable(mod.Bindings)
	if err != nil {
		inst.destroyLocked()
		return nil, err
	}
	inst.bindingTable = bt

	for _, exp := range mod.Exports {
		switch exp.Kind {
		case api.ExternTypeFunc:
			inst.exports[exp.Name] = inst.functions[exp.Index]
		case api.ExternTypeMemory:
			inst.exports[exp.Name] = inst.memories[exp.Index]
		case api.ExternTypeTable:
			inst.exports[exp.Name] = inst.tables[exp.Index]
		case api.ExternTypeGlobal:
			inst.exports[exp.Name] = inst.globals[exp.Index]
		case api.ExternTypeException:
			inst.exports[exp.Name] = inst.exceptionTypes[exp.Index]
		}
	}

	c.mu.Lock()
	c.instances[id] = inst
	c.mu.Unlock()

	if mod.StartFunc >= 0 {
		start := inst.functions[mod.StartFunc]
		if start.IsHost() {
			ctx, err := NewContext(c, debugName+".start-ctx")
			if err != nil {
				return nil, err
			}
			defer ctx.Close()
			if _, err := start.Call(ctx, nil); err != nil {
				return nil, err
			}
		}
	}
	return inst, nil
}

func (inst *Instance) evalConstExpr(ce ConstExpr) uint64 {
	if !ce.IsGlobalGet {
		return ce.Value
	}
	return inst.globals[ce.GlobalIndex].Get().Lo
}

func copyBytesToMemory(ptr uintptr, data []byte) {
	dst := memoryBytesAt(ptr, len(data))
	copy(dst, data)
}

// Exports returns the export named name, or (nil, false).
func (inst *Instance) Exports(name string) (Object, bool) {
	v, ok := inst.exports[name]
	return v, ok
}

// ExportedFunction returns the exported Function named name, or nil if no such export exists or
// it is not a function.
func (inst *Instance) ExportedFunction(name string) *Function {
	if v, ok := inst.exports[name]; ok {
		if fn, ok := v.(*Function); ok {
			return fn
		}
	}
	return nil
}

func (inst *Instance) destroyLocked() {
	for _, m := range inst.memories {
		if m.CompartmentOf() == inst.compartment {
			_ = m.closeLocked()
			delete(inst.compartment.memories, m.ID())
		}
	}
	for _, t := range inst.tables {
		if t.CompartmentOf() == inst.compartment {
			_ = t.closeLocked()
			delete(inst.compartment.tables, t.ID())
		}
	}
	delete(inst.compartment.instances, inst.id)
}

func (inst *Instance) cloneInto(dst *Compartment, id int) (*Instance, error) {
	ci := &Instance{
		object:  object{kind: ObjectKindInstance, compartment: dst, id: id, debugName: inst.debugName},
		module:  inst.module,
		exports: map[string]Object{},
	}
	remap := func(obj Object) (Object, error) {
		if obj.CompartmentOf() != inst.compartment {
			return obj, nil // shared across compartments (e.g. a host import), left as-is
		}
		return dst.Remap(obj, dst)
	}
	for _, f := range inst.functions {
		if f.module == inst.module && f.CompartmentOf() == inst.compartment {
			ci.functions = append(ci.functions, newDefinedFunction(dst, f.id, f.typ, f.module, f.Entry, f.debugName))
		} else {
			ci.functions = append(ci.functions, f)
		}
	}
	for _, m := range inst.memories {
		o, err := remap(m)
		if err != nil {
			return nil, err
		}
		ci.memories = append(ci.memories, o.(*Memory))
	}
	for _, t := range inst.tables {
		o, err := remap(t)
		if err != nil {
			return nil, err
		}
		ci.tables = append(ci.tables, o.(*Table))
	}
	for _, g := range inst.globals {
		o, err := remap(g)
		if err != nil {
			return nil, err
		}
		ci.globals = append(ci.globals, o.(*Global))
	}
	// Funcref-valued globals cloned by Compartment.Clone still hold references into inst's
	// compartment; remap each to the clone's corresponding Function now that ci.functions exists.
	for i, g := range inst.globals {
		cg := ci.globals[i]
		if cg == g || cg.typ.ValueType != api.ValueTypeFuncref || cg.value.Lo == 0 {
			continue
		}
		src := FunctionFromReference(Reference(cg.value.Lo))
		for fi, orig := range inst.functions {
			if orig == src {
				cg.initialize(Value{Type: cg.typ.ValueType, Lo: uint64(ReferenceOf(ci.functions[fi]))})
				break
			}
		}
	}

	ci.exceptionTypes = inst.exceptionTypes
	// Exports are rebuilt from the module's export list against ci's own slices, so an exported
	// defined function resolves to the clone's Function, not the source instance's.
	for _, exp := range inst.module.Exports {
		switch exp.Kind {
		case api.ExternTypeFunc:
			ci.exports[exp.Name] = ci.functions[exp.Index]
		case api.ExternTypeMemory:
			ci.exports[exp.Name] = ci.memories[exp.Index]
		case api.ExternTypeTable:
			ci.exports[exp.Name] = ci.tables[exp.Index]
		case api.ExternTypeGlobal:
			ci.exports[exp.Name] = ci.globals[exp.Index]
		case api.ExternTypeException:
			ci.exports[exp.Name] = ci.exceptionTypes[exp.Index]
		}
	}

	// Segment drop state carries over; retained elem segments are re-resolved against ci's own
	// functions so a later table.init stores the clone's Function references, not inst's.
	inst.segMu.RLock()
	ci.dataSegments = append([][]byte(nil), inst.dataSegments...)
	ci.elemSegments = make([][]*Function, len(inst.elemSegments))
	for si, fns := range inst.elemSegments {
		if fns == nil {
			continue
		}
		remappedFns := make([]*Function, len(fns))
		for i, fn := range fns {
			if fn == nil {
				continue
			}
			for fi, orig := range inst.functions {
				if orig == fn {
					remappedFns[i] = ci.functions[fi]
					break
				}
			}
		}
		ci.elemSegments[si] = remappedFns
	}
	inst.segMu.RUnlock()

	// The clone has its own ids and its own compartmentRuntimeData offsets for every table,
	// memory, and mutable global it owns, so its binding table must be resolved fresh rather
	// than copied from inst -- copying would leave ci's compiled code reading offsets that
	// belong to inst's compartment, not its own.
	bt, err := ci.resolveBindingTable(ci.module.Bindings)
	if err != nil {
		return nil, err
	}
	ci.bindingTable = bt
	return ci, nil
}
