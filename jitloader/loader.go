// Package jitloader turns a compiled code blob and its metadata into a runtime.Module: it maps
// the code executable, relocates function entry points to absolute addresses, registers the
// module's instruction-pointer range for process-wide unwinding, and hands the result to the
// runtime package.
//
// This package does not compile WebAssembly itself -- it loads code already produced by a
// compiler (a native code generator, an AOT cache, or a test fixture) that targets the symbol and
// relocation conventions in Symbols below: the JIT module loader is the part of a Wasm engine
// that owns the loaded module's lifetime and address space, not the part that emits machine
// code.
package jitloader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/internal/platform"
	"github.com/wavmgo/wavm/runtime"
)

// ModuleSpec is the input to LoadModule: position-independent machine code, the Relocations
// LoadModule itself applies once the code is mapped, and the Bindings a code generator declares
// but never has resolved here -- those wait for a concrete Instance (see Bindings below).
type ModuleSpec struct {
	Code []byte

	Types      []api.FunctionType
	Functions  []FunctionSymbol
	Relocations []Relocation

	Memories   []runtime.MemoryType
	Tables     []runtime.TableType
	Globals    []runtime.ModuleGlobal
	Exceptions []runtime.ModuleException
	Imports    runtime.ModuleImports
	Exports    []runtime.ModuleExport

	DataSegments []runtime.DataSegment
	ElemSegments []runtime.ElemSegment
	StartFunc    int // index into Functions, or -1

	// Bindings lists the ABI symbols (typeId<N>, functionImport<N>, tableOffset<N>,
	// memoryOffset<N>, global<N>, biasedExceptionTypeId<N>, biasedInstanceId,
	// tableReferenceBias, functionDefMutableDatas<N>) the generated Code reads by index to reach
	// anything that depends on which Instance is running it. LoadModule carries these through
	// unresolved onto the resulting Module; runtime.Instantiate resolves them fresh every time
	// that Module is instantiated; see runtime.Instance.resolveBindingTable.
	// Relocations above are different in kind: they patch values that are fixed once Code is
	// mapped (e.g. a function's own position in the shared code segment) and so are safe to
	// apply exactly once, here, before any Instance exists.
	Bindings []runtime.BindingSymbol

	DebugName string
	// SourceMap optionally maps code offsets back to a source file/line, consumed by
	// LoadedModule.SourceLocation in addressmap.go.
	SourceMap []SourceMapping
}

// FunctionSymbol names one function's entry point as a byte offset into ModuleSpec.Code, and its
// signature.
type FunctionSymbol struct {
	Name      string
	TypeIndex int
	Offset    int
	Size      int
}

// Loader owns every LoadedModule produced by LoadModule, sorted by base address, so a trap
// handler can map a faulting instruction pointer back to a function by binary search.
type Loader struct {
	mu      sync.RWMutex
	modules []*LoadedModule // sorted by Base
}

// NewLoader returns an empty Loader. One Loader is typically shared process-wide.
func NewLoader() *Loader { return &Loader{} }

// LoadedModule is the loader-side record for one compiled module: its runtime.Module plus the
// address range of its code, used for unwinding and fault attribution.
type LoadedModule struct {
	Module *runtime.Module
	Base   uintptr
	Size   uintptr

	symbols   []FunctionSymbol // sorted by relocated (absolute) offset, kept for IP lookup
	sourceMap []SourceMapping
}

// LoadModule maps spec.Code into an executable region, relocates every FunctionSymbol and
// Relocation entry to the mapped base address, builds the corresponding runtime.Module, and
// registers the result with l for IP-based lookup. It does NOT resolve
// spec.Bindings -- those carry through onto the Module unresolved and are bound fresh by
// runtime.Instantiate for every Instance created from this Module, since their values depend on
// which Compartment and Instance the code is about to run in, not merely where the code sits in
// memory.
func (l *Loader) LoadModule(spec ModuleSpec) (*LoadedModule, error) {
	if len(spec.Code) == 0 {
		return nil, fmt.Errorf("jitloader: empty code segment for module %q", spec.DebugName)
	}
	mapped, err := platform.MmapCodeSegment(spec.Code)
	if err != nil {
		return nil, fmt.Errorf("jitloader: mmap code segment: %w", err)
	}
	base := sliceAddr(mapped)

	if err := applyRelocations(mapped, base, spec.Relocations); err != nil {
		_ = platform.MunmapCodeSegment(mapped)
		return nil, err
	}
	if err := platform.MprotectRX(mapped); err != nil {
		_ = platform.MunmapCodeSegment(mapped)
		return nil, err
	}

	funcs := make([]runtime.ModuleFunction, len(spec.Functions))
	for i, fs := range spec.Functions {
		funcs[i] = runtime.ModuleFunction{TypeIndex: fs.TypeIndex, Entry: base + uintptr(fs.Offset)}
	}

	mod := runtime.NewModule(spec.Types, funcs, spec.Memories, spec.Tables, spec.Globals,
		spec.Exceptions, spec.Imports, spec.Exports, spec.DataSegments, spec.ElemSegments,
		spec.StartFunc, spec.Bindings, mapped, spec.DebugName)

	lm := &LoadedModule{Module: mod, Base: base, Size: uintptr(len(mapped)), sourceMap: spec.SourceMap}
	lm.symbols = make([]FunctionSymbol, len(spec.Functions))
	for i, fs := range spec.Functions {
		lm.symbols[i] = FunctionSymbol{Name: fs.Name, TypeIndex: fs.TypeIndex, Offset: fs.Offset, Size: fs.Size}
	}
	sort.Slice(lm.symbols, func(i, j int) bool { return lm.symbols[i].Offset < lm.symbols[j].Offset })

	l.mu.Lock()
	l.modules = append(l.modules, lm)
	sort.Slice(l.modules, func(i, j int) bool { return l.modules[i].Base < l.modules[j].Base })
	l.mu.Unlock()

	return lm, nil
}

// Unload removes lm from l and releases its code pages. Every Instance created from lm.Module
// must already be destroyed.
func (l *Loader) Unload(lm *LoadedModule) error {
	l.mu.Lock()
	for i, m := range l.modules {
		if m == lm {
			l.modules = append(l.modules[:i], l.modules[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	return lm.Module.Close()
}

// Modules returns every module currently registered with l, in no particular order. Used by an
// embedder tearing down a Runtime to release every module it ever loaded.
func (l *Loader) Modules() []*LoadedModule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*LoadedModule, len(l.modules))
	copy(out, l.modules)
	return out
}

// ModuleContainingAddress returns the LoadedModule whose code range contains ip, via binary
// search over the address-sorted list.
func (l *Loader) ModuleContainingAddress(ip uintptr) (*LoadedModule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i := sort.Search(len(l.modules), func(i int) bool { return l.modules[i].Base > ip })
	if i == 0 {
		return nil, false
	}
	lm := l.modules[i-1]
	if ip >= lm.Base && ip < lm.Base+lm.Size {
		return lm, true
	}
	return nil, false
}

// FunctionContainingAddress returns the FunctionSymbol whose code range contains ip within lm,
// again via binary search over the offset-sorted symbol table.
func (lm *LoadedModule) FunctionContainingAddress(ip uintptr) (FunctionSymbol, bool) {
	off := int(ip - lm.Base)
	i := sort.Search(len(lm.symbols), func(i int) bool { return lm.symbols[i].Offset > off })
	if i == 0 {
		return FunctionSymbol{}, false
	}
	sym := lm.symbols[i-1]
	if off >= sym.Offset && off < sym.Offset+sym.Size {
		return sym, true
	}
	return FunctionSymbol{}, false
}
