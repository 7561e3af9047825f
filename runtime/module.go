package runtime

import (
	"unsafe"

	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/internal/platform"
)

// NewModule constructs a Module from already-finalized metadata and an executable code segment
// mapped by jitloader.LoadModule; code's entries have already been relocated to absolute
// addresses by the caller (see jitloader's applyRelocations). bindings is carried through unresolved --
// Instantiate resolves it per Instance, not here. NewModule takes ownership of code: Close
// unmaps it.
func NewModule(types []api.FunctionType, functions []ModuleFunction, memories []MemoryType,
	tables []TableType, globals []ModuleGlobal, exceptions []ModuleException, imports ModuleImports,
	exports []ModuleExport, data []DataSegment, elems []ElemSegment, startFunc int,
	bindings []BindingSymbol, code []byte, debugName string) *Module {
	return &Module{
		Types:        types,
		Functions:    functions,
		Memories:     memories,
		Tables:       tables,
		Globals:      globals,
		Exceptions:   exceptions,
		Imports:      imports,
		Exports:      exports,
		DataSegments: data,
		ElemSegments: elems,
		StartFunc:    startFunc,
		Bindings:     bindings,
		code:         code,
		DebugName:    debugName,
	}
}

func munmapModuleCode(m *Module) error {
	err := platform.MunmapCodeSegment(m.code)
	m.code = nil
	return err
}

// memoryBytesAt reinterprets a validated in-reservation pointer as a byte slice of length n. The
// caller must have already bounds-checked the range via Memory.GetValidatedOffsetRange or
// GetReservedOffsetRange.
func memoryBytesAt(ptr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}
