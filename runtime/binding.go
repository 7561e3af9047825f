package runtime

import (
	"fmt"
	"unsafe"

	"github.com/wavmgo/wavm/api"
)

// BindingKind selects which per-instantiation quantity a BindingSymbol names. Unlike a jitloader.Relocation -- which patches an address-independent,
// instance-independent value into the shared code mapping exactly once, at load time -- every
// BindingKind here depends on a specific Instance living in a specific Compartment, so it can
// only be resolved once that Instance exists.
type BindingKind int

const (
	// BindingTypeID binds to the process-wide encoded identity of mod.Types[Index], so an
	// indirect call can compare two typeIds with an integer equality check instead of a
	// structural FunctionType comparison.
	BindingTypeID BindingKind = iota
	// BindingFunctionImport binds to the biased Reference of the Index'th imported function,
	// using the same bias scheme as a funcref table element (table.go's objectToBiased) so
	// compiled code decodes a bound import and a table-sourced call target identically.
	BindingFunctionImport
	// BindingTableOffset binds to the byte offset of the Index'th table's base-pointer slot
	// within compartmentRuntimeData, i.e. the value compiled code adds to a masked context
	// pointer to reach the table's base address.
	BindingTableOffset
	// BindingMemoryOffset is BindingTableOffset's memory analogue.
	BindingMemoryOffset
	// BindingGlobal binds to the byte offset of the Index'th global's ContextRuntimeData slot
	// if it is mutable, or to its literal low word if it is immutable (an immutable global has
	// no context slot to point at; the constant itself is the bound value). An immutable
	// funcref global -- the deferred ref.func initializer case -- binds its biased function
	// reference, so compiled code decodes it exactly like a bound function import or a
	// table-sourced call target.
	BindingGlobal
	// BindingBiasedExceptionTypeID binds to the biased id of the Index'th exception type visible
	// to this instance, zero reserved to mean "unbound".
	BindingBiasedExceptionTypeID
	// BindingBiasedInstanceID binds to the biased id of the instance itself. Index is unused.
	BindingBiasedInstanceID
	// BindingTableReferenceBias binds to the process-wide bias constant table.go's
	// objectToBiased/biasedToObject subtract/add. It does not vary across instances, but is
	// listed alongside the per-instance symbols so a code generator can resolve every table
	// element and binding entry through one uniform table rather than special-casing one value.
	// Index is unused.
	BindingTableReferenceBias
	// BindingFunctionDefMutableData binds to the address of the Index'th module-defined
	// function's functionMutableData, letting compiled code reach a Function's debug name,
	// userData, and root-reference count from a running activation of that function.
	BindingFunctionDefMutableData
)

// BindingSymbol names one entry a code generator emits a load against. ModuleSpec carries
// these through jitloader unresolved; runtime.Instantiate resolves each one against the concrete
// Instance being created and assembles the results into that Instance's own binding table, so two
// Instances of the same Module -- even in different Compartments -- get independently correct
// bound values without the underlying code ever being patched or copied.
type BindingSymbol struct {
	Kind  BindingKind
	Index int
}

// Name renders the symbol the way a code generator names it, matching the binding-table ABI
// symbol names exactly (e.g. "typeId3", "biasedInstanceId").
func (s BindingSymbol) Name() string {
	switch s.Kind {
	case BindingTypeID:
		return fmt.Sprintf("typeId%d", s.Index)
	case BindingFunctionImport:
		return fmt.Sprintf("functionImport%d", s.Index)
	case BindingTableOffset:
		return fmt.Sprintf("tableOffset%d", s.Index)
	case BindingMemoryOffset:
		return fmt.Sprintf("memoryOffset%d", s.Index)
	case BindingGlobal:
		return fmt.Sprintf("global%d", s.Index)
	case BindingBiasedExceptionTypeID:
		return fmt.Sprintf("biasedExceptionTypeId%d", s.Index)
	case BindingBiasedInstanceID:
		return "biasedInstanceId"
	case BindingTableReferenceBias:
		return "tableReferenceBias"
	case BindingFunctionDefMutableData:
		return fmt.Sprintf("functionDefMutableDatas%d", s.Index)
	default:
		return fmt.Sprintf("binding<unknown kind %d index %d>", s.Kind, s.Index)
	}
}

// biasID applies the same "reserve zero for absence" convention table.go's reference bias uses,
// but over small dense ids rather than addresses: BindingBiasedExceptionTypeID and
// BindingBiasedInstanceID both bind an id this way.
func biasID(id int) uint64 { return uint64(id) + 1 }

// typeID returns the id a BindingTypeID entry binds to for t: its process-wide stable
// EncodedType. Two structurally identical FunctionTypes -- whether from the same Module or two
// different ones -- always produce the same id, which is exactly what lets a call_indirect check
// compare two bound typeIds with one integer equality test instead of re-walking both
// FunctionTypes, matching the comparison CallIndirectCheck already does with Encode() directly.
func typeID(t api.FunctionType) uint64 { return uint64(t.Encode()) }

// resolveBindingTable assembles inst's binding table by resolving every symbol mod.Bindings
// names against inst's already-created functions/memories/tables/globals/exceptionTypes. It must run after every one of those slices is fully populated and before
// Instantiate returns inst to its caller, and must run again -- independently -- for a cloned
// Instance, since a clone has its own ids, its own compartmentRuntimeData offsets, and (for
// reference-typed values) its own remapped objects.
func (inst *Instance) resolveBindingTable(bindings []BindingSymbol) ([]uint64, error) {
	if len(bindings) == 0 {
		return nil, nil
	}
	mod := inst.module
	numImportedFuncs := len(mod.Imports.Functions)

	table := make([]uint64, len(bindings))
	for i, b := range bindings {
		switch b.Kind {
		case BindingTypeID:
			if b.Index < 0 || b.Index >= len(mod.Types) {
				return nil, fmt.Errorf("%w: binding %s: type index out of range", ErrInvalidArgument, b.Name())
			}
			table[i] = typeID(mod.Types[b.Index])
		case BindingFunctionImport:
			if b.Index < 0 || b.Index >= numImportedFuncs {
				return nil, fmt.Errorf("%w: binding %s: import index out of range", ErrInvalidArgument, b.Name())
			}
			table[i] = uint64(objectToBiased(uintptr(unsafe.Pointer(inst.functions[b.Index]))))
		case BindingTableOffset:
			if b.Index < 0 || b.Index >= len(inst.tables) {
				return nil, fmt.Errorf("%w: binding %s: table index out of range", ErrInvalidArgument, b.Name())
			}
			table[i] = uint64(tableOffsetOf(inst.tables[b.Index].ID()))
		case BindingMemoryOffset:
			if b.Index < 0 || b.Index >= len(inst.memories) {
				return nil, fmt.Errorf("%w: binding %s: memory index out of range", ErrInvalidArgument, b.Name())
			}
			table[i] = uint64(memoryRuntimeDataOffset(inst.memories[b.Index].ID()))
		case BindingGlobal:
			if b.Index < 0 || b.Index >= len(inst.globals) {
				return nil, fmt.Errorf("%w: binding %s: global index out of range", ErrInvalidArgument, b.Name())
			}
			g := inst.globals[b.Index]
			switch {
			case g.slot >= 0:
				table[i] = uint64(thunkScratchSize + contextBackPointerSize + g.slot*mutableGlobalSlotSize)
			case g.typ.ValueType == api.ValueTypeFuncref && g.value.Lo != 0:
				table[i] = uint64(objectToBiased(uintptr(g.value.Lo)))
			default:
				table[i] = g.value.Lo
			}
		case BindingBiasedExceptionTypeID:
			if b.Index < 0 || b.Index >= len(inst.exceptionTypes) {
				return nil, fmt.Errorf("%w: binding %s: exception type index out of range", ErrInvalidArgument, b.Name())
			}
			table[i] = biasID(inst.exceptionTypes[b.Index].ID())
		case BindingBiasedInstanceID:
			table[i] = biasID(inst.id)
		case BindingTableReferenceBias:
			table[i] = uint64(oobSentinelAddr)
		case BindingFunctionDefMutableData:
			if b.Index < 0 || numImportedFuncs+b.Index >= len(inst.functions) {
				return nil, fmt.Errorf("%w: binding %s: function index out of range", ErrInvalidArgument, b.Name())
			}
			fn := inst.functions[numImportedFuncs+b.Index]
			table[i] = uint64(uintptr(unsafe.Pointer(&fn.functionMutableData)))
		default:
			return nil, fmt.Errorf("%w: binding %s: unknown kind", ErrInvalidArgument, b.Name())
		}
	}
	return table, nil
}
