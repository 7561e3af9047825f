package runtime

import (
	"fmt"

	"github.com/wavmgo/wavm/api"
)

// ExceptionType is the tag of a throwable value: a name and the parameter types carried
// alongside each instance thrown with it. Two ExceptionTypes are distinct objects even if their
// parameter types are structurally identical, matching WebAssembly exception-handling's nominal
// tag identity.
type ExceptionType struct {
	object

	params []api.ValueType
}

// CreateExceptionType allocates an exception tag, for the `tag` section of a module with the
// exception-handling feature enabled. c may be nil for process-wide intrinsic types
// not owned by any compartment; such a type has no ID and is never remapped or cloned.
func CreateExceptionType(c *Compartment, params []api.ValueType, debugName string) *ExceptionType {
	if c == nil {
		return &ExceptionType{
			object: object{kind: ObjectKindExceptionType, id: -1, debugName: debugName},
			params: append([]api.ValueType(nil), params...),
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextExceptionTypeID
	c.nextExceptionTypeID++
	et := &ExceptionType{
		object: object{kind: ObjectKindExceptionType, compartment: c, id: id, debugName: debugName},
		params: append([]api.ValueType(nil), params...),
	}
	c.exceptionTypes[id] = et
	return et
}

// Params returns the parameter types carried by an Exception thrown with this type.
func (et *ExceptionType) Params() []api.ValueType { return et.params }

func (et *ExceptionType) cloneInto(dst *Compartment, id int) *ExceptionType {
	return &ExceptionType{
		object: object{kind: ObjectKindExceptionType, compartment: dst, id: id, debugName: et.debugName},
		params: et.params,
	}
}

// Built-in exception types: one process-wide ExceptionType per
// trap kind; every Compartment's Context traps are tagged with these rather than per-compartment
// instances, since a trap carries no compartment-specific state beyond its arguments.
var (
	builtinExceptionTypes = struct {
		compartment *Compartment

		outOfBoundsMemoryAccess     *ExceptionType
		outOfBoundsTableAccess      *ExceptionType
		uninitializedTableElement   *ExceptionType
		outOfBoundsElemSegmentAccess *ExceptionType
		outOfBoundsDataSegmentAccess *ExceptionType
		indirectCallSignatureMismatch *ExceptionType
		invokeSignatureMismatch     *ExceptionType
		integerDivideByZeroOrOverflow *ExceptionType
		invalidFloatOperation       *ExceptionType
		stackOverflow               *ExceptionType
		unreachable                 *ExceptionType
		outOfMemory                 *ExceptionType
		misalignedAtomicMemoryAccess *ExceptionType
		invalidArgument             *ExceptionType
		calledAbortedFunction       *ExceptionType
		calledUnimplementedIntrinsic *ExceptionType
	}{}
)

func init() {
	c, err := NewCompartment("<builtin-exceptions>")
	if err != nil {
		panic(err)
	}
	builtinExceptionTypes.compartment = c
	mk := func(name string, params ...api.ValueType) *ExceptionType {
		return CreateExceptionType(c, params, name)
	}
	builtinExceptionTypes.outOfBoundsMemoryAccess = mk("outOfBoundsMemoryAccess", api.ValueTypeI64, api.ValueTypeI64)
	builtinExceptionTypes.outOfBoundsTableAccess = mk("outOfBoundsTableAccess", api.ValueTypeI64)
	builtinExceptionTypes.uninitializedTableElement = mk("uninitializedTableElement", api.ValueTypeI64)
	builtinExceptionTypes.outOfBoundsElemSegmentAccess = mk("outOfBoundsElemSegmentAccess", api.ValueTypeI64, api.ValueTypeI64, api.ValueTypeI64)
	builtinExceptionTypes.outOfBoundsDataSegmentAccess = mk("outOfBoundsDataSegmentAccess", api.ValueTypeI64, api.ValueTypeI64, api.ValueTypeI64)
	builtinExceptionTypes.indirectCallSignatureMismatch = mk("indirectCallSignatureMismatch", api.ValueTypeI64, api.ValueTypeI64)
	builtinExceptionTypes.invokeSignatureMismatch = mk("invokeSignatureMismatch")
	builtinExceptionTypes.integerDivideByZeroOrOverflow = mk("integerDivideByZeroOrOverflow")
	builtinExceptionTypes.invalidFloatOperation = mk("invalidFloatOperation")
	builtinExceptionTypes.stackOverflow = mk("stackOverflow")
	builtinExceptionTypes.unreachable = mk("unreachable")
	builtinExceptionTypes.outOfMemory = mk("outOfMemory")
	builtinExceptionTypes.misalignedAtomicMemoryAccess = mk("misalignedAtomicMemoryAccess", api.ValueTypeI64)
	builtinExceptionTypes.invalidArgument = mk("invalidArgument")
	builtinExceptionTypes.calledAbortedFunction = mk("calledAbortedFunction")
	builtinExceptionTypes.calledUnimplementedIntrinsic = mk("calledUnimplementedIntrinsic")
}

// Exception is a thrown value: a tag plus its argument words and the call stack captured at the
// throw site. Exceptions are transient -- they are not registered in any Compartment's
// object table, unlike their ExceptionType, and are owned by whichever goroutine is currently
// unwinding with them.
type Exception struct {
	Type      *ExceptionType
	Arguments []uint64

	// CallStack holds one StackFrame per activation record live at the throw site, innermost
	// first. Nothing in this module fills it automatically; intrinsics.CaptureCallStack builds
	// such a slice from a list of instruction pointers.
	CallStack []StackFrame
}

// StackFrame is one entry of a captured Exception.CallStack.
type StackFrame struct {
	Instance   *Instance
	FunctionIndex int
	IP         uintptr
	SourceFile string
	SourceLine int
}

// NewException constructs an Exception of the given type, validating the argument count against
// the type's declared parameters.
func NewException(typ *ExceptionType, args []uint64) (*Exception, error) {
	if len(args) != len(typ.params) {
		return nil, fmt.Errorf("%w: exception %q expects %d arguments, got %d", ErrInvalidArgument, typ.debugName, len(typ.params), len(args))
	}
	return &Exception{Type: typ, Arguments: append([]uint64(nil), args...)}, nil
}

func (e *Exception) Error() string {
	return fmt.Sprintf("wavm exception %q: %v", e.Type.debugName, e.Arguments)
}

func newTrap(et *ExceptionType, args ...uint64) *Exception {
	return &Exception{Type: et, Arguments: args}
}

// BuiltinExceptionType returns one of the process-wide built-in trap tags by name, for
// packages outside runtime that need to construct or compare against a built-in trap, e.g.
// invoke's panic-recovery boundary. Panics if name does not name a built-in type: this indicates
// a programming error, not a Wasm-level condition.
func BuiltinExceptionType(name string) *ExceptionType {
	switch name {
	case "outOfBoundsMemoryAccess":
		return builtinExceptionTypes.outOfBoundsMemoryAccess
	case "outOfBoundsTableAccess":
		return builtinExceptionTypes.outOfBoundsTableAccess
	case "uninitializedTableElement":
		return builtinExceptionTypes.uninitializedTableElement
	case "outOfBoundsElemSegmentAccess":
		return builtinExceptionTypes.outOfBoundsElemSegmentAccess
	case "outOfBoundsDataSegmentAccess":
		return builtinExceptionTypes.outOfBoundsDataSegmentAccess
	case "indirectCallSignatureMismatch":
		return builtinExceptionTypes.indirectCallSignatureMismatch
	case "invokeSignatureMismatch":
		return builtinExceptionTypes.invokeSignatureMismatch
	case "integerDivideByZeroOrOverflow":
		return builtinExceptionTypes.integerDivideByZeroOrOverflow
	case "invalidFloatOperation":
		return builtinExceptionTypes.invalidFloatOperation
	case "stackOverflow":
		return builtinExceptionTypes.stackOverflow
	case "unreachable":
		return builtinExceptionTypes.unreachable
	case "outOfMemory":
		return builtinExceptionTypes.outOfMemory
	case "misalignedAtomicMemoryAccess":
		return builtinExceptionTypes.misalignedAtomicMemoryAccess
	case "invalidArgument":
		return builtinExceptionTypes.invalidArgument
	case "calledAbortedFunction":
		return builtinExceptionTypes.calledAbortedFunction
	case "calledUnimplementedIntrinsic":
		return builtinExceptionTypes.calledUnimplementedIntrinsic
	}
	panic("runtime: unknown built-in exception type " + name)
}

// NewTrap constructs an *Exception for one of the built-in trap tags, for use by intrinsics and
// invoke outside this package.
func NewTrap(name string, args ...uint64) *Exception {
	return newTrap(BuiltinExceptionType(name), args...)
}
