package intrinsics

import (
	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/invoke"
	"github.com/wavmgo/wavm/runtime"
)

// IntrinsicModuleName is the import namespace user modules bind the intrinsic set under.
const IntrinsicModuleName = "wavmIntrinsics"

// Objects are passed to intrinsics by compartment-local id, the same ids compiled code reads out
// of its binding table, so one intrinsic function instance serves every module in a compartment.
func memoryArg(c *runtime.Compartment, id uint64) *runtime.Memory {
	m := c.MemoryByID(int(id))
	if m == nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
	return m
}

func tableArg(c *runtime.Compartment, id uint64) *runtime.Table {
	t := c.TableByID(int(id))
	if t == nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
	return t
}

func instanceArg(c *runtime.Compartment, id uint64) *runtime.Instance {
	i := c.InstanceByID(int(id))
	if i == nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
	return i
}

func fnType(numParams, numResults int) api.FunctionType {
	t := api.FunctionType{}
	for i := 0; i < numParams; i++ {
		t.Params = append(t.Params, api.ValueTypeI64)
	}
	for i := 0; i < numResults; i++ {
		t.Results = append(t.Results, api.ValueTypeI64)
	}
	return t
}

// NewIntrinsicModule binds the intrinsic set against c and returns its export map: one host
// Function per well-known name, callable by any user module instantiated in c. Callers hand the
// map to their import resolver under IntrinsicModuleName.
func NewIntrinsicModule(c *runtime.Compartment) map[string]*runtime.Function {
	exports := map[string]*runtime.Function{}
	def := func(name string, typ api.FunctionType, fn runtime.HostFunction) {
		exports[name] = runtime.NewHostFunction(c, typ, fn, IntrinsicModuleName+"."+name)
	}

	def("memory.grow", fnType(2, 1), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{uint64(MemoryGrow(memoryArg(c, args[0]), args[1]))}, nil
	})
	def("memory.size", fnType(1, 1), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{memoryArg(c, args[0]).PageCount()}, nil
	})
	def("memory.init", fnType(6, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		InstanceMemoryInit(instanceArg(c, args[0]), int(args[1]), memoryArg(c, args[2]), args[3], args[4], args[5])
		return nil, nil
	})
	def("memory.copy", fnType(4, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		m := memoryArg(c, args[0])
		MemoryCopy(m, args[1], m, args[2], args[3])
		return nil, nil
	})
	def("memory.fill", fnType(4, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		MemoryFill(memoryArg(c, args[0]), args[1], args[3], byte(args[2]))
		return nil, nil
	})
	def("data.drop", fnType(2, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		DataDrop(instanceArg(c, args[0]), int(args[1]))
		return nil, nil
	})

	def("table.grow", fnType(3, 1), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{uint64(TableGrow(tableArg(c, args[0]), args[1], runtime.Reference(args[2])))}, nil
	})
	def("table.size", fnType(1, 1), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{tableArg(c, args[0]).ElemCount()}, nil
	})
	def("table.get", fnType(2, 1), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{uint64(TableGet(tableArg(c, args[0]), args[1]))}, nil
	})
	def("table.set", fnType(3, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		TableSet(tableArg(c, args[0]), args[1], runtime.Reference(args[2]))
		return nil, nil
	})
	def("table.init", fnType(6, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		InstanceTableInit(instanceArg(c, args[0]), int(args[1]), tableArg(c, args[2]), args[3], args[4], args[5])
		return nil, nil
	})
	def("table.fill", fnType(4, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		TableFill(tableArg(c, args[0]), args[1], args[3], runtime.Reference(args[2]))
		return nil, nil
	})
	def("table.copy", fnType(5, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		TableCopy(tableArg(c, args[0]), args[1], tableArg(c, args[2]), args[3], args[4])
		return nil, nil
	})
	def("elem.drop", fnType(2, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		ElemDrop(instanceArg(c, args[0]), int(args[1]))
		return nil, nil
	})
	def("callIndirectFail", fnType(3, 0), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		CallIndirectCheck(tableArg(c, args[0]), args[1], api.EncodedType(args[2]))
		return nil, nil
	})

	def("divideByZeroOrIntegerOverflowTrap", fnType(0, 0), func(_ *runtime.Context, _ []uint64) ([]uint64, error) {
		DivideByZeroOrIntegerOverflowTrap()
		return nil, nil
	})
	def("unreachableTrap", fnType(0, 0), func(_ *runtime.Context, _ []uint64) ([]uint64, error) {
		UnreachableTrap()
		return nil, nil
	})
	def("invalidFloatOperationTrap", fnType(0, 0), func(_ *runtime.Context, _ []uint64) ([]uint64, error) {
		InvalidFloatOperationTrap()
		return nil, nil
	})
	def("unimplementedIntrinsicTrap", fnType(0, 0), func(_ *runtime.Context, _ []uint64) ([]uint64, error) {
		UnimplementedIntrinsicTrap()
		return nil, nil
	})

	def("atomic_notify", fnType(3, 1), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{uint64(AtomicNotify(memoryArg(c, args[0]), args[1], uint32(args[2])))}, nil
	})
	def("atomic_wait_i32", fnType(4, 1), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{uint64(AtomicWait32(memoryArg(c, args[0]), args[1], uint32(args[2]), int64(args[3])))}, nil
	})
	def("atomic_wait_i64", fnType(4, 1), func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{uint64(AtomicWait64(memoryArg(c, args[0]), args[1], args[2], int64(args[3])))}, nil
	})

	def("debugEnterFunction", fnType(1, 0), func(ctx *runtime.Context, args []uint64) ([]uint64, error) {
		DebugEnterFunction(ctx, int(args[0]))
		return nil, nil
	})
	def("debugExitFunction", fnType(1, 0), func(ctx *runtime.Context, args []uint64) ([]uint64, error) {
		DebugExitFunction(ctx, int(args[0]))
		return nil, nil
	})
	def("debugBreak", fnType(0, 0), func(ctx *runtime.Context, _ []uint64) ([]uint64, error) {
		DebugBreak(ctx)
		return nil, nil
	})

	return exports
}
