package intrinsics

import (
	"github.com/wavmgo/wavm/invoke"
	"github.com/wavmgo/wavm/runtime"
)

// ThrowException implements the throw instruction: constructs an Exception of typ with args and
// unwinds with it.
func ThrowException(typ *runtime.ExceptionType, args []uint64) {
	exc, err := runtime.NewException(typ, args)
	if err != nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
	invoke.Throw(exc)
}

// RethrowException re-raises an already-caught Exception, implementing the rethrow instruction
// inside a catch_all block.
func RethrowException(exc *runtime.Exception) {
	invoke.Throw(exc)
}

// CreateException constructs (but does not raise) an Exception of typ with args, the create half
// of the exception create/throw/destroy intrinsic triple. Traps with invalidArgument if args
// does not match typ's declared parameter count.
func CreateException(typ *runtime.ExceptionType, args []uint64) *runtime.Exception {
	exc, err := runtime.NewException(typ, args)
	if err != nil {
		invoke.Throw(runtime.NewTrap("invalidArgument"))
	}
	return exc
}

// DestroyException releases an Exception that was created but never thrown, or caught and not
// rethrown. Exceptions are garbage-collected Go values, so this only severs the argument and
// call-stack references to let what they pin go free early.
func DestroyException(exc *runtime.Exception) {
	if exc == nil {
		return
	}
	exc.Arguments = nil
	exc.CallStack = nil
}

// UnreachableTrap backs the unreachable instruction.
func UnreachableTrap() {
	invoke.Throw(runtime.NewTrap("unreachable"))
}

// DivideByZeroOrIntegerOverflowTrap backs the integer division trap helper compiled code calls
// when a divisor is zero or INT_MIN/-1 overflows.
func DivideByZeroOrIntegerOverflowTrap() {
	invoke.Throw(runtime.NewTrap("integerDivideByZeroOrOverflow"))
}

// InvalidFloatOperationTrap backs the invalid-float-operation trap helper used by trapping
// float-to-int conversions.
func InvalidFloatOperationTrap() {
	invoke.Throw(runtime.NewTrap("invalidFloatOperation"))
}

// UnimplementedIntrinsicTrap is called by intrinsic stubs that are registered by name but have no
// host implementation yet.
func UnimplementedIntrinsicTrap() {
	invoke.Throw(runtime.NewTrap("calledUnimplementedIntrinsic"))
}

// TryCatch runs body, and if it unwinds with an *runtime.Exception whose Type is typ, runs
// handler with the exception's arguments instead of propagating it; any other panic (including an
// exception of a different type) propagates unchanged. This backs the try/catch block structure
// compiled from the exception-handling proposal's `catch` clause.
func TryCatch(typ *runtime.ExceptionType, body func(), handler func(args []uint64)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		exc, ok := r.(*runtime.Exception)
		if !ok || exc.Type != typ {
			panic(r)
		}
		handler(exc.Arguments)
	}()
	body()
}

// TryCatchAll is as TryCatch but matches any Exception regardless of type, backing `catch_all`.
func TryCatchAll(body func(), handler func(exc *runtime.Exception)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		exc, ok := r.(*runtime.Exception)
		if !ok {
			panic(r)
		}
		handler(exc)
	}()
	body()
}
