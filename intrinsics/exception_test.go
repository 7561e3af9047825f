package intrinsics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/runtime"
)

func TestTryCatchHandlesMatchingException(t *testing.T) {
	c := newTestCompartment(t)
	et := runtime.CreateExceptionType(c, []api.ValueType{api.ValueTypeI32}, "myExc")

	var caught []uint64
	TryCatch(et, func() {
		ThrowException(et, []uint64{7})
	}, func(args []uint64) {
		caught = args
	})
	require.Equal(t, []uint64{7}, caught)
}

func TestTryCatchPropagatesMismatchedType(t *testing.T) {
	c := newTestCompartment(t)
	et1 := runtime.CreateExceptionType(c, nil, "e1")
	et2 := runtime.CreateExceptionType(c, nil, "e2")

	require.Panics(t, func() {
		TryCatch(et1, func() {
			ThrowException(et2, nil)
		}, func(args []uint64) {
			t.Fatal("handler should not run for mismatched type")
		})
	})
}

func TestTryCatchAllMatchesAnyException(t *testing.T) {
	c := newTestCompartment(t)
	et := runtime.CreateExceptionType(c, nil, "e")

	var got *runtime.Exception
	TryCatchAll(func() {
		ThrowException(et, nil)
	}, func(exc *runtime.Exception) {
		got = exc
	})
	require.Equal(t, et, got.Type)
}

func TestCreateAndDestroyException(t *testing.T) {
	c := newTestCompartment(t)
	et := runtime.CreateExceptionType(c, []api.ValueType{api.ValueTypeI64}, "e")

	exc := CreateException(et, []uint64{9})
	require.Equal(t, et, exc.Type)
	require.Equal(t, []uint64{9}, exc.Arguments)

	DestroyException(exc)
	require.Nil(t, exc.Arguments)
	DestroyException(nil)
}

func TestCreateExceptionTrapsOnArgumentCountMismatch(t *testing.T) {
	c := newTestCompartment(t)
	et := runtime.CreateExceptionType(c, []api.ValueType{api.ValueTypeI64}, "e")
	expectTrap(t, "invalidArgument", func() {
		CreateException(et, []uint64{1, 2})
	})
}

func TestTrapIntrinsics(t *testing.T) {
	expectTrap(t, "unreachable", UnreachableTrap)
	expectTrap(t, "integerDivideByZeroOrOverflow", DivideByZeroOrIntegerOverflowTrap)
	expectTrap(t, "invalidFloatOperation", InvalidFloatOperationTrap)
	expectTrap(t, "calledUnimplementedIntrinsic", UnimplementedIntrinsicTrap)
}

func TestRethrowExceptionPropagates(t *testing.T) {
	c := newTestCompartment(t)
	et := runtime.CreateExceptionType(c, nil, "e")
	exc, err := runtime.NewException(et, nil)
	require.NoError(t, err)

	require.Panics(t, func() {
		RethrowException(exc)
	})
}
