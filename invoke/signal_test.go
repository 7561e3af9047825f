package invoke

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/runtime"
)

func TestRecoverExceptionPrioritizesPanicOverErr(t *testing.T) {
	exc := runtime.NewTrap("unreachable")
	got := recoverException(exc, fmt.Errorf("some prior error"))
	require.Same(t, exc, got)
}

func TestRecoverExceptionPassesThroughErrOnNilRecover(t *testing.T) {
	err := fmt.Errorf("boom")
	got := recoverException(nil, err)
	require.Equal(t, err, got)
}

func TestRecoverExceptionRepanicsOnUnknownValue(t *testing.T) {
	require.Panics(t, func() { recoverException("not an exception", nil) })
}

func TestCatchRuntimeExceptionsConvertsThrow(t *testing.T) {
	exc := runtime.NewTrap("stackOverflow")
	err := CatchRuntimeExceptions(func() { Throw(exc) })
	require.Same(t, exc, err)
}

func TestCatchRuntimeExceptionsReturnsNilWhenFnDoesNotPanic(t *testing.T) {
	err := CatchRuntimeExceptions(func() {})
	require.NoError(t, err)
}

func TestWrapGoPanicBuildsAbortedFunctionException(t *testing.T) {
	exc := WrapGoPanic("arbitrary embedder panic")
	require.Equal(t, "calledAbortedFunction", exc.Type.DebugName())
}
