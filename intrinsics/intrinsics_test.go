package intrinsics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/runtime"
)

func newTestCompartment(t *testing.T) *runtime.Compartment {
	t.Helper()
	c, err := runtime.NewCompartment(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func expectTrap(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a trap")
		exc, ok := r.(*runtime.Exception)
		require.True(t, ok, "expected *runtime.Exception, got %T", r)
		require.Equal(t, name, exc.Type.DebugName())
	}()
	fn()
}
