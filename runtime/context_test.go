package runtime

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestNewContextAndRuntimeDataBase(t *testing.T) {
	c := newTestCompartment(t)
	ctx, err := NewContext(c, "ctx")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	base := ctx.RuntimeDataBase()
	require.NotZero(t, base)
	require.Same(t, ctx, ContextFromRuntimeDataBase(base))
	require.Same(t, c, FromContextPointer(unsafe.Pointer(base)))
}

func TestContextCloseReturnsIDForReuse(t *testing.T) {
	c := newTestCompartment(t)
	ctx1, err := NewContext(c, "ctx1")
	require.NoError(t, err)
	id := ctx1.ID()
	require.NoError(t, ctx1.Close())

	ctx2, err := NewContext(c, "ctx2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx2.Close() })
	require.Equal(t, id, ctx2.ID())
}
