package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForeignValue(t *testing.T) {
	c := newTestCompartment(t)
	f := CreateForeign(c, "a-host-handle", "fd")
	require.Equal(t, "a-host-handle", f.Value())
	require.Equal(t, "fd", f.DebugName())
}

func TestForeignClone(t *testing.T) {
	c := newTestCompartment(t)
	f := CreateForeign(c, 7, "fd")

	clone, err := c.Clone(t.Name() + "-clone")
	require.NoError(t, err)
	t.Cleanup(func() { _ = clone.Close() })

	cf := clone.foreigns[f.ID()]
	require.NotNil(t, cf)
	require.Equal(t, 7, cf.Value())
}
