package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCompartmentAndClose(t *testing.T) {
	c, err := NewCompartment("test")
	require.NoError(t, err)
	require.Equal(t, "test", c.DebugName())
	require.NoError(t, c.Close())
}

func TestTryCollectFailsWithOutstandingRoot(t *testing.T) {
	c := newTestCompartment(t)
	m, err := CreateMemory(c, MemoryType{MinPages: 1}, "mem", nil)
	require.NoError(t, err)
	m.addRoot()

	err = c.TryCollect()
	require.ErrorIs(t, err, ErrCompartmentHasReferences)

	m.releaseRoot()
	require.NoError(t, c.TryCollect())
}

func TestCompartmentContains(t *testing.T) {
	c1 := newTestCompartment(t)
	c2 := newTestCompartment(t)
	m, err := CreateMemory(c1, MemoryType{MinPages: 1}, "mem", nil)
	require.NoError(t, err)

	require.True(t, c1.Contains(m))
	require.False(t, c2.Contains(m))
}

func TestCompartmentRemap(t *testing.T) {
	c1 := newTestCompartment(t)
	m, err := CreateMemory(c1, MemoryType{MinPages: 1}, "mem", nil)
	require.NoError(t, err)

	c2, err := c1.Clone(t.Name() + "-clone")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c2.Close() })

	remapped, err := c1.Remap(m, c2)
	require.NoError(t, err)
	require.Equal(t, m.ID(), remapped.ID())
	require.Same(t, c2, remapped.CompartmentOf())
}

func TestAllocateAndFreeMutableGlobalSlot(t *testing.T) {
	c := newTestCompartment(t)
	slot, ok := c.allocateMutableGlobalSlot()
	require.True(t, ok)
	require.GreaterOrEqual(t, slot, 0)

	c.freeMutableGlobalSlot(slot)
	slot2, ok := c.allocateMutableGlobalSlot()
	require.True(t, ok)
	require.Equal(t, slot, slot2)
}
