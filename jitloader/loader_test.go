package jitloader

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/api"
)

// fourNops is a tiny, architecture-agnostic code blob: it is never executed by these tests, only
// mapped and relocated, so its bytes don't need to be valid machine code.
func fourNops() []byte { return []byte{0x90, 0x90, 0x90, 0x90} }

func TestLoadModuleRejectsEmptyCode(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadModule(ModuleSpec{DebugName: "empty"})
	require.Error(t, err)
}

func TestLoadModuleRelocatesAndRegisters(t *testing.T) {
	l := NewLoader()
	spec := ModuleSpec{
		Code:  fourNops(),
		Types: []api.FunctionType{{}},
		Functions: []FunctionSymbol{
			{Name: "f0", TypeIndex: 0, Offset: 0, Size: 2},
			{Name: "f1", TypeIndex: 0, Offset: 2, Size: 2},
		},
		StartFunc: -1,
		DebugName: "mod",
	}

	lm, err := l.LoadModule(spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Unload(lm) })

	require.NotZero(t, lm.Base)
	require.EqualValues(t, 4, lm.Size)
	require.Len(t, lm.Module.Functions, 2)
	require.Equal(t, lm.Base, lm.Module.Functions[0].Entry)
	require.Equal(t, lm.Base+2, lm.Module.Functions[1].Entry)

	found, ok := l.ModuleContainingAddress(lm.Base + 1)
	require.True(t, ok)
	require.Same(t, lm.Module, found.Module)

	_, ok = l.ModuleContainingAddress(lm.Base + lm.Size + 100)
	require.False(t, ok)

	sym, ok := lm.FunctionContainingAddress(lm.Base + 3)
	require.True(t, ok)
	require.Equal(t, "f1", sym.Name)

	_, ok = lm.FunctionContainingAddress(lm.Base + 10)
	require.False(t, ok)
}

func TestUnloadRemovesModuleFromLookup(t *testing.T) {
	l := NewLoader()
	lm, err := l.LoadModule(ModuleSpec{Code: fourNops(), StartFunc: -1, DebugName: "mod"})
	require.NoError(t, err)

	base := lm.Base
	require.NoError(t, l.Unload(lm))

	_, ok := l.ModuleContainingAddress(base)
	require.False(t, ok)
}

func TestModuleContainingAddressWithMultipleModules(t *testing.T) {
	l := NewLoader()
	lm1, err := l.LoadModule(ModuleSpec{Code: fourNops(), StartFunc: -1, DebugName: "mod1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Unload(lm1) })

	lm2, err := l.LoadModule(ModuleSpec{Code: fourNops(), StartFunc: -1, DebugName: "mod2"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Unload(lm2) })

	found1, ok := l.ModuleContainingAddress(lm1.Base)
	require.True(t, ok)
	require.Same(t, lm1.Module, found1.Module)

	found2, ok := l.ModuleContainingAddress(lm2.Base)
	require.True(t, ok)
	require.Same(t, lm2.Module, found2.Module)
}
