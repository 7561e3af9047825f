package intrinsics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavmgo/wavm/jitloader"
	"github.com/wavmgo/wavm/runtime"
)

func TestCaptureCallStackResolvesKnownAndUnknownFrames(t *testing.T) {
	l := jitloader.NewLoader()
	lm, err := l.LoadModule(jitloader.ModuleSpec{
		Code:      []byte{0x90, 0x90, 0x90, 0x90},
		Functions: []jitloader.FunctionSymbol{{Name: "f0", Offset: 0, Size: 4}},
		SourceMap: []jitloader.SourceMapping{{Offset: 0, File: "a.wat", Line: 3}},
		StartFunc: -1,
		DebugName: "mod",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Unload(lm) })

	frames := CaptureCallStack(l, []uintptr{lm.Base + 1, 0xdeadbeef})
	require.Len(t, frames, 2)

	require.Equal(t, 0, frames[0].FunctionIndex)
	require.Equal(t, "a.wat", frames[0].SourceFile)
	require.Equal(t, 3, frames[0].SourceLine)

	require.Equal(t, -1, frames[1].FunctionIndex)
	require.Empty(t, frames[1].SourceFile)
}

func TestFormatCallStackRendersFramesWithAndWithoutSource(t *testing.T) {
	l := jitloader.NewLoader()
	frames := CaptureCallStack(l, []uintptr{0x1000})
	frames = append(frames, runtime.StackFrame{IP: 0x2000, FunctionIndex: -1, SourceFile: "a.wat", SourceLine: 3})
	s := FormatCallStack(l, frames)
	require.Contains(t, s, "#0 0x1000\n")
	require.Contains(t, s, "#1 0x2000 at a.wat:3\n")
}
