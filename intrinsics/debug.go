package intrinsics

import (
	"fmt"
	"sync"

	"github.com/wavmgo/wavm/jitloader"
	"github.com/wavmgo/wavm/runtime"
)

// Optional tracing callbacks behind the debugEnterFunction/debugExitFunction/debugBreak
// intrinsics. Nil hooks make each a no-op, the default.
var (
	debugHooksMu sync.RWMutex
	onEnterHook  func(ctx *runtime.Context, functionIndex int)
	onExitHook   func(ctx *runtime.Context, functionIndex int)
	onBreakHook  func(ctx *runtime.Context)
)

// SetDebugHooks installs (or, with nil arguments, removes) the tracing callbacks. The hooks run
// on whatever goroutine drives the traced Context; they must not retain ctx past their return.
func SetDebugHooks(enter, exit func(ctx *runtime.Context, functionIndex int), brk func(ctx *runtime.Context)) {
	debugHooksMu.Lock()
	defer debugHooksMu.Unlock()
	onEnterHook, onExitHook, onBreakHook = enter, exit, brk
}

// DebugEnterFunction notifies the enter hook that functionIndex began executing under ctx.
func DebugEnterFunction(ctx *runtime.Context, functionIndex int) {
	debugHooksMu.RLock()
	hook := onEnterHook
	debugHooksMu.RUnlock()
	if hook != nil {
		hook(ctx, functionIndex)
	}
}

// DebugExitFunction is DebugEnterFunction's exit counterpart.
func DebugExitFunction(ctx *runtime.Context, functionIndex int) {
	debugHooksMu.RLock()
	hook := onExitHook
	debugHooksMu.RUnlock()
	if hook != nil {
		hook(ctx, functionIndex)
	}
}

// DebugBreak notifies the break hook that a breakpoint instruction executed under ctx.
func DebugBreak(ctx *runtime.Context) {
	debugHooksMu.RLock()
	hook := onBreakHook
	debugHooksMu.RUnlock()
	if hook != nil {
		hook(ctx)
	}
}

// CaptureCallStack walks the loader's address-sorted module list for every instruction pointer in
// ips (innermost frame first) and resolves each to a StackFrame. Frames whose address cannot be
// attributed to any loaded module are still included, with SourceFile left empty.
func CaptureCallStack(l *jitloader.Loader, ips []uintptr) []runtime.StackFrame {
	frames := make([]runtime.StackFrame, 0, len(ips))
	for _, ip := range ips {
		frame := runtime.StackFrame{IP: ip, FunctionIndex: -1}
		if lm, ok := l.ModuleContainingAddress(ip); ok {
			if sym, ok := lm.FunctionContainingAddress(ip); ok {
				frame.FunctionIndex = indexOfFunction(lm, lm.Base+uintptr(sym.Offset))
			}
			if file, line, ok := lm.SourceLocation(ip); ok {
				frame.SourceFile = file
				frame.SourceLine = line
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

func indexOfFunction(lm *jitloader.LoadedModule, entry uintptr) int {
	for i, f := range lm.Module.Functions {
		if f.Entry == entry {
			return i
		}
	}
	return -1
}

// FormatCallStack renders frames as a multi-line string suitable for an uncaught-exception
// report, innermost frame first.
func FormatCallStack(l *jitloader.Loader, frames []runtime.StackFrame) string {
	s := ""
	for i, f := range frames {
		s += fmt.Sprintf("#%d 0x%x", i, f.IP)
		if f.SourceFile != "" {
			s += fmt.Sprintf(" at %s:%d", f.SourceFile, f.SourceLine)
		}
		s += "\n"
	}
	return s
}
