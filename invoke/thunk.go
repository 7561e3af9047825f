// Package invoke is the call-interface boundary: it marshals arguments and results
// across the host/Wasm call edge in both directions (an embedder invoking an exported function,
// compiled code calling an import) and converts a trapping exception raised mid-call into a Go
// error the caller can handle with ordinary control flow.
package invoke

import (
	"fmt"
	"sync"

	"github.com/wavmgo/wavm/runtime"
)

// Entrypoint calls into a compiled function's native entry point, passing the owning Context's
// runtime-data base pointer (the implicit first argument every JIT-compiled function expects)
// and the argument words, and returns the result words.
//
// No entrypoint ships with this module: compiling Wasm to native code is an external
// collaborator's job -- this package only implements the calling-convention boundary, not a
// code generator to stand on the other side of it. An embedder that links in a real code
// generator registers its trampoline with SetEntrypoint; until then, calling a compiled
// (non-host) Function returns ErrNoEntrypoint.
type Entrypoint func(entry uintptr, ctxBase uintptr, params []uint64) ([]uint64, error)

var (
	entrypointMu sync.RWMutex
	entrypoint   Entrypoint
)

// SetEntrypoint installs the process-wide compiled-code call trampoline. Pass nil to uninstall.
func SetEntrypoint(e Entrypoint) {
	entrypointMu.Lock()
	defer entrypointMu.Unlock()
	entrypoint = e
}

// ErrNoEntrypoint is returned by Invoke when fn is backed by compiled code but no Entrypoint has
// been registered with SetEntrypoint.
var ErrNoEntrypoint = fmt.Errorf("invoke: no compiled entrypoint registered")

// Invoke calls fn with args under ctx, dispatching to fn's HostFunction if it is a host/intrinsic
// function, or to the registered Entrypoint otherwise. Any *runtime.Exception raised
// during the call -- whether returned normally by a HostFunction or recovered from a panic raised
// by intrinsics detecting a trap deep in a call chain (see signal.go) -- is returned as the error.
func Invoke(ctx *runtime.Context, fn *runtime.Function, args []uint64) (results []uint64, err error) {
	defer func() { err = recoverException(recover(), err) }()

	typ := fn.Type()
	if len(args) != len(typ.Params) {
		return nil, runtime.NewTrap("invokeSignatureMismatch")
	}

	if fn.IsHost() {
		return fn.Call(ctx, args)
	}

	entrypointMu.RLock()
	e := entrypoint
	entrypointMu.RUnlock()
	if e == nil {
		return nil, ErrNoEntrypoint
	}
	return e(fn.Entry, ctx.RuntimeDataBase(), args)
}

// InvokeExported looks up name among inst's exports, fails if it is not an exported function, and
// calls it via Invoke.
func InvokeExported(ctx *runtime.Context, inst *runtime.Instance, name string, args []uint64) ([]uint64, error) {
	fn := inst.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("invoke: no exported function %q", name)
	}
	return Invoke(ctx, fn, args)
}
