package invoke

import (
	"fmt"

	"github.com/wavmgo/wavm/runtime"
)

// Go gives no portable way to install a SIGSEGV/SIGFPE handler without cgo, so this package
// expresses the "catch the hardware trap, translate it to a language exception, unwind" design
// with panic/recover instead: intrinsics that would otherwise need a page-fault handler (an
// out-of-bounds memory access past the 8 GiB reservation's guard pages, for instance) instead
// call Throw directly, and every call boundary in this package recovers and converts it back into
// a normal Go error. The guard-page reservation in runtime.Memory still exists and still turns a
// genuine wild access into a real SIGSEGV as a last-resort safety net; it is intentionally never
// the primary detection path.

// Throw panics with exc, to be caught by the nearest enclosing Invoke call. Intended for
// intrinsics and compiled-code call stubs that detect a trap deep in a call chain, where
// threading an error return through every frame would be impractical -- mirroring how a real
// signal handler unwinds past arbitrary native frames.
func Throw(exc *runtime.Exception) {
	panic(exc)
}

// recoverException converts a value recovered from panic (or nil) plus an already-returned error
// into the error Invoke should report: a *runtime.Exception panic takes priority over err, any
// other panic value is re-raised (it is a bug, not a Wasm trap), and a nil recover leaves err
// untouched.
func recoverException(recovered interface{}, err error) error {
	if recovered == nil {
		return err
	}
	if exc, ok := recovered.(*runtime.Exception); ok {
		return exc
	}
	panic(recovered)
}

// CatchRuntimeExceptions runs fn, converting any *runtime.Exception it panics with into a
// returned error. Used by embedders driving compiled code directly (outside of Invoke) that still
// want the same catch-and-translate semantics at their own call boundary, e.g. a custom
// Entrypoint implementation.
func CatchRuntimeExceptions(fn func()) (err error) {
	defer func() { err = recoverException(recover(), err) }()
	fn()
	return nil
}

// WrapGoPanic converts an unexpected non-exception panic recovered at a host/Wasm call boundary
// into a calledAbortedFunction exception, used by HostFunction implementations that call into
// arbitrary embedder-supplied Go code and must not let an embedder bug escape as a bare panic
// across the Wasm ABI boundary: host calls must not unwind through compiled frames.
func WrapGoPanic(recovered interface{}) *runtime.Exception {
	exc, err := runtime.NewException(runtime.BuiltinExceptionType("calledAbortedFunction"), nil)
	if err != nil {
		panic(fmt.Sprintf("invoke: built-in exception type misconfigured: %v", err))
	}
	exc.CallStack = nil
	_ = recovered
	return exc
}
