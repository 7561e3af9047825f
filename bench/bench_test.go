// Package bench compares the call-boundary overhead of this module's invoke thunk against two
// reference Wasm engines, wasmtime-go and wasmer-go, which are only used in benchmarks. Neither
// reference engine's result is a correctness check on this module -- the compiler that would
// let this module execute the same add.wasm bytes is an external collaborator -- so this
// package measures call-boundary cost in isolation: a host Function invoked through invoke.Invoke here, a compiled Wasm function invoked
// through wasmtime/wasmer there.
package bench

import (
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v7"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/wavmgo/wavm/api"
	"github.com/wavmgo/wavm/invoke"
	"github.com/wavmgo/wavm/runtime"
)

// addWasm is the canonical wat2wasm encoding of:
//
//	(module
//	  (func $add (param i32) (param i32) (result i32)
//	    local.get 0
//	    local.get 1
//	    i32.add)
//	  (export "add" (func $add)))
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// BenchmarkCallBoundary_WAVM measures invoke.Invoke calling a native Go HostFunction that
// performs the same addition, i.e. the cost this module's own call interface adds over a bare
// Go function call.
func BenchmarkCallBoundary_WAVM(b *testing.B) {
	c, err := runtime.NewCompartment("bench")
	if err != nil {
		b.Fatal(err)
	}
	ctx, err := runtime.NewContext(c, "bench")
	if err != nil {
		b.Fatal(err)
	}
	typ := api.FunctionType{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	fn := runtime.NewHostFunction(c, typ, func(_ *runtime.Context, args []uint64) ([]uint64, error) {
		return []uint64{args[0] + args[1]}, nil
	}, "add")

	args := []uint64{1, 2}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := invoke.Invoke(ctx, fn, args); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCallBoundary_Wasmtime measures wasmtime-go's call overhead for the equivalent
// compiled Wasm export.
func BenchmarkCallBoundary_Wasmtime(b *testing.B) {
	engine := wasmtime.NewEngine()
	store := wasmtime.NewStore(engine)
	module, err := wasmtime.NewModule(engine, addWasm)
	if err != nil {
		b.Fatal(err)
	}
	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		b.Fatal(err)
	}
	add := instance.GetExport(store, "add").Func()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := add.Call(store, int32(1), int32(2)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCallBoundary_Wasmer measures wasmer-go's call overhead for the same export, the
// second reference point.
func BenchmarkCallBoundary_Wasmer(b *testing.B) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, addWasm)
	if err != nil {
		b.Fatal(err)
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		b.Fatal(err)
	}
	add, err := instance.Exports.GetFunction("add")
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := add(int32(1), int32(2)); err != nil {
			b.Fatal(err)
		}
	}
}
