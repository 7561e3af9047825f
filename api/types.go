// Package api includes constants and interfaces used by both embedders and internal packages.
package api

import "fmt"

// ValueType describes the type of a value held in a sandboxed Memory slot, Table element, or Global.
//
// See https://webassembly.github.io/spec/core/syntax/types.html#value-types
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
	// ValueTypeFuncref is a biased reference to a Function, or null.
	ValueTypeFuncref ValueType = 0x70
	// ValueTypeExternref is an opaque host reference, or null.
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the WebAssembly text format name of t, or "unknown" for an undefined value.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// RefType is the subset of ValueType that is a reference type (table element type).
type RefType = ValueType

// ExternType classifies imports and exports.
//
// See https://webassembly.github.io/spec/core/syntax/types.html#external-types
type ExternType = byte

const (
	ExternTypeFunc     ExternType = 0x00
	ExternTypeTable    ExternType = 0x01
	ExternTypeMemory   ExternType = 0x02
	ExternTypeGlobal   ExternType = 0x03
	ExternTypeException ExternType = 0x04
)

// ExternTypeName returns the text format field name of the given ExternType.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	case ExternTypeException:
		return "exception"
	}
	return fmt.Sprintf("%#x", et)
}

// FunctionType is the signature of a Function: parameter and result value types.
//
// Two FunctionTypes are the "same type" (for call_indirect / invoke signature checks) iff
// their EncodedType values are equal.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// EncodedType is an opaque, comparable encoding of a FunctionType, stable for the lifetime of
// a process. Compiled code compares two functions' EncodedType values directly instead of
// structurally comparing Params/Results, mirroring the wasm calling-convention type check done
// by call_indirect and Context invocation.
type EncodedType uint64

// Encode derives a stable EncodedType for t. Two structurally equal FunctionTypes always encode
// to the same value; this is what call_indirect and invokeFunction compare against.
func (t FunctionType) Encode() EncodedType {
	h := uint64(offsetBasis)
	step := func(b byte) {
		h ^= uint64(b)
		h *= fnvPrime
	}
	for _, p := range t.Params {
		step(p)
	}
	step(0xff) // separator between params and results
	for _, r := range t.Results {
		step(r)
	}
	return EncodedType(h)
}

const (
	offsetBasis = 14695981039346656037
	fnvPrime    = 1099511628211
)

// String implements fmt.Stringer, rendering "(params) -> (results)".
func (t FunctionType) String() string {
	s := "("
	for i, p := range t.Params {
		if i > 0 {
			s += ", "
		}
		s += ValueTypeName(p)
	}
	s += ") -> ("
	for i, r := range t.Results {
		if i > 0 {
			s += ", "
		}
		s += ValueTypeName(r)
	}
	return s + ")"
}
