package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunctionTypeEncode(t *testing.T) {
	a := &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI64}, Results: []ValueType{ValueTypeF32}}
	b := &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI64}, Results: []ValueType{ValueTypeF32}}
	require.Equal(t, a.Encode(), b.Encode())

	c := &FunctionType{Params: []ValueType{ValueTypeI64, ValueTypeI32}, Results: []ValueType{ValueTypeF32}}
	require.NotEqual(t, a.Encode(), c.Encode())

	d := &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI64}, Results: []ValueType{ValueTypeF64}}
	require.NotEqual(t, a.Encode(), d.Encode())
}

func TestFunctionTypeEncodeEmptySignatures(t *testing.T) {
	nullary := &FunctionType{}
	oneResult := &FunctionType{Results: []ValueType{ValueTypeI32}}
	require.NotEqual(t, nullary.Encode(), oneResult.Encode())
}

func TestFunctionTypeString(t *testing.T) {
	ft := &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeF64}, Results: []ValueType{ValueTypeI64}}
	require.Equal(t, "(i32, f64) -> (i64)", ft.String())
}

func TestValueTypeName(t *testing.T) {
	require.Equal(t, "i32", ValueTypeName(ValueTypeI32))
	require.Equal(t, "funcref", ValueTypeName(ValueTypeFuncref))
	require.Equal(t, "unknown", ValueTypeName(0x00))
}

func TestExternTypeName(t *testing.T) {
	require.Equal(t, "func", ExternTypeName(ExternTypeFunc))
	require.Equal(t, "exception", ExternTypeName(ExternTypeException))
}
