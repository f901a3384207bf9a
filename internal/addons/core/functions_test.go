package core

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/value"
)

func callFn(t *testing.T, name string, args ...*value.Value) (*value.Value, error) {
	t.Helper()
	for _, fn := range New().Functions() {
		if fn.Name == name {
			out, d := fn.Run(args, &addon.AuthorizationContext{})
			if d != nil {
				return nil, d
			}
			return out, nil
		}
	}
	t.Fatalf("function %q not registered", name)
	return nil, nil
}

func TestAdd_Integers(t *testing.T) {
	out, err := callFn(t, "add", value.Integer(2), value.Integer(3))
	require.NoError(t, err)
	i, _ := out.AsInt64()
	assert.Equal(t, int64(5), i)
}

func TestAdd_OverflowIsDiagnostic(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	_, err := callFn(t, "add", value.IntegerBig(max), value.Integer(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflow")
}

func TestMinus_UnderflowIsDiagnostic(t *testing.T) {
	min := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	_, err := callFn(t, "minus", value.IntegerBig(min), value.Integer(1))
	require.Error(t, err)
}

func TestDiv_ByZero(t *testing.T) {
	_, err := callFn(t, "div", value.Integer(10), value.Integer(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestDiv_IntegerQuotient(t *testing.T) {
	out, err := callFn(t, "div", value.Integer(7), value.Integer(2))
	require.NoError(t, err)
	i, _ := out.AsInt64()
	assert.Equal(t, int64(3), i)
}

func TestModulo(t *testing.T) {
	out, err := callFn(t, "modulo", value.Integer(7), value.Integer(3))
	require.NoError(t, err)
	i, _ := out.AsInt64()
	assert.Equal(t, int64(1), i)
}

func TestEq_Structural(t *testing.T) {
	obj1 := value.NewObjectMap()
	obj1.Set("a", value.Integer(1))
	obj2 := value.NewObjectMap()
	obj2.Set("a", value.Integer(1))

	out, err := callFn(t, "eq", value.Object(obj1), value.Object(obj2))
	require.NoError(t, err)
	b, _ := out.AsBool()
	assert.True(t, b)
}

func TestComparisons(t *testing.T) {
	cases := []struct {
		fn       string
		lhs, rhs int64
		expect   bool
	}{
		{"gt", 2, 1, true},
		{"gt", 1, 2, false},
		{"gte", 2, 2, true},
		{"lt", 1, 2, true},
		{"lte", 3, 2, false},
		{"neq", 1, 2, true},
	}
	for _, tc := range cases {
		out, err := callFn(t, tc.fn, value.Integer(tc.lhs), value.Integer(tc.rhs))
		require.NoError(t, err, tc.fn)
		b, _ := out.AsBool()
		assert.Equal(t, tc.expect, b, "%s(%d, %d)", tc.fn, tc.lhs, tc.rhs)
	}
}

func TestStringComparison(t *testing.T) {
	out, err := callFn(t, "lt", value.String("abc"), value.String("abd"))
	require.NoError(t, err)
	b, _ := out.AsBool()
	assert.True(t, b)
}

func TestBoolOperators(t *testing.T) {
	out, err := callFn(t, "and_bool", value.Bool(true), value.Bool(false))
	require.NoError(t, err)
	b, _ := out.AsBool()
	assert.False(t, b)

	out, err = callFn(t, "or_bool", value.Bool(true), value.Bool(false))
	require.NoError(t, err)
	b, _ = out.AsBool()
	assert.True(t, b)
}

func TestArityMismatch(t *testing.T) {
	_, err := callFn(t, "add", value.Integer(1))
	require.Error(t, err)
}
