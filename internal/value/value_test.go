package value

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectMap_PreservesInsertionOrder(t *testing.T) {
	m := NewObjectMap()
	m.Set("gamma", Integer(3))
	m.Set("alpha", Integer(1))
	m.Set("beta", Integer(2))

	assert.Equal(t, []string{"gamma", "alpha", "beta"}, m.Keys())
}

func TestObjectMap_ReplaceKeepsPosition(t *testing.T) {
	m := NewObjectMap()
	m.Set("a", Integer(1))
	m.Set("b", Integer(2))
	m.Set("a", Integer(10))

	assert.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	i, _ := v.AsInt64()
	assert.Equal(t, int64(10), i)
}

func TestValue_Equality(t *testing.T) {
	assert.True(t, Integer(42).Equal(Integer(42)))
	assert.False(t, Integer(42).Equal(Integer(43)))
	assert.False(t, Integer(42).Equal(String("42")))
	assert.True(t, Null().Equal(Null()))
	assert.True(t, Buffer([]byte{1, 2}).Equal(Buffer([]byte{1, 2})))
	assert.True(t, Addon("evm::address", []byte{0xaa}).Equal(Addon("evm::address", []byte{0xaa})))
	assert.False(t, Addon("evm::address", []byte{0xaa}).Equal(Addon("svm::pubkey", []byte{0xaa})))
}

func TestValue_ObjectEqualityIsOrderSensitive(t *testing.T) {
	a := NewObjectMap()
	a.Set("x", Integer(1))
	a.Set("y", Integer(2))

	b := NewObjectMap()
	b.Set("y", Integer(2))
	b.Set("x", Integer(1))

	assert.False(t, Object(a).Equal(Object(b)))
}

func TestValue_TypeEq(t *testing.T) {
	assert.True(t, Integer(1).TypeEq(Integer(2)))
	assert.False(t, Integer(1).TypeEq(String("a")))
	assert.True(t, Addon("evm::tx", nil).TypeEq(Addon("evm::tx", []byte{1})))
	assert.False(t, Addon("evm::tx", nil).TypeEq(Addon("evm::address", nil)))
}

func TestValue_JSONRoundTrip(t *testing.T) {
	obj := NewObjectMap()
	obj.Set("name", String("transfer"))
	obj.Set("amount", IntegerBig(new(big.Int).Lsh(big.NewInt(1), 100)))
	obj.Set("payload", Addon("evm::transaction", []byte{0x01, 0x02}))
	obj.Set("raw", Buffer([]byte{0xff}))
	obj.Set("steps", Array([]*Value{Integer(1), Bool(true), Null()}))

	original := Object(obj)
	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := FromJSON(encoded)
	require.NoError(t, err)
	assert.True(t, original.Equal(decoded), "decoded value differs: %s vs %s", original, decoded)
}

func TestValue_JSONRoundTripPreservesKeyOrder(t *testing.T) {
	obj := NewObjectMap()
	obj.Set("z", Integer(1))
	obj.Set("a", Integer(2))
	encoded, err := json.Marshal(Object(obj))
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2}`, string(encoded))

	decoded, err := FromJSON(encoded)
	require.NoError(t, err)
	out, _ := decoded.AsObject()
	assert.Equal(t, []string{"z", "a"}, out.Keys())
}

func TestValue_BigIntegerSurvivesJSON(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	encoded, err := json.Marshal(IntegerBig(max))
	require.NoError(t, err)
	assert.Equal(t, max.String(), string(encoded))

	decoded, err := FromJSON(encoded)
	require.NoError(t, err)
	i, ok := decoded.AsInteger()
	require.True(t, ok)
	assert.Zero(t, i.Cmp(max))
}

func TestType_Conforms(t *testing.T) {
	assert.True(t, IntegerType().Conforms(Integer(1)))
	assert.False(t, IntegerType().Conforms(String("1")))
	assert.True(t, AnyType().Conforms(Object(NewObjectMap())))
	assert.True(t, AddonType("evm::address").Conforms(Addon("evm::address", nil)))
	assert.False(t, AddonType("evm::address").Conforms(Addon("svm::pubkey", nil)))
	assert.True(t, TypedNull(StringType()).Conforms(Null()))
	assert.True(t, TypedNull(StringType()).Conforms(String("x")))
	assert.False(t, TypedNull(StringType()).Conforms(Integer(1)))
}

func TestType_ObjectConformance(t *testing.T) {
	typ := ObjectType([]ObjectProperty{
		{Name: "to", Typing: StringType()},
		{Name: "memo", Typing: StringType(), Optional: true},
	})

	ok := NewObjectMap()
	ok.Set("to", String("0xabc"))
	assert.True(t, typ.Conforms(Object(ok)))

	missing := NewObjectMap()
	missing.Set("memo", String("hi"))
	assert.False(t, typ.Conforms(Object(missing)))
}

func TestValueStore_DefaultsFallback(t *testing.T) {
	defaults := NewObjectMap()
	defaults.Set("gas_limit", Integer(21000))

	store := NewValueStore("send", "").WithDefaults(defaults)
	store.Insert("amount", Integer(1000))

	v, ok := store.Get("gas_limit")
	require.True(t, ok)
	i, _ := v.AsInt64()
	assert.Equal(t, int64(21000), i)

	store.Insert("gas_limit", Integer(50000))
	v, _ = store.Get("gas_limit")
	i, _ = v.AsInt64()
	assert.Equal(t, int64(50000), i)

	// primary map iteration excludes defaults
	assert.Equal(t, []string{"amount", "gas_limit"}, store.Inputs().Keys())
}
