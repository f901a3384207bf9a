package evm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/value"
)

func TestAddressFn(t *testing.T) {
	a := New(nil, "devnet", 1)
	var addressFn addon.FunctionSpecification
	for _, fn := range a.Functions() {
		if fn.Name == "address" {
			addressFn = fn
		}
	}
	require.NotNil(t, addressFn.Run)

	out, d := addressFn.Run([]*value.Value{
		value.String("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8456"),
	}, nil)
	require.Nil(t, d)
	id, payload, ok := out.AsAddon()
	require.True(t, ok)
	assert.Equal(t, TypeAddress, id)
	assert.Len(t, payload, 20)

	_, d = addressFn.Run([]*value.Value{value.String("not-an-address")}, nil)
	require.NotNil(t, d)
}

func TestAddressString_AcceptsBothForms(t *testing.T) {
	hex := "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8456"

	fromString, ok := addressString(value.String(hex))
	require.True(t, ok)

	a := New(nil, "devnet", 1)
	var addressFn addon.FunctionSpecification
	for _, fn := range a.Functions() {
		if fn.Name == "address" {
			addressFn = fn
		}
	}
	typed, d := addressFn.Run([]*value.Value{value.String(hex)}, nil)
	require.Nil(t, d)
	fromAddon, ok := addressString(typed)
	require.True(t, ok)

	assert.Equal(t, fromString, fromAddon)

	_, ok = addressString(value.Integer(5))
	assert.False(t, ok)
}

func TestTransactionFromPayload(t *testing.T) {
	payload := value.NewObjectMap()
	payload.Set("to", value.String("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8456"))
	payload.Set("value", value.Integer(1000))
	payload.Set("nonce", value.Integer(7))
	payload.Set("gas_limit", value.Integer(21000))
	payload.Set("gas_price", value.Integer(1000000000))
	payload.Set("chain_id", value.Integer(11155111))

	tx, chainID, d := transactionFromPayload(value.Object(payload))
	require.Nil(t, d)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, int64(1000), tx.Value().Int64())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, int64(11155111), chainID.Int64())

	_, _, d = transactionFromPayload(value.String("not-an-object"))
	require.NotNil(t, d)
}

func TestChainIDFn(t *testing.T) {
	a := New(nil, "devnet", 1)
	var chainFn addon.FunctionSpecification
	for _, fn := range a.Functions() {
		if fn.Name == "chain_id" {
			chainFn = fn
		}
	}
	out, d := chainFn.Run([]*value.Value{value.String("mainnet")}, nil)
	require.Nil(t, d)
	i, _ := out.AsInt64()
	assert.Equal(t, int64(1), i)

	_, d = chainFn.Run([]*value.Value{value.String("unknown-net")}, nil)
	require.NotNil(t, d)
}
