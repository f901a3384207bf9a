package construct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/value"
)

func TestSignerState_ScopedValuesDoNotCollide(t *testing.T) {
	state := NewSignerState(did.ConstructDid("signer-1"), "alice")

	state.InsertScopedValue("consumer-a", SignedTransactionBytes, value.String("0xaaaa"))
	state.InsertScopedValue("consumer-b", SignedTransactionBytes, value.String("0xbbbb"))

	a, ok := state.GetScopedValue("consumer-a", SignedTransactionBytes)
	require.True(t, ok)
	s, _ := a.AsString()
	assert.Equal(t, "0xaaaa", s)

	b, ok := state.GetScopedValue("consumer-b", SignedTransactionBytes)
	require.True(t, ok)
	s, _ = b.AsString()
	assert.Equal(t, "0xbbbb", s)
}

func TestSignersState_PopAndPush(t *testing.T) {
	signers := NewSignersState()
	signers.CreateSignerState("signer-1", "alice")
	signers.CreateSignerState("signer-2", "bob")

	state := signers.PopSignerState("signer-1")
	require.NotNil(t, state)
	assert.Nil(t, signers.GetSignerState("signer-1"))
	assert.NotNil(t, signers.GetSignerState("signer-2"))

	state.InsertValue("address", value.String("0xabc"))
	signers.PushSignerState(state)

	restored := signers.GetSignerState("signer-1")
	require.NotNil(t, restored)
	addr, ok := restored.GetValue("address")
	require.True(t, ok)
	s, _ := addr.AsString()
	assert.Equal(t, "0xabc", s)
}

func TestSignersState_RangePreservesRegistrationOrder(t *testing.T) {
	signers := NewSignersState()
	signers.CreateSignerState("s1", "a")
	signers.CreateSignerState("s2", "b")
	signers.CreateSignerState("s3", "c")

	var seen []string
	signers.Range(func(d did.ConstructDid, _ *SignerState) bool {
		seen = append(seen, d.String())
		return true
	})
	assert.Equal(t, []string{"s1", "s2", "s3"}, seen)
}

func TestClearAutoincrementableNonces(t *testing.T) {
	signers := NewSignersState()
	signers.CreateSignerState("s1", "a")
	state := signers.GetSignerState("s1")
	state.InsertValue(AutoincrementableNonce, value.Integer(7))
	state.InsertScopedValue("consumer", AutoincrementableNonce, value.Integer(3))
	state.InsertValue("address", value.String("0xabc"))

	signers.ClearAutoincrementableNonces()

	_, ok := state.GetValue(AutoincrementableNonce)
	assert.False(t, ok)
	_, ok = state.GetScopedValue("consumer", AutoincrementableNonce)
	assert.False(t, ok)
	_, ok = state.GetValue("address")
	assert.True(t, ok, "unrelated values survive the nonce reset")
}

func TestInputsEvaluationResult_InsertClearsUnevaluated(t *testing.T) {
	spec := &CommandSpecification{
		Inputs: []CommandInput{
			{Name: "amount", Typing: value.IntegerType()},
			{Name: "memo", Typing: value.StringType(), Optional: true},
		},
	}
	result := NewCommandInputsEvaluationResult("send", nil, spec)
	assert.True(t, result.IsUnevaluated("amount"))
	assert.True(t, result.IsUnevaluated("memo"))

	result.Insert("amount", value.Integer(10))
	assert.False(t, result.IsUnevaluated("amount"))
	assert.True(t, result.IsUnevaluated("memo"))
}

func TestExecutionResult_AppendPreservesOrder(t *testing.T) {
	a := NewCommandExecutionResult()
	a.Outputs.Set("tx_hash", value.String("0x1"))

	b := NewCommandExecutionResult()
	b.Outputs.Set("confirmed", value.Bool(true))
	b.Outputs.Set("block", value.Integer(100))

	a.Append(b)
	assert.Equal(t, []string{"tx_hash", "confirmed", "block"}, a.Outputs.Keys())
}
