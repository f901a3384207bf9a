package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/value"
)

func signedTxRequest(payload *value.Value, skippable bool) *ActionItemRequest {
	return NewActionItemRequest(
		did.ConstructDid("construct-1"),
		"Sign transaction",
		"",
		StatusTodoV(),
		&ProvideSignedTransactionRequest{
			SignerUuid: did.ConstructDid("signer-1"),
			Payload:    payload,
			Skippable:  skippable,
			Namespace:  "evm",
			NetworkID:  "sepolia",
		},
		"provide_signed_transaction",
	)
}

func TestBlockId_StableAcrossConstruction(t *testing.T) {
	a := signedTxRequest(value.String("payload"), false)
	b := signedTxRequest(value.String("payload"), false)
	assert.Equal(t, a.ID, b.ID)
}

func TestBlockId_IgnoresMutableProperties(t *testing.T) {
	// payload and skippable are mutable: changing them must produce an
	// update for the same BlockId, not a new item
	a := signedTxRequest(value.String("payload-1"), false)
	b := signedTxRequest(value.String("payload-2"), true)
	assert.Equal(t, a.ID, b.ID)
}

func TestBlockId_ChangesWithSigner(t *testing.T) {
	a := signedTxRequest(value.String("p"), false)
	b := NewActionItemRequest(
		did.ConstructDid("construct-1"),
		"Sign transaction",
		"",
		StatusTodoV(),
		&ProvideSignedTransactionRequest{
			SignerUuid: did.ConstructDid("signer-2"),
			Payload:    value.String("p"),
			Namespace:  "evm",
			NetworkID:  "sepolia",
		},
		"provide_signed_transaction",
	)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestUpdateFromDiff_NoChangeYieldsNil(t *testing.T) {
	existing := signedTxRequest(value.String("p"), false)
	fresh := signedTxRequest(value.String("p"), false)
	assert.Nil(t, UpdateFromDiff(fresh, existing))
}

func TestUpdateFromDiff_PayloadChangeYieldsUpdate(t *testing.T) {
	existing := signedTxRequest(value.String("p1"), false)
	fresh := signedTxRequest(value.String("p2"), false)

	update := UpdateFromDiff(fresh, existing)
	require.NotNil(t, update)
	assert.Equal(t, existing.ID, update.ID)
	require.NotNil(t, update.ActionType)
	updated, ok := update.ActionType.(*ProvideSignedTransactionRequest)
	require.True(t, ok)
	payload, _ := updated.Payload.AsString()
	assert.Equal(t, "p2", payload)
}

func TestUpdateFromDiff_StatusChangeYieldsUpdate(t *testing.T) {
	existing := signedTxRequest(value.String("p"), false)
	fresh := signedTxRequest(value.String("p"), false)
	fresh.ActionStatus = StatusSuccessMsg("signed")

	update := UpdateFromDiff(fresh, existing)
	require.NotNil(t, update)
	require.NotNil(t, update.ActionStatus)
	assert.Equal(t, StatusSuccess, update.ActionStatus.Kind)
	assert.Nil(t, update.ActionType)
}

func TestReviewInput_OnlyValueIsMutable(t *testing.T) {
	existing := &ReviewInputRequest{InputName: "amount", Value: value.Integer(1)}
	same := &ReviewInputRequest{InputName: "amount", Value: value.Integer(1)}
	changed := &ReviewInputRequest{InputName: "amount", Value: value.Integer(2)}

	_, diff := same.DiffMutable(existing)
	assert.False(t, diff)
	_, diff = changed.DiffMutable(existing)
	assert.True(t, diff)
}

func TestResponse_JSONRoundTrip(t *testing.T) {
	bytes := "0xdeadbeef"
	original := ActionItemResponse{
		ActionItemID: BlockId("abc123"),
		Payload: &ProvideSignedTransactionResponse{
			SignerUuid:             did.ConstructDid("signer-1"),
			SignedTransactionBytes: &bytes,
		},
	}
	encoded, err := original.MarshalJSON()
	require.NoError(t, err)

	var decoded ActionItemResponse
	require.NoError(t, decoded.UnmarshalJSON(encoded))
	assert.Equal(t, original.ActionItemID, decoded.ActionItemID)
	payload, ok := decoded.Payload.(*ProvideSignedTransactionResponse)
	require.True(t, ok)
	require.NotNil(t, payload.SignedTransactionBytes)
	assert.Equal(t, bytes, *payload.SignedTransactionBytes)
}
