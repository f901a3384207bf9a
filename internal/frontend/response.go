package frontend

import (
	"encoding/json"
	"fmt"

	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/value"
)

// ActionItemResponse carries one user answer back to the engine, addressed
// by the BlockId of the originating request.
type ActionItemResponse struct {
	ActionItemID BlockId         `json:"action_item_id"`
	Payload      ResponsePayload `json:"payload"`
}

// ResponsePayload is the closed set of response bodies.
type ResponsePayload interface {
	ResponseName() string
}

type ReviewInputResponse struct {
	InputName string `json:"input_name"`
	Approved  bool   `json:"value_checked"`
	// ForceExecution requests execution even in supervised mode.
	ForceExecution bool `json:"force_execution"`
}

func (r *ReviewInputResponse) ResponseName() string { return "review_input" }

type ProvideInputResponse struct {
	InputName    string       `json:"input_name"`
	UpdatedValue *value.Value `json:"updated_value"`
}

func (r *ProvideInputResponse) ResponseName() string { return "provide_input" }

type PickInputOptionResponse struct {
	InputName string `json:"input_name"`
	Selected  string `json:"selected"`
}

func (r *PickInputOptionResponse) ResponseName() string { return "pick_input_option" }

type ProvidePublicKeyResponse struct {
	SignerUuid did.ConstructDid `json:"signer_uuid"`
	PublicKey  string           `json:"public_key"`
}

func (r *ProvidePublicKeyResponse) ResponseName() string { return "provide_public_key" }

type ProvideSignedTransactionResponse struct {
	SignerUuid did.ConstructDid `json:"signer_uuid"`
	// SignedTransactionBytes is nil when the wallet only approved or the
	// user skipped a skippable request.
	SignedTransactionBytes *string `json:"signed_transaction_bytes,omitempty"`
	SignatureApproved      *bool   `json:"signature_approved,omitempty"`
}

func (r *ProvideSignedTransactionResponse) ResponseName() string { return "provide_signed_transaction" }

type ProvideSignedMessageResponse struct {
	SignerUuid         did.ConstructDid `json:"signer_uuid"`
	SignedMessageBytes string           `json:"signed_message_bytes"`
}

func (r *ProvideSignedMessageResponse) ResponseName() string { return "provide_signed_message" }

type SendTransactionResponse struct {
	SignerUuid      did.ConstructDid `json:"signer_uuid"`
	TransactionHash string           `json:"transaction_hash"`
}

func (r *SendTransactionResponse) ResponseName() string { return "send_transaction" }

type ValidateBlockResponse struct{}

func (r *ValidateBlockResponse) ResponseName() string { return "validate_block" }

type ValidateModalResponse struct{}

func (r *ValidateModalResponse) ResponseName() string { return "validate_modal" }

type responseEnvelope struct {
	ActionItemID BlockId         `json:"action_item_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
}

func (r ActionItemResponse) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(responseEnvelope{
		ActionItemID: r.ActionItemID,
		Type:         r.Payload.ResponseName(),
		Payload:      payload,
	})
}

func (r *ActionItemResponse) UnmarshalJSON(data []byte) error {
	var env responseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var payload ResponsePayload
	switch env.Type {
	case "review_input":
		payload = &ReviewInputResponse{}
	case "provide_input":
		payload = &ProvideInputResponse{}
	case "pick_input_option":
		payload = &PickInputOptionResponse{}
	case "provide_public_key":
		payload = &ProvidePublicKeyResponse{}
	case "provide_signed_transaction":
		payload = &ProvideSignedTransactionResponse{}
	case "provide_signed_message":
		payload = &ProvideSignedMessageResponse{}
	case "send_transaction":
		payload = &SendTransactionResponse{}
	case "validate_block":
		payload = &ValidateBlockResponse{}
	case "validate_modal":
		payload = &ValidateModalResponse{}
	default:
		return fmt.Errorf("unknown action item response type %q", env.Type)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return err
		}
	}
	r.ActionItemID = env.ActionItemID
	r.Payload = payload
	return nil
}
