// Package frontend defines the action-item protocol: the requests the engine
// surfaces to a supervising user, the responses it ingests, and the block
// events carrying both across the serialization boundary.
package frontend

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/value"
)

// BlockId identifies an action item or panel: a hex digest deterministic
// across process restarts.
type BlockId string

func NewBlockId(data []byte) BlockId {
	sum := sha256.Sum256(data)
	return BlockId(hex.EncodeToString(sum[:]))
}

func (b BlockId) String() string { return string(b) }

// StatusKind enumerates action item statuses.
type StatusKind string

const (
	StatusBlocked    StatusKind = "blocked"
	StatusTodo       StatusKind = "todo"
	StatusSuccess    StatusKind = "success"
	StatusInProgress StatusKind = "in_progress"
	StatusError      StatusKind = "error"
	StatusWarning    StatusKind = "warning"
)

type ActionItemStatus struct {
	Kind       StatusKind       `json:"status"`
	Message    string           `json:"message,omitempty"`
	Diagnostic *diag.Diagnostic `json:"diagnostic,omitempty"`
}

func StatusTodoV() ActionItemStatus    { return ActionItemStatus{Kind: StatusTodo} }
func StatusBlockedV() ActionItemStatus { return ActionItemStatus{Kind: StatusBlocked} }

func StatusSuccessMsg(msg string) ActionItemStatus {
	return ActionItemStatus{Kind: StatusSuccess, Message: msg}
}

func StatusErrorDiag(d *diag.Diagnostic) ActionItemStatus {
	return ActionItemStatus{Kind: StatusError, Diagnostic: d}
}

func (s ActionItemStatus) Equal(other ActionItemStatus) bool {
	return s.Kind == other.Kind && s.Message == other.Message && s.Diagnostic.Equal(other.Diagnostic)
}

// ActionItemRequestType is the closed set of request payloads. BlockIDString
// serializes only the immutable tuple of the type; DiffMutable compares the
// mutable subset against an existing request of the same type.
type ActionItemRequestType interface {
	TypeName() string
	BlockIDString() string
	DiffMutable(existing ActionItemRequestType) (ActionItemRequestType, bool)
}

// ReviewInputRequest asks the user to acknowledge an already-evaluated
// input. Only the value is mutable.
type ReviewInputRequest struct {
	InputName      string       `json:"input_name"`
	Value          *value.Value `json:"value"`
	ForceExecution bool         `json:"force_execution"`
}

func (r *ReviewInputRequest) TypeName() string { return "review_input" }

func (r *ReviewInputRequest) BlockIDString() string {
	return fmt.Sprintf("ReviewInput(%s-%t)", r.InputName, r.ForceExecution)
}

func (r *ReviewInputRequest) DiffMutable(existing ActionItemRequestType) (ActionItemRequestType, bool) {
	prev, ok := existing.(*ReviewInputRequest)
	if !ok {
		return nil, false
	}
	if r.Value.Equal(prev.Value) {
		return nil, false
	}
	return r, true
}

// ProvideInputRequest asks the user to supply a missing input value.
type ProvideInputRequest struct {
	InputName    string       `json:"input_name"`
	DefaultValue *value.Value `json:"default_value,omitempty"`
	Typing       value.Type   `json:"typing"`
}

func (r *ProvideInputRequest) TypeName() string { return "provide_input" }

func (r *ProvideInputRequest) BlockIDString() string {
	return fmt.Sprintf("ProvideInput(%s-%s)", r.InputName, r.Typing.String())
}

func (r *ProvideInputRequest) DiffMutable(existing ActionItemRequestType) (ActionItemRequestType, bool) {
	prev, ok := existing.(*ProvideInputRequest)
	if !ok {
		return nil, false
	}
	if r.DefaultValue.Equal(prev.DefaultValue) {
		return nil, false
	}
	return r, true
}

type InputOption struct {
	Value       string `json:"value"`
	DisplayName string `json:"display_name"`
}

// PickInputOptionRequest asks the user to choose among fixed options.
type PickInputOptionRequest struct {
	Options  []InputOption `json:"options"`
	Selected string        `json:"selected,omitempty"`
}

func (r *PickInputOptionRequest) TypeName() string { return "pick_input_option" }

func (r *PickInputOptionRequest) BlockIDString() string { return "PickInputOption" }

func (r *PickInputOptionRequest) DiffMutable(existing ActionItemRequestType) (ActionItemRequestType, bool) {
	if _, ok := existing.(*PickInputOptionRequest); !ok {
		return nil, false
	}
	return r, true
}

// ProvidePublicKeyRequest asks a signer's wallet for its public key. Only
// the message is mutable.
type ProvidePublicKeyRequest struct {
	CheckExpectationActionUuid uuid.UUID `json:"check_expectation_action_uuid"`
	Message                    string    `json:"message,omitempty"`
	Namespace                  string    `json:"namespace"`
	NetworkID                  string    `json:"network_id"`
}

func (r *ProvidePublicKeyRequest) TypeName() string { return "provide_public_key" }

func (r *ProvidePublicKeyRequest) BlockIDString() string {
	return fmt.Sprintf("ProvidePublicKey(%s-%s-%s)", r.CheckExpectationActionUuid, r.Namespace, r.NetworkID)
}

func (r *ProvidePublicKeyRequest) DiffMutable(existing ActionItemRequestType) (ActionItemRequestType, bool) {
	prev, ok := existing.(*ProvidePublicKeyRequest)
	if !ok {
		return nil, false
	}
	if r.Message == prev.Message {
		return nil, false
	}
	return r, true
}

// ProvideSignedTransactionRequest asks the signer's wallet to sign a
// payload. Payload and skippable are the mutable subset; changing the
// signer is a logic error and never diffs.
type ProvideSignedTransactionRequest struct {
	CheckExpectationActionUuid uuid.UUID        `json:"check_expectation_action_uuid"`
	SignerUuid                 did.ConstructDid `json:"signer_uuid"`
	Payload                    *value.Value     `json:"payload"`
	FormattedPayload           string           `json:"formatted_payload,omitempty"`
	Skippable                  bool             `json:"skippable"`
	OnlyApprovalNeeded         bool             `json:"only_approval_needed"`
	Namespace                  string           `json:"namespace"`
	NetworkID                  string           `json:"network_id"`
}

func (r *ProvideSignedTransactionRequest) TypeName() string { return "provide_signed_transaction" }

func (r *ProvideSignedTransactionRequest) BlockIDString() string {
	return fmt.Sprintf("ProvideSignedTransaction(%s-%s-%s-%s)",
		r.CheckExpectationActionUuid, r.SignerUuid, r.Namespace, r.NetworkID)
}

func (r *ProvideSignedTransactionRequest) DiffMutable(existing ActionItemRequestType) (ActionItemRequestType, bool) {
	prev, ok := existing.(*ProvideSignedTransactionRequest)
	if !ok {
		return nil, false
	}
	if r.Payload.Equal(prev.Payload) && r.Skippable == prev.Skippable {
		return nil, false
	}
	return r, true
}

// SendTransactionRequest asks the wallet to sign and broadcast in one step.
type SendTransactionRequest struct {
	CheckExpectationActionUuid uuid.UUID        `json:"check_expectation_action_uuid"`
	SignerUuid                 did.ConstructDid `json:"signer_uuid"`
	Payload                    *value.Value     `json:"payload"`
	FormattedPayload           string           `json:"formatted_payload,omitempty"`
	Namespace                  string           `json:"namespace"`
	NetworkID                  string           `json:"network_id"`
}

func (r *SendTransactionRequest) TypeName() string { return "send_transaction" }

func (r *SendTransactionRequest) BlockIDString() string {
	return fmt.Sprintf("SendTransaction(%s-%s-%s-%s)",
		r.CheckExpectationActionUuid, r.SignerUuid, r.Namespace, r.NetworkID)
}

func (r *SendTransactionRequest) DiffMutable(existing ActionItemRequestType) (ActionItemRequestType, bool) {
	prev, ok := existing.(*SendTransactionRequest)
	if !ok {
		return nil, false
	}
	if r.Payload.Equal(prev.Payload) {
		return nil, false
	}
	return r, true
}

// ProvideSignedMessageRequest asks the wallet to sign an arbitrary message.
type ProvideSignedMessageRequest struct {
	CheckExpectationActionUuid uuid.UUID        `json:"check_expectation_action_uuid"`
	SignerUuid                 did.ConstructDid `json:"signer_uuid"`
	Message                    string           `json:"message"`
	Namespace                  string           `json:"namespace"`
	NetworkID                  string           `json:"network_id"`
}

func (r *ProvideSignedMessageRequest) TypeName() string { return "provide_signed_message" }

func (r *ProvideSignedMessageRequest) BlockIDString() string {
	return fmt.Sprintf("ProvideSignedMessage(%s-%s-%s-%s)",
		r.CheckExpectationActionUuid, r.SignerUuid, r.Namespace, r.NetworkID)
}

func (r *ProvideSignedMessageRequest) DiffMutable(existing ActionItemRequestType) (ActionItemRequestType, bool) {
	prev, ok := existing.(*ProvideSignedMessageRequest)
	if !ok {
		return nil, false
	}
	if r.Message == prev.Message {
		return nil, false
	}
	return r, true
}

// DisplayOutputRequest surfaces an output value; it never diffs.
type DisplayOutputRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Value       *value.Value `json:"value"`
}

func (r *DisplayOutputRequest) TypeName() string { return "display_output" }

func (r *DisplayOutputRequest) BlockIDString() string {
	return fmt.Sprintf("DisplayOutput(%s-%s-%s)", r.Name, r.Description, r.Value.String())
}

func (r *DisplayOutputRequest) DiffMutable(ActionItemRequestType) (ActionItemRequestType, bool) {
	return nil, false
}

// DisplayErrorLogRequest surfaces a diagnostic; it never diffs.
type DisplayErrorLogRequest struct {
	Diagnostic *diag.Diagnostic `json:"diagnostic"`
}

func (r *DisplayErrorLogRequest) TypeName() string { return "display_error_log" }

func (r *DisplayErrorLogRequest) BlockIDString() string {
	return fmt.Sprintf("DisplayErrorLog(%s)", r.Diagnostic.Message)
}

func (r *DisplayErrorLogRequest) DiffMutable(ActionItemRequestType) (ActionItemRequestType, bool) {
	return nil, false
}

// OpenModalData routes the user into a modal panel.
type OpenModalData struct {
	ModalUuid uuid.UUID `json:"modal_uuid"`
	Title     string    `json:"title"`
}

func (r *OpenModalData) TypeName() string { return "open_modal" }

func (r *OpenModalData) BlockIDString() string {
	return fmt.Sprintf("OpenModal(%s-%s)", r.ModalUuid, r.Title)
}

func (r *OpenModalData) DiffMutable(ActionItemRequestType) (ActionItemRequestType, bool) {
	return nil, false
}

// ValidateBlockData is the confirmation item appended to each panel.
type ValidateBlockData struct {
	InternalIdx int `json:"internal_idx"`
}

func (r *ValidateBlockData) TypeName() string { return "validate_block" }

func (r *ValidateBlockData) BlockIDString() string {
	return fmt.Sprintf("ValidateBlock(%d)", r.InternalIdx)
}

func (r *ValidateBlockData) DiffMutable(ActionItemRequestType) (ActionItemRequestType, bool) {
	return nil, false
}

// ValidateModalData closes the current modal.
type ValidateModalData struct{}

func (r *ValidateModalData) TypeName() string { return "validate_modal" }

func (r *ValidateModalData) BlockIDString() string { return "ValidateModal" }

func (r *ValidateModalData) DiffMutable(ActionItemRequestType) (ActionItemRequestType, bool) {
	return nil, false
}

// ActionItemRequest is one supervised step surfaced to the user.
type ActionItemRequest struct {
	ID           BlockId               `json:"id"`
	ConstructDid did.ConstructDid      `json:"construct_did,omitempty"`
	Index        int                   `json:"index"`
	Title        string                `json:"title"`
	Description  string                `json:"description,omitempty"`
	ActionStatus ActionItemStatus      `json:"action_status"`
	ActionType   ActionItemRequestType `json:"-"`
	InternalKey  string                `json:"internal_key"`
}

// NewActionItemRequest derives the request identity from the immutable
// tuple: title, description, internal key, construct did and the type's
// immutable properties. Mutating a payload later therefore updates the same
// BlockId instead of minting a new item.
func NewActionItemRequest(constructDid did.ConstructDid, title, description string, status ActionItemStatus, actionType ActionItemRequestType, internalKey string) *ActionItemRequest {
	data := fmt.Sprintf("%s-%s-%s-%s-%s", title, description, internalKey, constructDid, actionType.BlockIDString())
	return &ActionItemRequest{
		ID:           NewBlockId([]byte(data)),
		ConstructDid: constructDid,
		Title:        title,
		Description:  description,
		ActionStatus: status,
		ActionType:   actionType,
		InternalKey:  internalKey,
	}
}

// MarshalJSON flattens the action type with a tag so the wire shape is
// {"action_type": {"type": ..., ...payload}}.
func (r *ActionItemRequest) MarshalJSON() ([]byte, error) {
	type alias ActionItemRequest
	payload, err := json.Marshal(r.ActionType)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		// non-object payloads (ValidateModal) serialize as bare type tags
		fields = map[string]json.RawMessage{}
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", r.ActionType.TypeName()))
	tagged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	base, err := json.Marshal((*alias)(r))
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(base, &out); err != nil {
		return nil, err
	}
	out["action_type"] = tagged
	return json.Marshal(out)
}
