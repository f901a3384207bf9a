package construct

import (
	"context"

	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/value"
)

// Scoped keys deposited into signer state by response plumbing and signing
// commands.
const (
	SignedTransactionBytes = "signed_transaction_bytes"
	SignedMessageBytes     = "signed_message_bytes"
	SignatureApproved      = "signature_approved"
	SignatureSkippable     = "signature_skippable"
	AutoincrementableNonce = "autoincrementable_nonce"
)

// SignerState is the per-signer scratchpad. Beyond signer-level values
// (public key, nonce), it carries a scoped map keyed by consumer construct
// DID so multiple actions can deposit signing material against one signer
// without collision.
type SignerState struct {
	Did   did.ConstructDid
	Name  string
	store *value.ValueStore
	// scoped maps consumer did -> ordered key/value object
	scoped *value.ObjectMap
}

func NewSignerState(signerDid did.ConstructDid, name string) *SignerState {
	return &SignerState{
		Did:    signerDid,
		Name:   name,
		store:  value.NewValueStore(name, signerDid.String()),
		scoped: value.NewObjectMap(),
	}
}

func (s *SignerState) InsertValue(key string, v *value.Value) {
	s.store.Insert(key, v)
}

func (s *SignerState) GetValue(key string) (*value.Value, bool) {
	return s.store.Get(key)
}

func (s *SignerState) InsertScopedValue(consumer string, key string, v *value.Value) {
	scope, ok := s.scoped.Get(consumer)
	if !ok {
		scope = value.EmptyObject()
		s.scoped.Set(consumer, scope)
	}
	obj, _ := scope.AsObject()
	obj.Set(key, v)
}

func (s *SignerState) GetScopedValue(consumer string, key string) (*value.Value, bool) {
	scope, ok := s.scoped.Get(consumer)
	if !ok {
		return nil, false
	}
	obj, _ := scope.AsObject()
	return obj.Get(key)
}

func (s *SignerState) GetScopedBool(consumer string, key string) bool {
	v, ok := s.GetScopedValue(consumer, key)
	if !ok {
		return false
	}
	b, _ := v.AsBool()
	return b
}

// ClearAutoincrementableNonce resets per-pass nonce tracking so consecutive
// transactions within the next pass renumber from the chain state.
func (s *SignerState) ClearAutoincrementableNonce() {
	s.store.Delete(AutoincrementableNonce)
	s.scoped.Range(func(_ string, scope *value.Value) bool {
		if obj, ok := scope.AsObject(); ok {
			obj.Delete(AutoincrementableNonce)
		}
		return true
	})
}

// SignersState is the ordered collection of signer states, threaded through
// signer operations with move semantics: an op pops the state it needs and
// must push it back before returning.
type SignersState struct {
	order  []did.ConstructDid
	states map[did.ConstructDid]*SignerState
}

func NewSignersState() *SignersState {
	return &SignersState{states: make(map[did.ConstructDid]*SignerState)}
}

// CreateSignerState registers an empty state for the signer if absent.
func (s *SignersState) CreateSignerState(signerDid did.ConstructDid, name string) {
	if _, ok := s.states[signerDid]; ok {
		return
	}
	s.order = append(s.order, signerDid)
	s.states[signerDid] = NewSignerState(signerDid, name)
}

// PopSignerState removes and returns the signer's state.
func (s *SignersState) PopSignerState(signerDid did.ConstructDid) *SignerState {
	state, ok := s.states[signerDid]
	if !ok {
		return nil
	}
	delete(s.states, signerDid)
	for i, d := range s.order {
		if d == signerDid {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return state
}

// PushSignerState returns a popped state to the collection.
func (s *SignersState) PushSignerState(state *SignerState) {
	if _, ok := s.states[state.Did]; !ok {
		s.order = append(s.order, state.Did)
	}
	s.states[state.Did] = state
}

// GetSignerState reads without moving; mutation through the returned state
// is visible to the collection.
func (s *SignersState) GetSignerState(signerDid did.ConstructDid) *SignerState {
	return s.states[signerDid]
}

// Range visits states in registration order.
func (s *SignersState) Range(fn func(signerDid did.ConstructDid, state *SignerState) bool) {
	for _, d := range s.order {
		if !fn(d, s.states[d]) {
			return
		}
	}
}

// ClearAutoincrementableNonces resets nonce tracking on every signer before
// a command pass.
func (s *SignersState) ClearAutoincrementableNonces() {
	s.Range(func(_ did.ConstructDid, state *SignerState) bool {
		state.ClearAutoincrementableNonce()
		return true
	})
}

// SignerRunner is the signer capability v-table, mirroring the command
// two-phase shape plus the signability sub-operations signing commands use.
type SignerRunner struct {
	CheckActivability func(
		constructDid did.ConstructDid,
		instanceName string,
		spec *SignerSpecification,
		values *value.ValueStore,
		signersState *SignersState,
		signersInstances map[did.ConstructDid]*SignerInstance,
		requests []*frontend.ActionItemRequest,
		responses []frontend.ActionItemResponse,
		supervision *SupervisionContext,
		isBalanceCheckRequired bool,
		instantiated bool,
	) (*SignersState, *frontend.Actions, *diag.Diagnostic)

	PerformActivation func(
		ctx context.Context,
		constructDid did.ConstructDid,
		spec *SignerSpecification,
		values *value.ValueStore,
		signersState *SignersState,
		signersInstances map[did.ConstructDid]*SignerInstance,
		progressTx chan<- frontend.BlockEvent,
	) (*SignersState, *CommandExecutionResult, *diag.Diagnostic)

	CheckSignability func(
		callerDid did.ConstructDid,
		title string,
		description string,
		payload *value.Value,
		spec *SignerSpecification,
		values *value.ValueStore,
		signerState *SignerState,
		signersInstances map[did.ConstructDid]*SignerInstance,
		supervision *SupervisionContext,
	) (*SignerState, *frontend.Actions, *diag.Diagnostic)

	Sign func(
		callerDid did.ConstructDid,
		title string,
		payload *value.Value,
		spec *SignerSpecification,
		values *value.ValueStore,
		signerState *SignerState,
	) (*SignerState, *CommandExecutionResult, *diag.Diagnostic)
}

// SignerSpecification is the static shape of a signer kind.
type SignerSpecification struct {
	Name          string
	Matcher       string
	Documentation string
	// RequiresInteraction marks signers whose activation goes through the
	// user (wallet connection); replayed runs seed their state from the
	// snapshot instead of re-activating.
	RequiresInteraction bool
	Inputs              []CommandInput
	Outputs             []CommandOutput
	Runner              SignerRunner
}

// SignerInstance is one signer block of a runbook.
type SignerInstance struct {
	Specification *SignerSpecification
	Name          string
	Block         *hclsyntax.Block
	PackageDid    did.PackageDid
	Namespace     string
}

func (s *SignerInstance) GetExpressionFromInput(name string) hclsyntax.Expression {
	if s.Block == nil {
		return nil
	}
	attr, ok := s.Block.Body.Attributes[name]
	if !ok {
		return nil
	}
	return attr.Expr
}

func (s *SignerInstance) InputExpressions() []hclsyntax.Expression {
	if s.Block == nil {
		return nil
	}
	return bodyExpressions(s.Block.Body)
}

func (s *SignerInstance) SourceRange() *diag.Range {
	if s.Block == nil {
		return nil
	}
	r := s.Block.DefRange()
	return &diag.Range{
		Filename: r.Filename,
		Start:    diag.Pos{Line: r.Start.Line, Column: r.Start.Column, Byte: r.Start.Byte},
		End:      diag.Pos{Line: r.End.Line, Column: r.End.Column, Byte: r.End.Byte},
	}
}
