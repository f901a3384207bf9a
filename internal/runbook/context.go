package runbook

import (
	"fmt"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/value"
)

// ExecutionMode controls snapshot behavior on replay.
type ExecutionMode int

const (
	// ModeFull executes every construct.
	ModeFull ExecutionMode = iota
	// ModePartial executes only the supplied set plus whatever the driver
	// reaches; executed constructs are appended to the set so the host can
	// merge snapshots afterwards.
	ModePartial
	// ModeIgnored skips snapshotting for this run.
	ModeIgnored
)

// RuntimeContext bundles what expression evaluation needs from the host:
// the addon registry and the authorization scope addon callbacks receive.
type RuntimeContext struct {
	Registry      *addon.Registry
	Authorization *addon.AuthorizationContext
	// NetworkID tags signer requests (e.g. "mainnet", "devnet").
	NetworkID string
}

func (r *RuntimeContext) ExecuteFunction(namespace, name string, args []*value.Value) (*value.Value, *diag.Diagnostic) {
	return r.Registry.ExecuteFunction(namespace, name, args, r.Authorization)
}

// ExecutionContext is the mutable state of one run. The driver owns it for
// the duration of a pass; between passes the host reads results out of it.
type ExecutionContext struct {
	CommandsInstances map[did.ConstructDid]*construct.CommandInstance
	SignersInstances  map[did.ConstructDid]*construct.SignerInstance

	CommandsInputsEvaluationResults map[did.ConstructDid]*construct.CommandInputsEvaluationResult
	CommandsExecutionResults        map[did.ConstructDid]*construct.CommandExecutionResult

	// signersState is nil only while a signer op holds it; the op must
	// restore it on every return path.
	signersState *construct.SignersState

	OrderForSignersInitialization []did.ConstructDid
	OrderForCommandsExecution     []did.ConstructDid

	// CommandsDependencies maps a construct to its direct dependents; taint
	// propagates through it transitively.
	CommandsDependencies map[did.ConstructDid][]did.ConstructDid
	// SignedCommandsUpstreamDependencies maps each signing command to its
	// upstream signer constructs.
	SignedCommandsUpstreamDependencies map[did.ConstructDid][]did.ConstructDid

	Mode ExecutionMode
	// PartialConstructs accumulates what a Partial run actually executed.
	PartialConstructs []did.ConstructDid
}

func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		CommandsInstances:                  make(map[did.ConstructDid]*construct.CommandInstance),
		SignersInstances:                   make(map[did.ConstructDid]*construct.SignerInstance),
		CommandsInputsEvaluationResults:    make(map[did.ConstructDid]*construct.CommandInputsEvaluationResult),
		CommandsExecutionResults:           make(map[did.ConstructDid]*construct.CommandExecutionResult),
		signersState:                       construct.NewSignersState(),
		CommandsDependencies:               make(map[did.ConstructDid][]did.ConstructDid),
		SignedCommandsUpstreamDependencies: make(map[did.ConstructDid][]did.ConstructDid),
	}
}

// TakeSignersState hands exclusive ownership to a signer op. A second take
// before restore is a sequencing bug, not a recoverable condition.
func (c *ExecutionContext) TakeSignersState() *construct.SignersState {
	if c.signersState == nil {
		panic("signers state already taken; a signer op failed to restore it")
	}
	state := c.signersState
	c.signersState = nil
	return state
}

// RestoreSignersState returns ownership to the context.
func (c *ExecutionContext) RestoreSignersState(state *construct.SignersState) {
	if state == nil {
		panic("restoring nil signers state")
	}
	c.signersState = state
}

// SignersStateHeld reports whether the context currently owns the state.
func (c *ExecutionContext) SignersStateHeld() bool {
	return c.signersState != nil
}

// SignersState reads the state without taking ownership; callers must not
// hold the pointer across a signer op.
func (c *ExecutionContext) SignersState() *construct.SignersState {
	return c.signersState
}

// IsSignerInstantiated reports whether the signer already activated in this
// session or was promoted from a prior snapshot.
func (c *ExecutionContext) IsSignerInstantiated(signerDid did.ConstructDid) bool {
	_, ok := c.CommandsExecutionResults[signerDid]
	return ok
}

// TaintDescendants marks every direct dependent unexecutable; the driver's
// per-iteration propagation makes the closure transitive.
func (c *ExecutionContext) TaintDescendants(constructDid did.ConstructDid, tainted map[did.ConstructDid]bool) {
	for _, dep := range c.CommandsDependencies[constructDid] {
		tainted[dep] = true
	}
}

// RecordPartialExecution appends to the Partial set when applicable.
func (c *ExecutionContext) RecordPartialExecution(constructDid did.ConstructDid) {
	if c.Mode == ModePartial {
		c.PartialConstructs = append(c.PartialConstructs, constructDid)
	}
}

// UpstreamDependencies resolves the construct's direct upstream set from
// the dependents map.
func (c *ExecutionContext) UpstreamDependencies(constructDid did.ConstructDid) []did.ConstructDid {
	var out []did.ConstructDid
	for upstream, dependents := range c.CommandsDependencies {
		for _, dep := range dependents {
			if dep == constructDid {
				out = append(out, upstream)
				break
			}
		}
	}
	return out
}

// PromoteFromSnapshot installs a prior run's outputs for a construct so the
// driver replays it without invoking addon callbacks.
func (c *ExecutionContext) PromoteFromSnapshot(constructDid did.ConstructDid, outputs *value.ObjectMap) {
	res := construct.NewCommandExecutionResult()
	outputs.Range(func(k string, v *value.Value) bool {
		res.Outputs.Set(k, v)
		return true
	})
	c.CommandsExecutionResults[constructDid] = res
}

// String renders mode for logs.
func (m ExecutionMode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePartial:
		return "partial"
	case ModeIgnored:
		return "ignored"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}
