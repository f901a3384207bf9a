package eval

import (
	"context"

	"github.com/google/uuid"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/runbook"
	"github.com/recinq/quill/internal/value"
)

// RunSignersEvaluation walks the signer initialization order, evaluating
// each signer's inputs and driving its two-phase activation. A signer with
// pending actions is skipped for the pass; its state is restored first.
func RunSignersEvaluation(
	ctx context.Context,
	ws *runbook.WorkspaceContext,
	execCtx *runbook.ExecutionContext,
	rt *runbook.RuntimeContext,
	supervision *construct.SupervisionContext,
	requests map[did.ConstructDid][]*frontend.ActionItemRequest,
	responses map[did.ConstructDid][]frontend.ActionItemResponse,
	progressTx chan<- frontend.BlockEvent,
) *EvaluationPassResult {
	pass := NewEvaluationPassResult(uuid.New())

	for _, signerDid := range execCtx.OrderForSignersInitialization {
		instance, found := execCtx.SignersInstances[signerDid]
		if !found {
			continue
		}
		loc := ws.ExpectConstructLocation(signerDid)
		pkg := ws.Packages[instance.PackageDid]
		instantiated := execCtx.IsSignerInstantiated(signerDid)

		if instantiated && instance.Specification.RequiresInteraction {
			// already activated this session or promoted from a snapshot:
			// seed the signer state from the cached outputs instead of
			// asking the user to connect again
			seedSignerStateFromResult(execCtx, signerDid, instance.Name)
			continue
		}

		deps := dependencyCacheForExpressions(ws, execCtx, pkg, instance.InputExpressions())
		ec := &EvalContext{
			Deps:      deps,
			Package:   pkg,
			Workspace: ws,
			Execution: execCtx,
			Runtime:   rt,
		}

		prev := execCtx.CommandsInputsEvaluationResults[signerDid]
		defaults := ws.GetAddonDefaults(instance.PackageDid, instance.Namespace)
		status, evaluatedInputs, diags := PerformSignerInputsEvaluation(ec, instance, prev, defaults)
		switch status {
		case InputsNeedsUserInteraction:
			continue
		case InputsAborted:
			pass.AppendDiagnostics(diags, loc)
			continue
		}

		signersState := execCtx.TakeSignersState()
		signersState.CreateSignerState(signerDid, instance.Name)

		runner := instance.Specification.Runner
		signersState, actions, checkDiag := runner.CheckActivability(
			signerDid, instance.Name, instance.Specification, evaluatedInputs.Inputs,
			signersState, execCtx.SignersInstances, requests[signerDid], responses[signerDid],
			supervision, instantiated, instantiated,
		)
		if checkDiag != nil {
			execCtx.RestoreSignersState(signersState)
			for _, req := range requests[signerDid] {
				pass.Actions.PushActionItemUpdate(
					frontend.UpdateFromID(req.ID).SetStatus(frontend.StatusErrorDiag(checkDiag)))
			}
			pass.PushDiagnostic(checkDiag, loc)
			return pass
		}
		if actions.HasPendingActions() {
			execCtx.RestoreSignersState(signersState)
			pass.Actions.Append(actions)
			continue
		}
		pass.Actions.Append(actions)

		execCtx.CommandsInputsEvaluationResults[signerDid] = evaluatedInputs

		signersState, result, activationDiag := runner.PerformActivation(
			ctx, signerDid, instance.Specification, evaluatedInputs.Inputs,
			signersState, execCtx.SignersInstances, progressTx,
		)
		execCtx.RestoreSignersState(signersState)
		if activationDiag != nil {
			pass.PushDiagnostic(activationDiag, loc)
			return pass
		}
		if result != nil {
			// signer references keep resolving to the DID after activation
			if !result.Outputs.Has("value") {
				result.Outputs.Set("value", value.String(signerDid.String()))
			}
			execCtx.CommandsExecutionResults[signerDid] = result
		}
	}

	return pass
}

// seedSignerStateFromResult backfills signer-level state values from the
// signer's cached outputs; a no-op for keys the state already carries.
func seedSignerStateFromResult(execCtx *runbook.ExecutionContext, signerDid did.ConstructDid, name string) {
	signersState := execCtx.TakeSignersState()
	signersState.CreateSignerState(signerDid, name)
	state := signersState.GetSignerState(signerDid)
	if result, ok := execCtx.CommandsExecutionResults[signerDid]; ok {
		result.Outputs.Range(func(key string, v *value.Value) bool {
			if key == "value" {
				return true
			}
			if _, present := state.GetValue(key); !present {
				state.InsertValue(key, v)
			}
			return true
		})
	}
	execCtx.RestoreSignersState(signersState)
}

// UpdateSignerInstancesFromActionResponse copies signed material out of the
// construct's responses into the signer's scoped state, keyed by the
// requesting construct's DID, before the next pass runs.
func UpdateSignerInstancesFromActionResponse(
	signers *construct.SignersState,
	constructDid did.ConstructDid,
	responses []frontend.ActionItemResponse,
) *construct.SignersState {
	consumer := constructDid.String()
	for _, response := range responses {
		switch payload := response.Payload.(type) {
		case *frontend.ProvideSignedTransactionResponse:
			state := signers.PopSignerState(payload.SignerUuid)
			if state == nil {
				continue
			}
			switch {
			case payload.SignedTransactionBytes != nil:
				state.InsertScopedValue(consumer, construct.SignedTransactionBytes,
					value.String(*payload.SignedTransactionBytes))
			case payload.SignatureApproved != nil:
				if *payload.SignatureApproved {
					state.InsertScopedValue(consumer, construct.SignatureApproved, value.Bool(true))
				}
			default:
				// no bytes, no verdict: a skippable request proceeds
				// without a signature
				if state.GetScopedBool(consumer, construct.SignatureSkippable) {
					state.InsertScopedValue(consumer, construct.SignedTransactionBytes, value.Null())
				}
			}
			signers.PushSignerState(state)

		case *frontend.ProvideSignedMessageResponse:
			state := signers.PopSignerState(payload.SignerUuid)
			if state == nil {
				continue
			}
			state.InsertScopedValue(consumer, construct.SignedMessageBytes,
				value.String(payload.SignedMessageBytes))
			signers.PushSignerState(state)
		}
	}
	return signers
}

// dependencyCacheForExpressions resolves every traversal in the given
// expressions against the shared result cache, producing the per-construct
// dependency view evaluation reads.
func dependencyCacheForExpressions(
	ws *runbook.WorkspaceContext,
	execCtx *runbook.ExecutionContext,
	pkg *runbook.Package,
	exprs []hclExpression,
) map[did.ConstructDid]*DependencyResult {
	deps := make(map[did.ConstructDid]*DependencyResult)
	for _, expr := range exprs {
		for _, traversal := range expr.Variables() {
			dependency, _, found := ws.ResolveTraversal(pkg, traversal)
			if !found {
				continue
			}
			if result, computed := execCtx.CommandsExecutionResults[dependency]; computed {
				deps[dependency] = &DependencyResult{Result: result}
			}
		}
	}
	return deps
}
