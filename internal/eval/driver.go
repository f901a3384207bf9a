package eval

import (
	"context"

	"github.com/google/uuid"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/runbook"
	"github.com/recinq/quill/internal/value"
)

// RunConstructsEvaluation performs one pass over the command execution
// order. Constructs are checked for executability, then executed; a
// construct blocked on pending actions or an uncomputed dependency taints
// its descendants, and background-task commands gate further progress on
// the batch collected by the host.
func RunConstructsEvaluation(
	ctx context.Context,
	backgroundTasksUuid uuid.UUID,
	ws *runbook.WorkspaceContext,
	execCtx *runbook.ExecutionContext,
	rt *runbook.RuntimeContext,
	supervision *construct.SupervisionContext,
	requests map[did.ConstructDid][]*frontend.ActionItemRequest,
	responses map[did.ConstructDid][]frontend.ActionItemResponse,
	progressTx chan<- frontend.BlockEvent,
) *EvaluationPassResult {
	pass := NewEvaluationPassResult(backgroundTasksUuid)
	tainted := make(map[did.ConstructDid]bool)

	// top-level inputs become genesis results under the "value" convention
	for inputDid, v := range ws.TopLevelInputs {
		if _, done := execCtx.CommandsExecutionResults[inputDid]; !done {
			execCtx.CommandsExecutionResults[inputDid] = construct.SingleValueResult(v)
		}
	}

	// consecutive transactions within this pass renumber from chain state
	if execCtx.SignersStateHeld() {
		execCtx.SignersState().ClearAutoincrementableNonces()
	}

	// every signer contributes a synthetic `value = <did>` genesis result so
	// signer references resolve before commands touch signer state
	genesis := make(map[did.ConstructDid]*DependencyResult)
	for signerDid := range execCtx.SignersInstances {
		genesis[signerDid] = &DependencyResult{
			Result: construct.SingleValueResult(value.String(signerDid.String())),
		}
	}

	for _, constructDid := range execCtx.OrderForCommandsExecution {
		if ctx.Err() != nil {
			pass.Diagnostics = append(pass.Diagnostics,
				diag.Errorf(diag.ClassCancel, "pass aborted by the host"))
			return pass
		}

		instance, found := execCtx.CommandsInstances[constructDid]
		if !found {
			continue
		}
		if _, done := execCtx.CommandsExecutionResults[constructDid]; done {
			continue
		}
		if tainted[constructDid] {
			execCtx.TaintDescendants(constructDid, tainted)
			continue
		}

		loc := ws.ExpectConstructLocation(constructDid)
		pkg := ws.Packages[instance.PackageDid]

		deps := make(map[did.ConstructDid]*DependencyResult, len(genesis))
		for k, v := range genesis {
			deps[k] = v
		}
		for k, v := range dependencyCacheForExpressions(ws, execCtx, pkg, instance.InputExpressions()) {
			deps[k] = v
		}

		ec := &EvalContext{
			Deps:      deps,
			Package:   pkg,
			Workspace: ws,
			Execution: execCtx,
			Runtime:   rt,
		}

		prev := execCtx.CommandsInputsEvaluationResults[constructDid]
		defaults := ws.GetAddonDefaults(instance.PackageDid, instance.Namespace)
		status, evaluatedInputs, diags := PerformInputsEvaluation(
			ec, instance, prev, defaults, responses[constructDid], false)
		switch status {
		case InputsNeedsUserInteraction:
			execCtx.CommandsInputsEvaluationResults[constructDid] = evaluatedInputs
			execCtx.TaintDescendants(constructDid, tainted)
			continue
		case InputsAborted:
			pass.AppendDiagnostics(diags, loc)
			execCtx.TaintDescendants(constructDid, tainted)
			continue
		}
		for _, d := range diags {
			if !d.IsError() {
				pass.PushDiagnostic(d, loc)
			}
		}

		var executionResult *construct.CommandExecutionResult
		var executionDiag *diag.Diagnostic

		if instance.IsSigning() {
			executionResult, executionDiag = runSignedCommand(
				ctx, pass, execCtx, instance, constructDid, evaluatedInputs,
				supervision, requests, responses, progressTx, tainted)
			if executionResult == nil && executionDiag == nil {
				// suspended on pending actions
				continue
			}
		} else {
			runner := instance.Specification.Runner
			if runner.CheckExecutability != nil {
				actions, checkDiag := runner.CheckExecutability(
					constructDid, instance.Name, instance.Specification,
					evaluatedInputs.Inputs, supervision, responses[constructDid])
				if checkDiag != nil {
					pass.PushDiagnostic(checkDiag, loc)
					return pass
				}
				if actions.HasPendingActions() {
					pass.Actions.Append(actions)
					execCtx.TaintDescendants(constructDid, tainted)
					continue
				}
				pass.Actions.Append(actions)
			}

			execCtx.CommandsInputsEvaluationResults[constructDid] = evaluatedInputs

			if runner.PrepareNestedExecution != nil {
				executionResult, executionDiag = runNestedExecution(
					ctx, instance, constructDid, evaluatedInputs, progressTx, pass)
			} else if runner.PerformExecution != nil {
				progress := frontend.NewStatusUpdater(pass.BackgroundTasksUuid, constructDid, progressTx)
				executionResult, executionDiag = runner.PerformExecution(
					ctx, constructDid, instance.Specification, evaluatedInputs.Inputs, progress)
			} else {
				executionResult = construct.NewCommandExecutionResult()
			}
			if executionDiag != nil {
				execCtx.TaintDescendants(constructDid, tainted)
			}
		}

		if executionDiag != nil {
			pass.PushDiagnostic(executionDiag, loc)
			continue
		}

		execCtx.RecordPartialExecution(constructDid)

		if instance.HasBackgroundTask() && instance.Specification.Runner.BuildBackgroundTask != nil {
			future, buildDiag := instance.Specification.Runner.BuildBackgroundTask(
				constructDid, instance.Specification, evaluatedInputs.Inputs,
				executionResult, progressTx, pass.BackgroundTasksUuid.String(), supervision)
			if buildDiag != nil {
				pass.PushDiagnostic(buildDiag, loc)
				return pass
			}
			// gate further progress on background completion
			execCtx.TaintDescendants(constructDid, tainted)
			pass.PendingBackgroundTasks = append(pass.PendingBackgroundTasks, BackgroundTask{
				ConstructDid: constructDid,
				Future:       future,
			})
		} else {
			existing, present := execCtx.CommandsExecutionResults[constructDid]
			if !present {
				existing = construct.NewCommandExecutionResult()
				execCtx.CommandsExecutionResults[constructDid] = existing
			}
			existing.Append(executionResult)
		}
	}

	return pass
}

// runSignedCommand threads signer state through the signed two-phase
// lifecycle. It returns (nil, nil) when the construct suspended on pending
// actions. The signers state is restored on every path.
func runSignedCommand(
	ctx context.Context,
	pass *EvaluationPassResult,
	execCtx *runbook.ExecutionContext,
	instance *construct.CommandInstance,
	constructDid did.ConstructDid,
	evaluatedInputs *construct.CommandInputsEvaluationResult,
	supervision *construct.SupervisionContext,
	requests map[did.ConstructDid][]*frontend.ActionItemRequest,
	responses map[did.ConstructDid][]frontend.ActionItemResponse,
	progressTx chan<- frontend.BlockEvent,
	tainted map[did.ConstructDid]bool,
) (*construct.CommandExecutionResult, *diag.Diagnostic) {
	runner := instance.Specification.Runner

	signers := execCtx.TakeSignersState()
	signers = UpdateSignerInstancesFromActionResponse(signers, constructDid, responses[constructDid])

	signers, actions, checkDiag := runner.CheckSignedExecutability(
		constructDid, instance.Name, instance.Specification, evaluatedInputs.Inputs,
		supervision, responses[constructDid], execCtx.SignersInstances, signers)
	if checkDiag != nil {
		execCtx.RestoreSignersState(signers)
		return nil, checkDiag
	}
	if actions.HasPendingActions() {
		pass.Actions.Append(actions)
		execCtx.RestoreSignersState(signers)
		execCtx.TaintDescendants(constructDid, tainted)
		return nil, nil
	}
	pass.Actions.Append(actions)

	execCtx.CommandsInputsEvaluationResults[constructDid] = evaluatedInputs

	progress := frontend.NewStatusUpdater(pass.BackgroundTasksUuid, constructDid, progressTx)
	signers, result, execDiag := runner.RunSignedExecution(
		ctx, constructDid, instance.Specification, evaluatedInputs.Inputs,
		execCtx.SignersInstances, signers, progress)
	execCtx.RestoreSignersState(signers)
	if execDiag != nil {
		execCtx.TaintDescendants(constructDid, tainted)
		return nil, execDiag
	}
	return result, nil
}

// runNestedExecution expands a command into child (DID, store) pairs, runs
// each as a sub-command and aggregates outputs in child order.
func runNestedExecution(
	ctx context.Context,
	instance *construct.CommandInstance,
	constructDid did.ConstructDid,
	evaluatedInputs *construct.CommandInputsEvaluationResult,
	progressTx chan<- frontend.BlockEvent,
	pass *EvaluationPassResult,
) (*construct.CommandExecutionResult, *diag.Diagnostic) {
	runner := instance.Specification.Runner
	children, prepDiag := runner.PrepareNestedExecution(constructDid, instance.Name, evaluatedInputs.Inputs)
	if prepDiag != nil {
		return nil, prepDiag
	}

	results := make([]*construct.CommandExecutionResult, 0, len(children))
	for _, child := range children {
		progress := frontend.NewStatusUpdater(pass.BackgroundTasksUuid, child.Did, progressTx)
		childResult, childDiag := runner.PerformExecution(
			ctx, child.Did, instance.Specification, child.Inputs, progress)
		if childDiag != nil {
			return nil, childDiag
		}
		results = append(results, childResult)
	}

	if runner.AggregateNestedExecutionResults != nil {
		return runner.AggregateNestedExecutionResults(constructDid, children, results)
	}
	// default aggregation: union of output maps in child order
	aggregated := construct.NewCommandExecutionResult()
	for _, res := range results {
		aggregated.Append(res)
	}
	return aggregated, nil
}
