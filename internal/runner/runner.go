// Package runner drives a runbook across supervised passes: it owns the
// action-item request registry, routes responses back to their constructs,
// awaits background task batches at pass boundaries, and decides when the
// runbook is complete.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/eval"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/runbook"
	"github.com/recinq/quill/internal/snapshot"
)

// PassError wraps a fatal pass failure with the first offending construct
// so callers can branch with errors.As.
type PassError struct {
	Construct string
	Err       error
}

func (e *PassError) Error() string {
	if e.Construct != "" {
		return fmt.Sprintf("construct %q failed: %v", e.Construct, e.Err)
	}
	return e.Err.Error()
}

func (e *PassError) Unwrap() error { return e.Err }

// PassOutcome summarizes one pass for the host loop.
type PassOutcome struct {
	Completed      bool
	PendingActions int
	Diagnostics    []*diag.Diagnostic
	// ExecutedBackgroundTasks counts futures awaited at this boundary.
	ExecutedBackgroundTasks int
	// Progressed reports whether any construct produced new results.
	Progressed bool
}

type Runner struct {
	Workspace   *runbook.WorkspaceContext
	Execution   *runbook.ExecutionContext
	Runtime     *runbook.RuntimeContext
	Supervision *construct.SupervisionContext

	progressTx chan frontend.BlockEvent

	mu                  sync.Mutex
	requests            map[frontend.BlockId]*frontend.ActionItemRequest
	requestsByConstruct map[did.ConstructDid][]*frontend.ActionItemRequest
	responses           map[did.ConstructDid][]frontend.ActionItemResponse
}

func New(ws *runbook.WorkspaceContext, execCtx *runbook.ExecutionContext, rt *runbook.RuntimeContext, supervision *construct.SupervisionContext) *Runner {
	return &Runner{
		Workspace:           ws,
		Execution:           execCtx,
		Runtime:             rt,
		Supervision:         supervision,
		progressTx:          make(chan frontend.BlockEvent, 1024),
		requests:            make(map[frontend.BlockId]*frontend.ActionItemRequest),
		requestsByConstruct: make(map[did.ConstructDid][]*frontend.ActionItemRequest),
		responses:           make(map[did.ConstructDid][]frontend.ActionItemResponse),
	}
}

// ProgressChannel exposes the block event stream the host renders.
func (r *Runner) ProgressChannel() <-chan frontend.BlockEvent {
	return r.progressTx
}

// PendingRequests lists surfaced action items that are not yet successful.
func (r *Runner) PendingRequests() []*frontend.ActionItemRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*frontend.ActionItemRequest
	for _, request := range r.requests {
		if request.ActionStatus.Kind != frontend.StatusSuccess {
			out = append(out, request)
		}
	}
	return out
}

// ProcessResponse routes a response to its construct's queue via the
// request registry; unknown ids are dropped with an error.
func (r *Runner) ProcessResponse(response frontend.ActionItemResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, known := r.requests[response.ActionItemID]
	if !known {
		return fmt.Errorf("no action item request with id %s", response.ActionItemID)
	}
	if request.ConstructDid.IsZero() {
		return nil
	}
	r.responses[request.ConstructDid] = append(r.responses[request.ConstructDid], response)
	return nil
}

// RunPass performs one full pass: signer activation, then command
// evaluation, then the background task batch. Action items emitted by the
// pass are compiled into block events and pushed on the progress channel;
// fatal diagnostics compile into a trailing error panel.
func (r *Runner) RunPass(ctx context.Context) (*PassOutcome, error) {
	outcome := &PassOutcome{}
	before := len(r.Execution.CommandsExecutionResults)

	r.mu.Lock()
	requests := r.requestsByConstruct
	responses := r.responses
	r.mu.Unlock()

	signerPass := eval.RunSignersEvaluation(
		ctx, r.Workspace, r.Execution, r.Runtime, r.Supervision,
		requests, responses, r.progressTx)
	r.collectPass(signerPass, outcome)
	if len(signerPass.FatalDiagnostics()) > 0 {
		r.emitErrorPanel(outcome)
		return outcome, r.fatalError(outcome)
	}

	commandPass := eval.RunConstructsEvaluation(
		ctx, uuid.New(), r.Workspace, r.Execution, r.Runtime, r.Supervision,
		requests, responses, r.progressTx)
	r.collectPass(commandPass, outcome)

	if len(commandPass.PendingBackgroundTasks) > 0 {
		count, d := r.awaitBackgroundTasks(ctx, commandPass)
		outcome.ExecutedBackgroundTasks = count
		if d != nil {
			outcome.Diagnostics = append(outcome.Diagnostics, d)
		}
	}

	if len(outcome.Diagnostics) > 0 && hasFatal(outcome.Diagnostics) {
		r.emitErrorPanel(outcome)
		return outcome, r.fatalError(outcome)
	}

	r.clearConsumedResponses()

	outcome.Completed = r.isComplete()
	outcome.Progressed = len(r.Execution.CommandsExecutionResults) > before
	if outcome.Completed {
		r.progressTx <- frontend.RunbookCompletedEvent()
	}
	return outcome, nil
}

// Execute drives passes until the runbook completes. It fails when a pass
// neither progresses nor surfaces pending actions, which would otherwise
// loop forever; supervised runbooks should instead alternate RunPass with
// response collection.
func (r *Runner) Execute(ctx context.Context) error {
	for {
		outcome, err := r.RunPass(ctx)
		if err != nil {
			return err
		}
		if outcome.Completed {
			return nil
		}
		if outcome.PendingActions > 0 {
			return fmt.Errorf("runbook is blocked on %d pending action items; supervised execution required", outcome.PendingActions)
		}
		if !outcome.Progressed && outcome.ExecutedBackgroundTasks == 0 {
			return fmt.Errorf("no progress: %d constructs remain unexecuted", r.remaining())
		}
	}
}

func (r *Runner) collectPass(pass *eval.EvaluationPassResult, outcome *PassOutcome) {
	outcome.Diagnostics = append(outcome.Diagnostics, pass.Diagnostics...)

	if pass.Actions.HasPendingActions() {
		outcome.PendingActions += len(pass.Actions.NewActionItemRequests())
	}

	r.mu.Lock()
	events := pass.Actions.CompileToBlockEvents(r.requests)
	for _, request := range pass.Actions.NewActionItemRequests() {
		if _, known := r.requests[request.ID]; known {
			continue
		}
		r.requests[request.ID] = request
		if !request.ConstructDid.IsZero() {
			r.requestsByConstruct[request.ConstructDid] = append(r.requestsByConstruct[request.ConstructDid], request)
		}
	}
	r.mu.Unlock()

	for _, event := range events {
		if event.Kind == frontend.EventUpdateActionItems {
			r.mu.Lock()
			for _, update := range event.Updates {
				update.Apply(r.requests)
			}
			r.mu.Unlock()
		}
		r.progressTx <- event
	}
}

// awaitBackgroundTasks polls the batch concurrently and merges outcomes at
// the boundary: failures taint their construct, successes append to the
// shared result cache.
func (r *Runner) awaitBackgroundTasks(ctx context.Context, pass *eval.EvaluationPassResult) (int, *diag.Diagnostic) {
	type taskResult struct {
		constructDid did.ConstructDid
		result       *construct.CommandExecutionResult
		diagnostic   *diag.Diagnostic
	}
	results := make([]taskResult, len(pass.PendingBackgroundTasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range pass.PendingBackgroundTasks {
		g.Go(func() error {
			res, d := task.Future(gctx)
			results[i] = taskResult{constructDid: task.ConstructDid, result: res, diagnostic: d}
			return nil
		})
	}
	g.Wait()

	var firstDiag *diag.Diagnostic
	executed := 0
	for _, res := range results {
		if res.diagnostic != nil {
			if firstDiag == nil {
				loc := r.Workspace.ExpectConstructLocation(res.constructDid)
				firstDiag = res.diagnostic.WithConstruct(string(loc.Kind) + "." + loc.Name)
			}
			continue
		}
		if res.result == nil {
			// cancel-safe futures yield nothing; the construct re-taints
			// on the next pass
			continue
		}
		executed++
		existing, present := r.Execution.CommandsExecutionResults[res.constructDid]
		if !present {
			existing = construct.NewCommandExecutionResult()
			r.Execution.CommandsExecutionResults[res.constructDid] = existing
		}
		existing.Append(res.result)
	}
	return executed, firstDiag
}

func (r *Runner) emitErrorPanel(outcome *PassOutcome) {
	var fatal []*diag.Diagnostic
	for _, d := range outcome.Diagnostics {
		if d.IsError() {
			fatal = append(fatal, d)
		}
	}
	if len(fatal) == 0 {
		return
	}
	r.progressTx <- frontend.ErrorEvent(frontend.ErrorPanelFromDiagnostics(fatal))
}

func (r *Runner) fatalError(outcome *PassOutcome) error {
	for _, d := range outcome.Diagnostics {
		if d.IsError() {
			return &PassError{Construct: d.ConstructName, Err: d}
		}
	}
	return nil
}

func hasFatal(diags []*diag.Diagnostic) bool {
	for _, d := range diags {
		if d.IsError() {
			return true
		}
	}
	return false
}

// clearConsumedResponses drops response queues for constructs that now have
// results; unanswered constructs keep theirs for the next pass.
func (r *Runner) clearConsumedResponses() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for constructDid := range r.responses {
		if _, done := r.Execution.CommandsExecutionResults[constructDid]; done {
			delete(r.responses, constructDid)
		}
	}
}

func (r *Runner) isComplete() bool {
	for _, constructDid := range r.Execution.OrderForCommandsExecution {
		if _, ok := r.Execution.CommandsInstances[constructDid]; !ok {
			continue
		}
		if _, done := r.Execution.CommandsExecutionResults[constructDid]; !done {
			return false
		}
	}
	return true
}

func (r *Runner) remaining() int {
	count := 0
	for _, constructDid := range r.Execution.OrderForCommandsExecution {
		if _, ok := r.Execution.CommandsInstances[constructDid]; !ok {
			continue
		}
		if _, done := r.Execution.CommandsExecutionResults[constructDid]; !done {
			count++
		}
	}
	return count
}

// ApplySnapshotForPartialReplay promotes every construct outside the
// re-execution closure from the prior run's snapshot, so replay invokes
// addon callbacks only for the changed set and its descendants.
func (r *Runner) ApplySnapshotForPartialReplay(prior *snapshot.ExecutionSnapshot, runID string, changed []did.ConstructDid) error {
	run := prior.Run(runID)
	if run == nil {
		return fmt.Errorf("snapshot has no run %q", runID)
	}

	reexecute := make(map[did.ConstructDid]bool)
	var expand func(d did.ConstructDid)
	expand = func(d did.ConstructDid) {
		if reexecute[d] {
			return
		}
		reexecute[d] = true
		for _, dep := range r.Execution.CommandsDependencies[d] {
			expand(dep)
		}
	}
	for _, d := range changed {
		expand(d)
	}

	promote := func(constructDid did.ConstructDid, outputs []snapshot.OutputSnapshot) {
		if reexecute[constructDid] || len(outputs) == 0 {
			return
		}
		result := construct.NewCommandExecutionResult()
		for _, output := range outputs {
			result.Outputs.Set(output.Name, output.Value)
		}
		r.Execution.CommandsExecutionResults[constructDid] = result
	}

	for _, signer := range run.Signers {
		if _, exists := r.Execution.SignersInstances[signer.ConstructDid]; exists {
			promote(signer.ConstructDid, signer.Outputs)
		}
	}
	for _, command := range run.Commands {
		if _, exists := r.Execution.CommandsInstances[command.ConstructDid]; exists {
			promote(command.ConstructDid, command.Outputs)
		}
	}

	r.Execution.Mode = runbook.ModePartial
	r.Execution.PartialConstructs = nil
	return nil
}
