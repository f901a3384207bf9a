package eval

import (
	"github.com/google/uuid"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/runbook"
)

// BackgroundTask is a deferred command continuation keyed to its construct;
// the host polls the batch at the pass boundary.
type BackgroundTask struct {
	ConstructDid did.ConstructDid
	Future       construct.BackgroundTaskFuture
}

// EvaluationPassResult accumulates what one pass produced: the action
// stream, attributed diagnostics, and the background task batch keyed by
// the pass UUID.
type EvaluationPassResult struct {
	BackgroundTasksUuid    uuid.UUID
	Actions                *frontend.Actions
	Diagnostics            []*diag.Diagnostic
	PendingBackgroundTasks []BackgroundTask
}

func NewEvaluationPassResult(backgroundTasksUuid uuid.UUID) *EvaluationPassResult {
	return &EvaluationPassResult{
		BackgroundTasksUuid: backgroundTasksUuid,
		Actions:             frontend.NoActions(),
	}
}

// PushDiagnostic attributes a diagnostic to a construct before recording
// it.
func (r *EvaluationPassResult) PushDiagnostic(d *diag.Diagnostic, loc *runbook.ConstructLocation) {
	if loc != nil {
		d = d.WithConstruct(string(loc.Kind) + "." + loc.Name).WithSpan(loc.Range)
	}
	r.Diagnostics = append(r.Diagnostics, d)
}

func (r *EvaluationPassResult) AppendDiagnostics(diags []*diag.Diagnostic, loc *runbook.ConstructLocation) {
	for _, d := range diags {
		r.PushDiagnostic(d, loc)
	}
}

func (r *EvaluationPassResult) HasDiagnostics() bool {
	return len(r.Diagnostics) > 0
}

// FatalDiagnostics filters out warnings.
func (r *EvaluationPassResult) FatalDiagnostics() []*diag.Diagnostic {
	var out []*diag.Diagnostic
	for _, d := range r.Diagnostics {
		if d.IsError() {
			out = append(out, d)
		}
	}
	return out
}

// CompileDiagnosticsToBlock wraps fatal diagnostics into the error panel
// delivered as the last block event of a failed pass, or nil when the pass
// produced none.
func (r *EvaluationPassResult) CompileDiagnosticsToBlock() *frontend.Block {
	fatal := r.FatalDiagnostics()
	if len(fatal) == 0 {
		return nil
	}
	return frontend.ErrorPanelFromDiagnostics(fatal)
}
