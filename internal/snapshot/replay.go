package snapshot

import (
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/runbook"
)

// SelectChangedConstructs compares a prior run against the freshly loaded
// runbook and returns the constructs whose critical state changed: a
// tainting input whose source expression differs, a construct absent from
// the snapshot, or a changed addon binding. The host feeds the result to a
// Partial replay; untouched constructs promote straight from the snapshot.
func SelectChangedConstructs(
	prior *RunSnapshot,
	ws *runbook.WorkspaceContext,
	execCtx *runbook.ExecutionContext,
) []did.ConstructDid {
	snapshots := make(map[did.ConstructDid]*CommandSnapshot, len(prior.Commands))
	for i := range prior.Commands {
		snapshots[prior.Commands[i].ConstructDid] = &prior.Commands[i]
	}
	signerSnapshots := make(map[did.ConstructDid]*SignerSnapshot, len(prior.Signers))
	for i := range prior.Signers {
		signerSnapshots[prior.Signers[i].ConstructDid] = &prior.Signers[i]
	}

	var changed []did.ConstructDid

	for _, constructDid := range execCtx.OrderForCommandsExecution {
		instance, ok := execCtx.CommandsInstances[constructDid]
		if !ok {
			continue
		}
		snap, captured := snapshots[constructDid]
		if !captured {
			changed = append(changed, constructDid)
			continue
		}
		if snap.ConstructAddon != instance.Namespace {
			changed = append(changed, constructDid)
			continue
		}
		priorInputs := make(map[string]string, len(snap.Inputs))
		for _, input := range snap.Inputs {
			priorInputs[input.Name] = input.ValuePreEvaluation
		}
		for _, input := range instance.Specification.Inputs {
			if !input.Tainting {
				continue
			}
			expr := instance.GetExpressionFromInput(input.Name)
			if expr == nil {
				continue
			}
			current := ws.ExprText(expr.Range())
			if prior, recorded := priorInputs[input.Name]; !recorded || prior != current {
				changed = append(changed, constructDid)
				break
			}
		}
	}

	for _, signerDid := range execCtx.OrderForSignersInitialization {
		if _, captured := signerSnapshots[signerDid]; !captured {
			changed = append(changed, signerDid)
		}
	}

	return changed
}
