package snapshot

import (
	"fmt"

	"github.com/recinq/quill/internal/did"
)

// Change is one difference between two snapshots of the same runbook.
type Change struct {
	RunID        string           `json:"run_id"`
	ConstructDid did.ConstructDid `json:"construct_did,omitempty"`
	Construct    string           `json:"construct,omitempty"`
	Field        string           `json:"field"`
	OldValue     string           `json:"old_value,omitempty"`
	NewValue     string           `json:"new_value,omitempty"`
	// Critical marks a difference that downstream signing consumed: a
	// tainting input or an output value.
	Critical bool `json:"critical"`
}

// ConsolidatedChanges is the full diff outcome the host turns into a
// partial re-execution plan.
type ConsolidatedChanges struct {
	Changes []Change
	// NewConstructs appeared only in the new snapshot.
	NewConstructs []did.ConstructDid
	// ConstructsToRemove are present in the old snapshot but absent from
	// the new graph; removal safety is surfaced to the user, never decided
	// here.
	ConstructsToRemove []did.ConstructDid
	// NewRuns and RemovedRuns track run-level additions and removals.
	NewRuns     []string
	RemovedRuns []string
}

// IsEmpty reports a no-op diff.
func (c *ConsolidatedChanges) IsEmpty() bool {
	return len(c.Changes) == 0 && len(c.NewConstructs) == 0 &&
		len(c.ConstructsToRemove) == 0 && len(c.NewRuns) == 0 && len(c.RemovedRuns) == 0
}

// CriticalConstructs returns the constructs whose critical state changed,
// in change order; the host feeds them to the next run as the Partial set.
func (c *ConsolidatedChanges) CriticalConstructs() []did.ConstructDid {
	seen := make(map[did.ConstructDid]bool)
	var out []did.ConstructDid
	for _, change := range c.Changes {
		if !change.Critical || change.ConstructDid == "" || seen[change.ConstructDid] {
			continue
		}
		seen[change.ConstructDid] = true
		out = append(out, change.ConstructDid)
	}
	return out
}

// Diff compares two snapshots. Runs pair by id through an LCS alignment;
// within each paired run signers pair first (their downstream constructs
// are traversed through the command diff), then commands pair by DID.
func Diff(old, new *ExecutionSnapshot) *ConsolidatedChanges {
	out := &ConsolidatedChanges{}

	oldIDs := make([]string, len(old.runs))
	for i, run := range old.runs {
		oldIDs[i] = run.ID
	}
	newIDs := make([]string, len(new.runs))
	for i, run := range new.runs {
		newIDs[i] = run.ID
	}

	pairs, removed, added := alignSequences(oldIDs, newIDs)
	out.RemovedRuns = removed
	out.NewRuns = added

	for _, pair := range pairs {
		diffRun(out, old.runs[pair[0]], new.runs[pair[1]])
	}
	return out
}

func diffRun(out *ConsolidatedChanges, oldRun, newRun *RunSnapshot) {
	// top-level input differences surface as input changes on the
	// constructs that consume them, so signers and commands carry the diff
	diffSigners(out, oldRun, newRun)
	diffCommands(out, oldRun, newRun)
}

func diffSigners(out *ConsolidatedChanges, oldRun, newRun *RunSnapshot) {
	oldIDs := make([]string, len(oldRun.Signers))
	for i, s := range oldRun.Signers {
		oldIDs[i] = s.ConstructDid.String()
	}
	newIDs := make([]string, len(newRun.Signers))
	for i, s := range newRun.Signers {
		newIDs[i] = s.ConstructDid.String()
	}
	pairs, removed, added := alignSequences(oldIDs, newIDs)
	for _, id := range removed {
		out.ConstructsToRemove = append(out.ConstructsToRemove, did.ConstructDid(id))
	}
	for _, id := range added {
		out.NewConstructs = append(out.NewConstructs, did.ConstructDid(id))
	}
	for _, pair := range pairs {
		oldSigner, newSigner := oldRun.Signers[pair[0]], newRun.Signers[pair[1]]
		diffConstructFields(out, newRun.ID, newSigner.ConstructDid, newSigner.ConstructName,
			constructFields{oldSigner.ConstructName, oldSigner.ConstructPath, oldSigner.ConstructAddon},
			constructFields{newSigner.ConstructName, newSigner.ConstructPath, newSigner.ConstructAddon})
		diffInputSnapshots(out, newRun.ID, newSigner.ConstructDid, newSigner.ConstructName, oldSigner.Inputs, newSigner.Inputs)
		diffOutputSnapshots(out, newRun.ID, newSigner.ConstructDid, newSigner.ConstructName, oldSigner.Outputs, newSigner.Outputs)
	}
}

func diffCommands(out *ConsolidatedChanges, oldRun, newRun *RunSnapshot) {
	oldIDs := make([]string, len(oldRun.Commands))
	for i, c := range oldRun.Commands {
		oldIDs[i] = c.ConstructDid.String()
	}
	newIDs := make([]string, len(newRun.Commands))
	for i, c := range newRun.Commands {
		newIDs[i] = c.ConstructDid.String()
	}
	pairs, removed, added := alignSequences(oldIDs, newIDs)
	for _, id := range removed {
		out.ConstructsToRemove = append(out.ConstructsToRemove, did.ConstructDid(id))
	}
	for _, id := range added {
		out.NewConstructs = append(out.NewConstructs, did.ConstructDid(id))
	}
	for _, pair := range pairs {
		oldCmd, newCmd := oldRun.Commands[pair[0]], newRun.Commands[pair[1]]
		diffConstructFields(out, newRun.ID, newCmd.ConstructDid, newCmd.ConstructName,
			constructFields{oldCmd.ConstructName, oldCmd.ConstructPath, oldCmd.ConstructAddon},
			constructFields{newCmd.ConstructName, newCmd.ConstructPath, newCmd.ConstructAddon})
		diffInputSnapshots(out, newRun.ID, newCmd.ConstructDid, newCmd.ConstructName, oldCmd.Inputs, newCmd.Inputs)
		diffOutputSnapshots(out, newRun.ID, newCmd.ConstructDid, newCmd.ConstructName, oldCmd.Outputs, newCmd.Outputs)
	}
}

type constructFields struct {
	name  string
	path  string
	addon string
}

func diffConstructFields(out *ConsolidatedChanges, runID string, constructDid did.ConstructDid, name string, old, new constructFields) {
	if old.name != new.name {
		out.Changes = append(out.Changes, Change{
			RunID: runID, ConstructDid: constructDid, Construct: name,
			Field: "construct_name", OldValue: old.name, NewValue: new.name,
		})
	}
	if old.path != new.path {
		out.Changes = append(out.Changes, Change{
			RunID: runID, ConstructDid: constructDid, Construct: name,
			Field: "construct_path", OldValue: old.path, NewValue: new.path,
		})
	}
	if old.addon != new.addon {
		out.Changes = append(out.Changes, Change{
			RunID: runID, ConstructDid: constructDid, Construct: name,
			Field: "construct_addon", OldValue: old.addon, NewValue: new.addon,
		})
	}
}

func diffInputSnapshots(out *ConsolidatedChanges, runID string, constructDid did.ConstructDid, name string, old, new []InputSnapshot) {
	oldByName := make(map[string]InputSnapshot, len(old))
	for _, input := range old {
		oldByName[input.Name] = input
	}
	for _, newInput := range new {
		oldInput, existed := oldByName[newInput.Name]
		if !existed {
			out.Changes = append(out.Changes, Change{
				RunID: runID, ConstructDid: constructDid, Construct: name,
				Field:    "input." + newInput.Name,
				NewValue: newInput.ValuePostEvaluation.String(),
				Critical: newInput.Critical,
			})
			continue
		}
		if oldInput.ValuePreEvaluation != newInput.ValuePreEvaluation {
			out.Changes = append(out.Changes, Change{
				RunID: runID, ConstructDid: constructDid, Construct: name,
				Field:    fmt.Sprintf("input.%s.value_pre_evaluation", newInput.Name),
				OldValue: oldInput.ValuePreEvaluation,
				NewValue: newInput.ValuePreEvaluation,
				Critical: newInput.Critical,
			})
		}
		if !oldInput.ValuePostEvaluation.Equal(newInput.ValuePostEvaluation) {
			out.Changes = append(out.Changes, Change{
				RunID: runID, ConstructDid: constructDid, Construct: name,
				Field:    fmt.Sprintf("input.%s.value_post_evaluation", newInput.Name),
				OldValue: oldInput.ValuePostEvaluation.String(),
				NewValue: newInput.ValuePostEvaluation.String(),
				Critical: newInput.Critical,
			})
		}
	}
}

func diffOutputSnapshots(out *ConsolidatedChanges, runID string, constructDid did.ConstructDid, name string, old, new []OutputSnapshot) {
	oldByName := make(map[string]OutputSnapshot, len(old))
	for _, output := range old {
		oldByName[output.Name] = output
	}
	for _, newOutput := range new {
		oldOutput, existed := oldByName[newOutput.Name]
		if existed && oldOutput.Value.Equal(newOutput.Value) {
			continue
		}
		change := Change{
			RunID: runID, ConstructDid: constructDid, Construct: name,
			Field:    "output." + newOutput.Name,
			NewValue: newOutput.Value.String(),
			Critical: true,
		}
		if existed {
			change.OldValue = oldOutput.Value.String()
		}
		out.Changes = append(out.Changes, change)
	}
}

// alignSequences pairs two id sequences on their longest common
// subsequence, returning index pairs plus the removed and added ids.
func alignSequences(old, new []string) (pairs [][2]int, removed, added []string) {
	n, m := len(old), len(new)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if old[i] == new[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case old[i] == new[j]:
			pairs = append(pairs, [2]int{i, j})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			removed = append(removed, old[i])
			i++
		default:
			added = append(added, new[j])
			j++
		}
	}
	for ; i < n; i++ {
		removed = append(removed, old[i])
	}
	for ; j < m; j++ {
		added = append(added, new[j])
	}
	return pairs, removed, added
}
