package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/value"
)

func sampleRun() *RunSnapshot {
	inputs := value.NewObjectMap()
	inputs.Set("API_KEY", value.String("sk-123"))
	return &RunSnapshot{
		ID:     "default",
		Inputs: inputs,
		Packages: []PackageSnapshot{
			{Did: did.PackageDid("pkg-1"), Name: "transfer", Path: "."},
		},
		Signers: []SignerSnapshot{{
			ConstructDid:   did.ConstructDid("signer-1"),
			PackageDid:     did.PackageDid("pkg-1"),
			ConstructType:  "signer",
			ConstructName:  "alice",
			ConstructAddon: "evm",
			ConstructPath:  "main.tx",
			DownstreamDids: []did.ConstructDid{"cmd-1"},
			Outputs: []OutputSnapshot{
				{Name: "public_key", Value: value.String("0xabc"), Signed: true},
			},
		}},
		Commands: []CommandSnapshot{{
			ConstructDid:   did.ConstructDid("cmd-1"),
			PackageDid:     did.PackageDid("pkg-1"),
			ConstructType:  "action",
			ConstructName:  "transfer",
			ConstructAddon: "evm",
			ConstructPath:  "main.tx",
			Inputs: []InputSnapshot{
				{Name: "amount", ValuePreEvaluation: "1000", ValuePostEvaluation: value.Integer(1000), Critical: true},
				{Name: "memo", ValuePreEvaluation: `"hi"`, ValuePostEvaluation: value.String("hi"), Critical: false},
			},
			Outputs: []OutputSnapshot{
				{Name: "tx_hash", Value: value.String("0xdead"), Signed: true},
			},
		}},
	}
}

func sampleSnapshot() *ExecutionSnapshot {
	snap := NewExecutionSnapshot("acme", "infra", "transfer")
	snap.EndedAt = "2026-08-01T00:00:00Z"
	snap.AddRun(sampleRun())
	return snap
}

func TestDiff_SelfYieldsEmptyChangeSet(t *testing.T) {
	changes := Diff(sampleSnapshot(), sampleSnapshot())
	assert.True(t, changes.IsEmpty(), "self-diff produced %+v", changes)
}

func TestDiff_NonCriticalInputChange(t *testing.T) {
	old := sampleSnapshot()
	updated := sampleSnapshot()
	updated.runs[0].Commands[0].Inputs[1].ValuePostEvaluation = value.String("bye")
	updated.runs[0].Commands[0].Inputs[1].ValuePreEvaluation = `"bye"`

	changes := Diff(old, updated)
	require.NotEmpty(t, changes.Changes)
	for _, change := range changes.Changes {
		assert.False(t, change.Critical, "non-tainting input produced critical change: %+v", change)
	}
	assert.Empty(t, changes.CriticalConstructs())
}

func TestDiff_CriticalInputChange(t *testing.T) {
	old := sampleSnapshot()
	updated := sampleSnapshot()
	updated.runs[0].Commands[0].Inputs[0].ValuePostEvaluation = value.Integer(2000)
	updated.runs[0].Commands[0].Inputs[0].ValuePreEvaluation = "2000"

	changes := Diff(old, updated)
	require.NotEmpty(t, changes.Changes)
	critical := changes.CriticalConstructs()
	require.Len(t, critical, 1)
	assert.Equal(t, did.ConstructDid("cmd-1"), critical[0])
}

func TestDiff_OutputChangeIsCritical(t *testing.T) {
	old := sampleSnapshot()
	updated := sampleSnapshot()
	updated.runs[0].Commands[0].Outputs[0].Value = value.String("0xbeef")

	changes := Diff(old, updated)
	require.NotEmpty(t, changes.Changes)
	assert.True(t, changes.Changes[0].Critical)
}

func TestDiff_RemovedConstructReported(t *testing.T) {
	old := sampleSnapshot()
	updated := sampleSnapshot()
	updated.runs[0].Commands = nil

	changes := Diff(old, updated)
	assert.Contains(t, changes.ConstructsToRemove, did.ConstructDid("cmd-1"))
}

func TestDiff_RunAdditionAndRemoval(t *testing.T) {
	old := sampleSnapshot()
	updated := sampleSnapshot()
	extra := sampleRun()
	extra.ID = "staging"
	updated.AddRun(extra)

	changes := Diff(old, updated)
	assert.Contains(t, changes.NewRuns, "staging")
	assert.Empty(t, changes.RemovedRuns)

	reverse := Diff(updated, old)
	assert.Contains(t, reverse.RemovedRuns, "staging")
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	original := sampleSnapshot()
	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded ExecutionSnapshot
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, original.Name, decoded.Name)
	assert.Equal(t, original.Org, decoded.Org)
	require.Len(t, decoded.Runs(), 1)
	run := decoded.Run("default")
	require.NotNil(t, run)
	assert.Equal(t, []string{"API_KEY"}, run.Inputs.Keys())
	require.Len(t, run.Commands, 1)
	assert.Equal(t, did.ConstructDid("cmd-1"), run.Commands[0].ConstructDid)

	// round-tripped snapshots diff clean against the original
	normalized, err := original.Normalize()
	require.NoError(t, err)
	assert.True(t, Diff(normalized, &decoded).IsEmpty())
}

func TestAlignSequences_LCSPairing(t *testing.T) {
	pairs, removed, added := alignSequences(
		[]string{"a", "b", "c", "d"},
		[]string{"a", "c", "x", "d"},
	)
	assert.Len(t, pairs, 3) // a, c, d
	assert.Equal(t, []string{"b"}, removed)
	assert.Equal(t, []string{"x"}, added)
}
