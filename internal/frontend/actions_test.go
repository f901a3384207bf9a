package frontend

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/value"
)

func reviewItem(construct, name string) *ActionItemRequest {
	return NewActionItemRequest(
		did.ConstructDid(construct),
		"Review "+name,
		"",
		StatusTodoV(),
		&ReviewInputRequest{InputName: name, Value: value.Integer(1)},
		"check_"+name,
	)
}

func TestActions_HasPendingActions(t *testing.T) {
	assert.False(t, NoActions().HasPendingActions())

	pending := GroupOfItems("g", reviewItem("c1", "amount"))
	assert.True(t, pending.HasPendingActions())

	successUpdate := NoActions()
	successUpdate.PushActionItemUpdate(
		UpdateFromID(BlockId("x")).SetStatus(StatusSuccessMsg("done")))
	assert.False(t, successUpdate.HasPendingActions())

	errorUpdate := NoActions()
	errorUpdate.PushActionItemUpdate(
		UpdateFromID(BlockId("x")).SetStatus(StatusBlockedV()))
	assert.True(t, errorUpdate.HasPendingActions())
}

func TestCompile_SinglePanelPerBlock(t *testing.T) {
	actions := NewPanelActions("Runbook checklist", "")
	actions.PushGroup("Signers", reviewItem("c1", "a"))
	actions.PushSubGroup("", reviewItem("c2", "b"))

	events := actions.CompileToBlockEvents(map[BlockId]*ActionItemRequest{})
	require.Len(t, events, 1)
	require.Equal(t, EventAction, events[0].Kind)
	panel := events[0].Block.Panel.ActionPanel
	require.NotNil(t, panel)
	assert.Equal(t, "Runbook checklist", panel.Title)

	total := 0
	for _, group := range panel.Groups {
		for _, sub := range group.SubGroups {
			total += len(sub.ActionItems)
		}
	}
	assert.Equal(t, 2, total)
}

func TestCompile_DeduplicatesBlockIds(t *testing.T) {
	item := reviewItem("c1", "amount")
	duplicate := reviewItem("c1", "amount")

	actions := NoActions()
	actions.PushGroup("g1", item)
	actions.PushGroup("g2", duplicate)

	events := actions.CompileToBlockEvents(map[BlockId]*ActionItemRequest{})
	require.Len(t, events, 1)
	panel := events[0].Block.Panel.ActionPanel

	seen := map[BlockId]int{}
	for _, group := range panel.Groups {
		for _, sub := range group.SubGroups {
			for _, emitted := range sub.ActionItems {
				seen[emitted.ID]++
			}
		}
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "block id %s appeared %d times", id, count)
	}
}

func TestCompile_ExistingItemBecomesUpdate(t *testing.T) {
	existing := signedTxRequest(value.String("p1"), false)
	registry := map[BlockId]*ActionItemRequest{existing.ID: existing}

	fresh := signedTxRequest(value.String("p2"), false)
	actions := NoActions()
	actions.PushSubGroup("", fresh)

	events := actions.CompileToBlockEvents(registry)
	// no panel re-emitted, one update event with the payload diff
	require.Len(t, events, 1)
	require.Equal(t, EventUpdateActionItems, events[0].Kind)
	require.Len(t, events[0].Updates, 1)
	assert.Equal(t, existing.ID, events[0].Updates[0].ID)
}

func TestCompile_UnchangedExistingItemEmitsNothing(t *testing.T) {
	existing := signedTxRequest(value.String("p"), false)
	registry := map[BlockId]*ActionItemRequest{existing.ID: existing}

	actions := NoActions()
	actions.PushSubGroup("", signedTxRequest(value.String("p"), false))

	events := actions.CompileToBlockEvents(registry)
	assert.Empty(t, events)
}

func TestCompile_ValidateModalClosesModal(t *testing.T) {
	modal := NewBlock(mustUUID(), Panel{ModalPanel: &ModalPanelData{Title: "Confirm"}})
	validate := NewActionItemRequest("", "Confirm", "", StatusTodoV(), &ValidateModalData{}, "validate_modal")

	actions := NoActions()
	actions.PushModal(modal)
	actions.PushSubGroup("", reviewItem("c1", "a"), validate)
	actions.PushSubGroup("", reviewItem("c2", "b"))

	events := actions.CompileToBlockEvents(map[BlockId]*ActionItemRequest{})
	require.Len(t, events, 2)
	assert.Equal(t, EventModal, events[0].Kind)
	assert.Equal(t, EventAction, events[1].Kind, "items after ValidateModal belong to a fresh panel")
}

func TestCompile_TrailingEmptySubGroupsCoalesced(t *testing.T) {
	actions := NoActions()
	actions.PushGroup("g", reviewItem("c1", "a"))
	// empty subgroups are dropped at the API level already
	actions.PushSubGroup("empty")

	events := actions.CompileToBlockEvents(map[BlockId]*ActionItemRequest{})
	require.Len(t, events, 1)
	for _, group := range events[0].Block.Panel.ActionPanel.Groups {
		for _, sub := range group.SubGroups {
			assert.NotEmpty(t, sub.ActionItems)
		}
	}
}

func TestNormalize_ByContext(t *testing.T) {
	item := reviewItem("c9", "amount")
	registry := map[BlockId]*ActionItemRequest{item.ID: item}

	update := UpdateFromContext(did.ConstructDid("c9"), "check_amount").
		SetStatus(StatusSuccessMsg("ok"))
	normalized := update.Normalize(registry)
	require.NotNil(t, normalized)
	assert.Equal(t, item.ID, normalized.ID)

	missing := UpdateFromContext(did.ConstructDid("nope"), "check_amount").
		SetStatus(StatusSuccessMsg("ok"))
	assert.Nil(t, missing.Normalize(registry))
}

func mustUUID() uuid.UUID {
	return uuid.MustParse("01020304-0000-4000-8000-000000000000")
}
