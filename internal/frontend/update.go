package frontend

import (
	"github.com/recinq/quill/internal/did"
)

// ActionItemRequestUpdate mutates an already-surfaced request. The target is
// addressed either by BlockId or by (construct did, internal key).
type ActionItemRequestUpdate struct {
	ID           BlockId
	ConstructDid did.ConstructDid
	InternalKey  string
	ActionStatus *ActionItemStatus
	ActionType   ActionItemRequestType
}

func UpdateFromID(id BlockId) *ActionItemRequestUpdate {
	return &ActionItemRequestUpdate{ID: id}
}

func UpdateFromContext(constructDid did.ConstructDid, internalKey string) *ActionItemRequestUpdate {
	return &ActionItemRequestUpdate{ConstructDid: constructDid, InternalKey: internalKey}
}

func (u *ActionItemRequestUpdate) SetStatus(status ActionItemStatus) *ActionItemRequestUpdate {
	u.ActionStatus = &status
	return u
}

func (u *ActionItemRequestUpdate) SetType(t ActionItemRequestType) *ActionItemRequestUpdate {
	u.ActionType = t
	return u
}

// UpdateFromDiff compares a freshly computed request against the surfaced
// one and returns an update iff the id matches and the status or a mutable
// property of the type differs. Identical requests produce no update, which
// is what keeps panels from churning between passes.
func UpdateFromDiff(newReq, existing *ActionItemRequest) *ActionItemRequestUpdate {
	if newReq.ID != existing.ID {
		return nil
	}
	update := UpdateFromID(existing.ID)
	changed := false
	if !newReq.ActionStatus.Equal(existing.ActionStatus) {
		update.SetStatus(newReq.ActionStatus)
		changed = true
	}
	if updatedType, ok := newReq.ActionType.DiffMutable(existing.ActionType); ok {
		update.SetType(updatedType)
		changed = true
	}
	if !changed {
		return nil
	}
	return update
}

// NormalizedActionItemUpdate is the wire form: the target resolved to a
// concrete BlockId with the final status and type.
type NormalizedActionItemUpdate struct {
	ID           BlockId               `json:"id"`
	ActionStatus *ActionItemStatus     `json:"action_status,omitempty"`
	ActionType   ActionItemRequestType `json:"action_type,omitempty"`
}

// Normalize resolves the update target against the surfaced request set and
// returns nil when the target request does not exist (nothing to update).
func (u *ActionItemRequestUpdate) Normalize(requests map[BlockId]*ActionItemRequest) *NormalizedActionItemUpdate {
	var target *ActionItemRequest
	if u.ID != "" {
		target = requests[u.ID]
	} else {
		for _, req := range requests {
			if req.ConstructDid == u.ConstructDid && req.InternalKey == u.InternalKey {
				target = req
				break
			}
		}
	}
	if target == nil {
		return nil
	}
	out := &NormalizedActionItemUpdate{ID: target.ID}
	if u.ActionStatus != nil {
		out.ActionStatus = u.ActionStatus
	}
	if u.ActionType != nil {
		out.ActionType = u.ActionType
	}
	return out
}

// Apply mutates the surfaced request in place, returning whether anything
// changed.
func (n *NormalizedActionItemUpdate) Apply(requests map[BlockId]*ActionItemRequest) bool {
	target, ok := requests[n.ID]
	if !ok {
		return false
	}
	changed := false
	if n.ActionStatus != nil && !target.ActionStatus.Equal(*n.ActionStatus) {
		target.ActionStatus = *n.ActionStatus
		changed = true
	}
	if n.ActionType != nil {
		target.ActionType = n.ActionType
		changed = true
	}
	return changed
}
