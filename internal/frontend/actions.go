package frontend

import (
	"github.com/google/uuid"
)

type actionKind int

const (
	actionNewBlock actionKind = iota
	actionAppendGroup
	actionAppendSubGroup
	actionAppendItem
	actionNewModal
	actionUpdate
)

// action is one entry of the ordered stream a checkability call returns.
type action struct {
	kind       actionKind
	panel      *ActionPanelData
	group      *ActionGroup
	subGroup   *ActionSubGroup
	item       *ActionItemRequest
	groupTitle string
	panelTitle string
	modal      *Block
	update     *ActionItemRequestUpdate
}

// Actions is the ordered list of panel mutations and item updates a command
// or signer emits from its check phase.
type Actions struct {
	store []action
}

func NoActions() *Actions { return &Actions{} }

func NewPanelActions(title, description string) *Actions {
	a := &Actions{}
	a.PushPanel(title, description)
	return a
}

func GroupOfItems(title string, items ...*ActionItemRequest) *Actions {
	a := &Actions{}
	a.PushGroup(title, items...)
	return a
}

func SubGroupOfItems(title string, items ...*ActionItemRequest) *Actions {
	a := &Actions{}
	a.PushSubGroup(title, items...)
	return a
}

func AppendItemActions(item *ActionItemRequest, groupTitle, panelTitle string) *Actions {
	a := &Actions{}
	a.store = append(a.store, action{
		kind:       actionAppendItem,
		item:       item,
		groupTitle: groupTitle,
		panelTitle: panelTitle,
	})
	return a
}

func (a *Actions) PushPanel(title, description string) {
	a.store = append(a.store, action{
		kind:  actionNewBlock,
		panel: &ActionPanelData{Title: title, Description: description},
	})
}

func (a *Actions) PushGroup(title string, items ...*ActionItemRequest) {
	a.store = append(a.store, action{
		kind: actionAppendGroup,
		group: &ActionGroup{
			Title:     title,
			SubGroups: []*ActionSubGroup{{ActionItems: items}},
		},
	})
}

func (a *Actions) PushSubGroup(title string, items ...*ActionItemRequest) {
	if len(items) == 0 {
		return
	}
	a.store = append(a.store, action{
		kind:     actionAppendSubGroup,
		subGroup: &ActionSubGroup{Title: title, ActionItems: items},
	})
}

func (a *Actions) PushModal(block *Block) {
	a.store = append(a.store, action{kind: actionNewModal, modal: block})
}

func (a *Actions) PushActionItemUpdate(update *ActionItemRequestUpdate) {
	a.store = append(a.store, action{kind: actionUpdate, update: update})
}

func (a *Actions) Append(other *Actions) {
	if other == nil {
		return
	}
	a.store = append(a.store, other.store...)
}

func (a *Actions) Len() int { return len(a.store) }

// HasPendingActions reports whether the stream would block the construct:
// any new item, group or panel is pending; a status update is pending unless
// it marks the item successful.
func (a *Actions) HasPendingActions() bool {
	for _, entry := range a.store {
		switch entry.kind {
		case actionAppendGroup, actionAppendSubGroup, actionAppendItem, actionNewBlock, actionNewModal:
			return true
		case actionUpdate:
			if entry.update.ActionStatus == nil || entry.update.ActionStatus.Kind != StatusSuccess {
				return true
			}
		}
	}
	return false
}

// NewActionItemRequests flattens every request carried by the stream.
func (a *Actions) NewActionItemRequests() []*ActionItemRequest {
	var out []*ActionItemRequest
	for _, entry := range a.store {
		switch entry.kind {
		case actionAppendItem:
			out = append(out, entry.item)
		case actionAppendSubGroup:
			out = append(out, entry.subGroup.ActionItems...)
		case actionAppendGroup:
			for _, sub := range entry.group.SubGroups {
				out = append(out, sub.ActionItems...)
			}
		case actionNewBlock:
			for _, group := range entry.panel.Groups {
				for _, sub := range group.SubGroups {
					out = append(out, sub.ActionItems...)
				}
			}
		case actionNewModal:
			if entry.modal.Panel.ModalPanel != nil {
				for _, group := range entry.modal.Panel.ModalPanel.Groups {
					for _, sub := range group.SubGroups {
						out = append(out, sub.ActionItems...)
					}
				}
			}
		}
	}
	return out
}

func containsValidateModal(items []*ActionItemRequest) bool {
	for _, item := range items {
		if _, ok := item.ActionType.(*ValidateModalData); ok {
			return true
		}
	}
	return false
}

// CompileToBlockEvents turns the collected action stream into the block
// events shipped to the supervisor. It maintains a current panel and an
// optional current modal, guarantees no duplicate BlockId across emitted
// blocks, coalesces trailing empty subgroups, converts already-surfaced
// items into updates, and emits a single UpdateActionItems event carrying
// every diff.
func (a *Actions) CompileToBlockEvents(existing map[BlockId]*ActionItemRequest) []BlockEvent {
	var events []BlockEvent
	var updates []NormalizedActionItemUpdate
	seen := make(map[BlockId]bool)
	currentPanel := &ActionPanelData{}
	var currentModal *Block
	index := 0

	// admitItem filters duplicates and converts surfaced items into diffs.
	admitItem := func(item *ActionItemRequest) *ActionItemRequest {
		if seen[item.ID] {
			return nil
		}
		if prev, ok := existing[item.ID]; ok {
			if update := UpdateFromDiff(item, prev); update != nil {
				if normalized := update.Normalize(existing); normalized != nil {
					updates = append(updates, *normalized)
				}
			}
			return nil
		}
		seen[item.ID] = true
		item.Index = index
		index++
		return item
	}

	admitAll := func(items []*ActionItemRequest) []*ActionItemRequest {
		var out []*ActionItemRequest
		for _, item := range items {
			if admitted := admitItem(item); admitted != nil {
				out = append(out, admitted)
			}
		}
		return out
	}

	targetGroups := func() *[]*ActionGroup {
		if currentModal != nil {
			return &currentModal.Panel.ModalPanel.Groups
		}
		return &currentPanel.Groups
	}

	flushPanel := func() {
		pruned := pruneEmptyGroups(currentPanel.Groups)
		if len(pruned) == 0 {
			currentPanel = &ActionPanelData{}
			return
		}
		currentPanel.Groups = pruned
		events = append(events, ActionEvent(NewBlock(uuid.New(), Panel{ActionPanel: currentPanel})))
		currentPanel = &ActionPanelData{}
	}

	closeModal := func() {
		if currentModal == nil {
			return
		}
		currentModal.Panel.ModalPanel.Groups = pruneEmptyGroups(currentModal.Panel.ModalPanel.Groups)
		events = append(events, ModalEvent(currentModal))
		currentModal = nil
	}

	for _, entry := range a.store {
		switch entry.kind {
		case actionNewBlock:
			flushPanel()
			currentPanel = &ActionPanelData{
				Title:       entry.panel.Title,
				Description: entry.panel.Description,
				Groups:      entry.panel.Groups,
			}
		case actionNewModal:
			currentModal = entry.modal
			if currentModal.Panel.ModalPanel == nil {
				currentModal.Panel.ModalPanel = &ModalPanelData{}
			}
		case actionAppendGroup:
			admitted := &ActionGroup{Title: entry.group.Title}
			for _, sub := range entry.group.SubGroups {
				items := admitAll(sub.ActionItems)
				if len(items) > 0 {
					admitted.SubGroups = append(admitted.SubGroups, &ActionSubGroup{
						Title:                sub.Title,
						ActionItems:          items,
						AllowBatchCompletion: sub.AllowBatchCompletion,
					})
				}
			}
			closesModal := groupContainsValidateModal(entry.group)
			if len(admitted.SubGroups) > 0 {
				groups := targetGroups()
				*groups = append(*groups, admitted)
			}
			if closesModal {
				closeModal()
			}
		case actionAppendSubGroup:
			items := admitAll(entry.subGroup.ActionItems)
			closesModal := containsValidateModal(entry.subGroup.ActionItems)
			if len(items) > 0 {
				groups := targetGroups()
				appendSubGroup(groups, &ActionSubGroup{
					Title:                entry.subGroup.Title,
					ActionItems:          items,
					AllowBatchCompletion: entry.subGroup.AllowBatchCompletion,
				})
			}
			if closesModal {
				closeModal()
			}
		case actionAppendItem:
			item := admitItem(entry.item)
			if item == nil {
				continue
			}
			groups := targetGroups()
			if len(*groups) == 0 {
				*groups = append(*groups, &ActionGroup{Title: entry.groupTitle})
			}
			appendSubGroup(groups, nil)
			last := (*groups)[len(*groups)-1]
			sub := last.SubGroups[len(last.SubGroups)-1]
			sub.ActionItems = append(sub.ActionItems, item)
			sub.AllowBatchCompletion = true
			if currentModal == nil && entry.panelTitle != "" {
				currentPanel.Title = entry.panelTitle
			}
		case actionUpdate:
			if normalized := entry.update.Normalize(existing); normalized != nil {
				updates = append(updates, *normalized)
			}
		}
	}

	closeModal()
	flushPanel()

	if len(updates) > 0 {
		events = append(events, UpdateActionItemsEvent(updates))
	}
	return events
}

func groupContainsValidateModal(group *ActionGroup) bool {
	for _, sub := range group.SubGroups {
		if containsValidateModal(sub.ActionItems) {
			return true
		}
	}
	return false
}

// appendSubGroup ensures the last group ends with a usable subgroup. Passing
// nil reuses a trailing empty subgroup instead of stacking another one.
func appendSubGroup(groups *[]*ActionGroup, sub *ActionSubGroup) {
	if len(*groups) == 0 {
		*groups = append(*groups, &ActionGroup{})
	}
	last := (*groups)[len(*groups)-1]
	if sub == nil {
		if len(last.SubGroups) == 0 || len(last.SubGroups[len(last.SubGroups)-1].ActionItems) > 0 {
			last.SubGroups = append(last.SubGroups, &ActionSubGroup{})
		}
		return
	}
	if len(last.SubGroups) > 0 && len(last.SubGroups[len(last.SubGroups)-1].ActionItems) == 0 {
		last.SubGroups[len(last.SubGroups)-1] = sub
		return
	}
	last.SubGroups = append(last.SubGroups, sub)
}

func pruneEmptyGroups(groups []*ActionGroup) []*ActionGroup {
	var out []*ActionGroup
	for _, group := range groups {
		var subs []*ActionSubGroup
		for _, sub := range group.SubGroups {
			if len(sub.ActionItems) > 0 {
				subs = append(subs, sub)
			}
		}
		if len(subs) > 0 {
			out = append(out, &ActionGroup{Title: group.Title, SubGroups: subs})
		}
	}
	return out
}
