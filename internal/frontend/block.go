package frontend

import (
	"github.com/google/uuid"

	"github.com/recinq/quill/internal/diag"
)

// Block is one serialized panel pushed across the supervision boundary.
type Block struct {
	UUID    uuid.UUID `json:"uuid"`
	Visible bool      `json:"visible"`
	Panel   Panel     `json:"panel"`
}

func NewBlock(id uuid.UUID, panel Panel) *Block {
	return &Block{UUID: id, Visible: true, Panel: panel}
}

// Panel is a one-of: exactly one pointer is set.
type Panel struct {
	ActionPanel *ActionPanelData `json:"action_panel,omitempty"`
	ModalPanel  *ModalPanelData  `json:"modal_panel,omitempty"`
	ErrorPanel  *ErrorPanelData  `json:"error_panel,omitempty"`
	ProgressBar *ProgressBarData `json:"progress_bar,omitempty"`
}

type ActionPanelData struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Groups      []*ActionGroup `json:"groups"`
}

type ModalPanelData struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Groups      []*ActionGroup `json:"groups"`
}

type ErrorPanelData struct {
	Title       string             `json:"title"`
	Diagnostics []*diag.Diagnostic `json:"diagnostics"`
}

type ProgressBarData struct {
	ConstructDids []string            `json:"construct_dids"`
	Statuses      []ProgressBarStatus `json:"statuses"`
}

type ActionGroup struct {
	Title     string            `json:"title,omitempty"`
	SubGroups []*ActionSubGroup `json:"sub_groups"`
}

type ActionSubGroup struct {
	Title                string               `json:"title,omitempty"`
	ActionItems          []*ActionItemRequest `json:"action_items"`
	AllowBatchCompletion bool                 `json:"allow_batch_completion"`
}

// ErrorPanelFromDiagnostics compiles fatal diagnostics into the error panel
// delivered as the last block event of a failed pass.
func ErrorPanelFromDiagnostics(diags []*diag.Diagnostic) *Block {
	return NewBlock(uuid.New(), Panel{ErrorPanel: &ErrorPanelData{
		Title:       "Execution aborted",
		Diagnostics: diags,
	}})
}

// BlockEventKind discriminates the events flowing through the progress
// channel.
type BlockEventKind string

const (
	EventAction                      BlockEventKind = "action"
	EventClear                       BlockEventKind = "clear"
	EventUpdateActionItems           BlockEventKind = "update_action_items"
	EventModal                       BlockEventKind = "modal"
	EventError                       BlockEventKind = "error"
	EventProgressBar                 BlockEventKind = "progress_bar"
	EventUpdateProgressBarStatus     BlockEventKind = "update_progress_bar_status"
	EventUpdateProgressBarVisibility BlockEventKind = "update_progress_bar_visibility"
	EventRunbookCompleted            BlockEventKind = "runbook_completed"
)

// BlockEvent is the single item type of the progress channel.
type BlockEvent struct {
	Kind       BlockEventKind                 `json:"kind"`
	Block      *Block                         `json:"block,omitempty"`
	Updates    []NormalizedActionItemUpdate   `json:"updates,omitempty"`
	Status     *ProgressBarStatusUpdate       `json:"status,omitempty"`
	Visibility *ProgressBarVisibilityUpdate   `json:"visibility,omitempty"`
}

func ActionEvent(b *Block) BlockEvent { return BlockEvent{Kind: EventAction, Block: b} }
func ModalEvent(b *Block) BlockEvent  { return BlockEvent{Kind: EventModal, Block: b} }
func ErrorEvent(b *Block) BlockEvent  { return BlockEvent{Kind: EventError, Block: b} }

func RunbookCompletedEvent() BlockEvent { return BlockEvent{Kind: EventRunbookCompleted} }

func UpdateActionItemsEvent(updates []NormalizedActionItemUpdate) BlockEvent {
	return BlockEvent{Kind: EventUpdateActionItems, Updates: updates}
}
