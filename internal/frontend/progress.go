package frontend

import (
	"github.com/google/uuid"

	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
)

type ProgressBarStatusColor string

const (
	ColorGreen  ProgressBarStatusColor = "Green"
	ColorYellow ProgressBarStatusColor = "Yellow"
	ColorRed    ProgressBarStatusColor = "Red"
)

type ProgressBarStatus struct {
	Status      string                 `json:"status"`
	StatusColor ProgressBarStatusColor `json:"status_color"`
	Message     string                 `json:"message"`
	Diagnostic  *diag.Diagnostic       `json:"diagnostic,omitempty"`
}

func NewStatusMsg(color ProgressBarStatusColor, status, message string) ProgressBarStatus {
	return ProgressBarStatus{Status: status, StatusColor: color, Message: message}
}

func NewStatusErr(status, message string, d *diag.Diagnostic) ProgressBarStatus {
	return ProgressBarStatus{Status: status, StatusColor: ColorRed, Message: message, Diagnostic: d}
}

type ProgressBarStatusUpdate struct {
	ProgressBarUuid uuid.UUID         `json:"progress_bar_uuid"`
	ConstructDid    did.ConstructDid  `json:"construct_did"`
	NewStatus       ProgressBarStatus `json:"new_status"`
}

type ProgressBarVisibilityUpdate struct {
	ProgressBarUuid uuid.UUID `json:"progress_bar_uuid"`
	Visible         bool      `json:"visible"`
}

var progressSymbols = [8]string{"|", "/", "-", "\\", "|", "/", "-", "\\"}

// ProgressSymbol cycles the 8-step spinner table.
type ProgressSymbol struct {
	current int
}

func (p *ProgressSymbol) Next() string {
	p.current = (p.current + 1) % len(progressSymbols)
	return progressSymbols[p.current]
}

func (p *ProgressSymbol) Pending() string {
	return "Pending " + p.Next()
}

// StatusUpdater pushes per-construct progress through the block event
// channel: a cycling yellow spinner while pending, a terminal color once the
// command settles.
type StatusUpdater struct {
	update   ProgressBarStatusUpdate
	tx       chan<- BlockEvent
	progress ProgressSymbol
}

func NewStatusUpdater(backgroundTasksUuid uuid.UUID, constructDid did.ConstructDid, tx chan<- BlockEvent) *StatusUpdater {
	u := &StatusUpdater{tx: tx}
	u.update = ProgressBarStatusUpdate{
		ProgressBarUuid: backgroundTasksUuid,
		ConstructDid:    constructDid,
		NewStatus:       NewStatusMsg(ColorYellow, u.progress.Pending(), ""),
	}
	return u
}

func (u *StatusUpdater) PropagatePendingStatus(message string) {
	u.update.NewStatus = NewStatusMsg(ColorYellow, u.progress.Pending(), message)
	u.send()
}

func (u *StatusUpdater) PropagateStatus(status ProgressBarStatus) {
	u.update.NewStatus = status
	u.send()
}

func (u *StatusUpdater) PropagateFailedStatus(message string, d *diag.Diagnostic) {
	u.update.NewStatus = NewStatusErr("Failed", message, d)
	u.send()
}

func (u *StatusUpdater) send() {
	if u.tx == nil {
		return
	}
	update := u.update
	u.tx <- BlockEvent{Kind: EventUpdateProgressBarStatus, Status: &update}
}
