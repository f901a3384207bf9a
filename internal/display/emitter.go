// Package display renders the block event stream for the terminal: NDJSON
// for machine consumers on stdout, a colorized single-line format for
// humans.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/recinq/quill/internal/frontend"
)

var (
	dimStyle     = lipgloss.NewStyle().Faint(true)
	greenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	yellowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	redStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

type EventEmitter interface {
	Emit(event frontend.BlockEvent)
}

// NDJSONEmitter writes one JSON object per event; with humanReadable set it
// renders panels and progress updates as colorized lines instead.
type NDJSONEmitter struct {
	mu            sync.Mutex
	out           io.Writer
	encoder       *json.Encoder
	humanReadable bool
}

func NewNDJSONEmitter() *NDJSONEmitter {
	return &NDJSONEmitter{out: os.Stdout, encoder: json.NewEncoder(os.Stdout)}
}

func NewHumanReadableEmitter(out io.Writer) *NDJSONEmitter {
	return &NDJSONEmitter{out: out, encoder: json.NewEncoder(out), humanReadable: true}
}

func (e *NDJSONEmitter) Emit(event frontend.BlockEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.humanReadable {
		e.encoder.Encode(event)
		return
	}

	ts := dimStyle.Render("[" + time.Now().Format("15:04:05") + "]")
	switch event.Kind {
	case frontend.EventAction:
		e.renderPanel(ts, event.Block)
	case frontend.EventModal:
		e.renderPanel(ts, event.Block)
	case frontend.EventError:
		if event.Block != nil && event.Block.Panel.ErrorPanel != nil {
			for _, d := range event.Block.Panel.ErrorPanel.Diagnostics {
				fmt.Fprintf(e.out, "%s %s %s\n", ts, redStyle.Render("error"), d.Error())
			}
		}
	case frontend.EventUpdateActionItems:
		for _, update := range event.Updates {
			status := ""
			if update.ActionStatus != nil {
				status = string(update.ActionStatus.Kind)
			}
			fmt.Fprintf(e.out, "%s %s %s %s\n", ts, pendingStyle.Render("update"),
				shortID(string(update.ID)), status)
		}
	case frontend.EventUpdateProgressBarStatus:
		if event.Status == nil {
			return
		}
		style := yellowStyle
		switch event.Status.NewStatus.StatusColor {
		case frontend.ColorGreen:
			style = greenStyle
		case frontend.ColorRed:
			style = redStyle
		}
		fmt.Fprintf(e.out, "%s %s %s %s\n", ts,
			style.Render(fmt.Sprintf("%-10s", event.Status.NewStatus.Status)),
			shortID(event.Status.ConstructDid.String()),
			event.Status.NewStatus.Message)
	case frontend.EventRunbookCompleted:
		fmt.Fprintf(e.out, "%s %s\n", ts, greenStyle.Render("runbook completed"))
	}
}

func (e *NDJSONEmitter) renderPanel(ts string, block *frontend.Block) {
	if block == nil {
		return
	}
	var title string
	var groups []*frontend.ActionGroup
	switch {
	case block.Panel.ActionPanel != nil:
		title = block.Panel.ActionPanel.Title
		groups = block.Panel.ActionPanel.Groups
	case block.Panel.ModalPanel != nil:
		title = block.Panel.ModalPanel.Title
		groups = block.Panel.ModalPanel.Groups
	default:
		return
	}
	if title != "" {
		fmt.Fprintf(e.out, "%s %s\n", ts, titleStyle.Render(title))
	}
	for _, group := range groups {
		if group.Title != "" {
			fmt.Fprintf(e.out, "%s   %s\n", ts, group.Title)
		}
		for _, sub := range group.SubGroups {
			for _, item := range sub.ActionItems {
				fmt.Fprintf(e.out, "%s     %s %s (%s)\n", ts,
					pendingStyle.Render("•"), item.Title, item.ActionType.TypeName())
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Drain forwards every event from the channel until it closes; runs in its
// own goroutine alongside the pass loop.
func Drain(events <-chan frontend.BlockEvent, emitter EventEmitter) {
	for event := range events {
		emitter.Emit(event)
	}
}
