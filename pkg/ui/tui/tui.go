// Package tui renders a live dashboard of a sync pass with bubbletea.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"igarchive/pkg/archive"
	"igarchive/pkg/syncer"
)

// TUI runs the dashboard and forwards controller events to it
type TUI struct {
	program *tea.Program
	model   *Model
	done    chan struct{}
	err     error
}

var _ syncer.Observer = (*TUI)(nil)

// NewTUI creates the dashboard for one pass over account. onInterrupt is
// called when the user presses q or ctrl+c and should cancel the pass.
func NewTUI(account string, limit, threshold int, onInterrupt func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(account, limit, threshold, onInterrupt)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(&model, opts...),
		model:   &model,
		done:    make(chan struct{}),
	}
}

// Start runs the dashboard in the background
func (t *TUI) Start() {
	go func() {
		defer close(t.done)
		_, t.err = t.program.Run()
	}()
}

// Wait blocks until the dashboard has exited and returns its error
func (t *TUI) Wait() error {
	<-t.done
	return t.err
}

// Stop quits the dashboard without waiting for the pass to finish
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

func (t *TUI) PassStarted(runID string, mode syncer.Mode, known int) {
	t.Send(PassStartedMsg{RunID: runID, Mode: mode, Known: known})
}

func (t *TUI) ItemSkipped(id string, consecutiveKnown int) {
	t.Send(ItemSkippedMsg{ID: id, ConsecutiveKnown: consecutiveKnown})
}

func (t *TUI) ItemDownloaded(post archive.SummaryPost) {
	t.Send(ItemDownloadedMsg{Post: post})
}

func (t *TUI) ItemFailed(id string, err error) {
	t.Send(ItemFailedMsg{ID: id, Err: err})
}

func (t *TUI) PassFinished(outcome *syncer.Outcome) {
	t.Send(PassFinishedMsg{Outcome: outcome})
}

// Log adds a line to the dashboard's log panel
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}
