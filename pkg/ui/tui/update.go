package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"igarchive/pkg/archive"
	"igarchive/pkg/syncer"
)

// PassStartedMsg is sent when the controller begins a pass
type PassStartedMsg struct {
	RunID string
	Mode  syncer.Mode
	Known int
}

// ItemSkippedMsg is sent for every item already in the archive
type ItemSkippedMsg struct {
	ID               string
	ConsecutiveKnown int
}

// ItemDownloadedMsg is sent for every newly archived item
type ItemDownloadedMsg struct {
	Post archive.SummaryPost
}

// ItemFailedMsg is sent when an item could not be archived
type ItemFailedMsg struct {
	ID  string
	Err error
}

// PassFinishedMsg is sent once the pass is over
type PassFinishedMsg struct {
	Outcome *syncer.Outcome
}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to refresh the elapsed time
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.phase == PhaseFinished {
			return m, nil
		}
		return m, tickCmd()

	case PassStartedMsg:
		m.passStarted(msg)
		return m, nil

	case ItemSkippedMsg:
		m.itemSkipped(msg)
		return m, nil

	case ItemDownloadedMsg:
		m.itemDownloaded(msg)
		return m, nil

	case ItemFailedMsg:
		m.itemFailed(msg)
		return m, nil

	case PassFinishedMsg:
		m.passFinished(msg)
		return m, tea.Quit

	case LogMsg:
		m.addLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		// The pass stops cleanly; the dashboard quits on PassFinishedMsg
		if !m.interrupted {
			m.interrupted = true
			m.addLogMessage("WARN", "Stopping after the current item...")
			m.onInterrupt()
		}
		if m.phase != PhaseRunning {
			return m, tea.Quit
		}
		return m, nil

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.logMessages = []LogMessage{}
		return m, nil
	}

	return m, nil
}

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
