package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"igarchive/pkg/archive"
	"igarchive/pkg/syncer"
)

// Phase is where the dashboard's pass currently is
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseRunning
	PhaseFinished
)

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// Model is the state of the sync dashboard. It is only mutated from
// Update, on the bubbletea goroutine.
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	account   string
	limit     int
	threshold int

	phase            Phase
	runID            string
	mode             syncer.Mode
	known            int
	checked          int
	skipped          int
	failed           int
	consecutiveKnown int
	recent           []archive.SummaryPost
	downloaded       int
	outcome          *syncer.Outcome
	startedAt        time.Time

	width          int
	height         int
	showHelp       bool
	interrupted    bool
	logMessages    []LogMessage
	maxLogMessages int
	maxRecent      int

	// onInterrupt is called once when the user asks to stop
	onInterrupt func()
	now         func() time.Time
}

// NewModel creates the dashboard for one pass over account. limit and
// threshold feed the progress bar; zero means not applicable.
func NewModel(account string, limit, threshold int, onInterrupt func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	if onInterrupt == nil {
		onInterrupt = func() {}
	}

	return Model{
		spinner:        s,
		progress:       p,
		account:        account,
		limit:          limit,
		threshold:      threshold,
		phase:          PhaseWaiting,
		logMessages:    []LogMessage{},
		maxLogMessages: 50,
		maxRecent:      8,
		onInterrupt:    onInterrupt,
		now:            time.Now,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func (m *Model) passStarted(msg PassStartedMsg) {
	m.phase = PhaseRunning
	m.runID = msg.RunID
	m.mode = msg.Mode
	m.known = msg.Known
	m.startedAt = m.now()
	m.addLogMessage("INFO", fmt.Sprintf("%s pass started, %d items already archived", msg.Mode, msg.Known))
}

func (m *Model) itemSkipped(msg ItemSkippedMsg) {
	m.checked++
	m.skipped++
	m.consecutiveKnown = msg.ConsecutiveKnown
}

func (m *Model) itemDownloaded(msg ItemDownloadedMsg) {
	m.checked++
	m.downloaded++
	m.consecutiveKnown = 0
	m.recent = append(m.recent, msg.Post)
	if len(m.recent) > m.maxRecent {
		m.recent = m.recent[len(m.recent)-m.maxRecent:]
	}
	m.addLogMessage("SUCCESS", "Archived "+msg.Post.Shortcode+" by @"+msg.Post.OwnerUsername)
}

func (m *Model) itemFailed(msg ItemFailedMsg) {
	m.checked++
	m.failed++
	m.consecutiveKnown = 0
	m.addLogMessage("ERROR", "Failed "+msg.ID+": "+msg.Err.Error())
}

func (m *Model) passFinished(msg PassFinishedMsg) {
	m.phase = PhaseFinished
	m.outcome = msg.Outcome
	if msg.Outcome != nil {
		m.addLogMessage("INFO", fmt.Sprintf("Pass finished (%s): %d new, %d skipped, %d failed",
			msg.Outcome.Reason, len(msg.Outcome.NewItems), msg.Outcome.Skipped, msg.Outcome.Failed))
	}
}

// Progress is the fraction shown by the bar: towards the limit when one is
// set, otherwise towards the early stop of an incremental pass
func (m Model) Progress() float64 {
	var p float64
	switch {
	case m.phase == PhaseFinished:
		return 1
	case m.limit > 0:
		p = float64(m.downloaded) / float64(m.limit)
	case m.mode == syncer.ModeIncremental && m.threshold > 0:
		p = float64(m.consecutiveKnown) / float64(m.threshold)
	}
	if p > 1 {
		p = 1
	}
	return p
}

func (m *Model) addLogMessage(level, message string) {
	color := dimWhite
	switch level {
	case "ERROR":
		color = lipgloss.Color("#FF0000")
	case "WARN":
		color = neonOrange
	case "SUCCESS":
		color = neonGreen
	case "INFO":
		color = neonCyan
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    m.now(),
		Level:   level,
		Message: message,
		Color:   color,
	})

	// Keep only the last N messages
	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

func (m Model) elapsed() time.Duration {
	if m.startedAt.IsZero() {
		return 0
	}
	if m.outcome != nil {
		return m.outcome.Duration
	}
	return m.now().Sub(m.startedAt)
}

// rate is archived items per minute
func (m Model) rate() float64 {
	minutes := m.elapsed().Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(m.downloaded) / minutes
}
