package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"igarchive/pkg/syncer"
)

// View renders the entire TUI
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())

	width := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsPanel(width),
		m.renderProgressPanel(width),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderRecentPanel(width),
		m.renderLogsPanel(width),
	)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help, q to stop"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m Model) renderHeader() string {
	status := m.spinner.View() + " syncing"
	switch {
	case m.phase == PhaseWaiting:
		status = m.spinner.View() + " connecting"
	case m.phase == PhaseFinished:
		status = successStyle.Render("✓ done")
	case m.interrupted:
		status = warningStyle.Render("stopping")
	}
	title := titleStyle.Render(" IGARCHIVE ")
	account := statsValueStyle.Render("@" + m.account)
	return headerStyle.Width(m.width).Render(fmt.Sprintf("%s %s  %s", title, account, status))
}

func (m Model) renderStatsPanel(width int) string {
	title := titleStyle.Render(" PASS ")

	mode := string(m.mode)
	if mode == "" {
		mode = "-"
	}
	stats := []string{
		stat("Mode:", mode),
		stat("Already archived:", fmt.Sprintf("%d", m.known)),
		stat("Checked:", fmt.Sprintf("%d", m.checked)),
		stat("New:", fmt.Sprintf("%d", m.downloaded)),
		stat("Skipped:", fmt.Sprintf("%d", m.skipped)),
		stat("Elapsed:", formatDuration(m.elapsed())),
		stat("Rate:", fmt.Sprintf("%.1f/min", m.rate())),
	}
	if m.failed > 0 {
		stats = append(stats, errorStyle.Render(fmt.Sprintf("%d failed", m.failed)))
	}
	if m.outcome != nil {
		stats = append(stats, stat("Stopped:", string(m.outcome.Reason)))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, stats...)),
	)
}

func stat(label, value string) string {
	return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
}

func (m Model) renderProgressPanel(width int) string {
	var title, caption string
	switch {
	case m.limit > 0:
		title = " LIMIT "
		caption = fmt.Sprintf("%d of %d new items", m.downloaded, m.limit)
	case m.mode == syncer.ModeIncremental && m.threshold > 0:
		title = " CATCHING UP "
		caption = fmt.Sprintf("%d of %d consecutive known items", m.consecutiveKnown, m.threshold)
	default:
		title = " FULL PASS "
		caption = "reading the whole saved feed"
	}

	bar := m.progress
	bar.Width = width - 8
	if bar.Width < 10 {
		bar.Width = 10
	}

	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		bar.ViewAs(m.Progress()),
		dimStyle.Render(caption),
	))
}

func (m Model) renderRecentPanel(width int) string {
	title := titleStyle.Render(" RECENTLY ARCHIVED ")

	if len(m.recent) == 0 {
		return panelStyle.Width(width).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, dimStyle.Render("Nothing new yet")),
		)
	}

	var items []string
	for i := len(m.recent) - 1; i >= 0; i-- {
		p := m.recent[i]
		kind := "▣"
		if p.IsVideo {
			kind = "▶"
		}
		line := fmt.Sprintf("%s %s @%s", kind, p.Shortcode, p.OwnerUsername)
		if caption := firstLine(p.Caption); caption != "" {
			line += " " + dimStyle.Render(truncate(caption, width-len(line)-8))
		}
		items = append(items, recentItemStyle.Render(line))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...)),
	)
}

func (m Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" LOG ")

	start := len(m.logMessages) - 10
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, log := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))
		message := logMessageStyle.Render(truncate(log.Message, width-25))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, message))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = dimStyle.Render("No logs yet...")
	}

	logsHeight := m.height - 24
	if logsHeight < 5 {
		logsHeight = 5
	}

	return panelStyle.Width(width).Height(logsHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

func (m Model) renderHelp() string {
	help := `
  Keys:
    q, ctrl+c - Stop after the current item
    ctrl+l    - Clear the log
    ?         - Toggle this help

  The bar tracks the new-item limit when one is set. Otherwise an
  incremental pass stops once enough consecutive items are known.
`
	return panelStyle.Width(m.width).Render(help)
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
