package ui

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
)

// StatusTracker keeps the running counters of a sync pass
type StatusTracker struct {
	Checked    int
	Skipped    int
	Downloaded int
	Failed     int
	// Target is the number of new items the bar counts towards; 0 hides it
	Target    int
	StartTime time.Time

	now func() time.Time
}

// NewStatusTracker creates a tracker started now
func NewStatusTracker(target int) *StatusTracker {
	return &StatusTracker{
		Target:    target,
		StartTime: time.Now(),
		now:       time.Now,
	}
}

// IncrementDownloaded counts a newly archived item
func (st *StatusTracker) IncrementDownloaded() {
	st.Checked++
	st.Downloaded++
}

// IncrementSkipped counts an item that was already archived
func (st *StatusTracker) IncrementSkipped() {
	st.Checked++
	st.Skipped++
}

// IncrementFailed counts an item that could not be archived
func (st *StatusTracker) IncrementFailed() {
	st.Checked++
	st.Failed++
}

// Bar returns a progress bar towards Target, or "" without a target
func (st *StatusTracker) Bar(width int) string {
	if st.Target <= 0 {
		return ""
	}
	progress := float64(st.Downloaded) / float64(st.Target)
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))

	return fmt.Sprintf("[%s] %d/%d",
		strings.Repeat(ProgressBar, filled)+strings.Repeat(ProgressEmpty, width-filled),
		st.Downloaded, st.Target)
}

// Elapsed returns the time since tracking started
func (st *StatusTracker) Elapsed() time.Duration {
	return st.now().Sub(st.StartTime)
}

// Rate returns archived items per minute
func (st *StatusTracker) Rate() float64 {
	elapsed := st.Elapsed().Minutes()
	if elapsed <= 0 {
		return 0
	}
	return float64(st.Downloaded) / elapsed
}
