package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"igarchive/pkg/archive"
	"igarchive/pkg/syncer"
)

// Reporter prints the progress of a sync pass to a terminal. In line mode
// a single status line is redrawn in place; in verbose mode every item
// gets its own line.
type Reporter struct {
	mu        sync.Mutex
	out       io.Writer
	account   string
	verbose   bool
	threshold int
	tracker   *StatusTracker
	mode      syncer.Mode
	known     int
	lastItem  string
}

var _ syncer.Observer = (*Reporter)(nil)

// NewReporter creates a reporter for one pass over account. limit is the
// new-item limit of the pass, 0 when unbounded.
func NewReporter(out io.Writer, account string, limit int, verbose bool) *Reporter {
	return &Reporter{
		out:     out,
		account: account,
		verbose: verbose,
		tracker: NewStatusTracker(limit),
	}
}

// SetThreshold shows the early stop progress of incremental passes
func (r *Reporter) SetThreshold(threshold int) {
	r.threshold = threshold
}

func (r *Reporter) PassStarted(runID string, mode syncer.Mode, known int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mode = mode
	r.known = known
	r.tracker.StartTime = r.tracker.now()

	fmt.Fprintf(r.out, "%s %s sync of @%s (%d already archived)\n",
		Magenta("→"), mode, r.account, known)
	if r.verbose {
		fmt.Fprintf(r.out, "  %s\n", Dim("run "+runID))
	}
}

func (r *Reporter) ItemSkipped(id string, consecutiveKnown int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.IncrementSkipped()
	r.lastItem = id
	if r.verbose {
		line := fmt.Sprintf("%s %s already archived", Dim("·"), id)
		if r.mode == syncer.ModeIncremental && r.threshold > 0 {
			line += Dim(fmt.Sprintf(" (%d/%d known in a row)", consecutiveKnown, r.threshold))
		}
		fmt.Fprintln(r.out, line)
		return
	}
	r.printProgress()
}

func (r *Reporter) ItemDownloaded(post archive.SummaryPost) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.IncrementDownloaded()
	r.lastItem = post.Shortcode
	if r.verbose {
		line := fmt.Sprintf("%s %s @%s", Green("✓"), post.Shortcode, post.OwnerUsername)
		if caption := strings.TrimSpace(post.Caption); caption != "" {
			caption, _, _ = strings.Cut(caption, "\n")
			if len([]rune(caption)) > 50 {
				caption = string([]rune(caption)[:47]) + "..."
			}
			line += " • " + Dim(caption)
		}
		if post.Likes > 0 {
			line += " • " + Dim(fmt.Sprintf("♥ %d", post.Likes))
		}
		fmt.Fprintln(r.out, line)
		return
	}
	r.printProgress()
}

func (r *Reporter) ItemFailed(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.IncrementFailed()
	r.lastItem = id
	if r.verbose {
		fmt.Fprintf(r.out, "%s %s failed: %v\n", Red("✗"), id, err)
		return
	}
	r.printProgress()
}

func (r *Reporter) PassFinished(outcome *syncer.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.verbose {
		fmt.Fprintln(r.out)
	}
	if outcome == nil {
		return
	}

	fmt.Fprintf(r.out, "%s Archived %d new items from @%s's saved posts\n",
		Green("✓"), len(outcome.NewItems), r.account)
	fmt.Fprintf(r.out, "  %s %d checked, %d already archived in %s (%s)\n",
		Dim("•"), outcome.Checked, outcome.Skipped, formatDuration(outcome.Duration), describeReason(outcome.Reason))
	if outcome.Failed > 0 {
		fmt.Fprintf(r.out, "  %s %s\n", Dim("•"), Red(fmt.Sprintf("%d items failed, they are retried on the next sync", outcome.Failed)))
	}
}

// printProgress redraws the status line
func (r *Reporter) printProgress() {
	t := r.tracker
	parts := []string{Cyan("@" + r.account)}
	if bar := t.Bar(20); bar != "" {
		parts = append(parts, bar)
	}
	parts = append(parts,
		fmt.Sprintf("%d new", t.Downloaded),
		fmt.Sprintf("%d checked", t.Checked),
		fmt.Sprintf("%.1f/min", t.Rate()),
		formatDuration(t.Elapsed()),
	)
	if r.lastItem != "" {
		parts = append(parts, r.lastItem)
	}
	if t.Failed > 0 {
		parts = append(parts, Red(fmt.Sprintf("%d errors", t.Failed)))
	}

	fmt.Fprintf(r.out, "\r\033[K%s", strings.Join(parts, " • "))
}

func describeReason(reason syncer.Reason) string {
	switch reason {
	case syncer.ReasonCaughtUp:
		return "caught up with the archive"
	case syncer.ReasonLimitReached:
		return "limit reached"
	case syncer.ReasonExhausted:
		return "end of saved posts"
	case syncer.ReasonCancelled:
		return "interrupted"
	case syncer.ReasonFeedError:
		return "stopped by an error"
	}
	return string(reason)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
