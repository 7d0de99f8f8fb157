// Package syncer mirrors the saved feed into an account directory.
//
// A pass walks the feed newest first, downloads items whose identifier is
// not yet on disk and stops as soon as it is clear nothing older can be
// new: after a run of consecutive known items, when the new-item limit is
// hit, or when the feed runs dry. The set of known identifiers is always
// recomputed from the directory so that out-of-band edits are picked up.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"igarchive/pkg/archive"
	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/index"
	"igarchive/pkg/logger"
)

// Mode tells whether the archive already held items when a pass started
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Reason explains why a pass stopped reading the feed
type Reason string

const (
	ReasonLimitReached Reason = "limit-reached"
	ReasonCaughtUp     Reason = "caught-up"
	ReasonExhausted    Reason = "exhausted"
	ReasonCancelled    Reason = "cancelled"
	ReasonFeedError    Reason = "feed-error"
)

// Options tune a single pass
type Options struct {
	// Limit bounds the number of new downloads; 0 means unbounded
	Limit int
	// FullResync visits the whole feed regardless of known items
	FullResync bool
	// EarlyStopThreshold is the run of consecutive known items that ends an
	// incremental pass; values <= 0 select config.DefaultEarlyStopThreshold
	EarlyStopThreshold int
	DisableEarlyStop   bool
}

func (o Options) threshold() int {
	if o.EarlyStopThreshold <= 0 {
		return config.DefaultEarlyStopThreshold
	}
	return o.EarlyStopThreshold
}

// OptionsFromConfig builds pass options from the sync section
func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{
		Limit:              cfg.Limit,
		FullResync:         cfg.FullResync,
		EarlyStopThreshold: cfg.EarlyStopThreshold,
		DisableEarlyStop:   cfg.DisableEarlyStop,
	}
}

// Outcome describes one finished pass
type Outcome struct {
	RunID       string
	Mode        Mode
	KnownBefore int
	// NewItems lists downloaded items in feed order
	NewItems []archive.SummaryPost
	Checked  int
	Skipped  int
	Failed   int
	Reason   Reason
	Duration time.Duration
}

// Controller runs sync passes for one authenticated session
type Controller struct {
	session    *Session
	downloader Downloader
	observer   Observer
	recorder   Recorder
	logger     logger.Logger
	now        func() time.Time
}

// New creates a Controller. A nil log falls back to the global logger.
func New(session *Session, downloader Downloader, log logger.Logger) *Controller {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Controller{
		session:    session,
		downloader: downloader,
		observer:   NopObserver{},
		recorder:   nopRecorder{},
		logger:     log,
		now:        time.Now,
	}
}

// SetObserver routes progress events to o
func (c *Controller) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	c.observer = o
}

// SetRecorder routes pass metrics to r
func (c *Controller) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	c.recorder = r
}

// Sync performs one pass over feed into accountDir.
//
// A pass refuses to start without an authenticated session. Download
// failures of single items are logged and counted, never returned. A feed
// error ends the pass and is returned together with the partial outcome.
// Cancellation of ctx ends the pass cleanly with ReasonCancelled.
func (c *Controller) Sync(ctx context.Context, accountDir string, feed Feed, opts Options) (*Outcome, error) {
	if !c.session.Authenticated() {
		return nil, errs.New(errs.ErrorTypeSetup, "no authenticated session, run 'igarchive auth login' first")
	}
	if err := os.MkdirAll(accountDir, 0755); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "cannot create account directory")
	}

	known, err := archive.ScanKnownIdentifiers(accountDir)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "cannot scan archive")
	}

	out := &Outcome{
		RunID:       uuid.NewString(),
		Mode:        ModeFull,
		KnownBefore: known.Len(),
		NewItems:    []archive.SummaryPost{},
	}
	if known.Len() > 0 {
		out.Mode = ModeIncremental
	}
	earlyStop := out.Mode == ModeIncremental && !opts.FullResync && !opts.DisableEarlyStop
	threshold := opts.threshold()

	log := c.logger.WithFields(map[string]interface{}{
		"run_id":  out.RunID,
		"account": c.session.Username,
	})
	log.InfoWithFields("sync pass started", map[string]interface{}{
		"mode":        string(out.Mode),
		"known_items": out.KnownBefore,
		"limit":       opts.Limit,
		"full_resync": opts.FullResync,
		"early_stop":  earlyStop,
	})
	c.observer.PassStarted(out.RunID, out.Mode, out.KnownBefore)

	start := c.now()
	feedErr := c.walk(ctx, accountDir, feed, opts, known, earlyStop, threshold, out, log)
	out.Duration = c.now().Sub(start)

	fields := map[string]interface{}{
		"reason":    string(out.Reason),
		"new_items": len(out.NewItems),
		"checked":   out.Checked,
		"skipped":   out.Skipped,
		"failed":    out.Failed,
		"duration":  out.Duration,
	}
	if feedErr != nil {
		log.WithError(feedErr).ErrorWithFields("sync pass aborted by feed error", fields)
	} else {
		log.InfoWithFields("sync pass finished", fields)
	}

	c.recorder.ObserveOutcome(c.session.Username, out)
	c.observer.PassFinished(out)

	if feedErr != nil {
		return out, fmt.Errorf("reading saved feed: %w", feedErr)
	}
	return out, nil
}

func (c *Controller) walk(
	ctx context.Context,
	accountDir string,
	feed Feed,
	opts Options,
	known archive.KnownSet,
	earlyStop bool,
	threshold int,
	out *Outcome,
	log logger.Logger,
) error {
	consecutiveKnown := 0

	for {
		// Checked before pulling so a satisfied limit costs no remote call.
		if opts.Limit > 0 && len(out.NewItems) >= opts.Limit {
			out.Reason = ReasonLimitReached
			return nil
		}
		if ctx.Err() != nil {
			out.Reason = ReasonCancelled
			return nil
		}

		item, err := feed.Next(ctx)
		if errors.Is(err, ErrFeedExhausted) {
			out.Reason = ReasonExhausted
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				out.Reason = ReasonCancelled
				return nil
			}
			out.Reason = ReasonFeedError
			return err
		}

		out.Checked++

		if known.Has(item.Identifier) {
			out.Skipped++
			consecutiveKnown++
			c.observer.ItemSkipped(item.Identifier, consecutiveKnown)
			if earlyStop && consecutiveKnown >= threshold {
				out.Reason = ReasonCaughtUp
				return nil
			}
			continue
		}
		consecutiveKnown = 0

		if err := c.downloader.Download(ctx, item, accountDir); err != nil {
			if ctx.Err() != nil {
				out.Reason = ReasonCancelled
				return nil
			}
			out.Failed++
			log.WithError(err).WarnWithFields("download failed, skipping item", map[string]interface{}{
				"shortcode": item.Identifier,
				"owner":     item.Owner,
			})
			c.recorder.ObserveDownloadFailure(c.session.Username)
			c.observer.ItemFailed(item.Identifier, err)
			continue
		}

		// A repeated identifier later in the same feed is now known.
		known.Add(item.Identifier)
		post := item.Summary()
		out.NewItems = append(out.NewItems, post)
		log.DebugWithFields("item archived", map[string]interface{}{
			"shortcode": item.Identifier,
			"kind":      string(item.Kind),
		})
		c.observer.ItemDownloaded(post)
	}
}

// RunResult is what Run reports back to the command line
type RunResult struct {
	Outcome      *Outcome
	Summary      *archive.Summary
	IndexEntries int
	Accounts     []string
}

// Run is a complete sync for username under baseDir: a pass, the summary
// merge, then a rebuild of the account index and the account registry.
// The index is rebuilt even when the feed failed midway, so whatever was
// downloaded is visible; the feed error is still returned.
func (c *Controller) Run(ctx context.Context, baseDir, username string, feed Feed, opts Options) (*RunResult, error) {
	accountDir, err := archive.AccountDir(baseDir, username)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "bad account")
	}

	outcome, syncErr := c.Sync(ctx, accountDir, feed, opts)
	if outcome == nil {
		return nil, syncErr
	}
	res := &RunResult{Outcome: outcome}

	summary, err := archive.MergeSummary(accountDir, username, outcome.NewItems, c.now())
	if err != nil {
		c.logger.WithError(err).Warn("failed to update saved posts summary")
	} else {
		res.Summary = summary
	}

	entries, err := index.Rebuild(accountDir)
	if err != nil {
		return res, errors.Join(syncErr, fmt.Errorf("rebuilding index: %w", err))
	}
	res.IndexEntries = len(entries)
	c.recorder.ObserveIndex(username, len(entries))

	accounts, err := index.RebuildRegistry(baseDir)
	if err != nil {
		return res, errors.Join(syncErr, fmt.Errorf("rebuilding account registry: %w", err))
	}
	res.Accounts = accounts

	c.logger.InfoWithFields("index rebuilt", map[string]interface{}{
		"account":  username,
		"entries":  len(entries),
		"accounts": len(accounts),
	})
	return res, syncErr
}
