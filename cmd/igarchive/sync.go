package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"igarchive/pkg/archive"
	"igarchive/pkg/auth"
	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/instagram"
	"igarchive/pkg/logger"
	"igarchive/pkg/metrics"
	"igarchive/pkg/mirror"
	"igarchive/pkg/syncer"
	"igarchive/pkg/ui"
	"igarchive/pkg/ui/tui"
)

var (
	// Sync flags, shared by the root command and "sync"
	accountName string
	limit       int
	fullResync  bool
	noEarlyStop bool
	earlyStop   int
	pullOnly    bool
	noPush      bool
	useTUI      bool
	notify      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Archive new saved posts (the default command)",
	Long: `Walk your saved posts newest first and download everything not yet in the
archive. An incremental pass stops once it meets a run of already archived
items; --full-resync walks the whole feed instead.

On a fresh machine with a mirror remote configured, the archive is pulled
from the remote before the first pass. After a successful pass the archive
is pushed back unless --no-push is given.`,
	Example: `  # Archive what is new for the default session
  igarchive

  # Archive at most 50 new posts for a stored account
  igarchive sync --account jane --limit 50

  # Walk the entire saved feed with the dashboard
  igarchive sync --full-resync --tui

  # Restore the archive from the mirror and stop
  igarchive sync --pull-only`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	addSyncFlags(rootCmd.Flags())
	addSyncFlags(syncCmd.Flags())
}

func addSyncFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&accountName, "account", "a", "", "stored account to sync (default: most recent session)")
	fs.IntVarP(&limit, "limit", "n", 0, "stop after this many new items (0 = no limit)")
	fs.BoolVar(&fullResync, "full-resync", false, "walk the whole saved feed")
	fs.BoolVar(&noEarlyStop, "no-early-stop", false, "do not stop at a run of already archived items")
	fs.IntVar(&earlyStop, "early-stop", 0, "already archived items in a row that end an incremental pass")
	fs.BoolVar(&pullOnly, "pull-only", false, "pull the archive from the mirror remote and exit")
	fs.BoolVar(&noPush, "no-push", false, "do not push the archive to the mirror remote afterwards")
	fs.BoolVar(&useTUI, "tui", false, "show the interactive dashboard")
	fs.BoolVar(&notify, "notify", false, "send a desktop notification when done")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.GetLogger()
	if useTUI && !quiet {
		// The dashboard owns the terminal; logs go to the log file only
		detached, err := logger.NewDetached(&cfg.Logging)
		if err != nil {
			return errs.Wrap(err, errs.ErrorTypeSetup, "cannot set up logging")
		}
		logger.SetLogger(detached)
		log = detached
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	mirrorAdapter, err := mirror.NewFromConfig(ctx, cfg.Mirror, log)
	if err != nil {
		return err
	}
	mirrorAdapter.SetRecorder(collector)

	if pullOnly {
		return pullArchive(ctx, mirrorAdapter, cfg.Archive.BaseDirectory)
	}
	if err := prepareArchive(ctx, mirrorAdapter, cfg.Archive.BaseDirectory); err != nil {
		return err
	}

	session, err := loadSession(cfg.Instagram.Username)
	if err != nil {
		return err
	}

	client := instagram.NewClientFromConfig(cfg, log)
	client.SetSession(session)

	downloader := instagram.NewDownloader(
		instagram.NewMediaClient(cfg.Instagram.MediaTimeout, cfg.Instagram.SafeMediaHost),
		client,
		log,
	)
	if session.UserAgent != "" {
		downloader.SetUserAgent(session.UserAgent)
	} else if cfg.Instagram.UserAgent != "" {
		downloader.SetUserAgent(cfg.Instagram.UserAgent)
	}
	downloader.SetVersion(version)

	controller := syncer.New(&syncer.Session{Username: session.Username, UserID: session.UserID}, downloader, log)
	controller.SetRecorder(collector)

	opts := syncer.OptionsFromConfig(cfg.Sync)
	feed := client.SavedFeed(session.UserID, cfg.Instagram.PageSize)

	result, syncErr := runPass(ctx, cfg, controller, session.Username, feed, opts)
	if syncErr != nil && result == nil {
		return syncErr
	}

	var outcome *syncer.Outcome
	if result != nil {
		outcome = result.Outcome
	}
	if notify {
		if err := ui.NewNotifier().NotifyOutcome(session.Username, outcome, syncErr); err != nil {
			log.WithError(err).Debug("desktop notification failed")
		}
	}

	err = finishSync(ctx, mirrorAdapter, cfg.Archive.BaseDirectory, syncErr, !noPush)
	pushMetrics(cfg, registry, session.Username, log)
	return err
}

// prepareArchive pulls the archive from the mirror before the first pass
// on a machine that has none. A failed pull is fatal: syncing into an
// empty directory and pushing it would wipe the remote.
func prepareArchive(ctx context.Context, adapter *mirror.Adapter, baseDir string) error {
	if !adapter.Enabled() || !archiveMissing(baseDir) {
		return nil
	}
	ui.PrintInfo("No local archive, pulling from", adapter.Remote())
	return pullArchive(ctx, adapter, baseDir)
}

// finishSync decides the exit status of a pass and whether the archive
// goes back to the mirror. Only an expired session fails the run; the
// archive is pushed only after a pass that was neither cancelled nor
// cut short by an error.
func finishSync(ctx context.Context, adapter *mirror.Adapter, baseDir string, syncErr error, push bool) error {
	if syncErr != nil {
		if errs.Is(syncErr, errs.ErrorTypeAuth) {
			return syncErr
		}
		ui.PrintWarning("Sync ended early", errs.UserMessage(syncErr))
		return nil
	}
	if ctx.Err() != nil || !push {
		return nil
	}
	if _, err := adapter.Push(ctx, baseDir); err != nil {
		ui.PrintWarning("Mirror push failed", err)
	}
	return nil
}

// runPass runs one sync with the observer the flags ask for
func runPass(ctx context.Context, cfg *config.Config, controller *syncer.Controller, username string, feed syncer.Feed, opts syncer.Options) (*syncer.RunResult, error) {
	threshold := opts.EarlyStopThreshold
	if threshold <= 0 {
		threshold = config.DefaultEarlyStopThreshold
	}
	if opts.FullResync || opts.DisableEarlyStop {
		threshold = 0
	}

	if useTUI && !quiet {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		dashboard := tui.NewTUI(username, opts.Limit, threshold, cancel)
		controller.SetObserver(dashboard)
		dashboard.Start()

		result, err := controller.Run(ctx, cfg.Archive.BaseDirectory, username, feed, opts)
		if result == nil {
			dashboard.Stop()
		}
		if waitErr := dashboard.Wait(); waitErr != nil {
			logger.GetLogger().WithError(waitErr).Warn("dashboard exited with an error")
		}
		if result != nil {
			printOutcome(username, result.Outcome)
		}
		return result, err
	}

	if quiet {
		controller.SetObserver(syncer.NopObserver{})
	} else {
		reporter := ui.NewReporter(os.Stdout, username, opts.Limit, verbose)
		reporter.SetThreshold(threshold)
		controller.SetObserver(reporter)
	}
	return controller.Run(ctx, cfg.Archive.BaseDirectory, username, feed, opts)
}

// printOutcome repeats the pass summary after the dashboard has closed
func printOutcome(username string, outcome *syncer.Outcome) {
	if outcome == nil {
		return
	}
	ui.PrintSuccess(ui.OutcomeMessage(username, outcome))
}

// loadSession picks the stored session for username, or the default one
func loadSession(username string) (*auth.Session, error) {
	manager, err := auth.NewManager()
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "cannot open session store")
	}

	var session *auth.Session
	if username != "" {
		session, err = manager.Retrieve(username)
	} else {
		session, err = manager.RetrieveDefault()
	}
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return nil, errs.Wrap(err, errs.ErrorTypeSetup, "no saved session, run 'igarchive auth login' first")
		}
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "cannot load session")
	}
	if err := session.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "saved session is incomplete")
	}
	if session.Username == "" {
		session.Username = username
	}
	if !archive.ValidUsername(session.Username) {
		return nil, errs.New(errs.ErrorTypeSetup, fmt.Sprintf("session has no usable account name (%q), pass --account", session.Username))
	}
	return session, nil
}

// archiveMissing reports whether baseDir holds nothing yet
func archiveMissing(baseDir string) bool {
	entries, err := os.ReadDir(baseDir)
	return err != nil || len(entries) == 0
}

func pullArchive(ctx context.Context, adapter *mirror.Adapter, baseDir string) error {
	res, err := adapter.Pull(ctx, baseDir)
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Pulled %s into %s in %s", res.Remote, baseDir, res.Duration.Round(time.Millisecond)))
	return nil
}

// pushMetrics sends the run's metrics to the Pushgateway when one is
// configured. Failures are logged only.
func pushMetrics(cfg *config.Config, registry *prometheus.Registry, account string, log logger.Logger) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Instagram.Timeout)
	defer cancel()
	if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, account, registry); err != nil {
		log.WithError(err).Warn("failed to push metrics")
	}
}
