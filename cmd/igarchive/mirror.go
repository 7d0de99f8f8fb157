package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"igarchive/pkg/logger"
	"igarchive/pkg/mirror"
	"igarchive/pkg/ui"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Mirror the local archive to the configured remote",
	Long: `Copy the archive root to the mirror remote.

In the default "mirror" mode the remote is made identical to the local
archive, so files deleted locally are deleted remotely too. Set
mirror.mode to "merge" to only add and update.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMirror(cmd, "push")
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Restore the local archive from the configured remote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMirror(cmd, "pull")
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
}

func runMirror(cmd *cobra.Command, op string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := mirror.NewFromConfig(ctx, cfg.Mirror, logger.GetLogger())
	if err != nil {
		return err
	}

	var res mirror.Result
	if op == "push" {
		res, err = adapter.Push(ctx, cfg.Archive.BaseDirectory)
	} else {
		res, err = adapter.Pull(ctx, cfg.Archive.BaseDirectory)
	}
	if err != nil {
		return err
	}

	if res.Skipped {
		ui.PrintWarning("No mirror remote configured, nothing to " + op)
		return nil
	}
	ui.PrintSuccess(fmt.Sprintf("%s via %s finished in %s", op, res.Backend, res.Duration.Round(time.Millisecond)))
	ui.PrintInfo("Remote", res.Remote)
	return nil
}
