package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"igarchive/pkg/archive"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/index"
	"igarchive/pkg/logger"
	"igarchive/pkg/ui"
)

var indexCmd = &cobra.Command{
	Use:   "index [account]",
	Short: "Rebuild the viewer index of one or all accounts",
	Long: `Re-read every metadata record of an account and rewrite its
posts-index.json, then rewrite the account registry. Without an account,
every account directory under the archive root is rebuilt.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates <account>",
	Short: "List items that probably show the same post",
	Args:  cobra.ExactArgs(1),
	RunE:  runDuplicates,
}

var pruneCmd = &cobra.Command{
	Use:   "prune <account> <id>",
	Short: "Delete one archived item and rebuild the index",
	Long: `Delete the metadata record and every media file of an item, forget its
categories and notes, then rebuild the account index. The id is the
file stem shown by the viewer and by "igarchive duplicates".`,
	Example: `  igarchive prune jane 2024-01-01_07-51-26_UTC`,
	Args:    cobra.ExactArgs(2),
	RunE:    runPrune,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(duplicatesCmd)
	rootCmd.AddCommand(pruneCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	base := cfg.Archive.BaseDirectory

	accounts := args
	if len(accounts) == 0 {
		if accounts, err = accountNames(base); err != nil {
			return errs.Wrap(err, errs.ErrorTypeSetup, "cannot list accounts")
		}
	}

	for _, account := range accounts {
		dir, err := archive.AccountDir(base, account)
		if err != nil {
			return errs.Wrap(err, errs.ErrorTypeSetup, "bad account")
		}
		entries, err := index.Rebuild(dir)
		if err != nil {
			return fmt.Errorf("rebuilding index of %s: %w", account, err)
		}
		ui.PrintInfo("@"+account, fmt.Sprintf("%d entries", len(entries)))
	}

	registered, err := index.RebuildRegistry(base)
	if err != nil {
		return fmt.Errorf("rebuilding account registry: %w", err)
	}
	ui.PrintSuccess(fmt.Sprintf("Registry lists %d accounts", len(registered)))
	return nil
}

// accountNames lists the directories under baseDir that can be accounts
func accountNames(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() && !strings.HasPrefix(name, ".") && archive.ValidUsername(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, err := archive.AccountDir(cfg.Archive.BaseDirectory, args[0])
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "bad account")
	}

	idx, err := index.Load(dir)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "no index for "+args[0]+", run 'igarchive index "+args[0]+"' first")
	}

	matches := index.FindDuplicates(idx)
	if len(matches) == 0 {
		ui.PrintSuccess("No duplicates found")
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(ui.Output, "%s  %s  %s\n",
			ui.Yellow(fmt.Sprintf("%3d", m.MatchScore)),
			m.PostIDs[0]+" ~ "+m.PostIDs[1],
			ui.Dim(m.Reason))
	}
	ui.PrintHighlight(fmt.Sprintf("%d possible duplicates", len(matches)))
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	account, id := args[0], args[1]
	dir, err := archive.AccountDir(cfg.Archive.BaseDirectory, account)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "bad account")
	}

	removed, err := archive.RemoveItem(dir, id)
	if errors.Is(err, archive.ErrItemNotFound) {
		return errs.New(errs.ErrorTypeNotFound, fmt.Sprintf("no item %s in @%s", id, account))
	}
	if err != nil {
		return err
	}

	notes, err := archive.LoadAnnotations(dir)
	if err != nil {
		logger.GetLogger().WithError(err).Warn("cannot read annotations, leaving them as they are")
	} else if notes.Forget(id) {
		if err := notes.Save(dir); err != nil {
			return fmt.Errorf("saving annotations: %w", err)
		}
	}

	if _, err := index.Rebuild(dir); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	if _, err := index.RebuildRegistry(cfg.Archive.BaseDirectory); err != nil {
		return fmt.Errorf("rebuilding account registry: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Removed %d files of %s", len(removed), id))
	return nil
}
