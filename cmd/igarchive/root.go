package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/logger"
	"igarchive/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	baseDir    string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd runs a sync when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "igarchive",
	Short: "Incremental archiver for your Instagram saved posts",
	Long: `igarchive keeps a local, self-describing archive of the posts you saved on
Instagram. Every run downloads only what is new, rebuilds the per-account
index used by the archive viewer and, when a remote is configured, mirrors
the archive to it.

Running igarchive without a subcommand performs a sync.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
		if !quiet && cmd.Name() != "help" && cmd.Name() != "version" {
			ui.PrintLogo()
		}
	},
	RunE: runSync,
}

// Execute runs the command tree and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(errs.UserMessage(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.igarchive.yaml or ~/.config/igarchive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "archive base directory (default ./archive)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress everything but errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every item and debug logs")

	rootCmd.SetVersionTemplate(`igarchive {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// changedFlags collects the flags the user actually set, keyed by name, in
// the shape config.MergeCommandLineFlags expects.
func changedFlags(fs *pflag.FlagSet) map[string]interface{} {
	flags := map[string]interface{}{}
	fs.Visit(func(f *pflag.Flag) {
		switch f.Value.Type() {
		case "bool":
			if v, err := fs.GetBool(f.Name); err == nil {
				flags[f.Name] = v
			}
		case "int":
			if v, err := fs.GetInt(f.Name); err == nil {
				flags[f.Name] = v
			}
		default:
			flags[f.Name] = f.Value.String()
		}
	})
	return flags
}

// loadConfig resolves the configuration for cmd and sets up logging.
// --quiet lowers logging to errors and --verbose raises it to debug,
// unless --log-level was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := changedFlags(cmd.Flags())
	if _, explicit := flags["log-level"]; !explicit {
		switch {
		case quiet:
			flags["log-level"] = "error"
		case verbose:
			flags["log-level"] = "debug"
		}
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "invalid configuration")
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "cannot set up logging")
	}
	return cfg, nil
}
