package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage igarchive configuration files.

Configuration is resolved in this order, later sources winning:
  - default values
  - configuration file (YAML, or TOML with a .toml extension)
  - environment variables (IGARCHIVE_*, .env files included)
  - command line flags`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write every option with its default value to .igarchive.yaml, or to the
path given with --config. A .toml path writes TOML.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".igarchive.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return errs.New(errs.ErrorTypeSetup, fmt.Sprintf("%s already exists, remove it first to start over", path))
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot write configuration")
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Output, "\nNext steps:")
	fmt.Fprintln(ui.Output, "1. Set archive.base_directory and, optionally, mirror.remote")
	fmt.Fprintln(ui.Output, "2. Run 'igarchive auth login' to store a session")
	fmt.Fprintln(ui.Output, "3. Run 'igarchive' to archive your saved posts")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(displayConfig(cfg))
	if err != nil {
		return fmt.Errorf("formatting configuration: %w", err)
	}

	ui.PrintHighlight("Current configuration")
	fmt.Fprintln(ui.Output)
	fmt.Fprint(ui.Output, string(data))

	fmt.Fprintln(ui.Output, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(ui.Output, "1. Command line flags")
	fmt.Fprintln(ui.Output, "2. Environment variables (IGARCHIVE_*)")
	if configFile != "" {
		fmt.Fprintf(ui.Output, "3. Configuration file: %s\n", configFile)
	} else {
		fmt.Fprintln(ui.Output, "3. Configuration file: (searched in the default locations)")
	}
	fmt.Fprintln(ui.Output, "4. Default values")
	return nil
}

// displayConfig returns a copy of cfg with secrets masked
func displayConfig(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Server.APISecret != "" {
		c.Server.APISecret = "********"
	}
	return &c
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var problems, warnings []string
	if err := os.MkdirAll(cfg.Archive.BaseDirectory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create archive directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if cfg.Mirror.Remote == "" {
		warnings = append(warnings, "no mirror remote, push and pull are disabled")
	}
	if cfg.Server.AllowDelete && cfg.Server.APISecret == "" {
		warnings = append(warnings, "server.allow_delete is on without server.api_secret")
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Fprintf(ui.Output, "  - %s\n", p)
		}
		return errs.New(errs.ErrorTypeSetup, "invalid configuration")
	}
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Fprintf(ui.Output, "  - %s\n", w)
		}
		fmt.Fprintln(ui.Output)
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Fprintln(ui.Output, "\nConfiguration summary:")
	fmt.Fprintf(ui.Output, "  Archive directory: %s\n", cfg.Archive.BaseDirectory)
	fmt.Fprintf(ui.Output, "  Early stop after: %d known items\n", cfg.Sync.EarlyStopThreshold)
	fmt.Fprintf(ui.Output, "  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Fprintf(ui.Output, "  Mirror: %s (%s)\n", orNone(cfg.Mirror.Remote), cfg.Mirror.Mode)
	fmt.Fprintf(ui.Output, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
