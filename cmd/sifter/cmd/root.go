// Package cmd implements the CLI commands for sifter.
package cmd

import (
	"fmt"
	"strings"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/observability"
	"github.com/sifterhq/sifter/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "sifter",
	Short:   "Personalized podcast digest pipeline",
	Version: version.Short(),
	Long: `sifter turns subscribed podcast episodes into short, personalized
audio digests: episodes are transcribed, mined for clips relevant to a
user's interests, curated into a set, and stitched into a single
narrated MP3.

The serve command runs the worker daemon (job queue plus cron digest
scheduler); the digest command runs one digest end to end for a user.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// These flags are not bound to viper: they override the loaded
	// config only when explicitly set, preserving the priority
	// CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/sifter, $HOME/.sifter)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads configuration, applies CLI logging overrides, and
// installs the default logger with secret redaction.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	applyFlagOverride(rootCmd.PersistentFlags(), "log-level", &cfg.Logging.Level)
	applyFlagOverride(rootCmd.PersistentFlags(), "log-format", &cfg.Logging.Format)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	return cfg, nil
}

// applyFlagOverride copies a string flag's value over the config value
// only when the flag was explicitly set.
func applyFlagOverride(flags *pflag.FlagSet, name string, dest *string) {
	if flags.Changed(name) {
		value, _ := flags.GetString(name)
		*dest = strings.ToLower(value)
	}
}
