// Package commands implements the reconcile command line tool.
package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/config"
	"settlement-reconciliation-engine/internal/logger"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Import and reconcile settlement files against the sales ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newParseCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newCloseCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}

// loadConfig reads the environment configuration and applies CLI overrides.
func loadConfig(currency, timezone string) (*config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if currency != "" {
		cfg.Reconciliation.Currency = currency
	}
	if timezone != "" {
		if err := cfg.Reconciliation.SetTimezone(timezone); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger logs to stderr only at warn level and above so stdout stays machine readable.
func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	lc := cfg.Logger
	if !verbose {
		lc.Level = "warn"
	}
	return logger.New(lc)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
