package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"settlement-reconciliation-engine/internal/app"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/services/normalizer"
)

type parseReport struct {
	File         string                         `json:"file"`
	Source       models.SourceKind              `json:"source"`
	Transactions []models.SettlementTransaction `json:"transactions"`
	Warnings     []models.RowWarning            `json:"warnings"`
	Duplicates   int                            `json:"duplicates"`
}

func newParseCommand() *cobra.Command {
	var (
		source   string
		currency string
		timezone string
	)

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a settlement file and print the normalized transactions",
		Long: `Parse detects the provider format of a settlement file, parses it and
prints the normalized transactions as JSON. Nothing is stored or matched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(currency, timezone)
			if err != nil {
				return err
			}

			path := args[0]
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			registry := app.NewRegistry(cfg)
			p, err := registry.Detect(filepath.Base(path), raw, models.SourceKind(source))
			if err != nil {
				return err
			}
			out, err := p.Parse(raw)
			if err != nil {
				return err
			}

			norm := normalizer.Normalize(uuid.New(), p.Source(), cfg.Reconciliation.Currency, out.Rows)
			warnings := out.Warnings
			if warnings == nil {
				warnings = []models.RowWarning{}
			}
			return writeJSON(cmd.OutOrStdout(), parseReport{
				File:         filepath.Base(path),
				Source:       p.Source(),
				Transactions: norm.Transactions,
				Warnings:     warnings,
				Duplicates:   norm.Duplicates,
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Settlement source (camt053, sumup, twint); detected when empty")
	cmd.Flags().StringVar(&currency, "currency", "", "Override RECON_CURRENCY")
	cmd.Flags().StringVar(&timezone, "timezone", "", "Override RECON_TIMEZONE")

	return cmd
}
