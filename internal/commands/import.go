package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/app"
	"settlement-reconciliation-engine/internal/config"
	"settlement-reconciliation-engine/internal/memstore"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/ports"
	"settlement-reconciliation-engine/internal/repository"
	service "settlement-reconciliation-engine/internal/services/reconciliation"
)

type importReport struct {
	Session *models.ImportSession `json:"session"`
	Result  *models.ImportResult  `json:"result,omitempty"`
}

type importOptions struct {
	org      string
	source   string
	period   string
	ledger   string
	operator string
	useDB    bool
	currency string
	timezone string
	verbose  bool
}

func newImportCommand() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a settlement file and reconcile it against the sales ledger",
		Long: `Import runs the full pipeline on a settlement file and prints the session
and its result as JSON.

Without --db the sales ledger is held in memory and seeded from --ledger, a
YAML file of POS records. With --db the configured PostgreSQL database is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.org, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&opts.source, "source", "", "Settlement source (camt053, sumup, twint); detected when empty")
	cmd.Flags().StringVar(&opts.period, "period", "", "Accounting period YYYY-MM; derived from the file when empty")
	cmd.Flags().StringVar(&opts.ledger, "ledger", "", "YAML file of POS records to seed before matching")
	cmd.Flags().StringVar(&opts.operator, "operator", "cli", "Operator recorded as uploader")
	cmd.Flags().BoolVar(&opts.useDB, "db", false, "Use the configured PostgreSQL database instead of memory")
	cmd.Flags().StringVar(&opts.currency, "currency", "", "Override RECON_CURRENCY")
	cmd.Flags().StringVar(&opts.timezone, "timezone", "", "Override RECON_TIMEZONE")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline steps to stderr")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func runImport(cmd *cobra.Command, path string, opts importOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(opts.currency, opts.timezone)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, opts.verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var ledger []models.POSRecord
	if opts.ledger != "" {
		if ledger, err = loadLedger(opts.ledger, opts.org); err != nil {
			return err
		}
	}

	store, docs, cleanup, err := openStore(ctx, cfg, opts.useDB, ledger, log)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := app.NewService(cfg, store, docs, log)
	session, err := svc.Import(ctx, service.ImportRequest{
		OrganizationID: opts.org,
		Filename:       filepath.Base(path),
		Content:        content,
		Source:         models.SourceKind(opts.source),
		Period:         opts.period,
		UploadedBy:     opts.operator,
	})
	if err != nil {
		return err
	}

	report := importReport{Session: session}
	if session.State == models.StateCompleted {
		if report.Result, err = svc.GetResult(ctx, opts.org, session.ID); err != nil {
			return err
		}
	}
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if session.State == models.StateFailed {
		return fmt.Errorf("import failed: %s: %s", session.ErrorCode, session.ErrorMessage)
	}
	return nil
}

// openStore returns the storage backing an import and seeds it with ledger.
func openStore(ctx context.Context, cfg *config.Config, useDB bool, ledger []models.POSRecord, log *zap.Logger) (ports.Store, ports.DocumentStore, func(), error) {
	if !useDB {
		store := memstore.New()
		store.AddPOSRecords(ledger...)
		return store, store.Documents(), func() {}, nil
	}

	db, err := config.InitDB(cfg.Database, log)
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := sqlDB.Close(); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}
	if err := repository.Migrate(db); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := repository.NewSalesLedgerRepository(db).Create(ctx, ledger); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("seeding ledger: %w", err)
	}
	store := repository.NewStore(db)
	return store, store.Documents(), cleanup, nil
}
