package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/money"
)

// ledgerFile is a Sales Ledger snapshot used to seed an in-memory import.
type ledgerFile struct {
	Records []ledgerRecord `yaml:"records"`
}

type ledgerRecord struct {
	ID            string    `yaml:"id"`
	Kind          string    `yaml:"kind"`
	Amount        string    `yaml:"amount"`
	PaymentMethod string    `yaml:"payment_method"`
	Timestamp     time.Time `yaml:"timestamp"`
	Description   string    `yaml:"description"`
}

// loadLedger reads a ledger YAML file into POS records owned by org.
func loadLedger(path, org string) ([]models.POSRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	var lf ledgerFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}

	records := make([]models.POSRecord, 0, len(lf.Records))
	for i, rec := range lf.Records {
		kind := models.POSKind(rec.Kind)
		if kind == "" {
			kind = models.POSKindSale
		}
		if kind != models.POSKindSale && kind != models.POSKindExpense {
			return nil, fmt.Errorf("ledger record %d: unknown kind %q", i+1, rec.Kind)
		}
		amount, err := money.ParseMinor(rec.Amount)
		if err != nil {
			return nil, fmt.Errorf("ledger record %d: %w", i+1, err)
		}
		if rec.Timestamp.IsZero() {
			return nil, fmt.Errorf("ledger record %d: timestamp required", i+1)
		}
		id := uuid.New()
		if rec.ID != "" {
			if id, err = uuid.Parse(rec.ID); err != nil {
				return nil, fmt.Errorf("ledger record %d: %w", i+1, err)
			}
		}
		records = append(records, models.POSRecord{
			ID:               id,
			OrganizationID:   org,
			Kind:             kind,
			Amount:           amount,
			PaymentMethod:    rec.PaymentMethod,
			Timestamp:        rec.Timestamp,
			Description:      rec.Description,
			SettlementStatus: models.SettlementPending,
		})
	}
	return records, nil
}
