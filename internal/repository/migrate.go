package repository

import (
	"fmt"

	"gorm.io/gorm"

	"settlement-reconciliation-engine/internal/models"
)

// Partial unique indexes gorm tags cannot express. Active means not superseded.
var decisionIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_decision_active_txn
		ON match_decisions (settlement_transaction_id)
		WHERE superseded_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_decision_active_pos
		ON match_decisions (pos_record_id)
		WHERE superseded_at IS NULL AND pos_record_id IS NOT NULL AND decision <> 'rejected'`,
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.POSRecord{},
		&models.SettlementFee{},
		&models.SettlementFile{},
		&models.SettlementTransaction{},
		&models.ImportSession{},
		&models.MatchDecision{},
		&models.MatchAuditLog{},
		&models.ImportLock{},
		&models.ArchivedDocument{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	for _, stmt := range decisionIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("creating decision index: %w", err)
		}
	}
	return nil
}
