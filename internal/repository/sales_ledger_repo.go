package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"settlement-reconciliation-engine/internal/models"
)

type SalesLedgerRepository struct {
	db *gorm.DB
}

func NewSalesLedgerRepository(db *gorm.DB) *SalesLedgerRepository {
	return &SalesLedgerRepository{db: db}
}

// FindPendingByPaymentMethodAndWindow returns pending records of org paid with
// one of methods and timestamped in [from, to).
func (r *SalesLedgerRepository) FindPendingByPaymentMethodAndWindow(ctx context.Context, org string, methods []string, from, to time.Time) ([]models.POSRecord, error) {
	var records []models.POSRecord
	if len(methods) == 0 {
		return records, nil
	}
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", org).
		Where("settlement_status = ?", models.SettlementPending).
		Where("payment_method IN ?", methods).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Order("occurred_at ASC, id ASC").
		Find(&records).Error
	return records, translate(err)
}

func (r *SalesLedgerRepository) Get(ctx context.Context, id uuid.UUID) (*models.POSRecord, error) {
	var rec models.POSRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

// ClaimForSettlement is a compare-and-set on settlement_status.
func (r *SalesLedgerRepository) ClaimForSettlement(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.POSRecord{}).
		Where("id = ? AND settlement_status = ?", id, models.SettlementPending).
		Update("settlement_status", models.SettlementMatched)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *SalesLedgerRepository) MarkMatched(ctx context.Context, id, txnID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.POSRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"settlement_transaction_id": txnID,
			"settled_at":                at,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *SalesLedgerRepository) RecordFee(ctx context.Context, fee *models.SettlementFee) error {
	return translate(r.db.WithContext(ctx).Create(fee).Error)
}

// Create inserts POS records. Used by seeding tools and tests; the ledger is
// otherwise owned by the POS system.
func (r *SalesLedgerRepository) Create(ctx context.Context, records []models.POSRecord) error {
	if len(records) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Create(&records).Error)
}
