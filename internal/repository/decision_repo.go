package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/ports"
)

type DecisionRepository struct {
	db *gorm.DB
}

func NewDecisionRepository(db *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Create relies on the partial unique indexes created by Migrate to reject a
// second active decision.
func (r *DecisionRepository) Create(ctx context.Context, d *models.MatchDecision) error {
	return translate(r.db.WithContext(ctx).Create(d).Error)
}

func (r *DecisionRepository) Active(ctx context.Context, txnID uuid.UUID) (*models.MatchDecision, error) {
	var d models.MatchDecision
	err := r.db.WithContext(ctx).
		Where("settlement_transaction_id = ? AND superseded_at IS NULL", txnID).
		First(&d).Error
	if err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (r *DecisionRepository) ActiveForTransactions(ctx context.Context, txnIDs []uuid.UUID) (map[uuid.UUID]models.MatchDecision, error) {
	out := make(map[uuid.UUID]models.MatchDecision, len(txnIDs))
	if len(txnIDs) == 0 {
		return out, nil
	}
	var rows []models.MatchDecision
	err := r.db.WithContext(ctx).
		Where("settlement_transaction_id IN ? AND superseded_at IS NULL", txnIDs).
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, d := range rows {
		out[d.SettlementTransactionID] = d
	}
	return out, nil
}

func (r *DecisionRepository) Supersede(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.MatchDecision{}).
		Where("id = ? AND superseded_at IS NULL", id).
		Update("superseded_at", at)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ports.ErrConflict
	}
	return nil
}
