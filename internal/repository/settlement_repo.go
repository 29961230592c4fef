package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"settlement-reconciliation-engine/internal/models"
)

type SettlementFileRepository struct {
	db *gorm.DB
}

func NewSettlementFileRepository(db *gorm.DB) *SettlementFileRepository {
	return &SettlementFileRepository{db: db}
}

func (r *SettlementFileRepository) Create(ctx context.Context, f *models.SettlementFile) error {
	return translate(r.db.WithContext(ctx).Create(f).Error)
}

func (r *SettlementFileRepository) Get(ctx context.Context, id uuid.UUID) (*models.SettlementFile, error) {
	var f models.SettlementFile
	if err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *SettlementFileRepository) FindByChecksum(ctx context.Context, org string, source models.SourceKind, checksum string) (*models.SettlementFile, error) {
	var f models.SettlementFile
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND source = ? AND checksum = ?", org, source, checksum).
		First(&f).Error
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *SettlementFileRepository) SetDocument(ctx context.Context, id, documentID uuid.UUID) error {
	return translate(r.db.WithContext(ctx).Model(&models.SettlementFile{}).
		Where("id = ?", id).
		Update("document_id", documentID).Error)
}

type SettlementTransactionRepository struct {
	db *gorm.DB
}

func NewSettlementTransactionRepository(db *gorm.DB) *SettlementTransactionRepository {
	return &SettlementTransactionRepository{db: db}
}

// InsertBatch ignores rows whose (file_id, fingerprint) already exists, so a
// failed import can be re-run over the same file row.
func (r *SettlementTransactionRepository) InsertBatch(ctx context.Context, txns []models.SettlementTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&txns, 500).Error)
}

func (r *SettlementTransactionRepository) ListByFile(ctx context.Context, fileID uuid.UUID) ([]models.SettlementTransaction, error) {
	var txns []models.SettlementTransaction
	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("row_number ASC, id ASC").
		Find(&txns).Error
	return txns, translate(err)
}

func (r *SettlementTransactionRepository) Get(ctx context.Context, id uuid.UUID) (*models.SettlementTransaction, error) {
	var t models.SettlementTransaction
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}
