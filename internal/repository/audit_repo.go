package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"settlement-reconciliation-engine/internal/models"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, l *models.MatchAuditLog) error {
	return translate(r.db.WithContext(ctx).Create(l).Error)
}

func (r *AuditRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.MatchAuditLog, error) {
	var logs []models.MatchAuditLog
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, translate(err)
}
