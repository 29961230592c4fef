package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"settlement-reconciliation-engine/internal/models"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *models.ImportSession) error {
	return translate(r.db.WithContext(ctx).Create(s).Error)
}

func (r *SessionRepository) Save(ctx context.Context, s *models.ImportSession) error {
	return translate(r.db.WithContext(ctx).Save(s).Error)
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.ImportSession, error) {
	var s models.ImportSession
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *SessionRepository) LatestForFile(ctx context.Context, fileID uuid.UUID) (*models.ImportSession, error) {
	var s models.ImportSession
	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *SessionRepository) ListByOrganization(ctx context.Context, org string, limit int) ([]models.ImportSession, error) {
	var sessions []models.ImportSession
	q := r.db.WithContext(ctx).
		Omit("result").
		Where("organization_id = ?", org).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&sessions).Error
	return sessions, translate(err)
}
