package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"settlement-reconciliation-engine/internal/models"
)

// LockRepository implements advisory import locks on the import_locks table.
type LockRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db, now: time.Now}
}

// Acquire reclaims an expired lock for key, then tries to insert a fresh one.
// It reports false when another holder owns a live lock.
func (r *LockRepository) Acquire(ctx context.Context, key string, holder uuid.UUID, ttl time.Duration) (bool, error) {
	now := r.now()
	db := r.db.WithContext(ctx)
	if err := db.Where("lock_key = ? AND expires_at <= ?", key, now).Delete(&models.ImportLock{}).Error; err != nil {
		return false, translate(err)
	}
	lock := models.ImportLock{Key: key, HolderID: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *LockRepository) Release(ctx context.Context, key string, holder uuid.UUID) error {
	return translate(r.db.WithContext(ctx).
		Where("lock_key = ? AND holder_id = ?", key, holder).
		Delete(&models.ImportLock{}).Error)
}

func (r *LockRepository) Refresh(ctx context.Context, key string, holder uuid.UUID, ttl time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ImportLock{}).
		Where("lock_key = ? AND holder_id = ?", key, holder).
		Update("expires_at", r.now().Add(ttl))
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}
