package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportLock serializes matching per organization, period and source.
type ImportLock struct {
	Key        string    `gorm:"column:lock_key;primaryKey;size:128"`
	HolderID   uuid.UUID `gorm:"type:uuid"`
	AcquiredAt time.Time
	ExpiresAt  time.Time `gorm:"index"`
}
