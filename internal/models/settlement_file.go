package models

import (
	"time"

	"github.com/google/uuid"
)

// SettlementFile is an uploaded settlement export. Identical bytes are imported
// at most once per organization and source.
type SettlementFile struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID string     `gorm:"uniqueIndex:idx_file_checksum;not null" json:"organization_id"`
	Source         SourceKind `gorm:"uniqueIndex:idx_file_checksum;not null" json:"source"`
	Checksum       string     `gorm:"uniqueIndex:idx_file_checksum;size:64;not null" json:"checksum"`
	Filename       string     `json:"filename"`
	Period         string     `gorm:"index;size:7" json:"period"`
	SizeBytes      int64      `json:"size_bytes"`
	DocumentID     *uuid.UUID `gorm:"type:uuid" json:"document_id,omitempty"`
	UploadedBy     string     `json:"uploaded_by,omitempty"`
	UploadedAt     time.Time  `json:"uploaded_at"`
}
