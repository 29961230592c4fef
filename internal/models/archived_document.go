package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DocumentMetadata describes an archived settlement file.
type DocumentMetadata struct {
	OrganizationID string     `json:"organization_id"`
	Filename       string     `json:"filename"`
	ContentType    string     `json:"content_type"`
	Checksum       string     `json:"checksum"`
	Source         SourceKind `json:"source"`
	Period         string     `json:"period"`
	FileID         uuid.UUID  `json:"file_id"`
	SessionID      uuid.UUID  `json:"session_id"`
}

type ArchivedDocument struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID string         `gorm:"index" json:"organization_id"`
	Filename       string         `json:"filename"`
	ContentType    string         `json:"content_type"`
	Checksum       string         `gorm:"size:64" json:"checksum"`
	Content        []byte         `json:"-"`
	Metadata       datatypes.JSON `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}
