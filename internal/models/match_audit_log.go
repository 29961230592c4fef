package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditApprove       AuditAction = "approve"
	AuditReject        AuditAction = "reject"
	AuditManualMatch   AuditAction = "manual_match"
	AuditMarkUnmatched AuditAction = "mark_unmatched"
	AuditCloseSession  AuditAction = "close_session"
)

// MatchAuditLog records every operator action taken through the resolution API.
type MatchAuditLog struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID         uuid.UUID   `gorm:"type:uuid;index" json:"session_id"`
	TransactionID     *uuid.UUID  `gorm:"type:uuid;index" json:"transaction_id,omitempty"`
	Action            AuditAction `json:"action"`
	PreviousPOSRecord *uuid.UUID  `gorm:"type:uuid" json:"previous_pos_record,omitempty"`
	NewPOSRecord      *uuid.UUID  `gorm:"type:uuid" json:"new_pos_record,omitempty"`
	PerformedBy       string      `json:"performed_by"`
	Reason            string      `json:"reason,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}
