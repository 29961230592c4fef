package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchDecision is the durable outcome for a settlement transaction. At most one
// decision per transaction has SupersededAt unset.
type MatchDecision struct {
	ID                      uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID               uuid.UUID       `gorm:"type:uuid;index" json:"session_id"`
	SettlementTransactionID uuid.UUID       `gorm:"type:uuid;index" json:"settlement_transaction_id"`
	POSRecordID             *uuid.UUID      `gorm:"type:uuid;index" json:"pos_record_id,omitempty"`
	Decision                DecisionKind    `gorm:"not null" json:"decision"`
	MatchType               MatchType       `json:"match_type,omitempty"`
	Confidence              int             `json:"confidence"`
	Variance                int64           `json:"variance"`
	Reason                  UnmatchedReason `json:"reason,omitempty"`
	Notes                   string          `json:"notes,omitempty"`
	DecidedBy               string          `gorm:"not null" json:"decided_by"`
	DecidedAt               time.Time       `json:"decided_at"`
	SupersededAt            *time.Time      `json:"superseded_at,omitempty"`
}

// IsSystemUnmatched reports whether the engine queued this transaction as
// unmatched without operator involvement.
func (d MatchDecision) IsSystemUnmatched() bool {
	return d.Decision == DecisionUnmatched && d.DecidedBy == DecidedBySystem
}

// Reopenable reports whether a manual match or unmatched mark may supersede d.
func (d MatchDecision) Reopenable() bool {
	return d.Decision == DecisionRejected || d.IsSystemUnmatched()
}
