package models

import (
	"time"

	"github.com/google/uuid"
)

// POSRecord is a sale or expense of the Sales Ledger. The engine reads it and
// only ever writes the settlement columns.
type POSRecord struct {
	ID                      uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID          string           `gorm:"index:idx_pos_pool;not null" json:"organization_id"`
	Kind                    POSKind          `gorm:"not null" json:"kind"`
	Amount                  int64            `json:"amount"`
	PaymentMethod           string           `gorm:"index:idx_pos_pool" json:"payment_method"`
	Timestamp               time.Time        `gorm:"column:occurred_at;index:idx_pos_pool" json:"timestamp"`
	Description             string           `json:"description"`
	SettlementStatus        SettlementStatus `gorm:"index:idx_pos_pool;default:pending" json:"settlement_status"`
	SettlementTransactionID *uuid.UUID       `gorm:"type:uuid" json:"settlement_transaction_id,omitempty"`
	SettledAt               *time.Time       `json:"settled_at,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
}

func (POSRecord) TableName() string {
	return "pos_records"
}

// SettlementFee is the provider fee booked against a sale when its card or
// wallet settlement is matched.
type SettlementFee struct {
	ID                      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	POSRecordID             uuid.UUID  `gorm:"type:uuid;index" json:"pos_record_id"`
	SettlementTransactionID uuid.UUID  `gorm:"type:uuid;uniqueIndex" json:"settlement_transaction_id"`
	Source                  SourceKind `json:"source"`
	Amount                  int64      `json:"amount"`
	Currency                string     `gorm:"size:3" json:"currency"`
	CreatedAt               time.Time  `json:"created_at"`
}
