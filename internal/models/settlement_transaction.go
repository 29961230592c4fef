package models

import (
	"time"

	"github.com/google/uuid"
)

// SettlementTransaction is one normalized line of a settlement file. Rows are
// never updated after insert.
type SettlementTransaction struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	FileID                uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_txn_fingerprint;index:idx_txn_file_row" json:"file_id"`
	Source                SourceKind `gorm:"not null" json:"source"`
	RowNumber             int        `gorm:"index:idx_txn_file_row" json:"row_number"`
	ProviderTransactionID *string    `gorm:"index" json:"provider_transaction_id,omitempty"`
	GrossAmount           int64      `json:"gross_amount"`
	FeeAmount             *int64     `json:"fee_amount,omitempty"`
	NetAmount             int64      `json:"net_amount"`
	Currency              string     `gorm:"size:3" json:"currency"`
	Direction             Direction  `json:"direction"`
	ValueDate             time.Time  `gorm:"column:value_date;index" json:"value_date"`
	Description           string     `json:"description"`
	Fingerprint           string     `gorm:"uniqueIndex:idx_txn_fingerprint;size:64" json:"-"`
	CreatedAt             time.Time  `json:"created_at"`
}

// ValueDay is the value date as UTC midnight. Value dates are calendar days
// stored at UTC midnight; drivers may hand them back in the host location.
func (t SettlementTransaction) ValueDay() time.Time {
	y, m, d := t.ValueDate.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ProviderRef returns the provider transaction id or "" when the format has none.
func (t SettlementTransaction) ProviderRef() string {
	if t.ProviderTransactionID == nil {
		return ""
	}
	return *t.ProviderTransactionID
}
