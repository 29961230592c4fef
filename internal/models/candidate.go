package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchCandidate is a proposed pairing, recomputed on every session.
type MatchCandidate struct {
	SettlementTransactionID uuid.UUID `json:"settlement_transaction_id"`
	POSRecordID             uuid.UUID `json:"pos_record_id"`
	MatchType               MatchType `json:"match_type"`
	Confidence              int       `json:"confidence"`
	Variance                int64     `json:"variance"`
	AmountScore             float64   `json:"amount_score"`
	DateScore               float64   `json:"date_score"`
	DayDistance             int       `json:"day_distance"`
	POSAmount               int64     `json:"pos_amount"`
	POSTimestamp            time.Time `json:"pos_timestamp"`
}

// CandidateFromDecision rebuilds the candidate a finalized decision accepted.
func CandidateFromDecision(d MatchDecision) MatchCandidate {
	c := MatchCandidate{
		SettlementTransactionID: d.SettlementTransactionID,
		MatchType:               d.MatchType,
		Confidence:              d.Confidence,
		Variance:                d.Variance,
	}
	if d.POSRecordID != nil {
		c.POSRecordID = *d.POSRecordID
	}
	return c
}
