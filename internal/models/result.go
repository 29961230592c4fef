package models

import "github.com/google/uuid"

// RowWarning is a non-fatal, per-row parse problem. The row was skipped.
type RowWarning struct {
	Row       int        `json:"row"`
	Provider  SourceKind `json:"provider"`
	Column    string     `json:"column,omitempty"`
	Reference string     `json:"reference,omitempty"`
	Message   string     `json:"message"`
}

// ReviewItem is a transaction waiting for an operator, with every candidate
// above the confidence floor.
type ReviewItem struct {
	Transaction SettlementTransaction `json:"transaction"`
	Candidates  []MatchCandidate      `json:"candidates"`
}

// ImportResult is the outcome returned to the Review UI and replayed on re-import.
type ImportResult struct {
	Updated    int                     `json:"updated"`
	Matches    []MatchCandidate        `json:"matches"`
	Unmatched  []SettlementTransaction `json:"unmatched"`
	Imported   []SettlementTransaction `json:"imported"`
	Review     []ReviewItem            `json:"review"`
	Warnings   []RowWarning            `json:"warnings"`
	Duplicates int                     `json:"duplicates"`
}

// ReviewCandidate finds the surfaced candidate pairing txnID with posID.
func (r *ImportResult) ReviewCandidate(txnID, posID uuid.UUID) (MatchCandidate, bool) {
	for _, item := range r.Review {
		if item.Transaction.ID != txnID {
			continue
		}
		for _, c := range item.Candidates {
			if c.POSRecordID == posID {
				return c, true
			}
		}
	}
	return MatchCandidate{}, false
}
