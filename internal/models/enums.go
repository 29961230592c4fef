package models

// SourceKind identifies the provider that produced a settlement file.
type SourceKind string

const (
	SourceSumUp       SourceKind = "sumup"
	SourceTwint       SourceKind = "twint"
	SourceBankCamt053 SourceKind = "bank_camt053"
)

// IsCardOrWallet reports whether fees of this source are recorded against sales.
func (s SourceKind) IsCardOrWallet() bool {
	return s == SourceSumUp || s == SourceTwint
}

func (s SourceKind) Valid() bool {
	switch s {
	case SourceSumUp, SourceTwint, SourceBankCamt053:
		return true
	}
	return false
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// SettlementStatus is the reconciliation state held on a POS record.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementMatched   SettlementStatus = "matched"
	SettlementUnmatched SettlementStatus = "unmatched"
)

type POSKind string

const (
	POSKindSale    POSKind = "sale"
	POSKindExpense POSKind = "expense"
)

type MatchType string

const (
	MatchExact       MatchType = "exact"
	MatchApproximate MatchType = "approximate"
	MatchManual      MatchType = "manual"
)

type DecisionKind string

const (
	DecisionAutoApplied DecisionKind = "auto_applied"
	DecisionApproved    DecisionKind = "approved"
	DecisionRejected    DecisionKind = "rejected"
	DecisionUnmatched   DecisionKind = "unmatched"
)

// Finalizes reports whether the decision binds a POS record to the transaction.
func (d DecisionKind) Finalizes() bool {
	return d == DecisionAutoApplied || d == DecisionApproved
}

// UnmatchedReason is the closed set of reasons accepted for an unmatched decision.
type UnmatchedReason string

const (
	ReasonNoMatchingTransaction UnmatchedReason = "no_matching_transaction"
	ReasonDifferentPeriod       UnmatchedReason = "different_period"
	ReasonExternalTransaction   UnmatchedReason = "external_transaction"
	ReasonBankFee               UnmatchedReason = "bank_fee"
	ReasonCorrection            UnmatchedReason = "correction"
	ReasonOther                 UnmatchedReason = "other"
)

func (r UnmatchedReason) Valid() bool {
	switch r {
	case ReasonNoMatchingTransaction, ReasonDifferentPeriod, ReasonExternalTransaction,
		ReasonBankFee, ReasonCorrection, ReasonOther:
		return true
	}
	return false
}

// DecidedBySystem marks decisions taken by the engine rather than an operator.
const DecidedBySystem = "system"
