package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/memstore"
	"settlement-reconciliation-engine/internal/models"
)

func candidate(pos uuid.UUID, confidence int, mt models.MatchType) models.MatchCandidate {
	return models.MatchCandidate{POSRecordID: pos, Confidence: confidence, MatchType: mt}
}

func TestDecide(t *testing.T) {
	p := NewPolicy(Config{})
	a, b := uuid.New(), uuid.New()

	tests := []struct {
		name  string
		cands []models.MatchCandidate
		want  Action
	}{
		{"none", nil, ActionUnmatched},
		{"exact", []models.MatchCandidate{candidate(a, 100, models.MatchExact)}, ActionAutoApply},
		{"above threshold", []models.MatchCandidate{candidate(a, 85, models.MatchApproximate)}, ActionAutoApply},
		{"at threshold", []models.MatchCandidate{candidate(a, 70, models.MatchApproximate)}, ActionAutoApply},
		{"below threshold", []models.MatchCandidate{candidate(a, 67, models.MatchApproximate)}, ActionReview},
		{"tie applies by default", []models.MatchCandidate{candidate(a, 100, models.MatchApproximate), candidate(b, 100, models.MatchApproximate)}, ActionAutoApply},
	}
	for _, tt := range tests {
		out := p.Decide(tt.cands)
		assert.Equal(t, tt.want, out.Action, tt.name)
		if tt.want != ActionUnmatched {
			require.NotNil(t, out.Best, tt.name)
			assert.Equal(t, a, out.Best.POSRecordID, tt.name)
		}
	}

	strict := NewPolicy(Config{AutoApplyThreshold: 90, ReviewOnTie: true})
	out := strict.Decide([]models.MatchCandidate{candidate(a, 95, models.MatchApproximate), candidate(b, 95, models.MatchApproximate)})
	assert.Equal(t, ActionReview, out.Action)
	out = strict.Decide([]models.MatchCandidate{candidate(a, 85, models.MatchApproximate)})
	assert.Equal(t, ActionReview, out.Action)
}

func TestApply_AutoApplyWritesClaimLinkDecisionAndFee(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	pos := models.POSRecord{ID: uuid.New(), OrganizationID: "org-1", Kind: models.POSKindSale, Amount: 6550, PaymentMethod: "sumup"}
	store.AddPOSRecords(pos)

	fee := int64(110)
	txn := models.SettlementTransaction{ID: uuid.New(), Source: models.SourceSumUp, GrossAmount: 6550, FeeAmount: &fee, Currency: "CHF"}
	sessionID := uuid.New()
	now := time.Date(2025, time.April, 4, 8, 0, 0, 0, time.UTC)

	p := NewPolicy(DefaultConfig())
	out := p.Decide([]models.MatchCandidate{candidate(pos.ID, 100, models.MatchExact)})
	d, err := p.Apply(ctx, store, sessionID, txn, out, now)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.DecisionAutoApplied, d.Decision)
	assert.Equal(t, models.DecidedBySystem, d.DecidedBy)
	assert.Equal(t, pos.ID, *d.POSRecordID)

	got, _ := store.POSRecord(pos.ID)
	assert.Equal(t, models.SettlementMatched, got.SettlementStatus)
	require.NotNil(t, got.SettlementTransactionID)
	assert.Equal(t, txn.ID, *got.SettlementTransactionID)

	fees := store.Fees()
	require.Len(t, fees, 1)
	assert.Equal(t, int64(110), fees[0].Amount)
	assert.Equal(t, pos.ID, fees[0].POSRecordID)

	// the record is gone: a second transaction loses the claim and nothing is written
	other := models.SettlementTransaction{ID: uuid.New(), Source: models.SourceSumUp, GrossAmount: 6550, Currency: "CHF"}
	_, err = p.Apply(ctx, store, sessionID, other, out, now)
	assert.ErrorIs(t, err, ErrClaimLost)
	assert.Len(t, store.Decisions(), 1)
}

func TestApply_BankTransferRecordsNoFee(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	pos := models.POSRecord{ID: uuid.New(), OrganizationID: "org-1", Kind: models.POSKindSale, Amount: 150000, PaymentMethod: "invoice"}
	store.AddPOSRecords(pos)

	fee := int64(75)
	txn := models.SettlementTransaction{ID: uuid.New(), Source: models.SourceBankCamt053, GrossAmount: 150000, FeeAmount: &fee}
	p := NewPolicy(DefaultConfig())
	_, err := p.Apply(ctx, store, uuid.New(), txn, p.Decide([]models.MatchCandidate{candidate(pos.ID, 100, models.MatchExact)}), time.Now())
	require.NoError(t, err)
	assert.Empty(t, store.Fees())
}

func TestApply_UnmatchedAndReview(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := NewPolicy(DefaultConfig())
	txn := models.SettlementTransaction{ID: uuid.New(), Source: models.SourceBankCamt053, GrossAmount: 42000}

	d, err := p.Apply(ctx, store, uuid.New(), txn, p.Decide(nil), time.Now())
	require.NoError(t, err)
	assert.True(t, d.IsSystemUnmatched())
	assert.Equal(t, models.ReasonNoMatchingTransaction, d.Reason)

	// a second decision for the same transaction is refused
	_, err = p.Apply(ctx, store, uuid.New(), txn, p.Decide(nil), time.Now())
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyDecided))

	review := models.SettlementTransaction{ID: uuid.New(), Source: models.SourceTwint}
	d, err = p.Apply(ctx, store, uuid.New(), review, p.Decide([]models.MatchCandidate{candidate(uuid.New(), 67, models.MatchApproximate)}), time.Now())
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Len(t, store.Decisions(), 1)
}
