// Package resolution decides what happens to a settlement transaction once its
// candidates are known, and writes the outcome.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/ports"
)

// ErrClaimLost means the POS record was settled by someone else between
// candidate computation and the claim.
var ErrClaimLost = errors.New("pos record already claimed")

type Action string

const (
	ActionAutoApply Action = "auto_apply"
	ActionReview    Action = "review"
	ActionUnmatched Action = "unmatched"
)

type Config struct {
	AutoApplyThreshold int
	// ReviewOnTie sends the best candidate to review when the runner-up has
	// the same confidence.
	ReviewOnTie bool
}

func DefaultConfig() Config {
	return Config{AutoApplyThreshold: 70}
}

type Outcome struct {
	Action     Action
	Best       *models.MatchCandidate
	Candidates []models.MatchCandidate
}

type Policy struct {
	cfg Config
}

func NewPolicy(cfg Config) *Policy {
	if cfg.AutoApplyThreshold <= 0 {
		cfg.AutoApplyThreshold = DefaultConfig().AutoApplyThreshold
	}
	return &Policy{cfg: cfg}
}

func (p *Policy) Config() Config {
	return p.cfg
}

// Decide maps a best-first candidate list to an action.
func (p *Policy) Decide(candidates []models.MatchCandidate) Outcome {
	if len(candidates) == 0 {
		return Outcome{Action: ActionUnmatched}
	}
	best := candidates[0]
	out := Outcome{Best: &best, Candidates: candidates}

	tied := len(candidates) > 1 && candidates[1].Confidence == best.Confidence
	switch {
	case p.cfg.ReviewOnTie && tied:
		out.Action = ActionReview
	case best.MatchType == models.MatchExact || best.Confidence >= p.cfg.AutoApplyThreshold:
		out.Action = ActionAutoApply
	default:
		out.Action = ActionReview
	}
	return out
}

// Apply persists the durable part of an outcome. Review outcomes write nothing
// and return a nil decision.
func (p *Policy) Apply(ctx context.Context, store ports.Store, sessionID uuid.UUID, txn models.SettlementTransaction, out Outcome, at time.Time) (*models.MatchDecision, error) {
	switch out.Action {
	case ActionAutoApply:
		d := &models.MatchDecision{
			ID:                      uuid.New(),
			SessionID:               sessionID,
			SettlementTransactionID: txn.ID,
			Decision:                models.DecisionAutoApplied,
			MatchType:               out.Best.MatchType,
			Confidence:              out.Best.Confidence,
			Variance:                out.Best.Variance,
			DecidedBy:               models.DecidedBySystem,
			DecidedAt:               at,
		}
		err := store.InTx(ctx, func(r ports.Repositories) error {
			return Settle(ctx, r, txn, out.Best.POSRecordID, d)
		})
		if err != nil {
			return nil, err
		}
		return d, nil

	case ActionUnmatched:
		d := &models.MatchDecision{
			ID:                      uuid.New(),
			SessionID:               sessionID,
			SettlementTransactionID: txn.ID,
			Decision:                models.DecisionUnmatched,
			Reason:                  models.ReasonNoMatchingTransaction,
			DecidedBy:               models.DecidedBySystem,
			DecidedAt:               at,
		}
		if err := store.Repos().Decisions.Create(ctx, d); err != nil {
			return nil, decisionError(err, txn.ID)
		}
		return d, nil
	}
	return nil, nil
}

// Settle claims posID for txn and records d, the link and the provider fee.
// It must run inside a storage transaction.
func Settle(ctx context.Context, r ports.Repositories, txn models.SettlementTransaction, posID uuid.UUID, d *models.MatchDecision) error {
	claimed, err := r.Sales.ClaimForSettlement(ctx, posID)
	if err != nil {
		return fmt.Errorf("claiming pos record %s: %w", posID, err)
	}
	if !claimed {
		return ErrClaimLost
	}
	if err := r.Sales.MarkMatched(ctx, posID, txn.ID, d.DecidedAt); err != nil {
		return fmt.Errorf("linking pos record %s: %w", posID, err)
	}

	d.POSRecordID = &posID
	if err := r.Decisions.Create(ctx, d); err != nil {
		return decisionError(err, txn.ID)
	}

	if txn.Source.IsCardOrWallet() && txn.FeeAmount != nil && *txn.FeeAmount > 0 {
		fee := &models.SettlementFee{
			ID:                      uuid.New(),
			POSRecordID:             posID,
			SettlementTransactionID: txn.ID,
			Source:                  txn.Source,
			Amount:                  *txn.FeeAmount,
			Currency:                txn.Currency,
			CreatedAt:               d.DecidedAt,
		}
		if err := r.Sales.RecordFee(ctx, fee); err != nil {
			return fmt.Errorf("recording fee for %s: %w", txn.ID, err)
		}
	}
	return nil
}

func decisionError(err error, txnID uuid.UUID) error {
	if errors.Is(err, ports.ErrConflict) {
		return apperror.Wrap(apperror.CodeAlreadyDecided, "transaction already has a decision", err).
			WithDetail("transaction_id", txnID.String())
	}
	return fmt.Errorf("writing decision for %s: %w", txnID, err)
}
