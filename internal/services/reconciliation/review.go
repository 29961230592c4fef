package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/metrics"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/ports"
	"settlement-reconciliation-engine/internal/services/resolution"
)

// DecisionRequest identifies the transaction an operator acts on.
type DecisionRequest struct {
	OrganizationID string
	SessionID      uuid.UUID
	TransactionID  uuid.UUID
	POSRecordID    uuid.UUID
	OperatorID     string
	Notes          string
}

type UnmatchedRequest struct {
	OrganizationID string
	SessionID      uuid.UUID
	TransactionID  uuid.UUID
	Reason         models.UnmatchedReason
	OperatorID     string
	Notes          string
}

// reviewable loads a completed, still open session.
func (s *ReconciliationService) reviewable(ctx context.Context, org string, sessionID uuid.UUID, operator string) (*models.ImportSession, *models.ImportResult, error) {
	if strings.TrimSpace(operator) == "" {
		return nil, nil, apperror.New(apperror.CodeValidation, "operator id is required")
	}
	session, err := s.GetSession(ctx, org, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.State != models.StateCompleted {
		return nil, nil, apperror.Newf(apperror.CodeSessionNotReady, "session is %s", session.State).
			WithDetail("state", string(session.State))
	}
	if session.ClosedAt != nil {
		return nil, nil, apperror.New(apperror.CodeSessionClosed, "session is closed").
			WithDetail("closed_by", session.ClosedBy)
	}
	result, err := session.DecodeResult()
	if err != nil {
		return nil, nil, err
	}
	if result == nil {
		result = &models.ImportResult{}
	}
	return session, result, nil
}

// transaction loads a transaction belonging to the session's file.
func (s *ReconciliationService) transaction(ctx context.Context, session *models.ImportSession, id uuid.UUID) (*models.SettlementTransaction, error) {
	txn, err := s.store.Repos().Transactions.Get(ctx, id)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("loading transaction: %w", err)
	}
	if err != nil || txn.FileID != session.FileID {
		return nil, apperror.New(apperror.CodeNotFound, "transaction not found in session").
			WithDetail("transaction_id", id.String())
	}
	return txn, nil
}

func (s *ReconciliationService) decision(session *models.ImportSession, txnID uuid.UUID, kind models.DecisionKind, operator, notes string) *models.MatchDecision {
	return &models.MatchDecision{
		ID:                      uuid.New(),
		SessionID:               session.ID,
		SettlementTransactionID: txnID,
		Decision:                kind,
		Notes:                   strings.TrimSpace(notes),
		DecidedBy:               operator,
		DecidedAt:               s.now(),
	}
}

func (s *ReconciliationService) audit(ctx context.Context, r ports.Repositories, d *models.MatchDecision, action models.AuditAction, previous *uuid.UUID) error {
	txnID := d.SettlementTransactionID
	entry := &models.MatchAuditLog{
		ID:                uuid.New(),
		SessionID:         d.SessionID,
		TransactionID:     &txnID,
		Action:            action,
		PreviousPOSRecord: previous,
		NewPOSRecord:      d.POSRecordID,
		PerformedBy:       d.DecidedBy,
		Reason:            auditReason(d),
		CreatedAt:         d.DecidedAt,
	}
	if err := r.Audit.Create(ctx, entry); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

func auditReason(d *models.MatchDecision) string {
	switch {
	case d.Reason != "" && d.Notes != "":
		return string(d.Reason) + ": " + d.Notes
	case d.Reason != "":
		return string(d.Reason)
	}
	return d.Notes
}

func activeDecision(ctx context.Context, r ports.Repositories, txnID uuid.UUID) (*models.MatchDecision, error) {
	d, err := r.Decisions.Active(ctx, txnID)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading decision: %w", err)
	}
	return d, nil
}

func alreadyDecided(d *models.MatchDecision) error {
	return apperror.New(apperror.CodeAlreadyDecided, "transaction already has a decision").
		WithDetail("transaction_id", d.SettlementTransactionID.String()).
		WithDetail("decision", string(d.Decision))
}

func claimError(err error, posID uuid.UUID) error {
	if errors.Is(err, resolution.ErrClaimLost) {
		return apperror.Wrap(apperror.CodeRecordAlreadyMatched, "pos record is no longer pending", err).
			WithDetail("pos_record_id", posID.String())
	}
	return err
}

// ApproveMatch accepts a candidate surfaced for review. The transaction must
// have no decision yet.
func (s *ReconciliationService) ApproveMatch(ctx context.Context, req DecisionRequest) (*models.MatchDecision, error) {
	session, result, err := s.reviewable(ctx, req.OrganizationID, req.SessionID, req.OperatorID)
	if err != nil {
		return nil, err
	}
	txn, err := s.transaction(ctx, session, req.TransactionID)
	if err != nil {
		return nil, err
	}
	cand, ok := result.ReviewCandidate(txn.ID, req.POSRecordID)
	if !ok {
		return nil, apperror.New(apperror.CodeValidation, "pos record is not a candidate for this transaction").
			WithDetail("pos_record_id", req.POSRecordID.String())
	}

	d := s.decision(session, txn.ID, models.DecisionApproved, req.OperatorID, req.Notes)
	d.MatchType = cand.MatchType
	d.Confidence = cand.Confidence
	d.Variance = cand.Variance

	err = s.store.InTx(ctx, func(r ports.Repositories) error {
		active, err := activeDecision(ctx, r, txn.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return alreadyDecided(active)
		}
		if err := resolution.Settle(ctx, r, *txn, req.POSRecordID, d); err != nil {
			return claimError(err, req.POSRecordID)
		}
		return s.audit(ctx, r, d, models.AuditApprove, nil)
	})
	if err != nil {
		return nil, err
	}
	s.decided(d)
	return d, nil
}

// RejectMatch refuses a surfaced candidate. The transaction stays open for a
// manual match or an unmatched mark; a later rejection replaces an earlier one.
func (s *ReconciliationService) RejectMatch(ctx context.Context, req DecisionRequest) (*models.MatchDecision, error) {
	session, result, err := s.reviewable(ctx, req.OrganizationID, req.SessionID, req.OperatorID)
	if err != nil {
		return nil, err
	}
	txn, err := s.transaction(ctx, session, req.TransactionID)
	if err != nil {
		return nil, err
	}
	cand, ok := result.ReviewCandidate(txn.ID, req.POSRecordID)
	if !ok {
		return nil, apperror.New(apperror.CodeValidation, "pos record is not a candidate for this transaction").
			WithDetail("pos_record_id", req.POSRecordID.String())
	}

	posID := req.POSRecordID
	d := s.decision(session, txn.ID, models.DecisionRejected, req.OperatorID, req.Notes)
	d.POSRecordID = &posID
	d.MatchType = cand.MatchType
	d.Confidence = cand.Confidence
	d.Variance = cand.Variance

	err = s.store.InTx(ctx, func(r ports.Repositories) error {
		active, err := activeDecision(ctx, r, txn.ID)
		if err != nil {
			return err
		}
		var previous *uuid.UUID
		if active != nil {
			if active.Decision != models.DecisionRejected {
				return alreadyDecided(active)
			}
			previous = active.POSRecordID
			if err := r.Decisions.Supersede(ctx, active.ID, d.DecidedAt); err != nil {
				return supersedeError(err, active)
			}
		}
		if err := r.Decisions.Create(ctx, d); err != nil {
			if errors.Is(err, ports.ErrConflict) {
				return apperror.Wrap(apperror.CodeAlreadyDecided, "transaction already has a decision", err)
			}
			return fmt.Errorf("writing decision: %w", err)
		}
		return s.audit(ctx, r, d, models.AuditReject, previous)
	})
	if err != nil {
		return nil, err
	}
	s.decided(d)
	return d, nil
}

// CreateManualMatch binds any pending POS record of the organization to a
// transaction with no finalized decision.
func (s *ReconciliationService) CreateManualMatch(ctx context.Context, req DecisionRequest) (*models.MatchDecision, error) {
	session, _, err := s.reviewable(ctx, req.OrganizationID, req.SessionID, req.OperatorID)
	if err != nil {
		return nil, err
	}
	txn, err := s.transaction(ctx, session, req.TransactionID)
	if err != nil {
		return nil, err
	}
	pos, err := s.store.Repos().Sales.Get(ctx, req.POSRecordID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("loading pos record: %w", err)
	}
	if err != nil || pos.OrganizationID != session.OrganizationID {
		return nil, apperror.New(apperror.CodeNotFound, "pos record not found").
			WithDetail("pos_record_id", req.POSRecordID.String())
	}
	if pos.SettlementStatus != models.SettlementPending {
		return nil, apperror.New(apperror.CodeRecordAlreadyMatched, "pos record is no longer pending").
			WithDetail("pos_record_id", pos.ID.String()).
			WithDetail("settlement_status", string(pos.SettlementStatus))
	}

	scored := s.engine.Score(*txn, *pos)
	d := s.decision(session, txn.ID, models.DecisionApproved, req.OperatorID, req.Notes)
	d.MatchType = models.MatchManual
	d.Confidence = scored.Confidence
	d.Variance = scored.Variance

	var previous *uuid.UUID
	err = s.store.InTx(ctx, func(r ports.Repositories) error {
		active, err := activeDecision(ctx, r, txn.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if !active.Reopenable() {
				return alreadyDecided(active)
			}
			previous = active.POSRecordID
			if err := r.Decisions.Supersede(ctx, active.ID, d.DecidedAt); err != nil {
				return supersedeError(err, active)
			}
		}
		if err := resolution.Settle(ctx, r, *txn, pos.ID, d); err != nil {
			return claimError(err, pos.ID)
		}
		return s.audit(ctx, r, d, models.AuditManualMatch, previous)
	})
	if err != nil {
		return nil, err
	}
	s.decided(d)
	return d, nil
}

// MarkAsUnmatched records the operator's reason for leaving a transaction
// without a POS record. The reason "other" requires notes.
func (s *ReconciliationService) MarkAsUnmatched(ctx context.Context, req UnmatchedRequest) (*models.MatchDecision, error) {
	if !req.Reason.Valid() {
		return nil, apperror.Newf(apperror.CodeInvalidReason, "unknown unmatched reason %q", req.Reason).
			WithDetail("reason", string(req.Reason))
	}
	if req.Reason == models.ReasonOther && strings.TrimSpace(req.Notes) == "" {
		return nil, apperror.New(apperror.CodeInvalidReason, "notes are required for reason other").
			WithDetail("reason", string(req.Reason))
	}
	session, _, err := s.reviewable(ctx, req.OrganizationID, req.SessionID, req.OperatorID)
	if err != nil {
		return nil, err
	}
	txn, err := s.transaction(ctx, session, req.TransactionID)
	if err != nil {
		return nil, err
	}

	d := s.decision(session, txn.ID, models.DecisionUnmatched, req.OperatorID, req.Notes)
	d.Reason = req.Reason

	err = s.store.InTx(ctx, func(r ports.Repositories) error {
		active, err := activeDecision(ctx, r, txn.ID)
		if err != nil {
			return err
		}
		var previous *uuid.UUID
		if active != nil {
			if !active.Reopenable() {
				return alreadyDecided(active)
			}
			previous = active.POSRecordID
			if err := r.Decisions.Supersede(ctx, active.ID, d.DecidedAt); err != nil {
				return supersedeError(err, active)
			}
		}
		if err := r.Decisions.Create(ctx, d); err != nil {
			if errors.Is(err, ports.ErrConflict) {
				return apperror.Wrap(apperror.CodeAlreadyDecided, "transaction already has a decision", err)
			}
			return fmt.Errorf("writing decision: %w", err)
		}
		return s.audit(ctx, r, d, models.AuditMarkUnmatched, previous)
	})
	if err != nil {
		return nil, err
	}
	s.decided(d)
	return d, nil
}

// CloseSession ends the review. Every transaction of the file must carry
// exactly one active decision by then.
func (s *ReconciliationService) CloseSession(ctx context.Context, org string, sessionID uuid.UUID, operator string) (*models.ImportSession, error) {
	session, _, err := s.reviewable(ctx, org, sessionID, operator)
	if err != nil {
		return nil, err
	}
	repos := s.store.Repos()
	txns, err := repos.Transactions.ListByFile(ctx, session.FileID)
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}
	ids := make([]uuid.UUID, len(txns))
	for i, t := range txns {
		ids[i] = t.ID
	}
	active, err := repos.Decisions.ActiveForTransactions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading decisions: %w", err)
	}
	var open []string
	for _, t := range txns {
		if _, ok := active[t.ID]; !ok {
			open = append(open, t.ID.String())
		}
	}
	if len(open) > 0 {
		return nil, apperror.Newf(apperror.CodeReviewIncomplete, "%d transactions still need a decision", len(open)).
			WithDetail("transaction_ids", open)
	}

	now := s.now()
	session.ClosedAt = &now
	session.ClosedBy = operator
	session.UpdatedAt = now
	err = s.store.InTx(ctx, func(r ports.Repositories) error {
		if err := r.Sessions.Save(ctx, session); err != nil {
			return fmt.Errorf("closing session: %w", err)
		}
		return r.Audit.Create(ctx, &models.MatchAuditLog{
			ID:          uuid.New(),
			SessionID:   session.ID,
			Action:      models.AuditCloseSession,
			PerformedBy: operator,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Reconciliation session closed",
		zap.String("session_id", session.ID.String()),
		zap.String("closed_by", operator),
		zap.Int("transactions", len(txns)),
	)
	return session, nil
}

// AuditLog lists the operator actions taken in a session.
func (s *ReconciliationService) AuditLog(ctx context.Context, org string, sessionID uuid.UUID) ([]models.MatchAuditLog, error) {
	if _, err := s.GetSession(ctx, org, sessionID); err != nil {
		return nil, err
	}
	return s.store.Repos().Audit.ListBySession(ctx, sessionID)
}

func supersedeError(err error, d *models.MatchDecision) error {
	if errors.Is(err, ports.ErrConflict) {
		return apperror.Wrap(apperror.CodeAlreadyDecided, "decision changed concurrently", err).
			WithDetail("decision_id", d.ID.String())
	}
	return fmt.Errorf("superseding decision %s: %w", d.ID, err)
}

func (s *ReconciliationService) decided(d *models.MatchDecision) {
	metrics.RecordDecision(string(d.Decision), d.DecidedBy)
	fields := []zap.Field{
		zap.String("session_id", d.SessionID.String()),
		zap.String("transaction_id", d.SettlementTransactionID.String()),
		zap.String("decision", string(d.Decision)),
		zap.String("decided_by", d.DecidedBy),
	}
	if d.POSRecordID != nil {
		fields = append(fields, zap.String("pos_record_id", d.POSRecordID.String()))
	}
	s.log.Info("Match decision recorded", fields...)
}
