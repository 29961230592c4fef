package reconciliation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/money"
)

// Review status of a transaction, derived from its active decision.
const (
	StatusMatched   = "matched"
	StatusReview    = "review"
	StatusRejected  = "rejected"
	StatusUnmatched = "unmatched"
)

// TransactionView is a settlement transaction with its current review state.
type TransactionView struct {
	models.SettlementTransaction
	Status     string                  `json:"status"`
	Decision   *models.MatchDecision   `json:"decision,omitempty"`
	Candidates []models.MatchCandidate `json:"candidates,omitempty"`
}

type ListQuery struct {
	OrganizationID string
	SessionID      uuid.UUID
	Status         string
	Search         string
	// Cursor is the row number of the last item of the previous page.
	Cursor string
	Limit  int
}

type TransactionPage struct {
	Items      []TransactionView `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// ListTransactions pages through a session's transactions in row order.
func (s *ReconciliationService) ListTransactions(ctx context.Context, q ListQuery) (*TransactionPage, error) {
	_, views, err := s.views(ctx, q.OrganizationID, q.SessionID)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	after := 0
	if q.Cursor != "" {
		after, err = strconv.Atoi(q.Cursor)
		if err != nil {
			return nil, apperror.Newf(apperror.CodeValidation, "invalid cursor %q", q.Cursor)
		}
	}

	status := strings.ToLower(strings.TrimSpace(q.Status))
	search := strings.ToLower(strings.TrimSpace(q.Search))
	page := &TransactionPage{Items: []TransactionView{}}
	for _, v := range views {
		if v.RowNumber <= after {
			continue
		}
		if status != "" && status != "all" && v.Status != status {
			continue
		}
		if search != "" && !matchesSearch(v.SettlementTransaction, search) {
			continue
		}
		if len(page.Items) == limit {
			page.HasMore = true
			page.NextCursor = strconv.Itoa(page.Items[limit-1].RowNumber)
			break
		}
		page.Items = append(page.Items, v)
	}
	return page, nil
}

func matchesSearch(t models.SettlementTransaction, needle string) bool {
	return strings.Contains(strings.ToLower(t.Description), needle) ||
		strings.Contains(strings.ToLower(t.ProviderRef()), needle) ||
		strings.Contains(money.Format(t.GrossAmount), needle)
}

// views joins the transactions of a completed session with their live decisions.
func (s *ReconciliationService) views(ctx context.Context, org string, sessionID uuid.UUID) (*models.ImportSession, []TransactionView, error) {
	session, err := s.GetSession(ctx, org, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.State != models.StateCompleted {
		return nil, nil, apperror.Newf(apperror.CodeSessionNotReady, "session is %s", session.State).
			WithDetail("state", string(session.State))
	}
	result, err := session.DecodeResult()
	if err != nil {
		return nil, nil, err
	}
	review := make(map[uuid.UUID][]models.MatchCandidate)
	if result != nil {
		for _, item := range result.Review {
			review[item.Transaction.ID] = item.Candidates
		}
	}

	repos := s.store.Repos()
	txns, err := repos.Transactions.ListByFile(ctx, session.FileID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading transactions: %w", err)
	}
	ids := make([]uuid.UUID, len(txns))
	for i, t := range txns {
		ids[i] = t.ID
	}
	active, err := repos.Decisions.ActiveForTransactions(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("loading decisions: %w", err)
	}

	views := make([]TransactionView, len(txns))
	for i, t := range txns {
		v := TransactionView{SettlementTransaction: t, Candidates: review[t.ID]}
		if d, ok := active[t.ID]; ok {
			v.Decision = &d
			switch {
			case d.Decision.Finalizes():
				v.Status = StatusMatched
			case d.Decision == models.DecisionRejected:
				v.Status = StatusRejected
			default:
				v.Status = StatusUnmatched
			}
		} else {
			v.Status = StatusReview
		}
		views[i] = v
	}
	return session, views, nil
}

type SessionStats struct {
	Total       int64 `json:"total"`
	TotalAmount int64 `json:"total_amount"`

	MatchedCount int64 `json:"matched_count"`
	MatchedSum   int64 `json:"matched_sum"`

	ReviewCount int64 `json:"review_count"`
	ReviewSum   int64 `json:"review_sum"`

	RejectedCount int64 `json:"rejected_count"`
	RejectedSum   int64 `json:"rejected_sum"`

	UnmatchedCount int64 `json:"unmatched_count"`
	UnmatchedSum   int64 `json:"unmatched_sum"`

	FeeSum   int64 `json:"fee_sum"`
	Warnings int   `json:"warnings"`
}

type StatRow struct {
	Status string
	Count  int64
	Sum    int64
}

// Stats aggregates a session's transactions by review status. Amounts are in minor units.
func (s *ReconciliationService) Stats(ctx context.Context, org string, sessionID uuid.UUID) (SessionStats, error) {
	var stats SessionStats
	session, views, err := s.views(ctx, org, sessionID)
	if err != nil {
		return stats, err
	}

	rows := make(map[string]*StatRow)
	for _, v := range views {
		r, ok := rows[v.Status]
		if !ok {
			r = &StatRow{Status: v.Status}
			rows[v.Status] = r
		}
		r.Count++
		r.Sum += v.GrossAmount
		if v.FeeAmount != nil {
			stats.FeeSum += *v.FeeAmount
		}
	}

	for _, r := range rows {
		stats.Total += r.Count
		stats.TotalAmount += r.Sum

		switch r.Status {
		case StatusMatched:
			stats.MatchedCount = r.Count
			stats.MatchedSum = r.Sum
		case StatusReview:
			stats.ReviewCount = r.Count
			stats.ReviewSum = r.Sum
		case StatusRejected:
			stats.RejectedCount = r.Count
			stats.RejectedSum = r.Sum
		case StatusUnmatched:
			stats.UnmatchedCount = r.Count
			stats.UnmatchedSum = r.Sum
		}
	}
	stats.Warnings = session.WarningCount
	return stats, nil
}
