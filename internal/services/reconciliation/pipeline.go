package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/metrics"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/services/matching"
	"settlement-reconciliation-engine/internal/services/normalizer"
	"settlement-reconciliation-engine/internal/services/resolution"
)

// Progress milestones. Matching spreads between progressMatching and progressArchive.
const (
	progressParsing  = 5
	progressParsed   = 30
	progressMatching = 35
	progressArchive  = 95
	progressStep     = 5
)

func (s *ReconciliationService) run(ctx context.Context, j *job) {
	start := s.now()
	if err := s.pipeline(ctx, j); err != nil {
		s.fail(ctx, j.session, err, start)
		return
	}
	elapsed := s.now().Sub(start).Seconds()
	metrics.RecordImport(string(j.session.Source), string(models.StateCompleted), elapsed)
	s.log.Info("Settlement import completed",
		zap.String("session_id", j.session.ID.String()),
		zap.String("source", string(j.session.Source)),
		zap.Int("imported", j.session.ImportedCount),
		zap.Int("matched", j.session.MatchedCount),
		zap.Int("review", j.session.ReviewCount),
		zap.Int("unmatched", j.session.UnmatchedCount),
		zap.Float64("seconds", elapsed),
	)
}

func (s *ReconciliationService) pipeline(ctx context.Context, j *job) error {
	session := j.session
	repos := s.store.Repos()

	// --- parsing ---
	if err := session.Advance(models.StateParsing); err != nil {
		return err
	}
	if err := s.progress(ctx, session, progressParsing, "parsing "+string(session.Source)+" file"); err != nil {
		return err
	}

	out, err := j.parser.Parse(j.content)
	if err != nil {
		return err
	}
	norm := normalizer.Normalize(j.file.ID, session.Source, s.opts.Currency, out.Rows)
	if session.Period == "" {
		session.Period = derivePeriod(norm.Transactions, session.StartedAt, s.engine.Config().Location)
	}
	if err := repos.Transactions.InsertBatch(ctx, norm.Transactions); err != nil {
		return fmt.Errorf("storing settlement transactions: %w", err)
	}
	// A retried file keeps the rows of the failed attempt.
	txns, err := repos.Transactions.ListByFile(ctx, j.file.ID)
	if err != nil {
		return fmt.Errorf("loading settlement transactions: %w", err)
	}
	metrics.RecordParsed(string(session.Source), len(norm.Transactions), len(out.Warnings))

	result := &models.ImportResult{
		Matches:    []models.MatchCandidate{},
		Unmatched:  []models.SettlementTransaction{},
		Imported:   txns,
		Review:     []models.ReviewItem{},
		Warnings:   out.Warnings,
		Duplicates: norm.Duplicates,
	}
	if result.Warnings == nil {
		result.Warnings = []models.RowWarning{}
	}
	msg := fmt.Sprintf("parsed %d transactions, %d warnings", len(txns), len(out.Warnings))
	if err := s.progress(ctx, session, progressParsed, msg); err != nil {
		return err
	}

	// --- matching ---
	key := session.LockKey()
	locker := s.store.Locker()
	acquired, err := locker.Acquire(ctx, key, session.ID, s.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("acquiring import lock: %w", err)
	}
	if !acquired {
		metrics.RecordLockContention(string(session.Source))
		return apperror.New(apperror.CodeImportInProgress, "another import is matching this period").
			WithDetail("lock_key", key)
	}
	defer func() {
		if err := locker.Release(context.WithoutCancel(ctx), key, session.ID); err != nil {
			s.log.Warn("Failed to release import lock", zap.String("lock_key", key), zap.Error(err))
		}
	}()

	if err := session.Advance(models.StateMatching); err != nil {
		return err
	}
	if err := s.progress(ctx, session, progressMatching, "matching against sales ledger"); err != nil {
		return err
	}
	if err := s.match(ctx, session, txns, result); err != nil {
		return err
	}

	// --- completed ---
	if err := s.progress(ctx, session, progressArchive, "archiving settlement file"); err != nil {
		return err
	}
	docID, err := s.docs.Archive(ctx, j.content, models.DocumentMetadata{
		OrganizationID: session.OrganizationID,
		Filename:       j.file.Filename,
		ContentType:    contentType(j.file.Filename, j.parser.Extension()),
		Checksum:       j.file.Checksum,
		Source:         session.Source,
		Period:         session.Period,
		FileID:         j.file.ID,
		SessionID:      session.ID,
	})
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, "archiving settlement file", err)
	}
	if err := repos.Files.SetDocument(ctx, j.file.ID, docID); err != nil {
		return fmt.Errorf("linking archived document: %w", err)
	}

	if err := session.SetResult(result); err != nil {
		return err
	}
	if err := session.Advance(models.StateCompleted); err != nil {
		return err
	}
	finished := s.now()
	session.FinishedAt = &finished
	return s.progress(ctx, session, 100, fmt.Sprintf("%d matched, %d for review, %d unmatched",
		len(result.Matches), len(result.Review), len(result.Unmatched)))
}

// match resolves every transaction of the file. Transactions decided by an
// earlier attempt keep their decision; the rest are scored in parallel and
// resolved one by one in row order against a shrinking pool.
func (s *ReconciliationService) match(ctx context.Context, session *models.ImportSession, txns []models.SettlementTransaction, result *models.ImportResult) error {
	repos := s.store.Repos()
	ids := make([]uuid.UUID, len(txns))
	for i, t := range txns {
		ids[i] = t.ID
	}
	prior, err := repos.Decisions.ActiveForTransactions(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading prior decisions: %w", err)
	}

	var pending []models.SettlementTransaction
	for _, t := range txns {
		if _, decided := prior[t.ID]; !decided {
			pending = append(pending, t)
		}
	}

	pool, err := s.loadPool(ctx, session, pending)
	if err != nil {
		return err
	}

	candidates := make(map[uuid.UUID][]models.MatchCandidate, len(pending))
	lists := make([][]models.MatchCandidate, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, txn := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lists[i] = s.engine.Match(txn, pool.Available())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scoring candidates: %w", err)
	}
	for i, txn := range pending {
		candidates[txn.ID] = lists[i]
	}

	lastSaved := session.Progress
	for i, txn := range txns {
		if d, ok := prior[txn.ID]; ok {
			classify(result, txn, d)
		} else if err := s.resolve(ctx, session, txn, candidates[txn.ID], pool, result); err != nil {
			return err
		}

		current := progressMatching + (progressArchive-progressMatching)*(i+1)/len(txns)
		if current >= lastSaved+progressStep {
			if err := s.renewLock(ctx, session); err != nil {
				return err
			}
			if err := s.progress(ctx, session, current, fmt.Sprintf("matched %d of %d transactions", i+1, len(txns))); err != nil {
				return err
			}
			lastSaved = current
		}
	}
	return nil
}

// renewLock extends the import lock by another TTL while matching runs.
func (s *ReconciliationService) renewLock(ctx context.Context, session *models.ImportSession) error {
	key := session.LockKey()
	held, err := s.store.Locker().Refresh(ctx, key, session.ID, s.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("renewing import lock: %w", err)
	}
	if !held {
		metrics.RecordLockContention(string(session.Source))
		return apperror.New(apperror.CodeImportInProgress, "import lock was taken over by another import").
			WithDetail("lock_key", key)
	}
	return nil
}

// loadPool reads the pending POS records that could pair with any of txns.
func (s *ReconciliationService) loadPool(ctx context.Context, session *models.ImportSession, txns []models.SettlementTransaction) (*matching.Pool, error) {
	if len(txns) == 0 {
		return matching.NewPool(nil), nil
	}
	first, last := txns[0].ValueDay(), txns[0].ValueDay()
	for _, t := range txns[1:] {
		day := t.ValueDay()
		if day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}
	}
	loc := s.engine.Config().Location
	w := s.engine.Window()
	from := time.Date(first.Year(), first.Month(), first.Day()-w, 0, 0, 0, 0, loc)
	to := time.Date(last.Year(), last.Month(), last.Day()+w+1, 0, 0, 0, 0, loc)

	records, err := s.store.Repos().Sales.FindPendingByPaymentMethodAndWindow(ctx,
		session.OrganizationID, s.engine.Methods(session.Source), from, to)
	if err != nil {
		return nil, fmt.Errorf("loading sales ledger: %w", err)
	}
	s.log.Debug("Candidate pool loaded",
		zap.String("session_id", session.ID.String()),
		zap.Int("records", len(records)),
		zap.Time("from", from),
		zap.Time("to", to),
	)
	return matching.NewPool(records), nil
}

// resolve decides one transaction. A lost claim drops the record from the pool
// and the transaction is matched again against what is left.
func (s *ReconciliationService) resolve(ctx context.Context, session *models.ImportSession, txn models.SettlementTransaction, cands []models.MatchCandidate, pool *matching.Pool, result *models.ImportResult) error {
	source := string(txn.Source)
	for {
		if pool.AnyRemoved(cands) {
			cands = s.engine.Match(txn, pool.Available())
		}
		out := s.policy.Decide(cands)
		if out.Best != nil {
			metrics.RecordBestConfidence(source, out.Best.Confidence)
		}

		d, err := s.policy.Apply(ctx, s.store, session.ID, txn, out, s.now())
		switch {
		case errors.Is(err, resolution.ErrClaimLost):
			metrics.RecordClaimLost(source)
			s.log.Info("POS record claimed elsewhere, rematching",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("pos_record_id", out.Best.POSRecordID.String()),
			)
			pool.Remove(out.Best.POSRecordID)
			continue
		case apperror.Is(err, apperror.CodeAlreadyDecided):
			active, aerr := s.store.Repos().Decisions.Active(ctx, txn.ID)
			if aerr != nil {
				return fmt.Errorf("loading concurrent decision: %w", aerr)
			}
			classify(result, txn, *active)
			return nil
		case err != nil:
			return err
		}

		switch out.Action {
		case resolution.ActionAutoApply:
			pool.Remove(out.Best.POSRecordID)
			result.Matches = append(result.Matches, *out.Best)
			result.Updated++
			metrics.RecordDecision(string(d.Decision), d.DecidedBy)
		case resolution.ActionReview:
			result.Review = append(result.Review, models.ReviewItem{Transaction: txn, Candidates: out.Candidates})
			metrics.RecordReview(source)
		case resolution.ActionUnmatched:
			result.Unmatched = append(result.Unmatched, txn)
			metrics.RecordDecision(string(d.Decision), d.DecidedBy)
		}
		return nil
	}
}

// classify files a transaction that already carries an active decision.
func classify(result *models.ImportResult, txn models.SettlementTransaction, d models.MatchDecision) {
	if d.Decision.Finalizes() {
		result.Matches = append(result.Matches, models.CandidateFromDecision(d))
		return
	}
	result.Unmatched = append(result.Unmatched, txn)
}

// progress persists the session and publishes the event.
func (s *ReconciliationService) progress(ctx context.Context, session *models.ImportSession, current int, msg string) error {
	if current > session.Progress {
		session.Progress = current
	}
	session.StepMessage = msg
	session.UpdatedAt = s.now()
	if err := s.store.Repos().Sessions.Save(ctx, session); err != nil {
		return fmt.Errorf("saving session progress: %w", err)
	}
	s.hub.Publish(eventFromSession(session))
	return nil
}

func (s *ReconciliationService) fail(ctx context.Context, session *models.ImportSession, cause error, start time.Time) {
	ctx = context.WithoutCancel(ctx)
	code := apperror.CodeOf(cause)
	if code == "" {
		code = apperror.CodeInternal
	}
	if err := session.Fail(string(code), cause.Error(), s.now()); err != nil {
		s.log.Error("Cannot fail session", zap.String("session_id", session.ID.String()), zap.Error(err))
		return
	}
	session.UpdatedAt = s.now()
	if err := s.store.Repos().Sessions.Save(ctx, session); err != nil {
		s.log.Error("Failed to persist failed session", zap.String("session_id", session.ID.String()), zap.Error(err))
	}
	s.hub.Publish(eventFromSession(session))
	metrics.RecordImport(string(session.Source), string(models.StateFailed), s.now().Sub(start).Seconds())

	fields := []zap.Field{
		zap.String("session_id", session.ID.String()),
		zap.String("source", string(session.Source)),
		zap.String("error_code", string(code)),
		zap.Error(cause),
	}
	for k, v := range apperror.DetailsOf(cause) {
		fields = append(fields, zap.Any(k, v))
	}
	if code == apperror.CodeInternal {
		s.log.Error("Settlement import failed", fields...)
	} else {
		s.log.Warn("Settlement import failed", fields...)
	}
}

// derivePeriod is the month of the earliest value date, or of the upload when the file is empty.
func derivePeriod(txns []models.SettlementTransaction, uploaded time.Time, loc *time.Location) string {
	if len(txns) == 0 {
		return uploaded.In(loc).Format("2006-01")
	}
	earliest := txns[0].ValueDay()
	for _, t := range txns[1:] {
		if day := t.ValueDay(); day.Before(earliest) {
			earliest = day
		}
	}
	return earliest.Format("2006-01")
}

func contentType(filename, fallbackExt string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = fallbackExt
	}
	switch ext {
	case ".xml":
		return "application/xml"
	case ".csv":
		return "text/csv"
	}
	return "application/octet-stream"
}
