package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/ports"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

var base = time.Date(2025, time.April, 3, 10, 0, 0, 0, time.UTC)

func posRecord(method string, at time.Time) models.POSRecord {
	return models.POSRecord{
		ID:               uuid.New(),
		OrganizationID:   "org-1",
		Kind:             models.POSKindSale,
		Amount:           6550,
		PaymentMethod:    method,
		Timestamp:        at,
		SettlementStatus: models.SettlementPending,
	}
}

func TestSalesLedger_FindAndClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewSalesLedgerRepository(setupDB(t))

	inWindow := posRecord("sumup", base)
	card := posRecord("card", base.Add(24*time.Hour))
	outside := posRecord("sumup", base.Add(72*time.Hour))
	twint := posRecord("twint", base)
	otherOrg := posRecord("sumup", base)
	otherOrg.OrganizationID = "org-2"
	require.NoError(t, repo.Create(ctx, []models.POSRecord{inWindow, card, outside, twint, otherOrg}))

	found, err := repo.FindPendingByPaymentMethodAndWindow(ctx, "org-1", []string{"sumup", "card"}, base.Add(-48*time.Hour), base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, inWindow.ID, found[0].ID)
	assert.Equal(t, card.ID, found[1].ID)

	ok, err := repo.ClaimForSettlement(ctx, inWindow.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ClaimForSettlement(ctx, inWindow.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	txnID := uuid.New()
	require.NoError(t, repo.MarkMatched(ctx, inWindow.ID, txnID, base))
	got, err := repo.Get(ctx, inWindow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementMatched, got.SettlementStatus)
	require.NotNil(t, got.SettlementTransactionID)
	assert.Equal(t, txnID, *got.SettlementTransactionID)

	found, err = repo.FindPendingByPaymentMethodAndWindow(ctx, "org-1", []string{"sumup", "card"}, base.Add(-48*time.Hour), base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ports.ErrNotFound)

	fee := &models.SettlementFee{ID: uuid.New(), POSRecordID: inWindow.ID, SettlementTransactionID: txnID, Source: models.SourceSumUp, Amount: 110, Currency: "CHF"}
	require.NoError(t, repo.RecordFee(ctx, fee))
	dup := *fee
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.RecordFee(ctx, &dup), ports.ErrConflict)
}

func TestDecisionRepository_ActiveUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewDecisionRepository(setupDB(t))
	txnID, otherTxn, posID := uuid.New(), uuid.New(), uuid.New()

	unmatched := &models.MatchDecision{ID: uuid.New(), SessionID: uuid.New(), SettlementTransactionID: txnID,
		Decision: models.DecisionUnmatched, Reason: models.ReasonNoMatchingTransaction, DecidedBy: models.DecidedBySystem, DecidedAt: base}
	require.NoError(t, repo.Create(ctx, unmatched))

	second := &models.MatchDecision{ID: uuid.New(), SessionID: uuid.New(), SettlementTransactionID: txnID,
		Decision: models.DecisionApproved, POSRecordID: &posID, DecidedBy: "op", DecidedAt: base}
	assert.ErrorIs(t, repo.Create(ctx, second), ports.ErrConflict)

	require.NoError(t, repo.Supersede(ctx, unmatched.ID, base))
	assert.ErrorIs(t, repo.Supersede(ctx, unmatched.ID, base), ports.ErrConflict)
	require.NoError(t, repo.Create(ctx, second))

	active, err := repo.Active(ctx, txnID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	// the POS record is already bound by a finalized decision
	steal := &models.MatchDecision{ID: uuid.New(), SessionID: uuid.New(), SettlementTransactionID: otherTxn,
		Decision: models.DecisionAutoApplied, POSRecordID: &posID, DecidedBy: models.DecidedBySystem, DecidedAt: base}
	assert.ErrorIs(t, repo.Create(ctx, steal), ports.ErrConflict)

	// rejections may reference it
	reject := &models.MatchDecision{ID: uuid.New(), SessionID: uuid.New(), SettlementTransactionID: otherTxn,
		Decision: models.DecisionRejected, POSRecordID: &posID, DecidedBy: "op", DecidedAt: base}
	require.NoError(t, repo.Create(ctx, reject))

	m, err := repo.ActiveForTransactions(ctx, []uuid.UUID{txnID, otherTxn, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.Equal(t, models.DecisionRejected, m[otherTxn].Decision)

	_, err = repo.Active(ctx, uuid.New())
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestLockRepository_AcquireReleaseReclaim(t *testing.T) {
	ctx := context.Background()
	repo := NewLockRepository(setupDB(t))
	now := base
	repo.now = func() time.Time { return now }

	a, b := uuid.New(), uuid.New()
	key := "org-1|2025-04|sumup"

	ok, err := repo.Acquire(ctx, key, a, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(ctx, key, b, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// another key is independent
	ok, err = repo.Acquire(ctx, "org-1|2025-04|twint", b, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// release by a non-holder is a no-op
	require.NoError(t, repo.Release(ctx, key, b))
	ok, err = repo.Acquire(ctx, key, b, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// stale locks are reclaimed
	now = base.Add(2 * time.Minute)
	ok, err = repo.Acquire(ctx, key, b, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Release(ctx, key, b))
	ok, err = repo.Acquire(ctx, key, a, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockRepository_Refresh(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := NewLockRepository(db)
	now := base
	repo.now = func() time.Time { return now }

	a, b := uuid.New(), uuid.New()
	key := "org-1|2025-04|sumup"

	ok, err := repo.Acquire(ctx, key, a, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = base.Add(50 * time.Second)
	ok, err = repo.Refresh(ctx, key, a, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	var lock models.ImportLock
	require.NoError(t, db.First(&lock, "lock_key = ?", key).Error)
	assert.True(t, lock.ExpiresAt.Equal(base.Add(110*time.Second)), lock.ExpiresAt)

	// past the original expiry the refreshed lock still holds
	now = base.Add(90 * time.Second)
	ok, err = repo.Acquire(ctx, key, b, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Refresh(ctx, key, b, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a lock reclaimed by someone else cannot be refreshed by its old holder
	now = base.Add(3 * time.Minute)
	ok, err = repo.Acquire(ctx, key, b, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Refresh(ctx, key, a, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_FilesTransactionsSessions(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupDB(t))
	r := store.Repos()

	file := &models.SettlementFile{ID: uuid.New(), OrganizationID: "org-1", Source: models.SourceSumUp, Checksum: "abc", Filename: "sumup.csv", Period: "2025-04", UploadedAt: base}
	require.NoError(t, r.Files.Create(ctx, file))
	dup := *file
	dup.ID = uuid.New()
	assert.ErrorIs(t, r.Files.Create(ctx, &dup), ports.ErrConflict)

	found, err := r.Files.FindByChecksum(ctx, "org-1", models.SourceSumUp, "abc")
	require.NoError(t, err)
	assert.Equal(t, file.ID, found.ID)
	_, err = r.Files.FindByChecksum(ctx, "org-1", models.SourceTwint, "abc")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	txns := []models.SettlementTransaction{
		{ID: uuid.New(), FileID: file.ID, Source: models.SourceSumUp, RowNumber: 3, Fingerprint: "f3", ValueDate: base},
		{ID: uuid.New(), FileID: file.ID, Source: models.SourceSumUp, RowNumber: 2, Fingerprint: "f2", ValueDate: base},
	}
	require.NoError(t, r.Transactions.InsertBatch(ctx, txns))
	// same fingerprints with fresh ids are ignored
	again := []models.SettlementTransaction{
		{ID: uuid.New(), FileID: file.ID, Source: models.SourceSumUp, RowNumber: 2, Fingerprint: "f2", ValueDate: base},
		{ID: uuid.New(), FileID: file.ID, Source: models.SourceSumUp, RowNumber: 4, Fingerprint: "f4", ValueDate: base},
	}
	require.NoError(t, r.Transactions.InsertBatch(ctx, again))
	list, err := r.Transactions.ListByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{list[0].RowNumber, list[1].RowNumber, list[2].RowNumber})
	assert.Equal(t, txns[1].ID, list[0].ID)

	first := &models.ImportSession{ID: uuid.New(), OrganizationID: "org-1", FileID: file.ID, Source: models.SourceSumUp, State: models.StateFailed, CreatedAt: base}
	latest := &models.ImportSession{ID: uuid.New(), OrganizationID: "org-1", FileID: file.ID, Source: models.SourceSumUp, State: models.StateUpload, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, r.Sessions.Create(ctx, first))
	require.NoError(t, r.Sessions.Create(ctx, latest))

	got, err := r.Sessions.LatestForFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)

	latest.State = models.StateCompleted
	latest.Progress = 100
	require.NoError(t, r.Sessions.Save(ctx, latest))
	got, err = r.Sessions.Get(ctx, latest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, got.State)

	sessions, err := r.Sessions.ListByOrganization(ctx, "org-1", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, latest.ID, sessions[0].ID)

	docID, err := store.Documents().Archive(ctx, []byte("raw"), models.DocumentMetadata{OrganizationID: "org-1", Filename: "sumup.csv", FileID: file.ID})
	require.NoError(t, err)
	require.NoError(t, r.Files.SetDocument(ctx, file.ID, docID))
	doc, err := store.Documents().Get(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), doc.Content)
	assert.Contains(t, string(doc.Metadata), file.ID.String())
}

func TestStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupDB(t))
	boom := errors.New("boom")

	file := &models.SettlementFile{ID: uuid.New(), OrganizationID: "org-1", Source: models.SourceTwint, Checksum: "x", UploadedAt: base}
	err := store.InTx(ctx, func(r ports.Repositories) error {
		if err := r.Files.Create(ctx, file); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Repos().Files.Get(ctx, file.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
