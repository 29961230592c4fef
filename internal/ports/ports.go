// Package ports declares the storage boundaries of the engine. The gorm
// adapter lives in internal/repository and an in-memory one in internal/memstore.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"settlement-reconciliation-engine/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// SalesLedger is the engine's view of the POS records it reconciles against.
type SalesLedger interface {
	FindPendingByPaymentMethodAndWindow(ctx context.Context, org string, methods []string, from, to time.Time) ([]models.POSRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*models.POSRecord, error)
	// ClaimForSettlement flips a pending record to matched. It reports false
	// when the record was no longer pending.
	ClaimForSettlement(ctx context.Context, id uuid.UUID) (bool, error)
	MarkMatched(ctx context.Context, id, txnID uuid.UUID, at time.Time) error
	RecordFee(ctx context.Context, fee *models.SettlementFee) error
}

type FileRepository interface {
	Create(ctx context.Context, f *models.SettlementFile) error
	Get(ctx context.Context, id uuid.UUID) (*models.SettlementFile, error)
	FindByChecksum(ctx context.Context, org string, source models.SourceKind, checksum string) (*models.SettlementFile, error)
	SetDocument(ctx context.Context, id, documentID uuid.UUID) error
}

type TransactionRepository interface {
	// InsertBatch stores txns, skipping fingerprints already present for the file.
	InsertBatch(ctx context.Context, txns []models.SettlementTransaction) error
	// ListByFile returns the file's transactions in row order.
	ListByFile(ctx context.Context, fileID uuid.UUID) ([]models.SettlementTransaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SettlementTransaction, error)
}

type SessionRepository interface {
	Create(ctx context.Context, s *models.ImportSession) error
	Save(ctx context.Context, s *models.ImportSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.ImportSession, error)
	LatestForFile(ctx context.Context, fileID uuid.UUID) (*models.ImportSession, error)
	ListByOrganization(ctx context.Context, org string, limit int) ([]models.ImportSession, error)
}

type DecisionRepository interface {
	// Create fails with ErrConflict when the transaction already has an active
	// decision or the POS record is already bound by one.
	Create(ctx context.Context, d *models.MatchDecision) error
	Active(ctx context.Context, txnID uuid.UUID) (*models.MatchDecision, error)
	ActiveForTransactions(ctx context.Context, txnIDs []uuid.UUID) (map[uuid.UUID]models.MatchDecision, error)
	Supersede(ctx context.Context, id uuid.UUID, at time.Time) error
}

type AuditRepository interface {
	Create(ctx context.Context, l *models.MatchAuditLog) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.MatchAuditLog, error)
}

// Locker guards one matching run per key. Expired locks may be taken over.
type Locker interface {
	Acquire(ctx context.Context, key string, holder uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string, holder uuid.UUID) error
	// Refresh pushes the expiry of a lock owned by holder to now+ttl. It
	// reports false once another holder has taken the key over.
	Refresh(ctx context.Context, key string, holder uuid.UUID, ttl time.Duration) (bool, error)
}

// DocumentStore archives original settlement files.
type DocumentStore interface {
	Archive(ctx context.Context, content []byte, meta models.DocumentMetadata) (uuid.UUID, error)
}

type Repositories struct {
	Sales        SalesLedger
	Files        FileRepository
	Transactions TransactionRepository
	Sessions     SessionRepository
	Decisions    DecisionRepository
	Audit        AuditRepository
}

// Store hands out repositories bound either to the base connection or to a
// single transaction.
type Store interface {
	Repos() Repositories
	InTx(ctx context.Context, fn func(r Repositories) error) error
	Locker() Locker
}
