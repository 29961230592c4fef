package repository

import (
	"context"

	"gorm.io/gorm"

	"settlement-reconciliation-engine/internal/ports"
)

// Store wires the gorm repositories behind the storage ports.
type Store struct {
	db     *gorm.DB
	locker *LockRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, locker: NewLockRepository(db)}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func repositories(db *gorm.DB) ports.Repositories {
	return ports.Repositories{
		Sales:        NewSalesLedgerRepository(db),
		Files:        NewSettlementFileRepository(db),
		Transactions: NewSettlementTransactionRepository(db),
		Sessions:     NewSessionRepository(db),
		Decisions:    NewDecisionRepository(db),
		Audit:        NewAuditRepository(db),
	}
}

func (s *Store) Repos() ports.Repositories {
	return repositories(s.db)
}

// InTx runs fn with repositories bound to one database transaction. It commits
// when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(r ports.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repositories(tx))
	})
}

func (s *Store) Locker() ports.Locker {
	return s.locker
}

func (s *Store) Documents() *DocumentRepository {
	return NewDocumentRepository(s.db)
}
