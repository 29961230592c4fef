// Package memstore is an in-memory implementation of the storage ports, used
// by tests and the CLI dry run.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/ports"
)

type state struct {
	pos          map[uuid.UUID]models.POSRecord
	fees         map[uuid.UUID]models.SettlementFee
	files        map[uuid.UUID]models.SettlementFile
	transactions map[uuid.UUID]models.SettlementTransaction
	sessions     map[uuid.UUID]models.ImportSession
	sessionOrder []uuid.UUID
	decisions    []models.MatchDecision
	audit        []models.MatchAuditLog
	locks        map[string]models.ImportLock
	documents    map[uuid.UUID]models.ArchivedDocument
}

func newState() *state {
	return &state{
		pos:          make(map[uuid.UUID]models.POSRecord),
		fees:         make(map[uuid.UUID]models.SettlementFee),
		files:        make(map[uuid.UUID]models.SettlementFile),
		transactions: make(map[uuid.UUID]models.SettlementTransaction),
		sessions:     make(map[uuid.UUID]models.ImportSession),
		locks:        make(map[string]models.ImportLock),
		documents:    make(map[uuid.UUID]models.ArchivedDocument),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		pos:          cloneMap(s.pos),
		fees:         cloneMap(s.fees),
		files:        cloneMap(s.files),
		transactions: cloneMap(s.transactions),
		sessions:     cloneMap(s.sessions),
		sessionOrder: append([]uuid.UUID(nil), s.sessionOrder...),
		decisions:    append([]models.MatchDecision(nil), s.decisions...),
		audit:        append([]models.MatchAuditLog(nil), s.audit...),
		locks:        cloneMap(s.locks),
		documents:    cloneMap(s.documents),
	}
}

// Store is a thread-safe in-memory store. InTx holds the store lock for the
// whole callback and restores the previous state when it returns an error.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newState(), now: time.Now}
}

// SetClock replaces the clock used for lock expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Repos() ports.Repositories {
	return view{s: s}.repos()
}

func (s *Store) InTx(ctx context.Context, fn func(r ports.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.data.clone()
	if err := fn(view{s: s, locked: true}.repos()); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) Locker() ports.Locker {
	return lockRepo{view{s: s}}
}

// Documents returns a DocumentStore backed by the same state.
func (s *Store) Documents() ports.DocumentStore {
	return documentRepo{view{s: s}}
}

// view routes every call through the store lock unless it already runs inside InTx.
type view struct {
	s      *Store
	locked bool
}

func (v view) lock() func() {
	if v.locked {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) repos() ports.Repositories {
	return ports.Repositories{
		Sales:        salesRepo{v},
		Files:        fileRepo{v},
		Transactions: transactionRepo{v},
		Sessions:     sessionRepo{v},
		Decisions:    decisionRepo{v},
		Audit:        auditRepo{v},
	}
}

// --- Seeding and inspection helpers ---

func (s *Store) AddPOSRecords(records ...models.POSRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.SettlementStatus == "" {
			r.SettlementStatus = models.SettlementPending
		}
		s.data.pos[r.ID] = r
	}
}

func (s *Store) POSRecord(id uuid.UUID) (models.POSRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.pos[id]
	return r, ok
}

func (s *Store) Fees() []models.SettlementFee {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SettlementFee, 0, len(s.data.fees))
	for _, f := range s.data.fees {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Decisions returns every decision, superseded ones included, in write order.
func (s *Store) Decisions() []models.MatchDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MatchDecision(nil), s.data.decisions...)
}

func (s *Store) AuditLogs() []models.MatchAuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MatchAuditLog(nil), s.data.audit...)
}

func (s *Store) ArchivedDocuments() []models.ArchivedDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ArchivedDocument, 0, len(s.data.documents))
	for _, d := range s.data.documents {
		out = append(out, d)
	}
	return out
}

// --- Sales ledger ---

type salesRepo struct{ view }

func (r salesRepo) FindPendingByPaymentMethodAndWindow(_ context.Context, org string, methods []string, from, to time.Time) ([]models.POSRecord, error) {
	defer r.lock()()
	var out []models.POSRecord
	for _, p := range r.s.data.pos {
		if p.OrganizationID != org || p.SettlementStatus != models.SettlementPending {
			continue
		}
		if p.Timestamp.Before(from) || !p.Timestamp.Before(to) {
			continue
		}
		for _, m := range methods {
			if strings.EqualFold(m, p.PaymentMethod) {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r salesRepo) Get(_ context.Context, id uuid.UUID) (*models.POSRecord, error) {
	defer r.lock()()
	p, ok := r.s.data.pos[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &p, nil
}

func (r salesRepo) ClaimForSettlement(_ context.Context, id uuid.UUID) (bool, error) {
	defer r.lock()()
	p, ok := r.s.data.pos[id]
	if !ok || p.SettlementStatus != models.SettlementPending {
		return false, nil
	}
	p.SettlementStatus = models.SettlementMatched
	r.s.data.pos[id] = p
	return true, nil
}

func (r salesRepo) MarkMatched(_ context.Context, id, txnID uuid.UUID, at time.Time) error {
	defer r.lock()()
	p, ok := r.s.data.pos[id]
	if !ok {
		return ports.ErrNotFound
	}
	p.SettlementTransactionID = &txnID
	p.SettledAt = &at
	r.s.data.pos[id] = p
	return nil
}

func (r salesRepo) RecordFee(_ context.Context, fee *models.SettlementFee) error {
	defer r.lock()()
	for _, f := range r.s.data.fees {
		if f.SettlementTransactionID == fee.SettlementTransactionID {
			return ports.ErrConflict
		}
	}
	r.s.data.fees[fee.ID] = *fee
	return nil
}

// --- Files ---

type fileRepo struct{ view }

func (r fileRepo) Create(_ context.Context, f *models.SettlementFile) error {
	defer r.lock()()
	for _, existing := range r.s.data.files {
		if existing.OrganizationID == f.OrganizationID && existing.Source == f.Source && existing.Checksum == f.Checksum {
			return ports.ErrConflict
		}
	}
	r.s.data.files[f.ID] = *f
	return nil
}

func (r fileRepo) Get(_ context.Context, id uuid.UUID) (*models.SettlementFile, error) {
	defer r.lock()()
	f, ok := r.s.data.files[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &f, nil
}

func (r fileRepo) FindByChecksum(_ context.Context, org string, source models.SourceKind, checksum string) (*models.SettlementFile, error) {
	defer r.lock()()
	for _, f := range r.s.data.files {
		if f.OrganizationID == org && f.Source == source && f.Checksum == checksum {
			return &f, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r fileRepo) SetDocument(_ context.Context, id, documentID uuid.UUID) error {
	defer r.lock()()
	f, ok := r.s.data.files[id]
	if !ok {
		return ports.ErrNotFound
	}
	f.DocumentID = &documentID
	r.s.data.files[id] = f
	return nil
}

// --- Transactions ---

type transactionRepo struct{ view }

func (r transactionRepo) InsertBatch(_ context.Context, txns []models.SettlementTransaction) error {
	defer r.lock()()
	seen := make(map[string]struct{})
	for _, t := range r.s.data.transactions {
		seen[t.FileID.String()+t.Fingerprint] = struct{}{}
	}
	for _, t := range txns {
		key := t.FileID.String() + t.Fingerprint
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		r.s.data.transactions[t.ID] = t
	}
	return nil
}

func (r transactionRepo) ListByFile(_ context.Context, fileID uuid.UUID) ([]models.SettlementTransaction, error) {
	defer r.lock()()
	var out []models.SettlementTransaction
	for _, t := range r.s.data.transactions {
		if t.FileID == fileID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowNumber != out[j].RowNumber {
			return out[i].RowNumber < out[j].RowNumber
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r transactionRepo) Get(_ context.Context, id uuid.UUID) (*models.SettlementTransaction, error) {
	defer r.lock()()
	t, ok := r.s.data.transactions[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &t, nil
}

// --- Sessions ---

type sessionRepo struct{ view }

func (r sessionRepo) Create(_ context.Context, s *models.ImportSession) error {
	defer r.lock()()
	if _, ok := r.s.data.sessions[s.ID]; ok {
		return ports.ErrConflict
	}
	r.s.data.sessions[s.ID] = *s
	r.s.data.sessionOrder = append(r.s.data.sessionOrder, s.ID)
	return nil
}

func (r sessionRepo) Save(_ context.Context, s *models.ImportSession) error {
	defer r.lock()()
	if _, ok := r.s.data.sessions[s.ID]; !ok {
		return ports.ErrNotFound
	}
	r.s.data.sessions[s.ID] = *s
	return nil
}

func (r sessionRepo) Get(_ context.Context, id uuid.UUID) (*models.ImportSession, error) {
	defer r.lock()()
	s, ok := r.s.data.sessions[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &s, nil
}

func (r sessionRepo) LatestForFile(_ context.Context, fileID uuid.UUID) (*models.ImportSession, error) {
	defer r.lock()()
	for i := len(r.s.data.sessionOrder) - 1; i >= 0; i-- {
		s := r.s.data.sessions[r.s.data.sessionOrder[i]]
		if s.FileID == fileID {
			return &s, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r sessionRepo) ListByOrganization(_ context.Context, org string, limit int) ([]models.ImportSession, error) {
	defer r.lock()()
	var out []models.ImportSession
	for i := len(r.s.data.sessionOrder) - 1; i >= 0; i-- {
		s := r.s.data.sessions[r.s.data.sessionOrder[i]]
		if s.OrganizationID != org {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Decisions ---

type decisionRepo struct{ view }

func (r decisionRepo) Create(_ context.Context, d *models.MatchDecision) error {
	defer r.lock()()
	for _, existing := range r.s.data.decisions {
		if existing.SupersededAt != nil {
			continue
		}
		if existing.SettlementTransactionID == d.SettlementTransactionID {
			return ports.ErrConflict
		}
		if d.POSRecordID != nil && existing.POSRecordID != nil && *existing.POSRecordID == *d.POSRecordID &&
			d.Decision != models.DecisionRejected && existing.Decision != models.DecisionRejected {
			return ports.ErrConflict
		}
	}
	r.s.data.decisions = append(r.s.data.decisions, *d)
	return nil
}

func (r decisionRepo) Active(_ context.Context, txnID uuid.UUID) (*models.MatchDecision, error) {
	defer r.lock()()
	for _, d := range r.s.data.decisions {
		if d.SettlementTransactionID == txnID && d.SupersededAt == nil {
			return &d, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r decisionRepo) ActiveForTransactions(_ context.Context, txnIDs []uuid.UUID) (map[uuid.UUID]models.MatchDecision, error) {
	defer r.lock()()
	want := make(map[uuid.UUID]struct{}, len(txnIDs))
	for _, id := range txnIDs {
		want[id] = struct{}{}
	}
	out := make(map[uuid.UUID]models.MatchDecision)
	for _, d := range r.s.data.decisions {
		if _, ok := want[d.SettlementTransactionID]; ok && d.SupersededAt == nil {
			out[d.SettlementTransactionID] = d
		}
	}
	return out, nil
}

func (r decisionRepo) Supersede(_ context.Context, id uuid.UUID, at time.Time) error {
	defer r.lock()()
	for i := range r.s.data.decisions {
		if r.s.data.decisions[i].ID == id {
			if r.s.data.decisions[i].SupersededAt != nil {
				return ports.ErrConflict
			}
			r.s.data.decisions[i].SupersededAt = &at
			return nil
		}
	}
	return ports.ErrNotFound
}

// --- Audit ---

type auditRepo struct{ view }

func (r auditRepo) Create(_ context.Context, l *models.MatchAuditLog) error {
	defer r.lock()()
	r.s.data.audit = append(r.s.data.audit, *l)
	return nil
}

func (r auditRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.MatchAuditLog, error) {
	defer r.lock()()
	var out []models.MatchAuditLog
	for _, l := range r.s.data.audit {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- Locks ---

type lockRepo struct{ view }

func (r lockRepo) Acquire(_ context.Context, key string, holder uuid.UUID, ttl time.Duration) (bool, error) {
	defer r.lock()()
	now := r.s.now()
	if l, ok := r.s.data.locks[key]; ok && l.ExpiresAt.After(now) {
		return false, nil
	}
	r.s.data.locks[key] = models.ImportLock{Key: key, HolderID: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (r lockRepo) Release(_ context.Context, key string, holder uuid.UUID) error {
	defer r.lock()()
	if l, ok := r.s.data.locks[key]; ok && l.HolderID == holder {
		delete(r.s.data.locks, key)
	}
	return nil
}

func (r lockRepo) Refresh(_ context.Context, key string, holder uuid.UUID, ttl time.Duration) (bool, error) {
	defer r.lock()()
	l, ok := r.s.data.locks[key]
	if !ok || l.HolderID != holder {
		return false, nil
	}
	l.ExpiresAt = r.s.now().Add(ttl)
	r.s.data.locks[key] = l
	return true, nil
}

// --- Documents ---

type documentRepo struct{ view }

func (r documentRepo) Archive(_ context.Context, content []byte, meta models.DocumentMetadata) (uuid.UUID, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encoding document metadata: %w", err)
	}
	defer r.lock()()
	doc := models.ArchivedDocument{
		ID:             uuid.New(),
		OrganizationID: meta.OrganizationID,
		Filename:       meta.Filename,
		ContentType:    meta.ContentType,
		Checksum:       meta.Checksum,
		Content:        append([]byte(nil), content...),
		Metadata:       datatypes.JSON(raw),
		CreatedAt:      r.s.now(),
	}
	r.s.data.documents[doc.ID] = doc
	return doc.ID, nil
}
