package matching

import (
	"sync"

	"github.com/google/uuid"

	"settlement-reconciliation-engine/internal/models"
)

// Pool is the snapshot of pending POS records a matching run scores against.
// Records claimed during the run are removed so later transactions cannot take them.
type Pool struct {
	mu      sync.RWMutex
	records []models.POSRecord
	removed map[uuid.UUID]struct{}
}

func NewPool(records []models.POSRecord) *Pool {
	return &Pool{
		records: append([]models.POSRecord(nil), records...),
		removed: make(map[uuid.UUID]struct{}),
	}
}

// Available returns the records not yet removed, in snapshot order.
func (p *Pool) Available() []models.POSRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.POSRecord, 0, len(p.records)-len(p.removed))
	for _, r := range p.records {
		if _, gone := p.removed[r.ID]; !gone {
			out = append(out, r)
		}
	}
	return out
}

func (p *Pool) Remove(id uuid.UUID) {
	p.mu.Lock()
	p.removed[id] = struct{}{}
	p.mu.Unlock()
}

func (p *Pool) Removed(id uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, gone := p.removed[id]
	return gone
}

// AnyRemoved reports whether any candidate points at a removed record.
func (p *Pool) AnyRemoved(candidates []models.MatchCandidate) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range candidates {
		if _, gone := p.removed[c.POSRecordID]; gone {
			return true
		}
	}
	return false
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records) - len(p.removed)
}
