package testutil

import (
	"context"
	"sort"
	"sync"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/pkg/errors"
)

// MemoryRecords is an in-memory domain.RecordRepository.
type MemoryRecords struct {
	mu   sync.RWMutex
	recs map[string]*domain.Record
	seq  map[string]int
	next int
}

var _ domain.RecordRepository = (*MemoryRecords)(nil)

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{recs: map[string]*domain.Record{}, seq: map[string]int{}}
}

func (m *MemoryRecords) Save(_ context.Context, rec *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs[rec.ID] = &cp
	if _, ok := m.seq[rec.ID]; !ok {
		m.next++
		m.seq[rec.ID] = m.next
	}
	return nil
}

func (m *MemoryRecords) FindByID(_ context.Context, id string) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, errors.New(errors.CodeRecordNotFound, "record not found").WithDetail(id)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRecords) FindByCanonical(_ context.Context, canonical string) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *domain.Record
	for _, rec := range m.recs {
		if rec.Status != domain.RecordProcessed || rec.Canonical != canonical {
			continue
		}
		if found == nil || m.seq[rec.ID] > m.seq[found.ID] {
			found = rec
		}
	}
	if found == nil {
		return nil, errors.New(errors.CodeRecordNotFound, "record not found").WithDetail(canonical)
	}
	cp := *found
	return &cp, nil
}

// ListByBatch orders by first save, which matches creation order for
// records saved once.
func (m *MemoryRecords) ListByBatch(_ context.Context, batchID string) ([]*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Record
	for _, rec := range m.recs {
		if rec.BatchID == batchID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] < m.seq[out[j].ID] })
	return out, nil
}

func (m *MemoryRecords) CountByStatus(_ context.Context, batchID string) (map[domain.RecordStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[domain.RecordStatus]int)
	for _, rec := range m.recs {
		if rec.BatchID == batchID {
			counts[rec.Status]++
		}
	}
	return counts, nil
}

// Len returns the number of stored records.
func (m *MemoryRecords) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}
