package journal

import (
	"sync"
	"time"

	"github.com/TheMichaelB/obseal/internal/models"
)

// MockStore is an in-memory Store for tests and for running without a
// database.
type MockStore struct {
	mu      sync.RWMutex
	records map[string]models.JobRecord
}

// NewMockStore creates an empty in-memory journal.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string]models.JobRecord),
	}
}

// Record stores a copy of rec.
func (m *MockStore) Record(rec *models.JobRecord) error {
	if rec == nil || rec.ID == "" {
		return models.ErrInvalidJob
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.ID] = *rec
	return nil
}

// Get returns a copy of the stored record.
func (m *MockStore) Get(id string) (*models.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return &rec, nil
}

// List returns matching records newest first.
func (m *MockStore) List(opts ListOptions) ([]*models.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.JobRecord
	for _, rec := range m.records {
		if !opts.matches(&rec) {
			continue
		}
		rec := rec
		out = append(out, &rec)
	}

	return opts.apply(out), nil
}

// Prune removes records that finished before the cutoff.
func (m *MockStore) Prune(before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, rec := range m.records {
		if rec.FinishedAt.Before(before) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
