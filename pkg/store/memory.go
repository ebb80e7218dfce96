package store

import (
	"context"
	"sort"
	"sync"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// MemoryStore is the in-memory RunStore and AuditStore used in tests and
// when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]models.TestRun
	audit []models.AuditEntry
}

var (
	_ RunStore   = (*MemoryStore)(nil)
	_ AuditStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]models.TestRun)}
}

func (m *MemoryStore) SaveRun(_ context.Context, run *models.TestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*models.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, tenantID string, limit int) ([]*models.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.TestRun, 0)
	for id := range m.runs {
		run := m.runs[id]
		if tenantID != "" && run.TenantID != tenantID {
			continue
		}
		out = append(out, &run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) WriteAudit(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *entry)
	return nil
}

// AuditEntries returns a copy of the recorded audit trail (tests).
func (m *MemoryStore) AuditEntries() []models.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}
