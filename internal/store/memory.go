package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// MemStore is an in-process Store, used by tests and single-node
// deployments that want history across engine restarts within a process.
type MemStore struct {
	mu         sync.Mutex
	usage      []models.UsageRecord
	executions map[string]models.PromptExecution
	stats      map[string]models.TemplateStats
	tests      map[string]models.ABTest
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		executions: make(map[string]models.PromptExecution),
		stats:      make(map[string]models.TemplateStats),
		tests:      make(map[string]models.ABTest),
	}
}

func (m *MemStore) SaveUsage(_ context.Context, rec models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, rec)
	return nil
}

func (m *MemStore) ListUsage(_ context.Context, since time.Time, limit int) ([]models.UsageRecord, error) {
	m.mu.Lock()
	out := lo.Filter(m.usage, func(r models.UsageRecord, _ int) bool { return !r.Timestamp.Before(since) })
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemStore) SaveExecution(_ context.Context, exec models.PromptExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[exec.ID] = exec
	return nil
}

func (m *MemStore) ListExecutions(_ context.Context, limit int) ([]models.PromptExecution, error) {
	m.mu.Lock()
	out := lo.Values(m.executions)
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemStore) SaveTemplateStats(_ context.Context, stats models.TemplateStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[stats.TemplateID] = stats
	return nil
}

func (m *MemStore) ListTemplateStats(_ context.Context) ([]models.TemplateStats, error) {
	m.mu.Lock()
	out := lo.Values(m.stats)
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out, nil
}

func (m *MemStore) SaveABTest(_ context.Context, test models.ABTest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[test.ID]; !ok {
		m.tests[test.ID] = test
	}
	return nil
}

func (m *MemStore) ListABTests(_ context.Context) ([]models.ABTest, error) {
	m.mu.Lock()
	out := lo.Values(m.tests)
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
