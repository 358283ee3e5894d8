// Package ledger keeps the bounded history of executed requests and derives
// usage patterns from it.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// DefaultCapacity is the number of records retained before the oldest is
// evicted.
const DefaultCapacity = 10000

// minEfficiencyCost avoids dividing by zero for free requests.
const minEfficiencyCost = 0.0001

var (
	ErrUnknownProvider = errors.New("ledger: unknown provider")
	ErrNoUsageData     = errors.New("ledger: no usage data in window")
	ErrInvalidUsage    = errors.New("ledger: invalid usage")
)

// SpendRecorder receives the cost of every tracked request.
type SpendRecorder interface {
	RecordSpend(cost float64) error
}

// Usage is the outcome of an external provider call as reported by the caller.
type Usage struct {
	RequestID       string             `json:"request_id"`
	Provider        models.LLMProvider `json:"provider"`
	TaskType        string             `json:"task_type"`
	InputTokens     int64              `json:"input_tokens"`
	OutputTokens    int64              `json:"output_tokens"`
	ResponseTimeSec float64            `json:"response_time_seconds"`
	QualityRating   *float64           `json:"quality_rating,omitempty"` // 0-10
}

// Ledger is an append-only ring buffer of usage records.
type Ledger struct {
	reg    *registry.Registry
	budget SpendRecorder
	now    func() time.Time

	mu    sync.RWMutex
	buf   []models.UsageRecord
	head  int // index of the oldest record once the buffer is full
	count int
}

// New creates a ledger holding at most capacity records. budget may be nil.
func New(reg *registry.Registry, budget SpendRecorder, capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		reg:    reg,
		budget: budget,
		now:    time.Now,
		buf:    make([]models.UsageRecord, capacity),
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Capacity returns the maximum number of retained records.
func (l *Ledger) Capacity() int {
	return len(l.buf)
}

// TrackUsage prices a completed request, appends it and forwards the cost
// to the budget tracker.
func (l *Ledger) TrackUsage(u Usage) (models.UsageRecord, error) {
	profile, ok := l.reg.Get(u.Provider)
	if !ok {
		return models.UsageRecord{}, fmt.Errorf("%w: %q", ErrUnknownProvider, u.Provider)
	}
	if u.InputTokens < 0 || u.OutputTokens < 0 {
		return models.UsageRecord{}, fmt.Errorf("%w: negative token count", ErrInvalidUsage)
	}
	if u.ResponseTimeSec < 0 {
		return models.UsageRecord{}, fmt.Errorf("%w: negative response time", ErrInvalidUsage)
	}
	if u.QualityRating != nil && (*u.QualityRating < 0 || *u.QualityRating > 10) {
		return models.UsageRecord{}, fmt.Errorf("%w: quality rating %.2f outside [0,10]", ErrInvalidUsage, *u.QualityRating)
	}
	if u.RequestID == "" {
		u.RequestID = uuid.New().String()
	}

	complexity := analyzer.ComplexityFor(u.TaskType)
	cost := registry.CostFor(profile, float64(u.InputTokens), float64(u.OutputTokens))

	quality := profile.QualityScore
	if u.QualityRating != nil {
		quality = *u.QualityRating
	}

	rec := models.UsageRecord{
		RequestID:       u.RequestID,
		Timestamp:       l.now(),
		Provider:        u.Provider,
		TaskType:        u.TaskType,
		Complexity:      complexity,
		InputTokens:     u.InputTokens,
		OutputTokens:    u.OutputTokens,
		TotalCostUSD:    cost,
		ResponseTimeSec: u.ResponseTimeSec,
		QualityRating:   u.QualityRating,
		CostEfficiency:  quality / math.Max(cost, minEfficiencyCost) * complexity.EfficiencyMultiplier(),
	}

	l.mu.Lock()
	l.appendLocked(rec)
	l.mu.Unlock()

	if l.budget != nil {
		if err := l.budget.RecordSpend(cost); err != nil {
			return rec, fmt.Errorf("ledger: recording spend: %w", err)
		}
	}

	metrics.UsageCostUSD.WithLabelValues(string(rec.Provider), rec.TaskType).Add(cost)
	metrics.UsageTokens.WithLabelValues(string(rec.Provider), "input").Add(float64(rec.InputTokens))
	metrics.UsageTokens.WithLabelValues(string(rec.Provider), "output").Add(float64(rec.OutputTokens))
	metrics.UsageResponseTime.WithLabelValues(string(rec.Provider)).Observe(rec.ResponseTimeSec)

	return rec, nil
}

// Load appends historical records without touching the budget. Records are
// sorted by timestamp first so eviction keeps the newest.
func (l *Ledger) Load(records []models.UsageRecord) {
	sorted := append([]models.UsageRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range sorted {
		l.appendLocked(r)
	}
}

func (l *Ledger) appendLocked(rec models.UsageRecord) {
	capacity := len(l.buf)
	if l.count < capacity {
		l.buf[(l.head+l.count)%capacity] = rec
		l.count++
		return
	}
	l.buf[l.head] = rec
	l.head = (l.head + 1) % capacity
}

// Len returns the number of retained records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Records returns a copy of every retained record, oldest first.
func (l *Ledger) Records() []models.UsageRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() []models.UsageRecord {
	out := make([]models.UsageRecord, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	return out
}

// Since returns the records at or after t, oldest first.
func (l *Ledger) Since(t time.Time) []models.UsageRecord {
	return lo.Filter(l.Records(), func(r models.UsageRecord, _ int) bool {
		return !r.Timestamp.Before(t)
	})
}

// ProviderQuality returns the average quality rating of rated records for a
// provider and task type, with the number of rated records.
func (l *Ledger) ProviderQuality(provider models.LLMProvider, taskType string) (avg float64, n int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum float64
	for i := 0; i < l.count; i++ {
		r := &l.buf[(l.head+i)%len(l.buf)]
		if r.Provider != provider || r.TaskType != taskType || r.QualityRating == nil {
			continue
		}
		sum += *r.QualityRating
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
