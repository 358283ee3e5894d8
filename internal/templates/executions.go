package templates

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// RecordExecution validates and stores an execution and updates the
// template's usage count and success rate. The stored execution is returned
// with its id and timestamp filled in.
func (l *Library) RecordExecution(exec models.PromptExecution) (models.PromptExecution, models.TemplateStats, error) {
	for _, m := range models.QualityMetrics {
		if v, ok := exec.Scores[m]; ok && (v < 0 || v > 1 || math.IsNaN(v)) {
			return exec, models.TemplateStats{}, fmt.Errorf("%w: %s score %.3f outside [0,1]", ErrInvalidExecution, m, v)
		}
	}
	if exec.ExecutionTime < 0 || exec.CostUSD < 0 {
		return exec, models.TemplateStats{}, fmt.Errorf("%w: negative execution time or cost", ErrInvalidExecution)
	}
	if exec.Provider != "" && !l.reg.Has(exec.Provider) {
		return exec, models.TemplateStats{}, fmt.Errorf("%w: %q", ErrUnknownProvider, exec.Provider)
	}
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.Timestamp.IsZero() {
		exec.Timestamp = l.now()
	}
	exec.Scores = copyScores(exec.Scores)

	l.mu.Lock()
	t, ok := l.templates[exec.TemplateID]
	if !ok {
		l.mu.Unlock()
		return exec, models.TemplateStats{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, exec.TemplateID)
	}
	t.UsageCount++
	n := float64(t.UsageCount)
	s := 0.0
	if exec.Success {
		s = 1
	}
	t.SuccessRate = clamp01((t.SuccessRate*(n-1) + s) / n)
	t.UpdatedAt = exec.Timestamp

	l.execs = append(l.execs, exec)
	if over := len(l.execs) - l.maxExecs; over > 0 {
		l.execs = append(l.execs[:0:0], l.execs[over:]...)
	}
	stats := t.Stats()
	l.mu.Unlock()

	status := "success"
	if !exec.Success {
		status = "failure"
	}
	metrics.PromptExecutionsTotal.WithLabelValues(exec.TemplateID, string(exec.Provider), status).Inc()
	return exec, stats, nil
}

// LoadExecutions appends historical executions without touching template
// statistics. Executions are kept in timestamp order.
func (l *Library) LoadExecutions(history []models.PromptExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.execs = append(l.execs, history...)
	sort.SliceStable(l.execs, func(i, j int) bool {
		return l.execs[i].Timestamp.Before(l.execs[j].Timestamp)
	})
	if over := len(l.execs) - l.maxExecs; over > 0 {
		l.execs = append(l.execs[:0:0], l.execs[over:]...)
	}
}

// ExecutionFilter selects executions. Zero fields match everything; the
// window is inclusive at both ends.
type ExecutionFilter struct {
	TemplateID string
	Provider   models.LLMProvider
	From       time.Time
	To         time.Time
}

func (f ExecutionFilter) match(e *models.PromptExecution) bool {
	if f.TemplateID != "" && e.TemplateID != f.TemplateID {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Executions returns copies of the executions matching f, oldest first.
func (l *Library) Executions(f ExecutionFilter) []models.PromptExecution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.PromptExecution
	for i := range l.execs {
		if f.match(&l.execs[i]) {
			e := l.execs[i]
			e.Scores = copyScores(e.Scores)
			out = append(out, e)
		}
	}
	return out
}

// Performance is the mean of every metric over a set of executions.
type Performance struct {
	SampleSize  int                       `json:"sample_size"`
	SuccessRate float64                   `json:"success_rate"`
	Metrics     map[models.Metric]float64 `json:"metrics"`
}

// MeasurePerformance averages the quality scores that are present, plus
// execution time as response_time and cost.
func MeasurePerformance(execs []models.PromptExecution) Performance {
	p := Performance{SampleSize: len(execs), Metrics: make(map[models.Metric]float64)}
	if len(execs) == 0 {
		return p
	}
	sums := make(map[models.Metric]float64)
	counts := make(map[models.Metric]int)
	var successes int
	for _, e := range execs {
		for _, m := range models.QualityMetrics {
			if v, ok := e.Scores[m]; ok {
				sums[m] += v
				counts[m]++
			}
		}
		sums[models.MetricResponseTime] += e.ExecutionTime
		counts[models.MetricResponseTime]++
		sums[models.MetricCost] += e.CostUSD
		counts[models.MetricCost]++
		if e.Success {
			successes++
		}
	}
	for m, sum := range sums {
		p.Metrics[m] = sum / float64(counts[m])
	}
	p.SuccessRate = float64(successes) / float64(len(execs))
	return p
}

func copyScores(in map[models.Metric]float64) map[models.Metric]float64 {
	out := make(map[models.Metric]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
