// Package abtest runs time-boxed comparisons between two prompt templates
// using the recorded prompt executions that fall inside the test window.
//
// Significance is the simple proxy min(1, sample size / minimum sample
// size); it is not a hypothesis test.
package abtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/templates"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

var (
	ErrTestNotFound = errors.New("abtest: test not found")
	ErrInvalidTest  = errors.New("abtest: invalid test")
)

// Defaults applied by CreateTest.
const (
	DefaultDuration      = 7 * 24 * time.Hour
	DefaultMinSampleSize = 30
)

// Result statuses.
const (
	StatusComplete         = "complete"
	StatusRunning          = "running"
	StatusInsufficientData = "insufficient_data"
)

// Significance tiers.
const (
	SignificanceHigh     = "high"
	SignificanceModerate = "moderate"
	SignificanceLow      = "low"
)

// ExecutionSource supplies executions for a template in a window.
type ExecutionSource interface {
	Has(templateID string) bool
	Executions(f templates.ExecutionFilter) []models.PromptExecution
}

// Options are the optional parameters of CreateTest.
type Options struct {
	Duration      time.Duration   `json:"duration"`
	TargetMetrics []models.Metric `json:"target_metrics"`
	MinSampleSize int             `json:"min_sample_size"`
}

// MetricComparison is one row of the comparison table.
type MetricComparison struct {
	Metric         models.Metric `json:"metric"`
	VariantA       float64       `json:"variant_a"`
	VariantB       float64       `json:"variant_b"`
	Delta          float64       `json:"delta"`
	ImprovementPct float64       `json:"improvement_pct"`
}

// BusinessImpact summarizes what switching to variant B would change.
type BusinessImpact struct {
	AvgPerformanceDelta float64 `json:"avg_performance_delta"`
	CostDeltaUSD        float64 `json:"cost_delta_usd"`
	QualityDelta        float64 `json:"quality_delta"`
	ResponseTimeDelta   float64 `json:"response_time_delta_seconds"`
}

// Result is the analysis of a test.
type Result struct {
	TestID           string             `json:"test_id"`
	VariantA         string             `json:"variant_a"`
	VariantB         string             `json:"variant_b"`
	Status           string             `json:"status"`
	SampleSizeA      int                `json:"sample_size_a"`
	SampleSizeB      int                `json:"sample_size_b"`
	SampleSize       int                `json:"sample_size"`
	Duration         time.Duration      `json:"duration"`
	Comparison       []MetricComparison `json:"comparison"`
	Winner           string             `json:"winner,omitempty"`
	Significance     float64            `json:"significance"`
	SignificanceTier string             `json:"significance_tier"`
	BusinessImpact   BusinessImpact     `json:"business_impact"`
	Recommendation   string             `json:"recommendation"`
	AnalyzedAt       time.Time          `json:"analyzed_at"`
}

// Coordinator owns the registered tests.
type Coordinator struct {
	source ExecutionSource
	now    func() time.Time

	mu    sync.RWMutex
	tests map[string]models.ABTest
}

// NewCoordinator creates a coordinator reading executions from source.
func NewCoordinator(source ExecutionSource) *Coordinator {
	return &Coordinator{
		source: source,
		now:    time.Now,
		tests:  make(map[string]models.ABTest),
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// CreateTest opens a comparison window starting now.
func (c *Coordinator) CreateTest(variantA, variantB string, opts Options) (models.ABTest, error) {
	if variantA == "" || variantB == "" {
		return models.ABTest{}, fmt.Errorf("%w: both variants are required", ErrInvalidTest)
	}
	if variantA == variantB {
		return models.ABTest{}, fmt.Errorf("%w: variants must differ", ErrInvalidTest)
	}
	for _, id := range []string{variantA, variantB} {
		if !c.source.Has(id) {
			return models.ABTest{}, fmt.Errorf("%w: %q", templates.ErrTemplateNotFound, id)
		}
	}
	if opts.Duration < 0 || opts.MinSampleSize < 0 {
		return models.ABTest{}, fmt.Errorf("%w: negative duration or sample size", ErrInvalidTest)
	}
	if opts.Duration == 0 {
		opts.Duration = DefaultDuration
	}
	if opts.MinSampleSize == 0 {
		opts.MinSampleSize = DefaultMinSampleSize
	}
	target := lo.Uniq(opts.TargetMetrics)
	if len(target) == 0 {
		target = append([]models.Metric(nil), models.QualityMetrics...)
	}
	for _, m := range target {
		if !lo.Contains(models.QualityMetrics, m) {
			return models.ABTest{}, fmt.Errorf("%w: unsupported target metric %q", ErrInvalidTest, m)
		}
	}

	now := c.now()
	test := models.ABTest{
		ID:            uuid.New().String(),
		VariantA:      variantA,
		VariantB:      variantB,
		StartTime:     now,
		EndTime:       now.Add(opts.Duration),
		TargetMetrics: target,
		MinSampleSize: opts.MinSampleSize,
		CreatedAt:     now,
	}

	c.mu.Lock()
	c.tests[test.ID] = test
	c.mu.Unlock()
	return test, nil
}

// Load registers previously persisted tests.
func (c *Coordinator) Load(tests []models.ABTest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tests {
		c.tests[t.ID] = t
	}
}

// GetTest returns a registered test.
func (c *Coordinator) GetTest(id string) (models.ABTest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tests[id]
	if !ok {
		return models.ABTest{}, fmt.Errorf("%w: %q", ErrTestNotFound, id)
	}
	return t, nil
}

// ListTests returns every test, newest first.
func (c *Coordinator) ListTests() []models.ABTest {
	c.mu.RLock()
	out := lo.Values(c.tests)
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Analyze compares the two variants over the executions recorded in the
// test window. It is read-only: analyzing an unchanged window twice yields
// the same winner and significance.
func (c *Coordinator) Analyze(id string) (Result, error) {
	test, err := c.GetTest(id)
	if err != nil {
		return Result{}, err
	}

	execA := c.source.Executions(templates.ExecutionFilter{TemplateID: test.VariantA, From: test.StartTime, To: test.EndTime})
	execB := c.source.Executions(templates.ExecutionFilter{TemplateID: test.VariantB, From: test.StartTime, To: test.EndTime})

	now := c.now()
	res := Result{
		TestID:      test.ID,
		VariantA:    test.VariantA,
		VariantB:    test.VariantB,
		SampleSizeA: len(execA),
		SampleSizeB: len(execB),
		SampleSize:  len(execA) + len(execB),
		Duration:    test.EndTime.Sub(test.StartTime),
		AnalyzedAt:  now,
	}

	if len(execA) == 0 || len(execB) == 0 {
		res.Status = StatusInsufficientData
		res.SignificanceTier = SignificanceLow
		res.Recommendation = fmt.Sprintf("Insufficient data: variant A has %d and variant B has %d executions in the test window. Keep the test running.",
			len(execA), len(execB))
		metrics.ABTestAnalysesTotal.WithLabelValues(res.Status).Inc()
		return res, nil
	}

	perfA := templates.MeasurePerformance(execA)
	perfB := templates.MeasurePerformance(execB)

	var sumA, sumB float64
	for _, m := range test.TargetMetrics {
		a, b := perfA.Metrics[m], perfB.Metrics[m]
		row := MetricComparison{Metric: m, VariantA: a, VariantB: b, Delta: b - a}
		if a != 0 {
			row.ImprovementPct = (b - a) / a * 100
		}
		res.Comparison = append(res.Comparison, row)
		sumA += a
		sumB += b
	}

	res.Winner = test.VariantB
	if sumA > sumB {
		res.Winner = test.VariantA
	}

	res.Significance = math.Min(1, float64(res.SampleSize)/float64(test.MinSampleSize))
	res.SignificanceTier = significanceTier(res.Significance)

	res.BusinessImpact = BusinessImpact{
		AvgPerformanceDelta: lo.SumBy(res.Comparison, func(r MetricComparison) float64 { return r.Delta }) / float64(len(res.Comparison)),
		CostDeltaUSD:        perfB.Metrics[models.MetricCost] - perfA.Metrics[models.MetricCost],
		QualityDelta:        meanQuality(perfB) - meanQuality(perfA),
		ResponseTimeDelta:   perfB.Metrics[models.MetricResponseTime] - perfA.Metrics[models.MetricResponseTime],
	}

	res.Status = StatusComplete
	if now.Before(test.EndTime) {
		res.Status = StatusRunning
	}
	res.Recommendation = recommendation(res)
	metrics.ABTestAnalysesTotal.WithLabelValues(res.Status).Inc()
	return res, nil
}

func significanceTier(s float64) string {
	switch {
	case s >= 0.95:
		return SignificanceHigh
	case s >= 0.5:
		return SignificanceModerate
	default:
		return SignificanceLow
	}
}

func meanQuality(p templates.Performance) float64 {
	var sum float64
	var n int
	for _, m := range models.QualityMetrics {
		if v, ok := p.Metrics[m]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func recommendation(r Result) string {
	var b strings.Builder
	loser := r.VariantA
	if r.Winner == r.VariantA {
		loser = r.VariantB
	}
	fmt.Fprintf(&b, "%s outperforms %s with %s significance (%.2f over %d executions).",
		r.Winner, loser, r.SignificanceTier, r.Significance, r.SampleSize)

	impact := r.BusinessImpact
	fmt.Fprintf(&b, " Switching from %s to %s changes average performance by %+.3f, quality by %+.3f and cost per execution by %+.4f USD.",
		r.VariantA, r.VariantB, impact.AvgPerformanceDelta, impact.QualityDelta, impact.CostDeltaUSD)

	switch r.SignificanceTier {
	case SignificanceHigh:
		fmt.Fprintf(&b, " Adopt %s.", r.Winner)
	case SignificanceModerate:
		fmt.Fprintf(&b, " %s is the likely winner; collect more executions before switching.", r.Winner)
	default:
		b.WriteString(" Results are preliminary; keep the test running.")
	}
	return b.String()
}
