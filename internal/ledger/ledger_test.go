package ledger

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

func ptr(v float64) *float64 { return &v }

func newTestLedger(t *testing.T, capacity int) (*Ledger, *budget.Tracker) {
	t.Helper()
	tr := budget.NewTracker(budget.Config{DailyLimitUSD: 100})
	return New(registry.Default(), tr, capacity), tr
}

func TestTrackUsage_Costing(t *testing.T) {
	l, tr := newTestLedger(t, 0)

	rec, err := l.TrackUsage(Usage{
		RequestID:       "req-1",
		Provider:        models.ProviderClaude,
		TaskType:        "strategic_analysis",
		InputTokens:     1000,
		OutputTokens:    500,
		ResponseTimeSec: 2.1,
		QualityRating:   ptr(9),
	})
	if err != nil {
		t.Fatalf("TrackUsage: %v", err)
	}

	// 1000/1000*0.015 + 500/1000*0.075
	wantCost := 0.015 + 0.0375
	if math.Abs(rec.TotalCostUSD-wantCost) > 1e-9 {
		t.Errorf("cost = %v, want %v", rec.TotalCostUSD, wantCost)
	}
	if rec.Complexity != models.ComplexityComplex {
		t.Errorf("complexity = %s, want complex", rec.Complexity)
	}
	wantEff := 9 / wantCost * 1.2
	if math.Abs(rec.CostEfficiency-wantEff) > 1e-6 {
		t.Errorf("efficiency = %v, want %v", rec.CostEfficiency, wantEff)
	}
	if math.Abs(tr.Spent(budget.PeriodDaily)-wantCost) > 1e-9 {
		t.Errorf("budget not updated: %v", tr.Spent(budget.PeriodDaily))
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestTrackUsage_UnratedUsesProfileQuality(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	rec, err := l.TrackUsage(Usage{Provider: models.ProviderMistral, TaskType: "classification"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.RequestID == "" {
		t.Error("expected a generated request id")
	}
	// Zero tokens cost nothing; efficiency uses the cost floor.
	want := 7.5 / minEfficiencyCost * 0.8
	if math.Abs(rec.CostEfficiency-want) > 1e-6 {
		t.Errorf("efficiency = %v, want %v", rec.CostEfficiency, want)
	}
}

func TestTrackUsage_Rejects(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	tests := []struct {
		name string
		in   Usage
		want error
	}{
		{"unknown provider", Usage{Provider: "llama"}, ErrUnknownProvider},
		{"negative tokens", Usage{Provider: models.ProviderGPT4, InputTokens: -1}, ErrInvalidUsage},
		{"rating out of range", Usage{Provider: models.ProviderGPT4, QualityRating: ptr(11)}, ErrInvalidUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.TrackUsage(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if l.Len() != 0 {
		t.Error("rejected usage must not be appended")
	}
}

func TestRingBufferEvictsOldest(t *testing.T) {
	l, _ := newTestLedger(t, 3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if _, err := l.TrackUsage(Usage{RequestID: id, Provider: models.ProviderGemini}); err != nil {
			t.Fatal(err)
		}
	}
	recs := l.Records()
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, want := range []string{"c", "d", "e"} {
		if recs[i].RequestID != want {
			t.Errorf("recs[%d] = %s, want %s", i, recs[i].RequestID, want)
		}
	}
}

func TestConcurrentTrackUsage(t *testing.T) {
	l, tr := newTestLedger(t, 0)
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TrackUsage(Usage{Provider: models.ProviderGPT4, TaskType: "summarization", InputTokens: 1000, OutputTokens: 1000}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if l.Len() != n {
		t.Errorf("Len() = %d, want %d", l.Len(), n)
	}
	var sum float64
	for _, r := range l.Records() {
		sum += r.TotalCostUSD
	}
	for _, p := range budget.Periods {
		if math.Abs(tr.Spent(p)-sum) > 1e-9 {
			t.Errorf("%s counter = %v, want %v", p, tr.Spent(p), sum)
		}
	}
}

func TestProviderQuality(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	for _, q := range []float64{8, 9, 10} {
		if _, err := l.TrackUsage(Usage{Provider: models.ProviderClaude, TaskType: "market_research", QualityRating: ptr(q)}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.TrackUsage(Usage{Provider: models.ProviderClaude, TaskType: "market_research"}); err != nil {
		t.Fatal(err)
	}
	avg, n := l.ProviderQuality(models.ProviderClaude, "market_research")
	if n != 3 || avg != 9 {
		t.Errorf("ProviderQuality = %v over %d, want 9 over 3", avg, n)
	}
	if _, n := l.ProviderQuality(models.ProviderGPT4, "market_research"); n != 0 {
		t.Errorf("expected no rated gpt4 records, got %d", n)
	}
}

func TestAnalyzeUsagePatterns_Empty(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	if _, err := l.AnalyzeUsagePatterns(7); !errors.Is(err, ErrNoUsageData) {
		t.Errorf("err = %v, want ErrNoUsageData", err)
	}
}

func TestAnalyzeUsagePatterns(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	// An old record outside the window.
	l.Load([]models.UsageRecord{{
		RequestID: "old", Timestamp: now.AddDate(0, 0, -30), Provider: models.ProviderClaude,
		TaskType: "strategic_analysis", TotalCostUSD: 50,
	}})

	track := func(p models.LLMProvider, task string, in, out int64, rating float64) {
		t.Helper()
		if _, err := l.TrackUsage(Usage{Provider: p, TaskType: task, InputTokens: in, OutputTokens: out, ResponseTimeSec: 1, QualityRating: ptr(rating)}); err != nil {
			t.Fatal(err)
		}
	}
	track(models.ProviderClaude, "strategic_analysis", 1000, 1000, 9)
	track(models.ProviderClaude, "strategic_analysis", 1000, 1000, 8)
	track(models.ProviderMistral, "classification", 1000, 1000, 7)

	report, err := l.AnalyzeUsagePatterns(7)
	if err != nil {
		t.Fatalf("AnalyzeUsagePatterns: %v", err)
	}
	if report.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", report.TotalRequests)
	}
	claude := report.Providers[models.ProviderClaude]
	if claude.Requests != 2 || claude.AvgQuality != 8.5 {
		t.Errorf("unexpected claude usage %+v", claude)
	}
	var shares float64
	for _, pu := range report.Providers {
		shares += pu.CostShare
	}
	if math.Abs(shares-1) > 1e-9 {
		t.Errorf("cost shares sum to %v, want 1", shares)
	}
	if _, ok := report.TaskTypes["classification"]; !ok {
		t.Error("missing classification task type")
	}
	if report.Trend.Direction != TrendStable {
		t.Errorf("3 records should be stable, got %s", report.Trend.Direction)
	}
}

func TestEfficiencyTrend(t *testing.T) {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	mk := func(effs ...float64) []models.UsageRecord {
		out := make([]models.UsageRecord, len(effs))
		for i, e := range effs {
			out[i] = models.UsageRecord{Timestamp: base.Add(time.Duration(i) * time.Hour), CostEfficiency: e}
		}
		return out
	}
	tests := []struct {
		name string
		effs []float64
		want string
	}{
		{"improving", []float64{10, 10, 12, 20}, TrendImproving},
		{"declining", []float64{20, 15, 12, 10}, TrendDeclining},
		{"stable", []float64{10, 50, 1, 10.5}, TrendStable},
		{"too few", []float64{1, 100, 1000}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EfficiencyTrend(mk(tt.effs...)).Direction; got != tt.want {
				t.Errorf("direction = %s, want %s", got, tt.want)
			}
		})
	}
}
