package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/routecache"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

var reportNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type sliceSource []models.UsageRecord

func (s sliceSource) Since(t time.Time) []models.UsageRecord {
	var out []models.UsageRecord
	for _, r := range s {
		if !r.Timestamp.Before(t) {
			out = append(out, r)
		}
	}
	return out
}

type fixedCache routecache.Stats

func (f fixedCache) CacheStats() routecache.Stats { return routecache.Stats(f) }

func spend(provider models.LLMProvider, at time.Time, cost float64) models.UsageRecord {
	return models.UsageRecord{
		RequestID:    at.Format(time.RFC3339) + string(provider),
		Provider:     provider,
		TaskType:     "general",
		InputTokens:  1000,
		OutputTokens: 500,
		TotalCostUSD: cost,
		Timestamp:    at,
	}
}

func TestInsightTypeConstants(t *testing.T) {
	types := []InsightType{
		InsightCostSpike,
		InsightProviderSwitch,
		InsightBudgetWarning,
		InsightAnomalyDetected,
		InsightSavingsFound,
	}

	seen := make(map[InsightType]bool)
	for _, it := range types {
		if seen[it] {
			t.Errorf("duplicate insight type: %s", it)
		}
		seen[it] = true
		if it == "" {
			t.Error("insight type should not be empty")
		}
	}
}

func TestSpikeThreshold(t *testing.T) {
	if SpikeThreshold != 2.0 {
		t.Errorf("expected spike threshold 2.0, got %f", SpikeThreshold)
	}
}

func TestPremiumProviderAlternatives(t *testing.T) {
	reg := registry.Default()
	for premium, alt := range premiumProviderAlternatives {
		if premium == alt {
			t.Errorf("provider %s should not map to itself", premium)
		}
		if SavingsRatio(reg, premium, alt) <= 0 {
			t.Errorf("%s -> %s should be cheaper", premium, alt)
		}
	}
	if got := PremiumProvider(reg); got != models.ProviderClaude {
		t.Errorf("PremiumProvider() = %s, want claude", got)
	}
}

func TestDetectSpikes(t *testing.T) {
	var src sliceSource
	for d := 1; d <= 8; d++ {
		src = append(src, spend(models.ProviderGemini, reportNow.AddDate(0, 0, -d), 1.0))
	}
	for d := 1; d <= 7; d++ {
		src = append(src, spend(models.ProviderClaude, reportNow.AddDate(0, 0, -d), 0.1))
	}
	src = append(src,
		spend(models.ProviderGemini, reportNow.Add(-2*time.Hour), 3.0),
		spend(models.ProviderClaude, reportNow.Add(-2*time.Hour), 1.0),
	)

	e := NewInsightsEngine(src, registry.Default())
	e.SetClock(func() time.Time { return reportNow })
	got := e.DetectSpikes()
	if len(got) != 2 {
		t.Fatalf("expected 2 spikes, got %d: %+v", len(got), got)
	}
	if got[0].AffectedEntity != "claude" || got[0].Severity != SeverityCritical {
		t.Errorf("first spike = %s/%s, want claude/critical", got[0].AffectedEntity, got[0].Severity)
	}
	if got[1].AffectedEntity != "gemini" || got[1].Severity != SeverityWarning {
		t.Errorf("second spike = %s/%s, want gemini/warning", got[1].AffectedEntity, got[1].Severity)
	}
	if math.Abs(got[1].EstimatedSaving-2.0) > 1e-9 {
		t.Errorf("gemini excess = %v, want 2", got[1].EstimatedSaving)
	}
}

func TestDetectSpikes_SteadySpend(t *testing.T) {
	var src sliceSource
	for d := 0; d <= 20; d++ {
		src = append(src, spend(models.ProviderGPT4, reportNow.AddDate(0, 0, -d), 0.5))
	}
	e := NewInsightsEngine(src, registry.Default())
	e.SetClock(func() time.Time { return reportNow })
	if got := e.DetectSpikes(); len(got) != 0 {
		t.Errorf("expected no spikes for steady spend, got %+v", got)
	}
}

func TestRecommendProviderSwitches(t *testing.T) {
	src := sliceSource{
		spend(models.ProviderClaude, reportNow.AddDate(0, 0, -1), 2.0),
		spend(models.ProviderClaude, reportNow.AddDate(0, 0, -2), 1.0),
		spend(models.ProviderClaude, reportNow.AddDate(0, 0, -10), 50.0),
		spend(models.ProviderGPT4, reportNow.AddDate(0, 0, -1), 0.5),
		spend(models.ProviderMistral, reportNow.AddDate(0, 0, -1), 9.0),
	}
	e := NewInsightsEngine(src, registry.Default())
	e.SetClock(func() time.Time { return reportNow })

	got := e.RecommendProviderSwitches()
	if len(got) != 1 {
		t.Fatalf("expected 1 switch insight, got %d: %+v", len(got), got)
	}
	in := got[0]
	if in.Type != InsightProviderSwitch || in.AffectedEntity != "claude" {
		t.Errorf("unexpected insight %+v", in)
	}
	// 3.00 * (1 - 0.040/0.090)
	if math.Abs(in.EstimatedSaving-1.67) > 1e-9 {
		t.Errorf("estimated saving = %v, want 1.67", in.EstimatedSaving)
	}
}

func newReportFixture(t *testing.T, dailyLimit float64, cache CacheStatsSource) (*Reporter, *ledger.Ledger) {
	t.Helper()
	clock := func() time.Time { return reportNow }
	reg := registry.Default()
	tr := budget.NewTracker(budget.Config{DailyLimitUSD: dailyLimit}, budget.WithClock(clock))
	l := ledger.New(reg, tr, 0)
	l.SetClock(clock)
	r := NewReporter(l, tr, cache, reg)
	r.SetClock(clock)
	return r, l
}

func TestGenerateCostReport_OverBudget(t *testing.T) {
	r, l := newReportFixture(t, 0.10, fixedCache{Hits: 2, Misses: 30})
	low := 4.0
	for i := 0; i < 2; i++ {
		if _, err := l.TrackUsage(ledger.Usage{
			Provider:      models.ProviderClaude,
			TaskType:      "strategic_analysis",
			InputTokens:   1000,
			OutputTokens:  500,
			QualityRating: &low,
		}); err != nil {
			t.Fatalf("TrackUsage: %v", err)
		}
	}

	report, err := r.GenerateCostReport(budget.PeriodDaily)
	if err != nil {
		t.Fatalf("GenerateCostReport: %v", err)
	}
	if report.Usage.TotalRequests != 2 || math.Abs(report.Usage.TotalCostUSD-0.105) > 1e-9 {
		t.Errorf("usage = %d requests / $%v", report.Usage.TotalRequests, report.Usage.TotalCostUSD)
	}
	if math.Abs(report.Forecast.WeeklyUSD-0.735) > 1e-9 || math.Abs(report.Forecast.YearlyUSD-0.105*365) > 1e-9 {
		t.Errorf("unexpected forecast %+v", report.Forecast)
	}
	if report.ROI.HoursSaved != 0.5 || report.ROI.LaborValueUSD != 37.5 {
		t.Errorf("unexpected ROI %+v", report.ROI)
	}
	if report.OverallStatus != budget.StatusRed {
		t.Errorf("overall status = %s, want red", report.OverallStatus)
	}

	wantOrder := []string{"provider_mix", "budget", "quality", "cache"}
	if len(report.Recommendations) != len(wantOrder) {
		t.Fatalf("expected %d recommendations, got %+v", len(wantOrder), report.Recommendations)
	}
	for i, cat := range wantOrder {
		if report.Recommendations[i].Category != cat {
			t.Errorf("recommendation %d = %s, want %s", i, report.Recommendations[i].Category, cat)
		}
	}
	if got := report.Recommendations[0].EstimatedSavingsUSD; math.Abs(got-0.0292) > 1e-9 {
		t.Errorf("premium share savings = %v, want 0.0292", got)
	}

	if len(report.ActionItems) == 0 || report.ActionItems[0].Urgency != UrgencyImmediate {
		t.Errorf("expected immediate action items, got %+v", report.ActionItems)
	}
}

func TestGenerateCostReport_EmptyWindow(t *testing.T) {
	r, _ := newReportFixture(t, 10, nil)
	report, err := r.GenerateCostReport(budget.PeriodWeekly)
	if err != nil {
		t.Fatalf("GenerateCostReport: %v", err)
	}
	if report.Usage.TotalRequests != 0 || report.Forecast.MonthlyUSD != 0 {
		t.Errorf("expected zero usage, got %+v", report.Usage)
	}
	if report.OverallStatus != budget.StatusGreen {
		t.Errorf("overall status = %s, want green", report.OverallStatus)
	}
	if len(report.Recommendations) != 0 {
		t.Errorf("expected no recommendations, got %+v", report.Recommendations)
	}
	if len(report.ActionItems) != 1 || report.ActionItems[0].Urgency != UrgencyMonitor {
		t.Errorf("expected a single monitor item, got %+v", report.ActionItems)
	}
	if report.Usage.Days != 7 {
		t.Errorf("days = %d, want 7", report.Usage.Days)
	}
}

func TestGenerateCostReport_UnknownPeriod(t *testing.T) {
	r, _ := newReportFixture(t, 10, nil)
	if _, err := r.GenerateCostReport(budget.Period("hourly")); err == nil {
		t.Error("expected an error for an unknown period")
	}
}
