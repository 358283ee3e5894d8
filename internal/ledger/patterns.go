package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// Trend directions for cost-efficiency.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// trendThreshold is the relative change in efficiency that counts as a trend.
const trendThreshold = 0.10

// ProviderUsage aggregates one provider's records in a window.
type ProviderUsage struct {
	Provider           models.LLMProvider `json:"provider"`
	Requests           int                `json:"requests"`
	CostUSD            float64            `json:"cost_usd"`
	CostShare          float64            `json:"cost_share"`
	InputTokens        int64              `json:"input_tokens"`
	OutputTokens       int64              `json:"output_tokens"`
	RatedRequests      int                `json:"rated_requests"`
	AvgQuality         float64            `json:"avg_quality"`
	AvgResponseTimeSec float64            `json:"avg_response_time_seconds"`
	AvgCostEfficiency  float64            `json:"avg_cost_efficiency"`
}

// TaskTypeUsage aggregates one task type's records in a window.
type TaskTypeUsage struct {
	TaskType  string  `json:"task_type"`
	Requests  int     `json:"requests"`
	CostUSD   float64 `json:"cost_usd"`
	CostShare float64 `json:"cost_share"`
}

// Trend compares the oldest and newest quarter of a window.
type Trend struct {
	Direction               string  `json:"direction"`
	OldestQuarterEfficiency float64 `json:"oldest_quarter_efficiency"`
	NewestQuarterEfficiency float64 `json:"newest_quarter_efficiency"`
	ChangePct               float64 `json:"change_pct"`
}

// UsageReport is the result of AnalyzeUsagePatterns.
type UsageReport struct {
	Days              int                                  `json:"days"`
	WindowStart       time.Time                            `json:"window_start"`
	WindowEnd         time.Time                            `json:"window_end"`
	TotalRequests     int                                  `json:"total_requests"`
	TotalCostUSD      float64                              `json:"total_cost_usd"`
	TotalInputTokens  int64                                `json:"total_input_tokens"`
	TotalOutputTokens int64                                `json:"total_output_tokens"`
	AvgCostPerRequest float64                              `json:"avg_cost_per_request"`
	Providers         map[models.LLMProvider]ProviderUsage `json:"providers"`
	TaskTypes         map[string]TaskTypeUsage             `json:"task_types"`
	Trend             Trend                                `json:"trend"`
}

// AnalyzeUsagePatterns summarizes the records of the last days days.
func (l *Ledger) AnalyzeUsagePatterns(days int) (UsageReport, error) {
	if days <= 0 {
		return UsageReport{}, fmt.Errorf("%w: days must be positive, got %d", ErrInvalidUsage, days)
	}
	end := l.now()
	start := end.AddDate(0, 0, -days)
	records := l.Since(start)
	if len(records) == 0 {
		return UsageReport{}, fmt.Errorf("%w: last %d days", ErrNoUsageData, days)
	}
	report := Summarize(records)
	report.Days = days
	report.WindowStart = start
	report.WindowEnd = end
	return report, nil
}

// Summarize aggregates an arbitrary set of records. The caller supplies the
// window bounds.
func Summarize(records []models.UsageRecord) UsageReport {
	report := UsageReport{
		TotalRequests:     len(records),
		TotalCostUSD:      lo.SumBy(records, func(r models.UsageRecord) float64 { return r.TotalCostUSD }),
		TotalInputTokens:  lo.SumBy(records, func(r models.UsageRecord) int64 { return r.InputTokens }),
		TotalOutputTokens: lo.SumBy(records, func(r models.UsageRecord) int64 { return r.OutputTokens }),
		Providers:         make(map[models.LLMProvider]ProviderUsage),
		TaskTypes:         make(map[string]TaskTypeUsage),
	}
	if len(records) == 0 {
		report.Trend = Trend{Direction: TrendStable}
		return report
	}
	report.AvgCostPerRequest = report.TotalCostUSD / float64(len(records))

	byProvider := lo.GroupBy(records, func(r models.UsageRecord) models.LLMProvider { return r.Provider })
	for provider, recs := range byProvider {
		pu := ProviderUsage{
			Provider:     provider,
			Requests:     len(recs),
			CostUSD:      lo.SumBy(recs, func(r models.UsageRecord) float64 { return r.TotalCostUSD }),
			InputTokens:  lo.SumBy(recs, func(r models.UsageRecord) int64 { return r.InputTokens }),
			OutputTokens: lo.SumBy(recs, func(r models.UsageRecord) int64 { return r.OutputTokens }),
		}
		pu.CostShare = share(pu.CostUSD, report.TotalCostUSD)
		pu.AvgResponseTimeSec = lo.SumBy(recs, func(r models.UsageRecord) float64 { return r.ResponseTimeSec }) / float64(len(recs))
		pu.AvgCostEfficiency = meanEfficiency(recs)

		rated := lo.Filter(recs, func(r models.UsageRecord, _ int) bool { return r.QualityRating != nil })
		pu.RatedRequests = len(rated)
		if len(rated) > 0 {
			pu.AvgQuality = lo.SumBy(rated, func(r models.UsageRecord) float64 { return *r.QualityRating }) / float64(len(rated))
		}
		report.Providers[provider] = pu
	}

	byTask := lo.GroupBy(records, func(r models.UsageRecord) string { return r.TaskType })
	for task, recs := range byTask {
		cost := lo.SumBy(recs, func(r models.UsageRecord) float64 { return r.TotalCostUSD })
		report.TaskTypes[task] = TaskTypeUsage{
			TaskType:  task,
			Requests:  len(recs),
			CostUSD:   cost,
			CostShare: share(cost, report.TotalCostUSD),
		}
	}

	report.Trend = EfficiencyTrend(records)
	return report
}

// EfficiencyTrend compares mean cost-efficiency of the oldest quarter of
// records (by timestamp) against the newest quarter. Fewer than four
// records are always stable.
func EfficiencyTrend(records []models.UsageRecord) Trend {
	quarter := len(records) / 4
	if quarter == 0 {
		return Trend{Direction: TrendStable}
	}
	sorted := append([]models.UsageRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	oldest := meanEfficiency(sorted[:quarter])
	newest := meanEfficiency(sorted[len(sorted)-quarter:])
	t := Trend{
		Direction:               TrendStable,
		OldestQuarterEfficiency: oldest,
		NewestQuarterEfficiency: newest,
	}
	if oldest == 0 {
		return t
	}
	change := (newest - oldest) / oldest
	t.ChangePct = change * 100
	switch {
	case change > trendThreshold:
		t.Direction = TrendImproving
	case change < -trendThreshold:
		t.Direction = TrendDeclining
	}
	return t
}

func meanEfficiency(recs []models.UsageRecord) float64 {
	if len(recs) == 0 {
		return 0
	}
	return lo.SumBy(recs, func(r models.UsageRecord) float64 { return r.CostEfficiency }) / float64(len(recs))
}

func share(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total
}
