package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/routecache"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// ROI assumptions.
const (
	ManualHoursPerRequest = 0.25
	HourlyRateUSD         = 75.0
)

// Thresholds that trigger recommendations.
const (
	premiumShareLimit     = 0.5
	lowRatingThreshold    = 6.0
	lowCacheHitRatio      = 0.2
	minCacheDecisions     = 20
	premiumShiftableShare = 0.5
)

// Recommendation priorities, highest first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var priorityRank = map[string]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}

// Action item urgencies.
const (
	UrgencyImmediate = "immediate"
	UrgencyThisWeek  = "this_week"
	UrgencyMonitor   = "monitor"
)

// BudgetSource supplies the budget snapshot.
type BudgetSource interface {
	Snapshot() budget.Snapshot
}

// CacheStatsSource supplies route cache statistics.
type CacheStatsSource interface {
	CacheStats() routecache.Stats
}

// Forecast is a linear projection of the window's daily average.
type Forecast struct {
	DailyAvgUSD  float64 `json:"daily_avg_usd"`
	DailyUSD     float64 `json:"daily_usd"`
	WeeklyUSD    float64 `json:"weekly_usd"`
	MonthlyUSD   float64 `json:"monthly_usd"`
	QuarterlyUSD float64 `json:"quarterly_usd"`
	YearlyUSD    float64 `json:"yearly_usd"`
}

// BudgetComparison is budget-vs-actual for one period.
type BudgetComparison struct {
	Period      budget.Period `json:"period"`
	LimitUSD    float64       `json:"limit_usd"`
	SpentUSD    float64       `json:"spent_usd"`
	Utilization float64       `json:"utilization"`
	Status      budget.Status `json:"status"`
}

// ROI compares the value of the labor the requests replaced with spend.
type ROI struct {
	Requests      int     `json:"requests"`
	HoursSaved    float64 `json:"hours_saved"`
	LaborValueUSD float64 `json:"labor_value_usd"`
	SpendUSD      float64 `json:"spend_usd"`
	NetValueUSD   float64 `json:"net_value_usd"`
	ROIPct        float64 `json:"roi_pct"`
}

// Recommendation is a ranked optimization suggestion.
type Recommendation struct {
	Priority            string  `json:"priority"`
	Category            string  `json:"category"`
	Title               string  `json:"title"`
	Description         string  `json:"description"`
	EstimatedSavingsUSD float64 `json:"estimated_savings_usd"`
}

// ActionItem is a prioritized next step.
type ActionItem struct {
	Urgency string `json:"urgency"`
	Action  string `json:"action"`
}

// CostReport is the result of GenerateCostReport.
type CostReport struct {
	Period          budget.Period      `json:"period"`
	GeneratedAt     time.Time          `json:"generated_at"`
	Usage           ledger.UsageReport `json:"usage"`
	Forecast        Forecast           `json:"forecast"`
	Budget          []BudgetComparison `json:"budget"`
	OverallStatus   budget.Status      `json:"overall_status"`
	ROI             ROI                `json:"roi"`
	Cache           routecache.Stats   `json:"cache"`
	Recommendations []Recommendation   `json:"recommendations"`
	ActionItems     []ActionItem       `json:"action_items"`
	Insights        []Insight          `json:"insights"`
}

// Reporter composes cost reports.
type Reporter struct {
	insights *InsightsEngine
	usage    UsageSource
	budget   BudgetSource
	cache    CacheStatsSource
	reg      *registry.Registry
	now      func() time.Time
}

// NewReporter creates a Reporter. cache may be nil.
func NewReporter(usage UsageSource, b BudgetSource, cache CacheStatsSource, reg *registry.Registry) *Reporter {
	return &Reporter{
		insights: NewInsightsEngine(usage, reg),
		usage:    usage,
		budget:   b,
		cache:    cache,
		reg:      reg,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (r *Reporter) SetClock(now func() time.Time) {
	r.now = now
	r.insights.SetClock(now)
}

// Insights returns the current spike and provider-switch insights.
func (r *Reporter) Insights() []Insight {
	out := r.insights.DetectSpikes()
	return append(out, r.insights.RecommendProviderSwitches()...)
}

// GenerateCostReport summarizes the last period's usage. An empty window
// still produces a report with zero usage.
func (r *Reporter) GenerateCostReport(period budget.Period) (CostReport, error) {
	if _, err := budget.ParsePeriod(string(period)); err != nil {
		return CostReport{}, fmt.Errorf("analytics: cost report: %w", err)
	}
	days := period.Days()

	now := r.now()
	start := now.AddDate(0, 0, -days)
	usage := ledger.Summarize(r.usage.Since(start))
	usage.Days = days
	usage.WindowStart = start
	usage.WindowEnd = now

	report := CostReport{
		Period:      period,
		GeneratedAt: now,
		Usage:       usage,
		Forecast:    forecast(usage.TotalCostUSD, days),
		ROI:         roi(usage.TotalRequests, usage.TotalCostUSD),
		Insights:    r.Insights(),
	}
	if r.cache != nil {
		report.Cache = r.cache.CacheStats()
	}

	report.OverallStatus = budget.StatusGreen
	snap := r.budget.Snapshot()
	for _, p := range budget.Periods {
		st, ok := snap.Periods[p]
		if !ok {
			continue
		}
		report.Budget = append(report.Budget, BudgetComparison{
			Period:      p,
			LimitUSD:    st.LimitUSD,
			SpentUSD:    st.SpentUSD,
			Utilization: st.Utilization,
			Status:      st.Status,
		})
		if st.Status.Severity() > report.OverallStatus.Severity() {
			report.OverallStatus = st.Status
		}
	}

	report.Recommendations = r.recommend(report)
	report.ActionItems = actionItems(report)
	return report, nil
}

func forecast(total float64, days int) Forecast {
	avg := total / float64(days)
	return Forecast{
		DailyAvgUSD:  avg,
		DailyUSD:     avg,
		WeeklyUSD:    avg * 7,
		MonthlyUSD:   avg * 30,
		QuarterlyUSD: avg * 90,
		YearlyUSD:    avg * 365,
	}
}

func roi(requests int, spend float64) ROI {
	hours := float64(requests) * ManualHoursPerRequest
	value := hours * HourlyRateUSD
	out := ROI{
		Requests:      requests,
		HoursSaved:    hours,
		LaborValueUSD: value,
		SpendUSD:      spend,
		NetValueUSD:   value - spend,
	}
	if spend > 0 {
		out.ROIPct = (value - spend) / spend * 100
	}
	return out
}

func (r *Reporter) recommend(report CostReport) []Recommendation {
	var recs []Recommendation
	usage := report.Usage

	premium := PremiumProvider(r.reg)
	if pu, ok := usage.Providers[premium]; ok && pu.CostShare > premiumShareLimit {
		rec := Recommendation{
			Priority: PriorityHigh,
			Category: "provider_mix",
			Title:    fmt.Sprintf("Reduce %s share of spend", premium),
			Description: fmt.Sprintf("%s accounts for %.0f%% of cost in this period. Route simple and medium complexity work elsewhere.",
				premium, pu.CostShare*100),
		}
		if alt, ok := Alternative(premium); ok {
			rec.EstimatedSavingsUSD = pu.CostUSD * premiumShiftableShare * SavingsRatio(r.reg, premium, alt)
			rec.Description += fmt.Sprintf(" Moving half of it to %s is the first step.", alt)
		}
		recs = append(recs, rec)
	}

	for _, b := range report.Budget {
		if b.Status != budget.StatusRed {
			continue
		}
		recs = append(recs, Recommendation{
			Priority: PriorityHigh,
			Category: "budget",
			Title:    fmt.Sprintf("%s budget exceeded", b.Period),
			Description: fmt.Sprintf("Spent $%.2f against a $%.2f %s limit (%.0f%%). Switch routing to the minimize_cost strategy until the period rolls over.",
				b.SpentUSD, b.LimitUSD, b.Period, b.Utilization*100),
			EstimatedSavingsUSD: b.SpentUSD - b.LimitUSD,
		})
	}

	if usage.Trend.Direction == ledger.TrendDeclining {
		recs = append(recs, Recommendation{
			Priority: PriorityMedium,
			Category: "efficiency",
			Title:    "Cost efficiency is declining",
			Description: fmt.Sprintf("Efficiency fell %.1f%% from the oldest to the newest quarter of the window. Review recent routing decisions and prompt variants.",
				-usage.Trend.ChangePct),
		})
	}

	providers := make([]models.LLMProvider, 0, len(usage.Providers))
	for id := range usage.Providers {
		providers = append(providers, id)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	for _, id := range providers {
		pu := usage.Providers[id]
		if pu.RatedRequests == 0 || pu.AvgQuality >= lowRatingThreshold {
			continue
		}
		recs = append(recs, Recommendation{
			Priority: PriorityMedium,
			Category: "quality",
			Title:    fmt.Sprintf("%s responses are rated low", id),
			Description: fmt.Sprintf("%s averaged %.1f/10 over %d rated requests. Raise the quality threshold for affected task types or try a structured prompt variant.",
				id, pu.AvgQuality, pu.RatedRequests),
		})
	}

	decisions := report.Cache.Hits + report.Cache.Misses
	if decisions >= minCacheDecisions {
		ratio := float64(report.Cache.Hits) / float64(decisions)
		if ratio < lowCacheHitRatio {
			recs = append(recs, Recommendation{
				Priority: PriorityLow,
				Category: "cache",
				Title:    "Low routing cache hit ratio",
				Description: fmt.Sprintf("Only %.0f%% of %d routing decisions were served from cache. Normalize task types and quality requirements across callers.",
					ratio*100, decisions),
			})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return priorityRank[recs[i].Priority] < priorityRank[recs[j].Priority]
	})
	for i := range recs {
		recs[i].EstimatedSavingsUSD = math.Round(recs[i].EstimatedSavingsUSD*10000) / 10000
	}
	return recs
}

func actionItems(report CostReport) []ActionItem {
	switch report.OverallStatus {
	case budget.StatusRed:
		items := []ActionItem{}
		for _, b := range report.Budget {
			if b.Status == budget.StatusRed {
				items = append(items, ActionItem{
					Urgency: UrgencyImmediate,
					Action:  fmt.Sprintf("Cut %s spend: $%.2f of $%.2f used", b.Period, b.SpentUSD, b.LimitUSD),
				})
			}
		}
		return append(items,
			ActionItem{Urgency: UrgencyImmediate, Action: "Route new requests with the minimize_cost strategy"},
			ActionItem{Urgency: UrgencyThisWeek, Action: "Review premium provider usage by task type"},
		)
	case budget.StatusYellow:
		return []ActionItem{
			{Urgency: UrgencyThisWeek, Action: "Spend is above the alert threshold; review the top task types by cost"},
			{Urgency: UrgencyThisWeek, Action: "Set cost ceilings on high-volume requests"},
		}
	default:
		items := []ActionItem{{Urgency: UrgencyMonitor, Action: "Spend is within budget; keep monitoring daily utilization"}}
		if len(report.Recommendations) > 0 {
			items = append(items, ActionItem{Urgency: UrgencyMonitor, Action: fmt.Sprintf("Evaluate %d optimization recommendation(s)", len(report.Recommendations))})
		}
		return items
	}
}
