// Package analytics implements cost reporting and insights.
//
// The analytics engine processes usage ledger records to detect cost
// spikes, identify cheaper provider alternatives, and compose the periodic
// cost report with budget status, ROI and prioritized recommendations.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// InsightType categorizes the kind of insight generated.
type InsightType string

const (
	InsightCostSpike       InsightType = "cost_spike"
	InsightProviderSwitch  InsightType = "provider_switch"
	InsightBudgetWarning   InsightType = "budget_warning"
	InsightAnomalyDetected InsightType = "anomaly_detected"
	InsightSavingsFound    InsightType = "savings_found"
)

// Severity indicates the urgency of an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SpikeThreshold is the multiple of the trailing 7-day average daily cost
// above which a day counts as a spike.
const SpikeThreshold = 2.0

// criticalSpikeMultiple escalates a spike to critical.
const criticalSpikeMultiple = 5.0

// spikeLookbackDays is how far back spikes are searched.
const spikeLookbackDays = 14

// switchMinWeeklyCost is the weekly spend below which switching is not
// worth recommending.
const switchMinWeeklyCost = 1.0

// Insight represents an actionable recommendation or alert.
type Insight struct {
	ID              string      `json:"id"`
	Type            InsightType `json:"type"`
	Severity        Severity    `json:"severity"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	EstimatedSaving float64     `json:"estimated_saving"`
	AffectedEntity  string      `json:"affected_entity"`
	CreatedAt       time.Time   `json:"created_at"`
}

// premiumProviderAlternatives maps premium providers to the next cheaper
// provider that usually handles simpler work of the same task type.
var premiumProviderAlternatives = map[models.LLMProvider]models.LLMProvider{
	models.ProviderClaude: models.ProviderGPT4,
	models.ProviderGPT4:   models.ProviderGemini,
}

// UsageSource supplies ledger records.
type UsageSource interface {
	Since(t time.Time) []models.UsageRecord
}

// InsightsEngine generates cost insights from the usage ledger.
type InsightsEngine struct {
	usage UsageSource
	reg   *registry.Registry
	now   func() time.Time
}

// NewInsightsEngine creates a new InsightsEngine.
func NewInsightsEngine(usage UsageSource, reg *registry.Registry) *InsightsEngine {
	return &InsightsEngine{usage: usage, reg: reg, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (e *InsightsEngine) SetClock(now func() time.Time) {
	e.now = now
}

// DetectSpikes finds provider-days in the last two weeks whose cost exceeds
// SpikeThreshold times the provider's average daily cost over the preceding
// 7 days.
func (e *InsightsEngine) DetectSpikes() []Insight {
	now := e.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	// 7 extra days so the oldest inspected day has a full trailing window.
	from := today.AddDate(0, 0, -(spikeLookbackDays + 7))
	records := e.usage.Since(from)

	// provider -> day index (0 = from) -> cost
	daily := make(map[models.LLMProvider]map[int]float64)
	for _, r := range records {
		idx := int(r.Timestamp.UTC().Sub(from).Hours() / 24)
		if daily[r.Provider] == nil {
			daily[r.Provider] = make(map[int]float64)
		}
		daily[r.Provider][idx] += r.TotalCostUSD
	}

	var insights []Insight
	for provider, days := range daily {
		for idx := 7; idx <= spikeLookbackDays+7; idx++ {
			cost := days[idx]
			if cost == 0 {
				continue
			}
			// Average over the active days of the trailing week, so a
			// provider's first days of use do not read as spikes.
			var trailing float64
			var active int
			for d := idx - 7; d < idx; d++ {
				if v, ok := days[d]; ok {
					trailing += v
					active++
				}
			}
			if active == 0 {
				continue
			}
			avg := trailing / float64(active)
			if avg <= 0 || cost <= avg*SpikeThreshold {
				continue
			}

			day := from.AddDate(0, 0, idx)
			multiple := cost / avg
			severity := SeverityWarning
			if multiple >= criticalSpikeMultiple {
				severity = SeverityCritical
			}
			insights = append(insights, Insight{
				ID:       fmt.Sprintf("spike-%s-%s", provider, day.Format("2006-01-02")),
				Type:     InsightCostSpike,
				Severity: severity,
				Title:    fmt.Sprintf("Cost spike detected for provider %s", provider),
				Description: fmt.Sprintf(
					"On %s, %s requests cost $%.4f, which is %.1fx the 7-day average of $%.4f.",
					day.Format("Jan 2"), provider, cost, multiple, avg,
				),
				EstimatedSaving: cost - avg,
				AffectedEntity:  string(provider),
				CreatedAt:       now,
			})
		}
	}

	sort.Slice(insights, func(i, j int) bool {
		if insights[i].Severity != insights[j].Severity {
			return insights[i].Severity == SeverityCritical
		}
		return insights[i].ID > insights[j].ID
	})
	return insights
}

// RecommendProviderSwitches identifies premium-provider spend over the last
// week that a cheaper alternative could absorb. Savings are estimated from
// the providers' blended per-1K price ratio.
func (e *InsightsEngine) RecommendProviderSwitches() []Insight {
	now := e.now()
	records := e.usage.Since(now.AddDate(0, 0, -7))
	byProvider := lo.GroupBy(records, func(r models.UsageRecord) models.LLMProvider { return r.Provider })

	providers := lo.Keys(byProvider)
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	var insights []Insight
	for _, provider := range providers {
		recs := byProvider[provider]
		alt, ok := premiumProviderAlternatives[provider]
		if !ok || !e.reg.Has(provider) || !e.reg.Has(alt) {
			continue
		}
		totalCost := lo.SumBy(recs, func(r models.UsageRecord) float64 { return r.TotalCostUSD })
		if totalCost <= switchMinWeeklyCost {
			continue
		}
		ratio := SavingsRatio(e.reg, provider, alt)
		if ratio <= 0 {
			continue
		}
		avgInput := float64(lo.SumBy(recs, func(r models.UsageRecord) int64 { return r.InputTokens })) / float64(len(recs))
		estimatedSaving := totalCost * ratio

		insights = append(insights, Insight{
			ID:       fmt.Sprintf("switch-%s-%s", provider, alt),
			Type:     InsightProviderSwitch,
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("Consider switching %s to %s", provider, alt),
			Description: fmt.Sprintf(
				"You spent $%.2f on %s (%d requests, avg %.0f input tokens). "+
					"Routing simpler requests to %s could save ~$%.2f/week.",
				totalCost, provider, len(recs), avgInput, alt, estimatedSaving,
			),
			EstimatedSaving: math.Round(estimatedSaving*100) / 100,
			AffectedEntity:  string(provider),
			CreatedAt:       now,
		})
	}
	return insights
}

// SavingsRatio is the fraction of cost saved by moving work from one
// provider to another, based on blended per-1K rates.
func SavingsRatio(reg *registry.Registry, from, to models.LLMProvider) float64 {
	a, okA := reg.Get(from)
	b, okB := reg.Get(to)
	if !okA || !okB {
		return 0
	}
	rateA := a.CostPer1KInput + a.CostPer1KOutput
	if rateA <= 0 {
		return 0
	}
	return math.Max(0, 1-(b.CostPer1KInput+b.CostPer1KOutput)/rateA)
}

// PremiumProvider returns the provider with the highest blended rate.
func PremiumProvider(reg *registry.Registry) models.LLMProvider {
	var best models.ProviderProfile
	for i, p := range reg.All() {
		if i == 0 || p.CostPer1KInput+p.CostPer1KOutput > best.CostPer1KInput+best.CostPer1KOutput {
			best = p
		}
	}
	return best.ID
}

// Alternative returns the cheaper alternative for a premium provider.
func Alternative(provider models.LLMProvider) (models.LLMProvider, bool) {
	alt, ok := premiumProviderAlternatives[provider]
	return alt, ok
}
