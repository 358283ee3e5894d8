// Package router implements the provider scorer and selector.
//
// Every registered provider is scored on quality, estimated cost, latency,
// use-case fit and reliability, the terms are weighted by the requested
// optimization strategy, and the best eligible provider is recommended
// together with up to two runner-ups. A provider whose estimated cost
// exceeds the caller's hard ceiling is disqualified; when every provider is
// disqualified the router fails with ErrNoEligibleProvider instead of
// falling back to a default.
package router

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/routecache"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// ErrNoEligibleProvider is returned when the cost ceiling disqualifies every
// registered provider.
var ErrNoEligibleProvider = errors.New("router: no eligible provider")

// RoutingStrategy defines how the score terms are weighted.
type RoutingStrategy string

const (
	// StrategyMinimizeCost ranks on the cost term alone.
	StrategyMinimizeCost RoutingStrategy = "minimize_cost"

	// StrategyBalance sums every term unweighted.
	StrategyBalance RoutingStrategy = "balance"

	// StrategyMaximizeQuality doubles the quality term and adds performance.
	StrategyMaximizeQuality RoutingStrategy = "maximize_quality"

	// StrategyMaximizeSpeed triples the performance term and adds use-case fit.
	StrategyMaximizeSpeed RoutingStrategy = "maximize_speed"
)

// ParseStrategy validates a strategy name. An empty name is balance.
func ParseStrategy(s string) (RoutingStrategy, error) {
	switch RoutingStrategy(s) {
	case "":
		return StrategyBalance, nil
	case StrategyMinimizeCost, StrategyBalance, StrategyMaximizeQuality, StrategyMaximizeSpeed:
		return RoutingStrategy(s), nil
	}
	return "", fmt.Errorf("router: unknown strategy %q", s)
}

// Scoring constants.
const (
	maxQualityPoints      = 40.0
	maxCostPoints         = 30.0
	maxPerformancePoints  = 20.0
	latencyPenaltyPerSec  = 4.0
	useCasePointsPerMatch = 5.0
	maxUseCasePoints      = 10.0
	maxReliabilityPoints  = 5.0
	shortfallPenalty      = 10.0 // points per quality point below the requirement

	// MaxReasonableCostUSD is the cost at which the cost term reaches zero.
	MaxReasonableCostUSD = 5.0

	// outputRatio is the assumed output/input token ratio.
	outputRatio = 3

	// learnedMinSamples is the number of rated ledger records needed before
	// learned quality is blended into the confidence.
	learnedMinSamples = 5
	learnedWeight     = 0.3
)

// QualityHistory supplies learned provider quality from the usage ledger.
type QualityHistory interface {
	ProviderQuality(provider models.LLMProvider, taskType string) (avg float64, n int)
}

// PressureSource reports whether any budget period is at its alert threshold.
type PressureSource interface {
	UnderPressure() bool
}

// RouteRequest contains the information needed to make a routing decision.
type RouteRequest struct {
	TaskType   string
	Content    string
	Quality    *analyzer.QualityOverrides // optional
	Strategy   RoutingStrategy            // empty means balance
	MaxCostUSD float64                    // hard ceiling, 0 for none
}

// ProviderScore is the breakdown of one provider's score.
type ProviderScore struct {
	Provider         models.LLMProvider `json:"provider"`
	Score            float64            `json:"score"`
	QualityTerm      float64            `json:"quality_term"`
	CostTerm         float64            `json:"cost_term"`
	PerformanceTerm  float64            `json:"performance_term"`
	UseCaseTerm      float64            `json:"use_case_term"`
	ReliabilityTerm  float64            `json:"reliability_term"`
	EstimatedCostUSD float64            `json:"estimated_cost_usd"`
	MeetsQuality     bool               `json:"meets_quality"`
	Disqualified     bool               `json:"disqualified"`
	MatchedUseCases  []string           `json:"matched_use_cases,omitempty"`
}

// Alternative is a runner-up provider.
type Alternative struct {
	Provider         models.LLMProvider `json:"provider"`
	Score            float64            `json:"score"`
	EstimatedCostUSD float64            `json:"estimated_cost_usd"`
	CostSavingsUSD   float64            `json:"cost_savings_usd"`
	Reasoning        string             `json:"reasoning"`
}

// Recommendation is the routing decision for one request.
type Recommendation struct {
	CurrentProvider        models.LLMProvider `json:"current_provider"`
	RecommendedProvider    models.LLMProvider `json:"recommended_provider"`
	Strategy               RoutingStrategy    `json:"strategy"`
	Score                  float64            `json:"score"`
	EstimatedCostUSD       float64            `json:"estimated_cost_usd"`
	BaselineCostUSD        float64            `json:"baseline_cost_usd"`
	EstimatedCostSavings   float64            `json:"estimated_cost_savings"`
	EstimatedQualityImpact float64            `json:"estimated_quality_impact"`
	Confidence             float64            `json:"confidence"`
	Reasoning              string             `json:"reasoning"`
	Alternatives           []Alternative      `json:"alternatives"`
	Analysis               analyzer.Analysis  `json:"analysis"`
	BudgetPressure         bool               `json:"budget_pressure"`
	FromCache              bool               `json:"from_cache"`
}

// Router scores providers and memoizes decisions.
type Router struct {
	reg      *registry.Registry
	baseline models.LLMProvider
	history  QualityHistory
	pressure PressureSource
	cache    *routecache.Cache[decision]
}

// decision is what the optimization cache keeps: the provider choice, not
// its pricing. Costs are recomputed for every request.
type decision struct {
	Provider     models.LLMProvider
	Alternatives []models.LLMProvider
	Confidence   float64
}

// Option configures a Router.
type Option func(*Router)

// WithBaseline sets the provider that savings are measured against.
func WithBaseline(id models.LLMProvider) Option {
	return func(r *Router) { r.baseline = id }
}

// WithHistory enables learned confidence from the usage ledger.
func WithHistory(h QualityHistory) Option {
	return func(r *Router) { r.history = h }
}

// WithBudgetPressure makes the balance strategy cost-sensitive while any
// budget period is at its alert threshold.
func WithBudgetPressure(p PressureSource) Option {
	return func(r *Router) { r.pressure = p }
}

// NewRouter creates a Router over the given registry.
func NewRouter(reg *registry.Registry, opts ...Option) *Router {
	r := &Router{
		reg:      reg,
		baseline: models.ProviderClaude,
		cache:    routecache.New[decision](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if !reg.Has(r.baseline) {
		r.baseline = reg.HighestQuality().ID
	}
	return r
}

// Baseline returns the provider savings are measured against.
func (r *Router) Baseline() models.LLMProvider {
	return r.baseline
}

// CacheStats reports optimization cache effectiveness.
func (r *Router) CacheStats() routecache.Stats {
	return r.cache.Stats()
}

// FlushCache drops every memoized decision.
func (r *Router) FlushCache() {
	r.cache.Flush()
}

// EstimateTokens returns the assumed input and output token counts for content.
func EstimateTokens(content string) (input, output float64) {
	input = analyzer.EstimateTokens(content)
	return input, input / outputRatio
}

// Route analyzes the request and returns the recommended provider.
func (r *Router) Route(req RouteRequest) (Recommendation, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyBalance
	}
	analysis := analyzer.Analyze(req.TaskType, req.Content, req.Quality)
	pressure := r.pressure != nil && r.pressure.UnderPressure()

	key := routecache.Signature{
		TaskType:       analysis.TaskType,
		Complexity:     string(analysis.Complexity),
		MinQuality:     analysis.QualityRequirement.MinQuality,
		TokenCount:     analysis.EstimatedTokens,
		Strategy:       string(strategy),
		MaxCostUSD:     req.MaxCostUSD,
		BudgetPressure: pressure,
	}.Key()

	scores := r.ScoreProviders(analysis, strategy, req.MaxCostUSD, pressure)

	if cached, ok := r.cache.Get(key); ok {
		if rec, ok := r.replay(cached, analysis, strategy, pressure, scores); ok {
			metrics.RouteCacheLookups.WithLabelValues("hit").Inc()
			metrics.RoutingDecisionsTotal.WithLabelValues(string(rec.RecommendedProvider), string(strategy), "cache").Inc()
			return rec, nil
		}
		// The cached provider would be disqualified for this request.
		metrics.RouteCacheLookups.WithLabelValues("stale").Inc()
		r.cache.Delete(key)
	} else {
		metrics.RouteCacheLookups.WithLabelValues("miss").Inc()
	}

	ranked := make([]ProviderScore, 0, len(scores))
	for _, s := range scores {
		if !s.Disqualified {
			ranked = append(ranked, s)
		}
	}
	if len(ranked) == 0 {
		metrics.RoutingFailuresTotal.WithLabelValues(analysis.TaskType).Inc()
		return Recommendation{}, fmt.Errorf("%w: estimated cost of every provider exceeds $%.6f", ErrNoEligibleProvider, req.MaxCostUSD)
	}
	sortScores(ranked)

	rec := r.buildRecommendation(analysis, strategy, pressure, ranked)
	d := decision{Provider: rec.RecommendedProvider, Confidence: rec.Confidence}
	for _, alt := range rec.Alternatives {
		d.Alternatives = append(d.Alternatives, alt.Provider)
	}
	r.cache.Set(key, d)
	metrics.RoutingDecisionsTotal.WithLabelValues(string(rec.RecommendedProvider), string(strategy), "scored").Inc()
	return rec, nil
}

// replay rebuilds a cached decision against the current request's scores.
// It fails when the cached provider is no longer eligible.
func (r *Router) replay(d decision, a analyzer.Analysis, strategy RoutingStrategy, pressure bool, scores []ProviderScore) (Recommendation, bool) {
	byProvider := make(map[models.LLMProvider]ProviderScore, len(scores))
	for _, s := range scores {
		if !s.Disqualified {
			byProvider[s.Provider] = s
		}
	}
	best, ok := byProvider[d.Provider]
	if !ok {
		return Recommendation{}, false
	}
	var alts []ProviderScore
	for _, id := range d.Alternatives {
		if s, ok := byProvider[id]; ok {
			alts = append(alts, s)
		}
	}
	rec := r.assemble(a, strategy, pressure, best, alts, d.Confidence)
	rec.FromCache = true
	return rec, true
}

// ScoreProviders scores every registered provider for an analyzed request.
// The result is in registry order.
func (r *Router) ScoreProviders(a analyzer.Analysis, strategy RoutingStrategy, maxCostUSD float64, pressure bool) []ProviderScore {
	inTokens, outTokens := a.EstimatedTokens, a.EstimatedTokens/outputRatio

	profiles := r.reg.All()
	scores := make([]ProviderScore, 0, len(profiles))
	for _, p := range profiles {
		scores = append(scores, scoreProvider(p, a, strategy, maxCostUSD, pressure, inTokens, outTokens))
	}
	return scores
}

func scoreProvider(p models.ProviderProfile, a analyzer.Analysis, strategy RoutingStrategy, maxCostUSD float64, pressure bool, inTokens, outTokens float64) ProviderScore {
	s := ProviderScore{
		Provider:         p.ID,
		EstimatedCostUSD: registry.CostFor(p, inTokens, outTokens),
	}

	// 1. Quality
	required := a.QualityRequirement.MinQuality
	s.MeetsQuality = p.QualityScore >= required
	s.QualityTerm = maxQualityPoints * p.QualityScore / 10
	if !s.MeetsQuality {
		s.QualityTerm = math.Max(0, s.QualityTerm-shortfallPenalty*(required-p.QualityScore))
	}

	// 2. Cost, with the hard ceiling
	if maxCostUSD > 0 && s.EstimatedCostUSD > maxCostUSD {
		s.Disqualified = true
		return s
	}
	s.CostTerm = math.Max(0, maxCostPoints*(1-s.EstimatedCostUSD/MaxReasonableCostUSD))

	// 3. Performance
	s.PerformanceTerm = math.Max(0, maxPerformancePoints-latencyPenaltyPerSec*p.AvgLatencySeconds)

	// 4. Use-case fit
	s.MatchedUseCases = matchUseCases(p, a.Signals)
	s.UseCaseTerm = math.Min(maxUseCasePoints, useCasePointsPerMatch*float64(len(s.MatchedUseCases)))

	// 5. Reliability
	s.ReliabilityTerm = maxReliabilityPoints * p.ReliabilityScore / 10

	switch strategy {
	case StrategyMinimizeCost:
		s.Score = 3 * s.CostTerm
	case StrategyMaximizeQuality:
		s.Score = 2*s.QualityTerm + s.PerformanceTerm
	case StrategyMaximizeSpeed:
		s.Score = 3*s.PerformanceTerm + s.UseCaseTerm
	default:
		cost := s.CostTerm
		if pressure {
			cost *= 2
		}
		s.Score = s.QualityTerm + cost + s.PerformanceTerm + s.UseCaseTerm + s.ReliabilityTerm
	}
	return s
}

func matchUseCases(p models.ProviderProfile, sig analyzer.ContentSignals) []string {
	var matched []string
	pairs := []struct {
		signal bool
		tag    string
	}{
		{sig.RequiresReasoning, models.UseCaseStrategicReasoning},
		{sig.RequiresCreativity, models.UseCaseCreativeSolutions},
		{sig.StructuredOutput, models.UseCaseStructuredOutputs},
		{sig.TimeSensitive, models.UseCaseSpeed},
	}
	for _, pair := range pairs {
		if pair.signal && p.HasUseCase(pair.tag) {
			matched = append(matched, pair.tag)
		}
	}
	return matched
}

// sortScores orders by score descending, then lower cost, then provider id.
func sortScores(scores []ProviderScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.EstimatedCostUSD != b.EstimatedCostUSD {
			return a.EstimatedCostUSD < b.EstimatedCostUSD
		}
		return a.Provider < b.Provider
	})
}

func (r *Router) buildRecommendation(a analyzer.Analysis, strategy RoutingStrategy, pressure bool, ranked []ProviderScore) Recommendation {
	best := ranked[0]
	confidence := 1.0
	if len(ranked) > 1 {
		gap := best.Score - ranked[1].Score
		confidence = math.Min(1, 0.5+gap/20)
	}
	if r.history != nil {
		if avg, n := r.history.ProviderQuality(best.Provider, a.TaskType); n >= learnedMinSamples {
			confidence = (1-learnedWeight)*confidence + learnedWeight*(avg/10)
		}
	}
	return r.assemble(a, strategy, pressure, best, ranked[1:min(3, len(ranked))], confidence)
}

// assemble prices a chosen provider and its alternatives for the analyzed
// request.
func (r *Router) assemble(a analyzer.Analysis, strategy RoutingStrategy, pressure bool, best ProviderScore, alts []ProviderScore, confidence float64) Recommendation {
	bestProfile, _ := r.reg.Get(best.Provider)
	baselineProfile, _ := r.reg.Get(r.baseline)
	baselineCost := registry.CostFor(baselineProfile, a.EstimatedTokens, a.EstimatedTokens/outputRatio)

	rec := Recommendation{
		CurrentProvider:        r.baseline,
		RecommendedProvider:    best.Provider,
		Strategy:               strategy,
		Score:                  best.Score,
		EstimatedCostUSD:       best.EstimatedCostUSD,
		BaselineCostUSD:        baselineCost,
		EstimatedCostSavings:   baselineCost - best.EstimatedCostUSD,
		EstimatedQualityImpact: bestProfile.QualityScore - baselineProfile.QualityScore,
		Confidence:             confidence,
		Reasoning:              reasoning(best, bestProfile, a, strategy, pressure),
		Analysis:               a,
		BudgetPressure:         pressure,
	}

	for _, alt := range alts {
		altProfile, _ := r.reg.Get(alt.Provider)
		rec.Alternatives = append(rec.Alternatives, Alternative{
			Provider:         alt.Provider,
			Score:            alt.Score,
			EstimatedCostUSD: alt.EstimatedCostUSD,
			CostSavingsUSD:   baselineCost - alt.EstimatedCostUSD,
			Reasoning:        alternativeReasoning(alt, altProfile, best),
		})
	}
	return rec
}

func reasoning(s ProviderScore, p models.ProviderProfile, a analyzer.Analysis, strategy RoutingStrategy, pressure bool) string {
	parts := []string{
		fmt.Sprintf("%s selected for %s task (%s complexity) using %s strategy", p.DisplayName, orUnknown(a.TaskType), a.Complexity, strategy),
	}
	if s.MeetsQuality {
		parts = append(parts, fmt.Sprintf("quality %.1f meets the %.1f requirement", p.QualityScore, a.QualityRequirement.MinQuality))
	} else {
		parts = append(parts, fmt.Sprintf("quality %.1f is below the %.1f requirement", p.QualityScore, a.QualityRequirement.MinQuality))
	}
	parts = append(parts, fmt.Sprintf("estimated cost $%.6f", s.EstimatedCostUSD))
	if len(s.MatchedUseCases) > 0 {
		parts = append(parts, "strong at "+strings.Join(s.MatchedUseCases, ", "))
	}
	if pressure && strategy == StrategyBalance {
		parts = append(parts, "cost weighted up because a budget period is at its alert threshold")
	}
	return strings.Join(parts, "; ")
}

func alternativeReasoning(alt ProviderScore, p models.ProviderProfile, best ProviderScore) string {
	switch {
	case alt.EstimatedCostUSD < best.EstimatedCostUSD:
		return fmt.Sprintf("%s is cheaper ($%.6f) with quality %.1f", p.DisplayName, alt.EstimatedCostUSD, p.QualityScore)
	case alt.PerformanceTerm > best.PerformanceTerm:
		return fmt.Sprintf("%s responds faster (%.1fs average latency)", p.DisplayName, p.AvgLatencySeconds)
	default:
		return fmt.Sprintf("%s offers quality %.1f at $%.6f", p.DisplayName, p.QualityScore, alt.EstimatedCostUSD)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}
