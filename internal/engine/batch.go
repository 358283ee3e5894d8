package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/router"
)

// batchParallelism bounds concurrent scoring in BatchOptimize.
const batchParallelism = 8

// BatchItem is one request of a batch.
type BatchItem struct {
	TaskType   string                     `json:"task_type"`
	Content    string                     `json:"content"`
	Quality    *analyzer.QualityOverrides `json:"quality_requirements,omitempty"`
	MaxCostUSD float64                    `json:"max_cost_usd,omitempty"`
}

// BatchEntry is the outcome of one batch item. Exactly one of
// Recommendation and Error is set.
type BatchEntry struct {
	Index          int                    `json:"index"`
	Recommendation *router.Recommendation `json:"recommendation,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// BatchResult aggregates a batch. Costs cover the successful items only.
type BatchResult struct {
	Strategy         router.RoutingStrategy `json:"strategy"`
	TotalRequests    int                    `json:"total_requests"`
	Succeeded        int                    `json:"succeeded"`
	Failed           int                    `json:"failed"`
	OriginalCostUSD  float64                `json:"original_cost_usd"`
	OptimizedCostUSD float64                `json:"optimized_cost_usd"`
	TotalSavingsUSD  float64                `json:"total_savings_usd"`
	SavingsPct       float64                `json:"savings_pct"`
	Results          []BatchEntry           `json:"results"`
}

// BatchOptimize routes every item with one strategy. Items are scored in
// parallel; an item that cannot be routed is reported in its entry and does
// not fail the batch. The original cost is what the baseline provider would
// have charged.
func (e *Engine) BatchOptimize(ctx context.Context, items []BatchItem, strategy router.RoutingStrategy) (BatchResult, error) {
	if strategy == "" {
		strategy = e.defaultStrategy
	}
	entries := make([]BatchEntry, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries[i].Index = i
			rec, err := e.OptimizeRequest(router.RouteRequest{
				TaskType:   item.TaskType,
				Content:    item.Content,
				Quality:    item.Quality,
				Strategy:   strategy,
				MaxCostUSD: item.MaxCostUSD,
			})
			if err != nil {
				entries[i].Error = err.Error()
				return nil
			}
			entries[i].Recommendation = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, fmt.Errorf("engine: batch optimize: %w", err)
	}

	res := BatchResult{Strategy: strategy, TotalRequests: len(items), Results: entries}
	for _, entry := range entries {
		if entry.Recommendation == nil {
			res.Failed++
			continue
		}
		res.Succeeded++
		res.OriginalCostUSD += entry.Recommendation.BaselineCostUSD
		res.OptimizedCostUSD += entry.Recommendation.EstimatedCostUSD
	}
	res.TotalSavingsUSD = res.OriginalCostUSD - res.OptimizedCostUSD
	if res.OriginalCostUSD > 0 {
		res.SavingsPct = res.TotalSavingsUSD / res.OriginalCostUSD * 100
	}
	return res, nil
}
