// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Routing
	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategos_routing_decisions_total",
			Help: "Routing decisions by recommended provider and strategy",
		},
		[]string{"provider", "strategy", "source"}, // source: scored/cache
	)

	RoutingFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategos_routing_failures_total",
			Help: "Routing requests that produced no eligible provider",
		},
		[]string{"task_type"},
	)

	RouteCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategos_route_cache_lookups_total",
			Help: "Optimization cache lookups by result",
		},
		[]string{"result"}, // hit/miss/stale
	)

	// Usage
	UsageCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategos_usage_cost_usd_total",
			Help: "Tracked provider cost in USD",
		},
		[]string{"provider", "task_type"},
	)

	UsageTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategos_usage_tokens_total",
			Help: "Tracked provider tokens",
		},
		[]string{"provider", "type"}, // type: input/output
	)

	UsageResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strategos_usage_response_time_seconds",
			Help:    "Reported provider response time",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider"},
	)

	// Budget
	BudgetSpendUSD = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strategos_budget_spend_usd",
			Help: "Spend in the current budget period",
		},
		[]string{"period"},
	)

	BudgetUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strategos_budget_utilization_ratio",
			Help: "Spend divided by limit for the current budget period",
		},
		[]string{"period"},
	)

	BudgetAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategos_budget_alerts_total",
			Help: "Budget threshold crossings",
		},
		[]string{"period", "severity"},
	)

	// Prompts
	PromptExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategos_prompt_executions_total",
			Help: "Recorded prompt executions",
		},
		[]string{"template_id", "provider", "status"},
	)

	ABTestAnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strategos_abtest_analyses_total",
			Help: "A/B test analyses by outcome",
		},
		[]string{"status"},
	)
)
