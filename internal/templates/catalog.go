package templates

import "github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"

// Template categories.
const (
	CategoryStrategicAnalysis   = "strategic_analysis"
	CategoryCompetitiveAnalysis = "competitive_analysis"
	CategoryMarketResearch      = "market_research"
	CategoryPrioritization      = "prioritization"
	CategoryExecutiveSummary    = "executive_communication"
	CategoryProductStrategy     = "product_strategy"
)

// Output formats understood by the structured-output transform.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatTable    = "table"
)

func requirements(accuracy, relevance, actionability, strategic, responseTime, cost float64) map[models.Metric]float64 {
	return map[models.Metric]float64{
		models.MetricAccuracy:       accuracy,
		models.MetricRelevance:      relevance,
		models.MetricActionability:  actionability,
		models.MetricStrategicValue: strategic,
		models.MetricResponseTime:   responseTime,
		models.MetricCost:           cost,
	}
}

// catalog returns the fixed template set in catalog order.
func catalog() []Template {
	return []Template{
		{
			ID:       "strategic_analysis",
			Category: CategoryStrategicAnalysis,
			Name:     "Strategic Analysis",
			BaseText: `You are a senior strategy advisor to {{.company}}.

Provide a comprehensive strategic analysis of the following situation:
{{.situation}}

Business context: {{.context}}

Cover the current position, the detailed strengths and weaknesses, the most important opportunities and threats, and a thorough assessment of strategic options. Conclude with detailed recommendations and the metrics that would confirm success.`,
			RequiredVariables:       []string{"company", "situation"},
			OptionalVariables:       []string{"context"},
			ExpectedOutputFormat:    FormatMarkdown,
			PerformanceRequirements: requirements(0.85, 0.85, 0.80, 0.85, 30, 0.50),
		},
		{
			ID:       "competitive_analysis",
			Category: CategoryCompetitiveAnalysis,
			Name:     "Competitive Analysis",
			BaseText: `Produce a comprehensive competitive analysis for {{.company}} in the {{.market}} market.

Competitors to evaluate: {{.competitors}}
{{if .focus}}Focus area: {{.focus}}
{{end}}
For each competitor give a detailed profile covering positioning, pricing, product strengths, weaknesses and recent moves. Then provide an in-depth comparison and identify where {{.company}} can differentiate.`,
			RequiredVariables:       []string{"company", "market", "competitors"},
			OptionalVariables:       []string{"focus"},
			ExpectedOutputFormat:    FormatTable,
			PerformanceRequirements: requirements(0.85, 0.80, 0.75, 0.80, 30, 0.40),
		},
		{
			ID:       "market_research",
			Category: CategoryMarketResearch,
			Name:     "Market Research Brief",
			BaseText: `Conduct comprehensive market research on {{.market}} for {{.company}}.

Target segment: {{.segment}}

Include market size and growth, detailed customer needs and buying behaviour, key trends, regulatory factors and an in-depth view of entry barriers. Support every claim with the reasoning behind it.`,
			RequiredVariables:       []string{"company", "market"},
			OptionalVariables:       []string{"segment"},
			ExpectedOutputFormat:    FormatMarkdown,
			PerformanceRequirements: requirements(0.80, 0.80, 0.70, 0.75, 25, 0.30),
		},
		{
			ID:       "rice_prioritization",
			Category: CategoryPrioritization,
			Name:     "RICE Prioritization",
			BaseText: `Prioritize the following initiatives for {{.company}} using the RICE framework (Reach, Impact, Confidence, Effort).

Initiatives:
{{.features}}

Planning horizon: {{.horizon}}

For every initiative give detailed Reach, Impact, Confidence and Effort estimates with the assumptions behind them, compute the RICE score, and rank the initiatives.`,
			RequiredVariables:       []string{"company", "features"},
			OptionalVariables:       []string{"horizon"},
			ExpectedOutputFormat:    FormatJSON,
			PerformanceRequirements: requirements(0.80, 0.80, 0.85, 0.70, 20, 0.25),
		},
		{
			ID:       "ice_prioritization",
			Category: CategoryPrioritization,
			Name:     "ICE Prioritization",
			BaseText: `Score the following ideas for {{.company}} with the ICE framework (Impact, Confidence, Ease).

Ideas:
{{.features}}

Rate each dimension from 1 to 10 with a short justification, compute the ICE score and return the ideas ranked from highest to lowest.`,
			RequiredVariables:       []string{"company", "features"},
			ExpectedOutputFormat:    FormatJSON,
			PerformanceRequirements: requirements(0.75, 0.80, 0.85, 0.65, 15, 0.20),
		},
		{
			ID:       "executive_summary",
			Category: CategoryExecutiveSummary,
			Name:     "Executive Summary",
			BaseText: `Write an executive summary for {{.audience}} of the following material:
{{.content}}

Open with the single most important conclusion, then give a comprehensive but readable overview of the key findings, the decisions required and the detailed risks. Keep the tone suitable for a board audience.`,
			RequiredVariables:       []string{"content"},
			OptionalVariables:       []string{"audience"},
			ExpectedOutputFormat:    FormatMarkdown,
			PerformanceRequirements: requirements(0.90, 0.85, 0.80, 0.85, 20, 0.30),
		},
		{
			ID:       "product_strategy",
			Category: CategoryProductStrategy,
			Name:     "Product Strategy",
			BaseText: `Develop a comprehensive product strategy for {{.product}} at {{.company}}.

Goals: {{.goals}}
Constraints: {{.constraints}}

Define the target users, the value proposition, a detailed roadmap of themes for the next three quarters, the key bets and an in-depth risk assessment. Finish with the OKRs that would measure progress.`,
			RequiredVariables:       []string{"company", "product"},
			OptionalVariables:       []string{"goals", "constraints"},
			ExpectedOutputFormat:    FormatMarkdown,
			PerformanceRequirements: requirements(0.85, 0.85, 0.80, 0.90, 30, 0.50),
		},
	}
}
