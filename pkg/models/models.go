// Package models defines the core data structures used across Strategos.
package models

import "time"

// LLMProvider identifies a model backend in the provider registry.
type LLMProvider string

const (
	ProviderClaude  LLMProvider = "claude"
	ProviderGPT4    LLMProvider = "gpt4"
	ProviderGemini  LLMProvider = "gemini"
	ProviderMistral LLMProvider = "mistral"
)

// Capability tags used in ProviderProfile.BestUseCases. The scorer matches
// content signals against these.
const (
	UseCaseStrategicReasoning = "strategic_reasoning"
	UseCaseCreativeSolutions  = "creative_solutions"
	UseCaseStructuredOutputs  = "structured_outputs"
	UseCaseSpeed              = "speed"
)

// ProviderProfile is the static description of one provider. Profiles are
// loaded at start-up and never mutated afterwards.
type ProviderProfile struct {
	ID                      LLMProvider `json:"id" yaml:"id"`
	DisplayName             string      `json:"display_name" yaml:"display_name"`
	CostPer1KInput          float64     `json:"cost_per_1k_input" yaml:"cost_per_1k_input"`
	CostPer1KOutput         float64     `json:"cost_per_1k_output" yaml:"cost_per_1k_output"`
	AvgLatencySeconds       float64     `json:"avg_latency_seconds" yaml:"avg_latency_seconds"`
	QualityScore            float64     `json:"quality_score" yaml:"quality_score"`         // 0-10
	ReliabilityScore        float64     `json:"reliability_score" yaml:"reliability_score"` // 0-10
	MaxTokens               int         `json:"max_tokens" yaml:"max_tokens"`
	SupportsStreaming       bool        `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsFunctionCalling bool        `json:"supports_function_calling" yaml:"supports_function_calling"`
	ContextWindow           int         `json:"context_window" yaml:"context_window"`
	BestUseCases            []string    `json:"best_use_cases" yaml:"best_use_cases"`
	Limitations             []string    `json:"limitations" yaml:"limitations"`
}

// HasUseCase reports whether the profile declares the given best-use-case tag.
func (p ProviderProfile) HasUseCase(tag string) bool {
	for _, t := range p.BestUseCases {
		if t == tag {
			return true
		}
	}
	return false
}

// ComplexityTier is the coarse difficulty class of a task.
type ComplexityTier string

const (
	ComplexitySimple   ComplexityTier = "simple"
	ComplexityMedium   ComplexityTier = "medium"
	ComplexityComplex  ComplexityTier = "complex"
	ComplexityCritical ComplexityTier = "critical"
)

// EfficiencyMultiplier weights cost-efficiency by how hard the task was.
func (c ComplexityTier) EfficiencyMultiplier() float64 {
	switch c {
	case ComplexitySimple:
		return 0.8
	case ComplexityComplex:
		return 1.2
	case ComplexityCritical:
		return 1.5
	default:
		return 1.0
	}
}

// UsageRecord is one executed request as reported back by the caller.
type UsageRecord struct {
	RequestID       string         `json:"request_id" db:"request_id"`
	Timestamp       time.Time      `json:"timestamp" db:"timestamp"`
	Provider        LLMProvider    `json:"provider" db:"provider"`
	TaskType        string         `json:"task_type" db:"task_type"`
	Complexity      ComplexityTier `json:"complexity" db:"complexity"`
	InputTokens     int64          `json:"input_tokens" db:"input_tokens"`
	OutputTokens    int64          `json:"output_tokens" db:"output_tokens"`
	TotalCostUSD    float64        `json:"total_cost_usd" db:"total_cost_usd"`
	ResponseTimeSec float64        `json:"response_time_seconds" db:"response_time_seconds"`
	QualityRating   *float64       `json:"quality_rating,omitempty" db:"quality_rating"`
	CostEfficiency  float64        `json:"cost_efficiency" db:"cost_efficiency"`
}

// Metric names a per-execution performance dimension. Scores are in [0,1]
// except MetricResponseTime (seconds) and MetricCost (USD).
type Metric string

const (
	MetricAccuracy       Metric = "accuracy"
	MetricRelevance      Metric = "relevance"
	MetricActionability  Metric = "actionability"
	MetricStrategicValue Metric = "strategic_value"
	MetricResponseTime   Metric = "response_time"
	MetricCost           Metric = "cost"
)

// QualityMetrics are the metrics where higher is better.
var QualityMetrics = []Metric{MetricAccuracy, MetricRelevance, MetricActionability, MetricStrategicValue}

// PromptExecution is one rendered template sent to a provider.
type PromptExecution struct {
	ID             string             `json:"id" db:"id"`
	TemplateID     string             `json:"template_id" db:"template_id"`
	Provider       LLMProvider        `json:"provider" db:"provider"`
	RenderedPrompt string             `json:"rendered_prompt" db:"rendered_prompt"`
	Variables      map[string]string  `json:"variables" db:"variables"`
	RawResponse    string             `json:"raw_response" db:"raw_response"`
	ExecutionTime  float64            `json:"execution_time_seconds" db:"execution_time_seconds"`
	CostUSD        float64            `json:"cost_usd" db:"cost_usd"`
	Scores         map[Metric]float64 `json:"scores" db:"scores"`
	Success        bool               `json:"success" db:"success"`
	Error          string             `json:"error,omitempty" db:"error"`
	Timestamp      time.Time          `json:"timestamp" db:"timestamp"`
}

// TemplateStats is the mutable part of a prompt template that is persisted.
type TemplateStats struct {
	TemplateID  string                 `json:"template_id" db:"template_id"`
	UsageCount  int64                  `json:"usage_count" db:"usage_count"`
	SuccessRate float64                `json:"success_rate" db:"success_rate"`
	Variants    map[LLMProvider]string `json:"variants" db:"variants"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// ABTest is a time-boxed comparison between two templates.
type ABTest struct {
	ID            string    `json:"id" db:"id"`
	VariantA      string    `json:"variant_a" db:"variant_a"`
	VariantB      string    `json:"variant_b" db:"variant_b"`
	StartTime     time.Time `json:"start_time" db:"start_time"`
	EndTime       time.Time `json:"end_time" db:"end_time"`
	TargetMetrics []Metric  `json:"target_metrics" db:"target_metrics"`
	MinSampleSize int       `json:"min_sample_size" db:"min_sample_size"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
