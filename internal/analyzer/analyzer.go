// Package analyzer classifies incoming requests before routing.
//
// Analysis is a pure function of the task type and content: complexity and
// quality requirements come from static task-type tables, token volume from
// a characters-per-token approximation, and content signals from
// case-insensitive keyword checks.
package analyzer

import (
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// CharsPerToken is the fixed approximation used for token estimates.
const CharsPerToken = 4

// QualityRequirement is the minimum quality a provider should meet.
type QualityRequirement struct {
	MinQuality    float64 `json:"min_quality"`    // 0-10
	MinConfidence float64 `json:"min_confidence"` // 0-1
}

// QualityOverrides lets callers replace table values. Nil fields keep the
// table value.
type QualityOverrides struct {
	MinQuality    *float64 `json:"min_quality,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// ContentSignals are keyword-derived hints about what the request needs.
type ContentSignals struct {
	RequiresReasoning  bool `json:"requires_reasoning"`
	RequiresCreativity bool `json:"requires_creativity"`
	RequiresAccuracy   bool `json:"requires_accuracy"`
	TimeSensitive      bool `json:"time_sensitive"`
	StructuredOutput   bool `json:"structured_output"`
}

// Analysis is the classification of a single request.
type Analysis struct {
	TaskType           string                `json:"task_type"`
	EstimatedTokens    float64               `json:"estimated_tokens"`
	Complexity         models.ComplexityTier `json:"complexity"`
	QualityRequirement QualityRequirement    `json:"quality_requirement"`
	Signals            ContentSignals        `json:"signals"`
	ContentLength      int                   `json:"content_length"`
}

var complexityTable = map[string]models.ComplexityTier{
	"classification":  models.ComplexitySimple,
	"summarization":   models.ComplexitySimple,
	"data_extraction": models.ComplexitySimple,
	"quick_answer":    models.ComplexitySimple,
	"formatting":      models.ComplexitySimple,

	"market_research":            models.ComplexityMedium,
	"content_generation":         models.ComplexityMedium,
	"persona_development":        models.ComplexityMedium,
	"feature_prioritization":     models.ComplexityMedium,
	"customer_feedback_analysis": models.ComplexityMedium,

	"strategic_analysis":   models.ComplexityComplex,
	"competitive_analysis": models.ComplexityComplex,
	"product_strategy":     models.ComplexityComplex,
	"roadmap_planning":     models.ComplexityComplex,
	"okr_planning":         models.ComplexityComplex,

	"executive_briefing":  models.ComplexityCritical,
	"investment_decision": models.ComplexityCritical,
	"board_presentation":  models.ComplexityCritical,
	"crisis_response":     models.ComplexityCritical,
}

var qualityTable = map[string]QualityRequirement{
	"classification":             {MinQuality: 6.0, MinConfidence: 0.60},
	"summarization":              {MinQuality: 7.0, MinConfidence: 0.65},
	"data_extraction":            {MinQuality: 7.0, MinConfidence: 0.75},
	"quick_answer":               {MinQuality: 6.5, MinConfidence: 0.60},
	"formatting":                 {MinQuality: 6.0, MinConfidence: 0.60},
	"market_research":            {MinQuality: 8.0, MinConfidence: 0.75},
	"content_generation":         {MinQuality: 7.5, MinConfidence: 0.70},
	"persona_development":        {MinQuality: 7.5, MinConfidence: 0.70},
	"feature_prioritization":     {MinQuality: 8.0, MinConfidence: 0.75},
	"customer_feedback_analysis": {MinQuality: 7.5, MinConfidence: 0.70},
	"strategic_analysis":         {MinQuality: 9.0, MinConfidence: 0.85},
	"competitive_analysis":       {MinQuality: 8.5, MinConfidence: 0.80},
	"product_strategy":           {MinQuality: 9.0, MinConfidence: 0.85},
	"roadmap_planning":           {MinQuality: 8.5, MinConfidence: 0.80},
	"okr_planning":               {MinQuality: 8.0, MinConfidence: 0.80},
	"executive_briefing":         {MinQuality: 9.5, MinConfidence: 0.90},
	"investment_decision":        {MinQuality: 9.5, MinConfidence: 0.90},
	"board_presentation":         {MinQuality: 9.0, MinConfidence: 0.90},
	"crisis_response":            {MinQuality: 9.0, MinConfidence: 0.85},
}

var defaultQuality = QualityRequirement{MinQuality: 7.5, MinConfidence: 0.70}

var (
	reasoningKeywords = []string{
		"analyze", "analysis", "strategy", "strategic", "evaluate", "compare",
		"reasoning", "why", "implication", "trade-off", "tradeoff", "assess",
	}
	creativityKeywords = []string{
		"creative", "brainstorm", "innovative", "ideas", "novel", "imagine", "reimagine",
	}
	accuracyKeywords = []string{
		"accurate", "precise", "exact", "verify", "correct", "data", "numbers", "metrics",
	}
	timeKeywords = []string{
		"urgent", "asap", "quick", "immediately", "fast", "deadline", "today",
	}
	structuredKeywords = []string{
		"json", "table", "list", "format", "structured", "schema", "csv", "bullet",
	}
)

// ComplexityFor returns the tier for a task type, "medium" when unknown.
func ComplexityFor(taskType string) models.ComplexityTier {
	if tier, ok := complexityTable[taskType]; ok {
		return tier
	}
	return models.ComplexityMedium
}

// QualityFor returns the table quality requirement for a task type.
func QualityFor(taskType string) QualityRequirement {
	if q, ok := qualityTable[taskType]; ok {
		return q
	}
	return defaultQuality
}

// EstimateTokens approximates the token count of text. The estimate is
// fractional so that cost grows with every added character.
func EstimateTokens(text string) float64 {
	return float64(len(text)) / CharsPerToken
}

// Analyze classifies a request. It never fails: empty input yields a medium
// analysis with zero content length.
func Analyze(taskType, content string, overrides *QualityOverrides) Analysis {
	quality := QualityFor(taskType)
	if overrides != nil {
		if overrides.MinQuality != nil {
			quality.MinQuality = *overrides.MinQuality
		}
		if overrides.MinConfidence != nil {
			quality.MinConfidence = *overrides.MinConfidence
		}
	}

	return Analysis{
		TaskType:           taskType,
		EstimatedTokens:    EstimateTokens(content),
		Complexity:         ComplexityFor(taskType),
		QualityRequirement: quality,
		Signals:            detectSignals(content),
		ContentLength:      len(content),
	}
}

func detectSignals(content string) ContentSignals {
	lower := strings.ToLower(content)
	return ContentSignals{
		RequiresReasoning:  containsAny(lower, reasoningKeywords),
		RequiresCreativity: containsAny(lower, creativityKeywords),
		RequiresAccuracy:   containsAny(lower, accuracyKeywords),
		TimeSensitive:      containsAny(lower, timeKeywords),
		StructuredOutput:   containsAny(lower, structuredKeywords),
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
