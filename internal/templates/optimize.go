package templates

import (
	"fmt"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// expectedImprovements are the relative changes each transform is expected
// to produce. Positive response_time and cost values mean slower and more
// expensive.
var expectedImprovements = map[VariantStrategy]map[models.Metric]float64{
	StrategyVerboseReasoning: {
		models.MetricAccuracy:       0.15,
		models.MetricStrategicValue: 0.20,
		models.MetricRelevance:      0.05,
		models.MetricResponseTime:   0.30,
		models.MetricCost:           0.25,
	},
	StrategyStructuredOutput: {
		models.MetricActionability: 0.20,
		models.MetricRelevance:     0.10,
		models.MetricAccuracy:      0.05,
		models.MetricCost:          0.05,
	},
	StrategyCostEfficient: {
		models.MetricCost:         -0.40,
		models.MetricResponseTime: -0.20,
		models.MetricAccuracy:     -0.05,
	},
	StrategySpeedOptimized: {
		models.MetricResponseTime:   -0.50,
		models.MetricCost:           -0.45,
		models.MetricStrategicValue: -0.10,
	},
}

// PromptOptimization is the result of OptimizePrompt.
type PromptOptimization struct {
	TemplateID           string                    `json:"template_id"`
	Provider             models.LLMProvider        `json:"provider"`
	Strategy             VariantStrategy           `json:"strategy"`
	OriginalText         string                    `json:"original_text"`
	OptimizedText        string                    `json:"optimized_text"`
	ExpectedImprovements map[models.Metric]float64 `json:"expected_improvements"`
	Justification        string                    `json:"justification"`
	CurrentPerformance   map[models.Metric]float64 `json:"current_performance"`
	Targets              map[models.Metric]float64 `json:"targets"`
	SampleSize           int                       `json:"sample_size"`
}

// OptimizePrompt chooses a variant strategy for templateID on provider by
// comparing measured performance against targets, applies it and stores the
// resulting variant. A nil history uses the recorded executions of the
// template on that provider; nil targets use the template's declared
// requirements.
func (l *Library) OptimizePrompt(templateID string, provider models.LLMProvider, history []models.PromptExecution, targets map[models.Metric]float64) (PromptOptimization, error) {
	t, err := l.Get(templateID)
	if err != nil {
		return PromptOptimization{}, err
	}
	if !l.reg.Has(provider) {
		return PromptOptimization{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if history == nil {
		history = l.Executions(ExecutionFilter{TemplateID: templateID, Provider: provider})
	}
	if len(targets) == 0 {
		targets = t.PerformanceRequirements
	}

	perf := MeasurePerformance(history)
	strategy, why := chooseStrategy(perf, targets, PreferredStrategy(l.reg, provider))

	optimized := ApplyStrategy(strategy, t.BaseText, t.ExpectedOutputFormat)
	if err := l.SetVariant(templateID, provider, strategy, optimized); err != nil {
		return PromptOptimization{}, err
	}

	improvements := make(map[models.Metric]float64, len(expectedImprovements[strategy]))
	for m, v := range expectedImprovements[strategy] {
		improvements[m] = v
	}
	return PromptOptimization{
		TemplateID:           templateID,
		Provider:             provider,
		Strategy:             strategy,
		OriginalText:         t.BaseText,
		OptimizedText:        optimized,
		ExpectedImprovements: improvements,
		Justification:        fmt.Sprintf("%s: applied %s (%s)", why, strategy, strategy.Describe()),
		CurrentPerformance:   perf.Metrics,
		Targets:              targets,
		SampleSize:           perf.SampleSize,
	}, nil
}

// chooseStrategy applies the rules in priority order: slow responses, then
// cost overruns, then weak accuracy or strategic value, then weak
// actionability or relevance. Otherwise the provider's preferred strategy
// is kept.
func chooseStrategy(perf Performance, targets map[models.Metric]float64, preferred VariantStrategy) (VariantStrategy, string) {
	if perf.SampleSize == 0 {
		return preferred, "no execution history, using the provider's strength"
	}
	over := func(m models.Metric) bool {
		target, ok := targets[m]
		v, measured := perf.Metrics[m]
		return ok && measured && target > 0 && v > target
	}
	under := func(m models.Metric) bool {
		target, ok := targets[m]
		v, measured := perf.Metrics[m]
		return ok && measured && v < target
	}
	describe := func(ms ...models.Metric) string {
		var parts []string
		for _, m := range ms {
			if over(m) || under(m) {
				parts = append(parts, fmt.Sprintf("%s %.3f vs target %.3f", m, perf.Metrics[m], targets[m]))
			}
		}
		return strings.Join(parts, ", ")
	}

	switch {
	case over(models.MetricResponseTime):
		return StrategySpeedOptimized, describe(models.MetricResponseTime)
	case over(models.MetricCost):
		return StrategyCostEfficient, describe(models.MetricCost)
	case under(models.MetricAccuracy) || under(models.MetricStrategicValue):
		return StrategyVerboseReasoning, describe(models.MetricAccuracy, models.MetricStrategicValue)
	case under(models.MetricActionability) || under(models.MetricRelevance):
		return StrategyStructuredOutput, describe(models.MetricActionability, models.MetricRelevance)
	default:
		return preferred, fmt.Sprintf("all targets met over %d executions, keeping the provider's strength", perf.SampleSize)
	}
}

// Template selection weights.
var selectionWeights = map[models.Metric]float64{
	models.MetricAccuracy:       0.3,
	models.MetricRelevance:      0.2,
	models.MetricActionability:  0.2,
	models.MetricStrategicValue: 0.2,
}

const (
	confidenceWeight   = 0.1
	untestedConfidence = 0.7
	fallbackConfidence = 0.5
)

// TemplateChoice is the result of GetOptimalTemplate.
type TemplateChoice struct {
	TemplateID string  `json:"template_id"`
	Confidence float64 `json:"confidence"`
	SampleSize int     `json:"sample_size"`
	Untested   bool    `json:"untested"`
	Fallback   bool    `json:"fallback"`
	Reason     string  `json:"reason"`
}

// GetOptimalTemplate ranks the templates of a category for a provider (any
// provider when empty). Measured candidates score
// 0.3·accuracy + 0.2·relevance + 0.2·actionability + 0.2·strategic_value +
// 0.1·success rate; untested candidates score 0.7. Candidates whose measured
// performance misses a requirement are excluded. When every candidate is
// excluded the first template of the category is returned with confidence 0.5.
func (l *Library) GetOptimalTemplate(category string, provider models.LLMProvider, requirements map[models.Metric]float64) (TemplateChoice, error) {
	ids := l.ByCategory(category)
	if len(ids) == 0 {
		return TemplateChoice{}, fmt.Errorf("%w: no templates in category %q", ErrTemplateNotFound, category)
	}

	var best *TemplateChoice
	for _, id := range ids {
		perf := MeasurePerformance(l.Executions(ExecutionFilter{TemplateID: id, Provider: provider}))
		choice := TemplateChoice{TemplateID: id, SampleSize: perf.SampleSize}

		if perf.SampleSize == 0 {
			choice.Untested = true
			choice.Confidence = untestedConfidence
			choice.Reason = "untested template, default confidence"
		} else {
			if miss := missedRequirement(perf, requirements); miss != "" {
				continue
			}
			score := confidenceWeight * perf.SuccessRate
			for _, m := range models.QualityMetrics {
				score += selectionWeights[m] * perf.Metrics[m]
			}
			choice.Confidence = clamp01(score)
			choice.Reason = fmt.Sprintf("weighted performance over %d executions", perf.SampleSize)
		}

		if best == nil || choice.Confidence > best.Confidence {
			c := choice
			best = &c
		}
	}

	if best == nil {
		return TemplateChoice{
			TemplateID: ids[0],
			Confidence: fallbackConfidence,
			Fallback:   true,
			Reason:     "no template meets the requirements, falling back to the first in the category",
		}, nil
	}
	return *best, nil
}

// missedRequirement returns the first metric whose measured value misses
// its requirement. Quality metrics are minimums; response_time and cost are
// maximums.
func missedRequirement(perf Performance, requirements map[models.Metric]float64) models.Metric {
	for m, req := range requirements {
		v, ok := perf.Metrics[m]
		if !ok {
			continue
		}
		switch m {
		case models.MetricResponseTime, models.MetricCost:
			if req > 0 && v > req {
				return m
			}
		default:
			if v < req {
				return m
			}
		}
	}
	return ""
}
