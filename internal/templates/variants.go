package templates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// VariantStrategy names a deterministic base-text transform.
type VariantStrategy string

const (
	StrategyVerboseReasoning VariantStrategy = "verbose_reasoning"
	StrategyStructuredOutput VariantStrategy = "structured_output"
	StrategyCostEfficient    VariantStrategy = "cost_efficient"
	StrategySpeedOptimized   VariantStrategy = "speed_optimized"
)

// PreferredStrategy picks the transform matching a provider's strength: the
// highest-quality provider reasons verbosely, providers tagged for
// structured outputs get a schema contract, the fastest gets the speed
// variant and everything else the cost-efficient one.
func PreferredStrategy(reg *registry.Registry, id models.LLMProvider) VariantStrategy {
	p, ok := reg.Get(id)
	switch {
	case !ok:
		return StrategyCostEfficient
	case reg.HighestQuality().ID == id:
		return StrategyVerboseReasoning
	case p.HasUseCase(models.UseCaseStructuredOutputs):
		return StrategyStructuredOutput
	case reg.Fastest().ID == id:
		return StrategySpeedOptimized
	default:
		return StrategyCostEfficient
	}
}

// ApplyStrategy transforms base text with strategy s.
func ApplyStrategy(s VariantStrategy, base, outputFormat string) string {
	switch s {
	case StrategyVerboseReasoning:
		return VerboseReasoning(base)
	case StrategyStructuredOutput:
		return StructuredOutput(base, outputFormat)
	case StrategySpeedOptimized:
		return SpeedOptimized(base)
	default:
		return CostEfficient(base)
	}
}

const reasoningScaffold = `Think through this step by step before answering:
1. Restate the core question and the decision it informs.
2. List the facts and assumptions you are relying on.
3. Reason through each option and its second-order effects.
4. Only then write the final answer.

`

const confidenceRequest = `

After your answer, rate your confidence in each major conclusion from 1 to 10 and state what evidence would change it.`

// VerboseReasoning wraps the text in a step-by-step scaffold and asks for a
// confidence self-assessment.
func VerboseReasoning(base string) string {
	return reasoningScaffold + base + confidenceRequest
}

// StructuredOutput appends a strict output contract for the format.
func StructuredOutput(base, format string) string {
	var contract string
	switch format {
	case FormatJSON:
		contract = `Respond with a single JSON object and nothing else. Use exactly these keys:
{"summary": string, "findings": [string], "recommendations": [{"action": string, "impact": "high"|"medium"|"low", "owner": string}], "risks": [string]}`
	case FormatTable:
		contract = `Respond with a Markdown table whose columns are: Item | Assessment | Impact | Recommendation.
Follow the table with at most three bullet points of conclusions. Do not add any other prose.`
	default:
		contract = `Respond in Markdown using exactly these headings in order:
## Summary
## Findings
## Recommendations
## Risks
Every recommendation must name an owner and an expected impact.`
	}
	return base + "\n\nOutput contract:\n" + contract
}

var brevityReplacer = strings.NewReplacer(
	"comprehensive", "focused",
	"Comprehensive", "Focused",
	"detailed", "key",
	"Detailed", "Key",
	"thorough", "concise",
	"Thorough", "Concise",
	"in-depth", "targeted",
	"In-depth", "Targeted",
)

const topImpactRequest = "\n\nFocus only on the highest-impact points."

// CostEfficient rewrites the text for brevity and asks for top-impact points.
func CostEfficient(base string) string {
	return brevityReplacer.Replace(base) + topImpactRequest
}

var (
	fillerReplacer = strings.NewReplacer(
		"please ", "",
		"Please ", "",
		"carefully ", "",
		"very ", "",
		"really ", "",
		" the following", "",
	)
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankLines      = regexp.MustCompile(`\n{2,}`)
)

// SpeedOptimized compresses the brief wording further and asks for the top
// three insights only.
func SpeedOptimized(base string) string {
	text := fillerReplacer.Replace(brevityReplacer.Replace(base))
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text) + "\n\nProvide only the top 3 insights."
}

// Describe returns a one-line description of a strategy.
func (s VariantStrategy) Describe() string {
	switch s {
	case StrategyVerboseReasoning:
		return "step-by-step reasoning scaffold with confidence self-assessment"
	case StrategyStructuredOutput:
		return "strict output schema contract"
	case StrategyCostEfficient:
		return "brevity rewrite focused on highest-impact points"
	case StrategySpeedOptimized:
		return "compressed wording limited to the top 3 insights"
	default:
		return fmt.Sprintf("unknown strategy %q", string(s))
	}
}
