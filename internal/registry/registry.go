// Package registry holds the static table of provider profiles.
//
// The registry is built once at start-up from a default table, optionally
// overridden per deployment by a YAML file, and is read-only afterwards so
// it can be shared by concurrent scorers without locking.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// Registry is an immutable set of provider profiles keyed by provider id.
type Registry struct {
	profiles map[models.LLMProvider]models.ProviderProfile
	order    []models.LLMProvider
}

// New builds a registry from the given profiles. Later rows with the same id
// replace earlier ones.
func New(profiles []models.ProviderProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[models.LLMProvider]models.ProviderProfile, len(profiles))}
	for _, p := range profiles {
		if err := validate(p); err != nil {
			return nil, err
		}
		r.profiles[p.ID] = p
	}
	if len(r.profiles) == 0 {
		return nil, fmt.Errorf("registry: no providers configured")
	}
	for id := range r.profiles {
		r.order = append(r.order, id)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return r, nil
}

// Default returns the registry built from the default provider table.
func Default() *Registry {
	r, err := New(DefaultProfiles())
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile returns a registry of the default table overridden by the YAML
// provider list at path. Rows override defaults by id; unknown ids are added.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}
	var file struct {
		Providers []models.ProviderProfile `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("registry: parsing %s: %w", path, err)
	}
	return New(append(DefaultProfiles(), file.Providers...))
}

func validate(p models.ProviderProfile) error {
	switch {
	case p.ID == "":
		return fmt.Errorf("registry: provider id is required")
	case p.CostPer1KInput < 0 || p.CostPer1KOutput < 0:
		return fmt.Errorf("registry: provider %s: rates must be non-negative", p.ID)
	case p.QualityScore < 0 || p.QualityScore > 10:
		return fmt.Errorf("registry: provider %s: quality_score must be in [0,10]", p.ID)
	case p.ReliabilityScore < 0 || p.ReliabilityScore > 10:
		return fmt.Errorf("registry: provider %s: reliability_score must be in [0,10]", p.ID)
	case p.AvgLatencySeconds <= 0:
		return fmt.Errorf("registry: provider %s: avg_latency_seconds must be positive", p.ID)
	}
	return nil
}

// Get returns the profile for id.
func (r *Registry) Get(id models.LLMProvider) (models.ProviderProfile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id models.LLMProvider) bool {
	_, ok := r.profiles[id]
	return ok
}

// IDs returns the registered provider ids in stable order.
func (r *Registry) IDs() []models.LLMProvider {
	out := make([]models.LLMProvider, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every profile in stable id order.
func (r *Registry) All() []models.ProviderProfile {
	out := make([]models.ProviderProfile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// EstimateCost prices a request of the given token volume on provider id.
// Unknown providers cost zero.
func (r *Registry) EstimateCost(id models.LLMProvider, inputTokens, outputTokens float64) float64 {
	p, ok := r.profiles[id]
	if !ok {
		return 0
	}
	return CostFor(p, inputTokens, outputTokens)
}

// CostFor prices a token volume against a profile's per-1K rates.
func CostFor(p models.ProviderProfile, inputTokens, outputTokens float64) float64 {
	return inputTokens/1000*p.CostPer1KInput + outputTokens/1000*p.CostPer1KOutput
}

// Cheapest returns the provider with the lowest blended per-1K rate.
func (r *Registry) Cheapest() models.ProviderProfile {
	return r.best(func(a, b models.ProviderProfile) bool {
		return a.CostPer1KInput+a.CostPer1KOutput < b.CostPer1KInput+b.CostPer1KOutput
	})
}

// Fastest returns the provider with the lowest average latency.
func (r *Registry) Fastest() models.ProviderProfile {
	return r.best(func(a, b models.ProviderProfile) bool {
		return a.AvgLatencySeconds < b.AvgLatencySeconds
	})
}

// HighestQuality returns the provider with the highest quality score.
func (r *Registry) HighestQuality() models.ProviderProfile {
	return r.best(func(a, b models.ProviderProfile) bool {
		return a.QualityScore > b.QualityScore
	})
}

func (r *Registry) best(better func(a, b models.ProviderProfile) bool) models.ProviderProfile {
	var best models.ProviderProfile
	for i, id := range r.order {
		p := r.profiles[id]
		if i == 0 || better(p, best) {
			best = p
		}
	}
	return best
}

// DefaultProfiles returns the built-in provider table.
func DefaultProfiles() []models.ProviderProfile {
	return []models.ProviderProfile{
		{
			ID: models.ProviderClaude, DisplayName: "Claude Opus",
			CostPer1KInput: 0.015, CostPer1KOutput: 0.075,
			AvgLatencySeconds: 2.5, QualityScore: 9.5, ReliabilityScore: 9.0,
			MaxTokens: 4096, ContextWindow: 200000,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			BestUseCases: []string{models.UseCaseStrategicReasoning, models.UseCaseCreativeSolutions, "long_form_analysis"},
			Limitations:  []string{"higher_cost", "higher_latency"},
		},
		{
			ID: models.ProviderGPT4, DisplayName: "GPT-4",
			CostPer1KInput: 0.010, CostPer1KOutput: 0.030,
			AvgLatencySeconds: 2.0, QualityScore: 9.0, ReliabilityScore: 8.8,
			MaxTokens: 4096, ContextWindow: 128000,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			BestUseCases: []string{models.UseCaseStructuredOutputs, "function_calling", "code_generation"},
			Limitations:  []string{"moderate_cost"},
		},
		{
			ID: models.ProviderGemini, DisplayName: "Gemini Pro",
			CostPer1KInput: 0.00125, CostPer1KOutput: 0.005,
			AvgLatencySeconds: 1.5, QualityScore: 8.0, ReliabilityScore: 8.5,
			MaxTokens: 8192, ContextWindow: 1000000,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			BestUseCases: []string{"cost_efficiency", "large_context", "multimodal"},
			Limitations:  []string{"variable_depth"},
		},
		{
			ID: models.ProviderMistral, DisplayName: "Mistral Small",
			CostPer1KInput: 0.0002, CostPer1KOutput: 0.0006,
			AvgLatencySeconds: 0.8, QualityScore: 7.5, ReliabilityScore: 8.0,
			MaxTokens: 4096, ContextWindow: 32000,
			SupportsStreaming: true, SupportsFunctionCalling: false,
			BestUseCases: []string{models.UseCaseSpeed, "classification", "simple_tasks"},
			Limitations:  []string{"limited_reasoning"},
		},
	}
}
