// Package templates holds the prompt template catalog, the provider-specific
// variant generator and the execution history used to rank templates.
package templates

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

var (
	ErrTemplateNotFound = errors.New("templates: template not found")
	ErrMissingVariable  = errors.New("templates: missing required variable")
	ErrUnknownProvider  = errors.New("templates: unknown provider")
	ErrInvalidExecution = errors.New("templates: invalid execution")
)

// Template is a prompt template with its provider variants.
type Template struct {
	ID                      string                                 `json:"id"`
	Category                string                                 `json:"category"`
	Name                    string                                 `json:"name"`
	BaseText                string                                 `json:"base_text"`
	Variants                map[models.LLMProvider]string          `json:"variants"`
	VariantStrategies       map[models.LLMProvider]VariantStrategy `json:"variant_strategies"`
	RequiredVariables       []string                               `json:"required_variables"`
	OptionalVariables       []string                               `json:"optional_variables"`
	ExpectedOutputFormat    string                                 `json:"expected_output_format"`
	PerformanceRequirements map[models.Metric]float64              `json:"performance_requirements"`
	UsageCount              int64                                  `json:"usage_count"`
	SuccessRate             float64                                `json:"success_rate"`
	UpdatedAt               time.Time                              `json:"updated_at"`
}

func (t *Template) clone() Template {
	c := *t
	c.Variants = make(map[models.LLMProvider]string, len(t.Variants))
	for k, v := range t.Variants {
		c.Variants[k] = v
	}
	c.VariantStrategies = make(map[models.LLMProvider]VariantStrategy, len(t.VariantStrategies))
	for k, v := range t.VariantStrategies {
		c.VariantStrategies[k] = v
	}
	c.RequiredVariables = append([]string(nil), t.RequiredVariables...)
	c.OptionalVariables = append([]string(nil), t.OptionalVariables...)
	c.PerformanceRequirements = make(map[models.Metric]float64, len(t.PerformanceRequirements))
	for k, v := range t.PerformanceRequirements {
		c.PerformanceRequirements[k] = v
	}
	return c
}

// Stats returns the persisted part of the template.
func (t *Template) Stats() models.TemplateStats {
	variants := make(map[models.LLMProvider]string, len(t.Variants))
	for k, v := range t.Variants {
		variants[k] = v
	}
	return models.TemplateStats{
		TemplateID:  t.ID,
		UsageCount:  t.UsageCount,
		SuccessRate: t.SuccessRate,
		Variants:    variants,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Library is the concurrent template catalog plus execution log.
type Library struct {
	reg *registry.Registry
	now func() time.Time

	mu        sync.RWMutex
	templates map[string]*Template
	order     []string // catalog order
	execs     []models.PromptExecution
	maxExecs  int
}

// DefaultMaxExecutions bounds the in-memory execution log.
const DefaultMaxExecutions = 10000

// NewLibrary builds the catalog and generates one variant per registered
// provider for every template.
func NewLibrary(reg *registry.Registry) *Library {
	l := &Library{
		reg:       reg,
		now:       time.Now,
		templates: make(map[string]*Template),
		maxExecs:  DefaultMaxExecutions,
	}
	for _, t := range catalog() {
		t := t
		l.templates[t.ID] = &t
		l.order = append(l.order, t.ID)
	}
	l.GenerateVariants()
	return l
}

// SetClock overrides the time source. Intended for tests.
func (l *Library) SetClock(now func() time.Time) {
	l.now = now
}

// GenerateVariants (re)builds every provider variant from the base texts
// using the strategy that matches each provider's strength.
func (l *Library) GenerateVariants() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.order {
		t := l.templates[id]
		t.Variants = make(map[models.LLMProvider]string)
		t.VariantStrategies = make(map[models.LLMProvider]VariantStrategy)
		for _, p := range l.reg.All() {
			s := PreferredStrategy(l.reg, p.ID)
			t.Variants[p.ID] = ApplyStrategy(s, t.BaseText, t.ExpectedOutputFormat)
			t.VariantStrategies[p.ID] = s
		}
	}
}

// Get returns a copy of the template.
func (l *Library) Get(id string) (Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	return t.clone(), nil
}

// Has reports whether id is in the catalog.
func (l *Library) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.templates[id]
	return ok
}

// List returns every template in catalog order.
func (l *Library) List() []Template {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Template, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.templates[id].clone())
	}
	return out
}

// Categories returns the distinct categories, sorted.
func (l *Library) Categories() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range l.order {
		c := l.templates[id].Category
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// ByCategory returns the ids of templates in a category, in catalog order.
func (l *Library) ByCategory(category string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var ids []string
	for _, id := range l.order {
		if l.templates[id].Category == category {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetVariant replaces one provider variant.
func (l *Library) SetVariant(templateID string, provider models.LLMProvider, s VariantStrategy, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.templates[templateID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, templateID)
	}
	t.Variants[provider] = text
	t.VariantStrategies[provider] = s
	t.UpdatedAt = l.now()
	return nil
}

// Render fills the template (the provider variant when one exists, the base
// text otherwise) with vars. Every required variable must be present and
// non-empty; missing optional variables render as empty strings.
func (l *Library) Render(templateID string, provider models.LLMProvider, vars map[string]string) (string, error) {
	l.mu.RLock()
	t, ok := l.templates[templateID]
	if !ok {
		l.mu.RUnlock()
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, templateID)
	}
	text := t.BaseText
	if v, ok := t.Variants[provider]; ok && provider != "" {
		text = v
	}
	required := append([]string(nil), t.RequiredVariables...)
	l.mu.RUnlock()

	var missing []string
	for _, name := range required {
		if strings.TrimSpace(vars[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}

	tmpl, err := template.New(templateID).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("templates: parsing %q: %w", templateID, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("templates: rendering %q: %w", templateID, err)
	}
	return b.String(), nil
}

// LoadStats applies persisted usage counters and variants.
func (l *Library) LoadStats(stats []models.TemplateStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range stats {
		t, ok := l.templates[s.TemplateID]
		if !ok {
			continue
		}
		t.UsageCount = s.UsageCount
		t.SuccessRate = clamp01(s.SuccessRate)
		t.UpdatedAt = s.UpdatedAt
		for p, text := range s.Variants {
			if text != "" {
				t.Variants[p] = text
			}
		}
	}
}
