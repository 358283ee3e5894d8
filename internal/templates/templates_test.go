package templates

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

func newTestLibrary() *Library {
	return NewLibrary(registry.Default())
}

func scores(acc, rel, act, sv float64) map[models.Metric]float64 {
	return map[models.Metric]float64{
		models.MetricAccuracy:       acc,
		models.MetricRelevance:      rel,
		models.MetricActionability:  act,
		models.MetricStrategicValue: sv,
	}
}

func TestCatalogAndVariants(t *testing.T) {
	l := newTestLibrary()
	want := []string{"strategic_analysis", "competitive_analysis", "market_research", "rice_prioritization", "ice_prioritization", "executive_summary", "product_strategy"}
	list := l.List()
	if len(list) != len(want) {
		t.Fatalf("catalog size = %d, want %d", len(list), len(want))
	}
	for i, tmpl := range list {
		if tmpl.ID != want[i] {
			t.Errorf("catalog[%d] = %s, want %s", i, tmpl.ID, want[i])
		}
		if len(tmpl.Variants) != 4 {
			t.Errorf("%s: %d variants, want 4", tmpl.ID, len(tmpl.Variants))
		}
	}

	tmpl, err := l.Get("strategic_analysis")
	if err != nil {
		t.Fatal(err)
	}
	wantStrategies := map[models.LLMProvider]VariantStrategy{
		models.ProviderClaude:  StrategyVerboseReasoning,
		models.ProviderGPT4:    StrategyStructuredOutput,
		models.ProviderGemini:  StrategyCostEfficient,
		models.ProviderMistral: StrategySpeedOptimized,
	}
	for p, s := range wantStrategies {
		if got := tmpl.VariantStrategies[p]; got != s {
			t.Errorf("%s variant strategy = %s, want %s", p, got, s)
		}
	}
}

func TestTransforms(t *testing.T) {
	base := "Provide a comprehensive and detailed review. Comprehensive coverage matters."

	verbose := VerboseReasoning(base)
	if !strings.HasPrefix(verbose, "Think through this step by step") || !strings.Contains(verbose, "rate your confidence") {
		t.Errorf("verbose variant missing scaffold or self-assessment: %q", verbose)
	}

	structured := StructuredOutput(base, FormatJSON)
	if !strings.HasPrefix(structured, base) || !strings.Contains(structured, "single JSON object") {
		t.Errorf("structured variant missing JSON contract: %q", structured)
	}

	cheap := CostEfficient(base)
	if strings.Contains(strings.ToLower(cheap), "comprehensive") || strings.Contains(cheap, "detailed") {
		t.Errorf("cost-efficient variant kept verbose wording: %q", cheap)
	}
	if !strings.Contains(cheap, "focused and key review") || !strings.HasSuffix(cheap, "highest-impact points.") {
		t.Errorf("unexpected cost-efficient variant: %q", cheap)
	}

	fast := SpeedOptimized("Please   carefully review\n\n\nthe plan.")
	if fast != "review\nthe plan.\n\nProvide only the top 3 insights." {
		t.Errorf("unexpected speed variant: %q", fast)
	}
}

func TestTransformsPreserveTemplateActions(t *testing.T) {
	l := newTestLibrary()
	vars := map[string]string{"company": "Acme", "situation": "pricing pressure"}
	for _, p := range registry.Default().IDs() {
		out, err := l.Render("strategic_analysis", p, vars)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if !strings.Contains(out, "Acme") || strings.Contains(out, "{{") {
			t.Errorf("%s: variant did not render cleanly: %q", p, out)
		}
	}
}

func TestRender(t *testing.T) {
	l := newTestLibrary()

	out, err := l.Render("competitive_analysis", "", map[string]string{
		"company": "Acme", "market": "CRM", "competitors": "Globex, Initech",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "Acme in the CRM market") || strings.Contains(out, "Focus area") {
		t.Errorf("unexpected render: %q", out)
	}

	_, err = l.Render("competitive_analysis", "", map[string]string{"company": "Acme"})
	if !errors.Is(err, ErrMissingVariable) {
		t.Errorf("err = %v, want ErrMissingVariable", err)
	}
	if err != nil && !strings.Contains(err.Error(), "market, competitors") {
		t.Errorf("error should name the missing variables: %v", err)
	}

	if _, err := l.Render("nope", "", nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestRecordExecution_SuccessRate(t *testing.T) {
	l := newTestLibrary()
	outcomes := []bool{true, true, false, true}
	var stats models.TemplateStats
	for _, ok := range outcomes {
		var err error
		_, stats, err = l.RecordExecution(models.PromptExecution{
			TemplateID: "ice_prioritization", Provider: models.ProviderGPT4, Success: ok, Scores: scores(0.8, 0.8, 0.8, 0.8),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if stats.UsageCount != 4 || stats.SuccessRate != 0.75 {
		t.Errorf("stats = %+v, want 4 uses at 0.75", stats)
	}
	if got := len(l.Executions(ExecutionFilter{TemplateID: "ice_prioritization"})); got != 4 {
		t.Errorf("stored executions = %d, want 4", got)
	}
}

func TestRecordExecution_Rejects(t *testing.T) {
	l := newTestLibrary()
	tests := []struct {
		name string
		exec models.PromptExecution
		want error
	}{
		{"unknown template", models.PromptExecution{TemplateID: "nope"}, ErrTemplateNotFound},
		{"score out of range", models.PromptExecution{TemplateID: "market_research", Scores: scores(1.5, 0, 0, 0)}, ErrInvalidExecution},
		{"unknown provider", models.PromptExecution{TemplateID: "market_research", Provider: "llama"}, ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := l.RecordExecution(tt.exec); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExecutionLogBounded(t *testing.T) {
	l := newTestLibrary()
	l.maxExecs = 3
	for i := 0; i < 5; i++ {
		if _, _, err := l.RecordExecution(models.PromptExecution{TemplateID: "market_research", ID: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}
	got := l.Executions(ExecutionFilter{})
	if len(got) != 3 || got[0].ID != "c" || got[2].ID != "e" {
		t.Errorf("unexpected retained executions %+v", got)
	}
}

func TestConcurrentRecordExecution(t *testing.T) {
	l := newTestLibrary()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = l.RecordExecution(models.PromptExecution{TemplateID: "executive_summary", Success: i%2 == 0})
		}(i)
	}
	wg.Wait()
	tmpl, _ := l.Get("executive_summary")
	if tmpl.UsageCount != 50 {
		t.Errorf("usage count = %d, want 50", tmpl.UsageCount)
	}
	if tmpl.SuccessRate < 0 || tmpl.SuccessRate > 1 {
		t.Errorf("success rate %v outside [0,1]", tmpl.SuccessRate)
	}
}

func TestOptimizePrompt_Rules(t *testing.T) {
	exec := func(acc, rel, act, sv, secs, cost float64) models.PromptExecution {
		return models.PromptExecution{TemplateID: "strategic_analysis", Provider: models.ProviderGemini,
			Scores: scores(acc, rel, act, sv), ExecutionTime: secs, CostUSD: cost, Success: true}
	}
	targets := map[models.Metric]float64{
		models.MetricAccuracy: 0.8, models.MetricRelevance: 0.8, models.MetricActionability: 0.8,
		models.MetricStrategicValue: 0.8, models.MetricResponseTime: 10, models.MetricCost: 0.05,
	}
	tests := []struct {
		name    string
		history []models.PromptExecution
		want    VariantStrategy
	}{
		{"slow", []models.PromptExecution{exec(0.9, 0.9, 0.9, 0.9, 20, 0.01)}, StrategySpeedOptimized},
		{"expensive", []models.PromptExecution{exec(0.9, 0.9, 0.9, 0.9, 5, 0.10)}, StrategyCostEfficient},
		{"inaccurate", []models.PromptExecution{exec(0.6, 0.9, 0.9, 0.9, 5, 0.01)}, StrategyVerboseReasoning},
		{"not actionable", []models.PromptExecution{exec(0.9, 0.9, 0.5, 0.9, 5, 0.01)}, StrategyStructuredOutput},
		{"all met", []models.PromptExecution{exec(0.9, 0.9, 0.9, 0.9, 5, 0.01)}, StrategyCostEfficient},
		{"no history", []models.PromptExecution{}, StrategyCostEfficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLibrary()
			res, err := l.OptimizePrompt("strategic_analysis", models.ProviderGemini, tt.history, targets)
			if err != nil {
				t.Fatal(err)
			}
			if res.Strategy != tt.want {
				t.Errorf("strategy = %s, want %s (%s)", res.Strategy, tt.want, res.Justification)
			}
			if res.OptimizedText == res.OriginalText {
				t.Error("optimized text should differ from the base text")
			}
			tmpl, _ := l.Get("strategic_analysis")
			if tmpl.Variants[models.ProviderGemini] != res.OptimizedText {
				t.Error("optimized variant not stored")
			}
		})
	}
}

func TestOptimizePrompt_Errors(t *testing.T) {
	l := newTestLibrary()
	if _, err := l.OptimizePrompt("nope", models.ProviderClaude, nil, nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("err = %v, want ErrTemplateNotFound", err)
	}
	if _, err := l.OptimizePrompt("market_research", "llama", nil, nil); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestGetOptimalTemplate(t *testing.T) {
	l := newTestLibrary()
	l.SetClock(func() time.Time { return time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC) })

	// Untested candidates both score 0.7: the first in catalog order wins.
	choice, err := l.GetOptimalTemplate(CategoryPrioritization, models.ProviderGPT4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if choice.TemplateID != "rice_prioritization" || choice.Confidence != 0.7 || !choice.Untested {
		t.Errorf("untested choice = %+v", choice)
	}

	// ICE measured at 0.9 across the board beats untested RICE.
	for i := 0; i < 3; i++ {
		if _, _, err := l.RecordExecution(models.PromptExecution{TemplateID: "ice_prioritization", Provider: models.ProviderGPT4, Success: true, Scores: scores(0.9, 0.9, 0.9, 0.9)}); err != nil {
			t.Fatal(err)
		}
	}
	choice, err = l.GetOptimalTemplate(CategoryPrioritization, models.ProviderGPT4, nil)
	if err != nil {
		t.Fatal(err)
	}
	// 0.9*0.9 + 0.1*1.0
	if choice.TemplateID != "ice_prioritization" || choice.Confidence < 0.909 || choice.Confidence > 0.911 {
		t.Errorf("measured choice = %+v", choice)
	}

	// Requirements exclude ICE; RICE is untested and stays eligible.
	choice, err = l.GetOptimalTemplate(CategoryPrioritization, models.ProviderGPT4, map[models.Metric]float64{models.MetricAccuracy: 0.95})
	if err != nil {
		t.Fatal(err)
	}
	if choice.TemplateID != "rice_prioritization" {
		t.Errorf("expected rice after ice excluded, got %+v", choice)
	}

	// Single measured candidate excluded: fall back to the first with 0.5.
	if _, _, err := l.RecordExecution(models.PromptExecution{TemplateID: "executive_summary", Provider: models.ProviderGPT4, Success: true, Scores: scores(0.5, 0.5, 0.5, 0.5)}); err != nil {
		t.Fatal(err)
	}
	choice, err = l.GetOptimalTemplate(CategoryExecutiveSummary, models.ProviderGPT4, map[models.Metric]float64{models.MetricRelevance: 0.8})
	if err != nil {
		t.Fatal(err)
	}
	if !choice.Fallback || choice.Confidence != 0.5 || choice.TemplateID != "executive_summary" {
		t.Errorf("fallback choice = %+v", choice)
	}

	if _, err := l.GetOptimalTemplate("astrology", "", nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestLoadStats(t *testing.T) {
	l := newTestLibrary()
	l.LoadStats([]models.TemplateStats{
		{TemplateID: "market_research", UsageCount: 12, SuccessRate: 1.4, Variants: map[models.LLMProvider]string{models.ProviderClaude: "custom"}},
		{TemplateID: "unknown"},
	})
	tmpl, _ := l.Get("market_research")
	if tmpl.UsageCount != 12 || tmpl.SuccessRate != 1 || tmpl.Variants[models.ProviderClaude] != "custom" {
		t.Errorf("loaded stats not applied: %+v", tmpl.Stats())
	}
}

func TestGetOptimalTemplate_TiesAreStable(t *testing.T) {
	l := newTestLibrary()
	for _, id := range []string{"rice_prioritization", "ice_prioritization"} {
		for i := 0; i < 2; i++ {
			exec := models.PromptExecution{TemplateID: id, Provider: models.ProviderClaude, Success: true, Scores: scores(0.7, 0.1, 0.3, 0.9)}
			if _, _, err := l.RecordExecution(exec); err != nil {
				t.Fatal(err)
			}
		}
	}

	first, err := l.GetOptimalTemplate(CategoryPrioritization, models.ProviderClaude, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.TemplateID != "rice_prioritization" {
		t.Fatalf("tied choice = %s, want the first in catalog order", first.TemplateID)
	}
	for i := 0; i < 50; i++ {
		got, err := l.GetOptimalTemplate(CategoryPrioritization, models.ProviderClaude, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got.TemplateID != first.TemplateID || got.Confidence != first.Confidence {
			t.Fatalf("run %d: %s %v, want %s %v", i, got.TemplateID, got.Confidence, first.TemplateID, first.Confidence)
		}
	}
}
