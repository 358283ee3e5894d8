// Package engine wires the registry, analyzer, router, budget tracker,
// usage ledger, template library, A/B coordinator and reporting into the
// single service object that callers and the HTTP layer use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/abtest"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/routecache"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/store"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/templates"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// persistTimeout bounds each write-behind call.
const persistTimeout = 5 * time.Second

// Config configures an Engine. Zero values select defaults.
type Config struct {
	Registry        *registry.Registry
	Budget          budget.Config
	Baseline        models.LLMProvider
	DefaultStrategy router.RoutingStrategy
	LedgerCapacity  int

	// Mirror shares budget counters through Redis. Optional.
	Mirror budget.SpendMirror
	// Store persists history. nil keeps everything in memory.
	Store store.Store
	// Now overrides the clock. Intended for tests.
	Now func() time.Time
}

// Engine is the optimization service.
type Engine struct {
	reg             *registry.Registry
	budget          *budget.Tracker
	ledger          *ledger.Ledger
	router          *router.Router
	templates       *templates.Library
	abtests         *abtest.Coordinator
	reporter        *analytics.Reporter
	store           store.Store
	hasMirror       bool
	defaultStrategy router.RoutingStrategy
	now             func() time.Time

	pending sync.WaitGroup
}

// New builds an Engine and all of its components.
func New(cfg Config) *Engine {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	strategy := cfg.DefaultStrategy
	if strategy == "" {
		strategy = router.StrategyBalance
	}

	budgetOpts := []budget.Option{budget.WithClock(now)}
	if cfg.Mirror != nil {
		budgetOpts = append(budgetOpts, budget.WithMirror(cfg.Mirror))
	}
	tracker := budget.NewTracker(cfg.Budget, budgetOpts...)

	led := ledger.New(reg, tracker, cfg.LedgerCapacity)
	led.SetClock(now)

	routerOpts := []router.Option{router.WithHistory(led), router.WithBudgetPressure(tracker)}
	if cfg.Baseline != "" {
		routerOpts = append(routerOpts, router.WithBaseline(cfg.Baseline))
	}
	rt := router.NewRouter(reg, routerOpts...)

	lib := templates.NewLibrary(reg)
	lib.SetClock(now)

	coord := abtest.NewCoordinator(lib)
	coord.SetClock(now)

	rep := analytics.NewReporter(led, tracker, rt, reg)
	rep.SetClock(now)

	return &Engine{
		reg:             reg,
		budget:          tracker,
		ledger:          led,
		router:          rt,
		templates:       lib,
		abtests:         coord,
		reporter:        rep,
		store:           cfg.Store,
		hasMirror:       cfg.Mirror != nil,
		defaultStrategy: strategy,
		now:             now,
	}
}

// Registry returns the provider registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Budget returns the budget tracker.
func (e *Engine) Budget() *budget.Tracker { return e.budget }

// Templates returns the template library.
func (e *Engine) Templates() *templates.Library { return e.templates }

// DefaultStrategy returns the strategy used when a request names none.
func (e *Engine) DefaultStrategy() router.RoutingStrategy { return e.defaultStrategy }

// CacheStats reports routing cache effectiveness.
func (e *Engine) CacheStats() routecache.Stats { return e.router.CacheStats() }

// OptimizeRequest routes one request.
func (e *Engine) OptimizeRequest(req router.RouteRequest) (router.Recommendation, error) {
	if req.Strategy == "" {
		req.Strategy = e.defaultStrategy
	}
	rec, err := e.router.Route(req)
	if err != nil {
		return router.Recommendation{}, fmt.Errorf("engine: optimize request: %w", err)
	}
	return rec, nil
}

// TrackUsage records a completed request and writes it behind to the store.
func (e *Engine) TrackUsage(u ledger.Usage) (models.UsageRecord, error) {
	rec, err := e.ledger.TrackUsage(u)
	if err != nil && rec.RequestID == "" {
		return models.UsageRecord{}, fmt.Errorf("engine: track usage: %w", err)
	}
	if err != nil {
		// The record is in the ledger; only the budget update failed.
		log.Printf("engine: usage %s recorded without budget update: %v", rec.RequestID, err)
	}
	e.persist("save usage", func(ctx context.Context, s store.Store) error {
		return s.SaveUsage(ctx, rec)
	})
	return rec, nil
}

// AnalyzeUsagePatterns summarizes the last days days of usage.
func (e *Engine) AnalyzeUsagePatterns(days int) (ledger.UsageReport, error) {
	report, err := e.ledger.AnalyzeUsagePatterns(days)
	if err != nil {
		return ledger.UsageReport{}, fmt.Errorf("engine: analyze usage: %w", err)
	}
	return report, nil
}

// GenerateCostReport builds the cost report for a period.
func (e *Engine) GenerateCostReport(period budget.Period) (analytics.CostReport, error) {
	return e.reporter.GenerateCostReport(period)
}

// Insights returns the current spike and provider-switch insights.
func (e *Engine) Insights() []analytics.Insight {
	return e.reporter.Insights()
}

// OptimizePrompt chooses and stores a variant for a template on a provider.
func (e *Engine) OptimizePrompt(templateID string, provider models.LLMProvider, history []models.PromptExecution, targets map[models.Metric]float64) (templates.PromptOptimization, error) {
	res, err := e.templates.OptimizePrompt(templateID, provider, history, targets)
	if err != nil {
		return templates.PromptOptimization{}, fmt.Errorf("engine: optimize prompt: %w", err)
	}
	if t, err := e.templates.Get(templateID); err == nil {
		stats := t.Stats()
		e.persist("save template stats", func(ctx context.Context, s store.Store) error {
			return s.SaveTemplateStats(ctx, stats)
		})
	}
	return res, nil
}

// GetOptimalTemplate picks the best template of a category for a provider.
func (e *Engine) GetOptimalTemplate(category string, provider models.LLMProvider, requirements map[models.Metric]float64) (templates.TemplateChoice, error) {
	if provider != "" && !e.reg.Has(provider) {
		return templates.TemplateChoice{}, fmt.Errorf("engine: optimal template: %w: %q", templates.ErrUnknownProvider, provider)
	}
	choice, err := e.templates.GetOptimalTemplate(category, provider, requirements)
	if err != nil {
		return templates.TemplateChoice{}, fmt.Errorf("engine: optimal template: %w", err)
	}
	return choice, nil
}

// RecordExecution stores a prompt execution and the updated template stats.
func (e *Engine) RecordExecution(exec models.PromptExecution) (models.PromptExecution, error) {
	stored, stats, err := e.templates.RecordExecution(exec)
	if err != nil {
		return models.PromptExecution{}, fmt.Errorf("engine: record execution: %w", err)
	}
	e.persist("save execution", func(ctx context.Context, s store.Store) error {
		if err := s.SaveExecution(ctx, stored); err != nil {
			return err
		}
		return s.SaveTemplateStats(ctx, stats)
	})
	return stored, nil
}

// CreateABTest opens a comparison between two templates.
func (e *Engine) CreateABTest(variantA, variantB string, opts abtest.Options) (models.ABTest, error) {
	test, err := e.abtests.CreateTest(variantA, variantB, opts)
	if err != nil {
		return models.ABTest{}, fmt.Errorf("engine: create ab test: %w", err)
	}
	e.persist("save ab test", func(ctx context.Context, s store.Store) error {
		return s.SaveABTest(ctx, test)
	})
	return test, nil
}

// AnalyzeABTest compares the variants of a test.
func (e *Engine) AnalyzeABTest(id string) (abtest.Result, error) {
	res, err := e.abtests.Analyze(id)
	if err != nil {
		return abtest.Result{}, fmt.Errorf("engine: analyze ab test: %w", err)
	}
	return res, nil
}

// ListABTests returns every test, newest first.
func (e *Engine) ListABTests() []models.ABTest {
	return e.abtests.ListTests()
}

// LoadHistory restores persisted state. Without a Redis mirror the budget
// counters are rebuilt from the loaded usage records.
func (e *Engine) LoadHistory(ctx context.Context) error {
	if e.hasMirror {
		if err := e.budget.Restore(ctx); err != nil {
			log.Printf("engine: budget restore from redis failed: %v", err)
		}
	}
	if e.store == nil {
		return nil
	}

	// 31 days covers every budget period and the monthly cost report.
	since := e.now().AddDate(0, 0, -31)

	var errs []error
	usage, err := e.store.ListUsage(ctx, since, e.ledger.Capacity())
	if err != nil {
		errs = append(errs, err)
	} else {
		e.ledger.Load(usage)
		if !e.hasMirror {
			spends := make([]budget.Spend, len(usage))
			for i, r := range usage {
				spends[i] = budget.Spend{At: r.Timestamp, CostUSD: r.TotalCostUSD}
			}
			e.budget.Seed(spends)
		}
	}

	if stats, err := e.store.ListTemplateStats(ctx); err != nil {
		errs = append(errs, err)
	} else {
		e.templates.LoadStats(stats)
	}

	if execs, err := e.store.ListExecutions(ctx, templates.DefaultMaxExecutions); err != nil {
		errs = append(errs, err)
	} else {
		e.templates.LoadExecutions(execs)
	}

	if tests, err := e.store.ListABTests(ctx); err != nil {
		errs = append(errs, err)
	} else {
		e.abtests.Load(tests)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("engine: load history: %w", err)
	}
	log.Printf("engine: loaded %d usage records from store", len(usage))
	return nil
}

// RunRollover resets budget periods on schedule until ctx is cancelled.
func (e *Engine) RunRollover(ctx context.Context, interval time.Duration) {
	e.budget.Run(ctx, interval)
}

// persist writes behind to the store. Failures are logged; in-memory state
// stays authoritative.
func (e *Engine) persist(op string, fn func(ctx context.Context, s store.Store) error) {
	if e.store == nil {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		store.LogErr(op, fn(ctx, e.store))
	}()
}

// Flush waits for outstanding store writes and budget mirror updates.
func (e *Engine) Flush() {
	e.pending.Wait()
	e.budget.Flush()
}
