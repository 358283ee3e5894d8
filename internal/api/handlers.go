// Package api implements the REST API endpoints over the optimization engine.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/abtest"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/engine"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/ledger"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/templates"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// Handlers provides REST API endpoint handlers.
type Handlers struct {
	engine *engine.Engine
	deps   map[string]bool
}

// NewHandlers creates a new Handlers instance. deps reports the availability
// of optional backing services (database, redis) on the health endpoint.
func NewHandlers(eng *engine.Engine, deps map[string]bool) *Handlers {
	return &Handlers{engine: eng, deps: deps}
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"service":      "strategos",
		"version":      "0.1.0",
		"dependencies": h.deps,
	})
}

// writeError maps engine errors to HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, templates.ErrTemplateNotFound), errors.Is(err, abtest.ErrTestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, router.ErrNoEligibleProvider), errors.Is(err, ledger.ErrNoUsageData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrUnknownProvider), errors.Is(err, ledger.ErrInvalidUsage),
		errors.Is(err, templates.ErrUnknownProvider), errors.Is(err, templates.ErrMissingVariable),
		errors.Is(err, templates.ErrInvalidExecution), errors.Is(err, abtest.ErrInvalidTest):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// OptimizeRequestBody is the request body for a routing decision.
type OptimizeRequestBody struct {
	TaskType            string                     `json:"task_type" binding:"required"`
	Content             string                     `json:"content"`
	QualityRequirements *analyzer.QualityOverrides `json:"quality_requirements"`
	Strategy            string                     `json:"strategy"`
	MaxCostUSD          float64                    `json:"max_cost_usd"`
}

// OptimizeRequest returns the recommended provider for one request.
func (h *Handlers) OptimizeRequest(c *gin.Context) {
	var req OptimizeRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	strategy, ok := h.parseStrategy(c, req.Strategy)
	if !ok {
		return
	}
	if req.MaxCostUSD < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_cost_usd must not be negative"})
		return
	}

	rec, err := h.engine.OptimizeRequest(router.RouteRequest{
		TaskType:   req.TaskType,
		Content:    req.Content,
		Quality:    req.QualityRequirements,
		Strategy:   strategy,
		MaxCostUSD: req.MaxCostUSD,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// BatchOptimizeBody is the request body for batch routing.
type BatchOptimizeBody struct {
	Requests []engine.BatchItem `json:"requests" binding:"required"`
	Strategy string             `json:"strategy"`
}

// maxBatchSize caps a single batch.
const maxBatchSize = 1000

// BatchOptimize routes a batch of requests with one strategy.
func (h *Handlers) BatchOptimize(c *gin.Context) {
	var req BatchOptimizeBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Requests) == 0 || len(req.Requests) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requests must contain between 1 and 1000 items"})
		return
	}
	strategy, ok := h.parseStrategy(c, req.Strategy)
	if !ok {
		return
	}

	res, err := h.engine.BatchOptimize(c.Request.Context(), req.Requests, strategy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) parseStrategy(c *gin.Context, s string) (router.RoutingStrategy, bool) {
	if s == "" {
		return h.engine.DefaultStrategy(), true
	}
	strategy, err := router.ParseStrategy(s)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return strategy, true
}

// TrackUsage records the outcome of a completed provider call.
func (h *Handlers) TrackUsage(c *gin.Context) {
	var req ledger.Usage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.engine.TrackUsage(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// GetUsagePatterns summarizes recent usage. Query params: days (default 7).
func (h *Handlers) GetUsagePatterns(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 || days > 365 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer between 1 and 365"})
		return
	}
	report, err := h.engine.AnalyzeUsagePatterns(days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetCostReport returns the cost report. Query params: period (daily|weekly|monthly).
func (h *Handlers) GetCostReport(c *gin.Context) {
	period, err := budget.ParsePeriod(c.DefaultQuery("period", "monthly"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := h.engine.GenerateCostReport(period)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetBudget returns the state of every budget period.
func (h *Handlers) GetBudget(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Budget().Snapshot())
}

// GetBudgetAlerts returns the active threshold crossings.
func (h *Handlers) GetBudgetAlerts(c *gin.Context) {
	alerts := h.engine.Budget().CheckAlerts()
	c.JSON(http.StatusOK, gin.H{"count": len(alerts), "data": alerts})
}

// GetInsights returns cost spikes and provider-switch suggestions.
func (h *Handlers) GetInsights(c *gin.Context) {
	insights := h.engine.Insights()
	c.JSON(http.StatusOK, gin.H{"count": len(insights), "data": insights})
}

// ListProviders returns the provider registry.
func (h *Handlers) ListProviders(c *gin.Context) {
	providers := h.engine.Registry().All()
	c.JSON(http.StatusOK, gin.H{"count": len(providers), "data": providers})
}

// OptimizePromptBody is the request body for prompt optimization.
type OptimizePromptBody struct {
	TemplateID string                    `json:"template_id" binding:"required"`
	Provider   models.LLMProvider        `json:"provider" binding:"required"`
	History    []models.PromptExecution  `json:"history"`
	Targets    map[models.Metric]float64 `json:"targets"`
}

// OptimizePrompt stores a provider variant for a template.
func (h *Handlers) OptimizePrompt(c *gin.Context) {
	var req OptimizePromptBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.engine.OptimizePrompt(req.TemplateID, req.Provider, req.History, req.Targets)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetOptimalTemplate picks a template. Query params: category (required),
// provider, and one optional numeric requirement per metric name.
func (h *Handlers) GetOptimalTemplate(c *gin.Context) {
	category := c.Query("category")
	if category == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
		return
	}
	requirements := make(map[models.Metric]float64)
	for _, m := range append(append([]models.Metric(nil), models.QualityMetrics...), models.MetricResponseTime, models.MetricCost) {
		raw := c.Query(string(m))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid requirement " + string(m)})
			return
		}
		requirements[m] = v
	}

	choice, err := h.engine.GetOptimalTemplate(category, models.LLMProvider(c.Query("provider")), requirements)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, choice)
}

// ListTemplates returns the template catalog. Query params: category.
func (h *Handlers) ListTemplates(c *gin.Context) {
	lib := h.engine.Templates()
	all := lib.List()
	if category := c.Query("category"); category != "" {
		filtered := all[:0]
		for _, t := range all {
			if t.Category == category {
				filtered = append(filtered, t)
			}
		}
		all = filtered
	}
	c.JSON(http.StatusOK, gin.H{"count": len(all), "categories": lib.Categories(), "data": all})
}

// RecordExecution stores a prompt execution.
func (h *Handlers) RecordExecution(c *gin.Context) {
	var req models.PromptExecution
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TemplateID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template_id is required"})
		return
	}
	exec, err := h.engine.RecordExecution(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exec)
}

// CreateABTestBody is the request body for opening an A/B test.
type CreateABTestBody struct {
	VariantA      string          `json:"variant_a" binding:"required"`
	VariantB      string          `json:"variant_b" binding:"required"`
	DurationHours float64         `json:"duration_hours"`
	TargetMetrics []models.Metric `json:"target_metrics"`
	MinSampleSize int             `json:"min_sample_size"`
}

// CreateABTest opens a comparison window between two templates.
func (h *Handlers) CreateABTest(c *gin.Context) {
	var req CreateABTestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	test, err := h.engine.CreateABTest(req.VariantA, req.VariantB, abtest.Options{
		Duration:      time.Duration(req.DurationHours * float64(time.Hour)),
		TargetMetrics: req.TargetMetrics,
		MinSampleSize: req.MinSampleSize,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, test)
}

// ListABTests returns every A/B test, newest first.
func (h *Handlers) ListABTests(c *gin.Context) {
	tests := h.engine.ListABTests()
	c.JSON(http.StatusOK, gin.H{"count": len(tests), "data": tests})
}

// AnalyzeABTest returns the analysis of one test.
func (h *Handlers) AnalyzeABTest(c *gin.Context) {
	res, err := h.engine.AnalyzeABTest(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
