package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up all API routes on the given Gin engine.
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		// Routing
		v1.POST("/optimize", h.OptimizeRequest)
		v1.POST("/optimize/batch", h.BatchOptimize)
		v1.GET("/providers", h.ListProviders)

		// Usage and cost
		v1.POST("/usage", h.TrackUsage)
		v1.GET("/usage/patterns", h.GetUsagePatterns)
		v1.GET("/reports/cost", h.GetCostReport)
		v1.GET("/insights", h.GetInsights)

		budgets := v1.Group("/budget")
		{
			budgets.GET("", h.GetBudget)
			budgets.GET("/alerts", h.GetBudgetAlerts)
		}

		// Prompt templates
		v1.POST("/prompts/optimize", h.OptimizePrompt)
		v1.GET("/templates", h.ListTemplates)
		v1.GET("/templates/optimal", h.GetOptimalTemplate)
		v1.POST("/executions", h.RecordExecution)

		abtests := v1.Group("/abtests")
		{
			abtests.GET("", h.ListABTests)
			abtests.POST("", h.CreateABTest)
			abtests.GET("/:id/analysis", h.AnalyzeABTest)
		}
	}
}
