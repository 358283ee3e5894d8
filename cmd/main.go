package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/api"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/engine"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/internal/store"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/database"
	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  Strategos - AI Request Optimization Engine")
	fmt.Println("==============================================")

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	strategy, err := router.ParseStrategy(cfg.DefaultStrategy)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	fmt.Printf("Starting server on port %s...\n", cfg.Port)

	reg := registry.Default()
	if cfg.ProvidersFile != "" {
		if reg, err = registry.LoadFile(cfg.ProvidersFile); err != nil {
			log.Fatalf("Failed to load providers: %v", err)
		}
		log.Printf("Loaded %d providers from %s", len(reg.IDs()), cfg.ProvidersFile)
	}
	if !reg.Has(models.LLMProvider(cfg.BaselineProvider)) {
		log.Fatalf("Invalid config: baseline provider %q is not registered", cfg.BaselineProvider)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps := map[string]bool{"database": false, "redis": false}
	engineCfg := engine.Config{
		Registry: reg,
		Budget: budget.Config{
			DailyLimitUSD:   cfg.BudgetDailyUSD,
			WeeklyLimitUSD:  cfg.BudgetWeeklyUSD,
			MonthlyLimitUSD: cfg.BudgetMonthlyUSD,
			AlertThreshold:  cfg.BudgetAlertThreshold,
		},
		Baseline:        models.LLMProvider(cfg.BaselineProvider),
		DefaultStrategy: strategy,
		LedgerCapacity:  cfg.LedgerCapacity,
	}

	// Initialize database connection.
	db, err := database.NewPool(ctx, cfg.DSN())
	if err != nil {
		log.Printf("WARNING: Database unavailable (%v). History will not survive restarts.", err)
	} else {
		defer db.Close()
		engineCfg.Store = store.NewPgStore(db.Pool)
		deps["database"] = true
		log.Printf("Database connected (%s).", cfg.RedactedDSN())
	}

	// Initialize Redis connection.
	var limiter middleware.RateLimiter
	rc, err := cache.NewCache(ctx, cfg.RedisAddr(), cfg.RedisPassword)
	if err != nil {
		log.Printf("WARNING: Redis unavailable (%v). Budget counters are process-local and rate limiting is off.", err)
	} else {
		defer rc.Close()
		engineCfg.Mirror = rc
		limiter = rc
		deps["redis"] = true
		log.Println("Redis connected.")
	}

	eng := engine.New(engineCfg)
	if err := eng.LoadHistory(ctx); err != nil {
		log.Printf("WARNING: Failed to load history: %v", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go eng.RunRollover(bgCtx, cfg.RolloverInterval)

	// Set up Gin router.
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.RateLimitMiddleware(limiter, int64(cfg.RateLimitPerMinute), time.Minute))

	api.NewHandlers(eng, deps).RegisterRoutes(r)

	// Start HTTP server with graceful shutdown.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Strategos is ready on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	bgCancel()
	eng.Flush()
	log.Println("Server exited.")
}
