package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/refedo/OTS-sub007/internal/metrics"
	"github.com/refedo/OTS-sub007/internal/middleware"
	"github.com/refedo/OTS-sub007/internal/ops/handler"
	"github.com/refedo/OTS-sub007/internal/ops/service"
	"github.com/refedo/OTS-sub007/internal/ops/sse"
	"github.com/refedo/OTS-sub007/internal/shared/feishu"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	zapLogger := a.logger
	cfg := a.cfg
	zapLogger.Info("Starting ots service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	if err := a.migrate(); err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewCollector(reg)
		a.svc.SetMetrics(collector)
	}

	// risk changes fan out to the SSE stream and, when configured, the Feishu group bot
	hub := sse.NewHub(zapLogger)
	a.svc.Risk.AddNotifier(hub)
	if cfg.Feishu.WebhookURL != "" {
		bot := feishu.NewWebhookClient(cfg.Feishu.WebhookURL, cfg.Feishu.WebhookSecret)
		resolver := service.NewRegistryResolver(a.repos.WorkUnit)
		a.svc.Risk.AddNotifier(service.NewAlertNotifier(bot, cfg.Feishu.AlertSeverity, cfg.Feishu.FeedURL, resolver, zapLogger))
		zapLogger.Info("Feishu risk alerts enabled", zap.String("min_severity", cfg.Feishu.AlertSeverity))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.svc.Dispatcher.Start(ctx)

	schedulerDone := make(chan struct{})
	if cfg.Engine.SweepEnabled {
		locker, closeLocker := sweepLocker(ctx, cfg.Redis, zapLogger)
		defer closeLocker()
		scheduler := service.NewScheduler(a.svc.Risk, locker, cfg.Engine.SweepInterval, cfg.Engine.SweepLockTTL, zapLogger)
		go func() {
			defer close(schedulerDone)
			scheduler.Run(ctx)
		}()
	} else {
		close(schedulerDone)
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	if collector != nil {
		router.Use(middleware.Metrics(collector))
	}
	// SSE responses must not be buffered by the compressor
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/ops/risks/stream"})))

	handlers := handler.NewHandlers(a.svc, hub)
	registerRoutes(router, handlers, a, collector)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	serveErr := make(chan error, 1)
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		zapLogger.Error("Server failed", zap.Error(err))
	}

	zapLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := a.svc.Dispatcher.Stop(shutdownCtx); err != nil {
		zapLogger.Warn("Sync queue not drained before shutdown", zap.Error(err))
	}
	cancel()
	<-schedulerDone
	a.svc.Risk.Wait()

	zapLogger.Info("Server exited")
	return nil
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, a *app, collector *metrics.Collector) {
	cfg := a.cfg

	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	if collector != nil {
		r.GET(metricsPath(cfg.Metrics), gin.WrapH(collector.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": handler.CodeNotFound, "message": "Not found"})
	})

	ops := r.Group("/api/v1/ops", middleware.JWTAuth(cfg.JWT.Secret))
	{
		// work unit registry and graph queries
		ops.GET("/work-units", h.WorkUnit.List)
		ops.GET("/work-units/:id", h.WorkUnit.Get)
		ops.GET("/work-units/:id/upstream", h.WorkUnit.Upstream)
		ops.GET("/work-units/:id/downstream", h.WorkUnit.Downstream)
		ops.GET("/work-units/:id/chain", h.WorkUnit.Chain)
		ops.GET("/work-units/:id/impact", h.WorkUnit.Impact)
		ops.GET("/projects/:projectId/summary", h.WorkUnit.ProjectSummary)
		ops.GET("/projects/:projectId/graph", h.WorkUnit.ProjectGraph)

		// manual edges
		ops.POST("/dependencies", h.Dependency.Create)
		ops.PUT("/dependencies/:id", h.Dependency.Update)
		ops.DELETE("/dependencies/:id", h.Dependency.Delete)

		// blueprint catalog
		ops.GET("/blueprints", h.Blueprint.List)
		ops.POST("/blueprints", h.Blueprint.Create)
		ops.POST("/blueprints/seed", h.Blueprint.Seed)
		ops.GET("/blueprints/:id", h.Blueprint.Get)
		ops.PUT("/blueprints/:id", h.Blueprint.Update)
		ops.DELETE("/blueprints/:id", h.Blueprint.Delete)
		ops.POST("/blueprints/:id/default", h.Blueprint.SetDefault)
		ops.PUT("/blueprints/:id/active", h.Blueprint.SetActive)

		// capacities
		ops.GET("/capacities", h.Capacity.List)
		ops.POST("/capacities", h.Capacity.Create)
		ops.GET("/capacities/:id", h.Capacity.Get)
		ops.PUT("/capacities/:id", h.Capacity.Update)
		ops.DELETE("/capacities/:id", h.Capacity.Delete)
		ops.GET("/capacities/:id/analysis", h.Capacity.Analysis)

		// risk feed
		ops.GET("/risks", h.Risk.List)
		ops.GET("/risks/summary", h.Risk.Summary)
		ops.GET("/risks/digest", h.Risk.Digest)
		ops.GET("/risks/stream", h.SSE.Stream)
		ops.POST("/risks/evaluate", h.Risk.Evaluate)
		ops.GET("/risks/:id", h.Risk.Get)
		ops.POST("/risks/:id/resolve", h.Risk.Resolve)

		ops.POST("/preview", h.Preview.Preview)

		// change notifications from the operational modules
		ops.POST("/sync/:module/created", h.Sync.Created)
		ops.POST("/sync/:module/:referenceId/status", h.Sync.Status)
		ops.GET("/sync/failures", h.Sync.Failures)
		ops.POST("/sync/failures/replay", h.Sync.Replay)
	}
}

func metricsPath(cfg config.MetricsConfig) string {
	if cfg.Path == "" {
		return "/metrics"
	}
	return cfg.Path
}
