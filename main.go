package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"hn-digest/app"
	"hn-digest/config"
	"hn-digest/queue"
	"hn-digest/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Startup failed", zap.Error(err))
	}
	defer a.Close()

	pipeline, err := a.Pipeline(ctx)
	if err != nil {
		logging.Fatal("Pipeline setup failed", zap.Error(err))
	}
	runner, err := a.JobRunner(ctx)
	if err != nil {
		logging.Fatal("Language model setup failed", zap.Error(err))
	}

	// Worker: Map-Stufe breit, Reduce-Stufe schmal
	var workers sync.WaitGroup
	for _, w := range []*queue.Worker{
		queue.NewWorker(a.Broker, services.MapQueue, runner.Handle, queue.WorkerOptions{
			Concurrency: cfg.MapConcurrency, PollInterval: cfg.PollInterval, JobTimeout: cfg.JobTimeout, Logger: logging, OnFinish: services.RecordJob,
		}),
		queue.NewWorker(a.Broker, services.ReduceQueue, runner.Handle, queue.WorkerOptions{
			Concurrency: cfg.ReduceConcurrency, PollInterval: cfg.PollInterval, JobTimeout: cfg.JobTimeout, Logger: logging, OnFinish: services.RecordJob,
		}),
	} {
		workers.Add(1)
		go func(w *queue.Worker) {
			defer workers.Done()
			w.Run(ctx)
		}(w)
	}

	runs := newTrigger(ctx, logging)

	// Setup Cron
	cronScheduler := cron.New()
	if cfg.CronSchedule != "" {
		if _, err := cronScheduler.AddFunc(cfg.CronSchedule, func() {
			runs.run("harvest", func(ctx context.Context) (any, error) { return pipeline.RunHarvest(ctx) })
		}); err != nil {
			logging.Fatal("Invalid CRON_SCHEDULE", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
		}
		cronScheduler.Start()
		logging.Info("Harvest scheduled", zap.String("schedule", cfg.CronSchedule))
	}

	// Setup Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	setupHealthRoutes(router, a)
	setupAPIRoutes(router, a, pipeline, runs)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down...")

	<-cronScheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", zap.Error(err))
	}
	runs.wait()
	workers.Wait()
	logging.Info("Shutdown complete.")
}

// trigger führt Harvest- und Reprocess-Läufe im Hintergrund aus, höchstens einen je Art gleichzeitig.
type trigger struct {
	ctx     context.Context
	logger  *zap.Logger
	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

func newTrigger(ctx context.Context, logger *zap.Logger) *trigger {
	return &trigger{ctx: ctx, logger: logger, running: map[string]bool{}}
}

// start meldet false, wenn bereits ein Lauf derselben Art aktiv ist.
func (t *trigger) start(kind string, fn func(ctx context.Context) (any, error)) bool {
	t.mu.Lock()
	if t.running[kind] {
		t.mu.Unlock()
		return false
	}
	t.running[kind] = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.running, kind)
			t.mu.Unlock()
		}()
		t.logger.Info("Running job...", zap.String("kind", kind))
		result, err := fn(t.ctx)
		if err != nil {
			t.logger.Error("Job failed", zap.String("kind", kind), zap.Error(err))
			return
		}
		t.logger.Info("Job completed", zap.String("kind", kind), zap.Any("result", result))
	}()
	return true
}

func (t *trigger) run(kind string, fn func(ctx context.Context) (any, error)) {
	if !t.start(kind, fn) {
		t.logger.Warn("Previous run still active, skipping.", zap.String("kind", kind))
	}
}

func (t *trigger) wait() { t.wg.Wait() }

func setupHealthRoutes(router *gin.Engine, a *app.App) {
	rg := router.Group("/health")

	rg.GET("/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Bereit nur, wenn Datenbank und Redis antworten
	rg.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		checks := gin.H{"database": "ok", "redis": "ok"}
		status := http.StatusOK
		if err := a.Repo.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := a.Broker.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, checks)
	})
}

func setupAPIRoutes(router *gin.Engine, a *app.App, pipeline *services.Pipeline, t *trigger) {
	rg := router.Group("/api/v1")

	rg.GET("/manifest", func(c *gin.Context) {
		dates, err := a.Repo.ManifestDates(c.Request.Context())
		if err != nil {
			a.Logger.Error("Manifest query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, dates)
	})

	rg.GET("/queues/:queue/failed", func(c *gin.Context) {
		name := c.Param("queue")
		if name != services.MapQueue && name != services.ReduceQueue {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		jobs, err := a.Broker.Failed(c.Request.Context(), name, limit)
		if err != nil {
			a.Logger.Error("Failed-jobs query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "queue error"})
			return
		}
		counts, err := a.Broker.Counts(c.Request.Context(), name)
		if err != nil {
			a.Logger.Error("Queue counts failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "queue error"})
			return
		}

		type failedJob struct {
			ID         string    `json:"id"`
			Name       string    `json:"name"`
			Attempts   int       `json:"attempts"`
			Reason     string    `json:"reason"`
			FinishedAt time.Time `json:"finished_at"`
		}
		out := make([]failedJob, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, failedJob{ID: j.ID, Name: j.Name, Attempts: j.Attempts, Reason: j.FailedReason, FinishedAt: j.FinishedAt})
		}
		c.JSON(http.StatusOK, gin.H{"counts": counts, "jobs": out})
	})

	auth := rg.Group("", apiKeyAuthMiddleware(a.Config))

	auth.POST("/harvest", func(c *gin.Context) {
		if !t.start("harvest", func(ctx context.Context) (any, error) { return pipeline.RunHarvest(ctx) }) {
			c.JSON(http.StatusConflict, gin.H{"error": "harvest already running"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "harvest started"})
	})

	auth.POST("/reprocess", func(c *gin.Context) {
		if !t.start("reprocess", func(ctx context.Context) (any, error) { return pipeline.Reprocess(ctx) }) {
			c.JSON(http.StatusConflict, gin.H{"error": "reprocess already running"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "reprocess started"})
	})
}
