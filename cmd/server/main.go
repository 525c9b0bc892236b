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

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-analysis/unity-buildscan/internal/analysis"
	"github.com/apk-analysis/unity-buildscan/internal/api"
	"github.com/apk-analysis/unity-buildscan/internal/config"
	"github.com/apk-analysis/unity-buildscan/internal/domain"
	"github.com/apk-analysis/unity-buildscan/internal/observability"
	"github.com/apk-analysis/unity-buildscan/internal/progress"
	"github.com/apk-analysis/unity-buildscan/internal/queue"
	"github.com/apk-analysis/unity-buildscan/internal/repository"
	"github.com/apk-analysis/unity-buildscan/internal/watcher"
	"github.com/apk-analysis/unity-buildscan/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	fmt.Printf("unity-buildscan server\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n\n", Version, BuildTime, GitCommit)

	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := config.InitLogger(&cfg.Log)
	logger.Infof("starting unity-buildscan server %s", Version)
	logger.Infof("config loaded from: %s", configPath)

	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("failed to init database: %v", err)
	}
	logger.Info("database connected")

	if err := cleanupStuckRuns(db, logger); err != nil {
		logger.WithError(err).Warn("failed to clean up stuck runs")
	}

	runRepo := repository.NewAnalysisRunRepository(db)

	analysisOpts := analysis.Options{
		DownloadRoot:     cfg.Scan.DownloadRoot,
		MinPrintableRun:  cfg.Scan.MinPrintableRun,
		MaxComponentPtrs: cfg.Scan.MaxComponentPtrs,
	}

	hub := progress.NewHub(logger)
	hub.Start()

	orchestrator := worker.NewOrchestrator(runRepo, analysisOpts, logger)
	orchestrator.SetProgressBroadcaster(hub)

	workerCount := cfg.Worker.Concurrency
	if workerCount <= 0 {
		workerCount = 1
	}

	pool := worker.NewPool(workerCount, orchestrator, logger)
	pool.Start(context.Background())
	defer pool.Stop()
	logger.Infof("worker pool started with %d workers", workerCount)

	metrics := observability.NewMetrics(logger, "unity_buildscan")

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.UpdateWorkerPoolStats(workerCount, pool.GetQueueSize())
		}
	}()

	mqConfig := &queue.RabbitMQConfig{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}

	var producer *queue.Producer
	var consumer *queue.Consumer

	mq, err := queue.NewRabbitMQWithPrefetch(mqConfig, cfg.RabbitMQ.Queue, workerCount, logger)
	if err != nil {
		logger.WithError(err).Warn("rabbitmq unavailable, submissions will run directly against the worker pool")
	} else {
		defer mq.Close()
		producer = queue.NewProducer(mq, logger)

		consumer = queue.NewConsumer(mq, makeJobHandler(pool, logger), workerCount, logger)
		if err := consumer.Start(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to start queue consumer")
			consumer = nil
		} else {
			defer consumer.Stop()
			logger.Infof("queue consumer started with %d workers", workerCount)
		}
	}

	fileWatcher, err := watcher.NewFileWatcher(cfg.Scan.InboundDir, "*", makeArchiveHandler(pool, logger), logger)
	if err != nil {
		logger.Fatalf("failed to create file watcher: %v", err)
	}
	if err := fileWatcher.Start(context.Background()); err != nil {
		logger.Fatalf("failed to start file watcher: %v", err)
	}
	defer fileWatcher.Stop()
	logger.Infof("file watcher started for directory: %s", cfg.Scan.InboundDir)

	router := api.SetupRouter(api.Deps{
		Config:   cfg,
		Logger:   logger,
		RunRepo:  runRepo,
		Producer: producer,
		Pool:     pool,
		Hub:      hub,
		Metrics:  metrics,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("http server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("http server shutdown error: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}

// makeJobHandler adapts a queue delivery into a synchronous worker pool
// submission so the consumer's ack/nack reflects whether the analysis
// actually succeeded.
func makeJobHandler(pool *worker.Pool, logger *logrus.Logger) queue.JobHandler {
	return func(ctx context.Context, job *queue.AnalysisJob) error {
		logger.WithFields(logrus.Fields{
			"run_id": job.RunID, "title": job.Title,
		}).Info("received analysis job from queue")

		task := &worker.Task{
			RunID:        job.RunID,
			Title:        job.Title,
			ArchivePaths: job.ArchivePaths,
		}
		return pool.SubmitAndWait(ctx, task)
	}
}

// makeArchiveHandler turns a dropped file into a single-archive run
// submitted directly to the pool; a build dropped into the inbound
// directory has no queue message to wrap it, so there's nothing to nack
// on failure; the watcher logs the returned error.
func makeArchiveHandler(pool *worker.Pool, logger *logrus.Logger) watcher.ArchiveHandler {
	return func(ctx context.Context, filePath string) error {
		task := &worker.Task{
			RunID:        filePath,
			Title:        filePath,
			ArchivePaths: []string{filePath},
		}
		return pool.SubmitAndWait(ctx, task)
	}
}

// cleanupStuckRuns marks any run still "analyzing" from a previous
// process as failed; a crash mid-run leaves no goroutine around to ever
// mark it completed or failed otherwise.
func cleanupStuckRuns(db *gorm.DB, logger *logrus.Logger) error {
	logger.Info("checking for runs stuck analyzing from a previous process...")

	result := db.Model(&domain.AnalysisRun{}).
		Where("status = ?", domain.AnalysisStatusAnalyzing).
		Updates(map[string]interface{}{
			"status":        domain.AnalysisStatusFailed,
			"error_message": "server restarted mid-analysis",
		})
	if result.Error != nil {
		return fmt.Errorf("failed to clean up stuck runs: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logger.WithField("count", result.RowsAffected).Warn("marked stuck runs as failed due to server restart")
	}
	return nil
}
