// Package api exposes the analysis service over HTTP: a JSON surface for
// submitting and inspecting runs, a websocket for following one live, and
// a Prometheus scrape endpoint. There is no HTML, template, login, or
// device-farm surface here — this is a static-analysis service, not the
// multi-device platform it was pulled out of.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/api/handlers"
	"github.com/apk-analysis/unity-buildscan/internal/config"
	"github.com/apk-analysis/unity-buildscan/internal/observability"
	"github.com/apk-analysis/unity-buildscan/internal/progress"
	"github.com/apk-analysis/unity-buildscan/internal/queue"
	"github.com/apk-analysis/unity-buildscan/internal/repository"
	"github.com/apk-analysis/unity-buildscan/internal/worker"
)

// Deps collects everything the router needs; producer and pool are the
// execution backends for newly submitted runs (when both are set, the
// handler publishes through the producer).
type Deps struct {
	Config   *config.Config
	Logger   *logrus.Logger
	RunRepo  repository.AnalysisRunRepository
	Producer *queue.Producer
	Pool     *worker.Pool
	Hub      *progress.Hub
	Metrics  *observability.Metrics
}

func SetupRouter(d Deps) *gin.Engine {
	if d.Config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(d.Logger))
	r.Use(CORSMiddleware())

	if d.Metrics != nil {
		r.Use(d.Metrics.HTTPMiddleware())
		r.GET("/metrics", d.Metrics.Handler())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	analysisHandler := handlers.NewAnalysisHandler(d.RunRepo, d.Producer, d.Pool, d.Logger, d.Config.Scan.InboundDir)

	v1 := r.Group("/v1")
	{
		v1.POST("/analyses", analysisHandler.SubmitArchive)
		v1.GET("/analyses", analysisHandler.ListRuns)
		v1.GET("/analyses/:id", analysisHandler.GetRun)
		v1.DELETE("/analyses/:hash", analysisHandler.DeleteRun)
	}

	if d.Hub != nil {
		r.GET("/ws/analyses", d.Hub.HandleWebSocket)
		r.GET("/ws/analyses/:run_id", d.Hub.HandleWebSocket)
	}

	return r
}
