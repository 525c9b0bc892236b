package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/queue"
	"github.com/apk-analysis/unity-buildscan/internal/repository"
	"github.com/apk-analysis/unity-buildscan/internal/worker"
)

// AnalysisHandler accepts a build's archives over HTTP and hands them to
// whichever execution backend is wired in: a Producer publishes to the
// queue for a Consumer elsewhere to pick up, a Pool runs the job
// in-process. When both are set, the Producer is used.
type AnalysisHandler struct {
	runRepo     repository.AnalysisRunRepository
	producer    *queue.Producer
	pool        *worker.Pool
	logger      *logrus.Logger
	inboundDir  string
}

func NewAnalysisHandler(runRepo repository.AnalysisRunRepository, producer *queue.Producer, pool *worker.Pool, logger *logrus.Logger, inboundDir string) *AnalysisHandler {
	return &AnalysisHandler{
		runRepo:    runRepo,
		producer:   producer,
		pool:       pool,
		logger:     logger,
		inboundDir: inboundDir,
	}
}

// SubmitArchive accepts one or more archive files under the "archives"
// multipart field (a split APK/OBB build ships as more than one file) and
// enqueues them as a single analysis run.
// POST /v1/analyses
func (h *AnalysisHandler) SubmitArchive(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart form with archives field"})
		return
	}

	files := form.File["archives"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no archives uploaded"})
		return
	}

	title := c.PostForm("title")
	if title == "" {
		title = files[0].Filename
	}

	if err := os.MkdirAll(h.inboundDir, 0755); err != nil {
		h.logger.WithError(err).Error("failed to create inbound directory")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare upload directory"})
		return
	}

	runID := uuid.New().String()
	archivePaths := make([]string, 0, len(files))
	for _, fh := range files {
		dest := filepath.Join(h.inboundDir, fmt.Sprintf("%s_%s", runID, fh.Filename))
		if err := c.SaveUploadedFile(fh, dest); err != nil {
			h.logger.WithError(err).WithField("filename", fh.Filename).Error("failed to save uploaded archive")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save uploaded archive"})
			return
		}
		archivePaths = append(archivePaths, dest)
	}

	switch {
	case h.producer != nil:
		job := &queue.AnalysisJob{RunID: runID, Title: title, ArchivePaths: archivePaths}
		if err := h.producer.PublishJob(c.Request.Context(), job); err != nil {
			h.logger.WithError(err).WithField("run_id", runID).Error("failed to publish analysis job")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue analysis"})
			return
		}
	case h.pool != nil:
		task := &worker.Task{RunID: runID, Title: title, ArchivePaths: archivePaths}
		if err := h.pool.Submit(task); err != nil {
			h.logger.WithError(err).WithField("run_id", runID).Warn("worker pool full")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker pool is full, try again later"})
			return
		}
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no execution backend configured"})
		return
	}

	h.logger.WithFields(logrus.Fields{"run_id": runID, "title": title, "archives": len(archivePaths)}).Info("analysis run submitted")

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": runID,
		"title":  title,
		"status": "queued",
	})
}

// ListRuns lists run-history rows, newest first, optionally narrowed by
// engine version, render pipeline, or entities-subsystem finding.
// GET /v1/analyses
func (h *AnalysisHandler) ListRuns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filter := repository.AnalysisRunFilter{
		EngineVersion:  c.Query("engine_version"),
		RenderPipeline: c.Query("render_pipeline"),
		EntitiesUsed:   c.Query("entities_used"),
		Page:           page,
		PageSize:       pageSize,
	}

	runs, total, err := h.runRepo.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("failed to list analysis runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": total,
	})
}

// GetRun looks a run up by its numeric row id or, if ?hash= is given, by
// archive content hash.
// GET /v1/analyses/:id
func (h *AnalysisHandler) GetRun(c *gin.Context) {
	if hash := c.Query("hash"); hash != "" {
		run, err := h.runRepo.FindByArchiveHash(c.Request.Context(), hash)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, run)
		return
	}

	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be numeric, or pass ?hash="})
		return
	}

	run, err := h.runRepo.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// DeleteRun removes a run-history row keyed by archive hash.
// DELETE /v1/analyses/:hash
func (h *AnalysisHandler) DeleteRun(c *gin.Context) {
	hash := c.Param("hash")
	if err := h.runRepo.Delete(c.Request.Context(), hash); err != nil {
		h.logger.WithError(err).WithField("archive_hash", hash).Error("failed to delete run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete run"})
		return
	}
	c.Status(http.StatusNoContent)
}
