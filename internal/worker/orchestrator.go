package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/analysis"
	"github.com/apk-analysis/unity-buildscan/internal/domain"
	"github.com/apk-analysis/unity-buildscan/internal/repository"
)

// ProgressBroadcaster receives the phase events a running analysis task
// passes through, for pushing to anyone watching that run live.
type ProgressBroadcaster interface {
	BroadcastPhase(runID, phase string)
	BroadcastStatus(runID string, status domain.AnalysisRunStatus)
}

// Orchestrator drives one analysis task end to end: compute the archive
// hash, mark the run-history row analyzing, invoke the analysis core,
// and persist the outcome (success or failure) back to the row.
type Orchestrator struct {
	runRepo      repository.AnalysisRunRepository
	logger       *logrus.Logger
	analysisOpts analysis.Options
	broadcaster  ProgressBroadcaster
}

func NewOrchestrator(runRepo repository.AnalysisRunRepository, opts analysis.Options, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{runRepo: runRepo, analysisOpts: opts, logger: logger}
}

func (o *Orchestrator) SetProgressBroadcaster(b ProgressBroadcaster) {
	o.broadcaster = b
}

// ExecuteTask runs the core analysis pipeline against archivePaths and
// upserts the outcome as one run-history row keyed by the primary
// archive's content hash.
func (o *Orchestrator) ExecuteTask(ctx context.Context, runID, title string, archivePaths []string) error {
	if len(archivePaths) == 0 {
		return fmt.Errorf("worker: no archive paths for run %s", runID)
	}

	archiveHash, err := hashFile(archivePaths[0])
	if err != nil {
		o.logger.WithError(err).WithField("run_id", runID).Warn("failed to hash primary archive, continuing without a stable key")
		archiveHash = runID
	}

	o.updateStatus(ctx, archiveHash, title, domain.AnalysisStatusAnalyzing, nil, 0)
	o.broadcast(runID, "containers-opened")

	start := time.Now()
	result, err := analysis.Run(o.logger, title, archivePaths, o.analysisOpts)
	duration := time.Since(start)

	if err != nil {
		o.logger.WithError(err).WithField("run_id", runID).Error("analysis run failed")
		o.updateStatus(ctx, archiveHash, title, domain.AnalysisStatusFailed, err, duration)
		if o.broadcaster != nil {
			o.broadcaster.BroadcastStatus(runID, domain.AnalysisStatusFailed)
		}
		return err
	}

	o.broadcast(runID, "detectors-done")

	row := resultToRow(archiveHash, result, duration)
	if err := o.runRepo.Upsert(ctx, row); err != nil {
		o.logger.WithError(err).WithField("run_id", runID).Error("failed to persist analysis run")
		return err
	}

	o.broadcast(runID, "persisted")
	if o.broadcaster != nil {
		o.broadcaster.BroadcastStatus(runID, domain.AnalysisStatusCompleted)
	}

	return nil
}

func (o *Orchestrator) broadcast(runID, phase string) {
	if o.broadcaster != nil {
		o.broadcaster.BroadcastPhase(runID, phase)
	}
}

func (o *Orchestrator) updateStatus(ctx context.Context, archiveHash, title string, status domain.AnalysisRunStatus, failErr error, duration time.Duration) {
	row := &domain.AnalysisRun{
		ArchiveHash: archiveHash,
		Status:      status,
		Title:       title,
		CreatedAt:   time.Now(),
		DurationMs:  int(duration.Milliseconds()),
	}
	if failErr != nil {
		row.ErrorMessage = failErr.Error()
	}
	if err := o.runRepo.Upsert(ctx, row); err != nil {
		o.logger.WithError(err).WithField("archive_hash", archiveHash).Warn("failed to record status transition")
	}
}

func resultToRow(archiveHash string, result *analysis.Result, duration time.Duration) *domain.AnalysisRun {
	majorScriptsJSON := ""
	if b, err := json.Marshal(result.MajorScripts); err == nil {
		majorScriptsJSON = string(b)
	}

	now := time.Now()
	return &domain.AnalysisRun{
		ArchiveHash:            archiveHash,
		Status:                 domain.AnalysisStatusCompleted,
		Title:                  result.Title,
		EngineVersion:          result.EngineVersion,
		RenderPipeline:         result.RenderPipeline,
		EntitiesUsed:           result.EntitiesUsed,
		EntityPhysicsUsed:      result.EntityPhysicsUsed,
		ThirdPartyPhysicsUsed:  result.ThirdPartyPhysicsUsed,
		LegacyUIUsed:           result.LegacyUIUsed,
		UIToolkitUsed:          result.UIToolkitUsed,
		ContentPipelineUsed:    result.ContentPipelineUsed,
		MajorScriptsJSON:       majorScriptsJSON,
		PersistedMetadataPath:  result.PersistedMetadataPath,
		PersistedManifestPath:  result.PersistedManifestPath,
		DurationMs:             int(duration.Milliseconds()),
		AnalyzedAt:             &now,
		CreatedAt:              now,
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
