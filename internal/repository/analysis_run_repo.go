package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/apk-analysis/unity-buildscan/internal/domain"
)

// AnalysisRunFilter narrows List to runs matching every non-empty field;
// an empty filter lists everything, newest first.
type AnalysisRunFilter struct {
	EngineVersion  string
	RenderPipeline string
	EntitiesUsed   string
	Page           int
	PageSize       int
}

// AnalysisRunRepository persists one row per analyzed archive, keyed by
// content hash so re-analysis updates rather than duplicates.
type AnalysisRunRepository interface {
	Upsert(ctx context.Context, run *domain.AnalysisRun) error
	FindByID(ctx context.Context, id uint) (*domain.AnalysisRun, error)
	FindByArchiveHash(ctx context.Context, hash string) (*domain.AnalysisRun, error)
	List(ctx context.Context, filter AnalysisRunFilter) ([]*domain.AnalysisRun, int64, error)
	Delete(ctx context.Context, hash string) error
}

type analysisRunRepo struct {
	db *gorm.DB
}

func NewAnalysisRunRepository(db *gorm.DB) AnalysisRunRepository {
	return &analysisRunRepo{db: db}
}

// Upsert inserts or updates on a conflicting archive_hash, mirroring the
// teacher's ON DUPLICATE KEY UPDATE report-upsert pattern.
func (r *analysisRunRepo) Upsert(ctx context.Context, run *domain.AnalysisRun) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "archive_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "title", "engine_version", "render_pipeline",
				"entities_used", "entity_physics_used", "third_party_physics_used",
				"legacy_ui_used", "ui_toolkit_used", "content_pipeline_used",
				"major_scripts_json", "persisted_metadata_path", "persisted_manifest_path",
				"error_message", "duration_ms", "analyzed_at",
			}),
		}).
		Create(run).Error
}

func (r *analysisRunRepo) FindByID(ctx context.Context, id uint) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	if err := r.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *analysisRunRepo) FindByArchiveHash(ctx context.Context, hash string) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	if err := r.db.WithContext(ctx).Where("archive_hash = ?", hash).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns runs matching filter, newest first, with the total count
// of matching rows (ignoring pagination) for the caller to page through.
func (r *analysisRunRepo) List(ctx context.Context, filter AnalysisRunFilter) ([]*domain.AnalysisRun, int64, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	applyFilter := func(q *gorm.DB) *gorm.DB {
		if filter.EngineVersion != "" {
			q = q.Where("engine_version = ?", filter.EngineVersion)
		}
		if filter.RenderPipeline != "" {
			q = q.Where("render_pipeline = ?", filter.RenderPipeline)
		}
		if filter.EntitiesUsed != "" {
			q = q.Where("entities_used = ?", filter.EntitiesUsed)
		}
		return q
	}

	var total int64
	if err := applyFilter(r.db.WithContext(ctx).Model(&domain.AnalysisRun{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []*domain.AnalysisRun
	offset := (page - 1) * pageSize
	err := applyFilter(r.db.WithContext(ctx)).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

func (r *analysisRunRepo) Delete(ctx context.Context, hash string) error {
	return r.db.WithContext(ctx).Where("archive_hash = ?", hash).Delete(&domain.AnalysisRun{}).Error
}
