package domain

import "time"

// AnalysisRunStatus tracks one queued/executing/finished analysis job.
type AnalysisRunStatus string

const (
	AnalysisStatusQueued    AnalysisRunStatus = "queued"
	AnalysisStatusAnalyzing AnalysisRunStatus = "analyzing"
	AnalysisStatusCompleted AnalysisRunStatus = "completed"
	AnalysisStatusFailed    AnalysisRunStatus = "failed"
)

// AnalysisRun persists one Driver call's request and findings (§3
// AnalysisResult, plus the run bookkeeping spec.md leaves to the caller).
// It is pure ambient bookkeeping: the in-memory analysis.Result the core
// returns is unaffected by whether a row is ever written.
type AnalysisRun struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	// ArchiveHash is a content hash of the primary input archive; the
	// upsert key, so re-analyzing the same archive updates one row
	// instead of accumulating duplicates.
	ArchiveHash string            `gorm:"type:varchar(64);uniqueIndex:uk_archive_hash;not null" json:"archive_hash"`
	Status      AnalysisRunStatus `gorm:"type:varchar(20);default:'queued'" json:"status"`

	Title          string `gorm:"type:varchar(255)" json:"title,omitempty"`
	EngineVersion  string `gorm:"type:varchar(40)" json:"engine_version,omitempty"`
	RenderPipeline string `gorm:"type:varchar(20)" json:"render_pipeline,omitempty"`

	EntitiesUsed          string `gorm:"type:varchar(20)" json:"entities_used,omitempty"`
	EntityPhysicsUsed      string `gorm:"type:varchar(20)" json:"entity_physics_used,omitempty"`
	ThirdPartyPhysicsUsed  string `gorm:"type:varchar(20)" json:"third_party_physics_used,omitempty"`
	LegacyUIUsed           string `gorm:"type:varchar(20)" json:"legacy_ui_used,omitempty"`
	UIToolkitUsed          string `gorm:"type:varchar(20)" json:"ui_toolkit_used,omitempty"`
	ContentPipelineUsed    bool   `gorm:"default:false" json:"content_pipeline_used"`

	// MajorScriptsJSON is the ranked (key, count) list serialized as JSON;
	// a ranking has no natural relational shape worth a join table for a
	// top-30 list computed fresh on every run.
	MajorScriptsJSON string `gorm:"type:text" json:"major_scripts_json,omitempty"`

	PersistedMetadataPath string `gorm:"type:varchar(500)" json:"persisted_metadata_path,omitempty"`
	PersistedManifestPath string `gorm:"type:varchar(500)" json:"persisted_manifest_path,omitempty"`

	ErrorMessage string `gorm:"type:varchar(500)" json:"error_message,omitempty"`

	DurationMs int `gorm:"type:int" json:"duration_ms,omitempty"`

	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

func (AnalysisRun) TableName() string {
	return "analysis_runs"
}
