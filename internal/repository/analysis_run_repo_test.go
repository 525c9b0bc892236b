package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/apk-analysis/unity-buildscan/internal/domain"
)

func setupAnalysisRunTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to open test database")

	err = db.AutoMigrate(&domain.AnalysisRun{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func TestAnalysisRunRepository_Upsert_Insert(t *testing.T) {
	db := setupAnalysisRunTestDB(t)
	repo := NewAnalysisRunRepository(db)
	ctx := context.Background()

	run := &domain.AnalysisRun{
		ArchiveHash:    "hash-001",
		Status:         domain.AnalysisStatusCompleted,
		Title:          "Test Build",
		EngineVersion:  "2021.3.15f1",
		RenderPipeline: "URP",
		CreatedAt:      time.Now(),
	}

	err := repo.Upsert(ctx, run)
	assert.NoError(t, err)
	assert.NotZero(t, run.ID)

	found, err := repo.FindByArchiveHash(ctx, "hash-001")
	require.NoError(t, err)
	assert.Equal(t, "Test Build", found.Title)
	assert.Equal(t, "URP", found.RenderPipeline)
	assert.Equal(t, domain.AnalysisStatusCompleted, found.Status)
}

func TestAnalysisRunRepository_Upsert_UpdatesExistingRow(t *testing.T) {
	db := setupAnalysisRunTestDB(t)
	repo := NewAnalysisRunRepository(db)
	ctx := context.Background()

	initial := &domain.AnalysisRun{
		ArchiveHash: "hash-002",
		Status:      domain.AnalysisStatusAnalyzing,
		Title:       "Build A",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, initial))

	updated := &domain.AnalysisRun{
		ArchiveHash:          "hash-002",
		Status:               domain.AnalysisStatusCompleted,
		Title:                "Build A",
		EngineVersion:        "2022.3.8f1",
		RenderPipeline:       "HDRP",
		ContentPipelineUsed:  true,
		MajorScriptsJSON:     `[{"Key":"MyGame","Count":12}]`,
		CreatedAt:            time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, updated))

	found, err := repo.FindByArchiveHash(ctx, "hash-002")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusCompleted, found.Status)
	assert.Equal(t, "2022.3.8f1", found.EngineVersion)
	assert.Equal(t, "HDRP", found.RenderPipeline)
	assert.True(t, found.ContentPipelineUsed)

	var count int64
	db.Model(&domain.AnalysisRun{}).Where("archive_hash = ?", "hash-002").Count(&count)
	assert.Equal(t, int64(1), count, "upsert must not create a duplicate row")
}

func TestAnalysisRunRepository_FindByID(t *testing.T) {
	db := setupAnalysisRunTestDB(t)
	repo := NewAnalysisRunRepository(db)
	ctx := context.Background()

	run := &domain.AnalysisRun{ArchiveHash: "hash-003", CreatedAt: time.Now()}
	require.NoError(t, repo.Upsert(ctx, run))

	found, err := repo.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-003", found.ArchiveHash)

	_, err = repo.FindByID(ctx, 99999)
	assert.Error(t, err)
}

func TestAnalysisRunRepository_FindByArchiveHash_NotFound(t *testing.T) {
	db := setupAnalysisRunTestDB(t)
	repo := NewAnalysisRunRepository(db)
	ctx := context.Background()

	found, err := repo.FindByArchiveHash(ctx, "does-not-exist")
	assert.Error(t, err)
	assert.Nil(t, found)
}

func TestAnalysisRunRepository_List_FiltersByRenderPipeline(t *testing.T) {
	db := setupAnalysisRunTestDB(t)
	repo := NewAnalysisRunRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.AnalysisRun{
		ArchiveHash: "hash-urp", RenderPipeline: "URP", EngineVersion: "2021.3.15f1", CreatedAt: time.Now(),
	}))
	require.NoError(t, repo.Upsert(ctx, &domain.AnalysisRun{
		ArchiveHash: "hash-hdrp", RenderPipeline: "HDRP", EngineVersion: "2022.3.8f1", CreatedAt: time.Now(),
	}))

	runs, total, err := repo.List(ctx, AnalysisRunFilter{RenderPipeline: "URP"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, runs, 1)
	assert.Equal(t, "hash-urp", runs[0].ArchiveHash)
}

func TestAnalysisRunRepository_List_NoFilterReturnsAllPaged(t *testing.T) {
	db := setupAnalysisRunTestDB(t)
	repo := NewAnalysisRunRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Upsert(ctx, &domain.AnalysisRun{
			ArchiveHash: "hash-list-" + string(rune('a'+i)), CreatedAt: time.Now(),
		}))
	}

	runs, total, err := repo.List(ctx, AnalysisRunFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, runs, 2)
}

func TestAnalysisRunRepository_Delete(t *testing.T) {
	db := setupAnalysisRunTestDB(t)
	repo := NewAnalysisRunRepository(db)
	ctx := context.Background()

	run := &domain.AnalysisRun{ArchiveHash: "hash-004", CreatedAt: time.Now()}
	require.NoError(t, repo.Upsert(ctx, run))

	require.NoError(t, repo.Delete(ctx, "hash-004"))

	_, err := repo.FindByArchiveHash(ctx, "hash-004")
	assert.Error(t, err)
}

func TestAnalysisRunRepository_Delete_NonExistentIsNotAnError(t *testing.T) {
	db := setupAnalysisRunTestDB(t)
	repo := NewAnalysisRunRepository(db)
	ctx := context.Background()

	err := repo.Delete(ctx, "never-existed")
	assert.NoError(t, err)
}
