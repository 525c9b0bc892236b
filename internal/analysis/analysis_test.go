package analysis

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func writeZip(t *testing.T, dir, name string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for entryName, content := range entries {
		w, err := zw.Create(entryName)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func TestRunEngineVersionFromGlobalGameManagersNoMetadata(t *testing.T) {
	dir := t.TempDir()
	apk := writeZip(t, dir, "app.apk", map[string]string{
		"assets/bin/Data/globalgamemanagers": "junk-before-2022.3.14f1-junk-after",
	})

	result, err := Run(testLogger(), "Example Game", []string{apk}, Options{DownloadRoot: dir})
	require.NoError(t, err)

	assert.Equal(t, "2022.3.14f1", result.EngineVersion)
	assert.Equal(t, "Unknown", result.RenderPipeline)
}

func TestRunRenderPipelineURPFromMetadata(t *testing.T) {
	dir := t.TempDir()
	apk := writeZip(t, dir, "app.apk", map[string]string{
		"assets/bin/Data/Managed/Metadata/global-metadata.dat": "references com.unity.render-pipelines.universal somewhere",
	})

	result, err := Run(testLogger(), "Example Game", []string{apk}, Options{DownloadRoot: dir})
	require.NoError(t, err)

	assert.Equal(t, "URP", result.RenderPipeline)
}

func TestRunContentPipelineDetectedFromAddressablesCatalog(t *testing.T) {
	dir := t.TempDir()
	apk := writeZip(t, dir, "app.apk", map[string]string{
		"assets/aa/catalog_1.hash": "addressables catalog payload",
	})

	result, err := Run(testLogger(), "Example Game", []string{apk}, Options{DownloadRoot: dir})
	require.NoError(t, err)

	assert.True(t, result.ContentPipelineUsed)
}

func TestRunContentPipelineAbsentWithoutAddressablesEntries(t *testing.T) {
	dir := t.TempDir()
	apk := writeZip(t, dir, "app.apk", map[string]string{
		"assets/bin/Data/globalgamemanagers": "nothing of interest",
	})

	result, err := Run(testLogger(), "Example Game", []string{apk}, Options{DownloadRoot: dir})
	require.NoError(t, err)

	assert.False(t, result.ContentPipelineUsed)
}

func TestRunNoContainersIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(testLogger(), "Example Game", []string{filepath.Join(dir, "missing.apk")}, Options{DownloadRoot: dir})
	require.Error(t, err)
}

func TestRunPersistsMetadataArtifact(t *testing.T) {
	dir := t.TempDir()
	apk := writeZip(t, dir, "app.apk", map[string]string{
		"assets/bin/Data/Managed/Metadata/global-metadata.dat": "blob-bytes",
	})

	result, err := Run(testLogger(), "Example Game", []string{apk}, Options{DownloadRoot: dir})
	require.NoError(t, err)

	require.NotEmpty(t, result.PersistedMetadataPath)
	b, err := os.ReadFile(result.PersistedMetadataPath)
	require.NoError(t, err)
	assert.Equal(t, "blob-bytes", string(b))
}

func TestRunIsIdempotentAcrossRepeatedCalls(t *testing.T) {
	dir := t.TempDir()
	apk := writeZip(t, dir, "app.apk", map[string]string{
		"assets/bin/Data/globalgamemanagers":                    "2022.3.14f1",
		"assets/bin/Data/ScriptingAssemblies.json":               `["Unity.Entities"]`,
	})

	first, err := Run(testLogger(), "Example Game", []string{apk}, Options{DownloadRoot: dir})
	require.NoError(t, err)
	second, err := Run(testLogger(), "Example Game", []string{apk}, Options{DownloadRoot: dir})
	require.NoError(t, err)

	assert.Equal(t, first.EngineVersion, second.EngineVersion)
	assert.Equal(t, first.EntitiesUsed, second.EntitiesUsed)
	assert.Equal(t, first.MajorScripts, second.MajorScripts)
}
