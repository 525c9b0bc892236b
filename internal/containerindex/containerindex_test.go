package containerindex

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

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

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestOpenNoContainersIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(testLogger(), []string{filepath.Join(dir, "missing.zip")})
	require.Error(t, err)
}

func TestFindEntryCaseInsensitiveWithBackslashNormalization(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, "a.zip", map[string]string{
		"assets/bin/Data/globalgamemanagers": "2022.3.14f1",
	})

	idx, err := Open(testLogger(), []string{path})
	require.NoError(t, err)
	defer idx.Close()

	b, ok := idx.FindEntry(`ASSETS\BIN\Data\GlobalGameManagers`)
	require.True(t, ok)
	require.Equal(t, "2022.3.14f1", string(b))
}

func TestFindEntryFirstHitWinsAcrossArchives(t *testing.T) {
	dir := t.TempDir()
	first := writeZip(t, dir, "first.zip", map[string]string{"shared.txt": "from-first"})
	second := writeZip(t, dir, "second.zip", map[string]string{"shared.txt": "from-second"})

	idx, err := Open(testLogger(), []string{first, second})
	require.NoError(t, err)
	defer idx.Close()

	b, ok := idx.FindEntry("shared.txt")
	require.True(t, ok)
	require.Equal(t, "from-first", string(b))
}

func TestContainsAnywhereAddressablesCatalog(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, "a.zip", map[string]string{
		"assets/aa/catalog_1.hash": "x",
	})
	idx, err := Open(testLogger(), []string{path})
	require.NoError(t, err)
	defer idx.Close()

	require.True(t, idx.ContainsAnywhere("aa/"))
}
