package passthrough

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/knbase/pkg/interruption"
	"github.com/cuemby/knbase/pkg/types"
)

func TestPreprocessCopiesResource(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source.txt")
	require.NoError(t, os.WriteFile(source, []byte("content"), 0644))
	workspacePath := filepath.Join(dir, "ws")
	require.NoError(t, os.MkdirAll(workspacePath, 0755))

	module := New()
	assert.True(t, module.Acceptant(1, []byte{0xAA}, source, "text/plain"))

	var lastProgress float64
	results, err := module.Preprocess(&types.PreprocessRequest{
		WorkspacePath:  workspacePath,
		BaseID:         1,
		ResourceHash:   []byte{0xAA},
		ResourcePath:   source,
		ContentType:    "text/plain",
		Interruption:   interruption.New(),
		ReportProgress: func(p float64) { lastProgress = p },
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, []byte{0xAA}, result.Hash)
	assert.Equal(t, "document.bin", result.Path)
	assert.False(t, result.FromCache)
	assert.Equal(t, 1.0, lastProgress)

	copied, err := os.ReadFile(filepath.Join(workspacePath, "document.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), copied)

	// the staging scratch dir was cleaned up after publishing
	entries, err := os.ReadDir(filepath.Join(workspacePath, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPreprocessReusesCache(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source.txt")
	require.NoError(t, os.WriteFile(source, []byte("content"), 0644))

	cachePath := filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(cachePath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cachePath, "document.bin"), []byte("content"), 0644))

	workspacePath := filepath.Join(dir, "ws")
	require.NoError(t, os.MkdirAll(workspacePath, 0755))

	module := New()
	results, err := module.Preprocess(&types.PreprocessRequest{
		WorkspacePath:   workspacePath,
		LatestCachePath: cachePath,
		BaseID:          1,
		ResourceHash:    []byte{0xAA},
		ResourcePath:    source,
		ContentType:     "text/plain",
		Interruption:    interruption.New(),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].FromCache)

	// nothing was written into the fresh workspace
	entries, err := os.ReadDir(workspacePath)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPreprocessHonorsInterruption(t *testing.T) {
	intr := interruption.New()
	intr.Interrupt()

	module := New()
	_, err := module.Preprocess(&types.PreprocessRequest{
		WorkspacePath: t.TempDir(),
		ResourcePath:  "irrelevant",
		Interruption:  intr,
	})
	assert.ErrorIs(t, err, interruption.ErrInterrupted)
}
