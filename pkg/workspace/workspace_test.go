package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "preprocess")
	layout, err := New(root)
	require.NoError(t, err)

	dir := layout.Dir(3, []byte{0xAB, 0xCD}, "pdf-parser")
	assert.Equal(t, filepath.Join(root, "3", "abcd", "pdf-parser"), dir)
}

func TestEnsureAndRemove(t *testing.T) {
	layout, err := New(filepath.Join(t.TempDir(), "preprocess"))
	require.NoError(t, err)
	hash := []byte{0x01}

	dir, err := layout.EnsureDir(1, hash, "mod")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("x"), 0644))

	assert.Equal(t, dir, layout.LatestCacheDir(1, hash, "mod"))
	assert.Empty(t, layout.LatestCacheDir(1, []byte{0x02}, "mod"))

	require.NoError(t, layout.RemoveResourceDir(1, hash))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// removing again is fine
	require.NoError(t, layout.RemoveResourceDir(1, hash))
}

func TestScratchDirsAreUnique(t *testing.T) {
	parent := t.TempDir()

	first, err := ScratchDir(parent)
	require.NoError(t, err)
	second, err := ScratchDir(parent)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, filepath.Join(parent, "tmp")))

	// both exist and are writable
	require.NoError(t, os.WriteFile(filepath.Join(first, "staged"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "staged"), []byte("x"), 0644))
}
