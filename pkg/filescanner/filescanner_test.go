package filescanner

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/knbase/pkg/types"
)

func newTestModule(t *testing.T) (*Module, string) {
	t.Helper()
	dir := t.TempDir()
	module, err := New(Config{
		DBPath:            filepath.Join(dir, "scanner.db"),
		PreprocessModules: map[string][]string{"*": {"passthrough"}},
		IndexModules:      []string{"fts-index"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { module.Close() })

	root := filepath.Join(dir, "base")
	require.NoError(t, os.MkdirAll(root, 0755))
	return module, root
}

func testBase(t *testing.T, root string) *types.KnowledgeBase {
	t.Helper()
	params, err := json.Marshal(BaseParams{Path: root})
	require.NoError(t, err)
	return &types.KnowledgeBase{ID: 1, ResourceParams: params}
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// collect drains a cursor, optionally confirming each event
func collect(t *testing.T, module *Module, base *types.KnowledgeBase, confirm bool) []*types.ResourceEvent {
	t.Helper()
	cursor, err := module.Scan(base)
	require.NoError(t, err)
	defer cursor.Close()

	var events []*types.ResourceEvent
	for {
		event, ok, err := cursor.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		events = append(events, event)
		if confirm {
			require.NoError(t, module.CompleteEvent(event))
		}
	}
	require.NoError(t, module.CompleteScanning(base))
	return events
}

func TestFirstScanYieldsCreates(t *testing.T) {
	module, root := newTestModule(t)
	base := testBase(t, root)

	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "sub/b.pdf", "beta")

	events := collect(t, module, base, true)
	require.Len(t, events, 2)

	byID := map[string]*types.ResourceEvent{}
	for _, event := range events {
		assert.Equal(t, types.UpdatingCreate, event.Updating)
		byID[event.Resource.ID] = event
	}
	require.Contains(t, byID, "a.txt")
	require.Contains(t, byID, "sub/b.pdf")

	wantHash := sha256.Sum256([]byte("alpha"))
	assert.Equal(t, wantHash[:], byID["a.txt"].Resource.Hash)
	assert.Equal(t, "text/plain", byID["a.txt"].Resource.ContentType)
	assert.Equal(t, "application/pdf", byID["sub/b.pdf"].Resource.ContentType)
	assert.Equal(t, filepath.Join(root, "a.txt"), byID["a.txt"].Path)
}

func TestRescanAfterConfirmIsQuiet(t *testing.T) {
	module, root := newTestModule(t)
	base := testBase(t, root)

	writeFile(t, root, "a.txt", "alpha")
	require.Len(t, collect(t, module, base, true), 1)

	// nothing changed: nothing to report
	assert.Empty(t, collect(t, module, base, true))
}

func TestUnconfirmedEventsReappear(t *testing.T) {
	module, root := newTestModule(t)
	base := testBase(t, root)

	writeFile(t, root, "a.txt", "alpha")

	// consumed but never confirmed: the checkpoint does not move
	events := collect(t, module, base, false)
	require.Len(t, events, 1)

	events = collect(t, module, base, true)
	require.Len(t, events, 1)
	assert.Equal(t, types.UpdatingCreate, events[0].Updating)
}

func TestChangedFileYieldsUpdate(t *testing.T) {
	module, root := newTestModule(t)
	base := testBase(t, root)

	writeFile(t, root, "a.txt", "alpha")
	collect(t, module, base, true)

	// rewrite with different content and mtime
	time.Sleep(5 * time.Millisecond)
	writeFile(t, root, "a.txt", "alpha two")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), past, past))

	events := collect(t, module, base, true)
	require.Len(t, events, 1)
	assert.Equal(t, types.UpdatingUpdate, events[0].Updating)
	wantHash := sha256.Sum256([]byte("alpha two"))
	assert.Equal(t, wantHash[:], events[0].Resource.Hash)
}

func TestDeletedFileYieldsDeleteWithRecordedHash(t *testing.T) {
	module, root := newTestModule(t)
	base := testBase(t, root)

	writeFile(t, root, "a.txt", "alpha")
	collect(t, module, base, true)

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))

	events := collect(t, module, base, true)
	require.Len(t, events, 1)
	assert.Equal(t, types.UpdatingDelete, events[0].Updating)
	wantHash := sha256.Sum256([]byte("alpha"))
	assert.Equal(t, wantHash[:], events[0].Resource.Hash)

	// and the delete is durable too
	assert.Empty(t, collect(t, module, base, true))
}

func TestEventIDsIncrease(t *testing.T) {
	module, root := newTestModule(t)
	base := testBase(t, root)

	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "b.txt", "beta")

	events := collect(t, module, base, true)
	require.Len(t, events, 2)
	assert.Less(t, events[0].ID, events[1].ID)
}

func TestRouting(t *testing.T) {
	module, err := New(Config{
		DBPath: filepath.Join(t.TempDir(), "scanner.db"),
		PreprocessModules: map[string][]string{
			"application/pdf": {"pdf-parser"},
			"*":               {"passthrough"},
		},
		IndexModules: []string{"fts-index", "vector-index"},
	})
	require.NoError(t, err)
	defer module.Close()

	base := &types.KnowledgeBase{ID: 1}
	assert.Equal(t, []string{"pdf-parser"}, module.PreprocessModuleIDs(base, "application/pdf"))
	assert.Equal(t, []string{"passthrough"}, module.PreprocessModuleIDs(base, "text/plain"))
	assert.Equal(t, []string{"fts-index", "vector-index"}, module.IndexModuleIDs(base))
}

func TestContentTypes(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeOf("x/y.pdf"))
	assert.Equal(t, "text/plain", contentTypeOf("notes.txt"))
	assert.Equal(t, "text/markdown", contentTypeOf("README.md"))
	assert.Equal(t, "application/octet-stream", contentTypeOf("blob.weird"))
}
