package processhub

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/knbase/pkg/interruption"
	"github.com/cuemby/knbase/pkg/machine"
	"github.com/cuemby/knbase/pkg/reporter"
	"github.com/cuemby/knbase/pkg/storage"
	"github.com/cuemby/knbase/pkg/types"
	"github.com/cuemby/knbase/pkg/workspace"
)

// staticResourceModule only declares routing; resource mutations are
// driven directly through the machine.
type staticResourceModule struct {
	indexIDs []string
}

func (s *staticResourceModule) ID() string { return "static-resource" }
func (s *staticResourceModule) Kind() types.ModuleKind { return types.ModuleKindResource }
func (s *staticResourceModule) Scan(base *types.KnowledgeBase) (types.EventCursor, error) {
	return nil, fmt.Errorf("not scannable")
}
func (s *staticResourceModule) CompleteEvent(event *types.ResourceEvent) error { return nil }
func (s *staticResourceModule) CompleteScanning(base *types.KnowledgeBase) error { return nil }
func (s *staticResourceModule) PreprocessModuleIDs(base *types.KnowledgeBase, contentType string) []string {
	return []string{"writing-preproc"}
}
func (s *staticResourceModule) IndexModuleIDs(base *types.KnowledgeBase) []string {
	return s.indexIDs
}

// writingPreproc writes one derived file into the workspace, or serves it
// from the latest cache when available.
type writingPreproc struct {
	mu        sync.Mutex
	calls     int
	cacheHits int
	failures  int
	failNext  bool
	accept    bool
}

func (w *writingPreproc) ID() string { return "writing-preproc" }
func (w *writingPreproc) Kind() types.ModuleKind { return types.ModuleKindPreprocessing }

func (w *writingPreproc) Acceptant(baseID int64, resourceHash []byte, resourcePath string, contentType string) bool {
	return w.accept
}

func (w *writingPreproc) Preprocess(req *types.PreprocessRequest) ([]*types.PreprocessingResult, error) {
	w.mu.Lock()
	w.calls++
	fail := w.failNext
	w.failNext = false
	w.mu.Unlock()

	if fail {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		return nil, fmt.Errorf("preprocessing blew up")
	}
	if req.ReportProgress != nil {
		req.ReportProgress(0.5)
	}

	const outName = "derived.txt"
	if req.LatestCachePath != "" {
		if _, err := os.Stat(filepath.Join(req.LatestCachePath, outName)); err == nil {
			w.mu.Lock()
			w.cacheHits++
			w.mu.Unlock()
			return []*types.PreprocessingResult{{
				Hash:      append([]byte{0xD0}, req.ResourceHash...),
				Path:      outName,
				Meta:      []byte(`null`),
				FromCache: true,
			}}, nil
		}
	}

	err := os.WriteFile(filepath.Join(req.WorkspacePath, outName), req.ResourceHash, 0644)
	if err != nil {
		return nil, err
	}
	return []*types.PreprocessingResult{{
		Hash: append([]byte{0xD0}, req.ResourceHash...),
		Path: outName,
		Meta: []byte(`null`),
	}}, nil
}

// recordingIndex records adds and removes by document hash
type recordingIndex struct {
	mu        sync.Mutex
	added     [][]byte
	removed   [][]byte
	interrupt bool
}

func (r *recordingIndex) ID() string { return "recording-index" }
func (r *recordingIndex) Kind() types.ModuleKind { return types.ModuleKindIndex }

func (r *recordingIndex) Add(req *types.IndexRequest) error {
	if r.interrupt {
		req.Interruption.Interrupt()
		return req.Interruption.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, req.DocumentHash)
	return nil
}

func (r *recordingIndex) Remove(req *types.IndexRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, req.DocumentHash)
	return nil
}

type env struct {
	t        *testing.T
	store    *storage.Store
	machine  *machine.Machine
	layout   *workspace.Layout
	intr     *interruption.Interruption
	hub      *Hub
	base     *types.KnowledgeBase
	preproc  *writingPreproc
	index    *recordingIndex
	resource *staticResourceModule
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "processhub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	layout, err := workspace.New(filepath.Join(dir, "preprocess"))
	require.NoError(t, err)

	e := &env{
		t:        t,
		store:    store,
		layout:   layout,
		intr:     interruption.New(),
		preproc:  &writingPreproc{accept: true},
		index:    &recordingIndex{},
		resource: &staticResourceModule{indexIDs: []string{"recording-index"}},
	}
	e.machine, err = machine.New(store, []types.Module{e.resource, e.preproc, e.index})
	require.NoError(t, err)

	e.base, err = e.machine.CreateKnowledgeBase(e.resource, []byte(`{}`))
	require.NoError(t, err)

	e.hub = New(e.machine, e.intr, layout, reporter.New(nil))
	t.Cleanup(e.hub.Shutdown)
	return e
}

func (e *env) put(eventID int64, id string, hash byte) {
	e.t.Helper()
	require.NoError(e.t, e.machine.PutResource(eventID, &types.Resource{
		ID:          id,
		Base:        e.base,
		Hash:        []byte{hash},
		ContentType: "text/plain",
		Meta:        []byte(`{}`),
		UpdatedAt:   1,
	}, "/data/"+id))
}

func (e *env) remove(eventID int64, id string, hash byte) {
	e.t.Helper()
	require.NoError(e.t, e.machine.RemoveResource(eventID, &types.Resource{
		ID:          id,
		Base:        e.base,
		Hash:        []byte{hash},
		ContentType: "text/plain",
		Meta:        []byte(`{}`),
		UpdatedAt:   1,
	}))
}

func (e *env) count(query string) int64 {
	e.t.Helper()
	var count int64
	require.NoError(e.t, e.store.DB().QueryRow(query).Scan(&count))
	return count
}

func TestProcessToQuiescence(t *testing.T) {
	e := newEnv(t)

	e.machine.GotoScanning()
	e.put(1, "a.txt", 0xAA)

	require.NoError(t, e.hub.StartLoop(2))

	// quiescent: the document exists, was indexed, and nothing is pending
	assert.Equal(t, int64(1), e.count("SELECT COUNT(*) FROM documents"))
	assert.Zero(t, e.count("SELECT COUNT(*) FROM preproc_tasks"))
	assert.Zero(t, e.count("SELECT COUNT(*) FROM index_tasks"))
	require.Len(t, e.index.added, 1)
	assert.Equal(t, append([]byte{0xD0}, 0xAA), e.index.added[0])

	// the derived file landed in the workspace
	derived := filepath.Join(e.layout.Dir(e.base.ID, []byte{0xAA}, "writing-preproc"), "derived.txt")
	_, err := os.Stat(derived)
	assert.NoError(t, err)

	e.machine.GotoSetting()
}

func TestRemovalCleansUpDocumentAndWorkspace(t *testing.T) {
	e := newEnv(t)

	e.machine.GotoScanning()
	e.put(1, "a.txt", 0xAA)
	require.NoError(t, e.hub.StartLoop(2))
	e.machine.GotoSetting()

	workspaceDir := e.layout.Dir(e.base.ID, []byte{0xAA}, "writing-preproc")
	_, err := os.Stat(workspaceDir)
	require.NoError(t, err)

	e.machine.GotoScanning()
	e.remove(2, "a.txt", 0xAA)
	require.NoError(t, e.hub.StartLoop(2))

	assert.Zero(t, e.count("SELECT COUNT(*) FROM documents"))
	require.Len(t, e.index.removed, 1)

	// the removed-resource event reclaimed the on-disk tree
	_, err = os.Stat(workspaceDir)
	assert.True(t, os.IsNotExist(err))

	e.machine.GotoSetting()
}

func TestUpdateReusesLatestCache(t *testing.T) {
	e := newEnv(t)

	e.machine.GotoScanning()
	e.put(1, "a.txt", 0xAA)
	require.NoError(t, e.hub.StartLoop(2))
	e.machine.GotoSetting()

	e.machine.GotoScanning()
	e.put(2, "a.txt", 0xBB)
	require.NoError(t, e.hub.StartLoop(2))

	// second run found the prior workspace through the from-resource hash
	assert.Equal(t, 1, e.preproc.cacheHits)

	// old document replaced by the new one
	assert.Equal(t, int64(1), e.count("SELECT COUNT(*) FROM documents"))
	require.Len(t, e.index.removed, 1)
	require.Len(t, e.index.added, 2)

	e.machine.GotoSetting()
}

func TestNotAcceptantCompletesWithNoDocuments(t *testing.T) {
	e := newEnv(t)
	e.preproc.accept = false

	e.machine.GotoScanning()
	e.put(1, "a.txt", 0xAA)
	require.NoError(t, e.hub.StartLoop(1))

	assert.Zero(t, e.count("SELECT COUNT(*) FROM preproc_tasks"))
	assert.Zero(t, e.count("SELECT COUNT(*) FROM documents"))
	assert.Zero(t, e.preproc.calls)

	e.machine.GotoSetting()
}

func TestFailedPreprocessingTaskIsRetriedNextPass(t *testing.T) {
	e := newEnv(t)
	e.preproc.failNext = true

	e.machine.GotoScanning()
	e.put(1, "a.txt", 0xAA)
	require.NoError(t, e.hub.StartLoop(1))

	// the failed task is still persisted with a bumped retry count
	assert.Equal(t, int64(1), e.count("SELECT COUNT(*) FROM preproc_tasks"))
	assert.Equal(t, int64(1), e.count("SELECT COUNT(*) FROM preproc_tasks WHERE retry_count = 1"))
	assert.Zero(t, e.count("SELECT COUNT(*) FROM documents"))
	assert.Equal(t, 1, e.preproc.failures)

	// the loop still reached quiescence; a later pass picks the task up
	e.machine.GotoScanning()
	require.NoError(t, e.hub.StartLoop(1))

	assert.Zero(t, e.count("SELECT COUNT(*) FROM preproc_tasks"))
	assert.Equal(t, int64(1), e.count("SELECT COUNT(*) FROM documents"))

	e.machine.GotoSetting()
}

func TestInterruptionLeavesTaskPending(t *testing.T) {
	e := newEnv(t)
	e.index.interrupt = true

	e.machine.GotoScanning()
	e.put(1, "a.txt", 0xAA)

	err := e.hub.StartLoop(1)
	assert.ErrorIs(t, err, interruption.ErrInterrupted)

	// the index task survived the interruption
	assert.Equal(t, int64(1), e.count("SELECT COUNT(*) FROM index_tasks"))
	assert.Empty(t, e.index.added)

	// next pass completes it
	e.index.interrupt = false
	e.intr.Reset()
	e.machine.GotoScanning()
	require.NoError(t, e.hub.StartLoop(1))
	assert.Zero(t, e.count("SELECT COUNT(*) FROM index_tasks"))
	assert.Len(t, e.index.added, 1)

	e.machine.GotoSetting()
}
