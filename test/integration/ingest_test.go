package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/knbase/pkg/filescanner"
	"github.com/cuemby/knbase/pkg/hub"
	"github.com/cuemby/knbase/pkg/passthrough"
	"github.com/cuemby/knbase/pkg/reporter"
	"github.com/cuemby/knbase/pkg/types"
)

// memoryIndex is an in-memory index module recording live documents
type memoryIndex struct {
	mu   sync.Mutex
	docs map[string]string // document hash hex → document path
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{docs: make(map[string]string)}
}

func (m *memoryIndex) ID() string             { return "memory-index" }
func (m *memoryIndex) Kind() types.ModuleKind { return types.ModuleKindIndex }

func (m *memoryIndex) Add(req *types.IndexRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[hex.EncodeToString(req.DocumentHash)] = req.DocumentPath
	return nil
}

func (m *memoryIndex) Remove(req *types.IndexRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, hex.EncodeToString(req.DocumentHash))
	return nil
}

func (m *memoryIndex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

type harness struct {
	t       *testing.T
	dataDir string
	baseDir string
	scanner *filescanner.Module
	index   *memoryIndex
	hub     *hub.Hub
	base    *types.KnowledgeBase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:       t,
		dataDir: filepath.Join(dir, "data"),
		baseDir: filepath.Join(dir, "base"),
		index:   newMemoryIndex(),
	}
	require.NoError(t, os.MkdirAll(h.dataDir, 0755))
	require.NoError(t, os.MkdirAll(h.baseDir, 0755))

	scanner, err := filescanner.New(filescanner.Config{
		DBPath:            filepath.Join(h.dataDir, "scanner.db"),
		PreprocessModules: map[string][]string{"*": {passthrough.ModuleID}},
		IndexModules:      []string{"memory-index"},
	})
	require.NoError(t, err)
	h.scanner = scanner
	t.Cleanup(func() { scanner.Close() })

	h.openHub()

	params, err := json.Marshal(filescanner.BaseParams{Path: h.baseDir})
	require.NoError(t, err)
	module, err := h.hub.ResourceModule(filescanner.ModuleID)
	require.NoError(t, err)
	base, err := h.hub.CreateKnowledgeBase(module, params)
	require.NoError(t, err)
	h.base = base
	return h
}

func (h *harness) openHub() {
	h.t.Helper()
	engine, err := hub.New(hub.Config{
		DBPath:         filepath.Join(h.dataDir, "knbase.db"),
		WorkspacePath:  filepath.Join(h.dataDir, "preprocess"),
		ScanWorkers:    2,
		ProcessWorkers: 2,
		Modules: []types.Module{
			h.scanner,
			passthrough.New(),
			h.index,
		},
	})
	require.NoError(h.t, err)
	h.hub = engine
	h.t.Cleanup(func() { engine.Close() })
}

func (h *harness) write(name, content string) {
	h.t.Helper()
	path := filepath.Join(h.baseDir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0644))
}

func (h *harness) document(content string) *types.DocumentDescription {
	h.t.Helper()
	hash := sha256.Sum256([]byte(content))
	preproc, err := h.hub.PreprocModule(passthrough.ModuleID)
	require.NoError(h.t, err)
	doc, err := h.hub.GetDocument(h.base, preproc, hash[:])
	require.NoError(h.t, err)
	return doc
}

func TestIngestLifecycle(t *testing.T) {
	h := newHarness(t)

	h.write("a.txt", "alpha")
	h.write("docs/b.txt", "beta")
	require.NoError(t, h.hub.Scan())

	// both files became indexed documents
	assert.Equal(t, 2, h.index.size())
	doc := h.document("alpha")
	require.NotNil(t, doc)
	content, err := os.ReadFile(doc.Path)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(content))

	// an unchanged second pass is a no-op
	require.NoError(t, h.hub.Scan())
	assert.Equal(t, 2, h.index.size())

	// updating a file replaces its document
	h.write("a.txt", "alpha-v2")
	require.NoError(t, h.hub.Scan())
	assert.Equal(t, 2, h.index.size())
	assert.Nil(t, h.document("alpha"))
	assert.NotNil(t, h.document("alpha-v2"))

	// deleting a file drops its document from the index
	require.NoError(t, os.Remove(filepath.Join(h.baseDir, "docs", "b.txt")))
	require.NoError(t, h.hub.Scan())
	assert.Equal(t, 1, h.index.size())
	assert.Nil(t, h.document("beta"))
}

func TestDuplicateContentIsIngestedOnce(t *testing.T) {
	h := newHarness(t)

	h.write("one.txt", "same content")
	h.write("two.txt", "same content")
	require.NoError(t, h.hub.Scan())

	// one document despite two resources
	assert.Equal(t, 1, h.index.size())

	hash := sha256.Sum256([]byte("same content"))
	resources, err := h.hub.GetResources(h.base, hash[:])
	require.NoError(t, err)
	assert.Len(t, resources, 2)

	// dropping one file keeps the shared document
	require.NoError(t, os.Remove(filepath.Join(h.baseDir, "one.txt")))
	require.NoError(t, h.hub.Scan())
	assert.Equal(t, 1, h.index.size())

	// dropping the last one removes it
	require.NoError(t, os.Remove(filepath.Join(h.baseDir, "two.txt")))
	require.NoError(t, h.hub.Scan())
	assert.Zero(t, h.index.size())
}

func TestEventBrokerPublishesScanLifecycle(t *testing.T) {
	h := newHarness(t)

	sub := h.hub.EventBroker().Subscribe()
	defer h.hub.EventBroker().Unsubscribe(sub)

	h.write("a.txt", "alpha")
	require.NoError(t, h.hub.Scan())

	// delivery is asynchronous; wait for the lifecycle bookends
	var sawBegin, sawComplete, sawPreproc bool
	timeout := time.After(2 * time.Second)
	for !sawBegin || !sawComplete || !sawPreproc {
		select {
		case event := <-sub:
			switch event.(type) {
			case *reporter.ScanBeginEvent:
				sawBegin = true
			case *reporter.ScanCompleteEvent:
				sawComplete = true
			case *reporter.PreprocessingCompleteEvent:
				sawPreproc = true
			}
		case <-timeout:
			t.Fatalf("missing events: begin=%v complete=%v preproc=%v", sawBegin, sawComplete, sawPreproc)
		}
	}
}

func TestRemoveKnowledgeBase(t *testing.T) {
	h := newHarness(t)

	h.write("a.txt", "alpha")
	require.NoError(t, h.hub.Scan())
	assert.Equal(t, 1, h.index.size())

	require.NoError(t, h.hub.RemoveKnowledgeBase(h.base))
	assert.Zero(t, h.index.size())

	bases, err := h.hub.GetKnowledgeBases()
	require.NoError(t, err)
	assert.Empty(t, bases)
}
