package filescanner

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/knbase/pkg/log"
	"github.com/cuemby/knbase/pkg/types"
)

// ModuleID is the stable string id of the file scanner
const ModuleID = "file-scanner"

// BaseParams is the per-base configuration stored in the knowledge base
// row: the root directory to ingest.
type BaseParams struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// Config holds module construction parameters
type Config struct {
	// DBPath is the checkpoint database file
	DBPath string

	// PreprocessModules routes a content type to preprocessing module ids;
	// the "*" key is the fallback for unmatched types.
	PreprocessModules map[string][]string

	// IndexModules lists the index module ids of every base of this module
	IndexModules []string
}

// Module is a ResourceModule that ingests a directory tree. Each scan is a
// full pass diffed against a durable per-base checkpoint, yielding
// create/update/delete events; an event's checkpoint mutation commits only
// when the engine confirms it with CompleteEvent, so an aborted scan
// re-emits unconsumed events on the next pass.
type Module struct {
	db            *bolt.DB
	preprocessMap map[string][]string
	indexModules  []string
	logger        zerolog.Logger

	mu     sync.Mutex
	staged map[int64]map[int64]*stagedEvent // base id → event id → staged mutation
}

// New opens the checkpoint store and creates the module
func New(cfg Config) (*Module, error) {
	db, err := bolt.Open(cfg.DBPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Module{
		db:            db,
		preprocessMap: cfg.PreprocessModules,
		indexModules:  cfg.IndexModules,
		logger:        log.WithComponent("filescanner"),
		staged:        make(map[int64]map[int64]*stagedEvent),
	}, nil
}

// Close closes the checkpoint store
func (m *Module) Close() error {
	return m.db.Close()
}

// ID returns the module's stable string id
func (m *Module) ID() string {
	return ModuleID
}

// Kind returns the module role
func (m *Module) Kind() types.ModuleKind {
	return types.ModuleKindResource
}

// Scan starts a full diff pass over the base's directory
func (m *Module) Scan(base *types.KnowledgeBase) (types.EventCursor, error) {
	var params BaseParams
	if err := json.Unmarshal(base.ResourceParams, &params); err != nil {
		return nil, fmt.Errorf("invalid base params: %w", err)
	}
	if params.Path == "" {
		return nil, fmt.Errorf("base %d has no path configured", base.ID)
	}

	pending, err := m.diff(base.ID, params.Path)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().
		Int64("base_id", base.ID).
		Str("path", params.Path).
		Int("pending", len(pending)).
		Msg("scan pass computed")

	return &cursor{
		module:   m,
		base:     base,
		rootPath: params.Path,
		pending:  pending,
	}, nil
}

// CompleteEvent durably applies the event's checkpoint mutation
func (m *Module) CompleteEvent(event *types.ResourceEvent) error {
	m.mu.Lock()
	baseStaged := m.staged[event.Resource.Base.ID]
	staged := baseStaged[event.ID]
	delete(baseStaged, event.ID)
	m.mu.Unlock()

	if staged == nil {
		return nil
	}
	return m.commitStaged(event.Resource.Base.ID, staged)
}

// CompleteScanning drops whatever the scan left staged; unconsumed events
// reappear on the next pass.
func (m *Module) CompleteScanning(base *types.KnowledgeBase) error {
	m.mu.Lock()
	delete(m.staged, base.ID)
	m.mu.Unlock()
	return nil
}

// PreprocessModuleIDs routes a content type through the configured map,
// falling back to the "*" entry.
func (m *Module) PreprocessModuleIDs(base *types.KnowledgeBase, contentType string) []string {
	if ids, ok := m.preprocessMap[contentType]; ok {
		return ids
	}
	return m.preprocessMap["*"]
}

// IndexModuleIDs returns the configured index modules
func (m *Module) IndexModuleIDs(base *types.KnowledgeBase) []string {
	return m.indexModules
}

func (m *Module) stageEvent(baseID, eventID int64, staged *stagedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	baseStaged, ok := m.staged[baseID]
	if !ok {
		baseStaged = make(map[int64]*stagedEvent)
		m.staged[baseID] = baseStaged
	}
	baseStaged[eventID] = staged
}

var _ types.ResourceModule = (*Module)(nil)
