package types

import (
	"encoding/json"

	"github.com/cuemby/knbase/pkg/interruption"
)

// ModuleKind discriminates the three plugin module roles
type ModuleKind int

const (
	ModuleKindResource ModuleKind = iota
	ModuleKindPreprocessing
	ModuleKindIndex
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleKindResource:
		return "resource"
	case ModuleKindPreprocessing:
		return "preprocessing"
	case ModuleKindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Module is implemented by every plugin module. The string ID is stable
// across restarts; the registry binds it to a persisted integer id.
type Module interface {
	ID() string
	Kind() ModuleKind
}

// KnowledgeBase represents a user-registered root whose contents are
// ingested. ResourceParams is the module-specific configuration (for the
// file scanner, the root directory path).
type KnowledgeBase struct {
	ID             int64
	ResourceModule ResourceModule
	ResourceParams json.RawMessage
}

// Resource is a discrete named object inside a base. Its identity is
// (base, ID); its content identity is Hash. Multiple resources may share
// one hash, and all ingestion work is keyed by hash.
type Resource struct {
	ID          string
	Base        *KnowledgeBase
	Hash        []byte
	ContentType string
	Meta        json.RawMessage
	UpdatedAt   int64
}

// Updating classifies a resource event
type Updating int

const (
	UpdatingCreate Updating = iota
	UpdatingUpdate
	UpdatingDelete
)

func (u Updating) String() string {
	switch u {
	case UpdatingCreate:
		return "create"
	case UpdatingUpdate:
		return "update"
	case UpdatingDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ResourceEvent is one element of a scan's event stream
type ResourceEvent struct {
	ID       int64
	Resource *Resource
	Path     string
	Updating Updating
}

// EventCursor is the finite, single-pass iterator a resource module's Scan
// returns. Next reports ok=false once the stream is exhausted; Close
// releases whatever the cursor holds and is safe to call after exhaustion.
type EventCursor interface {
	Next() (event *ResourceEvent, ok bool, err error)
	Close() error
}

// ResourceModule produces the resource event stream for a base and declares
// which preprocessing and index modules apply to it.
type ResourceModule interface {
	Module

	// Scan starts a fresh pass over the base. The cursor is not restartable.
	Scan(base *KnowledgeBase) (EventCursor, error)

	// CompleteEvent durably marks the event consumed. It is called after the
	// state machine has committed the event's effect.
	CompleteEvent(event *ResourceEvent) error

	// CompleteScanning durably marks the whole scan consumed
	CompleteScanning(base *KnowledgeBase) error

	// PreprocessModuleIDs lists the preprocessing modules that apply to a
	// content type within this base.
	PreprocessModuleIDs(base *KnowledgeBase, contentType string) []string

	// IndexModuleIDs lists the index modules of this base
	IndexModuleIDs(base *KnowledgeBase) []string
}

// PreprocessRequest carries everything a preprocessing run needs. The
// workspace directory exists and is exclusively owned by this invocation;
// LatestCachePath points at the workspace of a previous preprocessing of a
// related resource, or is empty.
type PreprocessRequest struct {
	WorkspacePath   string
	LatestCachePath string
	BaseID          int64
	ResourceHash    []byte
	ResourcePath    string
	ContentType     string
	ReportProgress  func(progress float64)
	Interruption    *interruption.Interruption
}

// PreprocessingResult describes one derived file. Path is relative to the
// workspace, or to the latest cache when FromCache is set. The module
// guarantees (file content, resource hash) is deterministic so unchanged
// resources yield byte-identical derived files.
type PreprocessingResult struct {
	Hash      []byte
	Path      string
	Meta      json.RawMessage
	FromCache bool
}

// PreprocessingModule turns one unique resource content into derived
// documents.
type PreprocessingModule interface {
	Module
	Acceptant(baseID int64, resourceHash []byte, resourcePath string, contentType string) bool
	Preprocess(req *PreprocessRequest) ([]*PreprocessingResult, error)
}

// IndexOperation is the direction of an index task
type IndexOperation int

const (
	IndexOpCreate IndexOperation = iota
	IndexOpRemove
)

func (op IndexOperation) String() string {
	switch op {
	case IndexOpCreate:
		return "create"
	case IndexOpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// IndexRequest carries one document add or remove to an index module
type IndexRequest struct {
	Base           *KnowledgeBase
	PreprocModule  PreprocessingModule
	DocumentHash   []byte
	DocumentPath   string
	DocumentMeta   json.RawMessage
	ReportProgress func(progress float64)
	Interruption   *interruption.Interruption
}

// IndexModule maintains one search index over documents
type IndexModule interface {
	Module
	Add(req *IndexRequest) error
	Remove(req *IndexRequest) error
}

// Document is a derived artifact produced by a preprocessing module.
// Identity is (preprocessing module, base, DocumentHash); ResourceHash
// records the first content that produced it. Rows are immutable once
// appended and deleted when their reference count reaches zero.
type Document struct {
	ID            int64
	PreprocModule PreprocessingModule
	Base          *KnowledgeBase
	ResourceHash  []byte
	DocumentHash  []byte
	Path          string
	Meta          json.RawMessage
}

// DocumentDescription is what a preprocessing worker hands back to the
// state machine for each produced document. Path is absolute.
type DocumentDescription struct {
	Base          *KnowledgeBase
	PreprocModule PreprocessingModule
	ResourceHash  []byte
	DocumentHash  []byte
	Path          string
	Meta          json.RawMessage
}

// FromResource names the prior content a resource update replaced
type FromResource struct {
	Hash        []byte
	ContentType string
}

// PreprocessingEvent is a popped preprocessing task ready for dispatch
type PreprocessingEvent struct {
	ProtoEventID     int64
	TaskID           int64
	Base             *KnowledgeBase
	Module           PreprocessingModule
	ResourceHash     []byte
	FromResourceHash []byte
	ResourcePath     string
	ContentType      string
	CreatedAt        int64
}

// HandleIndexEvent is a popped index task ready for dispatch
type HandleIndexEvent struct {
	ProtoEventID  int64
	TaskID        int64
	Base          *KnowledgeBase
	PreprocModule PreprocessingModule
	IndexModule   IndexModule
	Operation     IndexOperation
	DocumentHash  []byte
	DocumentPath  string
	DocumentMeta  json.RawMessage
	CreatedAt     int64
}

// RemovedResourceEvent signals that a content hash has no live referents
// left in a base and its on-disk workspace can be reclaimed.
type RemovedResourceEvent struct {
	ProtoEventID int64
	Hash         []byte
	Base         *KnowledgeBase
}
