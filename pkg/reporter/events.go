package reporter

import (
	"github.com/cuemby/knbase/pkg/types"
)

// Event is one typed observability event. IDs are generated by the
// reporter and increase monotonically; done events reuse the id of their
// begin event so consumers can correlate them, and progress events carry
// the ProtoEventID of the task they report on.
type Event interface {
	EventID() int64
}

// ScanBeginEvent opens a base's scan
type ScanBeginEvent struct {
	ID   int64
	Base *types.KnowledgeBase
}

// ScanResourceEvent reports one resource delta observed during a scan
type ScanResourceEvent struct {
	ID          int64
	Base        *types.KnowledgeBase
	Path        string
	Hash        []byte
	ContentType string
	Updating    types.Updating
}

// ScanCompleteEvent closes a base's scan
type ScanCompleteEvent struct {
	ID   int64
	Base *types.KnowledgeBase
}

// ScanFailEvent closes a base's scan with an error
type ScanFailEvent struct {
	ID   int64
	Base *types.KnowledgeBase
	Err  error
}

// PreprocessingBeginEvent opens one preprocessing run
type PreprocessingBeginEvent struct {
	ID          int64
	Base        *types.KnowledgeBase
	Path        string
	Hash        []byte
	ContentType string
	Module      types.PreprocessingModule
}

// PreprocessingProgressEvent reports a fraction of a running preprocessing
type PreprocessingProgressEvent struct {
	ID          int64
	Base        *types.KnowledgeBase
	Path        string
	Hash        []byte
	ContentType string
	Progress    float64
}

// PreprocessingCompleteEvent closes a preprocessing run with its produced
// document hashes.
type PreprocessingCompleteEvent struct {
	ID             int64
	Base           *types.KnowledgeBase
	Path           string
	Hash           []byte
	ContentType    string
	Module         types.PreprocessingModule
	DocumentHashes [][]byte
}

// PreprocessingFailEvent closes a preprocessing run with an error
type PreprocessingFailEvent struct {
	ID          int64
	Base        *types.KnowledgeBase
	Path        string
	Hash        []byte
	ContentType string
	Module      types.PreprocessingModule
	Err         error
}

// HandleIndexBeginEvent opens one index add or remove
type HandleIndexBeginEvent struct {
	ID       int64
	Base     *types.KnowledgeBase
	Hash     []byte
	Module   types.IndexModule
	Updating types.Updating
}

// HandleIndexProgressEvent reports a fraction of a running index operation
type HandleIndexProgressEvent struct {
	ID       int64
	Base     *types.KnowledgeBase
	Hash     []byte
	Module   types.IndexModule
	Updating types.Updating
	Progress float64
}

// HandleIndexCompleteEvent closes an index operation
type HandleIndexCompleteEvent struct {
	ID       int64
	Base     *types.KnowledgeBase
	Hash     []byte
	Module   types.IndexModule
	Updating types.Updating
}

// HandleIndexFailEvent closes an index operation with an error
type HandleIndexFailEvent struct {
	ID       int64
	Base     *types.KnowledgeBase
	Hash     []byte
	Module   types.IndexModule
	Updating types.Updating
	Err      error
}

func (e *ScanBeginEvent) EventID() int64 { return e.ID }
func (e *ScanResourceEvent) EventID() int64 { return e.ID }
func (e *ScanCompleteEvent) EventID() int64 { return e.ID }
func (e *ScanFailEvent) EventID() int64 { return e.ID }
func (e *PreprocessingBeginEvent) EventID() int64 { return e.ID }
func (e *PreprocessingProgressEvent) EventID() int64 { return e.ID }
func (e *PreprocessingCompleteEvent) EventID() int64 { return e.ID }
func (e *PreprocessingFailEvent) EventID() int64 { return e.ID }
func (e *HandleIndexBeginEvent) EventID() int64 { return e.ID }
func (e *HandleIndexProgressEvent) EventID() int64 { return e.ID }
func (e *HandleIndexCompleteEvent) EventID() int64 { return e.ID }
func (e *HandleIndexFailEvent) EventID() int64 { return e.ID }
