package reporter

import (
	"sync"

	"github.com/cuemby/knbase/pkg/types"
)

// Listener receives every reported event. It is called from hub and worker
// goroutines and must be safe for concurrent use.
type Listener func(Event)

// Reporter surfaces the typed observability events of the hubs and the
// state machine to one user-supplied listener. Event ids increase
// monotonically; a nil listener makes every report a no-op.
type Reporter struct {
	listener Listener
	mu       sync.Mutex
	nextID   int64
}

// New creates a reporter. listener may be nil.
func New(listener Listener) *Reporter {
	return &Reporter{listener: listener}
}

func (r *Reporter) generateID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// ReportScanBegin reports a starting base scan and returns its event id
func (r *Reporter) ReportScanBegin(base *types.KnowledgeBase) int64 {
	if r.listener == nil {
		return -1
	}
	id := r.generateID()
	r.listener(&ScanBeginEvent{ID: id, Base: base})
	return id
}

// ReportScanDone closes a base scan, as complete or failed
func (r *Reporter) ReportScanDone(id int64, base *types.KnowledgeBase, err error) {
	if r.listener == nil {
		return
	}
	if err == nil {
		r.listener(&ScanCompleteEvent{ID: id, Base: base})
	} else {
		r.listener(&ScanFailEvent{ID: id, Base: base, Err: err})
	}
}

// ReportResourceEvent reports one resource delta observed during a scan
func (r *Reporter) ReportResourceEvent(event *types.ResourceEvent) {
	if r.listener == nil {
		return
	}
	r.listener(&ScanResourceEvent{
		ID:          r.generateID(),
		Base:        event.Resource.Base,
		Path:        event.Path,
		Hash:        event.Resource.Hash,
		ContentType: event.Resource.ContentType,
		Updating:    event.Updating,
	})
}

// ReportPreprocBegin reports a starting preprocessing run
func (r *Reporter) ReportPreprocBegin(event *types.PreprocessingEvent) int64 {
	if r.listener == nil {
		return -1
	}
	id := r.generateID()
	r.listener(&PreprocessingBeginEvent{
		ID:          id,
		Base:        event.Base,
		Path:        event.ResourcePath,
		Hash:        event.ResourceHash,
		ContentType: event.ContentType,
		Module:      event.Module,
	})
	return id
}

// ReportPreprocProgress forwards a progress fraction of a running run
func (r *Reporter) ReportPreprocProgress(event *types.PreprocessingEvent, progress float64) {
	if r.listener == nil {
		return
	}
	r.listener(&PreprocessingProgressEvent{
		ID:          event.ProtoEventID,
		Base:        event.Base,
		Path:        event.ResourcePath,
		Hash:        event.ResourceHash,
		ContentType: event.ContentType,
		Progress:    progress,
	})
}

// ReportPreprocDone closes a preprocessing run, as complete with its
// produced documents or as failed.
func (r *Reporter) ReportPreprocDone(id int64, event *types.PreprocessingEvent, documents []*types.DocumentDescription, err error) {
	if r.listener == nil {
		return
	}
	if err != nil {
		r.listener(&PreprocessingFailEvent{
			ID:          id,
			Base:        event.Base,
			Path:        event.ResourcePath,
			Hash:        event.ResourceHash,
			ContentType: event.ContentType,
			Module:      event.Module,
			Err:         err,
		})
		return
	}
	hashes := make([][]byte, 0, len(documents))
	for _, doc := range documents {
		hashes = append(hashes, doc.DocumentHash)
	}
	r.listener(&PreprocessingCompleteEvent{
		ID:             id,
		Base:           event.Base,
		Path:           event.ResourcePath,
		Hash:           event.ResourceHash,
		ContentType:    event.ContentType,
		Module:         event.Module,
		DocumentHashes: hashes,
	})
}

// ReportHandleIndexBegin reports a starting index operation
func (r *Reporter) ReportHandleIndexBegin(event *types.HandleIndexEvent) int64 {
	if r.listener == nil {
		return -1
	}
	id := r.generateID()
	r.listener(&HandleIndexBeginEvent{
		ID:       id,
		Base:     event.Base,
		Hash:     event.DocumentHash,
		Module:   event.IndexModule,
		Updating: operationToUpdating(event.Operation),
	})
	return id
}

// ReportHandleIndexProgress forwards a progress fraction
func (r *Reporter) ReportHandleIndexProgress(event *types.HandleIndexEvent, progress float64) {
	if r.listener == nil {
		return
	}
	r.listener(&HandleIndexProgressEvent{
		ID:       event.ProtoEventID,
		Base:     event.Base,
		Hash:     event.DocumentHash,
		Module:   event.IndexModule,
		Updating: operationToUpdating(event.Operation),
		Progress: progress,
	})
}

// ReportHandleIndexDone closes an index operation
func (r *Reporter) ReportHandleIndexDone(id int64, event *types.HandleIndexEvent, err error) {
	if r.listener == nil {
		return
	}
	if err == nil {
		r.listener(&HandleIndexCompleteEvent{
			ID:       id,
			Base:     event.Base,
			Hash:     event.DocumentHash,
			Module:   event.IndexModule,
			Updating: operationToUpdating(event.Operation),
		})
	} else {
		r.listener(&HandleIndexFailEvent{
			ID:       id,
			Base:     event.Base,
			Hash:     event.DocumentHash,
			Module:   event.IndexModule,
			Updating: operationToUpdating(event.Operation),
			Err:      err,
		})
	}
}

func operationToUpdating(operation types.IndexOperation) types.Updating {
	if operation == types.IndexOpCreate {
		return types.UpdatingCreate
	}
	return types.UpdatingDelete
}
