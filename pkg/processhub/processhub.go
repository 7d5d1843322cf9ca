package processhub

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/knbase/pkg/interruption"
	"github.com/cuemby/knbase/pkg/log"
	"github.com/cuemby/knbase/pkg/machine"
	"github.com/cuemby/knbase/pkg/metrics"
	"github.com/cuemby/knbase/pkg/reporter"
	"github.com/cuemby/knbase/pkg/threadpool"
	"github.com/cuemby/knbase/pkg/types"
	"github.com/cuemby/knbase/pkg/workspace"
)

// continuation is what a worker hands back to the orchestrating goroutine.
// The worker itself never mutates persisted state; the continuation does,
// applied on the main loop. A nil continuation means nothing to apply.
type continuation func() error

// Hub drains the state machine's three event streams under PROCESSING,
// dispatches each to the worker pool, and applies the returned
// continuations on the orchestrating goroutine.
type Hub struct {
	machine  *machine.Machine
	intr     *interruption.Interruption
	layout   *workspace.Layout
	reporter *reporter.Reporter
	pool     *threadpool.Pool[continuation]
	logger   zerolog.Logger
}

// New creates a process hub
func New(m *machine.Machine, intr *interruption.Interruption, layout *workspace.Layout, rep *reporter.Reporter) *Hub {
	return &Hub{
		machine:  m,
		intr:     intr,
		layout:   layout,
		reporter: rep,
		pool:     threadpool.New[continuation](),
		logger:   log.WithComponent("processhub"),
	}
}

// StartLoop enters PROCESSING and drains until quiescent: a round pumps
// every poppable event into the pool, then applies completed results; the
// loop ends when one full round moves nothing. The pool shrinks to zero
// before returning. Interruption aborts with ErrInterrupted after
// accounting for every in-flight task.
func (h *Hub) StartLoop(workers int) error {
	if workers <= 0 {
		panic("processhub: workers must be positive")
	}
	if err := h.machine.GotoProcessing(); err != nil {
		return err
	}
	h.pool.SetWorkers(workers)
	metrics.PoolWorkers.Set(float64(workers))
	defer func() {
		h.pool.SetWorkers(0)
		metrics.PoolWorkers.Set(0)
	}()

	isClear1 := false
	isClear2 := false
	for !isClear1 || !isClear2 {
		var err error
		isClear1, err = h.pumpMachineEvents()
		if err != nil {
			// account for everything already in flight before unwinding
			if _, drainErr := h.drainResults(); drainErr != nil {
				h.logger.Error().Err(drainErr).Msg("failed to drain results during unwind")
			}
			return err
		}
		isClear2, err = h.drainResults()
		if err != nil {
			return err
		}
	}
	return h.intr.Err()
}

// Shutdown stops the worker pool for good
func (h *Hub) Shutdown() {
	h.pool.Stop()
}

// pumpMachineEvents pops events from the machine into the pool until all
// three streams return nothing. Reports whether the machine was already
// clean.
func (h *Hub) pumpMachineEvents() (bool, error) {
	isClear := true

	for {
		event := h.machine.PopRemovedResourceEvent()
		if event == nil {
			break
		}
		err := h.pool.Execute(func() (continuation, error) {
			return h.handleRemovedResourceEvent(event), nil
		})
		if err != nil {
			return false, err
		}
		isClear = false
		if err := h.intr.Err(); err != nil {
			return false, err
		}
	}

	for {
		event, err := h.machine.PopHandleIndexEvent()
		if err != nil {
			return false, err
		}
		if event == nil {
			break
		}
		err = h.pool.Execute(func() (continuation, error) {
			return h.handleIndexEvent(event), nil
		})
		if err != nil {
			return false, err
		}
		isClear = false
		if err := h.intr.Err(); err != nil {
			return false, err
		}
	}

	if event := h.machine.PopPreprocEvent(); event != nil {
		err := h.pool.Execute(func() (continuation, error) {
			return h.handlePreprocEvent(event), nil
		})
		if err != nil {
			return false, err
		}
		isClear = false
		if err := h.intr.Err(); err != nil {
			return false, err
		}
	}

	return isClear, nil
}

// drainResults applies completed continuations until the pool has nothing
// left to deliver. Reports whether the pool was already clean.
func (h *Hub) drainResults() (bool, error) {
	isClear := true
	for {
		result, ok := h.pool.PopResult()
		if !ok {
			break
		}
		isClear = false
		if result.Err != nil {
			h.logger.Error().Err(result.Err).Msg("worker execution failed")
			continue
		}
		if result.Value == nil {
			continue
		}
		if err := result.Value(); err != nil {
			return false, err
		}
	}
	return isClear, nil
}

// handleRemovedResourceEvent reclaims the on-disk workspace of a dead
// content hash. Runs on a worker goroutine.
func (h *Hub) handleRemovedResourceEvent(event *types.RemovedResourceEvent) continuation {
	err := h.layout.RemoveResourceDir(event.Base.ID, event.Hash)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Int64("base_id", event.Base.ID).
			Str("hash", log.Hash(event.Hash)).
			Msg("failed to remove resource workspace")
	}
	return nil
}

// handlePreprocEvent runs one preprocessing task on a worker goroutine and
// returns the continuation that commits its outcome.
func (h *Hub) handlePreprocEvent(event *types.PreprocessingEvent) continuation {
	if !event.Module.Acceptant(event.Base.ID, event.ResourceHash, event.ResourcePath, event.ContentType) {
		// not acceptant: the task completes with no documents
		return func() error {
			return h.machine.CompletePreprocTask(event, nil)
		}
	}

	reportID := h.reporter.ReportPreprocBegin(event)
	started := time.Now()

	workspacePath, err := h.layout.EnsureDir(event.Base.ID, event.ResourceHash, event.Module.ID())
	if err != nil {
		return h.finishPreproc(event, reportID, started, nil, err)
	}

	var latestCachePath string
	if event.FromResourceHash != nil {
		latestCachePath = h.layout.LatestCacheDir(event.Base.ID, event.FromResourceHash, event.Module.ID())
	}

	results, err := event.Module.Preprocess(&types.PreprocessRequest{
		WorkspacePath:   workspacePath,
		LatestCachePath: latestCachePath,
		BaseID:          event.Base.ID,
		ResourceHash:    event.ResourceHash,
		ResourcePath:    event.ResourcePath,
		ContentType:     event.ContentType,
		Interruption:    h.intr,
		ReportProgress: func(progress float64) {
			h.reporter.ReportPreprocProgress(event, progress)
		},
	})
	if err != nil {
		return h.finishPreproc(event, reportID, started, nil, err)
	}

	documents, err := h.resolveResults(event, workspacePath, latestCachePath, results)
	return h.finishPreproc(event, reportID, started, documents, err)
}

// finishPreproc reports the run's outcome and builds its continuation
func (h *Hub) finishPreproc(
	event *types.PreprocessingEvent,
	reportID int64,
	started time.Time,
	documents []*types.DocumentDescription,
	err error,
) continuation {
	h.reporter.ReportPreprocDone(reportID, event, documents, err)
	metrics.PreprocDuration.Observe(time.Since(started).Seconds())

	switch {
	case errors.Is(err, interruption.ErrInterrupted):
		metrics.PreprocTasksTotal.WithLabelValues("interrupted").Inc()
		return func() error {
			return h.machine.FailPreprocTask(event, true)
		}
	case err != nil:
		metrics.PreprocTasksTotal.WithLabelValues("fail").Inc()
		h.logger.Error().
			Err(err).
			Int64("base_id", event.Base.ID).
			Str("hash", log.Hash(event.ResourceHash)).
			Str("module", event.Module.ID()).
			Msg("preprocessing failed")
		return func() error {
			return h.machine.FailPreprocTask(event, false)
		}
	default:
		metrics.PreprocTasksTotal.WithLabelValues("complete").Inc()
		return func() error {
			return h.machine.CompletePreprocTask(event, documents)
		}
	}
}

// resolveResults turns the module's relative results into absolute
// document descriptions, resolving from-cache paths against the latest
// cache.
func (h *Hub) resolveResults(
	event *types.PreprocessingEvent,
	workspacePath string,
	latestCachePath string,
	results []*types.PreprocessingResult,
) ([]*types.DocumentDescription, error) {
	documents := make([]*types.DocumentDescription, 0, len(results))
	for i, result := range results {
		basePath := workspacePath
		if result.FromCache {
			if latestCachePath == "" {
				return nil, fmt.Errorf("result[%d] declares from_cache but no latest cache exists", i)
			}
			basePath = latestCachePath
		}
		if filepath.IsAbs(result.Path) {
			return nil, fmt.Errorf("result[%d] path must be relative", i)
		}
		documents = append(documents, &types.DocumentDescription{
			Base:          event.Base,
			PreprocModule: event.Module,
			ResourceHash:  event.ResourceHash,
			DocumentHash:  result.Hash,
			Path:          filepath.Join(basePath, result.Path),
			Meta:          result.Meta,
		})
	}
	return documents, nil
}

// handleIndexEvent runs one index task on a worker goroutine and returns
// the continuation that commits its outcome.
func (h *Hub) handleIndexEvent(event *types.HandleIndexEvent) continuation {
	reportID := h.reporter.ReportHandleIndexBegin(event)
	started := time.Now()

	request := &types.IndexRequest{
		Base:          event.Base,
		PreprocModule: event.PreprocModule,
		DocumentHash:  event.DocumentHash,
		DocumentPath:  event.DocumentPath,
		DocumentMeta:  event.DocumentMeta,
		Interruption:  h.intr,
		ReportProgress: func(progress float64) {
			h.reporter.ReportHandleIndexProgress(event, progress)
		},
	}

	var err error
	switch event.Operation {
	case types.IndexOpCreate:
		err = event.IndexModule.Add(request)
	case types.IndexOpRemove:
		err = event.IndexModule.Remove(request)
	default:
		err = fmt.Errorf("unknown index operation %d", event.Operation)
	}

	h.reporter.ReportHandleIndexDone(reportID, event, err)
	metrics.IndexDuration.Observe(time.Since(started).Seconds())

	switch {
	case errors.Is(err, interruption.ErrInterrupted):
		metrics.IndexTasksTotal.WithLabelValues(event.Operation.String(), "interrupted").Inc()
		return func() error {
			return h.machine.FailIndexTask(event, true)
		}
	case err != nil:
		metrics.IndexTasksTotal.WithLabelValues(event.Operation.String(), "fail").Inc()
		h.logger.Error().
			Err(err).
			Int64("base_id", event.Base.ID).
			Str("hash", log.Hash(event.DocumentHash)).
			Str("module", event.IndexModule.ID()).
			Msg("index operation failed")
		return func() error {
			return h.machine.FailIndexTask(event, false)
		}
	default:
		metrics.IndexTasksTotal.WithLabelValues(event.Operation.String(), "complete").Inc()
		if event.Operation == types.IndexOpCreate {
			metrics.DocumentsIndexed.Inc()
		}
		return func() error {
			return h.machine.CompleteIndexTask(event)
		}
	}
}
