package scanhub

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/knbase/pkg/interruption"
	"github.com/cuemby/knbase/pkg/log"
	"github.com/cuemby/knbase/pkg/machine"
	"github.com/cuemby/knbase/pkg/metrics"
	"github.com/cuemby/knbase/pkg/reporter"
	"github.com/cuemby/knbase/pkg/types"
	"github.com/cuemby/knbase/pkg/waker"
)

// task is one resource event in flight from a scan worker to the main
// loop. The main loop writes interrupted before closing done; the worker
// reads it after done is closed.
type task struct {
	event       *types.ResourceEvent
	done        chan struct{}
	interrupted bool
}

// payload is what scan workers push through the waker: either a task or
// the per-base all-done sentinel.
type payload struct {
	task    *task
	allDone bool
}

// Hub drives one scan pass: a worker goroutine per knowledge base iterates
// the base's event cursor and hands each event to the main loop through a
// waker; the main loop applies events to the state machine in arrival
// order.
type Hub struct {
	machine  *machine.Machine
	intr     *interruption.Interruption
	reporter *reporter.Reporter
	wk       *waker.Waker[payload]
	logger   zerolog.Logger
}

// New creates a scan hub
func New(m *machine.Machine, intr *interruption.Interruption, rep *reporter.Reporter) *Hub {
	return &Hub{
		machine:  m,
		intr:     intr,
		reporter: rep,
		wk:       waker.New[payload](),
		logger:   log.WithComponent("scanhub"),
	}
}

// StartLoop scans every knowledge base, running at most workers scans in
// parallel, and returns once each base has finished or aborted. A failing
// base aborts only itself; interruption aborts the whole pass with
// ErrInterrupted. The machine is left in SCANNING.
func (h *Hub) StartLoop(workers int) error {
	h.machine.GotoScanning()
	bases, err := h.machine.GetKnowledgeBases()
	if err != nil {
		return err
	}
	if len(bases) == 0 {
		return nil
	}

	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	group := new(errgroup.Group)
	for _, base := range bases {
		group.Go(func() error {
			return h.scanInBackground(base, sem)
		})
	}

	loopErr := h.handleResourceEvents(len(bases))

	if err := group.Wait(); err != nil {
		// per-base failures are already logged and reported; they do not
		// fail the pass
		h.logger.Debug().Err(err).Msg("scan worker finished with error")
	}
	if loopErr != nil {
		return loopErr
	}
	return h.intr.Err()
}

// handleResourceEvents applies tasks from scan workers until every base
// has pushed its all-done sentinel.
func (h *Hub) handleResourceEvents(basesCount int) error {
	working := basesCount
	for working > 0 {
		p, err := h.wk.Receive()
		if err != nil {
			return err
		}
		if p.allDone {
			working--
			continue
		}

		t := p.task
		event := t.event
		if err := h.applyEvent(event); err != nil {
			t.interrupted = true
			h.logger.Error().
				Err(err).
				Int64("base_id", event.Resource.Base.ID).
				Str("resource_id", event.Resource.ID).
				Msg("failed to apply resource event")
		} else {
			h.reporter.ReportResourceEvent(event)
			metrics.ResourceEventsTotal.WithLabelValues(event.Updating.String()).Inc()
		}
		close(t.done)
	}
	return nil
}

func (h *Hub) applyEvent(event *types.ResourceEvent) error {
	if err := h.intr.Err(); err != nil {
		return err
	}
	switch event.Updating {
	case types.UpdatingCreate, types.UpdatingUpdate:
		return h.machine.PutResource(event.ID, event.Resource, event.Path)
	case types.UpdatingDelete:
		return h.machine.RemoveResource(event.ID, event.Resource)
	default:
		return fmt.Errorf("unknown updating kind %d", event.Updating)
	}
}

// scanInBackground runs one base's scan on a worker goroutine
func (h *Hub) scanInBackground(base *types.KnowledgeBase, sem chan struct{}) (err error) {
	sem <- struct{}{}
	defer func() { <-sem }()

	module := base.ResourceModule
	scanID := h.reporter.ReportScanBegin(base)

	defer func() {
		if pushErr := h.wk.Push(payload{allDone: true}); pushErr != nil {
			h.logger.Error().Err(pushErr).Int64("base_id", base.ID).Msg("failed to push scan sentinel")
		}
		if completeErr := module.CompleteScanning(base); completeErr != nil {
			h.logger.Error().Err(completeErr).Int64("base_id", base.ID).Msg("failed to complete scanning")
		}
		h.reporter.ReportScanDone(scanID, base, err)
		if err == nil {
			metrics.ScansTotal.WithLabelValues("complete").Inc()
		} else {
			metrics.ScansTotal.WithLabelValues("fail").Inc()
			h.logger.Error().Err(err).Int64("base_id", base.ID).Msg("scan aborted")
		}
	}()

	cursor, err := module.Scan(base)
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}
	defer cursor.Close()

	for {
		if err := h.intr.Err(); err != nil {
			return err
		}
		event, ok, err := cursor.Next()
		if err != nil {
			return fmt.Errorf("scan iteration failed: %w", err)
		}
		if !ok {
			return nil
		}

		t := &task{event: event, done: make(chan struct{})}
		if err := h.wk.Push(payload{task: t}); err != nil {
			return err
		}
		<-t.done
		if t.interrupted {
			return fmt.Errorf("scan of base %d aborted", base.ID)
		}
		if err := module.CompleteEvent(event); err != nil {
			return fmt.Errorf("failed to complete event %d: %w", event.ID, err)
		}
	}
}
