package hub

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/cuemby/knbase/pkg/interruption"
	"github.com/cuemby/knbase/pkg/log"
	"github.com/cuemby/knbase/pkg/machine"
	"github.com/cuemby/knbase/pkg/processhub"
	"github.com/cuemby/knbase/pkg/reporter"
	"github.com/cuemby/knbase/pkg/scanhub"
	"github.com/cuemby/knbase/pkg/storage"
	"github.com/cuemby/knbase/pkg/types"
	"github.com/cuemby/knbase/pkg/workspace"
)

// Config holds hub configuration
type Config struct {
	DBPath         string
	WorkspacePath  string
	ScanWorkers    int
	ProcessWorkers int
	Modules        []types.Module

	// Listener receives every reported event directly, in addition to the
	// hub's event broker. Optional.
	Listener reporter.Listener
}

// Hub is the composition root of the ingestion engine: it owns the store,
// the state machine, the two hubs and the shared interruption token, and
// orchestrates full scan passes over them.
type Hub struct {
	store          *storage.Store
	machine        *machine.Machine
	intr           *interruption.Interruption
	broker         *reporter.Broker
	scanHub        *scanhub.Hub
	processHub     *processhub.Hub
	scanWorkers    int
	processWorkers int
	logger         zerolog.Logger
}

// New opens a hub over the configured database and workspace
func New(cfg Config) (*Hub, error) {
	if cfg.ScanWorkers < 1 {
		cfg.ScanWorkers = 1
	}
	if cfg.ProcessWorkers < 1 {
		cfg.ProcessWorkers = 1
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	layout, err := workspace.New(cfg.WorkspacePath)
	if err != nil {
		store.Close()
		return nil, err
	}
	m, err := machine.New(store, cfg.Modules)
	if err != nil {
		store.Close()
		return nil, err
	}

	// every reported event goes through the broker; a configured direct
	// listener sees it as well
	broker := reporter.NewBroker()
	listener := broker.Listener()
	if cfg.Listener != nil {
		direct := cfg.Listener
		publish := broker.Listener()
		listener = func(event reporter.Event) {
			direct(event)
			publish(event)
		}
	}
	rep := reporter.New(listener)
	intr := interruption.New()
	broker.Start()

	return &Hub{
		store:          store,
		machine:        m,
		intr:           intr,
		broker:         broker,
		scanHub:        scanhub.New(m, intr, rep),
		processHub:     processhub.New(m, intr, layout, rep),
		scanWorkers:    cfg.ScanWorkers,
		processWorkers: cfg.ProcessWorkers,
		logger:         log.WithComponent("hub"),
	}, nil
}

// EventBroker exposes the hub's event fan-out; subscribers receive every
// reported event with non-blocking delivery.
func (h *Hub) EventBroker() *reporter.Broker {
	return h.broker
}

// Close stops the event broker and the worker pool, then closes the
// database.
func (h *Hub) Close() error {
	h.broker.Stop()
	h.processHub.Shutdown()
	return h.store.Close()
}

// Interrupt raises the process-wide interruption flag; running scans and
// tasks unwind without committing and resume on the next Scan.
func (h *Hub) Interrupt() {
	h.intr.Interrupt()
}

// Scan runs one full ingestion pass: drain leftover tasks if the machine
// woke up mid-PROCESSING, scan every base, process the resulting task
// graph to quiescence, and return to SETTING.
func (h *Hub) Scan() error {
	h.intr.Reset()

	if h.machine.State() == machine.StateProcessing {
		if err := h.processHub.StartLoop(h.scanWorkers); err != nil {
			return err
		}
	}
	if err := h.scanHub.StartLoop(h.scanWorkers); err != nil {
		return err
	}
	if err := h.processHub.StartLoop(h.processWorkers); err != nil {
		return err
	}
	h.machine.GotoSetting()
	h.logger.Info().Msg("scan pass complete")
	return nil
}

// CreateKnowledgeBase registers a new base for a resource module
func (h *Hub) CreateKnowledgeBase(resourceModule types.ResourceModule, resourceParams json.RawMessage) (*types.KnowledgeBase, error) {
	return h.machine.CreateKnowledgeBase(resourceModule, resourceParams)
}

// RemoveKnowledgeBase tears a base down: its resources are cleaned, the
// emitted removal tasks drain, and the base row is deleted.
func (h *Hub) RemoveKnowledgeBase(base *types.KnowledgeBase) error {
	if h.machine.State() == machine.StateProcessing {
		// leftover tasks from an interrupted run drain first
		if err := h.processHub.StartLoop(h.scanWorkers); err != nil {
			return err
		}
		h.machine.GotoSetting()
	}
	if err := h.machine.CleanResources(-1, base); err != nil {
		return err
	}
	if err := h.processHub.StartLoop(h.scanWorkers); err != nil {
		return err
	}
	h.machine.GotoSetting()
	if err := h.machine.RemoveKnowledgeBase(base); err != nil {
		return err
	}
	return nil
}

// GetKnowledgeBase returns one base by id
func (h *Hub) GetKnowledgeBase(id int64) (*types.KnowledgeBase, error) {
	return h.machine.GetKnowledgeBase(id)
}

// GetKnowledgeBases returns every registered base
func (h *Hub) GetKnowledgeBases() ([]*types.KnowledgeBase, error) {
	return h.machine.GetKnowledgeBases()
}

// GetResources returns the live resources carrying hash in a base
func (h *Hub) GetResources(base *types.KnowledgeBase, hash []byte) ([]*types.Resource, error) {
	return h.machine.GetResources(base, hash)
}

// GetDocument returns a document by identity, or nil
func (h *Hub) GetDocument(base *types.KnowledgeBase, preprocModule types.PreprocessingModule, documentHash []byte) (*types.DocumentDescription, error) {
	return h.machine.GetDocument(base, preprocModule, documentHash)
}

// ResourceModule resolves a registered resource module by string id
func (h *Hub) ResourceModule(id string) (types.ResourceModule, error) {
	return h.machine.ResourceModule(id)
}

// PreprocModule resolves a registered preprocessing module by string id
func (h *Hub) PreprocModule(id string) (types.PreprocessingModule, error) {
	return h.machine.PreprocModule(id)
}

// IndexModule resolves a registered index module by string id
func (h *Hub) IndexModule(id string) (types.IndexModule, error) {
	return h.machine.IndexModule(id)
}

// State exposes the machine's lifecycle phase, mainly for diagnostics
func (h *Hub) State() string {
	return h.machine.State().String()
}
