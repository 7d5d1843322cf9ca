package machine

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/knbase/pkg/log"
	"github.com/cuemby/knbase/pkg/storage"
	"github.com/cuemby/knbase/pkg/types"
)

// State is the machine's lifecycle phase. The three phases are exclusive:
// base management happens in SETTING, resource mutation in SCANNING, task
// draining in PROCESSING.
type State int

const (
	StateSetting State = iota
	StateScanning
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateSetting:
		return "setting"
	case StateScanning:
		return "scanning"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// preprocTask pairs a persisted task row with its resolved base and module
type preprocTask struct {
	row    *storage.PreprocTaskRow
	base   *types.KnowledgeBase
	module types.PreprocessingModule
}

// indexTask pairs a persisted index task row with its resolved collaborators
type indexTask struct {
	row           *storage.IndexTaskRow
	base          *types.KnowledgeBase
	preprocModule types.PreprocessingModule
	indexModule   types.IndexModule
}

// Machine is the single source of truth for persisted entities and the
// task graph over them. It owns the in-memory task queues, which are
// derived views of the task tables, refillable from them at any time.
//
// All methods must be called from one orchestrating goroutine; worker
// goroutines never touch the machine directly, they hand continuations
// back to it.
type Machine struct {
	store  *storage.Store
	ctx    *moduleContext
	logger zerolog.Logger
	state  State

	preprocTasks  []*preprocTask
	preprocPopped int
	indexTasks    []*indexTask
	indexPopped   int
	removedEvents []*types.RemovedResourceEvent
}

// New opens a machine over the store, binding the given plugin modules.
// If the task tables are non-empty the initial state is PROCESSING,
// otherwise SETTING.
func New(store *storage.Store, modules []types.Module) (*Machine, error) {
	m := &Machine{
		store:  store,
		logger: log.WithComponent("machine"),
		state:  StateSetting,
	}
	err := store.WithTx(func(tx storage.Execer) error {
		ctx, err := bindModules(store, tx, modules)
		if err != nil {
			return err
		}
		m.ctx = ctx
		return m.loadTasks(tx)
	})
	if err != nil {
		return nil, err
	}
	if len(m.preprocTasks) > 0 || len(m.indexTasks) > 0 {
		m.state = StateProcessing
	}
	return m, nil
}

// State returns the current lifecycle phase
func (m *Machine) State() State {
	return m.state
}

// GotoSetting enters SETTING. Legal only when no task is pending or popped.
func (m *Machine) GotoSetting() {
	if m.state != StateSetting {
		m.assertNotProcessing()
		m.state = StateSetting
	}
}

// GotoScanning enters SCANNING. Legal only when no task is pending or popped.
func (m *Machine) GotoScanning() {
	if m.state != StateScanning {
		m.assertNotProcessing()
		m.state = StateScanning
	}
}

// GotoProcessing enters PROCESSING, reloading the pending task queues from
// the database. Always legal; a no-op when already processing.
func (m *Machine) GotoProcessing() error {
	if m.state == StateProcessing {
		return nil
	}
	err := m.store.WithTx(func(tx storage.Execer) error {
		return m.loadTasks(tx)
	})
	if err != nil {
		return err
	}
	m.state = StateProcessing
	return nil
}

// assertNotProcessing fails fast when task state would be abandoned by a
// transition. Popped-but-uncompleted tasks and queued tasks are both
// programming bugs at a transition point.
func (m *Machine) assertNotProcessing() {
	if len(m.preprocTasks) > 0 {
		panic("machine: preprocessing tasks are not empty")
	}
	if len(m.indexTasks) > 0 {
		panic("machine: index tasks are not empty")
	}
	if m.preprocPopped != 0 {
		panic("machine: there are popped preprocessing tasks")
	}
	if m.indexPopped != 0 {
		panic("machine: there are popped index tasks")
	}
}

func (m *Machine) assertState(want State) {
	if m.state != want {
		panic(fmt.Sprintf("machine: operation requires state %s, current state is %s", want, m.state))
	}
}

// loadTasks rebuilds the in-memory queues from the task tables
func (m *Machine) loadTasks(tx storage.Execer) error {
	m.preprocTasks = m.preprocTasks[:0]
	m.indexTasks = m.indexTasks[:0]

	baseRows, err := m.store.ListBases(tx)
	if err != nil {
		return err
	}
	for _, baseRow := range baseRows {
		base, err := m.buildBase(baseRow)
		if err != nil {
			return err
		}

		preprocRows, err := m.store.ListPreprocTasks(tx, base.ID)
		if err != nil {
			return err
		}
		for _, row := range preprocRows {
			task, err := m.wrapPreprocTask(row, base)
			if err != nil {
				return err
			}
			m.preprocTasks = append(m.preprocTasks, task)
		}

		indexRows, err := m.store.ListIndexTasks(tx, base.ID)
		if err != nil {
			return err
		}
		for _, row := range indexRows {
			task, err := m.wrapIndexTask(row, base)
			if err != nil {
				return err
			}
			m.indexTasks = append(m.indexTasks, task)
		}
	}

	sort.SliceStable(m.preprocTasks, func(i, j int) bool {
		a, b := m.preprocTasks[i].row, m.preprocTasks[j].row
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	sort.SliceStable(m.indexTasks, func(i, j int) bool {
		a, b := m.indexTasks[i].row, m.indexTasks[j].row
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	return nil
}

func (m *Machine) buildBase(row *storage.BaseRow) (*types.KnowledgeBase, error) {
	resourceModule, err := m.ctx.resourceModule(row.ResModule)
	if err != nil {
		return nil, fmt.Errorf("knowledge base %d: %w", row.ID, err)
	}
	return &types.KnowledgeBase{
		ID:             row.ID,
		ResourceModule: resourceModule,
		ResourceParams: row.ResParams,
	}, nil
}

func (m *Machine) wrapPreprocTask(row *storage.PreprocTaskRow, base *types.KnowledgeBase) (*preprocTask, error) {
	module, err := m.ctx.preprocModule(row.PreprocModule)
	if err != nil {
		return nil, err
	}
	return &preprocTask{row: row, base: base, module: module}, nil
}

func (m *Machine) wrapIndexTask(row *storage.IndexTaskRow, base *types.KnowledgeBase) (*indexTask, error) {
	preprocModule, err := m.ctx.preprocModule(row.PreprocModule)
	if err != nil {
		return nil, err
	}
	indexModule, err := m.ctx.indexModule(row.IndexModule)
	if err != nil {
		return nil, err
	}
	return &indexTask{
		row:           row,
		base:          base,
		preprocModule: preprocModule,
		indexModule:   indexModule,
	}, nil
}

// effects collects in-memory queue mutations made by a command. They are
// applied only after the enclosing transaction commits, so a rolled back
// command leaves the queues untouched.
type effects struct {
	appendPreproc       []*preprocTask
	removePreprocIDs    []int64
	appendIndex         []*indexTask
	removeIndexIDs      []int64
	appendRemoved       []*types.RemovedResourceEvent
	cancelRemovedHashes [][]byte
}

func (m *Machine) applyEffects(eff *effects) {
	if len(eff.removePreprocIDs) > 0 {
		removed := int64Set(eff.removePreprocIDs)
		kept := m.preprocTasks[:0]
		for _, task := range m.preprocTasks {
			if !removed[task.row.ID] {
				kept = append(kept, task)
			}
		}
		m.preprocTasks = kept
	}
	m.preprocTasks = append(m.preprocTasks, eff.appendPreproc...)

	if len(eff.removeIndexIDs) > 0 {
		removed := int64Set(eff.removeIndexIDs)
		kept := m.indexTasks[:0]
		for _, task := range m.indexTasks {
			if !removed[task.row.ID] {
				kept = append(kept, task)
			}
		}
		m.indexTasks = kept
	}
	m.indexTasks = append(m.indexTasks, eff.appendIndex...)

	for _, hash := range eff.cancelRemovedHashes {
		for i, event := range m.removedEvents {
			if bytes.Equal(event.Hash, hash) {
				m.removedEvents = append(m.removedEvents[:i], m.removedEvents[i+1:]...)
				break
			}
		}
	}
	for _, event := range eff.appendRemoved {
		// a cancellation staged by the same command wins over its appends
		cancelled := false
		for _, hash := range eff.cancelRemovedHashes {
			if bytes.Equal(event.Hash, hash) {
				cancelled = true
				break
			}
		}
		if !cancelled && !m.removedPendingInQueue(event.Hash) {
			m.removedEvents = append(m.removedEvents, event)
		}
	}
}

func (m *Machine) removedPendingInQueue(hash []byte) bool {
	for _, event := range m.removedEvents {
		if bytes.Equal(event.Hash, hash) {
			return true
		}
	}
	return false
}

// removedPending also considers events staged in eff but not yet applied
func (m *Machine) removedPending(eff *effects, hash []byte) bool {
	if m.removedPendingInQueue(hash) {
		return true
	}
	for _, event := range eff.appendRemoved {
		if bytes.Equal(event.Hash, hash) {
			return true
		}
	}
	return false
}

func int64Set(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
