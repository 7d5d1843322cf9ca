package machine

import (
	"fmt"

	"github.com/cuemby/knbase/pkg/storage"
	"github.com/cuemby/knbase/pkg/types"
)

// PopPreprocEvent pops the oldest pending preprocessing task, or nil when
// none remain. PROCESSING only. Every popped event must be answered with
// CompletePreprocTask or FailPreprocTask before the machine may leave
// PROCESSING.
func (m *Machine) PopPreprocEvent() *types.PreprocessingEvent {
	m.assertState(StateProcessing)
	if len(m.preprocTasks) == 0 {
		return nil
	}

	task := m.preprocTasks[0]
	m.preprocTasks = m.preprocTasks[1:]
	m.preprocPopped++

	return &types.PreprocessingEvent{
		ProtoEventID:     task.row.EventID,
		TaskID:           task.row.ID,
		Base:             task.base,
		Module:           task.module,
		ResourceHash:     task.row.ResHash,
		FromResourceHash: task.row.FromResHash,
		ResourcePath:     task.row.Path,
		ContentType:      task.row.ContentType,
		CreatedAt:        task.row.CreatedAt,
	}
}

// PopHandleIndexEvent pops the oldest pending index task together with its
// document, or nil when none remain. PROCESSING only.
func (m *Machine) PopHandleIndexEvent() (*types.HandleIndexEvent, error) {
	m.assertState(StateProcessing)
	if len(m.indexTasks) == 0 {
		return nil, nil
	}

	task := m.indexTasks[0]
	doc, err := m.store.GetDocument(m.store.DB(), task.row.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("index task %d: %w", task.row.ID, err)
	}
	m.indexTasks = m.indexTasks[1:]
	m.indexPopped++

	return &types.HandleIndexEvent{
		ProtoEventID:  task.row.EventID,
		TaskID:        task.row.ID,
		Base:          task.base,
		PreprocModule: task.preprocModule,
		IndexModule:   task.indexModule,
		Operation:     types.IndexOperation(task.row.Operation),
		DocumentHash:  doc.DocHash,
		DocumentPath:  doc.Path,
		DocumentMeta:  doc.Meta,
		CreatedAt:     task.row.CreatedAt,
	}, nil
}

// PopRemovedResourceEvent pops the next removed-resource notification, or
// nil. PROCESSING only.
func (m *Machine) PopRemovedResourceEvent() *types.RemovedResourceEvent {
	m.assertState(StateProcessing)
	if len(m.removedEvents) == 0 {
		return nil
	}
	event := m.removedEvents[0]
	m.removedEvents = m.removedEvents[1:]
	return event
}

// CompletePreprocTask applies a finished preprocessing run. In one
// transaction: the task row goes away, each returned document is appended
// (or re-referenced when its identity already exists), index tasks are
// derived under the cancellation law, and hashes whose last referent was
// this task get their teardown submitted. PROCESSING only.
func (m *Machine) CompletePreprocTask(event *types.PreprocessingEvent, documents []*types.DocumentDescription) error {
	m.assertState(StateProcessing)
	base := event.Base
	eff := &effects{}

	err := m.store.WithTx(func(tx storage.Execer) error {
		task, err := m.store.GetPreprocTask(tx, base.ID, event.TaskID)
		if err != nil {
			return err
		}
		if task == nil {
			panic(fmt.Sprintf("machine: completing unknown preprocessing task %d", event.TaskID))
		}
		if err := m.store.RemovePreprocTask(tx, task.ID); err != nil {
			return err
		}

		indexModules := m.indexModules(base)
		for _, descr := range documents {
			doc, err := m.appendDocument(tx, task, descr)
			if err != nil {
				return err
			}
			for _, im := range indexModules {
				err := m.createIndexTask(tx, eff, task.EventID, base, doc, im, types.IndexOpCreate)
				if err != nil {
					return err
				}
			}
		}

		for _, ref := range taskHashRefs(task) {
			refs, err := m.resourceHashRefs(tx, base.ID, ref.Hash)
			if err != nil {
				return err
			}
			if refs == 0 {
				err = m.submitHashRemoved(tx, eff, task.EventID, base, ref.Hash, ref.ContentType)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.preprocPopped--
	m.applyEffects(eff)
	return nil
}

// appendDocument records one document description: a new documents row
// when the identity (preproc module, base, doc hash) is unseen, otherwise
// only an additional reference row for the task's resource hash.
func (m *Machine) appendDocument(tx storage.Execer, task *storage.PreprocTaskRow, descr *types.DocumentDescription) (*storage.DocumentRow, error) {
	doc, err := m.store.FindDocument(tx, task.PreprocModule, task.BaseID, descr.DocumentHash)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc, err = m.store.CreateDocument(tx, &storage.DocumentRow{
			PreprocModule: task.PreprocModule,
			BaseID:        task.BaseID,
			ResHash:       task.ResHash,
			DocHash:       descr.DocumentHash,
			Path:          descr.Path,
			Meta:          descr.Meta,
		})
		if err != nil {
			return nil, err
		}
	}
	err = m.store.CreateDocumentRef(tx, &storage.DocumentRefRow{
		PreprocModule: task.PreprocModule,
		BaseID:        task.BaseID,
		ResHash:       task.ResHash,
		DocHash:       descr.DocumentHash,
		Ref:           doc.ID,
		Path:          descr.Path,
		Meta:          descr.Meta,
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CompleteIndexTask applies a finished index run: the task row goes away,
// and a document that has lost every referent is deleted once the last
// index task touching it completes. PROCESSING only.
func (m *Machine) CompleteIndexTask(event *types.HandleIndexEvent) error {
	m.assertState(StateProcessing)
	base := event.Base

	err := m.store.WithTx(func(tx storage.Execer) error {
		task, err := m.store.GetIndexTask(tx, base.ID, event.TaskID)
		if err != nil {
			return err
		}
		if task == nil {
			panic(fmt.Sprintf("machine: completing unknown index task %d", event.TaskID))
		}
		if err := m.store.RemoveIndexTask(tx, task.ID); err != nil {
			return err
		}

		refs, err := m.documentRefs(tx, task.DocumentID)
		if err != nil {
			return err
		}
		if refs == 0 {
			remaining, err := m.store.CountIndexTasksForDocument(tx, task.DocumentID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				return m.store.RemoveDocument(tx, task.DocumentID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.indexPopped--
	return nil
}

// FailPreprocTask acknowledges a popped preprocessing task that did not
// complete. The task row stays persisted for a later round; unless the
// failure was an interruption its retry counter is bumped. PROCESSING
// only.
func (m *Machine) FailPreprocTask(event *types.PreprocessingEvent, interrupted bool) error {
	m.assertState(StateProcessing)
	if !interrupted {
		err := m.store.WithTx(func(tx storage.Execer) error {
			return m.store.BumpPreprocRetry(tx, event.TaskID)
		})
		if err != nil {
			return err
		}
	}
	m.preprocPopped--
	return nil
}

// FailIndexTask acknowledges a popped index task that did not complete.
// PROCESSING only.
func (m *Machine) FailIndexTask(event *types.HandleIndexEvent, interrupted bool) error {
	m.assertState(StateProcessing)
	if !interrupted {
		err := m.store.WithTx(func(tx storage.Execer) error {
			return m.store.BumpIndexRetry(tx, event.TaskID)
		})
		if err != nil {
			return err
		}
	}
	m.indexPopped--
	return nil
}

// taskHashRefs lists the content hashes a preprocessing task referenced:
// its own and, for updates, the one it superseded.
func taskHashRefs(task *storage.PreprocTaskRow) []types.FromResource {
	refs := []types.FromResource{{Hash: task.ResHash, ContentType: task.ContentType}}
	if task.FromResHash != nil {
		refs = append(refs, types.FromResource{
			Hash:        task.FromResHash,
			ContentType: task.FromResContentType,
		})
	}
	return refs
}
