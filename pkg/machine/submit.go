package machine

import (
	"github.com/cuemby/knbase/pkg/storage"
	"github.com/cuemby/knbase/pkg/types"
)

// resourceHashRefs counts the live referents of a content hash in a base:
// resource rows carrying the hash plus preprocessing tasks referencing it
// as res_hash or from_res_hash. Zero means the hash is dead and downstream
// removal starts.
func (m *Machine) resourceHashRefs(tx storage.Execer, baseID int64, hash []byte) (int64, error) {
	resources, err := m.store.CountResourcesByHash(tx, baseID, hash)
	if err != nil {
		return 0, err
	}
	tasks, err := m.store.CountResourceRefs(tx, baseID, hash)
	if err != nil {
		return 0, err
	}
	return resources + tasks, nil
}

// documentRefs counts a document's referents: document_refs rows plus
// pending CREATE index tasks. Zero means the document must go.
func (m *Machine) documentRefs(tx storage.Execer, documentID int64) (int64, error) {
	refs, err := m.store.CountDocumentRefs(tx, documentID)
	if err != nil {
		return 0, err
	}
	creates, err := m.store.CountPendingCreates(tx, documentID)
	if err != nil {
		return 0, err
	}
	return refs + creates, nil
}

// preprocessModules resolves the preprocessing modules the base declares
// for a content type. Unknown or mis-typed ids are skipped.
func (m *Machine) preprocessModules(base *types.KnowledgeBase, contentType string) []types.PreprocessingModule {
	ids := base.ResourceModule.PreprocessModuleIDs(base, contentType)
	modules := make([]types.PreprocessingModule, 0, len(ids))
	for _, id := range ids {
		if pm, ok := m.ctx.preprocByString(id); ok {
			modules = append(modules, pm)
		}
	}
	return modules
}

// indexModules resolves the index modules the base declares
func (m *Machine) indexModules(base *types.KnowledgeBase) []types.IndexModule {
	ids := base.ResourceModule.IndexModuleIDs(base)
	modules := make([]types.IndexModule, 0, len(ids))
	for _, id := range ids {
		if im, ok := m.ctx.indexByString(id); ok {
			modules = append(modules, im)
		}
	}
	return modules
}

// submitHashCreated reacts to a content hash appearing in a base for the
// first time: any older preprocessing tasks keyed on the hash are
// superseded, one task per applicable preprocessing module is created, and
// a queued removal of the same hash is cancelled (the create supersedes
// it).
func (m *Machine) submitHashCreated(
	tx storage.Execer,
	eff *effects,
	eventID int64,
	first *types.Resource,
	from *types.Resource,
	path string,
	contentType string,
) error {
	base := first.Base

	stale, err := m.store.ListPreprocTasksByHash(tx, base.ID, first.Hash)
	if err != nil {
		return err
	}
	for _, task := range stale {
		if err := m.store.RemovePreprocTask(tx, task.ID); err != nil {
			return err
		}
		eff.removePreprocIDs = append(eff.removePreprocIDs, task.ID)
	}

	created := false
	for _, pm := range m.preprocessModules(base, first.ContentType) {
		row := &storage.PreprocTaskRow{
			PreprocModule: m.ctx.moduleID(pm),
			BaseID:        base.ID,
			ResHash:       first.Hash,
			EventID:       eventID,
			Path:          path,
			ContentType:   contentType,
		}
		if from != nil {
			row.FromResHash = from.Hash
			row.FromResContentType = from.ContentType
		}
		if _, err := m.store.CreatePreprocTask(tx, row); err != nil {
			return err
		}
		eff.appendPreproc = append(eff.appendPreproc, &preprocTask{
			row:    row,
			base:   base,
			module: pm,
		})
		created = true
	}

	eff.cancelRemovedHashes = append(eff.cancelRemovedHashes, first.Hash)
	if created && from != nil {
		// the new tasks hold a from-reference on the prior content: its
		// workspace must survive as the latest cache until they complete,
		// which re-submits the removal
		eff.cancelRemovedHashes = append(eff.cancelRemovedHashes, from.Hash)
	}
	return nil
}

// submitHashRemoved reacts to a content hash losing its last referent in a
// base: every document reference owned by the hash is dropped, documents
// whose count thereby reaches zero are deleted (no index modules) or get
// one REMOVE index task per index module, and a removed-resource event is
// queued unless one is already pending for the hash.
func (m *Machine) submitHashRemoved(
	tx storage.Execer,
	eff *effects,
	eventID int64,
	base *types.KnowledgeBase,
	resourceHash []byte,
	contentType string,
) error {
	var removedDocs []*storage.DocumentRow
	seenDocs := make(map[int64]bool)

	for _, pm := range m.preprocessModules(base, contentType) {
		pmID := m.ctx.moduleID(pm)
		documents, err := m.store.ListDocumentsByResource(tx, pmID, base.ID, resourceHash)
		if err != nil {
			return err
		}
		if err := m.store.RemoveDocumentRefs(tx, pmID, base.ID, resourceHash); err != nil {
			return err
		}
		for _, doc := range documents {
			if seenDocs[doc.ID] {
				continue
			}
			refs, err := m.documentRefs(tx, doc.ID)
			if err != nil {
				return err
			}
			if refs == 0 {
				seenDocs[doc.ID] = true
				removedDocs = append(removedDocs, doc)
			}
		}
	}

	indexModules := m.indexModules(base)
	for _, doc := range removedDocs {
		if len(indexModules) == 0 {
			if err := m.store.RemoveDocument(tx, doc.ID); err != nil {
				return err
			}
			continue
		}
		for _, im := range indexModules {
			if err := m.createIndexTask(tx, eff, eventID, base, doc, im, types.IndexOpRemove); err != nil {
				return err
			}
		}
	}

	if !m.removedPending(eff, resourceHash) {
		eff.appendRemoved = append(eff.appendRemoved, &types.RemovedResourceEvent{
			ProtoEventID: eventID,
			Hash:         resourceHash,
			Base:         base,
		})
	}
	return nil
}

// createIndexTask inserts an index task for (document, index module),
// applying the cancellation law: an opposite pending task for the same
// pair is cancelled instead, and an equal pending task makes the insertion
// a no-op. Tasks for one pair never accumulate.
func (m *Machine) createIndexTask(
	tx storage.Execer,
	eff *effects,
	eventID int64,
	base *types.KnowledgeBase,
	doc *storage.DocumentRow,
	im types.IndexModule,
	operation types.IndexOperation,
) error {
	imID := m.ctx.moduleID(im)
	prior, err := m.store.ListIndexTasksOfDocument(tx, base.ID, imID, doc.ID)
	if err != nil {
		return err
	}
	if len(prior) > 0 {
		last := prior[0]
		if types.IndexOperation(last.Operation) == operation {
			return nil
		}
		// cancel each other out
		if err := m.store.RemoveIndexTask(tx, last.ID); err != nil {
			return err
		}
		eff.removeIndexIDs = append(eff.removeIndexIDs, last.ID)
		return nil
	}

	row := &storage.IndexTaskRow{
		PreprocModule: doc.PreprocModule,
		IndexModule:   imID,
		BaseID:        base.ID,
		DocumentID:    doc.ID,
		Operation:     int(operation),
		EventID:       eventID,
	}
	if _, err := m.store.CreateIndexTask(tx, row); err != nil {
		return err
	}
	preprocModule, err := m.ctx.preprocModule(doc.PreprocModule)
	if err != nil {
		return err
	}
	eff.appendIndex = append(eff.appendIndex, &indexTask{
		row:           row,
		base:          base,
		preprocModule: preprocModule,
		indexModule:   im,
	})
	return nil
}
