package machine

import (
	"bytes"
	"fmt"

	"github.com/cuemby/knbase/pkg/log"
	"github.com/cuemby/knbase/pkg/storage"
	"github.com/cuemby/knbase/pkg/types"
)

// PutResource records a created or updated resource. SCANNING only.
//
// When the resource's content hash appears in the base for the first time
// a hash-created submission schedules preprocessing; when an in-place
// update orphans the previous hash a hash-removed submission starts its
// teardown.
func (m *Machine) PutResource(eventID int64, resource *types.Resource, path string) error {
	m.assertState(StateScanning)
	base := resource.Base
	eff := &effects{}

	err := m.store.WithTx(func(tx storage.Execer) error {
		targetLastRefs, err := m.resourceHashRefs(tx, base.ID, resource.Hash)
		if err != nil {
			return err
		}
		originRow, err := m.store.GetResource(tx, base.ID, resource.ID)
		if err != nil {
			return err
		}

		var origin *types.Resource
		if originRow == nil {
			err = m.store.SaveResource(tx, &storage.ResourceRow{
				BaseID:      base.ID,
				ID:          resource.ID,
				Hash:        resource.Hash,
				ContentType: resource.ContentType,
				Meta:        resource.Meta,
				UpdatedAt:   resource.UpdatedAt,
			})
			if err != nil {
				return err
			}
		} else {
			origin = &types.Resource{
				ID:          originRow.ID,
				Base:        base,
				Hash:        originRow.Hash,
				ContentType: originRow.ContentType,
				Meta:        originRow.Meta,
				UpdatedAt:   originRow.UpdatedAt,
			}
			err = m.store.UpdateResource(tx, &storage.ResourceRow{
				BaseID:      base.ID,
				ID:          resource.ID,
				Hash:        resource.Hash,
				ContentType: resource.ContentType,
				Meta:        resource.Meta,
				UpdatedAt:   resource.UpdatedAt,
			})
			if err != nil {
				return err
			}
			if !bytes.Equal(resource.Hash, origin.Hash) {
				originRefs, err := m.resourceHashRefs(tx, base.ID, origin.Hash)
				if err != nil {
					return err
				}
				if originRefs == 0 {
					err = m.submitHashRemoved(tx, eff, eventID, base, origin.Hash, origin.ContentType)
					if err != nil {
						return err
					}
				}
			}
		}

		if targetLastRefs == 0 {
			err = m.submitHashCreated(tx, eff, eventID, resource, origin, path, resource.ContentType)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.applyEffects(eff)
	m.logger.Debug().
		Int64("base_id", base.ID).
		Str("resource_id", resource.ID).
		Str("hash", log.Hash(resource.Hash)).
		Msg("resource put")
	return nil
}

// RemoveResource records a deleted resource. SCANNING only.
//
// When the removed row was the hash's last resource, pending preprocessing
// tasks keyed on the hash are cancelled (the remove supersedes the create
// that scheduled them), and if nothing references the hash anymore its
// documents are torn down. A hash that never produced anything disappears
// silently.
func (m *Machine) RemoveResource(eventID int64, resource *types.Resource) error {
	m.assertState(StateScanning)
	base := resource.Base
	eff := &effects{}

	err := m.store.WithTx(func(tx storage.Execer) error {
		origin, err := m.store.GetResource(tx, base.ID, resource.ID)
		if err != nil {
			return err
		}
		if origin == nil {
			return fmt.Errorf("resource %q not found in base %d", resource.ID, base.ID)
		}
		if err := m.store.RemoveResource(tx, base.ID, resource.ID); err != nil {
			return err
		}

		resourceCount, err := m.store.CountResourcesByHash(tx, base.ID, resource.Hash)
		if err != nil {
			return err
		}
		if resourceCount > 0 {
			return nil
		}

		// cancel pending preprocessing of the now resource-less hash; in
		// SCANNING no task has been popped, so every row is cancellable
		stale, err := m.store.ListPreprocTasksByHash(tx, base.ID, resource.Hash)
		if err != nil {
			return err
		}
		var orphanedFroms []types.FromResource
		for _, task := range stale {
			if err := m.store.RemovePreprocTask(tx, task.ID); err != nil {
				return err
			}
			eff.removePreprocIDs = append(eff.removePreprocIDs, task.ID)
			if task.FromResHash != nil {
				orphanedFroms = append(orphanedFroms, types.FromResource{
					Hash:        task.FromResHash,
					ContentType: task.FromResContentType,
				})
			}
		}

		refs, err := m.resourceHashRefs(tx, base.ID, resource.Hash)
		if err != nil {
			return err
		}
		if refs == 0 {
			hasDocs, err := m.store.HasDocumentRefs(tx, base.ID, resource.Hash)
			if err != nil {
				return err
			}
			if hasDocs {
				err = m.submitHashRemoved(tx, eff, eventID, base, resource.Hash, resource.ContentType)
				if err != nil {
					return err
				}
			}
		}

		// cancelled tasks may have been the last referent of the content
		// they superseded
		for _, from := range orphanedFroms {
			refs, err := m.resourceHashRefs(tx, base.ID, from.Hash)
			if err != nil {
				return err
			}
			if refs == 0 {
				err = m.submitHashRemoved(tx, eff, eventID, base, from.Hash, from.ContentType)
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

	m.applyEffects(eff)
	m.logger.Debug().
		Int64("base_id", base.ID).
		Str("resource_id", resource.ID).
		Str("hash", log.Hash(resource.Hash)).
		Msg("resource removed")
	return nil
}

// CleanResources tears down every resource of a base: each live hash gets
// a hash-removed submission, all resource rows are deleted, and the
// machine moves to PROCESSING so the emitted removal tasks can drain.
// SETTING only.
func (m *Machine) CleanResources(eventID int64, base *types.KnowledgeBase) error {
	m.assertState(StateSetting)
	eff := &effects{}

	err := m.store.WithTx(func(tx storage.Execer) error {
		hashes, err := m.store.ListResourceHashes(tx, base.ID)
		if err != nil {
			return err
		}
		for _, hash := range hashes {
			resources, err := m.store.ListResourcesByHash(tx, base.ID, hash)
			if err != nil {
				return err
			}
			if len(resources) == 0 {
				continue
			}
			err = m.submitHashRemoved(tx, eff, eventID, base, hash, resources[0].ContentType)
			if err != nil {
				return err
			}
		}
		return m.store.RemoveResources(tx, base.ID)
	})
	if err != nil {
		return err
	}

	m.applyEffects(eff)
	m.state = StateProcessing
	m.logger.Info().Int64("base_id", base.ID).Msg("resources cleaned")
	return nil
}
