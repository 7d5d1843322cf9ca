package machine

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/knbase/pkg/storage"
	"github.com/cuemby/knbase/pkg/types"
)

// GetKnowledgeBase returns one knowledge base
func (m *Machine) GetKnowledgeBase(id int64) (*types.KnowledgeBase, error) {
	row, err := m.store.GetBase(m.store.DB(), id)
	if err != nil {
		return nil, err
	}
	return m.buildBase(row)
}

// GetKnowledgeBases returns every knowledge base
func (m *Machine) GetKnowledgeBases() ([]*types.KnowledgeBase, error) {
	rows, err := m.store.ListBases(m.store.DB())
	if err != nil {
		return nil, err
	}
	bases := make([]*types.KnowledgeBase, 0, len(rows))
	for _, row := range rows {
		base, err := m.buildBase(row)
		if err != nil {
			return nil, err
		}
		bases = append(bases, base)
	}
	return bases, nil
}

// CreateKnowledgeBase registers a new base. SETTING only.
func (m *Machine) CreateKnowledgeBase(resourceModule types.ResourceModule, resourceParams json.RawMessage) (*types.KnowledgeBase, error) {
	m.assertState(StateSetting)

	var base *types.KnowledgeBase
	err := m.store.WithTx(func(tx storage.Execer) error {
		row, err := m.store.CreateBase(tx, m.ctx.moduleID(resourceModule), resourceParams)
		if err != nil {
			return err
		}
		base = &types.KnowledgeBase{
			ID:             row.ID,
			ResourceModule: resourceModule,
			ResourceParams: resourceParams,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info().Int64("base_id", base.ID).Str("module", resourceModule.ID()).Msg("knowledge base created")
	return base, nil
}

// RemoveKnowledgeBase deletes a base. SETTING only; the base must hold no
// live resources (clean them first).
func (m *Machine) RemoveKnowledgeBase(base *types.KnowledgeBase) error {
	m.assertState(StateSetting)

	err := m.store.WithTx(func(tx storage.Execer) error {
		hashes, err := m.store.ListResourceHashes(tx, base.ID)
		if err != nil {
			return err
		}
		if len(hashes) > 0 {
			return fmt.Errorf("cannot remove knowledge base %d because it contains resources", base.ID)
		}
		return m.store.RemoveBase(tx, base.ID)
	})
	if err != nil {
		return err
	}
	m.logger.Info().Int64("base_id", base.ID).Msg("knowledge base removed")
	return nil
}

// GetResources returns the live resources carrying hash in a base
func (m *Machine) GetResources(base *types.KnowledgeBase, hash []byte) ([]*types.Resource, error) {
	rows, err := m.store.ListResourcesByHash(m.store.DB(), base.ID, hash)
	if err != nil {
		return nil, err
	}
	resources := make([]*types.Resource, 0, len(rows))
	for _, row := range rows {
		resources = append(resources, &types.Resource{
			ID:          row.ID,
			Base:        base,
			Hash:        row.Hash,
			ContentType: row.ContentType,
			Meta:        row.Meta,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return resources, nil
}

// GetDocument returns the document with the given identity, or nil
func (m *Machine) GetDocument(base *types.KnowledgeBase, preprocModule types.PreprocessingModule, documentHash []byte) (*types.DocumentDescription, error) {
	row, err := m.store.FindDocument(m.store.DB(), m.ctx.moduleID(preprocModule), base.ID, documentHash)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return &types.DocumentDescription{
		Base:          base,
		PreprocModule: preprocModule,
		ResourceHash:  row.ResHash,
		DocumentHash:  row.DocHash,
		Path:          row.Path,
		Meta:          row.Meta,
	}, nil
}

// ResourceModule resolves a registered resource module by string id
func (m *Machine) ResourceModule(id string) (types.ResourceModule, error) {
	mod, ok := m.ctx.byString[id]
	if !ok {
		return nil, fmt.Errorf("module %q is not registered", id)
	}
	rm, ok := mod.(types.ResourceModule)
	if !ok {
		return nil, fmt.Errorf("module %q is not a resource module", id)
	}
	return rm, nil
}

// PreprocModule resolves a registered preprocessing module by string id
func (m *Machine) PreprocModule(id string) (types.PreprocessingModule, error) {
	pm, ok := m.ctx.preprocByString(id)
	if !ok {
		return nil, fmt.Errorf("module %q is not a registered preprocessing module", id)
	}
	return pm, nil
}

// IndexModule resolves a registered index module by string id
func (m *Machine) IndexModule(id string) (types.IndexModule, error) {
	im, ok := m.ctx.indexByString(id)
	if !ok {
		return nil, fmt.Errorf("module %q is not a registered index module", id)
	}
	return im, nil
}
