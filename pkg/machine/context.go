package machine

import (
	"fmt"

	"github.com/cuemby/knbase/pkg/storage"
	"github.com/cuemby/knbase/pkg/types"
)

// moduleContext binds the plugin modules passed at construction to their
// persisted integer ids. Persistence keys always use the integer id, never
// in-memory identity.
type moduleContext struct {
	byID      map[int64]types.Module
	byString  map[string]types.Module
	stringIDs map[string]int64
}

func bindModules(store *storage.Store, q storage.Execer, modules []types.Module) (*moduleContext, error) {
	ctx := &moduleContext{
		byID:      make(map[int64]types.Module, len(modules)),
		byString:  make(map[string]types.Module, len(modules)),
		stringIDs: make(map[string]int64, len(modules)),
	}
	for _, mod := range modules {
		binding, err := store.BindModule(q, mod.ID(), int(mod.Kind()))
		if err != nil {
			return nil, err
		}
		ctx.byID[binding.ID] = mod
		ctx.byString[mod.ID()] = mod
		ctx.stringIDs[mod.ID()] = binding.ID
	}
	return ctx, nil
}

func (c *moduleContext) module(id int64) (types.Module, error) {
	mod, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("module %d is not registered", id)
	}
	return mod, nil
}

func (c *moduleContext) moduleID(mod types.Module) int64 {
	id, ok := c.stringIDs[mod.ID()]
	if !ok {
		panic(fmt.Sprintf("module %q is not bound", mod.ID()))
	}
	return id
}

func (c *moduleContext) resourceModule(id int64) (types.ResourceModule, error) {
	mod, err := c.module(id)
	if err != nil {
		return nil, err
	}
	rm, ok := mod.(types.ResourceModule)
	if !ok {
		return nil, fmt.Errorf("module %q is not a resource module", mod.ID())
	}
	return rm, nil
}

func (c *moduleContext) preprocModule(id int64) (types.PreprocessingModule, error) {
	mod, err := c.module(id)
	if err != nil {
		return nil, err
	}
	pm, ok := mod.(types.PreprocessingModule)
	if !ok {
		return nil, fmt.Errorf("module %q is not a preprocessing module", mod.ID())
	}
	return pm, nil
}

func (c *moduleContext) indexModule(id int64) (types.IndexModule, error) {
	mod, err := c.module(id)
	if err != nil {
		return nil, err
	}
	im, ok := mod.(types.IndexModule)
	if !ok {
		return nil, fmt.Errorf("module %q is not an index module", mod.ID())
	}
	return im, nil
}

func (c *moduleContext) preprocByString(id string) (types.PreprocessingModule, bool) {
	pm, ok := c.byString[id].(types.PreprocessingModule)
	return pm, ok
}

func (c *moduleContext) indexByString(id string) (types.IndexModule, bool) {
	im, ok := c.byString[id].(types.IndexModule)
	return im, ok
}
