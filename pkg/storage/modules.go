package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ModuleBinding is one row of the module registry: a stable integer id for
// a plugin module's string id, persisted so foreign keys survive restarts.
type ModuleBinding struct {
	ID       int64
	Kind     int
	StringID string
}

// BindModule looks up the binding for stringID, allocating one on first
// sight. A persisted kind that differs from the runtime kind fails: a
// module's stable id must never be silently re-typed.
func (s *Store) BindModule(q Execer, stringID string, kind int) (*ModuleBinding, error) {
	var binding ModuleBinding
	err := q.QueryRow(
		"SELECT id, kind FROM modules WHERE string_id = ?",
		stringID,
	).Scan(&binding.ID, &binding.Kind)

	switch {
	case err == nil:
		if binding.Kind != kind {
			return nil, fmt.Errorf(
				"module %q is registered with kind %d, got %d",
				stringID, binding.Kind, kind,
			)
		}
		binding.StringID = stringID
		return &binding, nil

	case errors.Is(err, sql.ErrNoRows):
		result, err := q.Exec(
			"INSERT INTO modules (kind, string_id) VALUES (?, ?)",
			kind, stringID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to register module %q: %w", stringID, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		return &ModuleBinding{ID: id, Kind: kind, StringID: stringID}, nil

	default:
		return nil, err
	}
}
