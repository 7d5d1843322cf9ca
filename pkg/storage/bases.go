package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// BaseRow is one persisted knowledge base
type BaseRow struct {
	ID        int64
	ResModule int64
	ResParams []byte
}

// CreateBase inserts a knowledge base row
func (s *Store) CreateBase(q Execer, resModule int64, resParams []byte) (*BaseRow, error) {
	result, err := q.Exec(
		"INSERT INTO knbases (res_module, res_params) VALUES (?, ?)",
		resModule, string(resParams),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge base: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &BaseRow{ID: id, ResModule: resModule, ResParams: resParams}, nil
}

// GetBase returns the base row with the given id, or ErrNotFound
func (s *Store) GetBase(q Execer, id int64) (*BaseRow, error) {
	var row BaseRow
	var params string
	err := q.QueryRow(
		"SELECT id, res_module, res_params FROM knbases WHERE id = ?",
		id,
	).Scan(&row.ID, &row.ResModule, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("knowledge base %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	row.ResParams = []byte(params)
	return &row, nil
}

// ListBases returns all base rows
func (s *Store) ListBases(q Execer) ([]*BaseRow, error) {
	rows, err := q.Query("SELECT id, res_module, res_params FROM knbases ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bases []*BaseRow
	for rows.Next() {
		var row BaseRow
		var params string
		if err := rows.Scan(&row.ID, &row.ResModule, &params); err != nil {
			return nil, err
		}
		row.ResParams = []byte(params)
		bases = append(bases, &row)
	}
	return bases, rows.Err()
}

// RemoveBase deletes a base row
func (s *Store) RemoveBase(q Execer, id int64) error {
	_, err := q.Exec("DELETE FROM knbases WHERE id = ?", id)
	return err
}
