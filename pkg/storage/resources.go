package storage

import (
	"database/sql"
	"errors"
)

// ResourceRow is one persisted resource, identified by (knbase, id)
type ResourceRow struct {
	BaseID      int64
	ID          string
	Hash        []byte
	ContentType string
	Meta        []byte
	UpdatedAt   int64
}

// GetResource returns the resource row, or nil when absent
func (s *Store) GetResource(q Execer, baseID int64, resourceID string) (*ResourceRow, error) {
	row := ResourceRow{BaseID: baseID, ID: resourceID}
	var meta string
	err := q.QueryRow(
		"SELECT hash, content_type, meta, updated_at FROM resources WHERE knbase = ? AND id = ?",
		baseID, resourceID,
	).Scan(&row.Hash, &row.ContentType, &meta, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.Meta = []byte(meta)
	return &row, nil
}

// CountResourcesByHash counts live resources carrying hash in a base
func (s *Store) CountResourcesByHash(q Execer, baseID int64, hash []byte) (int64, error) {
	var count int64
	err := q.QueryRow(
		"SELECT COUNT(*) FROM resources WHERE knbase = ? AND hash = ?",
		baseID, hash,
	).Scan(&count)
	return count, err
}

// ListResourcesByHash returns the resources carrying hash, newest first
func (s *Store) ListResourcesByHash(q Execer, baseID int64, hash []byte) ([]*ResourceRow, error) {
	rows, err := q.Query(
		"SELECT id, content_type, meta, updated_at FROM resources WHERE knbase = ? AND hash = ? ORDER BY updated_at DESC",
		baseID, hash,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []*ResourceRow
	for rows.Next() {
		row := ResourceRow{BaseID: baseID, Hash: hash}
		var meta string
		if err := rows.Scan(&row.ID, &row.ContentType, &meta, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Meta = []byte(meta)
		resources = append(resources, &row)
	}
	return resources, rows.Err()
}

// ListResourceHashes returns the distinct content hashes live in a base
func (s *Store) ListResourceHashes(q Execer, baseID int64) ([][]byte, error) {
	rows, err := q.Query(
		"SELECT DISTINCT hash FROM resources WHERE knbase = ?",
		baseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes [][]byte
	for rows.Next() {
		var hash []byte
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

// SaveResource inserts a new resource row
func (s *Store) SaveResource(q Execer, row *ResourceRow) error {
	_, err := q.Exec(
		"INSERT INTO resources (knbase, id, hash, content_type, meta, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		row.BaseID, row.ID, row.Hash, row.ContentType, string(row.Meta), row.UpdatedAt,
	)
	return err
}

// UpdateResource updates an existing resource row in place
func (s *Store) UpdateResource(q Execer, row *ResourceRow) error {
	_, err := q.Exec(
		"UPDATE resources SET hash = ?, content_type = ?, meta = ?, updated_at = ? WHERE knbase = ? AND id = ?",
		row.Hash, row.ContentType, string(row.Meta), row.UpdatedAt, row.BaseID, row.ID,
	)
	return err
}

// RemoveResource deletes one resource row
func (s *Store) RemoveResource(q Execer, baseID int64, resourceID string) error {
	_, err := q.Exec(
		"DELETE FROM resources WHERE knbase = ? AND id = ?",
		baseID, resourceID,
	)
	return err
}

// RemoveResources deletes every resource row of a base
func (s *Store) RemoveResources(q Execer, baseID int64) error {
	_, err := q.Exec("DELETE FROM resources WHERE knbase = ?", baseID)
	return err
}
