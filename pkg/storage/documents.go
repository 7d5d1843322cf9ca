package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// DocumentRow is one persisted derived document. Identity is
// (preproc_module, knbase, doc_hash); ResHash records the first resource
// content that produced it.
type DocumentRow struct {
	ID            int64
	PreprocModule int64
	BaseID        int64
	ResHash       []byte
	DocHash       []byte
	Path          string
	Meta          []byte
}

// DocumentRefRow records that (base, res_hash) owns a reference to the
// document identified by (preproc_module, base, doc_hash).
type DocumentRefRow struct {
	ID            int64
	PreprocModule int64
	BaseID        int64
	ResHash       []byte
	DocHash       []byte
	Ref           int64
	Path          string
	Meta          []byte
}

// GetDocument returns the document with the given id, or ErrNotFound
func (s *Store) GetDocument(q Execer, id int64) (*DocumentRow, error) {
	var row DocumentRow
	var meta string
	err := q.QueryRow(
		"SELECT id, preproc_module, knbase, res_hash, doc_hash, path, meta FROM documents WHERE id = ?",
		id,
	).Scan(&row.ID, &row.PreprocModule, &row.BaseID, &row.ResHash, &row.DocHash, &row.Path, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	row.Meta = []byte(meta)
	return &row, nil
}

// FindDocument returns the document with the given identity, or nil
func (s *Store) FindDocument(q Execer, preprocModule, baseID int64, docHash []byte) (*DocumentRow, error) {
	var row DocumentRow
	var meta string
	err := q.QueryRow(
		"SELECT id, res_hash, path, meta FROM documents WHERE preproc_module = ? AND knbase = ? AND doc_hash = ?",
		preprocModule, baseID, docHash,
	).Scan(&row.ID, &row.ResHash, &row.Path, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.PreprocModule = preprocModule
	row.BaseID = baseID
	row.DocHash = docHash
	row.Meta = []byte(meta)
	return &row, nil
}

// CreateDocument appends a document row
func (s *Store) CreateDocument(q Execer, row *DocumentRow) (*DocumentRow, error) {
	result, err := q.Exec(
		"INSERT INTO documents (preproc_module, knbase, res_hash, doc_hash, path, meta) VALUES (?, ?, ?, ?, ?, ?)",
		row.PreprocModule, row.BaseID, row.ResHash, row.DocHash, row.Path, string(row.Meta),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	row.ID = id
	return row, nil
}

// RemoveDocument deletes a document row
func (s *Store) RemoveDocument(q Execer, id int64) error {
	_, err := q.Exec("DELETE FROM documents WHERE id = ?", id)
	return err
}

// CreateDocumentRef records one (res_hash → document) reference. A
// duplicate key is a no-op: a reference is owned once.
func (s *Store) CreateDocumentRef(q Execer, row *DocumentRefRow) error {
	_, err := q.Exec(
		`INSERT OR IGNORE INTO document_refs
			(preproc_module, knbase, res_hash, doc_hash, ref, path, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.PreprocModule, row.BaseID, row.ResHash, row.DocHash, row.Ref, row.Path, string(row.Meta),
	)
	return err
}

// RemoveDocumentRefs drops every reference held by (preproc_module, base,
// res_hash).
func (s *Store) RemoveDocumentRefs(q Execer, preprocModule, baseID int64, resHash []byte) error {
	_, err := q.Exec(
		"DELETE FROM document_refs WHERE preproc_module = ? AND knbase = ? AND res_hash = ?",
		preprocModule, baseID, resHash,
	)
	return err
}

// HasDocumentRefs reports whether any document reference is owned by a
// resource hash in a base, across all preprocessing modules.
func (s *Store) HasDocumentRefs(q Execer, baseID int64, resHash []byte) (bool, error) {
	var count int64
	err := q.QueryRow(
		"SELECT COUNT(*) FROM document_refs WHERE knbase = ? AND res_hash = ?",
		baseID, resHash,
	).Scan(&count)
	return count > 0, err
}

// CountDocumentRefs counts the reference rows pointing at a document
func (s *Store) CountDocumentRefs(q Execer, documentID int64) (int64, error) {
	var count int64
	err := q.QueryRow(
		"SELECT COUNT(*) FROM document_refs WHERE ref = ?",
		documentID,
	).Scan(&count)
	return count, err
}

// ListDocumentsByResource returns the documents referenced by
// (preproc_module, base, res_hash), in document id order.
func (s *Store) ListDocumentsByResource(q Execer, preprocModule, baseID int64, resHash []byte) ([]*DocumentRow, error) {
	rows, err := q.Query(
		`SELECT DISTINCT d.id, d.res_hash, d.doc_hash, d.path, d.meta
			FROM document_refs r JOIN documents d ON d.id = r.ref
			WHERE r.preproc_module = ? AND r.knbase = ? AND r.res_hash = ?
			ORDER BY d.id`,
		preprocModule, baseID, resHash,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var documents []*DocumentRow
	for rows.Next() {
		row := DocumentRow{PreprocModule: preprocModule, BaseID: baseID}
		var meta string
		if err := rows.Scan(&row.ID, &row.ResHash, &row.DocHash, &row.Path, &meta); err != nil {
			return nil, err
		}
		row.Meta = []byte(meta)
		documents = append(documents, &row)
	}
	return documents, rows.Err()
}
