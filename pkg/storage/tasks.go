package storage

import (
	"database/sql"
	"errors"
)

// Index task operations as persisted in index_tasks.operation
const (
	IndexOpCreate = 0
	IndexOpRemove = 1
)

// PreprocTaskRow is one pending preprocessing task. FromResHash is nil for
// first-seen content; for in-place updates it names the content the new
// hash replaced so a preprocessing run can reuse the prior workspace.
type PreprocTaskRow struct {
	ID                 int64
	PreprocModule      int64
	BaseID             int64
	ResHash            []byte
	FromResHash        []byte
	FromResContentType string
	EventID            int64
	Path               string
	ContentType        string
	RetryCount         int
	CreatedAt          int64
}

// IndexTaskRow is one pending index task
type IndexTaskRow struct {
	ID            int64
	PreprocModule int64
	IndexModule   int64
	BaseID        int64
	DocumentID    int64
	Operation     int
	EventID       int64
	RetryCount    int
	CreatedAt     int64
}

const preprocTaskColumns = "id, preproc_module, res_hash, from_res_hash, from_res_content_type, event, path, content_type, retry_count, created_at"

func scanPreprocTask(baseID int64, scan func(...any) error) (*PreprocTaskRow, error) {
	row := PreprocTaskRow{BaseID: baseID}
	var fromContentType sql.NullString
	err := scan(
		&row.ID, &row.PreprocModule, &row.ResHash, &row.FromResHash,
		&fromContentType, &row.EventID, &row.Path, &row.ContentType,
		&row.RetryCount, &row.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	row.FromResContentType = fromContentType.String
	return &row, nil
}

// GetPreprocTask returns one preprocessing task of a base, or nil
func (s *Store) GetPreprocTask(q Execer, baseID, taskID int64) (*PreprocTaskRow, error) {
	row, err := scanPreprocTask(baseID, q.QueryRow(
		"SELECT "+preprocTaskColumns+" FROM preproc_tasks WHERE knbase = ? AND id = ?",
		baseID, taskID,
	).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

// ListPreprocTasks returns a base's preprocessing tasks in FIFO order
func (s *Store) ListPreprocTasks(q Execer, baseID int64) ([]*PreprocTaskRow, error) {
	return s.queryPreprocTasks(q, baseID,
		"SELECT "+preprocTaskColumns+" FROM preproc_tasks WHERE knbase = ? ORDER BY created_at, id",
		baseID,
	)
}

// ListPreprocTasksByHash returns the tasks keyed on (base, res_hash)
func (s *Store) ListPreprocTasksByHash(q Execer, baseID int64, resHash []byte) ([]*PreprocTaskRow, error) {
	return s.queryPreprocTasks(q, baseID,
		"SELECT "+preprocTaskColumns+" FROM preproc_tasks WHERE knbase = ? AND res_hash = ? ORDER BY created_at, id",
		baseID, resHash,
	)
}

func (s *Store) queryPreprocTasks(q Execer, baseID int64, query string, args ...any) ([]*PreprocTaskRow, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*PreprocTaskRow
	for rows.Next() {
		task, err := scanPreprocTask(baseID, rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CreatePreprocTask inserts a preprocessing task, filling ID and CreatedAt
func (s *Store) CreatePreprocTask(q Execer, row *PreprocTaskRow) (*PreprocTaskRow, error) {
	row.CreatedAt = NowMillis()
	var fromHash any
	var fromContentType any
	if row.FromResHash != nil {
		fromHash = row.FromResHash
		fromContentType = row.FromResContentType
	}
	result, err := q.Exec(
		`INSERT INTO preproc_tasks
			(preproc_module, knbase, res_hash, from_res_hash, from_res_content_type, event, path, content_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.PreprocModule, row.BaseID, row.ResHash, fromHash, fromContentType,
		row.EventID, row.Path, row.ContentType, row.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	row.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return row, nil
}

// RemovePreprocTask deletes a preprocessing task row
func (s *Store) RemovePreprocTask(q Execer, taskID int64) error {
	_, err := q.Exec("DELETE FROM preproc_tasks WHERE id = ?", taskID)
	return err
}

// BumpPreprocRetry increments a failed task's retry counter
func (s *Store) BumpPreprocRetry(q Execer, taskID int64) error {
	_, err := q.Exec("UPDATE preproc_tasks SET retry_count = retry_count + 1 WHERE id = ?", taskID)
	return err
}

// CountResourceRefs counts the preprocessing tasks referencing hash in a
// base, through either res_hash or from_res_hash.
func (s *Store) CountResourceRefs(q Execer, baseID int64, hash []byte) (int64, error) {
	var count int64
	err := q.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM preproc_tasks WHERE knbase = ? AND res_hash = ?) +
			(SELECT COUNT(*) FROM preproc_tasks WHERE knbase = ? AND from_res_hash = ?)`,
		baseID, hash, baseID, hash,
	).Scan(&count)
	return count, err
}

const indexTaskColumns = "id, preproc_module, index_module, document, operation, event, retry_count, created_at"

func scanIndexTask(baseID int64, scan func(...any) error) (*IndexTaskRow, error) {
	row := IndexTaskRow{BaseID: baseID}
	err := scan(
		&row.ID, &row.PreprocModule, &row.IndexModule, &row.DocumentID,
		&row.Operation, &row.EventID, &row.RetryCount, &row.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetIndexTask returns one index task of a base, or nil
func (s *Store) GetIndexTask(q Execer, baseID, taskID int64) (*IndexTaskRow, error) {
	row, err := scanIndexTask(baseID, q.QueryRow(
		"SELECT "+indexTaskColumns+" FROM index_tasks WHERE knbase = ? AND id = ?",
		baseID, taskID,
	).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

// ListIndexTasks returns a base's index tasks in FIFO order
func (s *Store) ListIndexTasks(q Execer, baseID int64) ([]*IndexTaskRow, error) {
	rows, err := q.Query(
		"SELECT "+indexTaskColumns+" FROM index_tasks WHERE knbase = ? ORDER BY created_at, id",
		baseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*IndexTaskRow
	for rows.Next() {
		task, err := scanIndexTask(baseID, rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListIndexTasksOfDocument returns the pending tasks for one
// (index_module, document) pair. The cancellation law keeps this at most
// one row long.
func (s *Store) ListIndexTasksOfDocument(q Execer, baseID, indexModule, documentID int64) ([]*IndexTaskRow, error) {
	rows, err := q.Query(
		"SELECT "+indexTaskColumns+" FROM index_tasks WHERE knbase = ? AND index_module = ? AND document = ?",
		baseID, indexModule, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*IndexTaskRow
	for rows.Next() {
		task, err := scanIndexTask(baseID, rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CreateIndexTask inserts an index task, filling ID and CreatedAt
func (s *Store) CreateIndexTask(q Execer, row *IndexTaskRow) (*IndexTaskRow, error) {
	row.CreatedAt = NowMillis()
	result, err := q.Exec(
		`INSERT INTO index_tasks
			(preproc_module, index_module, knbase, document, operation, event, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.PreprocModule, row.IndexModule, row.BaseID, row.DocumentID,
		row.Operation, row.EventID, row.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	row.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return row, nil
}

// RemoveIndexTask deletes an index task row
func (s *Store) RemoveIndexTask(q Execer, taskID int64) error {
	_, err := q.Exec("DELETE FROM index_tasks WHERE id = ?", taskID)
	return err
}

// BumpIndexRetry increments a failed task's retry counter
func (s *Store) BumpIndexRetry(q Execer, taskID int64) error {
	_, err := q.Exec("UPDATE index_tasks SET retry_count = retry_count + 1 WHERE id = ?", taskID)
	return err
}

// CountIndexTasksForDocument counts every pending index task referencing
// a document, regardless of operation.
func (s *Store) CountIndexTasksForDocument(q Execer, documentID int64) (int64, error) {
	var count int64
	err := q.QueryRow(
		"SELECT COUNT(*) FROM index_tasks WHERE document = ?",
		documentID,
	).Scan(&count)
	return count, err
}

// CountPendingCreates counts pending CREATE index tasks for a document;
// they hold references that keep the document alive.
func (s *Store) CountPendingCreates(q Execer, documentID int64) (int64, error) {
	var count int64
	err := q.QueryRow(
		"SELECT COUNT(*) FROM index_tasks WHERE document = ? AND operation = ?",
		documentID, IndexOpCreate,
	).Scan(&count)
	return count, err
}

// HasTasks reports whether any preprocessing or index task is persisted.
// On startup a non-empty task table puts the state machine in PROCESSING.
func (s *Store) HasTasks(q Execer) (bool, error) {
	var count int64
	err := q.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM preproc_tasks) +
			(SELECT COUNT(*) FROM index_tasks)`,
	).Scan(&count)
	return count > 0, err
}
