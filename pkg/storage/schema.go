package storage

// schema is the framework database layout. Module foreign keys are the
// stable integer ids allocated in modules; content hashes are raw digests
// stored as BLOBs; meta columns hold JSON.
const schema = `
CREATE TABLE IF NOT EXISTS modules (
	id INTEGER PRIMARY KEY,
	kind INTEGER NOT NULL,
	string_id TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS knbases (
	id INTEGER PRIMARY KEY,
	res_module INTEGER NOT NULL,
	res_params TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resources (
	knbase INTEGER NOT NULL,
	id TEXT NOT NULL,
	hash BLOB NOT NULL,
	content_type TEXT NOT NULL,
	meta TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (knbase, id)
);
CREATE INDEX IF NOT EXISTS idx_resources_hash ON resources (knbase, hash);

CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY,
	preproc_module INTEGER NOT NULL,
	knbase INTEGER NOT NULL,
	res_hash BLOB NOT NULL,
	doc_hash BLOB NOT NULL,
	path TEXT NOT NULL,
	meta TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_doc_hash ON documents (preproc_module, knbase, doc_hash);
CREATE INDEX IF NOT EXISTS idx_documents_res_hash ON documents (preproc_module, knbase, res_hash);

CREATE TABLE IF NOT EXISTS document_refs (
	id INTEGER PRIMARY KEY,
	preproc_module INTEGER NOT NULL,
	knbase INTEGER NOT NULL,
	res_hash BLOB NOT NULL,
	doc_hash BLOB NOT NULL,
	ref INTEGER NOT NULL,
	path TEXT NOT NULL,
	meta TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_document_refs_key
	ON document_refs (preproc_module, knbase, res_hash, doc_hash);
CREATE INDEX IF NOT EXISTS idx_document_refs_ref ON document_refs (ref);

CREATE TABLE IF NOT EXISTS preproc_tasks (
	id INTEGER PRIMARY KEY,
	preproc_module INTEGER NOT NULL,
	knbase INTEGER NOT NULL,
	res_hash BLOB NOT NULL,
	from_res_hash BLOB NULL,
	from_res_content_type TEXT NULL,
	event INTEGER NOT NULL,
	path TEXT NOT NULL,
	content_type TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_preproc_tasks_hash ON preproc_tasks (knbase, res_hash);
CREATE INDEX IF NOT EXISTS idx_preproc_tasks_from_hash ON preproc_tasks (knbase, from_res_hash);
CREATE INDEX IF NOT EXISTS idx_preproc_tasks_time ON preproc_tasks (knbase, created_at, id);

CREATE TABLE IF NOT EXISTS index_tasks (
	id INTEGER PRIMARY KEY,
	preproc_module INTEGER NOT NULL,
	index_module INTEGER NOT NULL,
	knbase INTEGER NOT NULL,
	document INTEGER NOT NULL,
	operation INTEGER NOT NULL,
	event INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_index_tasks_document ON index_tasks (document, operation);
CREATE INDEX IF NOT EXISTS idx_index_tasks_base_doc ON index_tasks (knbase, index_module, document);
CREATE INDEX IF NOT EXISTS idx_index_tasks_time ON index_tasks (created_at, id);
`
