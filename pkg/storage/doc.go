/*
Package storage persists the ingestion engine's state in one embedded
SQLite database.

The layout is content-addressed: resources are identified by (base,
external id) but every downstream table keys work by content hash. The
tables are the module registry, knowledge bases, resources, documents with
their reference rows, and the two task tables that make an interrupted
ingestion resumable.

Every method takes an Execer so it can run against the pooled handle or
inside the single transaction a state machine command opens; Store.WithTx
provides that transaction with commit/rollback handling. The database is
opened in WAL mode with foreign keys on and a busy timeout, and write
transactions take the immediate lock up front.
*/
package storage
