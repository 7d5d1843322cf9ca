/*
Package machine implements the persistent, content-addressed task graph at
the core of knbase.

The machine serializes every persisted mutation behind a small typed
command surface and moves through three exclusive lifecycle phases:

	SETTING     base management, resource cleaning
	SCANNING    resource creation, update, removal
	PROCESSING  popping and completing preprocessing and index tasks

Reference counting drives the graph. A resource hash is live while any
resource row or preprocessing task references it; the transition to zero
tears down its documents, which are themselves reference counted by
document_refs rows plus pending CREATE index tasks. CREATE and REMOVE
index tasks for one (document, index module) pair cancel each other on
insertion rather than accumulating.

Every public command runs in a single database transaction; the in-memory
task queues mutate only after the transaction commits, so a rolled back
command leaves both the database and the derived queues untouched. On
startup the queues reload from the task tables, which makes an interrupted
ingestion resume exactly where it stopped.
*/
package machine
