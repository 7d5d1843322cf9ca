/*
Package filescanner is the built-in ResourceModule for directory trees.

Each scan is a full pass: the tree is walked, compared against a durable
per-base checkpoint in a bbolt store, and the differences become
create/update/delete resource events with sha256 content hashes and
extension-derived content types. A checkpoint mutation commits only when
the engine confirms the event, so events an aborted scan never consumed
are emitted again on the next pass.
*/
package filescanner
