/*
Package processhub drains the state machine's pending work under
PROCESSING.

A round pumps removed-resource, index and preprocessing events from the
machine into the worker pool, then applies completed results; the loop
runs until a full round leaves both halves clean, which guarantees
quiescence: the pool is idle, nothing is in flight, and the machine has
nothing to emit.

Workers never mutate persisted state. Each payload returns a continuation,
and the continuation — complete, fail, or fail-as-interrupted — runs on
the orchestrating goroutine, so every popped event is accounted for before
the loop exits. Failed tasks stay persisted with a bumped retry counter
and run again on a later scan.
*/
package processhub
