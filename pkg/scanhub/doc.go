/*
Package scanhub funnels per-base resource event streams into the state
machine.

One worker goroutine per knowledge base iterates the base's scan cursor
and pushes each event through a zero-buffered waker; the loop on the
orchestrating goroutine receives tasks in arrival order, applies them to
the state machine, and signals each worker back before it durably marks
the event consumed. A worker whose event fails to apply stops iterating
and aborts its base only; other bases continue.
*/
package scanhub
