/*
Package waker implements a stoppable zero-buffered rendezvous primitive.

Push blocks until a Receive takes the payload and vice versa; Broadcast
wakes every waiting receiver at once; Stop unblocks everything with
ErrStopped and poisons the waker. The scan hub uses a waker to hand
resource events from per-base worker goroutines to the orchestrating
goroutine, and the thread pool uses one as its task channel so that idle
and queued workers alike can be cancelled from the outside.
*/
package waker
