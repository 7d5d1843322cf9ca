/*
Package reporter surfaces typed observability events from the ingestion
core.

The Reporter generates monotonically increasing event ids under a mutex
and forwards scan, preprocessing and index lifecycle events to a single
user-supplied listener; with no listener attached every report is a no-op.
The Broker adapts that listener into a pub/sub fan-out with per-subscriber
buffering and non-blocking delivery for external consumers.
*/
package reporter
