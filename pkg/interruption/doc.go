/*
Package interruption provides the process-wide cancellation token.

The token is an explicit value passed into every hub loop and module call
rather than hidden thread-local state: module implementers check it between
observable side effects, and the core guarantees a check between each
enqueued work item. Raising the flag makes every polling loop return
ErrInterrupted, which the hubs convert into "abort this task without
committing" — persisted state stays consistent and the task is retried on a
later scan.
*/
package interruption
