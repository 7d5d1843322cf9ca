/*
Package threadpool provides the resizable worker pool behind the process
hub.

One counter tracks in-flight tasks; it shares a lock with the result list,
and consumers register themselves under that lock before sleeping. The
producer side can therefore always tell whether to wake a waiter with a
result or let it observe the no-more-executions sentinel — a consumer never
misses a completion even under concurrent producers.

SetWorkers resizes the pool live: growth starts goroutines, shrinkage
removes idle workers first, marks busy ones for removal after their current
task, and joins them before returning.
*/
package threadpool
