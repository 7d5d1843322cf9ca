package threadpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/knbase/pkg/log"
	"github.com/cuemby/knbase/pkg/waker"
)

// Result is one completed execution: either Value or Err is meaningful
type Result[R any] struct {
	Value R
	Err   error
}

// resultsQueue tracks in-flight executions and completed results under one
// lock. Waiters register themselves before sleeping so producers can always
// decide between waking a waiter and letting it observe the no-more
// sentinel: a consumer never misses a completion.
type resultsQueue[R any] struct {
	mu       sync.Mutex
	results  []Result[R]
	waiters  []chan struct{}
	inFlight int
}

func (q *resultsQueue[R]) addTask() {
	q.mu.Lock()
	q.inFlight++
	q.mu.Unlock()
}

// abortTask undoes addTask for an execution that never reached a worker.
// Every waiter re-evaluates, since the lowered count may satisfy the
// no-more condition for all of them.
func (q *resultsQueue[R]) abortTask() {
	q.mu.Lock()
	q.inFlight--
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (q *resultsQueue[R]) completeTask(result Result[R]) {
	q.mu.Lock()
	q.inFlight--
	q.results = append(q.results, result)
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(w)
	}
	q.mu.Unlock()
}

func (q *resultsQueue[R]) popResult() (Result[R], bool) {
	for {
		wait := make(chan struct{})
		q.mu.Lock()
		if len(q.results) > 0 {
			result := q.results[0]
			q.results = q.results[1:]
			q.mu.Unlock()
			return result, true
		}
		if q.inFlight <= len(q.waiters) {
			// every remaining completion is already claimed by an earlier
			// waiter: nothing can arrive for us
			q.mu.Unlock()
			var zero Result[R]
			return zero, false
		}
		q.waiters = append(q.waiters, wait)
		q.mu.Unlock()
		<-wait
	}
}

type worker struct {
	done    chan struct{}
	working atomic.Bool
	removed atomic.Bool
}

// Pool is a dynamically resizable worker pool. Tasks are handed to workers
// through a Waker so that both idle workers and blocked Execute calls can
// be cancelled by Stop. Workers return a value of type R; completed results
// are drained with PopResult.
type Pool[R any] struct {
	mu      sync.Mutex
	workers []*worker
	waker   *waker.Waker[func() (R, error)]
	results resultsQueue[R]
	logger  zerolog.Logger
}

// New creates a pool with no workers; call SetWorkers to start some
func New[R any]() *Pool[R] {
	return &Pool[R]{
		waker:  waker.New[func() (R, error)](),
		logger: log.WithComponent("threadpool"),
	}
}

// Workers returns the current pool size
func (p *Pool[R]) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// SetWorkers grows or shrinks the pool to exactly n. Shrinking removes idle
// workers preferentially; busy workers are marked and finish their current
// task first. The call blocks until removed workers have exited. No-op
// after Stop.
func (p *Pool[R]) SetWorkers(n int) {
	var toStart []*worker
	var toJoin []*worker

	p.mu.Lock()
	if p.waker.DidStop() {
		p.mu.Unlock()
		return
	}
	switch {
	case len(p.workers) < n:
		for i := len(p.workers); i < n; i++ {
			w := &worker{done: make(chan struct{})}
			p.workers = append(p.workers, w)
			toStart = append(toStart, w)
		}

	case len(p.workers) > n:
		removeCount := len(p.workers) - n
		removedIndexes := make(map[int]bool, removeCount)
		for _, wantWorking := range []bool{false, true} {
			for i, w := range p.workers {
				if len(removedIndexes) >= removeCount {
					break
				}
				if !removedIndexes[i] && w.working.Load() == wantWorking {
					removedIndexes[i] = true
				}
			}
		}
		kept := make([]*worker, 0, n)
		for i, w := range p.workers {
			if removedIndexes[i] {
				w.removed.Store(true)
				toJoin = append(toJoin, w)
			} else {
				kept = append(kept, w)
			}
		}
		p.workers = kept
		// wake idle workers so they notice the removal mark
		p.waker.Broadcast(nil)
	}
	p.mu.Unlock()

	for _, w := range toStart {
		go p.run(w)
	}
	for _, w := range toJoin {
		<-w.done
	}
}

// Execute hands fn to some worker, blocking until one takes it. It fails
// with waker.ErrStopped after Stop.
func (p *Pool[R]) Execute(fn func() (R, error)) error {
	p.results.addTask()
	if err := p.waker.Push(fn); err != nil {
		p.results.abortTask()
		return err
	}
	return nil
}

// PopResult blocks until a completed result is available, or returns
// ok=false when no further result can arrive for this caller (the
// NoMoreExecutions sentinel).
func (p *Pool[R]) PopResult() (Result[R], bool) {
	return p.results.popResult()
}

// Stop moves the pool to its terminal state: pending Execute calls fail,
// waiters drain, and all workers are joined. Idempotent.
func (p *Pool[R]) Stop() {
	p.mu.Lock()
	if p.waker.DidStop() {
		p.mu.Unlock()
		return
	}
	p.waker.Stop()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	for _, w := range workers {
		<-w.done
	}
}

func (p *Pool[R]) run(w *worker) {
	defer close(w.done)
	for {
		if w.removed.Load() {
			return
		}
		fn, err := p.waker.Receive()
		if err != nil {
			return
		}
		if fn == nil {
			continue
		}
		w.working.Store(true)
		value, ferr := p.invoke(fn)
		if ferr != nil {
			p.logger.Error().Err(ferr).Msg("task execution failed")
			p.results.completeTask(Result[R]{Err: ferr})
		} else {
			p.results.completeTask(Result[R]{Value: value})
		}
		w.working.Store(false)
	}
}

// invoke runs fn converting panics into errors so a broken task cannot
// take a worker down with its completion unaccounted.
func (p *Pool[R]) invoke(fn func() (R, error)) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}
