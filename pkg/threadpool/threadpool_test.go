package threadpool

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteAndPopResult(t *testing.T) {
	pool := New[int]()
	defer pool.Stop()
	pool.SetWorkers(2)

	require.NoError(t, pool.Execute(func() (int, error) { return 7, nil }))

	result, ok := pool.PopResult()
	require.True(t, ok)
	require.NoError(t, result.Err)
	assert.Equal(t, 7, result.Value)
}

func TestPopResultNoMoreExecutions(t *testing.T) {
	pool := New[int]()
	defer pool.Stop()
	pool.SetWorkers(1)

	// nothing in flight: the sentinel comes back immediately
	_, ok := pool.PopResult()
	assert.False(t, ok)
}

func TestFailedExecution(t *testing.T) {
	pool := New[int]()
	defer pool.Stop()
	pool.SetWorkers(1)

	boom := errors.New("boom")
	require.NoError(t, pool.Execute(func() (int, error) { return 0, boom }))

	result, ok := pool.PopResult()
	require.True(t, ok)
	assert.ErrorIs(t, result.Err, boom)
}

func TestPanicBecomesFailure(t *testing.T) {
	pool := New[int]()
	defer pool.Stop()
	pool.SetWorkers(1)

	require.NoError(t, pool.Execute(func() (int, error) { panic("exploded") }))

	result, ok := pool.PopResult()
	require.True(t, ok)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "exploded")
}

func TestManyTasksAllComplete(t *testing.T) {
	pool := New[int]()
	defer pool.Stop()
	pool.SetWorkers(4)

	const count = 50
	go func() {
		for i := 0; i < count; i++ {
			i := i
			pool.Execute(func() (int, error) { return i, nil })
		}
	}()

	var values []int
	for {
		result, ok := pool.PopResult()
		if !ok {
			if len(values) == count {
				break
			}
			// producers may still be pushing; yield and retry
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, result.Err)
		values = append(values, result.Value)
	}

	sort.Ints(values)
	require.Len(t, values, count)
	for i, value := range values {
		assert.Equal(t, i, value)
	}
}

func TestConsumerNeverMissesCompletion(t *testing.T) {
	pool := New[int]()
	defer pool.Stop()
	pool.SetWorkers(2)

	// a consumer parked before the task completes must be woken with the
	// result, not with the sentinel
	block := make(chan struct{})
	require.NoError(t, pool.Execute(func() (int, error) {
		<-block
		return 1, nil
	}))

	got := make(chan bool, 1)
	go func() {
		_, ok := pool.PopResult()
		got <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	close(block)
	assert.True(t, <-got)
}

func TestSetWorkersGrowAndShrink(t *testing.T) {
	pool := New[int]()
	defer pool.Stop()

	pool.SetWorkers(4)
	assert.Equal(t, 4, pool.Workers())

	pool.SetWorkers(1)
	assert.Equal(t, 1, pool.Workers())

	// the remaining worker still runs tasks
	require.NoError(t, pool.Execute(func() (int, error) { return 3, nil }))
	result, ok := pool.PopResult()
	require.True(t, ok)
	assert.Equal(t, 3, result.Value)
}

func TestShrinkWaitsForBusyWorker(t *testing.T) {
	pool := New[int]()
	defer pool.Stop()
	pool.SetWorkers(1)

	var finished atomic.Bool
	release := make(chan struct{})
	require.NoError(t, pool.Execute(func() (int, error) {
		<-release
		finished.Store(true)
		return 0, nil
	}))

	time.Sleep(20 * time.Millisecond)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	// shrink joins the busy worker, which must finish its task first
	pool.SetWorkers(0)
	assert.True(t, finished.Load())
	assert.Equal(t, 0, pool.Workers())
}

func TestStopFailsPendingExecutes(t *testing.T) {
	pool := New[int]()
	// no workers: Execute would block in the rendezvous
	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- pool.Execute(func() (int, error) { return 0, nil })
	}()

	time.Sleep(50 * time.Millisecond)
	pool.Stop()
	wg.Wait()

	assert.Error(t, <-errCh)

	// waiters observe the sentinel after the aborted execute
	_, ok := pool.PopResult()
	assert.False(t, ok)

	// further executes fail immediately
	assert.Error(t, pool.Execute(func() (int, error) { return 0, nil }))
}

func TestSetWorkersAfterStopIsNoop(t *testing.T) {
	pool := New[int]()
	pool.Stop()
	pool.SetWorkers(3)
	assert.Equal(t, 0, pool.Workers())
}
