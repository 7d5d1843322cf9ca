package waker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushThenReceive(t *testing.T) {
	w := New[int]()

	done := make(chan error, 1)
	go func() {
		done <- w.Push(42)
	}()

	// give the pusher time to park
	time.Sleep(20 * time.Millisecond)

	value, err := w.Receive()
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	require.NoError(t, <-done)
}

func TestReceiveThenPush(t *testing.T) {
	w := New[string]()

	type received struct {
		value string
		err   error
	}
	done := make(chan received, 1)
	go func() {
		value, err := w.Receive()
		done <- received{value, err}
	}()

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, w.Push("payload"))
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "payload", got.value)
}

func TestManyHandoffs(t *testing.T) {
	w := New[int]()
	const count = 100

	var wg sync.WaitGroup
	results := make(chan int, count)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := w.Receive()
			if err == nil {
				results <- value
			}
		}()
	}

	sum := 0
	for i := 0; i < count; i++ {
		require.NoError(t, w.Push(i))
		sum += i
	}
	wg.Wait()
	close(results)

	got := 0
	n := 0
	for value := range results {
		got += value
		n++
	}
	assert.Equal(t, count, n)
	assert.Equal(t, sum, got)
}

func TestBroadcastWakesAllReceivers(t *testing.T) {
	w := New[int]()
	const receivers = 5

	var wg sync.WaitGroup
	results := make(chan int, receivers)
	for i := 0; i < receivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := w.Receive()
			if err == nil {
				results <- value
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	w.Broadcast(7)
	wg.Wait()
	close(results)

	count := 0
	for value := range results {
		assert.Equal(t, 7, value)
		count++
	}
	assert.Equal(t, receivers, count)
}

func TestBroadcastDoesNotAffectPushers(t *testing.T) {
	w := New[int]()

	pushed := make(chan error, 1)
	go func() {
		pushed <- w.Push(1)
	}()
	time.Sleep(20 * time.Millisecond)

	// no receiver is waiting; broadcast must leave the queued pusher alone
	w.Broadcast(99)

	select {
	case <-pushed:
		t.Fatal("pusher was woken by broadcast")
	case <-time.After(50 * time.Millisecond):
	}

	value, err := w.Receive()
	require.NoError(t, err)
	assert.Equal(t, 1, value)
	require.NoError(t, <-pushed)
}

func TestStopWakesBlockedCalls(t *testing.T) {
	w := New[int]()

	pushErr := make(chan error, 1)
	receiveErr := make(chan error, 1)
	go func() {
		pushErr <- w.Push(1)
	}()
	go func() {
		// this receiver either matches the pusher or parks; stop must wake
		// it regardless
		_, err := w.Receive()
		receiveErr <- err
	}()
	go func() {
		_, err := w.Receive()
		receiveErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	w.Stop()

	<-pushErr
	<-receiveErr
	<-receiveErr

	assert.True(t, w.DidStop())
}

func TestCallsAfterStopFail(t *testing.T) {
	w := New[int]()
	w.Stop()

	assert.ErrorIs(t, w.Push(1), ErrStopped)
	_, err := w.Receive()
	assert.ErrorIs(t, err, ErrStopped)

	// stop is idempotent
	w.Stop()
}
