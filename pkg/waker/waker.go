package waker

import (
	"errors"
	"sync"
)

// ErrStopped is returned by Push and Receive once Stop has been called,
// including to callers that were blocked when it happened.
var ErrStopped = errors.New("waker has stopped")

// handshake is one side of a pending rendezvous. Exactly one of pushCh and
// receiveCh is non-nil: pushCh when a pusher waits for a receiver,
// receiveCh when a receiver waits for a payload. The channel is closed to
// wake the waiter; payload is written before the close.
type handshake[P any] struct {
	pushCh    chan struct{}
	receiveCh chan struct{}
	payload   P
}

// Waker is a zero-buffered rendezvous: Push delivers a payload to exactly
// one Receive, blocking until the other side arrives. Unlike a buffered
// queue, a blocked pusher can be cancelled by Stop while still queued;
// unlike a semaphore, the handoff atomically transports the payload.
type Waker[P any] struct {
	mu         sync.Mutex
	didStop    bool
	handshakes []*handshake[P]
}

// New creates a waker
func New[P any]() *Waker[P] {
	return &Waker[P]{}
}

// DidStop reports whether Stop has been called
func (w *Waker[P]) DidStop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.didStop
}

// Push hands payload to a receiver. If none is waiting it blocks until one
// arrives, or until Stop.
func (w *Waker[P]) Push(payload P) error {
	w.mu.Lock()
	if w.didStop {
		w.mu.Unlock()
		return ErrStopped
	}
	if h := w.take(func(h *handshake[P]) bool { return h.receiveCh != nil }); h != nil {
		h.payload = payload
		close(h.receiveCh)
		w.mu.Unlock()
	} else {
		h = &handshake[P]{pushCh: make(chan struct{}), payload: payload}
		w.handshakes = append(w.handshakes, h)
		w.mu.Unlock()
		<-h.pushCh
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.didStop {
		return ErrStopped
	}
	return nil
}

// Receive returns the next pushed payload, blocking until a pusher arrives
// or Stop is called.
func (w *Waker[P]) Receive() (P, error) {
	var zero P
	w.mu.Lock()
	if w.didStop {
		w.mu.Unlock()
		return zero, ErrStopped
	}
	h := w.take(func(h *handshake[P]) bool { return h.pushCh != nil })
	if h != nil {
		close(h.pushCh)
		w.mu.Unlock()
	} else {
		h = &handshake[P]{receiveCh: make(chan struct{})}
		w.handshakes = append(w.handshakes, h)
		w.mu.Unlock()
		<-h.receiveCh
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.didStop {
		return zero, ErrStopped
	}
	return h.payload, nil
}

// Broadcast wakes every currently blocked receiver with payload. Pushers
// not yet matched are unaffected. Receivers arriving later do not see it.
func (w *Waker[P]) Broadcast(payload P) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.handshakes[:0]
	for _, h := range w.handshakes {
		if h.receiveCh != nil {
			h.payload = payload
			close(h.receiveCh)
		} else {
			kept = append(kept, h)
		}
	}
	w.handshakes = kept
}

// Stop wakes every blocked Push and Receive with ErrStopped and poisons
// all subsequent calls. Idempotent.
func (w *Waker[P]) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.didStop {
		return
	}
	for _, h := range w.handshakes {
		if h.pushCh != nil {
			close(h.pushCh)
		}
		if h.receiveCh != nil {
			close(h.receiveCh)
		}
	}
	w.handshakes = nil
	w.didStop = true
}

// take removes and returns the first handshake matching the selector.
// Caller holds the lock.
func (w *Waker[P]) take(selects func(*handshake[P]) bool) *handshake[P] {
	for i, h := range w.handshakes {
		if selects(h) {
			w.handshakes = append(w.handshakes[:i], w.handshakes[i+1:]...)
			return h
		}
	}
	return nil
}
