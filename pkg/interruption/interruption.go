package interruption

import (
	"errors"
	"sync/atomic"
)

// ErrInterrupted is returned by Err and by module calls that observed the
// interruption flag mid-work.
var ErrInterrupted = errors.New("interrupted")

// Interruption is a process-wide cancellation token. One instance is shared
// by the hubs, the worker pool and every module call; worker loops poll it
// at safe points and unwind without committing when it fires.
type Interruption struct {
	flag atomic.Bool
}

// New creates an interruption token
func New() *Interruption {
	return &Interruption{}
}

// Interrupt raises the flag. It is safe to call from any goroutine,
// including signal handlers, and is idempotent.
func (i *Interruption) Interrupt() {
	i.flag.Store(true)
}

// Interrupted reports whether the flag has been raised
func (i *Interruption) Interrupted() bool {
	return i.flag.Load()
}

// Err returns ErrInterrupted if the flag has been raised, nil otherwise.
// Callers use it between work items:
//
//	if err := intr.Err(); err != nil {
//		return err
//	}
func (i *Interruption) Err() error {
	if i.flag.Load() {
		return ErrInterrupted
	}
	return nil
}

// Reset lowers the flag so a new scan pass can start after an interrupted
// one has fully unwound.
func (i *Interruption) Reset() {
	i.flag.Store(false)
}
