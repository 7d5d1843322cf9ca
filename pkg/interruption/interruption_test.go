package interruption

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycle(t *testing.T) {
	intr := New()
	assert.False(t, intr.Interrupted())
	assert.NoError(t, intr.Err())

	intr.Interrupt()
	assert.True(t, intr.Interrupted())
	assert.ErrorIs(t, intr.Err(), ErrInterrupted)

	// idempotent
	intr.Interrupt()
	assert.True(t, intr.Interrupted())

	intr.Reset()
	assert.False(t, intr.Interrupted())
	assert.NoError(t, intr.Err())
}
