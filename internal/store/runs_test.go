package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunCountersAdd(t *testing.T) {
	t.Parallel()

	a := RunCounters{Fetches: 1, Pages: 2, Bytes: 10}
	b := RunCounters{Pages: 1, Assets: 3, Errors: 1, Bytes: 5}
	assert.Equal(t, RunCounters{Fetches: 1, Pages: 3, Assets: 3, Errors: 1, Bytes: 15}, a.Add(b))
	assert.True(t, RunCounters{}.IsZero())
	assert.False(t, a.IsZero())
}

func TestRunStatusValid(t *testing.T) {
	t.Parallel()

	for _, s := range []RunStatus{RunRunning, RunSuccess, RunError, RunStopped} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, RunStatus("queued").Valid())
}
