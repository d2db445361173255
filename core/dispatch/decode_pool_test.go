package dispatch

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePoolRunsSubmittedJobs(t *testing.T) {
	pool := newDecodePool(2, 8)

	var ran atomic.Int64
	done := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		ok := pool.submit(func() {
			ran.Add(1)
			done <- struct{}{}
		})
		require.True(t, ok)
	}
	for i := 0; i < 16; i++ {
		<-done
	}

	assert.Equal(t, int64(16), ran.Load())
	pool.close()
}

func TestDecodePoolRejectsAfterClose(t *testing.T) {
	pool := newDecodePool(1, 1)
	pool.close()

	ok := pool.submit(func() {})
	assert.False(t, ok)

	// Closing again is a no-op.
	pool.close()
}

func TestDecodePoolCloseWaitsForInFlight(t *testing.T) {
	pool := newDecodePool(1, 1)

	var finished atomic.Bool
	release := make(chan struct{})
	ok := pool.submit(func() {
		<-release
		finished.Store(true)
	})
	require.True(t, ok)

	close(release)
	pool.close()
	assert.True(t, finished.Load(), "close must wait for in-flight jobs")
}
