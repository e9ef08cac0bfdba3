package admission

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLock_SecondAcquireFails(t *testing.T) {
	l := NewSessionLock()

	assert.True(t, l.TryAcquire("sess-1"))
	assert.False(t, l.TryAcquire("sess-1"), "same session must be rejected while held")
	assert.True(t, l.TryAcquire("sess-2"), "other sessions are unaffected")
}

func TestSessionLock_ReleaseAllowsReacquire(t *testing.T) {
	l := NewSessionLock()

	assert.True(t, l.TryAcquire("sess-1"))
	l.Release("sess-1")
	assert.False(t, l.Held("sess-1"))
	assert.True(t, l.TryAcquire("sess-1"))
}

func TestSessionLock_ReleaseUnheldIsNoop(t *testing.T) {
	l := NewSessionLock()
	l.Release("never-held")
	assert.True(t, l.TryAcquire("never-held"))
}

func TestSessionLock_SingleWinnerUnderContention(t *testing.T) {
	l := NewSessionLock()

	const goroutines = 64
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire("contended") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one goroutine may hold the session")
}
