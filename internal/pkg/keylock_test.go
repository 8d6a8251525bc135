package pkg

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex(t *testing.T) {
	t.Run("Same key is serialized", func(t *testing.T) {
		// Given: a shared counter guarded only by the keyed mutex
		locks := NewKeyedMutex()
		counter := 0

		// When: many goroutines increment it under the same key
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()

				_ = locks.WithLock("match", func() error {
					counter++
					return nil
				})
			}()
		}
		wg.Wait()

		// Then: no increment is lost and the entry is released
		assert.Equal(t, 100, counter)
		assert.Equal(t, 0, locks.size())
	})

	t.Run("Different keys do not block each other", func(t *testing.T) {
		locks := NewKeyedMutex()

		unlockA := locks.Lock("a")
		defer unlockA()

		done := make(chan struct{})
		go func() {
			unlock := locks.Lock("b")
			unlock()
			close(done)
		}()

		<-done
		assert.Equal(t, 1, locks.size())
	})
}

func TestNewMatchID(t *testing.T) {
	id := NewMatchID()

	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewMatchID())
}
