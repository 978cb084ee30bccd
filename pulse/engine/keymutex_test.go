package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("job")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, k.size())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	assert.Equal(t, 1, k.size())
}

func TestInflight(t *testing.T) {
	f := newInflight()
	assert.True(t, f.acquire("x"))
	assert.False(t, f.acquire("x"))
	assert.True(t, f.acquire("y"))
	assert.True(t, f.has("x"))
	assert.Equal(t, 2, f.count())

	f.release("x")
	assert.False(t, f.has("x"))
	assert.True(t, f.acquire("x"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.fired(reasonTimer)
		m.attemptFinished("http", outcomeCompleted, time.Second)
		m.retryArmed()
		m.terminalFailure()
		m.registerGauges(nil, nil, nil)
	})
	assert.Nil(t, NewMetrics(nil))
}
