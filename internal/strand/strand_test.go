package strand

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStrandExclusivity(t *testing.T) {
	pool := NewPool(8)
	defer pool.Stop()
	s := New(pool)

	var inFlight int32
	var sawOverlap atomic.Bool
	var wg sync.WaitGroup
	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		s.Post(func() {
			defer wg.Done()
			if atomic.AddInt32(&inFlight, 1) != 1 {
				sawOverlap.Store(true)
			}
			time.Sleep(time.Microsecond)
			atomic.AddInt32(&inFlight, -1)
		})
	}
	wg.Wait()
	assert.False(t, sawOverlap.Load(), "two callbacks ran concurrently on one strand")
}

func TestStrandFIFOOrdering(t *testing.T) {
	pool := NewPool(4)
	defer pool.Stop()
	s := New(pool)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		s.Post(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestRunningInThisStrand(t *testing.T) {
	pool := NewPool(2)
	defer pool.Stop()
	a := New(pool)
	b := New(pool)

	done := make(chan struct{})
	a.Post(func() {
		defer close(done)
		assert.True(t, a.RunningInThisStrand())
		assert.False(t, b.RunningInThisStrand())
	})
	<-done
}

func TestPostAfterStopIsDropped(t *testing.T) {
	pool := NewPool(2)
	defer pool.Stop()
	s := New(pool)

	var ran atomic.Bool
	s.Stop()
	s.Post(func() { ran.Store(true) })
	time.Sleep(5 * time.Millisecond)
	assert.False(t, ran.Load())
}
