package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonBlocking_PublishDispatchesToSubscribers(t *testing.T) {
	bus := NewNonBlocking()
	defer bus.Close()

	var got int32
	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(UpdatePipeline, func(evt Event) error {
		atomic.StoreInt32(&got, 1)
		wg.Done()
		return nil
	})

	evt := bus.Publish(UpdatePipeline, "payload")
	assert.NotEmpty(t, evt.ID)

	waitTimeout(t, &wg, time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&got))
	assert.EqualValues(t, 1, bus.Published())
}

func TestNonBlocking_UnrelatedTagNotDelivered(t *testing.T) {
	bus := NewNonBlocking()
	defer bus.Close()

	called := int32(0)
	bus.Subscribe(UpdatePipeline, func(evt Event) error {
		atomic.AddInt32(&called, 1)
		return nil
	})
	bus.Publish(TransitMemoryState, nil)
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&called))
}

// TestNonBlocking_DeliversEveryEventUnderBurst pins the delivery contract:
// a burst far larger than any internal buffer reaches the subscriber in
// full and in publish order.
func TestNonBlocking_DeliversEveryEventUnderBurst(t *testing.T) {
	bus := NewNonBlocking()
	defer bus.Close()

	const n = 2000
	var mu sync.Mutex
	var got []int
	bus.Subscribe(IncrementalUpdateMetrics, func(evt Event) error {
		mu.Lock()
		got = append(got, evt.Payload.(int))
		mu.Unlock()
		return nil
	})

	for i := 0; i < n; i++ {
		bus.Publish(IncrementalUpdateMetrics, i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v, "per-subscriber delivery preserves publish order")
	}
}

func TestBlocking_PublishBlockingWaitsForAllHandlers(t *testing.T) {
	bus := NewBlocking()
	var n int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(UpdatePipeline, func(evt Event) error {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&n, 1)
			return nil
		})
	}
	err := bus.PublishBlocking(UpdatePipeline, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&n))
}

func TestBlocking_PublishBlockingReturnsHandlerError(t *testing.T) {
	bus := NewBlocking()
	bus.Subscribe(UpdatePipeline, func(evt Event) error { return nil })
	bus.Subscribe(UpdatePipeline, func(evt Event) error { return errors.New("boom") })
	err := bus.PublishBlocking(UpdatePipeline, nil)
	assert.Error(t, err)
}

func TestBlocking_NoSubscribersReturnsNilImmediately(t *testing.T) {
	bus := NewBlocking()
	err := bus.PublishBlocking(TransitMemoryState, nil)
	assert.NoError(t, err)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for handler")
	}
}
