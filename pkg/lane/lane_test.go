package lane

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunSerializesPerRecord(t *testing.T) {
	l := New(4, time.Second)
	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(context.Background(), "same-record", func() error {
				n := atomic.AddInt32(&inFlight, 1)
				if n > atomic.LoadInt32(&maxObserved) {
					atomic.StoreInt32(&maxObserved, n)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, maxObserved, "at most one writer should ever be in flight for the same record")
}

func TestRunAllowsConcurrentDifferentRecords(t *testing.T) {
	l := New(4, time.Second)
	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		go func(key string) {
			defer wg.Done()
			_ = l.Run(context.Background(), key, func() error {
				n := atomic.AddInt32(&inFlight, 1)
				if n > atomic.LoadInt32(&maxObserved) {
					atomic.StoreInt32(&maxObserved, n)
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}(key)
	}
	wg.Wait()
	require.Greater(t, maxObserved, int32(1), "different records should run concurrently")
}

func TestAcquireTimesOutUnderContention(t *testing.T) {
	l := New(1, 30*time.Millisecond)
	release, err := l.Acquire(context.Background(), "record-1")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), "record-1")
	require.Error(t, err)
}
