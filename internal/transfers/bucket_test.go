package transfers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Grant, suspend on an empty bucket, resume via Return, then a replenish
// period restores the full budget.
func TestBucketGrantReturnAndReplenish(t *testing.T) {
	bucket := NewBucket(1000, 200*time.Millisecond)
	defer bucket.Close()

	// a request larger than what is available grants the available part
	granted, err := bucket.Get(context.Background(), 400)
	require.NoError(t, err)
	assert.Equal(t, int64(400), granted)

	granted, err = bucket.Get(context.Background(), 700)
	require.NoError(t, err)
	assert.Equal(t, int64(600), granted)

	// the bucket is empty now, so the next caller suspends
	results := make(chan int64, 1)
	go func() {
		n, err := bucket.Get(context.Background(), 700)
		if err == nil {
			results <- n
		}
	}()
	select {
	case <-results:
		t.Fatal("Get on an empty bucket did not suspend")
	case <-time.After(20 * time.Millisecond):
	}

	bucket.Return(300)
	select {
	case n := <-results:
		assert.Equal(t, int64(300), n)
	case <-time.After(time.Second):
		t.Fatal("waiter never resumed after Return")
	}

	// after one replenish period the bucket is back at capacity; an
	// oversized request grants the whole budget
	time.Sleep(250 * time.Millisecond)
	granted, err = bucket.Get(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), granted)
}

// After any sequence of Get/Return the token count never exceeds capacity.
func TestBucketReturnIsBoundedByCapacity(t *testing.T) {
	bucket := NewBucket(500, time.Hour)
	defer bucket.Close()

	granted, err := bucket.Get(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), granted)

	bucket.Return(100000)
	assert.LessOrEqual(t, bucket.Tokens(), int64(500))
	assert.Equal(t, int64(500), bucket.Tokens())

	bucket.Return(1)
	assert.Equal(t, int64(500), bucket.Tokens())
}

func TestBucketWaitersWakeInFIFOOrder(t *testing.T) {
	bucket := NewBucket(10, time.Hour)
	defer bucket.Close()

	// drain the bucket
	granted, err := bucket.Get(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), granted)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			if _, err := bucket.Get(context.Background(), 10); err == nil {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}
		}()
		// give each waiter time to enqueue so arrival order is known
		time.Sleep(20 * time.Millisecond)
	}

	bucket.Return(10)
	time.Sleep(20 * time.Millisecond)
	bucket.Return(10)
	time.Sleep(20 * time.Millisecond)
	bucket.Return(10)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

// Cancelling a suspended waiter neither consumes tokens nor starves the
// waiters behind it.
func TestBucketCancelledWaiterDoesNotLoseTokens(t *testing.T) {
	bucket := NewBucket(100, time.Hour)
	defer bucket.Close()

	granted, err := bucket.Get(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), granted)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := bucket.Get(ctx, 50)
		cancelled <- err
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan int64, 1)
	go func() {
		n, err := bucket.Get(context.Background(), 50)
		if err == nil {
			second <- n
		}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.Error(t, <-cancelled)

	bucket.Return(60)
	select {
	case n := <-second:
		assert.Equal(t, int64(50), n)
	case <-time.After(time.Second):
		t.Fatal("successor waiter starved after cancellation")
	}
	assert.Equal(t, int64(10), bucket.Tokens())
}

func TestUnlimitedBucketGrantsWithoutWaiting(t *testing.T) {
	bucket := NewBucket(0, time.Hour)
	defer bucket.Close()

	granted, err := bucket.Get(context.Background(), 1<<30)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), granted)
}

func TestBucketCapacityFromSpeedLimit(t *testing.T) {
	// 1000 KiB/s at 10 refills/s is 102400 bytes per period
	assert.Equal(t, int64(102400), BucketCapacity(1000))
	assert.Equal(t, int64(0), BucketCapacity(0))
	assert.Equal(t, int64(0), BucketCapacity(-5))
}
