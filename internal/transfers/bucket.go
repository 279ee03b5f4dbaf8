package transfers

import (
	"context"
	"sync"
	"time"
)

// refillsPerSecond fixes the bucket period at 100 ms: a bucket's capacity
// is its per-period byte budget.
const refillsPerSecond = 10

// Bucket is a byte token bucket. Get suspends until at least one token is
// available and grants min(requested, available); Return reintroduces
// unused tokens capped at capacity. Refills are periodic, not event-driven:
// each period the bucket is topped back up to capacity. A capacity of zero
// or less disables limiting entirely.
type Bucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	waiters  []*bucketWaiter
	closed   bool
	stop     chan struct{}

	unlimited bool
}

type bucketWaiter struct {
	wake chan struct{}
}

// NewBucket creates a bucket with the given capacity and replenish period.
// capacity <= 0 builds an unlimited bucket that grants without waiting.
func NewBucket(capacity int64, period time.Duration) *Bucket {
	b := &Bucket{
		capacity:  capacity,
		tokens:    capacity,
		stop:      make(chan struct{}),
		unlimited: capacity <= 0,
	}
	if !b.unlimited {
		go b.refillLoop(period)
	}
	return b
}

// BucketCapacity computes a bucket capacity from a speed limit in KiB/s.
// A limit of zero or less means unlimited.
func BucketCapacity(speedLimitKiB int) int64 {
	if speedLimitKiB <= 0 {
		return 0
	}
	return int64(speedLimitKiB) * 1024 / refillsPerSecond
}

func (b *Bucket) refillLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.wakeLocked()
			b.mu.Unlock()
		case <-b.stop:
			return
		}
	}
}

// wakeLocked hands the availability signal to the head waiter. Waiters are
// woken strictly in arrival order; each woken waiter re-wakes its successor
// if tokens remain.
func (b *Bucket) wakeLocked() {
	if b.tokens <= 0 || len(b.waiters) == 0 {
		return
	}
	select {
	case b.waiters[0].wake <- struct{}{}:
	default:
	}
}

// Get suspends the caller until at least one token is available, then
// atomically grants min(requested, available). A cancelled waiter never
// consumes tokens and never steals the wakeup from its successors.
func (b *Bucket) Get(ctx context.Context, requested int64) (int64, error) {
	if b.unlimited {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return requested, nil
	}
	if requested <= 0 {
		return 0, nil
	}

	b.mu.Lock()
	if b.tokens > 0 && len(b.waiters) == 0 {
		granted := min64(requested, b.tokens)
		b.tokens -= granted
		b.mu.Unlock()
		return granted, nil
	}

	w := &bucketWaiter{wake: make(chan struct{}, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	for {
		select {
		case <-w.wake:
			b.mu.Lock()
			if b.tokens > 0 && len(b.waiters) > 0 && b.waiters[0] == w {
				granted := min64(requested, b.tokens)
				b.tokens -= granted
				b.waiters = b.waiters[1:]
				b.wakeLocked()
				b.mu.Unlock()
				return granted, nil
			}
			// spurious or raced wakeup: pass it along and keep waiting
			b.wakeLocked()
			b.mu.Unlock()

		case <-ctx.Done():
			b.mu.Lock()
			for i, other := range b.waiters {
				if other == w {
					b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
					break
				}
			}
			// a wakeup meant for this waiter must not be lost
			b.wakeLocked()
			b.mu.Unlock()
			return 0, ctx.Err()

		case <-b.stop:
			return 0, context.Canceled
		}
	}
}

// Return reintroduces n unused tokens; the total never exceeds capacity.
func (b *Bucket) Return(n int64) {
	if b.unlimited || n <= 0 {
		return
	}
	b.mu.Lock()
	b.tokens = min64(b.capacity, b.tokens+n)
	b.wakeLocked()
	b.mu.Unlock()
}

// Tokens returns the current token count.
func (b *Bucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Close stops the refill goroutine and releases all waiters.
func (b *Bucket) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.stop)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
