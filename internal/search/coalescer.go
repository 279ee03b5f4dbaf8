package search

import (
	"sync"
	"time"
)

// coalescer is a time-windowed dispatcher: for each key, at most one
// dispatch fires per interval, on the trailing edge of the window, carrying
// whatever state the caller accumulated in the meantime. Flush fires any
// pending dispatch immediately; it is used before a terminal broadcast so
// the final counter write always lands first.
type coalescer struct {
	mu       sync.Mutex
	interval time.Duration
	dispatch func(key string)
	pending  map[string]*time.Timer
}

func newCoalescer(interval time.Duration, dispatch func(key string)) *coalescer {
	return &coalescer{
		interval: interval,
		dispatch: dispatch,
		pending:  make(map[string]*time.Timer),
	}
}

// Trigger schedules a dispatch for the key if none is pending. Repeated
// triggers inside the window coalesce into the one scheduled dispatch.
func (c *coalescer) Trigger(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, waiting := c.pending[key]; waiting {
		return
	}
	c.pending[key] = time.AfterFunc(c.interval, func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		c.dispatch(key)
	})
}

// Flush cancels any pending timer for the key and dispatches immediately
// when one was pending.
func (c *coalescer) Flush(key string) {
	c.mu.Lock()
	timer, waiting := c.pending[key]
	if waiting {
		timer.Stop()
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if waiting {
		c.dispatch(key)
	}
}

// Forget drops any pending dispatch for the key without firing it.
func (c *coalescer) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, waiting := c.pending[key]; waiting {
		timer.Stop()
		delete(c.pending, key)
	}
}
