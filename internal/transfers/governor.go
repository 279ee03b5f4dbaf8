package transfers

import (
	"context"
	"sync"
	"time"

	"github.com/auriora/wirefly/internal/options"
	"github.com/auriora/wirefly/pkg/logging"
)

const bucketPeriod = time.Second / refillsPerSecond

// Governor rate-limits outbound bytes by routing each in-flight upload to
// the token bucket of the remote user's group. Users with no group map to
// the default group's bucket.
type Governor struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	opts    options.Options
}

// NewGovernor builds the per-group buckets from the given snapshot.
func NewGovernor(opts options.Options) *Governor {
	g := &Governor{}
	g.rebuild(opts)
	return g
}

// GetBytes suspends until the resolved bucket grants bytes for the named
// user, returning the granted count.
func (g *Governor) GetBytes(ctx context.Context, username string, requested int64) (int64, error) {
	return g.bucketFor(username).Get(ctx, requested)
}

// ReturnBytes reintroduces the portion of a grant that went unused: when
// fewer bytes were actually sent than were granted, the difference flows
// back into the user's bucket. The delta is clamped at zero so an
// over-send can never mint tokens.
func (g *Governor) ReturnBytes(username string, granted, actual int64) {
	waste := granted - actual
	if waste <= 0 {
		return
	}
	g.bucketFor(username).Return(waste)
}

// Reconfigure rebuilds every bucket from the new snapshot in one swap.
// In-flight transfers briefly see freshly refilled buckets.
func (g *Governor) Reconfigure(opts options.Options) {
	g.mu.Lock()
	old := g.buckets
	g.mu.Unlock()

	g.rebuild(opts)
	for _, b := range old {
		b.Close()
	}
	logging.Debug().Int("groups", len(opts.EffectiveGroups())).Msg("Upload governor rebuilt")
}

func (g *Governor) rebuild(opts options.Options) {
	buckets := make(map[string]*Bucket)
	for _, group := range opts.EffectiveGroups() {
		limit := group.SpeedLimitKiB
		if limit <= 0 {
			limit = opts.Uploads.SpeedLimitKiB
		}
		buckets[group.Name] = NewBucket(BucketCapacity(limit), bucketPeriod)
	}

	g.mu.Lock()
	g.buckets = buckets
	g.opts = opts
	g.mu.Unlock()
}

func (g *Governor) bucketFor(username string) *Bucket {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if b, ok := g.buckets[g.opts.GroupFor(username)]; ok {
		return b
	}
	return g.buckets[options.GroupDefault]
}

// Close releases every bucket.
func (g *Governor) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.buckets {
		b.Close()
	}
}
