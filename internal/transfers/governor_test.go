package transfers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/wirefly/internal/options"
)

func governorOptions() options.Options {
	return options.Options{
		Uploads: options.Uploads{
			MaxSlots:      10,
			SpeedLimitKiB: 10, // 1024 bytes per period
			Groups: []options.Group{
				{Name: "friends", Slots: 2, Priority: 1,
					Strategy: options.StrategyFirstInFirstOut,
					SpeedLimitKiB: 20, Members: []string{"alice"}},
			},
		},
	}
}

func TestGovernorRoutesToGroupBucket(t *testing.T) {
	g := NewGovernor(governorOptions())
	defer g.Close()

	// alice maps to friends: 20 KiB/s gives a 2048-byte period budget
	granted, err := g.GetBytes(context.Background(), "alice", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), granted)

	// unknown users fall back to the default group's bucket
	granted, err = g.GetBytes(context.Background(), "stranger", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), granted)
}

// The returned waste is max(0, granted-actual): under-sending replenishes
// the difference, over-sending never mints tokens.
func TestReturnBytesRestoresUnusedGrant(t *testing.T) {
	g := NewGovernor(governorOptions())
	defer g.Close()

	granted, err := g.GetBytes(context.Background(), "stranger", 1024)
	require.NoError(t, err)
	require.Equal(t, int64(1024), granted)

	// only 1000 of the 1024 granted bytes were actually sent
	g.ReturnBytes("stranger", granted, 1000)
	granted, err = g.GetBytes(context.Background(), "stranger", 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(24), granted)

	// an over-send must not create tokens
	g.ReturnBytes("stranger", 24, 100)
	bucket := g.bucketFor("stranger")
	assert.Equal(t, int64(0), bucket.Tokens())
}

func TestGovernorReconfigureSwapsBuckets(t *testing.T) {
	g := NewGovernor(governorOptions())
	defer g.Close()

	// drain the default bucket
	granted, err := g.GetBytes(context.Background(), "stranger", 1024)
	require.NoError(t, err)
	require.Equal(t, int64(1024), granted)

	next := governorOptions()
	next.Uploads.SpeedLimitKiB = 40 // 4096 bytes per period
	g.Reconfigure(next)

	// freshly rebuilt buckets are refilled
	granted, err = g.GetBytes(context.Background(), "stranger", 100000)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), granted)
}

func TestGovernorUnlimitedWhenNoSpeedLimit(t *testing.T) {
	opts := governorOptions()
	opts.Uploads.SpeedLimitKiB = 0
	g := NewGovernor(opts)
	defer g.Close()

	granted, err := g.GetBytes(context.Background(), "stranger", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), granted)
}
