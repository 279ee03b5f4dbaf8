package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPublishReachesSubscribers(t *testing.T) {
	stream := NewStream(Options{ListenPort: 1})
	updates, cancel := stream.Subscribe()
	defer cancel()

	next := Options{ListenPort: 2}
	stream.Publish(next)

	select {
	case got := <-updates:
		assert.Equal(t, 2, got.ListenPort)
	case <-time.After(time.Second):
		t.Fatal("subscriber never notified")
	}
	assert.Equal(t, 2, stream.Current().ListenPort)
}

// A slow subscriber misses intermediate snapshots but always sees the
// latest one.
func TestStreamSlowSubscriberSeesLatest(t *testing.T) {
	stream := NewStream(Options{})
	updates, cancel := stream.Subscribe()
	defer cancel()

	for port := 1; port <= 5; port++ {
		stream.Publish(Options{ListenPort: port})
	}

	select {
	case got := <-updates:
		assert.Equal(t, 5, got.ListenPort)
	case <-time.After(time.Second):
		t.Fatal("subscriber never notified")
	}
}

func TestStreamCancelStopsDelivery(t *testing.T) {
	stream := NewStream(Options{})
	updates, cancel := stream.Subscribe()
	cancel()

	stream.Publish(Options{ListenPort: 9})
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("cancelled subscriber still notified")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectionEqualComparesConnectionSubtree(t *testing.T) {
	base := Options{
		Server:     Server{Address: "a", Port: 1, Username: "u", Password: "p"},
		ListenPort: 100,
	}

	same := base
	same.Uploads.MaxSlots = 42
	same.Shares = []string{"/music"}
	assert.True(t, base.ConnectionEqual(same))

	for _, mutate := range []func(*Options){
		func(o *Options) { o.Server.Address = "b" },
		func(o *Options) { o.Server.Port = 2 },
		func(o *Options) { o.Server.Username = "x" },
		func(o *Options) { o.Server.Password = "y" },
		func(o *Options) { o.ListenPort = 101 },
	} {
		changed := base
		mutate(&changed)
		assert.False(t, base.ConnectionEqual(changed))
	}
}

func TestGroupForFallsBackToDefault(t *testing.T) {
	opts := Options{
		Uploads: Uploads{
			Groups: []Group{
				{Name: "friends", Members: []string{"alice", "bob"}},
				{Name: "leechers", Members: []string{"mooch"}},
			},
		},
	}
	assert.Equal(t, "friends", opts.GroupFor("alice"))
	assert.Equal(t, "leechers", opts.GroupFor("mooch"))
	assert.Equal(t, GroupDefault, opts.GroupFor("nobody"))
}

func TestEffectiveGroupsAlwaysIncludeBuiltins(t *testing.T) {
	opts := Options{Uploads: Uploads{
		MaxSlots: 5,
		Groups:   []Group{{Name: "friends", Slots: 2, Priority: 1, Strategy: StrategyFirstInFirstOut}},
	}}

	names := map[string]bool{}
	for _, g := range opts.EffectiveGroups() {
		names[g.Name] = true
	}
	for _, want := range []string{"friends", GroupDefault, GroupLeechers, GroupPrivileged} {
		assert.True(t, names[want], "missing group %s", want)
	}

	// a user-defined override wins over the builtin
	opts.Uploads.Groups = append(opts.Uploads.Groups,
		Group{Name: GroupLeechers, Slots: 3, Priority: 7, Strategy: StrategyRoundRobin})
	count := 0
	for _, g := range opts.EffectiveGroups() {
		if g.Name == GroupLeechers {
			count++
			assert.Equal(t, 3, g.Slots)
		}
	}
	require.Equal(t, 1, count)
}
