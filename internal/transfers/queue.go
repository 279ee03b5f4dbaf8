package transfers

import (
	"sort"
	"sync"
	"time"

	"github.com/auriora/wirefly/internal/options"
	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

// Strategy selects how a group picks the next upload to release.
type Strategy int

// Queue strategies.
const (
	// FirstInFirstOut releases the entry with the oldest enqueue time.
	FirstInFirstOut Strategy = iota
	// RoundRobin releases the entry that reached readiness first.
	RoundRobin
)

// ParseStrategy parses a strategy name from configuration. Unparseable
// names are an invariant violation and fail fast.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case options.StrategyFirstInFirstOut, "":
		return FirstInFirstOut, nil
	case options.StrategyRoundRobin:
		return RoundRobin, nil
	default:
		return FirstInFirstOut, errors.NewValidationError("unknown queue strategy "+s, nil)
	}
}

// queueEntry is one upload that has been enqueued but not yet released to a
// slot. The released channel closes exactly once, when the scheduler grants
// the slot.
type queueEntry struct {
	username   string
	filename   string
	enqueuedAt time.Time
	readyAt    *time.Time
	released   chan struct{}
}

type queueGroup struct {
	name      string
	slots     int
	priority  int
	strategy  Strategy
	usedSlots int
	entries   []*queueEntry
}

// Queue decides when each queued upload may leave the queue, subject to a
// global slot cap, per-group slot caps, group priority and group strategy.
//
// All state sits behind one mutex. Every public method acquires it, mutates,
// releases, and then runs a processing pass (which re-acquires it); the
// processing pass itself is never re-entered.
type Queue struct {
	mu       sync.Mutex
	groups   map[string]*queueGroup
	order    []*queueGroup // ascending priority
	maxSlots int
	opts     options.Options
	now      func() time.Time
}

// NewQueue builds the group bags from the given snapshot.
func NewQueue(opts options.Options) *Queue {
	q := &Queue{now: time.Now}
	q.rebuildLocked(opts)
	return q
}

// Enqueue inserts a waiting entry into the user's group bag and triggers a
// processing pass.
func (q *Queue) Enqueue(t *Transfer) {
	q.mu.Lock()
	group := q.groupForLocked(t.Username)
	group.entries = append(group.entries, &queueEntry{
		username:   t.Username,
		filename:   t.Filename,
		enqueuedAt: q.now(),
		released:   make(chan struct{}),
	})
	q.mu.Unlock()

	logging.Debug().
		Str("username", t.Username).
		Str("filename", t.Filename).
		Str("group", group.name).
		Msg("Upload enqueued")
	q.Process()
}

// Ready marks an already-enqueued entry as ready for release and returns a
// signal that completes when the scheduler grants the slot. It errors when
// no matching entry exists.
func (q *Queue) Ready(t *Transfer) (<-chan struct{}, error) {
	q.mu.Lock()
	entry := q.findLocked(t.Username, t.Filename)
	if entry == nil {
		q.mu.Unlock()
		return nil, errors.NewNotFoundError(
			"no queued upload for "+t.Username+"/"+t.Filename, nil)
	}
	if entry.readyAt == nil {
		readyAt := q.now()
		entry.readyAt = &readyAt
	}
	released := entry.released
	q.mu.Unlock()

	q.Process()
	return released, nil
}

// Complete decrements the used-slot count of the user's group and triggers
// a processing pass. The count never goes below zero.
func (q *Queue) Complete(t *Transfer) {
	q.mu.Lock()
	group := q.groupForLocked(t.Username)
	if group.usedSlots > 0 {
		group.usedSlots--
	}
	q.mu.Unlock()

	q.Process()
}

// Remove deletes a queued entry whose transfer was cancelled upstream so
// no orphan remains in the bag. Removing an unknown entry is a no-op.
func (q *Queue) Remove(t *Transfer) {
	q.mu.Lock()
	group := q.groupForLocked(t.Username)
	for i, entry := range group.entries {
		if entry.username == t.Username && entry.filename == t.Filename {
			group.entries = append(group.entries[:i], group.entries[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	q.Process()
}

// Reconfigure rebuilds the group dictionary from a new snapshot. Live
// used-slot counts carry over keyed by group name; renamed or removed
// groups forfeit their counts. Queued entries are re-bagged through the new
// resolver.
func (q *Queue) Reconfigure(opts options.Options) {
	q.mu.Lock()
	old := q.groups
	q.rebuildLocked(opts)
	for name, g := range old {
		if ng, ok := q.groups[name]; ok {
			ng.usedSlots = g.usedSlots
		}
		for _, entry := range g.entries {
			target := q.groupForLocked(entry.username)
			target.entries = append(target.entries, entry)
		}
	}
	q.mu.Unlock()

	q.Process()
}

// Process runs one scheduling pass: groups in ascending priority order,
// ready entries only, one release per free slot until the global cap is
// reached. Each entry is released at most once.
func (q *Queue) Process() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.totalUsedLocked() >= q.maxSlots {
			return
		}
		released := false
		for _, group := range q.order {
			if q.totalUsedLocked() >= q.maxSlots {
				return
			}
			if group.usedSlots >= group.slots {
				continue
			}
			idx := group.pickReady()
			if idx < 0 {
				continue
			}
			entry := group.entries[idx]
			group.entries = append(group.entries[:idx], group.entries[idx+1:]...)
			group.usedSlots++
			close(entry.released)
			released = true

			logging.Debug().
				Str("username", entry.username).
				Str("filename", entry.filename).
				Str("group", group.name).
				Int("usedSlots", group.usedSlots).
				Msg("Upload released to slot")
		}
		if !released {
			return
		}
	}
}

// pickReady returns the index of the entry the group's strategy selects, or
// -1 when no entry is ready.
func (g *queueGroup) pickReady() int {
	best := -1
	for i, entry := range g.entries {
		if entry.readyAt == nil {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		switch g.strategy {
		case RoundRobin:
			if entry.readyAt.Before(*g.entries[best].readyAt) {
				best = i
			}
		default: // FirstInFirstOut
			if entry.enqueuedAt.Before(g.entries[best].enqueuedAt) {
				best = i
			}
		}
	}
	return best
}

// Stats returns the live used-slot count per group.
func (q *Queue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := make(map[string]int, len(q.groups))
	for name, g := range q.groups {
		stats[name] = g.usedSlots
	}
	return stats
}

func (q *Queue) totalUsedLocked() int {
	total := 0
	for _, g := range q.order {
		total += g.usedSlots
	}
	return total
}

func (q *Queue) findLocked(username, filename string) *queueEntry {
	for _, g := range q.order {
		for _, entry := range g.entries {
			if entry.username == username && entry.filename == filename {
				return entry
			}
		}
	}
	return nil
}

func (q *Queue) groupForLocked(username string) *queueGroup {
	if g, ok := q.groups[q.opts.GroupFor(username)]; ok {
		return g
	}
	return q.groups[options.GroupDefault]
}

func (q *Queue) rebuildLocked(opts options.Options) {
	groups := make(map[string]*queueGroup)
	for _, g := range opts.EffectiveGroups() {
		strategy, err := ParseStrategy(g.Strategy)
		if err != nil {
			// configuration is validated at load time; reaching this is a
			// programming error
			logging.Fatal().Err(err).Str("group", g.Name).Msg("Invalid group strategy")
		}
		groups[g.Name] = &queueGroup{
			name:     g.Name,
			slots:    g.Slots,
			priority: g.Priority,
			strategy: strategy,
		}
	}

	order := make([]*queueGroup, 0, len(groups))
	for _, g := range groups {
		order = append(order, g)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].priority != order[j].priority {
			return order[i].priority < order[j].priority
		}
		return order[i].name < order[j].name
	})

	q.groups = groups
	q.order = order
	q.maxSlots = opts.Uploads.MaxSlots
	q.opts = opts
}
