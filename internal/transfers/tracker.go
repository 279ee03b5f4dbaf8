package transfers

import (
	"context"
	"sync"
)

// Record pairs a transfer snapshot with the cancellation handle of its
// in-flight operation. Snapshots are copies; callers must treat them as
// immutable.
type Record struct {
	Transfer Transfer
	Cancel   context.CancelFunc
}

// Tracker is the in-memory index of active transfers, keyed three levels
// deep: direction, then remote username, then transfer id. All mutations
// are safe under concurrent access from callback threads; every level is a
// lock-free concurrent map.
type Tracker struct {
	directions [2]*sync.Map // Direction -> *sync.Map(username -> *sync.Map(id -> Record))
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{directions: [2]*sync.Map{{}, {}}}
}

// AddOrUpdate inserts or replaces the record for (direction, username, id).
func (t *Tracker) AddOrUpdate(transfer Transfer, cancel context.CancelFunc) {
	users := t.directions[transfer.Direction]
	inner, _ := users.LoadOrStore(transfer.Username, &sync.Map{})
	inner.(*sync.Map).Store(transfer.ID, Record{Transfer: transfer, Cancel: cancel})
}

// TryGet returns the record for (direction, username, id), if present.
func (t *Tracker) TryGet(direction Direction, username, id string) (Record, bool) {
	inner, ok := t.directions[direction].Load(username)
	if !ok {
		return Record{}, false
	}
	value, ok := inner.(*sync.Map).Load(id)
	if !ok {
		return Record{}, false
	}
	return value.(Record), true
}

// TryRemove removes the record for (direction, username, id). An empty id
// removes every record for the user. The user entry itself is dropped once
// its inner map is empty.
func (t *Tracker) TryRemove(direction Direction, username, id string) bool {
	users := t.directions[direction]
	value, ok := users.Load(username)
	if !ok {
		return false
	}
	inner := value.(*sync.Map)

	if id == "" {
		users.Delete(username)
		return true
	}

	if _, ok := inner.Load(id); !ok {
		return false
	}
	inner.Delete(id)

	empty := true
	inner.Range(func(_, _ interface{}) bool {
		empty = false
		return false
	})
	if empty {
		users.Delete(username)
	}
	return true
}

// Contains reports whether the user has an active transfer of the given
// filename in the given direction. This is a linear scan of the user's
// entries.
func (t *Tracker) Contains(direction Direction, username, filename string) bool {
	value, ok := t.directions[direction].Load(username)
	if !ok {
		return false
	}
	found := false
	value.(*sync.Map).Range(func(_, v interface{}) bool {
		if v.(Record).Transfer.Filename == filename {
			found = true
			return false
		}
		return true
	})
	return found
}

// List returns snapshots of every tracked transfer in the given direction.
func (t *Tracker) List(direction Direction) []Transfer {
	var out []Transfer
	t.directions[direction].Range(func(_, v interface{}) bool {
		v.(*sync.Map).Range(func(_, rv interface{}) bool {
			out = append(out, rv.(Record).Transfer)
			return true
		})
		return true
	})
	return out
}
