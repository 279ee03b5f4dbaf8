// Package search implements the network search lifecycle: starting and
// cancelling distributed searches, streaming peer responses, coalescing
// counter updates, persisting records, and broadcasting hub events.
package search

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auriora/wirefly/internal/peer"
)

// State is a bitflag set describing the lifecycle of a search.
type State uint32

// Search state flags.
const (
	StateNone                 State = 0
	StateRequested            State = 1 << 0
	StateInProgress           State = 1 << 1
	StateCompleted            State = 1 << 2
	StateCancelled            State = 1 << 3
	StateTimedOut             State = 1 << 4
	StateResponseLimitReached State = 1 << 5
	StateFileLimitReached     State = 1 << 6
	StateErrored              State = 1 << 7
)

var stateNames = []struct {
	flag State
	name string
}{
	{StateRequested, "Requested"},
	{StateInProgress, "InProgress"},
	{StateCompleted, "Completed"},
	{StateCancelled, "Cancelled"},
	{StateTimedOut, "TimedOut"},
	{StateResponseLimitReached, "ResponseLimitReached"},
	{StateFileLimitReached, "FileLimitReached"},
	{StateErrored, "Errored"},
}

const terminalMask = StateCompleted | StateCancelled | StateTimedOut |
	StateResponseLimitReached | StateFileLimitReached | StateErrored

// Has reports whether every flag in mask is set.
func (s State) Has(mask State) bool { return s&mask == mask }

// Terminal reports whether the search has stopped making progress.
func (s State) Terminal() bool { return s&terminalMask != 0 }

// String renders the flag set, e.g. "Completed, ResponseLimitReached".
func (s State) String() string {
	if s == StateNone {
		return "None"
	}
	parts := make([]string, 0, 2)
	for _, entry := range stateNames {
		if s.Has(entry.flag) {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, ", ")
}

// stateForReason maps a peer-level terminal reason onto state flags.
func stateForReason(reason peer.DoneReason) State {
	switch reason {
	case peer.DoneCancelled:
		return StateCompleted | StateCancelled
	case peer.DoneTimedOut:
		return StateCompleted | StateTimedOut
	case peer.DoneResponseLimitReached:
		return StateCompleted | StateResponseLimitReached
	case peer.DoneFileLimitReached:
		return StateCompleted | StateFileLimitReached
	case peer.DoneErrored:
		return StateCompleted | StateErrored
	default:
		return StateCompleted
	}
}

// Search is one distributed keyword search, in memory and as a database
// row. Responses are persisted as a single serialized blob; the counters
// are top-level columns.
type Search struct {
	ID              uuid.UUID       `json:"id"`
	SearchText      string          `json:"searchText"`
	Token           int             `json:"token"`
	State           State           `json:"state"`
	StateText       string          `json:"stateText"`
	StartedAt       time.Time       `json:"startedAt"`
	EndedAt         *time.Time      `json:"endedAt,omitempty"`
	ResponseCount   int             `json:"responseCount"`
	FileCount       int             `json:"fileCount"`
	LockedFileCount int             `json:"lockedFileCount"`
	Responses       []peer.Response `json:"responses,omitempty"`
}

// WithoutResponses returns a copy with the response blob elided, for
// listings and hub broadcasts.
func (s Search) WithoutResponses() Search {
	s.Responses = nil
	return s
}
