// Package transfers implements the daemon's transfer coordination core: the
// per-group upload governor and its token buckets, the upload slot queue,
// the in-memory transfer tracker, and the durable transfers store the
// tracker projects into.
package transfers

import (
	"strings"
	"time"

	"github.com/auriora/wirefly/pkg/errors"
)

// Direction says which way the bytes flow.
type Direction int

// Transfer directions.
const (
	Download Direction = iota
	Upload
)

// String returns the textual name stored in the database.
func (d Direction) String() string {
	if d == Upload {
		return "Upload"
	}
	return "Download"
}

// ParseDirection parses a textual direction name.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "Download":
		return Download, nil
	case "Upload":
		return Upload, nil
	default:
		return Download, errors.NewValidationError("unknown transfer direction "+s, nil)
	}
}

// State is a bitflag set describing the lifecycle of a transfer. The
// numeric form is the source of truth; the textual description is a
// persisted mirror derived from it.
type State uint32

// Transfer state flags.
const (
	StateNone         State = 0
	StateRequested    State = 1 << 0
	StateQueued       State = 1 << 1
	StateInitializing State = 1 << 2
	StateInProgress   State = 1 << 3
	StateCompleted    State = 1 << 4
	StateSucceeded    State = 1 << 5
	StateCancelled    State = 1 << 6
	StateTimedOut     State = 1 << 7
	StateErrored      State = 1 << 8
	StateRejected     State = 1 << 9
	StateAborted      State = 1 << 10
	StateLocally      State = 1 << 11
	StateRemotely     State = 1 << 12
)

// stateNames is ordered by flag value so descriptions are deterministic.
var stateNames = []struct {
	flag State
	name string
}{
	{StateRequested, "Requested"},
	{StateQueued, "Queued"},
	{StateInitializing, "Initializing"},
	{StateInProgress, "InProgress"},
	{StateCompleted, "Completed"},
	{StateSucceeded, "Succeeded"},
	{StateCancelled, "Cancelled"},
	{StateTimedOut, "TimedOut"},
	{StateErrored, "Errored"},
	{StateRejected, "Rejected"},
	{StateAborted, "Aborted"},
	{StateLocally, "Locally"},
	{StateRemotely, "Remotely"},
}

// terminalMask covers every flag that means the transfer will make no
// further progress.
const terminalMask = StateCompleted | StateCancelled | StateTimedOut |
	StateErrored | StateRejected | StateAborted

// Has reports whether every flag in mask is set.
func (s State) Has(mask State) bool { return s&mask == mask }

// Terminal reports whether the state contains any terminal flag.
func (s State) Terminal() bool { return s&terminalMask != 0 }

// Description returns the human-readable mirror of the bitflag set, e.g.
// "Completed, Succeeded". The empty set reads "None".
func (s State) Description() string {
	if s == StateNone {
		return "None"
	}
	parts := make([]string, 0, 4)
	for _, entry := range stateNames {
		if s.Has(entry.flag) {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, ", ")
}

// ParseState parses a comma-separated description back into flags. Unknown
// names are an invariant violation.
func ParseState(desc string) (State, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" || desc == "None" {
		return StateNone, nil
	}
	var state State
	for _, part := range strings.Split(desc, ",") {
		part = strings.TrimSpace(part)
		found := false
		for _, entry := range stateNames {
			if entry.name == part {
				state |= entry.flag
				found = true
				break
			}
		}
		if !found {
			return StateNone, errors.NewValidationError("unknown transfer state "+part, nil)
		}
	}
	return state, nil
}

// Transfer is one upload or download, in memory and as a database row.
type Transfer struct {
	ID               string     `json:"id"`
	Direction        Direction  `json:"direction"`
	Username         string     `json:"username"`
	Filename         string     `json:"filename"`
	Size             int64      `json:"size"`
	StartOffset      int64      `json:"startOffset"`
	BytesTransferred int64      `json:"bytesTransferred"`
	AverageSpeed     float64    `json:"averageSpeed"`
	State            State      `json:"state"`
	StateDescription string     `json:"stateDescription"`
	RequestedAt      time.Time  `json:"requestedAt"`
	EnqueuedAt       *time.Time `json:"enqueuedAt,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	Attempts         int        `json:"attempts"`
	GroupID          string     `json:"groupId,omitempty"`
	Removed          bool       `json:"removed"`
	Exception        string     `json:"exception,omitempty"`
}

// Transition applies the next state, rejecting any transition out of a
// terminal state. Terminal states are monotonic: once entered, the only
// field a caller may still set is EndedAt.
func (t *Transfer) Transition(next State) error {
	if t.State.Terminal() {
		return errors.NewValidationError(
			"transfer "+t.ID+" is already in terminal state "+t.State.Description(), nil)
	}
	t.State = next
	t.StateDescription = next.Description()
	return nil
}
