// Package peer defines the contract with the peer-protocol client library.
// The daemon consumes this interface; it never implements the wire protocol
// itself. The callback-heavy client API is exposed here as a channel of
// search events so services consume a stream instead of registering
// callbacks.
package peer

import "context"

// File is a single file entry in a search response.
type File struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	BitRate  int    `json:"bitRate,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// Response is the file list returned by one remote peer for a search.
type Response struct {
	Username          string `json:"username"`
	Token             int    `json:"token"`
	HasFreeUploadSlot bool   `json:"hasFreeUploadSlot"`
	QueueLength       int    `json:"queueLength"`
	UploadSpeed       int    `json:"uploadSpeed"`
	Files             []File `json:"files"`
	LockedFiles       []File `json:"lockedFiles,omitempty"`
}

// FileCount returns the number of unlocked files in the response.
func (r Response) FileCount() int { return len(r.Files) }

// LockedFileCount returns the number of locked files in the response.
func (r Response) LockedFileCount() int { return len(r.LockedFiles) }

// ScopeType selects which part of the network a search covers.
type ScopeType string

// Search scope types.
const (
	ScopeNetwork  ScopeType = "network"
	ScopeWishlist ScopeType = "wishlist"
	ScopeRoom     ScopeType = "room"
	ScopeUser     ScopeType = "user"
)

// Scope is the target of a search.
type Scope struct {
	Type     ScopeType `json:"type"`
	Subjects []string  `json:"subjects,omitempty"`
}

// SearchOptions tunes a single network search.
type SearchOptions struct {
	ResponseLimit          int  `json:"responseLimit"`
	FileLimit              int  `json:"fileLimit"`
	FilterResponses        bool `json:"filterResponses"`
	MinimumPeerUploadSpeed int  `json:"minimumPeerUploadSpeed"`
}

// DoneReason says why a search stopped streaming.
type DoneReason string

// Terminal search outcomes reported by the client.
const (
	DoneCompleted            DoneReason = "Completed"
	DoneCancelled            DoneReason = "Cancelled"
	DoneTimedOut             DoneReason = "TimedOut"
	DoneResponseLimitReached DoneReason = "ResponseLimitReached"
	DoneFileLimitReached     DoneReason = "FileLimitReached"
	DoneErrored              DoneReason = "Errored"
)

// SearchDone is the terminal event of a search stream.
type SearchDone struct {
	Reason DoneReason
	Err    error
}

// SearchEvent is one event on a search stream. Exactly one of Response and
// Done is non-nil; the channel closes after the Done event.
type SearchEvent struct {
	Response *Response
	Done     *SearchDone
}

// Client is the peer-protocol client consumed by the daemon.
type Client interface {
	// Connect establishes the long-lived session. It blocks until the
	// session is up, the context is cancelled, or the attempt fails.
	Connect(ctx context.Context, address string, port int, username, password string) error

	// Disconnect tears the session down with a reason string. Disconnecting
	// an already-disconnected client is a no-op.
	Disconnect(reason string) error

	// Connected reports whether the session is currently up.
	Connected() bool

	// NextToken returns the next monotonic token for searches and transfers.
	NextToken() int

	// Search runs a distributed search and streams responses until a
	// terminal event. Cancelling the context cancels the search.
	Search(ctx context.Context, query string, token int, scope Scope, opts SearchOptions) (<-chan SearchEvent, error)

	// SetListenPort reconfigures the port the client listens on for peer
	// connections.
	SetListenPort(port int) error
}
