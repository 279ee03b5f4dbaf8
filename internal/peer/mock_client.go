package peer

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockClient is a scriptable Client for tests. Behavior is overridden by
// assigning the corresponding Func field; unset hooks succeed with zero
// values. Calls are recorded so tests can assert on them.
type MockClient struct {
	mu sync.Mutex

	ConnectFunc    func(ctx context.Context, address string, port int, username, password string) error
	DisconnectFunc func(reason string) error
	SearchFunc     func(ctx context.Context, query string, token int, scope Scope, opts SearchOptions) (<-chan SearchEvent, error)
	ListenPortFunc func(port int) error

	connected   atomic.Bool
	token       atomic.Int64
	ConnectLog  []string
	Disconnects []string
	ListenPorts []int
}

var _ Client = (*MockClient)(nil)

// Connect records the attempt and runs ConnectFunc if set. A successful
// call flips the connected flag.
func (m *MockClient) Connect(ctx context.Context, address string, port int, username, password string) error {
	m.mu.Lock()
	m.ConnectLog = append(m.ConnectLog, username)
	m.mu.Unlock()

	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx, address, port, username, password); err != nil {
			return err
		}
	}
	m.connected.Store(true)
	return nil
}

// Disconnect records the reason and clears the connected flag.
func (m *MockClient) Disconnect(reason string) error {
	m.mu.Lock()
	m.Disconnects = append(m.Disconnects, reason)
	m.mu.Unlock()

	m.connected.Store(false)
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(reason)
	}
	return nil
}

// Connected reports the mock's connected flag.
func (m *MockClient) Connected() bool { return m.connected.Load() }

// SetConnected forces the connected flag, bypassing Connect.
func (m *MockClient) SetConnected(v bool) { m.connected.Store(v) }

// NextToken returns a monotonically increasing token.
func (m *MockClient) NextToken() int { return int(m.token.Add(1)) }

// Search delegates to SearchFunc, or returns an immediately-completed
// stream when unset.
func (m *MockClient) Search(ctx context.Context, query string, token int, scope Scope, opts SearchOptions) (<-chan SearchEvent, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, token, scope, opts)
	}
	events := make(chan SearchEvent, 1)
	events <- SearchEvent{Done: &SearchDone{Reason: DoneCompleted}}
	close(events)
	return events, nil
}

// SetListenPort records the port.
func (m *MockClient) SetListenPort(port int) error {
	m.mu.Lock()
	m.ListenPorts = append(m.ListenPorts, port)
	m.mu.Unlock()

	if m.ListenPortFunc != nil {
		return m.ListenPortFunc(port)
	}
	return nil
}

// ConnectAttempts returns how many Connect calls were made.
func (m *MockClient) ConnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ConnectLog)
}

// DisconnectReasons returns a copy of the recorded disconnect reasons.
func (m *MockClient) DisconnectReasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Disconnects))
	copy(out, m.Disconnects)
	return out
}
