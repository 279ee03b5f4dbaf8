// Package dbusstatus exposes the daemon's connection state on the D-Bus
// session bus so desktop integrations can show it without polling the
// HTTP API.
package dbusstatus

import (
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/auriora/wirefly/pkg/logging"
)

const (
	// Interface is the D-Bus interface name.
	Interface = "org.wirefly.Status"
	// ObjectPath is the D-Bus object path.
	ObjectPath = "/org/wirefly/Status"
)

// StateSource supplies the current connection state string.
type StateSource func() string

// Server exports the daemon state on the session bus.
type Server struct {
	source  StateSource
	mu      sync.Mutex
	conn    *dbus.Conn
	started bool
}

// NewServer creates an unstarted server.
func NewServer(source StateSource) *Server {
	return &Server{source: source}
}

// Start connects to the session bus and exports the status object. Errors
// are returned, not fatal: the daemon runs fine without a session bus.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return err
	}
	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		_ = conn.Close()
		return err
	}

	node := &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			{
				Name: Interface,
				Methods: []introspect.Method{
					{
						Name: "GetState",
						Args: []introspect.Arg{
							{Name: "state", Type: "s", Direction: "out"},
						},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: "StateChanged",
						Args: []introspect.Arg{
							{Name: "state", Type: "s"},
						},
					},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		_ = conn.Close()
		return err
	}

	reply, err := conn.RequestName(Interface, dbus.NameFlagDoNotQueue)
	if err != nil || reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		if err == nil {
			logging.Warn().Msg("D-Bus name already taken, status service disabled")
			return nil
		}
		return err
	}

	s.conn = conn
	s.started = true
	logging.Info().Str("interface", Interface).Msg("D-Bus status service started")
	return nil
}

// Stop releases the bus connection.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	_ = s.conn.Close()
	s.conn = nil
	s.started = false
}

// GetState is the exported D-Bus method.
func (s *Server) GetState() (string, *dbus.Error) {
	return s.source(), nil
}

// EmitStateChanged publishes a StateChanged signal.
func (s *Server) EmitStateChanged(state string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Emit(ObjectPath, Interface+".StateChanged", state); err != nil {
		logging.Warn().Err(err).Msg("Could not emit D-Bus state change")
	}
}
