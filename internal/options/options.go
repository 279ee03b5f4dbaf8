// Package options holds the daemon's runtime option snapshot and the
// publish/subscribe stream that distributes new snapshots to subsystems.
package options

import "time"

// Strategy names accepted in group configuration.
const (
	StrategyFirstInFirstOut = "FirstInFirstOut"
	StrategyRoundRobin      = "RoundRobin"
)

// Built-in group names. These are always present regardless of user
// configuration.
const (
	GroupDefault    = "default"
	GroupLeechers   = "leechers"
	GroupPrivileged = "privileged"
)

// Server holds the upstream server connection settings.
type Server struct {
	Address  string
	Port     int
	Username string
	Password string
}

// VPN holds the VPN integration settings.
type VPN struct {
	Enabled        bool
	Required       bool
	HelperURL      string
	PollInterval   time.Duration
	PortForwarding bool
}

// Group is one upload group: a slot cap, a priority (lower is higher) and a
// release strategy, plus an optional per-group speed limit.
type Group struct {
	Name          string
	Slots         int
	Priority      int
	Strategy      string
	SpeedLimitKiB int
	Members       []string
}

// Uploads holds upload slot and speed policy.
type Uploads struct {
	MaxSlots      int
	SpeedLimitKiB int
	Groups        []Group
}

// Options is an immutable snapshot of the daemon's runtime configuration.
// Mutating a copy never affects the published snapshot.
type Options struct {
	Server     Server
	ListenPort int
	VPN        VPN
	Uploads    Uploads
	Shares     []string
}

// ConnectionEqual reports whether the connection-relevant subtree (server
// address, port, credentials and listen port) is identical in both
// snapshots. The watchdog restarts only when this returns false.
func (o Options) ConnectionEqual(other Options) bool {
	return o.Server == other.Server && o.ListenPort == other.ListenPort
}

// GroupFor resolves a remote username to the name of its upload group,
// falling back to the default group when no group claims the user.
func (o Options) GroupFor(username string) string {
	for _, g := range o.Uploads.Groups {
		for _, member := range g.Members {
			if member == username {
				return g.Name
			}
		}
	}
	return GroupDefault
}

// EffectiveGroups returns the configured groups with the built-in groups
// appended when the configuration does not define them.
func (o Options) EffectiveGroups() []Group {
	groups := make([]Group, len(o.Uploads.Groups))
	copy(groups, o.Uploads.Groups)

	builtin := map[string]Group{
		GroupDefault:    {Name: GroupDefault, Slots: o.Uploads.MaxSlots, Priority: 500, Strategy: StrategyFirstInFirstOut},
		GroupLeechers:   {Name: GroupLeechers, Slots: 1, Priority: 999, Strategy: StrategyRoundRobin},
		GroupPrivileged: {Name: GroupPrivileged, Slots: o.Uploads.MaxSlots, Priority: 0, Strategy: StrategyFirstInFirstOut},
	}
	for _, g := range groups {
		delete(builtin, g.Name)
	}
	for _, name := range []string{GroupPrivileged, GroupDefault, GroupLeechers} {
		if g, ok := builtin[name]; ok {
			groups = append(groups, g)
		}
	}
	return groups
}
