package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auriora/wirefly/internal/options"
	"github.com/auriora/wirefly/internal/peer"
	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

// Forwarded ports outside this range are invalid and treated as "no port".
const (
	minForwardedPort = 1024
	maxForwardedPort = 65535
)

// DisconnectReason is sent to the peer client when a required VPN drops.
const DisconnectReason = "VPN client disconnected"

// VPNStatus is what the VPN helper reports.
type VPNStatus struct {
	IsConnected   bool   `json:"isConnected"`
	PublicIP      string `json:"publicIp,omitempty"`
	Location      string `json:"location,omitempty"`
	ForwardedPort int    `json:"forwardedPort,omitempty"`
}

// Helper fetches the VPN tunnel status.
type Helper interface {
	Status(ctx context.Context) (VPNStatus, error)
}

// HTTPHelper talks to a VPN helper sidecar over HTTP.
type HTTPHelper struct {
	baseURL string
	client  *http.Client
}

// NewHTTPHelper creates a helper client for the sidecar at baseURL.
func NewHTTPHelper(baseURL string) *HTTPHelper {
	return &HTTPHelper{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches and decodes the sidecar's status document.
func (h *HTTPHelper) Status(ctx context.Context) (VPNStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/status", nil)
	if err != nil {
		return VPNStatus{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return VPNStatus{}, errors.NewNetworkError("fetching VPN status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return VPNStatus{}, errors.NewOperationError(
			fmt.Sprintf("VPN helper returned status %d", resp.StatusCode), nil)
	}
	var status VPNStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return VPNStatus{}, errors.Wrap(err, "decoding VPN status")
	}
	return status, nil
}

// Readiness polls the VPN helper and exports whether the tunnel is usable.
// The tunnel is ready iff it is connected and, when port forwarding is in
// use, a valid forwarded port is available. New forwarded ports are applied
// to the session's listen port through the options stream; a required VPN
// that is not ready forces the peer client to disconnect.
type Readiness struct {
	helper Helper
	client peer.Client
	opts   *options.Stream

	fetchMu sync.Mutex // one in-flight status fetch at a time
	transMu sync.Mutex // transition bookkeeping

	ready       atomic.Bool
	lastStatus  VPNStatus
	appliedPort int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewReadiness wires a readiness poller.
func NewReadiness(helper Helper, client peer.Client, opts *options.Stream) *Readiness {
	return &Readiness{
		helper: helper,
		client: client,
		opts:   opts,
		stop:   make(chan struct{}),
	}
}

// Enabled reports whether VPN integration is switched on.
func (r *Readiness) Enabled() bool {
	return r.opts.Current().VPN.Enabled
}

// IsReady reports whether the tunnel is connected and usable.
func (r *Readiness) IsReady() bool {
	return r.ready.Load()
}

// Ready satisfies the watchdog's Gate.
func (r *Readiness) Ready() bool { return r.IsReady() }

// LastStatus returns the most recent helper status.
func (r *Readiness) LastStatus() VPNStatus {
	r.transMu.Lock()
	defer r.transMu.Unlock()
	return r.lastStatus
}

// Start launches the poll loop.
func (r *Readiness) Start() {
	interval := r.opts.Current().VPN.PollInterval
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}
	go r.pollLoop(interval)
}

// Stop halts the poll loop.
func (r *Readiness) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Readiness) pollLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Poll(context.Background())
		case <-r.stop:
			return
		}
	}
}

// Poll performs one status fetch and applies the resulting transitions.
// Fetch failures are logged and leave the tunnel marked not ready; the
// poller never crashes on them.
func (r *Readiness) Poll(ctx context.Context) {
	r.fetchMu.Lock()
	status, err := r.helper.Status(ctx)
	r.fetchMu.Unlock()

	if err != nil {
		logging.Warn().Err(err).Msg("VPN status fetch failed")
		r.ready.Store(false)
		return
	}

	snapshot := r.opts.Current()
	validPort := status.ForwardedPort >= minForwardedPort && status.ForwardedPort <= maxForwardedPort
	ready := status.IsConnected && (!snapshot.VPN.PortForwarding || validPort)

	r.transMu.Lock()
	wasReady := r.ready.Load()
	r.ready.Store(ready)
	r.lastStatus = status

	if validPort && status.ForwardedPort != snapshot.ListenPort && status.ForwardedPort != r.appliedPort {
		logging.Info().
			Int("forwardedPort", status.ForwardedPort).
			Msg("Applying VPN forwarded port as listen port")
		next := snapshot
		next.ListenPort = status.ForwardedPort
		r.opts.Publish(next)
		if err := r.client.SetListenPort(status.ForwardedPort); err != nil {
			logging.Warn().Err(err).Msg("Could not apply listen port to peer client")
		}
		r.appliedPort = status.ForwardedPort
	}
	r.transMu.Unlock()

	if ready != wasReady {
		logging.Info().
			Bool("ready", ready).
			Bool("connected", status.IsConnected).
			Int("forwardedPort", status.ForwardedPort).
			Str("location", status.Location).
			Msg("VPN readiness changed")
	}

	if snapshot.VPN.Required && !ready && r.client.Connected() {
		logging.Warn().Msg("VPN required but not ready, disconnecting session")
		if err := r.client.Disconnect(DisconnectReason); err != nil {
			logging.Error().Err(err).Msg("Could not disconnect peer client")
		}
	}
}
