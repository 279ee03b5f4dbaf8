// Package conn keeps the daemon's long-lived server session alive: the
// reconnection watchdog with bounded exponential backoff, and the VPN
// readiness poller that can gate it.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/auriora/wirefly/internal/options"
	"github.com/auriora/wirefly/internal/peer"
	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
	"github.com/auriora/wirefly/pkg/retry"
)

// Gate is the optional VPN readiness gate consulted before any connect
// attempt.
type Gate interface {
	Enabled() bool
	Ready() bool
}

// State is a snapshot of the watchdog's externally visible state.
type State struct {
	Connected     bool       `json:"connected"`
	Attempting    bool       `json:"attempting"`
	AwaitingVPN   bool       `json:"awaitingVpn"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
}

// Watchdog maintains the session to the upstream server, reconnecting with
// bounded exponential backoff after outages. A periodic timer re-enters the
// reconnect loop as a backstop whenever the loop has exited; a non-blocking
// mutex guarantees at most one loop invocation runs at a time.
type Watchdog struct {
	client peer.Client
	opts   *options.Stream
	gate   Gate

	// Policy is the backoff policy between attempts and Interval the
	// backstop timer period. Both may be overridden before Start.
	Policy   retry.Config
	Interval time.Duration

	// Recorder, when set, is invoked with "Connected"/"Disconnected" so
	// the daemon can journal session transitions.
	Recorder func(event string)

	loopMu sync.Mutex // single-flight for the reconnect loop

	mu            sync.Mutex
	enabled       bool
	attempts      int
	attempting    bool
	awaitingVPN   bool
	nextAttemptAt *time.Time
	attemptCancel context.CancelFunc
	tickerStop    chan struct{}

	optsCancel func()
}

// NewWatchdog wires a watchdog over the peer client. gate may be nil when
// VPN integration is disabled. The watchdog subscribes to the options
// stream and restarts itself when the connection subtree changes.
func NewWatchdog(client peer.Client, opts *options.Stream, gate Gate) *Watchdog {
	w := &Watchdog{
		client: client,
		opts:   opts,
		gate:   gate,
		Policy: retry.Config{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     300 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.25,
		},
		Interval: 30 * time.Second,
	}

	updates, cancel := opts.Subscribe()
	w.optsCancel = cancel
	go w.watchOptions(opts.Current(), updates)
	return w
}

// watchOptions restarts the watchdog when a published snapshot changes the
// connection subtree. No-op publishes never restart.
func (w *Watchdog) watchOptions(prev options.Options, updates <-chan options.Options) {
	for next := range updates {
		if !prev.ConnectionEqual(next) {
			logging.Info().Msg("Connection options changed, restarting watchdog")
			w.Restart()
		}
		prev = next
	}
}

// Start enables the watchdog. Starting an already-running watchdog is a
// no-op.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.enabled {
		w.mu.Unlock()
		return
	}
	w.enabled = true
	stop := make(chan struct{})
	w.tickerStop = stop
	w.mu.Unlock()

	logging.Info().Msg("Connection watchdog started")
	go w.timerLoop(stop)
	go w.loop()
}

// Stop disables the watchdog. The periodic timer is disabled first; with
// abort set, the in-flight connect attempt's cancellation signal is
// tripped as well — that is the only way to abandon an attempt.
func (w *Watchdog) Stop(abort bool) {
	w.mu.Lock()
	w.enabled = false
	if w.tickerStop != nil {
		close(w.tickerStop)
		w.tickerStop = nil
	}
	cancel := w.attemptCancel
	w.mu.Unlock()

	if abort && cancel != nil {
		cancel()
	}
	logging.Info().Bool("abort", abort).Msg("Connection watchdog stopped")
}

// Disconnect stops the watchdog and tears the session down.
func (w *Watchdog) Disconnect(reason string) error {
	w.Stop(true)
	err := w.client.Disconnect(reason)
	w.record("Disconnected")
	return err
}

func (w *Watchdog) record(event string) {
	if w.Recorder != nil {
		w.Recorder(event)
	}
}

// Restart is Stop(abort) followed by Start.
func (w *Watchdog) Restart() {
	w.Stop(true)
	w.Start()
}

// Close permanently shuts the watchdog down, including its options
// subscription.
func (w *Watchdog) Close() {
	w.Stop(true)
	if w.optsCancel != nil {
		w.optsCancel()
	}
}

// CurrentState returns a snapshot of the watchdog state.
func (w *Watchdog) CurrentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		Connected:     w.client.Connected(),
		Attempting:    w.attempting,
		AwaitingVPN:   w.awaitingVPN,
		Attempts:      w.attempts,
		NextAttemptAt: w.nextAttemptAt,
	}
}

// timerLoop periodically re-enters the reconnect loop as a backstop in
// case the loop exited while the session is still down.
func (w *Watchdog) timerLoop(stop chan struct{}) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			go w.loop()
		case <-stop:
			return
		}
	}
}

// loop is the reconnect loop. At most one invocation runs at a time;
// contending invocations exit immediately.
func (w *Watchdog) loop() {
	if !w.loopMu.TryLock() {
		return
	}
	defer w.loopMu.Unlock()
	defer func() {
		w.mu.Lock()
		w.attempting = false
		w.mu.Unlock()
	}()

	for {
		w.mu.Lock()
		enabled := w.enabled
		attempts := w.attempts
		w.mu.Unlock()

		if !enabled || w.client.Connected() {
			return
		}

		if w.gate != nil && w.gate.Enabled() && !w.gate.Ready() {
			w.mu.Lock()
			w.awaitingVPN = true
			w.mu.Unlock()
			logging.Info().Msg("VPN not ready, deferring reconnect")
			return // the next timer tick retries
		}
		w.mu.Lock()
		w.awaitingVPN = false
		w.mu.Unlock()

		ctx, cancel := context.WithCancel(context.Background())
		w.mu.Lock()
		w.attemptCancel = cancel
		w.mu.Unlock()

		if attempts > 0 {
			delay := w.Policy.Delay(attempts - 1)
			next := time.Now().Add(delay)
			w.mu.Lock()
			w.nextAttemptAt = &next
			w.mu.Unlock()

			logging.Info().
				Int("attempt", attempts).
				Dur("delay", delay).
				Time("nextAttemptAt", next).
				Msg("Waiting before reconnect attempt")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				w.clearAttempt(cancel)
				logging.Debug().Msg("Reconnect wait cancelled")
				return
			}
		}

		snapshot := w.opts.Current()
		w.mu.Lock()
		w.attempting = true
		w.mu.Unlock()

		err := w.client.Connect(ctx, snapshot.Server.Address, snapshot.Server.Port,
			snapshot.Server.Username, snapshot.Server.Password)
		w.clearAttempt(cancel)

		if err == nil {
			w.mu.Lock()
			w.attempts = 0
			w.nextAttemptAt = nil
			w.attempting = false
			w.mu.Unlock()
			logging.Info().Str("username", snapshot.Server.Username).Msg("Connected to server")
			w.record("Connected")
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logging.Info().Msg("Reconnect attempt cancelled")
			return
		}

		w.mu.Lock()
		w.attempts++
		count := w.attempts
		w.attempting = false
		w.mu.Unlock()
		logging.Warn().Err(err).Int("attempts", count).Msg("Could not connect to server")
	}
}

func (w *Watchdog) clearAttempt(cancel context.CancelFunc) {
	cancel()
	w.mu.Lock()
	if w.attemptCancel != nil {
		w.attemptCancel = nil
	}
	w.mu.Unlock()
}
