package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	flag "github.com/spf13/pflag"

	"github.com/auriora/wirefly/cmd/common"
	"github.com/auriora/wirefly/internal/api"
	"github.com/auriora/wirefly/internal/conn"
	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/internal/dbusstatus"
	"github.com/auriora/wirefly/internal/events"
	"github.com/auriora/wirefly/internal/hub"
	"github.com/auriora/wirefly/internal/messaging"
	"github.com/auriora/wirefly/internal/migrations"
	"github.com/auriora/wirefly/internal/options"
	"github.com/auriora/wirefly/internal/peer"
	"github.com/auriora/wirefly/internal/search"
	"github.com/auriora/wirefly/internal/shares"
	"github.com/auriora/wirefly/internal/transfers"
	"github.com/auriora/wirefly/pkg/logging"
)

func usage() {
	fmt.Printf(`wireflyd - a daemon for a peer-to-peer file-sharing network.

wireflyd maintains a persistent session to the upstream server, runs
distributed searches, schedules uploads and downloads, and exposes an
HTTP/JSON API plus a websocket push channel for user interfaces.

Usage: wireflyd [options]

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.StringP("config-file", "f", common.DefaultConfigPath(),
		"A YAML-formatted configuration file used by wireflyd.")
	logLevel := flag.StringP("log", "l", "",
		"Set logging level/verbosity. "+
			"Can be one of: fatal, error, warn, info, debug, trace")
	logOutput := flag.StringP("log-output", "o", "",
		"Set the output location for logs. "+
			"Can be STDOUT, STDERR, or a file path. Default is STDERR.")
	dataDir := flag.StringP("data-dir", "c", "",
		"Change the directory used by wireflyd for its databases. "+
			"Will be created if the path does not already exist.")
	forceMigrations := flag.Bool("force-migrations", false,
		"Ignore the migration history file and reapply every migration.")
	versionFlag := flag.BoolP("version", "v", false, "Display program version.")
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Println("wireflyd", common.Version)
		os.Exit(0)
	}

	config := common.LoadConfig(*configPath)
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}
	if *dataDir != "" {
		config.DataDir = *dataDir
	}
	common.SetupLogging(config.LogLevel, *logOutput)

	if err := os.MkdirAll(config.DataDir, 0700); err != nil {
		logging.Fatal().Err(err).Str("dataDir", config.DataDir).
			Msg("Could not create data directory.")
	}

	client := newPeerClient()
	if err := run(config, client, *forceMigrations); err != nil {
		logging.Fatal().Err(err).Msg("Daemon failed.")
	}
}

// newPeerClient constructs the peer-protocol client. The client library is
// an external collaborator; until one is linked in, a disconnected mock
// keeps the daemon's API and stores fully usable.
func newPeerClient() peer.Client {
	return &peer.MockClient{}
}

// run wires the daemon together. The migrator must run to completion
// before any other subsystem starts.
func run(config *common.Config, client peer.Client, forceMigrations bool) error {
	stores := map[string]string{
		"search":    filepath.Join(config.DataDir, db.SearchDB),
		"transfers": filepath.Join(config.DataDir, db.TransfersDB),
		"messaging": filepath.Join(config.DataDir, db.MessagingDB),
		"events":    filepath.Join(config.DataDir, db.EventsDB),
	}

	searchDB, err := db.Open(stores["search"])
	if err != nil {
		return err
	}
	defer searchDB.Close()
	transfersDB, err := db.Open(stores["transfers"])
	if err != nil {
		return err
	}
	defer transfersDB.Close()
	messagingDB, err := db.Open(stores["messaging"])
	if err != nil {
		return err
	}
	defer messagingDB.Close()
	eventsDB, err := db.Open(stores["events"])
	if err != nil {
		return err
	}
	defer eventsDB.Close()

	migrator := db.NewMigrator(config.DataDir, stores)
	migrations.RegisterAll(migrator, transfersDB, searchDB, messagingDB, eventsDB)
	if err := migrator.Run(context.Background(), forceMigrations); err != nil {
		return err
	}

	stream := options.NewStream(config.ToOptions())

	index, err := shares.Open(filepath.Join(config.DataDir, "shares.db"))
	if err != nil {
		return err
	}
	defer index.Close()
	if len(config.Shares) > 0 {
		if _, err := index.Scan(config.Shares); err != nil {
			logging.Warn().Err(err).Msg("Share scan failed; continuing with stale index.")
		}
	}

	tracker := transfers.NewTracker()
	transferStore := transfers.NewStore(transfersDB)
	queue := transfers.NewQueue(stream.Current())
	governor := transfers.NewGovernor(stream.Current())
	transferSvc := transfers.NewService(tracker, transferStore, queue, governor, index, stream)
	defer transferSvc.Close()
	defer governor.Close()

	pushHub := hub.NewHub()
	searchSvc := search.NewService(client, search.NewStore(searchDB), pushHub)
	eventStore := events.NewStore(eventsDB)
	messageStore := messaging.NewStore(messagingDB)

	var gate conn.Gate
	var vpn *conn.Readiness
	if config.VPN.Enabled {
		vpn = conn.NewReadiness(conn.NewHTTPHelper(config.VPN.HelperURL), client, stream)
		vpn.Start()
		defer vpn.Stop()
		gate = vpn
	}

	watchdog := conn.NewWatchdog(client, stream, gate)
	defer watchdog.Close()
	watchdog.Recorder = func(event string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eventStore.Append(ctx, event, nil); err != nil {
			logging.Warn().Err(err).Str("event", event).Msg("Could not record session event.")
		}
	}
	watchdog.Start()

	status := dbusstatus.NewServer(func() string {
		if client.Connected() {
			return "connected"
		}
		return "disconnected"
	})
	if err := status.Start(); err != nil {
		logging.Warn().Err(err).Msg("D-Bus status service unavailable.")
	}
	defer status.Stop()

	api.Version = common.Version
	server := api.NewServer(config.API.Addr, searchSvc, transferSvc, watchdog,
		eventStore, messageStore, pushHub, config.API.Key)

	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()

	if sent, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
		logging.Warn().Err(err).Msg("Could not notify systemd.")
	} else if sent {
		logging.Debug().Msg("Notified systemd of readiness.")
	}
	logging.Info().Str("dataDir", config.DataDir).Msg("wireflyd is up.")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down.")
	case err := <-errs:
		if err != nil {
			return err
		}
	}

	watchdog.Stop(true)
	_ = client.Disconnect("daemon shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
