package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/na4wx/nexdigi/internal/ax25"
	"github.com/na4wx/nexdigi/internal/bbssync"
	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/config"
	"github.com/na4wx/nexdigi/internal/coordinator"
	"github.com/na4wx/nexdigi/internal/logging"
	"github.com/na4wx/nexdigi/internal/metrics"
	"github.com/na4wx/nexdigi/internal/registry"
	"github.com/na4wx/nexdigi/internal/routing"
	"github.com/na4wx/nexdigi/internal/transport"
	"github.com/na4wx/nexdigi/internal/wire"
)

// emptyMailbox is a placeholder bbssync.MailboxIndex: the actual BBS
// message store is a separate, out-of-scope subsystem (spec Non-goals).
// Plugging in a real store only requires satisfying this one-method
// interface.
type emptyMailbox struct{}

func (emptyMailbox) KnownMessageIDs(string) []string { return nil }

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the backbone router daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), flags)
		},
	}
}

func runDaemon(ctx context.Context, flags *globalFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger := logging.New(logging.Config{Level: level, Format: logging.Format(cfg.Logging.Format)})

	self := callsign.MustParse(cfg.LocalCallsign)

	internetMode := routing.ModeNone
	switch cfg.Transports.Internet.Mode {
	case "client":
		internetMode = routing.ModeClient
	case "server":
		internetMode = routing.ModeServer
	}

	coord := coordinator.New(coordinator.Config{
		Self:                     self,
		Services:                 cfg.Services.Offer,
		InternetMode:             internetMode,
		InternetTransportID:      cfg.Transports.Internet.TransportID,
		NeighborTimeout:          cfg.Operational.NeighborTimeout,
		HeartbeatInterval:        cfg.Operational.HeartbeatInterval,
		RouteRecomputeInterval:   cfg.Operational.RouteRecomputeInterval,
		QueueDrainInterval:       cfg.Operational.QueueDrainInterval,
		ReliabilityCheckInterval: cfg.Operational.ReliabilityCheckInterval,
		NeighborCleanupInterval:  cfg.Operational.NeighborCleanupInterval,
		ReassemblySweepInterval:  cfg.Operational.ReassemblySweepInterval,
		QueueCapacity:            cfg.Operational.QueueCapacity,
		QueueBandCapacity:        cfg.Operational.QueueBandCapacity,
		AckTimeout:               cfg.Operational.AckTimeout,
		MaxRetries:               cfg.Operational.MaxRetries,
		ReassemblyTimeout:        cfg.Operational.ReassemblyTimeout,
		HeaderOverhead:           cfg.Operational.HeaderOverhead,
		Logger:                   logger,
	})

	if cfg.Transports.RF.Enabled {
		link, err := os.OpenFile(cfg.Transports.RF.Device, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("opening RF device %s: %w", cfg.Transports.RF.Device, err)
		}
		role := ax25.RoleFillIn
		if cfg.Transports.RF.Role == "wide" {
			role = ax25.RoleWide
		}
		rf := transport.NewRF(transport.RFConfig{
			TransportID: cfg.Transports.RF.TransportID,
			Self:        self,
			Role:        role,
			MaxWideN:    cfg.Transports.RF.MaxWideN,
			Link:        link,
		})
		coord.AddTransport(cfg.Transports.RF.TransportID, "rf", rf, &rf.Events)
	}

	if cfg.Transports.Internet.Enabled {
		var tlsConfig *tls.Config
		if cfg.Transports.Internet.TLS.Enabled {
			tlsConfig = &tls.Config{InsecureSkipVerify: cfg.Transports.Internet.TLS.InsecureSkipVerify}
		}
		hubs := cfg.Transports.Internet.HubServers.Servers
		if cfg.Transports.Internet.HubServer != "" {
			hubs = append([]string{cfg.Transports.Internet.HubServer}, hubs...)
		}
		net := transport.NewInternet(transport.InternetConfig{
			TransportID: cfg.Transports.Internet.TransportID,
			Self:        self,
			Mode:        internetModeFor(cfg.Transports.Internet.Mode),
			BindAddress: cfg.Transports.Internet.BindAddress,
			Port:        cfg.Transports.Internet.Port,
			TLSConfig:   tlsConfig,
			Peers:       cfg.Transports.Internet.Peers,
			HubServers:  hubs,
			Services:    cfg.Services.Offer,
			Logger:      logger,
		})
		coord.AddTransport(cfg.Transports.Internet.TransportID, "internet", net, &net.Events)
	}

	// The user registry (C17) and BBS sync (C16) need the coordinator's
	// SendRaw/SendData capability, which only exists once coord is built;
	// *coordinator.Coordinator satisfies both registry.Sender and
	// bbssync.Sender directly.
	reg, err := registry.New(self, afero.NewOsFs(), "/var/lib/nexdigi/registry.json", coord, logger)
	if err != nil {
		return fmt.Errorf("loading user registry: %w", err)
	}
	coord.OnRegistryUpdate.Subscribe(func(p wire.Packet) {
		if err := reg.HandleRegistryUpdate(p); err != nil {
			logger.Warn().Err(err).Msg("registry_update rejected")
		}
	})

	syncer := bbssync.New(self, emptyMailbox{}, coord, func(m bbssync.Missing) {
		logger.Info().Str("peer", m.Peer.String()).Strs("missing", m.MessageIDs).Msg("bbssync: missing messages")
	})
	coord.OnServiceQuery.Subscribe(func(p wire.Packet) {
		if err := syncer.HandleServiceQuery(p); err != nil {
			logger.Warn().Err(err).Msg("service_query rejected")
		}
	})
	coord.OnServiceReply.Subscribe(func(p wire.Packet) {
		if err := syncer.HandleServiceReply(p); err != nil {
			logger.Warn().Err(err).Msg("service_reply rejected")
		}
	})

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)

	if cfg.Metrics.Enabled {
		metricsReg := metrics.New()
		srv := metrics.NewServer(cfg.Metrics.BindAddress, metricsReg, statusProvider{coord: coord})
		group.Go(func() error { return srv.Serve(groupCtx) })
	}

	if err := coord.Start(groupCtx); err != nil {
		return err
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return coord.Stop()
	})

	return group.Wait()
}

func internetModeFor(mode string) transport.InternetMode {
	switch mode {
	case "server":
		return transport.ModeServer
	case "client":
		return transport.ModeClient
	default:
		return transport.ModeMesh
	}
}
