package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/na4wx/nexdigi/internal/config"
	"github.com/na4wx/nexdigi/internal/coordinator"
	"github.com/na4wx/nexdigi/internal/metrics"
)

// statusProvider adapts a running Coordinator to metrics.StatusProvider.
type statusProvider struct {
	coord *coordinator.Coordinator
}

func (s statusProvider) Status() metrics.Status {
	transports := s.coord.TransportStatuses()
	out := make([]metrics.TransportStatus, 0, len(transports))
	for _, t := range transports {
		out = append(out, metrics.TransportStatus{ID: t.ID, Connected: t.Connected, Mode: t.Kind})
	}

	return metrics.Status{
		Transports:    out,
		QueueDepth:    s.coord.QueueLen(),
		NeighborCount: s.coord.Neighbors().Len(),
		RouteCount:    len(s.coord.Routes().Routes()),
		RTT:           s.coord.RTTEstimate(),
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the local node's status endpoint and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}

			client := http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + cfg.Metrics.BindAddress + "/status")
			if err != nil {
				return fmt.Errorf("querying status endpoint: %w", err)
			}
			defer resp.Body.Close()

			var status metrics.Status
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decoding status response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queue=%d neighbors=%d routes=%d rtt=%s\n",
				status.QueueDepth, status.NeighborCount, status.RouteCount, status.RTT)
			for _, t := range status.Transports {
				fmt.Fprintf(out, "  %-10s connected=%v mode=%s\n", t.ID, t.Connected, t.Mode)
			}
			return nil
		},
	}
}
