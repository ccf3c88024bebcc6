// Package metrics registers the Prometheus gauges and counters spec §7
// calls user-visible, and serves them plus a small JSON status summary on
// an HTTP listener at the bind address it is given, separate from the
// backbone's own TCP/TLS port (spec AMBIENT STACK: "Metrics / status
// endpoint").
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric spec §7 names. Namespace "nexdigi" groups
// them under one Prometheus prefix.
type Registry struct {
	reg *prometheus.Registry

	TransportConnected  *prometheus.GaugeVec
	ReconnectAttempts   *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	OldestMessageAgeSec prometheus.Gauge
	DroppedByPriority   *prometheus.CounterVec
	AckRTT              prometheus.Histogram
	NeighborCount       prometheus.Gauge
	RouteCount          prometheus.Gauge
	DuplicatesDropped   prometheus.Counter
	MaxWideBlocked      prometheus.Counter
	PacketsRelayed      prometheus.Counter
}

// New constructs a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		TransportConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nexdigi", Name: "transport_connected", Help: "1 if the transport is connected, 0 if down.",
		}, []string{"transport"}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexdigi", Name: "transport_reconnect_attempts_total", Help: "Reconnect attempts per transport.",
		}, []string{"transport"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nexdigi", Name: "queue_depth", Help: "Outbound queue depth per priority band.",
		}, []string{"band"}),
		OldestMessageAgeSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexdigi", Name: "queue_oldest_message_age_seconds", Help: "Age of the oldest queued message.",
		}),
		DroppedByPriority: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexdigi", Name: "dropped_total", Help: "Dropped messages per priority band.",
		}, []string{"band"}),
		AckRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nexdigi", Name: "ack_rtt_seconds", Help: "Round-trip time from send to ACK.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		NeighborCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexdigi", Name: "neighbor_count", Help: "Current neighbor table size.",
		}),
		RouteCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexdigi", Name: "route_count", Help: "Current routing table size.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexdigi", Name: "duplicates_dropped_total", Help: "Packets dropped as duplicates by messageId.",
		}),
		MaxWideBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexdigi", Name: "max_wide_blocked_total", Help: "AX.25 frames skipped: WIDE k exceeds maxWideN.",
		}),
		PacketsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nexdigi", Name: "packets_relayed_total", Help: "DATA packets relayed directly between hub clients.",
		}),
	}

	reg.MustRegister(
		m.TransportConnected, m.ReconnectAttempts, m.QueueDepth, m.OldestMessageAgeSec,
		m.DroppedByPriority, m.AckRTT, m.NeighborCount, m.RouteCount,
		m.DuplicatesDropped, m.MaxWideBlocked, m.PacketsRelayed,
	)
	return m
}

// StatusProvider supplies the live values the /status JSON handler
// reports: per-transport connected state and mode, queue depth, neighbor
// count, route count and the RTT estimate. Reconnect attempts,
// oldest-message age and dropped-by-priority counts are not part of the
// status body.
type StatusProvider interface {
	Status() Status
}

// Status is the /status JSON response body.
type Status struct {
	Transports []TransportStatus `json:"transports"`
	QueueDepth int               `json:"queueDepth"`
	NeighborCount int            `json:"neighborCount"`
	RouteCount int               `json:"routeCount"`
	RTT        time.Duration     `json:"rttNs"`
}

// TransportStatus is one entry in Status.Transports.
type TransportStatus struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Mode      string `json:"mode,omitempty"`
}

// Server serves /metrics (promhttp) and /status (JSON) on its own
// listener at the given bind address, separate from the backbone's own
// port.
type Server struct {
	http *http.Server
}

// NewServer builds the status/metrics HTTP server. It does not start
// listening until Serve is called.
func NewServer(bindAddress string, m *Registry, status StatusProvider) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)

	return &Server{http: &http.Server{Addr: bindAddress, Handler: r}}
}

// Serve blocks until ctx is canceled, then shuts the listener down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
