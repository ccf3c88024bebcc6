package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct{ status Status }

func (f fakeStatus) Status() Status { return f.status }

func TestRegistryCountersIncrement(t *testing.T) {
	m := New()

	m.DuplicatesDropped.Inc()
	m.DuplicatesDropped.Inc()
	require.Equal(t, float64(2), testutil.ToFloat64(m.DuplicatesDropped))

	m.TransportConnected.WithLabelValues("rf0").Set(1)
	require.Equal(t, float64(1), testutil.ToFloat64(m.TransportConnected.WithLabelValues("rf0")))
}

func TestServerServesMetricsAndStatus(t *testing.T) {
	m := New()
	m.NeighborCount.Set(3)

	status := fakeStatus{status: Status{
		Transports:    []TransportStatus{{ID: "rf0", Connected: true}},
		QueueDepth:    5,
		NeighborCount: 3,
		RouteCount:    2,
	}}

	srv := NewServer("127.0.0.1:0", m, status)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.http.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "nexdigi_neighbor_count 3")

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	srv.http.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"id":"rf0"`)
}
