package routing

import (
	"testing"
	"time"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/neighbor"
	"github.com/na4wx/nexdigi/internal/topology"
)

func neighborEntry(cs, transportID string, cost float64) neighbor.Entry {
	c := callsign.MustParse(cs)
	return neighbor.Entry{
		Callsign: c,
		Transports: map[string]neighbor.TransportLink{
			transportID: {TransportID: transportID, Cost: cost, LastSeen: time.Now()},
		},
	}
}

func TestComputeShortestPath(t *testing.T) {
	g := topology.New()
	a := callsign.MustParse("A")

	g.UpdateFromNeighborTable(a, []neighbor.Entry{neighborEntry("B", "rf0", 5)})

	tbl := Compute(g, a, time.Now())
	r, ok := tbl.Lookup(callsign.MustParse("B"))
	if !ok {
		t.Fatal("expected route to B")
	}
	if r.Cost != 5 || r.HopCount != 1 {
		t.Fatalf("got cost=%v hops=%v, want 5,1", r.Cost, r.HopCount)
	}
	if r.Transport != "rf0" {
		t.Fatalf("transport = %q, want rf0", r.Transport)
	}
}

func TestComputePrefersCheaperTransportToSameDestination(t *testing.T) {
	// B is reachable both directly (cost 20) and is additionally given a
	// cheaper second transport entry (cost 5); the cheaper one must win.
	g := topology.New()
	a := callsign.MustParse("A")
	b := callsign.MustParse("B")

	entry := neighbor.Entry{
		Callsign: b,
		Transports: map[string]neighbor.TransportLink{
			"rf0":  {TransportID: "rf0", Cost: 20, LastSeen: time.Now()},
			"net0": {TransportID: "net0", Cost: 5, LastSeen: time.Now()},
		},
	}
	g.UpdateFromNeighborTable(a, []neighbor.Entry{entry})

	tbl := Compute(g, a, time.Now())
	r, ok := tbl.Lookup(b)
	if !ok {
		t.Fatal("expected route to B")
	}
	if r.Cost != 5 {
		t.Fatalf("cost = %v, want 5 (net0)", r.Cost)
	}
	if r.Transport != "net0" {
		t.Fatalf("transport = %q, want net0", r.Transport)
	}
}

func TestComputeUnreachableDestinationAbsent(t *testing.T) {
	g := topology.New()
	a := callsign.MustParse("A")
	g.EnsureNode(a)
	g.EnsureNode(callsign.MustParse("Z"))

	tbl := Compute(g, a, time.Now())
	if _, ok := tbl.Lookup(callsign.MustParse("Z")); ok {
		t.Fatal("did not expect a route to an unreachable node")
	}
}

func TestSelectRouteClientModeForcesHub(t *testing.T) {
	tbl := Compute(topology.New(), callsign.MustParse("A"), time.Now())
	hub := callsign.MustParse("HUB")

	sel := SelectRoute(tbl, callsign.MustParse("W9XYZ"), Environment{
		InternetMode:        ModeClient,
		InternetAvailable:   true,
		InternetTransportID: "net0",
		Hub:                 hub,
	})
	if !sel.Found || sel.TransportID != "net0" || !sel.NextHop.Equal(hub) {
		t.Fatalf("expected forced hub route, got %+v", sel)
	}
}

func TestSelectRouteServerModeDirectClient(t *testing.T) {
	tbl := Compute(topology.New(), callsign.MustParse("A"), time.Now())
	client := callsign.MustParse("CLIENT")

	sel := SelectRoute(tbl, client, Environment{
		InternetMode:        ModeServer,
		InternetTransportID: "net0",
		DirectClient:        func(d callsign.Callsign) bool { return d.Equal(client) },
	})
	if !sel.Found || sel.TransportID != "net0" || !sel.NextHop.Equal(client) {
		t.Fatalf("expected direct client route, got %+v", sel)
	}
}

func TestSelectRouteFallsBackToCheapest(t *testing.T) {
	tbl := Compute(topology.New(), callsign.MustParse("A"), time.Now())

	sel := SelectRoute(tbl, callsign.MustParse("ZZ9ZZ"), Environment{
		CheapestTransport: func() (string, bool) { return "rf0", true },
	})
	if !sel.Found || sel.TransportID != "rf0" {
		t.Fatalf("expected cheapest-transport fallback, got %+v", sel)
	}
}

func TestSelectRouteNoneFound(t *testing.T) {
	tbl := Compute(topology.New(), callsign.MustParse("A"), time.Now())
	sel := SelectRoute(tbl, callsign.MustParse("ZZ9ZZ"), Environment{})
	if sel.Found {
		t.Fatalf("expected no route, got %+v", sel)
	}
}
