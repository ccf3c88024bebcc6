package topology

import (
	"testing"
	"time"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/neighbor"
)

func entry(cs string, transportID string, cost float64) neighbor.Entry {
	c := callsign.MustParse(cs)
	return neighbor.Entry{
		Callsign: c,
		Transports: map[string]neighbor.TransportLink{
			transportID: {TransportID: transportID, Cost: cost, LastSeen: time.Now()},
		},
	}
}

func TestUpdateFromNeighborTableAddsEdges(t *testing.T) {
	g := New()
	self := callsign.MustParse("NA4WX")

	g.UpdateFromNeighborTable(self, []neighbor.Entry{
		entry("KB1ABC", "rf0", 10),
		entry("W1AW", "net0", 1),
	})

	edges := g.Neighbors(self)
	if len(edges) != 2 {
		t.Fatalf("expected 2 outgoing edges, got %d", len(edges))
	}
	if !g.HasNode(callsign.MustParse("KB1ABC")) || !g.HasNode(callsign.MustParse("W1AW")) {
		t.Fatal("expected both neighbors registered as nodes")
	}
}

func TestUpdateFromNeighborTableRemovesStaleEdges(t *testing.T) {
	g := New()
	self := callsign.MustParse("NA4WX")

	g.UpdateFromNeighborTable(self, []neighbor.Entry{entry("KB1ABC", "rf0", 10)})
	g.UpdateFromNeighborTable(self, nil)

	if len(g.Neighbors(self)) != 0 {
		t.Fatal("expected edges to self's former neighbor to be removed")
	}
	if g.HasNode(callsign.MustParse("KB1ABC")) {
		t.Fatal("expected orphaned node to be pruned once no edge references it")
	}
}

func TestHasPathBFS(t *testing.T) {
	g := New()
	a, b, c := callsign.MustParse("A"), callsign.MustParse("B"), callsign.MustParse("C")

	g.edges[key(a)] = []Edge{{To: b}}
	g.edges[key(b)] = []Edge{{To: c}}
	g.nodes[key(a)] = Node{}
	g.nodes[key(b)] = Node{}
	g.nodes[key(c)] = Node{}

	if !g.HasPath(a, c) {
		t.Error("expected A to reach C via B")
	}
	if g.HasPath(c, a) {
		t.Error("did not expect C to reach A (edges are directed)")
	}
}
