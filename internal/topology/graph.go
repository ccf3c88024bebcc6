// Package topology maintains the directed multi-graph the routing engine
// runs Dijkstra over (spec §4.10), derived from the neighbor table.
package topology

import (
	"time"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/neighbor"
)

// Edge is one directed link (spec §4.10's "Topology edge").
type Edge struct {
	To          callsign.Callsign
	TransportID string
	Cost        float64
	Quality     int // 0..100
	Bandwidth   float64
	LatencyMs   float64
	LastUpdate  time.Time
}

// Node carries the node-level attributes topology tracks alongside edges.
type Node struct {
	Services     []string
	Capabilities []string
}

// Graph is a directed multi-graph keyed by callsign; a pair of nodes may
// have more than one edge between them, one per transport.
type Graph struct {
	nodes map[string]Node
	edges map[string][]Edge // keyed by source callsign
}

// New constructs an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		edges: make(map[string][]Edge),
	}
}

func key(c callsign.Callsign) string { return c.String() }

// EnsureNode adds c with no edges if not already present, leaving any
// existing edges untouched.
func (g *Graph) EnsureNode(c callsign.Callsign) {
	k := key(c)
	if _, ok := g.nodes[k]; !ok {
		g.nodes[k] = Node{}
	}
}

// Neighbors returns the outgoing edges from c.
func (g *Graph) Neighbors(c callsign.Callsign) []Edge {
	return append([]Edge(nil), g.edges[key(c)]...)
}

// HasNode reports whether c has been seen.
func (g *Graph) HasNode(c callsign.Callsign) bool {
	_, ok := g.nodes[key(c)]
	return ok
}

// Callsigns returns every node currently in the graph.
func (g *Graph) Callsigns() []string {
	out := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		out = append(out, k)
	}
	return out
}

// UpdateFromNeighborTable rebuilds self's outgoing edges from the current
// neighbor table snapshot (spec §4.10): ensures self exists, adds/updates an
// edge per neighbor per transport, and removes edges to callsigns the
// neighbor table no longer carries.
func (g *Graph) UpdateFromNeighborTable(self callsign.Callsign, entries []neighbor.Entry) {
	g.EnsureNode(self)

	live := make(map[string]bool, len(entries))
	var newEdges []Edge

	for _, e := range entries {
		live[key(e.Callsign)] = true
		g.EnsureNode(e.Callsign)
		g.nodes[key(e.Callsign)] = Node{Services: e.Services, Capabilities: e.Capabilities}

		for _, link := range e.Transports {
			newEdges = append(newEdges, Edge{
				To:          e.Callsign,
				TransportID: link.TransportID,
				Cost:        link.Cost,
				LatencyMs:   link.Metrics.LatencyMs,
				LastUpdate:  link.LastSeen,
			})
		}
	}

	selfKey := key(self)
	g.edges[selfKey] = newEdges

	for k := range g.nodes {
		if k == selfKey || live[k] {
			continue
		}
		if !g.reachableFromSelfEdge(k) {
			delete(g.nodes, k)
			delete(g.edges, k)
		}
	}
}

// reachableFromSelfEdge reports whether any outgoing edge still targets k;
// used to decide whether a stale node (one the neighbor table dropped) can
// be pruned, versus one still referenced as an intermediate hop.
func (g *Graph) reachableFromSelfEdge(k string) bool {
	for _, edges := range g.edges {
		for _, e := range edges {
			if key(e.To) == k {
				return true
			}
		}
	}
	return false
}

// HasPath reports BFS reachability from u to v (spec §4.10).
func (g *Graph) HasPath(u, v callsign.Callsign) bool {
	start, target := key(u), key(v)
	if start == target {
		return true
	}

	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range g.edges[cur] {
			nk := key(e.To)
			if nk == target {
				return true
			}
			if !visited[nk] {
				visited[nk] = true
				queue = append(queue, nk)
			}
		}
	}
	return false
}
