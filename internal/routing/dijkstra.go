// Package routing implements the Dijkstra-based routing engine (spec §4.11):
// a routing table recomputed from the topology graph, plus selectRoute's
// transport-mode overrides.
package routing

import (
	"container/heap"
	"time"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/topology"
)

// Route is one routing table entry (spec: "destination → {nextHop, cost,
// path, transport, hopCount, lastUpdate}").
type Route struct {
	Destination callsign.Callsign
	NextHop     callsign.Callsign
	Cost        float64
	Path        []callsign.Callsign
	Transport   string
	HopCount    int
	LastUpdate  time.Time
}

// Table is the computed routing table, keyed by destination callsign.
type Table struct {
	routes map[string]Route
}

// Lookup returns the route to destination, if one exists.
func (t *Table) Lookup(destination callsign.Callsign) (Route, bool) {
	r, ok := t.routes[destination.String()]
	return r, ok
}

// Routes returns every computed route.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	return out
}

type distEntry struct {
	callsign string
	dist     float64
	hops     int
}

// priorityQueue orders distEntry by (dist asc, hops asc, callsign asc), the
// tie-break spec §4.11 specifies: "Ties on cost broken by lower hop count,
// then lexical callsign order."
type priorityQueue []distEntry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	if pq[i].hops != pq[j].hops {
		return pq[i].hops < pq[j].hops
	}
	return pq[i].callsign < pq[j].callsign
}
func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)   { *pq = append(*pq, x.(distEntry)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// Compute runs Dijkstra from self over g, producing a routing table to
// every reachable node (spec §4.11).
func Compute(g *topology.Graph, self callsign.Callsign, now time.Time) *Table {
	dist := map[string]float64{self.String(): 0}
	hops := map[string]int{self.String(): 0}
	prevHop := map[string]string{}   // node -> predecessor on shortest path
	prevTransport := map[string]string{}
	visited := map[string]bool{}

	pq := &priorityQueue{{callsign: self.String(), dist: 0, hops: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(distEntry)
		if visited[cur.callsign] {
			continue
		}
		visited[cur.callsign] = true

		for _, e := range g.Neighbors(parseOrZero(cur.callsign)) {
			toKey := e.To.String()
			cand := cur.dist + e.Cost
			candHops := cur.hops + 1

			best, known := dist[toKey]
			better := !known || cand < best || (cand == best && candHops < hops[toKey])
			if better {
				dist[toKey] = cand
				hops[toKey] = candHops
				prevHop[toKey] = cur.callsign
				prevTransport[toKey] = e.TransportID
				heap.Push(pq, distEntry{callsign: toKey, dist: cand, hops: candHops})
			}
		}
	}

	routes := make(map[string]Route, len(dist))
	for dst, cost := range dist {
		if dst == self.String() {
			continue
		}
		path := reconstructPath(self.String(), dst, prevHop)
		nextHopKey := path[1]

		routes[dst] = Route{
			Destination: parseOrZero(dst),
			NextHop:     parseOrZero(nextHopKey),
			Cost:        cost,
			Path:        parsePath(path),
			Transport:   transportForFirstHop(self.String(), dst, prevHop, prevTransport),
			HopCount:    hops[dst],
			LastUpdate:  now,
		}
	}

	return &Table{routes: routes}
}

// transportForFirstHop walks the reconstructed path back to the hop
// adjacent to self and reports the transport used on that first edge,
// since that is the transport the coordinator must hand the packet to.
func transportForFirstHop(self, dst string, prevHop, prevTransport map[string]string) string {
	cur := dst
	for prevHop[cur] != self {
		p, ok := prevHop[cur]
		if !ok {
			return ""
		}
		cur = p
	}
	return prevTransport[cur]
}

func reconstructPath(self, dst string, prevHop map[string]string) []string {
	var rev []string
	cur := dst
	for {
		rev = append(rev, cur)
		if cur == self {
			break
		}
		p, ok := prevHop[cur]
		if !ok {
			break
		}
		cur = p
	}
	path := make([]string, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path
}

func parsePath(keys []string) []callsign.Callsign {
	out := make([]callsign.Callsign, len(keys))
	for i, k := range keys {
		out[i] = parseOrZero(k)
	}
	return out
}

// parseOrZero re-derives a Callsign from its canonical String() form. Graph
// and routing both key by that canonical string, so this never sees an
// input Callsign.Parse would reject.
func parseOrZero(s string) callsign.Callsign {
	c, err := callsign.Parse(s)
	if err != nil {
		return callsign.Callsign{}
	}
	return c
}
