// Package neighbor implements the per-transport neighbor table (spec §4.8):
// one record per canonical callsign, each holding a per-transport sub-map so
// a station reachable by both RF and Internet carries two cost entries.
package neighbor

import (
	"sync"
	"time"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/events"
)

// DefaultTimeout is how long a neighbor's most-recently-heard transport may
// go silent before the cleanup sweep removes the whole entry.
const DefaultTimeout = 900 * time.Second

// DefaultCleanupInterval is how often the cleanup sweep runs.
const DefaultCleanupInterval = 60 * time.Second

// Metrics is the per-transport link-quality sample a HELLO/KEEPALIVE or
// transport layer reports for cost computation.
type Metrics struct {
	PacketLoss float64 // 0..1
	LatencyMs  float64
	SNR        float64 // dB; Internet links report a neutral 10
}

// baseCost returns the per-transport-kind floor of the cost formula (spec
// §4.8): "baseCost=1 for Internet, 10 for RF".
func baseCost(transportKind string) float64 {
	if transportKind == "internet" {
		return 1
	}
	return 10
}

// Cost computes the link-cost formula from spec §4.8:
// baseCost + packetLoss*100 + latencyMs/100 + max(0, 10-SNR).
func Cost(transportKind string, m Metrics) float64 {
	snrTerm := 10 - m.SNR
	if snrTerm < 0 {
		snrTerm = 0
	}
	return baseCost(transportKind) + m.PacketLoss*100 + m.LatencyMs/100 + snrTerm
}

// TransportLink is one transport's view of a neighbor.
type TransportLink struct {
	TransportID   string
	TransportKind string
	LastSeen      time.Time
	Metrics       Metrics
	Cost          float64
}

// Entry is one neighbor's full record (spec §4.8 "Neighbor entry").
type Entry struct {
	Callsign        callsign.Callsign
	Transports      map[string]TransportLink
	Services        []string
	Capabilities    []string
	ProtocolVersion int
	Sequence        uint32
	FirstSeen       time.Time
	LastSeen        time.Time
	ViaHub          bool
}

func (e Entry) clone() Entry {
	out := e
	out.Transports = make(map[string]TransportLink, len(e.Transports))
	for k, v := range e.Transports {
		out.Transports[k] = v
	}
	out.Services = append([]string(nil), e.Services...)
	out.Capabilities = append([]string(nil), e.Capabilities...)
	return out
}

// Update is the information a HELLO/KEEPALIVE/NEIGHBOR_LIST entry carries
// for a single transport observation.
type Update struct {
	Callsign        callsign.Callsign
	TransportID     string
	TransportKind   string
	Metrics         Metrics
	Services        []string
	Capabilities    []string
	ProtocolVersion int
	Sequence        uint32
	ViaHub          bool
}

// Added, Updated and Removed are the events the table publishes (spec §4.8
// "emits neighbor-added ... neighbor-updated ... neighbor-removed").
type Added struct{ Entry Entry }
type Updated struct{ Entry Entry }
type Removed struct{ Entry Entry }

// Table is the coordinator-owned neighbor table. All mutation happens under
// mu; per spec §5 it is one of the resources "owned by the coordinator;
// accessed under its lock".
type Table struct {
	mu      sync.Mutex
	timeout time.Duration
	entries map[string]Entry

	OnAdded   events.Broker[Added]
	OnUpdated events.Broker[Updated]
	OnRemoved events.Broker[Removed]

	now func() time.Time
}

// New constructs an empty table with the given staleness timeout.
func New(timeout time.Duration) *Table {
	return &Table{
		timeout: timeout,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

func key(c callsign.Callsign) string { return c.String() }

// Update refreshes (or creates) the neighbor entry for u.Callsign's
// transport u.TransportID, recomputing that transport's cost, and publishes
// Added the first time the callsign is seen or Updated thereafter.
func (t *Table) Update(u Update) {
	t.mu.Lock()
	now := t.now()

	k := key(u.Callsign)
	existing, had := t.entries[k]

	var e Entry
	if had {
		e = existing.clone()
	} else {
		e = Entry{
			Callsign:   u.Callsign,
			Transports: make(map[string]TransportLink),
			FirstSeen:  now,
		}
	}

	e.Transports[u.TransportID] = TransportLink{
		TransportID:   u.TransportID,
		TransportKind: u.TransportKind,
		LastSeen:      now,
		Metrics:       u.Metrics,
		Cost:          Cost(u.TransportKind, u.Metrics),
	}
	e.Services = u.Services
	e.Capabilities = u.Capabilities
	e.ProtocolVersion = u.ProtocolVersion
	e.Sequence = u.Sequence
	e.LastSeen = now
	if u.ViaHub {
		e.ViaHub = true
	}

	t.entries[k] = e
	t.mu.Unlock()

	if had {
		t.OnUpdated.Publish(Updated{Entry: e.clone()})
	} else {
		t.OnAdded.Publish(Added{Entry: e.clone()})
	}
}

// Get returns the entry for c, if present.
func (t *Table) Get(c callsign.Callsign) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key(c)]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Snapshot returns every current entry.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.clone())
	}
	return out
}

// Cleanup removes entries whose most-recently-heard transport exceeds the
// table's timeout and publishes Removed for each, per spec §4.8. Call this
// from a periodic timer (default 60 s).
func (t *Table) Cleanup() {
	now := t.now()

	t.mu.Lock()
	var removed []Entry
	for k, e := range t.entries {
		if now.Sub(e.LastSeen) > t.timeout {
			removed = append(removed, e.clone())
			delete(t.entries, k)
		}
	}
	t.mu.Unlock()

	for _, e := range removed {
		t.OnRemoved.Publish(Removed{Entry: e})
	}
}

// Forget removes a single transport's link from a neighbor, dropping the
// whole entry (and publishing Removed) only when no transport remains —
// spec §4's lifecycle rule for "transport disconnect when no other
// transport remains".
func (t *Table) Forget(c callsign.Callsign, transportID string) {
	t.mu.Lock()
	k := key(c)
	e, ok := t.entries[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(e.Transports, transportID)
	if len(e.Transports) > 0 {
		t.entries[k] = e
		t.mu.Unlock()
		return
	}
	delete(t.entries, k)
	t.mu.Unlock()

	t.OnRemoved.Publish(Removed{Entry: e.clone()})
}

// Len reports the number of tracked neighbors.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
