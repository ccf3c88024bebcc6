package routing

import "github.com/na4wx/nexdigi/internal/callsign"

// InternetMode mirrors the Internet transport's topology role (spec §4.6 /
// §4.11's selection override).
type InternetMode int

const (
	ModeNone InternetMode = iota
	ModeClient
	ModeServer
	ModeMesh
)

// Options carries per-message routing inputs that can participate in
// future selection policy without changing selectRoute's signature.
type Options struct{}

// Selection is what selectRoute hands back to the coordinator: which
// transport to use and, when meaningful, the next hop.
type Selection struct {
	TransportID string
	NextHop     callsign.Callsign
	Found       bool
}

// Environment is the state selectRoute needs beyond the routing table
// itself: the Internet transport's current mode/availability and, in
// server mode, whether destination is a directly connected client.
type Environment struct {
	InternetMode       InternetMode
	InternetAvailable  bool
	InternetTransportID string
	Hub                callsign.Callsign
	DirectClient       func(destination callsign.Callsign) bool
	CheapestTransport  func() (transportID string, ok bool)
}

// SelectRoute implements spec §4.11's selection policy:
//
//   - Internet transport in client mode and available: force the hub
//     regardless of the Dijkstra result.
//   - Internet transport in server mode and destination is a directly
//     connected client: use Internet directly.
//   - Otherwise the Dijkstra result governs.
//   - Finally, fall back to the cheapest available transport if no route
//     exists.
func SelectRoute(table *Table, destination callsign.Callsign, env Environment) Selection {
	if env.InternetMode == ModeClient && env.InternetAvailable {
		return Selection{TransportID: env.InternetTransportID, NextHop: env.Hub, Found: true}
	}

	if env.InternetMode == ModeServer && env.DirectClient != nil && env.DirectClient(destination) {
		return Selection{TransportID: env.InternetTransportID, NextHop: destination, Found: true}
	}

	if r, ok := table.Lookup(destination); ok {
		return Selection{TransportID: r.Transport, NextHop: r.NextHop, Found: true}
	}

	if env.CheapestTransport != nil {
		if transportID, ok := env.CheapestTransport(); ok {
			return Selection{TransportID: transportID, NextHop: destination, Found: true}
		}
	}

	return Selection{Found: false}
}
