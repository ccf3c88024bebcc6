// Package transport defines the contract every backbone transport
// satisfies (spec §4.4) and the shared event payloads transports publish.
package transport

import (
	"context"
	"errors"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/events"
	"github.com/na4wx/nexdigi/internal/wire"
)

// ErrUnavailable is returned by Send when the destination has no
// authenticated connection on the transport.
var ErrUnavailable = errors.New("transport: unavailable")

// ErrConnectTimeout is returned when an RF SABM/UA session handshake does
// not complete within its deadline.
var ErrConnectTimeout = errors.New("transport: connect timed out")

// SendOptions carries per-send knobs a transport may consult.
type SendOptions struct {
	RequireAck bool
}

// PacketEvent is a decoded backbone packet paired with the id of the
// transport it arrived on, published via OnPacket.
type PacketEvent struct {
	TransportID string
	Packet      wire.Packet
}

// ConnectionEvent names a peer that just associated with (or left) a
// transport, e.g. an authenticated TCP client or a connected-mode RF
// session.
type ConnectionEvent struct {
	TransportID string
	Peer        callsign.Callsign
}

// ErrorEvent reports a non-fatal transport error worth surfacing to the
// coordinator's logs/metrics without tearing down the transport.
type ErrorEvent struct {
	TransportID string
	Err         error
}

// Transport is the contract every RF or Internet transport satisfies
// (spec §4.4). Implementations publish PacketEvent/ConnectionEvent/
// ErrorEvent on their own broker values (composition, not a shared base
// class — spec §9's "mutable inheritance of event-emitter behavior" is
// exactly what this replaces).
type Transport interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect() error
	Send(destination callsign.Callsign, payload []byte, opts SendOptions) error
	Broadcast(payload []byte) error
	IsAvailable() bool
	Cost() int
	MTU() int
}

// Broker bundle shared by every transport implementation, exposed so the
// coordinator can subscribe without knowing the concrete transport type.
type Events struct {
	OnPacket     events.Broker[PacketEvent]
	OnConnection events.Broker[ConnectionEvent]
	OnDisconnect events.Broker[ConnectionEvent]
	OnError      events.Broker[ErrorEvent]
}

// Canonical cost/MTU defaults (spec §4.4).
const (
	DefaultInternetCost = 10
	DefaultRFCost       = 500
	DefaultInternetMTU  = 8192
	DefaultRFMTU        = 200
)
