package coordinator

import (
	"time"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/routing"
	"github.com/na4wx/nexdigi/internal/wire"
)

// Ready is published once Start has connected every transport and armed
// every timer (spec §6 event surface: "ready").
type Ready struct{ At time.Time }

// RoutesUpdated is published after every routing recompute (spec §5:
// "routing recompute every 60 s").
type RoutesUpdated struct {
	Table *routing.Table
	At    time.Time
}

// Delivery is published for a DATA packet destined to this node or to the
// CQ broadcast (spec §6: "data(source, destination, payload, messageId,
// transportId)").
type Delivery struct {
	Source      callsign.Callsign
	Destination callsign.Callsign
	Payload     []byte
	MessageID   wire.MessageID
	TransportID string
}

// DroppedReason enumerates why a packet never reached dispatch or a queued
// message never reached the wire.
type DroppedReason string

const (
	DroppedDuplicate       DroppedReason = "duplicate"
	DroppedTTLExpired      DroppedReason = "ttl_expired"
	DroppedCongestion      DroppedReason = "congestion"
	DroppedNoRoute         DroppedReason = "no_route"
	DroppedRetriesExceeded DroppedReason = "retries_exceeded"
	DroppedFragmentTimeout DroppedReason = "fragment_reassembly_timeout"
)

// Dropped is published whenever a packet is discarded without delivery
// (spec §6: "message-dropped(messageId, reason)").
type Dropped struct {
	MessageID wire.MessageID
	Reason    DroppedReason
}

// Sent is published the moment a queued message is handed to a transport
// (spec §6: "message-sent(messageId, destination)").
type Sent struct {
	MessageID   wire.MessageID
	Destination callsign.Callsign
	TransportID string
}

// Acknowledged is published when a DATA transmission's ACK arrives (spec
// §6: "message-acknowledged(messageId, rtt)").
type Acknowledged struct {
	MessageID wire.MessageID
	RTT       time.Duration
}

// Failed is published when a DATA transmission exhausts its retry budget
// (spec §6: "message-failed(messageId, reason)").
type Failed struct {
	MessageID wire.MessageID
	Reason    string
}
