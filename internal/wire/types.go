// Package wire implements the backbone wire packet codec (spec §4.1): a
// fixed 64-byte header, a TLV routing-info list, an opaque payload, and a
// CRC16 integrity check. PacketType is modeled as a closed tagged variant
// (spec §9's "dynamic packet dispatch by integer type" redesign note)
// rather than a bare integer switch scattered across the coordinator.
package wire

import "fmt"

// PacketType identifies the kind of backbone packet carried in a header.
// The set is closed; the coordinator's Receive switch matches every member.
type PacketType uint8

const (
	TypeHello           PacketType = 0x01
	TypeLSA             PacketType = 0x02
	TypeData            PacketType = 0x03
	TypeAck             PacketType = 0x04
	TypeServiceQuery    PacketType = 0x05
	TypeServiceReply    PacketType = 0x06
	TypeKeepalive       PacketType = 0x07
	TypeError           PacketType = 0x08
	TypeNeighborList    PacketType = 0x09
	TypeRegistryUpdate  PacketType = 0x0A
)

// Valid reports whether t is one of the packet types defined by the
// protocol; unknown values still decode (future-compatible, spec §4.1
// "reserved" types) but dispatch treats them as no-ops.
func (t PacketType) Valid() bool {
	switch t {
	case TypeHello, TypeLSA, TypeData, TypeAck, TypeServiceQuery,
		TypeServiceReply, TypeKeepalive, TypeError, TypeNeighborList,
		TypeRegistryUpdate:
		return true
	default:
		return false
	}
}

func (t PacketType) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeLSA:
		return "LSA"
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	case TypeServiceQuery:
		return "SERVICE_QUERY"
	case TypeServiceReply:
		return "SERVICE_REPLY"
	case TypeKeepalive:
		return "KEEPALIVE"
	case TypeError:
		return "ERROR"
	case TypeNeighborList:
		return "NEIGHBOR_LIST"
	case TypeRegistryUpdate:
		return "REGISTRY_UPDATE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// Flags is the header's bitset of per-packet modifiers.
type Flags uint8

const (
	FlagCompressed Flags = 0x01
	FlagEncrypted  Flags = 0x02
	FlagFragmented Flags = 0x04
	FlagUrgent     Flags = 0x08
)

// Has reports whether every bit in want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Priority is the wire header's six-level priority, distinct from the
// internal queue's four bands (spec §9 open question: priority
// enumerations diverge between wire header and queue).
type Priority uint8

const (
	PriorityEmergency Priority = 0
	PriorityUrgent    Priority = 1
	PriorityHigh      Priority = 2
	PriorityNormal    Priority = 3
	PriorityLow       Priority = 4
	PriorityLowest    Priority = 5
)

// Band is the priority queue's four-level collapse of the wire priority.
type Band uint8

const (
	BandLow       Band = 0
	BandNormal    Band = 1
	BandHigh      Band = 2
	BandEmergency Band = 3
)

// Band maps the six wire priorities onto the queue's four bands using the
// single explicit mapping spec §9 calls for: EMERGENCY->EMERGENCY,
// URGENT->HIGH, HIGH->HIGH, NORMAL->NORMAL, LOW/LOWEST->LOW.
func (p Priority) Band() Band {
	switch p {
	case PriorityEmergency:
		return BandEmergency
	case PriorityUrgent, PriorityHigh:
		return BandHigh
	case PriorityNormal:
		return BandNormal
	case PriorityLow, PriorityLowest:
		return BandLow
	default:
		return BandNormal
	}
}

func (b Band) String() string {
	switch b {
	case BandEmergency:
		return "EMERGENCY"
	case BandHigh:
		return "HIGH"
	case BandNormal:
		return "NORMAL"
	case BandLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}
