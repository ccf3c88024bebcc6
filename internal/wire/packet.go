package wire

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/na4wx/nexdigi/internal/callsign"
)

// MessageID is the 16-byte random identifier spec §3 assigns every packet;
// it is unique with overwhelming probability and is what the dedup cache
// (C7) keys on.
type MessageID [16]byte

// NewMessageID generates a fresh identifier. UUID v4 is defined as exactly
// 16 cryptographically-random bytes, which is a precise fit for the wire
// format's messageId field, so github.com/google/uuid generates it rather
// than a bespoke crypto/rand call.
func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

// String renders the hex encoding spec §3 specifies for logging.
func (m MessageID) String() string { return hex.EncodeToString(m[:]) }

// IsZero reports whether m is the unset zero value.
func (m MessageID) IsZero() bool { return m == MessageID{} }

// Packet is the decoded form of one backbone wire packet (spec §4.1 data
// model: attributes version, type, flags, source, destination, messageId,
// ttl, priority, routingInfo, payload).
type Packet struct {
	Version     uint8
	Type        PacketType
	Flags       Flags
	Source      callsign.Callsign
	Destination callsign.Callsign
	MessageID   MessageID
	TTL         uint8
	Priority    Priority
	RoutingInfo RoutingInfo
	Payload     []byte
}

// DefaultTTL is the hop budget a freshly originated packet is given.
const DefaultTTL = 16

// New builds a Packet with version and TTL defaults filled in and a fresh
// messageId, ready for the caller to set type/source/destination/payload.
func New(typ PacketType, source, destination callsign.Callsign) Packet {
	return Packet{
		Version:     CurrentVersion,
		Type:        typ,
		Source:      source,
		Destination: destination,
		MessageID:   NewMessageID(),
		TTL:         DefaultTTL,
		Priority:    PriorityNormal,
	}
}

func putCallsign(dst []byte, c callsign.Callsign) {
	s := c.String()
	n := copy(dst, s)
	for ; n < len(dst); n++ {
		dst[n] = 0
	}
}

func getCallsign(src []byte) (callsign.Callsign, error) {
	end := 0
	for end < len(src) && src[end] != 0 {
		end++
	}
	return callsign.Parse(string(src[:end]))
}

// Encode serializes p to its wire form: 64-byte header, TLV routing info,
// then the raw payload, with payloadLen and crc16 filled in (spec §4.1).
func (p Packet) Encode() ([]byte, error) {
	body := p.RoutingInfo.encode(nil)
	body = append(body, p.Payload...)

	header := make([]byte, HeaderSize)
	header[0] = CurrentVersion
	header[1] = byte(p.Type)
	header[2] = byte(p.Flags)
	header[3] = 0 // reserved

	putCallsign(header[4:14], p.Source)
	putCallsign(header[14:24], p.Destination)
	copy(header[24:40], p.MessageID[:])

	header[40] = p.TTL
	header[41] = byte(p.Priority)
	binary.BigEndian.PutUint32(header[42:46], uint32(len(body)))

	crc := CRC16(header[:crcCoverage])
	binary.BigEndian.PutUint16(header[46:48], crc)
	// header[48:64] reserved, left zero.

	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out, nil
}

// PeekPayloadLen reads the payloadLen field out of a buffer holding at
// least a full header, without validating or decoding the rest of the
// packet. Length-delimited framers (the Internet transport, spec §4.6)
// use this to learn how many more bytes a frame needs before Decode can
// succeed.
func PeekPayloadLen(header []byte) (uint32, error) {
	if len(header) < HeaderSize {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint32(header[42:46]), nil
}

// Decode parses buf into a Packet, validating version, length and CRC16
// per spec §4.1's failure semantics.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, ErrTruncated
	}

	header := buf[:HeaderSize]
	if header[0] != CurrentVersion {
		return Packet{}, ErrUnsupportedVersion
	}

	payloadLen := binary.BigEndian.Uint32(header[42:46])
	if uint64(HeaderSize)+uint64(payloadLen) > uint64(len(buf)) {
		return Packet{}, ErrTruncated
	}

	wantCRC := binary.BigEndian.Uint16(header[46:48])
	gotCRC := CRC16(header[:crcCoverage])
	if wantCRC != gotCRC {
		return Packet{}, ErrMalformedPacket
	}

	source, err := getCallsign(header[4:14])
	if err != nil {
		return Packet{}, ErrMalformedPacket
	}
	destination, err := getCallsign(header[14:24])
	if err != nil {
		return Packet{}, ErrMalformedPacket
	}

	var msgID MessageID
	copy(msgID[:], header[24:40])

	body := buf[HeaderSize : HeaderSize+int(payloadLen)]

	routingInfo, consumed, err := decodeRoutingInfo(body)
	if err != nil {
		return Packet{}, err
	}

	p := Packet{
		Version:     header[0],
		Type:        PacketType(header[1]),
		Flags:       Flags(header[2]),
		Source:      source,
		Destination: destination,
		MessageID:   msgID,
		TTL:         header[40],
		Priority:    Priority(header[41]),
		RoutingInfo: routingInfo,
		Payload:     append([]byte(nil), body[consumed:]...),
	}

	return p, nil
}
