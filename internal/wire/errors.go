package wire

import "errors"

// Decode error kinds (spec §7 taxonomy: MalformedInput).
var (
	ErrTruncated           = errors.New("wire: truncated packet")
	ErrUnsupportedVersion  = errors.New("wire: unsupported version")
	ErrMalformedPacket     = errors.New("wire: crc mismatch")
	ErrMalformedRoutingInfo = errors.New("wire: malformed routing-info TLV")
)

// CurrentVersion is the only version accepted by Decode.
const CurrentVersion = 1

// HeaderSize is the fixed wire header length in bytes (spec §4.1).
const HeaderSize = 64

// crcCoverage is the number of leading header bytes covered by the CRC16,
// i.e. every header field up to (but not including) the checksum field
// itself. Decided per DESIGN.md: spec §4.1 lays out the header field by
// field ending with payloadLen at offset 46, crc16 at 46-47, then a
// 16-byte reserved trailer to 64; that arithmetic fixes crcCoverage at 46,
// which is taken as authoritative over spec §6's "bytes 0..61" summary.
const crcCoverage = 46
