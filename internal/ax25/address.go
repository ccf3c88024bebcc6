// Package ax25 implements the AX.25 address field codec and digipeater
// path-servicing logic (spec §4.2): the subtlest algorithmic piece of any
// RF node, because a digipeater must mutate a frame in flight exactly
// once per hop and never re-service what it has already repeated.
package ax25

import (
	"errors"
	"strconv"
	"strings"

	"github.com/na4wx/nexdigi/internal/callsign"
)

// ErrMalformedAddress is returned when a 7-byte AX.25 address field fails
// to decode (spec §7 MalformedInput).
var ErrMalformedAddress = errors.New("ax25: malformed address field")

// AddressSize is the fixed length of one AX.25 address field on the wire.
const AddressSize = 7

// Address is one decoded AX.25 address-field slot: a base callsign plus
// SSID, the "has-been-repeated" bit, and the two reserved bits AX.25
// calls RR (carried through unchanged, never interpreted by this router).
type Address struct {
	Base     string // 1-6 alphanumerics, space-padded on the wire
	SSID     uint8  // 4 bits, 0-15
	Repeated bool   // H-bit: "has-been-repeated"
	RR       uint8  // 2 reserved bits, passed through as received
	LastAddr bool   // EA-bit: marks the final address field in the list
}

// Callsign renders the address as a callsign.Callsign, dropping AX.25's
// H/RR/EA bits that have no callsign equivalent.
func (a Address) Callsign() (callsign.Callsign, error) {
	suffix := a.Base
	if a.SSID != 0 {
		suffix += "-" + strconv.Itoa(int(a.SSID))
	}
	return callsign.Parse(suffix)
}

// Decode parses one 7-byte AX.25 address field: 6 bytes of ASCII shifted
// left by one bit, then an SSID byte laid out bit7=H, bits6-5=RR,
// bits4-1=SSID, bit0=EA (spec §6 "AX.25 address field").
func Decode(field []byte) (Address, error) {
	if len(field) != AddressSize {
		return Address{}, ErrMalformedAddress
	}

	var base [6]byte
	for i := 0; i < 6; i++ {
		base[i] = field[i] >> 1
	}

	ssidByte := field[6]

	return Address{
		Base:     strings.TrimRight(string(base[:]), " "),
		SSID:     (ssidByte >> 1) & 0x0F,
		Repeated: ssidByte&0x80 != 0,
		RR:       (ssidByte >> 5) & 0x03,
		LastAddr: ssidByte&0x01 != 0,
	}, nil
}

// Encode serializes a into its 7-byte wire form.
func (a Address) Encode() []byte {
	field := make([]byte, AddressSize)

	padded := a.Base
	for len(padded) < 6 {
		padded += " "
	}
	for i := 0; i < 6; i++ {
		field[i] = padded[i] << 1
	}

	var ssidByte byte
	if a.Repeated {
		ssidByte |= 0x80
	}
	ssidByte |= (a.RR & 0x03) << 5
	ssidByte |= (a.SSID & 0x0F) << 1
	if a.LastAddr {
		ssidByte |= 0x01
	}
	field[6] = ssidByte

	return field
}

// DecodePath decodes a sequence of consecutive AX.25 address fields
// (typically the repeater path following source/destination) until a
// LastAddr-marked field is consumed. A buffer that runs out before such a
// field yields ErrMalformedAddress.
func DecodePath(buf []byte) ([]Address, error) {
	var path []Address
	for off := 0; off+AddressSize <= len(buf); off += AddressSize {
		addr, err := Decode(buf[off : off+AddressSize])
		if err != nil {
			return nil, err
		}
		path = append(path, addr)
		if addr.LastAddr {
			return path, nil
		}
	}
	return nil, ErrMalformedAddress
}

// EncodePath serializes path, setting LastAddr on the final entry and
// clearing it on every other one regardless of what the caller had set.
func EncodePath(path []Address) []byte {
	var buf []byte
	for i, a := range path {
		a.LastAddr = i == len(path)-1
		buf = append(buf, a.Encode()...)
	}
	return buf
}
