package wire

import (
	"github.com/na4wx/nexdigi/internal/callsign"
)

// Routing-info TLV tags (spec §4.1: "ordered list of annotations (TLV):
// viaPath ..., service ..., cost ...". A terminating tag 0x00 length 0
// ends the list").
const (
	tagEnd      byte = 0x00
	tagViaPath  byte = 0x01
	tagService  byte = 0x02
	tagCost     byte = 0x03
)

// RoutingInfo is the decoded form of the packet's TLV routing annotations.
// Any subset of the three annotations may be present; ViaPath nil, Service
// "" and HasCost false each mean "annotation absent", matching how an
// encoder that never set them behaves.
type RoutingInfo struct {
	ViaPath []callsign.Callsign
	Service string
	HasCost bool
	Cost    uint16
}

// encode appends the TLV-encoded routing info (including its terminator)
// to dst and returns the result.
func (r RoutingInfo) encode(dst []byte) []byte {
	if len(r.ViaPath) > 0 {
		var value []byte
		value = append(value, byte(len(r.ViaPath)))
		for _, c := range r.ViaPath {
			s := c.String()
			value = append(value, byte(len(s)))
			value = append(value, s...)
		}
		dst = append(dst, tagViaPath, byte(len(value)))
		dst = append(dst, value...)
	}

	if r.Service != "" {
		dst = append(dst, tagService, byte(len(r.Service)))
		dst = append(dst, r.Service...)
	}

	if r.HasCost {
		dst = append(dst, tagCost, 2, byte(r.Cost>>8), byte(r.Cost))
	}

	return append(dst, tagEnd, 0)
}

// decodeRoutingInfo parses the TLV list starting at buf[0], returning the
// decoded RoutingInfo and the number of bytes consumed including the
// terminator.
func decodeRoutingInfo(buf []byte) (RoutingInfo, int, error) {
	var r RoutingInfo
	off := 0

	for {
		if off+2 > len(buf) {
			return RoutingInfo{}, 0, ErrMalformedRoutingInfo
		}
		tag := buf[off]
		length := int(buf[off+1])
		off += 2

		if tag == tagEnd && length == 0 {
			return r, off, nil
		}

		if off+length > len(buf) {
			return RoutingInfo{}, 0, ErrMalformedRoutingInfo
		}
		value := buf[off : off+length]
		off += length

		switch tag {
		case tagViaPath:
			path, err := decodeViaPath(value)
			if err != nil {
				return RoutingInfo{}, 0, err
			}
			r.ViaPath = path
		case tagService:
			r.Service = string(value)
		case tagCost:
			if length != 2 {
				return RoutingInfo{}, 0, ErrMalformedRoutingInfo
			}
			r.HasCost = true
			r.Cost = uint16(value[0])<<8 | uint16(value[1])
		default:
			// Unknown annotation: skip it (future-compatible decode path,
			// spec §9's reserved-for-future packet types note applies the
			// same forward-compatibility to unknown annotations).
		}
	}
}

func decodeViaPath(value []byte) ([]callsign.Callsign, error) {
	if len(value) < 1 {
		return nil, ErrMalformedRoutingInfo
	}
	count := int(value[0])
	off := 1
	path := make([]callsign.Callsign, 0, count)

	for i := 0; i < count; i++ {
		if off >= len(value) {
			return nil, ErrMalformedRoutingInfo
		}
		n := int(value[off])
		off++
		if off+n > len(value) {
			return nil, ErrMalformedRoutingInfo
		}
		c, err := callsign.Parse(string(value[off : off+n]))
		if err != nil {
			return nil, ErrMalformedRoutingInfo
		}
		path = append(path, c)
		off += n
	}

	return path, nil
}
