package wire

import (
	"bytes"
	"testing"

	"github.com/na4wx/nexdigi/internal/callsign"
)

// TestCodecRoundTrip is scenario S1 from spec §8: build a DATA packet,
// encode then decode, and require identical fields.
func TestCodecRoundTrip(t *testing.T) {
	src := callsign.MustParse("W1ABC-10")
	dst := callsign.MustParse("K2XYZ-5")

	p := Packet{
		Version:     CurrentVersion,
		Type:        TypeData,
		Source:      src,
		Destination: dst,
		MessageID:   MessageID{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F},
		TTL:         12,
		Priority:    PriorityNormal,
		Payload:     []byte("hello"),
	}

	buf, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !got.Source.Equal(p.Source) || !got.Destination.Equal(p.Destination) {
		t.Fatalf("callsigns mismatch: got %v/%v want %v/%v", got.Source, got.Destination, p.Source, p.Destination)
	}
	if got.MessageID != p.MessageID {
		t.Fatalf("messageId mismatch: got %x want %x", got.MessageID, p.MessageID)
	}
	if got.TTL != p.TTL || got.Priority != p.Priority || got.Type != p.Type {
		t.Fatalf("scalar field mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, p.Payload)
	}
}

// TestEncodeDecodeInverse is invariant 2 from spec §8: decode(encode(p))
// reproduces p's observable fields for any well-formed packet.
func TestEncodeDecodeInverse(t *testing.T) {
	p := New(TypeKeepalive, callsign.MustParse("N0CALL-1"), callsign.MustParse(callsign.CQ))
	p.RoutingInfo = RoutingInfo{
		ViaPath: []callsign.Callsign{callsign.MustParse("W1ABC-1"), callsign.MustParse("W1ABC-2")},
		Service: "bbs",
		HasCost: true,
		Cost:    42,
	}
	p.Payload = []byte{1, 2, 3, 4}

	buf, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(got.RoutingInfo.ViaPath) != 2 || !got.RoutingInfo.ViaPath[0].Equal(p.RoutingInfo.ViaPath[0]) {
		t.Fatalf("via path mismatch: %+v", got.RoutingInfo.ViaPath)
	}
	if got.RoutingInfo.Service != "bbs" || !got.RoutingInfo.HasCost || got.RoutingInfo.Cost != 42 {
		t.Fatalf("routing info mismatch: %+v", got.RoutingInfo)
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	p := New(TypeHello, callsign.MustParse("N0CALL"), callsign.MustParse(callsign.CQ))
	buf, _ := p.Encode()
	buf[0] = 9

	if _, err := Decode(buf); err != ErrUnsupportedVersion {
		t.Fatalf("Decode: got %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err != ErrTruncated {
		t.Fatalf("Decode: got %v, want ErrTruncated", err)
	}

	p := New(TypeData, callsign.MustParse("N0CALL"), callsign.MustParse("N0CALL-2"))
	p.Payload = []byte("12345")
	buf, _ := p.Encode()

	if _, err := Decode(buf[:len(buf)-1]); err != ErrTruncated {
		t.Fatalf("Decode: got %v, want ErrTruncated", err)
	}
}

func TestDecodeRejectsCRCMismatch(t *testing.T) {
	p := New(TypeData, callsign.MustParse("N0CALL"), callsign.MustParse("N0CALL-2"))
	p.Payload = []byte("hello")
	buf, _ := p.Encode()

	buf[40] ^= 0xFF // corrupt the TTL byte, which the crc covers

	if _, err := Decode(buf); err != ErrMalformedPacket {
		t.Fatalf("Decode: got %v, want ErrMalformedPacket", err)
	}
}

func TestDecodeRejectsMalformedTLV(t *testing.T) {
	p := New(TypeData, callsign.MustParse("N0CALL"), callsign.MustParse("N0CALL-2"))
	buf, _ := p.Encode()
	// Claim a payloadLen that leaves no room for even the TLV terminator,
	// then fix the CRC so the truncation is detected by the TLV parser,
	// not rejected earlier as a short buffer.
	header := buf[:HeaderSize]
	header[42], header[43], header[44], header[45] = 0, 0, 0, 1
	crc := CRC16(header[:crcCoverage])
	header[46] = byte(crc >> 8)
	header[47] = byte(crc)
	buf = append(buf[:HeaderSize], 0x01)

	if _, err := Decode(buf); err != ErrMalformedRoutingInfo {
		t.Fatalf("Decode: got %v, want ErrMalformedRoutingInfo", err)
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// "123456789" is the standard CRC check string; CRC-16/MODBUS
	// (poly 0xA001 reflected, init 0xFFFF) over it is 0x4B37.
	if got := CRC16([]byte("123456789")); got != 0x4B37 {
		t.Fatalf("CRC16 = 0x%04X, want 0x4B37", got)
	}
}
