package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/na4wx/nexdigi/internal/ax25"
	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/kiss"
	"github.com/na4wx/nexdigi/internal/wire"
)

func TestRFHelloBroadcastOnConnect(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	csA := callsign.MustParse("NA4WX")
	csB := callsign.MustParse("KB1ABC")

	rfA := NewRF(RFConfig{TransportID: "rfA", Self: csA, Link: connA})
	rfB := NewRF(RFConfig{TransportID: "rfB", Self: csB, Link: connB})

	received := make(chan wire.Packet, 1)
	rfB.OnPacket.Subscribe(func(e PacketEvent) { received <- e.Packet })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// net.Pipe is unbuffered: rfB's own HELLO write inside Connect only
	// completes once rfA's read loop is running, so rfB connects
	// concurrently with rfA.
	errB := make(chan error, 1)
	go func() { errB <- rfB.Connect(ctx) }()
	if err := rfA.Connect(ctx); err != nil {
		t.Fatalf("rfA Connect: %v", err)
	}
	if err := <-errB; err != nil {
		t.Fatalf("rfB Connect: %v", err)
	}

	select {
	case p := <-received:
		if p.Type != wire.TypeHello {
			t.Fatalf("expected HELLO, got %v", p.Type)
		}
		if p.Source.Base() != csA.Base() {
			t.Fatalf("HELLO source = %v, want %v", p.Source, csA)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HELLO broadcast")
	}
}

func TestRFConnectedModeSendReceivesSABMHandshake(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	csA := callsign.MustParse("NA4WX")
	csB := callsign.MustParse("KB1ABC")

	rfA := NewRF(RFConfig{TransportID: "rfA", Self: csA, Link: connA})
	rfB := NewRF(RFConfig{TransportID: "rfB", Self: csB, Link: connB})

	received := make(chan wire.Packet, 1)
	rfB.OnPacket.Subscribe(func(e PacketEvent) { received <- e.Packet })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rfB.Connect(ctx) // unbuffered pipe: completes once rfA is reading
	rfA.Connect(ctx)
	time.Sleep(20 * time.Millisecond) // let the two HELLO broadcasts settle

	p := wire.New(wire.TypeData, csA, csB)
	p.Payload = []byte("hi over RF")
	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- rfA.Send(csB, encoded, SendOptions{}) }()

	select {
	case got := <-received:
		if got.Type != wire.TypeData || string(got.Payload) != "hi over RF" {
			t.Fatalf("unexpected packet: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connected-mode DATA delivery")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
}

func TestRFDigipeatsEligibleWideEntryOnce(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	self := callsign.MustParse("NA4WX")
	rf := NewRF(RFConfig{TransportID: "rf0", Self: self, Role: ax25.RoleWide, MaxWideN: 7, Link: connA})

	path := []ax25.Address{
		{Base: "W1ABC", SSID: 0},
		{Base: "K2XYZ", SSID: 0},
		{Base: "WIDE2", SSID: 2, LastAddr: true},
	}
	rest := []byte{byte(ctlI), 0}
	frame := append(ax25.EncodePath(path), rest...)

	deframer := kiss.NewDeframer(true)
	relayed := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := connB.Read(buf)
		if err != nil {
			return
		}
		for _, f := range deframer.Feed(buf[:n]) {
			relayed <- f
		}
	}()

	rf.handleFrame(frame)

	select {
	case got := <-relayed:
		outPath, err := ax25.DecodePath(got)
		if err != nil {
			t.Fatalf("decode relayed path: %v", err)
		}
		if len(outPath) != 3 {
			t.Fatalf("relayed path length = %d, want 3", len(outPath))
		}
		if outPath[2].Base != "WIDE2" || outPath[2].SSID != 1 {
			t.Fatalf("relayed repeater entry = %+v, want WIDE2-1", outPath[2])
		}
		if !outPath[2].Repeated {
			t.Fatal("expected the serviced WIDE entry's H-bit to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for digipeat retransmit")
	}

	if got := rf.PacketsRelayed(); got != 1 {
		t.Fatalf("PacketsRelayed() = %d, want 1", got)
	}

	// Hearing the identical frame again must be suppressed by the
	// frame-digest cache (spec §4.7), not relayed a second time.
	rf.handleFrame(frame)
	time.Sleep(20 * time.Millisecond)
	if got := rf.PacketsRelayed(); got != 1 {
		t.Fatalf("PacketsRelayed() after duplicate hear = %d, want still 1", got)
	}
}

func TestRFDigipeatBlocksWideBeyondMaxN(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := connB.Read(buf); err != nil {
				return
			}
		}
	}()

	self := callsign.MustParse("NA4WX")
	rf := NewRF(RFConfig{TransportID: "rf0", Self: self, Role: ax25.RoleWide, MaxWideN: 2, Link: connA})

	path := []ax25.Address{
		{Base: "W1ABC", SSID: 0},
		{Base: "K2XYZ", SSID: 0},
		{Base: "WIDE7", SSID: 7, LastAddr: true},
	}
	rest := []byte{byte(ctlI), 0}
	frame := append(ax25.EncodePath(path), rest...)

	rf.handleFrame(frame)

	if got := rf.MaxWideBlocked(); got != 1 {
		t.Fatalf("MaxWideBlocked() = %d, want 1", got)
	}
	if got := rf.PacketsRelayed(); got != 0 {
		t.Fatalf("PacketsRelayed() = %d, want 0 for a blocked entry", got)
	}
}
