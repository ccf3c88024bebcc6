package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/na4wx/nexdigi/internal/ax25"
	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/dedup"
	"github.com/na4wx/nexdigi/internal/kiss"
	"github.com/na4wx/nexdigi/internal/wire"
)

// RF's connected-mode control field kinds (spec §4.5: "SABM→UA,
// DISC→DM, I→ACK-with-RR"). These occupy the first byte after the
// address path of every connected-mode frame. They start at 0x80 so they
// never equal the wire version byte that begins a UI frame's backbone
// packet.
type controlKind uint8

const (
	ctlSABM controlKind = iota + 0x80
	ctlUA
	ctlDISC
	ctlDM
	ctlI
	ctlRR
)

// ConnectTimeout is how long an on-demand SABM/UA handshake may take
// before failing (spec §4.5 default 10 s).
const ConnectTimeout = 10 * time.Second

// session tracks one connected-mode peer (spec §4.5): its nr and ns
// sequence numbers (modulo 8). No window of unacknowledged I-frames is
// kept, and received RR frames are not matched against sent I-frames.
// rxBuf accumulates I-frame payload bytes in
// delivery order; a connected-mode session is a reliable in-order byte
// stream, so a wire packet that does not fit in one I-frame's MTU-sized
// chunk is reassembled here exactly as the Internet transport's
// frameReader reassembles a length-delimited TCP stream.
type session struct {
	peer callsign.Callsign
	ns   uint8 // next send sequence
	nr   uint8 // next expected receive sequence
	up   bool
	rxBuf []byte
}

// extractPacket pulls one complete wire packet off the front of buf, if
// enough bytes have arrived, returning the packet and the number of bytes
// it consumed.
func extractPacket(buf []byte) (p wire.Packet, consumed int, ok bool) {
	if len(buf) < wire.HeaderSize {
		return wire.Packet{}, 0, false
	}
	payloadLen, err := wire.PeekPayloadLen(buf)
	if err != nil {
		return wire.Packet{}, 0, false
	}
	total := wire.HeaderSize + int(payloadLen)
	if len(buf) < total {
		return wire.Packet{}, 0, false
	}
	decoded, err := wire.Decode(buf[:total])
	if err != nil {
		return wire.Packet{}, 0, false
	}
	return decoded, total, true
}

// RFConfig configures one RF transport instance.
type RFConfig struct {
	TransportID string
	Self        callsign.Callsign
	Role        ax25.Role
	MaxWideN    int
	Link        io.ReadWriter // serial/TNC link carrying KISS frames
}

// RF implements Transport over an AX.25 link layer (spec §4.5).
type RF struct {
	cfg RFConfig

	Events

	mu       sync.Mutex
	sessions map[string]*session
	deframer *kiss.Deframer
	digests  *dedup.FrameDigestCache

	maxWideBlocked atomic.Int64
	packetsRelayed atomic.Int64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	connMu  sync.Mutex // serializes writes to cfg.Link, per spec §5
}

// NewRF constructs an RF transport from cfg.
func NewRF(cfg RFConfig) *RF {
	return &RF{
		cfg:      cfg,
		sessions: make(map[string]*session),
		deframer: kiss.NewDeframer(true),
		digests:  dedup.NewFrameDigestCache(),
	}
}

// MaxWideBlocked reports how many times this node declined to service a
// WIDEn-N hop because n exceeded cfg.MaxWideN (spec §4.2 "maxWideBlocked"
// counter).
func (t *RF) MaxWideBlocked() int64 { return t.maxWideBlocked.Load() }

// PacketsRelayed reports how many frames this node has digipeated.
func (t *RF) PacketsRelayed() int64 { return t.packetsRelayed.Load() }

func (t *RF) ID() string         { return t.cfg.TransportID }
func (t *RF) Cost() int          { return DefaultRFCost }
func (t *RF) MTU() int           { return DefaultRFMTU }
func (t *RF) IsAvailable() bool  { return t.cfg.Link != nil }

// Connect broadcasts a HELLO UI frame to CQ and starts the read loop
// (spec §4.5: "On connect it broadcasts a HELLO as a UI frame to CQ").
func (t *RF) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.readLoop(ctx)

	return t.broadcastHello()
}

func (t *RF) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}

func (t *RF) broadcastHello() error {
	cq, _ := callsign.Parse(callsign.CQ)
	p := wire.New(wire.TypeHello, t.cfg.Self, cq)
	encoded, err := p.Encode()
	if err != nil {
		return err
	}
	return t.writeUI(cq, encoded)
}

// addressPath builds the destination+source address pair spec §4.2
// expects at the front of every AX.25 frame this transport emits (no
// digipeat path: this node originates the frame directly).
func (t *RF) addressPath(dest callsign.Callsign) []ax25.Address {
	return []ax25.Address{
		{Base: dest.Base(), SSID: dest.SSID()},
		{Base: t.cfg.Self.Base(), SSID: t.cfg.Self.SSID(), LastAddr: true},
	}
}

// writeUI sends payload as a single unconnected (UI) frame addressed to
// dest, with no digipeat path.
func (t *RF) writeUI(dest callsign.Callsign, payload []byte) error {
	frame := append(ax25.EncodePath(t.addressPath(dest)), payload...)
	return t.writeKISS(frame)
}

func (t *RF) writeKISS(frame []byte) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	_, err := t.cfg.Link.Write(kiss.Escape(frame))
	return err
}

// Broadcast sends payload as a UI frame to CQ.
func (t *RF) Broadcast(payload []byte) error {
	cq, _ := callsign.Parse(callsign.CQ)
	return t.writeUI(cq, payload)
}

// Send transmits payload to destination, fragmenting at MTU into I-frames
// over an on-demand connected-mode session (spec §4.5).
func (t *RF) Send(destination callsign.Callsign, payload []byte, _ SendOptions) error {
	s, err := t.ensureSession(destination)
	if err != nil {
		return err
	}

	mtu := t.MTU()
	for offset := 0; offset < len(payload); offset += mtu {
		end := offset + mtu
		if end > len(payload) {
			end = len(payload)
		}
		if err := t.sendIFrame(s, destination, payload[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

func (t *RF) ensureSession(destination callsign.Callsign) (*session, error) {
	key := destination.String()

	t.mu.Lock()
	s, ok := t.sessions[key]
	t.mu.Unlock()
	if ok && s.up {
		return s, nil
	}

	if err := t.sendControl(destination, ctlSABM, 0); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(ConnectTimeout)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		s, ok = t.sessions[key]
		t.mu.Unlock()
		if ok && s.up {
			return s, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, ErrConnectTimeout
}

func (t *RF) sendControl(destination callsign.Callsign, kind controlKind, seq uint8) error {
	frame := ax25.EncodePath(t.addressPath(destination))
	frame = append(frame, byte(kind), seq)
	return t.writeKISS(frame)
}

func (t *RF) sendIFrame(s *session, destination callsign.Callsign, chunk []byte) error {
	header := make([]byte, 4)
	header[0] = byte(ctlI)
	header[1] = s.ns
	binary.BigEndian.PutUint16(header[2:4], uint16(len(chunk)))

	frame := append(ax25.EncodePath(t.addressPath(destination)), header...)
	frame = append(frame, chunk...)

	if err := t.writeKISS(frame); err != nil {
		return err
	}
	s.ns = (s.ns + 1) % 8
	return nil
}

// readLoop feeds bytes from the link into the KISS deframer, parses each
// resulting frame's AX.25 address path, and dispatches by destination and
// control kind (spec §4.5).
func (t *RF) readLoop(ctx context.Context) {
	defer t.wg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.cfg.Link.Read(buf)
		if err != nil {
			if err != io.EOF {
				t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: err})
			}
			return
		}
		for _, frame := range t.deframer.Feed(buf[:n]) {
			t.handleFrame(frame)
		}
	}
}

func (t *RF) handleFrame(frame []byte) {
	path, err := ax25.DecodePath(frame)
	if err != nil {
		t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: fmt.Errorf("rf: malformed address path: %w", err)})
		return
	}
	if len(path) == 0 {
		return
	}

	rest := frame[ax25.AddressSize*len(path):]
	if len(rest) == 0 {
		return
	}

	if t.digipeat(path, rest) {
		return
	}

	dest, err := path[0].Callsign()
	if err != nil {
		return
	}

	// Only frames destined to us, CQ, or NODES are processed further
	// (spec §4.5).
	if dest.Base() != t.cfg.Self.Base() && !dest.IsReserved() {
		return
	}

	src, err := path[len(path)-1].Callsign()
	if err != nil {
		return
	}

	switch controlKind(rest[0]) {
	case ctlSABM:
		t.handleSABM(src)
	case ctlUA:
		t.handleUA(src)
	case ctlDISC:
		t.handleDISC(src)
	case ctlI:
		t.handleI(src, rest[1:])
	default:
		// A UI frame carrying a backbone packet directly (HELLO/KEEPALIVE
		// broadcasts, and any destination not using connected mode).
		p, err := wire.Decode(rest)
		if err != nil {
			t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: err})
			return
		}
		t.OnPacket.Publish(PacketEvent{TransportID: t.ID(), Packet: p})
	}
}

// digipeat services an eligible WIDEn-N repeater entry in path per
// cfg.Role/cfg.MaxWideN (spec §4.2) and retransmits the frame with that
// entry's hop count decremented and its H-bit set. The frame-digest cache
// (spec §4.7) suppresses both re-servicing and re-transmission of a frame
// already handled within its TTL window, so hearing the same over-the-air
// frame more than once never produces more than one relay. It reports
// true when path held a WIDE entry this node serviced (whether the frame
// was retransmitted now or suppressed by the digest cache), in which case
// the frame must not also be dispatched through the destination-based
// switch in handleFrame. A path with no serviceable entry (no WIDE entry,
// one already repeated, or one blocked by MaxWideN) reports false.
func (t *RF) digipeat(path []ax25.Address, rest []byte) bool {
	serviced, ok, blocked := ax25.Service(path, t.cfg.Role, t.cfg.MaxWideN)
	if blocked {
		t.maxWideBlocked.Add(1)
	}
	if !ok {
		return false
	}

	key := dedup.DigestKey(path, rest)
	if t.digests.MarkServicedWide(key) {
		return true
	}
	if t.digests.MarkTransmitted(key, t.ID()) {
		return true
	}

	frame := append(ax25.EncodePath(serviced), rest...)
	if err := t.writeKISS(frame); err != nil {
		t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: fmt.Errorf("rf: digipeat retransmit: %w", err)})
		return true
	}
	t.packetsRelayed.Add(1)
	return true
}

func (t *RF) handleSABM(src callsign.Callsign) {
	t.mu.Lock()
	t.sessions[src.String()] = &session{peer: src, up: true}
	t.mu.Unlock()

	t.sendControl(src, ctlUA, 0)
	t.OnConnection.Publish(ConnectionEvent{TransportID: t.ID(), Peer: src})
}

func (t *RF) handleUA(src callsign.Callsign) {
	t.mu.Lock()
	s, ok := t.sessions[src.String()]
	if !ok {
		s = &session{peer: src}
		t.sessions[src.String()] = s
	}
	s.up = true
	t.mu.Unlock()
}

func (t *RF) handleDISC(src callsign.Callsign) {
	t.mu.Lock()
	delete(t.sessions, src.String())
	t.mu.Unlock()

	t.sendControl(src, ctlDM, 0)
	t.OnDisconnect.Publish(ConnectionEvent{TransportID: t.ID(), Peer: src})
}

func (t *RF) handleI(src callsign.Callsign, body []byte) {
	if len(body) < 3 {
		return
	}
	seq := body[0]
	length := binary.BigEndian.Uint16(body[1:3])
	if int(length) > len(body)-3 {
		t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: errors.New("rf: truncated I-frame")})
		return
	}
	chunk := body[3 : 3+length]

	t.mu.Lock()
	s, ok := t.sessions[src.String()]
	if !ok {
		s = &session{peer: src, up: true}
		t.sessions[src.String()] = s
	}
	s.nr = (seq + 1) % 8
	s.rxBuf = append(s.rxBuf, chunk...)

	var ready []wire.Packet
	for {
		p, consumed, ok := extractPacket(s.rxBuf)
		if !ok {
			break
		}
		s.rxBuf = s.rxBuf[consumed:]
		ready = append(ready, p)
	}
	t.mu.Unlock()

	t.sendControl(src, ctlRR, seq+1)

	for _, p := range ready {
		t.OnPacket.Publish(PacketEvent{TransportID: t.ID(), Packet: p})
	}
}
