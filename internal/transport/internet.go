package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/wire"
)

// InternetMode selects the Internet transport's topology role (spec §4.6).
type InternetMode string

const (
	ModeMesh   InternetMode = "mesh"
	ModeServer InternetMode = "server"
	ModeClient InternetMode = "client"
)

// DefaultPort is the backbone's listen/hub port (spec §6).
const DefaultPort = 14240

// MaxReconnectBackoff caps the client-mode exponential reconnect delay
// (spec §4.6: "capped at 5 min with jitter").
const MaxReconnectBackoff = 5 * time.Minute

// NeighborListInterval is how often a server-mode hub broadcasts its
// connected-client roster (spec §4.6 default 30 s).
const NeighborListInterval = 30 * time.Second

// helloPayload is the JSON body of the HELLO packet exchanged during
// authentication (spec §4.6: "HELLO payload (JSON with services)").
type helloPayload struct {
	Services []string `json:"services"`
}

// InternetConfig configures one Internet transport instance.
type InternetConfig struct {
	TransportID  string
	Self         callsign.Callsign
	Mode         InternetMode
	BindAddress  string
	Port         int
	TLSConfig    *tls.Config // nil disables TLS
	Peers        []string    // mesh: outbound peer addresses
	HubServers   []string    // client: ordered fallback hub addresses
	Services     []string
	Logger       zerolog.Logger
}

// client is one authenticated peer connection.
type client struct {
	conn     net.Conn
	callsign callsign.Callsign
	services []string
	mu       sync.Mutex // serializes writes, per spec §5
}

func (c *client) write(buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

// Internet implements Transport over TCP/TLS (spec §4.6).
type Internet struct {
	cfg InternetConfig

	Events

	mu        sync.Mutex
	listener  net.Listener
	clients   map[string]*client // keyed by callsign string
	connected bool

	packetsRelayed atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInternet constructs an Internet transport from cfg.
func NewInternet(cfg InternetConfig) *Internet {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return &Internet{cfg: cfg, clients: make(map[string]*client)}
}

// PacketsRelayed reports how many DATA packets this hub has forwarded
// directly between two authenticated clients (spec §4.6, status surface).
func (t *Internet) PacketsRelayed() int64 { return t.packetsRelayed.Load() }

func (t *Internet) ID() string   { return t.cfg.TransportID }
func (t *Internet) Cost() int    { return DefaultInternetCost }
func (t *Internet) MTU() int     { return DefaultInternetMTU }
func (t *Internet) IsAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect starts listening (mesh/server) and/or dialing (mesh/client) per
// the configured mode.
func (t *Internet) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	if t.cfg.Mode == ModeMesh || t.cfg.Mode == ModeServer {
		if err := t.listen(ctx); err != nil {
			cancel()
			return err
		}
	}

	if t.cfg.Mode == ModeServer {
		t.wg.Add(1)
		go t.broadcastNeighborListLoop(ctx)
	}

	if t.cfg.Mode == ModeMesh {
		for _, addr := range t.cfg.Peers {
			addr := addr
			t.wg.Add(1)
			go t.dialPersistently(ctx, []string{addr})
		}
	}

	if t.cfg.Mode == ModeClient {
		t.wg.Add(1)
		go t.dialPersistently(ctx, t.cfg.HubServers)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Internet) listen(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.BindAddress, t.cfg.Port)

	var ln net.Listener
	var err error
	if t.cfg.TLSConfig != nil {
		ln, err = tls.Listen("tcp", addr, t.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}
	t.listener = ln

	t.wg.Add(1)
	go t.acceptLoop(ctx, ln)
	return nil
}

func (t *Internet) acceptLoop(ctx context.Context, ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: err})
				return
			}
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConn(ctx, conn, false)
		}()
	}
}

// dialPersistently connects to the first reachable address in candidates,
// reconnecting with exponential backoff and jitter on disconnect (spec
// §4.6 client-mode fallback list).
func (t *Internet) dialPersistently(ctx context.Context, candidates []string) {
	defer t.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := t.dialFirstReachable(ctx, candidates)
		if err != nil {
			t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: err})
			sleepWithJitter(ctx, backoff)
			backoff *= 2
			if backoff > MaxReconnectBackoff {
				backoff = MaxReconnectBackoff
			}
			continue
		}

		backoff = time.Second
		t.handleConn(ctx, conn, true) // blocks until the peer disconnects; we sent HELLO first
	}
}

func (t *Internet) dialFirstReachable(ctx context.Context, candidates []string) (net.Conn, error) {
	var lastErr error
	for _, addr := range candidates {
		dialer := net.Dialer{Timeout: 10 * time.Second}
		var conn net.Conn
		var err error
		if t.cfg.TLSConfig != nil {
			conn, err = tls.DialWithDialer(&dialer, "tcp", addr, t.cfg.TLSConfig)
		} else {
			conn, err = dialer.DialContext(ctx, "tcp", addr)
		}
		if err == nil {
			return conn, t.authenticateOutbound(conn)
		}
		lastErr = err
	}
	return nil, lastErr
}

func sleepWithJitter(ctx context.Context, base time.Duration) {
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	select {
	case <-ctx.Done():
	case <-time.After(base + jitter):
	}
}

// authenticateOutbound sends our HELLO first, per spec §4.6: "every new
// TCP connection must send a HELLO backbone packet as its first bytes".
func (t *Internet) authenticateOutbound(conn net.Conn) error {
	hello, err := t.buildHello()
	if err != nil {
		return err
	}
	_, err = conn.Write(hello)
	return err
}

func (t *Internet) buildHello() ([]byte, error) {
	body, err := json.Marshal(helloPayload{Services: t.cfg.Services})
	if err != nil {
		return nil, err
	}
	cq, _ := callsign.Parse(callsign.CQ)
	p := wire.New(wire.TypeHello, t.cfg.Self, cq)
	p.Payload = body
	return p.Encode()
}

// handleConn authenticates the inbound half of the handshake (if we are
// the accepting side this is the peer's HELLO; if we dialed, we already
// sent ours and now await theirs), then reads length-delimited packets
// until the connection closes. The caller owns wg bookkeeping.
func (t *Internet) handleConn(ctx context.Context, conn net.Conn, weDialedFirst bool) {
	defer conn.Close()

	reader := newFrameReader(conn)
	peer, ok := t.authenticateInbound(conn, reader, weDialedFirst)
	if !ok {
		return
	}

	c := &client{conn: conn, callsign: peer.Source}
	t.registerClient(c, peer)
	defer t.deregisterClient(c)

	t.readLoop(ctx, reader, c)
}

// authenticateInbound reads the peer's first packet, requiring it be a
// HELLO (spec §4.6: "Any non-HELLO packet before authentication causes
// immediate connection close"), then replies with our own HELLO unless
// weDialedFirst (we already sent ours before dialing out).
func (t *Internet) authenticateInbound(conn net.Conn, reader *frameReader, weDialedFirst bool) (wire.Packet, bool) {
	_, p, err := reader.nextRaw()
	if err != nil || p.Type != wire.TypeHello {
		t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: fmt.Errorf("internet: expected HELLO first, got err=%v", err)})
		return wire.Packet{}, false
	}

	if !weDialedFirst {
		hello, err := t.buildHello()
		if err == nil {
			conn.Write(hello)
		}
	}

	return p, true
}

func (t *Internet) registerClient(c *client, hello wire.Packet) {
	var body helloPayload
	json.Unmarshal(hello.Payload, &body)
	c.services = body.Services

	t.mu.Lock()
	t.clients[c.callsign.String()] = c
	t.mu.Unlock()

	t.OnConnection.Publish(ConnectionEvent{TransportID: t.ID(), Peer: c.callsign})
}

func (t *Internet) deregisterClient(c *client) {
	t.mu.Lock()
	delete(t.clients, c.callsign.String())
	t.mu.Unlock()

	t.OnDisconnect.Publish(ConnectionEvent{TransportID: t.ID(), Peer: c.callsign})
}

// readLoop consumes length-delimited backbone packets from reader (spec
// §4.6 framing), relaying server-mode DATA destined for another
// authenticated client and otherwise publishing a PacketEvent.
func (t *Internet) readLoop(ctx context.Context, reader *frameReader, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, p, err := reader.nextRaw()
		if err != nil {
			if err != io.EOF {
				t.OnError.Publish(ErrorEvent{TransportID: t.ID(), Err: err})
			}
			return
		}

		if t.cfg.Mode == ModeServer && p.Type == wire.TypeData {
			if dst, ok := t.lookupClient(p.Destination); ok && dst != c {
				if err := dst.write(raw); err == nil {
					t.packetsRelayed.Add(1)
					continue
				}
			}
		}

		t.OnPacket.Publish(PacketEvent{TransportID: t.ID(), Packet: p})
	}
}

func (t *Internet) lookupClient(cs callsign.Callsign) (*client, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[cs.String()]
	return c, ok
}

// Send transmits payload to a single authenticated peer by callsign.
func (t *Internet) Send(destination callsign.Callsign, payload []byte, _ SendOptions) error {
	c, ok := t.lookupClient(destination)
	if !ok {
		return ErrUnavailable
	}
	return c.write(payload)
}

// Broadcast writes payload to every currently authenticated peer (spec
// §9's resolved "broadcast sends one copy on each available transport to
// the wildcard destination" — here, each connected peer on this one
// transport).
func (t *Internet) Broadcast(payload []byte) error {
	t.mu.Lock()
	targets := make([]*client, 0, len(t.clients))
	for _, c := range t.clients {
		targets = append(targets, c)
	}
	t.mu.Unlock()

	var firstErr error
	for _, c := range targets {
		if err := c.write(payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Disconnect tears down the listener and every outstanding connection.
func (t *Internet) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.listener != nil {
		t.listener.Close()
	}

	t.mu.Lock()
	for _, c := range t.clients {
		c.conn.Close()
	}
	t.connected = false
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *Internet) broadcastNeighborListLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(NeighborListInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.broadcastNeighborList()
		}
	}
}

func (t *Internet) broadcastNeighborList() {
	t.mu.Lock()
	type peerInfo struct {
		Callsign string   `json:"callsign"`
		Services []string `json:"services"`
		Transport string  `json:"transport"`
	}
	peers := make([]peerInfo, 0, len(t.clients))
	for _, c := range t.clients {
		peers = append(peers, peerInfo{Callsign: c.callsign.String(), Services: c.services, Transport: t.ID()})
	}
	t.mu.Unlock()

	body, err := json.Marshal(struct {
		Timestamp time.Time  `json:"timestamp"`
		Hub       string     `json:"hub"`
		Neighbors []peerInfo `json:"neighbors"`
	}{Timestamp: time.Now(), Hub: t.cfg.Self.String(), Neighbors: peers})
	if err != nil {
		return
	}

	cq, _ := callsign.Parse(callsign.CQ)
	p := wire.New(wire.TypeNeighborList, t.cfg.Self, cq)
	p.Payload = body
	encoded, err := p.Encode()
	if err != nil {
		return
	}
	t.Broadcast(encoded)
}
