// Package coordinator implements the central orchestrator (spec §4.15):
// the only component that sees every incoming packet, owns the neighbor
// table, topology graph, routing table, outbound queue, reliability
// manager and seen caches, and dispatches by packet type. Everything else
// in this repository either feeds it (transports) or reacts to the events
// it publishes (BBS sync, user registry).
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/dedup"
	"github.com/na4wx/nexdigi/internal/events"
	"github.com/na4wx/nexdigi/internal/fragment"
	"github.com/na4wx/nexdigi/internal/heartbeat"
	"github.com/na4wx/nexdigi/internal/neighbor"
	"github.com/na4wx/nexdigi/internal/queue"
	"github.com/na4wx/nexdigi/internal/reliability"
	"github.com/na4wx/nexdigi/internal/routing"
	"github.com/na4wx/nexdigi/internal/topology"
	"github.com/na4wx/nexdigi/internal/transport"
	"github.com/na4wx/nexdigi/internal/wire"
)

// Defaults for the suspension-point intervals spec §5 names that have no
// more specific home elsewhere.
const (
	DefaultRouteRecomputeInterval   = 60 * time.Second
	DefaultQueueDrainInterval       = 100 * time.Millisecond
	DefaultReliabilityCheckInterval = 500 * time.Millisecond
	DefaultReassemblySweepInterval  = 5 * time.Second
	DefaultMaxRequeueAttempts       = 5
)

var cq = callsign.MustParse(callsign.CQ)

// Config configures a Coordinator.
type Config struct {
	Self            callsign.Callsign
	ProtocolVersion int
	Services        []string
	Capabilities    []string

	// InternetMode and InternetTransportID/Hub feed selectRoute's
	// transport-mode override (spec §4.11).
	InternetMode        routing.InternetMode
	InternetTransportID string
	Hub                 callsign.Callsign

	NeighborTimeout          time.Duration
	HeartbeatInterval        time.Duration
	RouteRecomputeInterval   time.Duration
	QueueDrainInterval       time.Duration
	ReliabilityCheckInterval time.Duration
	NeighborCleanupInterval  time.Duration
	ReassemblySweepInterval  time.Duration

	QueueCapacity     int
	QueueBandCapacity int
	AckTimeout        time.Duration
	MaxRetries        int
	ReassemblyTimeout time.Duration
	HeaderOverhead    int

	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.NeighborTimeout <= 0 {
		c.NeighborTimeout = neighbor.DefaultTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if c.RouteRecomputeInterval <= 0 {
		c.RouteRecomputeInterval = DefaultRouteRecomputeInterval
	}
	if c.QueueDrainInterval <= 0 {
		c.QueueDrainInterval = DefaultQueueDrainInterval
	}
	if c.ReliabilityCheckInterval <= 0 {
		c.ReliabilityCheckInterval = DefaultReliabilityCheckInterval
	}
	if c.NeighborCleanupInterval <= 0 {
		c.NeighborCleanupInterval = neighbor.DefaultCleanupInterval
	}
	if c.ReassemblySweepInterval <= 0 {
		c.ReassemblySweepInterval = DefaultReassemblySweepInterval
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = queue.DefaultCapacity
	}
	if c.QueueBandCapacity <= 0 {
		c.QueueBandCapacity = queue.DefaultBandCapacity
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = reliability.DefaultAckTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = reliability.DefaultMaxRetries
	}
	if c.ReassemblyTimeout <= 0 {
		c.ReassemblyTimeout = fragment.DefaultReassemblyTimeout
	}
	if c.HeaderOverhead <= 0 {
		c.HeaderOverhead = fragment.DefaultHeaderOverhead
	}
}

// SendOptions carries per-sendData knobs (spec §6: "sendData(destination,
// bytes, options)").
type SendOptions struct {
	// Priority overrides the packet's wire priority. Nil defaults to
	// PriorityNormal: wire.PriorityEmergency is itself the zero Priority
	// value, so a plain wire.Priority field could not distinguish "caller
	// wants emergency" from "caller left this unset".
	Priority   *wire.Priority
	RequireAck bool
}

type registeredTransport struct {
	kind string
	t    transport.Transport
}

// Coordinator is the spec §4.15 state machine and outbound pipeline,
// owning every shared resource spec §5 lists under its lock.
type Coordinator struct {
	cfg    Config
	logger zerolog.Logger

	mu               sync.Mutex
	transports       map[string]registeredTransport
	connectedClients map[string]bool

	neighbors   *neighbor.Table
	graph       *topology.Graph
	queue       *queue.Queue
	reliability *reliability.Manager
	seen        *dedup.MessageIDCache
	reassembler *fragment.Reassembler
	heartbeat   *heartbeat.Scheduler

	routesMu sync.RWMutex
	routes   *routing.Table

	OnReady          events.Broker[Ready]
	OnRoutesUpdated  events.Broker[RoutesUpdated]
	OnDelivery       events.Broker[Delivery]
	OnDropped        events.Broker[Dropped]
	OnSent           events.Broker[Sent]
	OnAcknowledged   events.Broker[Acknowledged]
	OnFailed         events.Broker[Failed]
	OnRegistryUpdate events.Broker[wire.Packet]
	OnServiceQuery   events.Broker[wire.Packet]
	OnServiceReply   events.Broker[wire.Packet]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator. Zero-valued interval/capacity fields in
// cfg fall back to the spec-mandated defaults.
func New(cfg Config) *Coordinator {
	cfg.applyDefaults()

	c := &Coordinator{
		cfg:              cfg,
		logger:           cfg.Logger.With().Str("component", "coordinator").Logger(),
		transports:       make(map[string]registeredTransport),
		connectedClients: make(map[string]bool),
		neighbors:        neighbor.New(cfg.NeighborTimeout),
		graph:            topology.New(),
		queue:            queue.New(cfg.QueueCapacity, cfg.QueueBandCapacity),
		reliability:      reliability.New(cfg.AckTimeout, cfg.MaxRetries),
		seen:             dedup.NewMessageIDCache(),
		reassembler:      fragment.NewReassembler(cfg.ReassemblyTimeout),
	}
	c.heartbeat = heartbeat.NewScheduler(cfg.Self.String(), cfg.ProtocolVersion, cfg.HeartbeatInterval, c.heartbeatSource)

	c.reliability.OnAcknowledged.Subscribe(func(a reliability.Acknowledged) {
		c.OnAcknowledged.Publish(Acknowledged{MessageID: a.Record.MessageID, RTT: a.RTT})
	})
	c.reliability.OnFailed.Subscribe(func(f reliability.Failed) {
		c.OnFailed.Publish(Failed{MessageID: f.Record.MessageID, Reason: "max retries exceeded"})
		c.OnDropped.Publish(Dropped{MessageID: f.Record.MessageID, Reason: DroppedRetriesExceeded})
	})

	// Seed an empty routing table so SelectRoute never sees a nil table
	// before the first periodic recompute.
	c.routes = routing.Compute(c.graph, cfg.Self, time.Now())

	return c
}

// Neighbors exposes the coordinator-owned neighbor table so collaborators
// (registry, bbssync) can subscribe to neighbor-added/updated/removed
// without the coordinator importing them (spec §9's cyclic-reference fix).
func (c *Coordinator) Neighbors() *neighbor.Table { return c.neighbors }

// Routes returns the latest computed routing table snapshot.
func (c *Coordinator) Routes() *routing.Table {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	return c.routes
}

// TransportStatus reports one registered transport's id, kind and
// availability, for the status/metrics endpoint (spec §7).
type TransportStatus struct {
	ID        string
	Kind      string
	Connected bool
}

// TransportStatuses snapshots every registered transport's availability.
func (c *Coordinator) TransportStatuses() []TransportStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TransportStatus, 0, len(c.transports))
	for id, rt := range c.transports {
		out = append(out, TransportStatus{ID: id, Kind: rt.kind, Connected: rt.t.IsAvailable()})
	}
	return out
}

// QueueLen returns the number of messages currently queued for outbound
// delivery, for the status/metrics endpoint (spec §7).
func (c *Coordinator) QueueLen() int { return c.queue.Len() }

// PendingAcks returns the number of unacknowledged sent packets still
// being tracked for retry, for the status/metrics endpoint (spec §7).
func (c *Coordinator) PendingAcks() int { return c.reliability.Len() }

// RTTEstimate returns the reliability manager's current smoothed
// round-trip estimate, for the status/metrics endpoint (spec §7).
func (c *Coordinator) RTTEstimate() time.Duration { return c.reliability.RTTEstimate() }

// AddTransport registers a transport under id, tagged with kind ("rf" or
// "internet", per the neighbor cost formula's base-cost lookup) and wires
// its event broker into the coordinator. Call before Start.
func (c *Coordinator) AddTransport(id, kind string, t transport.Transport, ev *transport.Events) {
	c.mu.Lock()
	c.transports[id] = registeredTransport{kind: kind, t: t}
	c.mu.Unlock()

	ev.OnPacket.Subscribe(func(e transport.PacketEvent) {
		c.Receive(e.TransportID, e.Packet)
	})
	ev.OnConnection.Subscribe(func(e transport.ConnectionEvent) {
		c.setClientConnected(e.Peer, true)
	})
	ev.OnDisconnect.Subscribe(func(e transport.ConnectionEvent) {
		c.setClientConnected(e.Peer, false)
		c.neighbors.Forget(e.Peer, e.TransportID)
	})
	ev.OnError.Subscribe(func(e transport.ErrorEvent) {
		c.logger.Warn().Str("transport", e.TransportID).Err(e.Err).Msg("transport error")
	})
}

func (c *Coordinator) setClientConnected(peer callsign.Callsign, connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connected {
		c.connectedClients[peer.String()] = true
	} else {
		delete(c.connectedClients, peer.String())
	}
}

func (c *Coordinator) isDirectClient(destination callsign.Callsign) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedClients[destination.String()]
}

func (c *Coordinator) cheapestTransport() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := ""
	bestCost := 0
	for id, rt := range c.transports {
		if !rt.t.IsAvailable() {
			continue
		}
		if best == "" || rt.t.Cost() < bestCost {
			best, bestCost = id, rt.t.Cost()
		}
	}
	return best, best != ""
}

func (c *Coordinator) transportByID(id string) (transport.Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.transports[id]
	return rt.t, ok
}

func (c *Coordinator) transportKind(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transports[id].kind
}

func (c *Coordinator) minMTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := 0
	for _, rt := range c.transports {
		if best == 0 || rt.t.MTU() < best {
			best = rt.t.MTU()
		}
	}
	if best == 0 {
		return transport.DefaultRFMTU
	}
	return best
}

func (c *Coordinator) selectEnvironment() routing.Environment {
	internetAvailable := false
	if c.cfg.InternetTransportID != "" {
		if t, ok := c.transportByID(c.cfg.InternetTransportID); ok {
			internetAvailable = t.IsAvailable()
		}
	}
	return routing.Environment{
		InternetMode:        c.cfg.InternetMode,
		InternetAvailable:   internetAvailable,
		InternetTransportID: c.cfg.InternetTransportID,
		Hub:                 c.cfg.Hub,
		DirectClient:        c.isDirectClient,
		CheapestTransport:   c.cheapestTransport,
	}
}

// Start connects every registered transport concurrently (first error
// cancels the rest, via golang.org/x/sync/errgroup), then arms the
// periodic timers spec §5 lists as suspension points.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	c.mu.Lock()
	for id, rt := range c.transports {
		id, rt := id, rt
		g.Go(func() error {
			if err := rt.t.Connect(gctx); err != nil {
				return fmt.Errorf("coordinator: connect transport %s: %w", id, err)
			}
			return nil
		})
	}
	c.mu.Unlock()
	if err := g.Wait(); err != nil {
		cancel()
		return err
	}

	c.recomputeRoutes()

	c.wg.Add(6)
	go c.heartbeatLoop(ctx)
	go c.drainLoop(ctx)
	go c.reliabilityLoop(ctx)
	go c.routeRecomputeLoop(ctx)
	go c.neighborCleanupLoop(ctx)
	go c.reassemblySweepLoop(ctx)

	c.OnReady.Publish(Ready{At: time.Now()})
	return nil
}

// Stop cancels every timer loop, waits for them to exit, then disconnects
// every transport: the reverse-dependency shutdown order spec §5 specifies
// (timers before transports).
func (c *Coordinator) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	transports := make([]transport.Transport, 0, len(c.transports))
	for _, rt := range c.transports {
		transports = append(transports, rt.t)
	}
	c.mu.Unlock()

	var firstErr error
	for _, t := range transports {
		if err := t.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Coordinator) heartbeatSource() (services []string, metrics map[string]float64, capabilities []string) {
	return c.cfg.Services, map[string]float64{
		"queueDepth": float64(c.queue.Len()),
		"rttMs":      float64(c.reliability.RTTEstimate().Milliseconds()),
		"neighbors":  float64(c.neighbors.Len()),
	}, c.cfg.Capabilities
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	c.heartbeat.Run(ctx, c.emitHeartbeat)
}

// emitHeartbeat wraps the payload in a KEEPALIVE packet with ttl=1 (spec
// §5: "Heartbeats are never forwarded") and broadcasts it on every
// available transport.
func (c *Coordinator) emitHeartbeat(payload heartbeat.Payload) {
	encoded, err := payload.Encode()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode heartbeat payload")
		return
	}

	p := wire.New(wire.TypeKeepalive, c.cfg.Self, cq)
	p.TTL = 1
	p.Payload = encoded
	data, err := p.Encode()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode heartbeat packet")
		return
	}

	c.mu.Lock()
	transports := make([]transport.Transport, 0, len(c.transports))
	for _, rt := range c.transports {
		transports = append(transports, rt.t)
	}
	c.mu.Unlock()

	for _, t := range transports {
		if t.IsAvailable() {
			if err := t.Broadcast(data); err != nil {
				c.logger.Warn().Err(err).Str("transport", t.ID()).Msg("heartbeat broadcast failed")
			}
		}
	}
}

func (c *Coordinator) drainLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.QueueDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOnce()
		}
	}
}

func (c *Coordinator) drainOnce() {
	msg, ok := c.queue.Dequeue()
	if !ok {
		return
	}

	destination, err := callsign.Parse(msg.Destination)
	if err != nil {
		c.OnDropped.Publish(Dropped{MessageID: msg.MessageID, Reason: DroppedNoRoute})
		return
	}

	if destination.Base() == callsign.CQ {
		c.broadcastOnce(msg, destination)
		return
	}

	sel := routing.SelectRoute(c.Routes(), destination, c.selectEnvironment())
	if !sel.Found {
		c.requeueOrDrop(msg, DroppedNoRoute)
		return
	}

	t, ok := c.transportByID(sel.TransportID)
	if !ok {
		c.requeueOrDrop(msg, DroppedNoRoute)
		return
	}

	err = t.Send(sel.NextHop, msg.Packet, transport.SendOptions{RequireAck: msg.RequireAck})
	if err != nil {
		c.requeueOrDrop(msg, DroppedRetriesExceeded)
		return
	}

	c.OnSent.Publish(Sent{MessageID: msg.MessageID, Destination: destination, TransportID: sel.TransportID})
	if msg.RequireAck {
		c.reliability.Track(msg.MessageID, msg.Destination, msg.Packet)
	}
}

// broadcastOnce sends msg.Packet via every available transport's
// Broadcast method (spec §3: "destination CQ denotes broadcast"; spec
// §4.4's send/broadcast split). Unlike a unicast Send, a broadcast has no
// single next hop to retry against, so it is never tracked for ACK/retry
// regardless of msg.RequireAck.
func (c *Coordinator) broadcastOnce(msg queue.Message, destination callsign.Callsign) {
	c.mu.Lock()
	transports := make([]transport.Transport, 0, len(c.transports))
	for _, rt := range c.transports {
		transports = append(transports, rt.t)
	}
	c.mu.Unlock()

	sent := false
	for _, t := range transports {
		if !t.IsAvailable() {
			continue
		}
		if err := t.Broadcast(msg.Packet); err != nil {
			c.logger.Warn().Err(err).Str("transport", t.ID()).Msg("broadcast failed")
			continue
		}
		sent = true
	}

	if !sent {
		c.requeueOrDrop(msg, DroppedNoRoute)
		return
	}

	c.OnSent.Publish(Sent{MessageID: msg.MessageID, Destination: destination})
}

// requeueOrDrop re-enqueues msg with its retry counter incremented, up to
// spec §4.15's "on send error, re-enqueue up to 5 times"; beyond that, or
// if re-enqueueing itself fails (congestion), the message is dropped and
// reported.
func (c *Coordinator) requeueOrDrop(msg queue.Message, reason DroppedReason) {
	if msg.Retries >= DefaultMaxRequeueAttempts {
		c.OnDropped.Publish(Dropped{MessageID: msg.MessageID, Reason: reason})
		return
	}
	msg.Retries++
	if err := c.queue.Enqueue(msg); err != nil {
		c.OnDropped.Publish(Dropped{MessageID: msg.MessageID, Reason: DroppedCongestion})
	}
}

func (c *Coordinator) reliabilityLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ReliabilityCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retry, _ := c.reliability.CheckTimeouts() // failed records are reported via OnFailed subscription
			for _, r := range retry {
				msg := queue.Message{
					MessageID:   r.MessageID,
					Destination: r.Destination,
					Source:      c.cfg.Self.String(),
					Packet:      r.Packet,
					Priority:    wire.PriorityHigh,
					RequireAck:  true,
				}
				if err := c.queue.Enqueue(msg); err != nil {
					c.OnDropped.Publish(Dropped{MessageID: r.MessageID, Reason: DroppedCongestion})
				}
			}
		}
	}
}

func (c *Coordinator) routeRecomputeLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RouteRecomputeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.recomputeRoutes()
		}
	}
}

func (c *Coordinator) recomputeRoutes() {
	snapshot := c.neighbors.Snapshot()
	c.graph.UpdateFromNeighborTable(c.cfg.Self, snapshot)
	table := routing.Compute(c.graph, c.cfg.Self, time.Now())

	c.routesMu.Lock()
	c.routes = table
	c.routesMu.Unlock()

	c.OnRoutesUpdated.Publish(RoutesUpdated{Table: table, At: time.Now()})
}

func (c *Coordinator) neighborCleanupLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.NeighborCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.neighbors.Cleanup()
		}
	}
}

func (c *Coordinator) reassemblySweepLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ReassemblySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, timedOut := range c.reassembler.Sweep() {
				c.logger.Warn().
					Str("messageId", timedOut.MessageID.String()).
					Interface("missingFragments", timedOut.Missing).
					Msg("fragment reassembly timed out")
				c.OnDropped.Publish(Dropped{MessageID: timedOut.MessageID, Reason: DroppedFragmentTimeout})
			}
		}
	}
}

// Receive is the spec §4.15 state machine entry point: every packet a
// transport decodes off the wire passes through here exactly once.
func (c *Coordinator) Receive(transportID string, p wire.Packet) {
	if c.seen.SeenOrRecord(p.MessageID) {
		c.OnDropped.Publish(Dropped{MessageID: p.MessageID, Reason: DroppedDuplicate})
		return
	}

	if p.TTL > 0 {
		p.TTL--
	}

	local := p.Destination.Equal(c.cfg.Self) || p.Destination.Base() == callsign.CQ

	if !local && p.TTL == 0 {
		c.OnDropped.Publish(Dropped{MessageID: p.MessageID, Reason: DroppedTTLExpired})
		return
	}

	switch p.Type {
	case wire.TypeHello:
		c.handleHello(transportID, p)
	case wire.TypeKeepalive:
		c.handleKeepalive(transportID, p)
	case wire.TypeData:
		c.handleData(transportID, p, local)
	case wire.TypeAck:
		c.handleAck(p)
	case wire.TypeNeighborList:
		c.handleNeighborList(transportID, p)
	case wire.TypeRegistryUpdate:
		c.OnRegistryUpdate.Publish(p)
	case wire.TypeServiceQuery:
		// Handed to bbssync (C16), which owns the Bloom-filter
		// set-difference protocol; the coordinator only routes.
		c.OnServiceQuery.Publish(p)
	case wire.TypeServiceReply:
		c.OnServiceReply.Publish(p)
	case wire.TypeLSA, wire.TypeError:
		// Reserved: spec §9 decodes these future-compatibly but treats
		// them as no-ops at the coordinator.
	default:
		c.logger.Debug().Uint8("type", uint8(p.Type)).Msg("unknown packet type ignored")
	}
}

type helloBody struct {
	Services []string `json:"services"`
}

func (c *Coordinator) handleHello(transportID string, p wire.Packet) {
	var body helloBody
	_ = json.Unmarshal(p.Payload, &body) // HELLO payload is optional; absence is not an error

	c.neighbors.Update(neighbor.Update{
		Callsign:        p.Source,
		TransportID:     transportID,
		TransportKind:   c.transportKind(transportID),
		Metrics:         neighbor.Metrics{SNR: 10},
		Services:        body.Services,
		ProtocolVersion: c.cfg.ProtocolVersion,
	})
}

func (c *Coordinator) handleKeepalive(transportID string, p wire.Packet) {
	hb, err := heartbeat.Decode(p.Payload)
	if err != nil {
		c.logger.Warn().Err(err).Str("transport", transportID).Msg("malformed keepalive payload")
		return
	}
	if hb.IsStale(time.Now()) {
		c.logger.Warn().Str("nodeId", hb.NodeID).Msg("stale or replayed heartbeat")
	}

	c.neighbors.Update(neighbor.Update{
		Callsign:        p.Source,
		TransportID:     transportID,
		TransportKind:   c.transportKind(transportID),
		Metrics:         metricsFromMap(hb.Metrics),
		Services:        hb.Services,
		Capabilities:    hb.Capabilities,
		ProtocolVersion: hb.ProtocolVersion,
		Sequence:        hb.Sequence,
	})
}

func metricsFromMap(m map[string]float64) neighbor.Metrics {
	snr, ok := m["snr"]
	if !ok {
		snr = 10
	}
	return neighbor.Metrics{
		PacketLoss: m["packetLoss"],
		LatencyMs:  m["latencyMs"],
		SNR:        snr,
	}
}

func (c *Coordinator) handleData(transportID string, p wire.Packet, local bool) {
	if !local {
		c.relay(p)
		return
	}

	if p.Destination.Base() != callsign.CQ {
		if err := c.sendAck(p); err != nil {
			c.logger.Warn().Err(err).Msg("failed to enqueue ack")
		}
	}

	payload := p.Payload
	if p.Flags.Has(wire.FlagFragmented) {
		header, chunk, err := fragment.Decode(p.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("malformed fragment")
			return
		}
		complete, done, err := c.reassembler.Add(header, chunk)
		if err != nil {
			c.logger.Warn().Err(err).Msg("fragment reassembly failed")
			return
		}
		if !done {
			return
		}
		payload = complete
	}

	c.OnDelivery.Publish(Delivery{
		Source:      p.Source,
		Destination: p.Destination,
		Payload:     payload,
		MessageID:   p.MessageID,
		TransportID: transportID,
	})
}

// relay forwards a DATA packet not addressed to this node: re-enqueue
// under its original (already TTL-decremented) encoding, to be routed at
// dequeue time (spec §4.15: "route+enqueue").
func (c *Coordinator) relay(p wire.Packet) {
	encoded, err := p.Encode()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to re-encode packet for relay")
		return
	}
	msg := queue.Message{
		MessageID:   p.MessageID,
		Destination: p.Destination.String(),
		Source:      p.Source.String(),
		Packet:      encoded,
		Priority:    p.Priority,
	}
	if err := c.queue.Enqueue(msg); err != nil {
		c.OnDropped.Publish(Dropped{MessageID: p.MessageID, Reason: DroppedCongestion})
	}
}

// sendAck builds and enqueues an ACK addressed back to original's source,
// carrying original's messageId as its payload so the sender's reliability
// manager can retire the matching pending-ack record.
func (c *Coordinator) sendAck(original wire.Packet) error {
	ack := wire.New(wire.TypeAck, c.cfg.Self, original.Source)
	ack.Priority = wire.PriorityHigh
	ack.Payload = append([]byte(nil), original.MessageID[:]...)

	encoded, err := ack.Encode()
	if err != nil {
		return err
	}
	return c.queue.Enqueue(queue.Message{
		MessageID:   ack.MessageID,
		Destination: original.Source.String(),
		Source:      c.cfg.Self.String(),
		Packet:      encoded,
		Priority:    ack.Priority,
	})
}

func (c *Coordinator) handleAck(p wire.Packet) {
	if len(p.Payload) != 16 {
		c.logger.Warn().Msg("malformed ack payload")
		return
	}
	var id wire.MessageID
	copy(id[:], p.Payload)
	if _, _, ok := c.reliability.HandleAck(id); !ok {
		c.logger.Debug().Str("messageId", id.String()).Msg("ack for unknown or already-retired message")
	}
}

type neighborListBody struct {
	Timestamp time.Time `json:"timestamp"`
	Hub       string    `json:"hub"`
	Neighbors []struct {
		Callsign  string   `json:"callsign"`
		Services  []string `json:"services"`
		Transport string   `json:"transport"`
	} `json:"neighbors"`
}

// handleNeighborList merges a hub's relayed neighbor list, marking every
// entry viaHub=true (spec §4.15).
func (c *Coordinator) handleNeighborList(transportID string, p wire.Packet) {
	var body neighborListBody
	if err := json.Unmarshal(p.Payload, &body); err != nil {
		c.logger.Warn().Err(err).Msg("malformed neighbor_list payload")
		return
	}

	for _, n := range body.Neighbors {
		cs, err := callsign.Parse(n.Callsign)
		if err != nil || cs.Equal(c.cfg.Self) {
			continue
		}
		c.neighbors.Update(neighbor.Update{
			Callsign:      cs,
			TransportID:   transportID,
			TransportKind: c.transportKind(transportID),
			Metrics:       neighbor.Metrics{SNR: 10},
			Services:      n.Services,
			ViaHub:        true,
		})
	}
}

// SendData builds a DATA packet (fragmenting it first if its payload
// exceeds the smallest registered transport's MTU less the configured
// fragment header overhead), enqueues it, and
// returns the identifier the caller correlates against the message-sent /
// message-acknowledged / message-failed events. For a fragmented send
// this is the shared fragment-header id, not any one physical packet's
// wire messageId.
func (c *Coordinator) SendData(destination callsign.Callsign, payload []byte, opts SendOptions) (wire.MessageID, error) {
	broadcast := destination.Base() == callsign.CQ
	requireAck := opts.RequireAck && !broadcast

	priority := wire.PriorityNormal
	if opts.Priority != nil {
		priority = *opts.Priority
	}

	logicalID := wire.NewMessageID()
	mtu := c.minMTU()

	if !fragment.NeedsFragmentation(len(payload), mtu, c.cfg.HeaderOverhead) {
		p := wire.New(wire.TypeData, c.cfg.Self, destination)
		p.MessageID = logicalID // single physical packet: logical and wire id coincide
		p.Priority = priority
		p.Payload = payload
		return logicalID, c.enqueuePacket(p, requireAck)
	}

	chunks := fragment.Split(logicalID, payload, mtu, c.cfg.HeaderOverhead)
	for _, chunk := range chunks {
		p := wire.New(wire.TypeData, c.cfg.Self, destination)
		p.Priority = priority
		p.Flags |= wire.FlagFragmented
		p.Payload = chunk
		if err := c.enqueuePacket(p, requireAck); err != nil {
			return logicalID, err
		}
	}
	return logicalID, nil
}

// SendRaw enqueues an arbitrary, already-typed packet (SERVICE_QUERY,
// SERVICE_REPLY, REGISTRY_UPDATE) for routing and transmission, assigning
// it a fresh MessageID if the caller left one unset. It is the narrow
// capability bbssync (C16) and the user registry (C17) are handed instead
// of a reference to the coordinator itself, avoiding the import cycle
// spec §9 flags.
func (c *Coordinator) SendRaw(p wire.Packet) (wire.MessageID, error) {
	if p.MessageID.IsZero() {
		p.MessageID = wire.NewMessageID()
	}
	return p.MessageID, c.enqueuePacket(p, false)
}

func (c *Coordinator) enqueuePacket(p wire.Packet, requireAck bool) error {
	encoded, err := p.Encode()
	if err != nil {
		return err
	}
	return c.queue.Enqueue(queue.Message{
		MessageID:   p.MessageID,
		Destination: p.Destination.String(),
		Source:      p.Source.String(),
		Packet:      encoded,
		Priority:    p.Priority,
		RequireAck:  requireAck,
	})
}
