// Package heartbeat builds and schedules the KEEPALIVE payload (spec §4.9):
// a small UTF-8 JSON object broadcast on every available transport at a
// fixed interval, with ttl=1 so it is never forwarded.
package heartbeat

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often the scheduler emits a heartbeat.
const DefaultInterval = 300 * time.Second

// StaleThreshold is the age past which a received heartbeat is logged as
// stale or replayed but still processed (spec §4.9).
const StaleThreshold = 10 * time.Minute

// Payload is the heartbeat's wire body (spec §6: "UTF-8 JSON object with
// fields listed in §4.9").
type Payload struct {
	NodeID          string             `json:"nodeId"`
	Sequence        uint32             `json:"sequence"`
	ProtocolVersion int                `json:"protocolVersion"`
	Timestamp       time.Time          `json:"timestamp"`
	Services        []string           `json:"services"`
	Metrics         map[string]float64 `json:"metrics"`
	Capabilities    []string           `json:"capabilities"`
}

// Encode serializes the payload to its wire JSON form.
func (p Payload) Encode() ([]byte, error) { return json.Marshal(p) }

// Decode parses a received heartbeat payload.
func Decode(buf []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(buf, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Age reports how long ago the payload claims to have been produced.
func (p Payload) Age(now time.Time) time.Duration { return now.Sub(p.Timestamp) }

// IsStale reports whether the payload is old enough to be a stale or
// replayed heartbeat (spec §4.9: "age > 10 min").
func (p Payload) IsStale(now time.Time) bool { return p.Age(now) > StaleThreshold }

// Source supplies the values that vary between ticks: the services and
// capabilities this node currently advertises, and a metrics snapshot.
type Source func() (services []string, metrics map[string]float64, capabilities []string)

// Scheduler periodically builds a Payload with a monotonically increasing
// sequence number and hands it to an emit callback. The coordinator's emit
// callback broadcasts it on every available transport with ttl=1.
type Scheduler struct {
	NodeID          string
	ProtocolVersion int
	Interval        time.Duration
	Source          Source

	sequence uint32

	now func() time.Time
}

// NewScheduler constructs a scheduler. interval defaults to DefaultInterval
// when zero.
func NewScheduler(nodeID string, protocolVersion int, interval time.Duration, source Source) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		NodeID:          nodeID,
		ProtocolVersion: protocolVersion,
		Interval:        interval,
		Source:          source,
		now:             time.Now,
	}
}

// Next builds the next payload, advancing the sequence counter.
func (s *Scheduler) Next() Payload {
	seq := atomic.AddUint32(&s.sequence, 1)

	services, metrics, capabilities := s.Source()
	return Payload{
		NodeID:          s.NodeID,
		Sequence:        seq,
		ProtocolVersion: s.ProtocolVersion,
		Timestamp:       s.now(),
		Services:        services,
		Metrics:         metrics,
		Capabilities:    capabilities,
	}
}

// Run ticks every Interval, calling emit with a freshly built payload, until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, emit func(Payload)) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit(s.Next())
		}
	}
}
