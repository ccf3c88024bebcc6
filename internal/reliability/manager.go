// Package reliability implements the ACK/retry manager (spec §4.13):
// pending-ack bookkeeping with exponential backoff, RTT estimation, and
// the retry/failure escalation the coordinator's queue-drain loop consults.
package reliability

import (
	"sync"
	"time"

	"github.com/na4wx/nexdigi/internal/events"
	"github.com/na4wx/nexdigi/internal/wire"
)

// DefaultAckTimeout is the base timeout before the first retry (spec
// §4.13: "ackTimeout (default 1000 ms)").
const DefaultAckTimeout = 1000 * time.Millisecond

// DefaultMaxRetries is the number of ACK timeouts after which a message
// is marked failed: the original send plus DefaultMaxRetries-1 retries.
const DefaultMaxRetries = 5

// RTTAlpha is the exponentially-weighted moving average smoothing factor
// spec §4.13 specifies for RTT estimation.
const RTTAlpha = 0.125

// Record is one pending-ack entry (spec §3 "Pending-ack record").
type Record struct {
	MessageID   wire.MessageID
	Destination string
	Packet      []byte
	SentAt      time.Time
	TimeoutAt   time.Time
	Retries     int
}

// Failed is published when a record exhausts its retry budget.
type Failed struct{ Record Record }

// Acknowledged is published when a record's ACK arrives.
type Acknowledged struct {
	Record Record
	RTT    time.Duration
}

// Manager tracks every in-flight DATA transmission that requires an ACK.
type Manager struct {
	mu         sync.Mutex
	ackTimeout time.Duration
	maxRetries int
	records    map[wire.MessageID]*Record

	rttEWMA time.Duration
	haveRTT bool

	now func() time.Time

	OnFailed       events.Broker[Failed]
	OnAcknowledged events.Broker[Acknowledged]
}

// New constructs a manager with the given base timeout and retry budget.
// Zero values fall back to the spec defaults.
func New(ackTimeout time.Duration, maxRetries int) *Manager {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Manager{
		ackTimeout: ackTimeout,
		maxRetries: maxRetries,
		records:    make(map[wire.MessageID]*Record),
		now:        time.Now,
	}
}

// backoff computes ackTimeout × 2^retries (spec §4.13).
func (m *Manager) backoff(retries int) time.Duration {
	return m.ackTimeout * time.Duration(1<<uint(retries))
}

// Track registers a newly transmitted DATA packet as awaiting ACK.
func (m *Manager) Track(id wire.MessageID, destination string, packet []byte) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = &Record{
		MessageID:   id,
		Destination: destination,
		Packet:      packet,
		SentAt:      now,
		TimeoutAt:   now.Add(m.backoff(0)),
	}
}

// HandleAck computes RTT, folds it into the smoothed estimate, and retires
// the record. ok is false if id was not pending (late/duplicate ACK).
func (m *Manager) HandleAck(id wire.MessageID) (rec Record, rtt time.Duration, ok bool) {
	now := m.now()

	m.mu.Lock()
	r, found := m.records[id]
	if !found {
		m.mu.Unlock()
		return Record{}, 0, false
	}
	delete(m.records, id)

	rtt = now.Sub(r.SentAt)
	if !m.haveRTT {
		m.rttEWMA = rtt
		m.haveRTT = true
	} else {
		m.rttEWMA = time.Duration(RTTAlpha*float64(rtt) + (1-RTTAlpha)*float64(m.rttEWMA))
	}
	rec = *r
	m.mu.Unlock()

	m.OnAcknowledged.Publish(Acknowledged{Record: rec, RTT: rtt})
	return rec, rtt, true
}

// HandleNack forces an immediate retry of id (subject to the same retry
// cap as a timeout), returning the record to resend and whether the caller
// should re-enqueue it (false means the cap was already exhausted and the
// message is now marked failed).
func (m *Manager) HandleNack(id wire.MessageID) (rec Record, shouldRetry bool, found bool) {
	m.mu.Lock()
	r, found := m.records[id]
	if !found {
		m.mu.Unlock()
		return Record{}, false, false
	}

	r.Retries++
	if r.Retries >= m.maxRetries {
		delete(m.records, id)
		snapshot := *r
		m.mu.Unlock()
		m.OnFailed.Publish(Failed{Record: snapshot})
		return snapshot, false, true
	}
	r.TimeoutAt = m.now().Add(m.backoff(r.Retries))
	snapshot := *r
	m.mu.Unlock()

	return snapshot, true, true
}

// RTTEstimate returns the current smoothed RTT estimate.
func (m *Manager) RTTEstimate() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rttEWMA
}

// CheckTimeouts scans pending records for expired timeouts (spec §5:
// reliability check every 500 ms). For each expired record it either
// arms the next retry (returned in retry, with the record's TimeoutAt
// already advanced) or, if the retry budget is exhausted, removes it and
// returns it in failed.
func (m *Manager) CheckTimeouts() (retry []Record, failed []Record) {
	now := m.now()

	m.mu.Lock()
	for id, r := range m.records {
		if now.Before(r.TimeoutAt) {
			continue
		}

		r.Retries++
		if r.Retries >= m.maxRetries {
			failed = append(failed, *r)
			delete(m.records, id)
			continue
		}

		r.TimeoutAt = now.Add(m.backoff(r.Retries))
		retry = append(retry, *r)
	}
	m.mu.Unlock()

	for _, r := range failed {
		m.OnFailed.Publish(Failed{Record: r})
	}
	return retry, failed
}

// Len reports the number of pending-ack records.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
