// Package bbssync implements the BBS sync sub-protocol (spec §2 C16): a
// Bloom-filter set-difference query atop the coordinator's SERVICE_QUERY
// and SERVICE_REPLY packet types. The BBS message store itself is out of
// scope (spec §1); this package only decides, for one mailbox, which
// message IDs a peer is missing, and hands that list to whatever external
// component actually owns the mailbox.
package bbssync

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/wire"
)

// FalsePositiveRate bounds the Bloom filter's false-positive probability
// (spec's "compact" requirement trades a small chance of a false match,
// i.e. a message wrongly believed already held by the peer, for a filter
// far smaller than the ID set it summarizes).
const FalsePositiveRate = 0.01

// MaxReplyEntries caps how many missing IDs one SERVICE_REPLY reports, so
// a large mailbox gap is serviced over several round trips rather than one
// oversized packet.
const MaxReplyEntries = 256

// MailboxIndex is supplied by the external BBS store (out of scope per
// spec §1) and is the only way this package learns what message IDs exist
// locally for a mailbox.
type MailboxIndex interface {
	KnownMessageIDs(mailbox string) []string
}

// Sender is the narrow capability bbssync needs from the coordinator:
// enqueue an already-typed packet for routing. Depending on the full
// Coordinator type here would import a cycle back into coordinator's own
// collaborators (spec §9's cyclic-reference redesign note); this interface
// is satisfied by *coordinator.Coordinator without bbssync importing it.
type Sender interface {
	SendRaw(p wire.Packet) (wire.MessageID, error)
}

// Missing is published once a SERVICE_REPLY names message IDs the local
// mailbox lacks; an external BBS store consumes this to pull or request
// those specific entries.
type Missing struct {
	Peer       callsign.Callsign
	Mailbox    string
	MessageIDs []string
}

type queryPayload struct {
	Mailbox string `json:"mailbox"`
	Filter  []byte `json:"filter"`
}

type replyPayload struct {
	Mailbox    string   `json:"mailbox"`
	MessageIDs []string `json:"messageIds"`
	Truncated  bool     `json:"truncated"`
}

// Syncer drives the query/reply exchange for one node.
type Syncer struct {
	self  callsign.Callsign
	index MailboxIndex
	send  Sender

	onMissing func(Missing)
}

// New constructs a Syncer. onMissing is invoked (never concurrently, from
// whatever goroutine delivers SERVICE_REPLY packets) whenever a reply
// names entries the local mailbox lacks.
func New(self callsign.Callsign, index MailboxIndex, send Sender, onMissing func(Missing)) *Syncer {
	return &Syncer{self: self, index: index, send: send, onMissing: onMissing}
}

// RequestSync builds a Bloom filter over every message ID this node
// already holds for mailbox, and sends it to peer as a SERVICE_QUERY so
// peer can reply with only what this node is missing.
func (s *Syncer) RequestSync(peer callsign.Callsign, mailbox string) (wire.MessageID, error) {
	ids := s.index.KnownMessageIDs(mailbox)

	filter := bloom.NewWithEstimates(estimateN(len(ids)), FalsePositiveRate)
	for _, id := range ids {
		filter.AddString(id)
	}

	var buf bytes.Buffer
	if _, err := filter.WriteTo(&buf); err != nil {
		return wire.MessageID{}, fmt.Errorf("bbssync: encode filter: %w", err)
	}

	payload, err := json.Marshal(queryPayload{Mailbox: mailbox, Filter: buf.Bytes()})
	if err != nil {
		return wire.MessageID{}, fmt.Errorf("bbssync: encode query: %w", err)
	}

	p := wire.New(wire.TypeServiceQuery, s.self, peer)
	p.Payload = payload
	return s.send.SendRaw(p)
}

// HandleServiceQuery answers a peer's SERVICE_QUERY: every locally-known
// ID for the requested mailbox that the peer's filter does not contain is
// reported back as missing-on-their-end.
func (s *Syncer) HandleServiceQuery(p wire.Packet) error {
	var q queryPayload
	if err := json.Unmarshal(p.Payload, &q); err != nil {
		return fmt.Errorf("bbssync: malformed query payload: %w", err)
	}

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(q.Filter)); err != nil {
		return fmt.Errorf("bbssync: malformed filter: %w", err)
	}

	var missing []string
	truncated := false
	for _, id := range s.index.KnownMessageIDs(q.Mailbox) {
		if filter.TestString(id) {
			continue // peer already has it, or a false positive; either way don't resend
		}
		if len(missing) >= MaxReplyEntries {
			truncated = true
			break
		}
		missing = append(missing, id)
	}

	reply, err := json.Marshal(replyPayload{Mailbox: q.Mailbox, MessageIDs: missing, Truncated: truncated})
	if err != nil {
		return fmt.Errorf("bbssync: encode reply: %w", err)
	}

	r := wire.New(wire.TypeServiceReply, s.self, p.Source)
	r.Payload = reply
	_, err = s.send.SendRaw(r)
	return err
}

// HandleServiceReply decodes a peer's SERVICE_REPLY and surfaces the
// missing-entry list via onMissing.
func (s *Syncer) HandleServiceReply(p wire.Packet) error {
	var r replyPayload
	if err := json.Unmarshal(p.Payload, &r); err != nil {
		return fmt.Errorf("bbssync: malformed reply payload: %w", err)
	}
	if len(r.MessageIDs) == 0 {
		return nil
	}
	if s.onMissing != nil {
		s.onMissing(Missing{Peer: p.Source, Mailbox: r.Mailbox, MessageIDs: r.MessageIDs})
	}
	return nil
}

// estimateN never sizes a filter for zero entries: NewWithEstimates(0, fp)
// degenerates to a zero-length bit array, so an empty mailbox still gets a
// minimal one-entry filter instead.
func estimateN(n int) uint {
	if n < 1 {
		return 1
	}
	return uint(n)
}
