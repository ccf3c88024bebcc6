// Package fragment implements MTU-aware fragmentation and reassembly
// (spec §4.14) for DATA payloads too large for one transport frame.
package fragment

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/na4wx/nexdigi/internal/wire"
)

// HeaderSize is the fixed fragment header width (spec §4.14): messageId(16)
// + fragmentNum(4) + totalFragments(4) + payloadLen(4) + checksum(4).
const HeaderSize = 32

// DefaultHeaderOverhead is the backbone header/TLV overhead budgeted out of
// the MTU before payload fits (spec §4.14 default 32, "yields ≤168
// bytes/fragment on RF").
const DefaultHeaderOverhead = 32

// DefaultReassemblyTimeout is how long an incomplete reassembly buffer is
// kept before being cancelled (spec §4.14 default 30 s).
const DefaultReassemblyTimeout = 30 * time.Second

var (
	// ErrTruncated is returned when a buffer is shorter than HeaderSize.
	ErrTruncated = errors.New("fragment: truncated header")
	// ErrChecksumMismatch is returned when the payload's md5 prefix does
	// not match the header's checksum field.
	ErrChecksumMismatch = errors.New("fragment: checksum mismatch")
)

// Header is one fragment's 32-byte header (spec §4.14).
type Header struct {
	MessageID      wire.MessageID
	FragmentNum    uint32
	TotalFragments uint32
	PayloadLen     uint32
	Checksum       [4]byte
}

func checksum(payload []byte) [4]byte {
	sum := md5.Sum(payload)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// Encode serializes h followed by payload into one fragment frame.
func (h Header) Encode(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[0:16], h.MessageID[:])
	binary.BigEndian.PutUint32(buf[16:20], h.FragmentNum)
	binary.BigEndian.PutUint32(buf[20:24], h.TotalFragments)
	binary.BigEndian.PutUint32(buf[24:28], h.PayloadLen)
	copy(buf[28:32], h.Checksum[:])
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses a fragment frame into its header and payload, verifying
// the md5-prefix checksum.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, ErrTruncated
	}

	var h Header
	copy(h.MessageID[:], buf[0:16])
	h.FragmentNum = binary.BigEndian.Uint32(buf[16:20])
	h.TotalFragments = binary.BigEndian.Uint32(buf[20:24])
	h.PayloadLen = binary.BigEndian.Uint32(buf[24:28])
	copy(h.Checksum[:], buf[28:32])

	payload := buf[HeaderSize:]
	if uint32(len(payload)) != h.PayloadLen {
		return Header{}, nil, ErrTruncated
	}
	if checksum(payload) != h.Checksum {
		return Header{}, nil, ErrChecksumMismatch
	}

	return h, payload, nil
}

// MaxFragmentPayload returns the largest payload one fragment may carry
// given mtu and headerOverhead.
func MaxFragmentPayload(mtu, headerOverhead int) int {
	n := mtu - headerOverhead - HeaderSize
	if n < 1 {
		return 1
	}
	return n
}

// NeedsFragmentation reports whether payloadLen exceeds what fits in one
// frame at the given mtu (spec §4.14: "Only engaged when payload >
// mtu − headerOverhead").
func NeedsFragmentation(payloadLen, mtu, headerOverhead int) bool {
	return payloadLen > mtu-headerOverhead
}

// Split breaks payload into fragment frames (header + chunk) no larger
// than mtu-headerOverhead each.
func Split(id wire.MessageID, payload []byte, mtu, headerOverhead int) [][]byte {
	chunkSize := MaxFragmentPayload(mtu, headerOverhead)
	total := (len(payload) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}

	out := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		h := Header{
			MessageID:      id,
			FragmentNum:    uint32(i),
			TotalFragments: uint32(total),
			PayloadLen:     uint32(len(chunk)),
			Checksum:       checksum(chunk),
		}
		out = append(out, h.Encode(chunk))
	}
	return out
}

type assembly struct {
	total     uint32
	slots     [][]byte
	received  int
	startedAt time.Time
}

// TimedOut reports a reassembly that was cancelled by the sweep timer,
// along with the fragment indices that never arrived (spec §4.14: "missing
// fragment indices are reported to upper layers for selective
// retransmission").
type TimedOut struct {
	MessageID wire.MessageID
	Missing   []uint32
}

// Reassembler tracks in-progress multi-fragment reassemblies, one per
// messageId.
type Reassembler struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[wire.MessageID]*assembly

	now func() time.Time
}

// NewReassembler constructs a reassembler with the given per-message
// timeout (DefaultReassemblyTimeout if zero).
func NewReassembler(timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &Reassembler{
		timeout: timeout,
		pending: make(map[wire.MessageID]*assembly),
		now:     time.Now,
	}
}

// Add records one fragment's payload (paired with its decoded header)
// and, once every slot is filled, returns the concatenated payload.
func (r *Reassembler) Add(h Header, payload []byte) (complete []byte, done bool, err error) {
	if h.FragmentNum >= h.TotalFragments {
		return nil, false, errors.New("fragment: fragmentNum out of range")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.pending[h.MessageID]
	if !ok {
		a = &assembly{
			total:     h.TotalFragments,
			slots:     make([][]byte, h.TotalFragments),
			startedAt: r.now(),
		}
		r.pending[h.MessageID] = a
	}

	if a.slots[h.FragmentNum] == nil {
		a.slots[h.FragmentNum] = payload
		a.received++
	}

	if a.received < int(a.total) {
		return nil, false, nil
	}

	delete(r.pending, h.MessageID)
	total := 0
	for _, s := range a.slots {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range a.slots {
		buf = append(buf, s...)
	}
	return buf, true, nil
}

// Sweep cancels assemblies older than the reassembly timeout, returning
// one TimedOut per cancelled message with its missing fragment indices.
func (r *Reassembler) Sweep() []TimedOut {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TimedOut
	for id, a := range r.pending {
		if now.Sub(a.startedAt) < r.timeout {
			continue
		}

		var missing []uint32
		for i, s := range a.slots {
			if s == nil {
				missing = append(missing, uint32(i))
			}
		}
		out = append(out, TimedOut{MessageID: id, Missing: missing})
		delete(r.pending, id)
	}
	return out
}

// Pending reports how many reassemblies are currently in flight.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
