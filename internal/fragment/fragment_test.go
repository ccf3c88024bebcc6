package fragment

import (
	"bytes"
	"testing"
	"time"

	"github.com/na4wx/nexdigi/internal/wire"
)

func TestNeedsFragmentation(t *testing.T) {
	if NeedsFragmentation(100, 200, 32) {
		t.Error("100 bytes should fit within 200-32")
	}
	if !NeedsFragmentation(200, 200, 32) {
		t.Error("200 bytes should require fragmentation at mtu 200, overhead 32")
	}
}

func TestSplitAndReassembleRoundTrip(t *testing.T) {
	id := wire.NewMessageID()
	payload := bytes.Repeat([]byte("abcdefgh"), 50) // 400 bytes

	frames := Split(id, payload, 200, DefaultHeaderOverhead)
	if len(frames) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frames))
	}

	r := NewReassembler(time.Second)
	var result []byte
	for _, frame := range frames {
		h, p, err := Decode(frame)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		complete, done, err := r.Add(h, p)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if done {
			result = complete
		}
	}

	if !bytes.Equal(result, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(result), len(payload))
	}
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	id := wire.NewMessageID()
	frame := Split(id, []byte("hello"), 200, DefaultHeaderOverhead)[0]
	frame[HeaderSize] ^= 0xFF // corrupt the payload

	_, _, err := Decode(frame)
	if err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestSweepReportsMissingFragments(t *testing.T) {
	r := NewReassembler(5 * time.Millisecond)
	id := wire.NewMessageID()

	h := Header{MessageID: id, FragmentNum: 0, TotalFragments: 3, PayloadLen: 1, Checksum: checksum([]byte("a"))}
	_, done, err := r.Add(h, []byte("a"))
	if err != nil || done {
		t.Fatalf("expected incomplete assembly, done=%v err=%v", done, err)
	}

	time.Sleep(10 * time.Millisecond)
	timedOut := r.Sweep()
	if len(timedOut) != 1 {
		t.Fatalf("expected one timed-out assembly, got %d", len(timedOut))
	}
	if len(timedOut[0].Missing) != 2 {
		t.Fatalf("expected 2 missing fragment indices, got %v", timedOut[0].Missing)
	}
	if r.Pending() != 0 {
		t.Fatal("assembly should be removed after sweep")
	}
}
