package reliability

import (
	"testing"
	"time"

	"github.com/na4wx/nexdigi/internal/wire"
)

func TestHandleAckRetiresRecordAndReportsRTT(t *testing.T) {
	m := New(100*time.Millisecond, 5)
	id := wire.NewMessageID()
	m.Track(id, "KB1ABC", []byte("x"))

	time.Sleep(5 * time.Millisecond)
	rec, rtt, ok := m.HandleAck(id)
	if !ok {
		t.Fatal("expected record found")
	}
	if rec.MessageID != id {
		t.Fatalf("wrong record returned")
	}
	if rtt <= 0 {
		t.Fatalf("expected positive RTT, got %v", rtt)
	}
	if m.Len() != 0 {
		t.Fatalf("record should be retired after ACK")
	}
}

func TestHandleAckUnknownIDNotFound(t *testing.T) {
	m := New(0, 0)
	_, _, ok := m.HandleAck(wire.NewMessageID())
	if ok {
		t.Fatal("expected not found for unknown message id")
	}
}

func TestCheckTimeoutsEscalatesAndFails(t *testing.T) {
	m := New(1*time.Millisecond, 2)
	id := wire.NewMessageID()
	m.Track(id, "KB1ABC", []byte("x"))

	time.Sleep(5 * time.Millisecond)
	retry, failed := m.CheckTimeouts()
	if len(failed) != 0 || len(retry) != 1 {
		t.Fatalf("expected one retry on first timeout, got retry=%d failed=%d", len(retry), len(failed))
	}
	if retry[0].Retries != 1 {
		t.Fatalf("expected retries=1, got %d", retry[0].Retries)
	}

	time.Sleep(5 * time.Millisecond)
	retry, failed = m.CheckTimeouts()
	if len(failed) != 1 {
		t.Fatalf("expected message to fail once maxRetries reached, got retry=%d failed=%d", len(retry), len(failed))
	}
	if m.Len() != 0 {
		t.Fatal("failed record should be removed from pending set")
	}
}

func TestHandleNackImmediateRetry(t *testing.T) {
	m := New(time.Second, 3)
	id := wire.NewMessageID()
	m.Track(id, "KB1ABC", []byte("x"))

	rec, shouldRetry, found := m.HandleNack(id)
	if !found || !shouldRetry {
		t.Fatalf("expected immediate retry, got shouldRetry=%v found=%v", shouldRetry, found)
	}
	if rec.Retries != 1 {
		t.Fatalf("expected retries incremented to 1, got %d", rec.Retries)
	}
}

func TestHandleNackExhaustsRetryCap(t *testing.T) {
	m := New(time.Second, 1)
	id := wire.NewMessageID()
	m.Track(id, "KB1ABC", []byte("x"))

	var failedEvents int
	m.OnFailed.Subscribe(func(Failed) { failedEvents++ })

	_, shouldRetry, found := m.HandleNack(id)
	if !found || shouldRetry {
		t.Fatalf("expected retry cap exhausted immediately, got shouldRetry=%v", shouldRetry)
	}
	if failedEvents != 1 {
		t.Fatalf("expected one Failed event, got %d", failedEvents)
	}
}
