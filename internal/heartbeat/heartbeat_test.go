package heartbeat

import (
	"context"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := Payload{
		NodeID:          "NA4WX-1",
		Sequence:        5,
		ProtocolVersion: 1,
		Timestamp:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Services:        []string{"BBS"},
		Metrics:         map[string]float64{"queueDepth": 3},
		Capabilities:    []string{"digipeat"},
	}

	buf, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.NodeID != p.NodeID || got.Sequence != p.Sequence || !got.Timestamp.Equal(p.Timestamp) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := Payload{Timestamp: now.Add(-time.Minute)}
	stale := Payload{Timestamp: now.Add(-11 * time.Minute)}

	if fresh.IsStale(now) {
		t.Error("fresh payload reported stale")
	}
	if !stale.IsStale(now) {
		t.Error("stale payload not reported stale")
	}
}

func TestSchedulerSequenceIncrements(t *testing.T) {
	s := NewScheduler("NA4WX", 1, time.Millisecond, func() ([]string, map[string]float64, []string) {
		return nil, nil, nil
	})

	first := s.Next()
	second := s.Next()
	if second.Sequence != first.Sequence+1 {
		t.Fatalf("sequence did not increment monotonically: %d then %d", first.Sequence, second.Sequence)
	}
}

func TestSchedulerRunEmitsUntilCancelled(t *testing.T) {
	s := NewScheduler("NA4WX", 1, 5*time.Millisecond, func() ([]string, map[string]float64, []string) {
		return nil, nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	emitted := make(chan Payload, 8)
	done := make(chan struct{})

	go func() {
		s.Run(ctx, func(p Payload) { emitted <- p })
		close(done)
	}()

	<-emitted
	<-emitted
	cancel()
	<-done
}
