package dedup

import (
	"testing"

	"github.com/na4wx/nexdigi/internal/ax25"
)

func addr(base string, ssid uint8) ax25.Address {
	return ax25.Address{Base: base, SSID: ssid}
}

func TestDigestKeyCollapsesWideRemainingHops(t *testing.T) {
	path2 := []ax25.Address{addr("NA4WX", 0), addr("WIDE2", 2)}
	path1 := []ax25.Address{addr("NA4WX", 0), addr("WIDE2", 1)}
	payload := []byte("hello")

	if DigestKey(path2, payload) != DigestKey(path1, payload) {
		t.Fatalf("WIDE2-2 and WIDE2-1 must hash identically")
	}
}

func TestDigestKeyDistinguishesPayload(t *testing.T) {
	path := []ax25.Address{addr("NA4WX", 0)}
	if DigestKey(path, []byte("a")) == DigestKey(path, []byte("b")) {
		t.Fatalf("different payloads must not collide")
	}
}

func TestMarkTransmittedOncePerChannel(t *testing.T) {
	c := NewFrameDigestCache()
	key := DigestKey([]ax25.Address{addr("NA4WX", 0)}, []byte("x"))

	if already := c.MarkTransmitted(key, "rf0"); already {
		t.Fatalf("first transmission on rf0 must not be reported as duplicate")
	}
	if already := c.MarkTransmitted(key, "rf0"); !already {
		t.Fatalf("second transmission on rf0 within TTL must be reported as duplicate")
	}
	if already := c.MarkTransmitted(key, "rf1"); already {
		t.Fatalf("a distinct output channel must not be suppressed by rf0's transmission")
	}
}

func TestMarkServicedWideOnceAcrossChannels(t *testing.T) {
	c := NewFrameDigestCache()
	key := DigestKey([]ax25.Address{addr("NA4WX", 0), addr("WIDE2", 2)}, []byte("x"))

	if already := c.MarkServicedWide(key); already {
		t.Fatalf("first servicing must not be reported as duplicate")
	}
	if already := c.MarkServicedWide(key); !already {
		t.Fatalf("second servicing of the same frame must be reported as duplicate regardless of channel")
	}
}
