package dedup

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/na4wx/nexdigi/internal/ax25"
)

// FrameDigestTTL is the AX.25 frame-digest cache's short retention window
// (spec §4.7: "TTL 5 s").
const FrameDigestTTL = 5 * time.Second

// FrameDigestCacheCapacity bounds the cache per spec §4.7's default.
const FrameDigestCacheCapacity = 1000

// FrameRecord tracks what has already happened for one digipeated frame:
// which output channels have retransmitted it, and whether its WIDE entry
// has already been serviced by this node (spec §4.2: serviced at most
// once across all candidate output channels).
type FrameRecord struct {
	TransmittedOn map[string]bool
	ServicedWide  bool
}

// FrameDigestCache implements spec §4.7's AX.25 frame-digest cache.
type FrameDigestCache struct {
	cache *ttlCache[string, FrameRecord]
}

// NewFrameDigestCache constructs a cache with the spec-mandated TTL and
// capacity.
func NewFrameDigestCache() *FrameDigestCache {
	return &FrameDigestCache{cache: newTTLCache[string, FrameRecord](FrameDigestTTL, FrameDigestCacheCapacity)}
}

// DigestKey computes the dedup key for a digipeated frame: the address
// path with WIDE entries collapsed to their base (so WIDE2-2 and WIDE2-1
// hash identically), concatenated with the hex encoding of the payload (spec
// §4.7).
func DigestKey(path []ax25.Address, payload []byte) string {
	var b strings.Builder
	for i, a := range path {
		if i > 0 {
			b.WriteByte(',')
		}
		if _, ok := ax25.WideHopNumber(a.Base); ok {
			b.WriteString(a.Base)
		} else {
			b.WriteString(a.Base)
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(int(a.SSID)))
		}
	}
	b.WriteByte('|')
	b.WriteString(hex.EncodeToString(payload))
	return b.String()
}

// MarkTransmitted records that channel has now retransmitted the frame
// identified by key, returning true if that channel had already done so
// (spec §8 invariant 4: no frame is emitted twice on the same output
// channel within the TTL window).
func (c *FrameDigestCache) MarkTransmitted(key, channel string) (alreadyTransmitted bool) {
	c.cache.mutate(key, func(v FrameRecord) FrameRecord {
		if v.TransmittedOn == nil {
			v.TransmittedOn = make(map[string]bool)
		}
		if v.TransmittedOn[channel] {
			alreadyTransmitted = true
			return v
		}
		v.TransmittedOn[channel] = true
		return v
	})
	return alreadyTransmitted
}

// MarkServicedWide records that this node has serviced the WIDE entry for
// the frame identified by key, returning true if it had already done so
// (spec §4.2: at most one servicing across all candidate output channels).
func (c *FrameDigestCache) MarkServicedWide(key string) (alreadyServiced bool) {
	c.cache.mutate(key, func(v FrameRecord) FrameRecord {
		if v.ServicedWide {
			alreadyServiced = true
			return v
		}
		v.ServicedWide = true
		return v
	})
	return alreadyServiced
}
