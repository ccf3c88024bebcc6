package dedup

import (
	"time"

	"github.com/na4wx/nexdigi/internal/wire"
)

// MessageIDTTL is the backbone messageId cache's retention window (spec
// §4.7: "suppresses re-processing of a packet already handled ... TTL
// 300 s").
const MessageIDTTL = 300 * time.Second

// MessageIDCacheCapacity bounds the cache per spec §4.7's default of 1000
// entries.
const MessageIDCacheCapacity = 1000

// MessageIDCache suppresses re-processing of a backbone packet the
// coordinator has already handled, whether it arrived again on the same
// transport (retransmission) or a different one (spec §8 scenario S2).
type MessageIDCache struct {
	cache *ttlCache[wire.MessageID, struct{}]
}

// NewMessageIDCache constructs a cache with the spec-mandated TTL and
// capacity.
func NewMessageIDCache() *MessageIDCache {
	return &MessageIDCache{cache: newTTLCache[wire.MessageID, struct{}](MessageIDTTL, MessageIDCacheCapacity)}
}

// SeenOrRecord atomically checks whether id has already been recorded and,
// if not, records it. It returns true when id is a duplicate (the caller
// must drop the packet); false when id is novel (the caller proceeds and
// the packet is now recorded for future calls).
func (c *MessageIDCache) SeenOrRecord(id wire.MessageID) (duplicate bool) {
	return c.cache.checkAndSet(id, struct{}{})
}

// Len reports the number of stored message IDs, including expired ones
// that a sweep has not yet removed.
func (c *MessageIDCache) Len() int { return c.cache.len() }
