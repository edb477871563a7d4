package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// ReplayCache rejects a webhook message id it has already seen within the
// bounded TTL window, defending against a provider retrying (or an
// attacker replaying) the same signed body.
type ReplayCache struct {
	mu  sync.Mutex
	ttl time.Duration
	ids map[string]time.Time
}

func NewReplayCache(ttl time.Duration) *ReplayCache {
	return &ReplayCache{ttl: ttl, ids: make(map[string]time.Time)}
}

// Seen records messageID and reports whether it had already been seen
// within the TTL window (a replay). Expired entries are swept lazily.
func (c *ReplayCache) Seen(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if at, ok := c.ids[messageID]; ok && now.Sub(at) <= c.ttl {
		return true
	}

	for id, at := range c.ids {
		if id != messageID && now.Sub(at) > c.ttl {
			delete(c.ids, id)
		}
	}

	c.ids[messageID] = now
	return false
}

// VerifySignature checks an HMAC-SHA256 signature over body using secret,
// the canonical per-provider webhook authentication scheme every adapter
// (Telegram, Discord, the generic Lark/DingTalk/QQ webhook) is required to
// present regardless of its own native signature format, since the
// Gateway normalizes verification to one code path.
func VerifySignature(secret []byte, body []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, sig) == 1
}
