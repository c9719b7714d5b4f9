package vl1

import (
	"strconv"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Dedup tracks recently seen packet IDs, keyed by ID alone across all
// peers, to catch naive replay; Seen only reports a repeat, and the caller
// drops the packet. It is deliberately approximate — entries expire after
// 15 seconds rather than forming a sliding window — the same tradeoff the
// teacher's link layer makes for keepalive timers.
type Dedup struct {
	seen *cache.Cache
}

// NewDedup creates a Dedup cache.
func NewDedup() *Dedup {
	return &Dedup{seen: cache.New(15*time.Second, time.Minute)}
}

// Seen records id as observed and reports whether it had already been
// seen (i.e. this is a replay).
func (d *Dedup) Seen(id uint64) bool {
	key := strconv.FormatUint(id, 16)
	if _, ok := d.seen.Get(key); ok {
		return true
	}
	d.seen.Set(key, struct{}{}, cache.DefaultExpiration)
	return false
}
