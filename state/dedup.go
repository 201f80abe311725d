// Package state holds the in-memory stores fed by the message pipeline: the
// time-bucketed deduplication store and the per-vessel state store.
package state

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	track "github.com/ethan0sc4r/codmar001"
)

const (
	// DefaultDedupWindow is the time quantum for considering two
	// near-identical reports redundant.
	DefaultDedupWindow = 60 * time.Second

	// DefaultDedupTTLMultiplier scales the window into the key retention
	// period.
	DefaultDedupTTLMultiplier = 2
)

// DedupConfig tunes a DedupStore. Zero values select defaults.
type DedupConfig struct {
	Window        time.Duration
	TTLMultiplier int
	Now           func() time.Time
}

// DedupStats is a point-in-time snapshot of dedup counters.
type DedupStats struct {
	Unique     uint64
	Duplicates uint64
	Keys       int
}

// DedupStore suppresses repeated reports of the same vessel position within
// a time window. Keys are hashes over (mmsi, bucketed timestamp, rounded
// position) and are retained for window times multiplier seconds.
type DedupStore struct {
	window time.Duration
	ttl    time.Duration
	now    func() time.Time

	mu         sync.Mutex
	keys       map[uint64]time.Time
	unique     uint64
	duplicates uint64
}

// NewDedupStore creates a DedupStore with the given settings.
func NewDedupStore(cfg DedupConfig) *DedupStore {
	if cfg.Window <= 0 {
		cfg.Window = DefaultDedupWindow
	}
	if cfg.TTLMultiplier <= 0 {
		cfg.TTLMultiplier = DefaultDedupTTLMultiplier
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DedupStore{
		window: cfg.Window,
		ttl:    cfg.Window * time.Duration(cfg.TTLMultiplier),
		now:    cfg.Now,
		keys:   make(map[uint64]time.Time),
	}
}

// Seen reports whether an equivalent message was already observed within the
// retention period. The first observation records the key and returns false.
func (d *DedupStore) Seen(msg track.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	key := d.key(msg, now)

	if expiry, ok := d.keys[key]; ok && now.Before(expiry) {
		d.duplicates++
		return true
	}
	d.keys[key] = now.Add(d.ttl)
	d.unique++
	return false
}

// key buckets the message timestamp to the window and rounds the position to
// four decimals, so that near-identical reports from different upstreams
// collapse to one key. Missing positions become 0.0 on purpose: static
// messages of the same vessel inside one bucket are themselves duplicates.
func (d *DedupStore) key(msg track.Message, now time.Time) uint64 {
	ts := msg.Timestamp.OrNow(now)
	windowSec := d.window.Seconds()
	bucket := int64(math.Floor(ts/windowSec)) * int64(windowSec)

	var lat, lon float64
	if msg.Lat != nil {
		lat = *msg.Lat
	}
	if msg.Lon != nil {
		lon = *msg.Lon
	}
	return xxhash.Sum64String(fmt.Sprintf("%s-%d-%.4f-%.4f", msg.MMSI, bucket, lat, lon))
}

// Sweep removes expired keys and returns how many were removed.
func (d *DedupStore) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for key, expiry := range d.keys {
		if !now.Before(expiry) {
			delete(d.keys, key)
			removed++
		}
	}
	return removed
}

// Stats returns current counters.
func (d *DedupStore) Stats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DedupStats{Unique: d.unique, Duplicates: d.duplicates, Keys: len(d.keys)}
}
