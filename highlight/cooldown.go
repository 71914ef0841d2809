package highlight

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// CooldownKey identifies one notification stream for cooldown purposes, a
// user being notified for a phrase in a guild. Phrase is the lower-cased
// text so "Rust" and "rust" share a stream.
type CooldownKey struct {
	UserID  int64
	GuildID int64
	Phrase  string
}

const cooldownShardCount = 64

type cooldownShard struct {
	mu   sync.Mutex
	last map[CooldownKey]time.Time
}

// CooldownTracker suppresses repeat notifications for the same key inside
// the cooldown window, so a burst of matching messages produces a single
// notification. Purely in-memory, entries older than the window are swept
// periodically to bound growth.
//
// Keys are sharded so concurrent scans hitting unrelated keys don't
// serialize on one lock. Races on the same key are last-writer-wins on
// the timestamp, which at worst lets one borderline-timed duplicate
// through.
type CooldownTracker struct {
	window time.Duration
	shards [cooldownShardCount]cooldownShard
}

func NewCooldownTracker(window time.Duration) *CooldownTracker {
	t := &CooldownTracker{window: window}
	for i := range t.shards {
		t.shards[i].last = make(map[CooldownKey]time.Time)
	}
	return t
}

// Allow reports whether a notification for key may go out at eventTime,
// recording the timestamp if so. A previous notification inside the
// window suppresses the new one and leaves the recorded timestamp
// untouched.
func (t *CooldownTracker) Allow(key CooldownKey, eventTime time.Time) bool {
	shard := t.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if prev, ok := shard.last[key]; ok && eventTime.Sub(prev) < t.window {
		return false
	}

	shard.last[key] = eventTime
	return true
}

// Sweep evicts entries whose age relative to now exceeds the window,
// returning how many were removed.
func (t *CooldownTracker) Sweep(now time.Time) int {
	removed := 0
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.Lock()
		for k, ts := range shard.last {
			if now.Sub(ts) >= t.window {
				delete(shard.last, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	return removed
}

// RunSweeper sweeps once a minute until stop is closed.
func (t *CooldownTracker) RunSweeper(stop chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Sweep(time.Now())
		}
	}
}

func (t *CooldownTracker) shardFor(key CooldownKey) *cooldownShard {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(key.UserID, 10)))
	h.Write([]byte(strconv.FormatInt(key.GuildID, 10)))
	h.Write([]byte(key.Phrase))
	return &t.shards[h.Sum32()%cooldownShardCount]
}
