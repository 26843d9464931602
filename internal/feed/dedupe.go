package feed

import (
	"hash/fnv"
	"sync"
	"time"
)

const dedupeShardCount = 32

// DedupeSet is an in-memory, sharded set of recently-seen execIds,
// consulted before handing a message to the rule runtime. Shard count
// is fixed at dedupeShardCount; sharding is by execId hash.
type DedupeSet struct {
	shards [dedupeShardCount]*dedupeShard
	horizon time.Duration
}

type dedupeShard struct {
	mu sync.Mutex
	seen map[string]time.Time // execId -> tradeDate, for horizon eviction
}

// NewDedupeSet returns a DedupeSet evicting entries older than horizon
// past their tradeDate.
func NewDedupeSet(horizon time.Duration) *DedupeSet {
	d := &DedupeSet{horizon: horizon}
	for i := range d.shards {
		d.shards[i] = &dedupeShard{seen: map[string]time.Time{}}
	}
	return d
}

// SeenAndMark reports whether execId has already been seen within the
// dedupe horizon, marking it seen as a side effect if not. A true result
// means: acknowledge without effect.
func (d *DedupeSet) SeenAndMark(execID string, tradeDate time.Time) bool {
	shard := d.shardFor(execID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	d.evictLocked(shard)

	if _, ok := shard.seen[execID]; ok {
		return true
	}
	shard.seen[execID] = tradeDate
	return false
}

// Unmark removes execId from the dedupe set, used when a handler fails
// transiently so the inevitable redelivery is not mistaken for a
// duplicate.
func (d *DedupeSet) Unmark(execID string) {
	shard := d.shardFor(execID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.seen, execID)
}

func (d *DedupeSet) shardFor(execID string) *dedupeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(execID))
	return d.shards[h.Sum32()%dedupeShardCount]
}

func (d *DedupeSet) evictLocked(shard *dedupeShard) {
	cutoff := time.Now().Add(-d.horizon)
	for id, tradeDate := range shard.seen {
		if tradeDate.Before(cutoff) {
			delete(shard.seen, id)
		}
	}
}
