package provider

import (
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/unsafe"
)

const numCacheShards = 256

type cacheShard struct {
	mu   sync.Mutex
	recs map[string]*SignalRecord
}

// signalCache is a sharded, thread-safe map from read identifier to signal
// record.  Sharding keeps lock contention low when several conditions load
// signal records concurrently.
type signalCache struct {
	shards [numCacheShards]cacheShard
}

func newSignalCache() *signalCache {
	c := &signalCache{}
	for i := 0; i < len(c.shards); i++ {
		c.shards[i].recs = make(map[string]*SignalRecord)
	}
	return c
}

func (c *signalCache) shard(readID string) *cacheShard {
	h := seahash.Sum64(unsafe.StringToBytes(readID))
	return &c.shards[int(h%uint64(numCacheShards))]
}

func (c *signalCache) get(readID string) *SignalRecord {
	s := c.shard(readID)
	s.mu.Lock()
	rec := s.recs[readID]
	s.mu.Unlock()
	return rec
}

func (c *signalCache) put(readID string, rec *SignalRecord) {
	s := c.shard(readID)
	s.mu.Lock()
	s.recs[readID] = rec
	s.mu.Unlock()
}

// size returns the number of cached records.  The count is exact only when
// no other thread is mutating the cache.
func (c *signalCache) size() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.recs)
		s.mu.Unlock()
	}
	return n
}
