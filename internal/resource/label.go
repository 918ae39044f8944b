package resource

import (
	"sync"

	"github.com/SystemBuilders/LockMgr/internal/cache"
)

// DefaultLabelCacheSize is the number of resource names kept for rendering.
const DefaultLabelCacheSize = 1024

const labelShards = 16

// labelShard guards one slice of the label cache. Recording a name only
// ever tries the shard lock, so New never waits behind a reader.
type labelShard struct {
	mu  sync.Mutex
	lru *cache.LRUCache
}

var labels = newLabelShards(DefaultLabelCacheSize)

func newLabelShards(size int) *[labelShards]labelShard {
	var shards [labelShards]labelShard
	for i := range shards {
		shards[i].lru = cache.NewLRUCache(shardCapacity(size))
	}
	return &shards
}

func shardCapacity(size int) int {
	n := (size + labelShards - 1) / labelShards
	if n < 1 {
		n = 1
	}
	return n
}

func labelShardFor(id ID) *labelShard {
	return &labels[id.HashID()%labelShards]
}

// SetLabelCacheSize bounds the number of remembered resource names. The
// bound is split evenly across the shards.
func SetLabelCacheSize(n int) {
	c := shardCapacity(n)
	for i := range labels {
		s := &labels[i]
		s.mu.Lock()
		s.lru.Resize(c)
		s.mu.Unlock()
	}
}

// rememberLabel records the name unless the shard is busy. A skipped name
// only costs the label in String output.
func rememberLabel(id ID, name string) bool {
	s := labelShardFor(id)
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	// PutElement on the LRU never fails.
	_ = s.lru.PutElement(cache.NewSimpleKey(uint64(id)), name)
	return true
}

// Label returns the name a resource was created with, if it is still
// remembered. Mutex labels are never evicted.
func Label(id ID) (string, bool) {
	if id.Type() == TypeMutex {
		return MutexLabel(id)
	}
	s := labelShardFor(id)
	s.mu.Lock()
	name, err := s.lru.GetElement(cache.NewSimpleKey(uint64(id)))
	s.mu.Unlock()
	if err != nil {
		return "", false
	}
	return name, true
}
