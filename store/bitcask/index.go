package bitcask

import (
	"sync"

	"github.com/zeebo/xxh3"
)

// indexEntry is the in-memory row backing one live key, pointing at
// the record's bytes on disk. This is the "hash index" half of the
// bitcask name.
type indexEntry struct {
	fileID uint32
	offset int64
	length int32 // header + key + value, i.e. the full on-disk record span
	flag   uint32
	ver    int64
	valLen int32
}

// index is a fixed-width sharded concurrent map keyed by key string,
// using xxh3 for shard selection.
type index struct {
	shards []indexShard
	mask   uint64
}

type indexShard struct {
	mu sync.RWMutex
	m  map[string]indexEntry
}

// newIndex creates an index with shardCount rounded up to a power of two.
func newIndex(shardCount int) *index {
	n := 1
	for n < shardCount {
		n <<= 1
	}
	idx := &index{
		shards: make([]indexShard, n),
		mask:   uint64(n - 1),
	}
	for i := range idx.shards {
		idx.shards[i].m = make(map[string]indexEntry, 256)
	}
	return idx
}

func (idx *index) shardFor(key string) *indexShard {
	h := xxh3.HashString(key)
	return &idx.shards[h&idx.mask]
}

func (idx *index) get(key string) (indexEntry, bool) {
	s := idx.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[key]
	return e, ok
}

func (idx *index) put(key string, e indexEntry) {
	s := idx.shardFor(key)
	s.mu.Lock()
	s.m[key] = e
	s.mu.Unlock()
}

// delete removes key and reports whether it was present.
func (idx *index) delete(key string) bool {
	s := idx.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	return ok
}

func (idx *index) len() int {
	n := 0
	for i := range idx.shards {
		idx.shards[i].mu.RLock()
		n += len(idx.shards[i].m)
		idx.shards[i].mu.RUnlock()
	}
	return n
}

// forEach visits every live entry. Used by Optimize to rewrite the
// compacted generation; the callback must not call back into the
// index.
func (idx *index) forEach(fn func(key string, e indexEntry)) {
	for i := range idx.shards {
		idx.shards[i].mu.RLock()
		for k, e := range idx.shards[i].m {
			fn(k, e)
		}
		idx.shards[i].mu.RUnlock()
	}
}

// swap atomically replaces every shard's map with the corresponding
// shard of next, used once Optimize's compaction pass has produced a
// consistent new generation; Get never observes a half-compacted
// index.
func (idx *index) swap(next *index) {
	for i := range idx.shards {
		idx.shards[i].mu.Lock()
		next.shards[i].mu.RLock()
		idx.shards[i].m = next.shards[i].m
		next.shards[i].mu.RUnlock()
		idx.shards[i].mu.Unlock()
	}
}
