package server

import (
	"strconv"
	"strings"
	"sync"

	"github.com/beansdb-go/beansdb/store"
)

// fakeStore is an in-memory store.Store double so dispatch tests can
// exercise the full Conn state machine without a real bitcask engine.
type fakeStore struct {
	mu    sync.Mutex
	items map[string]*store.Item

	optimizeCalls int
	optimizeRes   store.OptimizeResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*store.Item), optimizeRes: store.OptimizeOK}
}

func (s *fakeStore) Set(key, value []byte, flag uint32, ver int64) (store.SetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[string(key)] = &store.Item{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...), Flag: flag, Ver: ver}
	return store.Stored, nil
}

func (s *fakeStore) Append(key, value []byte) (store.SetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[string(key)]
	if !ok {
		return store.NotStored, nil
	}
	merged := append(append([]byte(nil), existing.Value...), value...)
	s.items[string(key)] = &store.Item{Key: existing.Key, Value: merged, Flag: existing.Flag, Ver: existing.Ver}
	return store.Stored, nil
}

func (s *fakeStore) Incr(key []byte, delta uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current uint64
	if existing, ok := s.items[string(key)]; ok {
		v, err := strconv.ParseUint(strings.TrimSpace(string(existing.Value)), 10, 64)
		if err != nil {
			return 0, store.ErrNotNumeric
		}
		current = v
	}
	next := current + delta
	s.items[string(key)] = &store.Item{Key: append([]byte(nil), key...), Value: []byte(strconv.FormatUint(next, 10))}
	return next, nil
}

func (s *fakeStore) Delete(key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[string(key)]
	delete(s.items, string(key))
	return ok, nil
}

func (s *fakeStore) Get(key []byte) (*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[string(key)]
	if !ok {
		return nil, nil
	}
	return item, nil
}

func (s *fakeStore) Count() (curr uint64, total uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.items)), uint64(len(s.items))
}

func (s *fakeStore) Stat() store.Stat {
	curr, total := s.Count()
	return store.Stat{CurrItems: curr, TotalItems: total}
}

func (s *fakeStore) Flush(limitKB, periodSecs int) error { return nil }

func (s *fakeStore) Optimize(limit int, tree string) store.OptimizeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optimizeCalls++
	return s.optimizeRes
}

func (s *fakeStore) OptimizeStat() string { return "success" }

func (s *fakeStore) Close() error { return nil }
