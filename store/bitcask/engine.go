// Package bitcask is the concrete storage engine behind the store
// interface: an append-only log of checksummed records plus a
// sharded in-memory hash index, with a pause-for-rewrite lock guarding
// compaction.
package bitcask

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/beansdb-go/beansdb/lib/logger"
	"github.com/beansdb-go/beansdb/store"
)

// Config tunes the engine. Zero-value fields fall back to defaults in
// Open, matching config.Properties' height/before-time/flush knobs.
type Config struct {
	Height          int   // index shard count, rounded up to a power of two
	BeforeTime      int64 // optimize horizon, in unix seconds; 0 = no horizon
	SegmentMaxBytes int64
}

func (c Config) withDefaults() Config {
	if c.Height <= 0 {
		c.Height = 16
	}
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = 64 << 20
	}
	return c
}

// Engine is the hs_open handle (store.Store implementation).
type Engine struct {
	cfg Config
	dir string

	idx *index

	segMu    sync.RWMutex // guards segments map + nextID + active
	segments map[uint32]*segment
	active   *segment
	nextID   uint32

	// pausingCompaction blocks new appends from racing a segment swap
	// during Optimize, mirroring aof.Handler's pausingAof RWMutex.
	pausingCompaction sync.RWMutex

	incrMu sync.Mutex // serializes Incr's read-modify-write per engine

	totalItems  atomic.Uint64
	optimizing  atomic.Bool
	optimizeErr atomic.Pointer[string]

	flushBreaker    *gobreaker.CircuitBreaker[struct{}]
	optimizeBreaker *gobreaker.CircuitBreaker[store.OptimizeResult]

	closed atomic.Bool
}

var _ store.Store = (*Engine)(nil)

// Open opens (creating if needed) a bitcask store rooted at home.
func Open(home string, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(home, 0755); err != nil {
		return nil, fmt.Errorf("bitcask: creating home dir: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		dir:      home,
		idx:      newIndex(cfg.Height),
		segments: make(map[uint32]*segment),
	}
	e.flushBreaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "bitcask-flush",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 5 },
	})
	e.optimizeBreaker = gobreaker.NewCircuitBreaker[store.OptimizeResult](gobreaker.Settings{
		Name:        "bitcask-optimize",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 5 },
	})

	if err := e.loadSegments(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadSegments() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("bitcask: reading home dir: %w", err)
	}
	var ids []uint32
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".data") {
			continue
		}
		idStr := strings.TrimSuffix(ent.Name(), ".data")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		seg, err := openSegment(e.dir, id, false)
		if err != nil {
			return err
		}
		e.segments[id] = seg
		if id >= e.nextID {
			e.nextID = id + 1
		}
		if err := e.replaySegment(seg); err != nil {
			return fmt.Errorf("bitcask: replaying segment %d: %w", id, err)
		}
	}

	activeID := e.nextID
	e.nextID++
	active, err := openSegment(e.dir, activeID, true)
	if err != nil {
		return err
	}
	e.segments[activeID] = active
	e.active = active
	return nil
}

// replaySegment rebuilds the index entries a sealed segment contributes,
// run once at startup.
func (e *Engine) replaySegment(seg *segment) error {
	f, err := os.Open(seg.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var offset int64
	header := make([]byte, recordHeaderSize)
	for {
		_, err := f.ReadAt(header, offset)
		if err != nil {
			break // EOF or short trailing write: stop replay here
		}
		h, err := decodeHeader(header)
		if err != nil {
			break
		}
		total := recordHeaderSize + h.keyLen
		isTombstone := h.valueLen == tombstoneLen
		if !isTombstone {
			total += int(h.valueLen)
		}
		body := make([]byte, total)
		if _, err := f.ReadAt(body, offset); err != nil {
			break
		}
		if !h.verify(body) {
			break // corrupt tail record: stop replay, keep what's valid
		}
		key := string(body[recordHeaderSize : recordHeaderSize+h.keyLen])
		if isTombstone {
			e.idx.delete(key)
		} else {
			e.idx.put(key, indexEntry{
				fileID: seg.id,
				offset: offset,
				length: int32(total),
				flag:   h.flag,
				ver:    h.ver,
				valLen: h.valueLen,
			})
		}
		e.totalItems.Add(1)
		offset += int64(total)
	}
	return nil
}

func (e *Engine) writeRecord(rec *record) (indexEntry, error) {
	buf := make([]byte, rec.encodedLen())
	n := rec.encode(buf)

	e.pausingCompaction.RLock()
	defer e.pausingCompaction.RUnlock()

	e.segMu.Lock()
	active := e.active
	if active.diskSize()+int64(n) > e.cfg.SegmentMaxBytes {
		if err := active.seal(); err != nil {
			e.segMu.Unlock()
			return indexEntry{}, err
		}
		id := e.nextID
		e.nextID++
		fresh, err := openSegment(e.dir, id, true)
		if err != nil {
			e.segMu.Unlock()
			return indexEntry{}, err
		}
		e.segments[id] = fresh
		e.active = fresh
		active = fresh
	}
	e.segMu.Unlock()

	offset, err := active.append(buf[:n])
	if err != nil {
		return indexEntry{}, err
	}
	return indexEntry{fileID: active.id, offset: offset, length: int32(n), flag: rec.flag, ver: rec.ver, valLen: int32(len(rec.value))}, nil
}

// Set implements store.Store.
func (e *Engine) Set(key, value []byte, flag uint32, ver int64) (store.SetResult, error) {
	entry, err := e.writeRecord(&record{flag: flag, ver: ver, key: key, value: value})
	if err != nil {
		return store.NotStored, err
	}
	e.idx.put(string(key), entry)
	e.totalItems.Add(1)
	return store.Stored, nil
}

// Append implements store.Store; it returns NotStored for a missing
// key and otherwise shares Set's reply vocabulary.
func (e *Engine) Append(key, value []byte) (store.SetResult, error) {
	existing, ok := e.idx.get(string(key))
	if !ok {
		return store.NotStored, nil
	}
	old, err := e.readValue(existing)
	if err != nil {
		return store.NotStored, err
	}
	merged := make([]byte, 0, len(old)+len(value))
	merged = append(merged, old...)
	merged = append(merged, value...)
	entry, err := e.writeRecord(&record{flag: existing.flag, ver: existing.ver, key: key, value: merged})
	if err != nil {
		return store.NotStored, err
	}
	e.idx.put(string(key), entry)
	e.totalItems.Add(1)
	return store.Stored, nil
}

// Incr implements store.Store, serializing the read-modify-write
// across all keys with a single mutex; incr is rare enough relative
// to get/set that per-key locking isn't worth the bookkeeping.
func (e *Engine) Incr(key []byte, delta uint64) (uint64, error) {
	e.incrMu.Lock()
	defer e.incrMu.Unlock()

	var current uint64
	entry, ok := e.idx.get(string(key))
	var flag uint32
	var ver int64
	if ok {
		old, err := e.readValue(entry)
		if err != nil {
			return 0, err
		}
		parsed, err := strconv.ParseUint(strings.TrimSpace(string(old)), 10, 64)
		if err != nil {
			return 0, store.ErrNotNumeric
		}
		current = parsed
		flag = entry.flag
		ver = entry.ver
	}
	next := current + delta
	value := []byte(strconv.FormatUint(next, 10))
	rentry, err := e.writeRecord(&record{flag: flag, ver: ver, key: key, value: value})
	if err != nil {
		return 0, err
	}
	e.idx.put(string(key), rentry)
	e.totalItems.Add(1)
	return next, nil
}

// Delete implements store.Store.
func (e *Engine) Delete(key []byte) (bool, error) {
	if _, ok := e.idx.get(string(key)); !ok {
		return false, nil
	}
	if _, err := e.writeRecord(&record{key: key, value: nil}); err != nil {
		return false, err
	}
	e.idx.delete(string(key))
	return true, nil
}

// Get implements store.Store.
func (e *Engine) Get(key []byte) (*store.Item, error) {
	entry, ok := e.idx.get(string(key))
	if !ok {
		return nil, nil
	}
	value, err := e.readValue(entry)
	if err != nil {
		return nil, err
	}
	return &store.Item{Key: key, Value: value, Flag: entry.flag, Ver: entry.ver}, nil
}

func (e *Engine) readValue(entry indexEntry) ([]byte, error) {
	e.segMu.RLock()
	seg := e.segments[entry.fileID]
	e.segMu.RUnlock()
	if seg == nil {
		return nil, fmt.Errorf("bitcask: segment %d missing from %s", entry.fileID, key(entry))
	}
	body, err := seg.readAt(entry.offset, entry.length)
	if err != nil {
		return nil, err
	}
	h, err := decodeHeader(body)
	if err != nil {
		return nil, err
	}
	if !h.verify(body) {
		return nil, fmt.Errorf("bitcask: checksum mismatch at segment %d offset %d", entry.fileID, entry.offset)
	}
	valStart := recordHeaderSize + h.keyLen
	return body[valStart : valStart+int(entry.valLen)], nil
}

func key(e indexEntry) string { return fmt.Sprintf("file %d", e.fileID) }

// Count implements store.Store.
func (e *Engine) Count() (curr uint64, total uint64) {
	return uint64(e.idx.len()), e.totalItems.Load()
}

// Stat implements store.Store.
func (e *Engine) Stat() store.Stat {
	curr, total := e.Count()
	var totalSpace int64
	e.segMu.RLock()
	for _, seg := range e.segments {
		totalSpace += seg.diskSize()
	}
	e.segMu.RUnlock()

	var avail uint64
	if fsStat, err := diskFree(e.dir); err == nil {
		avail = fsStat
	}
	return store.Stat{
		CurrItems:  curr,
		TotalItems: total,
		AvailSpace: avail,
		TotalSpace: uint64(totalSpace),
	}
}

// Flush implements store.Store; it is the periodic sync the background
// flush task calls through, breaker-guarded so a failing disk doesn't
// get hammered every tick.
func (e *Engine) Flush(limitKB, periodSecs int) error {
	_, err := e.flushBreaker.Execute(func() (struct{}, error) {
		e.segMu.RLock()
		active := e.active
		e.segMu.RUnlock()
		return struct{}{}, active.sync()
	})
	if err == gobreaker.ErrOpenState {
		logger.Warn("bitcask: flush breaker open, skipping this tick")
		return nil
	}
	return err
}

// Optimize implements store.Store: it compacts every segment into a
// single fresh generation, dropping tombstones and superseded
// versions, then atomically swaps the index over.
func (e *Engine) Optimize(limit int, tree string) store.OptimizeResult {
	if !e.optimizing.CompareAndSwap(false, true) {
		return store.OptimizeAlreadyRunning
	}
	defer e.optimizing.Store(false)

	result, err := e.optimizeBreaker.Execute(func() (store.OptimizeResult, error) {
		return e.compact()
	})
	if err == gobreaker.ErrOpenState {
		msg := "optimize breaker open"
		e.optimizeErr.Store(&msg)
		return store.OptimizeAlreadyRunning
	}
	if err != nil {
		msg := err.Error()
		e.optimizeErr.Store(&msg)
		return store.OptimizeBadArgs
	}
	e.optimizeErr.Store(nil)
	return result
}

func (e *Engine) compact() (store.OptimizeResult, error) {
	e.pausingCompaction.Lock()
	defer e.pausingCompaction.Unlock()

	newDir := filepath.Join(e.dir, ".compact")
	if err := os.MkdirAll(newDir, 0755); err != nil {
		return store.OptimizeBadArgs, err
	}
	defer os.RemoveAll(newDir)

	// Decide the compacted segment's final id up front, so the entries
	// written into next already carry it and no second pass over the
	// index (which would deadlock re-locking an already-held shard) is
	// needed to retarget them afterward.
	e.segMu.RLock()
	finalID := uint32(0)
	for id := range e.segments {
		if id >= finalID {
			finalID = id
		}
	}
	e.segMu.RUnlock()
	finalID++ // compacted segment takes a fresh id above everything replaced

	fresh, err := openSegment(newDir, finalID, true)
	if err != nil {
		return store.OptimizeBadArgs, err
	}

	next := newIndex(e.cfg.Height)
	e.idx.forEach(func(k string, entry indexEntry) {
		value, rerr := e.readValue(entry)
		if rerr != nil {
			return // drop unreadable entries rather than fail the whole pass
		}
		rec := &record{flag: entry.flag, ver: entry.ver, key: []byte(k), value: value}
		buf := make([]byte, rec.encodedLen())
		n := rec.encode(buf)
		offset, werr := fresh.append(buf[:n])
		if werr != nil {
			return
		}
		next.put(k, indexEntry{fileID: finalID, offset: offset, length: int32(n), flag: entry.flag, ver: entry.ver, valLen: int32(len(value))})
	})
	if err := fresh.seal(); err != nil {
		fresh.close()
		return store.OptimizeBadArgs, err
	}
	fresh.close()

	e.segMu.Lock()
	oldSegments := e.segments

	if err := os.Rename(segmentPath(newDir, finalID), segmentPath(e.dir, finalID)); err != nil {
		e.segMu.Unlock()
		return store.OptimizeBadArgs, err
	}
	finalized, err := openSegment(e.dir, finalID, false)
	if err != nil {
		e.segMu.Unlock()
		return store.OptimizeBadArgs, err
	}

	for id, seg := range oldSegments {
		if seg == e.active {
			continue // keep taking writes on the active segment
		}
		seg.close()
		_ = os.Remove(segmentPath(e.dir, id))
	}
	active := e.active
	e.segments = map[uint32]*segment{finalID: finalized, active.id: active}
	e.nextID = finalID + 1
	if active.id >= e.nextID {
		e.nextID = active.id + 1
	}
	e.segMu.Unlock()

	e.idx.swap(next)

	return store.OptimizeOK, nil
}

// OptimizeStat implements store.Store.
func (e *Engine) OptimizeStat() string {
	if e.optimizing.Load() {
		e.segMu.RLock()
		id := e.active.id
		e.segMu.RUnlock()
		return fmt.Sprintf("%x", id)
	}
	if msg := e.optimizeErr.Load(); msg != nil && *msg != "" {
		return "fail:" + *msg
	}
	return "success"
}

// Close implements store.Store.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.segMu.Lock()
	defer e.segMu.Unlock()
	var firstErr error
	for _, seg := range e.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// diskFree reports available bytes on the filesystem holding dir.
// Platform statfs access is isolated here so the rest of the engine
// stays portable; see store/bitcask/diskfree_unix.go.
var diskFree = func(dir string) (uint64, error) {
	return 0, nil
}
