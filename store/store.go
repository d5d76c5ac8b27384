// Package store declares the storage-engine boundary the front end
// treats as an opaque, thread-safe collaborator. store/bitcask
// provides a concrete implementation; the server package only ever
// depends on this interface.
package store

import "errors"

// ErrNotNumeric is returned by Incr when the existing value isn't a
// decimal integer, surfaced by the caller as CLIENT_ERROR.
var ErrNotNumeric = errors.New("store: existing value is not numeric")

// SetResult mirrors the storage layer's four-way set/append return.
// Append returns this same type as Set rather than a narrower result,
// so both share one reply-mapping path.
type SetResult int

// SetResult values, in dispatch-table order.
const (
	Stored SetResult = iota
	Exists
	NotFound
	NotStored
)

func (r SetResult) String() string {
	switch r {
	case Stored:
		return "STORED"
	case Exists:
		return "EXISTS"
	case NotFound:
		return "NOT_FOUND"
	case NotStored:
		return "NOT_STORED"
	default:
		return "UNKNOWN"
	}
}

// Item is what Get returns: the front end only ever reads these
// fields to build a VALUE reply line, never mutates them.
type Item struct {
	Key   []byte
	Value []byte
	Flag  uint32
	Ver   int64
}

// Stat answers the `stats` report's item-count and space fields:
// curr_items, total_items, avail_space, total_space.
type Stat struct {
	CurrItems  uint64
	TotalItems uint64
	AvailSpace uint64
	TotalSpace uint64
}

// OptimizeResult mirrors the storage layer's optimize {0,-1,-2,-3}
// return.
type OptimizeResult int

// OptimizeResult values.
const (
	OptimizeOK OptimizeResult = iota
	OptimizeReadOnly
	OptimizeAlreadyRunning
	OptimizeBadArgs
)

// Store is the interface the front end consumes. All methods must be
// safe for concurrent use: the engine provides its own internal
// sharding, the front end does not serialize calls beyond
// per-connection ordering.
type Store interface {
	Set(key, value []byte, flag uint32, ver int64) (SetResult, error)
	Append(key, value []byte) (SetResult, error)
	Incr(key []byte, delta uint64) (uint64, error)
	Delete(key []byte) (bool, error)
	Get(key []byte) (*Item, error)
	Count() (curr uint64, total uint64)
	Stat() Stat
	Flush(limitKB, periodSecs int) error
	Optimize(limit int, tree string) OptimizeResult
	OptimizeStat() string
	Close() error
}
