// Package stats holds the process-wide counters reported by the
// `stats` command: monotonically increasing totals, all updates and
// reads guarded by one mutex, held only for the duration of the
// increment or snapshot.
package stats

import (
	"sync"
	"time"
)

// Counters is the process-wide, mutex-protected stat block.
type Counters struct {
	mu sync.Mutex

	currConns   int64
	totalConns  int64
	connStructs int64

	cmdGet    int64
	cmdSet    int64
	cmdDelete int64
	slowCmds  int64

	getHits   int64
	getMisses int64

	bytesRead    int64
	bytesWritten int64

	started time.Time
}

// New creates a Counters block with its start time recorded.
func New() *Counters {
	return &Counters{started: time.Now()}
}

// ConnOpened records a freshly accepted connection.
func (c *Counters) ConnOpened(freshlyAllocated bool) {
	c.mu.Lock()
	c.currConns++
	c.totalConns++
	if freshlyAllocated {
		c.connStructs++
	}
	c.mu.Unlock()
}

// ConnClosed records a connection leaving, whether it is freed or
// returned to the freelist.
func (c *Counters) ConnClosed() {
	c.mu.Lock()
	c.currConns--
	c.mu.Unlock()
}

// CommandGet increments cmd_get and, depending on hit, get_hits/get_misses.
func (c *Counters) CommandGet(hit bool) {
	c.mu.Lock()
	c.cmdGet++
	if hit {
		c.getHits++
	} else {
		c.getMisses++
	}
	c.mu.Unlock()
}

// CommandSet increments cmd_set.
func (c *Counters) CommandSet() {
	c.mu.Lock()
	c.cmdSet++
	c.mu.Unlock()
}

// CommandDelete increments cmd_delete.
func (c *Counters) CommandDelete() {
	c.mu.Lock()
	c.cmdDelete++
	c.mu.Unlock()
}

// SlowCommand increments slow_cmd, called when a handler's elapsed
// time exceeds the configured threshold.
func (c *Counters) SlowCommand() {
	c.mu.Lock()
	c.slowCmds++
	c.mu.Unlock()
}

// BytesRead adds n to bytes_read.
func (c *Counters) BytesRead(n int64) {
	c.mu.Lock()
	c.bytesRead += n
	c.mu.Unlock()
}

// BytesWritten adds n to bytes_written.
func (c *Counters) BytesWritten(n int64) {
	c.mu.Lock()
	c.bytesWritten += n
	c.mu.Unlock()
}

// Reset implements `stats reset`: it clears the counters that
// accumulate over the process lifetime but leaves curr_conns,
// conn_structs and started untouched.
func (c *Counters) Reset() {
	c.mu.Lock()
	c.totalConns = 0
	c.cmdGet = 0
	c.cmdSet = 0
	c.cmdDelete = 0
	c.slowCmds = 0
	c.getHits = 0
	c.getMisses = 0
	c.bytesRead = 0
	c.bytesWritten = 0
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy safe to read without the lock.
type Snapshot struct {
	CurrConns   int64
	TotalConns  int64
	ConnStructs int64
	CmdGet      int64
	CmdSet      int64
	CmdDelete   int64
	SlowCmds    int64
	GetHits     int64
	GetMisses   int64
	BytesRead   int64
	BytesWritten int64
	Started     time.Time
}

// Snapshot copies out all counters under the lock.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		CurrConns:    c.currConns,
		TotalConns:   c.totalConns,
		ConnStructs:  c.connStructs,
		CmdGet:       c.cmdGet,
		CmdSet:       c.cmdSet,
		CmdDelete:    c.cmdDelete,
		SlowCmds:     c.slowCmds,
		GetHits:      c.getHits,
		GetMisses:    c.getMisses,
		BytesRead:    c.bytesRead,
		BytesWritten: c.bytesWritten,
		Started:      c.started,
	}
}
