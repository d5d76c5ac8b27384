package server

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/beansdb-go/beansdb/lib/logger"
	"github.com/beansdb-go/beansdb/lib/utils"
	"github.com/beansdb-go/beansdb/protocol"
	"github.com/beansdb-go/beansdb/store"
)

// serverVersion is reported by the `version` command.
const serverVersion = "1.2.3"

// dispatch parses and routes one already-delimited line. A panic
// inside a command handler is recovered and turned into a
// SERVER_ERROR reply rather than taking the connection down.
func (c *Conn) dispatch(line []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("%s: panic handling %q: %v\n%s", c.remote, line, r, debug.Stack())
			c.reply(protocol.ServerError("internal error"))
		}
	}()

	start := time.Now()
	lineStr := string(line)

	var toks [protocol.MaxTokens]protocol.Token
	ntokens := protocol.Tokenize(line, toks[:])
	noreply, ntokens := protocol.SplitNoReply(toks[:], ntokens)
	c.noreply = noreply

	switch string(toks[0].Value) {
	case "get", "gets":
		c.cmdGet(toks[:], ntokens)
	case "set":
		c.cmdStore(toks[:], ntokens, commandSet)
	case "append":
		c.cmdStore(toks[:], ntokens, commandAppend)
	case "incr":
		c.cmdIncr(toks[:], ntokens)
	case "delete":
		c.cmdDelete(toks[:], ntokens)
	case "stats":
		c.cmdStats(toks[:], ntokens)
	case "flush_all":
		c.cmdFlushAll(toks[:], ntokens)
	case "optimize_stat":
		c.cmdOptimizeStat(ntokens)
	case "verbosity":
		c.cmdVerbosity(toks[:], ntokens)
	case "version":
		c.cmdVersion(ntokens)
	case "quit":
		c.cmdQuit(ntokens)
	case "stopme":
		c.cmdStopme(ntokens)
	default:
		c.reply(protocol.ReplyError)
	}

	elapsed := time.Since(start)
	if c.srv.cfg.SlowCmdMs > 0 && elapsed >= time.Duration(c.srv.cfg.SlowCmdMs)*time.Millisecond {
		c.srv.stats.SlowCommand()
	}
	if ntokens >= 3 {
		logger.Access(c.remote, lineStr, float64(elapsed.Microseconds())/1000.0)
	}
}

// collectKeys gathers every key token off a get/gets line, continuing
// to tokenize the terminal marker's remainder so a line with more
// keys than fit in one Token array is still fully consumed.
func collectKeys(toks []protocol.Token, ntokens int) [][]byte {
	var keys [][]byte
	for i := 1; i < ntokens-1; i++ {
		keys = append(keys, toks[i].Value)
	}
	rest := toks[ntokens-1].Value
	for len(rest) > 0 {
		var more [protocol.MaxTokens]protocol.Token
		n := protocol.Tokenize(rest, more[:])
		for i := 0; i < n-1; i++ {
			keys = append(keys, more[i].Value)
		}
		rest = more[n-1].Value
	}
	return keys
}

func (c *Conn) cmdGet(toks []protocol.Token, ntokens int) {
	if ntokens < 3 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	keys := collectKeys(toks, ntokens)
	c.wr.reset()
	for _, key := range keys {
		item, err := c.srv.store.Get(key)
		c.srv.stats.CommandGet(err == nil && item != nil)
		if err != nil || item == nil {
			continue
		}
		header := fmt.Sprintf("VALUE %s %d %d\r\n", key, item.Flag, len(item.Value))
		c.wr.addIov([]byte(header))
		if len(item.Value) > 0 {
			c.wr.addIov(item.Value)
		}
		c.wr.addIov(crlfBytes)
		c.ilist.Add(item)
	}
	c.wr.addIov(endBytes)
	c.state = StateMwrite
}

func (c *Conn) cmdStore(toks []protocol.Token, ntokens int, comm itemCommand) {
	if ntokens != 6 && ntokens != 7 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	key := toks[1].Value
	flag, errF := protocol.ParseUint32(toks[2].Value)
	ver, errV := protocol.ParseInt64(toks[3].Value)
	length, errL := protocol.ParseInt32(toks[4].Value)
	if errF != nil || errV != nil || errL != nil || length < 0 || !utils.ValidKey(key) {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}

	if int(length) > c.srv.cfg.MaxValueBytes {
		c.sbytes = int(length) + 2
		c.swallowReply = protocol.ServerError(protocol.ErrOutOfMemory)
		c.state = StateSwallow
		return
	}

	c.item = &pendingItem{
		key:  append([]byte(nil), key...),
		flag: flag,
		ver:  ver,
		raw:  make([]byte, int(length)+2),
	}
	c.itemComm = comm
	c.rlbytes = len(c.item.raw)
	c.state = StateNread
}

// completeNread validates the trailing CRLF of a filled item, calls
// through to the store, and replies — the nread→complete transition.
func (c *Conn) completeNread() bool {
	raw := c.item.raw
	if raw[len(raw)-2] != '\r' || raw[len(raw)-1] != '\n' {
		c.item = nil
		c.reply(protocol.ClientError(protocol.ErrBadDataChunk))
		return true
	}
	value := raw[:len(raw)-2]
	key, flag, ver, comm := c.item.key, c.item.flag, c.item.ver, c.itemComm
	c.item = nil

	var result store.SetResult
	var err error
	if comm == commandAppend {
		result, err = c.srv.store.Append(key, value)
	} else {
		result, err = c.srv.store.Set(key, value, flag, ver)
	}
	c.srv.stats.CommandSet()
	if err != nil {
		logger.Warnf("store error on %s: %v", c.remote, err)
		c.reply(protocol.ServerError("internal error"))
		return true
	}
	c.replyStatus(result)
	return true
}

func (c *Conn) replyStatus(result store.SetResult) {
	switch result {
	case store.Stored:
		c.reply(protocol.ReplyStored)
	case store.Exists:
		c.reply(protocol.ReplyExists)
	case store.NotFound:
		c.reply(protocol.ReplyNotFound)
	default:
		c.reply(protocol.ReplyNotStored)
	}
}

func (c *Conn) cmdIncr(toks []protocol.Token, ntokens int) {
	if ntokens != 4 && ntokens != 5 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	delta, err := protocol.ParseUint64(toks[2].Value)
	if err != nil {
		c.reply(protocol.ClientError(protocol.ErrNotNumeric))
		return
	}
	next, err := c.srv.store.Incr(toks[1].Value, delta)
	if err != nil {
		if err == store.ErrNotNumeric {
			c.reply(protocol.ClientError(protocol.ErrNotNumeric))
			return
		}
		c.reply(protocol.ServerError("internal error"))
		return
	}
	c.reply(strconv.FormatUint(next, 10) + "\r\n")
}

func (c *Conn) cmdDelete(toks []protocol.Token, ntokens int) {
	if ntokens != 3 && ntokens != 4 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	ok, err := c.srv.store.Delete(toks[1].Value)
	c.srv.stats.CommandDelete()
	if err != nil {
		c.reply(protocol.ServerError("internal error"))
		return
	}
	if ok {
		c.reply(protocol.ReplyDeleted)
	} else {
		c.reply(protocol.ReplyNotFound)
	}
}

func (c *Conn) cmdFlushAll(toks []protocol.Token, ntokens int) {
	if ntokens < 2 || ntokens > 4 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	limit := 0
	tree := ""
	if ntokens >= 3 {
		v, err := protocol.ParseInt32(toks[1].Value)
		if err != nil {
			c.reply(protocol.ClientError(protocol.ErrBadFormat))
			return
		}
		limit = int(v)
	}
	if ntokens >= 4 {
		tree = string(toks[2].Value)
	}
	switch c.srv.store.Optimize(limit, tree) {
	case store.OptimizeOK:
		c.reply(protocol.ReplyOK)
	case store.OptimizeReadOnly:
		c.reply("ERROR READ_ONLY\r\n")
	case store.OptimizeAlreadyRunning:
		c.reply("ERROR OPTIMIZE_RUNNING\r\n")
	default:
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
	}
}

func (c *Conn) cmdOptimizeStat(ntokens int) {
	if ntokens != 2 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	c.reply(c.srv.store.OptimizeStat() + "\r\n")
}

func (c *Conn) cmdVerbosity(toks []protocol.Token, ntokens int) {
	if ntokens != 3 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	n, err := protocol.ParseInt32(toks[1].Value)
	if err != nil {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	logger.SetVerbosity(n)
	c.reply(protocol.ReplyOK)
}

func (c *Conn) cmdVersion(ntokens int) {
	if ntokens != 2 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	c.reply(protocol.Version(serverVersion))
}

func (c *Conn) cmdQuit(ntokens int) {
	if ntokens != 2 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	c.state = StateClosing
}

func (c *Conn) cmdStopme(ntokens int) {
	if ntokens != 2 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	if !c.srv.cfg.StopEnable {
		c.reply(protocol.ReplyError)
		return
	}
	c.srv.requestShutdown()
	c.reply(protocol.ReplyOK)
}
