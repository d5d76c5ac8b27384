package server

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/beansdb-go/beansdb/protocol"
)

// cmdStats implements the `stats [reset]` command.
func (c *Conn) cmdStats(toks []protocol.Token, ntokens int) {
	if ntokens == 3 && string(toks[1].Value) == "reset" {
		c.srv.stats.Reset()
		c.reply(protocol.ReplyReset)
		return
	}
	if ntokens != 2 {
		c.reply(protocol.ClientError(protocol.ErrBadFormat))
		return
	}
	c.wr.reset()
	for _, line := range buildStatsReport(c.srv) {
		c.wr.addIov([]byte(line))
	}
	c.wr.addIov(endBytes)
	c.state = StateMwrite
}

// buildStatsReport assembles the mandatory metrics in a fixed order
// for wire compatibility.
func buildStatsReport(srv *Server) []string {
	snap := srv.stats.Snapshot()
	curr, total := srv.store.Count()
	st := srv.store.Stat()

	var ru syscall.Rusage
	_ = syscall.Getrusage(syscall.RUSAGE_SELF, &ru)

	return []string{
		statLine("pid", os.Getpid()),
		statLine("uptime", int64(time.Since(snap.Started).Seconds())),
		statLine("time", time.Now().Unix()),
		statLine("version", serverVersion),
		statLine("pointer_size", strconv.IntSize),
		statLine("rusage_user", ru.Utime.Sec),
		statLine("rusage_system", ru.Stime.Sec),
		statLine("rusage_maxrss", ru.Maxrss),
		statLine("item_buf_size", srv.cfg.ItemBufferSize),
		statLine("curr_connections", snap.CurrConns),
		statLine("total_connections", snap.TotalConns),
		statLine("connection_structures", snap.ConnStructs),
		statLine("cmd_get", snap.CmdGet),
		statLine("cmd_set", snap.CmdSet),
		statLine("cmd_delete", snap.CmdDelete),
		statLine("slow_cmd", snap.SlowCmds),
		statLine("get_hits", snap.GetHits),
		statLine("get_misses", snap.GetMisses),
		statLine("curr_items", curr),
		statLine("total_items", total),
		statLine("avail_space", st.AvailSpace),
		statLine("total_space", st.TotalSpace),
		statLine("bytes_read", snap.BytesRead),
		statLine("bytes_written", snap.BytesWritten),
		statLine("threads", srv.cfg.Threads),
	}
}

func statLine(name string, v interface{}) string {
	return fmt.Sprintf("STAT %s %v\r\n", name, v)
}
