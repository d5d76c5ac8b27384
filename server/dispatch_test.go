package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beansdb-go/beansdb/config"
	"github.com/beansdb-go/beansdb/stats"
	"github.com/beansdb-go/beansdb/store"
)

func newTestServer(st *fakeStore) *Server {
	cfg := &config.ServerProperties{
		ReadBufferSize:  64,
		MaxValueBytes:   1 << 20,
		ItemBufferSize:  8 << 10,
		ConnFreelistCap: 16,
		SlowCmdMs:       1000,
		StopEnable:      true,
		Threads:         4,
	}
	return New(cfg, st, stats.New())
}

// runScript feeds script through a full Conn.serve() pass and returns
// whatever was written back, exercising the real state machine
// end-to-end (tokenize -> dispatch -> store -> writer) rather than
// calling dispatch in isolation.
func runScript(t *testing.T, srv *Server, script string) string {
	t.Helper()
	fc := newFakeConn(script)
	c := srv.connNew(fc, "test-client")
	c.serve()
	return fc.out.String()
}

func TestSetThenGetRoundTrip(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "set foo 0 0 3\r\nbar\r\nget foo\r\n")
	assert.Contains(t, out, "STORED\r\n")
	assert.Contains(t, out, "VALUE foo 0 3\r\nbar\r\nEND\r\n")
}

func TestGetMissingKeyReturnsEndOnly(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "get nothere\r\n")
	assert.Equal(t, "END\r\n", out)
}

func TestSetNoreplySuppressesResponse(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "set foo 0 0 3 noreply\r\nbar\r\nget foo\r\n")
	assert.NotContains(t, out, "STORED")
	assert.Contains(t, out, "VALUE foo 0 3\r\nbar\r\nEND\r\n")
}

func TestPipelinedCommandsProcessInOrder(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv,
		"set a 0 0 1\r\nx\r\nset b 0 0 1\r\ny\r\ndelete a\r\nget a\r\nget b\r\n")
	assert.Equal(t,
		"STORED\r\nSTORED\r\nDELETED\r\nEND\r\nVALUE b 0 1\r\ny\r\nEND\r\n",
		out)
}

func TestAppendToMissingKey(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "append missing 0 0 1\r\nx\r\n")
	assert.Equal(t, "NOT_STORED\r\n", out)
}

func TestAppendToExistingKey(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "set k 0 0 2\r\nhi\r\nappend k 0 0 1\r\n!\r\nget k\r\n")
	assert.Contains(t, out, "VALUE k 0 3\r\nhi!\r\nEND\r\n")
}

func TestIncrOnExistingNumericKey(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "set n 0 0 2\r\n10\r\nincr n 5\r\n")
	assert.Contains(t, out, "15\r\n")
}

func TestIncrNonNumericIsClientError(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "set n 0 0 3\r\nabc\r\nincr n 1\r\n")
	assert.Contains(t, out, "CLIENT_ERROR")
}

func TestDeleteMissingKeyNotFound(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "delete nope\r\n")
	assert.Equal(t, "NOT_FOUND\r\n", out)
}

func TestVersionReplies(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "version\r\n")
	assert.Equal(t, "VERSION "+serverVersion+"\r\n", out)
}

func TestUnknownCommandIsError(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "bogus\r\n")
	assert.Equal(t, "ERROR\r\n", out)
}

func TestMalformedSetIsClientError(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "set onlykey\r\n")
	assert.Contains(t, out, "CLIENT_ERROR")
}

func TestOversizeValueSwallowedAndServerError(t *testing.T) {
	cfg := &config.ServerProperties{
		ReadBufferSize:  64,
		MaxValueBytes:   4,
		ItemBufferSize:  1024,
		ConnFreelistCap: 16,
		StopEnable:      true,
	}
	srv := New(cfg, newFakeStore(), stats.New())
	out := runScript(t, srv, "set k 0 0 100\r\n"+string(make([]byte, 100))+"\r\nversion\r\n")
	assert.Contains(t, out, "SERVER_ERROR")
	assert.Contains(t, out, "VERSION")
}

func TestStatsReportIncludesExpectedFields(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "stats\r\n")
	assert.Contains(t, out, "STAT pid ")
	assert.Contains(t, out, "STAT curr_items 0")
	assert.Contains(t, out, "END\r\n")
}

func TestStatsResetRepliesReset(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "stats reset\r\n")
	assert.Equal(t, "RESET\r\n", out)
}

func TestFlushAllRunsOptimize(t *testing.T) {
	fs := newFakeStore()
	srv := newTestServer(fs)
	out := runScript(t, srv, "flush_all\r\n")
	assert.Equal(t, "OK\r\n", out)
	assert.Equal(t, 1, fs.optimizeCalls)
}

func TestQuitClosesConnectionWithoutReply(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "quit\r\nget whatever\r\n")
	assert.Empty(t, out)
}

func TestStopmeDisabledIsError(t *testing.T) {
	cfg := &config.ServerProperties{
		ReadBufferSize:  64,
		MaxValueBytes:   1 << 20,
		ConnFreelistCap: 16,
		StopEnable:      false,
	}
	srv := New(cfg, newFakeStore(), stats.New())
	out := runScript(t, srv, "stopme\r\n")
	assert.Equal(t, "ERROR\r\n", out)
	assert.False(t, srv.ShuttingDown())
}

func TestStopmeEnabledRequestsShutdown(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "stopme\r\n")
	assert.Equal(t, "OK\r\n", out)
	assert.True(t, srv.ShuttingDown())
}

// panicStore panics on Get to exercise dispatch's recover guard.
type panicStore struct{ fakeStore }

func (p *panicStore) Get(key []byte) (*store.Item, error) {
	panic("boom")
}

func TestDispatchRecoversFromHandlerPanic(t *testing.T) {
	ps := &panicStore{fakeStore: *newFakeStore()}
	cfg := &config.ServerProperties{
		ReadBufferSize:  64,
		MaxValueBytes:   1 << 20,
		ConnFreelistCap: 16,
	}
	srv := New(cfg, ps, stats.New())
	out := runScript(t, srv, "get k\r\nversion\r\n")
	assert.Contains(t, out, "SERVER_ERROR")
	assert.Contains(t, out, "VERSION")
}

func TestVerbosityAcceptsIntegerLevel(t *testing.T) {
	srv := newTestServer(newFakeStore())
	out := runScript(t, srv, "verbosity 2\r\n")
	assert.Equal(t, "OK\r\n", out)
}

func TestConnectionRecycledThroughFreelist(t *testing.T) {
	srv := newTestServer(newFakeStore())
	require.Equal(t, 0, srv.freelist.Len())

	_ = runScript(t, srv, "version\r\n")
	assert.Equal(t, 1, srv.freelist.Len(), "close() should return the conn record to the freelist")

	out := runScript(t, srv, "version\r\n")
	assert.Equal(t, "VERSION "+serverVersion+"\r\n", out)
}
