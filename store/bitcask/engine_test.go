package bitcask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beansdb-go/beansdb/store"
)

func openTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSetGetRoundTrip(t *testing.T) {
	e := openTestEngine(t, Config{})

	res, err := e.Set([]byte("foo"), []byte("bar"), 42, 0)
	require.NoError(t, err)
	assert.Equal(t, store.Stored, res)

	item, err := e.Get([]byte("foo"))
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, []byte("bar"), item.Value)
	assert.EqualValues(t, 42, item.Flag)
}

func TestGetMissingKey(t *testing.T) {
	e := openTestEngine(t, Config{})

	item, err := e.Get([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestSetOverwritesValue(t *testing.T) {
	e := openTestEngine(t, Config{})

	_, err := e.Set([]byte("k"), []byte("v1"), 0, 0)
	require.NoError(t, err)
	_, err = e.Set([]byte("k"), []byte("v2"), 0, 0)
	require.NoError(t, err)

	item, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), item.Value)
}

func TestAppendToExistingKey(t *testing.T) {
	e := openTestEngine(t, Config{})

	_, err := e.Set([]byte("k"), []byte("hello"), 7, 0)
	require.NoError(t, err)

	res, err := e.Append([]byte("k"), []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, store.Stored, res)

	item, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("helloworld"), item.Value)
	assert.EqualValues(t, 7, item.Flag)
}

func TestAppendToMissingKeyNotStored(t *testing.T) {
	e := openTestEngine(t, Config{})

	res, err := e.Append([]byte("absent"), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, store.NotStored, res)
}

func TestIncrCreatesAndAccumulates(t *testing.T) {
	e := openTestEngine(t, Config{})

	_, err := e.Incr([]byte("ctr"), 10)
	require.NoError(t, err)

	next, err := e.Incr([]byte("ctr"), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 15, next)

	item, err := e.Get([]byte("ctr"))
	require.NoError(t, err)
	assert.Equal(t, []byte("15"), item.Value)
}

func TestIncrNonNumericFails(t *testing.T) {
	e := openTestEngine(t, Config{})

	_, err := e.Set([]byte("s"), []byte("not-a-number"), 0, 0)
	require.NoError(t, err)

	_, err = e.Incr([]byte("s"), 1)
	assert.ErrorIs(t, err, store.ErrNotNumeric)
}

func TestDeleteRemovesKey(t *testing.T) {
	e := openTestEngine(t, Config{})

	_, err := e.Set([]byte("k"), []byte("v"), 0, 0)
	require.NoError(t, err)

	ok, err := e.Delete([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	item, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestDeleteMissingKey(t *testing.T) {
	e := openTestEngine(t, Config{})

	ok, err := e.Delete([]byte("nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCountTracksCurrAndTotal(t *testing.T) {
	e := openTestEngine(t, Config{})

	_, _ = e.Set([]byte("a"), []byte("1"), 0, 0)
	_, _ = e.Set([]byte("b"), []byte("2"), 0, 0)
	_, _ = e.Set([]byte("a"), []byte("3"), 0, 0) // overwrite, not a new key
	_, _ = e.Delete([]byte("b"))

	curr, total := e.Count()
	assert.EqualValues(t, 1, curr)
	assert.EqualValues(t, 3, total) // delete doesn't bump totalItems, only writes do
}

func TestFlushSucceeds(t *testing.T) {
	e := openTestEngine(t, Config{})

	_, err := e.Set([]byte("k"), []byte("v"), 0, 0)
	require.NoError(t, err)

	assert.NoError(t, e.Flush(0, 0))
}

func TestOptimizeCompactsAndPreservesLiveData(t *testing.T) {
	e := openTestEngine(t, Config{SegmentMaxBytes: 64})

	for i := 0; i < 50; i++ {
		key := []byte{byte('a' + i%26), byte(i)}
		_, err := e.Set(key, []byte("value-that-is-reasonably-long"), 0, 0)
		require.NoError(t, err)
	}
	_, err := e.Delete([]byte{'a', 0})
	require.NoError(t, err)

	res := e.Optimize(0, "")
	assert.Equal(t, store.OptimizeOK, res)
	assert.Equal(t, "success", e.OptimizeStat())

	item, err := e.Get([]byte{'a', 0})
	require.NoError(t, err)
	assert.Nil(t, item, "deleted key must stay deleted after compaction")

	item, err = e.Get([]byte{'a', 26})
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, []byte("value-that-is-reasonably-long"), item.Value)
}

func TestOptimizeRejectsConcurrentRun(t *testing.T) {
	e := openTestEngine(t, Config{})
	e.optimizing.Store(true)
	defer e.optimizing.Store(false)

	assert.Equal(t, store.OptimizeAlreadyRunning, e.Optimize(0, ""))
}

func TestReplayOnReopenRestoresData(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, Config{})
	require.NoError(t, err)

	_, err = e.Set([]byte("persisted"), []byte("value"), 3, 0)
	require.NoError(t, err)
	_, err = e.Set([]byte("gone"), []byte("x"), 0, 0)
	require.NoError(t, err)
	_, err = e.Delete([]byte("gone"))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := Open(dir, Config{})
	require.NoError(t, err)
	defer reopened.Close()

	item, err := reopened.Get([]byte("persisted"))
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, []byte("value"), item.Value)
	assert.EqualValues(t, 3, item.Flag)

	item, err = reopened.Get([]byte("gone"))
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestSegmentRolloverAcrossMultipleFiles(t *testing.T) {
	e := openTestEngine(t, Config{SegmentMaxBytes: 32})

	for i := 0; i < 20; i++ {
		key := []byte{byte(i)}
		_, err := e.Set(key, []byte("0123456789"), 0, 0)
		require.NoError(t, err)
	}

	e.segMu.RLock()
	numSegments := len(e.segments)
	e.segMu.RUnlock()
	assert.Greater(t, numSegments, 1, "small SegmentMaxBytes should force rollover")

	for i := 0; i < 20; i++ {
		item, err := e.Get([]byte{byte(i)})
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, []byte("0123456789"), item.Value)
	}
}

func TestStatReportsCounts(t *testing.T) {
	e := openTestEngine(t, Config{})

	_, err := e.Set([]byte("k"), []byte("v"), 0, 0)
	require.NoError(t, err)

	st := e.Stat()
	assert.EqualValues(t, 1, st.CurrItems)
	assert.EqualValues(t, 1, st.TotalItems)
	assert.Greater(t, st.TotalSpace, uint64(0))
}

func TestCloseIsIdempotent(t *testing.T) {
	e, err := Open(t.TempDir(), Config{})
	require.NoError(t, err)

	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}
