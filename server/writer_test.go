package server

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterTransmitsSingleSmallBuffer(t *testing.T) {
	w := newWriter()
	w.addIov([]byte("END\r\n"))

	var dst bytes.Buffer
	res, err := w.transmit(&dst)
	require.NoError(t, err)
	assert.Equal(t, writeComplete, res)
	assert.Equal(t, "END\r\n", dst.String())
	assert.EqualValues(t, 5, w.written)
}

func TestWriterSplitsFirstMsghdrAtPerMessageCap(t *testing.T) {
	w := newWriter()
	big := bytes.Repeat([]byte("a"), perMessageCap+100)
	w.addIov(big)

	require.Len(t, w.msg, 2)
	assert.Equal(t, perMessageCap, w.msg[0].bytes)
	assert.Equal(t, 100, w.msg[1].bytes)
}

func TestWriterDoesNotCapSecondMsghdrBytes(t *testing.T) {
	w := newWriter()
	w.addIov(bytes.Repeat([]byte("a"), perMessageCap)) // fills msg[0] exactly
	w.addIov(bytes.Repeat([]byte("b"), perMessageCap+500))

	require.GreaterOrEqual(t, len(w.msg), 2)
	// second msghdr onward is capped only by iovMax entries, not bytes
	assert.Equal(t, perMessageCap+500, w.msg[1].bytes)
}

func TestWriterStartsNewMsghdrPastIovMax(t *testing.T) {
	w := newWriter()
	for i := 0; i < iovMax+5; i++ {
		w.addIov([]byte("x"))
	}
	require.GreaterOrEqual(t, len(w.msg), 2)
	assert.Equal(t, iovMax, w.msg[0].iovCount)
}

// shortWriter returns one nil-error short write (on the first call
// longer than shortFor), then accepts every later write whole,
// exercising transmit's byte-exact resume across partial writes.
type shortWriter struct {
	buf      bytes.Buffer
	shortFor int // bytes to accept before short-writing, -1 once exhausted
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if s.shortFor >= 0 && s.shortFor < len(p) {
		n := s.shortFor
		s.shortFor = -1
		s.buf.Write(p[:n])
		return n, nil
	}
	s.buf.Write(p)
	return len(p), nil
}

func TestWriterResumesAfterShortWrite(t *testing.T) {
	w := newWriter()
	w.addIov([]byte("0123456789"))

	dst := &shortWriter{shortFor: 4}
	res, err := w.transmit(dst)
	require.NoError(t, err)
	assert.Equal(t, writeSoftError, res)
	assert.Equal(t, "0123", dst.buf.String())

	res, err = w.transmit(dst)
	require.NoError(t, err)
	assert.Equal(t, writeComplete, res)
	assert.Equal(t, "0123456789", dst.buf.String())
}

type erroringWriter struct{}

func (erroringWriter) Write(p []byte) (int, error) {
	return 0, errors.New("boom")
}

func TestWriterHardErrorPropagates(t *testing.T) {
	w := newWriter()
	w.addIov([]byte("data"))

	res, err := w.transmit(erroringWriter{})
	assert.Equal(t, writeHardError, res)
	assert.Error(t, err)
}

func TestWriterResetClearsState(t *testing.T) {
	w := newWriter()
	w.addIov([]byte("x"))
	w.written = 99
	w.reset()

	assert.False(t, w.pending())
	assert.Zero(t, w.written)
	assert.Empty(t, w.iov)
	assert.Empty(t, w.msg)
}

func TestWriterPendingReflectsDrainProgress(t *testing.T) {
	w := newWriter()
	assert.False(t, w.pending())
	w.addIov([]byte("x"))
	assert.True(t, w.pending())

	var dst bytes.Buffer
	_, _ = w.transmit(&dst)
	assert.False(t, w.pending())
}
