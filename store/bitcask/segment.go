package bitcask

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jackc/puddle/v2"
)

const maxReadHandlesPerSegment = int32(4)

// segment is one data file: an append-only log while it is the active
// write target, read-only once rotated.
type segment struct {
	id   uint32
	path string

	writeMu sync.Mutex
	writeFH *os.File // nil once sealed (read-only)
	size    int64

	readHandles *puddle.Pool[*os.File]
}

func openSegment(dir string, id uint32, forWrite bool) (*segment, error) {
	path := segmentPath(dir, id)
	s := &segment{id: id, path: path}

	if forWrite {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		s.writeFH = f
		s.size = info.Size()
	}

	pool, err := puddle.NewPool(&puddle.Config[*os.File]{
		Constructor: func(_ context.Context) (*os.File, error) {
			return os.Open(path)
		},
		Destructor: func(f *os.File) { _ = f.Close() },
		MaxSize:    maxReadHandlesPerSegment,
	})
	if err != nil {
		if s.writeFH != nil {
			s.writeFH.Close()
		}
		return nil, err
	}
	s.readHandles = pool
	return s, nil
}

func segmentPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%08d.data", id))
}

// append writes buf (one encoded record) to the active segment and
// returns the offset it was written at. The write is synchronous from
// the caller's point of view; Flush controls when it is fsync'd.
func (s *segment) append(buf []byte) (offset int64, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeFH == nil {
		return 0, fmt.Errorf("bitcask: segment %d is sealed", s.id)
	}
	offset = s.size
	n, err := s.writeFH.Write(buf)
	if err != nil {
		return 0, err
	}
	s.size += int64(n)
	return offset, nil
}

func (s *segment) sync() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeFH == nil {
		return nil
	}
	return s.writeFH.Sync()
}

// readAt acquires a pooled read handle and pread's length bytes at
// offset, releasing the handle before returning.
func (s *segment) readAt(offset int64, length int32) ([]byte, error) {
	ctx := context.Background()
	res, err := s.readHandles.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	buf := make([]byte, length)
	if _, err := res.Value().ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *segment) seal() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeFH == nil {
		return nil
	}
	err := s.writeFH.Sync()
	closeErr := s.writeFH.Close()
	s.writeFH = nil
	if err != nil {
		return err
	}
	return closeErr
}

func (s *segment) close() error {
	s.readHandles.Close()
	return s.seal()
}

func (s *segment) diskSize() int64 {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.size
}
