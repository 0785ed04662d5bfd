package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SegmentSize is the rollover threshold for one WAL segment file,
// matching the teacher's 16MiB default.
const SegmentSize = 16 * 1024 * 1024

// Segment is one `wal_<id>.log` file, opened append-only.
//
// Grounded on DaemonDB/storage_engine/wal_manager/wal_segment.go.
type Segment struct {
	ID       uint64
	FilePath string

	mu   sync.Mutex
	file *os.File
	size int64
}

func newSegment(id uint64, dir string) *Segment {
	name := fmt.Sprintf("wal_%016x.log", id)
	return &Segment{ID: id, FilePath: filepath.Join(dir, name)}
}

func (s *Segment) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return nil
	}
	f, err := os.OpenFile(s.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.size = stat.Size()
	return nil
}

// append writes framed bytes (the caller appends its own CRC trailer)
// and adds them to the tracked size; isFull reports whether the
// segment has reached SegmentSize.
func (s *Segment) append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("wal: segment %d not open", s.ID)
	}
	n, err := s.file.Write(data)
	if err != nil {
		return err
	}
	s.size += int64(n)
	return nil
}

func (s *Segment) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("wal: segment %d not open", s.ID)
	}
	return s.file.Sync()
}

func (s *Segment) isFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size >= SegmentSize
}

func (s *Segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
