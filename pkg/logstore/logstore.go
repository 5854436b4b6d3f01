// Package logstore is the concrete, file-backed storageio.LogManager the
// recovery manager is exercised against in tests and the demo CLI. It knows
// nothing about log record structure, only opaque, length-prefixed payloads
// keyed by the LSN it assigns on Append: LSNs are byte offsets into the
// file, writes are buffered and reach the file when the buffer fills or on
// FlushTo, Fetch, ScanFrom or Close, and a
// sequential reader walks the same length-prefixed frames the writer
// produces.
package logstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/primitives"
	"github.com/junjiexh/rookiedb/pkg/storageio"
)

// sizePrefixBytes is the width of the length prefix in front of every
// frame: [size:4][payload]. size counts the whole frame, prefix included.
const sizePrefixBytes = 4

// maxFrameSize guards against a corrupt length prefix sending the reader
// off to allocate gigabytes.
const maxFrameSize = 64 * 1024 * 1024

// FileLogManager is a length-prefixed, append-only log file with buffered
// writes and byte-offset LSNs. It is safe for concurrent Append calls,
// serializing assignment internally so callers never need to coordinate LSN
// assignment themselves.
type FileLogManager struct {
	mu sync.Mutex

	file         *os.File
	currentLSN   primitives.LSN // next offset to assign
	flushedLSN   primitives.LSN // last byte offset guaranteed durable
	buffer       []byte
	bufferOffset int
}

// defaultBufferSize accumulates a few page-sized writes before a flush is
// forced.
const defaultBufferSize = 64 * 1024

// Config holds log store tuning knobs, each with a documented zero-value
// default, as a plain struct rather than a flag-parsed options layer.
type Config struct {
	// BufferSize is the size in bytes of the in-memory write buffer
	// accumulated between flushes. A larger buffer amortizes fsync cost
	// over more Appends at the price of a larger window of data an
	// ungraceful process exit can lose. Zero uses defaultBufferSize.
	BufferSize int
}

func (c Config) bufferSize() int {
	if c.BufferSize <= 0 {
		return defaultBufferSize
	}
	return c.BufferSize
}

// Open opens or creates the log file at path with default tuning. An empty
// file starts with currentLSN 0, ready for the recovery manager's first
// Append (the MASTER record).
func Open(path string) (*FileLogManager, error) {
	return OpenWithConfig(path, Config{})
}

// OpenWithConfig opens or creates the log file at path, tuned by cfg.
func OpenWithConfig(path string, cfg Config) (*FileLogManager, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.CodeIllegalState, "Open", "logstore")
	}

	pos, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, dberr.Wrap(err, dberr.CodeIllegalState, "Open", "logstore")
	}

	return &FileLogManager{
		file:       file,
		currentLSN: primitives.LSN(pos),
		flushedLSN: primitives.LSN(pos),
		buffer:     make([]byte, cfg.bufferSize()),
	}, nil
}

// Close flushes any buffered bytes and closes the underlying file.
func (m *FileLogManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushLocked(); err != nil {
		return err
	}
	return m.file.Close()
}

func frame(payload []byte) []byte {
	out := make([]byte, sizePrefixBytes+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(out)))
	copy(out[sizePrefixBytes:], payload)
	return out
}

// Append assigns payload the current end-of-log LSN and buffers it for
// write. The assigned LSN is the byte offset of the frame's length prefix.
func (m *FileLogManager) Append(payload []byte) (primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	assigned := m.currentLSN
	data := frame(payload)

	if len(data) > len(m.buffer) {
		if err := m.flushLocked(); err != nil {
			return 0, err
		}
		if _, err := m.file.WriteAt(data, int64(m.flushedLSN)); err != nil {
			return 0, dberr.Wrap(err, dberr.CodeIllegalState, "Append", "logstore")
		}
		n := primitives.LSN(len(data))
		m.flushedLSN += n
		m.currentLSN += n
		return assigned, nil
	}

	if m.bufferOffset+len(data) > len(m.buffer) {
		if err := m.flushLocked(); err != nil {
			return 0, err
		}
	}
	copy(m.buffer[m.bufferOffset:], data)
	m.bufferOffset += len(data)
	m.currentLSN += primitives.LSN(len(data))
	return assigned, nil
}

func (m *FileLogManager) flushLocked() error {
	if m.bufferOffset == 0 {
		return nil
	}
	if _, err := m.file.WriteAt(m.buffer[:m.bufferOffset], int64(m.flushedLSN)); err != nil {
		return dberr.Wrap(err, dberr.CodeIllegalState, "flush", "logstore")
	}
	m.flushedLSN = m.currentLSN
	m.bufferOffset = 0
	return nil
}

// FlushTo guarantees every record up to and including lsn is durable. It
// does not flush partially: whatever lsn is, it writes every buffered frame
// and syncs the file; FlushTo(lsn) is a no-op only when nothing is buffered
// at all.
func (m *FileLogManager) FlushTo(lsn primitives.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bufferOffset == 0 && m.flushedLSN >= m.currentLSN {
		return nil
	}
	if err := m.flushLocked(); err != nil {
		return err
	}
	return m.file.Sync()
}

// Fetch returns the payload stored at lsn, flushing first if lsn hasn't
// reached disk yet.
func (m *FileLogManager) Fetch(lsn primitives.LSN) ([]byte, error) {
	m.mu.Lock()
	if lsn >= m.flushedLSN {
		if err := m.flushLocked(); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Unlock()

	return readFrameAt(m.file, int64(lsn))
}

func readFrameAt(f *os.File, offset int64) ([]byte, error) {
	sizeBuf := make([]byte, sizePrefixBytes)
	if _, err := f.ReadAt(sizeBuf, offset); err != nil {
		return nil, dberr.Wrap(err, dberr.CodeIllegalState, "readFrameAt", "logstore")
	}
	size := binary.BigEndian.Uint32(sizeBuf)
	if size < sizePrefixBytes || size > maxFrameSize {
		return nil, dberr.ErrIllegalState.WithDetail(fmt.Sprintf("corrupt frame size %d at offset %d", size, offset))
	}

	payload := make([]byte, size-sizePrefixBytes)
	if len(payload) > 0 {
		if _, err := f.ReadAt(payload, offset+sizePrefixBytes); err != nil {
			return nil, dberr.Wrap(err, dberr.CodeIllegalState, "readFrameAt", "logstore")
		}
	}
	return payload, nil
}

// RewriteMasterRecord overwrites the record at LSN 0 in place. The master
// record's serialized size never changes across rewrites (it carries a
// single LSN field), so the new frame always fits the space the first
// frame occupied.
func (m *FileLogManager) RewriteMasterRecord(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushLocked(); err != nil {
		return err
	}
	data := frame(payload)
	if _, err := m.file.WriteAt(data, 0); err != nil {
		return dberr.Wrap(err, dberr.CodeIllegalState, "RewriteMasterRecord", "logstore")
	}
	return m.file.Sync()
}

// ScanFrom returns an iterator over every record at or after from, in LSN
// order.
func (m *FileLogManager) ScanFrom(from primitives.LSN) (storageio.RecordIterator, error) {
	m.mu.Lock()
	if err := m.flushLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	end := m.currentLSN
	m.mu.Unlock()

	return &iterator{file: m.file, offset: int64(from), end: int64(end)}, nil
}

type iterator struct {
	file    *os.File
	offset  int64
	end     int64
	lsn     primitives.LSN
	payload []byte
	err     error
}

func (it *iterator) Next() bool {
	if it.err != nil || it.offset >= it.end {
		return false
	}
	payload, err := readFrameAt(it.file, it.offset)
	if err != nil {
		it.err = err
		return false
	}
	it.lsn = primitives.LSN(it.offset)
	it.payload = payload
	it.offset += int64(sizePrefixBytes + len(payload))
	return true
}

func (it *iterator) Record() (primitives.LSN, []byte) {
	return it.lsn, it.payload
}

func (it *iterator) Err() error  { return it.err }
func (it *iterator) Close() error { return nil }
