package pager

import (
	"io"
	"os"
	"sync"
)

// Backing is the raw byte storage under a pager.
type Backing interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Size() (int64, error)
	Close() error
}

// fileBacking stores pages in an operating system file.
type fileBacking struct {
	f *os.File
}

func openFileBacking(path string, readOnly bool) (*fileBacking, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	return &fileBacking{f: f}, nil
}

func (b *fileBacking) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *fileBacking) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *fileBacking) Truncate(size int64) error                { return b.f.Truncate(size) }
func (b *fileBacking) Sync() error                              { return b.f.Sync() }
func (b *fileBacking) Close() error                             { return b.f.Close() }

func (b *fileBacking) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MemBacking keeps the whole store in a byte slice.
type MemBacking struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemBacking creates an empty in-memory backing.
func NewMemBacking() *MemBacking {
	return &MemBacking{}
}

// ReadAt implements io.ReaderAt.
func (m *MemBacking) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (m *MemBacking) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

// Truncate resizes the buffer.
func (m *MemBacking) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

// Sync is a no-op.
func (m *MemBacking) Sync() error { return nil }

// Size returns the buffer length.
func (m *MemBacking) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

// Close releases the buffer.
func (m *MemBacking) Close() error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

// Bytes returns a copy of the current contents.
func (m *MemBacking) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}
