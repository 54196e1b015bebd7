package pager

import (
	"encoding/binary"
	"fmt"
	"math"
)

// LinkSize is the number of bytes at the end of every stream page that hold
// the number of the page the stream continues on, or 0.
const LinkSize = 4

// PageAllocator hands out reusable pages. Allocate returns false when no
// page is free, in which case the stream appends a page to the store.
type PageAllocator interface {
	Allocate() (Pgno, bool)
}

// OverflowFunc is called when a write moves the stream onto a new page.
type OverflowFunc func(newPage Pgno)

// Stream reads and writes big-endian values across a chain of pages.
// Fixed-width values never straddle a page; byte arrays are split.
// When a write does not fit, a new page is allocated, its number stored in
// the link slot of the current page and the overflow callback invoked.
type Stream struct {
	p     *Pager
	alloc PageAllocator

	page   Pgno
	off    int
	buf    []byte
	loaded bool
	dirty  bool

	onOverflow OverflowFunc
}

// NewStream creates a stream on p. alloc may be nil.
func NewStream(p *Pager, alloc PageAllocator) *Stream {
	return &Stream{
		p:     p,
		alloc: alloc,
		buf:   make([]byte, p.PageSize()),
	}
}

// SetOverflowCallback installs fn, replacing any previous callback.
func (s *Stream) SetOverflowCallback(fn OverflowFunc) {
	s.onOverflow = fn
}

// Limit is the number of payload bytes per page.
func (s *Stream) Limit() int {
	return len(s.buf) - LinkSize
}

// CurrentPage returns the page the stream is positioned on.
func (s *Stream) CurrentPage() Pgno {
	return s.page
}

// CurrentOffset returns the offset within the current page.
func (s *Stream) CurrentOffset() int {
	return s.off
}

// AllocatePage moves the stream to the start of a fresh page.
func (s *Stream) AllocatePage() (Pgno, error) {
	if err := s.Flush(); err != nil {
		return 0, err
	}
	pgno, err := s.newPage()
	if err != nil {
		return 0, err
	}
	clear(s.buf)
	s.page = pgno
	s.off = 0
	s.loaded = true
	s.dirty = true
	return pgno, nil
}

func (s *Stream) newPage() (Pgno, error) {
	if s.alloc != nil {
		if pgno, ok := s.alloc.Allocate(); ok {
			return pgno, nil
		}
	}
	return s.p.AllocatePage()
}

// Seek positions the stream at off within page pgno.
func (s *Stream) Seek(pgno Pgno, off int) error {
	if off < 0 || off > s.Limit() {
		return fmt.Errorf("%w: offset %d on page %d", ErrStoreCorrupt, off, pgno)
	}
	if err := s.Flush(); err != nil {
		return err
	}
	if err := s.p.ReadPage(pgno, s.buf); err != nil {
		s.loaded = false
		return err
	}
	s.page = pgno
	s.off = off
	s.loaded = true
	return nil
}

// Flush hands the current page to the pager if it was modified.
func (s *Stream) Flush() error {
	if !s.dirty {
		return nil
	}
	if err := s.p.WritePage(s.page, s.buf); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Close flushes the stream and detaches it from its page.
func (s *Stream) Close() error {
	err := s.Flush()
	s.loaded = false
	s.onOverflow = nil
	return err
}

// NextPage returns the link stored in the current page.
func (s *Stream) NextPage() Pgno {
	return Pgno(binary.BigEndian.Uint32(s.buf[s.Limit():]))
}

// Chain returns the pages of the chain starting at root.
func (s *Stream) Chain(root Pgno) ([]Pgno, error) {
	var pages []Pgno
	limit := int(s.p.PageCount())
	for pgno := root; pgno != 0; pgno = s.NextPage() {
		if len(pages) >= limit {
			return nil, fmt.Errorf("%w: page chain from %d does not terminate", ErrStoreCorrupt, root)
		}
		if err := s.Seek(pgno, 0); err != nil {
			return nil, err
		}
		pages = append(pages, pgno)
	}
	return pages, nil
}

// reserve makes room for n bytes on the current page, overflowing if needed.
func (s *Stream) reserve(n int) error {
	if !s.loaded {
		return fmt.Errorf("stream is not positioned")
	}
	if s.off+n <= s.Limit() {
		return nil
	}
	return s.overflow()
}

func (s *Stream) overflow() error {
	next, err := s.newPage()
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(s.buf[s.Limit():], uint32(next))
	s.dirty = true
	if err := s.Flush(); err != nil {
		return err
	}
	if s.onOverflow != nil {
		s.onOverflow(next)
	}

	clear(s.buf)
	s.page = next
	s.off = 0
	s.dirty = true
	return nil
}

// need ensures n bytes can be read from the current page, following the link.
func (s *Stream) need(n int) error {
	if !s.loaded {
		return fmt.Errorf("stream is not positioned")
	}
	if s.off+n <= s.Limit() {
		return nil
	}
	next := s.NextPage()
	if next == 0 {
		return fmt.Errorf("%w: read past end of page chain at page %d", ErrStoreCorrupt, s.page)
	}
	return s.Seek(next, 0)
}

func (s *Stream) put(b []byte) {
	copy(s.buf[s.off:], b)
	s.off += len(b)
	s.dirty = true
}

// WriteBool writes one byte, 1 for true.
func (s *Stream) WriteBool(v bool) error {
	var b byte
	if v {
		b = 1
	}
	return s.WriteInt8(int8(b))
}

// WriteInt8 writes one byte.
func (s *Stream) WriteInt8(v int8) error {
	if err := s.reserve(1); err != nil {
		return err
	}
	s.put([]byte{byte(v)})
	return nil
}

// WriteInt16 writes a big-endian int16.
func (s *Stream) WriteInt16(v int16) error {
	if err := s.reserve(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(s.buf[s.off:], uint16(v))
	s.off += 2
	s.dirty = true
	return nil
}

// WriteInt32 writes a big-endian int32.
func (s *Stream) WriteInt32(v int32) error {
	if err := s.reserve(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(s.buf[s.off:], uint32(v))
	s.off += 4
	s.dirty = true
	return nil
}

// WriteInt64 writes a big-endian int64.
func (s *Stream) WriteInt64(v int64) error {
	if err := s.reserve(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(s.buf[s.off:], uint64(v))
	s.off += 8
	s.dirty = true
	return nil
}

// WriteFloat32 writes an IEEE 754 float32.
func (s *Stream) WriteFloat32(v float32) error {
	return s.WriteInt32(int32(math.Float32bits(v)))
}

// WriteFloat64 writes an IEEE 754 float64.
func (s *Stream) WriteFloat64(v float64) error {
	return s.WriteInt64(int64(math.Float64bits(v)))
}

// WriteBytes writes an int32 length followed by the bytes.
func (s *Stream) WriteBytes(b []byte) error {
	if err := s.WriteInt32(int32(len(b))); err != nil {
		return err
	}
	for len(b) > 0 {
		if s.off == s.Limit() {
			if err := s.overflow(); err != nil {
				return err
			}
		}
		n := min(len(b), s.Limit()-s.off)
		s.put(b[:n])
		b = b[n:]
	}
	return nil
}

// WriteString writes a length-prefixed UTF-8 string.
func (s *Stream) WriteString(v string) error {
	return s.WriteBytes([]byte(v))
}

// ReadBool reads a bool.
func (s *Stream) ReadBool() (bool, error) {
	v, err := s.ReadInt8()
	return v != 0, err
}

// ReadInt8 reads one byte.
func (s *Stream) ReadInt8() (int8, error) {
	if err := s.need(1); err != nil {
		return 0, err
	}
	v := int8(s.buf[s.off])
	s.off++
	return v, nil
}

// ReadInt16 reads a big-endian int16.
func (s *Stream) ReadInt16() (int16, error) {
	if err := s.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(s.buf[s.off:]))
	s.off += 2
	return v, nil
}

// ReadInt32 reads a big-endian int32.
func (s *Stream) ReadInt32() (int32, error) {
	if err := s.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(s.buf[s.off:]))
	s.off += 4
	return v, nil
}

// ReadInt64 reads a big-endian int64.
func (s *Stream) ReadInt64() (int64, error) {
	if err := s.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(s.buf[s.off:]))
	s.off += 8
	return v, nil
}

// ReadFloat32 reads an IEEE 754 float32.
func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadInt32()
	return math.Float32frombits(uint32(v)), err
}

// ReadFloat64 reads an IEEE 754 float64.
func (s *Stream) ReadFloat64() (float64, error) {
	v, err := s.ReadInt64()
	return math.Float64frombits(uint64(v)), err
}

// ReadBytes reads a length-prefixed byte array.
func (s *Stream) ReadBytes() ([]byte, error) {
	n, err := s.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int64(n) > int64(s.p.PageCount())*int64(len(s.buf)) {
		return nil, fmt.Errorf("%w: bad byte array length %d", ErrStoreCorrupt, n)
	}
	out := make([]byte, 0, n)
	for remaining := int(n); remaining > 0; {
		if s.off == s.Limit() {
			if err := s.need(1); err != nil {
				return nil, err
			}
		}
		k := min(remaining, s.Limit()-s.off)
		out = append(out, s.buf[s.off:s.off+k]...)
		s.off += k
		remaining -= k
	}
	return out, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (s *Stream) ReadString() (string, error) {
	b, err := s.ReadBytes()
	return string(b), err
}
