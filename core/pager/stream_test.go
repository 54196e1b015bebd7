package pager

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/FocuswithJustin/zoostore/core/config"
)

// fixedAllocator hands out pages from a list.
type fixedAllocator struct {
	pages []Pgno
}

func (a *fixedAllocator) Allocate() (Pgno, bool) {
	if len(a.pages) == 0 {
		return 0, false
	}
	pg := a.pages[0]
	a.pages = a.pages[1:]
	return pg, true
}

func beginPager(t *testing.T, pageSize int) *Pager {
	t.Helper()
	p, _ := createPager(t, config.WithPageSize(pageSize))
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	return p
}

func TestStream_Primitives(t *testing.T) {
	p := beginPager(t, 512)
	s := NewStream(p, nil)

	start, err := s.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}

	writes := []func() error{
		func() error { return s.WriteBool(true) },
		func() error { return s.WriteInt8(-3) },
		func() error { return s.WriteInt16(-1234) },
		func() error { return s.WriteInt32(1 << 30) },
		func() error { return s.WriteInt64(-1 << 60) },
		func() error { return s.WriteFloat32(1.5) },
		func() error { return s.WriteFloat64(math.Pi) },
		func() error { return s.WriteString("grüße") },
		func() error { return s.WriteBytes(nil) },
	}
	for i, w := range writes {
		if err := w(); err != nil {
			t.Fatalf("write %d error = %v", i, err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if err := s.Seek(start, 0); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if v, _ := s.ReadBool(); !v {
		t.Error("ReadBool() = false")
	}
	if v, _ := s.ReadInt8(); v != -3 {
		t.Errorf("ReadInt8() = %d", v)
	}
	if v, _ := s.ReadInt16(); v != -1234 {
		t.Errorf("ReadInt16() = %d", v)
	}
	if v, _ := s.ReadInt32(); v != 1<<30 {
		t.Errorf("ReadInt32() = %d", v)
	}
	if v, _ := s.ReadInt64(); v != -1<<60 {
		t.Errorf("ReadInt64() = %d", v)
	}
	if v, _ := s.ReadFloat32(); v != 1.5 {
		t.Errorf("ReadFloat32() = %v", v)
	}
	if v, _ := s.ReadFloat64(); v != math.Pi {
		t.Errorf("ReadFloat64() = %v", v)
	}
	if v, _ := s.ReadString(); v != "grüße" {
		t.Errorf("ReadString() = %q", v)
	}
	if v, err := s.ReadBytes(); err != nil || len(v) != 0 {
		t.Errorf("ReadBytes() = %v, %v; want empty", v, err)
	}
}

func TestStream_OverflowChainsPages(t *testing.T) {
	p := beginPager(t, 512)
	s := NewStream(p, nil)

	var overflows []Pgno
	s.SetOverflowCallback(func(newPage Pgno) {
		overflows = append(overflows, newPage)
	})

	start, err := s.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	payload := []byte(strings.Repeat("0123456789", 200))
	if err := s.WriteBytes(payload); err != nil {
		t.Fatalf("WriteBytes() error = %v", err)
	}
	if err := s.WriteInt64(42); err != nil {
		t.Fatalf("WriteInt64() error = %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// 4 length bytes + 2000 payload bytes over 508-byte pages.
	if len(overflows) != 3 {
		t.Fatalf("overflows = %v, want 3 pages", overflows)
	}

	chain, err := s.Chain(start)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	want := append([]Pgno{start}, overflows...)
	if len(chain) != len(want) {
		t.Fatalf("Chain() = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("Chain()[%d] = %d, want %d", i, chain[i], want[i])
		}
	}

	if err := s.Seek(start, 0); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	got, err := s.ReadBytes()
	if err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("ReadBytes() did not reproduce the payload")
	}
	if v, err := s.ReadInt64(); err != nil || v != 42 {
		t.Errorf("ReadInt64() = %d, %v; want 42", v, err)
	}
}

func TestStream_PrimitivesDoNotStraddle(t *testing.T) {
	p := beginPager(t, 512)
	s := NewStream(p, nil)

	start, _ := s.AllocatePage()
	for s.CurrentOffset() < s.Limit()-3 {
		if err := s.WriteInt8(1); err != nil {
			t.Fatalf("WriteInt8() error = %v", err)
		}
	}
	if err := s.WriteInt64(99); err != nil {
		t.Fatalf("WriteInt64() error = %v", err)
	}
	if s.CurrentPage() == start {
		t.Fatal("WriteInt64() did not move to a new page")
	}
	if s.CurrentOffset() != 8 {
		t.Errorf("CurrentOffset() = %d, want 8", s.CurrentOffset())
	}
	s.Flush()

	if err := s.Seek(start, s.Limit()-3); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if v, err := s.ReadInt64(); err != nil || v != 99 {
		t.Errorf("ReadInt64() = %d, %v; want 99", v, err)
	}
}

func TestStream_UsesAllocator(t *testing.T) {
	p := beginPager(t, 512)
	var spare []Pgno
	for i := 0; i < 3; i++ {
		pg, _ := p.AllocatePage()
		spare = append(spare, pg)
	}

	alloc := &fixedAllocator{pages: []Pgno{spare[2], spare[0]}}
	s := NewStream(p, alloc)

	first, err := s.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	if first != spare[2] {
		t.Errorf("AllocatePage() = %d, want reused page %d", first, spare[2])
	}
	if err := s.WriteBytes(make([]byte, 600)); err != nil {
		t.Fatalf("WriteBytes() error = %v", err)
	}
	if s.CurrentPage() != spare[0] {
		t.Errorf("overflow page = %d, want reused page %d", s.CurrentPage(), spare[0])
	}

	// Allocator exhausted: the pager appends.
	before := p.PageCount()
	if _, err := s.AllocatePage(); err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	if p.PageCount() != before+1 {
		t.Errorf("PageCount() = %d, want %d", p.PageCount(), before+1)
	}
}

func TestStream_ReadPastEnd(t *testing.T) {
	p := beginPager(t, 512)
	s := NewStream(p, nil)
	start, _ := s.AllocatePage()
	s.Flush()

	if err := s.Seek(start, s.Limit()-2); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if _, err := s.ReadInt32(); !errors.Is(err, ErrStoreCorrupt) {
		t.Errorf("ReadInt32() error = %v, want ErrStoreCorrupt", err)
	}
}

func TestStream_NotPositioned(t *testing.T) {
	p := beginPager(t, 512)
	s := NewStream(p, nil)
	if err := s.WriteInt32(1); err == nil {
		t.Error("WriteInt32() on unpositioned stream expected error")
	}
	if err := s.Seek(1, 9999); err == nil {
		t.Error("Seek() beyond page limit expected error")
	}
}

func TestStream_CommitAndReopen(t *testing.T) {
	p, filename := createPager(t, config.WithPageSize(512))
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	s := NewStream(p, nil)
	start, _ := s.AllocatePage()
	long := strings.Repeat("x", 1500)
	s.WriteString(long)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	p.Close()

	p2, err := Open(filename, config.Default())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer p2.Close()

	r := NewStream(p2, nil)
	if err := r.Seek(start, 0); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	got, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if got != long {
		t.Errorf("ReadString() length = %d, want %d", len(got), len(long))
	}
}
