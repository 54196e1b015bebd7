package pager

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/zoostore/core/config"
	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

func tempFile(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.zdb")
}

func createPager(t *testing.T, opts ...config.Option) (*Pager, string) {
	t.Helper()
	filename := tempFile(t)
	p, err := Create(filename, config.New(opts...))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, filename
}

// writeOnePage allocates a page, fills it with fill and commits.
func writeOnePage(t *testing.T, p *Pager, fill byte) Pgno {
	t.Helper()
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	pgno, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage() error = %v", err)
	}
	if err := p.WritePage(pgno, bytes.Repeat([]byte{fill}, p.PageSize())); err != nil {
		t.Fatalf("WritePage() error = %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return pgno
}

func TestCreate_NewStore(t *testing.T) {
	p, filename := createPager(t)

	if p.PageSize() != config.DefaultPageSize {
		t.Errorf("PageSize() = %d, want %d", p.PageSize(), config.DefaultPageSize)
	}
	if p.PageCount() != 1 {
		t.Errorf("PageCount() = %d, want 1", p.PageCount())
	}
	if p.StoreID() == uuid.Nil {
		t.Error("StoreID() is nil")
	}

	info, err := os.Stat(filename)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() != int64(config.DefaultPageSize) {
		t.Errorf("file size = %d, want %d", info.Size(), config.DefaultPageSize)
	}
}

func TestCreate_ExistingFails(t *testing.T) {
	p, filename := createPager(t)
	p.Close()

	_, err := Create(filename, config.Default())
	if !errors.Is(err, zerrors.ErrAlreadyExists) {
		t.Errorf("Create() error = %v, want ErrAlreadyExists", err)
	}
}

func TestCreate_InvalidPageSize(t *testing.T) {
	_, err := Create(tempFile(t), config.New(config.WithPageSize(1000)))
	if err == nil {
		t.Fatal("Create() expected error for page size 1000")
	}
}

func TestOpen_ExistingStore(t *testing.T) {
	p, filename := createPager(t, config.WithPageSize(1024))
	pgno := writeOnePage(t, p, 0xAB)
	id := p.StoreID()
	p.Close()

	// The header page size wins over the configured one.
	p2, err := Open(filename, config.Default())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer p2.Close()

	if p2.PageSize() != 1024 {
		t.Errorf("PageSize() = %d, want 1024", p2.PageSize())
	}
	if p2.PageCount() != 2 {
		t.Errorf("PageCount() = %d, want 2", p2.PageCount())
	}
	if p2.StoreID() != id {
		t.Errorf("StoreID() = %v, want %v", p2.StoreID(), id)
	}

	buf := make([]byte, 1024)
	if err := p2.ReadPage(pgno, buf); err != nil {
		t.Fatalf("ReadPage() error = %v", err)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xAB}, 1024)) {
		t.Error("page content not preserved across reopen")
	}
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(tempFile(t), config.Default()); err == nil {
		t.Fatal("Open() expected error for missing file")
	}
}

func TestOpen_BadMagic(t *testing.T) {
	filename := tempFile(t)
	if err := os.WriteFile(filename, bytes.Repeat([]byte{'x'}, 4096), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(filename, config.Default())
	if !errors.Is(err, ErrStoreCorrupt) {
		t.Errorf("Open() error = %v, want ErrStoreCorrupt", err)
	}
}

func TestRollback_DropsAllocations(t *testing.T) {
	p, filename := createPager(t)

	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := p.AllocatePage(); err != nil {
			t.Fatalf("AllocatePage() error = %v", err)
		}
	}
	if p.PageCount() != 6 {
		t.Errorf("PageCount() = %d, want 6", p.PageCount())
	}
	if err := p.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if p.PageCount() != 1 {
		t.Errorf("PageCount() after rollback = %d, want 1", p.PageCount())
	}
	info, _ := os.Stat(filename)
	if info.Size() != int64(p.PageSize()) {
		t.Errorf("file size = %d, want %d", info.Size(), p.PageSize())
	}
}

func TestRollback_RestoresContent(t *testing.T) {
	p, _ := createPager(t)
	pgno := writeOnePage(t, p, 1)

	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := p.WritePage(pgno, bytes.Repeat([]byte{2}, p.PageSize())); err != nil {
		t.Fatalf("WritePage() error = %v", err)
	}

	buf := make([]byte, p.PageSize())
	if err := p.ReadPage(pgno, buf); err != nil {
		t.Fatalf("ReadPage() error = %v", err)
	}
	if buf[0] != 2 {
		t.Errorf("ReadPage() inside transaction = %d, want 2", buf[0])
	}

	if err := p.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if err := p.ReadPage(pgno, buf); err != nil {
		t.Fatalf("ReadPage() error = %v", err)
	}
	if buf[0] != 1 {
		t.Errorf("ReadPage() after rollback = %d, want 1", buf[0])
	}
}

func TestWriteWithoutTransaction(t *testing.T) {
	p, _ := createPager(t)

	if _, err := p.AllocatePage(); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("AllocatePage() error = %v, want ErrNoTransaction", err)
	}
	err := p.Commit()
	if !errors.Is(err, zerrors.ErrInvalidState) {
		t.Errorf("Commit() error = %v, want ErrInvalidState", err)
	}
	if err := p.Rollback(); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("Rollback() error = %v, want ErrNoTransaction", err)
	}
}

func TestBeginTwice(t *testing.T) {
	p, _ := createPager(t)
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := p.Begin(); !errors.Is(err, ErrTransactionOpen) {
		t.Errorf("Begin() error = %v, want ErrTransactionOpen", err)
	}
	if !p.InTransaction() {
		t.Error("InTransaction() = false, want true")
	}
}

func TestReadPage_Bounds(t *testing.T) {
	p, _ := createPager(t)
	buf := make([]byte, p.PageSize())

	if err := p.ReadPage(0, buf); !errors.Is(err, ErrInvalidPageNum) {
		t.Errorf("ReadPage(0) error = %v, want ErrInvalidPageNum", err)
	}
	if err := p.ReadPage(9, buf); !errors.Is(err, ErrInvalidPageNum) {
		t.Errorf("ReadPage(9) error = %v, want ErrInvalidPageNum", err)
	}
}

func TestReadOnly(t *testing.T) {
	p, filename := createPager(t)
	p.Close()

	ro, err := Open(filename, config.New(config.WithReadOnly()))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ro.Close()

	if !ro.IsReadOnly() {
		t.Error("IsReadOnly() = false")
	}
	if err := ro.Begin(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Begin() error = %v, want ErrReadOnly", err)
	}
}

func TestUpdateHeader(t *testing.T) {
	p, filename := createPager(t)

	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	p.UpdateHeader(func(h *Header) { h.NextOID = 500 })
	if err := p.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got := p.Header().NextOID; got != 0 {
		t.Errorf("NextOID after rollback = %d, want 0", got)
	}

	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	p.UpdateHeader(func(h *Header) { h.NextOID = 700 })
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	counter := p.Header().ChangeCounter
	p.Close()

	p2, err := Open(filename, config.Default())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer p2.Close()
	if got := p2.Header().NextOID; got != 700 {
		t.Errorf("NextOID = %d, want 700", got)
	}
	if got := p2.Header().ChangeCounter; got != counter || counter == 0 {
		t.Errorf("ChangeCounter = %d, want %d (non-zero)", got, counter)
	}
}

func TestInMemory(t *testing.T) {
	p, err := Create("", config.New(config.WithInMemory()))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer p.Close()

	if p.Path() != "" {
		t.Errorf("Path() = %q, want empty", p.Path())
	}
	pgno := writeOnePage(t, p, 7)
	buf := make([]byte, p.PageSize())
	if err := p.ReadPage(pgno, buf); err != nil {
		t.Fatalf("ReadPage() error = %v", err)
	}
	if buf[10] != 7 {
		t.Errorf("ReadPage() = %d, want 7", buf[10])
	}

	if _, err := Open("x", config.New(config.WithInMemory())); !errors.Is(err, zerrors.ErrUnsupported) {
		t.Errorf("Open(in-memory) error = %v, want ErrUnsupported", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	p, _ := createPager(t)
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := p.Begin(); !errors.Is(err, zerrors.ErrClosed) {
		t.Errorf("Begin() after Close error = %v, want ErrClosed", err)
	}
}

func TestHeader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(h *Header)
		wantErr bool
	}{
		{"valid", func(h *Header) {}, false},
		{"bad version", func(h *Header) { h.Version = 9 }, true},
		{"bad page size", func(h *Header) { h.PageSize = 1000 }, true},
		{"zero pages", func(h *Header) { h.PageCount = 0 }, true},
		{"root beyond end", func(h *Header) { h.IndexRoot = 3 }, true},
		{"nil id", func(h *Header) { h.StoreID = uuid.Nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHeader(4096)
			tt.modify(h)
			parsed, err := ParseHeader(h.Serialize())
			if err != nil {
				t.Fatalf("ParseHeader() error = %v", err)
			}
			if err := parsed.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	h := NewHeader(2048)
	h.PageCount = 12
	h.ChangeCounter = 3
	h.NextOID = 1 << 40
	h.IndexRoot = 5
	h.UserRoot = 11

	got, err := ParseHeader(h.Serialize())
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if *got != *h {
		t.Errorf("ParseHeader() = %+v, want %+v", got, h)
	}
}

func TestWriteTo(t *testing.T) {
	p, filename := createPager(t)
	writeOnePage(t, p, 0x5a)

	var buf bytes.Buffer
	n, err := p.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if n != int64(2*p.PageSize()) {
		t.Errorf("WriteTo() = %d bytes, want %d", n, 2*p.PageSize())
	}
	onDisk, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), onDisk) {
		t.Error("WriteTo() output differs from the store file")
	}

	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer p.Rollback()
	if _, err := p.WriteTo(&buf); !errors.Is(err, ErrTransactionOpen) {
		t.Errorf("WriteTo() in transaction error = %v, want ErrTransactionOpen", err)
	}
}
