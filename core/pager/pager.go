package pager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/zoostore/core/cache"
	"github.com/FocuswithJustin/zoostore/core/config"
	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// Pgno is a page number. Page 0 holds the store header.
type Pgno uint32

// Pager states
const (
	// PagerStateOpen - no write transaction is active
	PagerStateOpen = iota

	// PagerStateWriter - write transaction active, pages may be dirty
	PagerStateWriter

	// PagerStateError - a commit failed; the pager must be reopened
	PagerStateError
)

// Common errors
var (
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidPageNum  = errors.New("invalid page number")
	ErrStoreCorrupt    = errors.New("store file is corrupt")
	ErrReadOnly        = fmt.Errorf("pager is read-only: %w", zerrors.ErrInvalidState)
	ErrNoTransaction   = fmt.Errorf("no transaction active: %w", zerrors.ErrInvalidState)
	ErrTransactionOpen = fmt.Errorf("transaction already open: %w", zerrors.ErrInvalidState)
	ErrPagerClosed     = fmt.Errorf("pager: %w", zerrors.ErrClosed)
)

// Pager manages reading and writing pages of one store.
// Dirty pages stay in memory until Commit, so Rollback never touches the backing.
type Pager struct {
	// Raw storage
	backing Backing

	// Store filename, empty for in-memory stores
	filename string

	// Journal filename
	journalFilename string

	// What happens to the journal after commit
	journalMode config.JournalMode

	// Read-only flag
	readOnly bool

	// Page size in bytes
	pageSize int

	// Current header and its copy at the start of the transaction
	header     Header
	origHeader Header

	// Number of pages in the store, including page 0
	dbSize Pgno

	// Page count at the start of the transaction
	dbOrigSize Pgno

	// Pages modified by the current transaction
	dirty map[Pgno][]byte

	// Clean page cache
	cache *cache.PageCache

	// Current pager state
	state int

	// Error that moved the pager into PagerStateError
	errCode error

	// Set by Close
	closed bool

	mu sync.Mutex
}

// Create creates a new store. For file stores the file must not exist or be empty.
func Create(path string, cfg config.Config) (*Pager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadOnly {
		return nil, errors.New("cannot create a store in read-only mode")
	}

	b, err := openBacking(path, cfg)
	if err != nil {
		return nil, err
	}
	size, err := b.Size()
	if err != nil {
		b.Close()
		return nil, zerrors.NewIO("stat", path, err)
	}
	if size != 0 {
		b.Close()
		return nil, fmt.Errorf("store %s: %w", path, zerrors.ErrAlreadyExists)
	}

	p := newPager(path, b, cfg, cfg.PageSize)
	p.header = *NewHeader(cfg.PageSize)
	if err := p.writeHeaderPage(); err != nil {
		b.Close()
		return nil, err
	}
	p.dbSize = 1
	p.dbOrigSize = 1

	logging.StoreEvent("create", path, "page_size", p.pageSize, "store_id", p.header.StoreID.String())
	return p, nil
}

// Open opens an existing store, replaying a hot journal if one is present.
// The page size recorded in the header wins over cfg.PageSize.
func Open(path string, cfg config.Config) (*Pager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InMemory {
		return nil, zerrors.NewUnsupported("open", "in-memory stores exist only while open; use Create")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, zerrors.NewIO("open", path, err)
	}

	b, err := openBacking(path, cfg)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, HeaderSize)
	if _, err := b.ReadAt(raw, 0); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to read store header: %w", err)
	}
	hdr, err := ParseHeader(raw)
	if err != nil {
		b.Close()
		return nil, err
	}

	p := newPager(path, b, cfg, int(hdr.PageSize))

	if !cfg.ReadOnly {
		n, err := recoverJournal(p.journalFilename, b, hdr.StoreID, p.pageSize)
		if err != nil {
			b.Close()
			return nil, err
		}
		if n > 0 {
			logging.StoreEvent("recover", path, "pages", n)
			if _, err := b.ReadAt(raw, 0); err != nil {
				b.Close()
				return nil, fmt.Errorf("failed to read store header: %w", err)
			}
			if hdr, err = ParseHeader(raw); err != nil {
				b.Close()
				return nil, err
			}
		}
	}

	if err := hdr.Validate(); err != nil {
		b.Close()
		return nil, err
	}
	p.header = *hdr
	p.dbSize = Pgno(hdr.PageCount)
	p.dbOrigSize = p.dbSize

	logging.StoreEvent("open", path, "pages", p.dbSize, "page_size", p.pageSize)
	return p, nil
}

func openBacking(path string, cfg config.Config) (Backing, error) {
	if cfg.InMemory {
		return NewMemBacking(), nil
	}
	b, err := openFileBacking(path, cfg.ReadOnly)
	if err != nil {
		return nil, zerrors.NewIO("open", path, err)
	}
	return b, nil
}

func newPager(path string, b Backing, cfg config.Config, pageSize int) *Pager {
	p := &Pager{
		backing:     b,
		journalMode: cfg.JournalMode,
		readOnly:    cfg.ReadOnly,
		pageSize:    pageSize,
		dirty:       make(map[Pgno][]byte),
		cache:       cache.NewPageCache(cfg.CacheSize),
		state:       PagerStateOpen,
	}
	if cfg.InMemory {
		p.journalMode = config.JournalOff
	} else {
		p.filename = path
		p.journalFilename = path + "-journal"
	}
	return p
}

// Close closes the pager, rolling back any active transaction.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if p.state == PagerStateWriter {
		p.rollbackLocked()
	}
	p.cache.Clear()
	p.closed = true

	logging.StoreEvent("close", p.filename)
	return p.backing.Close()
}

// Begin starts a write transaction.
func (p *Pager) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUsable(); err != nil {
		return err
	}
	if p.readOnly {
		return ErrReadOnly
	}
	if p.state == PagerStateWriter {
		return ErrTransactionOpen
	}

	p.state = PagerStateWriter
	p.dbOrigSize = p.dbSize
	p.origHeader = p.header
	return nil
}

// InTransaction reports whether a write transaction is active.
func (p *Pager) InTransaction() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == PagerStateWriter
}

// ReadPage copies page pgno into dst, which must be PageSize bytes long.
func (p *Pager) ReadPage(pgno Pgno, dst []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUsable(); err != nil {
		return err
	}
	if pgno == 0 || pgno >= p.dbSize {
		return fmt.Errorf("%w: %d", ErrInvalidPageNum, pgno)
	}
	if len(dst) != p.pageSize {
		return fmt.Errorf("read buffer is %d bytes, page size is %d", len(dst), p.pageSize)
	}

	if data, ok := p.dirty[pgno]; ok {
		copy(dst, data)
		return nil
	}
	if p.cache.Get(uint32(pgno), dst) {
		return nil
	}
	return p.readPageLocked(pgno, dst)
}

func (p *Pager) readPageLocked(pgno Pgno, dst []byte) error {
	n, err := p.backing.ReadAt(dst, int64(pgno)*int64(p.pageSize))
	if err != nil && err != io.EOF {
		return zerrors.NewIO(fmt.Sprintf("read page %d", pgno), p.filename, err)
	}
	// Pages allocated but never written read back as zeros.
	clear(dst[n:])
	p.cache.Put(uint32(pgno), dst)
	return nil
}

// WritePage replaces the content of page pgno within the current transaction.
func (p *Pager) WritePage(pgno Pgno, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkWriter(); err != nil {
		return err
	}
	if pgno == 0 || pgno >= p.dbSize {
		return fmt.Errorf("%w: %d", ErrInvalidPageNum, pgno)
	}
	if len(data) != p.pageSize {
		return fmt.Errorf("page %d: write of %d bytes, page size is %d", pgno, len(data), p.pageSize)
	}

	buf, ok := p.dirty[pgno]
	if !ok {
		buf = make([]byte, p.pageSize)
		p.dirty[pgno] = buf
	}
	copy(buf, data)
	return nil
}

// AllocatePage appends a zeroed page to the store.
func (p *Pager) AllocatePage() (Pgno, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkWriter(); err != nil {
		return 0, err
	}

	pgno := p.dbSize
	p.dbSize++
	p.dirty[pgno] = make([]byte, p.pageSize)
	logging.PageEvent("append", uint32(pgno))
	return pgno, nil
}

// UpdateHeader applies fn to the header. The change is written at commit.
func (p *Pager) UpdateHeader(fn func(h *Header)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkWriter(); err != nil {
		return err
	}
	fn(&p.header)
	return nil
}

// Commit makes the current transaction durable.
func (p *Pager) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkWriter(); err != nil {
		return err
	}

	p.header.PageCount = uint32(p.dbSize)
	p.header.ChangeCounter++
	hdrPage := make([]byte, p.pageSize)
	copy(hdrPage, p.header.Serialize())
	p.dirty[0] = hdrPage

	pages := make([]Pgno, 0, len(p.dirty))
	for pgno := range p.dirty {
		pages = append(pages, pgno)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	// Phase 1: Journal the original images of overwritten pages
	journal, err := p.journalPages(pages)
	if err != nil {
		return p.fail(err)
	}

	// Phase 2: Write all dirty pages
	for _, pgno := range pages {
		if _, err := p.backing.WriteAt(p.dirty[pgno], int64(pgno)*int64(p.pageSize)); err != nil {
			return p.fail(zerrors.NewIO(fmt.Sprintf("write page %d", pgno), p.filename, err))
		}
	}

	// Phase 3: Sync the store
	if err := p.backing.Sync(); err != nil {
		return p.fail(zerrors.NewIO("sync", p.filename, err))
	}

	// Phase 4: Dispose of the journal
	if journal != nil {
		if err := journal.Finalize(p.journalMode); err != nil {
			return p.fail(err)
		}
	}

	for _, pgno := range pages {
		if pgno != 0 {
			p.cache.Put(uint32(pgno), p.dirty[pgno])
		}
	}
	p.dirty = make(map[Pgno][]byte)
	p.dbOrigSize = p.dbSize
	p.state = PagerStateOpen
	return nil
}

// journalPages writes the original image of every page that exists on disk.
func (p *Pager) journalPages(pages []Pgno) (*Journal, error) {
	if p.journalMode == config.JournalOff {
		return nil, nil
	}

	j, err := CreateJournal(p.journalFilename, p.pageSize, p.dbOrigSize, p.header.StoreID)
	if err != nil {
		return nil, err
	}
	orig := make([]byte, p.pageSize)
	for _, pgno := range pages {
		if pgno >= p.dbOrigSize {
			continue
		}
		n, err := p.backing.ReadAt(orig, int64(pgno)*int64(p.pageSize))
		if err != nil && err != io.EOF {
			j.Discard()
			return nil, zerrors.NewIO(fmt.Sprintf("read page %d", pgno), p.filename, err)
		}
		clear(orig[n:])
		if err := j.Append(pgno, orig); err != nil {
			j.Discard()
			return nil, err
		}
	}
	if err := j.Sync(); err != nil {
		j.Discard()
		return nil, err
	}
	return j, nil
}

// fail moves the pager into the error state. The in-memory transaction is
// dropped; a hot journal left behind is replayed by the next Open.
func (p *Pager) fail(err error) error {
	p.rollbackLocked()
	p.state = PagerStateError
	p.errCode = err
	logging.Error("commit failed", "path", p.filename, "error", err)
	return err
}

// Rollback discards the current transaction.
func (p *Pager) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPagerClosed
	}
	if p.state != PagerStateWriter {
		return ErrNoTransaction
	}
	p.rollbackLocked()
	return nil
}

func (p *Pager) rollbackLocked() {
	p.dirty = make(map[Pgno][]byte)
	p.dbSize = p.dbOrigSize
	p.header = p.origHeader
	p.state = PagerStateOpen
}

func (p *Pager) checkUsable() error {
	if p.closed {
		return ErrPagerClosed
	}
	if p.state == PagerStateError {
		return fmt.Errorf("pager is in error state: %w", p.errCode)
	}
	return nil
}

func (p *Pager) checkWriter() error {
	if err := p.checkUsable(); err != nil {
		return err
	}
	if p.state != PagerStateWriter {
		return ErrNoTransaction
	}
	return nil
}

// writeHeaderPage writes page 0 directly. Used only while creating a store.
func (p *Pager) writeHeaderPage() error {
	page := make([]byte, p.pageSize)
	copy(page, p.header.Serialize())
	if _, err := p.backing.WriteAt(page, 0); err != nil {
		return zerrors.NewIO("write header", p.filename, err)
	}
	if err := p.backing.Sync(); err != nil {
		return zerrors.NewIO("sync", p.filename, err)
	}
	return nil
}

// PageSize returns the page size of the store.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// PageCount returns the number of pages, including page 0.
func (p *Pager) PageCount() Pgno {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dbSize
}

// Header returns a copy of the current header.
func (p *Pager) Header() Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// StoreID returns the store UUID.
func (p *Pager) StoreID() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header.StoreID
}

// IsReadOnly returns true if the pager is read-only.
func (p *Pager) IsReadOnly() bool {
	return p.readOnly
}

// Path returns the store filename, empty for in-memory stores.
func (p *Pager) Path() string {
	return p.filename
}

// DirtyCount returns the number of pages modified by the current transaction.
func (p *Pager) DirtyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty)
}

// WriteTo copies the committed pages of the store, header page included,
// to w. It fails while a write transaction is open.
func (p *Pager) WriteTo(w io.Writer) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkUsable(); err != nil {
		return 0, err
	}
	if p.state == PagerStateWriter {
		return 0, ErrTransactionOpen
	}

	var written int64
	page := make([]byte, p.pageSize)
	for pgno := Pgno(0); pgno < p.dbSize; pgno++ {
		n, err := p.backing.ReadAt(page, int64(pgno)*int64(p.pageSize))
		if err != nil && err != io.EOF {
			return written, zerrors.NewIO(fmt.Sprintf("read page %d", pgno), p.filename, err)
		}
		clear(page[n:])
		m, err := w.Write(page)
		written += int64(m)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
