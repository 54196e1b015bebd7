package pager

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/zoostore/core/config"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// Journal header constants
const (
	// JournalHeaderSize is the size of the journal header in bytes.
	JournalHeaderSize = 40

	// JournalMagic is the magic string at the start of a live journal.
	JournalMagic = "ZOOJRNL\x00"

	// JournalFormatVersion is the journal format version.
	JournalFormatVersion = 1

	// checksumSize is the BLAKE3 digest length stored after each entry.
	checksumSize = 32
)

// JournalHeader describes a journal file.
type JournalHeader struct {
	Version   uint32    // Journal format version
	PageSize  uint32    // Page size of the store
	OrigPages uint32    // Page count of the store before the commit
	StoreID   uuid.UUID // Store the journal belongs to
}

func (h *JournalHeader) serialize() []byte {
	data := make([]byte, JournalHeaderSize)
	copy(data[0:8], JournalMagic)
	binary.BigEndian.PutUint32(data[8:], h.Version)
	binary.BigEndian.PutUint32(data[12:], h.PageSize)
	binary.BigEndian.PutUint32(data[16:], h.OrigPages)
	copy(data[20:36], h.StoreID[:])
	return data
}

func parseJournalHeader(data []byte) (*JournalHeader, bool) {
	if len(data) < JournalHeaderSize || !bytes.Equal(data[0:8], []byte(JournalMagic)) {
		return nil, false
	}
	h := &JournalHeader{
		Version:   binary.BigEndian.Uint32(data[8:]),
		PageSize:  binary.BigEndian.Uint32(data[12:]),
		OrigPages: binary.BigEndian.Uint32(data[16:]),
	}
	copy(h.StoreID[:], data[20:36])
	return h, true
}

// Journal is a rollback journal holding the original images of the pages
// a commit is about to overwrite. Each entry is
// [4 bytes page number][page data][32 bytes BLAKE3 of number and data].
type Journal struct {
	// File handle for the journal file
	file *os.File

	// Filename of the journal
	filename string

	// Header written at the start of the file
	header JournalHeader

	// Number of entries appended
	entries int
}

// CreateJournal creates (or truncates) a journal file and writes its header.
func CreateJournal(filename string, pageSize int, origPages Pgno, storeID uuid.UUID) (*Journal, error) {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	j := &Journal{
		file:     f,
		filename: filename,
		header: JournalHeader{
			Version:   JournalFormatVersion,
			PageSize:  uint32(pageSize),
			OrigPages: uint32(origPages),
			StoreID:   storeID,
		},
	}

	if _, err := f.Write(j.header.serialize()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write journal header: %w", err)
	}
	return j, nil
}

// Append records the original content of a page.
func (j *Journal) Append(pgno Pgno, data []byte) error {
	if len(data) != int(j.header.PageSize) {
		return fmt.Errorf("journal entry for page %d has %d bytes, want %d", pgno, len(data), j.header.PageSize)
	}

	entry := make([]byte, 4+len(data)+checksumSize)
	binary.BigEndian.PutUint32(entry[0:4], uint32(pgno))
	copy(entry[4:], data)
	sum := blake3.Sum256(entry[:4+len(data)])
	copy(entry[4+len(data):], sum[:])

	if _, err := j.file.Write(entry); err != nil {
		return fmt.Errorf("failed to journal page %d: %w", pgno, err)
	}
	j.entries++
	return nil
}

// Entries returns the number of journaled pages.
func (j *Journal) Entries() int {
	return j.entries
}

// Sync flushes the journal to stable storage.
func (j *Journal) Sync() error {
	return j.file.Sync()
}

// Finalize closes the journal after a successful commit and disposes of it
// according to mode.
func (j *Journal) Finalize(mode config.JournalMode) error {
	if j.file == nil {
		return nil
	}
	if err := j.file.Close(); err != nil {
		return err
	}
	j.file = nil

	switch mode {
	case config.JournalTruncate:
		return os.Truncate(j.filename, 0)
	case config.JournalPersist:
		return zeroJournalHeader(j.filename)
	default:
		return os.Remove(j.filename)
	}
}

// Discard closes and removes the journal without replaying it.
func (j *Journal) Discard() error {
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
	err := os.Remove(j.filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// zeroJournalHeader zeroes the journal header to mark it as invalid.
func zeroJournalHeader(filename string) error {
	f, err := os.OpenFile(filename, os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteAt(make([]byte, JournalHeaderSize), 0)
	return err
}

// recoverJournal replays a hot journal into b. Entries are applied until the
// first one that is short or fails its checksum, which is where the crashed
// commit stopped writing the journal. The store is then truncated to its
// original size and the journal removed. It returns the number of replayed pages.
func recoverJournal(filename string, b Backing, storeID uuid.UUID, pageSize int) (int, error) {
	f, err := os.Open(filename)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	hdr := make([]byte, JournalHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		// Empty or truncated header: nothing was committed under it.
		return 0, nil
	}
	h, ok := parseJournalHeader(hdr)
	if !ok {
		return 0, nil
	}
	if h.StoreID != storeID {
		logging.Warn("ignoring journal of another store", "journal", filename, "store_id", h.StoreID.String())
		return 0, nil
	}
	if int(h.PageSize) != pageSize {
		return 0, fmt.Errorf("%w: journal page size %d, store page size %d", ErrStoreCorrupt, h.PageSize, pageSize)
	}

	entrySize := 4 + pageSize + checksumSize
	entry := make([]byte, entrySize)
	replayed := 0
	for {
		if _, err := io.ReadFull(f, entry); err != nil {
			break
		}
		body := entry[:4+pageSize]
		sum := blake3.Sum256(body)
		if !bytes.Equal(sum[:], entry[4+pageSize:]) {
			break
		}
		pgno := Pgno(binary.BigEndian.Uint32(entry[0:4]))
		if _, err := b.WriteAt(entry[4:4+pageSize], int64(pgno)*int64(pageSize)); err != nil {
			return replayed, fmt.Errorf("failed to replay page %d: %w", pgno, err)
		}
		replayed++
	}

	if err := b.Truncate(int64(h.OrigPages) * int64(pageSize)); err != nil {
		return replayed, fmt.Errorf("failed to truncate store: %w", err)
	}
	if err := b.Sync(); err != nil {
		return replayed, err
	}
	f.Close()
	if err := os.Remove(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return replayed, err
	}
	return replayed, nil
}
