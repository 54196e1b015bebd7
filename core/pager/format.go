// Package pager implements the page store underneath the object engine.
//
// The pager reads and writes fixed-size pages from a backing (a file or a
// memory buffer), keeps clean pages in an LRU cache, holds modified pages in
// memory until commit and uses a rollback journal to make commits atomic.
package pager

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/zoostore/core/config"
)

// File format constants
const (
	// HeaderSize is the number of bytes of page 0 used by the store header.
	HeaderSize = 64

	// MagicString identifies a store file. Exactly 8 bytes.
	MagicString = "ZOOSTORE"

	// FormatVersion is the current on-disk format version.
	FormatVersion = 1
)

// Header byte offsets
const (
	// OffsetMagic is the offset of the magic string (8 bytes).
	OffsetMagic = 0

	// OffsetVersion is the format version (4 bytes, big-endian).
	OffsetVersion = 8

	// OffsetPageSize is the page size in bytes (4 bytes, big-endian).
	OffsetPageSize = 12

	// OffsetPageCount is the number of pages including the header page (4 bytes).
	OffsetPageCount = 16

	// OffsetChangeCounter is incremented by every commit (4 bytes).
	OffsetChangeCounter = 20

	// OffsetStoreID is the store UUID (16 bytes).
	// The journal records it so a journal is never replayed into another store.
	OffsetStoreID = 24

	// OffsetNextOID is the next object identifier to hand out (8 bytes).
	OffsetNextOID = 40

	// OffsetIndexRoot is the first page of the index snapshot chain (4 bytes).
	OffsetIndexRoot = 48

	// OffsetUserRoot is the first page of the user table chain (4 bytes).
	OffsetUserRoot = 52

	// OffsetReserved marks the reserved tail of the header (12 bytes, zero).
	OffsetReserved = 56
)

// Header is the store header kept at the start of page 0.
type Header struct {
	// Magic is always MagicString.
	Magic [8]byte

	// Version is the on-disk format version.
	Version uint32

	// PageSize is fixed when the store is created.
	PageSize uint32

	// PageCount includes page 0.
	PageCount uint32

	// ChangeCounter counts commits.
	ChangeCounter uint32

	// StoreID identifies the store.
	StoreID uuid.UUID

	// NextOID is the next OID to assign.
	NextOID int64

	// IndexRoot is the first page of the index snapshot, 0 if none.
	IndexRoot Pgno

	// UserRoot is the first page of the user table, 0 if none.
	UserRoot Pgno
}

// NewHeader creates a header for a fresh store.
func NewHeader(pageSize int) *Header {
	h := &Header{
		Version:   FormatVersion,
		PageSize:  uint32(pageSize),
		PageCount: 1,
		StoreID:   uuid.New(),
	}
	copy(h.Magic[:], MagicString)
	return h
}

// Serialize encodes the header into HeaderSize bytes.
func (h *Header) Serialize() []byte {
	data := make([]byte, HeaderSize)

	copy(data[OffsetMagic:], h.Magic[:])
	binary.BigEndian.PutUint32(data[OffsetVersion:], h.Version)
	binary.BigEndian.PutUint32(data[OffsetPageSize:], h.PageSize)
	binary.BigEndian.PutUint32(data[OffsetPageCount:], h.PageCount)
	binary.BigEndian.PutUint32(data[OffsetChangeCounter:], h.ChangeCounter)
	copy(data[OffsetStoreID:], h.StoreID[:])
	binary.BigEndian.PutUint64(data[OffsetNextOID:], uint64(h.NextOID))
	binary.BigEndian.PutUint32(data[OffsetIndexRoot:], uint32(h.IndexRoot))
	binary.BigEndian.PutUint32(data[OffsetUserRoot:], uint32(h.UserRoot))

	return data
}

// ParseHeader decodes a header. It checks the magic string only;
// call Validate for the remaining fields.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header too short (%d bytes)", ErrStoreCorrupt, len(data))
	}
	if !bytes.Equal(data[OffsetMagic:OffsetMagic+8], []byte(MagicString)) {
		return nil, fmt.Errorf("%w: bad magic", ErrStoreCorrupt)
	}

	h := &Header{}
	copy(h.Magic[:], data[OffsetMagic:OffsetMagic+8])
	h.Version = binary.BigEndian.Uint32(data[OffsetVersion:])
	h.PageSize = binary.BigEndian.Uint32(data[OffsetPageSize:])
	h.PageCount = binary.BigEndian.Uint32(data[OffsetPageCount:])
	h.ChangeCounter = binary.BigEndian.Uint32(data[OffsetChangeCounter:])
	copy(h.StoreID[:], data[OffsetStoreID:OffsetStoreID+16])
	h.NextOID = int64(binary.BigEndian.Uint64(data[OffsetNextOID:]))
	h.IndexRoot = Pgno(binary.BigEndian.Uint32(data[OffsetIndexRoot:]))
	h.UserRoot = Pgno(binary.BigEndian.Uint32(data[OffsetUserRoot:]))

	return h, nil
}

// Validate checks that the header describes a usable store.
func (h *Header) Validate() error {
	if string(h.Magic[:]) != MagicString {
		return fmt.Errorf("%w: bad magic", ErrStoreCorrupt)
	}
	if h.Version != FormatVersion {
		return fmt.Errorf("%w: format version %d", ErrStoreCorrupt, h.Version)
	}
	if !config.IsValidPageSize(int(h.PageSize)) {
		return fmt.Errorf("%w: page size %d", ErrInvalidPageSize, h.PageSize)
	}
	if h.PageCount == 0 {
		return fmt.Errorf("%w: page count is zero", ErrStoreCorrupt)
	}
	if h.IndexRoot >= Pgno(h.PageCount) || h.UserRoot >= Pgno(h.PageCount) {
		return fmt.Errorf("%w: root page beyond end of store", ErrStoreCorrupt)
	}
	if h.StoreID == uuid.Nil {
		return fmt.Errorf("%w: missing store id", ErrStoreCorrupt)
	}
	return nil
}
