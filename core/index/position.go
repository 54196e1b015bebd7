// Package index holds the store-wide indexes of the object engine.
//
// OidIndex maps an OID to the position of the object's first fragment.
// PositionIndex maps the position of every fragment to the position of the
// next one, so multi-page objects can be unwound. FreeSpaceManager tracks
// pages that can be reused. All three keep a checkpoint taken at Begin so a
// rollback restores the exact state of the last commit.
package index

import (
	"fmt"

	"github.com/FocuswithJustin/zoostore/core/pager"
)

// Position is a page number and byte offset packed as page<<32 | offset.
type Position uint64

const (
	// MarkSecondary is the offset of a continuation fragment. A fragment
	// with this offset starts at offset 0 of a page an object overflowed into.
	MarkSecondary uint32 = 0xFFFFFFFF

	// MarkSecondaryPos is MarkSecondary with page 0. Unwinding an object stops
	// when the link ORed with MarkSecondary equals this value.
	MarkSecondaryPos Position = Position(MarkSecondary)

	// Terminal is the link stored for the last fragment of an object.
	Terminal Position = 0
)

// NewPosition packs a page and offset.
func NewPosition(page pager.Pgno, offset uint32) Position {
	return Position(uint64(page)<<32 | uint64(offset))
}

// Page returns the page number.
func (p Position) Page() pager.Pgno {
	return pager.Pgno(p >> 32)
}

// Offset returns the raw offset, which may be MarkSecondary.
func (p Position) Offset() uint32 {
	return uint32(p)
}

// IsSecondary reports whether p names a continuation fragment.
func (p Position) IsSecondary() bool {
	return p.Offset() == MarkSecondary
}

// ByteOffset returns the offset to seek to: 0 for continuation fragments.
func (p Position) ByteOffset() int {
	if p.IsSecondary() {
		return 0
	}
	return int(p.Offset())
}

func (p Position) String() string {
	if p.IsSecondary() {
		return fmt.Sprintf("%d:secondary", p.Page())
	}
	return fmt.Sprintf("%d:%d", p.Page(), p.Offset())
}
