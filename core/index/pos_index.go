package index

import (
	"strconv"

	"github.com/google/btree"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/pager"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// PageFreer receives pages that no longer hold any fragment.
type PageFreer interface {
	Free(pgno pager.Pgno) error
}

type posEntry struct {
	key  Position
	next Position
}

func posLess(a, b posEntry) bool { return a.key < b.key }

// PositionIndex maps the position of each object fragment to the position
// of the next fragment, or Terminal for the last one. Keys of continuation
// fragments carry MarkSecondary as their offset.
type PositionIndex struct {
	tree  *btree.BTreeG[posEntry]
	saved *btree.BTreeG[posEntry]
}

// NewPositionIndex creates an empty index.
func NewPositionIndex() *PositionIndex {
	return &PositionIndex{tree: btree.NewG(btreeDegree, posLess)}
}

// AddPosition records that the fragment at (page, offset) continues at next.
func (x *PositionIndex) AddPosition(page pager.Pgno, offset uint32, next Position) {
	x.tree.ReplaceOrInsert(posEntry{key: NewPosition(page, offset), next: next})
}

// Next returns the link stored for pos.
func (x *PositionIndex) Next(pos Position) (Position, bool) {
	e, ok := x.tree.Get(posEntry{key: pos})
	return e.next, ok
}

// RemoveAndChase removes pos and returns its link. When no other fragment
// remains on the page, the page is handed to fsm.
func (x *PositionIndex) RemoveAndChase(pos Position, fsm PageFreer) (Position, error) {
	e, ok := x.tree.Delete(posEntry{key: pos})
	if !ok {
		return 0, zerrors.NewConsistency("remove position", "no fragment at %s", pos)
	}
	if !x.PageInUse(pos.Page()) {
		logging.PageEvent("free", uint32(pos.Page()))
		if err := fsm.Free(pos.Page()); err != nil {
			return 0, err
		}
	}
	return e.next, nil
}

// Unwind removes every fragment of the object whose head is at head.
// Links of continuation fragments are ORed with MarkSecondary, so the loop
// ends when the terminal link 0 turns into MarkSecondaryPos.
func (x *PositionIndex) Unwind(head Position, fsm PageFreer) error {
	limit := x.tree.Len()
	pos := head
	for steps := 0; ; steps++ {
		if steps > limit {
			return zerrors.NewConsistency("unwind", "chain from %s never reaches its terminal link", head)
		}
		next, err := x.RemoveAndChase(pos, fsm)
		if err != nil {
			return err
		}
		pos = next | MarkSecondaryPos
		if pos == MarkSecondaryPos {
			return nil
		}
	}
}

// Chain returns the fragment keys of the object whose head is at head,
// without modifying the index.
func (x *PositionIndex) Chain(head Position) ([]Position, error) {
	limit := x.tree.Len()
	var out []Position
	pos := head
	for {
		if len(out) > limit {
			return nil, zerrors.NewConsistency("chain", "chain from %s never reaches its terminal link", head)
		}
		next, ok := x.Next(pos)
		if !ok {
			return nil, zerrors.NewConsistency("chain", "no fragment at %s", pos)
		}
		out = append(out, pos)
		pos = next | MarkSecondaryPos
		if pos == MarkSecondaryPos {
			return out, nil
		}
	}
}

// PageInUse reports whether any fragment is recorded on page.
func (x *PositionIndex) PageInUse(page pager.Pgno) bool {
	found := false
	x.tree.AscendRange(
		posEntry{key: NewPosition(page, 0)},
		posEntry{key: NewPosition(page+1, 0)},
		func(posEntry) bool {
			found = true
			return false
		})
	return found
}

// Heads calls fn for every head fragment in position order, skipping
// continuation fragments.
func (x *PositionIndex) Heads(fn func(pos Position) bool) {
	x.tree.Ascend(func(e posEntry) bool {
		if e.key.IsSecondary() {
			return true
		}
		return fn(e.key)
	})
}

// Ascend calls fn for every entry in key order.
func (x *PositionIndex) Ascend(fn func(key, next Position) bool) {
	x.tree.Ascend(func(e posEntry) bool {
		return fn(e.key, e.next)
	})
}

// Pages calls fn once for every page holding at least one fragment.
func (x *PositionIndex) Pages(fn func(page pager.Pgno)) {
	var last pager.Pgno
	first := true
	x.tree.Ascend(func(e posEntry) bool {
		if first || e.key.Page() != last {
			last = e.key.Page()
			first = false
			fn(last)
		}
		return true
	})
}

// Len returns the number of fragments.
func (x *PositionIndex) Len() int {
	return x.tree.Len()
}

// Begin records a checkpoint for Rollback.
func (x *PositionIndex) Begin() {
	x.saved = x.tree.Clone()
}

// Commit drops the checkpoint.
func (x *PositionIndex) Commit() {
	x.saved = nil
}

// Rollback restores the checkpoint taken by Begin.
func (x *PositionIndex) Rollback() {
	if x.saved != nil {
		x.tree = x.saved
		x.saved = nil
	}
}

func formatOID(oid int64) string {
	return strconv.FormatInt(oid, 10)
}
