package index

import (
	"github.com/google/btree"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/pager"
)

func pgnoLess(a, b pager.Pgno) bool { return a < b }

// FreeSpaceManager tracks pages available for reuse.
//
// Pages freed during a transaction stay pending until Commit; only pages
// freed by an earlier, committed transaction are handed out. Allocation
// returns the lowest free page.
type FreeSpaceManager struct {
	free    *btree.BTreeG[pager.Pgno]
	saved   *btree.BTreeG[pager.Pgno]
	pending map[pager.Pgno]struct{}
}

// FSMStats describes the free-page state.
type FSMStats struct {
	Free    int // pages available now
	Pending int // pages freed by the current transaction
}

// NewFreeSpaceManager creates a manager with no free pages.
func NewFreeSpaceManager() *FreeSpaceManager {
	return &FreeSpaceManager{
		free:    btree.NewG(btreeDegree, pgnoLess),
		pending: make(map[pager.Pgno]struct{}),
	}
}

// Allocate returns a reusable page, or false when the caller must append.
func (f *FreeSpaceManager) Allocate() (pager.Pgno, bool) {
	return f.free.DeleteMin()
}

// Free marks pgno reusable once the current transaction commits.
// Freeing a page twice is a consistency fault.
func (f *FreeSpaceManager) Free(pgno pager.Pgno) error {
	if pgno == 0 {
		return zerrors.NewConsistency("free page", "page 0 holds the store header")
	}
	if _, ok := f.pending[pgno]; ok {
		return zerrors.NewConsistency("free page", "page %d freed twice in one transaction", pgno)
	}
	if f.free.Has(pgno) {
		return zerrors.NewConsistency("free page", "page %d is already free", pgno)
	}
	f.pending[pgno] = struct{}{}
	return nil
}

// IsFree reports whether pgno is free or pending.
func (f *FreeSpaceManager) IsFree(pgno pager.Pgno) bool {
	if _, ok := f.pending[pgno]; ok {
		return true
	}
	return f.free.Has(pgno)
}

// Begin records a checkpoint so pages allocated by a rolled back
// transaction return to the free set.
func (f *FreeSpaceManager) Begin() {
	f.saved = f.free.Clone()
}

// Commit makes pending pages available.
func (f *FreeSpaceManager) Commit() {
	for pgno := range f.pending {
		f.free.ReplaceOrInsert(pgno)
	}
	clear(f.pending)
	f.saved = nil
}

// Rollback forgets pending frees and restores the checkpoint.
func (f *FreeSpaceManager) Rollback() {
	if f.saved != nil {
		f.free = f.saved
		f.saved = nil
	}
	clear(f.pending)
}

// Rebuild replaces the free set with every page in [1, pageCount) for
// which used returns false. It is used when a store is opened, since the
// free set is not persisted.
func (f *FreeSpaceManager) Rebuild(pageCount pager.Pgno, used func(pgno pager.Pgno) bool) {
	f.free.Clear(false)
	clear(f.pending)
	f.saved = nil
	for pgno := pager.Pgno(1); pgno < pageCount; pgno++ {
		if !used(pgno) {
			f.free.ReplaceOrInsert(pgno)
		}
	}
}

// Stats returns the number of free and pending pages.
func (f *FreeSpaceManager) Stats() FSMStats {
	return FSMStats{Free: f.free.Len(), Pending: len(f.pending)}
}

// FreePages returns the free pages in ascending order.
func (f *FreeSpaceManager) FreePages() []pager.Pgno {
	out := make([]pager.Pgno, 0, f.free.Len())
	f.free.Ascend(func(pgno pager.Pgno) bool {
		out = append(out, pgno)
		return true
	})
	return out
}
