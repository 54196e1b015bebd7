package index

import (
	"testing"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/pager"
)

func TestFSM_PendingUntilCommit(t *testing.T) {
	f := NewFreeSpaceManager()
	f.Begin()

	if err := f.Free(4); err != nil {
		t.Fatalf("Free() error = %v", err)
	}
	if _, ok := f.Allocate(); ok {
		t.Fatal("Allocate() returned a page freed by the open transaction")
	}
	if !f.IsFree(4) {
		t.Error("IsFree(4) = false for a pending page")
	}
	if s := f.Stats(); s.Pending != 1 || s.Free != 0 {
		t.Errorf("Stats() = %+v", s)
	}

	f.Commit()
	pg, ok := f.Allocate()
	if !ok || pg != 4 {
		t.Errorf("Allocate() = %d, %v; want 4, true", pg, ok)
	}
}

func TestFSM_RollbackDiscardsFrees(t *testing.T) {
	f := NewFreeSpaceManager()
	f.Begin()
	f.Free(9)
	f.Rollback()

	f.Begin()
	if _, ok := f.Allocate(); ok {
		t.Error("Allocate() returned a page whose free was rolled back")
	}
	f.Commit()
	if f.Stats().Free != 0 {
		t.Errorf("Stats().Free = %d, want 0", f.Stats().Free)
	}
}

func TestFSM_RollbackReturnsAllocations(t *testing.T) {
	f := NewFreeSpaceManager()
	f.Begin()
	f.Free(3)
	f.Free(8)
	f.Commit()

	f.Begin()
	if pg, _ := f.Allocate(); pg != 3 {
		t.Errorf("Allocate() = %d, want lowest page 3", pg)
	}
	f.Rollback()

	got := f.FreePages()
	if len(got) != 2 || got[0] != 3 || got[1] != 8 {
		t.Errorf("FreePages() = %v, want [3 8]", got)
	}
}

func TestFSM_DoubleFree(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *FreeSpaceManager)
		page  pager.Pgno
	}{
		{"pending twice", func(f *FreeSpaceManager) { f.Free(5) }, 5},
		{"already free", func(f *FreeSpaceManager) { f.Free(5); f.Commit() }, 5},
		{"header page", func(f *FreeSpaceManager) {}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFreeSpaceManager()
			tt.setup(f)
			if err := f.Free(tt.page); !zerrors.IsConsistency(err) {
				t.Errorf("Free(%d) error = %v, want consistency fault", tt.page, err)
			}
		})
	}
}

func TestFSM_Rebuild(t *testing.T) {
	f := NewFreeSpaceManager()
	f.Free(2)
	used := map[pager.Pgno]bool{1: true, 4: true}
	f.Rebuild(6, func(pg pager.Pgno) bool { return used[pg] })

	got := f.FreePages()
	want := []pager.Pgno{2, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("FreePages() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FreePages()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if f.Stats().Pending != 0 {
		t.Errorf("Rebuild() kept pending pages")
	}
}
