package index

import (
	"testing"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/pager"
)

// recordingFreer remembers freed pages.
type recordingFreer struct {
	freed []pager.Pgno
}

func (r *recordingFreer) Free(pgno pager.Pgno) error {
	r.freed = append(r.freed, pgno)
	return nil
}

// addChain records an object starting at (page, offset) that overflows
// onto each page in cont, the way the object writer does.
func addChain(x *PositionIndex, page pager.Pgno, offset uint32, cont ...pager.Pgno) {
	for _, next := range cont {
		x.AddPosition(page, offset, NewPosition(next, 0))
		page, offset = next, MarkSecondary
	}
	x.AddPosition(page, offset, Terminal)
}

func TestPositionIndex_UnwindMultiPage(t *testing.T) {
	x := NewPositionIndex()
	addChain(x, 2, 0, 3, 4)

	if x.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", x.Len())
	}

	fsm := &recordingFreer{}
	if err := x.Unwind(NewPosition(2, 0), fsm); err != nil {
		t.Fatalf("Unwind() error = %v", err)
	}
	if x.Len() != 0 {
		t.Errorf("Len() after Unwind = %d, want 0", x.Len())
	}
	want := []pager.Pgno{2, 3, 4}
	if len(fsm.freed) != len(want) {
		t.Fatalf("freed = %v, want %v", fsm.freed, want)
	}
	for i := range want {
		if fsm.freed[i] != want[i] {
			t.Errorf("freed[%d] = %d, want %d", i, fsm.freed[i], want[i])
		}
	}
}

func TestPositionIndex_SharedPagesStay(t *testing.T) {
	x := NewPositionIndex()
	// A: small object at the start of page 2.
	addChain(x, 2, 0)
	// B: starts on page 2 after A and overflows onto page 3.
	addChain(x, 2, 60, 3)
	// C: starts on page 3 after the end of B.
	addChain(x, 3, 120)

	fsm := &recordingFreer{}
	if err := x.Unwind(NewPosition(2, 60), fsm); err != nil {
		t.Fatalf("Unwind() error = %v", err)
	}
	if len(fsm.freed) != 0 {
		t.Errorf("freed = %v, want none (pages shared with A and C)", fsm.freed)
	}
	if !x.PageInUse(2) || !x.PageInUse(3) {
		t.Error("PageInUse() = false for a shared page")
	}

	if err := x.Unwind(NewPosition(2, 0), fsm); err != nil {
		t.Fatalf("Unwind() error = %v", err)
	}
	if err := x.Unwind(NewPosition(3, 120), fsm); err != nil {
		t.Fatalf("Unwind() error = %v", err)
	}
	if len(fsm.freed) != 2 || fsm.freed[0] != 2 || fsm.freed[1] != 3 {
		t.Errorf("freed = %v, want [2 3]", fsm.freed)
	}
}

func TestPositionIndex_RemoveMissing(t *testing.T) {
	x := NewPositionIndex()
	_, err := x.RemoveAndChase(NewPosition(8, 16), &recordingFreer{})
	if !zerrors.IsConsistency(err) {
		t.Errorf("RemoveAndChase() error = %v, want consistency fault", err)
	}
}

func TestPositionIndex_BrokenChain(t *testing.T) {
	x := NewPositionIndex()
	// Head links to page 5, but no continuation fragment was recorded.
	x.AddPosition(4, 0, NewPosition(5, 0))

	err := x.Unwind(NewPosition(4, 0), &recordingFreer{})
	if !zerrors.IsConsistency(err) {
		t.Errorf("Unwind() error = %v, want consistency fault", err)
	}
}

func TestPositionIndex_HeadsSkipContinuations(t *testing.T) {
	x := NewPositionIndex()
	addChain(x, 2, 0, 3)
	addChain(x, 3, 40)
	addChain(x, 5, 8)

	var heads []Position
	x.Heads(func(pos Position) bool {
		heads = append(heads, pos)
		return true
	})
	want := []Position{NewPosition(2, 0), NewPosition(3, 40), NewPosition(5, 8)}
	if len(heads) != len(want) {
		t.Fatalf("Heads() = %v, want %v", heads, want)
	}
	for i := range want {
		if heads[i] != want[i] {
			t.Errorf("Heads()[%d] = %v, want %v", i, heads[i], want[i])
		}
	}

	var pages []pager.Pgno
	x.Pages(func(p pager.Pgno) { pages = append(pages, p) })
	if len(pages) != 3 || pages[0] != 2 || pages[1] != 3 || pages[2] != 5 {
		t.Errorf("Pages() = %v, want [2 3 5]", pages)
	}

	if next, ok := x.Next(NewPosition(2, 0)); !ok || next != NewPosition(3, 0) {
		t.Errorf("Next() = %v, %v", next, ok)
	}
}

func TestPositionIndex_Rollback(t *testing.T) {
	x := NewPositionIndex()
	addChain(x, 2, 0)
	x.Begin()
	addChain(x, 6, 0, 7)
	x.Unwind(NewPosition(2, 0), &recordingFreer{})
	x.Rollback()

	if x.Len() != 1 || !x.PageInUse(2) || x.PageInUse(6) {
		t.Errorf("Rollback() did not restore the checkpoint: len=%d", x.Len())
	}
}

func TestPositionIndex_Chain(t *testing.T) {
	x := NewPositionIndex()
	addChain(x, 5, 40, 6, 7)

	got, err := x.Chain(NewPosition(5, 40))
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	want := []Position{NewPosition(5, 40), NewPosition(6, MarkSecondary), NewPosition(7, MarkSecondary)}
	if len(got) != len(want) {
		t.Fatalf("Chain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Chain()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if x.Len() != 3 {
		t.Errorf("Chain() modified the index, Len() = %d", x.Len())
	}
	if _, err := x.Chain(NewPosition(9, 0)); !zerrors.IsConsistency(err) {
		t.Errorf("Chain(missing) error = %v, want consistency fault", err)
	}
}
