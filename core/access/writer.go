// Package access moves object records between the page store and the
// object indexes.
//
// An ObjectWriter writes one record at a time. Records are packed onto
// pages back to back; a record that does not fit continues on a new page
// and the position index links its fragments:
//
//	(page, offset)        -> (next, 0)
//	(next, MarkSecondary) -> (next2, 0)
//	(next2, MarkSecondary) -> 0
package access

import (
	"fmt"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/index"
	"github.com/FocuswithJustin/zoostore/core/pager"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// minHeadRoom is the space a record needs on its first page; a record
// header is two int64 values.
const minHeadRoom = 16

// ObjectWriter writes object records and keeps the indexes current.
// It is not safe for concurrent use.
type ObjectWriter struct {
	s    *pager.Stream
	oids *index.OidIndex
	pos  *index.PositionIndex
	fsm  *index.FreeSpaceManager

	oid     int64
	cur     index.Position
	writing bool
	written int
}

// NewObjectWriter creates a writer that allocates pages from fsm before
// growing the store.
func NewObjectWriter(p *pager.Pager, oids *index.OidIndex, pos *index.PositionIndex, fsm *index.FreeSpaceManager) *ObjectWriter {
	w := &ObjectWriter{
		s:    pager.NewStream(p, fsm),
		oids: oids,
		pos:  pos,
		fsm:  fsm,
	}
	w.s.SetOverflowCallback(w.onOverflow)
	return w
}

// NewPage moves the writer to a fresh page. Call it before the first record
// of a commit so records never land on pages written by earlier commits.
func (w *ObjectWriter) NewPage() error {
	if w.writing {
		return zerrors.NewState("allocate page", fmt.Sprintf("object %d is still being written", w.oid))
	}
	_, err := w.s.AllocatePage()
	return err
}

// StartWriting begins the record of oid at the current position. A previous
// record of the same object is unwound first, so its pages are released
// before any new byte is written.
func (w *ObjectWriter) StartWriting(oid int64) error {
	if w.writing {
		return zerrors.NewState("start writing", fmt.Sprintf("object %d is still being written", w.oid))
	}
	if !index.ValidOID(oid) {
		return zerrors.NewValidation("oid", fmt.Sprintf("%d is not a valid object id", oid))
	}
	if w.s.CurrentPage() == 0 {
		return zerrors.NewState("start writing", "writer has no page; call NewPage first")
	}
	if w.s.Limit()-w.s.CurrentOffset() < minHeadRoom {
		if err := w.NewPage(); err != nil {
			return err
		}
	}

	if old, ok := w.oids.Lookup(oid); ok {
		if err := w.pos.Unwind(old, w); err != nil {
			return fmt.Errorf("release object %d: %w", oid, err)
		}
	}

	head := index.NewPosition(w.s.CurrentPage(), uint32(w.s.CurrentOffset()))
	if err := w.oids.Insert(oid, head); err != nil {
		return err
	}
	w.oid = oid
	w.cur = head
	w.writing = true
	return nil
}

func (w *ObjectWriter) onOverflow(newPage pager.Pgno) {
	if !w.writing {
		return
	}
	w.pos.AddPosition(w.cur.Page(), w.cur.Offset(), index.NewPosition(newPage, 0))
	w.cur = index.NewPosition(newPage, index.MarkSecondary)
	logging.PageEvent("overflow", uint32(newPage), "oid", w.oid)
}

// FinishObject closes the fragment chain of the current record. The object
// is then reachable through the indexes.
func (w *ObjectWriter) FinishObject() error {
	if !w.writing {
		return zerrors.NewState("finish object", "no object is being written")
	}
	w.pos.AddPosition(w.cur.Page(), w.cur.Offset(), index.Terminal)
	w.writing = false
	w.written++
	return nil
}

// Remove deletes the record of oid and releases its pages.
func (w *ObjectWriter) Remove(oid int64) error {
	head, ok := w.oids.Remove(oid)
	if !ok {
		return zerrors.NewNotFound("object", fmt.Sprint(oid))
	}
	if err := w.pos.Unwind(head, w); err != nil {
		return fmt.Errorf("remove object %d: %w", oid, err)
	}
	return nil
}

// Free passes pgno on to the free space manager unless the writer is still
// filling it.
func (w *ObjectWriter) Free(pgno pager.Pgno) error {
	if pgno == w.s.CurrentPage() {
		return nil
	}
	return w.fsm.Free(pgno)
}

// Flush hands the current page to the pager.
func (w *ObjectWriter) Flush() error {
	return w.s.Flush()
}

// Close flushes the writer and releases its current page if no record
// ended up on it.
func (w *ObjectWriter) Close() error {
	if w.writing {
		return zerrors.NewState("close writer", fmt.Sprintf("object %d is still being written", w.oid))
	}
	page := w.s.CurrentPage()
	if err := w.s.Close(); err != nil {
		return err
	}
	if page != 0 && !w.pos.PageInUse(page) && !w.fsm.IsFree(page) {
		return w.fsm.Free(page)
	}
	return nil
}

// Written returns the number of records finished by this writer.
func (w *ObjectWriter) Written() int { return w.written }

// Position returns the current page and offset.
func (w *ObjectWriter) Position() index.Position {
	return index.NewPosition(w.s.CurrentPage(), uint32(w.s.CurrentOffset()))
}

func (w *ObjectWriter) WriteBool(v bool) error       { return w.s.WriteBool(v) }
func (w *ObjectWriter) WriteInt8(v int8) error       { return w.s.WriteInt8(v) }
func (w *ObjectWriter) WriteInt16(v int16) error     { return w.s.WriteInt16(v) }
func (w *ObjectWriter) WriteInt32(v int32) error     { return w.s.WriteInt32(v) }
func (w *ObjectWriter) WriteInt64(v int64) error     { return w.s.WriteInt64(v) }
func (w *ObjectWriter) WriteFloat32(v float32) error { return w.s.WriteFloat32(v) }
func (w *ObjectWriter) WriteFloat64(v float64) error { return w.s.WriteFloat64(v) }
func (w *ObjectWriter) WriteBytes(v []byte) error    { return w.s.WriteBytes(v) }
func (w *ObjectWriter) WriteString(v string) error   { return w.s.WriteString(v) }
