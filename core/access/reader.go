package access

import (
	"fmt"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/index"
	"github.com/FocuswithJustin/zoostore/core/pager"
)

// ObjectReader reads object records located through the OID index.
type ObjectReader struct {
	s    *pager.Stream
	oids *index.OidIndex
}

// NewObjectReader creates a reader on p.
func NewObjectReader(p *pager.Pager, oids *index.OidIndex) *ObjectReader {
	return &ObjectReader{s: pager.NewStream(p, nil), oids: oids}
}

// SetIndex replaces the OID index, e.g. after a rollback restored another tree.
func (r *ObjectReader) SetIndex(oids *index.OidIndex) { r.oids = oids }

// Seek positions the reader at the head of the record of oid.
func (r *ObjectReader) Seek(oid int64) error {
	pos, ok := r.oids.Lookup(oid)
	if !ok {
		return zerrors.NewNotFound("object", fmt.Sprint(oid))
	}
	return r.SeekPosition(pos)
}

// SeekPosition positions the reader at pos, which must be a head position.
func (r *ObjectReader) SeekPosition(pos index.Position) error {
	if pos.IsSecondary() {
		return zerrors.NewConsistency("seek", "%s is a continuation fragment", pos)
	}
	return r.s.Seek(pos.Page(), pos.ByteOffset())
}

func (r *ObjectReader) ReadBool() (bool, error)       { return r.s.ReadBool() }
func (r *ObjectReader) ReadInt8() (int8, error)       { return r.s.ReadInt8() }
func (r *ObjectReader) ReadInt16() (int16, error)     { return r.s.ReadInt16() }
func (r *ObjectReader) ReadInt32() (int32, error)     { return r.s.ReadInt32() }
func (r *ObjectReader) ReadInt64() (int64, error)     { return r.s.ReadInt64() }
func (r *ObjectReader) ReadFloat32() (float32, error) { return r.s.ReadFloat32() }
func (r *ObjectReader) ReadFloat64() (float64, error) { return r.s.ReadFloat64() }
func (r *ObjectReader) ReadBytes() ([]byte, error)    { return r.s.ReadBytes() }
func (r *ObjectReader) ReadString() (string, error)   { return r.s.ReadString() }
