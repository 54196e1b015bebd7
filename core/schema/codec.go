package schema

import (
	"fmt"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

// Writer is the primitive output a record is encoded to.
type Writer interface {
	WriteBool(bool) error
	WriteInt8(int8) error
	WriteInt16(int16) error
	WriteInt32(int32) error
	WriteInt64(int64) error
	WriteFloat32(float32) error
	WriteFloat64(float64) error
	WriteBytes([]byte) error
	WriteString(string) error
}

// Reader is the primitive input a record is decoded from.
type Reader interface {
	ReadBool() (bool, error)
	ReadInt8() (int8, error)
	ReadInt16() (int16, error)
	ReadInt32() (int32, error)
	ReadInt64() (int64, error)
	ReadFloat32() (float32, error)
	ReadFloat64() (float64, error)
	ReadBytes() ([]byte, error)
	ReadString() (string, error)
}

// maxFieldCount bounds the field count read from a schema record.
const maxFieldCount = 1 << 16

// EncodeSchema writes the schema record of c.
func EncodeSchema(w Writer, c *ClassSchema) error {
	if err := w.WriteInt64(c.OID()); err != nil {
		return err
	}
	if err := w.WriteString(c.Name); err != nil {
		return err
	}
	if err := w.WriteInt64(c.SuperOID); err != nil {
		return err
	}
	if err := w.WriteInt32(int32(len(c.Fields))); err != nil {
		return err
	}
	for _, f := range c.Fields {
		if err := w.WriteString(f.Name); err != nil {
			return err
		}
		if err := w.WriteString(f.TypeName); err != nil {
			return err
		}
		if err := w.WriteBool(f.IsRef); err != nil {
			return err
		}
	}
	return nil
}

// SchemaRecord is a decoded schema record before its super class is linked.
type SchemaRecord struct {
	OID      int64
	Name     string
	SuperOID int64
	Fields   []FieldDef
}

// DecodeSchemaRecord reads a schema record without resolving its type.
func DecodeSchemaRecord(r Reader) (SchemaRecord, error) {
	var rec SchemaRecord
	var err error
	if rec.OID, err = r.ReadInt64(); err != nil {
		return rec, err
	}
	if rec.Name, err = r.ReadString(); err != nil {
		return rec, err
	}
	if rec.SuperOID, err = r.ReadInt64(); err != nil {
		return rec, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return rec, err
	}
	if n < 0 || n > maxFieldCount {
		return rec, zerrors.NewParse("schema record", "", fmt.Sprintf("field count %d out of range", n))
	}
	rec.Fields = make([]FieldDef, 0, n)
	for i := int32(0); i < n; i++ {
		var f FieldDef
		if f.Name, err = r.ReadString(); err != nil {
			return rec, err
		}
		if f.TypeName, err = r.ReadString(); err != nil {
			return rec, err
		}
		if f.IsRef, err = r.ReadBool(); err != nil {
			return rec, err
		}
		rec.Fields = append(rec.Fields, f)
	}
	return rec, nil
}

// DecodeSchema reads a schema record and resolves its class name through
// reg. An unresolvable name is a consistency fault. The returned schema is
// attached as PersistentClean; Super is left for the caller to link.
func DecodeSchema(r Reader, reg *Registry, meta *ClassSchema) (*ClassSchema, error) {
	rec, err := DecodeSchemaRecord(r)
	if err != nil {
		return nil, err
	}
	typ, ok := reg.Resolve(rec.Name)
	if !ok {
		return nil, zerrors.NewConsistency("decode schema", "class %q (oid %d) has no registered type", rec.Name, rec.OID)
	}
	c := &ClassSchema{
		Name:     rec.Name,
		SuperOID: rec.SuperOID,
		Fields:   rec.Fields,
		Type:     typ,
	}
	c.Attach(rec.OID, meta, PersistentClean)
	return c, nil
}
