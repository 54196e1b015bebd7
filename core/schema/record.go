package schema

import (
	"fmt"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

// RecordHeader starts every object record.
type RecordHeader struct {
	OID       int64
	SchemaOID int64
}

// IsSchema reports whether the record holds a class schema.
func (h RecordHeader) IsSchema() bool { return h.SchemaOID == MetaSchemaOID }

// WriteHeader writes a record header.
func WriteHeader(w Writer, h RecordHeader) error {
	if err := w.WriteInt64(h.OID); err != nil {
		return err
	}
	return w.WriteInt64(h.SchemaOID)
}

// ReadHeader reads a record header.
func ReadHeader(r Reader) (RecordHeader, error) {
	var h RecordHeader
	var err error
	if h.OID, err = r.ReadInt64(); err != nil {
		return h, err
	}
	if h.SchemaOID, err = r.ReadInt64(); err != nil {
		return h, err
	}
	return h, nil
}

// EncodeSchemaObject writes c as a persistent object of the meta schema:
// header, schema record, then the OID of the next version (0 if current).
func EncodeSchemaObject(w Writer, c *ClassSchema) error {
	if err := WriteHeader(w, RecordHeader{OID: c.OID(), SchemaOID: MetaSchemaOID}); err != nil {
		return err
	}
	if err := EncodeSchema(w, c); err != nil {
		return err
	}
	var next int64
	if c.NextVersion != nil {
		next = c.NextVersion.OID()
	}
	return w.WriteInt64(next)
}

// DecodeSchemaBody reads what follows the header of a schema object and
// returns the schema with the OID of its next version.
func DecodeSchemaBody(r Reader, reg *Registry, meta *ClassSchema) (*ClassSchema, int64, error) {
	c, err := DecodeSchema(r, reg, meta)
	if err != nil {
		return nil, 0, err
	}
	next, err := r.ReadInt64()
	if err != nil {
		return nil, 0, err
	}
	return c, next, nil
}

// EncodeInstance writes o as header plus its field values in AllFields order.
func EncodeInstance(w Writer, o *GenericObject) error {
	cls := o.Class()
	if err := WriteHeader(w, RecordHeader{OID: o.OID(), SchemaOID: cls.OID()}); err != nil {
		return err
	}
	return EncodeValues(w, cls, o.values)
}

// EncodeValues writes the values of every field of cls.
func EncodeValues(w Writer, cls *ClassSchema, values map[string]Value) error {
	for _, f := range cls.AllFields() {
		k, err := f.Kind()
		if err != nil {
			return err
		}
		v, ok := values[f.Name]
		if !ok {
			v = ZeroValue(k)
		}
		if v.Kind() != k {
			return zerrors.NewConsistency("encode "+cls.Name, "field %s holds %s, declared %s", f.Name, v.Kind(), k)
		}
		if err := writeValue(w, v); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

// DecodeValues reads the values of every field of cls.
func DecodeValues(r Reader, cls *ClassSchema) (map[string]Value, error) {
	fields := cls.AllFields()
	values := make(map[string]Value, len(fields))
	for _, f := range fields {
		k, err := f.Kind()
		if err != nil {
			return nil, err
		}
		v, err := readValue(r, k)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		values[f.Name] = v
	}
	return values, nil
}

func writeValue(w Writer, v Value) error {
	switch v.kind {
	case KindBool:
		return w.WriteBool(v.AsBool())
	case KindInt8:
		return w.WriteInt8(int8(v.i))
	case KindInt16:
		return w.WriteInt16(int16(v.i))
	case KindInt32:
		return w.WriteInt32(int32(v.i))
	case KindInt64, KindRef:
		return w.WriteInt64(v.i)
	case KindFloat32:
		return w.WriteFloat32(float32(v.f))
	case KindFloat64:
		return w.WriteFloat64(v.f)
	case KindString:
		return w.WriteString(v.s)
	case KindBytes:
		return w.WriteBytes(v.b)
	}
	return zerrors.NewUnsupported("value kind", v.kind.String())
}

func readValue(r Reader, k Kind) (Value, error) {
	switch k {
	case KindBool:
		b, err := r.ReadBool()
		return BoolValue(b), err
	case KindInt8:
		i, err := r.ReadInt8()
		return Int8Value(i), err
	case KindInt16:
		i, err := r.ReadInt16()
		return Int16Value(i), err
	case KindInt32:
		i, err := r.ReadInt32()
		return Int32Value(i), err
	case KindInt64:
		i, err := r.ReadInt64()
		return Int64Value(i), err
	case KindRef:
		i, err := r.ReadInt64()
		return RefValue(i), err
	case KindFloat32:
		f, err := r.ReadFloat32()
		return Float32Value(f), err
	case KindFloat64:
		f, err := r.ReadFloat64()
		return Float64Value(f), err
	case KindString:
		s, err := r.ReadString()
		return StringValue(s), err
	case KindBytes:
		b, err := r.ReadBytes()
		return Value{kind: KindBytes, b: b}, err
	}
	return Value{}, zerrors.NewUnsupported("value kind", k.String())
}
