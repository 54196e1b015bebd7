// Package schema describes persistent classes and their instances.
//
// A ClassSchema is itself a persistent object. Evolving a committed schema
// creates a new version with a new OID; the old version keeps a pointer to
// its successor, so only the version without a successor is current.
package schema

import (
	"fmt"
	"strings"
	"sync"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

// Built-in identifiers.
const (
	// MetaSchemaOID is the OID of the schema describing schema records.
	MetaSchemaOID int64 = 1

	// MetaClassName is the class name of schema records.
	MetaClassName = "zoostore.ClassSchema"
)

// FieldDef declares one persistent field.
type FieldDef struct {
	Name     string
	TypeName string // primitive kind name, or the referenced class name
	IsRef    bool   // field holds a reference to another persistent object
}

// Kind returns the storage kind of the field.
func (f FieldDef) Kind() (Kind, error) {
	if f.IsRef {
		return KindRef, nil
	}
	return ParsePrimitiveKind(f.TypeName)
}

// Field creates a primitive field definition.
func Field(name string, k Kind) FieldDef {
	return FieldDef{Name: name, TypeName: k.String()}
}

// RefField creates a reference field to class target.
func RefField(name, target string) FieldDef {
	return FieldDef{Name: name, TypeName: target, IsRef: true}
}

// ClassSchema describes one version of a persistent class.
type ClassSchema struct {
	Lifecycle

	// Name is the class name.
	Name string

	// SuperOID is the OID of the super class schema, 0 for root classes.
	SuperOID int64

	// Fields are the fields declared by this class, without inherited ones.
	Fields []FieldDef

	// Super is the resolved super class schema.
	Super *ClassSchema

	// NextVersion is the evolved successor, nil for the current version.
	NextVersion *ClassSchema

	// PrevVersion is the version this one evolved from.
	PrevVersion *ClassSchema

	// Type is the registered type the class name resolved to.
	Type *Type
}

// NewClassSchema validates and creates a transient schema. The OID is
// assigned when the schema is made persistent.
func NewClassSchema(name string, super *ClassSchema, fields []FieldDef) (*ClassSchema, error) {
	c := &ClassSchema{
		Name:   name,
		Fields: append([]FieldDef(nil), fields...),
	}
	c.SetSuper(super)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetSuper links c to super.
func (c *ClassSchema) SetSuper(super *ClassSchema) {
	c.Super = super
	c.SuperOID = 0
	if super != nil {
		c.SuperOID = super.OID()
	}
}

// Validate checks names, kinds and that no field shadows an inherited one.
func (c *ClassSchema) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return zerrors.NewValidation("class", "empty class name")
	}
	seen := map[string]bool{}
	if c.Super != nil {
		for _, f := range c.Super.AllFields() {
			seen[f.Name] = true
		}
	}
	for _, f := range c.Fields {
		if f.Name == "" {
			return zerrors.NewValidation(c.Name, "empty field name")
		}
		if seen[f.Name] {
			return zerrors.NewValidation(c.Name, fmt.Sprintf("duplicate field %q", f.Name))
		}
		seen[f.Name] = true
		if _, err := f.Kind(); err != nil {
			return fmt.Errorf("class %s field %s: %w", c.Name, f.Name, err)
		}
		if f.IsRef && f.TypeName == "" {
			return zerrors.NewValidation(c.Name, fmt.Sprintf("reference field %q has no target class", f.Name))
		}
	}
	return nil
}

// AllFields returns inherited fields followed by the class's own fields.
// This is the order fields are stored in an instance record.
func (c *ClassSchema) AllFields() []FieldDef {
	if c.Super == nil {
		return c.Fields
	}
	inherited := c.Super.AllFields()
	all := make([]FieldDef, 0, len(inherited)+len(c.Fields))
	all = append(all, inherited...)
	return append(all, c.Fields...)
}

// FieldByName looks up a field, including inherited ones.
func (c *ClassSchema) FieldByName(name string) (FieldDef, bool) {
	for _, f := range c.AllFields() {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// IsCurrent reports whether c has no successor.
func (c *ClassSchema) IsCurrent() bool {
	return c.NextVersion == nil
}

// Current follows the version chain to the current version.
func (c *ClassSchema) Current() *ClassSchema {
	cur := c
	for cur.NextVersion != nil {
		cur = cur.NextVersion
	}
	return cur
}

// Version returns the 1-based position of c in its version chain.
func (c *ClassSchema) Version() int {
	n := 1
	for p := c.PrevVersion; p != nil; p = p.PrevVersion {
		n++
	}
	return n
}

// IsA reports whether c is other or a subclass of it.
func (c *ClassSchema) IsA(other *ClassSchema) bool {
	for s := c; s != nil; s = s.Super {
		if s == other {
			return true
		}
	}
	return false
}

// SameLineage reports whether c and other are versions of the same class.
func (c *ClassSchema) SameLineage(other *ClassSchema) bool {
	return c.Current() == other.Current()
}

// MarkHollow keeps schemas loaded; they are never evicted.
func (c *ClassSchema) MarkHollow() {
	c.MarkClean()
}

// Refresh copies the persistent content of loaded into c, keeping c's identity.
func (c *ClassSchema) Refresh(loaded *ClassSchema) {
	c.Name = loaded.Name
	c.SuperOID = loaded.SuperOID
	c.Fields = loaded.Fields
	c.Type = loaded.Type
	c.MarkClean()
}

func (c *ClassSchema) String() string {
	return fmt.Sprintf("%s(v%d, oid=%d)", c.Name, c.Version(), c.OID())
}

// NewMetaSchema returns the built-in schema of schema records.
func NewMetaSchema() *ClassSchema {
	meta := &ClassSchema{
		Name: MetaClassName,
		Fields: []FieldDef{
			Field("className", KindString),
			Field("superOid", KindInt64),
		},
		Type: &Type{Name: MetaClassName},
	}
	meta.Attach(MetaSchemaOID, meta, PersistentClean)
	return meta
}

// Type is a class name known to a Registry.
type Type struct {
	Name string
}

// Registry resolves class names found in schema records.
// A dynamic registry accepts every name; a strict one only registered names.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]*Type
	dynamic bool
}

// NewRegistry creates a registry. With dynamic set, unknown names are
// registered on first use, which is what generic access needs.
func NewRegistry(dynamic bool) *Registry {
	r := &Registry{types: make(map[string]*Type), dynamic: dynamic}
	r.Register(MetaClassName)
	return r
}

// Register adds name and returns its type.
func (r *Registry) Register(name string) *Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.types[name]; ok {
		return t
	}
	t := &Type{Name: name}
	r.types[name] = t
	return t
}

// Resolve returns the type for name.
func (r *Registry) Resolve(name string) (*Type, bool) {
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	if ok {
		return t, true
	}
	if !r.dynamic {
		return nil, false
	}
	return r.Register(name), true
}

// Names returns the registered names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	return names
}
