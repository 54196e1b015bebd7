package schema

import (
	"fmt"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

type evolveOp int

const (
	opAddField evolveOp = iota
	opRemoveField
	opRenameField
	opRenameClass
)

type evolveStep struct {
	op    evolveOp
	field FieldDef
	from  string
	to    string
}

// Evolution collects changes to a class. Apply them with ClassSchema.Evolve.
type Evolution struct {
	steps []evolveStep
}

// AddField appends a new field.
func (e *Evolution) AddField(f FieldDef) *Evolution {
	e.steps = append(e.steps, evolveStep{op: opAddField, field: f})
	return e
}

// RemoveField drops a declared field.
func (e *Evolution) RemoveField(name string) *Evolution {
	e.steps = append(e.steps, evolveStep{op: opRemoveField, from: name})
	return e
}

// RenameField renames a declared field, keeping its values.
func (e *Evolution) RenameField(from, to string) *Evolution {
	e.steps = append(e.steps, evolveStep{op: opRenameField, from: from, to: to})
	return e
}

// RenameClass changes the class name.
func (e *Evolution) RenameClass(to string) *Evolution {
	e.steps = append(e.steps, evolveStep{op: opRenameClass, to: to})
	return e
}

// Empty reports whether no change was recorded.
func (e *Evolution) Empty() bool { return len(e.steps) == 0 }

// Evolve builds the successor of c with the recorded changes applied. The
// returned schema is transient and linked back through PrevVersion; the
// caller links c.NextVersion once the new version is registered. renames
// maps old field names to new ones for migrating instance values.
func (c *ClassSchema) Evolve(e *Evolution) (next *ClassSchema, renames map[string]string, err error) {
	if !c.IsCurrent() {
		return nil, nil, zerrors.NewState("evolve "+c.Name, "schema is not the current version")
	}
	next = &ClassSchema{
		Name:        c.Name,
		Fields:      append([]FieldDef(nil), c.Fields...),
		PrevVersion: c,
		Type:        c.Type,
	}
	next.SetSuper(c.Super)
	renames = make(map[string]string)

	for _, s := range e.steps {
		switch s.op {
		case opAddField:
			next.Fields = append(next.Fields, s.field)
		case opRemoveField:
			i := indexOfField(next.Fields, s.from)
			if i < 0 {
				return nil, nil, zerrors.NewNotFound("field", c.Name+"."+s.from)
			}
			next.Fields = append(next.Fields[:i], next.Fields[i+1:]...)
		case opRenameField:
			i := indexOfField(next.Fields, s.from)
			if i < 0 {
				return nil, nil, zerrors.NewNotFound("field", c.Name+"."+s.from)
			}
			next.Fields[i].Name = s.to
			orig := s.from
			for o, n := range renames {
				if n == s.from {
					orig = o
				}
			}
			renames[orig] = s.to
		case opRenameClass:
			next.Name = s.to
			next.Type = nil
		}
	}
	if err := next.Validate(); err != nil {
		return nil, nil, fmt.Errorf("evolve %s: %w", c.Name, err)
	}
	return next, renames, nil
}

// Rebase returns the successor of a subclass schema whose super class
// evolved to super. Declared fields are unchanged.
func (c *ClassSchema) Rebase(super *ClassSchema) (*ClassSchema, error) {
	next := &ClassSchema{
		Name:        c.Name,
		Fields:      append([]FieldDef(nil), c.Fields...),
		PrevVersion: c,
		Type:        c.Type,
	}
	next.SetSuper(super)
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("rebase %s: %w", c.Name, err)
	}
	return next, nil
}

func indexOfField(fields []FieldDef, name string) int {
	for i, f := range fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Migrate converts values stored under schema from to the layout of to.
// Fields are matched by name after applying renames; fields missing from
// from get zero values and fields missing from to are dropped. A field
// whose kind changed is reset to its zero value.
func Migrate(values map[string]Value, from, to *ClassSchema, renames map[string]string) map[string]Value {
	out := make(map[string]Value)
	for _, f := range to.AllFields() {
		k, err := f.Kind()
		if err != nil {
			continue
		}
		out[f.Name] = ZeroValue(k)
	}
	for _, f := range from.AllFields() {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		name := f.Name
		if n, ok := renames[name]; ok {
			name = n
		}
		if cur, ok := out[name]; ok && cur.Kind() == v.Kind() {
			out[name] = v
		}
	}
	return out
}
