package schema

import (
	"fmt"
	"sort"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

// Context is the session side of a GenericObject: it loads hollow objects
// and records modifications.
type Context interface {
	Activate(o *GenericObject) error
	NotifyDirty(o *GenericObject)
}

// GenericObject is a schema-driven persistent instance whose field values
// are kept by name.
type GenericObject struct {
	Lifecycle
	values map[string]Value
	ctx    Context
}

// NewGenericObject creates a transient instance of cls with zero values.
func NewGenericObject(cls *ClassSchema) *GenericObject {
	o := &GenericObject{}
	o.class = cls
	o.resetValues()
	return o
}

func (o *GenericObject) resetValues() {
	o.values = make(map[string]Value)
	for _, f := range o.class.AllFields() {
		k, err := f.Kind()
		if err != nil {
			continue
		}
		o.values[f.Name] = ZeroValue(k)
	}
}

// SetContext binds the object to a session. A nil context detaches it.
func (o *GenericObject) SetContext(ctx Context) { o.ctx = ctx }

// Context returns the owning session context, nil when detached.
func (o *GenericObject) Context() Context { return o.ctx }

// SetClass rebinds the object to another schema version, keeping values
// whose field still exists with the same kind.
func (o *GenericObject) SetClass(cls *ClassSchema) {
	old := o.values
	o.class = cls
	o.resetValues()
	for name, v := range old {
		if cur, ok := o.values[name]; ok && cur.Kind() == v.Kind() {
			o.values[name] = v
		}
	}
}

func (o *GenericObject) checkUsable(op string) error {
	if o.state.IsDeleted() {
		return zerrors.NewState(op, fmt.Sprintf("object %d was deleted", o.oid))
	}
	if o.state.IsPersistent() && o.ctx == nil {
		return zerrors.NewState(op, fmt.Sprintf("object %d is not attached to an open session", o.oid))
	}
	return nil
}

func (o *GenericObject) activate() error {
	if o.state != Hollow {
		return nil
	}
	return o.ctx.Activate(o)
}

// Get returns the value of field name, loading the object if it is hollow.
func (o *GenericObject) Get(name string) (Value, error) {
	if err := o.checkUsable("get field"); err != nil {
		return Value{}, err
	}
	if err := o.activate(); err != nil {
		return Value{}, err
	}
	v, ok := o.values[name]
	if !ok {
		return Value{}, zerrors.NewNotFound("field", o.class.Name+"."+name)
	}
	return v, nil
}

// Set assigns field name. Go values are converted to the field kind;
// persistent objects and OIDs are accepted for reference fields.
func (o *GenericObject) Set(name string, x any) error {
	if err := o.checkUsable("set field"); err != nil {
		return err
	}
	f, ok := o.class.FieldByName(name)
	if !ok {
		return zerrors.NewNotFound("field", o.class.Name+"."+name)
	}
	k, err := f.Kind()
	if err != nil {
		return err
	}
	v, err := convert(k, x)
	if err != nil {
		return zerrors.NewValidation(o.class.Name+"."+name, err.Error())
	}
	if err := o.activate(); err != nil {
		return err
	}
	o.values[name] = v
	if o.state == PersistentClean || o.state == Hollow {
		o.MarkDirty()
		if o.ctx != nil {
			o.ctx.NotifyDirty(o)
		}
	}
	return nil
}

// SetValue is Set for an already typed value.
func (o *GenericObject) SetValue(name string, v Value) error {
	return o.Set(name, v)
}

// Values returns a copy of the loaded field values.
func (o *GenericObject) Values() map[string]Value {
	out := make(map[string]Value, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// FieldNames returns the field names in sorted order.
func (o *GenericObject) FieldNames() []string {
	names := make([]string, 0, len(o.values))
	for k := range o.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Load replaces the field values without touching the lifecycle state.
// Unknown names are ignored; missing names keep their zero value.
func (o *GenericObject) Load(values map[string]Value) {
	o.resetValues()
	for name, v := range values {
		if cur, ok := o.values[name]; ok && cur.Kind() == v.Kind() {
			o.values[name] = v
		}
	}
}

// MarkHollow drops the loaded values.
func (o *GenericObject) MarkHollow() {
	o.Lifecycle.MarkHollow()
	o.values = nil
}

// IsLoaded reports whether field values are present.
func (o *GenericObject) IsLoaded() bool { return o.values != nil }

func (o *GenericObject) String() string {
	name := "<nil>"
	if o.class != nil {
		name = o.class.Name
	}
	return fmt.Sprintf("%s#%d[%s]", name, o.oid, o.state)
}
