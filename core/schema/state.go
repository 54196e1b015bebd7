package schema

import "fmt"

// State is the lifecycle state of a persistent object within a session.
type State int

const (
	// Transient objects are not managed by a session.
	Transient State = iota
	// PersistentNew objects were made persistent in the open transaction.
	PersistentNew
	// PersistentClean objects are loaded and unmodified.
	PersistentClean
	// PersistentDirty objects were modified in the open transaction.
	PersistentDirty
	// PersistentDeleted objects were deleted in the open transaction.
	PersistentDeleted
	// PersistentNewDeleted objects were created and deleted in the open transaction.
	PersistentNewDeleted
	// Hollow objects have identity and class but no field values loaded.
	Hollow
)

var stateNames = [...]string{
	Transient:            "transient",
	PersistentNew:        "persistent-new",
	PersistentClean:      "persistent-clean",
	PersistentDirty:      "persistent-dirty",
	PersistentDeleted:    "persistent-deleted",
	PersistentNewDeleted: "persistent-new-deleted",
	Hollow:               "hollow",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsPersistent reports whether the object is managed by a session.
func (s State) IsPersistent() bool { return s != Transient }

// IsNew reports whether the object was created in the open transaction.
func (s State) IsNew() bool { return s == PersistentNew || s == PersistentNewDeleted }

// IsDeleted reports whether the object was deleted in the open transaction.
func (s State) IsDeleted() bool { return s == PersistentDeleted || s == PersistentNewDeleted }

// IsDirty reports whether the object must be written (or removed) at commit.
func (s State) IsDirty() bool {
	switch s {
	case PersistentNew, PersistentDirty, PersistentDeleted, PersistentNewDeleted:
		return true
	}
	return false
}

// Lifecycle holds the identity and state of a persistent object.
// Embed it to implement the lifecycle part of a persistent type.
type Lifecycle struct {
	oid   int64
	state State
	class *ClassSchema
}

// OID returns the object identifier, 0 while transient.
func (l *Lifecycle) OID() int64 { return l.oid }

// State returns the lifecycle state.
func (l *Lifecycle) State() State { return l.state }

// Class returns the schema the object is an instance of.
func (l *Lifecycle) Class() *ClassSchema { return l.class }

// Attach binds the object to an OID and class in state st.
func (l *Lifecycle) Attach(oid int64, class *ClassSchema, st State) {
	l.oid = oid
	l.class = class
	l.state = st
}

// MarkClean moves the object to PersistentClean.
func (l *Lifecycle) MarkClean() { l.state = PersistentClean }

// MarkDirty records a modification. New and deleted objects keep their state.
func (l *Lifecycle) MarkDirty() {
	switch l.state {
	case PersistentClean, Hollow:
		l.state = PersistentDirty
	}
}

// MarkDeleted records a deletion.
func (l *Lifecycle) MarkDeleted() {
	switch l.state {
	case PersistentNew:
		l.state = PersistentNewDeleted
	case PersistentClean, PersistentDirty, Hollow:
		l.state = PersistentDeleted
	}
}

// MarkHollow moves the object to Hollow.
func (l *Lifecycle) MarkHollow() { l.state = Hollow }

// MarkTransient detaches the object from its session.
func (l *Lifecycle) MarkTransient() { l.state = Transient }
