package index

import (
	"github.com/google/btree"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

// btreeDegree is the branching factor of the in-memory trees.
const btreeDegree = 32

// FirstUserOID is the lowest OID handed to application objects and schemas.
// Smaller values are reserved for built-in objects.
const FirstUserOID int64 = 100

type oidEntry struct {
	oid int64
	pos Position
}

func oidLess(a, b oidEntry) bool { return a.oid < b.oid }

// OidIndex maps OIDs to the position of the object's head fragment.
type OidIndex struct {
	tree  *btree.BTreeG[oidEntry]
	saved *btree.BTreeG[oidEntry]
}

// NewOidIndex creates an empty index.
func NewOidIndex() *OidIndex {
	return &OidIndex{tree: btree.NewG(btreeDegree, oidLess)}
}

// ValidOID reports whether oid may be stored. Zero and negative values are
// never valid; reserved values are accepted because built-in objects use them.
func ValidOID(oid int64) bool {
	return oid > 0
}

// Insert maps oid to pos, replacing an existing entry.
func (x *OidIndex) Insert(oid int64, pos Position) error {
	if !ValidOID(oid) {
		return zerrors.NewValidation("oid", "must be positive")
	}
	x.tree.ReplaceOrInsert(oidEntry{oid: oid, pos: pos})
	return nil
}

// Update moves an existing entry to pos.
func (x *OidIndex) Update(oid int64, pos Position) error {
	if _, ok := x.tree.Delete(oidEntry{oid: oid}); !ok {
		return zerrors.NewNotFound("oid", formatOID(oid))
	}
	x.tree.ReplaceOrInsert(oidEntry{oid: oid, pos: pos})
	return nil
}

// Lookup returns the position of oid. A missing OID is not an error.
func (x *OidIndex) Lookup(oid int64) (Position, bool) {
	e, ok := x.tree.Get(oidEntry{oid: oid})
	return e.pos, ok
}

// Remove deletes oid and returns its former position.
func (x *OidIndex) Remove(oid int64) (Position, bool) {
	e, ok := x.tree.Delete(oidEntry{oid: oid})
	return e.pos, ok
}

// Len returns the number of entries.
func (x *OidIndex) Len() int {
	return x.tree.Len()
}

// MaxOID returns the largest OID, or 0 if the index is empty.
func (x *OidIndex) MaxOID() int64 {
	e, ok := x.tree.Max()
	if !ok {
		return 0
	}
	return e.oid
}

// Ascend calls fn for every entry in OID order until fn returns false.
func (x *OidIndex) Ascend(fn func(oid int64, pos Position) bool) {
	x.tree.Ascend(func(e oidEntry) bool {
		return fn(e.oid, e.pos)
	})
}

// Begin records a checkpoint for Rollback.
func (x *OidIndex) Begin() {
	x.saved = x.tree.Clone()
}

// Commit drops the checkpoint.
func (x *OidIndex) Commit() {
	x.saved = nil
}

// Rollback restores the checkpoint taken by Begin.
func (x *OidIndex) Rollback() {
	if x.saved != nil {
		x.tree = x.saved
		x.saved = nil
	}
}
