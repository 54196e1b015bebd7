package store

import (
	"sort"

	"github.com/FocuswithJustin/zoostore/core/schema"
)

// Extent iterates over the instances of a class. Committed instances are
// returned hollow and load on first access; objects made persistent in the
// open transaction are included, deleted ones are skipped.
type Extent struct {
	s    *Session
	oids []int64
	i    int
	cur  *schema.GenericObject
	err  error
}

// Extent returns an iterator over the instances of the named class, with
// or without its subclasses, in OID order.
func (s *Session) Extent(className string, subclasses bool) (*Extent, error) {
	cls, err := s.Schema(className)
	if err != nil {
		return nil, err
	}
	match := func(schemaOID int64) bool {
		sc, ok := s.cache.SchemaByOID(schemaOID)
		if !ok {
			return false
		}
		cur := sc.Current()
		if subclasses {
			return cur.IsA(cls)
		}
		return cur == cls
	}
	oids := s.store.committedOIDs(match)

	it := s.cache.Iterator(cls, subclasses, schema.PersistentNew)
	for it.Next() {
		if _, ok := it.Value().(*schema.GenericObject); ok {
			oids = append(oids, it.Value().OID())
		}
	}
	it.Close()
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	return &Extent{s: s, oids: oids}, nil
}

// Next advances to the next instance.
func (e *Extent) Next() bool {
	for e.err == nil && e.i < len(e.oids) {
		oid := e.oids[e.i]
		e.i++
		if p, ok := e.s.cache.Lookup(oid); ok {
			o, isObj := p.(*schema.GenericObject)
			if !isObj || o.State().IsDeleted() {
				continue
			}
			e.cur = o
			return true
		}
		o, err := e.s.hollow(oid)
		if err != nil {
			e.err = err
			break
		}
		e.cur = o
		return true
	}
	e.cur = nil
	return false
}

// Value returns the current instance.
func (e *Extent) Value() *schema.GenericObject { return e.cur }

// Err returns the error that stopped the iteration, if any.
func (e *Extent) Err() error { return e.err }

// Close ends the iteration.
func (e *Extent) Close() error {
	e.i = len(e.oids)
	e.cur = nil
	return nil
}

// Count returns the number of instances without loading them.
func (s *Session) Count(className string, subclasses bool) (int, error) {
	ext, err := s.Extent(className, subclasses)
	if err != nil {
		return 0, err
	}
	defer ext.Close()
	n := 0
	for _, oid := range ext.oids {
		if p, ok := s.cache.Lookup(oid); ok && p.State().IsDeleted() {
			continue
		}
		n++
	}
	return n, nil
}
