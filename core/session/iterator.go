package session

import (
	"sort"

	"github.com/FocuswithJustin/zoostore/core/schema"
)

// Iterator walks cached objects once. It holds no resources; Close only
// ends the iteration.
type Iterator struct {
	c          *Cache
	class      *schema.ClassSchema
	subclasses bool
	states     []schema.State

	oids []int64
	i    int
	cur  Persistent
}

// Iterator returns the cached instances of class, optionally including
// subclasses, in OID order. With states given only objects in one of those
// states are returned. Objects added after the call are not visited.
func (c *Cache) Iterator(class *schema.ClassSchema, subclasses bool, states ...schema.State) *Iterator {
	oids := make([]int64, 0, len(c.objs))
	for oid, o := range c.objs {
		if _, ok := o.(*schema.ClassSchema); ok {
			continue
		}
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	return &Iterator{c: c, class: class, subclasses: subclasses, states: states, oids: oids}
}

// Next advances to the next matching object.
func (it *Iterator) Next() bool {
	for it.i < len(it.oids) {
		oid := it.oids[it.i]
		it.i++
		o, ok := it.c.objs[oid]
		if !ok || !it.match(o) {
			continue
		}
		it.cur = o
		return true
	}
	it.cur = nil
	return false
}

func (it *Iterator) match(o Persistent) bool {
	if it.class != nil && !matchesClass(o, it.class, it.subclasses) {
		return false
	}
	if len(it.states) == 0 {
		return true
	}
	st := o.State()
	for _, want := range it.states {
		if st == want {
			return true
		}
	}
	return false
}

// Value returns the current object.
func (it *Iterator) Value() Persistent { return it.cur }

// Close ends the iteration.
func (it *Iterator) Close() error {
	it.i = len(it.oids)
	it.cur = nil
	return nil
}
