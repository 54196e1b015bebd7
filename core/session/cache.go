// Package session holds the per-session object cache.
//
// The cache is the single record of what the open transaction believes
// about each object and schema. It tracks new, dirty and deleted objects
// and reconciles them when the transaction commits or rolls back.
package session

import (
	"fmt"
	"log/slog"
	"sort"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/schema"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// Persistent is what the cache requires of a managed object.
type Persistent interface {
	OID() int64
	State() schema.State
	Class() *schema.ClassSchema
	Attach(oid int64, class *schema.ClassSchema, st schema.State)
	MarkClean()
	MarkDirty()
	MarkDeleted()
	MarkHollow()
	MarkTransient()
}

// Refresher reloads committed schemas after a rollback.
type Refresher interface {
	RefreshSchema(c *schema.ClassSchema) error
}

// Cache is the object cache of one session. It is not safe for concurrent use.
type Cache struct {
	objs    map[int64]Persistent
	schemas map[int64]*schema.ClassSchema
	byType  map[*schema.Type]*schema.ClassSchema

	dirty   []Persistent
	tracked map[int64]struct{}
	deleted map[int64]Persistent

	generics      map[int64]*schema.GenericObject
	dirtyGenerics map[int64]*schema.GenericObject

	threshold int
	refresher Refresher
	onDelete  func(Persistent)
	log       *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLargeCacheThreshold sets the size above which committing without
// retained values logs a warning.
func WithLargeCacheThreshold(n int) Option {
	return func(c *Cache) { c.threshold = n }
}

// WithRefresher sets the collaborator that reloads schemas on rollback.
func WithRefresher(r Refresher) Option {
	return func(c *Cache) { c.refresher = r }
}

// WithDeleteHook sets a function called for every object whose deletion
// was committed.
func WithDeleteHook(fn func(Persistent)) Option {
	return func(c *Cache) { c.onDelete = fn }
}

// WithSessionID tags the cache's log output.
func WithSessionID(id string) Option {
	return func(c *Cache) { c.log = logging.WithSession(id) }
}

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		objs:          make(map[int64]Persistent),
		schemas:       make(map[int64]*schema.ClassSchema),
		byType:        make(map[*schema.Type]*schema.ClassSchema),
		tracked:       make(map[int64]struct{}),
		deleted:       make(map[int64]Persistent),
		generics:      make(map[int64]*schema.GenericObject),
		dirtyGenerics: make(map[int64]*schema.GenericObject),
		threshold:     100000,
		log:           logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len returns the number of cached objects, schemas included.
func (c *Cache) Len() int { return len(c.objs) }

// Lookup returns the cached object for oid.
func (c *Cache) Lookup(oid int64) (Persistent, bool) {
	o, ok := c.objs[oid]
	return o, ok
}

// MarkPersistent makes a transient object new in the open transaction.
// It does nothing for objects that are already persistent.
func (c *Cache) MarkPersistent(obj Persistent, oid int64, class *schema.ClassSchema) error {
	st := obj.State()
	if st.IsDeleted() {
		return zerrors.NewState("make persistent", fmt.Sprintf("object %d was deleted", obj.OID()))
	}
	if st.IsPersistent() {
		return nil
	}
	if _, ok := c.objs[oid]; ok {
		return zerrors.NewConsistency("make persistent", "oid %d is already cached", oid)
	}
	obj.Attach(oid, class, schema.PersistentNew)
	c.objs[oid] = obj
	c.track(obj)
	return nil
}

// AddLoaded registers an object read from the store.
func (c *Cache) AddLoaded(obj Persistent) error {
	if _, ok := c.objs[obj.OID()]; ok {
		return zerrors.NewConsistency("add loaded", "oid %d is already cached", obj.OID())
	}
	c.objs[obj.OID()] = obj
	return nil
}

// Remove drops obj from the cache and makes it transient.
func (c *Cache) Remove(obj Persistent) error {
	oid := obj.OID()
	if cur, ok := c.objs[oid]; !ok || cur != obj {
		return zerrors.NewConsistency("remove", "oid %d is not in the cache", oid)
	}
	delete(c.objs, oid)
	delete(c.tracked, oid)
	delete(c.deleted, oid)
	if s, ok := obj.(*schema.ClassSchema); ok {
		c.dropSchema(s)
	}
	obj.MarkTransient()
	return nil
}

func (c *Cache) track(obj Persistent) {
	if _, ok := c.tracked[obj.OID()]; ok {
		return
	}
	c.tracked[obj.OID()] = struct{}{}
	c.dirty = append(c.dirty, obj)
}

// NotifyDirty records a modification of obj. Repeated calls are harmless.
func (c *Cache) NotifyDirty(obj Persistent) {
	if g, ok := obj.(*schema.GenericObject); ok && c.generics[g.OID()] == g {
		c.dirtyGenerics[g.OID()] = g
		return
	}
	obj.MarkDirty()
	c.track(obj)
}

// NotifyDelete records the deletion of obj.
func (c *Cache) NotifyDelete(obj Persistent) error {
	if g, ok := obj.(*schema.GenericObject); ok && c.generics[g.OID()] == g {
		g.MarkDeleted()
		c.dirtyGenerics[g.OID()] = g
		return nil
	}
	if cur, ok := c.objs[obj.OID()]; !ok || cur != obj {
		return zerrors.NewConsistency("delete", "oid %d is not in the cache", obj.OID())
	}
	obj.MarkDeleted()
	c.deleted[obj.OID()] = obj
	c.track(obj)
	return nil
}

// DirtyObjects returns new and modified objects, schemas included, ordered
// by OID. Deleted objects are not included.
func (c *Cache) DirtyObjects() []Persistent {
	out := make([]Persistent, 0, len(c.dirty))
	for _, o := range c.dirty {
		if !o.State().IsDeleted() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OID() < out[j].OID() })
	return out
}

// DeletedObjects returns the objects deleted in the open transaction,
// ordered by OID.
func (c *Cache) DeletedObjects() []Persistent {
	out := make([]Persistent, 0, len(c.deleted))
	for _, o := range c.deleted {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OID() < out[j].OID() })
	return out
}

// HasChanges reports whether the open transaction modified anything.
func (c *Cache) HasChanges() bool {
	return len(c.dirty) > 0 || len(c.deleted) > 0 || len(c.dirtyGenerics) > 0
}

// Rollback returns the cache to the state of the last commit. New objects
// and schemas disappear, modified and deleted objects become hollow and
// modified schemas are reloaded through the Refresher.
func (c *Cache) Rollback() error {
	// Drop new schemas first: reloading a schema whose super class is
	// still present in its uncommitted form would fail.
	dropped := make(map[*schema.ClassSchema]bool)
	var reload []*schema.ClassSchema
	for _, s := range c.sortedSchemas() {
		st := s.State()
		switch {
		case st.IsNew():
			dropped[s] = true
			delete(c.objs, s.OID())
			c.dropSchema(s)
			s.MarkTransient()
		case st.IsDirty():
			reload = append(reload, s)
		}
	}
	for _, s := range c.schemas {
		if s.NextVersion != nil && dropped[s.NextVersion] {
			s.NextVersion = nil
		}
		if s.Super != nil && dropped[s.Super] {
			s.SetSuper(survivor(s.Super, dropped))
		}
	}

	var firstErr error
	if c.refresher != nil {
		for _, s := range reload {
			if err := c.refresher.RefreshSchema(s); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("reload schema %s: %w", s.Name, err)
			}
		}
	}
	for _, s := range reload {
		s.MarkClean()
	}

	for _, o := range c.dirty {
		if _, ok := o.(*schema.ClassSchema); ok {
			continue
		}
		if o.State().IsNew() {
			delete(c.objs, o.OID())
			o.MarkTransient()
			continue
		}
		o.MarkHollow()
	}
	for oid, o := range c.objs {
		if _, ok := o.(*schema.ClassSchema); ok {
			continue
		}
		if cls := o.Class(); cls != nil && dropped[cls] {
			o.Attach(oid, survivor(cls, dropped), schema.Hollow)
			o.MarkHollow()
		}
	}

	for oid, g := range c.dirtyGenerics {
		if g.State().IsNew() {
			g.MarkDeleted()
			g.SetContext(nil)
			delete(c.generics, oid)
			continue
		}
		if cls := g.Class(); cls != nil && dropped[cls] {
			g.Attach(oid, survivor(cls, dropped), schema.Hollow)
		}
		g.MarkHollow()
	}

	c.clearTracking()
	c.log.Debug("cache rollback", "objects", len(c.objs), "dropped_schemas", len(dropped))
	return firstErr
}

// survivor walks back the version chain to a schema that was not dropped.
func survivor(s *schema.ClassSchema, dropped map[*schema.ClassSchema]bool) *schema.ClassSchema {
	for s != nil && dropped[s] {
		s = s.PrevVersion
	}
	return s
}

// PostCommit reconciles the cache after the store committed. Deleted
// objects leave the cache. Other written objects become clean; unless
// retainValues is set they also drop their values. Schemas always stay
// loaded.
func (c *Cache) PostCommit(retainValues bool) error {
	var firstErr error
	for _, o := range c.DeletedObjects() {
		if cur, ok := c.objs[o.OID()]; !ok || cur != o {
			if firstErr == nil {
				firstErr = zerrors.NewConsistency("post commit", "deleted oid %d is not in the cache", o.OID())
			}
			continue
		}
		delete(c.objs, o.OID())
		if s, ok := o.(*schema.ClassSchema); ok {
			c.dropSchema(s)
		}
		o.MarkTransient()
		if c.onDelete != nil {
			c.onDelete(o)
		}
	}

	for _, o := range c.dirty {
		if o.State().IsDeleted() || !o.State().IsPersistent() {
			continue
		}
		if _, ok := o.(*schema.ClassSchema); ok || retainValues {
			o.MarkClean()
			continue
		}
		o.MarkHollow()
	}

	for oid, g := range c.dirtyGenerics {
		if g.State().IsDeleted() {
			delete(c.generics, oid)
			g.MarkTransient()
			g.SetContext(nil)
			continue
		}
		if retainValues {
			g.MarkClean()
		} else {
			g.MarkHollow()
		}
	}

	if !retainValues && len(c.objs) > c.threshold {
		logging.CacheWarning(len(c.objs), c.threshold)
	}
	c.clearTracking()
	return firstErr
}

func (c *Cache) clearTracking() {
	c.dirty = nil
	clear(c.tracked)
	clear(c.deleted)
	clear(c.dirtyGenerics)
}

// AddSchema registers a schema. New schemas must already carry their OID
// and state PersistentNew; they are tracked as dirty.
func (c *Cache) AddSchema(s *schema.ClassSchema) error {
	if cur, ok := c.objs[s.OID()]; ok && cur != s {
		return zerrors.NewConsistency("add schema", "oid %d is already cached", s.OID())
	}
	c.objs[s.OID()] = s
	c.schemas[s.OID()] = s
	if s.State().IsNew() {
		c.track(s)
	}
	return nil
}

func (c *Cache) dropSchema(s *schema.ClassSchema) {
	delete(c.schemas, s.OID())
	for t, cur := range c.byType {
		if cur == s {
			delete(c.byType, t)
		}
	}
}

// SchemaByOID returns the schema with the given OID, whatever its version.
func (c *Cache) SchemaByOID(oid int64) (*schema.ClassSchema, bool) {
	s, ok := c.schemas[oid]
	return s, ok
}

// SchemaByName returns the current version of the named class.
func (c *Cache) SchemaByName(name string) (*schema.ClassSchema, bool) {
	for _, s := range c.schemas {
		if s.Name == name && s.IsCurrent() && !s.State().IsDeleted() {
			return s, true
		}
	}
	return nil, false
}

// SchemaByType returns the current schema for a registered type. Misses
// fall back to SchemaByName and are remembered.
func (c *Cache) SchemaByType(t *schema.Type) (*schema.ClassSchema, bool) {
	if s, ok := c.byType[t]; ok && s.IsCurrent() && !s.State().IsDeleted() {
		return s, true
	}
	s, ok := c.SchemaByName(t.Name)
	if !ok {
		delete(c.byType, t)
		return nil, false
	}
	c.byType[t] = s
	return s, true
}

// Schemas returns every cached schema, all versions, ordered by OID.
func (c *Cache) Schemas() []*schema.ClassSchema {
	return c.sortedSchemas()
}

func (c *Cache) sortedSchemas() []*schema.ClassSchema {
	out := make([]*schema.ClassSchema, 0, len(c.schemas))
	for _, s := range c.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OID() < out[j].OID() })
	return out
}

// EvictAll makes every clean object hollow. Dirty objects keep their values.
func (c *Cache) EvictAll() {
	c.evict(func(Persistent) bool { return true })
}

// EvictClass makes clean instances of class hollow, including instances of
// subclasses when subclasses is set.
func (c *Cache) EvictClass(class *schema.ClassSchema, subclasses bool) {
	c.evict(func(o Persistent) bool { return matchesClass(o, class, subclasses) })
}

func (c *Cache) evict(match func(Persistent) bool) {
	for _, o := range c.objs {
		if _, ok := o.(*schema.ClassSchema); ok {
			continue
		}
		if o.State() == schema.PersistentClean && match(o) {
			o.MarkHollow()
		}
	}
	for _, g := range c.generics {
		if g.State() == schema.PersistentClean && match(g) {
			g.MarkHollow()
		}
	}
}

func matchesClass(o Persistent, class *schema.ClassSchema, subclasses bool) bool {
	cls := o.Class()
	if cls == nil {
		return false
	}
	if subclasses {
		return cls.Current().IsA(class.Current())
	}
	return cls.SameLineage(class)
}

// AddGeneric registers a generic handle.
func (c *Cache) AddGeneric(g *schema.GenericObject) error {
	if cur, ok := c.generics[g.OID()]; ok && cur != g {
		return zerrors.NewConsistency("add handle", "oid %d already has a handle", g.OID())
	}
	c.generics[g.OID()] = g
	if g.State().IsNew() {
		c.dirtyGenerics[g.OID()] = g
	}
	return nil
}

// Generic returns the handle for oid.
func (c *Cache) Generic(oid int64) (*schema.GenericObject, bool) {
	g, ok := c.generics[oid]
	return g, ok
}

// DirtyGenerics returns modified, new and deleted handles ordered by OID.
func (c *Cache) DirtyGenerics() []*schema.GenericObject {
	out := make([]*schema.GenericObject, 0, len(c.dirtyGenerics))
	for _, g := range c.dirtyGenerics {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OID() < out[j].OID() })
	return out
}

// Clear detaches everything, e.g. when the session closes.
func (c *Cache) Clear() {
	for _, o := range c.objs {
		o.MarkTransient()
	}
	for _, g := range c.generics {
		g.SetContext(nil)
	}
	clear(c.objs)
	clear(c.schemas)
	clear(c.byType)
	clear(c.generics)
	c.clearTracking()
}
