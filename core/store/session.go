package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/schema"
	"github.com/FocuswithJustin/zoostore/core/session"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// Session is a unit of work on a Store. Objects obtained from a session
// belong to it. A Session is not safe for concurrent use; Begin, Commit,
// Rollback and Close may be called from any goroutine.
type Session struct {
	mu sync.Mutex

	id    string
	store *Store
	cache *session.Cache
	log   *slog.Logger

	active bool
	closed bool
	retain bool

	synced bool
	seen   uint64

	users      []*schema.User
	usersDirty bool
}

func newSession(st *Store, id string) *Session {
	s := &Session{
		id:     id,
		store:  st,
		log:    logging.WithSession(id),
		retain: st.cfg.RetainValues,
	}
	s.cache = session.NewCache(
		session.WithLargeCacheThreshold(st.cfg.LargeCacheThreshold),
		session.WithRefresher(s),
		session.WithSessionID(id),
	)
	return s
}

// ID returns the session identifier used in log output.
func (s *Session) ID() string { return s.id }

// IsActive reports whether a transaction is open.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetRetainValues selects whether committed objects keep their values.
func (s *Session) SetRetainValues(retain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retain = retain
}

// Begin opens a transaction. Only one session of a store can have an open
// transaction; Begin fails instead of waiting for it.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return zerrors.NewClosed("begin", "session")
	}
	if s.active {
		return zerrors.NewState("begin", "transaction already active")
	}
	if err := s.store.begin(s); err != nil {
		return err
	}
	if !s.synced || s.seen != s.store.commits {
		if err := s.syncSchemas(); err != nil {
			s.store.rollback(s)
			return fmt.Errorf("load schemas: %w", err)
		}
	}
	s.users = cloneUsers(s.store.users)
	s.usersDirty = false
	s.active = true
	logging.TxEvent(s.id, "begin")
	return nil
}

// Commit writes all changes and ends the transaction. If writing fails the
// transaction is rolled back and the error returned.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive("commit"); err != nil {
		return err
	}
	ch, err := s.collect()
	if err != nil {
		if zerrors.IsConsistency(err) {
			s.log.Error("consistency fault while collecting changes", "error", err)
		}
		return err
	}
	if err := s.store.commit(s, ch); err != nil {
		s.active = false
		if zerrors.IsConsistency(err) {
			s.log.Error("consistency fault during commit", "error", err)
		}
		if rerr := s.cache.Rollback(); rerr != nil {
			s.log.Error("rollback after failed commit", "error", rerr)
		}
		return zerrors.Wrap(err, "commit")
	}
	s.active = false
	s.seen = s.store.commits
	err = s.cache.PostCommit(s.retain)
	s.dropStaleHandles(ch)
	return err
}

// Rollback discards all changes and ends the transaction.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActive("rollback"); err != nil {
		return err
	}
	return s.rollbackLocked()
}

func (s *Session) rollbackLocked() error {
	if err := s.store.rollback(s); err != nil {
		return err
	}
	s.active = false
	s.users = nil
	s.usersDirty = false
	err := s.cache.Rollback()
	logging.TxEvent(s.id, "rollback")
	return err
}

// Close rolls back an open transaction and detaches all objects.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var err error
	if s.active {
		err = s.rollbackLocked()
	}
	s.cache.Clear()
	s.closed = true
	s.store.removeSession(s)
	logging.TxEvent(s.id, "session_close")
	return err
}

func (s *Session) checkActive(op string) error {
	if s.closed {
		return zerrors.NewClosed(op, "session")
	}
	if !s.active {
		return zerrors.NewState(op, "no active transaction")
	}
	return nil
}

func (s *Session) checkOwned(op string, o *schema.GenericObject) error {
	if err := s.checkActive(op); err != nil {
		return err
	}
	if !o.State().IsPersistent() {
		return zerrors.NewState(op, "object is transient")
	}
	if o.Context() != s {
		return zerrors.NewState(op, fmt.Sprintf("object %d belongs to another session", o.OID()))
	}
	return nil
}

// collect gathers what the transaction writes.
func (s *Session) collect() (changes, error) {
	var ch changes
	for _, o := range s.cache.DeletedObjects() {
		if !o.State().IsNew() {
			ch.removed = append(ch.removed, o.OID())
		}
	}

	for _, o := range s.cache.DirtyObjects() {
		switch v := o.(type) {
		case *schema.ClassSchema:
			ch.records = append(ch.records, record{
				oid:       v.OID(),
				schemaOID: schema.MetaSchemaOID,
				encode:    func(w schema.Writer) error { return schema.EncodeSchemaObject(w, v) },
			})
		case *schema.GenericObject:
			rec, err := s.instanceRecord(v)
			if err != nil {
				return ch, err
			}
			ch.records = append(ch.records, rec)
		default:
			return ch, zerrors.NewConsistency("commit", "unexpected object type %T", o)
		}
	}

	for _, g := range s.cache.DirtyGenerics() {
		if g.State() == schema.PersistentNewDeleted {
			continue
		}
		o, cached := s.cache.Lookup(g.OID())
		if g.State() == schema.PersistentDeleted {
			switch {
			case cached && o.State().IsDeleted():
				// Removed through both views; the instance already queued it.
			case cached && o.State().IsDirty():
				return ch, conflictError(g.OID())
			default:
				ch.removed = append(ch.removed, g.OID())
			}
			continue
		}
		if cached && o.State().IsDirty() {
			return ch, conflictError(g.OID())
		}
		rec, err := s.instanceRecord(g)
		if err != nil {
			return ch, err
		}
		ch.records = append(ch.records, rec)
	}

	if s.usersDirty {
		ch.users = append(make([]*schema.User, 0, len(s.users)), s.users...)
	}
	return ch, nil
}

func conflictError(oid int64) error {
	return zerrors.NewState("commit", fmt.Sprintf("object %d was modified through both an instance and a handle", oid))
}

// instanceRecord prepares o for writing under the current version of its class.
func (s *Session) instanceRecord(o *schema.GenericObject) (record, error) {
	if !o.IsLoaded() {
		return record{}, zerrors.NewConsistency("commit", "dirty object %d has no values", o.OID())
	}
	cur := o.Class().Current()
	if cur.State().IsDeleted() {
		return record{}, zerrors.NewState("commit", fmt.Sprintf("class %s of object %d was dropped", cur.Name, o.OID()))
	}
	if cur != o.Class() {
		o.SetClass(cur)
	}
	return record{
		oid:       o.OID(),
		schemaOID: cur.OID(),
		encode:    func(w schema.Writer) error { return schema.EncodeInstance(w, o) },
	}, nil
}

// dropStaleHandles hollows the other view of every object written through
// an instance or a handle, so it is reloaded on next access.
func (s *Session) dropStaleHandles(ch changes) {
	for _, rec := range ch.records {
		o, hasObj := s.cache.Lookup(rec.oid)
		g, hasHandle := s.cache.Generic(rec.oid)
		if !hasObj || !hasHandle {
			continue
		}
		if o.State() == schema.PersistentClean {
			o.MarkHollow()
		}
		if g.State() == schema.PersistentClean {
			g.MarkHollow()
		}
	}
}

// syncSchemas loads every committed schema into the cache, refreshing the
// ones already cached. Cached objects may be stale and become hollow.
func (s *Session) syncSchemas() error {
	if s.synced {
		s.cache.EvictAll()
	}
	type loaded struct {
		c    *schema.ClassSchema
		next int64
	}
	recs := make(map[int64]loaded)
	for _, oid := range s.store.committedOIDs(func(cls int64) bool { return cls == schema.MetaSchemaOID }) {
		if _, err := s.store.readRecord(oid); err != nil {
			return err
		}
		c, next, err := schema.DecodeSchemaBody(s.store.reader, s.store.reg, s.store.meta)
		if err != nil {
			return err
		}
		recs[oid] = loaded{c: c, next: next}
	}

	for _, cached := range s.cache.Schemas() {
		if _, ok := recs[cached.OID()]; !ok {
			if err := s.cache.Remove(cached); err != nil {
				return err
			}
		}
	}
	nexts := make(map[int64]int64, len(recs))
	for oid, rec := range recs {
		nexts[oid] = rec.next
		if cached, ok := s.cache.SchemaByOID(oid); ok {
			cached.Refresh(rec.c)
			continue
		}
		if err := s.cache.AddSchema(rec.c); err != nil {
			return err
		}
	}
	for _, c := range s.cache.Schemas() {
		if err := s.link(c, nexts[c.OID()]); err != nil {
			return err
		}
	}
	s.synced = true
	s.seen = s.store.commits
	s.log.Debug("schemas loaded", "count", len(recs))
	return nil
}

// link resolves the super class and version pointers of c.
func (s *Session) link(c *schema.ClassSchema, next int64) error {
	var super *schema.ClassSchema
	if c.SuperOID != 0 {
		var ok bool
		if super, ok = s.cache.SchemaByOID(c.SuperOID); !ok {
			return zerrors.NewConsistency("link schema", "class %s refers to missing super class %d", c.Name, c.SuperOID)
		}
	}
	c.SetSuper(super)
	c.NextVersion = nil
	if next != 0 {
		n, ok := s.cache.SchemaByOID(next)
		if !ok {
			return zerrors.NewConsistency("link schema", "class %s refers to missing version %d", c.Name, next)
		}
		c.NextVersion = n
		n.PrevVersion = c
	}
	return nil
}

// RefreshSchema reloads c from the store. It is called by the cache when a
// transaction that modified c rolls back.
func (s *Session) RefreshSchema(c *schema.ClassSchema) error {
	if _, err := s.store.readRecord(c.OID()); err != nil {
		return err
	}
	loaded, next, err := schema.DecodeSchemaBody(s.store.reader, s.store.reg, s.store.meta)
	if err != nil {
		return err
	}
	c.Refresh(loaded)
	return s.link(c, next)
}

// Activate loads the values of a hollow object. Objects are migrated to
// the current version of their class; handles keep the stored version.
func (s *Session) Activate(o *schema.GenericObject) error {
	if err := s.checkActive("load object"); err != nil {
		return err
	}
	cls, values, err := s.readInstance(o.OID())
	if err != nil {
		if zerrors.Is(err, zerrors.ErrNotFound) {
			if g, ok := s.cache.Generic(o.OID()); !ok || g != o {
				s.cache.Remove(o)
			}
		}
		return err
	}
	if g, ok := s.cache.Generic(o.OID()); ok && g == o {
		o.Attach(o.OID(), cls, schema.PersistentClean)
		o.Load(values)
		return nil
	}
	cur := cls.Current()
	o.Attach(o.OID(), cur, schema.PersistentClean)
	o.Load(schema.Migrate(values, cls, cur, nil))
	return nil
}

// NotifyDirty records a modification made through o.
func (s *Session) NotifyDirty(o *schema.GenericObject) {
	s.cache.NotifyDirty(o)
}

// readInstance reads the record of oid and returns the schema version it
// was written with and its values.
func (s *Session) readInstance(oid int64) (*schema.ClassSchema, map[string]schema.Value, error) {
	h, err := s.store.readRecord(oid)
	if err != nil {
		return nil, nil, err
	}
	if h.IsSchema() {
		return nil, nil, zerrors.NewValidation("oid", fmt.Sprintf("%d is a class schema", oid))
	}
	cls, ok := s.cache.SchemaByOID(h.SchemaOID)
	if !ok {
		return nil, nil, zerrors.NewConsistency("read object", "object %d uses unknown schema %d", oid, h.SchemaOID)
	}
	values, err := schema.DecodeValues(s.store.reader, cls)
	if err != nil {
		return nil, nil, fmt.Errorf("read object %d: %w", oid, err)
	}
	return cls, values, nil
}

// load reads a committed object into the cache.
func (s *Session) load(oid int64) (*schema.GenericObject, error) {
	cls, values, err := s.readInstance(oid)
	if err != nil {
		return nil, err
	}
	cur := cls.Current()
	o := schema.NewGenericObject(cur)
	o.Attach(oid, cur, schema.PersistentClean)
	o.Load(schema.Migrate(values, cls, cur, nil))
	o.SetContext(s)
	if err := s.cache.AddLoaded(o); err != nil {
		return nil, err
	}
	return o, nil
}

// hollow registers a committed object without reading it.
func (s *Session) hollow(oid int64) (*schema.GenericObject, error) {
	cls, ok := s.cache.SchemaByOID(s.store.classOf[oid])
	if !ok {
		return nil, zerrors.NewConsistency("extent", "object %d uses unknown schema %d", oid, s.store.classOf[oid])
	}
	cur := cls.Current()
	o := schema.NewGenericObject(cur)
	o.Attach(oid, cur, schema.Hollow)
	o.MarkHollow()
	o.SetContext(s)
	if err := s.cache.AddLoaded(o); err != nil {
		return nil, err
	}
	return o, nil
}

// DefineClass creates a new class. superName may be empty.
func (s *Session) DefineClass(name, superName string, fields []schema.FieldDef) (*schema.ClassSchema, error) {
	if err := s.checkActive("define class"); err != nil {
		return nil, err
	}
	if name == schema.MetaClassName {
		return nil, zerrors.NewValidation("class", name+" is reserved")
	}
	if _, ok := s.cache.SchemaByName(name); ok {
		return nil, fmt.Errorf("class %s: %w", name, zerrors.ErrAlreadyExists)
	}
	var super *schema.ClassSchema
	if superName != "" {
		var ok bool
		if super, ok = s.cache.SchemaByName(superName); !ok {
			return nil, zerrors.NewNotFound("class", superName)
		}
	}
	typ, ok := s.store.reg.Resolve(name)
	if !ok {
		return nil, zerrors.NewValidation("class", fmt.Sprintf("%s is not registered", name))
	}
	cls, err := schema.NewClassSchema(name, super, fields)
	if err != nil {
		return nil, err
	}
	cls.Type = typ
	cls.Attach(s.store.allocOID(), s.store.meta, schema.PersistentNew)
	if err := s.cache.AddSchema(cls); err != nil {
		return nil, err
	}
	s.log.Debug("class defined", "class", name, "oid", cls.OID())
	return cls, nil
}

// Schema returns the current version of the named class.
func (s *Session) Schema(name string) (*schema.ClassSchema, error) {
	if err := s.checkActive("get class"); err != nil {
		return nil, err
	}
	cls, ok := s.cache.SchemaByName(name)
	if !ok {
		return nil, zerrors.NewNotFound("class", name)
	}
	return cls, nil
}

// Schemas returns the current version of every class, ordered by name.
func (s *Session) Schemas() ([]*schema.ClassSchema, error) {
	if err := s.checkActive("list classes"); err != nil {
		return nil, err
	}
	var out []*schema.ClassSchema
	for _, c := range s.cache.Schemas() {
		if c.IsCurrent() && !c.State().IsDeleted() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// subclasses returns the current classes whose super class is c.
func (s *Session) subclasses(c *schema.ClassSchema) []*schema.ClassSchema {
	var out []*schema.ClassSchema
	for _, sc := range s.cache.Schemas() {
		if sc.Super == c && sc.IsCurrent() && !sc.State().IsDeleted() {
			out = append(out, sc)
		}
	}
	return out
}

// EvolveClass applies ev to the named class and returns the new version.
// Subclasses get new versions pointing at the new super class. Renamed
// fields are migrated right away: every instance is loaded and rewritten
// at commit.
func (s *Session) EvolveClass(name string, ev *schema.Evolution) (*schema.ClassSchema, error) {
	cur, err := s.Schema(name)
	if err != nil {
		return nil, err
	}
	if ev.Empty() {
		return cur, nil
	}

	next, renames, err := cur.Evolve(ev)
	if err != nil {
		return nil, err
	}
	if next.Name != cur.Name {
		if _, ok := s.cache.SchemaByName(next.Name); ok {
			return nil, fmt.Errorf("class %s: %w", next.Name, zerrors.ErrAlreadyExists)
		}
		typ, ok := s.store.reg.Resolve(next.Name)
		if !ok {
			return nil, zerrors.NewValidation("class", fmt.Sprintf("%s is not registered", next.Name))
		}
		next.Type = typ
	}
	next.Attach(s.store.allocOID(), s.store.meta, schema.PersistentNew)

	type step struct{ old, new *schema.ClassSchema }
	plan := []step{{cur, next}}
	mapped := map[*schema.ClassSchema]*schema.ClassSchema{cur: next}
	for i := 0; i < len(plan); i++ {
		for _, sub := range s.subclasses(plan[i].old) {
			nsub, err := sub.Rebase(mapped[plan[i].old])
			if err != nil {
				return nil, err
			}
			nsub.Attach(s.store.allocOID(), s.store.meta, schema.PersistentNew)
			mapped[sub] = nsub
			plan = append(plan, step{sub, nsub})
		}
	}

	if len(renames) > 0 {
		ext, err := s.Extent(cur.Name, true)
		if err != nil {
			return nil, err
		}
		for ext.Next() {
			if o := ext.Value(); o.State() == schema.Hollow {
				if err := s.Activate(o); err != nil {
					ext.Close()
					return nil, err
				}
			}
		}
		ext.Close()
		if err := ext.Err(); err != nil {
			return nil, err
		}
	}

	for _, st := range plan {
		if err := s.cache.AddSchema(st.new); err != nil {
			return nil, err
		}
		st.old.NextVersion = st.new
		s.cache.NotifyDirty(st.old)
	}

	it := s.cache.Iterator(nil, false)
	defer it.Close()
	for it.Next() {
		o, ok := it.Value().(*schema.GenericObject)
		if !ok {
			continue
		}
		to, ok := mapped[o.Class()]
		if !ok {
			continue
		}
		st := o.State()
		if !o.IsLoaded() {
			o.Attach(o.OID(), to, st)
			continue
		}
		values := schema.Migrate(o.Values(), o.Class(), to, renames)
		o.Attach(o.OID(), to, st)
		o.Load(values)
		if len(renames) > 0 && st == schema.PersistentClean {
			s.cache.NotifyDirty(o)
		}
	}
	s.log.Debug("class evolved", "class", name, "version", next.Version(), "oid", next.OID())
	return next, nil
}

// DropClass deletes a class without instances or subclasses, with all its
// versions.
func (s *Session) DropClass(name string) error {
	cls, err := s.Schema(name)
	if err != nil {
		return err
	}
	if subs := s.subclasses(cls); len(subs) > 0 {
		return zerrors.NewState("drop class "+name, fmt.Sprintf("class has subclass %s", subs[0].Name))
	}
	ext, err := s.Extent(name, false)
	if err != nil {
		return err
	}
	has := ext.Next()
	ext.Close()
	if err := ext.Err(); err != nil {
		return err
	}
	if has {
		return zerrors.NewState("drop class "+name, "class has instances")
	}
	for v := cls; v != nil; v = v.PrevVersion {
		if err := s.cache.NotifyDelete(v); err != nil {
			return err
		}
	}
	return nil
}

// NewObject creates a transient instance of the named class.
func (s *Session) NewObject(className string) (*schema.GenericObject, error) {
	cls, err := s.Schema(className)
	if err != nil {
		return nil, err
	}
	return schema.NewGenericObject(cls), nil
}

// MakePersistent makes o persistent and returns its OID. Objects that are
// already persistent in this session keep their OID.
func (s *Session) MakePersistent(o *schema.GenericObject) (int64, error) {
	if err := s.checkActive("make persistent"); err != nil {
		return 0, err
	}
	if o.Class() == nil {
		return 0, zerrors.NewValidation("object", "object has no class")
	}
	st := o.State()
	if st.IsDeleted() {
		return 0, zerrors.NewState("make persistent", fmt.Sprintf("object %d was deleted", o.OID()))
	}
	if st.IsPersistent() {
		if o.Context() != s {
			return 0, zerrors.NewState("make persistent", fmt.Sprintf("object %d belongs to another session", o.OID()))
		}
		return o.OID(), nil
	}

	cur := o.Class().Current()
	if cached, ok := s.cache.SchemaByOID(cur.OID()); !ok || cached != cur || cur.State().IsDeleted() {
		return 0, zerrors.NewState("make persistent", fmt.Sprintf("class %s is not defined in this session", cur.Name))
	}
	if cur != o.Class() {
		o.SetClass(cur)
	}
	oid := s.store.allocOID()
	if err := s.cache.MarkPersistent(o, oid, cur); err != nil {
		return 0, err
	}
	o.SetContext(s)
	return oid, nil
}

// DeletePersistent deletes o at commit.
func (s *Session) DeletePersistent(o *schema.GenericObject) error {
	if err := s.checkOwned("delete", o); err != nil {
		return err
	}
	if o.State().IsDeleted() {
		return zerrors.NewState("delete", fmt.Sprintf("object %d is already deleted", o.OID()))
	}
	return s.cache.NotifyDelete(o)
}

// GetObjectByID returns the object with the given OID. The object is read
// from the store unless it is cached.
func (s *Session) GetObjectByID(oid int64) (*schema.GenericObject, error) {
	if err := s.checkActive("get object"); err != nil {
		return nil, err
	}
	if p, ok := s.cache.Lookup(oid); ok {
		o, isObj := p.(*schema.GenericObject)
		if !isObj {
			return nil, zerrors.NewValidation("oid", fmt.Sprintf("%d is a class schema", oid))
		}
		if o.State().IsDeleted() {
			return nil, zerrors.NewNotFound("object", fmt.Sprint(oid))
		}
		return o, nil
	}
	return s.load(oid)
}

// MakeDirty marks o modified so it is written at commit.
func (s *Session) MakeDirty(o *schema.GenericObject) error {
	if err := s.checkOwned("make dirty", o); err != nil {
		return err
	}
	switch o.State() {
	case schema.PersistentDeleted, schema.PersistentNewDeleted:
		return zerrors.NewState("make dirty", fmt.Sprintf("object %d was deleted", o.OID()))
	case schema.Hollow:
		if err := s.Activate(o); err != nil {
			return err
		}
	}
	if o.State() == schema.PersistentClean {
		o.MarkDirty()
		s.cache.NotifyDirty(o)
	}
	return nil
}

// Refresh reloads o from the store. Modified objects cannot be refreshed.
func (s *Session) Refresh(o *schema.GenericObject) error {
	if err := s.checkOwned("refresh", o); err != nil {
		return err
	}
	if o.State().IsDirty() {
		return zerrors.NewState("refresh", fmt.Sprintf("object %d has uncommitted changes", o.OID()))
	}
	o.MarkHollow()
	return s.Activate(o)
}

// EvictAll makes every unmodified object hollow.
func (s *Session) EvictAll() {
	s.cache.EvictAll()
}

// EvictClass makes unmodified instances of the named class hollow.
func (s *Session) EvictClass(name string, subclasses bool) error {
	cls, err := s.Schema(name)
	if err != nil {
		return err
	}
	s.cache.EvictClass(cls, subclasses)
	return nil
}

// Handle returns a generic view of oid in the schema version it was stored
// with. Changes made through the handle are written under the current
// version.
func (s *Session) Handle(oid int64) (*schema.GenericObject, error) {
	if err := s.checkActive("get handle"); err != nil {
		return nil, err
	}
	if g, ok := s.cache.Generic(oid); ok {
		return g, nil
	}
	cls, values, err := s.readInstance(oid)
	if err != nil {
		return nil, err
	}
	g := schema.NewGenericObject(cls)
	g.Attach(oid, cls, schema.PersistentClean)
	g.Load(values)
	g.SetContext(s)
	if err := s.cache.AddGeneric(g); err != nil {
		return nil, err
	}
	return g, nil
}

// CreateHandle creates a new persistent object of the named class and
// returns a handle to it.
func (s *Session) CreateHandle(className string) (*schema.GenericObject, error) {
	cls, err := s.Schema(className)
	if err != nil {
		return nil, err
	}
	g := schema.NewGenericObject(cls)
	g.Attach(s.store.allocOID(), cls, schema.PersistentNew)
	g.SetContext(s)
	if err := s.cache.AddGeneric(g); err != nil {
		return nil, err
	}
	return g, nil
}

// CacheSize returns the number of cached objects, schemas included.
func (s *Session) CacheSize() int { return s.cache.Len() }
