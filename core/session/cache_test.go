package session

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/schema"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// stubRefresher records reloaded schemas and restores a saved field list.
type stubRefresher struct {
	saved    map[int64][]schema.FieldDef
	reloaded []int64
}

func (r *stubRefresher) RefreshSchema(s *schema.ClassSchema) error {
	r.reloaded = append(r.reloaded, s.OID())
	if s.Super != nil && s.Super.State().IsNew() {
		return errors.New("super class still uncommitted")
	}
	if f, ok := r.saved[s.OID()]; ok {
		s.Fields = f
	}
	return nil
}

func newClass(t *testing.T, c *Cache, oid int64, name string, super *schema.ClassSchema, st schema.State) *schema.ClassSchema {
	t.Helper()
	cls, err := schema.NewClassSchema(name, super, []schema.FieldDef{schema.Field(strings.ToLower(name), schema.KindInt32)})
	if err != nil {
		t.Fatalf("NewClassSchema() error = %v", err)
	}
	cls.Attach(oid, schema.NewMetaSchema(), st)
	if err := c.AddSchema(cls); err != nil {
		t.Fatalf("AddSchema() error = %v", err)
	}
	return cls
}

func loaded(t *testing.T, c *Cache, oid int64, cls *schema.ClassSchema) *schema.GenericObject {
	t.Helper()
	o := schema.NewGenericObject(cls)
	o.Attach(oid, cls, schema.PersistentClean)
	if err := c.AddLoaded(o); err != nil {
		t.Fatalf("AddLoaded(%d) error = %v", oid, err)
	}
	return o
}

func created(t *testing.T, c *Cache, oid int64, cls *schema.ClassSchema) *schema.GenericObject {
	t.Helper()
	o := schema.NewGenericObject(cls)
	if err := c.MarkPersistent(o, oid, cls); err != nil {
		t.Fatalf("MarkPersistent(%d) error = %v", oid, err)
	}
	return o
}

func TestCache_MarkPersistent(t *testing.T) {
	c := NewCache()
	cls := newClass(t, c, 100, "A", nil, schema.PersistentClean)
	o := created(t, c, 200, cls)

	if o.State() != schema.PersistentNew || o.OID() != 200 {
		t.Errorf("state %v oid %d, want new 200", o.State(), o.OID())
	}
	// Second call is a no-op.
	if err := c.MarkPersistent(o, 201, cls); err != nil {
		t.Fatalf("MarkPersistent() again error = %v", err)
	}
	if o.OID() != 200 {
		t.Errorf("OID() = %d after repeated MarkPersistent", o.OID())
	}

	other := schema.NewGenericObject(cls)
	if err := c.MarkPersistent(other, 200, cls); !zerrors.IsConsistency(err) {
		t.Errorf("MarkPersistent(duplicate oid) error = %v, want consistency fault", err)
	}

	if err := c.NotifyDelete(o); err != nil {
		t.Fatalf("NotifyDelete() error = %v", err)
	}
	if err := c.MarkPersistent(o, 202, cls); !errors.Is(err, zerrors.ErrInvalidState) {
		t.Errorf("MarkPersistent(deleted) error = %v, want ErrInvalidState", err)
	}
}

func TestCache_NeverTwoObjectsPerOID(t *testing.T) {
	c := NewCache()
	cls := newClass(t, c, 100, "A", nil, schema.PersistentClean)
	loaded(t, c, 300, cls)

	dup := schema.NewGenericObject(cls)
	dup.Attach(300, cls, schema.PersistentClean)
	if err := c.AddLoaded(dup); !zerrors.IsConsistency(err) {
		t.Errorf("AddLoaded(duplicate) error = %v, want consistency fault", err)
	}
	if err := c.Remove(dup); !zerrors.IsConsistency(err) {
		t.Errorf("Remove(foreign) error = %v, want consistency fault", err)
	}
	if err := c.NotifyDelete(dup); !zerrors.IsConsistency(err) {
		t.Errorf("NotifyDelete(foreign) error = %v, want consistency fault", err)
	}
}

func TestCache_RollbackObjects(t *testing.T) {
	c := NewCache()
	cls := newClass(t, c, 100, "A", nil, schema.PersistentClean)

	dirty := loaded(t, c, 300, cls)
	dirty.MarkDirty()
	c.NotifyDirty(dirty)

	removed := loaded(t, c, 301, cls)
	if err := c.NotifyDelete(removed); err != nil {
		t.Fatalf("NotifyDelete() error = %v", err)
	}

	clean := loaded(t, c, 302, cls)
	fresh := created(t, c, 400, cls)
	freshDeleted := created(t, c, 401, cls)
	c.NotifyDelete(freshDeleted)

	if err := c.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	for _, o := range []*schema.GenericObject{dirty, removed} {
		if o.State() != schema.Hollow || o.IsLoaded() {
			t.Errorf("object %d state %v loaded %v, want hollow", o.OID(), o.State(), o.IsLoaded())
		}
		if _, ok := c.Lookup(o.OID()); !ok {
			t.Errorf("object %d left the cache", o.OID())
		}
	}
	if clean.State() != schema.PersistentClean {
		t.Errorf("clean object state = %v", clean.State())
	}
	for _, o := range []*schema.GenericObject{fresh, freshDeleted} {
		if _, ok := c.Lookup(o.OID()); ok {
			t.Errorf("new object %d still cached", o.OID())
		}
		if o.State() != schema.Transient {
			t.Errorf("new object %d state %v, want transient", o.OID(), o.State())
		}
	}
	if c.HasChanges() || len(c.DirtyObjects()) != 0 || len(c.DeletedObjects()) != 0 {
		t.Error("tracking lists not cleared")
	}
}

func TestCache_RollbackSchemas(t *testing.T) {
	ref := &stubRefresher{saved: map[int64][]schema.FieldDef{
		101: {schema.Field("b", schema.KindInt32)},
	}}
	c := NewCache(WithRefresher(ref))

	base := newClass(t, c, 100, "Base", nil, schema.PersistentClean)
	sub := newClass(t, c, 101, "B", base, schema.PersistentClean)

	// Evolve Base: the new version is uncommitted, the old ones are dirty.
	base2, _, err := base.Evolve(new(schema.Evolution).AddField(schema.Field("extra", schema.KindInt64)))
	if err != nil {
		t.Fatalf("Evolve() error = %v", err)
	}
	base2.Attach(102, base.Class(), schema.PersistentNew)
	if err := c.AddSchema(base2); err != nil {
		t.Fatalf("AddSchema() error = %v", err)
	}
	base.NextVersion = base2
	c.NotifyDirty(base)
	sub.SetSuper(base2)
	sub.Fields = append(sub.Fields, schema.Field("tmp", schema.KindBool))
	c.NotifyDirty(sub)

	inst := loaded(t, c, 300, sub)

	if got, _ := c.SchemaByName("Base"); got != base2 {
		t.Fatalf("SchemaByName(Base) = %v, want new version", got)
	}

	if err := c.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if _, ok := c.SchemaByOID(102); ok {
		t.Error("new schema version still cached")
	}
	if base2.State() != schema.Transient {
		t.Errorf("dropped schema state = %v", base2.State())
	}
	if !base.IsCurrent() || base.State() != schema.PersistentClean {
		t.Errorf("base after rollback: current %v state %v", base.IsCurrent(), base.State())
	}
	if sub.Super != base || sub.SuperOID != 100 {
		t.Errorf("sub super = %v, want base", sub.Super)
	}
	if len(sub.Fields) != 1 || sub.Fields[0].Name != "b" {
		t.Errorf("sub fields = %+v, want reloaded", sub.Fields)
	}
	if len(ref.reloaded) != 2 {
		t.Errorf("reloaded %v, want base and sub", ref.reloaded)
	}
	if got, _ := c.SchemaByName("Base"); got != base {
		t.Errorf("SchemaByName(Base) = %v after rollback", got)
	}
	if inst.Class() != sub {
		t.Errorf("instance class = %v", inst.Class())
	}
}

func TestCache_RollbackReattachesInstancesOfDroppedSchemas(t *testing.T) {
	c := NewCache(WithRefresher(&stubRefresher{}))
	v1 := newClass(t, c, 100, "A", nil, schema.PersistentClean)
	v2, _, _ := v1.Evolve(new(schema.Evolution).AddField(schema.Field("n", schema.KindInt64)))
	v2.Attach(101, v1.Class(), schema.PersistentNew)
	c.AddSchema(v2)
	v1.NextVersion = v2
	c.NotifyDirty(v1)

	o := loaded(t, c, 300, v1)
	o.SetClass(v2)

	if err := c.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if o.Class() != v1 || o.State() != schema.Hollow {
		t.Errorf("instance class %v state %v, want v1 hollow", o.Class(), o.State())
	}
}

func TestCache_PostCommit(t *testing.T) {
	tests := []struct {
		name   string
		retain bool
		want   schema.State
	}{
		{"evict values", false, schema.Hollow},
		{"retain values", true, schema.PersistentClean},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var deleted []int64
			c := NewCache(WithDeleteHook(func(p Persistent) { deleted = append(deleted, p.OID()) }))
			cls := newClass(t, c, 100, "A", nil, schema.PersistentNew)

			a := created(t, c, 200, cls)
			b := loaded(t, c, 201, cls)
			b.MarkDirty()
			c.NotifyDirty(b)
			gone := loaded(t, c, 202, cls)
			c.NotifyDelete(gone)

			if err := c.PostCommit(tt.retain); err != nil {
				t.Fatalf("PostCommit() error = %v", err)
			}
			for _, o := range []*schema.GenericObject{a, b} {
				if o.State() != tt.want {
					t.Errorf("object %d state = %v, want %v", o.OID(), o.State(), tt.want)
				}
				if o.IsLoaded() != tt.retain {
					t.Errorf("object %d loaded = %v, want %v", o.OID(), o.IsLoaded(), tt.retain)
				}
			}
			if cls.State() != schema.PersistentClean {
				t.Errorf("schema state = %v, want clean", cls.State())
			}
			if _, ok := c.Lookup(202); ok || gone.State() != schema.Transient {
				t.Errorf("deleted object still cached, state %v", gone.State())
			}
			if len(deleted) != 1 || deleted[0] != 202 {
				t.Errorf("delete hook saw %v, want [202]", deleted)
			}
			if c.HasChanges() {
				t.Error("tracking lists not cleared")
			}
		})
	}
}

func TestCache_PostCommitDropsDeletedSchemas(t *testing.T) {
	c := NewCache()
	cls := newClass(t, c, 100, "Gone", nil, schema.PersistentClean)
	typ := &schema.Type{Name: "Gone"}
	if _, ok := c.SchemaByType(typ); !ok {
		t.Fatal("SchemaByType() miss")
	}
	if err := c.NotifyDelete(cls); err != nil {
		t.Fatalf("NotifyDelete() error = %v", err)
	}
	if _, ok := c.SchemaByName("Gone"); ok {
		t.Error("deleted schema still found by name")
	}
	if err := c.PostCommit(false); err != nil {
		t.Fatalf("PostCommit() error = %v", err)
	}
	if _, ok := c.SchemaByOID(100); ok {
		t.Error("deleted schema still cached by oid")
	}
	if _, ok := c.SchemaByType(typ); ok {
		t.Error("deleted schema still cached by type")
	}
}

func TestCache_LargeCacheWarning(t *testing.T) {
	var buf bytes.Buffer
	logging.InitLoggerTo(&buf, logging.LevelWarn, logging.FormatJSON)
	defer logging.InitLogger(logging.LevelWarn, logging.FormatText)

	c := NewCache(WithLargeCacheThreshold(3))
	cls := newClass(t, c, 100, "A", nil, schema.PersistentClean)
	for oid := int64(200); oid < 205; oid++ {
		created(t, c, oid, cls)
	}
	if err := c.PostCommit(true); err != nil {
		t.Fatalf("PostCommit() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("warning logged with retained values: %s", buf.String())
	}
	if err := c.PostCommit(false); err != nil {
		t.Fatalf("PostCommit() error = %v", err)
	}
	if !strings.Contains(buf.String(), "cache_large") {
		t.Errorf("no large cache warning in %q", buf.String())
	}
}

func TestCache_SchemaVersionLookup(t *testing.T) {
	c := NewCache()
	v1 := newClass(t, c, 100, "Doc", nil, schema.PersistentClean)
	v2, _, _ := v1.Evolve(new(schema.Evolution).AddField(schema.Field("x", schema.KindInt8)))
	v2.Attach(101, v1.Class(), schema.PersistentClean)
	v1.NextVersion = v2
	c.AddSchema(v2)
	v3, _, _ := v2.Evolve(new(schema.Evolution).RemoveField("x"))
	v3.Attach(102, v1.Class(), schema.PersistentClean)
	v2.NextVersion = v3
	c.AddSchema(v3)

	if got, _ := c.SchemaByName("Doc"); got != v3 {
		t.Errorf("SchemaByName() = %v, want v3", got)
	}
	typ := &schema.Type{Name: "Doc"}
	if got, _ := c.SchemaByType(typ); got != v3 {
		t.Errorf("SchemaByType() = %v, want v3", got)
	}
	if got, _ := c.SchemaByOID(100); got != v1 {
		t.Errorf("SchemaByOID(100) = %v, want v1", got)
	}
	if n := len(c.Schemas()); n != 3 {
		t.Errorf("Schemas() = %d, want 3", n)
	}
}

func TestCache_EvictKeepsDirty(t *testing.T) {
	c := NewCache()
	a := newClass(t, c, 100, "A", nil, schema.PersistentClean)
	b := newClass(t, c, 101, "B", a, schema.PersistentClean)
	other := newClass(t, c, 102, "Other", nil, schema.PersistentClean)

	oa := loaded(t, c, 200, a)
	ob := loaded(t, c, 201, b)
	oo := loaded(t, c, 202, other)
	dirty := loaded(t, c, 203, a)
	dirty.MarkDirty()
	c.NotifyDirty(dirty)

	c.EvictClass(a, false)
	if oa.State() != schema.Hollow || ob.State() != schema.PersistentClean {
		t.Errorf("EvictClass(A, false): a=%v b=%v", oa.State(), ob.State())
	}
	c.EvictClass(a, true)
	if ob.State() != schema.Hollow || oo.State() != schema.PersistentClean {
		t.Errorf("EvictClass(A, true): b=%v other=%v", ob.State(), oo.State())
	}
	c.EvictAll()
	if oo.State() != schema.Hollow {
		t.Errorf("EvictAll(): other=%v", oo.State())
	}
	if dirty.State() != schema.PersistentDirty {
		t.Errorf("dirty object evicted: %v", dirty.State())
	}
	if a.State() != schema.PersistentClean {
		t.Errorf("schema evicted: %v", a.State())
	}
}

func TestCache_Iterator(t *testing.T) {
	c := NewCache()
	a := newClass(t, c, 100, "A", nil, schema.PersistentClean)
	b := newClass(t, c, 101, "B", a, schema.PersistentClean)
	loaded(t, c, 203, a)
	loaded(t, c, 201, b)
	created(t, c, 202, a)

	collect := func(it *Iterator) []int64 {
		defer it.Close()
		var out []int64
		for it.Next() {
			out = append(out, it.Value().OID())
		}
		return out
	}

	tests := []struct {
		name       string
		class      *schema.ClassSchema
		subclasses bool
		states     []schema.State
		want       []int64
	}{
		{"exact", a, false, nil, []int64{202, 203}},
		{"with subclasses", a, true, nil, []int64{201, 202, 203}},
		{"clean only", a, true, []schema.State{schema.PersistentClean}, []int64{201, 203}},
		{"subclass", b, true, nil, []int64{201}},
		{"all classes", nil, false, nil, []int64{201, 202, 203}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(c.Iterator(tt.class, tt.subclasses, tt.states...))
			if len(got) != len(tt.want) {
				t.Fatalf("Iterator() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Iterator()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}

	it := c.Iterator(a, true)
	it.Close()
	if it.Next() {
		t.Error("Next() after Close() = true")
	}
}

func TestCache_Generics(t *testing.T) {
	c := NewCache()
	cls := newClass(t, c, 100, "A", nil, schema.PersistentClean)

	fresh := schema.NewGenericObject(cls)
	fresh.Attach(300, cls, schema.PersistentNew)
	if err := c.AddGeneric(fresh); err != nil {
		t.Fatalf("AddGeneric() error = %v", err)
	}
	old := schema.NewGenericObject(cls)
	old.Attach(301, cls, schema.PersistentClean)
	c.AddGeneric(old)
	old.MarkDirty()
	c.NotifyDirty(old)

	if got := c.DirtyGenerics(); len(got) != 2 {
		t.Fatalf("DirtyGenerics() = %d, want 2", len(got))
	}
	if len(c.DirtyObjects()) != 0 {
		t.Error("handle tracked as cached object")
	}

	if err := c.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if fresh.State() != schema.PersistentNewDeleted || fresh.Context() != nil {
		t.Errorf("new handle state %v, want deleted and detached", fresh.State())
	}
	if _, ok := c.Generic(300); ok {
		t.Error("new handle still registered")
	}
	if old.State() != schema.Hollow {
		t.Errorf("old handle state = %v, want hollow", old.State())
	}
}
