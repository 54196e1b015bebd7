// Package store ties the page store, the indexes and the session caches
// together into an embedded object store.
//
// A Store is opened once per file. Work happens in Sessions; every session
// has its own object cache, and at most one session at a time may hold an
// open transaction.
package store

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/zoostore/core/access"
	"github.com/FocuswithJustin/zoostore/core/config"
	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/index"
	"github.com/FocuswithJustin/zoostore/core/pager"
	"github.com/FocuswithJustin/zoostore/core/schema"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// Store is an open object store.
type Store struct {
	mu sync.Mutex

	cfg  config.Config
	p    *pager.Pager
	reg  *schema.Registry
	meta *schema.ClassSchema

	oids   *index.OidIndex
	pos    *index.PositionIndex
	fsm    *index.FreeSpaceManager
	reader *access.ObjectReader

	// classOf maps every committed object to the OID of the schema its
	// record was written with.
	classOf map[int64]int64
	undo    map[int64]int64

	snapshotPages []pager.Pgno
	userPages     []pager.Pgno
	users         []*schema.User

	nextOID  int64
	savedOID int64
	commits  uint64
	active   *Session
	sessions map[string]*Session
	closed   bool
}

// noClass marks an absent entry in the undo log of classOf.
const noClass int64 = -1

// Option configures a Store beyond its config.Config.
type Option func(*Store)

// WithRegistry sets the registry used to resolve class names. The default
// registry accepts every name.
func WithRegistry(reg *schema.Registry) Option {
	return func(s *Store) { s.reg = reg }
}

func newStore(p *pager.Pager, cfg config.Config, opts []Option) *Store {
	s := &Store{
		cfg:      cfg,
		p:        p,
		reg:      schema.NewRegistry(true),
		meta:     schema.NewMetaSchema(),
		fsm:      index.NewFreeSpaceManager(),
		classOf:  make(map[int64]int64),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create creates a new store at path. With cfg.InMemory the path is only
// used in log output.
func Create(path string, cfg config.Config, opts ...Option) (*Store, error) {
	p, err := pager.Create(path, cfg)
	if err != nil {
		return nil, err
	}
	s := newStore(p, cfg, opts)
	s.oids = index.NewOidIndex()
	s.pos = index.NewPositionIndex()
	s.reader = access.NewObjectReader(p, s.oids)
	s.nextOID = index.FirstUserOID
	return s, nil
}

// Open opens an existing store.
func Open(path string, cfg config.Config, opts ...Option) (*Store, error) {
	p, err := pager.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	s := newStore(p, cfg, opts)
	if err := s.load(); err != nil {
		p.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}

// load reads the indexes and the user table and rebuilds the free set.
func (s *Store) load() error {
	hdr := s.p.Header()
	st := pager.NewStream(s.p, nil)

	oids, pos, err := index.ReadSnapshot(st, hdr.IndexRoot)
	if err != nil {
		return fmt.Errorf("read index snapshot: %w", err)
	}
	s.oids, s.pos = oids, pos
	s.reader = access.NewObjectReader(s.p, s.oids)

	if hdr.IndexRoot != 0 {
		if s.snapshotPages, err = st.Chain(hdr.IndexRoot); err != nil {
			return err
		}
	}
	if err := s.loadUsers(st, hdr.UserRoot); err != nil {
		return fmt.Errorf("read user table: %w", err)
	}

	used := make(map[pager.Pgno]bool)
	s.pos.Pages(func(pg pager.Pgno) { used[pg] = true })
	for _, pg := range s.snapshotPages {
		used[pg] = true
	}
	for _, pg := range s.userPages {
		used[pg] = true
	}
	s.fsm.Rebuild(s.p.PageCount(), func(pg pager.Pgno) bool { return used[pg] })

	if err := s.scanHeads(); err != nil {
		return err
	}

	s.nextOID = max(hdr.NextOID, index.FirstUserOID, s.oids.MaxOID()+1)
	logging.StoreEvent("loaded", s.p.Path(),
		"objects", s.oids.Len(), "fragments", s.pos.Len(), "free_pages", s.fsm.Stats().Free)
	return nil
}

// scanHeads reads the record header at every head fragment.
func (s *Store) scanHeads() error {
	var err error
	s.oids.Ascend(func(oid int64, pos index.Position) bool {
		var h schema.RecordHeader
		if err = s.reader.SeekPosition(pos); err != nil {
			return false
		}
		if h, err = schema.ReadHeader(s.reader); err != nil {
			return false
		}
		if h.OID != oid {
			err = zerrors.NewConsistency("scan", "record at %s holds oid %d, index says %d", pos, h.OID, oid)
			return false
		}
		s.classOf[oid] = h.SchemaOID
		return true
	})
	return err
}

// Close closes the store. Open transactions are rolled back.
func (s *Store) Close() error {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.p.Close()
}

// NewSession opens a session on the store.
func (s *Store) NewSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, zerrors.NewClosed("open session", "store")
	}
	sess := newSession(s, uuid.NewString())
	s.sessions[sess.id] = sess
	logging.TxEvent(sess.id, "session_open")
	return sess, nil
}

// Config returns the store configuration.
func (s *Store) Config() config.Config { return s.cfg }

// Registry returns the class name registry.
func (s *Store) Registry() *schema.Registry { return s.reg }

// Path returns the store file, empty for in-memory stores.
func (s *Store) Path() string { return s.p.Path() }

// Stats describes the store.
type Stats struct {
	StoreID   uuid.UUID
	PageSize  int
	Pages     int
	Objects   int
	Fragments int
	FreePages int
	Users     int
	NextOID   int64
	Commits   uint32
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	hdr := s.p.Header()
	return Stats{
		StoreID:   hdr.StoreID,
		PageSize:  s.p.PageSize(),
		Pages:     int(s.p.PageCount()),
		Objects:   s.oids.Len(),
		Fragments: s.pos.Len(),
		FreePages: s.fsm.Stats().Free,
		Users:     len(s.users),
		NextOID:   s.nextOID,
		Commits:   hdr.ChangeCounter,
	}
}

// Verify walks every object chain and checks that the indexes, the free
// set and the records agree.
func (s *Store) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := 0
	var err error
	s.oids.Ascend(func(oid int64, head index.Position) bool {
		var chain []index.Position
		if chain, err = s.pos.Chain(head); err != nil {
			err = fmt.Errorf("object %d: %w", oid, err)
			return false
		}
		for _, frag := range chain {
			if s.fsm.IsFree(frag.Page()) {
				err = zerrors.NewConsistency("verify", "object %d uses free page %d", oid, frag.Page())
				return false
			}
		}
		seen += len(chain)
		if err = s.reader.SeekPosition(head); err != nil {
			return false
		}
		var h schema.RecordHeader
		if h, err = schema.ReadHeader(s.reader); err != nil {
			return false
		}
		if h.OID != oid {
			err = zerrors.NewConsistency("verify", "record at %s holds oid %d, index says %d", head, h.OID, oid)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if seen != s.pos.Len() {
		return zerrors.NewConsistency("verify", "%d fragments indexed, %d reachable", s.pos.Len(), seen)
	}
	return nil
}

// Snapshot writes a consistent copy of the committed store file to w.
// It fails while any session holds the transaction.
func (s *Store) Snapshot(w io.Writer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, zerrors.NewClosed("snapshot", "store")
	}
	if s.active != nil {
		return 0, zerrors.NewState("snapshot", "a transaction is open")
	}
	return s.p.WriteTo(w)
}

// allocOID hands out the next object identifier.
func (s *Store) allocOID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	oid := s.nextOID
	s.nextOID++
	return oid
}

// begin starts the write transaction of sess.
func (s *Store) begin(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return zerrors.NewClosed("begin", "store")
	}
	if s.active != nil {
		return zerrors.NewState("begin", fmt.Sprintf("session %s holds the open transaction", s.active.id))
	}
	if !s.cfg.ReadOnly {
		if err := s.p.Begin(); err != nil {
			return err
		}
	}
	s.oids.Begin()
	s.pos.Begin()
	s.fsm.Begin()
	s.undo = make(map[int64]int64)
	s.savedOID = s.nextOID
	s.active = sess
	return nil
}

// rollback discards the open transaction of sess.
func (s *Store) rollback(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != sess {
		return zerrors.NewState("rollback", "session has no open transaction")
	}
	s.abortLocked()
	return nil
}

func (s *Store) abortLocked() {
	if s.p.InTransaction() {
		s.p.Rollback()
	}
	s.oids.Rollback()
	s.pos.Rollback()
	s.fsm.Rollback()
	for oid, cls := range s.undo {
		if cls == noClass {
			delete(s.classOf, oid)
		} else {
			s.classOf[oid] = cls
		}
	}
	s.undo = nil
	s.nextOID = s.savedOID
	s.active = nil
}

func (s *Store) setClass(oid, cls int64) {
	if _, ok := s.undo[oid]; !ok {
		if prev, ok := s.classOf[oid]; ok {
			s.undo[oid] = prev
		} else {
			s.undo[oid] = noClass
		}
	}
	if cls == noClass {
		delete(s.classOf, oid)
	} else {
		s.classOf[oid] = cls
	}
}

// changes is what one session writes at commit.
type changes struct {
	removed []int64
	records []record
	users   []*schema.User // nil unless the user table changed
}

// record is one object record ready to be written.
type record struct {
	oid       int64
	schemaOID int64
	encode    func(w schema.Writer) error
}

// commit writes ch and makes the transaction durable. On failure the
// transaction is rolled back.
func (s *Store) commit(sess *Session, ch changes) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != sess {
		return zerrors.NewState("commit", "session has no open transaction")
	}
	if len(ch.removed) == 0 && len(ch.records) == 0 && ch.users == nil {
		s.abortLocked()
		return nil
	}
	defer func() {
		if err != nil {
			s.abortLocked()
		}
	}()
	if s.cfg.ReadOnly {
		return pager.ErrReadOnly
	}

	w := access.NewObjectWriter(s.p, s.oids, s.pos, s.fsm)
	if err := w.NewPage(); err != nil {
		return err
	}
	for _, oid := range ch.removed {
		if err := w.Remove(oid); err != nil && !zerrors.Is(err, zerrors.ErrNotFound) {
			return err
		}
		s.setClass(oid, noClass)
	}
	for _, rec := range ch.records {
		if err := w.StartWriting(rec.oid); err != nil {
			return err
		}
		if err := rec.encode(w); err != nil {
			return fmt.Errorf("write object %d: %w", rec.oid, err)
		}
		if err := w.FinishObject(); err != nil {
			return err
		}
		s.setClass(rec.oid, rec.schemaOID)
	}
	if err := w.Close(); err != nil {
		return err
	}

	userRoot := s.p.Header().UserRoot
	userPages := s.userPages
	if ch.users != nil {
		for _, pg := range s.userPages {
			if err := s.fsm.Free(pg); err != nil {
				return err
			}
		}
		if userPages, err = s.writeUsers(ch.users); err != nil {
			return err
		}
		userRoot = 0
		if len(userPages) > 0 {
			userRoot = userPages[0]
		}
	}

	for _, pg := range s.snapshotPages {
		if err := s.fsm.Free(pg); err != nil {
			return err
		}
	}
	snapshotPages, err := index.WriteSnapshot(pager.NewStream(s.p, s.fsm), s.oids, s.pos)
	if err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}

	nextOID := s.nextOID
	if err := s.p.UpdateHeader(func(h *pager.Header) {
		h.IndexRoot = snapshotPages[0]
		h.UserRoot = userRoot
		h.NextOID = nextOID
	}); err != nil {
		return err
	}
	if err := s.p.Commit(); err != nil {
		return err
	}

	s.oids.Commit()
	s.pos.Commit()
	s.fsm.Commit()
	s.snapshotPages = snapshotPages
	s.userPages = userPages
	if ch.users != nil {
		s.users = ch.users
	}
	s.undo = nil
	s.active = nil
	s.commits++
	logging.TxEvent(sess.id, "commit",
		"written", w.Written(), "removed", len(ch.removed), "pages", s.p.PageCount())
	return nil
}

// readRecord positions the shared reader at oid and returns its header.
// Only the session holding the transaction reads, so the reader is not locked.
func (s *Store) readRecord(oid int64) (schema.RecordHeader, error) {
	if err := s.reader.Seek(oid); err != nil {
		return schema.RecordHeader{}, err
	}
	h, err := schema.ReadHeader(s.reader)
	if err != nil {
		return h, err
	}
	if h.OID != oid {
		return h, zerrors.NewConsistency("read", "record of oid %d holds oid %d", oid, h.OID)
	}
	return h, nil
}

// committedOIDs returns the committed objects whose record schema
// satisfies match, in OID order.
func (s *Store) committedOIDs(match func(schemaOID int64) bool) []int64 {
	var out []int64
	s.oids.Ascend(func(oid int64, _ index.Position) bool {
		if cls, ok := s.classOf[oid]; ok && match(cls) {
			out = append(out, oid)
		}
		return true
	})
	return out
}

func (s *Store) removeSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.id)
}
