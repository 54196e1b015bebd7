package store

import (
	"fmt"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/pager"
	"github.com/FocuswithJustin/zoostore/core/schema"
)

// userTableMagic starts the user table chain.
const userTableMagic int32 = 0x5A4F5553 // "ZOUS"

func (s *Store) loadUsers(st *pager.Stream, root pager.Pgno) error {
	if root == 0 {
		return nil
	}
	if err := st.Seek(root, 0); err != nil {
		return err
	}
	magic, err := st.ReadInt32()
	if err != nil {
		return err
	}
	if magic != userTableMagic {
		return pager.ErrStoreCorrupt
	}
	n, err := st.ReadInt32()
	if err != nil {
		return err
	}
	users := make([]*schema.User, 0, n)
	for i := int32(0); i < n; i++ {
		u, err := schema.DecodeUser(st)
		if err != nil {
			return err
		}
		users = append(users, u)
	}
	pages, err := st.Chain(root)
	if err != nil {
		return err
	}
	s.users = users
	s.userPages = pages
	return nil
}

// writeUsers writes the user table to a new chain and returns its pages.
// An empty table uses no pages.
func (s *Store) writeUsers(users []*schema.User) ([]pager.Pgno, error) {
	if len(users) == 0 {
		return nil, nil
	}
	st := pager.NewStream(s.p, s.fsm)
	root, err := st.AllocatePage()
	if err != nil {
		return nil, err
	}
	pages := []pager.Pgno{root}
	st.SetOverflowCallback(func(next pager.Pgno) { pages = append(pages, next) })

	if err := st.WriteInt32(userTableMagic); err != nil {
		return nil, err
	}
	if err := st.WriteInt32(int32(len(users))); err != nil {
		return nil, err
	}
	for _, u := range users {
		if err := schema.EncodeUser(st, u); err != nil {
			return nil, err
		}
	}
	if err := st.Close(); err != nil {
		return nil, err
	}
	return pages, nil
}

func cloneUsers(users []*schema.User) []*schema.User {
	out := make([]*schema.User, len(users))
	for i, u := range users {
		c := *u
		out[i] = &c
	}
	return out
}

// AddUser adds a user to the user table. The table is written at commit.
func (s *Session) AddUser(name, password string, admin bool) (*schema.User, error) {
	if err := s.checkActive("add user"); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, zerrors.NewValidation("user", "name is empty")
	}
	var id int32
	for _, u := range s.users {
		if u.Name == name {
			return nil, fmt.Errorf("user %s: %w", name, zerrors.ErrAlreadyExists)
		}
		id = max(id, u.ID)
	}
	u := schema.NewUser(id+1, name, password)
	u.IsAdmin = admin
	u.CanWrite = true
	s.users = append(s.users, u)
	s.usersDirty = true
	return u, nil
}

// RemoveUser removes a user from the user table.
func (s *Session) RemoveUser(name string) error {
	if err := s.checkActive("remove user"); err != nil {
		return err
	}
	for i, u := range s.users {
		if u.Name == name {
			s.users = append(s.users[:i:i], s.users[i+1:]...)
			s.usersDirty = true
			return nil
		}
	}
	return zerrors.NewNotFound("user", name)
}

// ListUsers returns the user table as seen by the session: the open
// transaction's copy, or the committed table outside a transaction.
func (s *Session) ListUsers() []*schema.User {
	if s.active {
		return cloneUsers(s.users)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return cloneUsers(s.store.users)
}
