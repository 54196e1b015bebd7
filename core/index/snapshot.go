package index

import (
	"fmt"

	"github.com/FocuswithJustin/zoostore/core/pager"
)

// snapshotMagic starts every index snapshot chain.
const snapshotMagic int32 = 0x5A4F4958 // "ZOIX"

// WriteSnapshot writes both indexes to a fresh page chain and returns the
// pages it used, root first.
func WriteSnapshot(s *pager.Stream, oids *OidIndex, positions *PositionIndex) ([]pager.Pgno, error) {
	root, err := s.AllocatePage()
	if err != nil {
		return nil, err
	}
	pages := []pager.Pgno{root}
	s.SetOverflowCallback(func(next pager.Pgno) {
		pages = append(pages, next)
	})
	defer s.SetOverflowCallback(nil)

	if err := s.WriteInt32(snapshotMagic); err != nil {
		return nil, err
	}

	if err := s.WriteInt64(int64(oids.Len())); err != nil {
		return nil, err
	}
	oids.Ascend(func(oid int64, pos Position) bool {
		if err = s.WriteInt64(oid); err != nil {
			return false
		}
		err = s.WriteInt64(int64(pos))
		return err == nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.WriteInt64(int64(positions.Len())); err != nil {
		return nil, err
	}
	positions.Ascend(func(key, next Position) bool {
		if err = s.WriteInt64(int64(key)); err != nil {
			return false
		}
		err = s.WriteInt64(int64(next))
		return err == nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.Flush(); err != nil {
		return nil, err
	}
	return pages, nil
}

// ReadSnapshot loads the indexes stored in the chain starting at root.
func ReadSnapshot(s *pager.Stream, root pager.Pgno) (*OidIndex, *PositionIndex, error) {
	oids := NewOidIndex()
	positions := NewPositionIndex()
	if root == 0 {
		return oids, positions, nil
	}

	if err := s.Seek(root, 0); err != nil {
		return nil, nil, err
	}
	magic, err := s.ReadInt32()
	if err != nil {
		return nil, nil, err
	}
	if magic != snapshotMagic {
		return nil, nil, fmt.Errorf("%w: index snapshot at page %d has bad magic", pager.ErrStoreCorrupt, root)
	}

	n, err := s.ReadInt64()
	if err != nil {
		return nil, nil, err
	}
	for i := int64(0); i < n; i++ {
		oid, err := s.ReadInt64()
		if err != nil {
			return nil, nil, err
		}
		pos, err := s.ReadInt64()
		if err != nil {
			return nil, nil, err
		}
		if err := oids.Insert(oid, Position(pos)); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", pager.ErrStoreCorrupt, err)
		}
	}

	n, err = s.ReadInt64()
	if err != nil {
		return nil, nil, err
	}
	for i := int64(0); i < n; i++ {
		key, err := s.ReadInt64()
		if err != nil {
			return nil, nil, err
		}
		next, err := s.ReadInt64()
		if err != nil {
			return nil, nil, err
		}
		k := Position(key)
		positions.AddPosition(k.Page(), k.Offset(), Position(next))
	}
	return oids, positions, nil
}
