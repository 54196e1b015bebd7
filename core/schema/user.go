package schema

import (
	"hash/crc32"
)

// User is an administrative record. The password is kept only as a
// CRC32 checksum, which obfuscates it but does not protect it.
type User struct {
	ID               int32
	Name             string
	IsAdmin          bool
	CanRead          bool
	CanWrite         bool
	PasswordRequired bool
	PasswordCRC      int64
}

// NewUser creates a user with the given password. An empty password
// clears PasswordRequired.
func NewUser(id int32, name, password string) *User {
	u := &User{ID: id, Name: name, CanRead: true}
	u.SetPassword(password)
	return u
}

// PasswordChecksum returns the stored form of a password.
func PasswordChecksum(password string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(password)))
}

// SetPassword replaces the password.
func (u *User) SetPassword(password string) {
	u.PasswordRequired = password != ""
	u.PasswordCRC = 0
	if u.PasswordRequired {
		u.PasswordCRC = PasswordChecksum(password)
	}
}

// CheckPassword reports whether password matches.
func (u *User) CheckPassword(password string) bool {
	if !u.PasswordRequired {
		return true
	}
	return PasswordChecksum(password) == u.PasswordCRC
}

// EncodeUser writes the user record.
func EncodeUser(w Writer, u *User) error {
	if err := w.WriteInt32(u.ID); err != nil {
		return err
	}
	for _, b := range []bool{u.IsAdmin, u.CanRead, u.CanWrite, u.PasswordRequired} {
		if err := w.WriteBool(b); err != nil {
			return err
		}
	}
	if err := w.WriteString(u.Name); err != nil {
		return err
	}
	return w.WriteInt64(u.PasswordCRC)
}

// DecodeUser reads a user record.
func DecodeUser(r Reader) (*User, error) {
	u := &User{}
	var err error
	if u.ID, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	for _, dst := range []*bool{&u.IsAdmin, &u.CanRead, &u.CanWrite, &u.PasswordRequired} {
		if *dst, err = r.ReadBool(); err != nil {
			return nil, err
		}
	}
	if u.Name, err = r.ReadString(); err != nil {
		return nil, err
	}
	if u.PasswordCRC, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	return u, nil
}
