// Package validation checks user-supplied input of the command line tool
// and the importers: paths, class and field names, and input sizes.
package validation

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Limits on user input (CWE-400).
const (
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
	// MaxNameLength is the maximum length of a class or field name.
	MaxNameLength = 255
	// MaxImportSize is the largest document an importer reads (256 MB).
	MaxImportSize = 256 << 20
)

// Common validation errors.
var (
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrPathTooLong      = errors.New("path too long")
	ErrInvalidCharacter = errors.New("invalid character")
	ErrInvalidName      = errors.New("invalid name")
	ErrNameTooLong      = errors.New("name too long")
	ErrInputTooLarge    = errors.New("input too large")
)

// ValidatePath checks a path given on the command line.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// ValidateFieldName checks a field name: a letter or underscore followed
// by letters, digits and underscores.
func ValidateFieldName(name string) error {
	return validateName(name, false)
}

// ValidateClassName checks a class name. Class names may be qualified
// with dots ("org.example.Car"), but no segment may be empty.
func ValidateClassName(name string) error {
	return validateName(name, true)
}

func validateName(name string, dotted bool) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	segments := []string{name}
	if dotted {
		segments = strings.Split(name, ".")
	}
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidName, name)
		}
		for i, r := range seg {
			switch {
			case r == '_' || unicode.IsLetter(r):
			case i > 0 && unicode.IsDigit(r):
			default:
				return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
			}
		}
	}
	return nil
}

// LimitReader returns a reader that fails with ErrInputTooLarge once more
// than limit bytes were read.
func LimitReader(r io.Reader, limit int64) io.Reader {
	return &limitedReader{r: r, remaining: limit}
}

type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrInputTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrInputTooLarge
	}
	return n, err
}
