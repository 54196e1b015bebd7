// Package config holds the explicit configuration of a store.
//
// A Config is passed to store.Create or store.Open and threaded to every
// component that needs it. There are no process-wide defaults that can be
// mutated at runtime.
package config

import (
	"fmt"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

// Page size limits.
const (
	// DefaultPageSize is the page size of newly created stores.
	DefaultPageSize = 4096

	// MinPageSize is the smallest supported page size.
	MinPageSize = 512

	// MaxPageSize is the largest supported page size.
	MaxPageSize = 65536
)

// Defaults for the remaining settings.
const (
	DefaultCacheSize           = 2000
	DefaultLargeCacheThreshold = 100000
)

// JournalMode selects what happens to the rollback journal after commit.
type JournalMode int

const (
	// JournalDelete removes the journal file after each commit.
	JournalDelete JournalMode = iota
	// JournalTruncate truncates the journal file to zero length.
	JournalTruncate
	// JournalPersist keeps the file and zeroes its header.
	JournalPersist
	// JournalOff disables journaling; a crash during commit may corrupt the store.
	JournalOff
)

// String returns the mode name used by the CLI.
func (m JournalMode) String() string {
	switch m {
	case JournalDelete:
		return "delete"
	case JournalTruncate:
		return "truncate"
	case JournalPersist:
		return "persist"
	case JournalOff:
		return "off"
	default:
		return fmt.Sprintf("JournalMode(%d)", int(m))
	}
}

// ParseJournalMode parses a mode name.
func ParseJournalMode(s string) (JournalMode, error) {
	switch s {
	case "delete", "":
		return JournalDelete, nil
	case "truncate":
		return JournalTruncate, nil
	case "persist":
		return JournalPersist, nil
	case "off":
		return JournalOff, nil
	}
	return 0, zerrors.NewValidation("JournalMode", fmt.Sprintf("unknown mode %q", s))
}

// Config contains the settings of one store.
type Config struct {
	// PageSize is only honoured when a store is created. An existing store
	// keeps the page size recorded in its header.
	PageSize int

	// CacheSize is the number of clean pages kept in memory.
	CacheSize int

	// JournalMode controls the rollback journal.
	JournalMode JournalMode

	// InMemory keeps the whole store in memory. The path is ignored.
	InMemory bool

	// ReadOnly rejects every write transaction.
	ReadOnly bool

	// RetainValues is the default commit mode of new sessions. When false,
	// committed objects are evicted to hollow after commit.
	RetainValues bool

	// LargeCacheThreshold is the live-object count above which a commit
	// without RetainValues logs a warning.
	LargeCacheThreshold int

	// AutoCreateSchema lets importers define classes that do not exist yet.
	AutoCreateSchema bool
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		PageSize:            DefaultPageSize,
		CacheSize:           DefaultCacheSize,
		JournalMode:         JournalDelete,
		LargeCacheThreshold: DefaultLargeCacheThreshold,
	}
}

// Option modifies a Config.
type Option func(*Config)

// New returns Default() with the options applied.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithPageSize sets the page size for newly created stores.
func WithPageSize(size int) Option {
	return func(c *Config) { c.PageSize = size }
}

// WithCacheSize sets the clean-page cache size.
func WithCacheSize(pages int) Option {
	return func(c *Config) { c.CacheSize = pages }
}

// WithJournalMode sets the journal mode.
func WithJournalMode(mode JournalMode) Option {
	return func(c *Config) { c.JournalMode = mode }
}

// WithInMemory selects the in-memory backing.
func WithInMemory() Option {
	return func(c *Config) { c.InMemory = true }
}

// WithReadOnly opens the store read-only.
func WithReadOnly() Option {
	return func(c *Config) { c.ReadOnly = true }
}

// WithRetainValues sets the default commit mode of new sessions.
func WithRetainValues(retain bool) Option {
	return func(c *Config) { c.RetainValues = retain }
}

// WithAutoCreateSchema enables implicit class definition.
func WithAutoCreateSchema() Option {
	return func(c *Config) { c.AutoCreateSchema = true }
}

// WithLargeCacheThreshold sets the soft warning threshold.
func WithLargeCacheThreshold(n int) Option {
	return func(c *Config) { c.LargeCacheThreshold = n }
}

// IsValidPageSize reports whether size is a power of two within limits.
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !IsValidPageSize(c.PageSize) {
		return zerrors.NewValidation("PageSize",
			fmt.Sprintf("%d is not a power of two between %d and %d", c.PageSize, MinPageSize, MaxPageSize))
	}
	if c.CacheSize < 0 {
		return zerrors.NewValidation("CacheSize", "must not be negative")
	}
	if c.LargeCacheThreshold < 0 {
		return zerrors.NewValidation("LargeCacheThreshold", "must not be negative")
	}
	if c.JournalMode < JournalDelete || c.JournalMode > JournalOff {
		return zerrors.NewValidation("JournalMode", c.JournalMode.String())
	}
	return nil
}
