// Command zoostore administers zoostore object store files: it creates
// stores, defines classes, dumps and exchanges objects as XML, manages
// users and takes verified backups.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/zoostore/core/config"
	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/schema"
	"github.com/FocuswithJustin/zoostore/core/store"
	"github.com/FocuswithJustin/zoostore/internal/backup"
	"github.com/FocuswithJustin/zoostore/internal/logging"
	"github.com/FocuswithJustin/zoostore/internal/schemadef"
	"github.com/FocuswithJustin/zoostore/internal/validation"
	"github.com/FocuswithJustin/zoostore/internal/xmlio"
)

const version = "0.1.0"

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

// CLI defines the command-line interface for zoostore.
var CLI struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"warn"`
	LogFormat string `name:"log-format" help:"Log format (text, json)" default:"text" enum:"text,json"`

	Create  CreateCmd  `cmd:"" help:"Create an empty store"`
	Info    InfoCmd    `cmd:"" help:"Show store statistics"`
	Define  DefineCmd  `cmd:"" help:"Define classes from a schema file"`
	Classes ClassesCmd `cmd:"" help:"Print the current classes as a schema file"`
	Dump    DumpCmd    `cmd:"" help:"Print the objects of a class"`
	Export  ExportCmd  `cmd:"" help:"Export classes and objects as XML"`
	Import  ImportCmd  `cmd:"" help:"Import classes and objects from XML"`
	Backup  BackupCmd  `cmd:"" help:"Write a compressed, checksummed backup"`
	Restore RestoreCmd `cmd:"" help:"Restore a store from a backup"`
	Verify  VerifyCmd  `cmd:"" help:"Check a store file or a backup archive"`
	User    UserGroup  `cmd:"" help:"User administration"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// UserGroup contains user administration commands.
type UserGroup struct {
	Add  UserAddCmd  `cmd:"" help:"Add a user"`
	List UserListCmd `cmd:"" help:"List users"`
}

// openStore opens a file store. Commands that only read pass readOnly.
func openStore(path string, readOnly bool) (*store.Store, error) {
	if err := validation.ValidatePath(path); err != nil {
		return nil, err
	}
	var opts []config.Option
	if readOnly {
		opts = append(opts, config.WithReadOnly())
	}
	return store.Open(path, config.New(opts...))
}

// inTransaction runs fn in a transaction on the store at path. The
// transaction is committed when write is set and fn succeeds, and rolled
// back otherwise.
func inTransaction(path string, write bool, fn func(st *store.Store, s *store.Session) error) error {
	st, err := openStore(path, !write)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := st.NewSession()
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Begin(); err != nil {
		return err
	}
	if err := fn(st, s); err != nil {
		s.Rollback()
		return err
	}
	if !write {
		return s.Rollback()
	}
	return s.Commit()
}

// CreateCmd creates a store.
type CreateCmd struct {
	Path     string `arg:"" help:"Store file to create" type:"path"`
	PageSize int    `name:"page-size" help:"Page size in bytes" default:"4096"`
}

func (c *CreateCmd) Run() error {
	if err := validation.ValidatePath(c.Path); err != nil {
		return err
	}
	st, err := store.Create(c.Path, config.New(config.WithPageSize(c.PageSize)))
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Fprintf(stdout, "Created %s (store %s, page size %d)\n", c.Path, st.Stats().StoreID, c.PageSize)
	return nil
}

// InfoCmd prints store statistics.
type InfoCmd struct {
	Path string `arg:"" help:"Store file" type:"existingfile"`
}

func (c *InfoCmd) Run() error {
	st, err := openStore(c.Path, true)
	if err != nil {
		return err
	}
	defer st.Close()

	stats := st.Stats()
	fmt.Fprintf(stdout, "Store:      %s\n", c.Path)
	fmt.Fprintf(stdout, "ID:         %s\n", stats.StoreID)
	fmt.Fprintf(stdout, "Page size:  %d\n", stats.PageSize)
	fmt.Fprintf(stdout, "Pages:      %d (%d free)\n", stats.Pages, stats.FreePages)
	fmt.Fprintf(stdout, "Objects:    %d (%d fragments)\n", stats.Objects, stats.Fragments)
	fmt.Fprintf(stdout, "Users:      %d\n", stats.Users)
	fmt.Fprintf(stdout, "Next OID:   %d\n", stats.NextOID)
	fmt.Fprintf(stdout, "Commits:    %d\n", stats.Commits)
	return nil
}

// DefineCmd applies a schema file.
type DefineCmd struct {
	Path   string `arg:"" help:"Store file" type:"existingfile"`
	Schema string `arg:"" help:"Schema definition file" type:"existingfile"`
}

func (c *DefineCmd) Run() error {
	src, err := os.ReadFile(c.Schema)
	if err != nil {
		return err
	}
	classes, err := schemadef.Parse(c.Schema, string(src))
	if err != nil {
		return err
	}
	return inTransaction(c.Path, true, func(_ *store.Store, s *store.Session) error {
		defined, err := schemadef.Apply(s, classes)
		if err != nil {
			return err
		}
		for _, cls := range defined {
			fmt.Fprintf(stdout, "Defined %s (oid %d)\n", cls.Name, cls.OID())
		}
		return nil
	})
}

// ClassesCmd prints the schema.
type ClassesCmd struct {
	Path string `arg:"" help:"Store file" type:"existingfile"`
}

func (c *ClassesCmd) Run() error {
	return inTransaction(c.Path, false, func(_ *store.Store, s *store.Session) error {
		schemas, err := s.Schemas()
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, schemadef.Format(schemas))
		return nil
	})
}

// DumpCmd prints objects.
type DumpCmd struct {
	Path       string `arg:"" help:"Store file" type:"existingfile"`
	Class      string `arg:"" help:"Class name"`
	Subclasses bool   `help:"Include instances of subclasses"`
	Limit      int    `help:"Stop after this many objects (0 = all)"`
}

func (c *DumpCmd) Run() error {
	return inTransaction(c.Path, false, func(_ *store.Store, s *store.Session) error {
		ext, err := s.Extent(c.Class, c.Subclasses)
		if err != nil {
			return err
		}
		defer ext.Close()
		n := 0
		for ext.Next() {
			if c.Limit > 0 && n == c.Limit {
				break
			}
			o := ext.Value()
			if o.State() == schema.Hollow {
				if err := s.Activate(o); err != nil {
					return err
				}
			}
			var fields []string
			for _, f := range o.Class().AllFields() {
				v, err := o.Get(f.Name)
				if err != nil {
					return err
				}
				fields = append(fields, f.Name+"="+v.String())
			}
			fmt.Fprintf(stdout, "%d %s {%s}\n", o.OID(), o.Class().Name, strings.Join(fields, ", "))
			n++
		}
		return ext.Err()
	})
}

// ExportCmd writes an XML document.
type ExportCmd struct {
	Path   string `arg:"" help:"Store file" type:"existingfile"`
	Output string `short:"o" help:"Output file (default stdout)" type:"path"`
}

func (c *ExportCmd) Run() error {
	w := stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return inTransaction(c.Path, false, func(_ *store.Store, s *store.Session) error {
		stats, err := xmlio.Export(w, s)
		if err != nil {
			return err
		}
		if c.Output != "" {
			fmt.Fprintf(stdout, "Exported %d classes and %d objects to %s\n", stats.Classes, stats.Objects, c.Output)
		}
		return nil
	})
}

// ImportCmd reads an XML document.
type ImportCmd struct {
	Path       string `arg:"" help:"Store file" type:"existingfile"`
	Input      string `arg:"" help:"XML document" type:"existingfile"`
	AutoCreate bool   `name:"auto-create" help:"Define classes missing from the store"`
}

func (c *ImportCmd) Run() error {
	f, err := os.Open(c.Input)
	if err != nil {
		return err
	}
	defer f.Close()
	return inTransaction(c.Path, true, func(st *store.Store, s *store.Session) error {
		opts := xmlio.ImportOptions{AutoCreate: c.AutoCreate || st.Config().AutoCreateSchema}
		stats, err := xmlio.Import(f, s, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Imported %d objects (%d new classes)\n", stats.Objects, stats.Classes)
		return nil
	})
}

// BackupCmd writes a backup archive.
type BackupCmd struct {
	Path        string `arg:"" help:"Store file" type:"existingfile"`
	Archive     string `arg:"" help:"Archive to write" type:"path"`
	Compression string `help:"Compression (xz, gzip)" default:"xz" enum:"xz,gzip"`
}

func (c *BackupCmd) Run() error {
	compression, err := backup.ParseCompression(c.Compression)
	if err != nil {
		return err
	}
	st, err := openStore(c.Path, true)
	if err != nil {
		return err
	}
	defer st.Close()
	m, err := backup.Create(c.Archive, st, &backup.Options{Compression: compression})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Backed up %d pages to %s\nblake3: %s\n", m.Pages, c.Archive, m.BLAKE3)
	return nil
}

// RestoreCmd restores a backup archive.
type RestoreCmd struct {
	Archive string `arg:"" help:"Backup archive" type:"existingfile"`
	Path    string `arg:"" help:"Store file to create" type:"path"`
}

func (c *RestoreCmd) Run() error {
	m, err := backup.Restore(c.Archive, c.Path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Restored store %s to %s\n", m.StoreID, c.Path)
	return nil
}

// VerifyCmd checks a store or an archive.
type VerifyCmd struct {
	Path string `arg:"" help:"Store file or backup archive" type:"existingfile"`
}

func (c *VerifyCmd) Run() error {
	if _, err := backup.DetectCompression(c.Path); err == nil {
		m, err := backup.Verify(c.Path)
		if err != nil {
			return fmt.Errorf("verify %s: %w", c.Path, err)
		}
		fmt.Fprintf(stdout, "OK: backup of store %s, %d pages, blake3 %s\n", m.StoreID, m.Pages, m.BLAKE3)
		return nil
	}

	st, err := openStore(c.Path, true)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Verify(); err != nil {
		var fault *zerrors.ConsistencyError
		if zerrors.As(err, &fault) {
			return fmt.Errorf("verify %s: store is inconsistent (%s): %w", c.Path, fault.Op, err)
		}
		return fmt.Errorf("verify %s: %w", c.Path, err)
	}
	stats := st.Stats()
	fmt.Fprintf(stdout, "OK: %d objects in %d fragments\n", stats.Objects, stats.Fragments)
	return nil
}

// UserAddCmd adds a user.
type UserAddCmd struct {
	Path     string `arg:"" help:"Store file" type:"existingfile"`
	Name     string `arg:"" help:"User name"`
	Password string `help:"Password (empty for none)"`
	Admin    bool   `help:"Grant administrative rights"`
}

func (c *UserAddCmd) Run() error {
	return inTransaction(c.Path, true, func(_ *store.Store, s *store.Session) error {
		u, err := s.AddUser(c.Name, c.Password, c.Admin)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Added user %s (id %d)\n", u.Name, u.ID)
		return nil
	})
}

// UserListCmd lists users.
type UserListCmd struct {
	Path string `arg:"" help:"Store file" type:"existingfile"`
}

func (c *UserListCmd) Run() error {
	st, err := openStore(c.Path, true)
	if err != nil {
		return err
	}
	defer st.Close()
	s, err := st.NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	users := s.ListUsers()
	if len(users) == 0 {
		fmt.Fprintln(stdout, "No users.")
		return nil
	}
	for _, u := range users {
		var flags []string
		if u.IsAdmin {
			flags = append(flags, "admin")
		}
		if u.CanWrite {
			flags = append(flags, "write")
		}
		if u.PasswordRequired {
			flags = append(flags, "password")
		}
		fmt.Fprintf(stdout, "%4d  %-20s %s\n", u.ID, u.Name, strings.Join(flags, ","))
	}
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Fprintf(stdout, "zoostore version %s\n", version)
	return nil
}

func initLogging() {
	format := logging.FormatText
	if CLI.LogFormat == "json" {
		format = logging.FormatJSON
	}
	logging.InitLogger(logging.ParseLevel(CLI.LogLevel), format)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("zoostore"),
		kong.Description("Embedded object store administration"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	initLogging()
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
