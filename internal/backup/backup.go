package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/pager"
	"github.com/FocuswithJustin/zoostore/core/store"
	"github.com/FocuswithJustin/zoostore/internal/logging"
)

// Injectable functions for testing
var (
	gzipNewWriterLevel = gzip.NewWriterLevel
	xzNewWriter        = xz.NewWriter
	gzipNewReader      = gzip.NewReader
	xzNewReader        = xz.NewReader
	osCreateTemp       = os.CreateTemp
	osRename           = os.Rename
)

// CompressionType selects the archive compression.
type CompressionType string

const (
	// CompressionXZ uses XZ/LZMA2 compression (default, best ratio).
	CompressionXZ CompressionType = "xz"
	// CompressionGzip uses gzip compression (faster).
	CompressionGzip CompressionType = "gzip"
)

// ParseCompression parses a compression name. The empty string selects xz.
func ParseCompression(s string) (CompressionType, error) {
	switch CompressionType(s) {
	case CompressionXZ, "":
		return CompressionXZ, nil
	case CompressionGzip:
		return CompressionGzip, nil
	}
	return "", zerrors.NewUnsupported("compression format", s)
}

// Options configures Create.
type Options struct {
	Compression CompressionType
}

// DefaultOptions returns the default options (XZ compression).
func DefaultOptions() *Options {
	return &Options{Compression: CompressionXZ}
}

// Create writes a backup of st to archivePath. The store must not have an
// open transaction.
func Create(archivePath string, st *store.Store, opts *Options) (*Manifest, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	// The tar header needs the size up front, so the snapshot is staged in
	// a temporary file and hashed on the way.
	tmp, err := osCreateTemp(filepath.Dir(archivePath), ".zoostore-backup-*")
	if err != nil {
		return nil, zerrors.NewIO("create temp file", archivePath, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	stats := st.Stats()
	h := blake3.New()
	size, err := st.Snapshot(io.MultiWriter(tmp, h))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, zerrors.NewIO("seek", tmp.Name(), err)
	}

	m := newManifest()
	m.StoreID = stats.StoreID.String()
	m.PageSize = stats.PageSize
	m.Pages = int(size / int64(stats.PageSize))
	m.Commits = stats.Commits
	m.SizeBytes = size
	m.BLAKE3 = hex.EncodeToString(h.Sum(nil))

	if err := writeArchive(archivePath, opts.Compression, m, tmp); err != nil {
		os.Remove(archivePath)
		return nil, err
	}
	logging.StoreEvent("backup", archivePath, "store_id", m.StoreID, "bytes", m.SizeBytes, "compression", string(opts.Compression))
	return m, nil
}

func writeArchive(archivePath string, compression CompressionType, m *Manifest, data io.Reader) error {
	file, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer file.Close()

	var compressWriter io.WriteCloser
	switch compression {
	case CompressionGzip:
		compressWriter, err = gzipNewWriterLevel(file, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
	case CompressionXZ, "":
		compressWriter, err = xzNewWriter(file)
		if err != nil {
			return fmt.Errorf("failed to create xz writer: %w", err)
		}
	default:
		return zerrors.NewUnsupported("compression format", string(compression))
	}

	tw := tar.NewWriter(compressWriter)
	manifestData, err := m.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize manifest: %w", err)
	}
	if err := writeEntry(tw, ManifestName, int64(len(manifestData)), bytes.NewReader(manifestData)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := writeEntry(tw, StoreName, m.SizeBytes, data); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := compressWriter.Close(); err != nil {
		return err
	}
	return file.Sync()
}

func writeEntry(tw *tar.Writer, name string, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0644,
		Size:     size,
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.CopyN(tw, r, size)
	return err
}

// DetectCompression detects the compression type of an archive.
func DetectCompression(archivePath string) (CompressionType, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", zerrors.NewIO("open", archivePath, err)
	}
	defer file.Close()

	magic := make([]byte, 6)
	n, err := io.ReadFull(file, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", zerrors.NewIO("read magic bytes", archivePath, err)
	}
	if n < 2 {
		return "", zerrors.NewValidation("archive", "file too small to detect compression")
	}

	// gzip: 1f 8b
	if magic[0] == 0x1f && magic[1] == 0x8b {
		return CompressionGzip, nil
	}
	// xz: fd 37 7a 58 5a 00
	if n >= 6 && magic[0] == 0xfd && magic[1] == 0x37 && magic[2] == 0x7a &&
		magic[3] == 0x58 && magic[4] == 0x5a && magic[5] == 0x00 {
		return CompressionXZ, nil
	}
	return "", zerrors.NewUnsupported("compression format", "unknown magic bytes")
}

// Verify reads the archive and checks the store file against its manifest
// without writing anything.
func Verify(archivePath string) (*Manifest, error) {
	return extract(archivePath, io.Discard)
}

// Restore extracts the store file of the archive to destPath, which must
// not exist. The file only appears once its digest has been checked.
func Restore(archivePath, destPath string) (*Manifest, error) {
	if _, err := os.Stat(destPath); err == nil {
		return nil, fmt.Errorf("restore to %s: %w", destPath, zerrors.ErrAlreadyExists)
	}
	tmp, err := osCreateTemp(filepath.Dir(destPath), ".zoostore-restore-*")
	if err != nil {
		return nil, zerrors.NewIO("create temp file", destPath, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			os.Remove(tmpName)
		}
	}()

	m, err := extract(archivePath, tmp)
	if err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, zerrors.NewIO("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, zerrors.NewIO("close", tmpName, err)
	}
	if err := osRename(tmpName, destPath); err != nil {
		return nil, zerrors.NewIO("rename", destPath, err)
	}
	committed = true
	logging.StoreEvent("restore", destPath, "store_id", m.StoreID, "bytes", m.SizeBytes)
	return m, nil
}

// extract streams the store entry to dst and checks it. The manifest must
// come first.
func extract(archivePath string, dst io.Writer) (*Manifest, error) {
	compression, err := DetectCompression(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect compression: %w", err)
	}
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, zerrors.NewIO("open", archivePath, err)
	}
	defer file.Close()

	var r io.Reader
	switch compression {
	case CompressionGzip:
		gz, err := gzipNewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case CompressionXZ:
		xr, err := xzNewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		r = xr
	}

	tr := tar.NewReader(r)
	var m *Manifest
	sawStore := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		switch hdr.Name {
		case ManifestName:
			data, err := io.ReadAll(io.LimitReader(tr, 1<<20))
			if err != nil {
				return nil, fmt.Errorf("failed to read manifest: %w", err)
			}
			if m, err = ParseManifest(data); err != nil {
				return nil, err
			}
		case StoreName:
			if m == nil {
				return nil, zerrors.NewValidation("archive", "store entry precedes the manifest")
			}
			if err := copyStore(dst, tr, m); err != nil {
				return nil, err
			}
			sawStore = true
		default:
			return nil, zerrors.NewValidation("archive", fmt.Sprintf("unexpected entry %q", hdr.Name))
		}
	}
	if m == nil || !sawStore {
		return nil, zerrors.NewValidation("archive", "manifest or store entry missing")
	}
	return m, nil
}

// copyStore copies the store entry, hashing it and checking its header.
func copyStore(dst io.Writer, src io.Reader, m *Manifest) error {
	h := blake3.New()
	head := &headCapture{}
	n, err := io.Copy(io.MultiWriter(dst, h, head), src)
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}
	if n != m.SizeBytes {
		return zerrors.NewConsistency("verify backup", "store entry is %d bytes, manifest says %d", n, m.SizeBytes)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != m.BLAKE3 {
		return zerrors.NewConsistency("verify backup", "blake3 %s does not match manifest %s", sum, m.BLAKE3)
	}
	hdr, err := pager.ParseHeader(head.buf)
	if err != nil {
		return err
	}
	if err := hdr.Validate(); err != nil {
		return err
	}
	if hdr.StoreID.String() != m.StoreID || int(hdr.PageSize) != m.PageSize {
		return zerrors.NewConsistency("verify backup", "store header does not match manifest")
	}
	return nil
}

// headCapture keeps the first bytes written to it.
type headCapture struct {
	buf []byte
}

func (c *headCapture) Write(p []byte) (int, error) {
	if need := pager.HeaderSize - len(c.buf); need > 0 {
		c.buf = append(c.buf, p[:min(need, len(p))]...)
	}
	return len(p), nil
}
