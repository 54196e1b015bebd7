// Package backup packs a store file into a compressed tar archive and
// restores it. Every archive carries a manifest.json with the store
// identity and a BLAKE3 digest of the store file.
package backup

import (
	"encoding/json"
	"fmt"
	"time"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
)

// Version is the archive format version.
const Version = "1"

// Archive entry names.
const (
	ManifestName = "manifest.json"
	StoreName    = "store.zdb"
)

// Manifest describes the store file in an archive.
type Manifest struct {
	Version   string `json:"version"`
	CreatedAt string `json:"created_at"`
	StoreID   string `json:"store_id"`
	PageSize  int    `json:"page_size"`
	Pages     int    `json:"pages"`
	Commits   uint32 `json:"commits"`
	SizeBytes int64  `json:"size_bytes"`
	BLAKE3    string `json:"blake3"`
}

func newManifest() *Manifest {
	return &Manifest{
		Version:   Version,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ToJSON serializes the manifest.
func (m *Manifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ParseManifest decodes and checks a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, zerrors.NewParse("json", ManifestName, err.Error())
	}
	if m.Version != Version {
		return nil, zerrors.NewUnsupported("backup version", m.Version)
	}
	if m.BLAKE3 == "" || m.StoreID == "" {
		return nil, zerrors.NewValidation(ManifestName, "missing store id or digest")
	}
	if m.SizeBytes != int64(m.PageSize)*int64(m.Pages) {
		return nil, zerrors.NewValidation(ManifestName,
			fmt.Sprintf("size %d does not match %d pages of %d bytes", m.SizeBytes, m.Pages, m.PageSize))
	}
	return &m, nil
}
