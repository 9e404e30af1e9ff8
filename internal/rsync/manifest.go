// Package rsync reconciles an entire project between the Remote and the
// local working tree in one stateless call. Each run computes a fresh
// three-way diff (manifest vs local vs remote) and applies it
// atomically in one direction.
package rsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestName is the local snapshot of the last successful sync.
const ManifestName = ".rsync-manifest.json"

// ManifestEntry records one file's state at the end of the last sync.
type ManifestEntry struct {
	Filename     string `json:"filename"` // local name, extension included
	Hash         string `json:"hash"`
	LastModified string `json:"lastModified,omitempty"`
}

// Manifest is the serialized sync state. Its absence signals a
// bootstrap sync, which is forbidden to delete on either side.
type Manifest struct {
	ScriptID  string          `json:"scriptId"`
	Direction string          `json:"direction"` // "pull" or "push"
	Files     []ManifestEntry `json:"files"`
	CommitSHA string          `json:"commitSha,omitempty"`
	SyncedAt  string          `json:"syncedAt,omitempty"`
}

// LoadManifest reads the manifest from dir. A missing file returns
// (nil, nil).
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sync manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed sync manifest: %w", err)
	}
	return &m, nil
}

// Save writes the manifest into dir.
func (m *Manifest) Save(dir string) error {
	m.SyncedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestName), data, 0o644)
}
