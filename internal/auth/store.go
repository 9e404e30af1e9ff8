package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gasops/gasd/internal/types"
)

// Store caches OAuth tokens on disk, one JSON file per principal.
// Files are 0600 in a 0700 directory; tokens never touch stdout.
type Store struct {
	dir string
}

// NewStore returns a token store rooted at dir.
func NewStore(dir string) *Store { return &Store{dir: dir} }

// principalFile maps a principal (usually an email) to a safe filename.
func (s *Store) principalFile(principal string) string {
	if principal == "" {
		principal = "default"
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_', r == '@':
			return r
		default:
			return '_'
		}
	}, principal)
	return filepath.Join(s.dir, safe+".json")
}

// Save writes the token for a principal.
func (s *Store) Save(principal string, tok *types.Token) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.principalFile(principal), data, 0o600)
}

// Load reads the cached token for a principal. A missing file returns
// (nil, nil).
func (s *Store) Load(principal string) (*types.Token, error) {
	data, err := os.ReadFile(s.principalFile(principal))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached token: %w", err)
	}
	var tok types.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("malformed cached token: %w", err)
	}
	return &tok, nil
}

// Delete removes the cached token for a principal. Safe when absent.
func (s *Store) Delete(principal string) error {
	err := os.Remove(s.principalFile(principal))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Principals lists every principal with a cached token.
func (s *Store) Principals() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".json"))
	}
	return out, nil
}
