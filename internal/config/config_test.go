package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewForRootDefaults(t *testing.T) {
	root := t.TempDir()
	cfg := NewForRoot(root)

	assert.Equal(t, root, cfg.RootDir())
	assert.Equal(t, 30*time.Second, cfg.LockTimeout())
	assert.Equal(t, 5*time.Minute, cfg.LockStaleAfter())
	assert.Equal(t, "https://script.googleapis.com", cfg.RemoteEndpoint())
	assert.Equal(t, 3000, cfg.OAuthPort())
	assert.Equal(t, DefaultScopes, cfg.OAuthScopes())
}

func TestPathLayout(t *testing.T) {
	cfg := NewForRoot("/srv/state")
	const id = "1aBcDeFgHiJkLmNoPqRsTuVwXyZ012345"

	assert.Equal(t, filepath.Join("/srv/state", "gas-repos", "project-"+id), cfg.ProjectDir(id))
	assert.Equal(t, filepath.Join("/srv/state", ".mcp-gas", "worktrees", id, "s1"), cfg.WorktreeDir(id, "s1"))
	assert.Equal(t, filepath.Join("/srv/state", ".auth", "mcp-gas", "locks"), cfg.LockDir())
	assert.Equal(t, filepath.Join("/srv/state", ".auth", "tokens"), cfg.TokenDir())
}

func TestWriteStarterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp-gas", "config.yml")
	require.NoError(t, WriteStarterFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# gasd configuration"))

	var fc FileConfig
	require.NoError(t, yaml.Unmarshal(data, &fc))
	assert.Equal(t, "30s", fc.LockTimeout)
	assert.Equal(t, 3000, fc.OAuth.Port)
	assert.Equal(t, DefaultScopes, fc.OAuth.Scopes)

	err = WriteStarterFile(path)
	require.Error(t, err, "starter file never overwrites")
	assert.Contains(t, err.Error(), "already exists")
}
