// Package config loads daemon configuration with viper. Precedence:
// GAS_* environment variables, then ~/.mcp-gas/config.yml, then
// defaults. It also owns the persistent state layout under the user's
// home directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keys. Dashes in yaml, underscores in env (GAS_LOCK_TIMEOUT).
const (
	KeyRootDir        = "root-dir"
	KeyLockTimeout    = "lock-timeout"
	KeyLockStaleAfter = "lock-stale-after"
	KeyRemoteEndpoint = "remote.endpoint"
	KeyRemoteTimeout  = "remote.timeout"
	KeyOAuthClientID  = "oauth.client-id"
	KeyOAuthPort      = "oauth.port"
	KeyOAuthScopes    = "oauth.scopes"
)

// DefaultScopes are the Remote scopes requested during the PKCE flow.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/script.projects",
	"https://www.googleapis.com/auth/script.processes",
	"https://www.googleapis.com/auth/script.deployments",
	"https://www.googleapis.com/auth/script.scriptapp",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Config is the resolved daemon configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	v.SetDefault(KeyRootDir, home)
	v.SetDefault(KeyLockTimeout, "30s")
	v.SetDefault(KeyLockStaleAfter, "5m")
	v.SetDefault(KeyRemoteEndpoint, "https://script.googleapis.com")
	v.SetDefault(KeyRemoteTimeout, "60s")
	v.SetDefault(KeyOAuthPort, 3000)
	v.SetDefault(KeyOAuthScopes, DefaultScopes)

	v.SetEnvPrefix("GAS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(home, ".mcp-gas"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errorsAs(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// NewForRoot builds a config with defaults rooted at the given
// directory, bypassing file and env lookup. Used by tests and by the
// --root-dir flag.
func NewForRoot(root string) *Config {
	v := viper.New()
	v.SetDefault(KeyRootDir, root)
	v.SetDefault(KeyLockTimeout, "30s")
	v.SetDefault(KeyLockStaleAfter, "5m")
	v.SetDefault(KeyRemoteEndpoint, "https://script.googleapis.com")
	v.SetDefault(KeyRemoteTimeout, "60s")
	v.SetDefault(KeyOAuthPort, 3000)
	v.SetDefault(KeyOAuthScopes, DefaultScopes)
	return &Config{v: v}
}

// errorsAs is a tiny indirection so Load stays readable.
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// RootDir is the base for all persistent state (defaults to $HOME).
func (c *Config) RootDir() string { return c.v.GetString(KeyRootDir) }

// ProjectDir is the persistent working tree for a script project.
func (c *Config) ProjectDir(scriptID string) string {
	return filepath.Join(c.RootDir(), "gas-repos", "project-"+scriptID)
}

// WorktreeDir is the per-session isolated checkout for a project.
func (c *Config) WorktreeDir(scriptID, sessionID string) string {
	return filepath.Join(c.RootDir(), ".mcp-gas", "worktrees", scriptID, sessionID)
}

// LockDir holds the per-script lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.RootDir(), ".auth", "mcp-gas", "locks")
}

// TokenDir holds cached OAuth tokens.
func (c *Config) TokenDir() string {
	return filepath.Join(c.RootDir(), ".auth", "tokens")
}

// LockTimeout bounds a single lock acquisition.
func (c *Config) LockTimeout() time.Duration {
	return c.v.GetDuration(KeyLockTimeout)
}

// LockStaleAfter is the foreign-host lock staleness window.
func (c *Config) LockStaleAfter() time.Duration {
	return c.v.GetDuration(KeyLockStaleAfter)
}

// RemoteEndpoint is the base URL of the Remote API.
func (c *Config) RemoteEndpoint() string { return c.v.GetString(KeyRemoteEndpoint) }

// RemoteTimeout bounds a single Remote call.
func (c *Config) RemoteTimeout() time.Duration { return c.v.GetDuration(KeyRemoteTimeout) }

// OAuthClientID is the public OAuth client id (PKCE, no secret).
func (c *Config) OAuthClientID() string { return c.v.GetString(KeyOAuthClientID) }

// OAuthPort is the loopback callback port.
func (c *Config) OAuthPort() int { return c.v.GetInt(KeyOAuthPort) }

// OAuthScopes are the scopes requested during authorization.
func (c *Config) OAuthScopes() []string { return c.v.GetStringSlice(KeyOAuthScopes) }
