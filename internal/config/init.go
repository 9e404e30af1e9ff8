package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of ~/.mcp-gas/config.yml. Keys match
// the viper keys; env overrides still win at load time.
type FileConfig struct {
	RootDir        string `yaml:"root-dir,omitempty"`
	LockTimeout    string `yaml:"lock-timeout,omitempty"`
	LockStaleAfter string `yaml:"lock-stale-after,omitempty"`
	Remote         struct {
		Endpoint string `yaml:"endpoint,omitempty"`
		Timeout  string `yaml:"timeout,omitempty"`
	} `yaml:"remote,omitempty"`
	OAuth struct {
		ClientID string   `yaml:"client-id,omitempty"`
		Port     int      `yaml:"port,omitempty"`
		Scopes   []string `yaml:"scopes,omitempty"`
	} `yaml:"oauth,omitempty"`
}

// DefaultFilePath is where WriteStarterFile puts the config.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mcp-gas", "config.yml"), nil
}

// WriteStarterFile writes a commented starter config to path, refusing
// to overwrite an existing file.
func WriteStarterFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	var fc FileConfig
	fc.LockTimeout = "30s"
	fc.LockStaleAfter = "5m"
	fc.Remote.Endpoint = "https://script.googleapis.com"
	fc.Remote.Timeout = "60s"
	fc.OAuth.Port = 3000
	fc.OAuth.Scopes = DefaultScopes

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	header := []byte("# gasd configuration. Every key can be overridden with a GAS_*\n" +
		"# environment variable (GAS_LOCK_TIMEOUT, GAS_OAUTH_CLIENT_ID, ...).\n")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, append(header, data...), 0o644)
}
