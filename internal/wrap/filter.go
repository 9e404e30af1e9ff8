package wrap

import (
	"strings"
)

// Path classification for the sync boundary. The Remote namespace is
// flat, so every rule here is a string rule over conventional names.

// IsGitBreadcrumb reports whether a path names git metadata at any
// depth (".git", "a/.git/config", ".git/HEAD"). Breadcrumbs never
// propagate to the Remote and never overwrite real git metadata.
func IsGitBreadcrumb(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".git" {
			return true
		}
	}
	return false
}

// IsSystemSynthetic reports whether a remote name belongs to the
// runtime shims the daemon itself maintains.
func IsSystemSynthetic(name string) bool {
	if name == "appsscript" || name == "common-js" {
		return true
	}
	return strings.HasPrefix(name, "common-js/") || strings.HasPrefix(name, "__mcp_exec")
}

// devDirs are local development directories that never sync.
var devDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".idea":        true,
	".vscode":      true,
}

// IsDevDir reports whether the path is inside a local dev directory.
func IsDevDir(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if devDirs[seg] {
			return true
		}
	}
	return false
}

// localConfigFiles are per-checkout files that never sync.
var localConfigFiles = map[string]bool{
	".clasp.json":          true,
	".claspignore":         true,
	".rsync-manifest.json": true,
	".gitkeep":             true,
}

// IsLocalConfig reports whether the name is local tool configuration.
func IsLocalConfig(name string) bool {
	return localConfigFiles[name]
}

// RemoteCompatible reports whether a local path may be pushed to the
// Remote at all.
func RemoteCompatible(path string) bool {
	if IsGitBreadcrumb(path) || IsDevDir(path) || IsLocalConfig(path) {
		return false
	}
	return true
}
