// Package types defines the shared data model for the gasd daemon:
// remote files, git hints, and the structured error envelope every
// tool response uses.
package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FileKind identifies the three kinds of files a script project holds.
// The Remote transmits files by kind tag, never by extension.
type FileKind string

const (
	// KindServerScript is executable script source (local extension .gs).
	KindServerScript FileKind = "SERVER_JS"
	// KindMarkup is HTML content served by the project (local extension .html).
	KindMarkup FileKind = "HTML"
	// KindManifest is the single project manifest (local extension .json).
	KindManifest FileKind = "JSON"
)

// ManifestFileName is the fixed name of the project manifest on the Remote.
const ManifestFileName = "appsscript"

// File is one entry in a project's flat namespace. Names carry no
// extension on the Remote; slashes in names are pure convention, not
// directories.
type File struct {
	Name       string   `json:"name"`
	Kind       FileKind `json:"type"`
	Source     string   `json:"source"`
	UpdateTime string   `json:"updateTime,omitempty"`
}

// Extension returns the kind-derived local file extension, including the dot.
func (k FileKind) Extension() string {
	switch k {
	case KindMarkup:
		return ".html"
	case KindManifest:
		return ".json"
	default:
		return ".gs"
	}
}

// KindForLocalName infers the FileKind from a local file name's extension.
func KindForLocalName(name string) FileKind {
	switch {
	case strings.HasSuffix(name, ".html"):
		return KindMarkup
	case strings.HasSuffix(name, ".json"):
		return KindManifest
	default:
		return KindServerScript
	}
}

// StripExtension removes a kind-derived extension from a local name,
// yielding the Remote name. Unknown extensions are left alone.
func StripExtension(name string) string {
	for _, ext := range []string{".gs", ".html", ".json"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// HasKindExtension reports whether a local name carries one of the
// kind-derived extensions. Only such files round-trip through the
// Remote without renaming.
func HasKindExtension(name string) bool {
	return name != StripExtension(name)
}

// GitHint is the compact advisory attached to every successful write,
// steering the client toward the explicit commit tool. Writes never
// auto-commit.
type GitHint struct {
	Branch           string `json:"branch"`
	UncommittedCount int    `json:"uncommittedCount"`
	Action           string `json:"action"` // "commit" | "push" | "finish"
	Command          string `json:"command"`
}

var scriptIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{25,60}$`)

// ValidateScriptID checks the opaque project id format: 25-60 chars
// from [A-Za-z0-9_-].
func ValidateScriptID(id string) error {
	if !scriptIDPattern.MatchString(id) {
		return &Error{
			Code:    CodeValidation,
			Message: fmt.Sprintf("invalid scriptId %q: must be 25-60 characters of [A-Za-z0-9_-]", id),
		}
	}
	return nil
}

// Token is a cached OAuth token set with absolute expiry.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
	TokenType    string    `json:"token_type"`
}

// Valid reports whether the access token is present and unexpired.
func (t *Token) Valid() bool {
	return t != nil && t.AccessToken != "" && time.Now().Before(t.ExpiresAt)
}
