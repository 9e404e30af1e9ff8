// Package wrap implements the reversible CommonJS transform that sits
// on the local/Remote boundary. The Remote stores server scripts in
// wrapped form; humans and edit tools see the unwrapped body.
package wrap

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gasops/gasd/internal/types"
)

// ModuleOptions are the registration options preserved across
// wrap/unwrap round-trips.
type ModuleOptions struct {
	LoadNow          bool     `json:"loadNow,omitempty"`
	HoistedFunctions []string `json:"hoistedFunctions,omitempty"`
}

// IsZero reports whether the options carry nothing worth serializing.
func (o *ModuleOptions) IsZero() bool {
	return o == nil || (!o.LoadNow && len(o.HoistedFunctions) == 0)
}

const (
	prologue = "function _main(module, exports, require){"
	epilogue = "__defineModule__(_main"
)

// Wrap converts user text into the stored form:
//
//	function _main(module, exports, require){<userText>}
//	__defineModule__(_main[, <options-JSON>]);
func Wrap(userText string, opts *ModuleOptions) string {
	var b strings.Builder
	b.Grow(len(userText) + 80)
	b.WriteString(prologue)
	b.WriteString(userText)
	b.WriteString("}\n")
	b.WriteString(epilogue)
	if !opts.IsZero() {
		optJSON, err := json.Marshal(opts)
		if err == nil {
			b.WriteString(", ")
			b.Write(optJSON)
		}
	}
	b.WriteString(");")
	return b.String()
}

// Tolerant matchers for content wrapped by earlier tool versions:
// optional whitespace around the parameter list and before the body.
var (
	prologueRe = regexp.MustCompile(`^\s*function\s+_main\s*\(\s*module\s*,\s*exports\s*,\s*require\s*\)\s*\{`)
	epilogueRe = regexp.MustCompile(`\}\s*__defineModule__\s*\(\s*_main\s*(?:,\s*(\{.*?\})\s*)?\)\s*;?\s*$`)
)

// Unwrap extracts the user text and any module options from stored
// content. Content without the known prologue is returned unchanged
// with nil options and ok=false.
func Unwrap(stored string) (userText string, opts *ModuleOptions, ok bool) {
	loc := prologueRe.FindStringIndex(stored)
	if loc == nil {
		return stored, nil, false
	}
	tail := stored[loc[1]:]

	m := epilogueRe.FindStringSubmatchIndex(tail)
	if m == nil {
		return stored, nil, false
	}
	body := tail[:m[0]]

	var parsed *ModuleOptions
	if m[2] >= 0 {
		optJSON := tail[m[2]:m[3]]
		var o ModuleOptions
		if err := json.Unmarshal([]byte(optJSON), &o); err == nil {
			parsed = &o
		}
	}
	return body, parsed, true
}

// Eligible reports whether a remote file should be stored in wrapped
// form: server scripts only, excluding the manifest, the CommonJS
// runtime shims, the executor shims, and git breadcrumbs.
func Eligible(name string, kind types.FileKind) bool {
	if kind != types.KindServerScript {
		return false
	}
	if name == types.ManifestFileName {
		return false
	}
	if strings.HasPrefix(name, "common-js/") || name == "common-js" {
		return false
	}
	if strings.HasPrefix(name, "__mcp_exec") {
		return false
	}
	if IsGitBreadcrumb(name) {
		return false
	}
	return true
}

// WrapFile produces the stored content for a file, wrapping only when
// eligible. Non-eligible content passes through verbatim.
func WrapFile(name string, kind types.FileKind, userText string, opts *ModuleOptions) string {
	if !Eligible(name, kind) {
		return userText
	}
	return Wrap(userText, opts)
}

// UnwrapFile returns the user text for a stored file, unwrapping only
// when eligible.
func UnwrapFile(name string, kind types.FileKind, stored string) (string, *ModuleOptions) {
	if !Eligible(name, kind) {
		return stored, nil
	}
	text, opts, _ := Unwrap(stored)
	return text, opts
}

// String renders options as their canonical JSON, for diagnostics.
func (o *ModuleOptions) String() string {
	if o.IsZero() {
		return "{}"
	}
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprintf("%+v", *o)
	}
	return string(b)
}
