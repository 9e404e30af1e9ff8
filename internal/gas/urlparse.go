package gas

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gasops/gasd/internal/types"
)

// ScriptURL is a parsed Remote web-app URL. Two shapes are accepted,
// case-sensitively, with an optional trailing slash:
//
//	https://<host>/macros/s/<id>/{exec|dev}
//	https://<host>/a/macros/<domain>/s/<id>/{exec|dev}
type ScriptURL struct {
	Host     string
	Domain   string // non-empty for domain-scoped URLs
	ScriptID string
	Mode     string // "exec" or "dev"
}

// ParseScriptURL extracts the scriptId and mode from a Remote web-app
// URL. Trailing slash is tolerated; anything else nonstandard is not.
func ParseScriptURL(raw string) (*ScriptURL, error) {
	if strings.ContainsAny(raw, "?#") {
		return nil, types.NewError(types.CodeValidation,
			fmt.Sprintf("script URL must not carry a query string or fragment: %s", raw))
	}
	// Domain-scoped form has /a/macros/<domain>/s/, standard form /macros/s/.
	m := domainURLPattern.FindStringSubmatch(raw)
	if m != nil {
		return &ScriptURL{Host: m[1], Domain: m[2], ScriptID: m[3], Mode: m[4]}, nil
	}
	m = standardURLPattern.FindStringSubmatch(raw)
	if m != nil {
		return &ScriptURL{Host: m[1], ScriptID: m[2], Mode: m[3]}, nil
	}
	return nil, types.NewError(types.CodeValidation,
		fmt.Sprintf("unrecognized script URL: %s", raw))
}

var (
	standardURLPattern = regexp.MustCompile(
		`^https://([a-z0-9.-]+)/macros/s/([A-Za-z0-9_-]{25,60})/(exec|dev)/?$`)
	domainURLPattern = regexp.MustCompile(
		`^https://([a-z0-9.-]+)/a/macros/([a-z0-9.-]+)/s/([A-Za-z0-9_-]{25,60})/(exec|dev)/?$`)
)
