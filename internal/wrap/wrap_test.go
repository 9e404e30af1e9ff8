package wrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gasops/gasd/internal/types"
)

func TestWrapExactShape(t *testing.T) {
	got := Wrap("function f(){return 1}", nil)
	want := "function _main(module, exports, require){function f(){return 1}}\n__defineModule__(_main);"
	assert.Equal(t, want, got)
}

func TestWrapWithOptions(t *testing.T) {
	got := Wrap("x", &ModuleOptions{LoadNow: true, HoistedFunctions: []string{"f", "g"}})
	want := "function _main(module, exports, require){x}\n__defineModule__(_main, {\"loadNow\":true,\"hoistedFunctions\":[\"f\",\"g\"]});"
	assert.Equal(t, want, got)
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		text string
		opts *ModuleOptions
	}{
		{"plain", "function f(){return 1}", nil},
		{"empty body", "", nil},
		{"multiline", "const a = 1;\nfunction g() {\n  return a;\n}\n", nil},
		{"braces in body", "if(x){y()}else{z()}", nil},
		{"load now", "f()", &ModuleOptions{LoadNow: true}},
		{"hoisted", "function h(){}", &ModuleOptions{HoistedFunctions: []string{"h"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stored := Wrap(tc.text, tc.opts)

			text, opts, ok := Unwrap(stored)
			require.True(t, ok, "unwrap should recognize system-wrapped content")
			assert.Equal(t, tc.text, text)
			if tc.opts.IsZero() {
				assert.True(t, opts.IsZero())
			} else {
				require.NotNil(t, opts)
				assert.Equal(t, *tc.opts, *opts)
			}

			// Re-wrapping reproduces stored bytes exactly.
			assert.Equal(t, stored, Wrap(text, opts))
		})
	}
}

func TestUnwrapForeignContent(t *testing.T) {
	// No prologue: returned unchanged, ok=false.
	text, opts, ok := Unwrap("function f(){return 1}")
	assert.False(t, ok)
	assert.Nil(t, opts)
	assert.Equal(t, "function f(){return 1}", text)
}

func TestUnwrapTolerantWhitespace(t *testing.T) {
	stored := "function _main( module , exports , require ) {body()} __defineModule__( _main );"
	text, _, ok := Unwrap(stored)
	require.True(t, ok)
	assert.Equal(t, "body()", text)
}

func TestEligible(t *testing.T) {
	cases := []struct {
		name string
		kind types.FileKind
		want bool
	}{
		{"Utils", types.KindServerScript, true},
		{"lib/helpers", types.KindServerScript, true},
		{"appsscript", types.KindManifest, false},
		{"appsscript", types.KindServerScript, false},
		{"common-js/require", types.KindServerScript, false},
		{"__mcp_exec", types.KindServerScript, false},
		{"__mcp_exec_shim", types.KindServerScript, false},
		{"index", types.KindMarkup, false},
		{".git/config", types.KindServerScript, false},
		{"sub/.git/HEAD", types.KindServerScript, false},
	}
	for _, tc := range cases {
		if got := Eligible(tc.name, tc.kind); got != tc.want {
			t.Errorf("Eligible(%q, %s) = %v, want %v", tc.name, tc.kind, got, tc.want)
		}
	}
}

func TestFilterClassification(t *testing.T) {
	assert.True(t, IsGitBreadcrumb(".git"))
	assert.True(t, IsGitBreadcrumb("a/b/.git/config"))
	assert.False(t, IsGitBreadcrumb(".gitignore"))
	assert.True(t, IsDevDir("node_modules/left-pad/index.js"))
	assert.True(t, IsLocalConfig(".rsync-manifest.json"))
	assert.False(t, RemoteCompatible(".clasp.json"))
	assert.True(t, RemoteCompatible("Utils.gs"))
}
