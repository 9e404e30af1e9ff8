package hashutil

import (
	"testing"
)

func TestGitBlobSHA1(t *testing.T) {
	// Known git hash-object values.
	tests := []struct {
		name    string
		content string
		want    string
	}{
		// printf '' | git hash-object --stdin
		{"empty", "", "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		// printf 'hello\n' | git hash-object --stdin
		{"hello newline", "hello\n", "ce013625030ba8dba906f756967f9e9ca394464a"},
		// CRLF normalizes to the same hash as LF
		{"crlf normalized", "hello\r\n", "ce013625030ba8dba906f756967f9e9ca394464a"},
		// BOM is stripped before hashing
		{"bom stripped", "\uFEFFhello\n", "ce013625030ba8dba906f756967f9e9ca394464a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GitBlobSHA1(tt.content)
			if got != tt.want {
				t.Errorf("GitBlobSHA1(%q) = %s, want %s", tt.content, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("\uFEFFa\r\nb\r\n"); got != "a\nb\n" {
		t.Errorf("Normalize = %q, want %q", got, "a\nb\n")
	}
	// Bare CR is not a line ending we rewrite.
	if got := Normalize("a\rb"); got != "a\rb" {
		t.Errorf("Normalize mangled bare CR: %q", got)
	}
}

func TestIsHash(t *testing.T) {
	if !IsHash("e69de29bb2d1d6434b8b29ae775ad8c2e48c5391") {
		t.Error("expected valid hash to pass")
	}
	for _, bad := range []string{"", "abc", "E69DE29BB2D1D6434B8B29AE775AD8C2E48C5391", "zzzde29bb2d1d6434b8b29ae775ad8c2e48c5391"} {
		if IsHash(bad) {
			t.Errorf("IsHash(%q) = true, want false", bad)
		}
	}
}
