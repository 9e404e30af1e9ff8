// Package hashutil computes git blob SHA-1 hashes over normalized text.
// The hash doubles as the optimistic-concurrency token for every write,
// so it must match `git hash-object` byte for byte.
package hashutil

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Normalize strips a UTF-8 BOM and converts CRLF line endings to LF.
// All hashing and all content comparison goes through this first.
func Normalize(content string) string {
	content = strings.TrimPrefix(content, "\uFEFF")
	return strings.ReplaceAll(content, "\r\n", "\n")
}

// GitBlobSHA1 returns the 40-hex lowercase git blob hash of the
// normalized content: sha1("blob " + len + "\x00" + content).
func GitBlobSHA1(content string) string {
	normalized := Normalize(content)
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(normalized))
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// IsHash reports whether s looks like a 40-hex lowercase blob hash.
func IsHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
