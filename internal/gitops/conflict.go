package gitops

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/gasops/gasd/internal/hashutil"
	"github.com/gasops/gasd/internal/types"
)

const diffPreviewLimit = 1200

// checkConflict enforces optimistic concurrency: when the caller
// supplied an expectedHash, the hash of the current stored (wrapped)
// remote bytes must match it, unless force is set. proposed, when
// non-empty, feeds the diff preview.
func (b *base) checkConflict(operation, filename, expectedHash, proposed string, force bool) error {
	if expectedHash == "" || force {
		return nil
	}
	current := ""
	if f := b.find(types.StripExtension(filename)); f != nil {
		current = f.Source
	}
	currentHash := hashutil.GitBlobSHA1(current)
	if currentHash == expectedHash {
		return nil
	}
	return &types.Error{
		Code: types.CodeConflict,
		Message: fmt.Sprintf("%s conflicts: %s changed since hash %s (now %s)",
			operation, filename, shortHash(expectedHash), shortHash(currentHash)),
		Details: types.ConflictDetails{
			ScriptID:     b.scriptID,
			Filename:     filename,
			Operation:    operation,
			ExpectedHash: expectedHash,
			CurrentHash:  currentHash,
			DiffPreview:  diffPreview(current, proposed),
		},
		Hints: []string{
			"re-read the file to get the current hash, then retry",
			"pass force:true to overwrite the concurrent change",
		},
	}
}

// diffPreview renders a compact text diff between the current stored
// content and the caller's proposal. With no proposal it shows a
// truncated view of the current content.
func diffPreview(current, proposed string) string {
	if proposed == "" {
		return truncate(current, diffPreviewLimit)
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(current, proposed, true)
	dmp.DiffCleanupSemantic(diffs)

	out := ""
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			out += "-" + d.Text
		case diffmatchpatch.DiffInsert:
			out += "+" + d.Text
		default:
			out += truncate(d.Text, 80)
		}
		if len(out) > diffPreviewLimit {
			break
		}
	}
	return truncate(out, diffPreviewLimit)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
