// Package gitops implements the atomic write pipeline: every mutating
// tool runs lock → resolve → compute → local write → stage → hook
// read-back → remote apply → reconcile, and unwinds all three stores on
// failure.
package gitops

import (
	"context"
	"fmt"
	"sort"

	"github.com/gasops/gasd/internal/gas"
	"github.com/gasops/gasd/internal/types"
	"github.com/gasops/gasd/internal/wrap"
)

// Strategy is one mutation kind. ComputeChanges returns unwrapped
// content keyed by remote filename, with empty string marking deletion.
// ApplyChanges pushes the validated content to the Remote and returns
// the stored (wrapped) bytes actually written, again keyed by filename.
type Strategy interface {
	Name() string
	ComputeChanges(ctx context.Context) (map[string]string, error)
	ApplyChanges(ctx context.Context, validated map[string]string) (map[string]string, error)
	Rollback(ctx context.Context) error
}

// base carries what every strategy shares: the Remote handle, the
// project id, and the file list read at compute time (which doubles as
// the rollback image).
type base struct {
	remote   gas.Client
	scriptID string

	orig    []types.File // remote list as of ComputeChanges
	fetched bool
	applied bool
}

func newBase(remote gas.Client, scriptID string) base {
	return base{remote: remote, scriptID: scriptID}
}

// fetch reads the full remote file list once per pipeline run.
func (b *base) fetch(ctx context.Context) error {
	if b.fetched {
		return nil
	}
	files, err := b.remote.GetProjectContent(ctx, b.scriptID)
	if err != nil {
		return err
	}
	b.orig = files
	b.fetched = true
	return nil
}

// find returns the remote file with the given name, or nil.
func (b *base) find(name string) *types.File {
	for i := range b.orig {
		if b.orig[i].Name == name {
			return &b.orig[i]
		}
	}
	return nil
}

// kindFor decides the FileKind for a (possibly new) remote name. The
// tool path may carry a local extension to signal markup or manifest.
func (b *base) kindFor(path string) types.FileKind {
	name := types.StripExtension(path)
	if f := b.find(name); f != nil {
		return f.Kind
	}
	if name == types.ManifestFileName {
		return types.KindManifest
	}
	return types.KindForLocalName(path)
}

// applyList builds the post-change remote file list from the compute
// snapshot, pushes it in one atomic update, and returns the stored
// bytes per surviving filename. Wrap-eligible updates preserve the
// module options found in the current stored content.
func (b *base) applyList(ctx context.Context, changes map[string]string) (map[string]string, error) {
	next := make([]types.File, 0, len(b.orig)+len(changes))
	next = append(next, b.orig...)

	stored := make(map[string]string, len(changes))

	// Deterministic application order keeps repeated runs identical.
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, path := range names {
		content := changes[path]
		name := types.StripExtension(path)
		if wrap.IsGitBreadcrumb(name) {
			continue
		}
		if content == "" {
			next = removeFile(next, name)
			continue
		}

		kind := b.kindFor(path)
		var opts *wrap.ModuleOptions
		if existing := b.find(name); existing != nil && wrap.Eligible(name, kind) {
			_, opts, _ = wrap.Unwrap(existing.Source)
		}
		source := wrap.WrapFile(name, kind, content, opts)
		next = upsertFile(next, types.File{Name: name, Kind: kind, Source: source})
		stored[path] = source
	}

	if err := b.remote.UpdateProjectContent(ctx, b.scriptID, next); err != nil {
		return nil, err
	}
	b.applied = true
	return stored, nil
}

// Rollback restores the compute-time remote list if an update went out.
func (b *base) Rollback(ctx context.Context) error {
	if !b.applied {
		return nil
	}
	if err := b.remote.UpdateProjectContent(ctx, b.scriptID, b.orig); err != nil {
		return fmt.Errorf("remote rollback failed: %w", err)
	}
	b.applied = false
	return nil
}

func removeFile(files []types.File, name string) []types.File {
	out := files[:0]
	for _, f := range files {
		if f.Name != name {
			out = append(out, f)
		}
	}
	return out
}

func upsertFile(files []types.File, f types.File) []types.File {
	for i := range files {
		if files[i].Name == f.Name {
			files[i] = f
			return files
		}
	}
	return append(files, f)
}
