package rsync

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/gasops/gasd/internal/hashutil"
	"github.com/gasops/gasd/internal/types"
	"github.com/gasops/gasd/internal/wrap"
)

// localFile is one sync-eligible file in the working tree. Name keeps
// the kind extension; slashes are forward regardless of platform.
type localFile struct {
	Name    string
	Content string
	Hash    string
}

// Plan is the computed diff for one sync direction. Filenames are
// local names (extension included), sorted.
type Plan struct {
	Operation   string
	IsBootstrap bool
	Adds        []string
	Updates     []string
	Deletes     []string
	Unchanged   int

	local  map[string]localFile
	remote map[string]types.File
	// remoteOrder preserves the Remote's file ordering, which is
	// load-order significant and must survive a push.
	remoteOrder []types.File
}

// scanLocal walks dir and returns every remote-compatible file with a
// kind extension, keyed by relative slash path. Hashing runs
// concurrently; excludes are doublestar glob patterns over the
// relative path.
func scanLocal(ctx context.Context, dir string, excludes []string) (map[string]localFile, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && !wrap.RemoteCompatible(rel+"/x") {
				return filepath.SkipDir
			}
			return nil
		}
		if !wrap.RemoteCompatible(rel) || rel == ManifestName {
			return nil
		}
		// Files without a kind extension (README.md, LICENSE) cannot be
		// stored under their own name remotely, so they stay local.
		if !types.HasKindExtension(rel) {
			return nil
		}
		for _, pat := range excludes {
			if ok, _ := doublestar.Match(pat, rel); ok {
				return nil
			}
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, types.NewError(types.CodeLocalIO, "failed to scan working tree: "+err.Error())
	}

	files := make(map[string]localFile, len(paths))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, rel := range paths {
		rel := rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
			if err != nil {
				return types.NewError(types.CodeLocalIO, "failed to read "+rel+": "+err.Error())
			}
			content := string(data)
			lf := localFile{Name: rel, Content: content, Hash: hashutil.GitBlobSHA1(content)}
			mu.Lock()
			files[rel] = lf
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// indexRemote keys the remote file list by local name (remote name
// plus kind extension). Git breadcrumbs never participate in a sync.
func indexRemote(files []types.File) (map[string]types.File, []types.File) {
	idx := make(map[string]types.File, len(files))
	order := make([]types.File, 0, len(files))
	for _, f := range files {
		if wrap.IsGitBreadcrumb(f.Name) {
			continue
		}
		idx[f.Name+f.Kind.Extension()] = f
		order = append(order, f)
	}
	return idx, order
}

// buildPlan classifies every filename into add, update, delete, or
// unchanged for the given direction. A missing manifest marks the plan
// as a bootstrap; the caller must then forbid deletions.
func buildPlan(operation string, manifest *Manifest, local map[string]localFile, remote map[string]types.File, remoteOrder []types.File) *Plan {
	p := &Plan{
		Operation:   operation,
		IsBootstrap: manifest == nil,
		local:       local,
		remote:      remote,
		remoteOrder: remoteOrder,
	}

	seen := make(map[string]bool, len(local)+len(remote))
	for name := range local {
		seen[name] = true
	}
	for name := range remote {
		seen[name] = true
	}

	for name := range seen {
		lf, hasLocal := local[name]
		rf, hasRemote := remote[name]
		switch {
		case hasLocal && hasRemote:
			if lf.Hash == hashutil.GitBlobSHA1(rf.Source) {
				p.Unchanged++
			} else {
				p.Updates = append(p.Updates, name)
			}
		case operation == OperationPull && !hasLocal:
			p.Adds = append(p.Adds, name)
		case operation == OperationPull && !hasRemote:
			p.Deletes = append(p.Deletes, name)
		case operation == OperationPush && !hasRemote:
			p.Adds = append(p.Adds, name)
		default: // push, remote-only
			p.Deletes = append(p.Deletes, name)
		}
	}

	sort.Strings(p.Adds)
	sort.Strings(p.Updates)
	sort.Strings(p.Deletes)
	return p
}

// Total counts the changes the plan would apply.
func (p *Plan) Total() int {
	return len(p.Adds) + len(p.Updates) + len(p.Deletes)
}
