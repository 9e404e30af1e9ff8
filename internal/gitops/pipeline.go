package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/hashutil"
	"github.com/gasops/gasd/internal/lockfile"
	"github.com/gasops/gasd/internal/types"
	"github.com/gasops/gasd/internal/workspace"
	"github.com/gasops/gasd/internal/wrap"
	"github.com/gasops/gasd/internal/xattr"
)

// Sync modes for the pipeline.
const (
	ModeSimple    = "simple"     // full pipeline (default)
	ModeLocalOnly = "local-only" // stop after staging; no remote write
)

// Request carries the per-call parameters shared by every strategy.
type Request struct {
	ScriptID     string
	SessionID    string
	ChangeReason string
	Mode         string
	DryRun       bool
}

// Result is the pipeline outcome handed back to the tool layer.
type Result struct {
	Strategy string `json:"strategy"`
	Branch   string `json:"branch"`
	Dir      string `json:"dir"`
	// Hash is the stored-content hash when the mutation touched a
	// single surviving file; clients feed it back as expectedHash.
	Hash         string            `json:"hash,omitempty"`
	Hashes       map[string]string `json:"hashes,omitempty"` // path -> stored content hash
	Deleted      []string          `json:"deleted,omitempty"`
	EditsApplied int               `json:"editsApplied,omitempty"`
	DryRun       bool              `json:"dryRun,omitempty"`
	Planned      map[string]string `json:"planned,omitempty"` // dry run: path -> planned user text
	Git          *types.GitHint    `json:"git"`
}

// Manager orchestrates every mutation: lock, resolve, strategy phases,
// staging, hook read-back, remote apply, local reconciliation, and
// rollback. It either leaves (remote, local fs, index) consistent or
// untouched.
type Manager struct {
	locks       *lockfile.Manager
	resolver    *workspace.Resolver
	git         *workspace.Runner
	cache       *xattr.Cache
	lockTimeout time.Duration
}

// NewManager wires the pipeline's collaborators.
func NewManager(locks *lockfile.Manager, resolver *workspace.Resolver, git *workspace.Runner, cache *xattr.Cache, lockTimeout time.Duration) *Manager {
	if lockTimeout <= 0 {
		lockTimeout = lockfile.DefaultTimeout
	}
	return &Manager{locks: locks, resolver: resolver, git: git, cache: cache, lockTimeout: lockTimeout}
}

// Locks exposes the lock manager for status reporting.
func (m *Manager) Locks() *lockfile.Manager { return m.locks }

// Resolver exposes the path resolver for read-side tools.
func (m *Manager) Resolver() *workspace.Resolver { return m.resolver }

// Git exposes the runner for the explicit commit tool.
func (m *Manager) Git() *workspace.Runner { return m.git }

// Cache exposes the hash cache for status reporting.
func (m *Manager) Cache() *xattr.Cache { return m.cache }

// entry tracks one affected file across the pipeline phases.
type entry struct {
	path      string // tool-supplied path (may carry extension)
	localRel  string // extension-mapped path relative to the repo
	localAbs  string
	content   string // unwrapped content to write ("" = delete)
	deleted   bool
	existed   bool   // file existed before this pipeline run
	prevBytes []byte // pre-pipeline content for rollback
}

// kindProvider lets the manager reuse the strategy's kind decisions.
type kindProvider interface {
	kindFor(path string) types.FileKind
}

// ExecuteWithGit runs the full write pipeline for one strategy.
func (m *Manager) ExecuteWithGit(ctx context.Context, strat Strategy, req Request) (*Result, error) {
	if err := types.ValidateScriptID(req.ScriptID); err != nil {
		return nil, err
	}

	if err := m.locks.Acquire(ctx, req.ScriptID, strat.Name(), m.lockTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := m.locks.Release(req.ScriptID); err != nil {
			debug.Warnf("lock release for %s: %v", req.ScriptID, err)
		}
	}()

	// Phase 1-2: resolve working directory, ensure repo and branch.
	resolved, err := m.resolver.Resolve(ctx, req.ScriptID, req.SessionID)
	if err != nil {
		return nil, err
	}

	// Phase 3: compute (reads the Remote, runs strategy logic).
	changes, err := strat.ComputeChanges(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Strategy: strat.Name(), Branch: resolved.Branch, Dir: resolved.Dir}
	if counter, ok := strat.(interface{ EditsApplied() int }); ok {
		result.EditsApplied = counter.EditsApplied()
	}

	if req.DryRun {
		result.DryRun = true
		result.Planned = changes
		return m.finish(ctx, resolved, result)
	}

	entries := m.planEntries(strat, resolved.Dir, changes)

	// Phase 4: local disk writes.
	if err := m.writeLocal(entries); err != nil {
		m.restoreLocal(entries)
		return nil, err
	}

	// Phase 5: stage only, never commit.
	if err := m.stage(ctx, resolved.Dir, strat, entries); err != nil {
		return nil, m.rollback(ctx, resolved.Dir, strat, entries, err)
	}

	// Phase 6: hook read-back. Pre-commit hooks and filters may have
	// rewritten the files; whatever is on disk now is what ships.
	validated := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.deleted {
			validated[e.path] = ""
			continue
		}
		data, err := os.ReadFile(e.localAbs)
		if err != nil {
			return nil, m.rollback(ctx, resolved.Dir, strat, entries, err)
		}
		validated[e.path] = string(data)
	}

	if req.Mode == ModeLocalOnly {
		result.Hashes = localOnlyHashes(strat, validated)
		result.Deleted = deletedPaths(entries)
		return m.finish(ctx, resolved, result)
	}

	// Phase 7: apply to the Remote (atomic full-list update).
	stored, err := strat.ApplyChanges(ctx, validated)
	if err != nil {
		return nil, m.rollback(ctx, resolved.Dir, strat, entries, err)
	}

	// Phase 8: reconcile local files with the wrapped bytes the Remote
	// now holds, so local bytes hash identically to remote bytes.
	result.Hashes = make(map[string]string, len(stored))
	for _, e := range entries {
		if e.deleted {
			continue
		}
		source, ok := stored[e.path]
		if !ok {
			continue
		}
		if err := os.WriteFile(e.localAbs, []byte(source), 0o644); err != nil {
			return nil, m.rollback(ctx, resolved.Dir, strat, entries, err)
		}
		m.cache.Put(e.localAbs, hashutil.GitBlobSHA1(source))
		result.Hashes[e.path] = hashutil.GitBlobSHA1(source)
	}
	if err := m.git.Stage(ctx, resolved.Dir, stagePaths(entries)); err != nil {
		// Re-stage of reconciled bytes is non-fatal; the index lags by
		// one wrap pass until the next operation.
		debug.Warnf("re-stage after reconcile failed: %v", err)
	}
	result.Deleted = deletedPaths(entries)

	// Phase 9: respond with the git hint.
	return m.finish(ctx, resolved, result)
}

// planEntries maps remote paths to local files and snapshots pre-state.
func (m *Manager) planEntries(strat Strategy, dir string, changes map[string]string) []*entry {
	kinds, _ := strat.(kindProvider)
	entries := make([]*entry, 0, len(changes))
	for path, content := range changes {
		name := types.StripExtension(path)
		if wrap.IsGitBreadcrumb(name) {
			debug.Warnf("skipping git breadcrumb path: %s", path)
			continue
		}
		kind := types.KindForLocalName(path)
		if kinds != nil {
			kind = kinds.kindFor(path)
		}
		localRel := name + kind.Extension()
		e := &entry{
			path:     path,
			localRel: localRel,
			localAbs: filepath.Join(dir, filepath.FromSlash(localRel)),
			content:  content,
			deleted:  content == "",
		}
		if data, err := os.ReadFile(e.localAbs); err == nil {
			e.existed = true
			e.prevBytes = data
		}
		entries = append(entries, e)
	}
	return entries
}

// writeLocal performs phase 4: deletions unlink and clear the hash
// cache; writes create parents and store UTF-8 bytes.
func (m *Manager) writeLocal(entries []*entry) error {
	for _, e := range entries {
		if e.deleted {
			if err := os.Remove(e.localAbs); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", e.localRel, err)
			}
			m.cache.Clear(e.localAbs)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(e.localAbs), 0o755); err != nil {
			return fmt.Errorf("failed to create parent for %s: %w", e.localRel, err)
		}
		if err := os.WriteFile(e.localAbs, []byte(e.content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", e.localRel, err)
		}
	}
	return nil
}

// stage performs phase 5 and its invariant check.
func (m *Manager) stage(ctx context.Context, dir string, strat Strategy, entries []*entry) error {
	if err := m.git.Stage(ctx, dir, stagePaths(entries)); err != nil {
		return err
	}
	staged, err := m.git.StagedFiles(ctx, dir)
	if err != nil {
		return err
	}
	if len(staged) > 0 {
		return nil
	}
	if strat.Name() == "delete" {
		// A remote-only delete stages nothing; that is valid exactly
		// when none of the affected files exist locally.
		for _, e := range entries {
			if _, err := os.Stat(e.localAbs); err == nil {
				return types.NewError(types.CodeFatal,
					fmt.Sprintf("delete staged no change but %s still exists locally", e.localRel))
			}
		}
		return nil
	}
	return types.NewError(types.CodeFatal,
		fmt.Sprintf("%s staged no change: diff --cached reported empty for a non-delete operation", strat.Name()))
}

// stagePaths returns the repo-relative paths worth passing to git add:
// files that exist now or existed before (so deletions stage too).
func stagePaths(entries []*entry) []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.deleted && !e.existed {
			continue // remote-only delete; nothing for the index
		}
		paths = append(paths, e.localRel)
	}
	return paths
}

func deletedPaths(entries []*entry) []string {
	var out []string
	for _, e := range entries {
		if e.deleted {
			out = append(out, e.path)
		}
	}
	return out
}

// localOnlyHashes hashes the wrapped form the files would take, so
// local-only callers still get usable concurrency tokens.
func localOnlyHashes(strat Strategy, validated map[string]string) map[string]string {
	kinds, _ := strat.(kindProvider)
	out := make(map[string]string, len(validated))
	for path, content := range validated {
		if content == "" {
			continue
		}
		name := types.StripExtension(path)
		kind := types.KindForLocalName(path)
		if kinds != nil {
			kind = kinds.kindFor(path)
		}
		out[path] = hashutil.GitBlobSHA1(wrap.WrapFile(name, kind, content, nil))
	}
	return out
}

// finish attaches the git hint (phase 9) and the singular hash.
func (m *Manager) finish(ctx context.Context, resolved *workspace.Resolved, result *Result) (*Result, error) {
	if len(result.Hashes) == 1 {
		for _, h := range result.Hashes {
			result.Hash = h
		}
	}
	count, err := m.git.UncommittedCount(ctx, resolved.Dir)
	if err != nil {
		debug.Warnf("uncommitted count failed: %v", err)
	}
	action := "finish"
	command := ""
	if count > 0 {
		action = "commit"
		command = fmt.Sprintf("commit({scriptId: %q, message: \"<describe the change>\"})", resolvedScriptID(resolved))
	}
	result.Git = &types.GitHint{
		Branch:           resolved.Branch,
		UncommittedCount: count,
		Action:           action,
		Command:          command,
	}
	return result, nil
}

func resolvedScriptID(resolved *workspace.Resolved) string {
	// project dirs are .../gas-repos/project-<id>; worktrees are
	// .../worktrees/<id>/<session>
	dir := resolved.Dir
	if resolved.Session != "" {
		return filepath.Base(filepath.Dir(dir))
	}
	base := filepath.Base(dir)
	const prefix = "project-"
	if len(base) > len(prefix) && base[:len(prefix)] == prefix {
		return base[len(prefix):]
	}
	return base
}

// restoreLocal puts pre-pipeline bytes back (phase 4 failures only,
// before anything was staged).
func (m *Manager) restoreLocal(entries []*entry) {
	for _, e := range entries {
		if e.existed {
			if err := os.MkdirAll(filepath.Dir(e.localAbs), 0o755); err == nil {
				if err := os.WriteFile(e.localAbs, e.prevBytes, 0o644); err != nil {
					debug.Warnf("rollback restore of %s failed: %v", e.localRel, err)
				}
			}
		} else if !e.deleted {
			if err := os.Remove(e.localAbs); err != nil && !os.IsNotExist(err) {
				debug.Warnf("rollback removal of %s failed: %v", e.localRel, err)
			}
		}
		m.cache.Clear(e.localAbs)
	}
}

// rollback unwinds a failure after staging began: restore local bytes,
// unstage, undo any partial remote effect, and surface a wrapped error.
func (m *Manager) rollback(ctx context.Context, dir string, strat Strategy, entries []*entry, cause error) error {
	m.restoreLocal(entries)

	if err := m.git.Unstage(ctx, dir, stagePaths(entries)); err != nil {
		debug.Warnf("rollback unstage failed: %v", err)
	}
	// Re-stage the restored bytes so the index matches pre-pipeline
	// state for files that were already tracked.
	if err := m.git.Stage(ctx, dir, restorePaths(entries)); err != nil {
		debug.Warnf("rollback re-stage failed: %v", err)
	}

	if err := strat.Rollback(ctx); err != nil {
		debug.Warnf("strategy rollback failed: %v", err)
	}

	return fmt.Errorf("Git operation failed and was rolled back: %w", cause)
}

func restorePaths(entries []*entry) []string {
	var out []string
	for _, e := range entries {
		if e.existed {
			out = append(out, e.localRel)
		}
	}
	return out
}
