package rsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gasops/gasd/internal/config"
	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/gas"
	"github.com/gasops/gasd/internal/hashutil"
	"github.com/gasops/gasd/internal/lockfile"
	"github.com/gasops/gasd/internal/types"
	"github.com/gasops/gasd/internal/workspace"
	"github.com/gasops/gasd/internal/wrap"
	"github.com/gasops/gasd/internal/xattr"
)

// Sync directions.
const (
	OperationPull = "pull"
	OperationPush = "push"
)

// Options parameterizes one sync run.
type Options struct {
	Operation        string
	ScriptID         string
	DryRun           bool
	ConfirmDeletions bool
	ExcludePatterns  []string
}

// Outcome is the result surfaced to the client for both previews and
// applied syncs.
type Outcome struct {
	ScriptID    string   `json:"scriptId"`
	Operation   string   `json:"operation"`
	IsBootstrap bool     `json:"isBootstrap"`
	DryRun      bool     `json:"dryRun,omitempty"`
	Adds        []string `json:"adds,omitempty"`
	Updates     []string `json:"updates,omitempty"`
	Deletes     []string `json:"deletes,omitempty"`
	Unchanged   int      `json:"unchanged"`
	CommitSHA   string   `json:"commitSha,omitempty"`
	// RecoveryInfo is the exact command that undoes a pull locally.
	RecoveryInfo string `json:"recoveryInfo,omitempty"`
	// NextStep tells a previewing client how to apply the plan.
	NextStep string `json:"nextStep,omitempty"`
}

// Engine runs whole-project syncs against the persistent repo. Every
// run holds the script's write lock, dry runs included, so a preview
// never races an applying writer.
type Engine struct {
	cfg      *config.Config
	locks    *lockfile.Manager
	git      *workspace.Runner
	resolver *workspace.Resolver
	cache    *xattr.Cache
}

// NewEngine wires the sync engine.
func NewEngine(cfg *config.Config, locks *lockfile.Manager, git *workspace.Runner, resolver *workspace.Resolver, cache *xattr.Cache) *Engine {
	return &Engine{cfg: cfg, locks: locks, git: git, resolver: resolver, cache: cache}
}

// Sync computes a fresh three-way diff and either previews or applies
// it. Bootstrap runs (no manifest) never delete on either side.
func (e *Engine) Sync(ctx context.Context, remote gas.Client, opts Options) (*Outcome, error) {
	if err := types.ValidateScriptID(opts.ScriptID); err != nil {
		return nil, err
	}
	if opts.Operation != OperationPull && opts.Operation != OperationPush {
		return nil, types.NewError(types.CodeValidation,
			fmt.Sprintf("unknown rsync operation %q: want %q or %q", opts.Operation, OperationPull, OperationPush))
	}

	if err := e.locks.Acquire(ctx, opts.ScriptID, "rsync-"+opts.Operation, e.cfg.LockTimeout()); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.locks.Release(opts.ScriptID); err != nil {
			debug.Warnf("lock release failed for %s: %v", opts.ScriptID, err)
		}
	}()

	resolved, err := e.resolver.Resolve(ctx, opts.ScriptID, "")
	if err != nil {
		return nil, err
	}

	manifest, err := LoadManifest(resolved.Dir)
	if err != nil {
		return nil, err
	}
	local, err := scanLocal(ctx, resolved.Dir, opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	remoteFiles, err := remote.GetProjectContent(ctx, opts.ScriptID)
	if err != nil {
		return nil, err
	}
	remoteIdx, remoteOrder := indexRemote(remoteFiles)

	plan := buildPlan(opts.Operation, manifest, local, remoteIdx, remoteOrder)
	if plan.IsBootstrap && len(plan.Deletes) > 0 {
		debug.Logf("bootstrap sync for %s: suppressing %d deletion(s)", opts.ScriptID, len(plan.Deletes))
		plan.Deletes = nil
	}

	out := &Outcome{
		ScriptID:    opts.ScriptID,
		Operation:   opts.Operation,
		IsBootstrap: plan.IsBootstrap,
		Adds:        plan.Adds,
		Updates:     plan.Updates,
		Deletes:     plan.Deletes,
		Unchanged:   plan.Unchanged,
	}

	if opts.DryRun {
		out.DryRun = true
		out.NextStep = fmt.Sprintf("rsync({operation: '%s', scriptId: '%s'}) applies this plan",
			opts.Operation, opts.ScriptID)
		return out, nil
	}

	if len(plan.Deletes) > 0 && !opts.ConfirmDeletions {
		return nil, &types.Error{
			Code: types.CodeDeletions,
			Message: fmt.Sprintf("%s would delete %d file(s); re-run with confirmDeletions to proceed",
				opts.Operation, len(plan.Deletes)),
			Details: types.DeletionDetails{Operation: opts.Operation, Files: plan.Deletes},
			Hints:   []string{"run with dryRun first to review the full plan"},
		}
	}

	switch {
	case plan.Total() == 0:
		// Nothing to move; still record the baseline so the next run
		// is no longer a bootstrap.
		err = e.recordBaseline(ctx, resolved.Dir, plan, out)
	case opts.Operation == OperationPull:
		err = e.applyPull(ctx, remote, resolved.Dir, plan, out)
	default:
		err = e.applyPush(ctx, remote, resolved.Dir, plan, out)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// recordBaseline writes the manifest for a sync that moved nothing.
func (e *Engine) recordBaseline(ctx context.Context, dir string, plan *Plan, out *Outcome) error {
	out.CommitSHA = e.git.HeadSHA(ctx, dir)
	m := &Manifest{ScriptID: out.ScriptID, Direction: plan.Operation, CommitSHA: out.CommitSHA}
	for _, rf := range plan.remoteOrder {
		m.Files = append(m.Files, ManifestEntry{
			Filename:     rf.Name + rf.Kind.Extension(),
			Hash:         hashutil.GitBlobSHA1(rf.Source),
			LastModified: rf.UpdateTime,
		})
	}
	return m.Save(dir)
}

// applyPull writes Remote stored bytes into the working tree verbatim,
// commits the result, and records how to undo it.
func (e *Engine) applyPull(ctx context.Context, remote gas.Client, dir string, plan *Plan, out *Outcome) error {
	preHead := e.git.HeadSHA(ctx, dir)

	for _, name := range append(append([]string{}, plan.Adds...), plan.Updates...) {
		rf := plan.remote[name]
		if err := writeLocalFile(dir, name, rf.Source); err != nil {
			return err
		}
		e.cache.Put(filepath.Join(dir, filepath.FromSlash(name)), hashutil.GitBlobSHA1(rf.Source))
	}
	for _, name := range plan.Deletes {
		path := filepath.Join(dir, filepath.FromSlash(name))
		e.cache.Clear(path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return types.NewError(types.CodeLocalIO, "failed to delete "+name+": "+err.Error())
		}
	}

	committed, err := e.commitSync(ctx, dir, plan)
	if err != nil {
		return err
	}
	out.CommitSHA = e.git.HeadSHA(ctx, dir)
	if committed && preHead != "" {
		out.RecoveryInfo = "git reset --hard " + preHead
	}

	m := &Manifest{ScriptID: out.ScriptID, Direction: OperationPull, CommitSHA: out.CommitSHA}
	for _, rf := range plan.remoteOrder {
		m.Files = append(m.Files, ManifestEntry{
			Filename:     rf.Name + rf.Kind.Extension(),
			Hash:         hashutil.GitBlobSHA1(rf.Source),
			LastModified: rf.UpdateTime,
		})
	}
	return m.Save(dir)
}

// applyPush replaces the Remote's file list in a single atomic call,
// then reconciles the local mirror to the stored bytes.
func (e *Engine) applyPush(ctx context.Context, remote gas.Client, dir string, plan *Plan, out *Outcome) error {
	deleted := make(map[string]bool, len(plan.Deletes))
	for _, name := range plan.Deletes {
		deleted[name] = true
	}

	files := make([]types.File, 0, len(plan.remoteOrder)+len(plan.Adds))
	stored := make(map[string]string, len(plan.Adds)+len(plan.Updates))

	updates := make(map[string]bool, len(plan.Updates))
	for _, name := range plan.Updates {
		updates[name] = true
	}
	for _, rf := range plan.remoteOrder {
		localName := rf.Name + rf.Kind.Extension()
		if deleted[localName] {
			continue
		}
		if updates[localName] {
			content := pushContent(rf.Name, rf.Kind, plan.local[localName].Content, rf.Source)
			rf.Source = content
			stored[localName] = content
		}
		files = append(files, types.File{Name: rf.Name, Kind: rf.Kind, Source: rf.Source})
	}
	for _, name := range plan.Adds {
		remoteName := types.StripExtension(name)
		kind := types.KindForLocalName(name)
		content := pushContent(remoteName, kind, plan.local[name].Content, "")
		stored[name] = content
		files = append(files, types.File{Name: remoteName, Kind: kind, Source: content})
	}

	if err := remote.UpdateProjectContent(ctx, out.ScriptID, files); err != nil {
		return err
	}

	// Local mirror now holds the stored form, wrapped where eligible.
	for name, content := range stored {
		if err := writeLocalFile(dir, name, content); err != nil {
			return err
		}
		e.cache.Put(filepath.Join(dir, filepath.FromSlash(name)), hashutil.GitBlobSHA1(content))
	}

	if _, err := e.commitSync(ctx, dir, plan); err != nil {
		return err
	}
	out.CommitSHA = e.git.HeadSHA(ctx, dir)

	m := &Manifest{ScriptID: out.ScriptID, Direction: OperationPush, CommitSHA: out.CommitSHA}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, f := range files {
		m.Files = append(m.Files, ManifestEntry{
			Filename:     f.Name + f.Kind.Extension(),
			Hash:         hashutil.GitBlobSHA1(f.Source),
			LastModified: now,
		})
	}
	return m.Save(dir)
}

// pushContent derives the stored form of a local file for a push. An
// update keeps the module options already registered on the Remote; an
// add that is not yet wrapped gets wrapped fresh.
func pushContent(remoteName string, kind types.FileKind, localContent, remoteContent string) string {
	if !wrap.Eligible(remoteName, kind) {
		return localContent
	}
	userText, localOpts, wrapped := wrap.Unwrap(localContent)
	opts := localOpts
	if remoteContent != "" {
		if _, remoteOpts, ok := wrap.Unwrap(remoteContent); ok {
			opts = remoteOpts
		}
	}
	if wrapped || remoteContent != "" {
		return wrap.Wrap(userText, opts)
	}
	return wrap.Wrap(localContent, nil)
}

// commitSync stages everything and commits with a synthetic message.
// Returns whether a commit was created.
func (e *Engine) commitSync(ctx context.Context, dir string, plan *Plan) (bool, error) {
	if plan.Total() == 0 {
		return false, nil
	}
	if err := e.git.StageAll(ctx, dir); err != nil {
		return false, err
	}
	msg := fmt.Sprintf("Sync %s: %d added, %d updated, %d deleted",
		plan.Operation, len(plan.Adds), len(plan.Updates), len(plan.Deletes))
	return e.git.Commit(ctx, dir, msg)
}

// writeLocalFile writes content under dir, creating conventional
// slash-path directories as needed.
func writeLocalFile(dir, name, content string) error {
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewError(types.CodeLocalIO, "failed to create directory for "+name+": "+err.Error())
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return types.NewError(types.CodeLocalIO, "failed to write "+name+": "+err.Error())
	}
	return nil
}
