package gitops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gasops/gasd/internal/config"
	"github.com/gasops/gasd/internal/gas"
	"github.com/gasops/gasd/internal/hashutil"
	"github.com/gasops/gasd/internal/lockfile"
	"github.com/gasops/gasd/internal/types"
	"github.com/gasops/gasd/internal/workspace"
	"github.com/gasops/gasd/internal/xattr"
)

const pipeScriptID = "1aBcDeFgHiJkLmNoPqRsTuVwXyZ012345"

func newTestManager(t *testing.T) (*Manager, *gas.Fake, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.NewForRoot(root)
	git := workspace.NewRunner()
	resolver := workspace.NewResolver(cfg, git)
	locks := lockfile.NewManager(cfg.LockDir())
	m := NewManager(locks, resolver, git, xattr.NewCache(), cfg.LockTimeout())
	return m, gas.NewFake(), cfg
}

func TestWriteCreatesWrappedFile(t *testing.T) {
	ctx := context.Background()
	m, remote, cfg := newTestManager(t)

	strat, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "function f(){return 1}", "", false)
	require.NoError(t, err)

	res, err := m.ExecuteWithGit(ctx, strat, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	wantStored := "function _main(module, exports, require){function f(){return 1}}\n__defineModule__(_main);"

	// Remote holds the wrapped form.
	files := remote.Files(pipeScriptID)
	require.Len(t, files, 1)
	assert.Equal(t, "Utils", files[0].Name)
	assert.Equal(t, types.KindServerScript, files[0].Kind)
	assert.Equal(t, wantStored, files[0].Source)

	// Local file mirrors the wrapped bytes exactly.
	local, err := os.ReadFile(filepath.Join(cfg.ProjectDir(pipeScriptID), "Utils.gs"))
	require.NoError(t, err)
	assert.Equal(t, wantStored, string(local))

	// Git hint advises an explicit commit.
	require.NotNil(t, res.Git)
	assert.Equal(t, 1, res.Git.UncommittedCount)
	assert.Equal(t, "commit", res.Git.Action)

	// The returned hash is the stored-content blob hash.
	assert.Equal(t, hashutil.GitBlobSHA1(wantStored), res.Hashes["Utils"])
}

func TestSingleFileMutationExposesScalarHash(t *testing.T) {
	ctx := context.Background()
	m, remote, _ := newTestManager(t)

	write, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "function f(){return 1}", "", false)
	require.NoError(t, err)
	res, err := m.ExecuteWithGit(ctx, write, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	// Clients feed the top-level hash straight back as expectedHash
	// without digging through the per-path map.
	require.Len(t, res.Hash, 40)
	assert.Equal(t, res.Hashes["Utils"], res.Hash)

	// A rename touches two paths but leaves one surviving file, so the
	// scalar hash still names the destination.
	mv, err := NewMoveStrategy(remote, pipeScriptID, "Utils", "Helpers")
	require.NoError(t, err)
	moved, err := m.ExecuteWithGit(ctx, mv, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)
	assert.Equal(t, moved.Hashes["Helpers"], moved.Hash)
	require.Len(t, moved.Hash, 40)

	// Deletions leave nothing to hash.
	del, err := NewDeleteStrategy(remote, pipeScriptID, "Helpers")
	require.NoError(t, err)
	gone, err := m.ExecuteWithGit(ctx, del, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)
	assert.Empty(t, gone.Hash)
}

func TestAiderFuzzyEdit(t *testing.T) {
	ctx := context.Background()
	m, remote, _ := newTestManager(t)

	write, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "function f(){return 1}", "", false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, write, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	aider, err := NewAiderStrategy(remote, pipeScriptID, "Utils",
		[]FuzzyEdit{{SearchText: "return 1", ReplaceText: "return 2", SimilarityThreshold: 0.8}}, "", false)
	require.NoError(t, err)

	res, err := m.ExecuteWithGit(ctx, aider, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.EditsApplied)
	assert.Contains(t, remote.Files(pipeScriptID)[0].Source, "return 2")
	assert.Len(t, res.Hashes["Utils"], 40)
}

func TestStaleHashRejected(t *testing.T) {
	ctx := context.Background()
	m, remote, _ := newTestManager(t)

	write, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "function f(){return 1}", "", false)
	require.NoError(t, err)
	first, err := m.ExecuteWithGit(ctx, write, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)
	staleHash := first.Hashes["Utils"]

	// Move the file forward.
	second, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "function f(){return 2}", "", false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, second, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	remoteBefore := remote.Files(pipeScriptID)

	aider, err := NewAiderStrategy(remote, pipeScriptID, "Utils",
		[]FuzzyEdit{{SearchText: "return 2", ReplaceText: "return 3"}}, staleHash, false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, aider, Request{ScriptID: pipeScriptID})
	require.Error(t, err)

	var se *types.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, types.CodeConflict, se.Code)
	details, ok := se.Details.(types.ConflictDetails)
	require.True(t, ok)
	assert.Equal(t, staleHash, details.ExpectedHash)
	assert.Len(t, details.CurrentHash, 40)
	assert.NotEqual(t, staleHash, details.CurrentHash)

	// Remote untouched by the rejected write.
	assert.Equal(t, remoteBefore, remote.Files(pipeScriptID))
}

func TestRollbackOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	m, remote, cfg := newTestManager(t)

	write, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "function f(){return 1}", "", false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, write, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	localPath := filepath.Join(cfg.ProjectDir(pipeScriptID), "Utils.gs")
	before, err := os.ReadFile(localPath)
	require.NoError(t, err)
	remoteBefore := remote.Files(pipeScriptID)

	remote.FailNextUpdate = types.NewError(types.CodeRemote, "injected failure")
	second, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "function f(){return 99}", "", false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, second, Request{ScriptID: pipeScriptID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rolled back")

	// All three stores unchanged.
	after, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, remoteBefore, remote.Files(pipeScriptID))
}

func TestDryRunTouchesNothing(t *testing.T) {
	ctx := context.Background()
	m, remote, cfg := newTestManager(t)

	strat, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "function f(){}", "", false)
	require.NoError(t, err)
	res, err := m.ExecuteWithGit(ctx, strat, Request{ScriptID: pipeScriptID, DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, "function f(){}", res.Planned["Utils"])
	assert.Empty(t, remote.Files(pipeScriptID))
	_, statErr := os.Stat(filepath.Join(cfg.ProjectDir(pipeScriptID), "Utils.gs"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMoveRejectsExistingDestination(t *testing.T) {
	ctx := context.Background()
	m, remote, _ := newTestManager(t)

	for _, name := range []string{"A", "B"} {
		strat, err := NewWriteStrategy(remote, pipeScriptID, name, "function "+name+"(){}", "", false)
		require.NoError(t, err)
		_, err = m.ExecuteWithGit(ctx, strat, Request{ScriptID: pipeScriptID})
		require.NoError(t, err)
	}

	mv, err := NewMoveStrategy(remote, pipeScriptID, "A", "B")
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, mv, Request{ScriptID: pipeScriptID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination already exists")
}

func TestMoveRenamesLocalAndRemote(t *testing.T) {
	ctx := context.Background()
	m, remote, cfg := newTestManager(t)

	write, err := NewWriteStrategy(remote, pipeScriptID, "Old", "function o(){}", "", false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, write, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	mv, err := NewMoveStrategy(remote, pipeScriptID, "Old", "New")
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, mv, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	files := remote.Files(pipeScriptID)
	require.Len(t, files, 1)
	assert.Equal(t, "New", files[0].Name)

	dir := cfg.ProjectDir(pipeScriptID)
	_, err = os.Stat(filepath.Join(dir, "Old.gs"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "New.gs"))
	assert.NoError(t, err)
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	ctx := context.Background()
	m, remote, cfg := newTestManager(t)

	write, err := NewWriteStrategy(remote, pipeScriptID, "Gone", "function g(){}", "", false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, write, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	del, err := NewDeleteStrategy(remote, pipeScriptID, "Gone")
	require.NoError(t, err)
	res, err := m.ExecuteWithGit(ctx, del, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)
	assert.Equal(t, []string{"Gone"}, res.Deleted)

	assert.Empty(t, remote.Files(pipeScriptID))
	_, err = os.Stat(filepath.Join(cfg.ProjectDir(pipeScriptID), "Gone.gs"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoteOnlyDelete(t *testing.T) {
	ctx := context.Background()
	m, remote, _ := newTestManager(t)

	// File exists only on the Remote (never synced locally).
	remote.Seed(pipeScriptID, []types.File{
		{Name: "RemoteOnly", Kind: types.KindServerScript, Source: "function r(){}"},
	})

	del, err := NewDeleteStrategy(remote, pipeScriptID, "RemoteOnly")
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, del, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)
	assert.Empty(t, remote.Files(pipeScriptID))
}

func TestSessionWorktreeIsolation(t *testing.T) {
	ctx := context.Background()
	m, remote, cfg := newTestManager(t)

	strat, err := NewWriteStrategy(remote, pipeScriptID, "Iso", "function i(){}", "", false)
	require.NoError(t, err)
	res, err := m.ExecuteWithGit(ctx, strat, Request{ScriptID: pipeScriptID, SessionID: "sess1"})
	require.NoError(t, err)

	assert.Equal(t, "session/sess1", res.Branch)
	wt := cfg.WorktreeDir(pipeScriptID, "sess1")
	_, err = os.Stat(filepath.Join(wt, "Iso.gs"))
	assert.NoError(t, err)

	// The persistent repo's working tree does not see the session file.
	_, err = os.Stat(filepath.Join(cfg.ProjectDir(pipeScriptID), "Iso.gs"))
	assert.True(t, os.IsNotExist(err))
}

func TestEditOverlapRejected(t *testing.T) {
	ctx := context.Background()
	m, remote, _ := newTestManager(t)

	write, err := NewWriteStrategy(remote, pipeScriptID, "Utils", "abcdef", "", false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, write, Request{ScriptID: pipeScriptID})
	require.NoError(t, err)

	edit, err := NewEditStrategy(remote, pipeScriptID, "Utils",
		[]Edit{{SearchText: "abcd", ReplaceText: "x"}, {SearchText: "cdef", ReplaceText: "y"}}, "", false)
	require.NoError(t, err)
	_, err = m.ExecuteWithGit(ctx, edit, Request{ScriptID: pipeScriptID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap detected")
}

func TestEditLimitsValidated(t *testing.T) {
	remote := gas.NewFake()

	_, err := NewEditStrategy(remote, pipeScriptID, "Utils", nil, "", false)
	require.Error(t, err)

	many := make([]Edit, MaxEdits+1)
	for i := range many {
		many[i] = Edit{SearchText: "a", ReplaceText: "b"}
	}
	_, err = NewEditStrategy(remote, pipeScriptID, "Utils", many, "", false)
	require.Error(t, err)
}
