package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gasops/gasd/internal/config"
	"github.com/gasops/gasd/internal/debug"
)

// Resolved is the outcome of path resolution: where a mutation's local
// writes go and which branch they land on.
type Resolved struct {
	Dir     string
	Branch  string
	Session string // empty for the persistent repo
}

// Resolver maps (scriptId, optional session) to a working directory.
// Persistent repos live under <root>/gas-repos/project-<id>; session
// worktrees under <root>/.mcp-gas/worktrees/<id>/<session> on branch
// session/<session>, created lazily and never auto-deleted.
type Resolver struct {
	cfg *config.Config
	git *Runner
}

// NewResolver builds a resolver over the configured state layout.
func NewResolver(cfg *config.Config, git *Runner) *Resolver {
	return &Resolver{cfg: cfg, git: git}
}

// Resolve returns the working directory for a mutation, creating the
// repository (and session worktree) as needed.
func (rs *Resolver) Resolve(ctx context.Context, scriptID, sessionID string) (*Resolved, error) {
	projectDir := rs.cfg.ProjectDir(scriptID)
	if err := rs.git.EnsureRepo(ctx, projectDir); err != nil {
		return nil, err
	}

	if sessionID == "" {
		branch, err := rs.git.EnsureFeatureBranch(ctx, projectDir, time.Now().Unix())
		if err != nil {
			return nil, err
		}
		return &Resolved{Dir: projectDir, Branch: branch}, nil
	}
	return rs.resolveSession(ctx, scriptID, sessionID, projectDir)
}

// resolveSession returns the session worktree, creating it on first
// write for the session.
func (rs *Resolver) resolveSession(ctx context.Context, scriptID, sessionID, projectDir string) (*Resolved, error) {
	wtDir := rs.cfg.WorktreeDir(scriptID, sessionID)
	branch := "session/" + sessionID

	if _, err := os.Stat(filepath.Join(wtDir, ".git")); err == nil {
		current, err := rs.git.CurrentBranch(ctx, wtDir)
		if err != nil {
			return nil, err
		}
		if current != branch {
			debug.Warnf("session worktree %s is on %s, expected %s", wtDir, current, branch)
		}
		return &Resolved{Dir: wtDir, Branch: current, Session: sessionID}, nil
	}

	if err := os.MkdirAll(filepath.Dir(wtDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktree parent: %w", err)
	}
	if err := rs.git.RunOK(ctx, projectDir, "worktree", "add", "--quiet", "-b", branch, wtDir); err != nil {
		// Branch may survive a deleted worktree; reattach rather than fail.
		if strings.Contains(err.Error(), "already exists") {
			if err := rs.git.RunOK(ctx, projectDir, "worktree", "add", "--quiet", wtDir, branch); err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	debug.Logf("created session worktree %s on %s", wtDir, branch)
	return &Resolved{Dir: wtDir, Branch: branch, Session: sessionID}, nil
}

// ProjectDir exposes the persistent repo path for read-side tools.
func (rs *Resolver) ProjectDir(scriptID string) string {
	return rs.cfg.ProjectDir(scriptID)
}
