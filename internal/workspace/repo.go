package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gasops/gasd/internal/debug"
)

// EnsureRepo makes dir a usable git repository: init when absent, and
// a .gitkeep plus initial commit so index operations are valid from
// the first write.
func (r *Runner) EnsureRepo(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if err := r.RunOK(ctx, dir, "init", "--quiet"); err != nil {
			return err
		}
		// Local identity so commits work on machines without global config.
		_ = r.RunOK(ctx, dir, "config", "user.email", "gasd@localhost")
		_ = r.RunOK(ctx, dir, "config", "user.name", "gasd")
	}

	if !r.HasCommits(ctx, dir) {
		keep := filepath.Join(dir, ".gitkeep")
		if _, err := os.Stat(keep); os.IsNotExist(err) {
			if err := os.WriteFile(keep, nil, 0o644); err != nil {
				return fmt.Errorf("failed to create .gitkeep: %w", err)
			}
		}
		if err := r.RunOK(ctx, dir, "add", "--", ".gitkeep"); err != nil {
			return err
		}
		if err := r.RunOK(ctx, dir, "commit", "--quiet", "-m", "Initialize project repository"); err != nil {
			return err
		}
	}
	return nil
}

// HasCommits reports whether HEAD resolves to a commit.
func (r *Runner) HasCommits(ctx context.Context, dir string) bool {
	_, err := r.Run(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD")
	return err == nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Runner) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := r.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return out, nil
}

// HeadSHA returns the commit id of HEAD, or "" for an unborn branch.
func (r *Runner) HeadSHA(ctx context.Context, dir string) string {
	out, err := r.Run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// Stage runs `git add --` on the given paths (relative to dir).
func (r *Runner) Stage(ctx context.Context, dir string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	return r.RunOK(ctx, dir, args...)
}

// StageAll stages every change in the working tree.
func (r *Runner) StageAll(ctx context.Context, dir string) error {
	return r.RunOK(ctx, dir, "add", "-A")
}

// Unstage removes paths from the index. With commits present this is
// `reset HEAD --`; on an unborn branch it falls back to
// `rm --cached --`.
func (r *Runner) Unstage(ctx context.Context, dir string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if r.HasCommits(ctx, dir) {
		args := append([]string{"reset", "--quiet", "HEAD", "--"}, paths...)
		return r.RunOK(ctx, dir, args...)
	}
	args := append([]string{"rm", "--cached", "--quiet", "--ignore-unmatch", "--"}, paths...)
	return r.RunOK(ctx, dir, args...)
}

// StagedFiles lists paths currently staged (diff --cached --name-only).
func (r *Runner) StagedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := r.Run(ctx, dir, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// UncommittedCount counts entries from `git status --porcelain`:
// staged, modified, and untracked alike.
func (r *Runner) UncommittedCount(ctx context.Context, dir string) (int, error) {
	out, err := r.Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	return len(strings.Split(out, "\n")), nil
}

// Commit records staged changes with the given message. Returns false
// when there was nothing to commit.
func (r *Runner) Commit(ctx context.Context, dir, message string) (bool, error) {
	staged, err := r.StagedFiles(ctx, dir)
	if err != nil {
		return false, err
	}
	if len(staged) == 0 {
		return false, nil
	}
	if err := r.RunOK(ctx, dir, "commit", "--quiet", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// ResetHard resets the working tree to the given commit.
func (r *Runner) ResetHard(ctx context.Context, dir, sha string) error {
	return r.RunOK(ctx, dir, "reset", "--hard", "--quiet", sha)
}

// EnsureFeatureBranch keeps the persistent repo on an llm-feature-*
// branch. An existing llm-feature branch is kept; anything else gets a
// fresh llm-feature-<timestamp> checked out.
func (r *Runner) EnsureFeatureBranch(ctx context.Context, dir string, now int64) (string, error) {
	branch, err := r.CurrentBranch(ctx, dir)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(branch, "llm-feature-") {
		return branch, nil
	}
	name := "llm-feature-" + strconv.FormatInt(now, 10)
	if err := r.RunOK(ctx, dir, "checkout", "--quiet", "-b", name); err != nil {
		return "", err
	}
	debug.Logf("created feature branch %s in %s", name, dir)
	return name, nil
}
