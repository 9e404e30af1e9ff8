// Package workspace owns the local side of every mutation: the git
// runner, repository bootstrap, and the resolver that maps a scriptId
// (plus optional session) to a concrete working directory.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/types"
)

// allowedSubcommands is the allow-list of git subcommands the daemon
// may spawn. Everything runs as an argument vector, never a shell
// string.
var allowedSubcommands = map[string]bool{
	"init":         true,
	"add":          true,
	"rm":           true,
	"reset":        true,
	"status":       true,
	"diff":         true,
	"commit":       true,
	"checkout":     true,
	"branch":       true,
	"rev-parse":    true,
	"symbolic-ref": true,
	"worktree":     true,
	"hash-object":  true,
	"log":          true,
	"config":       true,
}

// Runner executes allow-listed git subcommands in a working directory.
type Runner struct{}

// NewRunner returns a git runner.
func NewRunner() *Runner { return &Runner{} }

// Run executes `git <args...>` in dir and returns trimmed stdout.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("git: empty argument list")
	}
	if !allowedSubcommands[args[0]] {
		return "", types.NewError(types.CodeFatal,
			fmt.Sprintf("git subcommand %q is not allow-listed", args[0]))
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	debug.Logf("git %s (in %s)", strings.Join(args, " "), dir)
	if err := cmd.Run(); err != nil {
		return "", types.NewError(types.CodeGit,
			fmt.Sprintf("git %s failed: %v: %s", args[0], err, strings.TrimSpace(stderr.String())))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunOK is Run for callers that only care about success.
func (r *Runner) RunOK(ctx context.Context, dir string, args ...string) error {
	_, err := r.Run(ctx, dir, args...)
	return err
}
