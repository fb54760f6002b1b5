package worktree

import (
	"context"
	"os/exec"
	"strings"

	"github.com/codexmonitor/daemon/internal/codexerr"
)

// runGit runs git with args in dir, returning trimmed stdout. On failure,
// stderr (trimmed) becomes the error message, per §7: "Git operations
// surface stderr (trimmed) as the error message."
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", codexerr.New(codexerr.KindAgent, "%s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// branchExists reports whether refs/heads/<branch> exists in the repo
// rooted at dir.
func branchExists(ctx context.Context, dir, branch string) bool {
	_, err := runGit(ctx, dir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// remoteTrackingRef returns the first remote (preferring "origin") that has
// a tracking ref for branch, or "" if none does (§4.8 step 3).
func remoteTrackingRef(ctx context.Context, dir, branch string) string {
	remotesOut, err := runGit(ctx, dir, "remote")
	if err != nil {
		return ""
	}
	remotes := strings.Fields(remotesOut)
	ordered := orderRemotesPreferOrigin(remotes)
	for _, remote := range ordered {
		if _, err := runGit(ctx, dir, "rev-parse", "--verify", "--quiet", remote+"/"+branch); err == nil {
			return remote
		}
	}
	return ""
}

func orderRemotesPreferOrigin(remotes []string) []string {
	ordered := make([]string, 0, len(remotes))
	hasOrigin := false
	for _, r := range remotes {
		if r == "origin" {
			hasOrigin = true
			continue
		}
		ordered = append(ordered, r)
	}
	if hasOrigin {
		ordered = append([]string{"origin"}, ordered...)
	}
	return ordered
}

// isNotAWorkingTree reports whether err's message is git's "is not a
// working tree" error, special-cased by §7 to trigger filesystem-only
// cleanup.
func isNotAWorkingTree(err error) bool {
	return err != nil && strings.Contains(err.Error(), "is not a working tree")
}
