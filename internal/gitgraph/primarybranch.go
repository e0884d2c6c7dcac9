package gitgraph

import (
	"context"
	"strings"
)

// PrimaryBranch resolves the repository's primary branch deterministically:
// prefer "main", then "master", then the branch refs/remotes/origin/HEAD
// points to, then the checked-out branch. Exactly one of these is chosen and the choice
// is never revisited mid-render, so node coloring stays stable across a
// single graph build.
func (r *Repository) PrimaryBranch(ctx context.Context) (string, error) {
	for _, candidate := range []string{"main", "master"} {
		if _, err := r.run(ctx, "rev-parse", "--verify", candidate); err == nil {
			return candidate, nil
		}
	}

	out, err := r.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		trimmed := strings.TrimSpace(out)
		const prefix = "refs/remotes/origin/"
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimPrefix(trimmed, prefix), nil
		}
	}

	return r.CurrentBranch(ctx)
}
