// Package gitgraph drives git(1) to produce the git-graph pane's data:
// status counts, commit history, and a rendered HTML graph (spec §4.5).
package gitgraph

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	commandTimeout = 10 * time.Second
	pushTimeout    = 30 * time.Second
)

// Repository wraps a single working tree.
type Repository struct {
	path string
}

// NewRepository creates a handler rooted at path.
func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	return r.runTimeout(ctx, commandTimeout, args...)
}

func (r *Repository) runTimeout(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.path
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Push runs `git push origin <branch>`, using a longer timeout than
// read-only queries since it's network-bound.
func (r *Repository) Push(ctx context.Context, branch string) error {
	_, err := r.runTimeout(ctx, pushTimeout, "push", "origin", branch)
	return err
}

// IsGitRepo reports whether path contains a .git directory, distinguished
// from a .git file which indicates a worktree rather than a repo root
// (spec §4.5 repository scan rule).
func IsGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}

// CurrentBranch returns the checked-out branch name.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ChangeCounts holds staged/unstaged/untracked file counts.
type ChangeCounts struct {
	Staged    int
	Unstaged  int
	Untracked int
}

// Status computes change counts via git status --porcelain.
func (r *Repository) Status(ctx context.Context) (ChangeCounts, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return ChangeCounts{}, err
	}
	var counts ChangeCounts
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 2 {
			continue
		}
		switch {
		case line[0] == '?' && line[1] == '?':
			counts.Untracked++
		default:
			if line[0] != ' ' {
				counts.Staged++
			}
			if line[1] != ' ' {
				counts.Unstaged++
			}
		}
	}
	return counts, nil
}

// Commit is one entry in the rendered history.
type Commit struct {
	Hash      string
	Subject   string
	Author    string
	Timestamp time.Time
	Refs      []string // branch/tag decorations attached to this commit
}

// Commits retrieves up to limit commits (default 50), newest first.
func (r *Repository) Commits(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 50
	}
	format := "%H\x1f%s\x1f%an\x1f%at\x1f%D"
	out, err := r.run(ctx, "log", fmt.Sprintf("-%d", limit), fmt.Sprintf("--format=%s", format))
	if err != nil {
		return nil, err
	}
	return parseCommits(out), nil
}

func parseCommits(output string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\x1f")
		if len(fields) != 5 {
			continue
		}
		ts, _ := strconv.ParseInt(fields[3], 10, 64)
		var refs []string
		if fields[4] != "" {
			for _, ref := range strings.Split(fields[4], ", ") {
				ref = strings.TrimSpace(ref)
				ref = strings.TrimPrefix(ref, "HEAD -> ")
				ref = strings.TrimPrefix(ref, "tag: ")
				if ref != "" {
					refs = append(refs, ref)
				}
			}
		}
		commits = append(commits, Commit{
			Hash:      fields[0],
			Subject:   fields[1],
			Author:    fields[2],
			Timestamp: time.Unix(ts, 0),
			Refs:      refs,
		})
	}
	return commits
}

// RemoteStatus describes a primary ref's local/remote/synced state, used
// for the graph's leading indicator column.
type RemoteStatus struct {
	HasLocal  bool
	HasRemote bool
	Synced    bool
}

// RefStatus reports the local/remote/synced status of branch.
func (r *Repository) RefStatus(ctx context.Context, branch string) (RemoteStatus, error) {
	var status RemoteStatus
	if _, err := r.run(ctx, "rev-parse", "--verify", branch); err == nil {
		status.HasLocal = true
	}
	remoteRef := "origin/" + branch
	if _, err := r.run(ctx, "rev-parse", "--verify", remoteRef); err == nil {
		status.HasRemote = true
	}
	if status.HasLocal && status.HasRemote {
		localHash, errL := r.run(ctx, "rev-parse", branch)
		remoteHash, errR := r.run(ctx, "rev-parse", remoteRef)
		status.Synced = errL == nil && errR == nil && strings.TrimSpace(localHash) == strings.TrimSpace(remoteHash)
	}
	return status, nil
}
