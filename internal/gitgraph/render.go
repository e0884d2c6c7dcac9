package gitgraph

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
)

// Graph is the fully enriched result the local service surface returns
// for a git-graph pane (spec §4.5).
type Graph struct {
	Branch       string
	PrimaryBranch string
	Status       ChangeCounts
	RefStatus    RemoteStatus
	HTML         string
}

// Build queries branch, status, and commit history in parallel, then
// renders an HTML graph enriched with primary-branch coloring, relative
// timestamps, tag labels, and a local/remote/synced indicator column.
func (r *Repository) Build(ctx context.Context, limit int) (*Graph, error) {
	var (
		branch, primary string
		status          ChangeCounts
		commits         []Commit
		refStatus       RemoteStatus
		errs            [4]error
	)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); branch, errs[0] = r.CurrentBranch(ctx) }()
	go func() { defer wg.Done(); status, errs[1] = r.Status(ctx) }()
	go func() { defer wg.Done(); commits, errs[2] = r.Commits(ctx, limit) }()
	go func() { defer wg.Done(); primary, errs[3] = r.PrimaryBranch(ctx) }()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	refStatus, err := r.RefStatus(ctx, primary)
	if err != nil {
		return nil, err
	}

	return &Graph{
		Branch:        branch,
		PrimaryBranch: primary,
		Status:        status,
		RefStatus:     refStatus,
		HTML:          renderHTML(commits, primary, refStatus),
	}, nil
}

// renderHTML turns the commit list into an HTML graph: one row per
// commit, primary-branch commits colored differently from the rest, a
// relative timestamp after the hash, tag labels, and a leading indicator
// column for the primary ref's sync state.
func renderHTML(commits []Commit, primaryBranch string, refStatus RemoteStatus) string {
	var b strings.Builder
	b.WriteString(`<div class="git-graph">`)
	b.WriteString(fmt.Sprintf(`<div class="git-graph-indicator">%s</div>`, indicatorLabel(refStatus)))

	for _, c := range commits {
		nodeClass := "node-other"
		if isPrimaryBranchCommit(c, primaryBranch) {
			nodeClass = "node-primary"
		}

		b.WriteString(fmt.Sprintf(`<div class="git-graph-row %s">`, nodeClass))
		b.WriteString(fmt.Sprintf(`<span class="hash">%s</span>`, html.EscapeString(shortHash(c.Hash))))
		b.WriteString(fmt.Sprintf(`<span class="age">%s</span>`, relativeAge(c.Timestamp)))
		b.WriteString(fmt.Sprintf(`<span class="subject">%s</span>`, html.EscapeString(c.Subject)))
		for _, ref := range c.Refs {
			b.WriteString(fmt.Sprintf(`<span class="tag">%s</span>`, html.EscapeString(ref)))
		}
		b.WriteString(`</div>`)
	}

	b.WriteString(`</div>`)
	return b.String()
}

func isPrimaryBranchCommit(c Commit, primaryBranch string) bool {
	for _, ref := range c.Refs {
		if ref == primaryBranch {
			return true
		}
	}
	return false
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// relativeAge renders a hash-trailing relative timestamp in the
// 1m/Nm/Nh/Nd form (spec §4.5).
func relativeAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Hour:
		minutes := int(d / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf("%dm", minutes)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
}

func indicatorLabel(s RemoteStatus) string {
	switch {
	case s.HasLocal && s.HasRemote && s.Synced:
		return "synced"
	case s.HasLocal && s.HasRemote:
		return "diverged"
	case s.HasLocal:
		return "local-only"
	case s.HasRemote:
		return "remote-only"
	default:
		return "unknown"
	}
}
