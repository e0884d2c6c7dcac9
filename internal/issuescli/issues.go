// Package issuescli proxies an external issue-tracker CLI (spec §4.5).
// Every id crossing this boundary is strictly validated before it ever
// reaches a shelled-out command.
package issuescli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

const (
	listTimeout   = 10 * time.Second
	createTimeout = 15 * time.Second
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether id is safe to interpolate into a CLI argument.
func ValidID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}

// Priority ∈ {0..4}; 0 is highest.
type Priority int

// IssueType is one of the accepted creation types.
type IssueType string

const (
	IssueTask    IssueType = "task"
	IssueBug     IssueType = "bug"
	IssueFeature IssueType = "feature"
)

// CreateRequest is the validated payload for issue creation.
type CreateRequest struct {
	Title    string    `json:"title"`
	Type     IssueType `json:"type"`
	Priority Priority  `json:"priority"`
}

// Validate checks a creation payload against spec §4.5's contract.
func (r CreateRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	switch r.Type {
	case IssueTask, IssueBug, IssueFeature, "":
	default:
		return fmt.Errorf("invalid type %q", r.Type)
	}
	if r.Priority < 0 || r.Priority > 4 {
		return fmt.Errorf("priority must be 0..4, got %d", r.Priority)
	}
	return nil
}

// Issue is one issue as reported by the external CLI's JSON output.
type Issue struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Type     IssueType `json:"type"`
	Priority Priority  `json:"priority"`
	Status   string    `json:"status"`
}

// Client shells out to Command (default "beads") for every operation.
type Client struct {
	Command string
	Dir     string
}

// NewClient creates a client rooted at dir, using the default CLI binary.
func NewClient(dir string) *Client {
	return &Client{Command: "beads", Dir: dir}
}

func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %v: %w: %s", c.Command, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// List returns all issues.
func (c *Client) List(ctx context.Context) ([]Issue, error) {
	out, err := c.run(ctx, listTimeout, "list", "--json")
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parse issue list: %w", err)
	}
	return issues, nil
}

// Get fetches a single issue by id.
func (c *Client) Get(ctx context.Context, id string) (*Issue, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("invalid issue id %q", id)
	}
	out, err := c.run(ctx, listTimeout, "show", id, "--json")
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, fmt.Errorf("parse issue: %w", err)
	}
	return &issue, nil
}

// Create opens a new issue.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Issue, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	args := []string{"create", req.Title, "--json"}
	if req.Type != "" {
		args = append(args, "--type", string(req.Type))
	}
	args = append(args, "--priority", fmt.Sprintf("%d", req.Priority))

	out, err := c.run(ctx, createTimeout, args...)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, fmt.Errorf("parse created issue: %w", err)
	}
	return &issue, nil
}
