package claudestate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/getfinn/finn/internal/tmuxsession"
)

const processQueryTimeout = 3 * time.Second

// PaneInfo is one reserved-prefix pane as reported by the multiplexer
// batch query (spec §4.3).
type PaneInfo struct {
	SessionName    string
	CurrentCommand string
	CWD            string
	IsActive       bool
	PaneProcessID  int
}

// ListPanes runs the single batch tmux query for every reserved-prefix
// session and returns one PaneInfo per pane.
func ListPanes(ctx context.Context) ([]PaneInfo, error) {
	infos, err := tmuxsession.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list panes: %w", err)
	}
	panes := make([]PaneInfo, 0, len(infos))
	for _, info := range infos {
		panes = append(panes, PaneInfo{
			SessionName:    info.Name,
			CurrentCommand: info.CurrentCmd,
			CWD:            info.CWD,
			IsActive:       true,
			PaneProcessID:  info.PID,
		})
	}
	return panes, nil
}

// DetectClaude decides whether a pane is running Claude: either directly
// (currentCommand matches claude) or as a child of the pane's shell.
func DetectClaude(ctx context.Context, pane PaneInfo) bool {
	if IsClaudeCommand(pane.CurrentCommand) {
		return true
	}
	return anyChildIsClaude(ctx, pane.PaneProcessID)
}

// anyChildIsClaude walks the process tree rooted at pid (one level of
// children, matching the shell-as-foreground-process case) and checks
// each child's command line.
func anyChildIsClaude(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	queryCtx, cancel := context.WithTimeout(ctx, processQueryTimeout)
	defer cancel()

	cmd := exec.CommandContext(queryCtx, "ps", "--ppid", strconv.Itoa(pid), "-o", "cmd=")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return false
	}
	for _, line := range strings.Split(out.String(), "\n") {
		if IsClaudeChild(line) {
			return true
		}
	}
	return false
}
