// Package tmuxsession drives tmux(1) as the persistent named-session
// backend for terminal streaming (spec §4.2: "terminal sessions survive
// browser disconnect and agent restart"). Every session this package
// creates is named with SessionPrefix so the agent can distinguish its
// own sessions from a user's pre-existing tmux sessions on reconcile.
package tmuxsession

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// SessionPrefix namespaces every session this agent creates or adopts.
const SessionPrefix = "tc2-"

const cmdTimeout = 5 * time.Second

// Info describes one tmux session as reported by list-sessions/list-panes.
type Info struct {
	Name       string
	PID        int
	Width      int
	Height     int
	CurrentCmd string
	CWD        string
	Created    time.Time
}

func run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// SessionName builds the tmux session name for a session id.
func SessionName(id string) string {
	return SessionPrefix + id
}

// Exists reports whether a session is currently alive.
func Exists(ctx context.Context, id string) bool {
	_, err := run(ctx, "has-session", "-t", SessionName(id))
	return err == nil
}

// Create starts a new detached session running the user's shell, sized
// to cols x rows, rooted at cwd (empty means the agent's own cwd).
func Create(ctx context.Context, id string, cols, rows int, cwd string) error {
	args := []string{"new-session", "-d", "-s", SessionName(id), "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows)}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	_, err := run(ctx, args...)
	return err
}

// Resize changes a session's terminal dimensions. Per spec §4.2, callers
// must resize before reading history and force a redraw afterward so the
// remote client's viewport matches what the pane thinks its size is.
func Resize(ctx context.Context, id string, cols, rows int) error {
	_, err := run(ctx, "resize-window", "-t", SessionName(id), "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	return err
}

// ForceRedraw nudges a session to rows+1 then back to rows, causing the
// multiplexer to resend the visible screen. Used ~200ms after attach to
// recover a viewport that went stale while the browser was disconnected.
func ForceRedraw(ctx context.Context, id string, cols, rows int) error {
	if err := Resize(ctx, id, cols, rows+1); err != nil {
		return err
	}
	return Resize(ctx, id, cols, rows)
}

// CapturePane returns the pane's scrollback up to, but excluding, the
// live visible screen (history replay, spec §4.2 bulk-history-then-live
// ordering). -E -1 stops the capture one line above the visible pane, so
// the ForceRedraw that follows can resend the visible screen as live
// output without duplicating any of it into history.
func CapturePane(ctx context.Context, id string, lines int) (string, error) {
	startLine := fmt.Sprintf("-%d", lines)
	out, err := run(ctx, "capture-pane", "-p", "-e", "-t", SessionName(id), "-S", startLine, "-E", "-1")
	if err != nil {
		return "", err
	}
	return out, nil
}

// SendKeys injects raw bytes into the pane as if typed (live input path).
func SendKeys(ctx context.Context, id string, data []byte) error {
	_, err := run(ctx, "send-keys", "-t", SessionName(id), "-l", string(data))
	return err
}

// ScrollCopyMode enters copy-mode (if not already) and scrolls by delta
// lines; negative scrolls up (back in history), positive scrolls down.
// Callers must clamp delta with wire.ClampScrollLines before calling.
func ScrollCopyMode(ctx context.Context, id string, delta int) error {
	if delta == 0 {
		return nil
	}
	if _, err := run(ctx, "copy-mode", "-t", SessionName(id)); err != nil {
		// already in copy-mode is not fatal
	}
	direction := "-U"
	count := delta
	if delta > 0 {
		direction = "-D"
	} else {
		count = -delta
	}
	_, err := run(ctx, "send-keys", "-X", "-N", strconv.Itoa(count), "-t", SessionName(id), copyModeKey(direction))
	return err
}

func copyModeKey(direction string) string {
	if direction == "-U" {
		return "scroll-up"
	}
	return "scroll-down"
}

// Kill destroys a session and its processes.
func Kill(ctx context.Context, id string) error {
	_, err := run(ctx, "kill-session", "-t", SessionName(id))
	return err
}

// List enumerates every session bearing SessionPrefix, used at startup to
// reconcile persisted TerminalRecords against sessions that survived an
// agent restart (spec §4.2: "terminal sessions ... survive agent restart").
func List(ctx context.Context) ([]Info, error) {
	format := "#{session_name}\t#{pane_pid}\t#{pane_width}\t#{pane_height}\t#{pane_current_command}\t#{pane_current_path}\t#{session_created}"
	out, err := run(ctx, "list-panes", "-a", "-F", format)
	if err != nil {
		if strings.Contains(err.Error(), "no server running") || strings.Contains(err.Error(), "no sessions") {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 || !strings.HasPrefix(fields[0], SessionPrefix) {
			continue
		}
		pid, _ := strconv.Atoi(fields[1])
		width, _ := strconv.Atoi(fields[2])
		height, _ := strconv.Atoi(fields[3])
		createdUnix, _ := strconv.ParseInt(fields[6], 10, 64)
		infos = append(infos, Info{
			Name:       fields[0],
			PID:        pid,
			Width:      width,
			Height:     height,
			CurrentCmd: fields[4],
			CWD:        fields[5],
			Created:    time.Unix(createdUnix, 0),
		})
	}
	return infos, nil
}

// IDFromSessionName strips SessionPrefix, or returns ok=false if name is
// not one of this agent's sessions.
func IDFromSessionName(name string) (id string, ok bool) {
	if !strings.HasPrefix(name, SessionPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, SessionPrefix), true
}
