package claudestate

import (
	"context"
	"log"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/getfinn/finn/internal/tmuxsession"
)

const (
	pollInterval    = 2 * time.Second
	metricsInterval = 5 * time.Second
	slowPassLog     = 500 * time.Millisecond
)

// TerminalClaudeState is one terminal's reported detection result
// (spec §4.3, the CLAUDE_STATES payload shape).
type TerminalClaudeState struct {
	TerminalID   string `json:"terminalId"`
	IsClaude     bool   `json:"isClaude"`
	State        State  `json:"state,omitempty"`
	LocationName string `json:"locationName,omitempty"`
}

// Detector owns the correlator/namer caches and runs the non-reentrant
// poll loop (spec §4.3).
type Detector struct {
	correlator *SessionCorrelator
	namer      *SessionNamer

	running atomic.Bool
	last    map[string]TerminalClaudeState
}

// NewDetector creates a Detector with fresh caches.
func NewDetector() *Detector {
	return &Detector{
		correlator: NewSessionCorrelator(),
		namer:      NewSessionNamer(),
		last:       make(map[string]TerminalClaudeState),
	}
}

// Poll runs one detection pass over every reserved-prefix pane. Returns
// nil if a previous pass is still running (non-reentrant).
func (d *Detector) Poll(ctx context.Context) []TerminalClaudeState {
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	defer d.running.Store(false)

	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > slowPassLog {
			log.Printf("claudestate: poll pass took %s", elapsed)
		}
	}()

	panes, err := ListPanes(ctx)
	if err != nil {
		log.Printf("claudestate: list panes failed: %v", err)
		return nil
	}

	states := make([]TerminalClaudeState, 0, len(panes))
	for _, pane := range panes {
		terminalID, ok := tmuxsession.IDFromSessionName(pane.SessionName)
		if !ok {
			continue
		}

		state := TerminalClaudeState{TerminalID: terminalID}
		if DetectClaude(ctx, pane) {
			state.IsClaude = true
			// Classify scrapes the visible screen, which
			// tmuxsession.CapturePane excludes; capture it directly.
			capCtx, cancel := context.WithTimeout(ctx, processQueryTimeout)
			paneText, err := exec.CommandContext(capCtx, "tmux", "capture-pane", "-p", "-t", pane.SessionName).Output()
			cancel()
			if err == nil {
				state.State = Classify(string(paneText))
			}
			if sessionID := d.correlator.Resolve(pane.PaneProcessID); sessionID != "" {
				state.LocationName = d.namer.Resolve(sessionID, pane.CWD)
			}
		}
		states = append(states, state)
	}
	return states
}

// Changed reports whether any terminal's {isClaude, state, locationName}
// differs from the last reported snapshot, and updates that snapshot.
func (d *Detector) Changed(states []TerminalClaudeState) bool {
	changed := false
	seen := make(map[string]bool, len(states))
	for _, s := range states {
		seen[s.TerminalID] = true
		if prev, ok := d.last[s.TerminalID]; !ok || prev != s {
			changed = true
		}
	}
	if len(seen) != len(d.last) {
		changed = true
	}

	next := make(map[string]TerminalClaudeState, len(states))
	for _, s := range states {
		next[s.TerminalID] = s
	}
	d.last = next

	return changed
}

// RunPushLoop polls every pollInterval and invokes push with the new
// snapshot whenever Changed reports a difference. Runs until ctx is
// cancelled (spec: "graceful agent shutdown ... stops all poll loops").
func (d *Detector) RunPushLoop(ctx context.Context, push func([]TerminalClaudeState)) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			states := d.Poll(ctx)
			if states == nil {
				continue
			}
			if d.Changed(states) {
				push(states)
			}
		}
	}
}
