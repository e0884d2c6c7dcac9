// Package claudestate detects whether a terminal's foreground process is
// the Claude CLI and classifies its current state by scraping the visible
// pane (spec §4.3). Classify itself is a pure function over captured pane
// text; the Detector's poll pass captures each Claude pane with its own
// tmux call and checks child processes with ps.
package claudestate

import (
	"regexp"
	"strings"
)

// State is the reported classification for a Claude-occupied terminal.
type State string

const (
	StateIdle       State = "idle"
	StateWorking    State = "working"
	StatePermission State = "permission"
	StateQuestion   State = "question"
)

var (
	claudeCommandRe = regexp.MustCompile(`(?i)^claude$`)
	childClaudeRe   = regexp.MustCompile(`(?i)claude`)

	permissionRe = regexp.MustCompile(`(?m)^\s*2\.\s+Yes,\s`)

	questionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*Press Enter`),
		regexp.MustCompile(`(?i)Enter to select`),
		regexp.MustCompile(`↑/↓ to navigate`),
		regexp.MustCompile(`(?i)Esc to cancel`),
		regexp.MustCompile(`(?i)\[use arrows`),
	}

	workingInterruptRe = regexp.MustCompile(`(?i)esc to interrupt`)
	// RE2 has no negative lookahead; (?:[^\d]|$) after the required
	// whitespace approximates "not followed by a digit".
	idlePromptRe = regexp.MustCompile(`(?m)^❯[\s\x{00a0}](?:[^\d]|$)`)
	idleSplashRe = regexp.MustCompile(`(?i)⏵⏵\s*bypass permissions`)
)

// IsClaudeCommand reports whether a pane's reported foreground command is
// the Claude CLI itself (step 1 of process-tree detection).
func IsClaudeCommand(currentCommand string) bool {
	return claudeCommandRe.MatchString(strings.TrimSpace(currentCommand))
}

// IsClaudeChild reports whether a child process command line looks like
// Claude, used when the shell (not Claude) is the reported foreground
// process (spec: "handles platforms where the shell reports as the
// foreground process").
func IsClaudeChild(childCmdline string) bool {
	return childClaudeRe.MatchString(childCmdline)
}

// lastNonBlankLines returns up to n trailing non-blank lines of text, in
// original order.
func lastNonBlankLines(text string, n int) []string {
	all := strings.Split(text, "\n")
	var nonBlank []string
	for _, l := range all {
		if strings.TrimSpace(l) != "" {
			nonBlank = append(nonBlank, l)
		}
	}
	if len(nonBlank) > n {
		nonBlank = nonBlank[len(nonBlank)-n:]
	}
	return nonBlank
}

// Classify applies the five-step classifier (spec §4.3) to a captured
// pane. The step order is significant: permission outranks question,
// question outranks the interrupt-hint working signal, and so on.
func Classify(paneText string) State {
	lines := lastNonBlankLines(paneText, 20)
	window := strings.Join(lines, "\n")

	if permissionRe.MatchString(window) {
		return StatePermission
	}
	for _, re := range questionRes {
		if re.MatchString(window) {
			return StateQuestion
		}
	}
	if workingInterruptRe.MatchString(window) {
		return StateWorking
	}
	if idlePromptRe.MatchString(window) || idleSplashRe.MatchString(window) {
		return StateIdle
	}
	return StateWorking
}
