package claudestate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_PermissionOutranksEverything(t *testing.T) {
	pane := "Do you want to proceed?\n1. No\n2. Yes, proceed\nesc to interrupt"
	require.Equal(t, StatePermission, Classify(pane))
}

func TestClassify_Question(t *testing.T) {
	pane := "Select an option\n↑/↓ to navigate\nPress Enter to confirm"
	require.Equal(t, StateQuestion, Classify(pane))
}

func TestClassify_Working(t *testing.T) {
	pane := "Thinking...\n(esc to interrupt)"
	require.Equal(t, StateWorking, Classify(pane))
}

func TestClassify_IdlePrompt(t *testing.T) {
	pane := "done.\n❯ "
	require.Equal(t, StateIdle, Classify(pane))
}

func TestClassify_IdlePromptRejectsNumberedLine(t *testing.T) {
	pane := "❯ 1) do a thing"
	require.Equal(t, StateWorking, Classify(pane))
}

func TestClassify_IdleSplash(t *testing.T) {
	pane := "⏵⏵ bypass permissions"
	require.Equal(t, StateIdle, Classify(pane))
}

func TestClassify_DefaultWorking(t *testing.T) {
	require.Equal(t, StateWorking, Classify("some ordinary output"))
}

func TestIsClaudeCommand(t *testing.T) {
	require.True(t, IsClaudeCommand("claude"))
	require.True(t, IsClaudeCommand("Claude"))
	require.False(t, IsClaudeCommand("zsh"))
}
