package tmuxsession

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionNameRoundTrip(t *testing.T) {
	name := SessionName("abc-123")
	require.Equal(t, "tc2-abc-123", name)

	id, ok := IDFromSessionName(name)
	require.True(t, ok)
	require.Equal(t, "abc-123", id)
}

func TestIDFromSessionName_RejectsForeignSessions(t *testing.T) {
	_, ok := IDFromSessionName("some-other-tool-session")
	require.False(t, ok)
}

func TestCopyModeKey(t *testing.T) {
	require.Equal(t, "scroll-up", copyModeKey("-U"))
	require.Equal(t, "scroll-down", copyModeKey("-D"))
}
