package tier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExceedsLimit_FreeTierTerminalPanes(t *testing.T) {
	require.True(t, ExceedsLimit(TierFree, PaneTerminal, 7))
	require.False(t, ExceedsLimit(TierFree, PaneTerminal, 2))
}

func TestExceedsLimit_PowerUserEffectivelyUnbounded(t *testing.T) {
	require.False(t, ExceedsLimit(TierPowerUser, PaneTerminal, 10000))
}

func TestCreationPathsMapsKnownRoutes(t *testing.T) {
	require.Equal(t, PaneTerminal, CreationPaths["/api/terminals"])
	require.Equal(t, PaneIframe, CreationPaths["/api/iframes"])
	_, ok := CreationPaths["/api/folder-panes"]
	require.False(t, ok)
}

func TestLimit_UnknownTierFallsBackToFree(t *testing.T) {
	require.Equal(t, Limit(TierFree, PaneNote), Limit(Tier("bogus"), PaneNote))
}
