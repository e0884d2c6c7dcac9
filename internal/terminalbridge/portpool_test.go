package terminalbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortPool_ClaimIsUniqueUntilReleased(t *testing.T) {
	p := &PortPool{inUse: make(map[int]bool)}

	a, err := p.Claim()
	require.NoError(t, err)
	b, err := p.Claim()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	p.Release(a)
	require.False(t, p.inUse[a])
	require.True(t, p.inUse[b])
}
