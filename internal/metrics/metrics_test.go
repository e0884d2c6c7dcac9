package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollector_FirstCallFallsBackToLoadAverage(t *testing.T) {
	c := NewCollector()
	pct := c.cpuPercent()
	require.GreaterOrEqual(t, pct, 0.0)
	require.True(t, c.hasPrev)
}

func TestCollector_SecondCallComputesFromDelta(t *testing.T) {
	orig := readCPU
	readCPU = func() (cpuSample, error) { return cpuSample{idle: 150, total: 1500}, nil }
	defer func() { readCPU = orig }()

	c := &Collector{prev: cpuSample{idle: 100, total: 1000}, hasPrev: true}
	require.InDelta(t, 90.0, c.cpuPercent(), 0.001)
}
