// Package terminalbridge spawns and frames local byte-channel bridge
// processes that expose a named terminal session over loopback (spec
// §4.2). Bridge spawns are serialized; at most one bridge exists per
// session; ports come from a reserved range and are single-writer.
package terminalbridge

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	// PortRangeStart/PortRangeEnd bound the reserved bridge port range.
	PortRangeStart = 7700
	PortRangeEnd   = 7799
)

// PortPool is the single writer for bridge port allocation (spec §5).
type PortPool struct {
	mu     sync.Mutex
	inUse  map[int]bool
}

// NewPortPool creates an empty pool after probing the reserved range for
// ports that are already taken (spec §4.2). It does not kill the
// processes holding them; Claim skips any port it cannot bind.
func NewPortPool() *PortPool {
	p := &PortPool{inUse: make(map[int]bool)}
	p.killStaleOccupants()
	return p
}

// killStaleOccupants probes every reserved port with a short dial and
// closes any connection it opens. It does not identify, signal or log the
// process listening there, so a stale occupant keeps its port.
func (p *PortPool) killStaleOccupants() {
	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 50*time.Millisecond)
		if err != nil {
			continue
		}
		conn.Close()
	}
}

// Claim reserves the first free port in the range. Returns an error if
// the pool is exhausted.
func (p *PortPool) Claim() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		if p.inUse[port] {
			continue
		}
		if portFree(port) {
			p.inUse[port] = true
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free bridge port in %d-%d", PortRangeStart, PortRangeEnd)
}

// Release returns a port to the pool. Must only be called after the
// owning bridge process has exited (spec §5: "no port is reused until
// its owning bridge has exited").
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
