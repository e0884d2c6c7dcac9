package termstream

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getfinn/finn/internal/terminalbridge"
)

// TestReadLoop_BuffersDuringCaptureThenFlushesInOrder exercises the core
// ordering invariant (spec §4.2 steps 2-6) without spawning a real bridge:
// bytes arriving while capturing is true must be buffered, then delivered
// in the order received once flushPending runs, and never delivered twice.
func TestReadLoop_BuffersDuringCaptureThenFlushesInOrder(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	term := &terminal{id: "t1", generation: 1, conn: clientConn, capturing: true}

	var mu sync.Mutex
	var delivered [][]byte
	term.onOutput = func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, append([]byte(nil), data...))
	}

	p := &Pipeline{bridges: &terminalbridge.Manager{}, terminals: map[string]*terminal{"t1": term}}

	go p.readLoop(term, clientConn, 1)

	writeOutput(t, serverConn, "A")
	writeOutput(t, serverConn, "B")

	require.Eventually(t, func() bool {
		term.mu.Lock()
		defer term.mu.Unlock()
		return len(term.pending) == 2
	}, time.Second, 5*time.Millisecond)

	p.flushPending(term, 1)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "A", string(delivered[0]))
	require.Equal(t, "B", string(delivered[1]))
}

// TestReadLoop_StaleGenerationNeverDelivers verifies the stale-close
// guard: a read loop tagged with an old generation must not touch a
// terminal's pending buffer or invoke its callbacks once a newer attach
// has bumped the generation (spec §9).
func TestReadLoop_StaleGenerationNeverDelivers(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	term := &terminal{id: "t1", generation: 2, conn: clientConn, capturing: true}

	called := false
	term.onOutput = func(data []byte) { called = true }

	p := &Pipeline{bridges: &terminalbridge.Manager{}, terminals: map[string]*terminal{"t1": term}}

	// readLoop is running with generation 1, but the terminal has already
	// moved to generation 2 (a newer attach happened).
	go p.readLoop(term, clientConn, 1)

	writeOutput(t, serverConn, "stale")
	time.Sleep(50 * time.Millisecond)

	term.mu.Lock()
	defer term.mu.Unlock()
	require.False(t, called)
	require.Empty(t, term.pending)
}

func writeOutput(t *testing.T, conn net.Conn, payload string) {
	t.Helper()
	frame := append([]byte{terminalbridge.RecordOutput}, []byte(payload)...)
	_, err := conn.Write(frame)
	require.NoError(t, err)
}
