// Package termstream implements the attach/history/live/detach pipeline
// that binds a browser viewport to a persistent named terminal session
// (spec §4.2). It owns the ordering invariant that makes a unidirectional
// transport safe to replay scrollback over: history must reach the
// browser before any live byte captured after the attach instant.
package termstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/getfinn/finn/internal/terminalbridge"
	"github.com/getfinn/finn/internal/tmuxsession"
)

const forceRedrawDelay = 200 * time.Millisecond

// OutputFunc delivers a TERMINAL_OUTPUT chunk (already the raw bytes the
// bridge produced; callers base64-encode at the wire boundary).
type OutputFunc func(data []byte)

// ClosedFunc is invoked when a terminal's bridge connection ends,
// independent of whether the browser requested the close.
type ClosedFunc func()

// terminal is the live state for one attached terminal id. The bridge
// connection holds only the terminal id; the terminal holds the emitter
// (spec §9: "the bridge holds a terminal id only, not a back-pointer").
type terminal struct {
	mu         sync.Mutex
	id         string
	generation int // bumped on every new attach; guards stale-close delivery
	conn       net.Conn
	onOutput   OutputFunc
	onClosed   ClosedFunc
	capturing  bool
	pending    [][]byte // buffered output while history capture is in flight
	attaching  chan struct{} // non-nil while an attach is in flight; closed on completion
}

// Pipeline is the process-wide registry of attached terminals (spec §9:
// "global mutable state ... each has a single owner module").
type Pipeline struct {
	bridges *terminalbridge.Manager

	mu        sync.Mutex
	terminals map[string]*terminal
}

// New creates a pipeline that spawns bridges through the given manager.
func New(bridges *terminalbridge.Manager) *Pipeline {
	return &Pipeline{bridges: bridges, terminals: make(map[string]*terminal)}
}

func (p *Pipeline) get(id string) *terminal {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.terminals[id]
	if !ok {
		t = &terminal{id: id}
		p.terminals[id] = t
	}
	return t
}

// AttachResult is returned to the caller once the attach protocol's
// synchronous portion (steps 1-5) completes. Flush must be called only
// after the caller has sent TERMINAL_HISTORY and TERMINAL_ATTACHED
// (steps 5-6): it releases any output the bridge produced while history
// was being captured, and it is the only thing that can reorder
// TERMINAL_OUTPUT ahead of history if called too early.
type AttachResult struct {
	History []byte // CRLF-normalized, ready to base64-encode as TERMINAL_HISTORY
	Cols    int
	Rows    int
	Flush   func()
}

// Attach runs the full attach protocol (spec §4.2 steps 1-7). Concurrent
// Attach calls for the same id coalesce: the second caller blocks until
// the first attach finishes and then takes the reattach path on the same
// bridge connection, a resize plus a fresh history capture (spec
// invariant 4).
func (p *Pipeline) Attach(ctx context.Context, id string, cols, rows int, onOutput OutputFunc, onClosed ClosedFunc) (*AttachResult, error) {
	t := p.get(id)

	t.mu.Lock()
	if t.attaching != nil {
		waitCh := t.attaching
		t.mu.Unlock()
		<-waitCh
		return p.reuseAttach(t, cols, rows)
	}
	if t.conn != nil {
		// Already attached: reuse the existing bridge connection (step 1).
		result, err := p.reuseAttach(t, cols, rows)
		t.mu.Unlock()
		return result, err
	}
	t.attaching = make(chan struct{})
	attaching := t.attaching
	t.mu.Unlock()

	result, err := p.doAttach(ctx, t, cols, rows, onOutput, onClosed)

	t.mu.Lock()
	t.attaching = nil
	t.mu.Unlock()
	close(attaching)

	return result, err
}

// reuseAttach handles step 1's "already attached" branch: the session is
// resized and a fresh history snapshot is captured, but no new bridge
// connection is opened.
func (p *Pipeline) reuseAttach(t *terminal, cols, rows int) (*AttachResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tmuxsession.Resize(ctx, t.id, cols, rows); err != nil {
		return nil, fmt.Errorf("resize on reattach: %w", err)
	}
	history, err := captureHistory(ctx, t.id)
	if err != nil {
		return nil, fmt.Errorf("capture history on reattach: %w", err)
	}

	scheduleForceRedraw(t.id, cols, rows)
	return &AttachResult{History: history, Cols: cols, Rows: rows, Flush: func() {}}, nil
}

func (p *Pipeline) doAttach(ctx context.Context, t *terminal, cols, rows int, onOutput OutputFunc, onClosed ClosedFunc) (*AttachResult, error) {
	if !tmuxsession.Exists(ctx, t.id) {
		if err := tmuxsession.Create(ctx, t.id, cols, rows, ""); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	bridge, err := p.bridges.Spawn(ctx, t.id)
	if err != nil {
		return nil, fmt.Errorf("spawn bridge: %w", err)
	}

	conn, err := terminalbridge.Connect(ctx, bridge)
	if err != nil {
		return nil, fmt.Errorf("connect bridge: %w", err)
	}

	t.mu.Lock()
	t.generation++
	generation := t.generation
	t.conn = conn
	t.onOutput = onOutput
	t.onClosed = onClosed
	t.capturing = true // step 2: pending-output buffer active
	t.pending = nil
	t.mu.Unlock()

	go p.readLoop(t, conn, generation)

	// Step 3: resize before capturing history.
	if err := tmuxsession.Resize(ctx, t.id, cols, rows); err != nil {
		return nil, fmt.Errorf("resize before capture: %w", err)
	}

	// Step 4: capture history.
	history, err := captureHistory(ctx, t.id)
	if err != nil {
		return nil, fmt.Errorf("capture history: %w", err)
	}

	// Steps 5-7 are the caller's to sequence: send TERMINAL_HISTORY, then
	// TERMINAL_ATTACHED, then call Flush to release buffered output and
	// schedule the force-redraw nudge. Flushing here, before the caller
	// has sent those two frames, would let TERMINAL_OUTPUT reach the
	// browser first.
	flush := func() {
		p.flushPending(t, generation)
		scheduleForceRedraw(t.id, cols, rows)
	}

	return &AttachResult{History: history, Cols: cols, Rows: rows, Flush: flush}, nil
}

// captureHistory pulls scrollback up to the visible screen and normalizes
// newlines to CRLF (spec step 4). tmux capture-pane already returns
// scrollback above the live screen when given a negative start line; we
// request a generous window since the multiplexer clamps to what exists.
func captureHistory(ctx context.Context, id string) ([]byte, error) {
	const historyLines = 2000
	raw, err := tmuxsession.CapturePane(ctx, id, historyLines)
	if err != nil {
		return nil, err
	}
	normalized := strings.ReplaceAll(strings.ReplaceAll(raw, "\r\n", "\n"), "\n", "\r\n")
	return []byte(normalized), nil
}

func scheduleForceRedraw(id string, cols, rows int) {
	time.AfterFunc(forceRedrawDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tmuxsession.ForceRedraw(ctx, id, cols, rows); err != nil {
			log.Printf("termstream: force-redraw failed for %s: %v", id, err)
		}
	})
}

// readLoop pumps bridge output. While capturing is true, bytes are
// buffered (step 2); once flushed, bytes go straight to onOutput. The
// generation check is the stale-close guard (spec §9): a read loop
// started by an earlier attach must never deliver to a newer attach's
// callbacks, and must never fire onClosed for a connection that is no
// longer the current one.
func (p *Pipeline) readLoop(t *terminal, conn net.Conn, generation int) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data, ok := terminalbridge.DecodeOutput(buf[:n])
			if ok {
				chunk := append([]byte(nil), data...)
				t.mu.Lock()
				if t.generation == generation {
					if t.capturing {
						t.pending = append(t.pending, chunk)
					} else if t.onOutput != nil {
						cb := t.onOutput
						t.mu.Unlock()
						cb(chunk)
						t.mu.Lock()
					}
				}
				t.mu.Unlock()
			}
		}
		if err != nil {
			t.mu.Lock()
			isCurrent := t.generation == generation
			cb := t.onClosed
			if isCurrent {
				t.conn = nil
			}
			t.mu.Unlock()
			if isCurrent && cb != nil {
				cb()
			}
			return
		}
	}
}

func (p *Pipeline) flushPending(t *terminal, generation int) {
	t.mu.Lock()
	if t.generation != generation {
		t.mu.Unlock()
		return
	}
	pending := t.pending
	t.pending = nil
	t.capturing = false
	onOutput := t.onOutput
	t.mu.Unlock()

	if onOutput == nil {
		return
	}
	for _, chunk := range pending {
		onOutput(chunk)
	}
}

// Input forwards decoded keystrokes to the bridge (spec: "if bridge is
// not OPEN, drop and log").
func (p *Pipeline) Input(id string, data []byte) {
	t := p.get(id)
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		log.Printf("termstream: input dropped, no open bridge for %s", id)
		return
	}
	if _, err := conn.Write(terminalbridge.EncodeInput(data)); err != nil {
		log.Printf("termstream: input write failed for %s: %v", id, err)
	}
}

// Resize frames a resize to the bridge and resizes the session itself.
func (p *Pipeline) Resize(ctx context.Context, id string, cols, rows int) error {
	t := p.get(id)
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		frame, err := terminalbridge.EncodeResize(cols, rows)
		if err != nil {
			return err
		}
		if _, err := conn.Write(frame); err != nil {
			log.Printf("termstream: resize write failed for %s: %v", id, err)
		}
	}
	return tmuxsession.Resize(ctx, id, cols, rows)
}

// Scroll enters copy-mode and scrolls by lines, already clamped by the
// caller via wire.ClampScrollLines.
func (p *Pipeline) Scroll(ctx context.Context, id string, lines int) error {
	return tmuxsession.ScrollCopyMode(ctx, id, lines)
}

// Detach closes the local bridge connection; the session and bridge
// process survive (spec: "bridges are cheap to reuse").
func (p *Pipeline) Detach(id string) {
	t := p.get(id)
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.generation++ // invalidate the read loop so a late read doesn't deliver
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close closes the local connection and requests session teardown,
// releasing the bridge and its port.
func (p *Pipeline) Close(ctx context.Context, id string) {
	p.Detach(id)
	p.bridges.Stop(id)
	if err := tmuxsession.Kill(ctx, id); err != nil {
		log.Printf("termstream: kill session %s: %v", id, err)
	}

	p.mu.Lock()
	delete(p.terminals, id)
	p.mu.Unlock()
}

// EncodeHistory base64-encodes a history capture for the TERMINAL_HISTORY
// payload.
func EncodeHistory(history []byte) string {
	return base64.StdEncoding.EncodeToString(history)
}
