// Package transport maintains the agent's single long-lived authenticated
// bidirectional connection to the relay (spec §4.1): connect, authenticate,
// keep-alive, reconnect with backoff, and a non-blocking send path.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/getfinn/finn/internal/wire"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	pingTimeout    = 45 * time.Second // no ping observed in this window -> force reconnect
	writeTimeout   = 10 * time.Second
	maxMessageSize = 8 * 1024 * 1024
)

// Handler is invoked for every envelope the relay sends, on a single
// goroutine (the read pump) — callers that do blocking work should hand
// off to their own goroutine.
type Handler func(env *wire.Envelope)

// AuthResult is reported to the caller-supplied OnAuth callback.
type AuthResult struct {
	OK     bool
	Reason string
}

// Client is the agent side of the transport.
type Client struct {
	url      string
	auth     wire.AuthPayload
	onMsg    Handler
	onAuth   func(AuthResult)

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn

	connected    atomic.Bool
	intentional  atomic.Bool
	lastPing     atomic.Int64 // unix nanos
	backoff      time.Duration
}

// NewClient creates a transport client. Connect must be called to start it.
func NewClient(url string, auth wire.AuthPayload, onMsg Handler, onAuth func(AuthResult)) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:     url,
		auth:    auth,
		onMsg:   onMsg,
		onAuth:  onAuth,
		ctx:     ctx,
		cancel:  cancel,
		backoff: initialBackoff,
	}
}

// Run connects and reconnects with exponential backoff until Close is
// called or the relay sends auth-fail (which is treated as intentional:
// spec §4.1 says the agent must not reconnect after an explicit auth
// failure).
func (c *Client) Run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connectOnce(); err != nil {
			log.Printf("transport: connect failed: %v", err)
		}

		if c.intentional.Load() {
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.backoff):
		}

		c.backoff *= 2
		if c.backoff > maxBackoff {
			c.backoff = maxBackoff
		}
	}
}

func (c *Client) connectOnce() error {
	conn, _, err := websocket.Dial(c.ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if err := c.sendEnvelope(&wire.Envelope{Type: wire.TypeAgentAuth, Payload: mustJSON(c.auth)}); err != nil {
		conn.Close(websocket.StatusInternalError, "auth send failed")
		return fmt.Errorf("send auth: %w", err)
	}

	c.lastPing.Store(time.Now().UnixNano())
	watchdogCtx, cancelWatchdog := context.WithCancel(c.ctx)
	defer cancelWatchdog()
	go c.pingWatchdog(watchdogCtx, conn)

	authed := false
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			c.connected.Store(false)
			return fmt.Errorf("read: %w", err)
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("transport: malformed envelope: %v", err)
			continue
		}

		switch env.Type {
		case wire.TypeAgentAuthOK:
			authed = true
			c.connected.Store(true)
			c.backoff = initialBackoff
			c.intentional.Store(false)
			if c.onAuth != nil {
				c.onAuth(AuthResult{OK: true})
			}
		case wire.TypeAgentAuthFail:
			var reason struct {
				Reason string `json:"reason"`
			}
			json.Unmarshal(env.Payload, &reason)
			c.intentional.Store(true) // fatal per spec §4.1: do not reconnect
			if c.onAuth != nil {
				c.onAuth(AuthResult{OK: false, Reason: reason.Reason})
			}
			conn.Close(websocket.StatusNormalClosure, "auth failed")
			return fmt.Errorf("authentication failed: %s", reason.Reason)
		case wire.TypePing:
			c.lastPing.Store(time.Now().UnixNano())
			payload, _ := json.Marshal(map[string]int64{"ts": time.Now().UnixMilli()})
			c.sendEnvelope(&wire.Envelope{Type: wire.TypePong, Payload: payload})
		default:
			if authed && c.onMsg != nil {
				c.onMsg(&env)
			}
		}
	}
}

// pingWatchdog force-closes the connection if no ping arrived within the
// keep-alive window (spec §4.1: 45s).
func (c *Client) pingWatchdog(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastPing.Load())
			if time.Since(last) > pingTimeout {
				log.Printf("transport: no ping in %s, forcing reconnect", pingTimeout)
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// Send is the best-effort send path (spec §4.1): if the transport is not
// open, the message is dropped and false is returned. There is no
// in-process queue. On an open connection the write is synchronous: a
// slow socket blocks the caller for up to writeTimeout, and Send returns
// false only if that write fails.
func (c *Client) Send(msgType string, payload any, id string) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("transport: marshal failed: %v", err)
		return false
	}
	return c.sendEnvelope(&wire.Envelope{Type: msgType, Payload: data, ID: id}) == nil
}

func (c *Client) sendEnvelope(env *wire.Envelope) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	isHandshakeFrame := env.Type == wire.TypeAgentAuth || env.Type == wire.TypePong
	if conn == nil || (!c.IsConnected() && !isHandshakeFrame) {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// IsConnected reports whether the transport is currently authenticated.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Close performs an intentional shutdown (spec §5: SIGTERM/SIGINT path).
func (c *Client) Close() {
	c.intentional.Store(true)
	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "agent shutdown")
	}
	c.connMu.Unlock()
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
