package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/getfinn/finn/internal/relaystore"
	"github.com/getfinn/finn/internal/tier"
	"github.com/getfinn/finn/internal/wire"
)

// Conn is the minimal send surface a websocket connection exposes to
// the router; both browser and agent sockets implement it.
type Conn interface {
	Send(env *wire.Envelope) error
}

// userConns is one user's live sockets: any number of browsers, one
// agent per paired device (spec §4.4: "unsolicited message: fan out to
// all of a user's browsers").
type userConns struct {
	mu       sync.Mutex
	browsers map[string]Conn // keyed by a connection id
	agents   map[string]Conn // keyed by agent id
}

// Router holds every connected user's sockets and applies tier gating
// and correlation-based routing (spec §4.4).
type Router struct {
	store *relaystore.Store

	mu    sync.Mutex
	users map[string]*userConns

	reqMu      sync.Mutex
	reqBrowser map[string]string    // request id -> browser conn id, cleared on response
	reqStarted map[string]time.Time // request id -> forward time, for latency observation
	reqPath    map[string]string    // request id -> REST path, for the latency metric label
}

// NewRouter creates a router backed by store for tier-limit counting and
// event recording.
func NewRouter(store *relaystore.Store) *Router {
	return &Router{
		store:      store,
		users:      make(map[string]*userConns),
		reqBrowser: make(map[string]string),
		reqStarted: make(map[string]time.Time),
		reqPath:    make(map[string]string),
	}
}

func (r *Router) userSlot(userID string) *userConns {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		u = &userConns{browsers: make(map[string]Conn), agents: make(map[string]Conn)}
		r.users[userID] = u
	}
	return u
}

// JoinBrowser registers a browser connection under userID.
func (r *Router) JoinBrowser(userID, connID string, conn Conn) {
	u := r.userSlot(userID)
	u.mu.Lock()
	u.browsers[connID] = conn
	u.mu.Unlock()
	connectedBrowsers.Inc()
}

func (r *Router) LeaveBrowser(userID, connID string) {
	u := r.userSlot(userID)
	u.mu.Lock()
	delete(u.browsers, connID)
	u.mu.Unlock()
	connectedBrowsers.Dec()
}

// JoinAgent registers an agent connection, enforcing the per-tier agent
// count limit (spec §7's AgentLimits) against the user's paired agent
// rows. Returns false if the limit is already reached and agentID is not
// one of those paired agents.
func (r *Router) JoinAgent(ctx context.Context, userID, agentID string, userTier tier.Tier, conn Conn) (bool, error) {
	count, err := r.store.CountAgents(ctx, userID)
	if err != nil {
		return false, err
	}
	if count >= tier.AgentLimit(userTier) {
		agents, err := r.store.ListAgents(ctx, userID)
		if err != nil {
			return false, err
		}
		alreadyPaired := false
		for _, a := range agents {
			alreadyPaired = alreadyPaired || a.ID == agentID
		}
		if !alreadyPaired {
			return false, nil
		}
	}

	u := r.userSlot(userID)
	u.mu.Lock()
	u.agents[agentID] = conn
	u.mu.Unlock()
	connectedAgents.Inc()
	return true, nil
}

func (r *Router) LeaveAgent(userID, agentID string) {
	u := r.userSlot(userID)
	u.mu.Lock()
	delete(u.agents, agentID)
	u.mu.Unlock()
	connectedAgents.Dec()
}

// AgentConn returns the live connection for agentID, if any.
func (r *Router) AgentConn(userID, agentID string) (Conn, bool) {
	u := r.userSlot(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	c, ok := u.agents[agentID]
	return c, ok
}

// BroadcastToBrowsers fans an unsolicited agent-originated envelope out
// to every one of the user's browsers (spec §4.4).
func (r *Router) BroadcastToBrowsers(userID string, env *wire.Envelope) {
	u := r.userSlot(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, conn := range u.browsers {
		if err := conn.Send(env); err != nil {
			log.Printf("relay: send to browser %s failed: %v", id, err)
		}
	}
}

// ForwardToAgent implements browser→agent routing with tier gating on
// the creation-set paths (spec §4.4): for a POST to a path in
// tier.CreationPaths, count existing panes of that type and deny with a
// synthesized 403 response (recording a tier.limit_hit event) rather
// than forwarding. browserConnID is recorded against the request id so
// the eventual response is routed back to this browser only, instead of
// broadcast to all of the user's browsers.
func (r *Router) ForwardToAgent(ctx context.Context, userID, browserConnID string, userTier tier.Tier, agentID string, env *wire.Envelope) (*wire.Envelope, bool) {
	if env.Type == wire.TypeRequest {
		var req wire.RequestPayload
		if err := json.Unmarshal(env.Payload, &req); err == nil {
			if env.ID != "" {
				r.reqMu.Lock()
				r.reqStarted[env.ID] = time.Now()
				r.reqPath[env.ID] = req.Path
				r.reqMu.Unlock()
			}
			if paneType, gated := tier.CreationPaths[req.Path]; gated && req.Method == "POST" {
				count, err := r.store.CountPanesByType(ctx, userID, string(paneType))
				if err == nil && tier.ExceedsLimit(userTier, paneType, count) {
					r.store.RecordEvent(ctx, &relaystore.Event{
						UserID: userID,
						Kind:   "tier.limit_hit",
						Detail: fmt.Sprintf("pane=%s tier=%s count=%d", paneType, userTier, count),
					})
					tierLimitHits.WithLabelValues(string(paneType), string(userTier)).Inc()
					r.reqMu.Lock()
					delete(r.reqStarted, env.ID)
					delete(r.reqPath, env.ID)
					r.reqMu.Unlock()
					denial := tier.Denial(paneType)
					body, _ := json.Marshal(denial)
					resp := wire.ResponsePayload{Status: 403, Body: body}
					payload, _ := json.Marshal(resp)
					return &wire.Envelope{Type: wire.TypeResponse, ID: env.ID, Payload: payload}, false
				}
			}
		}
	}

	conn, ok := r.AgentConn(userID, agentID)
	if !ok {
		return nil, false
	}
	if env.ID != "" {
		r.reqMu.Lock()
		r.reqBrowser[env.ID] = browserConnID
		r.reqMu.Unlock()
	}
	if err := conn.Send(env); err != nil {
		log.Printf("relay: forward to agent %s failed: %v", agentID, err)
		return nil, false
	}
	return nil, true
}

// RouteFromAgent handles an agent-originated envelope: a correlated
// response (or scan:partial frame, which precedes its final response
// under the same id) goes only to the browser that issued the original
// request, and is silently dropped if that browser is gone (spec §4.1,
// §5 Cancellation) — it is never broadcast to the user's other browsers,
// since it may carry another session's private request data. Everything
// else (claude:states, metrics) is truly unsolicited and fans out to all
// of the user's browsers (spec §4.4).
func (r *Router) RouteFromAgent(userID string, env *wire.Envelope) {
	if env.Type == wire.TypeResponse || env.Type == wire.TypeScanPartial {
		r.reqMu.Lock()
		browserConnID, ok := r.reqBrowser[env.ID]
		if env.Type == wire.TypeResponse {
			delete(r.reqBrowser, env.ID)
			if started, hasStart := r.reqStarted[env.ID]; hasStart {
				requestLatency.WithLabelValues(r.reqPath[env.ID]).Observe(time.Since(started).Seconds())
				delete(r.reqStarted, env.ID)
				delete(r.reqPath, env.ID)
			}
		}
		r.reqMu.Unlock()

		if !ok {
			return
		}
		u := r.userSlot(userID)
		u.mu.Lock()
		conn, connOK := u.browsers[browserConnID]
		u.mu.Unlock()
		if !connOK {
			return
		}
		if err := conn.Send(env); err != nil {
			log.Printf("relay: send to browser %s failed: %v", browserConnID, err)
		}
		return
	}
	r.BroadcastToBrowsers(userID, env)
}
