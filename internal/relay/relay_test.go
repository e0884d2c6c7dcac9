package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getfinn/finn/internal/relaystore"
	"github.com/getfinn/finn/internal/tier"
	"github.com/getfinn/finn/internal/wire"
)

func openTestStore(t *testing.T) *relaystore.Store {
	t.Helper()
	s, err := relaystore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeConn records every envelope sent through it.
type fakeConn struct {
	mu  sync.Mutex
	got []*wire.Envelope
}

func (c *fakeConn) Send(env *wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, env)
	return nil
}

func (c *fakeConn) envelopes() []*wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.got
}

func TestPairing_PollIsConsumeOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &relaystore.User{ID: "u1", Tier: "free", CreatedAt: time.Now()}))

	p := NewPairing(store)
	state, err := p.Start("laptop", "darwin", "0.1.0")
	require.NoError(t, err)

	status, token, agentID, err := p.Poll(state.Code)
	require.NoError(t, err)
	require.Equal(t, "pending", status)
	require.Empty(t, token)
	require.Empty(t, agentID)

	approvedAgentID, err := p.Approve(ctx, "u1", state.Code)
	require.NoError(t, err)
	require.NotEmpty(t, approvedAgentID)

	status, token, agentID, err = p.Poll(state.Code)
	require.NoError(t, err)
	require.Equal(t, "approved", status)
	require.NotEmpty(t, token)
	require.Equal(t, approvedAgentID, agentID)

	_, _, _, err = p.Poll(state.Code)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPairing_ApproveUnknownCode(t *testing.T) {
	store := openTestStore(t)
	p := NewPairing(store)
	_, err := p.Approve(context.Background(), "u1", "NOPE99")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPairing_ExpiredCodeIsRejected(t *testing.T) {
	store := openTestStore(t)
	p := NewPairing(store)
	state, err := p.Start("laptop", "linux", "0.1.0")
	require.NoError(t, err)

	p.mu.Lock()
	p.pending[state.Code].ExpiresAt = time.Now().Add(-time.Second)
	p.mu.Unlock()

	_, _, _, err = p.Poll(state.Code)
	require.ErrorIs(t, err, ErrExpired)
}

// TestForwardToAgent_TierLimitDeniesCreation reproduces the spec's worked
// example: a free user with 7 terminal panes (over the 5-pane cap) whose
// browser issues a POST /api/terminals gets a synthesized 403 back, the
// agent never sees the request, and a tier.limit_hit event is recorded.
func TestForwardToAgent_TierLimitDeniesCreation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &relaystore.User{ID: "u1", Tier: "free", CreatedAt: time.Now()}))
	for i := 0; i < 7; i++ {
		require.NoError(t, store.PutPaneLayout(ctx, &relaystore.PaneLayout{
			ID: uuidFor(i), UserID: "u1", PaneType: "terminalPanes",
		}))
	}

	router := NewRouter(store)
	agentConn := &fakeConn{}
	joined, err := router.JoinAgent(ctx, "u1", "agent1", tier.TierFree, agentConn)
	require.NoError(t, err)
	require.True(t, joined)

	reqBody := wire.RequestPayload{AgentID: "agent1", Method: "POST", Path: "/api/terminals"}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)
	env := &wire.Envelope{Type: wire.TypeRequest, ID: "req-1", Payload: payload}

	denial, forwarded := router.ForwardToAgent(ctx, "u1", "browser-conn-1", tier.TierFree, "agent1", env)
	require.False(t, forwarded)
	require.NotNil(t, denial)
	require.Equal(t, wire.TypeResponse, denial.Type)
	require.Equal(t, "req-1", denial.ID)

	var resp wire.ResponsePayload
	require.NoError(t, json.Unmarshal(denial.Payload, &resp))
	require.Equal(t, 403, resp.Status)

	var body tier.DenialBody
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	require.Equal(t, tier.PaneTerminal, body.Feature)
	require.Contains(t, body.Message, "Upgrade")
	require.NotEmpty(t, body.UpgradeURL)

	require.Empty(t, agentConn.envelopes(), "agent must not receive a gated request")

	n, err := store.CountEventsByKind(ctx, "u1", "tier.limit_hit")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestForwardToAgent_UnderLimitIsForwarded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &relaystore.User{ID: "u1", Tier: "pro", CreatedAt: time.Now()}))

	router := NewRouter(store)
	agentConn := &fakeConn{}
	joined, err := router.JoinAgent(ctx, "u1", "agent1", tier.TierPro, agentConn)
	require.NoError(t, err)
	require.True(t, joined)

	reqBody := wire.RequestPayload{AgentID: "agent1", Method: "POST", Path: "/api/terminals"}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)
	env := &wire.Envelope{Type: wire.TypeRequest, ID: "req-2", Payload: payload}

	denial, forwarded := router.ForwardToAgent(ctx, "u1", "browser-conn-1", tier.TierPro, "agent1", env)
	require.Nil(t, denial)
	require.True(t, forwarded)
	require.Len(t, agentConn.envelopes(), 1)
	require.Equal(t, "req-2", agentConn.envelopes()[0].ID)
}

func TestJoinAgent_EnforcesPerTierAgentLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &relaystore.User{ID: "u1", Tier: "free", CreatedAt: time.Now()}))
	require.NoError(t, store.CreateAgent(ctx, &relaystore.Agent{ID: "existing", UserID: "u1", TokenHash: "h", PairedAt: time.Now()}))

	router := NewRouter(store)

	// Free tier's AgentLimit is 1; one row already exists for u1, so a
	// brand new agent id must be rejected.
	joined, err := router.JoinAgent(ctx, "u1", "agent-new", tier.TierFree, &fakeConn{})
	require.NoError(t, err)
	require.False(t, joined)

	// Re-joining the already-persisted agent id is allowed even at the
	// limit (a reconnect, not a new agent).
	joined, err = router.JoinAgent(ctx, "u1", "existing", tier.TierFree, &fakeConn{})
	require.NoError(t, err)
	require.True(t, joined)
}

func TestRouteFromAgent_ResponseGoesOnlyToRequestingBrowser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &relaystore.User{ID: "u1", Tier: "pro", CreatedAt: time.Now()}))

	router := NewRouter(store)
	agentConn := &fakeConn{}
	_, err := router.JoinAgent(ctx, "u1", "agent1", tier.TierPro, agentConn)
	require.NoError(t, err)

	browserA, browserB := &fakeConn{}, &fakeConn{}
	router.JoinBrowser("u1", "conn-a", browserA)
	router.JoinBrowser("u1", "conn-b", browserB)

	reqBody := wire.RequestPayload{AgentID: "agent1", Method: "GET", Path: "/api/metrics"}
	payload, _ := json.Marshal(reqBody)
	router.ForwardToAgent(ctx, "u1", "conn-a", tier.TierPro, "agent1", &wire.Envelope{Type: wire.TypeRequest, ID: "req-3", Payload: payload})

	respPayload, _ := json.Marshal(wire.ResponsePayload{Status: 200})
	router.RouteFromAgent("u1", &wire.Envelope{Type: wire.TypeResponse, ID: "req-3", Payload: respPayload})

	require.Len(t, browserA.envelopes(), 1)
	require.Empty(t, browserB.envelopes())
}

func TestRouteFromAgent_ResponseForGoneBrowserIsDroppedNotBroadcast(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &relaystore.User{ID: "u1", Tier: "pro", CreatedAt: time.Now()}))

	router := NewRouter(store)
	agentConn := &fakeConn{}
	_, err := router.JoinAgent(ctx, "u1", "agent1", tier.TierPro, agentConn)
	require.NoError(t, err)

	browserA, browserB := &fakeConn{}, &fakeConn{}
	router.JoinBrowser("u1", "conn-a", browserA)
	router.JoinBrowser("u1", "conn-b", browserB)

	reqBody := wire.RequestPayload{AgentID: "agent1", Method: "GET", Path: "/api/git-status"}
	payload, _ := json.Marshal(reqBody)
	router.ForwardToAgent(ctx, "u1", "conn-a", tier.TierPro, "agent1", &wire.Envelope{Type: wire.TypeRequest, ID: "req-4", Payload: payload})

	// The requesting browser disconnects before the agent responds.
	router.LeaveBrowser("u1", "conn-a")

	respPayload, _ := json.Marshal(wire.ResponsePayload{Status: 200, Body: json.RawMessage(`{"secret":"file contents"}`)})
	router.RouteFromAgent("u1", &wire.Envelope{Type: wire.TypeResponse, ID: "req-4", Payload: respPayload})

	require.Empty(t, browserA.envelopes())
	require.Empty(t, browserB.envelopes(), "a private response must never be broadcast to other browsers")
}

func TestRouteFromAgent_UnsolicitedFramesFanOutToAllBrowsers(t *testing.T) {
	store := openTestStore(t)
	router := NewRouter(store)

	browserA, browserB := &fakeConn{}, &fakeConn{}
	router.JoinBrowser("u1", "conn-a", browserA)
	router.JoinBrowser("u1", "conn-b", browserB)

	router.RouteFromAgent("u1", &wire.Envelope{Type: wire.TypeClaudeStates})

	require.Len(t, browserA.envelopes(), 1)
	require.Len(t, browserB.envelopes(), 1)
}

func uuidFor(i int) string {
	return string(rune('a' + i))
}
