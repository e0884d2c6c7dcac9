package relaystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := &User{ID: "u1", Email: "a@example.com", Tier: "free", CreatedAt: time.Now()}
	require.NoError(t, s.UpsertUser(ctx, u))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", got.Email)

	u.Tier = "pro"
	require.NoError(t, s.UpsertUser(ctx, u))
	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "pro", got.Tier)
}

func TestAgentLookupByTokenHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", CreatedAt: time.Now()}))

	agent := &Agent{ID: "a1", UserID: "u1", Name: "laptop", TokenHash: "hash123", PairedAt: time.Now()}
	require.NoError(t, s.CreateAgent(ctx, agent))

	got, err := s.AgentByTokenHash(ctx, "hash123")
	require.NoError(t, err)
	require.Equal(t, "a1", got.ID)

	_, err = s.AgentByTokenHash(ctx, "nope")
	require.Error(t, err)
}

func TestReplaceLayoutIsAtomicFullSwap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", CreatedAt: time.Now()}))

	require.NoError(t, s.ReplaceLayout(ctx, "u1", []*PaneLayout{
		{ID: "p1", PaneType: "terminal", W: 10, H: 10},
		{ID: "p2", PaneType: "note", W: 5, H: 5},
	}))
	layout, err := s.ListPaneLayouts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, layout, 2)

	require.NoError(t, s.ReplaceLayout(ctx, "u1", []*PaneLayout{
		{ID: "p3", PaneType: "iframe", W: 1, H: 1},
	}))
	layout, err = s.ListPaneLayouts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, layout, 1)
	require.Equal(t, "p3", layout[0].ID)
}

func TestCountPanesByType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", CreatedAt: time.Now()}))
	require.NoError(t, s.PutPaneLayout(ctx, &PaneLayout{ID: "p1", UserID: "u1", PaneType: "terminal"}))
	require.NoError(t, s.PutPaneLayout(ctx, &PaneLayout{ID: "p2", UserID: "u1", PaneType: "terminal"}))
	require.NoError(t, s.PutPaneLayout(ctx, &PaneLayout{ID: "p3", UserID: "u1", PaneType: "note"}))

	n, err := s.CountPanesByType(ctx, "u1", "terminal")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
