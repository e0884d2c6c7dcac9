package gitgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelativeAge(t *testing.T) {
	require.Equal(t, "1m", relativeAge(time.Now().Add(-30*time.Second)))
	require.Equal(t, "5m", relativeAge(time.Now().Add(-5*time.Minute)))
	require.Equal(t, "2h", relativeAge(time.Now().Add(-2*time.Hour)))
	require.Equal(t, "3d", relativeAge(time.Now().Add(-3*24*time.Hour)))
}

func TestIndicatorLabel(t *testing.T) {
	require.Equal(t, "synced", indicatorLabel(RemoteStatus{HasLocal: true, HasRemote: true, Synced: true}))
	require.Equal(t, "diverged", indicatorLabel(RemoteStatus{HasLocal: true, HasRemote: true, Synced: false}))
	require.Equal(t, "local-only", indicatorLabel(RemoteStatus{HasLocal: true}))
	require.Equal(t, "unknown", indicatorLabel(RemoteStatus{}))
}

func TestRenderHTML_EscapesSubjectAndMarksPrimaryNode(t *testing.T) {
	commits := []Commit{
		{Hash: "abcdef1234", Subject: "<script>evil()</script>", Timestamp: time.Now(), Refs: []string{"main"}},
		{Hash: "1234567890", Subject: "normal commit", Timestamp: time.Now(), Refs: nil},
	}
	out := renderHTML(commits, "main", RemoteStatus{HasLocal: true})

	require.Contains(t, out, "node-primary")
	require.Contains(t, out, "node-other")
	require.NotContains(t, out, "<script>evil()</script>")
	require.Contains(t, out, "&lt;script&gt;")
	require.Contains(t, out, "abcdef1") // shortened hash
}

func TestParseCommits(t *testing.T) {
	out := "hash1\x1fsubject one\x1falice\x1f1000000000\x1fHEAD -> main, tag: v1.0\n"
	commits := parseCommits(out)
	require.Len(t, commits, 1)
	require.Equal(t, "hash1", commits[0].Hash)
	require.Equal(t, []string{"main", "v1.0"}, commits[0].Refs)
}
