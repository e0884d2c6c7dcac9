package claudestate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionCorrelator_ResolveFindsMatchingDebugFile(t *testing.T) {
	dir := t.TempDir()
	orig := DebugDir
	DebugDir = func() string { return dir }
	defer func() { DebugDir = orig }()

	padding := make([]byte, 20*1024)
	for i := range padding {
		padding[i] = 'x'
	}
	content := append(padding, []byte("...tmp.4242.abcdef...")...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session-one.txt"), content, 0o644))

	c := NewSessionCorrelator()
	require.Equal(t, "session-one", c.Resolve(4242))
}

func TestSessionCorrelator_CachesNegativeResult(t *testing.T) {
	dir := t.TempDir()
	orig := DebugDir
	DebugDir = func() string { return dir }
	defer func() { DebugDir = orig }()

	now := time.Now()
	c := NewSessionCorrelator()
	c.now = func() time.Time { return now }

	require.Equal(t, "", c.Resolve(999))

	// Even if a matching file now appears, the cached negative holds
	// until the TTL expires.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.txt"), []byte("tmp.999."), 0o644))
	require.Equal(t, "", c.Resolve(999))

	now = now.Add(sessionCorrTTL + time.Second)
	require.Equal(t, "late", c.Resolve(999))
}
