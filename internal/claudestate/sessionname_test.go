package claudestate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionNamer_PrefersCustomTitleOverFirstMessage(t *testing.T) {
	root := t.TempDir()
	orig := TranscriptsDir
	TranscriptsDir = func() string { return root }
	defer func() { TranscriptsDir = orig }()

	cwd := "/home/dev/project"
	projectDir := filepath.Join(root, hyphenEncode(cwd))
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	lines := []string{
		`{"type":"user","message":{"role":"user","content":"fix the login bug please"}}`,
		`{"type":"system","customTitle":"Fix login bug"}`,
	}
	content := lines[0] + "\n" + lines[1] + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "sess-1.jsonl"), []byte(content), 0o644))

	n := NewSessionNamer()
	require.Equal(t, "Fix login bug", n.Resolve("sess-1", cwd))
}

func TestSessionNamer_FallsBackToFirstQualifyingUserMessage(t *testing.T) {
	root := t.TempDir()
	orig := TranscriptsDir
	TranscriptsDir = func() string { return root }
	defer func() { TranscriptsDir = orig }()

	cwd := "/home/dev/project"
	projectDir := filepath.Join(root, hyphenEncode(cwd))
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	lines := []string{
		`{"type":"user","message":{"role":"user","content":"<system-reminder>ignored</system-reminder>"}}`,
		`{"type":"user","message":{"role":"user","content":"add dark mode support"}}`,
	}
	content := lines[0] + "\n" + lines[1] + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "sess-2.jsonl"), []byte(content), 0o644))

	n := NewSessionNamer()
	require.Equal(t, "add dark mode support", n.Resolve("sess-2", cwd))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "hello", truncate("hello", 100))
	require.Equal(t, "he", truncate("hello", 2))
}
